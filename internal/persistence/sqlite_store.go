package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/subclip/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.VideoJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, source, dedupe_key, video_path, status, summary_json, error, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.VideoJob, 0)
	for rows.Next() {
		var item jobs.VideoJob
		var status, summaryJSON string
		if err := rows.Scan(
			&item.ID,
			&item.RunID,
			&item.Source,
			&item.DedupeKey,
			&item.Payload.VideoPath,
			&status,
			&summaryJSON,
			&item.Error,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Status = jobs.Status(status)
		if summaryJSON != "" {
			if err := json.Unmarshal([]byte(summaryJSON), &item.Summary); err != nil {
				return nil, fmt.Errorf("decode summary of %s: %w", item.ID, err)
			}
		}
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.VideoJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	summary, err := json.Marshal(job.Summary)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, run_id, source, dedupe_key, video_path, status, summary_json, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id=excluded.run_id,
			source=excluded.source,
			dedupe_key=excluded.dedupe_key,
			video_path=excluded.video_path,
			status=excluded.status,
			summary_json=excluded.summary_json,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		job.ID,
		job.RunID,
		job.Source,
		job.DedupeKey,
		job.Payload.VideoPath,
		string(job.Status),
		string(summary),
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// SaveRun inserts or updates a run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
			id, source_dir, output_dir, formats, status, videos, warned, failed,
			encoded, reused, skipped, bytes, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			videos=excluded.videos,
			warned=excluded.warned,
			failed=excluded.failed,
			encoded=excluded.encoded,
			reused=excluded.reused,
			skipped=excluded.skipped,
			bytes=excluded.bytes,
			error=excluded.error,
			finished_at=excluded.finished_at`,
		run.ID,
		run.SourceDir,
		run.OutputDir,
		strings.Join(run.Formats, ","),
		string(run.Status),
		run.Videos,
		run.Warned,
		run.Failed,
		run.Encoded,
		run.Reused,
		run.Skipped,
		run.Bytes,
		run.Error,
		run.StartedAt.UTC(),
		finished,
	)
	return err
}

const runColumns = `id, source_dir, output_dir, formats, status, videos, warned, failed,
	encoded, reused, skipped, bytes, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var item Run
	var formats, status string
	var finished sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.SourceDir,
		&item.OutputDir,
		&formats,
		&status,
		&item.Videos,
		&item.Warned,
		&item.Failed,
		&item.Encoded,
		&item.Reused,
		&item.Skipped,
		&item.Bytes,
		&item.Error,
		&item.StartedAt,
		&finished,
	); err != nil {
		return Run{}, err
	}
	item.Status = RunStatus(status)
	if formats != "" {
		item.Formats = strings.Split(formats, ",")
	}
	if finished.Valid {
		t := finished.Time
		item.FinishedAt = &t
	}
	return item, nil
}

// GetRun returns the run with id. ok is false when it does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Run, 0)
	for rows.Next() {
		item, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) SaveVideoResult(ctx context.Context, res VideoResult) error {
	updatedAt := res.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO video_results (
			run_id, video_path, stem, state, index_path, warning, subtitle, subtitle_language,
			encoded, reused, failed, skipped, bytes, elapsed_ms, error, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, video_path) DO UPDATE SET
			stem=excluded.stem,
			state=excluded.state,
			index_path=excluded.index_path,
			warning=excluded.warning,
			subtitle=excluded.subtitle,
			subtitle_language=excluded.subtitle_language,
			encoded=excluded.encoded,
			reused=excluded.reused,
			failed=excluded.failed,
			skipped=excluded.skipped,
			bytes=excluded.bytes,
			elapsed_ms=excluded.elapsed_ms,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		res.RunID,
		res.VideoPath,
		res.Stem,
		res.State,
		res.Index,
		res.Warning,
		res.Subtitle,
		res.SubtitleLanguage,
		res.Encoded,
		res.Reused,
		res.Failed,
		res.Skipped,
		res.Bytes,
		res.ElapsedMs,
		res.Error,
		updatedAt,
	)
	return err
}

// ListVideoResults returns the results of one run ordered by video path.
func (s *SQLiteStore) ListVideoResults(ctx context.Context, runID string) ([]VideoResult, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT run_id, video_path, stem, state, index_path, warning, subtitle, subtitle_language,
			encoded, reused, failed, skipped, bytes, elapsed_ms, error, updated_at
		 FROM video_results
		 WHERE run_id = ?
		 ORDER BY video_path ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]VideoResult, 0)
	for rows.Next() {
		var item VideoResult
		if err := rows.Scan(
			&item.RunID,
			&item.VideoPath,
			&item.Stem,
			&item.State,
			&item.Index,
			&item.Warning,
			&item.Subtitle,
			&item.SubtitleLanguage,
			&item.Encoded,
			&item.Reused,
			&item.Failed,
			&item.Skipped,
			&item.Bytes,
			&item.ElapsedMs,
			&item.Error,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
