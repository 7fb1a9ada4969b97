// Package service runs the clip scheduler over a whole video library,
// either once or on a cron schedule.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/subclip/internal/config"
	"github.com/MimeLyc/subclip/internal/jobs"
	"github.com/MimeLyc/subclip/internal/library"
	"github.com/MimeLyc/subclip/internal/media"
	"github.com/MimeLyc/subclip/internal/persistence"
	"github.com/MimeLyc/subclip/internal/scheduler"
	"github.com/MimeLyc/subclip/internal/warnings"
	"github.com/MimeLyc/subclip/pkg/icron"
	"github.com/MimeLyc/subclip/pkg/log"
	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

const (
	SourceManual = "manual"
	SourceCron   = "cron"
)

type Option func(*Service)

// WithOperator replaces the ffmpeg backed encoder and stream reader.
func WithOperator(op media.Operator) Option {
	return func(s *Service) {
		s.operator = op
	}
}

// WithRecorder stores run history.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithJobStore persists queue state for restart recovery.
func WithJobStore(store jobs.Store) Option {
	return func(s *Service) {
		s.jobStore = store
	}
}

// WithSchedulerOptions passes extra options to the clip scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(s *Service) {
		s.schedOpts = append(s.schedOpts, opts...)
	}
}

type Service struct {
	cfg       config.Config
	operator  media.Operator
	recorder  Recorder
	jobStore  jobs.Store
	schedOpts []scheduler.Option

	sched    *scheduler.Scheduler
	queue    *jobs.Queue
	warnings *warnings.Log
	group    singleflight.Group

	mu      sync.Mutex
	runCtxs map[string]context.Context
}

// New wires the scheduler, the warning log and the worker queue. Close
// releases them.
func New(cfg config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:     cfg,
		runCtxs: make(map[string]context.Context),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.operator == nil {
		s.operator = media.NewOperator(
			media.WithFFmpegBin(cfg.Encoder.FFmpegBin),
			media.WithFFprobeBin(cfg.Encoder.FFprobeBin),
			media.WithLogLevel(cfg.Encoder.LogLevel),
		)
	}

	lang, err := cfg.SubtitleLanguage()
	if err != nil {
		return nil, err
	}
	resolverOpts := []library.Option{library.WithLanguage(lang)}
	if cfg.Source.ExtractEmbedded {
		resolverOpts = append(resolverOpts, library.WithEmbeddedExtraction(s.operator, filepath.Join(cfg.System.DataDir, "tmp")))
	}

	warn, err := warnings.Open(cfg.Output.WarningsFile)
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(
		scheduler.Options{
			OutputDir:          cfg.Output.Dir,
			Padding:            cfg.Output.Padding,
			SkipExisting:       cfg.Output.SkipExisting,
			Sanitize:           cfg.Output.Sanitize,
			Flatten:            cfg.Output.Flatten,
			Formats:            cfg.Output.Formats,
			DisableOverlay:     cfg.Overlay.Disabled,
			Drawtext:           cfg.Drawtext(),
			JobTimeout:         cfg.JobTimeout(),
			AbortOnEncodeError: cfg.Encoder.AbortOnEncodeError,
			Language:           lang,
		},
		s.operator,
		library.NewResolver(resolverOpts...),
		warn,
		append([]scheduler.Option{scheduler.WithRegistry(cfg.FormatRegistry())}, s.schedOpts...)...,
	)
	if err != nil {
		_ = warn.Close()
		return nil, err
	}

	s.sched = sched
	s.warnings = warn
	s.queue = jobs.NewQueue(cfg.System.Workers, s.jobStore)
	s.queue.Start(s.execute)
	return s, nil
}

// Queue exposes the worker queue for status reporting.
func (s *Service) Queue() *jobs.Queue {
	return s.queue
}

// Formats returns the validated output formats.
func (s *Service) Formats() []string {
	return s.sched.Formats()
}

func (s *Service) Close() error {
	s.queue.Stop()
	return s.warnings.Close()
}

// Clip processes a single video outside of the queue.
func (s *Service) Clip(ctx context.Context, path string) (*scheduler.VideoResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return s.sched.ProcessVideo(ctx, library.NewVideo(path, s.cfg.Source.Extensions))
}

// Run discovers every video under the source directory, processes them on
// the worker queue and records the outcome. Only one run may hold the
// output root at a time.
func (s *Service) Run(ctx context.Context) (RunSummary, error) {
	return s.run(ctx, SourceManual)
}

func (s *Service) run(ctx context.Context, source string) (RunSummary, error) {
	if err := os.MkdirAll(s.cfg.Output.Dir, 0o755); err != nil {
		return RunSummary{}, fmt.Errorf("create output directory: %w", err)
	}
	lock := flock.New(s.cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return RunSummary{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return RunSummary{}, ErrLocked
	}
	defer func() {
		_ = lock.Unlock()
	}()

	started := time.Now()
	summary := RunSummary{ID: uuid.NewString()}
	run := persistence.Run{
		ID:        summary.ID,
		SourceDir: s.cfg.Source.Dir,
		OutputDir: s.cfg.Output.Dir,
		Formats:   s.sched.Formats(),
		Status:    persistence.RunRunning,
		StartedAt: started,
	}
	s.saveRun(run)

	videos, err := library.Discover(ctx, s.cfg.Source.Dir, s.cfg.Source.Extensions)
	if err != nil {
		s.finishRun(run, &summary, started, err)
		return summary, err
	}
	summary.Videos = len(videos)
	log.Info("Run %s: found %d videos in %s", summary.ID, len(videos), s.cfg.Source.Dir)
	videos = s.claimStems(ctx, summary.ID, videos, &summary)

	s.mu.Lock()
	s.runCtxs[summary.ID] = ctx
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.runCtxs, summary.ID)
		s.mu.Unlock()
	}()

	// Subscribe first so no terminal job is missed.
	events, cancel := s.queue.Subscribe(len(videos))
	defer cancel()

	waiting := make(map[string]string, len(videos))
	for _, v := range videos {
		job, created := s.queue.Enqueue(jobs.EnqueueRequest{
			RunID:     summary.ID,
			Source:    source,
			DedupeKey: v.Path,
			Payload:   jobs.JobPayload{VideoPath: v.Path},
		})
		if !created {
			log.Debug("Video %s is already queued as %s", v.Path, job.ID)
		}
		waiting[job.ID] = v.Path
	}

	for len(waiting) > 0 {
		select {
		case <-ctx.Done():
			s.finishRun(run, &summary, started, ctx.Err())
			return summary, ctx.Err()
		case job := <-events:
			if _, ok := waiting[job.ID]; !ok {
				continue
			}
			delete(waiting, job.ID)
			res := s.videoResult(summary.ID, job)
			if s.recorder != nil {
				if err := s.recorder.SaveVideoResult(ctx, res); err != nil {
					log.Error("Failed to record result of %s: %v", job.Payload.VideoPath, err)
				}
			}
			summary.add(res, job.Status == jobs.StatusFailed)
		}
	}

	if err := ctx.Err(); err != nil {
		s.finishRun(run, &summary, started, err)
		return summary, err
	}
	s.finishRun(run, &summary, started, nil)
	log.Info("Run %s finished: %d videos, %d clips encoded, %d reused, %d failed, %s in %s",
		summary.ID, summary.Videos, summary.Encoded, summary.Reused, summary.FailedClips,
		humanize.Bytes(uint64(summary.Bytes)), summary.Elapsed.Round(time.Millisecond))
	return summary, nil
}

// claimStems keeps the first video, in discovery order, for every output
// stem. Later videos with the same stem would write the same clips and
// index, so each is warned about and skipped. Stems are compared without
// case.
func (s *Service) claimStems(ctx context.Context, runID string, videos []library.Video, summary *RunSummary) []library.Video {
	owners := make(map[string]string, len(videos))
	kept := make([]library.Video, 0, len(videos))
	for _, v := range videos {
		stem := s.sched.Stem(v)
		key := strings.ToLower(stem)
		owner, taken := owners[key]
		if !taken {
			owners[key] = v.Path
			kept = append(kept, v)
			continue
		}

		msg := fmt.Sprintf("%s: output name %q is already used by %s", v.Path, stem, owner)
		s.warnings.Warn("%s", msg)
		res := persistence.VideoResult{
			RunID:     runID,
			VideoPath: v.Path,
			Stem:      stem,
			State:     string(scheduler.StateWarnedAndSkipped),
			Warning:   msg,
			UpdatedAt: time.Now(),
		}
		if s.recorder != nil {
			if err := s.recorder.SaveVideoResult(ctx, res); err != nil {
				log.Error("Failed to record result of %s: %v", v.Path, err)
			}
		}
		summary.add(res, false)
	}
	return kept
}

// execute is the queue executor: one job is one video.
func (s *Service) execute(ctx context.Context, job *jobs.VideoJob) (jobs.Summary, error) {
	s.mu.Lock()
	runCtx, ok := s.runCtxs[job.RunID]
	s.mu.Unlock()
	if ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(runCtx, cancel)
		defer stop()
	}

	v := library.NewVideo(job.Payload.VideoPath, s.cfg.Source.Extensions)
	res, err := s.sched.ProcessVideo(ctx, v)
	if res == nil {
		return jobs.Summary{}, err
	}
	return jobs.Summary{
		State:            string(res.State),
		Index:            res.Index,
		Warning:          res.Warning,
		Subtitle:         res.Subtitle.Path,
		SubtitleLanguage: res.Subtitle.Language,
		Encoded:          res.Encoded,
		Reused:           res.Reused,
		Failed:           res.Failed,
		Skipped:          res.Skipped,
		Bytes:            res.Bytes,
		ElapsedMs:        res.Elapsed.Milliseconds(),
	}, err
}

func (s *Service) videoResult(runID string, job *jobs.VideoJob) persistence.VideoResult {
	v := library.NewVideo(job.Payload.VideoPath, s.cfg.Source.Extensions)
	return persistence.VideoResult{
		RunID:            runID,
		VideoPath:        job.Payload.VideoPath,
		Stem:             s.sched.Stem(v),
		State:            job.Summary.State,
		Index:            job.Summary.Index,
		Warning:          job.Summary.Warning,
		Subtitle:         job.Summary.Subtitle,
		SubtitleLanguage: job.Summary.SubtitleLanguage,
		Encoded:          job.Summary.Encoded,
		Reused:           job.Summary.Reused,
		Failed:           job.Summary.Failed,
		Skipped:          job.Summary.Skipped,
		Bytes:            job.Summary.Bytes,
		ElapsedMs:        job.Summary.ElapsedMs,
		Error:            job.Error,
		UpdatedAt:        job.UpdatedAt,
	}
}

func (s *Service) finishRun(run persistence.Run, summary *RunSummary, started time.Time, cause error) {
	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].VideoPath < summary.Results[j].VideoPath
	})
	summary.Elapsed = time.Since(started)

	finished := time.Now()
	run.Status = persistence.RunCompleted
	if cause != nil {
		run.Status = persistence.RunFailed
		run.Error = cause.Error()
	}
	run.Videos = summary.Videos
	run.Warned = summary.Warned
	run.Failed = summary.Failed
	run.Encoded = summary.Encoded
	run.Reused = summary.Reused
	run.Skipped = summary.Skipped
	run.Bytes = summary.Bytes
	run.FinishedAt = &finished
	s.saveRun(run)
}

func (s *Service) saveRun(run persistence.Run) {
	if s.recorder == nil {
		return
	}
	// The run may have been cancelled; history is still written.
	if err := s.recorder.SaveRun(context.Background(), run); err != nil {
		log.Error("Failed to record run %s: %v", run.ID, err)
	}
}

// Schedule registers a batch run under cronExpr. Triggers that fire while a
// run is still in progress join that run instead of starting another.
func (s *Service) Schedule(ctx context.Context, c *cron.Cron, cronExpr string) (cron.EntryID, error) {
	info, err := icron.GetTriggerInfo(cronExpr, time.Now())
	if err != nil {
		return 0, err
	}
	log.Info("Scheduling runs with %q, next at %s", cronExpr, info.Next.Format(time.RFC3339))

	return c.AddFunc(cronExpr, func() {
		if _, err := s.Trigger(ctx, SourceCron); err != nil {
			log.Error("Scheduled run failed: %v", err)
		}
	})
}

// Trigger starts a run unless one is already in progress, in which case it
// waits for and returns that run's summary.
func (s *Service) Trigger(ctx context.Context, source string) (RunSummary, error) {
	v, err, shared := s.group.Do("run", func() (any, error) {
		return s.run(ctx, source)
	})
	if shared {
		log.Debug("Trigger from %s joined a run in progress", source)
	}
	summary, _ := v.(RunSummary)
	if err != nil && errors.Is(err, ErrLocked) {
		log.Warn("Skipping %s run: %v", source, err)
	}
	return summary, err
}
