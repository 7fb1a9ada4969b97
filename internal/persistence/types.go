package persistence

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one batch pass over the source directory.
type Run struct {
	ID         string     `json:"id"`
	SourceDir  string     `json:"source_dir"`
	OutputDir  string     `json:"output_dir"`
	Formats    []string   `json:"formats"`
	Status     RunStatus  `json:"status"`
	Videos     int        `json:"videos"`
	Warned     int        `json:"warned"`
	Failed     int        `json:"failed"`
	Encoded    int        `json:"encoded"`
	Reused     int        `json:"reused"`
	Skipped    int        `json:"skipped"`
	Bytes      int64      `json:"bytes"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// VideoResult is the outcome of one video within a run.
type VideoResult struct {
	RunID     string `json:"run_id"`
	VideoPath string `json:"video_path"`
	Stem      string `json:"stem"`
	State     string `json:"state"`
	Index     string `json:"index,omitempty"`
	Warning   string `json:"warning,omitempty"`
	// Subtitle is the cue file used; SubtitleLanguage is its tagged or
	// detected language.
	Subtitle         string    `json:"subtitle,omitempty"`
	SubtitleLanguage string    `json:"subtitle_language,omitempty"`
	Encoded          int       `json:"encoded"`
	Reused           int       `json:"reused"`
	Failed           int       `json:"failed"`
	Skipped          int       `json:"skipped"`
	Bytes            int64     `json:"bytes"`
	ElapsedMs        int64     `json:"elapsed_ms"`
	Error            string    `json:"error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}
