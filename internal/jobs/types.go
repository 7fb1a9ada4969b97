package jobs

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether no further transitions will happen.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

type EnqueueRequest struct {
	RunID     string
	Source    string
	DedupeKey string
	Payload   JobPayload
}

type JobPayload struct {
	VideoPath string `json:"video_path"`
}

// Summary is what the executor reports about a finished video.
type Summary struct {
	State            string `json:"state,omitempty"`
	Index            string `json:"index,omitempty"`
	Warning          string `json:"warning,omitempty"`
	Subtitle         string `json:"subtitle,omitempty"`
	SubtitleLanguage string `json:"subtitle_language,omitempty"`
	Encoded          int    `json:"encoded"`
	Reused           int    `json:"reused"`
	Failed           int    `json:"failed"`
	Skipped          int    `json:"skipped"`
	Bytes            int64  `json:"bytes"`
	// ElapsedMs is the wall time spent on the video.
	ElapsedMs int64 `json:"elapsed_ms"`
}

type VideoJob struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"`
	Source    string     `json:"source"`
	DedupeKey string     `json:"dedupe_key"`
	Payload   JobPayload `json:"payload"`
	Status    Status     `json:"status"`
	Summary   Summary    `json:"summary"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
