package service

import (
	"context"
	"errors"
	"time"

	"github.com/MimeLyc/subclip/internal/persistence"
)

// ErrLocked is returned when another run holds the output root.
var ErrLocked = errors.New("output directory is locked by another run")

// Recorder keeps the run history.
type Recorder interface {
	SaveRun(ctx context.Context, run persistence.Run) error
	SaveVideoResult(ctx context.Context, res persistence.VideoResult) error
}

// RunSummary aggregates one pass over the source directory.
type RunSummary struct {
	ID     string `json:"id"`
	Videos int    `json:"videos"`
	// Warned counts videos skipped with a warning, e.g. without subtitles.
	Warned int `json:"warned"`
	// Failed counts videos whose job returned an error.
	Failed int `json:"failed"`
	// FailedClips counts individual encoder failures.
	FailedClips int           `json:"failed_clips"`
	Encoded     int           `json:"encoded"`
	Reused      int           `json:"reused"`
	Skipped     int           `json:"skipped"`
	Bytes       int64         `json:"bytes"`
	Elapsed     time.Duration `json:"elapsed"`
	// Results are ordered by video path.
	Results []persistence.VideoResult `json:"results"`
}

func (s *RunSummary) add(res persistence.VideoResult, failed bool) {
	switch {
	case failed:
		s.Failed++
	case res.Warning != "":
		s.Warned++
	}
	s.FailedClips += res.Failed
	s.Encoded += res.Encoded
	s.Reused += res.Reused
	s.Skipped += res.Skipped
	s.Bytes += res.Bytes
	s.Results = append(s.Results, res)
}
