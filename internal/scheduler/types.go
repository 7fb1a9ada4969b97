package scheduler

import (
	"context"
	"time"

	"github.com/MimeLyc/subclip/internal/filter"
	"github.com/MimeLyc/subclip/internal/library"
	"golang.org/x/text/language"
)

// State is the per-video processing state.
type State string

const (
	StateResolvingSubtitle State = "resolving_subtitle"
	StateIterating         State = "iterating"
	StateIndexed           State = "indexed"
	StateDone              State = "done"
	StateWarnedAndSkipped  State = "warned_and_skipped"
)

// Skip reasons recorded on cues that produced no job.
const (
	ReasonMalformedTimecode   = "malformed_timecode"
	ReasonNonPositiveDuration = "non_positive_duration"
)

// SubtitleResolver finds the cue file for a video.
type SubtitleResolver interface {
	Resolve(ctx context.Context, v library.Video) (library.Subtitle, error)
}

// Options are the per-run policies applied to every video.
type Options struct {
	// OutputDir is the absolute output root.
	OutputDir string
	// Padding is added symmetrically around every cue, in seconds.
	Padding      float64
	SkipExisting bool
	// Sanitize folds the video base name into a portable stem.
	Sanitize bool
	// Flatten writes all clips directly into OutputDir instead of one
	// subdirectory per video.
	Flatten bool
	Formats []string
	// DisableOverlay skips burning cue text into clips.
	DisableOverlay bool
	Drawtext       filter.Drawtext
	// JobTimeout bounds a single encoder invocation; zero means no limit.
	JobTimeout time.Duration
	// AbortOnEncodeError turns the first encode failure into an error
	// returned from the per-video run.
	AbortOnEncodeError bool
	// Language is the preferred subtitle language. A subtitle whose
	// tagged or detected language differs is still used, with a warning.
	Language language.Tag
}

// CueOutcome aggregates the jobs of one cue.
type CueOutcome struct {
	CueID   string           `json:"cue_id"`
	Sizes   map[string]int64 `json:"sizes,omitempty"`
	Skipped bool             `json:"skipped,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Failed  bool             `json:"failed,omitempty"`
}

// VideoResult summarizes one per-video run.
type VideoResult struct {
	Video    library.Video    `json:"video"`
	Stem     string           `json:"stem"`
	Subtitle library.Subtitle `json:"subtitle"`
	State    State            `json:"state"`
	Index    string           `json:"index,omitempty"`
	Warning  string           `json:"warning,omitempty"`
	Outcomes []CueOutcome     `json:"outcomes,omitempty"`
	// Encoded counts encoder invocations that succeeded.
	Encoded int `json:"encoded"`
	// Reused counts outputs left in place by skip-existing.
	Reused int `json:"reused"`
	// Failed counts encoder invocations that failed.
	Failed int `json:"failed"`
	// Skipped counts cues that produced no job.
	Skipped int           `json:"skipped"`
	Bytes   int64         `json:"bytes"`
	Elapsed time.Duration `json:"elapsed"`
	// Causes holds a *ClipError for the skipped video or each skipped cue.
	Causes []error `json:"-"`
}
