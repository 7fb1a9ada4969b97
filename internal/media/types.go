package media

import (
	"context"
	"errors"

	"github.com/MimeLyc/subclip/internal/subtitle"
)

// ErrEncode marks a failed encoder invocation: non-zero exit, timeout or a
// missing/empty output file.
var ErrEncode = errors.New("encode failed")

// EncodeJob is one encoder invocation producing a single clip.
type EncodeJob struct {
	Input    string
	Output   string
	Seek     float64 // seconds
	Duration float64 // seconds
	Graph    string
	Params   []string
}

// Encoder cuts and renders one clip and reports the size of the result.
type Encoder interface {
	Encode(ctx context.Context, job EncodeJob) (int64, error)
}

// StreamReader lists and extracts subtitle streams embedded in a container.
type StreamReader interface {
	ReadSubtitleDescription(ctx context.Context, mediaPath string) (subtitle.Descriptions, error)
	ExtractSubtitle(ctx context.Context, mediaPath string, stream int, output string) error
}

// Operator is the full set of media operations backed by ffmpeg.
type Operator interface {
	Encoder
	StreamReader
}

func NewOperator(opts ...Option) Operator {
	return NewFfmpeg(opts...)
}
