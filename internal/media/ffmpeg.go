package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/subclip/internal/subtitle"
	"github.com/MimeLyc/subclip/pkg/log"
)

const defaultLogLevel = "quiet"

type Option func(*Ffmpeg)

// WithFFmpegBin overrides the encoder binary (name on PATH or absolute path).
func WithFFmpegBin(bin string) Option {
	return func(f *Ffmpeg) {
		if bin != "" {
			f.ffmpegCmd = bin
		}
	}
}

func WithFFprobeBin(bin string) Option {
	return func(f *Ffmpeg) {
		if bin != "" {
			f.ffprobeCmd = bin
		}
	}
}

// WithLogLevel sets the value passed to -v.
func WithLogLevel(level string) Option {
	return func(f *Ffmpeg) {
		if level != "" {
			f.logLevel = level
		}
	}
}

type Ffmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
	logLevel   string
}

func NewFfmpeg(opts ...Option) *Ffmpeg {
	ff := &Ffmpeg{
		ffmpegCmd:  "ffmpeg",
		ffprobeCmd: "ffprobe",
		logLevel:   defaultLogLevel,
	}
	for _, opt := range opts {
		opt(ff)
	}
	return ff
}

// Encode runs one ffmpeg invocation for job. The call is bounded by ctx; a
// cancelled or timed out context kills the process. ffmpeg writes to a
// hidden partial file next to job.Output which is renamed into place only
// after a non-empty result; on failure nothing is left at either path.
func (ff *Ffmpeg) Encode(ctx context.Context, job EncodeJob) (int64, error) {
	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	final := job.Output
	job.Output = PartialPath(final)
	args := ff.encodeArgs(job)
	if ff.logLevel != defaultLogLevel {
		log.Debug("Running command: %s %s", ff.ffmpegCmd, strings.Join(args, " "))
	}

	size, err := ff.run(ctx, cmdPath, args, job.Output)
	if err != nil {
		_ = os.Remove(job.Output)
		return 0, fmt.Errorf("%w: %s: %w", ErrEncode, final, err)
	}
	if err := os.Rename(job.Output, final); err != nil {
		_ = os.Remove(job.Output)
		return 0, fmt.Errorf("%w: %s: %w", ErrEncode, final, err)
	}
	return size, nil
}

func (ff *Ffmpeg) run(ctx context.Context, cmdPath string, args []string, output string) (int64, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return 0, fmt.Errorf("%w: %s", err, msg)
		}
		return 0, err
	}

	info, err := os.Stat(output)
	if err != nil {
		return 0, fmt.Errorf("output missing: %w", err)
	}
	if info.Size() == 0 {
		return 0, errors.New("output is empty")
	}
	return info.Size(), nil
}

// PartialPath is where an encode in progress for output is written. The
// extension is kept so ffmpeg still picks the muxer from it.
func PartialPath(output string) string {
	dir, name := filepath.Split(output)
	ext := filepath.Ext(name)
	return filepath.Join(dir, "."+strings.TrimSuffix(name, ext)+".partial"+ext)
}

func (ff *Ffmpeg) encodeArgs(job EncodeJob) []string {
	args := []string{
		"-v", ff.logLevel,
		"-ss", formatSeconds(job.Seek),
		"-t", formatSeconds(job.Duration),
		"-i", job.Input,
	}
	args = append(args, job.Params...)
	if job.Graph != "" {
		args = append(args, "-filter_complex", job.Graph)
	}
	return append(args, "-y", job.Output)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// ExtractSubtitle converts the stream-th subtitle stream of mediaPath into
// an SRT file at output.
func (ff *Ffmpeg) ExtractSubtitle(ctx context.Context, mediaPath string, stream int, output string) error {
	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, cmdPath, ff.extractSubArgs(mediaPath, stream, output)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("extract subtitle stream %d from %s: %w: %s", stream, mediaPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (ff *Ffmpeg) ReadSubtitleDescription(ctx context.Context, mediaPath string) (subtitle.Descriptions, error) {
	cmdPath, err := exec.LookPath(ff.ffprobeCmd)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, cmdPath, ff.describeArgs(mediaPath)...)

	output, runErr := cmd.Output()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			log.Error("Failed to run ffprobe: %v", runErr)
			return nil, runErr
		}
	}

	var described struct {
		Streams []struct {
			Index     int    `json:"index"`
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Tags      struct {
				Language string `json:"language"`
			} `json:"tags"`
			Disposition struct {
				Default int `json:"default"`
			} `json:"disposition"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(output, &described); err != nil {
		log.Error("Failed to parse ffprobe output: %v", err)
		if runErr != nil {
			return nil, runErr
		}
		return nil, err
	}
	// ffprobe may exit non-zero on a damaged trailer but still list streams.
	if runErr != nil && len(described.Streams) == 0 {
		return nil, runErr
	}

	descriptions := make(subtitle.Descriptions, 0)
	for _, stream := range described.Streams {
		if stream.CodecType != "subtitle" {
			continue
		}
		desc := subtitle.Description{
			Index:    len(descriptions),
			Language: stream.Tags.Language,
			Default:  stream.Disposition.Default == 1,
		}
		if desc.Language == "" {
			desc.Language = "und" // undefined
		}
		descriptions = append(descriptions, desc)
	}

	return descriptions, nil
}

func (*Ffmpeg) describeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams",
		"s",
		path,
	}
}

func (ff *Ffmpeg) extractSubArgs(mediaPath string, stream int, targetPath string) []string {
	return []string{
		"-v", ff.logLevel,
		"-i", mediaPath,
		"-map", fmt.Sprintf("0:s:%d", stream),
		"-c:s", "srt", // convert to srt
		"-f", "srt", // output format
		"-y", targetPath,
	}
}
