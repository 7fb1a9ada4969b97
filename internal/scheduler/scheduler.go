// Package scheduler turns one video's subtitle cues into clip encode jobs
// and writes the per-video index.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/subclip/internal/catalog"
	"github.com/MimeLyc/subclip/internal/filter"
	"github.com/MimeLyc/subclip/internal/library"
	"github.com/MimeLyc/subclip/internal/media"
	"github.com/MimeLyc/subclip/internal/subtitle"
	"github.com/MimeLyc/subclip/internal/timecode"
	"github.com/MimeLyc/subclip/internal/warnings"
	"github.com/MimeLyc/subclip/pkg/file"
	"github.com/MimeLyc/subclip/pkg/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
)

type Option func(*Scheduler)

// WithRegistry replaces the built-in format registry.
func WithRegistry(r *filter.Registry) Option {
	return func(s *Scheduler) {
		s.registry = r
	}
}

func WithReader(r subtitle.Reader) Option {
	return func(s *Scheduler) {
		s.reader = r
	}
}

// WithStateHook is called on every state transition of a video.
func WithStateHook(fn func(v library.Video, state State)) Option {
	return func(s *Scheduler) {
		s.onState = fn
	}
}

type Scheduler struct {
	opts     Options
	formats  []string
	profiles map[string]filter.Profile

	encoder  media.Encoder
	resolver SubtitleResolver
	warnings warnings.Sink
	registry *filter.Registry
	reader   subtitle.Reader
	onState  func(v library.Video, state State)
}

// New validates opts against the format registry and returns a scheduler.
// An unknown format fails with filter.ErrUnsupportedFormat.
func New(
	opts Options,
	encoder media.Encoder,
	resolver SubtitleResolver,
	sink warnings.Sink,
	extra ...Option,
) (*Scheduler, error) {
	s := &Scheduler{
		opts:     opts,
		encoder:  encoder,
		resolver: resolver,
		warnings: sink,
		registry: filter.DefaultRegistry(),
		reader:   subtitle.NewReader(),
	}
	for _, opt := range extra {
		opt(s)
	}

	if opts.OutputDir == "" {
		return nil, NewError(ErrUnknown, "output directory is required")
	}
	if opts.Padding < 0 {
		return nil, NewError(ErrUnknown, "padding must not be negative").WithContext("padding", opts.Padding)
	}
	if s.opts.Drawtext == (filter.Drawtext{}) {
		s.opts.Drawtext = filter.DefaultDrawtext()
	}

	formats, err := s.registry.Validate(opts.Formats)
	if err != nil {
		return nil, err
	}
	s.formats = formats
	s.profiles = make(map[string]filter.Profile, len(formats))
	for _, name := range formats {
		p, err := s.registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		s.profiles[name] = p
	}
	return s, nil
}

// Formats returns the validated output formats in request order.
func (s *Scheduler) Formats() []string {
	return append([]string(nil), s.formats...)
}

// Stem returns the output name used for v.
func (s *Scheduler) Stem(v library.Video) string {
	if s.opts.Sanitize {
		return file.SanitizeName(v.Base)
	}
	return v.Base
}

// ProcessVideo resolves the subtitle for v and processes its cues. A video
// without a subtitle produces one warning, no index and a nil error.
func (s *Scheduler) ProcessVideo(ctx context.Context, v library.Video) (*VideoResult, error) {
	start := time.Now()
	result := &VideoResult{Video: v, Stem: s.Stem(v)}
	s.transition(result, StateResolvingSubtitle)

	sub, err := s.resolver.Resolve(ctx, v)
	if err != nil {
		if !errors.Is(err, library.ErrSubtitleUnresolved) {
			return result, fileSystemError("resolve subtitle", err).WithContext("video", v.Path)
		}
		clipErr := WrapError(err, ErrSubtitleUnresolved, "resolve subtitle").WithContext("video", v.Path)
		return s.warnAndSkip(result, start, clipErr, fmt.Sprintf("%s: %v", v.Path, err)), nil
	}
	if sub.Temporary {
		defer os.Remove(sub.Path)
	}

	subs, err := s.reader.Read(sub.Path)
	if err != nil {
		result.Subtitle = sub
		clipErr := WrapError(err, ErrSubtitleUnresolved, "read subtitle").WithContext("subtitle", sub.Path)
		return s.warnAndSkip(result, start, clipErr,
			fmt.Sprintf("%s: unreadable subtitle %s: %v", v.Path, sub.Path, err)), nil
	}
	sub = s.checkLanguage(v, sub, subs)
	result.Subtitle = sub

	log.Info("Processing %s (%d cues from %s)", filepath.Base(v.Path), len(subs.Cues), filepath.Base(sub.Path))
	res, err := s.ProcessCues(ctx, v, subs.Cues)
	if res != nil {
		res.Subtitle = sub
		res.Elapsed = time.Since(start)
	}
	return res, err
}

// checkLanguage fills in the detected cue language when the file name and
// container carry none, and warns when the language differs from the
// preferred one.
func (s *Scheduler) checkLanguage(v library.Video, sub library.Subtitle, subs *subtitle.File) library.Subtitle {
	if sub.Language == "" && subs.Language != "" {
		sub.Language = subs.Language
		sub.Detected = true
	}
	if s.opts.Language == language.Und || sub.Language == "" {
		return sub
	}
	if !library.MatchesLanguage(sub.Language, s.opts.Language) {
		log.Warn("%s: subtitle %s is %s, preferred %s", v.Path, filepath.Base(sub.Path), sub.Language, s.opts.Language)
	}
	return sub
}

// warnAndSkip writes warning as the video's single warning line.
func (s *Scheduler) warnAndSkip(result *VideoResult, start time.Time, cause *ClipError, warning string) *VideoResult {
	result.Warning = warning
	result.Causes = append(result.Causes, cause)
	s.warnings.Warn("%s", warning)
	log.Debug("%v; %s", cause, Advice(cause))
	result.Elapsed = time.Since(start)
	s.transition(result, StateWarnedAndSkipped)
	return result
}

// ProcessCues runs every cue of v in order and writes the video index.
// Cues are processed sequentially; formats of one cue likewise.
func (s *Scheduler) ProcessCues(ctx context.Context, v library.Video, cues []subtitle.Cue) (*VideoResult, error) {
	start := time.Now()
	stem := s.Stem(v)
	result := &VideoResult{Video: v, Stem: stem}
	s.transition(result, StateIterating)

	dir := s.opts.OutputDir
	if !s.opts.Flatten {
		dir = filepath.Join(dir, stem)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return result, fileSystemError("create output directory", err).WithContext("dir", dir)
	}

	records := make([]catalog.Record, 0, len(cues))
	for _, cue := range cues {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		record, err := s.processCue(ctx, v, stem, dir, cue, result)
		if err != nil {
			return result, err
		}
		records = append(records, record)
		result.Outcomes = append(result.Outcomes, CueOutcome{
			CueID:   record.ID,
			Sizes:   record.Sizes,
			Skipped: record.Skipped,
			Reason:  record.Reason,
			Failed:  record.Failed,
		})
	}

	index := catalog.IndexPath(s.opts.OutputDir, stem)
	if err := catalog.WriteVideoIndex(index, records); err != nil {
		return result, fileSystemError("write index", err).WithContext("index", index)
	}
	result.Index = index
	s.transition(result, StateIndexed)

	result.Elapsed = time.Since(start)
	log.Info("Finished generating %d clips in %s (%d reused, %d failed, %d skipped, %s)",
		result.Encoded, result.Elapsed.Round(time.Millisecond), result.Reused, result.Failed, result.Skipped,
		humanize.Bytes(uint64(result.Bytes)))
	s.transition(result, StateDone)
	return result, nil
}

func (s *Scheduler) processCue(
	ctx context.Context,
	v library.Video,
	stem, dir string,
	cue subtitle.Cue,
	result *VideoResult,
) (catalog.Record, error) {
	record := catalog.Record{
		Name:      stem,
		Ordinal:   cue.Ordinal,
		StartTime: cue.StartTime,
		EndTime:   cue.EndTime,
		Text:      cue.Text,
	}

	startMs, err := timecode.ParseMillis(cue.StartTime)
	if err != nil {
		record.ID = fmt.Sprintf("%s-n%d", stem, cue.Ordinal)
		return s.skip(record, result, ReasonMalformedTimecode, err), nil
	}
	record.ID = fmt.Sprintf("%s-%d", stem, startMs)

	endMs, err := timecode.ParseMillis(cue.EndTime)
	if err != nil {
		return s.skip(record, result, ReasonMalformedTimecode, err), nil
	}

	window := timecode.ComputeWindow(startMs, endMs, s.opts.Padding)
	if window.Degenerate() {
		return s.skip(record, result, ReasonNonPositiveDuration, nil), nil
	}

	overlay := ""
	if !s.opts.DisableOverlay {
		overlay = s.opts.Drawtext.Compose(cue.Text)
	}

	record.Sizes = make(map[string]int64, len(s.formats))
	var cueBytes int64
	for _, format := range s.formats {
		output := filepath.Join(dir, fmt.Sprintf("%s-%d.%s", stem, startMs, format))

		if s.opts.SkipExisting {
			if size, ok := file.Exists(output); ok {
				record.Sizes[format] = size
				cueBytes += size
				result.Reused++
				result.Bytes += size
				continue
			}
		}

		profile := s.profiles[format]
		size, err := s.encode(ctx, media.EncodeJob{
			Input:    v.Path,
			Output:   output,
			Seek:     window.Seek,
			Duration: window.Duration,
			Graph:    profile.Graph(overlay),
			Params:   profile.Params,
		})
		if err != nil {
			// No output survives a failed job.
			if rmErr := os.Remove(output); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				log.Warn("Failed to remove %s: %v", output, rmErr)
			}
			if ctx.Err() != nil {
				return record, ctx.Err()
			}
			result.Failed++
			record.Failed = true
			if record.Errors == nil {
				record.Errors = make(map[string]string)
			}
			record.Errors[format] = err.Error()

			clipErr := WrapError(err, ErrEncodeFailure, "encode clip").
				WithContext("output", output).
				WithContext("format", format)
			if s.opts.AbortOnEncodeError {
				return record, clipErr
			}
			log.Error("%v", clipErr)
			continue
		}

		record.Sizes[format] = size
		cueBytes += size
		result.Encoded++
		result.Bytes += size
	}
	if len(record.Sizes) == 0 {
		record.Sizes = nil
	}

	log.Info("  %s-%s: %s [%s]",
		shortTime(startMs), shortTime(endMs), strings.ReplaceAll(cue.Text, "\n", " "),
		humanize.Bytes(uint64(cueBytes)))
	return record, nil
}

func (s *Scheduler) encode(ctx context.Context, job media.EncodeJob) (int64, error) {
	if s.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.JobTimeout)
		defer cancel()
	}
	return s.encoder.Encode(ctx, job)
}

func (s *Scheduler) skip(record catalog.Record, result *VideoResult, reason string, cause error) catalog.Record {
	record.Skipped = true
	record.Reason = reason
	result.Skipped++
	if cause != nil {
		clipErr := WrapError(cause, ErrMalformedTimecode, "skip cue").
			WithContext("cue", record.Ordinal).
			WithContext("video", record.Name)
		result.Causes = append(result.Causes, clipErr)
		log.Debug("%v", clipErr)
	} else {
		log.Debug("Skipping cue %d of %s: %s", record.Ordinal, record.Name, reason)
	}
	return record
}

func (s *Scheduler) transition(result *VideoResult, state State) {
	result.State = state
	if s.onState != nil {
		s.onState(result.Video, state)
	}
}

// shortTime drops a zero hour field for display.
func shortTime(ms int64) string {
	return strings.TrimPrefix(timecode.FormatMillis(ms), "00:")
}
