package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/subclip/internal/catalog"
	"github.com/MimeLyc/subclip/internal/filter"
	"github.com/MimeLyc/subclip/internal/library"
	"github.com/MimeLyc/subclip/internal/media"
	"github.com/MimeLyc/subclip/internal/subtitle"
	"github.com/MimeLyc/subclip/internal/timecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

type fakeEncoder struct {
	mu     sync.Mutex
	jobs   []media.EncodeJob
	failOn map[string]bool // by output extension
	hang   bool
}

func (f *fakeEncoder) Encode(ctx context.Context, job media.EncodeJob) (int64, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if f.hang {
		<-ctx.Done()
		return 0, fmt.Errorf("%w: %w", media.ErrEncode, ctx.Err())
	}
	if f.failOn[strings.TrimPrefix(filepath.Ext(job.Output), ".")] {
		return 0, fmt.Errorf("%w: exit status 1", media.ErrEncode)
	}
	data := []byte("clip:" + job.Graph)
	if err := os.WriteFile(job.Output, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (f *fakeEncoder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type memorySink struct {
	mu    sync.Mutex
	lines []string
}

func (m *memorySink) Warn(format string, args ...any) {
	m.mu.Lock()
	m.lines = append(m.lines, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

const twoCues = "1\n00:00:01.000 --> 00:00:02.500\nHi\n\n2\n00:00:10.000 --> 00:00:09.000\nBad\n"

type fixture struct {
	src, out string
	video    library.Video
	encoder  *fakeEncoder
	sink     *memorySink
}

func newFixture(t *testing.T, name, srt string) *fixture {
	t.Helper()
	src := t.TempDir()
	videoPath := filepath.Join(src, name+".mkv")
	require.NoError(t, os.WriteFile(videoPath, []byte("video"), 0o644))
	if srt != "" {
		require.NoError(t, os.WriteFile(filepath.Join(src, name+".srt"), []byte(srt), 0o644))
	}
	return &fixture{
		src:     src,
		out:     filepath.Join(t.TempDir(), "out"),
		video:   library.NewVideo(videoPath, nil),
		encoder: &fakeEncoder{},
		sink:    &memorySink{},
	}
}

func (f *fixture) scheduler(t *testing.T, mutate func(*Options), extra ...Option) *Scheduler {
	t.Helper()
	opts := Options{OutputDir: f.out, Formats: []string{"gif"}}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts, f.encoder, library.NewResolver(), f.sink, extra...)
	require.NoError(t, err)
	return s
}

func TestProcessVideo_EndToEndTwoCues(t *testing.T) {
	f := newFixture(t, "movie", twoCues)
	s := f.scheduler(t, nil)

	res, err := s.ProcessVideo(context.Background(), f.video)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Encoded)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, library.SourceExact, res.Subtitle.Source)

	require.Equal(t, 1, f.encoder.count())
	job := f.encoder.jobs[0]
	assert.Equal(t, f.video.Path, job.Input)
	assert.Equal(t, filepath.Join(f.out, "movie", "movie-1000.gif"), job.Output)
	assert.InDelta(t, 1.0, job.Seek, 1e-9)
	assert.InDelta(t, 1.5, job.Duration, 1e-9)
	assert.Contains(t, job.Graph, "drawtext=text='Hi'")
	assert.Contains(t, job.Graph, "palettegen")

	records, err := catalog.ReadVideoIndex(filepath.Join(f.out, "movie.index.json"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "movie-1000", records[0].ID)
	assert.Equal(t, "movie", records[0].Name)
	assert.NotEmpty(t, records[0].Sizes)
	assert.False(t, records[0].Skipped)

	assert.Equal(t, "movie-10000", records[1].ID)
	assert.Empty(t, records[1].Sizes)
	assert.True(t, records[1].Skipped)
	assert.Equal(t, ReasonNonPositiveDuration, records[1].Reason)
	assert.Equal(t, "Bad", records[1].Text)
}

func TestProcessVideo_SkipExistingIsIdempotent(t *testing.T) {
	f := newFixture(t, "movie", twoCues)
	s := f.scheduler(t, func(o *Options) {
		o.SkipExisting = true
		o.Formats = []string{"gif", "mp4"}
	})

	first, err := s.ProcessVideo(context.Background(), f.video)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Encoded)
	indexPath := filepath.Join(f.out, "movie.index.json")
	before, err := os.ReadFile(indexPath)
	require.NoError(t, err)

	second, err := s.ProcessVideo(context.Background(), f.video)
	require.NoError(t, err)
	assert.Equal(t, 2, f.encoder.count(), "second run must not invoke the encoder")
	assert.Equal(t, 0, second.Encoded)
	assert.Equal(t, 2, second.Reused)
	assert.Equal(t, first.Bytes, second.Bytes)

	after, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestProcessVideo_WithoutSkipExistingReencodes(t *testing.T) {
	f := newFixture(t, "movie", twoCues)
	s := f.scheduler(t, nil)

	_, err := s.ProcessVideo(context.Background(), f.video)
	require.NoError(t, err)
	_, err = s.ProcessVideo(context.Background(), f.video)
	require.NoError(t, err)
	assert.Equal(t, 2, f.encoder.count())
}

func TestProcessVideo_UnresolvedSubtitleWarnsOnce(t *testing.T) {
	f := newFixture(t, "orphan", "")
	s := f.scheduler(t, nil)

	res, err := s.ProcessVideo(context.Background(), f.video)
	require.NoError(t, err)
	assert.Equal(t, StateWarnedAndSkipped, res.State)
	assert.Equal(t, 0, f.encoder.count())

	require.Len(t, f.sink.lines, 1)
	assert.Contains(t, f.sink.lines[0], f.video.Path)
	assert.Contains(t, f.sink.lines[0], library.ErrSubtitleUnresolved.Error())
	require.Len(t, res.Causes, 1)
	assert.True(t, IsErrorType(res.Causes[0], ErrSubtitleUnresolved))
	assert.ErrorIs(t, res.Causes[0], library.ErrSubtitleUnresolved)
	assert.NoFileExists(t, filepath.Join(f.out, "orphan.index.json"))
}

func TestProcessVideo_LanguageSuffixedSubtitle(t *testing.T) {
	f := newFixture(t, "movie", "")
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "movie.en.srt"), []byte(twoCues), 0o644))
	s := f.scheduler(t, nil)

	res, err := s.ProcessVideo(context.Background(), f.video)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, library.SourceLanguage, res.Subtitle.Source)
	assert.Empty(t, f.sink.lines)
}

const englishCues = "1\n00:00:01.000 --> 00:00:03.000\nI have been waiting for you all evening.\n\n" +
	"2\n00:00:04.000 --> 00:00:06.000\nThe weather is getting worse and we should leave before the storm arrives.\n\n" +
	"3\n00:00:07.000 --> 00:00:09.000\nPlease tell your brother that the meeting has been moved to Thursday.\n"

func TestProcessVideo_DetectsLanguageOfUntaggedSubtitle(t *testing.T) {
	f := newFixture(t, "movie", englishCues)
	s := f.scheduler(t, func(o *Options) { o.Language = language.German })

	res, err := s.ProcessVideo(context.Background(), f.video)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, library.SourceExact, res.Subtitle.Source)
	assert.Equal(t, "en", res.Subtitle.Language)
	assert.True(t, res.Subtitle.Detected)
	assert.Equal(t, 3, res.Encoded, "a language mismatch does not skip the video")
}

func TestProcessVideo_TaggedLanguageIsKept(t *testing.T) {
	f := newFixture(t, "movie", "")
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "movie.fr.srt"), []byte(englishCues), 0o644))
	s := f.scheduler(t, nil)

	res, err := s.ProcessVideo(context.Background(), f.video)
	require.NoError(t, err)
	assert.Equal(t, "fr", res.Subtitle.Language)
	assert.False(t, res.Subtitle.Detected)
}

func TestProcessCues_EncodeFailureIsIsolated(t *testing.T) {
	f := newFixture(t, "movie", "")
	f.encoder.failOn = map[string]bool{"mp4": true}
	s := f.scheduler(t, func(o *Options) { o.Formats = []string{"gif", "mp4"} })

	cues := []subtitle.Cue{
		{Ordinal: 1, StartTime: "00:00:01.000", EndTime: "00:00:02.000", Text: "one"},
		{Ordinal: 2, StartTime: "00:00:03.000", EndTime: "00:00:04.000", Text: "two"},
	}
	res, err := s.ProcessCues(context.Background(), f.video, cues)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 4, f.encoder.count())
	assert.Equal(t, 2, res.Encoded)
	assert.Equal(t, 2, res.Failed)

	records, err := catalog.ReadVideoIndex(res.Index)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.True(t, r.Failed)
		assert.Contains(t, r.Sizes, "gif")
		assert.NotContains(t, r.Sizes, "mp4")
		assert.Contains(t, r.Errors["mp4"], "exit status 1")
	}
}

func TestProcessCues_AbortOnEncodeError(t *testing.T) {
	f := newFixture(t, "movie", "")
	f.encoder.failOn = map[string]bool{"gif": true}
	s := f.scheduler(t, func(o *Options) { o.AbortOnEncodeError = true })

	cues := []subtitle.Cue{
		{Ordinal: 1, StartTime: "00:00:01.000", EndTime: "00:00:02.000", Text: "one"},
		{Ordinal: 2, StartTime: "00:00:03.000", EndTime: "00:00:04.000", Text: "two"},
	}
	_, err := s.ProcessCues(context.Background(), f.video, cues)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrEncodeFailure))
	assert.ErrorIs(t, err, media.ErrEncode)
	assert.Equal(t, 1, f.encoder.count())
	assert.NoFileExists(t, filepath.Join(f.out, "movie.index.json"))
}

func TestProcessCues_JobTimeoutIsPerJobFailure(t *testing.T) {
	f := newFixture(t, "movie", "")
	f.encoder.hang = true
	s := f.scheduler(t, func(o *Options) { o.JobTimeout = 50 * time.Millisecond })

	cues := []subtitle.Cue{
		{Ordinal: 1, StartTime: "00:00:01.000", EndTime: "00:00:02.000", Text: "one"},
		{Ordinal: 2, StartTime: "00:00:03.000", EndTime: "00:00:04.000", Text: "two"},
	}
	res, err := s.ProcessCues(context.Background(), f.video, cues)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, f.encoder.count())

	records, err := catalog.ReadVideoIndex(res.Index)
	require.NoError(t, err)
	assert.Contains(t, records[0].Errors["gif"], context.DeadlineExceeded.Error())
}

func TestProcessCues_CancelledContextStops(t *testing.T) {
	f := newFixture(t, "movie", "")
	f.encoder.hang = true
	s := f.scheduler(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.ProcessCues(ctx, f.video, []subtitle.Cue{
		{Ordinal: 1, StartTime: "00:00:01.000", EndTime: "00:00:02.000", Text: "one"},
		{Ordinal: 2, StartTime: "00:00:03.000", EndTime: "00:00:04.000", Text: "two"},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.encoder.count())
}

func TestProcessCues_MalformedTimecodeSkipsCue(t *testing.T) {
	f := newFixture(t, "movie", "")
	s := f.scheduler(t, nil)

	res, err := s.ProcessCues(context.Background(), f.video, []subtitle.Cue{
		{Ordinal: 1, StartTime: "1:2:3", EndTime: "00:00:02.000", Text: "bad start"},
		{Ordinal: 2, StartTime: "00:00:03.000", EndTime: "00:00:61.000", Text: "bad end"},
		{Ordinal: 3, StartTime: "00:00:05,000", EndTime: "00:00:06,000", Text: "comma ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Encoded)
	require.Len(t, res.Causes, 2)
	for _, cause := range res.Causes {
		assert.True(t, IsErrorType(cause, ErrMalformedTimecode))
		assert.ErrorIs(t, cause, timecode.ErrMalformed)
	}

	records, err := catalog.ReadVideoIndex(res.Index)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "movie-n1", records[0].ID)
	assert.Equal(t, ReasonMalformedTimecode, records[0].Reason)
	assert.Equal(t, "movie-3000", records[1].ID)
	assert.Equal(t, ReasonMalformedTimecode, records[1].Reason)
	assert.Equal(t, "movie-5000", records[2].ID)
}

func TestProcessCues_SanitizeAndFlatten(t *testing.T) {
	f := newFixture(t, "Amélie (2001)", "")
	s := f.scheduler(t, func(o *Options) {
		o.Sanitize = true
		o.Flatten = true
		o.Padding = 0.5
		o.DisableOverlay = true
	})

	res, err := s.ProcessCues(context.Background(), f.video, []subtitle.Cue{
		{Ordinal: 1, StartTime: "00:00:00.200", EndTime: "00:00:01.000", Text: "Bonjour"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Amelie_2001", res.Stem)
	assert.Equal(t, filepath.Join(f.out, "Amelie_2001.index.json"), res.Index)

	job := f.encoder.jobs[0]
	assert.Equal(t, filepath.Join(f.out, "Amelie_2001-200.gif"), job.Output)
	assert.InDelta(t, 0.0, job.Seek, 1e-9)
	assert.InDelta(t, 1.8, job.Duration, 1e-9)
	assert.NotContains(t, job.Graph, "drawtext")
}

func TestProcessCues_OutputDirFailure(t *testing.T) {
	f := newFixture(t, "movie", "")
	require.NoError(t, os.MkdirAll(filepath.Dir(f.out), 0o755))
	require.NoError(t, os.WriteFile(f.out, []byte("not a dir"), 0o644))
	s := f.scheduler(t, nil)

	_, err := s.ProcessCues(context.Background(), f.video, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileSystem)
	assert.True(t, IsErrorType(err, ErrFileSystemFailure))
}

func TestNew_ValidatesOptions(t *testing.T) {
	_, err := New(Options{OutputDir: t.TempDir(), Formats: []string{"gif", "avi"}}, &fakeEncoder{}, library.NewResolver(), &memorySink{})
	assert.ErrorIs(t, err, filter.ErrUnsupportedFormat)

	_, err = New(Options{Formats: []string{"gif"}}, &fakeEncoder{}, library.NewResolver(), &memorySink{})
	assert.Error(t, err)

	_, err = New(Options{OutputDir: t.TempDir(), Formats: []string{"gif"}, Padding: -1}, &fakeEncoder{}, library.NewResolver(), &memorySink{})
	assert.Error(t, err)

	registry := filter.NewRegistry()
	require.NoError(t, registry.Register("apng", filter.Profile{Kind: filter.KindImageLoop, Build: filter.BuildVideoGraph}))
	s, err := New(Options{OutputDir: t.TempDir(), Formats: []string{"APNG"}}, &fakeEncoder{}, library.NewResolver(), &memorySink{}, WithRegistry(registry))
	require.NoError(t, err)
	assert.Equal(t, []string{"apng"}, s.Formats())
}

func TestProcessVideo_StateTransitions(t *testing.T) {
	f := newFixture(t, "movie", twoCues)
	var states []State
	s := f.scheduler(t, nil, WithStateHook(func(_ library.Video, st State) {
		states = append(states, st)
	}))

	_, err := s.ProcessVideo(context.Background(), f.video)
	require.NoError(t, err)
	assert.Equal(t, []State{StateResolvingSubtitle, StateIterating, StateIndexed, StateDone}, states)
}

func TestClipError(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(cause, ErrEncodeFailure, "encode clip").WithContext("format", "gif").WithContext("output", "/x.gif")
	assert.Equal(t, "[EncodeFailure] encode clip | context: format=gif, output=/x.gif | cause: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsErrorType(fmt.Errorf("wrapped: %w", err), ErrEncodeFailure))
	assert.False(t, IsErrorType(cause, ErrEncodeFailure))
	assert.Contains(t, Advice(err), "ffmpeg")
	assert.Contains(t, Advice(cause), "review")
}
