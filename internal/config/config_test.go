package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/subclip/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

var envKeys = []string{
	"SOURCE_DIR", "OUTPUT_DIR", "PADDING", "SKIP_EXISTING", "EXTENSIONS", "SUB_LANG",
	"SANITIZE_NAMES", "FLATTEN_OUTPUT", "FORMATS", "WORKERS", "JOB_TIMEOUT",
	"ABORT_ON_ENCODE_ERROR", "EXTRACT_EMBEDDED", "FFMPEG_BIN", "FFPROBE_BIN", "LOGLEVEL",
	"LOG_LEVEL", "DATA_DIR", "CRON_EXPR", "HTTP_ADDR", "WARNINGS_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	src := t.TempDir()
	out := filepath.Join(t.TempDir(), "clips")

	cfg, err := Load("", func(c *Config) {
		c.Source.Dir = src
		c.Output.Dir = out
	})
	require.NoError(t, err)

	assert.Equal(t, src, cfg.Source.Dir)
	assert.Equal(t, []string{".mkv", ".mp4"}, cfg.Source.Extensions)
	assert.Equal(t, []string{"gif"}, cfg.Output.Formats)
	assert.Zero(t, cfg.Output.Padding)
	assert.Equal(t, 1, cfg.System.Workers)
	assert.Equal(t, "quiet", cfg.Encoder.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, filepath.Join(out, "warnings.log"), cfg.Output.WarningsFile)
	assert.Equal(t, filepath.Join(out, ".subclip", "subclip.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join(out, ".subclip.lock"), cfg.LockPath())
	assert.Equal(t, filter.DefaultDrawtext(), cfg.Drawtext())
	assert.Zero(t, cfg.JobTimeout())

	tag, err := cfg.SubtitleLanguage()
	require.NoError(t, err)
	assert.Equal(t, language.Und, tag)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	src := t.TempDir()
	t.Setenv("SOURCE_DIR", src)
	t.Setenv("OUTPUT_DIR", filepath.Join(t.TempDir(), "out"))
	t.Setenv("PADDING", "0.5")
	t.Setenv("SKIP_EXISTING", "true")
	t.Setenv("EXTENSIONS", "MKV, avi")
	t.Setenv("SUB_LANG", "en")
	t.Setenv("FORMATS", "GIF,mp4")
	t.Setenv("WORKERS", "3")
	t.Setenv("JOB_TIMEOUT", "2m")
	t.Setenv("DATA_DIR", "/tmp/subclip-data")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, src, cfg.Source.Dir)
	assert.Equal(t, 0.5, cfg.Output.Padding)
	assert.True(t, cfg.Output.SkipExisting)
	assert.Equal(t, []string{".mkv", ".avi"}, cfg.Source.Extensions)
	assert.Equal(t, []string{"gif", "mp4"}, cfg.Output.Formats)
	assert.Equal(t, 3, cfg.System.Workers)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout())
	assert.Equal(t, filepath.Join("/tmp/subclip-data", "subclip.db"), cfg.DBPath())

	tag, err := cfg.SubtitleLanguage()
	require.NoError(t, err)
	assert.Equal(t, language.English, tag)
}

func TestLoad_FileThenEnvThenOptions(t *testing.T) {
	clearEnv(t)
	src := t.TempDir()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	content := `
[source]
dir = "` + filepath.ToSlash(src) + `"

[output]
dir = "` + filepath.ToSlash(filepath.Join(t.TempDir(), "out")) + `"
formats = ["webm"]
padding = 1.0

[system]
workers = 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("WORKERS", "4")

	cfg, err := Load(path, func(c *Config) { c.Output.Padding = 0.25 })
	require.NoError(t, err)

	assert.Equal(t, []string{"webm"}, cfg.Output.Formats)
	assert.Equal(t, 4, cfg.System.Workers)
	assert.Equal(t, 0.25, cfg.Output.Padding)
}

func TestLoad_FileErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[output]\nunknown_key = 1\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	src := t.TempDir()
	notDir := filepath.Join(src, "file.txt")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o644))

	tests := []struct {
		name   string
		mutate func(*Config)
		errIs  error
	}{
		{name: "negative padding", mutate: func(c *Config) { c.Output.Padding = -1 }},
		{name: "zero workers", mutate: func(c *Config) { c.System.Workers = 0 }},
		{name: "bad cron", mutate: func(c *Config) { c.System.CronExpr = "nope" }},
		{name: "bad language", mutate: func(c *Config) { c.Source.SubtitleLanguage = "not a tag!" }},
		{name: "unknown format", mutate: func(c *Config) { c.Output.Formats = []string{"avi"} }, errIs: filter.ErrUnsupportedFormat},
		{name: "no formats", mutate: func(c *Config) { c.Output.Formats = nil }},
		{name: "missing output", mutate: func(c *Config) { c.Output.Dir = "" }},
		{name: "source not a dir", mutate: func(c *Config) { c.Source.Dir = notDir }},
		{name: "missing source", mutate: func(c *Config) { c.Source.Dir = filepath.Join(src, "missing") }},
		{name: "no extensions", mutate: func(c *Config) { c.Source.Extensions = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Source.Dir = src
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
		})
	}
}

func TestValidate_CustomFormatRegistry(t *testing.T) {
	registry := filter.NewRegistry()
	require.NoError(t, registry.Register("apng", filter.Profile{Kind: filter.KindImageLoop, Build: filter.BuildVideoGraph}))

	cfg := Default()
	cfg.Source.Dir = t.TempDir()
	cfg.Output.Formats = []string{"APNG"}
	require.ErrorIs(t, cfg.Validate(), filter.ErrUnsupportedFormat)

	WithFormatRegistry(registry)(&cfg)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"apng"}, cfg.Output.Formats)
	assert.Same(t, registry, cfg.FormatRegistry())

	cfg.Output.Formats = []string{"gif"}
	assert.ErrorIs(t, cfg.Validate(), filter.ErrUnsupportedFormat)
}

func TestLoad_WithFormatRegistry(t *testing.T) {
	clearEnv(t)
	registry := filter.NewRegistry()
	require.NoError(t, registry.Register("apng", filter.Profile{Kind: filter.KindImageLoop, Build: filter.BuildVideoGraph}))

	cfg, err := Load("", WithFormatRegistry(registry), func(c *Config) {
		c.Source.Dir = t.TempDir()
		c.Output.Formats = []string{"apng"}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"apng"}, cfg.Output.Formats)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("SUBCLIP_TEST_INT", "abc")
	assert.Equal(t, 7, getEnvInt("SUBCLIP_TEST_INT", 7))

	t.Setenv("SUBCLIP_TEST_BOOL", "1")
	assert.True(t, getEnvBool("SUBCLIP_TEST_BOOL", false))

	t.Setenv("SUBCLIP_TEST_SECONDS", "45")
	assert.Equal(t, 45, getEnvSeconds("SUBCLIP_TEST_SECONDS", 0))
	t.Setenv("SUBCLIP_TEST_SECONDS", "1m30s")
	assert.Equal(t, 90, getEnvSeconds("SUBCLIP_TEST_SECONDS", 0))

	t.Setenv("SUBCLIP_TEST_LIST", " a, ,b ")
	assert.Equal(t, []string{"a", "b"}, getEnvList("SUBCLIP_TEST_LIST", nil))
}

func TestWriteFile_RoundTrip(t *testing.T) {
	clearEnv(t)
	src := t.TempDir()
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)

	cfg := Default()
	cfg.Source.Dir = src
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out")
	cfg.Output.Formats = []string{"gif", "mp4"}
	cfg.Output.Padding = 0.5
	require.NoError(t, WriteFile(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"gif", "mp4"}, loaded.Output.Formats)
	assert.Equal(t, 0.5, loaded.Output.Padding)
	assert.Equal(t, src, loaded.Source.Dir)
}
