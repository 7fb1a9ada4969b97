package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/subclip/internal/filter"
	"github.com/MimeLyc/subclip/internal/library"
	"github.com/MimeLyc/subclip/pkg/icron"
	"github.com/MimeLyc/subclip/pkg/log"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// Config holds all application configuration.
//
// Values are layered, later layers winning: built-in defaults, the TOML
// file passed with --config, a .env file in the working directory, process
// environment variables, then Options from command line flags.
//
// Environment Variables:
// Source:
// - SOURCE_DIR: Directory scanned recursively for videos (default: .)
// - EXTENSIONS: Comma separated video extensions (default: .mkv,.mp4)
// - SUB_LANG: Preferred subtitle language for <base>.<lang>.srt sidecars (optional)
// - EXTRACT_EMBEDDED: Extract an embedded subtitle stream when no sidecar exists (default: false)
//
// Output:
// - OUTPUT_DIR: Output root for clips and indices (default: clips)
// - FORMATS: Comma separated output formats (default: gif)
// - PADDING: Seconds added before and after every cue (default: 0)
// - SKIP_EXISTING: Keep clips that already exist (default: false)
// - SANITIZE_NAMES: Fold video names into portable stems (default: false)
// - FLATTEN_OUTPUT: Write all clips directly into OUTPUT_DIR (default: false)
// - WARNINGS_FILE: Warning log (default: <OUTPUT_DIR>/warnings.log)
//
// Encoder:
// - FFMPEG_BIN / FFPROBE_BIN: Encoder binaries (default: looked up on PATH)
// - LOGLEVEL: Encoder log level (default: quiet)
// - JOB_TIMEOUT: Limit for one encoder invocation, Go duration or seconds (default: none)
// - ABORT_ON_ENCODE_ERROR: Stop a video at its first failed clip (default: false)
//
// System:
// - WORKERS: Videos processed in parallel (default: 1)
// - LOG_LEVEL: Application log level (default: info)
// - DATA_DIR: Directory holding the run history database (default: <OUTPUT_DIR>/.subclip)
// - CRON_EXPR: Schedule used by watch mode (default: 0 * * * *)
// - HTTP_ADDR: Status API address in watch mode (default: :8080)
type Config struct {
	Source  SourceConfig  `toml:"source"`
	Output  OutputConfig  `toml:"output"`
	Overlay OverlayConfig `toml:"overlay"`
	Encoder EncoderConfig `toml:"encoder"`
	System  SystemConfig  `toml:"system"`
	HTTP    HTTPConfig    `toml:"http"`

	// registry resolves Output.Formats; nil means the built-in formats.
	registry *filter.Registry
}

type SourceConfig struct {
	Dir              string   `toml:"dir"`
	Extensions       []string `toml:"extensions"`
	SubtitleLanguage string   `toml:"subtitle_language"`
	ExtractEmbedded  bool     `toml:"extract_embedded"`
}

type OutputConfig struct {
	Dir          string   `toml:"dir"`
	Formats      []string `toml:"formats"`
	Padding      float64  `toml:"padding"`
	SkipExisting bool     `toml:"skip_existing"`
	Sanitize     bool     `toml:"sanitize_names"`
	Flatten      bool     `toml:"flatten"`
	WarningsFile string   `toml:"warnings_file"`
}

// OverlayConfig is the style of the burned-in cue text.
type OverlayConfig struct {
	Disabled    bool   `toml:"disabled"`
	FontFile    string `toml:"font_file"`
	FontSize    int    `toml:"font_size"`
	FontColor   string `toml:"font_color"`
	BorderColor string `toml:"border_color"`
	BorderWidth int    `toml:"border_width"`
	LineHeight  int    `toml:"line_height"`
	Margin      int    `toml:"margin"`
}

type EncoderConfig struct {
	FFmpegBin          string `toml:"ffmpeg_bin"`
	FFprobeBin         string `toml:"ffprobe_bin"`
	LogLevel           string `toml:"log_level"`
	JobTimeoutSeconds  int    `toml:"job_timeout_seconds"`
	AbortOnEncodeError bool   `toml:"abort_on_encode_error"`
}

type SystemConfig struct {
	Workers  int    `toml:"workers"`
	LogLevel string `toml:"log_level"`
	DataDir  string `toml:"data_dir"`
	CronExpr string `toml:"cron_expr"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithFormatRegistry checks Output.Formats against r instead of the built-in
// formats. The service hands the same registry to the scheduler.
func WithFormatRegistry(r *filter.Registry) Option {
	return func(c *Config) {
		c.registry = r
	}
}

// Default returns the built-in configuration.
func Default() Config {
	style := filter.DefaultDrawtext()
	return Config{
		Source: SourceConfig{
			Dir:        ".",
			Extensions: append([]string(nil), library.DefaultExtensions...),
		},
		Output: OutputConfig{
			Dir:     "clips",
			Formats: []string{"gif"},
		},
		Overlay: OverlayConfig{
			FontSize:    style.FontSize,
			FontColor:   style.FontColor,
			BorderColor: style.BorderColor,
			BorderWidth: style.BorderWidth,
			LineHeight:  style.LineHeight,
			Margin:      style.Margin,
		},
		Encoder: EncoderConfig{
			LogLevel: "quiet",
		},
		System: SystemConfig{
			Workers:  1,
			LogLevel: "info",
			CronExpr: "0 * * * *",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// Load builds the layered configuration. path is an optional TOML file; a
// path that does not exist is an error.
func Load(path string, opts ...Option) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to load .env: %v", err)
	}
	cfg.applyEnv()

	// Apply custom options
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", cfg)
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Source.Dir = getEnvString("SOURCE_DIR", c.Source.Dir)
	c.Source.Extensions = getEnvList("EXTENSIONS", c.Source.Extensions)
	c.Source.SubtitleLanguage = getEnvString("SUB_LANG", c.Source.SubtitleLanguage)
	c.Source.ExtractEmbedded = getEnvBool("EXTRACT_EMBEDDED", c.Source.ExtractEmbedded)

	c.Output.Dir = getEnvString("OUTPUT_DIR", c.Output.Dir)
	c.Output.Formats = getEnvList("FORMATS", c.Output.Formats)
	c.Output.Padding = getEnvFloat("PADDING", c.Output.Padding)
	c.Output.SkipExisting = getEnvBool("SKIP_EXISTING", c.Output.SkipExisting)
	c.Output.Sanitize = getEnvBool("SANITIZE_NAMES", c.Output.Sanitize)
	c.Output.Flatten = getEnvBool("FLATTEN_OUTPUT", c.Output.Flatten)
	c.Output.WarningsFile = getEnvString("WARNINGS_FILE", c.Output.WarningsFile)

	c.Encoder.FFmpegBin = getEnvString("FFMPEG_BIN", c.Encoder.FFmpegBin)
	c.Encoder.FFprobeBin = getEnvString("FFPROBE_BIN", c.Encoder.FFprobeBin)
	c.Encoder.LogLevel = getEnvString("LOGLEVEL", c.Encoder.LogLevel)
	c.Encoder.JobTimeoutSeconds = getEnvSeconds("JOB_TIMEOUT", c.Encoder.JobTimeoutSeconds)
	c.Encoder.AbortOnEncodeError = getEnvBool("ABORT_ON_ENCODE_ERROR", c.Encoder.AbortOnEncodeError)

	c.System.Workers = getEnvInt("WORKERS", c.System.Workers)
	c.System.LogLevel = getEnvString("LOG_LEVEL", c.System.LogLevel)
	c.System.DataDir = getEnvString("DATA_DIR", c.System.DataDir)
	c.System.CronExpr = getEnvString("CRON_EXPR", c.System.CronExpr)

	c.HTTP.Addr = getEnvString("HTTP_ADDR", c.HTTP.Addr)
}

func (c *Config) normalize() error {
	for _, dir := range []*string{&c.Source.Dir, &c.Output.Dir} {
		if strings.TrimSpace(*dir) == "" {
			continue
		}
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *dir, err)
		}
		*dir = abs
	}

	exts := make([]string, 0, len(c.Source.Extensions))
	for _, ext := range c.Source.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Source.Extensions = exts

	if c.Output.WarningsFile == "" && c.Output.Dir != "" {
		c.Output.WarningsFile = filepath.Join(c.Output.Dir, "warnings.log")
	}
	if c.System.DataDir == "" && c.Output.Dir != "" {
		c.System.DataDir = filepath.Join(c.Output.Dir, ".subclip")
	}
	return nil
}

// Validate checks if all required configuration is properly set
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output dir is required")
	}
	if c.Source.Dir != "" {
		info, err := os.Stat(c.Source.Dir)
		if err != nil {
			return fmt.Errorf("source dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("source dir %s is not a directory", c.Source.Dir)
		}
	}
	if len(c.Source.Extensions) == 0 {
		return fmt.Errorf("at least one video extension is required")
	}
	if c.Output.Padding < 0 {
		return fmt.Errorf("padding must be >= 0, got %v", c.Output.Padding)
	}
	if c.System.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.System.Workers)
	}
	if c.Encoder.JobTimeoutSeconds < 0 {
		return fmt.Errorf("job timeout must be >= 0, got %d", c.Encoder.JobTimeoutSeconds)
	}
	if !c.Overlay.Disabled && (c.Overlay.FontSize <= 0 || c.Overlay.LineHeight <= 0) {
		return fmt.Errorf("overlay font size and line height must be positive")
	}
	if err := icron.Validate(c.System.CronExpr); err != nil {
		return fmt.Errorf("invalid cron_expr: %w", err)
	}
	if _, err := c.SubtitleLanguage(); err != nil {
		return err
	}
	formats, err := c.FormatRegistry().Validate(c.Output.Formats)
	if err != nil {
		return err
	}
	c.Output.Formats = formats
	return nil
}

// FormatRegistry returns the registry output formats are resolved against.
func (c *Config) FormatRegistry() *filter.Registry {
	if c.registry == nil {
		return filter.DefaultRegistry()
	}
	return c.registry
}

// SubtitleLanguage returns the preferred sidecar language, or language.Und
// when none is configured.
func (c *Config) SubtitleLanguage() (language.Tag, error) {
	if strings.TrimSpace(c.Source.SubtitleLanguage) == "" {
		return language.Und, nil
	}
	tag, err := language.Parse(c.Source.SubtitleLanguage)
	if err != nil {
		return language.Und, fmt.Errorf("invalid subtitle language %q: %w", c.Source.SubtitleLanguage, err)
	}
	return tag, nil
}

// Drawtext returns the overlay style.
func (c *Config) Drawtext() filter.Drawtext {
	return filter.Drawtext{
		FontFile:    c.Overlay.FontFile,
		FontSize:    c.Overlay.FontSize,
		FontColor:   c.Overlay.FontColor,
		BorderColor: c.Overlay.BorderColor,
		BorderWidth: c.Overlay.BorderWidth,
		LineHeight:  c.Overlay.LineHeight,
		Margin:      c.Overlay.Margin,
	}
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Encoder.JobTimeoutSeconds) * time.Second
}

// DBPath is the run history database.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "subclip.db")
}

// LockPath guards the output root against concurrent runs.
func (c *Config) LockPath() string {
	return filepath.Join(c.Output.Dir, ".subclip.lock")
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	ret := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ret = append(ret, item)
		}
	}
	return ret
}

// getEnvSeconds accepts either a Go duration ("90s", "2m") or whole seconds.
func getEnvSeconds(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return seconds
	}
	if d, err := time.ParseDuration(value); err == nil {
		return int(d / time.Second)
	}
	log.Warn("Ignoring invalid %s=%q", key, value)
	return defaultValue
}
