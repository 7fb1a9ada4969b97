package main

import (
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/subclip/internal/config"
	"github.com/MimeLyc/subclip/pkg/log"
	"github.com/spf13/cobra"
)

// commandContext carries the persistent flags shared by every subcommand.
// A flag only overrides the file and environment layers when it was set
// explicitly.
type commandContext struct {
	flags *cobra.Command

	configPath      string
	logLevel        string
	logFile         string
	fileLogger      *log.FileLogger
	sourceDir       string
	outputDir       string
	padding         float64
	skipExisting    bool
	formats         []string
	extensions      []string
	subLang         string
	sanitize        bool
	flatten         bool
	workers         int
	jobTimeout      time.Duration
	noOverlay       bool
	fontFile        string
	abortOnError    bool
	extractEmbedded bool
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) bindFlags(root *cobra.Command) {
	c.flags = root
	f := root.PersistentFlags()
	f.StringVarP(&c.configPath, "config", "c", "", "Configuration file path (TOML)")
	f.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&c.logFile, "log-file", "", "Append log lines to this file instead of stdout")
	f.StringVarP(&c.sourceDir, "dir", "d", "", "Directory scanned for videos")
	f.StringVarP(&c.outputDir, "output", "o", "", "Output root for clips and indices")
	f.Float64VarP(&c.padding, "offset", "p", 0, "Seconds of padding before and after every cue")
	f.BoolVarP(&c.skipExisting, "skip-existing", "s", false, "Keep clips that already exist")
	f.StringSliceVarP(&c.formats, "formats", "f", nil, "Output formats, e.g. gif,mp4")
	f.StringSliceVarP(&c.extensions, "extensions", "e", nil, "Video extensions to scan, e.g. .mkv,.mp4")
	f.StringVar(&c.subLang, "sub-lang", "", "Preferred subtitle language for <name>.<lang>.srt sidecars")
	f.BoolVar(&c.sanitize, "sanitize", false, "Fold video names into portable output names")
	f.BoolVar(&c.flatten, "flatten", false, "Write all clips directly into the output root")
	f.IntVarP(&c.workers, "workers", "j", 1, "Videos processed in parallel")
	f.DurationVar(&c.jobTimeout, "timeout", 0, "Limit for one encoder invocation (0 disables)")
	f.BoolVar(&c.noOverlay, "no-overlay", false, "Do not burn cue text into clips")
	f.StringVar(&c.fontFile, "font-file", "", "Font used for the cue text overlay")
	f.BoolVar(&c.abortOnError, "abort-on-error", false, "Stop a video at its first failed clip")
	f.BoolVar(&c.extractEmbedded, "extract-embedded", false, "Fall back to subtitle streams embedded in the video")
}

func (c *commandContext) changed(name string) bool {
	flag := c.flags.PersistentFlags().Lookup(name)
	return flag != nil && flag.Changed
}

func (c *commandContext) initLogging() {
	level := c.logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if c.logFile == "" {
		log.InitLogger(log.ParseLevel(level))
		return
	}
	fl, err := log.NewFileLogger(c.logFile, log.ParseLevel(level))
	if err != nil {
		log.InitLogger(log.ParseLevel(level))
		log.Warn("Logging to stdout: %v", err)
		return
	}
	c.fileLogger = fl
	log.SetLogger(fl.Logger)
}

func (c *commandContext) closeLogging() {
	if c.fileLogger != nil {
		_ = c.fileLogger.Close()
		c.fileLogger = nil
	}
}

// loadConfig builds the configuration, applying explicit flags last.
func (c *commandContext) loadConfig(mutate ...config.Option) (*config.Config, error) {
	opts := []config.Option{c.flagOptions()}
	opts = append(opts, mutate...)
	cfg, err := config.Load(strings.TrimSpace(c.configPath), opts...)
	if err != nil {
		return nil, err
	}
	if c.logLevel == "" {
		log.GetLogger().SetLevel(log.ParseLevel(cfg.System.LogLevel))
	}
	return cfg, nil
}

func (c *commandContext) flagOptions() config.Option {
	return func(cfg *config.Config) {
		if c.changed("dir") {
			cfg.Source.Dir = c.sourceDir
		}
		if c.changed("output") {
			cfg.Output.Dir = c.outputDir
		}
		if c.changed("offset") {
			cfg.Output.Padding = c.padding
		}
		if c.changed("skip-existing") {
			cfg.Output.SkipExisting = c.skipExisting
		}
		if c.changed("formats") {
			cfg.Output.Formats = c.formats
		}
		if c.changed("extensions") {
			cfg.Source.Extensions = c.extensions
		}
		if c.changed("sub-lang") {
			cfg.Source.SubtitleLanguage = c.subLang
		}
		if c.changed("sanitize") {
			cfg.Output.Sanitize = c.sanitize
		}
		if c.changed("flatten") {
			cfg.Output.Flatten = c.flatten
		}
		if c.changed("workers") {
			cfg.System.Workers = c.workers
		}
		if c.changed("timeout") {
			cfg.Encoder.JobTimeoutSeconds = int(c.jobTimeout / time.Second)
		}
		if c.changed("no-overlay") {
			cfg.Overlay.Disabled = c.noOverlay
		}
		if c.changed("font-file") {
			cfg.Overlay.FontFile = c.fontFile
		}
		if c.changed("abort-on-error") {
			cfg.Encoder.AbortOnEncodeError = c.abortOnError
		}
		if c.changed("extract-embedded") {
			cfg.Source.ExtractEmbedded = c.extractEmbedded
		}
	}
}
