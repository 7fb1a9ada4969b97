package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MimeLyc/subclip/internal/media"
	"github.com/MimeLyc/subclip/internal/subtitle"
	"github.com/MimeLyc/subclip/pkg/log"
	"golang.org/x/text/language"
)

// ErrSubtitleUnresolved is returned when no cue file can be found for a
// video.
var ErrSubtitleUnresolved = errors.New("subtitle unresolved")

const subtitleExt = ".srt"

type resolverOptions struct {
	target     language.Tag
	streams    media.StreamReader
	extractDir string
}

type Option func(*resolverOptions)

// WithLanguage prefers sidecars and embedded streams tagged with lang.
func WithLanguage(lang language.Tag) Option {
	return func(o *resolverOptions) {
		o.target = lang
	}
}

// WithEmbeddedExtraction enables the last-resort fallback of extracting a
// subtitle stream from the container into dir.
func WithEmbeddedExtraction(streams media.StreamReader, dir string) Option {
	return func(o *resolverOptions) {
		o.streams = streams
		o.extractDir = dir
	}
}

// Resolver finds the cue file for a video: the exact sidecar "<base>.srt",
// then a language-suffixed sidecar "<base>.<lang>.srt", then (when enabled)
// a stream extracted from the container.
type Resolver struct {
	target     language.Tag
	streams    media.StreamReader
	extractDir string
}

func NewResolver(opts ...Option) *Resolver {
	options := resolverOptions{target: language.Und}
	for _, opt := range opts {
		opt(&options)
	}
	return &Resolver{
		target:     options.target,
		streams:    options.streams,
		extractDir: options.extractDir,
	}
}

func (r *Resolver) Resolve(ctx context.Context, v Video) (Subtitle, error) {
	exact := filepath.Join(v.Dir, v.Base+subtitleExt)
	if info, err := os.Stat(exact); err == nil && !info.IsDir() {
		return Subtitle{Path: exact, Source: SourceExact}, nil
	}

	sidecar, lang, err := r.findLanguageSidecar(v)
	if err != nil {
		return Subtitle{}, err
	}
	if sidecar != "" {
		return Subtitle{Path: sidecar, Language: lang, Source: SourceLanguage}, nil
	}

	if r.streams != nil {
		sub, err := r.extractEmbedded(ctx, v)
		if err == nil {
			return sub, nil
		}
		log.Debug("Embedded subtitle extraction failed for %s: %v", v.Path, err)
	}

	return Subtitle{}, fmt.Errorf("%w: no %s next to %s", ErrSubtitleUnresolved, v.Base+subtitleExt, v.Path)
}

// findLanguageSidecar returns the first (sorted) language-suffixed sidecar.
// With a target language only matching sidecars qualify.
func (r *Resolver) findLanguageSidecar(v Video) (string, string, error) {
	entries, err := os.ReadDir(v.Dir)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", v.Dir, err)
	}

	names := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	slices.Sort(names)

	for _, name := range names {
		ext := filepath.Ext(name)
		if !strings.EqualFold(ext, subtitleExt) {
			continue
		}
		stem := strings.TrimSuffix(name, ext)
		if stem == v.Base || !subtitleMatchesMediaBase(stem, v.Base) {
			continue
		}
		token := subtitleLangToken(stem, v.Base)
		if token == "" {
			continue
		}
		if r.target != language.Und && !isTargetLanguage(token, r.target) {
			continue
		}
		lang := normalizeLangCode(token)
		if lang == "" {
			lang = token
		}
		return filepath.Join(v.Dir, name), lang, nil
	}
	return "", "", nil
}

func (r *Resolver) extractEmbedded(ctx context.Context, v Video) (Subtitle, error) {
	descs, err := r.streams.ReadSubtitleDescription(ctx, v.Path)
	if err != nil {
		return Subtitle{}, err
	}
	desc, ok := pickStream(descs, r.target)
	if !ok {
		return Subtitle{}, fmt.Errorf("no subtitle streams in %s", v.Path)
	}

	dir := r.extractDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Subtitle{}, err
	}
	// Videos sharing a base name in different directories get distinct files.
	tmp, err := os.CreateTemp(dir, fmt.Sprintf("%s.%d.*%s", v.Base, desc.Index, subtitleExt))
	if err != nil {
		return Subtitle{}, err
	}
	output := tmp.Name()
	_ = tmp.Close()
	if err := r.streams.ExtractSubtitle(ctx, v.Path, desc.Index, output); err != nil {
		_ = os.Remove(output)
		return Subtitle{}, err
	}
	return Subtitle{
		Path:      output,
		Language:  normalizeLangCode(desc.Language),
		Source:    SourceEmbedded,
		Temporary: true,
	}, nil
}

// pickStream prefers a stream in the target language, then the default
// stream, then the first one.
func pickStream(descs subtitle.Descriptions, target language.Tag) (subtitle.Description, bool) {
	if len(descs) == 0 {
		return subtitle.Description{}, false
	}
	if target != language.Und {
		for _, d := range descs {
			if embeddedLanguagesContainTarget([]string{d.Language}, target) {
				return d, true
			}
		}
	}
	for _, d := range descs {
		if d.Default {
			return d, true
		}
	}
	return descs[0], true
}

func subtitleLangToken(stem, mediaBase string) string {
	remain := strings.TrimPrefix(stem, mediaBase)
	remain = strings.TrimLeft(remain, "._- ")
	if remain == "" {
		return ""
	}

	parts := strings.FieldsFunc(remain, func(r rune) bool {
		return r == '.' || r == '_' || r == ' '
	})
	for i := len(parts) - 1; i >= 0; i-- {
		token := strings.ToLower(parts[i])
		if isLanguageToken(token) {
			return token
		}
	}
	return ""
}

// normalizeLangCode validates a language token and returns its normalized
// ISO 639-1 base code (e.g. "fre"→"fr", "eng"→"en", "chi"→"zh").
// Returns "" if the token is not a recognized language code.
func normalizeLangCode(token string) string {
	if token == "" {
		return ""
	}
	tag, err := language.Parse(token)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}

// MatchesLanguage reports whether a language code or file name token such
// as "en", "eng" or "zh-Hans" names target.
func MatchesLanguage(code string, target language.Tag) bool {
	return isTargetLanguage(code, target)
}

func isTargetLanguage(token string, target language.Tag) bool {
	token = strings.ToLower(strings.ReplaceAll(token, "_", "-"))
	if token == "" {
		return false
	}

	base, _ := target.Base()
	targetBase := strings.ToLower(base.String())
	if token == targetBase || strings.HasPrefix(token, targetBase+"-") {
		return true
	}
	if normalizeLangCode(token) == targetBase {
		return true
	}

	// common aliases
	switch targetBase {
	case "zh":
		return token == "chi" || token == "chs" || token == "cht"
	case "en":
		return token == "eng"
	}

	return false
}

func subtitleMatchesMediaBase(stem, mediaBase string) bool {
	if stem == mediaBase {
		return true
	}
	if !strings.HasPrefix(stem, mediaBase) || len(stem) <= len(mediaBase) {
		return false
	}
	switch stem[len(mediaBase)] {
	case '.', '_', '-', ' ':
		return true
	default:
		return false
	}
}

func isLanguageToken(token string) bool {
	if token == "" {
		return false
	}
	if normalizeLangCode(token) != "" {
		return true
	}
	switch token {
	case "chs", "cht":
		return true
	default:
		return false
	}
}

func embeddedLanguagesContainTarget(languages []string, target language.Tag) bool {
	for _, lang := range languages {
		if lang == "" {
			continue
		}
		if isTargetLanguage(lang, target) {
			return true
		}
		if normalized := normalizeLangCode(lang); normalized != "" && isTargetLanguage(normalized, target) {
			return true
		}
	}
	return false
}
