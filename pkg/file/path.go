package file

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TrimExts returns the base name of path with the first matching extension
// from exts removed. Matching is case-insensitive. When nothing matches the
// base name is returned unchanged.
func TrimExts(path string, exts []string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, ext) && len(base) > len(ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeName folds a file stem into a portable form: diacritics are
// stripped, anything other than letters, digits, '-', '_' and '.' becomes
// '_', runs of '_' collapse and leading/trailing separators are trimmed.
func SanitizeName(name string) string {
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	lastUnderscore := false
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	ret := strings.Trim(b.String(), "_.-")
	if ret == "" {
		return "untitled"
	}
	return ret
}

// Exists reports whether path names an existing non-empty regular file and
// returns its size. An empty file counts as missing.
func Exists(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return 0, false
	}
	return info.Size(), true
}
