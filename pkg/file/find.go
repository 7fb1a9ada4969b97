package file

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

// FindByExt walks dir and returns every regular file whose extension
// (case-insensitive) is listed in exts, in lexical order.
func FindByExt(dir string, exts []string) ([]string, error) {
	normalized := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}

	var ret []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !slices.Contains(normalized, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		ret = append(ret, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(ret)
	return ret, nil
}
