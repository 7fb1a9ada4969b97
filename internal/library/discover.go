package library

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/MimeLyc/subclip/pkg/file"
)

// DefaultExtensions are the video extensions scanned when none are given.
var DefaultExtensions = []string{".mkv", ".mp4"}

// Discover walks dir recursively and returns every video whose extension is
// in exts, in lexical path order.
func Discover(ctx context.Context, dir string, exts []string) ([]Video, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths, err := file.FindByExt(dir, exts)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	ret := make([]Video, 0, len(paths))
	for _, path := range paths {
		ret = append(ret, NewVideo(path, exts))
	}
	return ret, nil
}

// NewVideo describes a single video path, trimming the first extension in
// exts that matches.
func NewVideo(path string, exts []string) Video {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	path = filepath.Clean(path)
	return Video{
		Path: path,
		Dir:  filepath.Dir(path),
		Base: file.TrimExts(path, exts),
	}
}
