package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	"github.com/MimeLyc/subclip/internal/filter"
	"github.com/MimeLyc/subclip/pkg/log"
	"golang.org/x/sync/errgroup"
)

const readConcurrency = 8

// Merge loads every .json file matching pattern, in path order, and
// concatenates their records. Text is normalized for search indexing:
// quotes are cleaned the same way as overlay text and line breaks become a
// literal "\n".
func Merge(ctx context.Context, pattern string) ([]Record, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		if strings.EqualFold(filepath.Ext(m), ".json") {
			paths = append(paths, m)
		}
	}
	slices.Sort(paths)

	parts := make([][]Record, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := ReadVideoIndex(path)
			if err != nil {
				return err
			}
			parts[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ret := make([]Record, 0)
	for _, records := range parts {
		for _, r := range records {
			r.Text = NormalizeText(r.Text)
			ret = append(ret, r)
		}
	}
	log.Debug("Merged %d records from %d index files", len(ret), len(paths))
	return ret, nil
}

// NormalizeText applies overlay text cleaning and escapes line breaks.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(filter.CleanText(text), "\r\n", "\n")
	return strings.ReplaceAll(text, "\n", `\n`)
}

// Catalog is the data handed to a catalog template.
type Catalog struct {
	Subs []Record `json:"subs"`
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
}

// Render writes the catalog to w. With an empty tmplPath the catalog is
// written as {"subs": [...]} JSON; otherwise the template file is executed
// with a Catalog as data.
func Render(w io.Writer, subs []Record, tmplPath string) error {
	if subs == nil {
		subs = []Record{}
	}
	data := Catalog{Subs: subs}

	if tmplPath == "" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(data)
	}

	tmpl, err := template.New(filepath.Base(tmplPath)).Funcs(templateFuncs).ParseFiles(tmplPath)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	return nil
}

// Build merges the indices matching pattern and writes the rendered
// catalog to output. It returns the number of records written.
func Build(ctx context.Context, pattern, tmplPath, output string) (int, error) {
	subs, err := Merge(ctx, pattern)
	if err != nil {
		return 0, err
	}

	var buf strings.Builder
	if err := Render(&buf, subs, tmplPath); err != nil {
		return 0, err
	}
	if err := writeFileAtomic(output, []byte(buf.String())); err != nil {
		return 0, fmt.Errorf("write catalog: %w", err)
	}
	log.Info("Search index created at %s", output)
	return len(subs), nil
}
