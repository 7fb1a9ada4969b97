// Package catalog reads and writes per-video cue indices and merges them
// into a single search catalog.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// IndexSuffix is appended to a video stem to name its index file.
const IndexSuffix = ".index.json"

// Record is one cue in a per-video index: the cue as read from the
// subtitle file plus the injected clip id and video name.
type Record struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Ordinal   int    `json:"ordinal"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Text      string `json:"text"`
	// Sizes maps output format to clip size in bytes. Formats that failed
	// to encode are absent.
	Sizes   map[string]int64  `json:"sizes,omitempty"`
	Skipped bool              `json:"skipped,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Failed  bool              `json:"failed,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// IndexPath returns where the index for stem lives under the output root.
func IndexPath(outputRoot, stem string) string {
	return filepath.Join(outputRoot, stem+IndexSuffix)
}

// WriteVideoIndex writes records as a JSON array. The file is replaced
// atomically so readers never see a partial index.
func WriteVideoIndex(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

func ReadVideoIndex(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", path, err)
	}
	return records, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
