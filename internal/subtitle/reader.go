package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/abadojack/whatlanggo"
)

const timeArrow = "-->"

// DefaultReader is the default subtitle file reader
type DefaultReader struct{}

// NewReader creates a new subtitle file reader
func NewReader() Reader {
	return &DefaultReader{}
}

// Read reads an SRT subtitle file
func (r *DefaultReader) Read(path string) (*File, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".srt") {
		return nil, fmt.Errorf("only SRT format subtitle files are supported: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open subtitle file: %w", err)
	}
	defer f.Close()

	return Parse(f, path)
}

// Parse reads SRT blocks from r. Blocks without text are dropped. The
// numeric counter line is optional; cues without one are numbered by
// position.
func Parse(r io.Reader, source string) (*File, error) {
	var cues []Cue
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	current := Cue{}
	state := "index" // possible values: "index", "time", "text"
	var textLines []string

	flush := func() {
		if len(textLines) > 0 {
			current.Text = strings.Join(textLines, "\n")
			if current.Ordinal == 0 {
				current.Ordinal = len(cues) + 1
			}
			cues = append(cues, current)
		}
		current = Cue{}
		textLines = nil
		state = "index"
	}

	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		line = strings.TrimSpace(line)

		switch state {
		case "index":
			if line == "" {
				continue
			}
			if strings.Contains(line, timeArrow) {
				current.StartTime, current.EndTime = splitTimeLine(line)
				state = "text"
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil {
				continue // skip stray lines between blocks
			}
			current.Ordinal = index
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			current.StartTime, current.EndTime = splitTimeLine(line)
			state = "text"

		case "text":
			if line == "" {
				flush()
				continue
			}
			textLines = append(textLines, line)
		}
	}
	if state == "text" {
		flush()
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle file: %w", err)
	}

	return &File{
		Path:     source,
		Cues:     cues,
		Language: detectLanguage(cues),
		Format:   "SRT",
	}, nil
}

// splitTimeLine splits "00:02:16,612 --> 00:02:19,376 X1:..." into its two
// timestamps. Positioning hints after the end time are ignored. A line
// without an arrow yields the whole line as start and an empty end.
func splitTimeLine(line string) (string, string) {
	start, end, ok := strings.Cut(line, timeArrow)
	if !ok {
		return line, ""
	}
	fields := strings.Fields(end)
	if len(fields) == 0 {
		return strings.TrimSpace(start), ""
	}
	return strings.TrimSpace(start), fields[0]
}

// detectLanguage returns the most common ISO 639-1 code among cue texts.
func detectLanguage(cues []Cue) string {
	if len(cues) == 0 {
		return ""
	}

	langMap := make(map[string]int)
	for _, cue := range cues {
		lang := whatlanggo.DetectLang(cue.Text).Iso6391()
		if lang == "" {
			continue
		}
		langMap[lang]++
	}

	langs := make([]string, 0, len(langMap))
	for lang := range langMap {
		langs = append(langs, lang)
	}
	slices.Sort(langs)

	var topLang string
	var topCount int
	for _, lang := range langs {
		if langMap[lang] > topCount {
			topLang = lang
			topCount = langMap[lang]
		}
	}
	return topLang
}
