package filter

import (
	"fmt"
	"strings"
)

// CleanText removes characters that break the encoder's quoting: double
// quotes are dropped and apostrophes become a typographic right quote.
func CleanText(text string) string {
	return strings.ReplaceAll(strings.ReplaceAll(text, "'", "’"), `"`, "")
}

// Drawtext is the visual style of burned-in cue text.
type Drawtext struct {
	FontFile    string
	FontSize    int
	FontColor   string
	BorderColor string
	BorderWidth int
	// LineHeight is the vertical distance between stacked lines in pixels.
	LineHeight int
	// Margin is the distance from the bottom edge to the lowest line.
	Margin int
}

// DefaultDrawtext is small white text with a dark outline near the bottom
// edge.
func DefaultDrawtext() Drawtext {
	return Drawtext{
		FontSize:    14,
		FontColor:   "white",
		BorderColor: "black@0.8",
		BorderWidth: 3,
		LineHeight:  18,
		Margin:      10,
	}
}

// Clause is one drawtext filter drawing a single line.
type Clause struct {
	Text string
	// Offset is the extra upward shift above the baseline, in pixels.
	Offset int

	style Drawtext
}

func (c Clause) String() string {
	var b strings.Builder
	b.WriteString("drawtext=")
	if c.style.FontFile != "" {
		fmt.Fprintf(&b, "fontfile='%s':", escapeOption(c.style.FontFile))
	}
	fmt.Fprintf(&b, "text='%s':expansion=none", escapeOption(c.Text))
	fmt.Fprintf(&b, ":fontsize=%d:fontcolor=%s", c.style.FontSize, c.style.FontColor)
	if c.style.BorderWidth > 0 {
		fmt.Fprintf(&b, ":borderw=%d:bordercolor=%s", c.style.BorderWidth, c.style.BorderColor)
	}
	fmt.Fprintf(&b, ":x=(w-text_w)/2:y=h-text_h-%d", c.style.Margin+c.Offset)
	return b.String()
}

// Clauses splits text into lines and returns one clause per line, bottom
// line first. The bottom line sits on the baseline; every earlier line is
// raised by one more LineHeight. Empty text yields no clauses.
func (d Drawtext) Clauses(text string) []Clause {
	text = strings.Trim(strings.ReplaceAll(CleanText(text), "\r\n", "\n"), "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	ret := make([]Clause, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		ret = append(ret, Clause{
			Text:   lines[i],
			Offset: len(ret) * d.LineHeight,
			style:  d,
		})
	}
	return ret
}

// Compose joins the clauses for text into a single filter chain fragment.
// It returns "" when there is nothing to draw.
func (d Drawtext) Compose(text string) string {
	clauses := d.Clauses(text)
	if len(clauses) == 0 {
		return ""
	}
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, chainSeparator)
}

// escapeOption escapes a value for the filter option parser. The graph
// parser strips the surrounding single quotes; the option parser then
// consumes one level of backslashes.
func escapeOption(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ":", `\:`)
}
