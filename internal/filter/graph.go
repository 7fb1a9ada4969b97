// Package filter builds the ffmpeg filter graphs used to cut one clip per
// subtitle cue, including the burned-in text overlay.
package filter

import "strings"

const (
	chainSeparator = ","
	graphSeparator = ";"
)

// Base filters used by the built-in formats.
const (
	ImageLoopBase = "fps=15,scale=400:-1:flags=lanczos"
	VideoBase     = "scale=-1:226:flags=lanczos"
)

// GraphBuilder turns a base filter chain and an optional overlay fragment
// into a complete -filter_complex value.
type GraphBuilder func(base, overlay string) string

// BuildImageLoopGraph produces a palette-quantized looping image graph. The
// decoded stream is split so the palette is generated from the exact frames
// it is applied to:
//
//	<base>[,<overlay>][x];[x]split[x1][x2];[x1]palettegen[p];[x2][p]paletteuse
func BuildImageLoopGraph(base, overlay string) string {
	return strings.Join([]string{
		chain(base, overlay) + "[x]",
		"[x]split[x1][x2]",
		"[x1]palettegen[p]",
		"[x2][p]paletteuse",
	}, graphSeparator)
}

// BuildVideoGraph produces a single-stage scale (+ overlay) graph.
func BuildVideoGraph(base, overlay string) string {
	return chain(base, overlay)
}

func chain(base, overlay string) string {
	parts := make([]string, 0, 2)
	if base != "" {
		parts = append(parts, base)
	}
	if overlay != "" {
		parts = append(parts, overlay)
	}
	if len(parts) == 0 {
		return "null"
	}
	return strings.Join(parts, chainSeparator)
}
