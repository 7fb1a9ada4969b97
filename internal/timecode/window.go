package timecode

import "math"

// Window is the seek position and duration, in seconds, of one clip.
type Window struct {
	Seek     float64
	Duration float64
	// Raw is the unpadded cue length in milliseconds.
	Raw int64
}

// Degenerate reports whether the cue itself has no positive length. Such
// windows must not produce an encode job, whatever the padding.
func (w Window) Degenerate() bool {
	return w.Raw <= 0
}

// ComputeWindow pads [startMs, endMs) by paddingSeconds on both sides. Only
// the left edge is clamped (at zero); running past the end of the stream is
// left to the encoder.
func ComputeWindow(startMs, endMs int64, paddingSeconds float64) Window {
	raw := endMs - startMs
	return Window{
		Seek:     math.Max(0, float64(startMs)/1000-paddingSeconds),
		Duration: float64(raw)/1000 + paddingSeconds*2,
		Raw:      raw,
	}
}
