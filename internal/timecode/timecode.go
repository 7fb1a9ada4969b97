// Package timecode converts subtitle timestamps to millisecond offsets and
// derives padded clip windows from them.
//
// Timestamps are treated as plain durations, not clock times: the hour
// field is unbounded so cues past the 24h mark keep counting up instead of
// wrapping at midnight.
package timecode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a timestamp does not match H+:MM:SS.mmm or a
// field is out of range.
var ErrMalformed = errors.New("malformed timecode")

const (
	msPerSecond = int64(1000)
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
)

// ParseMillis parses "HH:mm:ss.mmm" into milliseconds. The SRT comma
// separator ("00:00:01,500") is accepted as well.
func ParseMillis(text string) (int64, error) {
	s := strings.TrimSpace(text)

	clock, millis, ok := cutLast(s, '.', ',')
	if !ok || len(millis) != 3 {
		return 0, malformed(text)
	}

	parts := strings.Split(clock, ":")
	if len(parts) != 3 || len(parts[1]) != 2 || len(parts[2]) != 2 || parts[0] == "" {
		return 0, malformed(text)
	}

	hours, err := parseDigits(parts[0])
	if err != nil {
		return 0, malformed(text)
	}
	minutes, err := parseDigits(parts[1])
	if err != nil || minutes > 59 {
		return 0, malformed(text)
	}
	seconds, err := parseDigits(parts[2])
	if err != nil || seconds > 59 {
		return 0, malformed(text)
	}
	ms, err := parseDigits(millis)
	if err != nil {
		return 0, malformed(text)
	}

	rest := minutes*msPerMinute + seconds*msPerSecond + ms
	if hours > (math.MaxInt64-rest)/msPerHour {
		return 0, malformed(text)
	}
	return hours*msPerHour + rest, nil
}

// FormatMillis renders ms as "HH:mm:ss.mmm". The hour field grows past two
// digits as needed. Negative values are clamped to zero.
func FormatMillis(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / msPerHour
	ms %= msPerHour
	minutes := ms / msPerMinute
	ms %= msPerMinute
	seconds := ms / msPerSecond
	ms %= msPerSecond

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, ms)
}

func cutLast(s string, seps ...byte) (before, after string, found bool) {
	idx := -1
	for _, sep := range seps {
		if i := strings.LastIndexByte(s, sep); i > idx {
			idx = i
		}
	}
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

func parseDigits(s string) (int64, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

func malformed(text string) error {
	return fmt.Errorf("%w: %q", ErrMalformed, text)
}
