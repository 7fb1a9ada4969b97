package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MimeLyc/subclip/pkg/log"
)

// ErrFileSystem marks failures to create output directories or write index
// files. It is returned to the caller of a per-video run.
var ErrFileSystem = errors.New("file system failure")

type ErrorType int

const (
	ErrMalformedTimecode ErrorType = iota
	ErrSubtitleUnresolved
	ErrEncodeFailure
	ErrFileSystemFailure
	ErrUnknown
)

type ClipError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *ClipError {
	return &ClipError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *ClipError {
	return &ClipError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *ClipError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *ClipError) Unwrap() error {
	return e.Cause
}

func (e *ClipError) WithContext(key string, value any) *ClipError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrMalformedTimecode:
		return "MalformedTimecode"
	case ErrSubtitleUnresolved:
		return "SubtitleUnresolved"
	case ErrEncodeFailure:
		return "EncodeFailure"
	case ErrFileSystemFailure:
		return "FileSystemFailure"
	default:
		return "Unknown"
	}
}

// Advice returns a short hint for the operator.
func Advice(err error) string {
	var clipErr *ClipError
	if !errors.As(err, &clipErr) {
		return "Please review the detailed error information"
	}
	switch clipErr.Type {
	case ErrMalformedTimecode:
		return "Check the subtitle timestamps; expected HH:MM:SS.mmm"
	case ErrSubtitleUnresolved:
		return "Place a <video>.srt or <video>.<lang>.srt next to the video, or enable embedded extraction"
	case ErrEncodeFailure:
		return "Run with LOGLEVEL=error to see ffmpeg output, and check that the input is readable"
	case ErrFileSystemFailure:
		return "Ensure the output directory exists and is writable"
	default:
		return "Please review the detailed error information"
	}
}

// Handle logs err with its advice.
func Handle(err error) {
	log.Error("Error Detail: %v\n advice: %s", err, Advice(err))
}

func IsErrorType(err error, errorType ErrorType) bool {
	var clipErr *ClipError
	if errors.As(err, &clipErr) {
		return clipErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *ClipError {
	return NewErrorWithCause(errorType, message, err)
}

func fileSystemError(message string, cause error) *ClipError {
	return NewErrorWithCause(ErrFileSystemFailure, message, fmt.Errorf("%w: %w", ErrFileSystem, cause))
}
