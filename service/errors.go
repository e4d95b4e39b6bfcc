package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedFormat     = errors.New("unsupported document format")
	ErrConversionFailed      = errors.New("conversion failed")
	ErrRecognitionFailed     = errors.New("recognition failed")
	ErrRecognizerUnavailable = errors.New("mineru is unavailable")
	ErrFallbackUnavailable   = errors.New("no fallback extraction available")
	ErrTaskNotFound          = errors.New("task not found")
	ErrInvalidPagination     = errors.New("invalid page or page size")
	ErrInvalidTransition     = errors.New("invalid task status transition")
	ErrPoolClosed            = errors.New("worker pool is shut down")
)

// ConversionError reports that a converter could not produce an intermediate PDF
type ConversionError struct {
	Format string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed for %s: %v", e.Format, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversionFailed }

// RecognitionError reports a failed MinerU invocation with its captured stderr
type RecognitionError struct {
	Stderr string
	Err    error
}

func (e *RecognitionError) Error() string {
	msg := fmt.Sprintf("mineru failed: %v", e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + lastLines(stderr, 5)
	}
	return msg
}

func (e *RecognitionError) Unwrap() error { return e.Err }

func (e *RecognitionError) Is(target error) bool { return target == ErrRecognitionFailed }

// lastLines keeps the tail of noisy tool output for error messages
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
