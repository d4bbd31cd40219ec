package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFormat        = errors.New("format error")
	ErrDecompression = errors.New("decompression error")
	ErrNetwork       = errors.New("network error")
	ErrNotFound      = errors.New("not found")
	ErrIO            = errors.New("io error")
	ErrCancelled     = errors.New("cancelled")
	ErrUnsupported   = errors.New("unsupported")
	ErrConfiguration = errors.New("configuration error")
)

var markers = []error{
	ErrFormat,
	ErrDecompression,
	ErrNetwork,
	ErrNotFound,
	ErrIO,
	ErrCancelled,
	ErrUnsupported,
	ErrConfiguration,
}

// ErrorDetails is the classification and human message extracted from a
// wrapped error.
type ErrorDetails struct {
	Marker  error
	Message string
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Details reports the first marker found in err and the message with the
// marker prefix stripped.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Message: strings.TrimSpace(err.Error())}
	for _, marker := range markers {
		if errors.Is(err, marker) {
			details.Marker = marker
			details.Message = strings.TrimSpace(strings.TrimPrefix(details.Message, marker.Error()+":"))
			break
		}
	}
	return details
}

// Retryable reports whether a failure is worth another attempt. Only network
// failures qualify; format and decompression errors are structural.
func Retryable(err error) bool {
	if err == nil || IsCancelled(err) {
		return false
	}
	return errors.Is(err, ErrNetwork)
}

// IsCancelled reports whether err stems from cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
