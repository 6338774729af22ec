package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuth marks a missing or rejected credential. It aborts the whole run.
	ErrAuth = errors.New("authentication error")
	// ErrNetwork marks a transport failure or an unexpected HTTP status.
	ErrNetwork = errors.New("network error")
	// ErrDecode marks a response body that does not match the expected shape.
	ErrDecode = errors.New("decode error")
	// ErrFilesystem marks a directory or file creation/write failure.
	ErrFilesystem = errors.New("filesystem error")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrNetwork
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to the short label used in log fields and history rows.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrFilesystem):
		return "filesystem"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "unknown"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
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
