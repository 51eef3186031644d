// file: internal/fingerprint/errors.go
// version: 1.0.0
// guid: 2c4e6a8b-0d1f-4a3b-9c5d-7e9f1a3b5c7d

package fingerprint

import (
	"errors"
	"fmt"
)

var (
	// ErrToolUnavailable means the fingerprinting binary could not be found or run
	ErrToolUnavailable = errors.New("fingerprint tool unavailable")
	// ErrTimeout means a single extraction exceeded its time limit
	ErrTimeout = errors.New("fingerprint extraction timed out")
)

// Kind classifies an extraction failure
type Kind string

const (
	KindToolUnavailable Kind = "tool_unavailable"
	KindExitStatus      Kind = "exit_status"
	KindTimeout         Kind = "timeout"
	KindParse           Kind = "parse"
	KindCanceled        Kind = "canceled"
)

// ExtractionError describes why a fingerprint could not be produced for a file
type ExtractionError struct {
	Kind   Kind
	Path   string
	Stderr string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("fingerprint %s", e.Kind)
	if e.Path != "" {
		msg += fmt.Sprintf(" for %s", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += fmt.Sprintf(" (stderr: %s)", e.Stderr)
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel for the error's kind
func (e *ExtractionError) Is(target error) bool {
	switch target {
	case ErrToolUnavailable:
		return e.Kind == KindToolUnavailable
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// KindOf returns the failure kind of err, or "" when err is not an ExtractionError
func KindOf(err error) Kind {
	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		return extErr.Kind
	}
	return ""
}
