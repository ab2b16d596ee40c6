// Package upstream holds the error type shared by the external collaborators
// (transcription and interval detection) when a response does not match the
// shape the pipeline depends on.
package upstream

import (
	"errors"
	"fmt"
)

// ErrFormat is matched by every *FormatError.
var ErrFormat = errors.New("upstream: unexpected response format")

// FormatError reports a collaborator response that could not be interpreted.
type FormatError struct {
	// Source names the collaborator, e.g. "gemini" or "runpod-whisper".
	Source string
	// Detail is a short human-readable description of what was wrong.
	Detail string
	// Err is the underlying decode error, if any.
	Err error
}

// NewFormatError builds a FormatError for source.
func NewFormatError(source, detail string, err error) *FormatError {
	return &FormatError{Source: source, Detail: detail, Err: err}
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Detail)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Is makes every FormatError match ErrFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}
