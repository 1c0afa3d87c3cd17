package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidScope means the scope resolved to an empty question pool.
	ErrInvalidScope = errors.New("invalid scope: no questions available")
	// ErrSessionNotActive means the session is completed or abandoned.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrQuestionNotCurrent means the answer targets a question that is not
	// the session's outstanding question.
	ErrQuestionNotCurrent = errors.New("question is not the current question")
	// ErrChallengeUnavailable means the challenge cannot seed a session.
	ErrChallengeUnavailable = errors.New("challenge is not available")
	// ErrNotOwner means the caller does not own the resource.
	ErrNotOwner = errors.New("resource belongs to another user")
)

// ValidationError rejects a request before any state is touched.
type ValidationError struct {
	Field string
	Code  string
	Data  map[string]any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Code)
}

// Invalid builds a ValidationError.
func Invalid(field, code string, data map[string]any) error {
	return &ValidationError{Field: field, Code: code, Data: data}
}
