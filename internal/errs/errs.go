// Package errs holds the error taxonomy shared by the correlator, cache and
// session manager.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// local validation errors, detected before any backend call
	ErrInvalidLocalUser       = errors.New("invalid local user")
	ErrDuplicateSessionName   = errors.New("duplicate session name")
	ErrSessionNotFound        = errors.New("session not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrOperationInProgress    = errors.New("operation already in progress")

	// backend capability errors
	ErrNotSupported = errors.New("not supported by backend")
	ErrTimedOut     = errors.New("timed out")
)

// RejectedError is a remote call that the platform answered with a failure.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("backend rejected (%d): %s", e.Code, e.Message)
}

// Rejected builds a RejectedError.
func Rejected(code int, format string, args ...any) error {
	return &RejectedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ItemError is one failed sub-request of a fan-out.
type ItemError struct {
	Index   int
	Target  string
	Message string
}

// PartialFailureError aggregates the failed items of a fan-out query.
type PartialFailureError struct {
	Total int
	Items []ItemError
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%d: %s", it.Index, it.Message))
	}
	return fmt.Sprintf("%d of %d sub-requests failed: %s", len(e.Items), e.Total, strings.Join(parts, ";"))
}

// Message returns err's text, or "" for nil. Completion callbacks carry this
// string next to their success flag.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
