package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ConflictError reports that a guarded status write lost to a concurrent
// writer: the row's current status no longer matched the expected status.
// The caller must re-read and decide whether to retry.
type ConflictError struct {
	Entity   string
	ID       int64
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d: status changed concurrently (expected %q, now %q)", e.Entity, e.ID, e.Expected, e.Actual)
}

// IsConflict reports whether err is a guarded-transition conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ValidationError reports bad input. Never retryable.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Retryable classifies an error for callers deciding whether a retry could
// ever succeed. Conflicts are retryable after a re-read; validation errors
// never are. Unknown errors default to retryable, matching how backend
// failures feed the QA retry budget.
func Retryable(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	return true
}
