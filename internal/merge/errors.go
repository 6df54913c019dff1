package merge

import (
	"errors"
	"fmt"
)

// Code classifies a merge failure.
type Code string

// Error codes.
const (
	CodeNoInputs Code = "no_inputs"
	CodeFastPath Code = "fast_path"
	CodeFallback Code = "fallback"
	CodeVerify   Code = "verify"
	CodeIO       Code = "io"
)

// Sentinel errors.
var (
	ErrNoInputs  = errors.New("no mergeable inputs")
	ErrQueueFull = errors.New("merge queue full")
	ErrDuplicate = errors.New("session already queued")
	ErrStopped   = errors.New("merge worker stopped")
)

// Error is a merge failure.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
