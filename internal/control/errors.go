package control

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is at the transports.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingValue   = errors.New("missing value")
	ErrBadValue       = errors.New("bad value")
	ErrBadRequest     = errors.New("bad request")
	ErrUnsupported    = errors.New("command not supported")
)

// Error codes
const (
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeBadRequest     = "BAD_REQUEST"
	CodeRejected       = "REJECTED"
	CodeFailed         = "FAILED"
)

// Error is a command that could not be carried out.
type Error struct {
	Code    string
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
