package config

import (
	"errors"
	"fmt"
)

// Validation sentinels. Every rejected update wraps one of these.
var (
	ErrInvalidTime      = errors.New("invalid time")
	ErrInvalidDays      = errors.New("invalid days")
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrInvalidFrameSize = errors.New("invalid frame size")
	ErrInvalidROI       = errors.New("invalid roi")
	ErrInvalidValue     = errors.New("invalid value")
)

// SettingsError reports a rejected settings update or an unreadable snapshot.
type SettingsError struct {
	Code    string
	Message string
	Cause   error
}

func (e *SettingsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SettingsError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeValidation = "VALIDATION_FAILED"
	ErrCodePersist    = "PERSIST_FAILED"
	ErrCodeLoad       = "LOAD_FAILED"
)

// NewSettingsError creates a new settings error.
func NewSettingsError(code, message string, cause error) *SettingsError {
	return &SettingsError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
