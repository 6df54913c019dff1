package pipeline

import (
	"errors"
	"fmt"
)

// Kind separates failures that cost one frame from failures that make the
// output unusable.
type Kind int

// Error kinds.
const (
	Transient Kind = iota
	Structural
)

func (k Kind) String() string {
	if k == Structural {
		return "structural"
	}
	return "transient"
}

// Sentinel errors.
var (
	ErrGeometry = errors.New("frame geometry does not match sink input")
	ErrClosed   = errors.New("sink closed")
	ErrExited   = errors.New("encoder exited")
)

// Error is a failed sink operation.
type Error struct {
	Kind Kind
	Sink string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s sink %s: %v", e.Kind, e.Sink, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsStructural reports whether err disables its sink.
func IsStructural(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == Structural
}
