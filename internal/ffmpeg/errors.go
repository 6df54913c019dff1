package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrInvalidParams = errors.New("invalid ffmpeg parameters")
	ErrProbe         = errors.New("probe failed")
)

// ExitError reports a non-zero ffmpeg or ffprobe exit.
type ExitError struct {
	Command string
	Code    int
	Tail    []string // last stderr lines
}

func (e *ExitError) Error() string {
	name, _, _ := strings.Cut(e.Command, " ")
	if len(e.Tail) == 0 {
		return fmt.Sprintf("%s exited with code %d", name, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", name, e.Code, e.Tail[len(e.Tail)-1])
}

// Structural reports whether any captured stderr line marks a structural failure.
func (e *ExitError) Structural() bool {
	for _, line := range e.Tail {
		if IsStructural(line) {
			return true
		}
	}
	return false
}
