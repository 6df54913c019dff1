// Package led drives the recording indicator LED.
package led

// Indicator is the LED name the manager drives.
const Indicator = "record"

// Patterns understood by controllers.
const (
	PatternSolid = "solid"
	PatternBlink = "blink"
)

// Controller abstracts LED hardware across boards.
type Controller interface {
	// Set switches an LED. pattern is optional; an empty string keeps the
	// current pattern.
	Set(name string, enabled bool, pattern string) error

	// Available returns the LED names this controller can drive.
	Available() []string

	// Patterns returns the supported patterns.
	Patterns() []string

	// Close releases the hardware, leaving LEDs off.
	Close() error
}
