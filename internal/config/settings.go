package config

import (
	"fmt"
	"strings"
	"time"
)

// Policy selects how recording sessions are started and stopped.
type Policy string

// Recording policies.
const (
	PolicySchedule Policy = "schedule"
	PolicyMotion   Policy = "motion"
)

// ParsePolicy accepts the policy names plus the original appliance aliases.
func ParsePolicy(value string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "schedule", "scheduled", "time":
		return PolicySchedule, nil
	case "motion", "of", "optical_flow":
		return PolicyMotion, nil
	}
	return "", fmt.Errorf("%w: unknown policy %q", ErrInvalidValue, value)
}

// ColorMode selects color or grayscale output.
type ColorMode string

// Color modes.
const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// ParseColorMode accepts rgb/color and gray/grey/mono.
func ParseColorMode(value string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "rgb", "color", "colour":
		return ColorRGB, nil
	case "gray", "grey", "mono":
		return ColorGray, nil
	}
	return "", fmt.Errorf("%w: unknown color mode %q", ErrInvalidValue, value)
}

// WhiteBalance selects the white balance correction.
type WhiteBalance string

// White balance modes.
const (
	WhiteBalanceNone WhiteBalance = "none"
	WhiteBalanceAuto WhiteBalance = "auto"
)

// ParseWhiteBalance accepts none/off and auto/on.
func ParseWhiteBalance(value string) (WhiteBalance, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none", "off", "false":
		return WhiteBalanceNone, nil
	case "auto", "on", "true":
		return WhiteBalanceAuto, nil
	}
	return "", fmt.Errorf("%w: unknown white balance %q", ErrInvalidValue, value)
}

// Window is a recurring wall-clock instant on a set of weekdays.
type Window struct {
	At   ClockTime
	Days DaySet
}

func (w Window) String() string {
	return w.At.String() + " " + w.Days.String()
}

// Settings is an immutable snapshot of the runtime configuration. It holds
// no references, so copies never share state.
type Settings struct {
	Version uint64

	Frame        Size
	FPS          int
	Bitrate      int
	Gamma        float64
	WhiteBalance WhiteBalance
	ColorMode    ColorMode
	ROI          Rect

	Policy           Policy
	Schedule         Window
	ScheduleDuration time.Duration
	SegmentLength    time.Duration
	Checkpoint       Window
	IdleTimeout      time.Duration
	TimeZone         string

	UpdatedAt time.Time
}

// Defaults returns the factory settings of the appliance.
func Defaults() Settings {
	return Settings{
		Frame:            Size{Width: 1920, Height: 1080},
		FPS:              30,
		Bitrate:          2_000_000,
		Gamma:            1.0,
		WhiteBalance:     WhiteBalanceNone,
		ColorMode:        ColorRGB,
		ROI:              Rect{X: 0, Y: 0, W: 1920, H: 1080},
		Policy:           PolicySchedule,
		Schedule:         Window{At: ClockTime{Hour: 11, Minute: 41}, Days: AllDays},
		ScheduleDuration: 60 * time.Second,
		SegmentLength:    60 * time.Second,
		Checkpoint:       Window{At: ClockTime{Hour: 13, Minute: 14}, Days: AllDays},
		IdleTimeout:      2 * time.Second,
		TimeZone:         "Local",
	}
}

// Validate checks ranges and formats.
func (s Settings) Validate() error {
	switch {
	case s.Frame.Width <= 0 || s.Frame.Height <= 0:
		return fmt.Errorf("%w: %s", ErrInvalidFrameSize, s.Frame)
	case s.FPS < 1 || s.FPS > 120:
		return fmt.Errorf("%w: fps %d outside 1..120", ErrInvalidValue, s.FPS)
	case s.Bitrate <= 0:
		return fmt.Errorf("%w: bitrate %d", ErrInvalidValue, s.Bitrate)
	case s.Gamma <= 0 || s.Gamma > 10:
		return fmt.Errorf("%w: gamma %g outside (0, 10]", ErrInvalidValue, s.Gamma)
	case s.WhiteBalance != WhiteBalanceNone && s.WhiteBalance != WhiteBalanceAuto:
		return fmt.Errorf("%w: white balance %q", ErrInvalidValue, s.WhiteBalance)
	case s.ColorMode != ColorRGB && s.ColorMode != ColorGray:
		return fmt.Errorf("%w: color mode %q", ErrInvalidValue, s.ColorMode)
	case s.ROI.X < 0 || s.ROI.Y < 0 || s.ROI.W <= 0 || s.ROI.H <= 0:
		return fmt.Errorf("%w: %s", ErrInvalidROI, s.ROI)
	case s.ROI.X >= s.Frame.Width || s.ROI.Y >= s.Frame.Height:
		// the clipped region would be empty and motion never detected
		return fmt.Errorf("%w: %s starts outside the %s frame", ErrInvalidROI, s.ROI, s.Frame)
	case s.Policy != PolicySchedule && s.Policy != PolicyMotion:
		return fmt.Errorf("%w: policy %q", ErrInvalidValue, s.Policy)
	case !s.Schedule.At.Valid():
		return fmt.Errorf("%w: schedule %s", ErrInvalidTime, s.Schedule.At)
	case s.Schedule.Days.Empty():
		return fmt.Errorf("%w: schedule has no days", ErrInvalidDays)
	case s.ScheduleDuration <= 0:
		return fmt.Errorf("%w: schedule duration %s", ErrInvalidDuration, s.ScheduleDuration)
	case s.SegmentLength <= 0:
		return fmt.Errorf("%w: segment length %s", ErrInvalidDuration, s.SegmentLength)
	case !s.Checkpoint.At.Valid():
		return fmt.Errorf("%w: checkpoint %s", ErrInvalidTime, s.Checkpoint.At)
	case s.Checkpoint.Days.Empty():
		return fmt.Errorf("%w: checkpoint has no days", ErrInvalidDays)
	case s.IdleTimeout <= 0:
		return fmt.Errorf("%w: idle timeout %s", ErrInvalidDuration, s.IdleTimeout)
	}
	if _, err := time.LoadLocation(s.TimeZone); err != nil {
		return fmt.Errorf("%w: time zone %q: %v", ErrInvalidValue, s.TimeZone, err)
	}
	return nil
}

// Location resolves the configured time zone, falling back to local time.
func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}
