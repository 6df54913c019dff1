package config

import (
	"strings"
	"time"
)

// Field identifies one group of settings that changes together.
type Field uint32

// Settings fields.
const (
	FieldFrame Field = 1 << iota
	FieldFPS
	FieldBitrate
	FieldGamma
	FieldWhiteBalance
	FieldColorMode
	FieldROI
	FieldPolicy
	FieldScheduleTime
	FieldScheduleDays
	FieldScheduleDuration
	FieldSegmentLength
	FieldCheckpointTime
	FieldCheckpointDays
	FieldIdleTimeout
	FieldTimeZone
)

// Field groups consumers subscribe to.
const (
	ScheduleFields   = FieldScheduleTime | FieldScheduleDays | FieldScheduleDuration | FieldTimeZone
	CheckpointFields = FieldCheckpointTime | FieldCheckpointDays | FieldTimeZone
	PipelineFields   = FieldFrame | FieldFPS | FieldBitrate
	ImageFields      = FieldGamma | FieldWhiteBalance | FieldColorMode
)

var fieldNames = []struct {
	f    Field
	name string
}{
	{FieldFrame, "frame"},
	{FieldFPS, "fps"},
	{FieldBitrate, "bitrate"},
	{FieldGamma, "gamma"},
	{FieldWhiteBalance, "white_balance"},
	{FieldColorMode, "color_mode"},
	{FieldROI, "roi"},
	{FieldPolicy, "policy"},
	{FieldScheduleTime, "schedule_time"},
	{FieldScheduleDays, "schedule_days"},
	{FieldScheduleDuration, "schedule_duration"},
	{FieldSegmentLength, "segment_length"},
	{FieldCheckpointTime, "checkpoint_time"},
	{FieldCheckpointDays, "checkpoint_days"},
	{FieldIdleTimeout, "idle_timeout"},
	{FieldTimeZone, "time_zone"},
}

// Has reports whether any of the given fields is set.
func (f Field) Has(other Field) bool {
	return f&other != 0
}

// Names lists the field names in f.
func (f Field) Names() []string {
	var out []string
	for _, fn := range fieldNames {
		if f.Has(fn.f) {
			out = append(out, fn.name)
		}
	}
	return out
}

func (f Field) String() string {
	return strings.Join(f.Names(), ",")
}

// Patch names the settings an update replaces. Nil fields are left as they
// are. Values are absolute, so applying a patch twice is the same as once.
type Patch struct {
	Frame            *Size
	FPS              *int
	Bitrate          *int
	Gamma            *float64
	WhiteBalance     *WhiteBalance
	ColorMode        *ColorMode
	ROI              *Rect
	Policy           *Policy
	ScheduleTime     *ClockTime
	ScheduleDays     *DaySet
	ScheduleDuration *time.Duration
	SegmentLength    *time.Duration
	CheckpointTime   *ClockTime
	CheckpointDays   *DaySet
	IdleTimeout      *time.Duration
	TimeZone         *string
}

// Apply returns s with the patch applied and the set of fields that differ.
func (p Patch) Apply(s Settings) (Settings, Field) {
	var changed Field
	set := func(f Field, differs bool) {
		if differs {
			changed |= f
		}
	}

	if p.Frame != nil {
		set(FieldFrame, s.Frame != *p.Frame)
		s.Frame = *p.Frame
	}
	if p.FPS != nil {
		set(FieldFPS, s.FPS != *p.FPS)
		s.FPS = *p.FPS
	}
	if p.Bitrate != nil {
		set(FieldBitrate, s.Bitrate != *p.Bitrate)
		s.Bitrate = *p.Bitrate
	}
	if p.Gamma != nil {
		set(FieldGamma, s.Gamma != *p.Gamma)
		s.Gamma = *p.Gamma
	}
	if p.WhiteBalance != nil {
		set(FieldWhiteBalance, s.WhiteBalance != *p.WhiteBalance)
		s.WhiteBalance = *p.WhiteBalance
	}
	if p.ColorMode != nil {
		set(FieldColorMode, s.ColorMode != *p.ColorMode)
		s.ColorMode = *p.ColorMode
	}
	if p.ROI != nil {
		set(FieldROI, s.ROI != *p.ROI)
		s.ROI = *p.ROI
	}
	if p.Policy != nil {
		set(FieldPolicy, s.Policy != *p.Policy)
		s.Policy = *p.Policy
	}
	if p.ScheduleTime != nil {
		set(FieldScheduleTime, s.Schedule.At != *p.ScheduleTime)
		s.Schedule.At = *p.ScheduleTime
	}
	if p.ScheduleDays != nil {
		set(FieldScheduleDays, s.Schedule.Days != *p.ScheduleDays)
		s.Schedule.Days = *p.ScheduleDays
	}
	if p.ScheduleDuration != nil {
		set(FieldScheduleDuration, s.ScheduleDuration != *p.ScheduleDuration)
		s.ScheduleDuration = *p.ScheduleDuration
	}
	if p.SegmentLength != nil {
		set(FieldSegmentLength, s.SegmentLength != *p.SegmentLength)
		s.SegmentLength = *p.SegmentLength
	}
	if p.CheckpointTime != nil {
		set(FieldCheckpointTime, s.Checkpoint.At != *p.CheckpointTime)
		s.Checkpoint.At = *p.CheckpointTime
	}
	if p.CheckpointDays != nil {
		set(FieldCheckpointDays, s.Checkpoint.Days != *p.CheckpointDays)
		s.Checkpoint.Days = *p.CheckpointDays
	}
	if p.IdleTimeout != nil {
		set(FieldIdleTimeout, s.IdleTimeout != *p.IdleTimeout)
		s.IdleTimeout = *p.IdleTimeout
	}
	if p.TimeZone != nil {
		set(FieldTimeZone, s.TimeZone != *p.TimeZone)
		s.TimeZone = *p.TimeZone
	}
	return s, changed
}

// Empty reports whether the patch names no field.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Ptr returns a pointer to v, for building patches inline.
func Ptr[T any](v T) *T {
	return &v
}
