package config

import (
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DaySet is a set of weekdays stored as a bitmask indexed by time.Weekday.
type DaySet uint8

// AllDays contains every weekday.
const AllDays DaySet = 0x7f

// Days builds a DaySet from weekdays.
func Days(days ...time.Weekday) DaySet {
	var s DaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Has reports whether d is in the set.
func (s DaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Empty reports whether no day is set.
func (s DaySet) Empty() bool {
	return s&AllDays == 0
}

// List returns the days Monday first, matching how operators write them.
func (s DaySet) List() []time.Weekday {
	var out []time.Weekday
	for _, d := range mondayFirst {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Names returns the three-letter lowercase names of the days, Monday first.
func (s DaySet) Names() []string {
	days := s.List()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = shortDayName(d)
	}
	return names
}

func (s DaySet) String() string {
	if s&AllDays == AllDays {
		return "all"
	}
	return strings.Join(s.Names(), ",")
}

var mondayFirst = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

func shortDayName(d time.Weekday) string {
	return strings.ToLower(d.String()[:3])
}

var dayTokens = func() map[string]DaySet {
	m := map[string]DaySet{
		"all":      AllDays,
		"everyday": AllDays,
		"daily":    AllDays,
		"weekday":  Days(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
		"weekdays": Days(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
		"weekend":  Days(time.Saturday, time.Sunday),
		"weekends": Days(time.Saturday, time.Sunday),
		"tues":     Days(time.Tuesday),
		"thur":     Days(time.Thursday),
		"thurs":    Days(time.Thursday),
	}
	for i, d := range mondayFirst {
		m[shortDayName(d)] = Days(d)
		m[strings.ToLower(d.String())] = Days(d)
		m[strconv.Itoa(i)] = Days(d)
	}
	return m
}()

var daySeparator = regexp.MustCompile(`[\s,;]+`)

// ParseDays parses a weekday set. Accepted tokens: all/everyday/daily,
// weekday(s), weekend(s), mon..sun or full names, and digits 0..6 with
// 0 = Monday, separated by whitespace, commas or semicolons.
func ParseDays(value string) (DaySet, error) {
	var set DaySet
	for _, tok := range daySeparator.Split(strings.ToLower(strings.TrimSpace(value)), -1) {
		if tok == "" {
			continue
		}
		days, ok := dayTokens[tok]
		if !ok {
			return 0, fmt.Errorf("%w: unknown day %q", ErrInvalidDays, tok)
		}
		set |= days
	}
	if set.Empty() {
		return 0, fmt.Errorf("%w: no days in %q", ErrInvalidDays, value)
	}
	return set, nil
}

// ParseDayList parses each element with ParseDays and unions the result.
func ParseDayList(values []string) (DaySet, error) {
	return ParseDays(strings.Join(values, ","))
}

// ClockTime is a wall-clock hour and minute.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Valid reports whether the hour and minute are in range.
func (c ClockTime) Valid() bool {
	return c.Hour >= 0 && c.Hour < 24 && c.Minute >= 0 && c.Minute < 60
}

var hhmm = regexp.MustCompile(`^(\d{2}):?(\d{2})$`)

// ParseClock parses "HHMM" (the command form) or "HH:MM" (the stored form).
func ParseClock(value string) (ClockTime, error) {
	m := hhmm.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return ClockTime{}, fmt.Errorf("%w: %q is not HHMM", ErrInvalidTime, value)
	}
	h, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	c := ClockTime{Hour: h, Minute: minute}
	if !c.Valid() {
		return ClockTime{}, fmt.Errorf("%w: %q out of range", ErrInvalidTime, value)
	}
	return c, nil
}

var (
	hms     = regexp.MustCompile(`^(\d+):(\d{1,2}):(\d{1,2})$`)
	ms      = regexp.MustCompile(`^(\d+):(\d{1,2})$`)
	digits  = regexp.MustCompile(`^\d+$`)
	compact = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)
)

// ParseDuration parses a positive duration written as seconds ("90"),
// "HH:MM:SS", "MM:SS" or compact units ("1h30m", "45m", "20s").
func ParseDuration(value string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	var secs int

	switch {
	case v == "":
		return 0, fmt.Errorf("%w: empty", ErrInvalidDuration)
	case digits.MatchString(v):
		secs, _ = strconv.Atoi(v)
	case hms.MatchString(v):
		m := hms.FindStringSubmatch(v)
		secs = atoi(m[1])*3600 + atoi(m[2])*60 + atoi(m[3])
	case ms.MatchString(v):
		m := ms.FindStringSubmatch(v)
		secs = atoi(m[1])*60 + atoi(m[2])
	case compact.MatchString(v):
		m := compact.FindStringSubmatch(v)
		secs = atoi(m[1])*3600 + atoi(m[2])*60 + atoi(m[3])
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}

	if secs <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidDuration, value)
	}
	return time.Duration(secs) * time.Second, nil
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

// Size is a frame geometry.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses "WxH".
func ParseSize(value string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(value)), "x")
	if !ok {
		return Size{}, fmt.Errorf("%w: %q is not WxH", ErrInvalidFrameSize, value)
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return Size{}, fmt.Errorf("%w: %q", ErrInvalidFrameSize, value)
	}
	return Size{Width: width, Height: height}, nil
}

// Rect is a region of interest in frame pixels.
type Rect struct {
	X int
	Y int
	W int
	H int
}

func (r Rect) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.W, r.H)
}

// Clip returns r restricted to a width x height frame. The result may be empty.
func (r Rect) Clip(width, height int) Rect {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.W, width), min(r.Y+r.H, height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Image converts r to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// ParseRect parses "x,y,w,h" (spaces allowed).
func ParseRect(value string) (Rect, error) {
	parts := daySeparator.Split(strings.Trim(strings.TrimSpace(value), "[]()"), -1)
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("%w: %q needs four values", ErrInvalidROI, value)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Rect{}, fmt.Errorf("%w: %q", ErrInvalidROI, value)
		}
		vals[i] = n
	}
	return RectFromSlice(vals)
}

// RectFromSlice builds a Rect from [x, y, w, h].
func RectFromSlice(vals []int) (Rect, error) {
	if len(vals) != 4 {
		return Rect{}, fmt.Errorf("%w: need four values, got %d", ErrInvalidROI, len(vals))
	}
	r := Rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
	if r.X < 0 || r.Y < 0 || r.W <= 0 || r.H <= 0 {
		return Rect{}, fmt.Errorf("%w: %s", ErrInvalidROI, r)
	}
	return r, nil
}
