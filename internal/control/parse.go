package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/smazurov/camkeeper/internal/config"
)

// setting maps one settings command onto the patch field it changes.
type setting struct {
	name Name
	// args are the named arguments accepted when "value" is absent
	args []string
	// field is the key in an update_settings object; bulk lists extra keys
	// meaning the same thing there
	field string
	bulk  []string
	apply func(raw json.RawMessage, p *config.Patch) error
}

var settings = []setting{
	{
		name: SetPolicy, args: []string{"policy", "mode", "camera_mode"}, field: "camera_mode", bulk: []string{"policy"},
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseText(raw, config.ParsePolicy, &p.Policy)
		},
	},
	{
		// older firmware toggled optical flow instead of naming a policy
		field: "opt_flow",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			on, err := boolean(raw)
			if err != nil {
				return err
			}
			p.Policy = config.Ptr(config.PolicySchedule)
			if on {
				p.Policy = config.Ptr(config.PolicyMotion)
			}
			return nil
		},
	},
	{
		name: SetScheduleTime, args: []string{"time", "hhmm", "schedule_time"}, field: "schedule_time",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseClock(raw, &p.ScheduleTime)
		},
	},
	{
		name: SetScheduleDays, args: []string{"days", "schedule_days"}, field: "schedule_days",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseDays(raw, &p.ScheduleDays)
		},
	},
	{
		name: SetScheduleDuration, args: []string{"duration", "seconds", "schedule_duration", "schedule_duration_sec"},
		field: "schedule_duration", bulk: []string{"schedule_duration_sec"},
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseText(raw, config.ParseDuration, &p.ScheduleDuration)
		},
	},
	{
		name: SetSegmentLength, args: []string{"length", "seconds", "segment_length", "segment_length_sec"},
		field: "segment_length", bulk: []string{"segment_length_sec"},
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseText(raw, config.ParseDuration, &p.SegmentLength)
		},
	},
	{
		name: SetCheckpointTime, args: []string{"time", "hhmm", "motion_time"}, field: "motion_time",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseClock(raw, &p.CheckpointTime)
		},
	},
	{
		name: SetCheckpointDays, args: []string{"days", "motion_days"}, field: "motion_days",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseDays(raw, &p.CheckpointDays)
		},
	},
	{
		name: SetIdleTimeout, args: []string{"timeout", "seconds", "idle_timeout"}, field: "idle_timeout",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseText(raw, config.ParseDuration, &p.IdleTimeout)
		},
	},
	{
		name: SetTimeZone, args: []string{"zone", "time_zone", "tz"}, field: "time_zone",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseText(raw, func(s string) (string, error) { return strings.TrimSpace(s), nil }, &p.TimeZone)
		},
	},
	{
		name: SetFrameSize, args: []string{"frame", "frame_size", "size"}, field: "frame",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseText(raw, func(s string) (config.Size, error) {
				return config.ParseSize(strings.ReplaceAll(s, " ", ""))
			}, &p.Frame)
		},
	},
	{
		name: SetFPS, args: []string{"fps"}, field: "fps",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			n, err := integer(raw)
			p.FPS = &n
			return err
		},
	},
	{
		name: SetBitrate, args: []string{"bitrate"}, field: "bitrate",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			n, err := integer(raw)
			p.Bitrate = &n
			return err
		},
	},
	{
		name: SetGamma, args: []string{"gamma"}, field: "gamma",
		apply: func(raw json.RawMessage, p *config.Patch) error {
			f, err := number(raw)
			p.Gamma = &f
			return err
		},
	},
	{
		name: SetWhiteBalance, args: []string{"wb", "white_balance"}, field: "wb", bulk: []string{"white_balance"},
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseText(raw, config.ParseWhiteBalance, &p.WhiteBalance)
		},
	},
	{
		name: SetColorMode, args: []string{"color_mode", "color", "mode"}, field: "color_mode", bulk: []string{"mode"},
		apply: func(raw json.RawMessage, p *config.Patch) error {
			return parseText(raw, config.ParseColorMode, &p.ColorMode)
		},
	},
	{
		name: SetROI, args: []string{"roi", "roi_rect"}, field: "roi", bulk: []string{"roi_rect"},
		apply: func(raw json.RawMessage, p *config.Patch) error {
			r, err := rect(raw)
			p.ROI = &r
			return err
		},
	},
}

func settingFor(name Name) (setting, bool) {
	for _, s := range settings {
		if s.name != "" && s.name == name {
			return s, true
		}
	}
	return setting{}, false
}

// PatchFor builds the settings patch for a settings command. ok is false
// when name is not a settings command.
func PatchFor(name Name, req Request) (p config.Patch, ok bool, err error) {
	if name == UpdateSettings {
		p, err = bulkPatch(req)
		return p, true, err
	}
	s, ok := settingFor(name)
	if !ok {
		return config.Patch{}, false, nil
	}
	raw, found := req.arg(s.args...)
	if !found && name == SetFrameSize {
		raw, found = req.widthHeight()
	}
	if !found {
		return config.Patch{}, true, fmt.Errorf("%s: %w", name, ErrMissingValue)
	}
	if err := s.apply(raw, &p); err != nil {
		return config.Patch{}, true, fmt.Errorf("%s: %w", name, err)
	}
	return p, true, nil
}

// bulkPatch merges every recognized key of an update_settings request,
// either inline or nested under "device_settings" or "value".
func bulkPatch(req Request) (config.Patch, error) {
	fields := req.Args
	for _, nested := range []json.RawMessage{req.Args["device_settings"], req.Value} {
		if len(nested) == 0 || isNull(nested) {
			continue
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(nested, &m); err != nil {
			return config.Patch{}, fmt.Errorf("%s: settings must be an object: %w", UpdateSettings, ErrBadValue)
		}
		fields = m
		break
	}

	var p config.Patch
	for _, s := range settings {
		for _, key := range append([]string{s.field}, s.bulk...) {
			raw, ok := fields[key]
			if !ok || isNull(raw) {
				continue
			}
			if err := s.apply(raw, &p); err != nil {
				return config.Patch{}, fmt.Errorf("%s.%s: %w", UpdateSettings, key, err)
			}
			break
		}
	}
	if p.Empty() {
		return config.Patch{}, fmt.Errorf("%s: no known settings: %w", UpdateSettings, ErrMissingValue)
	}
	return p, nil
}

// arg returns "value" when present, else the first named argument found.
func (r Request) arg(keys ...string) (json.RawMessage, bool) {
	if len(r.Value) > 0 && !isNull(r.Value) {
		return r.Value, true
	}
	for _, k := range keys {
		if v, ok := r.Args[k]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

func (r Request) widthHeight() (json.RawMessage, bool) {
	w, okW := r.Args["width"]
	h, okH := r.Args["height"]
	if !okW || !okH {
		return nil, false
	}
	wi, err1 := integer(w)
	hi, err2 := integer(h)
	if err1 != nil || err2 != nil {
		return nil, false
	}
	return json.RawMessage(strconv.Quote(fmt.Sprintf("%dx%d", wi, hi))), true
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// text reads a JSON string, number or bool as its textual form.
func text(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", fmt.Errorf("%w: expected a scalar, got %s", ErrBadValue, raw)
}

// texts reads a JSON array of scalars or a single scalar.
func texts(raw json.RawMessage) ([]string, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		s, err := text(raw)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, err := text(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func integer(raw json.RawMessage) (int, error) {
	s, err := text(raw)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrBadValue, s)
		}
		n = int(f)
	}
	return n, nil
}

func number(raw json.RawMessage) (float64, error) {
	s, err := text(raw)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrBadValue, s)
	}
	return f, nil
}

func boolean(raw json.RawMessage) (bool, error) {
	s, err := text(raw)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "on", "yes", "enable", "enabled":
		return true, nil
	case "false", "0", "off", "no", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a switch", ErrBadValue, s)
}

func rect(raw json.RawMessage) (config.Rect, error) {
	var vals []int
	if err := json.Unmarshal(raw, &vals); err == nil {
		return config.RectFromSlice(vals)
	}
	s, err := text(raw)
	if err != nil {
		return config.Rect{}, err
	}
	return config.ParseRect(s)
}

func parseText[T any](raw json.RawMessage, parse func(string) (T, error), dst **T) error {
	s, err := text(raw)
	if err != nil {
		return err
	}
	v, err := parse(s)
	if err != nil {
		return err
	}
	*dst = &v
	return nil
}

// parseClock accepts "0940", "09:40" and the number 940.
func parseClock(raw json.RawMessage, dst **config.ClockTime) error {
	s, err := text(raw)
	if err != nil {
		return err
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && len(s) < 4 {
		s = fmt.Sprintf("%04d", n)
	}
	c, err := config.ParseClock(s)
	if err != nil {
		return err
	}
	*dst = &c
	return nil
}

func parseDays(raw json.RawMessage, dst **config.DaySet) error {
	list, err := texts(raw)
	if err != nil {
		return err
	}
	d, err := config.ParseDayList(list)
	if err != nil {
		return err
	}
	*dst = &d
	return nil
}
