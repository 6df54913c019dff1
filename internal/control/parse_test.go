package control

import (
	"errors"
	"testing"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
)

func mustParse(t *testing.T, payload string) Request {
	t.Helper()
	req, err := ParseRequest([]byte(payload))
	if err != nil {
		t.Fatalf("ParseRequest(%s) error: %v", payload, err)
	}
	return req
}

func TestLookup(t *testing.T) {
	tests := []struct {
		in   string
		want Name
		ok   bool
	}{
		{"set_gamma", SetGamma, true},
		{"SET_GAMMA ", SetGamma, true},
		{"record_on", StartManual, true},
		{"start_recording", StartManual, true},
		{"record_off", StopManual, true},
		{"camera_on", SessionStart, true},
		{"camera_off", SessionStop, true},
		{"mode", SetPolicy, true},
		{"hls_start", HLSOn, true},
		{"device_settings", UpdateSettings, true},
		{"reboot_now", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := Lookup(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Lookup(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseRequestEnvelope(t *testing.T) {
	req := mustParse(t, `console> {"request_id": 42, "command": "set_fps", "value": 15, "timestamp": "x", "source": "app", "note": "hi"} <eol>`)
	if req.RequestID != "42" || req.Command != "set_fps" || req.Source != "app" {
		t.Errorf("envelope = %+v", req)
	}
	if string(req.Value) != "15" {
		t.Errorf("value = %s", req.Value)
	}
	if _, ok := req.Args["timestamp"]; ok {
		t.Error("timestamp kept as argument")
	}
	if string(req.Args["note"]) != `"hi"` {
		t.Errorf("args = %v", req.Args)
	}

	if _, err := ParseRequest([]byte("not json")); !errors.Is(err, ErrBadRequest) {
		t.Errorf("ParseRequest(garbage) error = %v, want ErrBadRequest", err)
	}
}

func TestPatchFor(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(p config.Patch) bool
	}{
		{"hhmm string", `{"command":"set_schedule_time","value":"0940"}`,
			func(p config.Patch) bool { return *p.ScheduleTime == config.ClockTime{Hour: 9, Minute: 40} }},
		{"hhmm number", `{"command":"set_schedule_time","value":940}`,
			func(p config.Patch) bool { return *p.ScheduleTime == config.ClockTime{Hour: 9, Minute: 40} }},
		{"named time", `{"command":"set_motion_checkpoint_time","time":"13:14"}`,
			func(p config.Patch) bool { return *p.CheckpointTime == config.ClockTime{Hour: 13, Minute: 14} }},
		{"days string", `{"command":"set_schedule_days","value":"mon, wed;fri"}`,
			func(p config.Patch) bool {
				return *p.ScheduleDays == config.Days(time.Monday, time.Wednesday, time.Friday)
			}},
		{"days array", `{"command":"set_motion_checkpoint_days","days":["weekend", 0]}`,
			func(p config.Patch) bool {
				return *p.CheckpointDays == config.Days(time.Saturday, time.Sunday, time.Monday)
			}},
		{"duration seconds", `{"command":"set_schedule_duration","value":90}`,
			func(p config.Patch) bool { return *p.ScheduleDuration == 90*time.Second }},
		{"duration clock", `{"command":"set_schedule_duration","seconds":"01:00:00"}`,
			func(p config.Patch) bool { return *p.ScheduleDuration == time.Hour }},
		{"duration units", `{"command":"set_segment_length","value":"1h30m"}`,
			func(p config.Patch) bool { return *p.SegmentLength == 90*time.Minute }},
		{"frame size", `{"command":"set_frame_size","value":"1280 x 720"}`,
			func(p config.Patch) bool { return *p.Frame == config.Size{Width: 1280, Height: 720} }},
		{"frame width height", `{"command":"set_frame_size","width":640,"height":"480"}`,
			func(p config.Patch) bool { return *p.Frame == config.Size{Width: 640, Height: 480} }},
		{"fps string", `{"command":"set_fps","value":"25"}`,
			func(p config.Patch) bool { return *p.FPS == 25 }},
		{"gamma", `{"command":"set_gamma","gamma":1.8}`,
			func(p config.Patch) bool { return *p.Gamma == 1.8 }},
		{"roi array", `{"command":"set_roi","value":[10,20,300,200]}`,
			func(p config.Patch) bool { return *p.ROI == config.Rect{X: 10, Y: 20, W: 300, H: 200} }},
		{"roi string", `{"command":"set_roi","roi":"10,20,300,200"}`,
			func(p config.Patch) bool { return *p.ROI == config.Rect{X: 10, Y: 20, W: 300, H: 200} }},
		{"policy alias", `{"command":"mode","value":"of"}`,
			func(p config.Patch) bool { return *p.Policy == config.PolicyMotion }},
		{"color", `{"command":"set_color_mode","value":"grey"}`,
			func(p config.Patch) bool { return *p.ColorMode == config.ColorGray }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mustParse(t, tt.payload)
			name, _ := Lookup(req.Command)
			p, ok, err := PatchFor(name, req)
			if !ok || err != nil {
				t.Fatalf("PatchFor() = ok %v, err %v", ok, err)
			}
			if !tt.check(p) {
				t.Errorf("patch = %+v", p)
			}
		})
	}
}

func TestPatchForErrors(t *testing.T) {
	tests := []struct {
		payload string
		want    error
	}{
		{`{"command":"set_gamma"}`, ErrMissingValue},
		{`{"command":"set_fps","value":"fast"}`, ErrBadValue},
		{`{"command":"set_fps","value":29.5}`, ErrBadValue},
		{`{"command":"set_schedule_time","value":"2460"}`, config.ErrInvalidTime},
		{`{"command":"set_schedule_days","value":"someday"}`, config.ErrInvalidDays},
		{`{"command":"set_schedule_duration","value":0}`, config.ErrInvalidDuration},
		{`{"command":"set_roi","value":[1,2,3]}`, config.ErrInvalidROI},
		{`{"command":"update_settings","unknown":1}`, ErrMissingValue},
	}
	for _, tt := range tests {
		req := mustParse(t, tt.payload)
		name, _ := Lookup(req.Command)
		_, _, err := PatchFor(name, req)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.payload, err, tt.want)
		}
	}

	if _, ok, _ := PatchFor(SessionStart, Request{}); ok {
		t.Error("session_start treated as a settings command")
	}
}

func TestBulkPatchUsesStoredNames(t *testing.T) {
	req := mustParse(t, `{"command":"device_settings","device_settings":{
		"mode":"gray","gamma":"1.2","frame":"1280x720","fps":15,"bitrate":1500000,
		"roi":[0,0,640,360],"schedule_time":"0700","schedule_days":"weekdays",
		"schedule_duration_sec":120,"motion_time":"2300","motion_days":["sat"],"opt_flow":"on"}}`)
	p, _, err := PatchFor(UpdateSettings, req)
	if err != nil {
		t.Fatalf("PatchFor() error: %v", err)
	}
	switch {
	case *p.ColorMode != config.ColorGray,
		*p.Gamma != 1.2,
		*p.Frame != config.Size{Width: 1280, Height: 720},
		*p.FPS != 15,
		*p.Bitrate != 1500000,
		*p.ROI != config.Rect{W: 640, H: 360},
		*p.ScheduleTime != config.ClockTime{Hour: 7},
		*p.ScheduleDuration != 2*time.Minute,
		*p.CheckpointTime != config.ClockTime{Hour: 23},
		*p.CheckpointDays != config.Days(time.Saturday),
		*p.Policy != config.PolicyMotion:
		t.Errorf("patch = %+v", p)
	}
	if p.ScheduleDays.Has(time.Saturday) || !p.ScheduleDays.Has(time.Friday) {
		t.Errorf("schedule days = %s", p.ScheduleDays)
	}
}
