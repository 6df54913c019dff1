// Package control turns operator commands into settings updates and
// session actions. Commands arrive as JSON envelopes over MQTT, NATS or
// HTTP; every transport shares one Dispatcher so they behave the same.
package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Name is a canonical command name.
type Name string

// Commands.
const (
	SetPolicy           Name = "set_policy"
	SetScheduleTime     Name = "set_schedule_time"
	SetScheduleDays     Name = "set_schedule_days"
	SetScheduleDuration Name = "set_schedule_duration"
	SetSegmentLength    Name = "set_segment_length"
	SetCheckpointTime   Name = "set_motion_checkpoint_time"
	SetCheckpointDays   Name = "set_motion_checkpoint_days"
	SetIdleTimeout      Name = "set_idle_timeout"
	SetTimeZone         Name = "set_time_zone"
	SetFrameSize        Name = "set_frame_size"
	SetFPS              Name = "set_fps"
	SetBitrate          Name = "set_bitrate"
	SetGamma            Name = "set_gamma"
	SetWhiteBalance     Name = "set_white_balance"
	SetColorMode        Name = "set_color_mode"
	SetROI              Name = "set_roi"
	UpdateSettings      Name = "update_settings"
	StartManual         Name = "start_manual_recording"
	StopManual          Name = "stop_manual_recording"
	SessionStart        Name = "session_start"
	SessionStop         Name = "session_stop"
	Status              Name = "status"
	Restart             Name = "restart"
	HLSOn               Name = "hls_on"
	HLSOff              Name = "hls_off"
)

var commands = []Name{
	SetPolicy, SetScheduleTime, SetScheduleDays, SetScheduleDuration, SetSegmentLength,
	SetCheckpointTime, SetCheckpointDays, SetIdleTimeout, SetTimeZone,
	SetFrameSize, SetFPS, SetBitrate, SetGamma, SetWhiteBalance, SetColorMode, SetROI,
	UpdateSettings, StartManual, StopManual, SessionStart, SessionStop,
	Status, Restart, HLSOn, HLSOff,
}

// Names the field appliance firmware used.
var aliases = map[string]Name{
	"record_on":       StartManual,
	"start_recording": StartManual,
	"record_off":      StopManual,
	"stop_recording":  StopManual,
	"camera_on":       SessionStart,
	"camera_off":      SessionStop,
	"mode":            SetPolicy,
	"hls_start":       HLSOn,
	"hls_stop":        HLSOff,
	"device_settings": UpdateSettings,
}

// Lookup resolves a command or alias, ignoring case.
func Lookup(command string) (Name, bool) {
	c := strings.ToLower(strings.TrimSpace(command))
	if n, ok := aliases[c]; ok {
		return n, true
	}
	if slices.Contains(commands, Name(c)) {
		return Name(c), true
	}
	return "", false
}

// Commands lists every canonical command name.
func Commands() []Name {
	return slices.Clone(commands)
}

// Request is a command envelope: {"request_id", "command", "value"} plus
// named arguments.
type Request struct {
	RequestID string
	Command   string
	Value     json.RawMessage
	Source    string
	Args      map[string]json.RawMessage
}

// envelope keys that are never arguments
var reserved = []string{"request_id", "command", "value", "source", "timestamp"}

// UnmarshalJSON accepts any JSON object; keys other than the envelope
// fields become named arguments.
func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = Request{Value: fields["value"]}
	if raw, ok := fields["request_id"]; ok && !isNull(raw) {
		id, err := text(raw)
		if err != nil {
			return fmt.Errorf("request_id: %w", err)
		}
		r.RequestID = id
	}
	if raw, ok := fields["command"]; ok && !isNull(raw) {
		cmd, err := text(raw)
		if err != nil {
			return fmt.Errorf("command: %w", err)
		}
		r.Command = cmd
	}
	if raw, ok := fields["source"]; ok {
		r.Source, _ = text(raw)
	}
	for k, v := range fields {
		if slices.Contains(reserved, k) {
			continue
		}
		if r.Args == nil {
			r.Args = make(map[string]json.RawMessage)
		}
		r.Args[k] = v
	}
	return nil
}

// MarshalJSON writes the envelope with the arguments inlined.
func (r Request) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Args)+4)
	for k, v := range r.Args {
		out[k] = v
	}
	if r.RequestID != "" {
		out["request_id"] = r.RequestID
	}
	out["command"] = r.Command
	if len(r.Value) > 0 {
		out["value"] = r.Value
	}
	if r.Source != "" {
		out["source"] = r.Source
	}
	return json.Marshal(out)
}

// ParseRequest decodes an envelope. Text around the JSON object, as some
// device consoles add, is ignored.
func ParseRequest(payload []byte) (Request, error) {
	data := bytes.TrimSpace(payload)
	if start, end := bytes.IndexByte(data, '{'), bytes.LastIndexByte(data, '}'); start >= 0 && end > start {
		data = data[start : end+1]
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, &Error{Code: CodeBadRequest, Message: "invalid JSON envelope", Cause: fmt.Errorf("%w: %v", ErrBadRequest, err)}
	}
	return r, nil
}

// Results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Response answers a Request.
type Response struct {
	RequestID string `json:"request_id,omitempty" doc:"Echo of the request id"`
	ThingName string `json:"thing_name" example:"cam-01" doc:"Device name"`
	Command   string `json:"command" example:"set_gamma" doc:"Canonical command name"`
	Result    string `json:"result" example:"success" doc:"success or error"`
	Message   string `json:"message,omitempty" doc:"Human readable outcome"`
	Timestamp string `json:"timestamp" doc:"Response timestamp"`
	Data      any    `json:"data,omitempty" doc:"Command specific payload"`
}

// OK reports whether the command succeeded.
func (r Response) OK() bool {
	return r.Result == ResultSuccess
}

func newResponse(thing string, req Request, command string, now time.Time) Response {
	return Response{
		RequestID: req.RequestID,
		ThingName: thing,
		Command:   command,
		Result:    ResultSuccess,
		Timestamp: now.Format(time.RFC3339),
	}
}
