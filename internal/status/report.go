package status

import (
	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/metrics"
	"github.com/smazurov/camkeeper/internal/mux"
)

// Report is the device status answered on status requests.
type Report struct {
	ThingName string `json:"thing_name" example:"cam-01" doc:"Device name"`
	Status    string `json:"status" example:"online" doc:"Always online while the service answers"`
	Version   string `json:"version" doc:"camkeeper version"`
	Timestamp string `json:"timestamp" doc:"Report time"`

	Policy          config.Policy `json:"camera_mode" example:"schedule" doc:"Active recording policy"`
	State           string        `json:"state" example:"recording" doc:"Recorder state"`
	SessionID       string        `json:"session_id,omitempty" doc:"Active session"`
	OpenSegment     string        `json:"open_segment,omitempty" doc:"Segment file being written"`
	ManualRecording bool          `json:"manual_recording" doc:"Whether manual recording is running"`
	ManualPath      string        `json:"manual_path,omitempty" doc:"Manual recording file"`
	NextWindow      string        `json:"next_window,omitempty" doc:"Next scheduled session or checkpoint"`

	MergesPending int    `json:"merges_pending" doc:"Queued and running merge jobs"`
	MergeRunning  string `json:"merge_running,omitempty" doc:"Session being merged"`

	Sinks    []mux.Stats     `json:"sinks" doc:"Live output state"`
	Links    map[string]bool `json:"links,omitempty" doc:"Control transport connection state"`
	Counters metrics.Summary `json:"counters" doc:"Counters since start"`
	Settings config.View     `json:"settings" doc:"Active settings"`
	System   System          `json:"system" doc:"Host health"`
}
