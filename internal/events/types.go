package events

// Event type constants for kelindar/event.
const (
	TypeSessionStarted uint32 = iota + 1
	TypeSessionClosed
	TypeSegmentOpened
	TypeSegmentClosed
	TypeRecordingIndicator
	TypeManualRecording
	TypeMotionState
	TypeSinkState
	TypeMergeCompleted
	TypeMergeFailed
	TypeSettingsChanged
	TypeLogEntry
	TypeParamChanged
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStartedEvent is published when a recording session begins.
type SessionStartedEvent struct {
	SessionID string `json:"session_id" example:"20260105_094000" doc:"Session identifier"`
	Policy    string `json:"policy" example:"schedule" doc:"Policy active when the session started"`
	Duration  string `json:"duration,omitempty" example:"1m0s" doc:"Hard stop after this duration (schedule policy only)"`
	Timestamp string `json:"timestamp" example:"2026-01-05T09:40:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStartedEvent.
func (e SessionStartedEvent) Type() uint32 { return TypeSessionStarted }

// SessionClosedEvent is published after the last segment of a session is finalized.
type SessionClosedEvent struct {
	SessionID string `json:"session_id" example:"20260105_094000" doc:"Session identifier"`
	Policy    string `json:"policy" example:"schedule" doc:"Policy of the session"`
	Cause     string `json:"cause" example:"timeout" doc:"Termination cause: timeout, external-stop, error"`
	Segments  int    `json:"segments" example:"1" doc:"Number of segments recorded"`
	Timestamp string `json:"timestamp" example:"2026-01-05T09:41:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionClosedEvent.
func (e SessionClosedEvent) Type() uint32 { return TypeSessionClosed }

// SegmentOpenedEvent is published when a segment file starts receiving frames.
type SegmentOpenedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Index     int    `json:"index" example:"0" doc:"Segment sequence number within the session"`
	Path      string `json:"path" doc:"Segment file path"`
	Geometry  string `json:"geometry" example:"1920x1080" doc:"Frame geometry of the segment"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for SegmentOpenedEvent.
func (e SegmentOpenedEvent) Type() uint32 { return TypeSegmentOpened }

// SegmentClosedEvent is published when a segment is finalized.
type SegmentClosedEvent struct {
	SessionID string  `json:"session_id" doc:"Session identifier"`
	Index     int     `json:"index" doc:"Segment sequence number within the session"`
	Path      string  `json:"path" doc:"Segment file path"`
	Start     float64 `json:"start" doc:"Session-relative start offset in seconds"`
	End       float64 `json:"end" doc:"Session-relative end offset in seconds"`
	Frames    int     `json:"frames" doc:"Frames written to the segment"`
	Timestamp string  `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for SegmentClosedEvent.
func (e SegmentClosedEvent) Type() uint32 { return TypeSegmentClosed }

// RecordingIndicatorEvent reports whether any file is being written.
// Used for LED control.
type RecordingIndicatorEvent struct {
	Recording bool   `json:"recording" doc:"Whether a segment or manual recording is open"`
	Source    string `json:"source" example:"segment" doc:"What changed the indicator: segment or manual"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for RecordingIndicatorEvent.
func (e RecordingIndicatorEvent) Type() uint32 { return TypeRecordingIndicator }

// ManualRecordingEvent is published when manual recording starts or stops.
type ManualRecordingEvent struct {
	Active    bool   `json:"active" doc:"Whether manual recording is running"`
	Path      string `json:"path" doc:"Output file path"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for ManualRecordingEvent.
func (e ManualRecordingEvent) Type() uint32 { return TypeManualRecording }

// MotionStateEvent is published on motion edges, not every frame.
type MotionStateEvent struct {
	Motion    bool   `json:"motion" doc:"Whether motion is present"`
	Moving    int    `json:"moving" doc:"Number of points above the magnitude threshold"`
	Tracked   int    `json:"tracked" doc:"Number of points tracked"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for MotionStateEvent.
func (e MotionStateEvent) Type() uint32 { return TypeMotionState }

// SinkStateEvent reports a live output being disabled or re-enabled.
type SinkStateEvent struct {
	Sink      string `json:"sink" example:"hls" doc:"Sink name: live or hls"`
	Enabled   bool   `json:"enabled" doc:"Whether the sink accepts frames"`
	Reason    string `json:"reason,omitempty" doc:"Why the sink changed state"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for SinkStateEvent.
func (e SinkStateEvent) Type() uint32 { return TypeSinkState }

// MergeCompletedEvent is published when a session was merged into one file.
type MergeCompletedEvent struct {
	JobID     string  `json:"job_id" doc:"Merge job identifier"`
	SessionID string  `json:"session_id" doc:"Session identifier"`
	Output    string  `json:"output" doc:"Merged file path"`
	Path      string  `json:"path" example:"fast" doc:"Merge path taken: fast or fallback"`
	Inputs    int     `json:"inputs" doc:"Number of merged segments"`
	Seconds   float64 `json:"seconds" doc:"Merge wall time in seconds"`
	Timestamp string  `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for MergeCompletedEvent.
func (e MergeCompletedEvent) Type() uint32 { return TypeMergeCompleted }

// MergeFailedEvent is published when both merge paths failed. Inputs are kept.
type MergeFailedEvent struct {
	JobID     string `json:"job_id" doc:"Merge job identifier"`
	SessionID string `json:"session_id" doc:"Session identifier"`
	Error     string `json:"error" doc:"Failure description"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for MergeFailedEvent.
func (e MergeFailedEvent) Type() uint32 { return TypeMergeFailed }

// SettingsChangedEvent is published after every accepted settings update.
type SettingsChangedEvent struct {
	Version   uint64   `json:"version" doc:"Settings version after the update"`
	Fields    []string `json:"fields" doc:"Names of the fields that changed"`
	Timestamp string   `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for SettingsChangedEvent.
func (e SettingsChangedEvent) Type() uint32 { return TypeSettingsChanged }

// ParamChangedEvent records an image parameter change during a session.
type ParamChangedEvent struct {
	SessionID    string  `json:"session_id" doc:"Session identifier"`
	Offset       float64 `json:"offset" doc:"Seconds since session start"`
	Gamma        float64 `json:"gamma" doc:"Gamma in effect"`
	WhiteBalance string  `json:"white_balance" example:"auto" doc:"White balance mode"`
	ColorMode    string  `json:"color_mode" example:"rgb" doc:"Color mode"`
	Timestamp    string  `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for ParamChangedEvent.
func (e ParamChangedEvent) Type() uint32 { return TypeParamChanged }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

var typeNames = map[uint32]string{
	TypeSessionStarted:     "session-started",
	TypeSessionClosed:      "session-closed",
	TypeSegmentOpened:      "segment-opened",
	TypeSegmentClosed:      "segment-closed",
	TypeRecordingIndicator: "recording-indicator",
	TypeManualRecording:    "manual-recording",
	TypeMotionState:        "motion-state",
	TypeSinkState:          "sink-state",
	TypeMergeCompleted:     "merge-completed",
	TypeMergeFailed:        "merge-failed",
	TypeSettingsChanged:    "settings-changed",
	TypeLogEntry:           "log-entry",
	TypeParamChanged:       "param-changed",
}

// Name returns the wire name of an event, used for SSE event names and
// NATS subject suffixes.
func Name(ev Event) string {
	if name, ok := typeNames[ev.Type()]; ok {
		return name
	}
	return "unknown"
}
