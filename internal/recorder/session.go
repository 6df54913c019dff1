// Package recorder owns the recording state machine of a session:
// Idle, Recording, Rotating and Closed. It opens, writes, rotates and
// finalizes segment files and keeps the recording indicator current.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/pipeline"
)

// State of the recorder.
type State int

// Recorder states.
const (
	StateIdle State = iota
	StateRecording
	StateRotating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateRotating:
		return "rotating"
	case StateClosed:
		return "closed"
	}
	return "idle"
}

// Cause is why a session ended.
type Cause string

// Termination causes.
const (
	CauseTimeout      Cause = "timeout"
	CauseExternalStop Cause = "external-stop"
	CauseError        Cause = "error"
)

// SegmentState is open or closed.
type SegmentState string

// Segment states.
const (
	SegmentOpen   SegmentState = "open"
	SegmentClosed SegmentState = "closed"
)

// Segment is one file of a session. Offsets are seconds since session start.
type Segment struct {
	Index    int          `json:"index"`
	Path     string       `json:"path"`
	Start    float64      `json:"start"`
	End      *float64     `json:"end,omitempty"`
	State    SegmentState `json:"state"`
	Geometry string       `json:"geometry"`
	FPS      int          `json:"fps"`
	Frames   int          `json:"frames"`
}

// ParamEvent records an image parameter change during a session.
type ParamEvent struct {
	Offset       float64             `json:"offset"`
	Gamma        float64             `json:"gamma"`
	WhiteBalance config.WhiteBalance `json:"white_balance"`
	ColorMode    config.ColorMode    `json:"color_mode"`
}

// Session is one recording run.
type Session struct {
	ID       string           `json:"id"`
	Start    time.Time        `json:"start"`
	End      time.Time        `json:"end,omitzero"`
	Policy   config.Policy    `json:"policy"`
	Backend  pipeline.Backend `json:"-"`
	Cause    Cause            `json:"cause,omitempty"`
	Segments []Segment        `json:"segments"`
	Params   []ParamEvent     `json:"params,omitempty"`
}

// Paths returns the segment paths in playback order.
func (s *Session) Paths() []string {
	paths := make([]string, len(s.Segments))
	for i, seg := range s.Segments {
		paths[i] = seg.Path
	}
	return paths
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Segments = make([]Segment, len(s.Segments))
	for i, seg := range s.Segments {
		c.Segments[i] = seg
		if seg.End != nil {
			end := *seg.End
			c.Segments[i].End = &end
		}
	}
	c.Params = append([]ParamEvent(nil), s.Params...)
	return &c
}

const sessionIDLayout = "20060102_150405"

// SessionID formats t as a session id in loc.
func SessionID(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(sessionIDLayout)
}

// SegmentName returns the file name of segment index of session id.
func SegmentName(id string, index int) string {
	return fmt.Sprintf("%s_seg%03d.mp4", id, index)
}

// MergedName returns the file name of a merged session.
func MergedName(id string) string {
	return id + "_merged.mp4"
}

// ManualName returns the file name of a manual recording started at t.
func ManualName(t time.Time, loc *time.Location) string {
	return "manual_" + t.In(loc).Format(sessionIDLayout) + ".mp4"
}

var segmentPattern = regexp.MustCompile(`^(\d{8}_\d{6})_seg(\d{3,})\.mp4$`)

// ParseSegmentName extracts the session id and index from a segment file name.
func ParseSegmentName(name string) (id string, index int, ok bool) {
	m := segmentPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", 0, false
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], index, true
}

// uniqueSessionID returns the id for t, moved forward a second at a time
// until it sorts after last and no file of that session exists in dir.
func uniqueSessionID(t time.Time, loc *time.Location, last, dir string) string {
	for {
		id := SessionID(t, loc)
		if id > last && !sessionFilesExist(dir, id) {
			return id
		}
		t = t.Add(time.Second)
	}
}

func sessionFilesExist(dir, id string) bool {
	if _, err := os.Stat(filepath.Join(dir, SegmentName(id, 0))); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, MergedName(id))); err == nil {
		return true
	}
	return false
}
