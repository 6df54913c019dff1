package recorder

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/ffmpeg"
	"github.com/smazurov/camkeeper/internal/frame"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/pipeline"
)

// Sentinel errors.
var (
	ErrSessionActive   = errors.New("a session is already active")
	ErrNoSession       = errors.New("no active session")
	ErrSessionFailed   = errors.New("segments cannot be opened")
	ErrManualActive    = errors.New("manual recording already running")
	ErrManualNotActive = errors.New("manual recording not running")
)

const (
	maxOpenFailures = 3
	openRetry       = time.Second
)

// Indicator sources.
const (
	SourceSegment = "segment"
	SourceManual  = "manual"
)

// Recorder writes the frames of the active session into segment files.
// Frame is called from the frame loop; the other methods may be called
// from any goroutine.
type Recorder struct {
	dir    string
	opener pipeline.Opener
	bus    *events.Bus
	logger logging.Logger

	mu      sync.Mutex
	state   State
	session *Session
	lastID  string

	writer  pipeline.Writer
	open    int // index into session.Segments, -1 when none
	spec    pipeline.Spec
	frames  int
	lastMot time.Time
	params  *ParamEvent

	failures  int
	retryAt   time.Time
	failed    bool
	indicator bool

	manual *manualRecording

	closing sync.WaitGroup
}

type manualRecording struct {
	path   string
	writer pipeline.Writer
	width  int
	height int
	frames int
}

// New creates a recorder writing segments into dir.
func New(dir string, opener pipeline.Opener, bus *events.Bus, logger logging.Logger) *Recorder {
	return &Recorder{
		dir:    dir,
		opener: opener,
		bus:    bus,
		logger: logger,
		open:   -1,
	}
}

// Dir returns the recording directory.
func (r *Recorder) Dir() string { return r.dir }

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Active reports whether a session is recording.
func (r *Recorder) Active() bool {
	st := r.State()
	return st == StateRecording || st == StateRotating
}

// Session returns a copy of the active session, or nil.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	return r.session.Clone()
}

// OpenSegment returns a copy of the open segment, if any.
func (r *Recorder) OpenSegment() (Segment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil || r.open < 0 {
		return Segment{}, false
	}
	return r.session.Segments[r.open], true
}

// Recording reports whether a segment is open, which gates the live sink.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open >= 0
}

// Start begins a session. Under the schedule policy segment #0 is opened
// at offset 0; under the motion policy the session waits for motion.
func (r *Recorder) Start(now time.Time, s config.Settings, backend pipeline.Backend) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return nil, fmt.Errorf("start session: %w", ErrSessionActive)
	}

	id := uniqueSessionID(now, s.Location(), r.lastID, r.dir)
	r.lastID = id
	r.session = &Session{ID: id, Start: now, Policy: s.Policy, Backend: backend}
	r.state = StateRecording
	r.open, r.failures, r.failed, r.params = -1, 0, false, nil
	r.retryAt = time.Time{}
	r.lastMot = time.Time{}

	r.logger.Info("Session started", "session", id, "policy", s.Policy, "backend", backend)
	r.publish(events.SessionStartedEvent{
		SessionID: id,
		Policy:    string(s.Policy),
		Timestamp: now.Format(time.RFC3339),
	})

	r.recordParams(now, s)
	if s.Policy == config.PolicySchedule {
		r.openSegment(now, s.Frame.Width, s.Frame.Height, s)
	}
	return r.session.Clone(), nil
}

// Frame records f under settings s. motion is the detector's verdict for
// this frame and only matters under the motion policy. It returns
// ErrSessionFailed when segments repeatedly cannot be opened; the caller
// is expected to stop the session with CauseError.
func (r *Recorder) Frame(f *frame.Frame, motion bool, s config.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writeManual(f)

	if r.state != StateRecording || r.session == nil {
		return nil
	}
	if r.failed {
		return ErrSessionFailed
	}
	now := f.Time
	r.recordParams(now, s)

	switch r.session.Policy {
	case config.PolicyMotion:
		if motion {
			r.lastMot = now
		}
		if r.open >= 0 && !motion && now.Sub(r.lastMot) > s.IdleTimeout {
			r.closeSegment(now)
			return nil
		}
		if r.open < 0 && !motion {
			return nil
		}
	default:
		if r.open >= 0 && r.offset(now)-r.session.Segments[r.open].Start >= s.SegmentLength.Seconds() {
			r.rotate(now, f, s, "segment length reached")
		}
	}

	if r.open >= 0 && (r.spec.Width != f.Width || r.spec.Height != f.Height || r.spec.FPS != s.FPS) {
		r.rotate(now, f, s, "frame geometry changed")
	}
	if r.open < 0 {
		if !r.openSegment(now, f.Width, f.Height, s) {
			if r.failed {
				return ErrSessionFailed
			}
			return nil
		}
	}

	if err := r.writer.WriteFrame(f); err != nil {
		if pipeline.IsStructural(err) {
			r.logger.Error("Segment output broke, closing segment", "session", r.session.ID, "error", err)
			r.closeSegment(now)
			return nil
		}
		r.logger.Debug("Segment frame skipped", "error", err)
		return nil
	}
	r.frames++
	r.session.Segments[r.open].Frames = r.frames
	return nil
}

// Stop closes the active session. The open segment is finalized and every
// pending segment close has completed before Stop returns. The returned
// session is owned by the caller.
func (r *Recorder) Stop(now time.Time, cause Cause) (*Session, error) {
	r.mu.Lock()
	if r.session == nil || (r.state != StateRecording && r.state != StateRotating) {
		r.mu.Unlock()
		return nil, ErrNoSession
	}
	if r.open >= 0 {
		r.closeSegment(now)
	}
	// frames arriving while finalizing are no longer recorded
	r.state = StateClosed
	r.mu.Unlock()

	r.closing.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.session
	s.End = now
	s.Cause = cause
	r.session = nil

	r.logger.Info("Session closed", "session", s.ID, "cause", cause, "segments", len(s.Segments))
	r.publish(events.SessionClosedEvent{
		SessionID: s.ID,
		Policy:    string(s.Policy),
		Cause:     string(cause),
		Segments:  len(s.Segments),
		Timestamp: now.Format(time.RFC3339),
	})
	r.state = StateIdle
	return s, nil
}

// StartManual starts a single-file recording independent of sessions.
func (r *Recorder) StartManual(now time.Time, s config.Settings, backend pipeline.Backend) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manual != nil {
		return r.manual.path, ErrManualActive
	}
	path := filepath.Join(r.dir, ManualName(now, s.Location()))
	w, err := r.opener.Open(pipeline.Spec{
		ID:      "manual",
		Kind:    ffmpeg.OutputFile,
		Output:  path,
		Width:   s.Frame.Width,
		Height:  s.Frame.Height,
		FPS:     s.FPS,
		Bitrate: s.Bitrate,
		Backend: backend,
	})
	if err != nil {
		return "", fmt.Errorf("start manual recording: %w", err)
	}
	r.manual = &manualRecording{path: path, writer: w, width: s.Frame.Width, height: s.Frame.Height}
	r.logger.Info("Manual recording started", "path", path)
	r.publish(events.ManualRecordingEvent{Active: true, Path: path, Timestamp: now.Format(time.RFC3339)})
	r.updateIndicator(SourceManual)
	return path, nil
}

// StopManual finalizes the manual recording and returns its path.
func (r *Recorder) StopManual(now time.Time) (string, error) {
	r.mu.Lock()
	m := r.manual
	r.manual = nil
	if m != nil {
		r.updateIndicator(SourceManual)
	}
	r.mu.Unlock()
	if m == nil {
		return "", ErrManualNotActive
	}

	err := m.writer.Close()
	r.logger.Info("Manual recording stopped", "path", m.path, "frames", m.frames, "error", err)
	r.publish(events.ManualRecordingEvent{Active: false, Path: m.path, Timestamp: now.Format(time.RFC3339)})
	if err != nil {
		return m.path, fmt.Errorf("stop manual recording: %w", err)
	}
	return m.path, nil
}

// Manual reports the path of the running manual recording.
func (r *Recorder) Manual() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manual == nil {
		return "", false
	}
	return r.manual.path, true
}

func (r *Recorder) offset(t time.Time) float64 {
	off := t.Sub(r.session.Start).Seconds()
	if off < 0 {
		return 0
	}
	return off
}

// openSegment must be called with mu held.
func (r *Recorder) openSegment(now time.Time, width, height int, s config.Settings) bool {
	if now.Before(r.retryAt) {
		return false
	}
	index := len(r.session.Segments)
	spec := pipeline.Spec{
		ID:      "segment",
		Kind:    ffmpeg.OutputFile,
		Output:  filepath.Join(r.dir, SegmentName(r.session.ID, index)),
		Width:   width,
		Height:  height,
		FPS:     s.FPS,
		Bitrate: s.Bitrate,
		Backend: r.session.Backend,
	}
	w, err := r.opener.Open(spec)
	if err != nil {
		r.failures++
		r.retryAt = now.Add(openRetry)
		r.logger.Error("Opening segment failed", "session", r.session.ID, "index", index, "error", err, "failures", r.failures)
		if r.failures >= maxOpenFailures {
			r.failed = true
		}
		return false
	}
	r.failures = 0

	geometry := fmt.Sprintf("%dx%d", width, height)
	r.session.Segments = append(r.session.Segments, Segment{
		Index:    index,
		Path:     spec.Output,
		Start:    r.offset(now),
		State:    SegmentOpen,
		Geometry: geometry,
		FPS:      s.FPS,
	})
	r.writer, r.spec, r.open, r.frames = w, spec, index, 0

	r.logger.Info("Segment opened", "session", r.session.ID, "index", index, "geometry", geometry)
	r.publish(events.SegmentOpenedEvent{
		SessionID: r.session.ID,
		Index:     index,
		Path:      spec.Output,
		Geometry:  geometry,
		Timestamp: now.Format(time.RFC3339),
	})
	r.updateIndicator(SourceSegment)
	return true
}

// closeSegment stamps the end offset and finalizes the file in the
// background. Stop waits for every pending finalize. Must be called with
// mu held.
func (r *Recorder) closeSegment(now time.Time) {
	seg := &r.session.Segments[r.open]
	end := r.offset(now)
	if end < seg.Start {
		end = seg.Start
	}
	seg.End = &end
	seg.State = SegmentClosed
	seg.Frames = r.frames
	closed := *seg
	sessionID := r.session.ID
	w := r.writer
	r.writer, r.open, r.frames = nil, -1, 0

	r.logger.Info("Segment closed", "session", sessionID, "index", closed.Index, "frames", closed.Frames,
		"start", closed.Start, "end", end)
	r.updateIndicator(SourceSegment)

	r.closing.Add(1)
	go func() {
		defer r.closing.Done()
		if err := w.Close(); err != nil {
			r.logger.Error("Finalizing segment failed", "path", closed.Path, "error", err)
		}
		r.publish(events.SegmentClosedEvent{
			SessionID: sessionID,
			Index:     closed.Index,
			Path:      closed.Path,
			Start:     closed.Start,
			End:       end,
			Frames:    closed.Frames,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}()
}

// rotate closes the open segment and opens the next one. Must be called
// with mu held.
func (r *Recorder) rotate(now time.Time, f *frame.Frame, s config.Settings, reason string) {
	r.state = StateRotating
	r.logger.Debug("Rotating segment", "session", r.session.ID, "reason", reason)
	r.closeSegment(now)
	r.openSegment(now, f.Width, f.Height, s)
	r.state = StateRecording
}

// recordParams appends a ParamEvent when gamma, white balance or color
// mode differ from the previous one. Must be called with mu held.
func (r *Recorder) recordParams(now time.Time, s config.Settings) {
	p := ParamEvent{
		Offset:       r.offset(now),
		Gamma:        s.Gamma,
		WhiteBalance: s.WhiteBalance,
		ColorMode:    s.ColorMode,
	}
	if r.params != nil && r.params.Gamma == p.Gamma && r.params.WhiteBalance == p.WhiteBalance &&
		r.params.ColorMode == p.ColorMode {
		return
	}
	r.session.Params = append(r.session.Params, p)
	r.params = &r.session.Params[len(r.session.Params)-1]
	r.publish(events.ParamChangedEvent{
		SessionID:    r.session.ID,
		Offset:       p.Offset,
		Gamma:        p.Gamma,
		WhiteBalance: string(p.WhiteBalance),
		ColorMode:    string(p.ColorMode),
		Timestamp:    now.Format(time.RFC3339),
	})
}

// writeManual feeds the manual recording, scaling to its geometry. Must be
// called with mu held.
func (r *Recorder) writeManual(f *frame.Frame) {
	m := r.manual
	if m == nil {
		return
	}
	src := f
	if f.Width != m.width || f.Height != m.height {
		src = frame.Resize(f, m.width, m.height)
	}
	if err := m.writer.WriteFrame(src); err != nil {
		if pipeline.IsStructural(err) {
			r.logger.Error("Manual recording output broke", "path", m.path, "error", err)
			r.manual = nil
			r.updateIndicator(SourceManual)
			go r.closeManualWriter(m)
		}
		return
	}
	m.frames++
}

// closeManualWriter releases the writer of a manual recording whose output
// broke. The file is left as ffmpeg wrote it.
func (r *Recorder) closeManualWriter(m *manualRecording) {
	if err := m.writer.Close(); err != nil {
		r.logger.Error("Closing broken manual recording failed", "path", m.path, "error", err)
		return
	}
	r.logger.Warn("Manual recording stopped after output failure", "path", m.path, "frames", m.frames)
}

// updateIndicator publishes the indicator when it flips. Must be called
// with mu held.
func (r *Recorder) updateIndicator(source string) {
	on := r.open >= 0 || r.manual != nil
	if on == r.indicator {
		return
	}
	r.indicator = on
	r.publish(events.RecordingIndicatorEvent{
		Recording: on,
		Source:    source,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (r *Recorder) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
