package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/frame"
	"github.com/smazurov/camkeeper/internal/motion"
	"github.com/smazurov/camkeeper/internal/recorder"
)

// frameState is owned by the frame loop goroutine.
type frameState struct {
	session string
	motion  bool
	vectors []frame.Segment
}

func (o *Orchestrator) frameLoop(ctx context.Context, frames <-chan *frame.Frame) {
	var st frameState
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			o.handleFrame(f, &st)
		}
	}
}

// handleFrame runs one frame through conditioning, motion detection, the
// recorder and the live outputs, all against one settings snapshot.
func (o *Orchestrator) handleFrame(f *frame.Frame, st *frameState) {
	s := o.opts.Store.Snapshot()
	f = o.prepare(f, s)
	o.opts.Metrics.Frame()

	active := o.active.Load()
	motionNow := false
	if active != nil && active.policy == config.PolicyMotion {
		if st.session != active.id {
			o.opts.Detector.Reset()
			st.session, st.motion, st.vectors = active.id, false, nil
		}
		roi := s.ROI.Clip(f.Width, f.Height)
		res := o.opts.Detector.Detect(f, roi.Image())
		motionNow = res.Motion
		if res.Motion {
			st.vectors = res.Segments()
		}
		o.motionEdge(st, res)
	} else if st.motion {
		o.motionEdge(st, motion.Result{})
	}

	if err := o.opts.Recorder.Frame(f, motionNow, s); errors.Is(err, recorder.ErrSessionFailed) {
		o.failSession(active)
	}

	var live bool
	if s.Policy == config.PolicyMotion {
		live = !motionNow
	} else {
		live = !o.opts.Recorder.Recording()
	}
	if !live {
		o.opts.Outputs.PushLive(f, nil)
		return
	}
	view := f
	if o.opts.Overlay && s.Policy == config.PolicyMotion {
		view = f.Clone()
		frame.DrawRect(view, s.ROI.Clip(f.Width, f.Height).Image(), frame.Green)
		frame.DrawVectors(view, st.vectors, frame.Red)
	}
	o.opts.Outputs.PushLive(f, view)
}

// prepare resizes f to the configured geometry and applies the image
// adjustments in place.
func (o *Orchestrator) prepare(f *frame.Frame, s config.Settings) *frame.Frame {
	f = frame.Resize(f, s.Frame.Width, s.Frame.Height)
	o.cond.Apply(f, frame.Adjustments{
		Gamma:     s.Gamma,
		AutoWhite: s.WhiteBalance == config.WhiteBalanceAuto,
		Grayscale: s.ColorMode == config.ColorGray,
	})
	return f
}

// motionEdge publishes motion state changes only.
func (o *Orchestrator) motionEdge(st *frameState, res motion.Result) {
	if res.Motion == st.motion {
		return
	}
	st.motion = res.Motion
	o.opts.Metrics.Motion(res.Motion)
	o.publish(events.MotionStateEvent{
		Motion:    res.Motion,
		Moving:    res.Moving,
		Tracked:   res.Tracked,
		Timestamp: o.now().Format(time.RFC3339),
	})
}

// failSession stops a session whose segments cannot be opened. It runs
// once per session, off the frame loop.
func (o *Orchestrator) failSession(active *activeSession) {
	if active == nil || !o.failing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer o.failing.Store(false)
		o.logger.Error("Session cannot record, stopping", "session", active.id)
		if _, err := o.stopSession(o.context(), active.id, recorder.CauseError, StopTimeout); err != nil &&
			!errors.Is(err, recorder.ErrNoSession) {
			o.logger.Error("Stopping failed session", "session", active.id, "error", err)
		}
	}()
}
