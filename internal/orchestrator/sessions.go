package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/merge"
	"github.com/smazurov/camkeeper/internal/recorder"
	"github.com/smazurov/camkeeper/internal/scheduler"
)

// ErrStopTimeout is returned when the previous session did not close
// within the bounded wait.
var ErrStopTimeout = errors.New("previous session did not close in time")

// startRequest describes a session to start.
type startRequest struct {
	policy   config.Policy
	duration time.Duration
	window   time.Time
	bound    time.Duration
	reason   string
}

func (o *Orchestrator) schedulerLoop(ctx context.Context, in <-chan scheduler.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-in:
			o.handleSchedulerEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleSchedulerEvent(ctx context.Context, ev scheduler.Event) {
	switch ev.Kind {
	case scheduler.SessionStart:
		_, err := o.startSession(ctx, startRequest{
			policy:   ev.Policy,
			duration: ev.Duration,
			window:   ev.Window,
			bound:    StopTimeout,
			reason:   "scheduler",
		})
		if err != nil {
			o.logger.Error("Scheduled session not started", "policy", ev.Policy, "window", ev.Window, "error", err)
		}

	case scheduler.SessionStop:
		o.lifecycle.Lock()
		active := o.active.Load()
		matches := active != nil && active.policy == ev.Policy &&
			(ev.Policy != config.PolicySchedule || o.window.Equal(ev.Window))
		o.lifecycle.Unlock()
		if !matches {
			o.logger.Debug("Ignoring stop for a session that is not running", "policy", ev.Policy, "window", ev.Window)
			return
		}
		cause := recorder.CauseExternalStop
		if ev.Policy == config.PolicySchedule {
			cause = recorder.CauseTimeout
		}
		if _, err := o.stopSession(ctx, active.id, cause, StopTimeout); err != nil && !errors.Is(err, recorder.ErrNoSession) {
			o.logger.Error("Scheduled stop failed", "session", active.id, "error", err)
		}

	case scheduler.Checkpoint:
		if err := o.checkpoint(ctx); err != nil {
			o.logger.Error("Merge checkpoint failed", "error", err)
		}
	}
}

// startSession force-stops any active session, waiting at most
// req.bound, then starts a new one.
func (o *Orchestrator) startSession(ctx context.Context, req startRequest) (string, error) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	return o.startLocked(ctx, req)
}

func (o *Orchestrator) startLocked(ctx context.Context, req startRequest) (string, error) {
	if prev := o.active.Load(); prev != nil {
		o.logger.Info("Stopping active session before starting a new one", "session", prev.id, "reason", req.reason)
		if _, err := o.stopLocked(prev.id, recorder.CauseExternalStop, req.bound); err != nil &&
			!errors.Is(err, recorder.ErrNoSession) {
			return "", err
		}
	}

	s := o.opts.Store.Snapshot()
	s.Policy = req.policy
	backend := o.opts.Backends.Resolve(ctx)
	o.opts.Outputs.NewSession()

	sess, err := o.opts.Recorder.Start(o.now(), s, backend)
	if err != nil {
		return "", err
	}
	o.active.Store(&activeSession{id: sess.ID, policy: sess.Policy})
	o.window = req.window
	if req.duration > 0 {
		id := sess.ID
		o.hardStop = time.AfterFunc(req.duration, func() {
			o.logger.Info("Session duration reached", "session", id)
			if _, err := o.stopSession(o.context(), id, recorder.CauseTimeout, StopTimeout); err != nil &&
				!errors.Is(err, recorder.ErrNoSession) {
				o.logger.Error("Hard stop failed", "session", id, "error", err)
			}
		})
	}
	o.logger.Info("Session started", "session", sess.ID, "policy", sess.Policy, "backend", backend,
		"duration", req.duration, "reason", req.reason)
	return sess.ID, nil
}

// stopSession stops the active session. A non-empty id only stops that
// session.
func (o *Orchestrator) stopSession(_ context.Context, id string, cause recorder.Cause, bound time.Duration) (string, error) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	return o.stopLocked(id, cause, bound)
}

func (o *Orchestrator) stopLocked(id string, cause recorder.Cause, bound time.Duration) (string, error) {
	active := o.active.Load()
	if active == nil || (id != "" && active.id != id) {
		return "", recorder.ErrNoSession
	}
	if o.hardStop != nil {
		o.hardStop.Stop()
		o.hardStop = nil
	}
	o.window = time.Time{}

	// finalizing runs on its own so a stuck encoder cannot hold the
	// lifecycle beyond bound; the handoff still happens when it finishes
	done := make(chan error, 1)
	go func() {
		sess, err := o.opts.Recorder.Stop(o.now(), cause)
		if err == nil {
			o.handoff(sess)
		}
		done <- err
	}()

	select {
	case err := <-done:
		o.active.CompareAndSwap(active, nil)
		if err != nil {
			return active.id, fmt.Errorf("stop session %s: %w", active.id, err)
		}
		return active.id, nil
	case <-time.After(bound):
		go func() {
			<-done
			o.active.CompareAndSwap(active, nil)
		}()
		return active.id, fmt.Errorf("session %s: %w (%s)", active.id, ErrStopTimeout, bound)
	}
}

// handoff queues the merge of a closed session.
func (o *Orchestrator) handoff(sess *recorder.Session) {
	if len(sess.Segments) == 0 {
		o.logger.Info("Session recorded no segments, nothing to merge", "session", sess.ID)
		return
	}
	job := merge.NewJob(sess.ID, sess.Paths())
	if err := o.opts.Merges.Submit(job); err != nil {
		o.logger.Error("Merge not queued, segments kept for recovery", "session", sess.ID, "error", err)
	}
}

// checkpoint closes the motion session, merges what it recorded and
// starts a fresh one.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if active := o.active.Load(); active != nil {
		if _, err := o.stopLocked(active.id, recorder.CauseExternalStop, CheckpointTimeout); err != nil &&
			!errors.Is(err, recorder.ErrNoSession) {
			return err
		}
	}
	if o.opts.Store.Snapshot().Policy != config.PolicyMotion {
		return nil
	}
	_, err := o.startLocked(ctx, startRequest{
		policy: config.PolicyMotion,
		bound:  CheckpointTimeout,
		reason: "checkpoint",
	})
	return err
}
