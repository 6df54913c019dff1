package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/control"
	"github.com/smazurov/camkeeper/internal/mux"
	"github.com/smazurov/camkeeper/internal/recorder"
	"github.com/smazurov/camkeeper/internal/scheduler"
	"github.com/smazurov/camkeeper/internal/status"
)

// restartDelay lets the command response go out before the service stops.
const restartDelay = 500 * time.Millisecond

var _ control.Handler = (*Orchestrator)(nil)

// StartSession starts a session under the current policy, replacing any
// active one.
func (o *Orchestrator) StartSession(ctx context.Context) (string, error) {
	return o.startSession(ctx, startRequest{
		policy: o.opts.Store.Snapshot().Policy,
		bound:  StopTimeout,
		reason: "command",
	})
}

// StopSession stops the active session.
func (o *Orchestrator) StopSession(ctx context.Context) (string, error) {
	return o.stopSession(ctx, "", recorder.CauseExternalStop, StopTimeout)
}

// StartManual starts a single-file recording.
func (o *Orchestrator) StartManual(ctx context.Context) (string, error) {
	return o.opts.Recorder.StartManual(o.now(), o.opts.Store.Snapshot(), o.opts.Backends.Resolve(ctx))
}

// StopManual finalizes the manual recording.
func (o *Orchestrator) StopManual(_ context.Context) (string, error) {
	return o.opts.Recorder.StopManual(o.now())
}

// EnableHLS re-enables the HLS sink after a structural failure.
func (o *Orchestrator) EnableHLS(_ context.Context) error {
	return o.opts.Outputs.Enable(mux.SinkHLS)
}

// Restart restarts the service shortly after returning.
func (o *Orchestrator) Restart(_ context.Context) error {
	if o.opts.Restarter == nil {
		return fmt.Errorf("restart: %w", control.ErrUnsupported)
	}
	o.logger.Warn("Service restart requested")
	time.AfterFunc(restartDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.opts.Restarter.Restart(ctx); err != nil {
			o.logger.Error("Service restart failed", "error", err)
		}
	})
	return nil
}

// Status implements control.Handler.
func (o *Orchestrator) Status(ctx context.Context) any {
	return o.Report(ctx)
}

// Report assembles the device status.
func (o *Orchestrator) Report(_ context.Context) status.Report {
	s := o.opts.Store.Snapshot()
	now := o.now()
	r := status.Report{
		ThingName: o.opts.Thing,
		Status:    "online",
		Version:   o.opts.Version,
		Timestamp: now.Format(time.RFC3339),
		Policy:    s.Policy,
		State:     o.opts.Recorder.State().String(),
		Sinks:     o.opts.Outputs.Stats(),
		Links:     o.opts.Links.Snapshot(),
		Counters:  o.opts.Metrics.Summary(),
		Settings:  s.View(),
	}
	if sess := o.opts.Recorder.Session(); sess != nil {
		r.SessionID = sess.ID
	}
	if seg, ok := o.opts.Recorder.OpenSegment(); ok {
		r.OpenSegment = seg.Path
	}
	r.ManualPath, r.ManualRecording = o.opts.Recorder.Manual()

	window := s.Schedule
	if s.Policy == config.PolicyMotion {
		window = s.Checkpoint
	}
	if next, err := scheduler.NextOccurrence(now, window.At, window.Days, s.Location()); err == nil {
		r.NextWindow = next.Format(time.RFC3339)
	}

	r.MergesPending = o.opts.Merges.Pending()
	if job, ok := o.opts.Merges.Current(); ok {
		r.MergeRunning = job.SessionID
	}
	if o.opts.Sampler != nil {
		r.System = o.opts.Sampler.Latest()
	}
	return r
}
