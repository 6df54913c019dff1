// Package orchestrator runs the frame loop and owns the single active
// recording session. Scheduler events and operator commands start and stop
// sessions; closed sessions are handed to the merge worker.
package orchestrator

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/frame"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/merge"
	"github.com/smazurov/camkeeper/internal/metrics"
	"github.com/smazurov/camkeeper/internal/motion"
	"github.com/smazurov/camkeeper/internal/mux"
	"github.com/smazurov/camkeeper/internal/pipeline"
	"github.com/smazurov/camkeeper/internal/recorder"
	"github.com/smazurov/camkeeper/internal/scheduler"
	"github.com/smazurov/camkeeper/internal/status"
)

// Bounded waits for the previous session to close.
const (
	StopTimeout       = 10 * time.Second
	CheckpointTimeout = 15 * time.Second
)

// Store is the settings store. *config.Store implements it.
type Store interface {
	Snapshot() config.Settings
	Subscribe(mask config.Field, buffer int) (<-chan config.Change, func())
}

// FrameSource produces camera frames. *capture.FFmpegSource implements it.
type FrameSource interface {
	Run(ctx context.Context, out chan<- *frame.Frame) error
}

// fpsSetter is implemented by sources that can change rate at runtime.
type fpsSetter interface {
	SetFPS(fps int) error
}

// Outputs are the live sinks. *mux.Mux implements it.
type Outputs interface {
	Run(ctx context.Context)
	PushLive(f, view *frame.Frame)
	Reconfigure()
	NewSession()
	Enable(name string) error
	Stats() []mux.Stats
}

// Detector decides motion per frame. *motion.Detector implements it.
type Detector interface {
	Detect(f *frame.Frame, roi image.Rectangle) motion.Result
	Reset()
}

// Merges runs merge jobs. *merge.Worker implements it.
type Merges interface {
	Run(ctx context.Context)
	Submit(job merge.Job) error
	Pending() int
	Current() (merge.Job, bool)
}

// Backends picks the encoder backend of a session. *pipeline.Resolver
// implements it.
type Backends interface {
	Resolve(ctx context.Context) pipeline.Backend
}

// Restarter restarts the service.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Options wires the collaborators. Scheduler, Pending, Sampler, Restarter
// and Bus may be nil.
type Options struct {
	Thing     string
	Version   string
	Store     Store
	Source    FrameSource
	Recorder  *recorder.Recorder
	Outputs   Outputs
	Detector  Detector
	Scheduler *scheduler.Scheduler
	Merges    Merges
	Backends  Backends
	Pending   merge.Pending
	Metrics   *metrics.Metrics
	Sampler   *status.Sampler
	Links     *status.Links
	Restarter Restarter
	Bus       *events.Bus
	// Overlay draws the ROI and the last motion vectors on the live feed.
	Overlay bool
	Now     func() time.Time
}

// Orchestrator coordinates capture, recording, live outputs and merges.
type Orchestrator struct {
	opts   Options
	logger logging.Logger
	now    func() time.Time

	cond *frame.Conditioner

	// lifecycle serializes session start, stop and checkpoint
	lifecycle sync.Mutex
	window    time.Time
	hardStop  *time.Timer

	active  atomic.Pointer[activeSession]
	failing atomic.Bool

	runCtx atomic.Pointer[context.Context]
}

type activeSession struct {
	id     string
	policy config.Policy
}

// New creates an orchestrator.
func New(opts Options, logger logging.Logger) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		opts:   opts,
		logger: logger,
		now:    now,
		cond:   frame.NewConditioner(),
	}
}

// Run recovers orphaned segments, starts every loop and blocks until ctx
// is done. The active session is closed and handed to the merge worker
// before the worker is stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx.Store(&ctx)
	mergeCtx, stopMerges := context.WithCancel(context.WithoutCancel(ctx))
	defer stopMerges()

	var (
		loops  sync.WaitGroup
		merges sync.WaitGroup
	)
	merges.Add(1)
	go func() {
		defer merges.Done()
		o.opts.Merges.Run(mergeCtx)
	}()

	o.recover(ctx)

	frames := make(chan *frame.Frame, 2)
	schedEvents := make(chan scheduler.Event, 4)
	run := func(fn func()) {
		loops.Add(1)
		go func() {
			defer loops.Done()
			fn()
		}()
	}
	run(func() { o.opts.Outputs.Run(ctx) })
	run(func() { o.watchSettings(ctx) })
	run(func() {
		if err := o.opts.Source.Run(ctx, frames); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("Frame source stopped", "error", err)
		}
	})
	run(func() { o.frameLoop(ctx, frames) })
	if o.opts.Scheduler != nil {
		run(func() {
			if err := o.opts.Scheduler.Run(ctx, schedEvents); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("Scheduler stopped", "error", err)
			}
		})
		run(func() { o.schedulerLoop(ctx, schedEvents) })
	}
	if o.opts.Sampler != nil {
		run(func() { o.opts.Sampler.Run(ctx) })
	}

	<-ctx.Done()
	o.logger.Info("Shutting down orchestrator")
	if _, err := o.stopSession(context.Background(), "", recorder.CauseExternalStop, StopTimeout); err != nil &&
		!errors.Is(err, recorder.ErrNoSession) {
		o.logger.Error("Closing session on shutdown failed", "error", err)
	}
	if _, err := o.opts.Recorder.StopManual(o.now()); err == nil {
		o.logger.Info("Manual recording finalized on shutdown")
	}
	loops.Wait()
	stopMerges()
	merges.Wait()
	return nil
}

// recover re-queues sessions left unmerged by a previous run.
func (o *Orchestrator) recover(ctx context.Context) {
	jobs, err := merge.Recover(ctx, o.opts.Recorder.Dir(), o.opts.Pending, "", o.logger)
	if err != nil {
		o.logger.Error("Recovery scan failed", "dir", o.opts.Recorder.Dir(), "error", err)
		return
	}
	for _, job := range jobs {
		if err := o.opts.Merges.Submit(job); err != nil {
			o.logger.Warn("Recovered merge not queued", "session", job.SessionID, "error", err)
		}
	}
	if len(jobs) > 0 {
		o.logger.Info("Recovered orphaned sessions", "sessions", len(jobs))
	}
}

// watchSettings republishes accepted updates and reconfigures the
// outputs when encoding parameters change.
func (o *Orchestrator) watchSettings(ctx context.Context) {
	changes, unsub := o.opts.Store.Subscribe(^config.Field(0), 16)
	defer unsub()

	o.opts.Metrics.SettingsVersion(o.opts.Store.Snapshot().Version)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			o.opts.Metrics.SettingsVersion(c.New.Version)
			o.publish(events.SettingsChangedEvent{
				Version:   c.New.Version,
				Fields:    c.Fields.Names(),
				Timestamp: o.now().Format(time.RFC3339),
			})
			if c.Fields.Has(config.FieldFPS | config.FieldBitrate) {
				o.opts.Outputs.Reconfigure()
			}
			if c.Fields.Has(config.FieldFPS) {
				if src, ok := o.opts.Source.(fpsSetter); ok {
					if err := src.SetFPS(c.New.FPS); err != nil {
						o.logger.Warn("Changing capture rate failed", "fps", c.New.FPS, "error", err)
					}
				}
			}
		}
	}
}

func (o *Orchestrator) publish(e events.Event) {
	if o.opts.Bus != nil {
		o.opts.Bus.Publish(e)
	}
}

// context returns the Run context, or Background before Run.
func (o *Orchestrator) context() context.Context {
	if p := o.runCtx.Load(); p != nil {
		return *p
	}
	return context.Background()
}
