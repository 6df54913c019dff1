// Package mux fans every captured frame out to the two live outputs. Each
// output has its own queue and goroutine, so a slow or broken output never
// stalls the frame loop, the recorder or the other output.
package mux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/frame"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/pipeline"
)

// Sink names.
const (
	SinkLive = "live"
	SinkHLS  = "hls"
)

// Frame results reported to the Observer.
const (
	ResultWritten = "written"
	ResultDropped = "dropped"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// OpenFunc starts an output for frames shaped like f.
type OpenFunc func(f *frame.Frame) (pipeline.Writer, error)

// Observer receives per-frame results and state changes, e.g. metrics.
type Observer interface {
	SinkFrame(sink, result string)
	SinkEnabled(sink string, enabled bool)
}

// SinkConfig configures one output.
type SinkConfig struct {
	Name  string
	Queue int
	Open  OpenFunc
}

// Stats is a snapshot of one sink's counters.
type Stats struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Skipped uint64 `json:"skipped"`
}

// Mux owns the live and HLS workers.
type Mux struct {
	live *worker
	hls  *worker
}

// New creates the multiplexer. bus and obs may be nil.
func New(live, hls SinkConfig, bus *events.Bus, obs Observer, logger logging.Logger) *Mux {
	return &Mux{
		live: newWorker(live, bus, obs, logger),
		hls:  newWorker(hls, bus, obs, logger),
	}
}

// Run starts both workers and blocks until ctx is done and both have
// closed their outputs.
func (m *Mux) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range []*worker{m.live, m.hls} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	wg.Wait()
}

// PushLive hands f to the HLS sink and view, usually f with an overlay,
// to the live sink. A nil view leaves the live sink unfed. It never
// blocks; neither frame may be modified afterwards.
func (m *Mux) PushLive(f, view *frame.Frame) {
	m.hls.push(f)
	if view != nil {
		m.live.push(view)
	}
}

// Reconfigure makes both sinks reopen their outputs on the next frame, used
// when the frame rate or bitrate changes.
func (m *Mux) Reconfigure() {
	m.live.generation.Add(1)
	m.hls.generation.Add(1)
}

// NewSession re-enables sinks disabled during the previous session.
func (m *Mux) NewSession() {
	m.live.enable("new session")
	m.hls.enable("new session")
}

// Enable re-enables a disabled sink by name.
func (m *Mux) Enable(name string) error {
	switch name {
	case SinkLive:
		m.live.enable("operator request")
	case SinkHLS:
		m.hls.enable("operator request")
	default:
		return fmt.Errorf("mux: unknown sink %q", name)
	}
	return nil
}

// Stats reports both sinks.
func (m *Mux) Stats() []Stats {
	return []Stats{m.live.stats(), m.hls.stats()}
}

type worker struct {
	name   string
	open   OpenFunc
	queue  chan *frame.Frame
	bus    *events.Bus
	obs    Observer
	logger logging.Logger

	generation atomic.Uint64

	mu      sync.Mutex
	enabled bool
	reason  string

	written, dropped, skipped atomic.Uint64

	// owned by the run goroutine
	writer   pipeline.Writer
	geometry string
	gen      uint64
}

func newWorker(cfg SinkConfig, bus *events.Bus, obs Observer, logger logging.Logger) *worker {
	queue := cfg.Queue
	if queue <= 0 {
		queue = 4
	}
	return &worker{
		name:    cfg.Name,
		open:    cfg.Open,
		queue:   make(chan *frame.Frame, queue),
		bus:     bus,
		obs:     obs,
		logger:  logger,
		enabled: true,
	}
}

func (w *worker) push(f *frame.Frame) {
	if !w.isEnabled() {
		return
	}
	select {
	case w.queue <- f:
	default:
		if n := w.dropped.Add(1); n%100 == 1 {
			w.logger.Warn("Sink queue full, dropping frames", "sink", w.name, "dropped", n)
		}
		w.observe(ResultDropped)
	}
}

func (w *worker) run(ctx context.Context) {
	defer w.closeWriter()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-w.queue:
			w.write(f)
		}
	}
}

func (w *worker) write(f *frame.Frame) {
	if !w.isEnabled() {
		w.closeWriter()
		return
	}
	gen := w.generation.Load()
	if w.writer != nil && (w.geometry != f.Geometry() || w.gen != gen) {
		w.closeWriter()
	}
	if w.writer == nil {
		writer, err := w.open(f)
		if err != nil {
			w.disable(fmt.Sprintf("open failed: %v", err))
			w.observe(ResultFailed)
			return
		}
		w.writer, w.geometry, w.gen = writer, f.Geometry(), gen
		w.logger.Info("Sink opened", "sink", w.name, "geometry", w.geometry)
	}

	err := w.writer.WriteFrame(f)
	switch {
	case err == nil:
		w.written.Add(1)
		w.observe(ResultWritten)
	case pipeline.IsStructural(err):
		w.observe(ResultFailed)
		w.closeWriter()
		w.disable(err.Error())
	default:
		if n := w.skipped.Add(1); n%100 == 1 {
			w.logger.Warn("Sink write failed, frame skipped", "sink", w.name, "error", err, "skipped", n)
		}
		w.observe(ResultSkipped)
	}
}

func (w *worker) closeWriter() {
	if w.writer == nil {
		return
	}
	if err := w.writer.Close(); err != nil {
		w.logger.Warn("Closing sink failed", "sink", w.name, "error", err)
	}
	w.writer = nil
	w.geometry = ""
}

func (w *worker) isEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

func (w *worker) disable(reason string) {
	w.mu.Lock()
	if !w.enabled {
		w.mu.Unlock()
		return
	}
	w.enabled = false
	w.reason = reason
	w.mu.Unlock()

	w.logger.Error("Sink disabled for the rest of the session", "sink", w.name, "reason", reason)
	w.announce(false, reason)
}

func (w *worker) enable(reason string) {
	w.mu.Lock()
	if w.enabled {
		w.mu.Unlock()
		return
	}
	w.enabled = true
	w.reason = ""
	w.mu.Unlock()

	w.logger.Info("Sink re-enabled", "sink", w.name, "reason", reason)
	w.announce(true, reason)
}

func (w *worker) announce(enabled bool, reason string) {
	if w.obs != nil {
		w.obs.SinkEnabled(w.name, enabled)
	}
	if w.bus != nil {
		w.bus.Publish(events.SinkStateEvent{
			Sink:      w.name,
			Enabled:   enabled,
			Reason:    reason,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

func (w *worker) observe(result string) {
	if w.obs != nil {
		w.obs.SinkFrame(w.name, result)
	}
}

func (w *worker) stats() Stats {
	w.mu.Lock()
	enabled, reason := w.enabled, w.reason
	w.mu.Unlock()
	return Stats{
		Name:    w.name,
		Enabled: enabled,
		Reason:  reason,
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Skipped: w.skipped.Load(),
	}
}
