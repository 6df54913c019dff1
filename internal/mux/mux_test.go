package mux

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/frame"
	"github.com/smazurov/camkeeper/internal/pipeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWriter struct {
	mu       sync.Mutex
	frames   []uint64
	closed   bool
	failWith func(n int) error
}

func (w *fakeWriter) WriteFrame(f *frame.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		if err := w.failWith(len(w.frames)); err != nil {
			w.frames = append(w.frames, 0)
			return err
		}
	}
	w.frames = append(w.frames, f.Seq)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

type fakeOpener struct {
	mu      sync.Mutex
	writers []*fakeWriter
	err     error
	make    func() *fakeWriter
}

func (o *fakeOpener) open(_ *frame.Frame) (pipeline.Writer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	w := &fakeWriter{}
	if o.make != nil {
		w = o.make()
	}
	o.writers = append(o.writers, w)
	return w, nil
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.writers)
}

func (o *fakeOpener) last() *fakeWriter {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.writers) == 0 {
		return nil
	}
	return o.writers[len(o.writers)-1]
}

func newFrame(seq uint64, w, h int) *frame.Frame {
	f := frame.New(w, h, frame.RGB24)
	f.Seq = seq
	return f
}

func startMux(t *testing.T, live, hls *fakeOpener, bus *events.Bus) *Mux {
	t.Helper()
	m := New(
		SinkConfig{Name: SinkLive, Queue: 16, Open: live.open},
		SinkConfig{Name: SinkHLS, Queue: 16, Open: hls.open},
		bus, nil, discardLogger(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

// push feeds f to HLS and, when live, unchanged to the live sink.
func push(m *Mux, f *frame.Frame, live bool) {
	var view *frame.Frame
	if live {
		view = f
	}
	m.PushLive(f, view)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPushLiveGatesLiveOnly(t *testing.T) {
	live, hls := &fakeOpener{}, &fakeOpener{}
	m := startMux(t, live, hls, nil)

	push(m, newFrame(1, 4, 4), true)
	push(m, newFrame(2, 4, 4), false)
	push(m, newFrame(3, 4, 4), true)

	eventually(t, "hls frames", func() bool { return hls.last() != nil && hls.last().count() == 3 })
	eventually(t, "live frames", func() bool { return live.last() != nil && live.last().count() == 2 })
}

func TestPushLiveSendsView(t *testing.T) {
	live, hls := &fakeOpener{}, &fakeOpener{}
	m := startMux(t, live, hls, nil)

	m.PushLive(newFrame(1, 4, 4), newFrame(1, 4, 4))
	m.PushLive(newFrame(2, 4, 4), nil)

	eventually(t, "hls frames", func() bool { return hls.last() != nil && hls.last().count() == 2 })
	eventually(t, "live frames", func() bool { return live.last() != nil && live.last().count() == 1 })
}

func TestOpenFailureDisablesOnlyThatSink(t *testing.T) {
	bus := events.New()
	got := make(chan events.SinkStateEvent, 4)
	bus.Subscribe(func(e events.SinkStateEvent) { got <- e })

	live := &fakeOpener{err: &pipeline.Error{Kind: pipeline.Structural, Sink: SinkLive, Err: errors.New("no server")}}
	hls := &fakeOpener{}
	m := startMux(t, live, hls, bus)

	for i := range 5 {
		push(m, newFrame(uint64(i+1), 4, 4), true)
	}
	select {
	case e := <-got:
		if e.Sink != SinkLive || e.Enabled {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sink state event")
	}
	eventually(t, "hls frames", func() bool { return hls.last() != nil && hls.last().count() == 5 })

	stats := m.Stats()
	if stats[0].Enabled || stats[0].Reason == "" {
		t.Errorf("live stats = %+v, want disabled with reason", stats[0])
	}
	if !stats[1].Enabled {
		t.Error("hls should stay enabled")
	}

	live.mu.Lock()
	live.err = nil
	live.mu.Unlock()
	m.NewSession()
	push(m, newFrame(6, 4, 4), true)
	eventually(t, "live reopened", func() bool { return live.last() != nil && live.last().count() == 1 })
}

func TestTransientErrorSkipsFrame(t *testing.T) {
	live := &fakeOpener{}
	hls := &fakeOpener{make: func() *fakeWriter {
		return &fakeWriter{failWith: func(n int) error {
			if n == 1 {
				return &pipeline.Error{Kind: pipeline.Transient, Sink: SinkHLS, Err: errors.New("EAGAIN")}
			}
			return nil
		}}
	}}
	m := startMux(t, live, hls, nil)
	for i := range 3 {
		push(m, newFrame(uint64(i+1), 4, 4), false)
	}
	eventually(t, "all frames attempted", func() bool { return hls.last() != nil && hls.last().count() == 3 })
	if hls.opened() != 1 {
		t.Errorf("writer reopened %d times after transient error", hls.opened())
	}
	if s := m.Stats()[1]; s.Skipped != 1 || s.Written != 2 || !s.Enabled {
		t.Errorf("hls stats = %+v", s)
	}
}

func TestStructuralWriteErrorClosesAndDisables(t *testing.T) {
	live := &fakeOpener{make: func() *fakeWriter {
		return &fakeWriter{failWith: func(int) error {
			return &pipeline.Error{Kind: pipeline.Structural, Sink: SinkLive, Err: pipeline.ErrExited}
		}}
	}}
	hls := &fakeOpener{}
	m := startMux(t, live, hls, nil)
	push(m, newFrame(1, 4, 4), true)

	eventually(t, "live disabled", func() bool { return !m.Stats()[0].Enabled })
	eventually(t, "writer closed", func() bool {
		w := live.last()
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.closed
	})
	push(m, newFrame(2, 4, 4), true)
	eventually(t, "hls frames", func() bool { return hls.last() != nil && hls.last().count() == 2 })
	if live.opened() != 1 {
		t.Errorf("disabled sink reopened")
	}
}

func TestGeometryChangeReopens(t *testing.T) {
	live, hls := &fakeOpener{}, &fakeOpener{}
	m := startMux(t, live, hls, nil)
	push(m, newFrame(1, 4, 4), false)
	push(m, newFrame(2, 8, 6), false)
	eventually(t, "second writer", func() bool { return hls.opened() == 2 && hls.last().count() == 1 })

	hls.mu.Lock()
	first := hls.writers[0]
	hls.mu.Unlock()
	first.mu.Lock()
	defer first.mu.Unlock()
	if !first.closed || len(first.frames) != 1 {
		t.Errorf("first writer closed=%v frames=%d", first.closed, len(first.frames))
	}
}

func TestReconfigureReopens(t *testing.T) {
	live, hls := &fakeOpener{}, &fakeOpener{}
	m := startMux(t, live, hls, nil)
	push(m, newFrame(1, 4, 4), false)
	eventually(t, "first frame", func() bool { return hls.last() != nil && hls.last().count() == 1 })
	m.Reconfigure()
	push(m, newFrame(2, 4, 4), false)
	eventually(t, "reopened", func() bool { return hls.opened() == 2 })
}

func TestFullQueueDrops(t *testing.T) {
	live, hls := &fakeOpener{}, &fakeOpener{}
	m := New(
		SinkConfig{Name: SinkLive, Queue: 2, Open: live.open},
		SinkConfig{Name: SinkHLS, Queue: 2, Open: hls.open},
		nil, nil, discardLogger(),
	)
	// workers not running: the queue fills up
	for i := range 5 {
		push(m, newFrame(uint64(i+1), 4, 4), true)
	}
	for _, s := range m.Stats() {
		if s.Dropped != 3 {
			t.Errorf("%s dropped = %d, want 3", s.Name, s.Dropped)
		}
	}
}

func TestEnableUnknownSink(t *testing.T) {
	m := New(SinkConfig{Name: SinkLive}, SinkConfig{Name: SinkHLS}, nil, nil, discardLogger())
	if err := m.Enable("webrtc"); err == nil {
		t.Error("expected error for unknown sink")
	}
	if err := m.Enable(SinkHLS); err != nil {
		t.Errorf("Enable(hls) error: %v", err)
	}
}
