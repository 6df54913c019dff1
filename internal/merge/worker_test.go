package merge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camkeeper/internal/catalog"
	"github.com/smazurov/camkeeper/internal/events"
)

type fakeMerger struct {
	mu      sync.Mutex
	jobs    []string
	block   chan struct{}
	started chan string
	err     error
}

func (m *fakeMerger) Merge(ctx context.Context, job Job) (Result, error) {
	if m.started != nil {
		m.started <- job.SessionID
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return Result{Job: job}, ctx.Err()
		}
	}
	m.mu.Lock()
	m.jobs = append(m.jobs, job.SessionID)
	m.mu.Unlock()
	if m.err != nil {
		return Result{Job: job}, m.err
	}
	return Result{Job: job, Path: PathFast, Inputs: len(job.Inputs)}, nil
}

type fakeObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *fakeObserver) MergeFinished(path string, ok bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ok {
		o.results = append(o.results, path)
	} else {
		o.results = append(o.results, "failed")
	}
}

func TestWorkerRunsJobsOnceAndPublishes(t *testing.T) {
	bus := events.New()
	completed := make(chan events.MergeCompletedEvent, 4)
	bus.Subscribe(func(e events.MergeCompletedEvent) { completed <- e })

	m := &fakeMerger{block: make(chan struct{})}
	obs := &fakeObserver{}
	w := NewWorker(m, 4, bus, obs, discardLogger())

	job := NewJob("20260105_094000", []string{"/rec/20260105_094000_seg000.mp4"})
	if err := w.Submit(job); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if err := w.Submit(NewJob("20260105_094000", nil)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate Submit() = %v, want ErrDuplicate", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	close(m.block)

	select {
	case e := <-completed:
		if e.JobID != job.ID || e.SessionID != job.SessionID || e.Path != "fast" || e.Inputs != 1 {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no completion event")
	}
	if w.Pending() != 0 {
		t.Errorf("pending = %d after completion", w.Pending())
	}
	if h := w.History(); len(h) != 1 || h[0].Error != "" {
		t.Errorf("history = %+v", h)
	}
	// a finished session may be queued again, e.g. by recovery
	if err := w.Submit(NewJob("20260105_094000", nil)); err != nil {
		t.Errorf("Submit() after completion = %v", err)
	}
}

func TestWorkerReportsFailure(t *testing.T) {
	bus := events.New()
	failed := make(chan events.MergeFailedEvent, 1)
	bus.Subscribe(func(e events.MergeFailedEvent) { failed <- e })

	obs := &fakeObserver{}
	w := NewWorker(&fakeMerger{err: errors.New("boom")}, 4, bus, obs, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Submit(NewJob("20260105_094000", nil))
	select {
	case e := <-failed:
		if e.Error == "" {
			t.Error("failure event without error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no failure event")
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.results) != 1 || obs.results[0] != "failed" {
		t.Errorf("observer = %v", obs.results)
	}
}

func TestWorkerShutdownWaitsForInFlightMerge(t *testing.T) {
	m := &fakeMerger{block: make(chan struct{}), started: make(chan string, 1)}
	w := NewWorker(m, 4, nil, nil, discardLogger())
	w.SetGrace(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	w.Submit(NewJob("a", nil))
	w.Submit(NewJob("b", nil))
	<-m.started

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a merge was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(m.block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) != 1 || m.jobs[0] != "a" {
		t.Errorf("merged %v, want only the in-flight job", m.jobs)
	}
	if err := w.Submit(NewJob("c", nil)); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit() after shutdown = %v", err)
	}
}

func TestWorkerShutdownGraceExpires(t *testing.T) {
	m := &fakeMerger{block: make(chan struct{}), started: make(chan string, 1)}
	w := NewWorker(m, 4, nil, nil, discardLogger())
	w.SetGrace(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	w.Submit(NewJob("a", nil))
	<-m.started
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight merge was not cancelled after the grace period")
	}
	if h := w.History(); len(h) != 1 || h[0].Error == "" {
		t.Errorf("history = %+v, want a cancelled job", h)
	}
}

func TestWorkerQueueFull(t *testing.T) {
	w := NewWorker(&fakeMerger{}, 1, nil, nil, discardLogger())
	w.Submit(NewJob("a", nil))
	if err := w.Submit(NewJob("b", nil)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit() = %v, want ErrQueueFull", err)
	}
}

type fakePending struct {
	sessions []catalog.Session
	exclude  string
}

func (p *fakePending) Unmerged(_ context.Context, exclude string) ([]catalog.Session, error) {
	p.exclude = exclude
	return p.sessions, nil
}

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRecover(t *testing.T) {
	dir := t.TempDir()
	a2 := touch(t, filepath.Join(dir, "20260105_094000_seg002.mp4"))
	a0 := touch(t, filepath.Join(dir, "20260105_094000_seg000.mp4"))
	a1 := touch(t, filepath.Join(dir, "20260105_094000_seg001.mp4"))
	touch(t, filepath.Join(dir, "20260105_120000_seg000.mp4")) // active session
	touch(t, filepath.Join(dir, "manual_20260105_100000.mp4"))
	touch(t, filepath.Join(dir, "20260104_090000_merged.mp4"))
	stale := touch(t, filepath.Join(dir, "20260104_090000_merged.part.mp4"))
	// catalog knows a session whose segments live elsewhere
	other := touch(t, filepath.Join(dir, "old", "20260101_080000_seg000.mp4"))

	pending := &fakePending{sessions: []catalog.Session{
		{ID: "20260105_094000", Segments: []catalog.Segment{{Seq: 0, Path: a0}}},
		{ID: "20260101_080000", Segments: []catalog.Segment{{Seq: 0, Path: other}, {Seq: 1, Path: filepath.Join(dir, "old", "gone.mp4")}}},
	}}

	jobs, err := Recover(context.Background(), dir, pending, "20260105_120000", discardLogger())
	if err != nil {
		t.Fatalf("Recover() error: %v", err)
	}
	if pending.exclude != "20260105_120000" {
		t.Errorf("catalog exclude = %q", pending.exclude)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %+v, want 2", jobs)
	}
	if jobs[0].SessionID != "20260101_080000" || len(jobs[0].Inputs) != 1 || jobs[0].Inputs[0] != other {
		t.Errorf("first job = %+v", jobs[0])
	}
	want := []string{a0, a1, a2}
	got := jobs[1].Inputs
	if jobs[1].SessionID != "20260105_094000" || len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("second job inputs = %v, want %v", got, want)
	}
	if !jobs[1].Recovered || jobs[1].Output != filepath.Join(dir, "20260105_094000_merged.mp4") {
		t.Errorf("second job = %+v", jobs[1])
	}
	assertGone(t, stale)
}

func TestRecoverMissingDir(t *testing.T) {
	jobs, err := Recover(context.Background(), filepath.Join(t.TempDir(), "none"), nil, "", discardLogger())
	if err != nil || len(jobs) != 0 {
		t.Errorf("Recover() = %v, %v", jobs, err)
	}
}
