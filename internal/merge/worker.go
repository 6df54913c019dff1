package merge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/logging"
)

// Merger runs one job. *Engine implements it.
type Merger interface {
	Merge(ctx context.Context, job Job) (Result, error)
}

// Observer receives merge outcomes, e.g. metrics.
type Observer interface {
	MergeFinished(path string, ok bool, elapsed time.Duration)
}

// DefaultGrace bounds how long shutdown waits for the in-flight merge.
const DefaultGrace = 30 * time.Second

// Worker runs merge jobs one at a time from a bounded queue. A session is
// queued at most once.
type Worker struct {
	merger Merger
	queue  chan Job
	bus    *events.Bus
	obs    Observer
	logger logging.Logger
	grace  time.Duration

	mu       sync.Mutex
	pending  map[string]string // session id -> job id
	current  *Job
	stopped  bool
	finished []Outcome
}

// Outcome is the logged result of a job.
type Outcome struct {
	Job      Job       `json:"job"`
	Path     Path      `json:"path,omitempty"`
	Error    string    `json:"error,omitempty"`
	Finished time.Time `json:"finished"`
}

const historySize = 20

// NewWorker creates a worker with a queue of size jobs. bus and obs may be nil.
func NewWorker(merger Merger, size int, bus *events.Bus, obs Observer, logger logging.Logger) *Worker {
	if size <= 0 {
		size = 16
	}
	return &Worker{
		merger:  merger,
		queue:   make(chan Job, size),
		bus:     bus,
		obs:     obs,
		logger:  logger,
		grace:   DefaultGrace,
		pending: make(map[string]string),
	}
}

// SetGrace changes the shutdown grace period. Call before Run.
func (w *Worker) SetGrace(d time.Duration) {
	w.grace = d
}

// Submit queues job without blocking.
func (w *Worker) Submit(job Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if id, ok := w.pending[job.SessionID]; ok {
		return fmt.Errorf("session %s (job %s): %w", job.SessionID, id, ErrDuplicate)
	}
	select {
	case w.queue <- job:
		w.pending[job.SessionID] = job.ID
		w.logger.Info("Merge queued", "job", job.ID, "session", job.SessionID, "inputs", len(job.Inputs),
			"recovered", job.Recovered)
		return nil
	default:
		return fmt.Errorf("session %s: %w", job.SessionID, ErrQueueFull)
	}
}

// Pending reports the number of queued and running jobs.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Current returns the running job, if any.
func (w *Worker) Current() (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return Job{}, false
	}
	return *w.current, true
}

// History returns the most recent outcomes, oldest first.
func (w *Worker) History() []Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Outcome(nil), w.finished...)
}

// Run processes jobs until ctx is done. The in-flight merge keeps running
// for up to the grace period after cancellation; queued jobs are left for
// startup recovery.
func (w *Worker) Run(ctx context.Context) {
	mergeCtx, cancelMerges := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelMerges()

	stopGrace := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.stopped = true
		running := w.current != nil
		w.mu.Unlock()
		if running {
			w.logger.Info("Waiting for in-flight merge", "grace", w.grace)
		}
		time.AfterFunc(w.grace, cancelMerges)
	})
	defer stopGrace()

	for {
		if ctx.Err() != nil {
			w.drain()
			return
		}
		select {
		case <-ctx.Done():
		case job := <-w.queue:
			if ctx.Err() != nil {
				w.leave(job)
				continue
			}
			w.run(mergeCtx, job)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case job := <-w.queue:
			w.leave(job)
		default:
			return
		}
	}
}

func (w *Worker) leave(job Job) {
	w.logger.Info("Merge left for recovery", "job", job.ID, "session", job.SessionID)
	w.mu.Lock()
	delete(w.pending, job.SessionID)
	w.mu.Unlock()
}

func (w *Worker) run(ctx context.Context, job Job) {
	w.mu.Lock()
	w.current = &job
	w.mu.Unlock()

	started := time.Now()
	res, err := w.merger.Merge(ctx, job)
	elapsed := time.Since(started)

	outcome := Outcome{Job: job, Path: res.Path, Finished: time.Now()}
	if err != nil {
		outcome.Error = err.Error()
	}
	w.mu.Lock()
	w.current = nil
	delete(w.pending, job.SessionID)
	w.finished = append(w.finished, outcome)
	if len(w.finished) > historySize {
		w.finished = w.finished[1:]
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Merge failed, segments preserved", "job", job.ID, "session", job.SessionID, "error", err)
		if w.obs != nil {
			w.obs.MergeFinished("none", false, elapsed)
		}
		w.publish(events.MergeFailedEvent{
			JobID:     job.ID,
			SessionID: job.SessionID,
			Error:     err.Error(),
			Timestamp: outcome.Finished.Format(time.RFC3339),
		})
		return
	}
	if w.obs != nil {
		w.obs.MergeFinished(string(res.Path), true, elapsed)
	}
	w.publish(events.MergeCompletedEvent{
		JobID:     job.ID,
		SessionID: job.SessionID,
		Output:    job.Output,
		Path:      string(res.Path),
		Inputs:    res.Inputs,
		Seconds:   elapsed.Seconds(),
		Timestamp: outcome.Finished.Format(time.RFC3339),
	})
}

func (w *Worker) publish(e events.Event) {
	if w.bus != nil {
		w.bus.Publish(e)
	}
}
