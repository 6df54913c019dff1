// Package scheduler decides when recording sessions start and stop. It
// emits events on a channel and never touches the recorder directly.
package scheduler

import (
	"context"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/logging"
)

// Kind of scheduler event.
type Kind int

// Event kinds.
const (
	SessionStart Kind = iota
	SessionStop
	Checkpoint
)

func (k Kind) String() string {
	switch k {
	case SessionStart:
		return "session-start"
	case SessionStop:
		return "session-stop"
	case Checkpoint:
		return "checkpoint"
	}
	return "unknown"
}

// Event asks the orchestrator to change the session lifecycle.
type Event struct {
	Kind   Kind
	Policy config.Policy
	// Duration is the hard-stop delay of a schedule session.
	Duration time.Duration
	// Window identifies the scheduled occurrence; a SessionStop only applies
	// to the session started for the same window. Zero for motion sessions.
	Window time.Time
	At     time.Time
}

// Source provides settings snapshots and change notifications.
// *config.Store implements it.
type Source interface {
	Snapshot() config.Settings
	Subscribe(mask config.Field, buffer int) (<-chan config.Change, func())
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// DefaultTick is the sleep granularity; cancellation and wake-ups are
// observed within one tick.
const DefaultTick = time.Second

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTick sets the sleep granularity.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// Scheduler runs the policy selected in the settings and switches policy
// when the setting changes.
type Scheduler struct {
	src    Source
	clock  Clock
	tick   time.Duration
	logger logging.Logger
}

// New creates a scheduler.
func New(src Source, logger logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{src: src, clock: realClock{}, tick: DefaultTick, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run emits events on out until ctx is done. Switching from motion to
// schedule emits a SessionStop for the motion session; switching to motion
// starts a session immediately.
func (s *Scheduler) Run(ctx context.Context, out chan<- Event) error {
	policyChanges, unsub := s.src.Subscribe(config.FieldPolicy, 4)
	defer unsub()

	policy := s.src.Snapshot().Policy
	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func(p config.Policy) {
			defer close(done)
			switch p {
			case config.PolicyMotion:
				s.runMotion(runCtx, out)
			default:
				s.runTimeWindow(runCtx, out)
			}
		}(policy)

		var next config.Policy
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case c, ok := <-policyChanges:
			if !ok {
				// store closed
				<-ctx.Done()
				cancel()
				<-done
				return ctx.Err()
			}
			next = c.New.Policy
		}
		cancel()
		<-done

		if next == policy {
			continue
		}
		s.logger.Info("Recording policy changed", "from", policy, "to", next)
		if policy == config.PolicyMotion {
			if !s.emit(ctx, out, Event{Kind: SessionStop, Policy: config.PolicyMotion}) {
				return ctx.Err()
			}
		}
		policy = next
	}
}

// runTimeWindow starts a session at every occurrence of the schedule
// window and stops it after the configured duration.
func (s *Scheduler) runTimeWindow(ctx context.Context, out chan<- Event) {
	changes, unsub := s.src.Subscribe(config.ScheduleFields, 4)
	defer unsub()

	// pending hard stop of the session started for window
	var window, stopAt time.Time

	for {
		st := s.src.Snapshot()
		next, err := NextOccurrence(s.clock.Now(), st.Schedule.At, st.Schedule.Days, st.Location())
		if err != nil {
			s.logger.Error("No scheduled occurrence", "schedule", st.Schedule, "error", err)
			next = time.Time{}
		} else {
			s.logger.Info("Next scheduled session", "at", next, "duration", st.ScheduleDuration)
		}

		for {
			target := next
			if !stopAt.IsZero() && (target.IsZero() || stopAt.Before(target)) {
				target = stopAt
			}
			reached, woke := s.sleepUntil(ctx, target, changes)
			if ctx.Err() != nil {
				return
			}
			if woke {
				break
			}
			if !reached {
				continue
			}

			now := s.clock.Now()
			if !stopAt.IsZero() && !now.Before(stopAt) {
				if !s.emit(ctx, out, Event{Kind: SessionStop, Policy: config.PolicySchedule, Window: window, At: now}) {
					return
				}
				window, stopAt = time.Time{}, time.Time{}
			}
			if !next.IsZero() && !now.Before(next) {
				st = s.src.Snapshot()
				if !s.emit(ctx, out, Event{
					Kind:     SessionStart,
					Policy:   config.PolicySchedule,
					Duration: st.ScheduleDuration,
					Window:   next,
					At:       now,
				}) {
					return
				}
				window, stopAt = next, next.Add(st.ScheduleDuration)
				break
			}
		}
	}
}

// runMotion starts a session immediately and emits a Checkpoint at every
// occurrence of the checkpoint window.
func (s *Scheduler) runMotion(ctx context.Context, out chan<- Event) {
	changes, unsub := s.src.Subscribe(config.CheckpointFields, 4)
	defer unsub()

	if !s.emit(ctx, out, Event{Kind: SessionStart, Policy: config.PolicyMotion, At: s.clock.Now()}) {
		return
	}
	for {
		st := s.src.Snapshot()
		next, err := NextOccurrence(s.clock.Now(), st.Checkpoint.At, st.Checkpoint.Days, st.Location())
		if err != nil {
			s.logger.Error("No checkpoint occurrence", "checkpoint", st.Checkpoint, "error", err)
			next = time.Time{}
		} else {
			s.logger.Info("Next merge checkpoint", "at", next)
		}
		reached, _ := s.sleepUntil(ctx, next, changes)
		if ctx.Err() != nil {
			return
		}
		if reached {
			if !s.emit(ctx, out, Event{Kind: Checkpoint, Policy: config.PolicyMotion, Window: next, At: s.clock.Now()}) {
				return
			}
		}
	}
}

// sleepUntil waits in ticks until target. A zero target waits for a
// change only. It returns woke when a settings change arrived first.
func (s *Scheduler) sleepUntil(ctx context.Context, target time.Time, changes <-chan config.Change) (reached, woke bool) {
	for {
		select {
		case c, ok := <-changes:
			if !ok {
				<-ctx.Done()
				return false, false
			}
			s.logger.Debug("Schedule settings changed, recomputing", "fields", c.Fields)
			return false, true
		default:
		}

		var wait time.Duration
		if target.IsZero() {
			wait = s.tick
		} else {
			remaining := target.Sub(s.clock.Now())
			if remaining <= 0 {
				return true, false
			}
			wait = min(remaining, s.tick)
		}

		select {
		case <-ctx.Done():
			return false, false
		case c, ok := <-changes:
			if !ok {
				<-ctx.Done()
				return false, false
			}
			s.logger.Debug("Schedule settings changed, recomputing", "fields", c.Fields)
			return false, true
		case <-s.clock.After(wait):
		}
	}
}

func (s *Scheduler) emit(ctx context.Context, out chan<- Event, e Event) bool {
	s.logger.Info("Scheduler event", "kind", e.Kind, "policy", e.Policy, "window", e.Window)
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
