package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	monday0900 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	at0940     = config.ClockTime{Hour: 9, Minute: 40}
)

func TestNextOccurrence(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skip("tzdata not available")
	}
	tests := []struct {
		name string
		now  time.Time
		at   config.ClockTime
		days config.DaySet
		loc  *time.Location
		want time.Time
	}{
		{
			name: "later today",
			now:  monday0900, at: at0940, days: config.AllDays, loc: time.UTC,
			want: time.Date(2026, 1, 5, 9, 40, 0, 0, time.UTC),
		},
		{
			name: "equal to now resolves to the next day",
			now:  time.Date(2026, 1, 5, 9, 40, 0, 0, time.UTC), at: at0940, days: config.AllDays, loc: time.UTC,
			want: time.Date(2026, 1, 6, 9, 40, 0, 0, time.UTC),
		},
		{
			name: "just after target",
			now:  time.Date(2026, 1, 5, 9, 40, 0, 500, time.UTC), at: at0940, days: config.AllDays, loc: time.UTC,
			want: time.Date(2026, 1, 6, 9, 40, 0, 0, time.UTC),
		},
		{
			name: "today not allowed",
			now:  monday0900, at: at0940, days: config.Days(time.Wednesday), loc: time.UTC,
			want: time.Date(2026, 1, 7, 9, 40, 0, 0, time.UTC),
		},
		{
			name: "only today allowed and passed waits a week",
			now:  time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), at: at0940, days: config.Days(time.Monday), loc: time.UTC,
			want: time.Date(2026, 1, 12, 9, 40, 0, 0, time.UTC),
		},
		{
			name: "weekend from friday",
			now:  time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC), at: config.ClockTime{Hour: 7}, days: config.Days(time.Saturday, time.Sunday), loc: time.UTC,
			want: time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "zone shifts the day",
			// 2026-01-05 16:00 UTC is Tuesday 01:00 in Seoul
			now: time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC), at: config.ClockTime{Hour: 11, Minute: 41}, days: config.Days(time.Tuesday), loc: seoul,
			want: time.Date(2026, 1, 6, 11, 41, 0, 0, seoul),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(tt.now, tt.at, tt.days, tt.loc)
			if err != nil {
				t.Fatalf("NextOccurrence() error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextOccurrence() = %v, want %v", got, tt.want)
			}
			if !got.After(tt.now) {
				t.Errorf("result %v not strictly after now %v", got, tt.now)
			}
		})
	}
}

func TestNextOccurrenceErrors(t *testing.T) {
	if _, err := NextOccurrence(monday0900, at0940, 0, time.UTC); !errors.Is(err, ErrNoOccurrence) {
		t.Errorf("empty day set error = %v", err)
	}
	if _, err := NextOccurrence(monday0900, config.ClockTime{Hour: 24}, config.AllDays, time.UTC); err == nil {
		t.Error("expected error for hour 24")
	}
}

// fakeClock fires sleepers only when the test steps it.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, waiter{at: c.now.Add(d), ch: ch})
	return ch
}

// step advances to the earliest sleeper and wakes it.
func (c *fakeClock) step() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return false
	}
	sort.Slice(c.waiters, func(i, j int) bool { return c.waiters[i].at.Before(c.waiters[j].at) })
	w := c.waiters[0]
	c.waiters = c.waiters[1:]
	if w.at.After(c.now) {
		c.now = w.at
	}
	w.ch <- c.now
	return true
}

type fakeSource struct {
	mu   sync.Mutex
	s    config.Settings
	subs map[int]fakeSub
	next int
}

type fakeSub struct {
	mask config.Field
	ch   chan config.Change
}

func newFakeSource(s config.Settings) *fakeSource {
	return &fakeSource{s: s, subs: map[int]fakeSub{}}
}

func (f *fakeSource) Snapshot() config.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fakeSource) Subscribe(mask config.Field, buffer int) (<-chan config.Change, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan config.Change, buffer)
	f.subs[id] = fakeSub{mask: mask, ch: ch}
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeSource) update(fields config.Field, mutate func(*config.Settings)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.s
	mutate(&f.s)
	for _, sub := range f.subs {
		if sub.mask.Has(fields) {
			select {
			case sub.ch <- config.Change{Old: old, New: f.s, Fields: fields}:
			default:
			}
		}
	}
}

func testSettings(policy config.Policy) config.Settings {
	s := config.Defaults()
	s.TimeZone = "UTC"
	s.Policy = policy
	s.Schedule = config.Window{At: at0940, Days: config.Days(time.Monday)}
	s.ScheduleDuration = 60 * time.Second
	s.Checkpoint = config.Window{At: config.ClockTime{Hour: 13, Minute: 14}, Days: config.AllDays}
	return s
}

type harness struct {
	clock *fakeClock
	src   *fakeSource
	out   chan Event
}

func start(t *testing.T, s config.Settings, tick time.Duration) *harness {
	t.Helper()
	h := &harness{
		clock: newFakeClock(monday0900),
		src:   newFakeSource(s),
		out:   make(chan Event),
	}
	sched := New(h.src, discardLogger(), WithClock(h.clock), WithTick(tick))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx, h.out) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
	return h
}

// next steps the clock until an event is emitted.
func (h *harness) next(t *testing.T) Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case e := <-h.out:
			return e
		default:
		}
		if !h.clock.step() {
			runtime.Gosched()
		}
	}
	t.Fatal("no scheduler event")
	return Event{}
}

// advanceTo steps the clock until it reads at least t0.
func (h *harness) advanceTo(t *testing.T, t0 time.Time) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.clock.Now().Before(t0) {
		if time.Now().After(deadline) {
			t.Fatal("clock did not advance")
		}
		select {
		case e := <-h.out:
			t.Fatalf("unexpected event %+v", e)
		default:
		}
		if !h.clock.step() {
			runtime.Gosched()
		}
	}
}

// Monday 09:40 for 60s, then the next Monday.
func TestTimeWindowStartsAndStops(t *testing.T) {
	h := start(t, testSettings(config.PolicySchedule), time.Hour)

	e := h.next(t)
	window := time.Date(2026, 1, 5, 9, 40, 0, 0, time.UTC)
	if e.Kind != SessionStart || e.Policy != config.PolicySchedule || e.Duration != time.Minute || !e.Window.Equal(window) {
		t.Fatalf("first event = %+v", e)
	}
	if !e.At.Equal(window) {
		t.Errorf("started at %v, want %v", e.At, window)
	}

	e = h.next(t)
	if e.Kind != SessionStop || !e.Window.Equal(window) || !e.At.Equal(window.Add(time.Minute)) {
		t.Fatalf("second event = %+v", e)
	}

	e = h.next(t)
	if e.Kind != SessionStart || !e.Window.Equal(window.AddDate(0, 0, 7)) {
		t.Fatalf("third event = %+v, want next Monday", e)
	}
}

func TestTimeWindowWakesOnChange(t *testing.T) {
	h := start(t, testSettings(config.PolicySchedule), time.Minute)
	h.advanceTo(t, monday0900.Add(5*time.Minute))

	h.src.update(config.FieldScheduleTime, func(s *config.Settings) {
		s.Schedule.At = config.ClockTime{Hour: 9, Minute: 10}
	})
	e := h.next(t)
	if e.Kind != SessionStart || !e.Window.Equal(time.Date(2026, 1, 5, 9, 10, 0, 0, time.UTC)) {
		t.Fatalf("event = %+v, want start at 09:10", e)
	}
}

func TestMotionStartsImmediatelyAndCheckpoints(t *testing.T) {
	h := start(t, testSettings(config.PolicyMotion), time.Hour)

	e := h.next(t)
	if e.Kind != SessionStart || e.Policy != config.PolicyMotion || e.Duration != 0 {
		t.Fatalf("first event = %+v", e)
	}
	if !e.At.Equal(monday0900) {
		t.Errorf("motion session started at %v, want immediately", e.At)
	}

	e = h.next(t)
	if e.Kind != Checkpoint || !e.At.Equal(time.Date(2026, 1, 5, 13, 14, 0, 0, time.UTC)) {
		t.Fatalf("second event = %+v, want checkpoint at 13:14", e)
	}
	e = h.next(t)
	if e.Kind != Checkpoint || !e.At.Equal(time.Date(2026, 1, 6, 13, 14, 0, 0, time.UTC)) {
		t.Fatalf("third event = %+v, want next day's checkpoint", e)
	}
}

func TestPolicySwitch(t *testing.T) {
	h := start(t, testSettings(config.PolicySchedule), time.Minute)
	h.advanceTo(t, monday0900.Add(time.Minute))

	h.src.update(config.FieldPolicy, func(s *config.Settings) { s.Policy = config.PolicyMotion })
	e := h.next(t)
	if e.Kind != SessionStart || e.Policy != config.PolicyMotion {
		t.Fatalf("after switch to motion: %+v", e)
	}

	h.src.update(config.FieldPolicy, func(s *config.Settings) { s.Policy = config.PolicySchedule })
	e = h.next(t)
	if e.Kind != SessionStop || e.Policy != config.PolicyMotion {
		t.Fatalf("after switch to schedule: %+v", e)
	}
	e = h.next(t)
	if e.Kind != SessionStart || e.Policy != config.PolicySchedule {
		t.Fatalf("schedule after switch: %+v", e)
	}
}
