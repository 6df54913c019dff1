package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.toml")
	fixed := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	s, err := NewStore(path, testLogger(), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestNewStoreWritesDefaults(t *testing.T) {
	s, path := newTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults not persisted: %v", err)
	}
	got := s.Snapshot()
	if got.Frame != (Size{1920, 1080}) || got.Policy != PolicySchedule || got.Version != 1 {
		t.Errorf("unexpected defaults: %+v", got)
	}
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	s, path := newTestStore(t)

	days, _ := ParseDays("mon")
	_, err := s.Update(Patch{
		Policy:           Ptr(PolicyMotion),
		ScheduleTime:     Ptr(ClockTime{9, 40}),
		ScheduleDays:     &days,
		ScheduleDuration: Ptr(60 * time.Second),
		Gamma:            Ptr(1.8),
		ROI:              Ptr(Rect{100, 50, 640, 480}),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, fieldErrs, err := ReadSnapshot(path)
	if err != nil || len(fieldErrs) > 0 {
		t.Fatalf("ReadSnapshot: %v %v", err, fieldErrs)
	}
	if reloaded.Policy != PolicyMotion || reloaded.Schedule.At != (ClockTime{9, 40}) ||
		reloaded.Schedule.Days != days || reloaded.Gamma != 1.8 || reloaded.ROI != (Rect{100, 50, 640, 480}) {
		t.Errorf("reloaded settings differ: %+v", reloaded)
	}

	data, _ := os.ReadFile(path)
	for _, key := range []string{"camera_mode", "motion", "schedule_time", "09:40", "schedule_days"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("snapshot missing %q:\n%s", key, data)
		}
	}
}

func TestUpdateRejectsInvalidAndKeepsState(t *testing.T) {
	s, _ := newTestStore(t)
	before := s.Snapshot()

	tests := []struct {
		name  string
		patch Patch
		want  error
	}{
		{"zero duration", Patch{ScheduleDuration: Ptr(time.Duration(0))}, ErrInvalidDuration},
		{"bad hour", Patch{ScheduleTime: Ptr(ClockTime{24, 0})}, ErrInvalidTime},
		{"empty days", Patch{CheckpointDays: Ptr(DaySet(0))}, ErrInvalidDays},
		{"negative roi", Patch{ROI: Ptr(Rect{-1, 0, 10, 10})}, ErrInvalidROI},
		{"roi outside frame", Patch{ROI: Ptr(Rect{5000, 5000, 10, 10})}, ErrInvalidROI},
		{"roi at frame edge", Patch{ROI: Ptr(Rect{1920, 0, 10, 10})}, ErrInvalidROI},
		{"fps", Patch{FPS: Ptr(0)}, ErrInvalidValue},
		{"zone", Patch{TimeZone: Ptr("Mars/Olympus")}, ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Update(tt.patch)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var serr *SettingsError
			if !errors.As(err, &serr) || serr.Code != ErrCodeValidation {
				t.Errorf("want SettingsError with validation code, got %v", err)
			}
			if s.Snapshot() != before {
				t.Error("store changed after rejected update")
			}
		})
	}
}

func TestROIMustStartInsideFrame(t *testing.T) {
	s, _ := newTestStore(t)

	corner := Rect{X: 1919, Y: 1079, W: 1, H: 1}
	if _, err := s.Update(Patch{ROI: Ptr(corner)}); err != nil {
		t.Fatalf("last pixel roi rejected: %v", err)
	}
	if clip := s.Snapshot().ROI.Clip(1920, 1080); clip.W != 1 || clip.H != 1 {
		t.Errorf("clipped roi = %+v, want 1x1", clip)
	}

	if _, err := s.Update(Patch{ROI: Ptr(Rect{X: 1000, Y: 600, W: 200, H: 200})}); err != nil {
		t.Fatalf("roi inside frame rejected: %v", err)
	}
	before := s.Snapshot()
	_, err := s.Update(Patch{Frame: Ptr(Size{Width: 640, Height: 480})})
	if !errors.Is(err, ErrInvalidROI) {
		t.Fatalf("shrinking the frame under the roi: err = %v, want %v", err, ErrInvalidROI)
	}
	if s.Snapshot() != before {
		t.Error("store changed after rejected frame size")
	}

	// moving both together is fine
	if _, err := s.Update(Patch{
		Frame: Ptr(Size{Width: 640, Height: 480}),
		ROI:   Ptr(Rect{X: 0, Y: 0, W: 640, H: 480}),
	}); err != nil {
		t.Errorf("frame and roi together rejected: %v", err)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ch, cancel := s.Subscribe(0, 4)
	defer cancel()

	p := Patch{Frame: Ptr(Size{1280, 720}), Bitrate: Ptr(4_000_000)}
	first, err := s.Update(p)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Update(p)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("second identical update changed settings:\n%+v\n%+v", first, second)
	}
	if len(ch) != 1 {
		t.Errorf("notifications = %d, want 1", len(ch))
	}
}

func TestSubscribeMask(t *testing.T) {
	s, _ := newTestStore(t)
	sched, cancelSched := s.Subscribe(ScheduleFields, 4)
	defer cancelSched()
	image, cancelImage := s.Subscribe(ImageFields, 4)
	defer cancelImage()

	if _, err := s.Update(Patch{Gamma: Ptr(2.2)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(Patch{ScheduleDuration: Ptr(2 * time.Minute)}); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-sched:
		if !c.Fields.Has(FieldScheduleDuration) || c.Old.ScheduleDuration != time.Minute {
			t.Errorf("schedule change = %+v", c.Fields)
		}
	default:
		t.Fatal("schedule subscriber got nothing")
	}
	if len(sched) != 0 {
		t.Error("schedule subscriber received a gamma change")
	}
	if len(image) != 1 {
		t.Errorf("image subscriber got %d changes, want 1", len(image))
	}
}

func TestSnapshotsAreIndependentCopies(t *testing.T) {
	s, _ := newTestStore(t)
	snap := s.Snapshot()
	snap.Gamma = 9

	if s.Snapshot().Gamma != 1.0 {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestReadSnapshotToleratesBadFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	content := `
camera_mode = "motion"
frame = "1280x720"
schedule_time = "25:99"
schedule_days = ["mon", "blursday"]
gamma = 1.4
roi = [0, 0, 0, 0]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, fieldErrs, err := ReadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(fieldErrs) != 3 {
		t.Errorf("field errors = %v, want 3", fieldErrs)
	}
	def := Defaults()
	if got.Policy != PolicyMotion || got.Frame != (Size{1280, 720}) || got.Gamma != 1.4 {
		t.Errorf("valid fields not applied: %+v", got)
	}
	if got.Schedule != def.Schedule || got.ROI != def.ROI {
		t.Errorf("invalid fields should keep defaults: %+v", got)
	}
}

func TestStoreWatchAppliesExternalEdit(t *testing.T) {
	s, path := newTestStore(t)
	changes, cancel := s.Subscribe(FieldBitrate, 1)
	defer cancel()

	if err := s.Watch(50 * time.Millisecond); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	edited := s.Snapshot()
	edited.Bitrate = 3_500_000
	if err := WriteSnapshot(path, edited); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.New.Bitrate != 3_500_000 {
			t.Errorf("bitrate = %d", c.New.Bitrate)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("external edit not applied")
	}
}

func TestStoreReload(t *testing.T) {
	s, path := newTestStore(t)

	edited := s.Snapshot()
	edited.FPS = 12
	if err := WriteSnapshot(path, edited); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot().Version
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	got := s.Snapshot()
	if got.FPS != 12 {
		t.Errorf("fps = %d, want 12", got.FPS)
	}
	if got.Version <= before {
		t.Errorf("version = %d, want > %d", got.Version, before)
	}

	if err := s.Reload(); err != nil {
		t.Fatalf("second Reload: %v", err)
	}
	if v := s.Snapshot().Version; v != got.Version {
		t.Errorf("reloading unchanged file bumped version %d -> %d", got.Version, v)
	}
}

func TestReloadAppliesFrameAndROITogether(t *testing.T) {
	s, path := newTestStore(t)
	if _, err := s.Update(Patch{ROI: Ptr(Rect{X: 1000, Y: 600, W: 200, H: 200})}); err != nil {
		t.Fatal(err)
	}

	edited := s.Snapshot()
	edited.Frame = Size{Width: 640, Height: 480}
	edited.ROI = Rect{X: 0, Y: 0, W: 640, H: 480}
	if err := WriteSnapshot(path, edited); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	got := s.Snapshot()
	if got.Frame != edited.Frame || got.ROI != edited.ROI {
		t.Errorf("frame = %s roi = %s, want %s and %s", got.Frame, got.ROI, edited.Frame, edited.ROI)
	}
}
