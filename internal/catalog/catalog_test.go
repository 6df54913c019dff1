package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/camkeeper/internal/events"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "db", "catalog.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSessionLifecycle(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 5, 9, 40, 0, 0, time.UTC)

	if err := c.SessionStarted(ctx, "20260105_094000", "schedule", start); err != nil {
		t.Fatal(err)
	}
	if err := c.SegmentOpened(ctx, "20260105_094000", 0, "/rec/20260105_094000_seg000.mp4", "1920x1080"); err != nil {
		t.Fatal(err)
	}
	if err := c.SegmentClosed(ctx, "20260105_094000", 0, "/rec/20260105_094000_seg000.mp4", 0, 60, 1800); err != nil {
		t.Fatal(err)
	}
	if err := c.SessionClosed(ctx, "20260105_094000", "schedule", "timeout", 1, start.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	s, err := c.Session(ctx, "20260105_094000")
	if err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if s.MergeStatus != MergePending || s.Cause != "timeout" || s.EndedAt == nil {
		t.Errorf("unexpected session %+v", s)
	}
	if !s.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", s.StartedAt, start)
	}
	if len(s.Segments) != 1 || !s.Segments[0].Closed() || *s.Segments[0].End != 60 || s.Segments[0].Geometry != "1920x1080" {
		t.Errorf("unexpected segments %+v", s.Segments)
	}

	unmerged, err := c.Unmerged(ctx, "")
	if err != nil || len(unmerged) != 1 {
		t.Fatalf("Unmerged() = %v, %v", unmerged, err)
	}

	if err := c.MergeFinished(ctx, Merge{ID: "job-1", SessionID: "20260105_094000", Output: "/rec/20260105_094000_merged.mp4", Path: "fast", Inputs: 1}); err != nil {
		t.Fatal(err)
	}
	s, _ = c.Session(ctx, "20260105_094000")
	if s.MergeStatus != MergeDone || s.MergedPath != "/rec/20260105_094000_merged.mp4" {
		t.Errorf("after merge: %+v", s)
	}
	if unmerged, _ := c.Unmerged(ctx, ""); len(unmerged) != 0 {
		t.Errorf("merged session still unmerged: %+v", unmerged)
	}
}

func TestOutOfOrderUpserts(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	end := time.Date(2026, 1, 5, 9, 41, 0, 0, time.UTC)

	// close arrives before open
	if err := c.SegmentClosed(ctx, "s1", 2, "/rec/s1_seg002.mp4", 10, 12.5, 75); err != nil {
		t.Fatal(err)
	}
	if err := c.SegmentOpened(ctx, "s1", 2, "/rec/s1_seg002.mp4", "640x480"); err != nil {
		t.Fatal(err)
	}
	if err := c.SessionClosed(ctx, "s1", "motion", "external-stop", 1, end); err != nil {
		t.Fatal(err)
	}
	if err := c.SessionStarted(ctx, "s1", "motion", end.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	s, err := c.Session(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.EndedAt == nil || s.MergeStatus != MergePending || !s.StartedAt.Equal(end.Add(-time.Minute)) {
		t.Errorf("session lost fields: %+v", s)
	}
	seg := s.Segments[0]
	if seg.End == nil || *seg.End != 12.5 || seg.Frames != 75 || seg.Geometry != "640x480" {
		t.Errorf("segment lost fields: %+v", seg)
	}
}

func TestUnmergedIncludesCrashedAndExcludesCurrent(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// never closed: the process died mid-session
	_ = c.SessionStarted(ctx, "crashed", "schedule", now.Add(-time.Hour))
	_ = c.SegmentOpened(ctx, "crashed", 0, "/rec/crashed_seg000.mp4", "")
	// no segments
	_ = c.SessionStarted(ctx, "empty", "motion", now.Add(-time.Minute))
	_ = c.SessionClosed(ctx, "empty", "motion", "external-stop", 0, now)
	// active
	_ = c.SessionStarted(ctx, "current", "schedule", now)
	_ = c.SegmentOpened(ctx, "current", 0, "/rec/current_seg000.mp4", "")

	got, err := c.Unmerged(ctx, "current")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "crashed" {
		t.Errorf("Unmerged() = %+v", got)
	}
}

func TestSessionNotFound(t *testing.T) {
	c := openTest(t)
	if _, err := c.Session(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Session() error = %v, want ErrNotFound", err)
	}
}

func TestAttachWritesEvents(t *testing.T) {
	c := openTest(t)
	bus := events.New()
	detach := c.Attach(bus)
	defer detach()

	ts := time.Date(2026, 1, 5, 9, 40, 0, 0, time.UTC).Format(time.RFC3339)
	bus.Publish(events.SessionStartedEvent{SessionID: "s2", Policy: "schedule", Timestamp: ts})
	bus.Publish(events.ParamChangedEvent{SessionID: "s2", Offset: 3, Gamma: 1.4, WhiteBalance: "auto", ColorMode: "rgb"})
	bus.Publish(events.SegmentClosedEvent{SessionID: "s2", Index: 0, Path: "/rec/s2_seg000.mp4", Start: 0, End: 5, Frames: 150})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := c.Session(context.Background(), "s2")
		if err == nil && len(s.Segments) == 1 && len(s.Params) == 1 {
			if s.Params[0].Gamma != 1.4 {
				t.Errorf("param gamma = %g", s.Params[0].Gamma)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("events were not written to the catalog")
}
