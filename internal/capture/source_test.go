package capture

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/smazurov/camkeeper/internal/frame"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSource(t *testing.T) *FFmpegSource {
	t.Helper()
	s, err := NewFFmpegSource(Config{TestSource: true, Width: 4, Height: 2, FPS: 10}, discardLogger(), discardLogger())
	if err != nil {
		t.Fatalf("NewFFmpegSource() error: %v", err)
	}
	return s
}

func TestReadFramesSplitsStream(t *testing.T) {
	s := newTestSource(t)
	size := frame.FrameSize(4, 2, frame.RGB24)
	data := make([]byte, size*3+5) // trailing partial frame is discarded
	for i := range data {
		data[i] = byte(i / size)
	}

	out := make(chan *frame.Frame, 4)
	s.readFrames(context.Background(), bytes.NewReader(data), out)
	close(out)

	var got []*frame.Frame
	for f := range out {
		got = append(got, f)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	for i, f := range got {
		if f.Seq != uint64(i+1) {
			t.Errorf("frame %d seq = %d", i, f.Seq)
		}
		if f.Pix[0] != byte(i) || f.Width != 4 || f.Height != 2 {
			t.Errorf("frame %d has wrong content or geometry", i)
		}
	}
}

func TestReadFramesDropsWhenConsumerLags(t *testing.T) {
	s := newTestSource(t)
	size := frame.FrameSize(4, 2, frame.RGB24)
	out := make(chan *frame.Frame, 1)
	s.readFrames(context.Background(), bytes.NewReader(make([]byte, size*4)), out)

	if len(out) != 1 {
		t.Fatalf("expected 1 queued frame, got %d", len(out))
	}
	if s.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", s.Dropped())
	}
}

func TestSetFPSValidates(t *testing.T) {
	s := newTestSource(t)
	if err := s.SetFPS(0); err == nil {
		t.Error("expected error for fps 0")
	}
	if err := s.SetFPS(25); err != nil {
		t.Fatalf("SetFPS(25) error: %v", err)
	}
	if s.cfg.FPS != 25 {
		t.Errorf("fps = %d, want 25", s.cfg.FPS)
	}
}

func TestNewFFmpegSourceRequiresDevice(t *testing.T) {
	if _, err := NewFFmpegSource(Config{Width: 4, Height: 2, FPS: 10}, discardLogger(), discardLogger()); err == nil {
		t.Error("expected error without device or test source")
	}
}
