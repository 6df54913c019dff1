package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/smazurov/camkeeper/internal/ffmpeg"
	"github.com/smazurov/camkeeper/internal/process"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFFmpeg emulates ffprobe and the two merge commands on real files.
type fakeFFmpeg struct {
	mu           sync.Mutex
	probes       map[string]ffmpeg.ProbeResult
	failConcat   bool
	failReencode bool
	shortConcat  bool // concat output lasts less than its inputs
	commands     []string
}

func newFake() *fakeFFmpeg {
	return &fakeFFmpeg{probes: map[string]ffmpeg.ProbeResult{}}
}

func (f *fakeFFmpeg) Run(_ context.Context, _ string, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	args, err := process.ParseCommand(command)
	if err != nil {
		return "", err
	}
	exit := &ffmpeg.ExitError{Command: command, Code: 1, Tail: []string{"simulated failure"}}
	out := args[len(args)-1]

	switch {
	case args[0] == "ffprobe":
		p, ok := f.probes[out]
		if !ok {
			return "", exit
		}
		return fmt.Sprintf(`{"streams":[{"codec_name":%q,"width":%d,"height":%d,"r_frame_rate":"%d/1","nb_frames":"%d"}],"format":{"duration":"%f"}}`,
			p.Codec, p.Width, p.Height, int(p.FPS), p.Frames, p.Duration), nil

	case slices.Contains(args, "concat"):
		if f.failConcat {
			return "", exit
		}
		list, err := os.ReadFile(valueAfter(args, "-i"))
		if err != nil {
			return "", err
		}
		var inputs []string
		for _, line := range strings.Split(string(list), "\n") {
			if p, ok := strings.CutPrefix(line, "file '"); ok {
				inputs = append(inputs, strings.TrimSuffix(p, "'"))
			}
		}
		res := f.sum(inputs)
		if f.shortConcat {
			res.Duration /= 2
		}
		return "", f.write(out, res)

	case slices.Contains(args, "-filter_complex"):
		if f.failReencode {
			return "", exit
		}
		var inputs []string
		for i, a := range args {
			if a == "-i" {
				inputs = append(inputs, args[i+1])
			}
		}
		res := f.sum(inputs)
		fps, _ := strconv.Atoi(valueAfter(args, "-r"))
		res.FPS = float64(fps)
		res.Duration = float64(res.Frames) / res.FPS
		return "", f.write(out, res)
	}
	return "", exit
}

func (f *fakeFFmpeg) sum(inputs []string) ffmpeg.ProbeResult {
	res := f.probes[inputs[0]]
	res.Frames, res.Duration = 0, 0
	for _, in := range inputs {
		p := f.probes[in]
		res.Frames += p.Frames
		res.Duration += p.Duration
	}
	return res
}

func (f *fakeFFmpeg) write(path string, res ffmpeg.ProbeResult) error {
	if err := os.WriteFile(path, []byte("merged"), 0o644); err != nil {
		return err
	}
	f.probes[path] = res
	return nil
}

func (f *fakeFFmpeg) ran(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func valueAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// segments creates n 20s segments of 200 frames at 10 fps.
func segments(t *testing.T, f *fakeFFmpeg, dir, id string, n int) []string {
	t.Helper()
	var paths []string
	for i := range n {
		p := filepath.Join(dir, fmt.Sprintf("%s_seg%03d.mp4", id, i))
		if err := os.WriteFile(p, []byte("segment"), 0o644); err != nil {
			t.Fatal(err)
		}
		f.probes[p] = ffmpeg.ProbeResult{Codec: "h264", Width: 8, Height: 6, FPS: 10, Frames: 200, Duration: 20}
		paths = append(paths, p)
	}
	return paths
}

func assertGone(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still exists", filepath.Base(p))
		}
	}
}

func assertExists(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s missing: %v", filepath.Base(p), err)
		}
	}
}

func TestFastPathMerge(t *testing.T) {
	dir := t.TempDir()
	f := newFake()
	inputs := segments(t, f, dir, "20260105_094000", 3)
	job := NewJob("20260105_094000", inputs)

	res, err := NewEngine(f, discardLogger()).Merge(context.Background(), job)
	if err != nil {
		t.Fatalf("Merge() error: %v", err)
	}
	if res.Path != PathFast {
		t.Errorf("path = %s, want fast", res.Path)
	}
	if job.Output != filepath.Join(dir, "20260105_094000_merged.mp4") {
		t.Errorf("output = %s", job.Output)
	}
	if math.Abs(res.Duration-60) > 0.1 {
		t.Errorf("duration = %f, want the 60s sum", res.Duration)
	}
	if f.ran("libx264") {
		t.Error("fallback ran although the fast path succeeded")
	}
	assertExists(t, job.Output)
	assertGone(t, inputs...)
	assertGone(t, partName(job.Output), strings.TrimSuffix(job.Output, ".mp4")+".concat.txt")
}

func TestFallbackAfterFastPathFailure(t *testing.T) {
	dir := t.TempDir()
	f := newFake()
	f.failConcat = true
	inputs := segments(t, f, dir, "20260105_120000", 3)
	job := NewJob("20260105_120000", inputs)

	res, err := NewEngine(f, discardLogger()).Merge(context.Background(), job)
	if err != nil {
		t.Fatalf("Merge() error: %v", err)
	}
	if res.Path != PathFallback {
		t.Errorf("path = %s, want fallback", res.Path)
	}
	if res.Frames != 600 {
		t.Errorf("frames = %d, want the 600 frame sum", res.Frames)
	}
	assertExists(t, job.Output)
	assertGone(t, inputs...)
}

func TestFallbackWhenVerificationFails(t *testing.T) {
	dir := t.TempDir()
	f := newFake()
	f.shortConcat = true
	inputs := segments(t, f, dir, "20260105_120000", 2)

	res, err := NewEngine(f, discardLogger()).Merge(context.Background(), NewJob("20260105_120000", inputs))
	if err != nil {
		t.Fatalf("Merge() error: %v", err)
	}
	if res.Path != PathFallback || math.Abs(res.Duration-40) > 0.1 {
		t.Errorf("result = %+v, want fallback lasting 40s", res)
	}
}

func TestMixedGeometrySkipsFastPath(t *testing.T) {
	dir := t.TempDir()
	f := newFake()
	inputs := segments(t, f, dir, "20260105_120000", 2)
	p := f.probes[inputs[1]]
	p.Width, p.Height = 4, 4
	f.probes[inputs[1]] = p

	res, err := NewEngine(f, discardLogger()).Merge(context.Background(), NewJob("20260105_120000", inputs))
	if err != nil {
		t.Fatalf("Merge() error: %v", err)
	}
	if res.Path != PathFallback {
		t.Errorf("path = %s, want fallback", res.Path)
	}
	if f.ran("-f concat") {
		t.Error("concat copy attempted on mixed geometry")
	}
	if !f.ran("scale=8:6") {
		t.Error("fallback did not scale to the first segment's geometry")
	}
}

func TestTotalFailurePreservesInputs(t *testing.T) {
	dir := t.TempDir()
	f := newFake()
	f.failConcat, f.failReencode = true, true
	inputs := segments(t, f, dir, "20260105_120000", 3)
	job := NewJob("20260105_120000", inputs)

	_, err := NewEngine(f, discardLogger()).Merge(context.Background(), job)
	var merr *Error
	if !errors.As(err, &merr) || merr.Code != CodeFallback {
		t.Fatalf("Merge() error = %v, want fallback error", err)
	}
	var exit *ffmpeg.ExitError
	if !errors.As(err, &exit) {
		t.Errorf("cause not preserved: %v", err)
	}
	assertExists(t, inputs...)
	assertGone(t, job.Output, partName(job.Output))
}

func TestUnreadableInputLeftInPlace(t *testing.T) {
	dir := t.TempDir()
	f := newFake()
	inputs := segments(t, f, dir, "20260105_120000", 3)
	delete(f.probes, inputs[2]) // crashed writer, no moov atom

	res, err := NewEngine(f, discardLogger()).Merge(context.Background(), NewJob("20260105_120000", inputs))
	if err != nil {
		t.Fatalf("Merge() error: %v", err)
	}
	if res.Inputs != 2 || len(res.Skipped) != 1 || res.Skipped[0] != inputs[2] {
		t.Errorf("result = %+v", res)
	}
	assertGone(t, inputs[:2]...)
	assertExists(t, inputs[2])
}

func TestNoInputs(t *testing.T) {
	dir := t.TempDir()
	job := NewJob("20260105_120000", []string{filepath.Join(dir, "20260105_120000_seg000.mp4")})
	_, err := NewEngine(newFake(), discardLogger()).Merge(context.Background(), job)
	if !errors.Is(err, ErrNoInputs) {
		t.Errorf("Merge() error = %v, want ErrNoInputs", err)
	}
}
