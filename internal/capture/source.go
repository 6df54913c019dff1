// Package capture reads raw frames from the camera through ffmpeg.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camkeeper/internal/ffmpeg"
	"github.com/smazurov/camkeeper/internal/frame"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/process"
)

// Source produces frames until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, out chan<- *frame.Frame) error
}

// Config describes the camera input. Width and Height are the device
// geometry; consumers resize per frame.
type Config struct {
	DevicePath  string
	InputFormat string
	Width       int
	Height      int
	FPS         int
	TestSource  bool
}

func (c Config) params() ffmpeg.CaptureParams {
	return ffmpeg.CaptureParams{
		DevicePath:   c.DevicePath,
		InputFormat:  c.InputFormat,
		Width:        c.Width,
		Height:       c.Height,
		FPS:          c.FPS,
		IsTestSource: c.TestSource,
		PixFmt:       frame.RGB24.PixFmt(),
	}
}

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// FFmpegSource runs ffmpeg decoding the camera into rawvideo on stdout.
type FFmpegSource struct {
	logger    logging.Logger
	ffmpegLog logging.Logger

	mu   sync.Mutex
	cfg  Config
	proc *process.Process

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewFFmpegSource validates cfg and builds the source.
func NewFFmpegSource(cfg Config, logger, ffmpegLog logging.Logger) (*FFmpegSource, error) {
	if _, err := ffmpeg.BuildCaptureCommand(cfg.params()); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return &FFmpegSource{cfg: cfg, logger: logger, ffmpegLog: ffmpegLog}, nil
}

// Dropped returns how many frames were dropped because the consumer lagged.
func (s *FFmpegSource) Dropped() uint64 {
	return s.dropped.Load()
}

// SetFPS restarts the capture process at a new frame rate.
func (s *FFmpegSource) SetFPS(fps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fps == s.cfg.FPS {
		return nil
	}
	next := s.cfg
	next.FPS = fps
	cmd, err := ffmpeg.BuildCaptureCommand(next.params())
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	s.cfg = next
	if s.proc != nil {
		s.proc.RequestRestart(cmd)
	}
	s.logger.Info("Capture frame rate changed", "fps", fps)
	return nil
}

// Run starts ffmpeg and forwards frames to out. An unexpected exit is
// retried with exponential backoff until ctx is done.
func (s *FFmpegSource) Run(ctx context.Context, out chan<- *frame.Frame) error {
	backoff := minBackoff
	for {
		s.mu.Lock()
		cfg := s.cfg
		cmd, err := ffmpeg.BuildCaptureCommand(cfg.params())
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("capture: %w", err)
		}
		proc := process.NewProcess("capture", cmd, s.logger,
			process.WithLogParser(s.ffmpegLog, ffmpeg.ParseLogLevel),
			process.WithStdoutReader(func(r io.Reader) { s.readFrames(ctx, r, out) }),
		)
		s.proc = proc
		s.mu.Unlock()

		started := time.Now()
		code := proc.RunWithRestart(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > maxBackoff {
			backoff = minBackoff
		}
		s.logger.Warn("Capture process exited, retrying", "exit_code", code, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// readFrames splits stdout into frames of the current geometry.
func (s *FFmpegSource) readFrames(ctx context.Context, r io.Reader, out chan<- *frame.Frame) {
	s.mu.Lock()
	w, h := s.cfg.Width, s.cfg.Height
	s.mu.Unlock()

	for {
		f := frame.New(w, h, frame.RGB24)
		if _, err := io.ReadFull(r, f.Pix); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("Reading frame failed", "error", err)
			}
			return
		}
		f.Seq = s.seq.Add(1)
		f.Time = time.Now()

		select {
		case out <- f:
		case <-ctx.Done():
			return
		default:
			if n := s.dropped.Add(1); n%100 == 1 {
				s.logger.Warn("Frame consumer lagging, dropping frames", "dropped", n)
			}
		}
	}
}
