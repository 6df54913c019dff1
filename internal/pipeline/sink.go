package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/camkeeper/internal/ffmpeg"
	"github.com/smazurov/camkeeper/internal/frame"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/process"
)

// Writer accepts raw frames of one geometry.
type Writer interface {
	WriteFrame(f *frame.Frame) error
	// Close flushes the output and waits for it to be finalized.
	Close() error
}

// Spec describes an output to open.
type Spec struct {
	ID             string
	Kind           ffmpeg.OutputKind
	Output         string
	Width          int
	Height         int
	FPS            int
	Bitrate        int
	Backend        Backend
	SegmentSeconds int
	// OnOutput receives stdout lines, e.g. the segment list.
	OnOutput func(line string)
}

// Opener starts outputs.
type Opener interface {
	Open(spec Spec) (Writer, error)
}

// FFmpegOpener opens outputs as ffmpeg processes fed on stdin.
type FFmpegOpener struct {
	resolver  *Resolver
	logger    logging.Logger
	ffmpegLog logging.Logger
}

// NewFFmpegOpener creates an opener using resolver to map backends to encoders.
func NewFFmpegOpener(resolver *Resolver, logger, ffmpegLog logging.Logger) *FFmpegOpener {
	return &FFmpegOpener{resolver: resolver, logger: logger, ffmpegLog: ffmpegLog}
}

// Open implements Opener. Failures are structural.
func (o *FFmpegOpener) Open(spec Spec) (Writer, error) {
	cmd, err := ffmpeg.BuildEncodeCommand(ffmpeg.EncodeParams{
		Input: ffmpeg.RawInput{
			Width:  spec.Width,
			Height: spec.Height,
			FPS:    spec.FPS,
			PixFmt: frame.RGB24.PixFmt(),
		},
		Encoder:         o.resolver.Encoder(spec.Backend),
		Bitrate:         spec.Bitrate,
		Kind:            spec.Kind,
		Output:          spec.Output,
		SegmentSeconds:  spec.SegmentSeconds,
		OverwriteOutput: true,
	})
	if err != nil {
		return nil, &Error{Kind: Structural, Sink: spec.ID, Err: err}
	}

	s := &EncoderSink{
		id:     spec.ID,
		width:  spec.Width,
		height: spec.Height,
		logger: o.logger,
		info:   process.Info{ID: spec.ID, State: process.StateStarting},
	}
	handler := process.OutputHandlerFunc(func(source, line string) {
		if source == "stdout" {
			if spec.OnOutput != nil {
				spec.OnOutput(line)
			}
			return
		}
		if ffmpeg.IsStructural(line) {
			s.markBroken(errors.New(line))
		}
	})
	s.proc = process.NewProcess(spec.ID, cmd, o.logger,
		process.WithStdin(),
		process.WithOutputHandler(handler),
		process.WithLogParser(o.ffmpegLog, ffmpeg.ParseLogLevel),
	)
	if err := s.proc.Start(); err != nil {
		return nil, &Error{Kind: Structural, Sink: spec.ID, Err: err}
	}
	s.mu.Lock()
	s.info.State = process.StateRunning
	s.info.StartedAt = time.Now()
	s.mu.Unlock()
	return s, nil
}

// EncoderSink is a running ffmpeg encoder.
type EncoderSink struct {
	id     string
	width  int
	height int
	proc   *process.Process
	logger logging.Logger

	mu     sync.Mutex
	info   process.Info
	broken error
	closed bool
}

func (s *EncoderSink) markBroken(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken == nil {
		s.broken = err
		s.info.State = process.StateError
		s.info.LastError = err
	}
}

// Info reports the process state.
func (s *EncoderSink) Info() process.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// WriteFrame writes one frame to the encoder.
func (s *EncoderSink) WriteFrame(f *frame.Frame) error {
	s.mu.Lock()
	closed, broken := s.closed, s.broken
	s.mu.Unlock()
	switch {
	case closed:
		return &Error{Kind: Structural, Sink: s.id, Err: ErrClosed}
	case broken != nil:
		return &Error{Kind: Structural, Sink: s.id, Err: broken}
	case f.Width != s.width || f.Height != s.height || f.Format != frame.RGB24:
		return &Error{Kind: Transient, Sink: s.id, Err: fmt.Errorf("%w: got %s", ErrGeometry, f.Geometry())}
	}

	select {
	case <-s.proc.Exited():
		s.markBroken(ErrExited)
		return &Error{Kind: Structural, Sink: s.id, Err: ErrExited}
	default:
	}

	if _, err := s.proc.Stdin().Write(f.Pix); err != nil {
		select {
		case <-s.proc.Exited():
			s.markBroken(ErrExited)
			return &Error{Kind: Structural, Sink: s.id, Err: fmt.Errorf("%w: %w", ErrExited, err)}
		default:
		}
		return &Error{Kind: Transient, Sink: s.id, Err: err}
	}
	return nil
}

// Close ends the input and waits for ffmpeg to finalize the output.
func (s *EncoderSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.info.State = process.StateStopping
	s.mu.Unlock()

	code, err := s.proc.Finish()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.State = process.StateIdle
	if err != nil {
		return &Error{Kind: Structural, Sink: s.id, Err: err}
	}
	if code != 0 {
		err := fmt.Errorf("%w with code %d", ErrExited, code)
		s.info.LastError = err
		return &Error{Kind: Structural, Sink: s.id, Err: err}
	}
	return nil
}
