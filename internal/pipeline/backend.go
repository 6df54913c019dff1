// Package pipeline turns raw frames into encoded outputs through ffmpeg.
package pipeline

import (
	"context"
	"slices"
	"sync"

	"github.com/smazurov/camkeeper/internal/ffmpeg"
	"github.com/smazurov/camkeeper/internal/logging"
)

// Backend selects the encoder family of a session.
type Backend int

// Backends.
const (
	// Primary is the configured hardware encoder.
	Primary Backend = iota
	// Fallback is the software encoder.
	Fallback
)

func (b Backend) String() string {
	if b == Primary {
		return "primary"
	}
	return "fallback"
}

// Resolver picks the backend for a session by checking which encoders the
// installed ffmpeg offers. The encoder list is cached after the first
// successful probe.
type Resolver struct {
	runner   ffmpeg.Runner
	hardware string
	logger   logging.Logger

	mu       sync.Mutex
	encoders []string
}

// NewResolver creates a resolver preferring the hardware encoder name
// (e.g. h264_v4l2m2m). An empty name always resolves to Fallback.
func NewResolver(runner ffmpeg.Runner, hardware string, logger logging.Logger) *Resolver {
	return &Resolver{runner: runner, hardware: hardware, logger: logger}
}

// Resolve returns Primary when the hardware encoder is available.
func (r *Resolver) Resolve(ctx context.Context) Backend {
	if r.hardware == "" || r.hardware == ffmpeg.SoftwareEncoder {
		return Fallback
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoders == nil {
		list, err := ffmpeg.ListEncoders(ctx, r.runner)
		if err != nil {
			r.logger.Warn("Listing encoders failed, using software encoder", "error", err)
			return Fallback
		}
		r.encoders = list
	}
	if slices.Contains(r.encoders, r.hardware) {
		return Primary
	}
	r.logger.Info("Hardware encoder not available, using software encoder", "encoder", r.hardware)
	return Fallback
}

// Encoder maps a backend to the encoder settings.
func (r *Resolver) Encoder(b Backend) ffmpeg.Encoder {
	if b == Primary && r.hardware != "" {
		return ffmpeg.EncoderFor(r.hardware)
	}
	return ffmpeg.EncoderFor(ffmpeg.SoftwareEncoder)
}
