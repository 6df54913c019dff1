package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe output the merge engine needs.
type ProbeResult struct {
	Codec    string
	Width    int
	Height   int
	FPS      float64
	Frames   int     // 0 when the container does not report it
	Duration float64 // seconds
}

// SameStream reports whether two files can be stream-copy concatenated.
func (r ProbeResult) SameStream(o ProbeResult) bool {
	return r.Codec == o.Codec && r.Width == o.Width && r.Height == o.Height
}

type probeJSON struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ParseProbe decodes BuildProbeCommand output.
func ParseProbe(output string) (ProbeResult, error) {
	var raw probeJSON
	if err := json.Unmarshal([]byte(output), &raw); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	if len(raw.Streams) == 0 {
		return ProbeResult{}, fmt.Errorf("%w: no video stream", ErrProbe)
	}
	s := raw.Streams[0]
	res := ProbeResult{
		Codec:  s.CodecName,
		Width:  s.Width,
		Height: s.Height,
		FPS:    parseRate(s.RFrameRate),
	}
	res.Frames, _ = strconv.Atoi(s.NbFrames)
	if d, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
		res.Duration = d
	}
	if res.Duration <= 0 {
		return res, fmt.Errorf("%w: no duration", ErrProbe)
	}
	return res, nil
}

// parseRate parses "30000/1001" or "30".
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Probe runs ffprobe on path through r.
func Probe(ctx context.Context, r Runner, path string) (ProbeResult, error) {
	out, err := r.Run(ctx, "ffprobe", BuildProbeCommand(path))
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %s: %w", ErrProbe, path, err)
	}
	return ParseProbe(out)
}

// ListEncoders runs `ffmpeg -encoders` through r.
func ListEncoders(ctx context.Context, r Runner) ([]string, error) {
	out, err := r.Run(ctx, "ffmpeg-encoders", BuildEncodersListCommand())
	if err != nil {
		return nil, err
	}
	return ParseEncoders(out), nil
}
