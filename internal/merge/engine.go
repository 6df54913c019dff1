// Package merge joins the segments of a finished session into one file.
// The fast path stream-copies through the concat demuxer; when that fails
// or the inputs differ, every frame is decoded, re-stamped and re-encoded.
// Inputs are deleted only after the output has been verified.
package merge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/camkeeper/internal/ffmpeg"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/recorder"
)

// Path is the merge strategy that produced the output.
type Path string

// Merge paths.
const (
	PathFast     Path = "fast"
	PathFallback Path = "fallback"
)

// Job merges the segments of one session.
type Job struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Inputs    []string `json:"inputs"`
	Output    string   `json:"output"`
	Recovered bool     `json:"recovered,omitempty"`
}

// NewJob builds a job writing {sessionID}_merged.mp4 next to the inputs.
func NewJob(sessionID string, inputs []string) Job {
	dir := "."
	if len(inputs) > 0 {
		dir = filepath.Dir(inputs[0])
	}
	return Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Inputs:    append([]string(nil), inputs...),
		Output:    filepath.Join(dir, recorder.MergedName(sessionID)),
	}
}

// Result describes a successful merge.
type Result struct {
	Job      Job           `json:"job"`
	Path     Path          `json:"path"`
	Inputs   int           `json:"inputs"`
	Duration float64       `json:"duration"`
	Frames   int           `json:"frames"`
	Elapsed  time.Duration `json:"elapsed"`
	// Skipped lists inputs that could not be read and were left on disk.
	Skipped []string `json:"skipped,omitempty"`
}

// Engine runs merges.
type Engine struct {
	runner  ffmpeg.Runner
	encoder ffmpeg.Encoder
	bitrate int
	logger  logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithEncoder sets the fallback encoder. The software encoder is the default.
func WithEncoder(enc ffmpeg.Encoder) Option {
	return func(e *Engine) { e.encoder = enc }
}

// WithBitrate sets the fallback bitrate.
func WithBitrate(bps int) Option {
	return func(e *Engine) { e.bitrate = bps }
}

// NewEngine creates an engine running ffmpeg through runner.
func NewEngine(runner ffmpeg.Runner, logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		runner:  runner,
		encoder: ffmpeg.EncoderFor(ffmpeg.SoftwareEncoder),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type input struct {
	path  string
	probe ffmpeg.ProbeResult
}

// Merge runs job. On success the output exists and the merged inputs are
// gone; on failure every input is left in place.
func (e *Engine) Merge(ctx context.Context, job Job) (Result, error) {
	started := time.Now()
	res := Result{Job: job}

	inputs, skipped := e.probeInputs(ctx, job)
	res.Skipped = skipped
	if len(inputs) == 0 {
		return res, &Error{Code: CodeNoInputs, Message: "session " + job.SessionID, Cause: ErrNoInputs}
	}
	res.Inputs = len(inputs)

	want := expected(inputs)
	part := partName(job.Output)
	defer os.Remove(part)

	path, out, err := e.fastPath(ctx, job, inputs, part, want)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		e.logger.Warn("Fast merge failed, falling back to re-encode", "session", job.SessionID, "error", err)
		path, out, err = e.fallback(ctx, job, inputs, part, want)
		if err != nil {
			return res, err
		}
	}

	if err := os.Rename(part, job.Output); err != nil {
		return res, &Error{Code: CodeIO, Message: "publish output", Cause: err}
	}
	res.Path, res.Duration, res.Frames = path, out.Duration, out.Frames

	for _, in := range inputs {
		if err := os.Remove(in.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("Removing merged input failed", "path", in.path, "error", err)
		}
	}
	res.Elapsed = time.Since(started)
	e.logger.Info("Session merged", "session", job.SessionID, "path", path, "inputs", len(inputs),
		"duration", out.Duration, "output", job.Output, "elapsed", res.Elapsed)
	return res, nil
}

// probeInputs keeps the inputs that exist, are non-empty and probe
// readable, in job order.
func (e *Engine) probeInputs(ctx context.Context, job Job) ([]input, []string) {
	var (
		inputs  []input
		skipped []string
	)
	for _, path := range job.Inputs {
		info, err := os.Stat(path)
		if err != nil {
			e.logger.Warn("Merge input missing", "session", job.SessionID, "path", path, "error", err)
			continue
		}
		if info.Size() == 0 {
			e.logger.Warn("Merge input empty, leaving it in place", "session", job.SessionID, "path", path)
			skipped = append(skipped, path)
			continue
		}
		probe, err := ffmpeg.Probe(ctx, e.runner, path)
		if err != nil {
			e.logger.Warn("Merge input unreadable, leaving it in place", "session", job.SessionID, "path", path, "error", err)
			skipped = append(skipped, path)
			continue
		}
		inputs = append(inputs, input{path: path, probe: probe})
	}
	return inputs, skipped
}

type expectation struct {
	duration float64
	frames   int // 0 when any input lacks a frame count
	fps      float64
}

func expected(inputs []input) expectation {
	var exp expectation
	exp.fps = inputs[0].probe.FPS
	countable := true
	for _, in := range inputs {
		exp.duration += in.probe.Duration
		exp.frames += in.probe.Frames
		if in.probe.Frames == 0 {
			countable = false
		}
	}
	if !countable {
		exp.frames = 0
	}
	return exp
}

// tolerance is one frame interval.
func (x expectation) tolerance() float64 {
	if x.fps <= 0 {
		return 1.0 / 30
	}
	return 1 / x.fps
}

func (e *Engine) fastPath(ctx context.Context, job Job, inputs []input, part string, want expectation) (Path, ffmpeg.ProbeResult, error) {
	first := inputs[0].probe
	for _, in := range inputs[1:] {
		if !first.SameStream(in.probe) {
			return PathFast, ffmpeg.ProbeResult{}, &Error{
				Code:    CodeFastPath,
				Message: fmt.Sprintf("%s differs from %s", in.path, inputs[0].path),
			}
		}
	}

	list := strings.TrimSuffix(job.Output, ".mp4") + ".concat.txt"
	paths := make([]string, len(inputs))
	for i, in := range inputs {
		paths[i] = in.path
	}
	if err := os.WriteFile(list, []byte(ffmpeg.ConcatList(paths)), 0o644); err != nil {
		return PathFast, ffmpeg.ProbeResult{}, &Error{Code: CodeIO, Message: "write concat list", Cause: err}
	}
	defer os.Remove(list)

	if _, err := e.runner.Run(ctx, "merge-"+job.SessionID, ffmpeg.BuildConcatCopyCommand(list, part)); err != nil {
		return PathFast, ffmpeg.ProbeResult{}, &Error{Code: CodeFastPath, Message: "concat copy", Cause: err}
	}
	out, err := e.verify(ctx, part, want, false)
	return PathFast, out, err
}

func (e *Engine) fallback(ctx context.Context, job Job, inputs []input, part string, want expectation) (Path, ffmpeg.ProbeResult, error) {
	first := inputs[0].probe
	fps := int(math.Round(first.FPS))
	if fps <= 0 {
		fps = 30
	}
	paths := make([]string, len(inputs))
	for i, in := range inputs {
		paths[i] = in.path
	}
	cmd, err := ffmpeg.BuildReencodeCommand(ffmpeg.ReencodeParams{
		Inputs:  paths,
		Output:  part,
		Width:   first.Width,
		Height:  first.Height,
		FPS:     fps,
		Encoder: e.encoder,
		Bitrate: e.bitrate,
	})
	if err != nil {
		return PathFallback, ffmpeg.ProbeResult{}, &Error{Code: CodeFallback, Message: "build command", Cause: err}
	}
	if _, err := e.runner.Run(ctx, "merge-"+job.SessionID, cmd); err != nil {
		return PathFallback, ffmpeg.ProbeResult{}, &Error{Code: CodeFallback, Message: "re-encode", Cause: err}
	}
	// the output is re-stamped at the nominal rate, so compare frame counts
	// when they are known
	want.fps = float64(fps)
	out, err := e.verify(ctx, part, want, true)
	return PathFallback, out, err
}

// verify confirms the output exists, is non-empty, probes and matches the
// inputs. Re-encoded output is checked by frame count when known.
func (e *Engine) verify(ctx context.Context, path string, want expectation, byFrames bool) (ffmpeg.ProbeResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ffmpeg.ProbeResult{}, &Error{Code: CodeVerify, Message: "output missing", Cause: err}
	}
	if info.Size() == 0 {
		return ffmpeg.ProbeResult{}, &Error{Code: CodeVerify, Message: "output empty"}
	}
	out, err := ffmpeg.Probe(ctx, e.runner, path)
	if err != nil {
		return out, &Error{Code: CodeVerify, Message: "output unreadable", Cause: err}
	}
	if byFrames && want.frames > 0 && out.Frames > 0 {
		if out.Frames != want.frames {
			return out, &Error{Code: CodeVerify, Message: fmt.Sprintf("output has %d frames, inputs %d", out.Frames, want.frames)}
		}
		return out, nil
	}
	if byFrames && want.frames > 0 {
		want.duration = float64(want.frames) / want.fps
	}
	if diff := math.Abs(out.Duration - want.duration); diff > want.tolerance()+1e-3 {
		return out, &Error{Code: CodeVerify, Message: fmt.Sprintf("output lasts %.3fs, inputs %.3fs", out.Duration, want.duration)}
	}
	return out, nil
}

func partName(output string) string {
	return strings.TrimSuffix(output, ".mp4") + ".part.mp4"
}
