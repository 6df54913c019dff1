package ffmpeg

import (
	"context"
	"errors"
	"math"
	"testing"
)

const probeOutput = `{
    "programs": [],
    "streams": [
        {
            "codec_name": "h264",
            "width": 1920,
            "height": 1080,
            "r_frame_rate": "30000/1001",
            "nb_frames": "1798"
        }
    ],
    "format": {
        "duration": "60.026667"
    }
}`

func TestParseProbe(t *testing.T) {
	res, err := ParseProbe(probeOutput)
	if err != nil {
		t.Fatalf("ParseProbe() error: %v", err)
	}
	if res.Codec != "h264" || res.Width != 1920 || res.Height != 1080 || res.Frames != 1798 {
		t.Errorf("unexpected result %+v", res)
	}
	if math.Abs(res.FPS-29.97) > 0.01 {
		t.Errorf("FPS = %f", res.FPS)
	}
	if math.Abs(res.Duration-60.026667) > 1e-6 {
		t.Errorf("Duration = %f", res.Duration)
	}
}

func TestParseProbeErrors(t *testing.T) {
	for _, out := range []string{"", "not json", `{"streams":[]}`, `{"streams":[{"codec_name":"h264"}],"format":{}}`} {
		if _, err := ParseProbe(out); !errors.Is(err, ErrProbe) {
			t.Errorf("ParseProbe(%q) error = %v, want ErrProbe", out, err)
		}
	}
}

func TestSameStream(t *testing.T) {
	a := ProbeResult{Codec: "h264", Width: 640, Height: 480}
	if !a.SameStream(a) {
		t.Error("identical streams should match")
	}
	b := a
	b.Width = 1280
	if a.SameStream(b) {
		t.Error("different geometry should not match")
	}
}

type fakeRunner struct {
	out string
	err error
	cmd string
}

func (f *fakeRunner) Run(_ context.Context, _, command string) (string, error) {
	f.cmd = command
	return f.out, f.err
}

func TestProbeUsesRunner(t *testing.T) {
	r := &fakeRunner{out: probeOutput}
	res, err := Probe(context.Background(), r, "/rec/a.mp4")
	if err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	if res.Frames != 1798 {
		t.Errorf("Frames = %d", res.Frames)
	}
	if r.cmd != BuildProbeCommand("/rec/a.mp4") {
		t.Errorf("unexpected command %q", r.cmd)
	}

	r.err = &ExitError{Command: "ffprobe x", Code: 1}
	if _, err := Probe(context.Background(), r, "/rec/a.mp4"); !errors.Is(err, ErrProbe) {
		t.Errorf("expected ErrProbe, got %v", err)
	}
}

func TestExitErrorStructural(t *testing.T) {
	e := &ExitError{Command: "ffmpeg -i x", Code: 1, Tail: []string{"[error] Unknown encoder 'h264_foo'"}}
	if !e.Structural() {
		t.Error("unknown encoder should be structural")
	}
	if e.Error() != "ffmpeg exited with code 1: [error] Unknown encoder 'h264_foo'" {
		t.Errorf("Error() = %q", e.Error())
	}
	e.Tail = []string{"[warning] past duration too large"}
	if e.Structural() {
		t.Error("warning should not be structural")
	}
}
