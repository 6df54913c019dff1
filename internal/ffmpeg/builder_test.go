package ffmpeg

import (
	"errors"
	"strings"
	"testing"

	"github.com/smazurov/camkeeper/internal/process"
)

func TestBuildCaptureCommand(t *testing.T) {
	tests := []struct {
		name    string
		params  CaptureParams
		want    []string
		wantErr bool
	}{
		{
			name:   "v4l2 device",
			params: CaptureParams{DevicePath: "/dev/video0", InputFormat: "mjpeg", Width: 1280, Height: 720, FPS: 30},
			want:   []string{"-f v4l2", "-input_format mjpeg", "-video_size 1280x720", "-framerate 30", "-i /dev/video0", "-f rawvideo -pix_fmt rgb24 pipe:1"},
		},
		{
			name:   "test source",
			params: CaptureParams{IsTestSource: true, Width: 640, Height: 480, FPS: 15, PixFmt: "gray"},
			want:   []string{"-re -f lavfi", "testsrc2=size=640x480:rate=15", "-pix_fmt gray pipe:1"},
		},
		{
			name:    "missing device",
			params:  CaptureParams{Width: 640, Height: 480, FPS: 15},
			wantErr: true,
		},
		{
			name:    "zero fps",
			params:  CaptureParams{IsTestSource: true, Width: 640, Height: 480},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := BuildCaptureCommand(tt.params)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidParams) {
					t.Fatalf("expected ErrInvalidParams, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(cmd, w) {
					t.Errorf("command %q missing %q", cmd, w)
				}
			}
		})
	}
}

func TestBuildEncodeCommandOutputs(t *testing.T) {
	in := RawInput{Width: 640, Height: 360, FPS: 25}
	tests := []struct {
		name   string
		params EncodeParams
		want   []string
	}{
		{
			name:   "mp4 file",
			params: EncodeParams{Input: in, Bitrate: 2000000, Kind: OutputFile, Output: "/rec/a b.mp4", OverwriteOutput: true},
			want:   []string{" -y ", "-video_size 640x360 -framerate 25 -i pipe:0", "-c:v libx264", "-b:v 2000000", "-g 50", "+faststart -f mp4 '/rec/a b.mp4'"},
		},
		{
			name:   "rtsp",
			params: EncodeParams{Input: in, Kind: OutputRTSP, Output: "rtsp://127.0.0.1:8554/live", Encoder: EncoderFor("h264_vaapi")},
			want:   []string{"-vaapi_device /dev/dri/renderD128 -f rawvideo", "-vf format=nv12,hwupload", "-c:v h264_vaapi", "-f rtsp rtsp://127.0.0.1:8554/live"},
		},
		{
			name:   "segments",
			params: EncodeParams{Input: in, Kind: OutputSegments, Output: "/hls/live%06d.ts", SegmentSeconds: 2},
			want:   []string{"expr:gte(t,n_forced*2)", "-segment_time 2", "-segment_list pipe:1 -segment_list_type csv", "/hls/live%06d.ts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := BuildEncodeCommand(tt.params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(cmd, w) {
					t.Errorf("command %q missing %q", cmd, w)
				}
			}
			if _, err := process.ParseCommand(cmd); err != nil {
				t.Errorf("command does not parse: %v", err)
			}
		})
	}
}

func TestBuildEncodeCommandRejectsBadInput(t *testing.T) {
	if _, err := BuildEncodeCommand(EncodeParams{Output: "x.mp4"}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
	if _, err := BuildEncodeCommand(EncodeParams{Input: RawInput{Width: 2, Height: 2, FPS: 1}}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams for missing output, got %v", err)
	}
}

func TestConcatList(t *testing.T) {
	got := ConcatList([]string{"/rec/a_seg000.mp4", "/rec/it's.mp4"})
	want := "ffconcat version 1.0\nfile '/rec/a_seg000.mp4'\nfile '/rec/it'\\''s.mp4'\n"
	if got != want {
		t.Errorf("ConcatList() = %q, want %q", got, want)
	}
}

func TestBuildConcatCopyCommand(t *testing.T) {
	cmd := BuildConcatCopyCommand("/tmp/list.txt", "/rec/x_merged.mp4")
	args, err := process.ParseCommand(cmd)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	joined := strings.Join(args, " ")
	for _, w := range []string{"-f concat -safe 0 -i /tmp/list.txt", "-c copy", "+faststart", "/rec/x_merged.mp4"} {
		if !strings.Contains(joined, w) {
			t.Errorf("command %q missing %q", joined, w)
		}
	}
}

func TestBuildReencodeCommand(t *testing.T) {
	cmd, err := BuildReencodeCommand(ReencodeParams{
		Inputs: []string{"a.mp4", "b.mp4", "c.mp4"},
		Output: "out.mp4",
		Width:  1280, Height: 720, FPS: 30,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args, err := process.ParseCommand(cmd)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	inputs := 0
	var graph string
	for i, a := range args {
		if a == "-i" {
			inputs++
		}
		if a == "-filter_complex" && i+1 < len(args) {
			graph = args[i+1]
		}
	}
	if inputs != 3 {
		t.Errorf("expected 3 inputs, got %d", inputs)
	}
	for _, w := range []string{"[0:v:0]scale=1280:720", "[v0][v1][v2]concat=n=3:v=1:a=0", "setpts=N/(30*TB)", "[out]"} {
		if !strings.Contains(graph, w) {
			t.Errorf("filter graph %q missing %q", graph, w)
		}
	}

	if _, err := BuildReencodeCommand(ReencodeParams{Output: "out.mp4", Width: 1, Height: 1, FPS: 1}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams without inputs, got %v", err)
	}
}

func TestEncoderFor(t *testing.T) {
	tests := []struct {
		name     string
		hardware bool
		filters  string
	}{
		{"h264_vaapi", true, "format=nv12,hwupload"},
		{"h264_v4l2m2m", true, "format=yuv420p"},
		{"h264_rkmpp", true, "format=nv12"},
		{"libx264", false, "format=yuv420p"},
		{"", false, "format=yuv420p"},
	}
	for _, tt := range tests {
		enc := EncoderFor(tt.name)
		if enc.Hardware() != tt.hardware {
			t.Errorf("%q: Hardware() = %v, want %v", tt.name, enc.Hardware(), tt.hardware)
		}
		if enc.VideoFilters != tt.filters {
			t.Errorf("%q: filters = %q, want %q", tt.name, enc.VideoFilters, tt.filters)
		}
	}
}

func TestParseEncoders(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC (codec h264)
 V....D h264_v4l2m2m         V4L2 mem2mem H.264 encoder wrapper (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`
	got := ParseEncoders(out)
	if len(got) != 2 || got[0] != "libx264" || got[1] != "h264_v4l2m2m" {
		t.Errorf("ParseEncoders() = %v", got)
	}
}
