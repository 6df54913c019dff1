package ffmpeg

import (
	"bufio"
	"strings"
)

// FFmpegBase returns the ffmpeg command with standard flags
func FFmpegBase() string {
	return "ffmpeg -hide_banner -nostdin -loglevel level+info"
}

// FFprobeBase returns the ffprobe command with standard flags
func FFprobeBase() string {
	return "ffprobe -hide_banner -v error"
}

// SoftwareEncoder is used when no hardware encoder is available.
const SoftwareEncoder = "libx264"

// Encoder is an ffmpeg video encoder plus the arguments it needs to accept
// rawvideo input.
type Encoder struct {
	Name         string
	GlobalArgs   []string // before the input, e.g. -vaapi_device
	VideoFilters string   // e.g. format=nv12,hwupload
	OutputArgs   []string // after -c:v
}

// Hardware reports whether the encoder offloads to a device.
func (e Encoder) Hardware() bool {
	return isHardwareEncoder(e.Name)
}

// EncoderFor returns the production settings for an encoder name.
func EncoderFor(name string) Encoder {
	switch {
	case strings.Contains(name, "vaapi"):
		return Encoder{
			Name:         name,
			GlobalArgs:   []string{"-vaapi_device", "/dev/dri/renderD128"},
			VideoFilters: "format=nv12,hwupload",
			OutputArgs:   []string{"-bf", "0"},
		}
	case strings.Contains(name, "v4l2m2m"):
		return Encoder{
			Name:         name,
			VideoFilters: "format=yuv420p",
			OutputArgs:   []string{"-num_output_buffers", "32", "-num_capture_buffers", "16"},
		}
	case strings.Contains(name, "rkmpp"), strings.Contains(name, "nvenc"), strings.Contains(name, "qsv"):
		return Encoder{Name: name, VideoFilters: "format=nv12"}
	case name == "" || name == SoftwareEncoder:
		return Encoder{
			Name:         SoftwareEncoder,
			VideoFilters: "format=yuv420p",
			OutputArgs:   []string{"-preset", "veryfast", "-tune", "zerolatency", "-bf", "0"},
		}
	}
	return Encoder{Name: name, VideoFilters: "format=yuv420p"}
}

// isHardwareEncoder checks if the given codec name represents a hardware encoder
func isHardwareEncoder(codec string) bool {
	hardwareCodecs := []string{
		"nvenc", "amf", "vaapi", "qsv", "videotoolbox", "rkmpp", "v4l2m2m",
	}

	for _, hwCodec := range hardwareCodecs {
		if strings.Contains(codec, hwCodec) {
			return true
		}
	}
	return false
}

// ParseEncoders extracts video encoder names from `ffmpeg -encoders` output.
// Lines look like " V....D h264_vaapi           H.264/AVC (VAAPI)".
func ParseEncoders(output string) []string {
	var names []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	inList := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inList {
			// the legend ends with a dashed separator
			if strings.HasPrefix(line, "------") {
				inList = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 || fields[0][0] != 'V' {
			continue
		}
		names = append(names, fields[1])
	}
	return names
}
