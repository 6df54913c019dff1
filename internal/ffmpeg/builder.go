package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smazurov/camkeeper/internal/process"
)

// BuildCaptureCommand builds an ffmpeg command that decodes the camera (or a
// test pattern) into rawvideo on stdout.
func BuildCaptureCommand(p CaptureParams) (string, error) {
	if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
		return "", fmt.Errorf("%w: capture geometry %dx%d@%d", ErrInvalidParams, p.Width, p.Height, p.FPS)
	}
	if !p.IsTestSource && p.DevicePath == "" {
		return "", fmt.Errorf("%w: device path is required", ErrInvalidParams)
	}
	pixFmt := p.PixFmt
	if pixFmt == "" {
		pixFmt = "rgb24"
	}
	size := fmt.Sprintf("%dx%d", p.Width, p.Height)

	var cmd strings.Builder
	cmd.WriteString(FFmpegBase())

	if p.IsTestSource {
		// -re reads at native frame rate
		cmd.WriteString(" -re -f lavfi")
		cmd.WriteString(fmt.Sprintf(" -i testsrc2=size=%s:rate=%d", size, p.FPS))
	} else {
		cmd.WriteString(" -f v4l2 -thread_queue_size 1024")
		if p.InputFormat != "" {
			cmd.WriteString(" -input_format " + p.InputFormat)
		}
		cmd.WriteString(" -video_size " + size)
		cmd.WriteString(" -framerate " + strconv.Itoa(p.FPS))
		cmd.WriteString(" -i " + process.Quote(p.DevicePath))
	}

	cmd.WriteString(" -an -fps_mode passthrough")
	cmd.WriteString(" -vf scale=" + size)
	cmd.WriteString(" -f rawvideo -pix_fmt " + pixFmt + " pipe:1")
	return cmd.String(), nil
}

// BuildEncodeCommand builds an ffmpeg command that reads rawvideo from stdin
// and encodes it into the requested output.
func BuildEncodeCommand(p EncodeParams) (string, error) {
	in := p.Input
	if in.Width <= 0 || in.Height <= 0 || in.FPS <= 0 {
		return "", fmt.Errorf("%w: input geometry %dx%d@%d", ErrInvalidParams, in.Width, in.Height, in.FPS)
	}
	if p.Output == "" {
		return "", fmt.Errorf("%w: output is required", ErrInvalidParams)
	}
	if p.Encoder.Name == "" {
		p.Encoder = EncoderFor(SoftwareEncoder)
	}
	pixFmt := in.PixFmt
	if pixFmt == "" {
		pixFmt = "rgb24"
	}
	gop := p.GOP
	if gop <= 0 {
		gop = in.FPS * 2
	}

	var cmd strings.Builder
	cmd.WriteString(FFmpegBase())
	if p.OverwriteOutput {
		cmd.WriteString(" -y")
	}
	for _, arg := range p.Encoder.GlobalArgs {
		cmd.WriteString(" " + arg)
	}

	cmd.WriteString(" -f rawvideo -pix_fmt " + pixFmt)
	cmd.WriteString(fmt.Sprintf(" -video_size %dx%d -framerate %d -i pipe:0", in.Width, in.Height, in.FPS))

	if p.Encoder.VideoFilters != "" {
		cmd.WriteString(" -vf " + p.Encoder.VideoFilters)
	}
	cmd.WriteString(" -c:v " + p.Encoder.Name)
	for _, arg := range p.Encoder.OutputArgs {
		cmd.WriteString(" " + arg)
	}
	if p.Bitrate > 0 {
		cmd.WriteString(" -b:v " + strconv.Itoa(p.Bitrate))
	}
	cmd.WriteString(" -g " + strconv.Itoa(gop))

	switch p.Kind {
	case OutputFile:
		cmd.WriteString(" -movflags +faststart -f mp4 " + process.Quote(p.Output))
	case OutputRTSP:
		cmd.WriteString(" -rtsp_transport tcp -f rtsp " + p.Output)
	case OutputSegments:
		seconds := p.SegmentSeconds
		if seconds <= 0 {
			seconds = 2
		}
		cmd.WriteString(fmt.Sprintf(" -force_key_frames expr:gte(t,n_forced*%d)", seconds))
		cmd.WriteString(fmt.Sprintf(" -f segment -segment_time %d -segment_format mpegts", seconds))
		cmd.WriteString(" -segment_list pipe:1 -segment_list_type csv -segment_list_flags live")
		cmd.WriteString(" " + process.Quote(p.Output))
	default:
		return "", fmt.Errorf("%w: unknown output kind %d", ErrInvalidParams, p.Kind)
	}
	return cmd.String(), nil
}

// BuildConcatCopyCommand builds the stream-copy concatenation of the files
// listed in listPath (concat demuxer format, see WriteConcatList).
func BuildConcatCopyCommand(listPath, output string) string {
	return FFmpegBase() + " -y -f concat -safe 0 -i " + process.Quote(listPath) +
		" -map 0:v -c copy -movflags +faststart " + process.Quote(output)
}

// ConcatList renders the concat demuxer input list for paths.
func ConcatList(paths []string) string {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, p := range paths {
		b.WriteString("file '" + strings.ReplaceAll(p, "'", `'\''`) + "'\n")
	}
	return b.String()
}

// ReencodeParams describes a decode, concatenate and re-encode merge.
type ReencodeParams struct {
	Inputs  []string
	Output  string
	Width   int // every input is scaled and padded to this geometry
	Height  int
	FPS     int
	Encoder Encoder
	Bitrate int
}

// BuildReencodeCommand decodes every input in order, concatenates the frames
// and re-stamps them as N/FPS so timestamps are strictly increasing and
// contiguous across input boundaries. No frame is dropped or duplicated.
func BuildReencodeCommand(p ReencodeParams) (string, error) {
	if len(p.Inputs) == 0 {
		return "", fmt.Errorf("%w: no inputs", ErrInvalidParams)
	}
	if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
		return "", fmt.Errorf("%w: output geometry %dx%d@%d", ErrInvalidParams, p.Width, p.Height, p.FPS)
	}
	if p.Encoder.Name == "" {
		p.Encoder = EncoderFor(SoftwareEncoder)
	}

	var cmd strings.Builder
	cmd.WriteString(FFmpegBase() + " -y")
	for _, arg := range p.Encoder.GlobalArgs {
		cmd.WriteString(" " + arg)
	}
	for _, in := range p.Inputs {
		cmd.WriteString(" -i " + process.Quote(in))
	}

	var graph strings.Builder
	for i := range p.Inputs {
		fmt.Fprintf(&graph,
			"[%d:v:0]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,setpts=PTS-STARTPTS[v%d];",
			i, p.Width, p.Height, p.Width, p.Height, i)
	}
	for i := range p.Inputs {
		fmt.Fprintf(&graph, "[v%d]", i)
	}
	fmt.Fprintf(&graph, "concat=n=%d:v=1:a=0,setpts=N/(%d*TB)", len(p.Inputs), p.FPS)
	if p.Encoder.VideoFilters != "" {
		graph.WriteString("," + p.Encoder.VideoFilters)
	}
	graph.WriteString("[out]")

	cmd.WriteString(" -filter_complex " + process.Quote(graph.String()))
	cmd.WriteString(" -map [out] -fps_mode passthrough -r " + strconv.Itoa(p.FPS))
	cmd.WriteString(" -c:v " + p.Encoder.Name)
	for _, arg := range p.Encoder.OutputArgs {
		cmd.WriteString(" " + arg)
	}
	if p.Bitrate > 0 {
		cmd.WriteString(" -b:v " + strconv.Itoa(p.Bitrate))
	}
	cmd.WriteString(" -movflags +faststart " + process.Quote(p.Output))
	return cmd.String(), nil
}

// BuildProbeCommand reports the first video stream and the container
// duration as JSON.
func BuildProbeCommand(path string) string {
	return FFprobeBase() + " -select_streams v:0" +
		" -show_entries stream=codec_name,width,height,r_frame_rate,nb_frames:format=duration" +
		" -of json " + process.Quote(path)
}

// BuildEncodersListCommand lists the encoders compiled into ffmpeg.
func BuildEncodersListCommand() string {
	return "ffmpeg -hide_banner -encoders"
}
