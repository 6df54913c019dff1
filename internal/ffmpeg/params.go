package ffmpeg

// CaptureParams describes the camera input decoded to raw frames on stdout.
type CaptureParams struct {
	DevicePath   string // /dev/video0
	InputFormat  string // mjpeg, yuyv422
	Width        int
	Height       int
	FPS          int
	IsTestSource bool   // testsrc2 instead of the device
	PixFmt       string // rawvideo pixel format written to stdout
}

// RawInput describes rawvideo frames written to an encoder's stdin.
type RawInput struct {
	Width  int
	Height int
	FPS    int
	PixFmt string
}

// OutputKind selects the muxer of an encode command.
type OutputKind int

const (
	// OutputFile writes a single mp4 file.
	OutputFile OutputKind = iota
	// OutputRTSP publishes to an RTSP server with ANNOUNCE/RECORD.
	OutputRTSP
	// OutputSegments writes fixed-length mpegts segments and prints each
	// finished segment as a CSV line on stdout.
	OutputSegments
)

// EncodeParams represents all parameters needed to encode raw frames.
type EncodeParams struct {
	Input   RawInput
	Encoder Encoder
	Bitrate int // bits per second
	GOP     int // keyframe interval in frames (0 = 2s)

	Kind            OutputKind
	Output          string // file path, rtsp URL, or segment filename pattern
	SegmentSeconds  int    // OutputSegments only
	OverwriteOutput bool
}
