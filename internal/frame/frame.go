// Package frame holds the in-memory picture type passed from the frame
// source to every consumer, plus the per-frame conditioning steps.
package frame

import (
	"fmt"
	"image"
	"time"
)

// Format is the pixel layout of a frame.
type Format int

// Pixel formats.
const (
	RGB24 Format = iota
	Gray8
)

// BytesPerPixel returns the number of bytes one pixel occupies.
func (f Format) BytesPerPixel() int {
	if f == Gray8 {
		return 1
	}
	return 3
}

// PixFmt returns the ffmpeg pixel format name.
func (f Format) PixFmt() string {
	if f == Gray8 {
		return "gray"
	}
	return "rgb24"
}

func (f Format) String() string {
	return f.PixFmt()
}

// Frame is one decoded picture. Pix is tightly packed, row major.
type Frame struct {
	Width  int
	Height int
	Format Format
	Pix    []byte
	Seq    uint64
	Time   time.Time
}

// New allocates a black frame.
func New(width, height int, format Format) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Format: format,
		Pix:    make([]byte, width*height*format.BytesPerPixel()),
	}
}

// FrameSize returns the byte length of a frame with the given geometry.
func FrameSize(width, height int, format Format) int {
	return width * height * format.BytesPerPixel()
}

// Stride returns the number of bytes in one row.
func (f *Frame) Stride() int {
	return f.Width * f.Format.BytesPerPixel()
}

// Bounds returns the frame rectangle.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Geometry formats the frame size as WxH.
func (f *Frame) Geometry() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// SameGeometry reports whether two frames have the same size and format.
func (f *Frame) SameGeometry(o *Frame) bool {
	return o != nil && f.Width == o.Width && f.Height == o.Height && f.Format == o.Format
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Pix = make([]byte, len(f.Pix))
	copy(c.Pix, f.Pix)
	return &c
}

// Validate checks that Pix matches the declared geometry.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame geometry %dx%d", f.Width, f.Height)
	}
	if want := FrameSize(f.Width, f.Height, f.Format); len(f.Pix) != want {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(f.Pix), want)
	}
	return nil
}

// luma uses the BT.601 integer approximation.
func luma(r, g, b byte) byte {
	return byte((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

// Gray returns a single channel copy of the frame.
func (f *Frame) Gray() *Frame {
	if f.Format == Gray8 {
		return f.Clone()
	}
	out := New(f.Width, f.Height, Gray8)
	out.Seq, out.Time = f.Seq, f.Time
	for i, j := 0, 0; j < len(out.Pix); i, j = i+3, j+1 {
		out.Pix[j] = luma(f.Pix[i], f.Pix[i+1], f.Pix[i+2])
	}
	return out
}
