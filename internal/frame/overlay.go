package frame

import "image"

// Color is an RGB triple.
type Color struct{ R, G, B byte }

// Overlay colors.
var (
	Green  = Color{0, 255, 0}
	Red    = Color{255, 0, 0}
	Yellow = Color{255, 255, 0}
)

// Segment is a line from one point to another in frame coordinates.
type Segment struct {
	From, To image.Point
}

func (f *Frame) set(x, y int, c Color) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	if f.Format == Gray8 {
		f.Pix[y*f.Width+x] = luma(c.R, c.G, c.B)
		return
	}
	o := (y*f.Width + x) * 3
	f.Pix[o], f.Pix[o+1], f.Pix[o+2] = c.R, c.G, c.B
}

// DrawLine draws a one pixel line with Bresenham's algorithm, clipped to
// the frame.
func DrawLine(f *Frame, from, to image.Point, c Color) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}
	err := dx + dy
	x, y := from.X, from.Y
	for {
		f.set(x, y, c)
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// DrawRect outlines r.
func DrawRect(f *Frame, r image.Rectangle, c Color) {
	r = r.Intersect(f.Bounds())
	if r.Empty() {
		return
	}
	DrawLine(f, r.Min, image.Pt(r.Max.X-1, r.Min.Y), c)
	DrawLine(f, image.Pt(r.Min.X, r.Max.Y-1), image.Pt(r.Max.X-1, r.Max.Y-1), c)
	DrawLine(f, r.Min, image.Pt(r.Min.X, r.Max.Y-1), c)
	DrawLine(f, image.Pt(r.Max.X-1, r.Min.Y), image.Pt(r.Max.X-1, r.Max.Y-1), c)
}

// DrawVectors draws each segment with a dot at its head.
func DrawVectors(f *Frame, segs []Segment, c Color) {
	for _, s := range segs {
		DrawLine(f, s.From, s.To, c)
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				f.set(s.To.X+dx, s.To.Y+dy, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
