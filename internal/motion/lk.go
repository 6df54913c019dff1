package motion

import (
	"image"
	"math"
	"sort"
	"sync"

	"github.com/smazurov/camkeeper/internal/frame"
)

// minEigThreshold rejects flat windows during flow, per pixel of window.
const minEigThreshold = 1e-2

// plane is a float32 single channel image.
type plane struct {
	w, h int
	pix  []float32
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float32, w*h)}
}

func planeFromGray(f *frame.Frame) *plane {
	p := newPlane(f.Width, f.Height)
	for i, v := range f.Pix {
		p.pix[i] = float32(v)
	}
	return p
}

func (p *plane) at(x, y int) float32 {
	if x < 0 {
		x = 0
	} else if x >= p.w {
		x = p.w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= p.h {
		y = p.h - 1
	}
	return p.pix[y*p.w+x]
}

// sample reads p at a sub-pixel position with bilinear interpolation and
// border replication.
func (p *plane) sample(x, y float64) float32 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	ax := float32(x - float64(x0))
	ay := float32(y - float64(y0))
	a := p.at(x0, y0)
	b := p.at(x0+1, y0)
	c := p.at(x0, y0+1)
	d := p.at(x0+1, y0+1)
	top := a + (b-a)*ax
	bot := c + (d-c)*ax
	return top + (bot-top)*ay
}

// half averages 2x2 blocks.
func (p *plane) half() *plane {
	w, h := max(1, p.w/2), max(1, p.h/2)
	out := newPlane(w, h)
	for y := range h {
		for x := range w {
			out.pix[y*w+x] = (p.at(2*x, 2*y) + p.at(2*x+1, 2*y) + p.at(2*x, 2*y+1) + p.at(2*x+1, 2*y+1)) / 4
		}
	}
	return out
}

// gradients returns central difference derivatives.
func (p *plane) gradients() (gx, gy *plane) {
	gx, gy = newPlane(p.w, p.h), newPlane(p.w, p.h)
	for y := range p.h {
		for x := range p.w {
			i := y*p.w + x
			gx.pix[i] = (p.at(x+1, y) - p.at(x-1, y)) / 2
			gy.pix[i] = (p.at(x, y+1) - p.at(x, y-1)) / 2
		}
	}
	return gx, gy
}

// sobel returns 3x3 Sobel derivatives, used for the corner response.
func (p *plane) sobel() (gx, gy *plane) {
	gx, gy = newPlane(p.w, p.h), newPlane(p.w, p.h)
	for y := range p.h {
		for x := range p.w {
			i := y*p.w + x
			gx.pix[i] = (p.at(x+1, y-1) + 2*p.at(x+1, y) + p.at(x+1, y+1)) -
				(p.at(x-1, y-1) + 2*p.at(x-1, y) + p.at(x-1, y+1))
			gy.pix[i] = (p.at(x-1, y+1) + 2*p.at(x, y+1) + p.at(x+1, y+1)) -
				(p.at(x-1, y-1) + 2*p.at(x, y-1) + p.at(x+1, y-1))
		}
	}
	return gx, gy
}

type pyramid struct {
	levels []*plane
	gx, gy []*plane
}

func buildPyramid(f *frame.Frame, maxLevel int) *pyramid {
	base := planeFromGray(f)
	pyr := &pyramid{}
	cur := base
	for l := 0; l <= maxLevel; l++ {
		if l > 0 {
			cur = cur.half()
		}
		gx, gy := cur.gradients()
		pyr.levels = append(pyr.levels, cur)
		pyr.gx = append(pyr.gx, gx)
		pyr.gy = append(pyr.gy, gy)
	}
	return pyr
}

// LKTracker is the pure Go tracker.
type LKTracker struct {
	params Params

	mu    sync.Mutex
	cache []cachedPyramid
}

type cachedPyramid struct {
	frame *frame.Frame
	pyr   *pyramid
}

// NewLKTracker creates a pure Go Shi-Tomasi + pyramidal Lucas-Kanade tracker.
func NewLKTracker(params Params) *LKTracker {
	return &LKTracker{params: params}
}

// pyramidFor builds or reuses the pyramid of f. The detector flows forward
// and backward over the same pair, so two entries cover a frame step.
func (t *LKTracker) pyramidFor(f *frame.Frame) *pyramid {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.cache {
		if c.frame == f {
			return c.pyr
		}
	}
	pyr := buildPyramid(f, t.params.MaxLevel)
	t.cache = append(t.cache, cachedPyramid{frame: f, pyr: pyr})
	if len(t.cache) > 2 {
		t.cache = t.cache[len(t.cache)-2:]
	}
	return pyr
}

// Corners finds up to MaxCorners Shi-Tomasi corners inside roi.
func (t *LKTracker) Corners(img *frame.Frame, roi image.Rectangle) []Point {
	roi = roi.Intersect(img.Bounds())
	if roi.Empty() {
		return nil
	}
	im := planeFromGray(img)
	gx, gy := im.sobel()

	r := max(1, t.params.BlockSize/2)
	resp := newPlane(im.w, im.h)
	var maxResp float32
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			var a, b, c float32
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					ix, iy := gx.at(x+dx, y+dy), gy.at(x+dx, y+dy)
					a += ix * ix
					b += ix * iy
					c += iy * iy
				}
			}
			half := (a + c) / 2
			diff := (a - c) / 2
			e := half - float32(math.Sqrt(float64(diff*diff+b*b)))
			resp.pix[y*im.w+x] = e
			if e > maxResp {
				maxResp = e
			}
		}
	}
	if maxResp <= 0 {
		return nil
	}
	threshold := float32(t.params.Quality) * maxResp

	type candidate struct {
		x, y int
		v    float32
	}
	var cands []candidate
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			v := resp.pix[y*im.w+x]
			if v < threshold {
				continue
			}
			if !isLocalMax(resp, roi, x, y, v) {
				continue
			}
			cands = append(cands, candidate{x, y, v})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].v > cands[j].v })

	minDist := t.params.MinDistance
	cell := max(1, int(minDist))
	gridW := (im.w + cell - 1) / cell
	grid := make(map[int][]Point)
	var out []Point

	for _, c := range cands {
		if len(out) >= t.params.MaxCorners {
			break
		}
		p := Point{float64(c.x), float64(c.y)}
		cx, cy := c.x/cell, c.y/cell
		ok := true
	search:
		for yy := cy - 1; yy <= cy+1; yy++ {
			for xx := cx - 1; xx <= cx+1; xx++ {
				for _, q := range grid[yy*gridW+xx] {
					if dist2(p, q) < minDist*minDist {
						ok = false
						break search
					}
				}
			}
		}
		if !ok {
			continue
		}
		grid[cy*gridW+cx] = append(grid[cy*gridW+cx], p)
		out = append(out, p)
	}
	return out
}

func isLocalMax(resp *plane, roi image.Rectangle, x, y int, v float32) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if !image.Pt(nx, ny).In(roi) {
				continue
			}
			if resp.pix[ny*resp.w+nx] > v {
				return false
			}
		}
	}
	return true
}

// Flow follows pts from prev into next.
func (t *LKTracker) Flow(prev, next *frame.Frame, pts []Point) ([]Point, []bool) {
	out := make([]Point, len(pts))
	status := make([]bool, len(pts))
	if len(pts) == 0 {
		return out, status
	}
	pp := t.pyramidFor(prev)
	np := t.pyramidFor(next)
	for i, p := range pts {
		out[i], status[i] = t.track(pp, np, p)
	}
	return out, status
}

func (t *LKTracker) track(pp, np *pyramid, pt Point) (Point, bool) {
	r := t.params.WinSize / 2
	n := (2*r + 1) * (2*r + 1)
	ivals := make([]float32, n)
	ixs := make([]float32, n)
	iys := make([]float32, n)
	eps2 := t.params.Epsilon * t.params.Epsilon

	var gX, gY float64
	for l := len(pp.levels) - 1; l >= 0; l-- {
		s := math.Ldexp(1, -l)
		px, py := pt.X*s, pt.Y*s
		prev, next := pp.levels[l], np.levels[l]
		gxp, gyp := pp.gx[l], pp.gy[l]

		var gxx, gxy, gyy float64
		k := 0
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				x, y := px+float64(dx), py+float64(dy)
				ix, iy := gxp.sample(x, y), gyp.sample(x, y)
				ivals[k], ixs[k], iys[k] = prev.sample(x, y), ix, iy
				gxx += float64(ix * ix)
				gxy += float64(ix * iy)
				gyy += float64(iy * iy)
				k++
			}
		}
		det := gxx*gyy - gxy*gxy
		minEig := ((gxx + gyy) - math.Sqrt((gxx-gyy)*(gxx-gyy)+4*gxy*gxy)) / 2 / float64(n)
		if minEig < minEigThreshold || det == 0 {
			return Point{}, false
		}

		var vX, vY float64
		for range t.params.MaxIterations {
			var bx, by float64
			k = 0
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					j := next.sample(px+gX+vX+float64(dx), py+gY+vY+float64(dy))
					diff := float64(ivals[k] - j)
					bx += diff * float64(ixs[k])
					by += diff * float64(iys[k])
					k++
				}
			}
			ex := (gyy*bx - gxy*by) / det
			ey := (gxx*by - gxy*bx) / det
			vX += ex
			vY += ey
			if ex*ex+ey*ey < eps2 {
				break
			}
		}

		if l > 0 {
			gX, gY = 2*(gX+vX), 2*(gY+vY)
		} else {
			gX, gY = gX+vX, gY+vY
		}
	}

	res := Point{pt.X + gX, pt.Y + gY}
	base := pp.levels[0]
	if math.IsNaN(res.X) || math.IsNaN(res.Y) ||
		res.X < 0 || res.Y < 0 || res.X > float64(base.w-1) || res.Y > float64(base.h-1) {
		return Point{}, false
	}
	return res, true
}
