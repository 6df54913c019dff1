package frame

import (
	"math"
	"sync"
)

// Adjustments are the per-frame image controls.
type Adjustments struct {
	Gamma     float64
	AutoWhite bool
	Grayscale bool
}

// Conditioner applies Adjustments in place. The gamma table is rebuilt only
// when gamma changes.
type Conditioner struct {
	mu    sync.Mutex
	gamma float64
	lut   [256]byte
}

// NewConditioner creates a conditioner with an identity table.
func NewConditioner() *Conditioner {
	c := &Conditioner{}
	c.rebuild(1.0)
	return c
}

func (c *Conditioner) rebuild(gamma float64) {
	c.gamma = gamma
	c.lut = GammaTable(gamma)
}

// GammaTable maps v to 255*(v/255)^(1/gamma). gamma > 1 brightens.
func GammaTable(gamma float64) [256]byte {
	var lut [256]byte
	inv := 1.0 / gamma
	for i := range lut {
		v := math.Pow(float64(i)/255.0, inv) * 255.0
		lut[i] = byte(math.Min(255, math.Max(0, math.Round(v))))
	}
	return lut
}

// Apply conditions f in place: white balance first, then gamma, then
// grayscale. Gray frames only get gamma.
func (c *Conditioner) Apply(f *Frame, adj Adjustments) {
	if adj.AutoWhite && f.Format == RGB24 {
		GrayWorld(f)
	}

	if adj.Gamma > 0 && adj.Gamma != 1.0 {
		c.mu.Lock()
		if adj.Gamma != c.gamma {
			c.rebuild(adj.Gamma)
		}
		lut := c.lut
		c.mu.Unlock()
		for i, v := range f.Pix {
			f.Pix[i] = lut[v]
		}
	}

	if adj.Grayscale && f.Format == RGB24 {
		Desaturate(f)
	}
}

// GrayWorld scales each channel so the channel means match the overall mean.
func GrayWorld(f *Frame) {
	if f.Format != RGB24 || len(f.Pix) == 0 {
		return
	}
	var sum [3]uint64
	for i := 0; i < len(f.Pix); i += 3 {
		sum[0] += uint64(f.Pix[i])
		sum[1] += uint64(f.Pix[i+1])
		sum[2] += uint64(f.Pix[i+2])
	}
	n := float64(len(f.Pix) / 3)
	mean := [3]float64{float64(sum[0]) / n, float64(sum[1]) / n, float64(sum[2]) / n}
	avg := (mean[0] + mean[1] + mean[2]) / 3
	if avg == 0 {
		return
	}

	var luts [3][256]byte
	for c := range 3 {
		gain := 1.0
		if mean[c] > 0 {
			gain = avg / mean[c]
		}
		for v := range 256 {
			luts[c][v] = byte(math.Min(255, math.Round(float64(v)*gain)))
		}
	}
	for i := 0; i < len(f.Pix); i += 3 {
		f.Pix[i] = luts[0][f.Pix[i]]
		f.Pix[i+1] = luts[1][f.Pix[i+1]]
		f.Pix[i+2] = luts[2][f.Pix[i+2]]
	}
}

// Desaturate replaces every RGB pixel with its luma, keeping three channels
// so encoders see one pixel format regardless of color mode.
func Desaturate(f *Frame) {
	if f.Format != RGB24 {
		return
	}
	for i := 0; i < len(f.Pix); i += 3 {
		y := luma(f.Pix[i], f.Pix[i+1], f.Pix[i+2])
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = y, y, y
	}
}
