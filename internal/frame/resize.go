package frame

// Resize scales src to width x height with bilinear sampling. A frame that
// already has the target size is returned unchanged.
func Resize(src *Frame, width, height int) *Frame {
	if src.Width == width && src.Height == height {
		return src
	}
	bpp := src.Format.BytesPerPixel()
	dst := New(width, height, src.Format)
	dst.Seq, dst.Time = src.Seq, src.Time

	sx := float64(src.Width) / float64(width)
	sy := float64(src.Height) / float64(height)
	stride := src.Stride()

	for y := range height {
		fy := (float64(y)+0.5)*sy - 0.5
		y0 := clampInt(int(fy), 0, src.Height-1)
		y1 := clampInt(y0+1, 0, src.Height-1)
		wy := fy - float64(y0)
		if wy < 0 {
			wy = 0
		}
		for x := range width {
			fx := (float64(x)+0.5)*sx - 0.5
			x0 := clampInt(int(fx), 0, src.Width-1)
			x1 := clampInt(x0+1, 0, src.Width-1)
			wx := fx - float64(x0)
			if wx < 0 {
				wx = 0
			}
			o := (y*width + x) * bpp
			for c := range bpp {
				p00 := float64(src.Pix[y0*stride+x0*bpp+c])
				p01 := float64(src.Pix[y0*stride+x1*bpp+c])
				p10 := float64(src.Pix[y1*stride+x0*bpp+c])
				p11 := float64(src.Pix[y1*stride+x1*bpp+c])
				top := p00 + (p01-p00)*wx
				bot := p10 + (p11-p10)*wx
				dst.Pix[o+c] = byte(top + (bot-top)*wy + 0.5)
			}
		}
	}
	return dst
}

// Downscale shrinks a gray frame to the given width by area averaging,
// keeping the aspect ratio. It returns the frame and the scale factor
// (source pixels per output pixel).
func Downscale(src *Frame, width int) (*Frame, float64) {
	if src.Width <= width {
		return src, 1
	}
	scale := float64(src.Width) / float64(width)
	height := max(1, int(float64(src.Height)/scale+0.5))
	bpp := src.Format.BytesPerPixel()
	dst := New(width, height, src.Format)
	dst.Seq, dst.Time = src.Seq, src.Time
	stride := src.Stride()

	for y := range height {
		ys := int(float64(y) * scale)
		ye := min(src.Height, max(ys+1, int(float64(y+1)*scale)))
		for x := range width {
			xs := int(float64(x) * scale)
			xe := min(src.Width, max(xs+1, int(float64(x+1)*scale)))
			n := uint32((ye - ys) * (xe - xs))
			for c := range bpp {
				var sum uint32
				for yy := ys; yy < ye; yy++ {
					row := yy * stride
					for xx := xs; xx < xe; xx++ {
						sum += uint32(src.Pix[row+xx*bpp+c])
					}
				}
				dst.Pix[(y*width+x)*bpp+c] = byte((sum + n/2) / n)
			}
		}
	}
	return dst, scale
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
