//go:build gocv

package motion

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/smazurov/camkeeper/internal/frame"
)

// NewTracker returns the tracker selected at build time.
func NewTracker(params Params) Tracker {
	return NewCVTracker(params)
}

// CVTracker runs corner detection and optical flow through OpenCV.
type CVTracker struct {
	params   Params
	criteria gocv.TermCriteria
}

// NewCVTracker creates an OpenCV backed tracker.
func NewCVTracker(params Params) *CVTracker {
	return &CVTracker{
		params:   params,
		criteria: gocv.NewTermCriteria(gocv.Count|gocv.EPS, params.MaxIterations, params.Epsilon),
	}
}

func grayMat(f *frame.Frame) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC1, f.Pix)
}

func pointsMat(pts []Point) gocv.Mat {
	m := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV32FC2)
	for i, p := range pts {
		m.SetFloatAt(i, 0, float32(p.X))
		m.SetFloatAt(i, 1, float32(p.Y))
	}
	return m
}

// Corners finds corners in the ROI sub-image and shifts them back to frame
// coordinates.
func (t *CVTracker) Corners(img *frame.Frame, roi image.Rectangle) []Point {
	roi = roi.Intersect(img.Bounds())
	if roi.Empty() {
		return nil
	}
	m, err := grayMat(img)
	if err != nil {
		return nil
	}
	defer m.Close()

	region := m.Region(roi)
	defer region.Close()

	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(region, &corners, t.params.MaxCorners, t.params.Quality, t.params.MinDistance)

	out := make([]Point, 0, corners.Rows())
	for i := range corners.Rows() {
		v := corners.GetVecfAt(i, 0)
		out = append(out, Point{X: float64(v[0]) + float64(roi.Min.X), Y: float64(v[1]) + float64(roi.Min.Y)})
	}
	return out
}

// Flow follows pts with cv::calcOpticalFlowPyrLK.
func (t *CVTracker) Flow(prev, next *frame.Frame, pts []Point) ([]Point, []bool) {
	out := make([]Point, len(pts))
	status := make([]bool, len(pts))
	if len(pts) == 0 {
		return out, status
	}

	pm, err := grayMat(prev)
	if err != nil {
		return out, status
	}
	defer pm.Close()
	nm, err := grayMat(next)
	if err != nil {
		return out, status
	}
	defer nm.Close()

	prevPts := pointsMat(pts)
	defer prevPts.Close()
	nextPts := gocv.NewMat()
	defer nextPts.Close()
	st := gocv.NewMat()
	defer st.Close()
	errs := gocv.NewMat()
	defer errs.Close()

	win := image.Pt(t.params.WinSize, t.params.WinSize)
	gocv.CalcOpticalFlowPyrLKWithParams(pm, nm, prevPts, nextPts, &st, &errs, win, t.params.MaxLevel, t.criteria, 0, minEigThreshold/255)

	for i := range pts {
		if i >= st.Rows() || i >= nextPts.Rows() {
			break
		}
		if st.GetUCharAt(i, 0) == 0 {
			continue
		}
		v := nextPts.GetVecfAt(i, 0)
		out[i] = Point{X: float64(v[0]), Y: float64(v[1])}
		status[i] = true
	}
	return out, status
}
