package motion

import (
	"image"
	"math"
	"sync"
	"time"

	"github.com/smazurov/camkeeper/internal/frame"
	"github.com/smazurov/camkeeper/internal/logging"
)

// Point is a sub-pixel position.
type Point struct {
	X, Y float64
}

// Tracker finds corners and follows them between two gray frames. Points
// are in the coordinates of the frames passed in.
type Tracker interface {
	Corners(img *frame.Frame, roi image.Rectangle) []Point
	Flow(prev, next *frame.Frame, pts []Point) ([]Point, []bool)
}

// Vector is one tracked displacement in full-frame coordinates.
type Vector struct {
	From, To Point
}

// Result is the outcome of one Detect call.
type Result struct {
	Motion     bool
	Moving     int
	Tracked    int
	Redetected bool
	Vectors    []Vector
}

// Segments converts the vectors to integer line segments for overlays.
func (r Result) Segments() []frame.Segment {
	segs := make([]frame.Segment, len(r.Vectors))
	for i, v := range r.Vectors {
		segs[i] = frame.Segment{
			From: image.Pt(int(math.Round(v.From.X)), int(math.Round(v.From.Y))),
			To:   image.Pt(int(math.Round(v.To.X)), int(math.Round(v.To.Y))),
		}
	}
	return segs
}

// TrackState is the detector memory for one motion-policy session.
type TrackState struct {
	Points     []Point
	Frame      uint64 // frames seen since the state was created
	LastDetect uint64 // Frame at the last corner detection
	LastMotion time.Time
	Prev       *frame.Frame // previous downscaled gray frame
	roi        image.Rectangle
}

// Detector runs corner tracking over successive frames. Safe for use from
// one frame loop; Reset and LastMotion may be called from other goroutines.
type Detector struct {
	params  Params
	tracker Tracker
	logger  logging.Logger

	mu    sync.Mutex
	state *TrackState
}

// NewDetector creates a detector. A nil tracker selects the build default.
func NewDetector(params Params, tracker Tracker, logger logging.Logger) *Detector {
	if tracker == nil {
		tracker = NewTracker(params)
	}
	return &Detector{
		params:  params,
		tracker: tracker,
		logger:  logger,
	}
}

// Reset discards the tracking state. The next frame starts a fresh state.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.state = nil
	d.mu.Unlock()
}

// LastMotion returns when motion was last seen, zero if never.
func (d *Detector) LastMotion() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == nil {
		return time.Time{}
	}
	return d.state.LastMotion
}

// Detect processes one frame. roi is in the frame's own coordinates and is
// clipped to the frame; an empty clipped ROI never reports motion.
func (d *Detector) Detect(f *frame.Frame, roi image.Rectangle) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == nil {
		d.state = &TrackState{}
	}
	st := d.state
	st.Frame++

	gray := f
	if f.Format != frame.Gray8 {
		gray = f.Gray()
	}
	small, scale := frame.Downscale(gray, d.params.TargetWidth)

	scaled := scaleRect(roi, 1/scale).Intersect(small.Bounds())
	if scaled.Empty() {
		st.Points, st.Prev = nil, nil
		return Result{}
	}

	needDetect := st.Prev == nil ||
		len(st.Points) == 0 ||
		!st.Prev.SameGeometry(small) ||
		scaled != st.roi ||
		st.Frame-st.LastDetect >= uint64(d.params.RedetectInterval)

	if needDetect {
		st.Points = d.tracker.Corners(small, scaled)
		st.LastDetect = st.Frame
		st.Prev = small
		st.roi = scaled
		d.logger.Debug("Corners detected", "points", len(st.Points), "frame", st.Frame)
		return Result{Redetected: true, Tracked: len(st.Points)}
	}

	next, fwd := d.tracker.Flow(st.Prev, small, st.Points)
	back, bwd := d.tracker.Flow(small, st.Prev, next)

	minMag2 := d.params.MinMagnitude * d.params.MinMagnitude
	fb2 := d.params.FBThreshold * d.params.FBThreshold

	kept := st.Points[:0:0]
	var vectors []Vector
	moving := 0
	for i, p := range st.Points {
		if !fwd[i] || !bwd[i] {
			continue
		}
		if dist2(p, back[i]) > fb2 {
			continue
		}
		kept = append(kept, next[i])
		if dist2(p, next[i]) >= minMag2 {
			moving++
			vectors = append(vectors, Vector{
				From: Point{p.X * scale, p.Y * scale},
				To:   Point{next[i].X * scale, next[i].Y * scale},
			})
		}
	}

	st.Points = kept
	st.Prev = small

	res := Result{
		Motion:  moving >= d.params.MinMovingPoints,
		Moving:  moving,
		Tracked: len(kept),
	}
	if res.Motion {
		res.Vectors = vectors
		st.LastMotion = f.Time
		if st.LastMotion.IsZero() {
			st.LastMotion = time.Now()
		}
	}
	if len(kept) == 0 {
		d.logger.Debug("Tracking lost, re-detecting on next frame", "frame", st.Frame)
	}
	return res
}

func dist2(a, b Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

func scaleRect(r image.Rectangle, s float64) image.Rectangle {
	if s == 1 {
		return r
	}
	return image.Rect(
		int(math.Floor(float64(r.Min.X)*s)),
		int(math.Floor(float64(r.Min.Y)*s)),
		int(math.Ceil(float64(r.Max.X)*s)),
		int(math.Ceil(float64(r.Max.Y)*s)),
	)
}
