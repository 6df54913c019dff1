//go:build !gocv

package motion

// NewTracker returns the tracker selected at build time.
func NewTracker(params Params) Tracker {
	return NewLKTracker(params)
}
