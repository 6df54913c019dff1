// Package motion decides per frame whether something moved inside the
// region of interest. Corners are found with the Shi-Tomasi minimum
// eigenvalue measure and followed with pyramidal Lucas-Kanade optical flow;
// a forward-backward check drops points that do not track consistently.
package motion

import "time"

// Params tunes the detector. DefaultParams matches the appliance defaults.
type Params struct {
	TargetWidth      int     // frames are downscaled to this width before tracking
	RedetectInterval int     // frames between corner re-detections
	MaxCorners       int     // corners kept per detection
	Quality          float64 // fraction of the strongest corner response
	MinDistance      float64 // minimum pixel distance between corners
	BlockSize        int     // structure tensor neighbourhood
	WinSize          int     // LK search window (square)
	MaxLevel         int     // pyramid levels above the base image
	MaxIterations    int
	Epsilon          float64
	MinMagnitude     float64 // displacement that counts as moving
	FBThreshold      float64 // max forward-backward round-trip error
	MinMovingPoints  int     // moving points required to declare motion
	IdleTimeout      time.Duration
}

// DefaultParams returns the tuned defaults.
func DefaultParams() Params {
	return Params{
		TargetWidth:      640,
		RedetectInterval: 30,
		MaxCorners:       200,
		Quality:          0.003,
		MinDistance:      7,
		BlockSize:        3,
		WinSize:          25,
		MaxLevel:         2,
		MaxIterations:    30,
		Epsilon:          0.01,
		MinMagnitude:     1.0,
		FBThreshold:      4.0,
		MinMovingPoints:  8,
		IdleTimeout:      2 * time.Second,
	}
}
