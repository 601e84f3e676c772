package capture

import (
	"gocv.io/x/gocv"
)

// Adjustment is a brightness/contrast correction applied to every frame
// before decoding. Brightness 1 and contrast 1 leave the frame unchanged.
type Adjustment struct {
	Brightness float64
	Contrast   float64
}

// NoAdjustment returns the identity adjustment.
func NoAdjustment() Adjustment {
	return Adjustment{Brightness: 1, Contrast: 1}
}

// IsIdentity reports whether Apply would leave frames unchanged.
func (a Adjustment) IsIdentity() bool {
	return a.Brightness == 1 && a.Contrast == 1
}

// Alpha is the per-pixel gain.
func (a Adjustment) Alpha() float64 {
	return a.Contrast
}

// Beta is the per-pixel offset: each brightness step above 1 adds 100.
func (a Adjustment) Beta() float64 {
	return (a.Brightness - 1) * 100
}

// Apply rewrites frame in place as saturate(alpha*pixel + beta).
func (a Adjustment) Apply(frame *gocv.Mat) {
	if a.IsIdentity() || frame.Empty() {
		return
	}

	out := gocv.NewMat()
	defer out.Close()
	frame.ConvertToWithParams(&out, frame.Type(), float32(a.Alpha()), float32(a.Beta()))
	out.CopyTo(frame)
}
