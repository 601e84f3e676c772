package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MotionDetector reports whether a region of the frame changed since the
// previous call. The decoder uses it to skip template matching on frames
// where the search window is static.
type MotionDetector struct {
	threshold   float64
	prevGray    gocv.Mat
	prevRect    image.Rectangle
	initialized bool
	mu          sync.Mutex
}

// Motion detection constants
const (
	// GaussianBlurSize is the kernel size for Gaussian blur (21x21)
	GaussianBlurSize = 21
	// DiffThreshold is the binary threshold for difference detection
	DiffThreshold = 25
	// DefaultMotionThreshold is the share of changed pixels, in percent,
	// above which a region counts as changed.
	DefaultMotionThreshold = 0.5
)

// NewMotionDetector creates a MotionDetector. threshold is a percentage of
// region pixels: 1.0 means 1% must change.
func NewMotionDetector(threshold float64) *MotionDetector {
	if threshold <= 0 {
		threshold = DefaultMotionThreshold
	}
	return &MotionDetector{
		threshold: threshold,
		prevGray:  gocv.NewMat(),
	}
}

// Detect compares roi of frame with the baseline and returns whether it
// changed and the percentage of changed pixels. The first call, or a call
// with a different roi, always reports a change. The baseline only moves
// when a change is reported, so slow drift accumulates until it counts.
func (m *MotionDetector) Detect(frame gocv.Mat, roi image.Rectangle) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blurred, roi, ok := m.prepare(frame, roi)
	if !ok {
		return false, 0
	}
	defer blurred.Close()

	if !m.initialized || roi != m.prevRect {
		m.store(blurred, roi)
		return true, 100
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	changePercent := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	changed := changePercent > m.threshold
	if changed {
		m.store(blurred, roi)
	}
	return changed, changePercent
}

// Rebase makes roi of frame the baseline, as if Detect had reported it
// changed.
func (m *MotionDetector) Rebase(frame gocv.Mat, roi image.Rectangle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blurred, roi, ok := m.prepare(frame, roi)
	if !ok {
		return
	}
	defer blurred.Close()
	m.store(blurred, roi)
}

// prepare returns the blurred grayscale roi of frame, clipped to the frame.
func (m *MotionDetector) prepare(frame gocv.Mat, roi image.Rectangle) (gocv.Mat, image.Rectangle, bool) {
	if frame.Empty() {
		return gocv.Mat{}, roi, false
	}
	roi = roi.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if roi.Empty() {
		return gocv.Mat{}, roi, false
	}

	region := frame.Region(roi)
	defer region.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if region.Channels() > 1 {
		gocv.CvtColor(region, &gray, gocv.ColorBGRToGray)
	} else {
		region.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Pt(GaussianBlurSize, GaussianBlurSize), 0, 0, gocv.BorderDefault)
	return blurred, roi, true
}

func (m *MotionDetector) store(blurred gocv.Mat, roi image.Rectangle) {
	blurred.CopyTo(&m.prevGray)
	m.prevRect = roi
	m.initialized = true
}

// Reset forgets the baseline so the next frame counts as changed.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// Close releases resources used by the motion detector.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *MotionDetector) reset() {
	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.prevRect = image.Rectangle{}
	m.initialized = false
}

// SetThreshold sets the change percentage. Values <= 0 are ignored.
func (m *MotionDetector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threshold = threshold
}
