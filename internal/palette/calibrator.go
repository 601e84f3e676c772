package palette

import (
	"fmt"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/ayusman/chromatape/internal/classifier"
	"github.com/ayusman/chromatape/internal/detector"
)

// Calibrator learns a complete palette from a single resolved header.
type Calibrator struct {
	order      Order
	classifier classifier.Classifier
	logger     *slog.Logger
}

// NewCalibrator creates a Calibrator that assigns header slots to symbols in
// order and classifies each slot with c.
func NewCalibrator(order Order, c classifier.Classifier, logger *slog.Logger) *Calibrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calibrator{order: order, classifier: c, logger: logger}
}

// Calibrate computes the dominant color of each of the header's slots and
// returns a complete, unfrozen palette. Any slot failure fails the whole
// calibration; nothing is carried over between frames.
func (c *Calibrator) Calibrate(frame gocv.Mat, header detector.Header) (*Palette, error) {
	slots := header.Slots(Size)
	if len(slots) != Size {
		return nil, fmt.Errorf("%w: header %v is too short for %d slots", ErrIncomplete, header.Rect, Size)
	}

	p := New(c.order)
	for i, slot := range slots {
		region := frame.Region(slot)
		color, err := c.classifier.Dominant(region)
		region.Close()
		if err != nil {
			return nil, fmt.Errorf("classify slot %d (%s): %w", i, c.order[i], err)
		}

		if err := p.Set(c.order[i], color); err != nil {
			return nil, err
		}

		c.logger.Debug("header slot calibrated",
			"slot", i,
			"symbol", c.order[i].String(),
			"color", color.String())
	}

	return p, nil
}
