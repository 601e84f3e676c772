// Package detector locates the structural markers of an on-screen program:
// it matches grayscale templates inside a search window, resolves the header
// rectangle from the header_start/header_end markers and derives the regions
// the rest of the pipeline samples.
package detector

import (
	"image"
	"log/slog"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/chromatape/internal/chroma"
)

// Template names every header template library must provide.
const (
	HeaderStart = "header_start"
	HeaderEnd   = "header_end"
)

// DefaultMatchThreshold is the normalized correlation a match must exceed.
const DefaultMatchThreshold = 0.8

// Detector defines the interface for template localization implementations.
type Detector interface {
	// Locate searches window of frame for each template and returns one
	// result per template, in the same order. A miss is not an error.
	Locate(frame gocv.Mat, window image.Rectangle, templates []*Template) []MatchResult
}

// Config holds configuration options for template localization.
type Config struct {
	// Threshold is the minimum correlation score (exclusive) for a hit.
	Threshold float64

	// Logger receives per-template scores at debug level.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the standard match threshold.
func DefaultConfig() Config {
	return Config{Threshold: DefaultMatchThreshold}
}

// MatchResult is the best match of one template in one frame.
type MatchResult struct {
	Name     string
	Location image.Point // top-left corner in frame coordinates
	Size     image.Point // template width and height
	Score    float64
	Hit      bool
}

// Rect returns the matched area in frame coordinates.
func (m MatchResult) Rect() image.Rectangle {
	return image.Rectangle{Min: m.Location, Max: m.Location.Add(m.Size)}
}

// Locator implements Detector with normalized cross-correlation
// (TM_CCOEFF_NORMED) over the grayscale search window.
type Locator struct {
	threshold float64
	logger    *slog.Logger
}

// NewLocator creates a Locator. A non-positive threshold uses
// DefaultMatchThreshold.
func NewLocator(cfg Config) *Locator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultMatchThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Locator{threshold: cfg.Threshold, logger: cfg.Logger}
}

// Threshold returns the hit threshold in use.
func (l *Locator) Threshold() float64 {
	return l.threshold
}

// Locate implements Detector.
func (l *Locator) Locate(frame gocv.Mat, window image.Rectangle, templates []*Template) []MatchResult {
	results := make([]MatchResult, 0, len(templates))

	window = chroma.Clamp(window, chroma.Bounds(frame.Rows(), frame.Cols()))
	if frame.Empty() || window.Empty() {
		for _, t := range templates {
			results = append(results, MatchResult{Name: t.Name, Size: t.Size()})
		}
		return results
	}

	roi := frame.Region(window)
	defer roi.Close()

	gray := gocv.NewMat()
	defer gray.Close()

	if roi.Channels() > 1 {
		gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)
	} else {
		roi.CopyTo(&gray)
	}

	for _, t := range templates {
		results = append(results, l.match(gray, window.Min, t))
	}
	return results
}

func (l *Locator) match(gray gocv.Mat, origin image.Point, t *Template) MatchResult {
	res := MatchResult{Name: t.Name, Size: t.Size()}

	// The template must fit inside the window for a correlation map to exist.
	if t.Mat.Cols() > gray.Cols() || t.Mat.Rows() > gray.Rows() {
		return res
	}

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(gray, t.Mat, &result, gocv.TmCcoeffNormed, mask)
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)

	score := float64(maxVal)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return res
	}

	res.Score = score
	res.Location = origin.Add(maxLoc)
	res.Hit = score > l.threshold

	l.logger.Debug("template matched",
		"template", t.Name,
		"score", score,
		"x", res.Location.X,
		"y", res.Location.Y,
		"hit", res.Hit)

	return res
}

// Find returns the result named name.
func Find(results []MatchResult, name string) (MatchResult, bool) {
	for _, r := range results {
		if r.Name == name {
			return r, true
		}
	}
	return MatchResult{}, false
}

// AnyHit returns the first hit among results.
func AnyHit(results []MatchResult) (MatchResult, bool) {
	for _, r := range results {
		if r.Hit {
			return r, true
		}
	}
	return MatchResult{}, false
}
