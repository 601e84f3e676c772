// Package classifier finds the dominant color of a pixel region.
//
// Three strategies share the Classifier interface: a seeded pure-Go k-means
// (the default), OpenCV's k-means with a fixed RNG seed, and a histogram
// mode that needs no clustering at all.
package classifier

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/chromatape/internal/chroma"
)

// Classification methods accepted by New.
const (
	MethodKMeans       = "kmeans"
	MethodOpenCVKMeans = "opencv-kmeans"
	MethodHistogram    = "histogram"
)

var (
	// ErrEmptyRegion is returned when a region holds no pixels.
	ErrEmptyRegion = errors.New("region has no pixels")
	// ErrUnknownMethod is returned by New for an unrecognized method name.
	ErrUnknownMethod = errors.New("unknown classification method")
)

// Classifier returns the single dominant color of a BGR pixel region.
type Classifier interface {
	Dominant(region gocv.Mat) (chroma.Color, error)
}

// Config holds the tuning parameters for every classification method.
type Config struct {
	// Method selects the strategy: kmeans, opencv-kmeans or histogram.
	Method string

	// K is the number of clusters (3 or 4 work well for flat color patches).
	K int

	// MaxIterations caps the refinement loop of a single clustering attempt.
	MaxIterations int

	// Epsilon stops refinement once no centroid moves further than this.
	Epsilon float64

	// Attempts is the number of independently seeded runs; the most compact wins.
	Attempts int

	// Seed makes clustering reproducible.
	Seed int64

	// Bins is the number of histogram bins per channel.
	Bins int
}

// DefaultConfig returns the clustering parameters used by the decoder.
func DefaultConfig() Config {
	return Config{
		Method:        MethodKMeans,
		K:             3,
		MaxIterations: 100,
		Epsilon:       0.2,
		Attempts:      10,
		Seed:          1,
		Bins:          32,
	}
}

// New builds the Classifier selected by cfg.Method.
func New(cfg Config) (Classifier, error) {
	switch cfg.Method {
	case MethodKMeans, "":
		return NewKMeans(cfg), nil
	case MethodOpenCVKMeans:
		return NewOpenCVKMeans(cfg), nil
	case MethodHistogram:
		return NewHistogram(cfg.Bins), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, cfg.Method)
	}
}
