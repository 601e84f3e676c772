package classifier

import (
	"gocv.io/x/gocv"

	"github.com/ayusman/chromatape/internal/chroma"
)

// Histogram quantizes each channel into fixed-width bins and returns the
// lower edge of the most populated bin. It involves no randomness at all.
type Histogram struct {
	bins  int
	width int
}

// NewHistogram creates a Histogram with the given number of bins per
// channel. Values that do not divide 256 evenly are rounded down to the
// nearest power of two; non-positive values default to 32.
func NewHistogram(bins int) *Histogram {
	if bins <= 0 || bins > 256 {
		bins = DefaultConfig().Bins
	}
	for 256%bins != 0 {
		bins--
	}
	return &Histogram{bins: bins, width: 256 / bins}
}

// Dominant implements Classifier.
func (h *Histogram) Dominant(region gocv.Mat) (chroma.Color, error) {
	pixels, err := chroma.Pixels(region)
	if err != nil {
		return chroma.Color{}, err
	}
	return h.DominantOf(pixels)
}

// DominantOf returns the most frequent bin of pixels. Ties go to the bin
// with the lowest (b, g, r) index.
func (h *Histogram) DominantOf(pixels []chroma.Color) (chroma.Color, error) {
	if len(pixels) == 0 {
		return chroma.Color{}, ErrEmptyRegion
	}

	counts := make(map[int]int)
	for _, p := range pixels {
		counts[h.index(p)]++
	}

	best, bestN := -1, 0
	for i, n := range counts {
		if n > bestN || (n == bestN && i < best) {
			best, bestN = i, n
		}
	}

	b := best / (h.bins * h.bins)
	g := (best / h.bins) % h.bins
	r := best % h.bins
	return chroma.BGR(uint8(b*h.width), uint8(g*h.width), uint8(r*h.width)), nil
}

func (h *Histogram) index(p chroma.Color) int {
	b := int(p.B) / h.width
	g := int(p.G) / h.width
	r := int(p.R) / h.width
	return (b*h.bins+g)*h.bins + r
}
