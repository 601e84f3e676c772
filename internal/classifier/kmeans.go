package classifier

import (
	"math"
	"math/rand/v2"

	"gocv.io/x/gocv"

	"github.com/ayusman/chromatape/internal/chroma"
)

// KMeans is a deterministic k-means classifier. Every call reseeds its
// generator, so the same pixels always produce the same dominant color.
type KMeans struct {
	k        int
	maxIter  int
	epsilon  float64
	attempts int
	seed     int64
}

type centroid [3]float64

// NewKMeans creates a KMeans classifier from cfg. Non-positive values fall
// back to DefaultConfig.
func NewKMeans(cfg Config) *KMeans {
	def := DefaultConfig()
	km := &KMeans{
		k:        cfg.K,
		maxIter:  cfg.MaxIterations,
		epsilon:  cfg.Epsilon,
		attempts: cfg.Attempts,
		seed:     cfg.Seed,
	}
	if km.k <= 0 {
		km.k = def.K
	}
	if km.maxIter <= 0 {
		km.maxIter = def.MaxIterations
	}
	if km.epsilon < 0 {
		km.epsilon = def.Epsilon
	}
	if km.attempts <= 0 {
		km.attempts = 1
	}
	return km
}

// Dominant implements Classifier.
func (km *KMeans) Dominant(region gocv.Mat) (chroma.Color, error) {
	pixels, err := chroma.Pixels(region)
	if err != nil {
		return chroma.Color{}, err
	}
	return km.DominantOf(pixels)
}

// DominantOf clusters pixels and returns the centroid of the largest
// cluster. Ties go to the lowest cluster index.
func (km *KMeans) DominantOf(pixels []chroma.Color) (chroma.Color, error) {
	if len(pixels) == 0 {
		return chroma.Color{}, ErrEmptyRegion
	}

	k := min(km.k, len(pixels))
	rng := rand.New(rand.NewPCG(uint64(km.seed), uint64(k)))

	var (
		bestCenters     []centroid
		bestSizes       []int
		bestCompactness = math.Inf(1)
	)
	for attempt := 0; attempt < km.attempts; attempt++ {
		centers, sizes, compactness := km.cluster(pixels, k, rng)
		if compactness < bestCompactness {
			bestCenters, bestSizes, bestCompactness = centers, sizes, compactness
		}
	}

	largest := 0
	for i, size := range bestSizes {
		if size > bestSizes[largest] {
			largest = i
		}
	}

	c := bestCenters[largest]
	return chroma.FromVec(c[0], c[1], c[2]), nil
}

// cluster runs one k-means attempt and returns the centers, cluster sizes
// and total compactness.
func (km *KMeans) cluster(pixels []chroma.Color, k int, rng *rand.Rand) ([]centroid, []int, float64) {
	centers := seedCenters(pixels, k, rng)

	labels := make([]int, len(pixels))
	sizes := make([]int, k)
	sums := make([]centroid, k)

	for iter := 0; iter < km.maxIter; iter++ {
		for i := range sizes {
			sizes[i] = 0
			sums[i] = centroid{}
		}

		for i, p := range pixels {
			label := nearest(centers, toCentroid(p))
			labels[i] = label
			sizes[label]++
			sums[label][0] += float64(p.B)
			sums[label][1] += float64(p.G)
			sums[label][2] += float64(p.R)
		}

		shift := 0.0
		for i := range centers {
			if sizes[i] == 0 {
				continue
			}
			n := float64(sizes[i])
			next := centroid{sums[i][0] / n, sums[i][1] / n, sums[i][2] / n}
			shift = math.Max(shift, math.Sqrt(distance(centers[i], next)))
			centers[i] = next
		}

		if shift <= km.epsilon {
			break
		}
	}

	compactness := 0.0
	for i, p := range pixels {
		compactness += distance(centers[labels[i]], toCentroid(p))
	}

	return centers, sizes, compactness
}

// seedCenters picks initial centers k-means++ style: each new center is
// drawn with probability proportional to its squared distance from the
// centers chosen so far.
func seedCenters(pixels []chroma.Color, k int, rng *rand.Rand) []centroid {
	centers := make([]centroid, 0, k)
	centers = append(centers, toCentroid(pixels[rng.IntN(len(pixels))]))

	weights := make([]float64, len(pixels))
	for len(centers) < k {
		total := 0.0
		for i, p := range pixels {
			c := toCentroid(p)
			weights[i] = distance(centers[nearest(centers, c)], c)
			total += weights[i]
		}

		// Fewer distinct colors than clusters.
		if total == 0 {
			centers = append(centers, centers[0])
			continue
		}

		target := rng.Float64() * total
		chosen := len(pixels) - 1
		for i, w := range weights {
			target -= w
			if target < 0 {
				chosen = i
				break
			}
		}
		centers = append(centers, toCentroid(pixels[chosen]))
	}
	return centers
}

func nearest(centers []centroid, p centroid) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range centers {
		if d := distance(c, p); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func distance(a, b centroid) float64 {
	d0 := a[0] - b[0]
	d1 := a[1] - b[1]
	d2 := a[2] - b[2]
	return d0*d0 + d1*d1 + d2*d2
}

func toCentroid(c chroma.Color) centroid {
	return centroid{float64(c.B), float64(c.G), float64(c.R)}
}
