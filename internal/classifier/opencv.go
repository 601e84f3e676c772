package classifier

import (
	"runtime"

	"gocv.io/x/gocv"

	"github.com/ayusman/chromatape/internal/chroma"
)

// OpenCVKMeans clusters with cv::kmeans using random initial centers. The
// OpenCV RNG is per OS thread, so it is reseeded on the thread that runs
// every call to keep results reproducible.
type OpenCVKMeans struct {
	k        int
	criteria gocv.TermCriteria
	attempts int
	seed     int
}

// NewOpenCVKMeans creates an OpenCV-backed classifier from cfg.
func NewOpenCVKMeans(cfg Config) *OpenCVKMeans {
	km := NewKMeans(cfg)
	return &OpenCVKMeans{
		k:        km.k,
		criteria: gocv.NewTermCriteria(gocv.Count|gocv.EPS, km.maxIter, km.epsilon),
		attempts: km.attempts,
		seed:     int(km.seed),
	}
}

// Dominant implements Classifier.
func (o *OpenCVKMeans) Dominant(region gocv.Mat) (chroma.Color, error) {
	if region.Empty() {
		return chroma.Color{}, ErrEmptyRegion
	}
	if region.Type() != gocv.MatTypeCV8UC3 {
		return chroma.Color{}, chroma.ErrNotBGR
	}

	cont := region.Clone()
	defer cont.Close()

	n := cont.Rows() * cont.Cols()
	k := min(o.k, n)

	// One row per pixel, one float column per channel.
	flat := cont.Reshape(1, n)
	defer flat.Close()

	samples := gocv.NewMat()
	defer samples.Close()
	flat.ConvertTo(&samples, gocv.MatTypeCV32F)

	labels := gocv.NewMat()
	defer labels.Close()
	centers := gocv.NewMat()
	defer centers.Close()

	o.cluster(samples, k, &labels, &centers)

	sizes := make([]int, k)
	for i := 0; i < labels.Rows(); i++ {
		label := int(labels.GetIntAt(i, 0))
		if label >= 0 && label < k {
			sizes[label]++
		}
	}

	largest := 0
	for i, size := range sizes {
		if size > sizes[largest] {
			largest = i
		}
	}

	return chroma.FromVec(
		float64(centers.GetFloatAt(largest, 0)),
		float64(centers.GetFloatAt(largest, 1)),
		float64(centers.GetFloatAt(largest, 2)),
	), nil
}

// cluster seeds the RNG and runs cv::kmeans on the same OS thread.
func (o *OpenCVKMeans) cluster(samples gocv.Mat, k int, labels, centers *gocv.Mat) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	gocv.SetRNGSeed(o.seed)
	gocv.KMeans(samples, k, labels, o.criteria, o.attempts, gocv.KMeansRandomCenters, centers)
}
