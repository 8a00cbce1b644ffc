package kmeans

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/gokmeans/dtypes"
	"github.com/pkg/errors"
)

// pcgStream is the fixed stream (increment) of the PCG generator: only the seed varies between runs.
const pcgStream = 0x9e3779b97f4a7c15

// newRNG returns the random number generator used by the initialization, fully determined by seed.
func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^pcgStream))
}

// initLabels fills labels with the starting assignment of points to clusters.
func initLabels(mode InitLabelsMode, labels []int32, k int, rng *rand.Rand) error {
	switch mode {
	case InitLabelsRandom:
		for i := range labels {
			labels[i] = int32(rng.IntN(k))
		}
	case InitLabelsRandomSelect:
		for i, p := range rng.Perm(len(labels)) {
			labels[p] = int32(i % k)
		}
	default:
		return errors.Wrapf(ErrInvalidRequest, "invalid init labels mode %s", mode)
	}
	return nil
}

// initCentroids fills the row-major [k, cols] centroids.
func initCentroids[T dtypes.Float](mode InitDataMode, pts points[T], centroids []T, k int, rng *rand.Rand) error {
	cols := pts.cols
	scratch := make([]T, cols)
	setRow := func(c, pointIdx int) {
		copy(centroids[c*cols:(c+1)*cols], pts.point(pointIdx, scratch))
	}
	switch mode {
	case InitDataRandom:
		lower, upper := boundingBox(pts)
		for c := 0; c < k; c++ {
			row := centroids[c*cols : (c+1)*cols]
			for j := range row {
				row[j] = T(lower[j] + rng.Float64()*(upper[j]-lower[j]))
			}
		}
	case InitDataSelectStrat:
		for c, stratum := range partition(pts.rows, k) {
			if stratum.Len() == 0 {
				// More clusters than points: strata are empty, fall back to any point.
				setRow(c, rng.IntN(pts.rows))
				continue
			}
			setRow(c, stratum.Lo+rng.IntN(stratum.Len()))
		}
	case InitDataRandomSelect:
		// Distinct points while there are enough of them.
		perm := rng.Perm(pts.rows)
		for c := 0; c < k; c++ {
			if c < len(perm) {
				setRow(c, perm[c])
			} else {
				setRow(c, rng.IntN(pts.rows))
			}
		}
	default:
		return errors.Wrapf(ErrInvalidRequest, "invalid init data mode %s", mode)
	}
	return nil
}

// boundingBox returns the per-feature minimum and maximum of the points.
func boundingBox[T dtypes.Float](pts points[T]) (lower, upper []float64) {
	lower = make([]float64, pts.cols)
	upper = make([]float64, pts.cols)
	for j := range lower {
		lower[j] = math.Inf(1)
		upper[j] = math.Inf(-1)
	}
	scratch := make([]T, pts.cols)
	for i := 0; i < pts.rows; i++ {
		for j, v := range pts.point(i, scratch) {
			lower[j] = min(lower[j], float64(v))
			upper[j] = max(upper[j], float64(v))
		}
	}
	return
}
