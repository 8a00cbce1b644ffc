package kmeans

import (
	"math/bits"
	"sync"
)

// accumulator holds the partial sums of one shard: per-centroid sums of the coordinates of the points assigned to
// it (k*cols values, in float64 whatever the precision of the data) and the number of points.
//
// Accumulators are taken from accumulatorPools and returned at the end of the Run call.
type accumulator struct {
	sums      []float64
	counts    []int64
	poolIndex int // index in the accumulatorPools, -1 if not from pool
}

// reset zeroes the first k*cols sums and k counts, and trims the slices to these sizes.
func (a *accumulator) reset(k, cols int) {
	a.sums = a.sums[:k*cols]
	a.counts = a.counts[:k]
	clear(a.sums)
	clear(a.counts)
}

const (
	// minPooledAccumulatorSize is the minimum number of sums for pooled accumulators.
	minPooledAccumulatorSize = 256
	// maxPooledAccumulatorSize is the maximum number of sums for pooled accumulators (128MB of float64).
	maxPooledAccumulatorSize = 16 * 1024 * 1024
)

// accumulatorPools manages pools of accumulators with power-of-2 capacities, reused across Run calls.
type accumulatorPools struct {
	// pools[i] contains accumulators with capacity 2^(i+minShift) sums.
	pools              []sync.Pool
	minShift, maxShift int
}

var accumulators = newAccumulatorPools()

func newAccumulatorPools() *accumulatorPools {
	minShift := bits.TrailingZeros(uint(minPooledAccumulatorSize))
	maxShift := bits.TrailingZeros(uint(maxPooledAccumulatorSize))
	return &accumulatorPools{
		pools:    make([]sync.Pool, maxShift-minShift+1),
		minShift: minShift,
		maxShift: maxShift,
	}
}

// Get returns a zeroed accumulator for k centroids of cols features.
// Its capacity is the next power-of-2 >= max(k*cols, k).
func (ap *accumulatorPools) Get(k, cols int) *accumulator {
	size := max(k*cols, k, 1)
	shift := max(bits.Len(uint(size-1)), ap.minShift)
	if shift > ap.maxShift {
		// Too large: not pooled.
		return &accumulator{sums: make([]float64, k*cols), counts: make([]int64, k), poolIndex: -1}
	}
	poolIndex := shift - ap.minShift
	if obj := ap.pools[poolIndex].Get(); obj != nil {
		acc := obj.(*accumulator)
		acc.reset(k, cols)
		return acc
	}
	capacity := 1 << shift
	acc := &accumulator{
		sums:      make([]float64, capacity),
		counts:    make([]int64, capacity),
		poolIndex: poolIndex,
	}
	acc.reset(k, cols)
	return acc
}

// Return gives the accumulator back to its pool. Accumulators not from a pool are left to the garbage collector.
func (ap *accumulatorPools) Return(acc *accumulator) {
	if acc == nil || acc.poolIndex < 0 || acc.poolIndex >= len(ap.pools) {
		return
	}
	acc.sums = acc.sums[:cap(acc.sums)]
	acc.counts = acc.counts[:cap(acc.counts)]
	ap.pools[acc.poolIndex].Put(acc)
}
