package kmeans

import (
	"time"

	"github.com/gomlx/gokmeans/dtypes"
	"github.com/gomlx/gokmeans/layout"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// lloyd runs Lloyd's algorithm on data of type T.
//
// Every iteration:
//
//  1. Assigns all points to their nearest valid centroid: split in exec.parallelism() chunks, each writing its own
//     range of labels.
//  2. Accumulates the per-cluster sums of each shard (one task per shard), and reduces them in ascending shard order.
//  3. Sets every centroid to the mean of its points, or to NaN if its cluster is empty. An empty cluster
//     stays empty for the remainder of the run.
//
// It stops when no point changed cluster, when the fraction of points that changed is below req.Threshold, or after
// req.MaxIterations.
func lloyd[T dtypes.Float](exec executor, req *Request) (*Result, error) {
	pts := newPoints[T](req.Data)
	k, cols, rows := req.K, req.Cols, req.Rows
	numShards := req.numShards()
	shards := partition(rows, numShards)
	chunks := partition(rows, exec.parallelism(numShards))

	accs := make([]*accumulator, numShards)
	for s := range accs {
		accs[s] = accumulators.Get(k, cols)
	}
	defer func() {
		for _, acc := range accs {
			accumulators.Return(acc)
		}
	}()
	accumulate := func(labels []int32) error {
		return exec.forEach(numShards, func(s int) error {
			accs[s].reset(k, cols)
			accumulateSpan(pts, labels, shards[s], accs[s])
			return nil
		})
	}

	// Initialization.
	start := time.Now()
	labels := make([]int32, rows)
	centroids := newCentroidSet(make([]T, k*cols), k, cols)
	if req.InitFromLabels {
		copy(labels, req.Labels)
		layout.NormalizeLabels(labels, k)
		if err := accumulate(labels); err != nil {
			return nil, errors.WithMessagef(err, "while initializing centroids from labels")
		}
		centroids.update(reduceAccumulators(accs))
	} else {
		rng := newRNG(req.Seed)
		if err := initLabels(req.InitLabels, labels, k, rng); err != nil {
			return nil, err
		}
		if err := initCentroids(req.InitData, pts, centroids.flat, k, rng); err != nil {
			return nil, err
		}
		centroids.refresh()
	}
	res := &Result{Labels: labels, InitTime: time.Since(start)}

	// Iterations.
	start = time.Now()
	changedPerChunk := make([]int, len(chunks))
	for res.Iterations < req.MaxIterations {
		err := exec.forEach(len(chunks), func(c int) error {
			changedPerChunk[c] = assignSpan(pts, centroids, labels, chunks[c])
			return nil
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "while assigning points in iteration %d", res.Iterations)
		}
		if err = accumulate(labels); err != nil {
			return nil, errors.WithMessagef(err, "while accumulating centroids in iteration %d", res.Iterations)
		}
		centroids.update(reduceAccumulators(accs))
		res.Iterations++

		res.Changed = 0
		for _, changed := range changedPerChunk {
			res.Changed += changed
		}
		if klog.V(2).Enabled() {
			klog.Infof("kmeans: iteration %d: %d of %d points changed cluster", res.Iterations, res.Changed, rows)
		}
		if res.Changed == 0 || float64(res.Changed)/float64(rows) < req.Threshold {
			res.Converged = true
			break
		}
	}
	res.IterTime = time.Since(start)
	res.Centroids = &layout.Dense{DType: req.Data.DType, Rows: k, Cols: cols, Order: layout.RowMajor, Flat: centroids.flat}
	klog.V(1).Infof("kmeans: %d points, %d features, k=%d, %d shard(s): %d iterations (converged=%v), init %s, iterations %s",
		rows, cols, k, numShards, res.Iterations, res.Converged, res.InitTime, res.IterTime)
	return res, nil
}
