// Package gokmeans clusters points with k-means, on a pool of CPU workers or on one worker per accelerator device
// discovered on the host.
//
// All computation runs as Go code on the host CPU. The accelerated engine only uses the discovered devices to
// decide how many workers to start and which shard of the points each one handles: it doesn't offload any
// arithmetic to the devices.
//
// A Solver is configured with New and its builder methods, and then used to Fit the centroids of a dataset, to
// Predict the cluster of new points, or to Transform them into their distances to every centroid.
//
// Example:
//
//	solver, err := gokmeans.New().WithK(3).WithSeed(42).Done()
//	if err != nil { ... }
//	defer solver.Close()
//	fit, err := solver.Fit(points, nil)
//	labels, err := solver.Predict(points)
//
// Datasets can be given as gonum matrices, [][]float32 or [][]float64, or as layout.Host buffers with an explicit
// storage order (row-major or column-major). The precision of the data (float32 or float64) is kept end-to-end.
//
// Clusters that end up empty are removed after every fit, so the number of clusters of a Solver (Solver.K) may
// only decrease over its lifetime.
package gokmeans

import (
	"github.com/gomlx/gokmeans/kmeans"
)

// InitLabelsMode selects the starting assignment of points when not initializing from labels.
type InitLabelsMode = kmeans.InitLabelsMode

// InitDataMode selects how the starting centroids are chosen when not initializing from labels.
type InitDataMode = kmeans.InitDataMode

const (
	InitLabelsRandom       = kmeans.InitLabelsRandom
	InitLabelsRandomSelect = kmeans.InitLabelsRandomSelect

	InitDataRandom       = kmeans.InitDataRandom
	InitDataSelectStrat  = kmeans.InitDataSelectStrat
	InitDataRandomSelect = kmeans.InitDataRandomSelect
)
