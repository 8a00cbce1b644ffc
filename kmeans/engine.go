// Package kmeans implements the k-means clustering engines.
//
// An Engine runs Lloyd's algorithm over a prepared dataset (see package layout), partitioned in contiguous shards
// of points, one per compute device. Per-shard partial centroid sums are reduced in ascending shard order on every
// iteration, so for a fixed seed and device count the results are bitwise reproducible.
//
// Two engines are registered: "cpu", which runs on a pool of goroutines, and "accelerated", which binds every
// shard to one of the devices discovered by a devices.Context. Both implement the same contract.
package kmeans

import (
	"fmt"
	"time"

	"github.com/gomlx/gokmeans/dtypes"
	"github.com/gomlx/gokmeans/layout"
	"github.com/pkg/errors"
)

// Engine is the computational core of k-means.
//
// Calls are synchronous and cannot be interrupted. An Engine is safe for concurrent use, but each call owns the
// engine's workers for its duration.
type Engine interface {
	// Name of the engine, as registered.
	Name() string

	// Run executes the k-means algorithm and returns the final centroids.
	// Clusters that end up empty have a row of NaNs: it is up to the caller to remove them.
	Run(req *Request) (*Result, error)

	// Assign returns the index of the nearest centroid for every point of req.Data.
	Assign(req *PredictRequest) ([]int32, error)

	// Distances returns the Euclidean distance of every point to every centroid, as a row-major
	// [req.Data.Rows, req.Centroids.Rows] flat slice.
	Distances(req *PredictRequest) ([]float64, error)

	// Close releases the engine's workers. It is idempotent.
	Close() error
}

// InitLabelsMode selects how the starting assignment of points to clusters is generated when the centroids are not
// initialized from user labels.
type InitLabelsMode int

const (
	// InitLabelsRandom assigns every point to a cluster drawn uniformly at random.
	InitLabelsRandom InitLabelsMode = iota

	// InitLabelsRandomSelect deals a random permutation of the points round-robin to the clusters: every cluster
	// receives at least one point if there are at least k points.
	InitLabelsRandomSelect
)

// String implements fmt.Stringer. The names match the ones used by ParseInitLabelsMode.
func (m InitLabelsMode) String() string {
	switch m {
	case InitLabelsRandom:
		return "random"
	case InitLabelsRandomSelect:
		return "randomselect"
	default:
		return fmt.Sprintf("InitLabelsMode(%d)", int(m))
	}
}

// ParseInitLabelsMode parses "random" or "randomselect".
func ParseInitLabelsMode(s string) (InitLabelsMode, error) {
	switch s {
	case "random":
		return InitLabelsRandom, nil
	case "randomselect":
		return InitLabelsRandomSelect, nil
	}
	return InitLabelsRandomSelect, errors.Wrapf(ErrInvalidRequest, "unknown init labels mode %q, valid values are \"random\" and \"randomselect\"", s)
}

// InitDataMode selects how the initial centroids are chosen when they are not initialized from user labels.
type InitDataMode int

const (
	// InitDataRandom draws every centroid uniformly at random in the bounding box of the data.
	InitDataRandom InitDataMode = iota

	// InitDataSelectStrat splits the points in k contiguous strata and selects one random point of each.
	InitDataSelectStrat

	// InitDataRandomSelect selects k distinct random points.
	InitDataRandomSelect
)

// String implements fmt.Stringer. The names match the ones used by ParseInitDataMode.
func (m InitDataMode) String() string {
	switch m {
	case InitDataRandom:
		return "random"
	case InitDataSelectStrat:
		return "selectstrat"
	case InitDataRandomSelect:
		return "randomselect"
	default:
		return fmt.Sprintf("InitDataMode(%d)", int(m))
	}
}

// ParseInitDataMode parses "random", "selectstrat" or "randomselect".
func ParseInitDataMode(s string) (InitDataMode, error) {
	switch s {
	case "random":
		return InitDataRandom, nil
	case "selectstrat":
		return InitDataSelectStrat, nil
	case "randomselect":
		return InitDataRandomSelect, nil
	}
	return InitDataRandomSelect, errors.Wrapf(ErrInvalidRequest, "unknown init data mode %q, valid values are \"random\", \"selectstrat\" and \"randomselect\"", s)
}

// Request holds the parameters of one Engine.Run call.
type Request struct {
	// DeviceID is the first device to use, and DeviceCount the number of devices (and shards).
	// A DeviceCount of 0 is taken as 1.
	DeviceID, DeviceCount int

	// Rows (points), Cols (features) and Order must match Data.
	Rows, Cols int
	Order      layout.Order

	// K is the number of clusters.
	K int

	// MaxIterations bounds the number of assignment/update iterations.
	MaxIterations int

	// InitFromLabels seeds the centroids with the mean of the points of each label.
	// Otherwise, InitLabels and InitData are used.
	InitFromLabels bool
	InitLabels     InitLabelsMode
	InitData       InitDataMode

	// Threshold is the fraction of points that changed cluster below which the algorithm is considered converged.
	Threshold float64

	// Data is the dataset, never modified.
	Data *layout.Dense

	// Labels holds one label per point, used if InitFromLabels is set. Values are reduced modulo K.
	Labels []int32

	// Seed of the random number generator used by the initialization.
	Seed uint64
}

// Result of an Engine.Run call.
type Result struct {
	// Centroids is a row-major [K, Cols] matrix with the precision of the data.
	// Rows of empty clusters are NaN.
	Centroids *layout.Dense

	// Labels is the final assignment of every point.
	Labels []int32

	// Iterations executed, and whether the algorithm converged before MaxIterations.
	Iterations int
	Converged  bool

	// Changed is the number of points that changed cluster in the last iteration.
	Changed int

	// InitTime is the time spent initializing the centroids, IterTime the time spent iterating.
	InitTime, IterTime time.Duration
}

// PredictRequest holds the parameters of the Engine.Assign and Engine.Distances calls.
type PredictRequest struct {
	DeviceID, DeviceCount int

	// Data holds the points to classify.
	Data *layout.Dense

	// Centroids is a [k, Data.Cols] matrix. It is converted to the precision of Data if needed.
	Centroids *layout.Dense
}

func (req *Request) numShards() int {
	return max(req.DeviceCount, 1)
}

// validate checks the consistency of the request.
func (req *Request) validate() error {
	if req == nil || req.Data == nil {
		return errors.Wrapf(ErrInvalidRequest, "no data given")
	}
	d := req.Data
	if !d.DType.IsComputable() {
		return errors.Wrapf(ErrInvalidRequest, "data dtype %s cannot be clustered", d.DType)
	}
	if req.Rows <= 0 || req.Cols <= 0 {
		return errors.Wrapf(ErrInvalidRequest, "invalid dataset shape %dx%d", req.Rows, req.Cols)
	}
	if d.Rows != req.Rows || d.Cols != req.Cols || d.Order != req.Order {
		return errors.Wrapf(ErrInvalidRequest, "request for %dx%d %s data given %s", req.Rows, req.Cols, req.Order, d)
	}
	if err := d.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidRequest, "invalid data: %v", err)
	}
	if req.K <= 0 {
		return errors.Wrapf(ErrInvalidRequest, "k must be positive, got %d", req.K)
	}
	if req.MaxIterations <= 0 {
		return errors.Wrapf(ErrInvalidRequest, "max iterations must be positive, got %d", req.MaxIterations)
	}
	if req.DeviceCount < 0 || req.DeviceID < 0 {
		return errors.Wrapf(ErrInvalidDevice, "device id %d and count %d must not be negative", req.DeviceID, req.DeviceCount)
	}
	if req.InitFromLabels && len(req.Labels) != req.Rows {
		return errors.Wrapf(ErrInvalidRequest, "got %d labels for %d points", len(req.Labels), req.Rows)
	}
	return nil
}

func (req *PredictRequest) validate() error {
	if req == nil || req.Data == nil || req.Centroids == nil {
		return errors.Wrapf(ErrInvalidRequest, "data and centroids are required")
	}
	if !req.Data.DType.IsComputable() || !req.Centroids.DType.IsComputable() {
		return errors.Wrapf(ErrInvalidRequest, "data (%s) and centroids (%s) must be Float32 or Float64", req.Data, req.Centroids)
	}
	if req.Centroids.Rows <= 0 {
		return errors.Wrapf(ErrInvalidRequest, "no centroids given")
	}
	if err := req.Data.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidRequest, "invalid data: %v", err)
	}
	if err := req.Centroids.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidRequest, "invalid centroids: %v", err)
	}
	if req.Data.Cols != req.Centroids.Cols {
		return errors.Wrapf(ErrInvalidRequest, "data has %d features, centroids have %d", req.Data.Cols, req.Centroids.Cols)
	}
	if req.DeviceCount < 0 || req.DeviceID < 0 {
		return errors.Wrapf(ErrInvalidDevice, "device id %d and count %d must not be negative", req.DeviceID, req.DeviceCount)
	}
	return nil
}

// Run dispatches the request to the generic implementation for the precision of the data.
func runWith(exec executor, req *Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	switch req.Data.DType {
	case dtypes.Float32:
		return lloyd[float32](exec, req)
	case dtypes.Float64:
		return lloyd[float64](exec, req)
	}
	return nil, errors.Wrapf(ErrInvalidRequest, "unsupported dtype %s", req.Data.DType)
}
