package gokmeans

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gomlx/gokmeans/devices"
	"github.com/gomlx/gokmeans/kmeans"
	"github.com/gomlx/gokmeans/layout"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Solver fits k-means centroids and classifies points with them. It is created with New().Done().
//
// A Solver handles one operation at a time: concurrent calls are serialized.
type Solver struct {
	mu sync.Mutex

	k, maxIterations      int
	threshold             float64
	initFromLabels        bool
	initLabels            InitLabelsMode
	initData              InitDataMode
	deviceID, deviceCount int
	seed                  uint64

	engine  kmeans.Engine
	devs    *devices.Context
	ownDevs bool

	// centroids is nil until the first successful fit.
	centroids *layout.Dense
	closed    bool
}

// FitResult is returned by Solver.Fit.
type FitResult struct {
	// Centroids is a [K, features] matrix, without the empty clusters.
	Centroids *mat.Dense

	// K is the number of clusters after the empty ones were dropped, and Dropped the number of empty clusters
	// removed.
	K, Dropped int

	// Iterations executed, and whether the fit converged before the maximum number of iterations.
	Iterations int
	Converged  bool

	// InitTime is the time spent initializing the centroids, IterTime the time spent iterating, and TotalTime the
	// time of the whole fit, including input validation and conversion.
	InitTime, IterTime, TotalTime time.Duration
}

// newSolver sets a finalizer that closes the Solver if it is garbage collected.
func newSolver(s *Solver) *Solver {
	runtime.SetFinalizer(s, func(s *Solver) {
		if err := s.Close(); err != nil {
			klog.Errorf("Solver.Close failed: %v", err)
		}
	})
	return s
}

// String implements fmt.Stringer.
func (s *Solver) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "gokmeans.Solver(closed)"
	}
	return fmt.Sprintf("gokmeans.Solver(engine=%s, devices=%d, k=%d, fitted=%v)", s.engine.Name(), s.deviceCount, s.k, s.centroids != nil)
}

// Fit computes the centroids of x.
//
// The labels seed the centroids if the Solver was configured WithInitFromLabels, in which case they are required,
// and are reduced modulo K. Otherwise they are optional (nil to not use them). Both x and labels are validated to be finite: otherwise an error
// matching ErrValidation is returned, before any computation.
//
// Empty clusters are dropped from the result, and the Solver's K is reduced accordingly. A new fit discards the
// centroids of the previous one, even if it fails.
func (s *Solver) Fit(x any, labels any) (*FitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	start := time.Now()
	s.centroids = nil
	data, err := prepareData(x)
	if err != nil {
		return nil, err
	}
	if s.initFromLabels && labels == nil {
		return nil, newValidationError(errors.New("no labels given"), "initializing from labels requires labels")
	}
	labelsInt32, err := layout.PrepareLabels(labels, data.Rows, s.k)
	if err != nil {
		return nil, newValidationError(err, "invalid labels")
	}

	res, err := s.engine.Run(&kmeans.Request{
		DeviceID:       s.deviceID,
		DeviceCount:    s.deviceCount,
		Rows:           data.Rows,
		Cols:           data.Cols,
		Order:          data.Order,
		K:              s.k,
		MaxIterations:  s.maxIterations,
		InitFromLabels: s.initFromLabels,
		InitLabels:     s.initLabels,
		InitData:       s.initData,
		Threshold:      s.threshold,
		Data:           data,
		Labels:         labelsInt32,
		Seed:           s.seed,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Solver.Fit() of %s failed", data)
	}

	centroids := res.Centroids
	dropped := centroids.NaNRows()
	if len(dropped) > 0 {
		centroids = centroids.DropRows(dropped)
		klog.Warningf("Removed %d empty centroids", len(dropped))
	}
	if centroids.Rows == 0 {
		return nil, errors.Errorf("Solver.Fit() of %s: all %d clusters ended up empty", data, s.k)
	}
	s.k = centroids.Rows
	s.centroids = centroids
	return &FitResult{
		Centroids:  centroids.ToGonum(),
		K:          s.k,
		Dropped:    len(dropped),
		Iterations: res.Iterations,
		Converged:  res.Converged,
		InitTime:   res.InitTime,
		IterTime:   res.IterTime,
		TotalTime:  time.Since(start),
	}, nil
}

// prepareData converts and validates an input matrix.
func prepareData(x any) (*layout.Dense, error) {
	data, err := layout.Prepare(x)
	if err != nil {
		return nil, newValidationError(err, "invalid data")
	}
	if err = layout.CheckFinite(data); err != nil {
		return nil, newValidationError(err, "invalid data")
	}
	return data, nil
}

// predictRequest validates x against the fitted centroids. It must be called with the lock held.
func (s *Solver) predictRequest(x any) (*kmeans.PredictRequest, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.centroids == nil {
		return nil, ErrNotFitted
	}
	data, err := prepareData(x)
	if err != nil {
		return nil, err
	}
	if data.Cols != s.centroids.Cols {
		return nil, newValidationError(layout.ErrBadShape, "data has %d features, the centroids have %d", data.Cols, s.centroids.Cols)
	}
	return &kmeans.PredictRequest{
		DeviceID:    s.deviceID,
		DeviceCount: s.deviceCount,
		Data:        data,
		Centroids:   s.centroids,
	}, nil
}

// Predict returns the index of the nearest centroid of every point of x.
// It returns ErrNotFitted if the Solver has not been fitted.
func (s *Solver) Predict(x any) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.predictRequest(x)
	if err != nil {
		return nil, err
	}
	labels, err := s.engine.Assign(req)
	if err != nil {
		return nil, errors.WithMessagef(err, "Solver.Predict() failed")
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		out[i] = int(l)
	}
	return out, nil
}

// Transform returns the [points, K] matrix of the Euclidean distances of every point of x to every centroid.
// It returns ErrNotFitted if the Solver has not been fitted.
func (s *Solver) Transform(x any) (*mat.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.predictRequest(x)
	if err != nil {
		return nil, err
	}
	dist, err := s.engine.Distances(req)
	if err != nil {
		return nil, errors.WithMessagef(err, "Solver.Transform() failed")
	}
	return mat.NewDense(req.Data.Rows, req.Centroids.Rows, dist), nil
}

// Score returns the opposite of the sum of the squared distances of the points of x to their nearest centroid:
// higher is better.
func (s *Solver) Score(x any) (float64, error) {
	dist, err := s.Transform(x)
	if err != nil {
		return 0, err
	}
	var score float64
	rows, _ := dist.Dims()
	for i := 0; i < rows; i++ {
		nearest := mat.Min(dist.RowView(i))
		score -= nearest * nearest
	}
	return score, nil
}

// FitPredict fits the Solver on x, and returns the cluster of every point of x.
func (s *Solver) FitPredict(x any, labels any) ([]int, error) {
	if _, err := s.Fit(x, labels); err != nil {
		return nil, err
	}
	return s.Predict(x)
}

// FitTransform fits the Solver on x, and returns the distances of every point of x to every centroid.
func (s *Solver) FitTransform(x any, labels any) (*mat.Dense, error) {
	if _, err := s.Fit(x, labels); err != nil {
		return nil, err
	}
	return s.Transform(x)
}

// K returns the current number of clusters: the configured one, reduced by the empty clusters dropped by fits.
func (s *Solver) K() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.k
}

// Fitted returns whether the Solver holds centroids.
func (s *Solver) Fitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.centroids != nil
}

// Centroids returns a copy of the fitted centroids, or nil if the Solver has not been fitted.
func (s *Solver) Centroids() *mat.Dense {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.centroids == nil {
		return nil
	}
	return s.centroids.ToGonum()
}

// EngineName returns the name of the engine selected for the Solver.
func (s *Solver) EngineName() string {
	return s.engine.Name()
}

// DeviceCount returns the number of devices (and shards) used by the fits.
func (s *Solver) DeviceCount() int {
	return s.deviceCount
}

// Close releases the engine, and the device context if the Solver created it.
// It is idempotent, and called automatically if the Solver is garbage collected.
func (s *Solver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.centroids = nil
	err := s.engine.Close()
	s.releaseDevices()
	return err
}

func (s *Solver) releaseDevices() {
	if s.ownDevs && s.devs != nil {
		s.devs.Shutdown()
	}
}
