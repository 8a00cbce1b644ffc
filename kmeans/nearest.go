package kmeans

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/gokmeans/dtypes"
	"github.com/gomlx/gokmeans/layout"
)

// points is a typed read-only view of a prepared dataset.
type points[T dtypes.Float] struct {
	flat       []T
	rows, cols int
	order      layout.Order
}

func newPoints[T dtypes.Float](d *layout.Dense) points[T] {
	return points[T]{flat: layout.FlatAs[T](d), rows: d.Rows, cols: d.Cols, order: d.Order}
}

// point returns the coordinates of point i. For row-major data it is a view of the buffer, for column-major data
// the coordinates are gathered into scratch (which must have cols elements).
func (p points[T]) point(i int, scratch []T) []T {
	if p.order == layout.RowMajor {
		return p.flat[i*p.cols : (i+1)*p.cols]
	}
	for j := range scratch {
		scratch[j] = p.flat[j*p.rows+i]
	}
	return scratch
}

// centroidSet is a row-major [k, cols] set of centroids. Centroids with NaN coordinates (empty clusters) are
// never the nearest to any point.
type centroidSet[T dtypes.Float] struct {
	flat    []T
	k, cols int
	valid   []bool
}

func newCentroidSet[T dtypes.Float](flat []T, k, cols int) *centroidSet[T] {
	c := &centroidSet[T]{flat: flat, k: k, cols: cols, valid: make([]bool, k)}
	c.refresh()
	return c
}

func (c *centroidSet[T]) row(i int) []T {
	return c.flat[i*c.cols : (i+1)*c.cols]
}

// refresh recomputes which centroids are valid.
func (c *centroidSet[T]) refresh() {
	for i := range c.valid {
		c.valid[i] = true
		for _, v := range c.row(i) {
			if v != v { // NaN
				c.valid[i] = false
				break
			}
		}
	}
}

// update sets every centroid to the mean of its accumulated points, or NaN if it has none.
func (c *centroidSet[T]) update(acc *accumulator) {
	nan := T(math.NaN())
	for i := 0; i < c.k; i++ {
		row := c.row(i)
		count := acc.counts[i]
		if count == 0 {
			for j := range row {
				row[j] = nan
			}
			continue
		}
		sums := acc.sums[i*c.cols : (i+1)*c.cols]
		for j := range row {
			row[j] = T(sums[j] / float64(count))
		}
	}
	c.refresh()
}

// nearest returns the index of the valid centroid with the smallest squared Euclidean distance to p, the lowest
// index winning ties. It returns -1 if no centroid is valid.
func (c *centroidSet[T]) nearest(p []T) int32 {
	best := int32(-1)
	var bestDist float64
	for i := 0; i < c.k; i++ {
		if !c.valid[i] {
			continue
		}
		dist := squaredDistance(p, c.row(i))
		if best < 0 || dist < bestDist {
			best, bestDist = int32(i), dist
		}
	}
	return best
}

func squaredDistance[T dtypes.Float](a, b []T) float64 {
	var sum float64
	for j, v := range a {
		d := float64(v) - float64(b[j])
		sum += d * d
	}
	return sum
}

// distance returns the Euclidean distance, rounded to the precision of T.
func distance[T dtypes.Float](a, b []T) float64 {
	sq := squaredDistance(a, b)
	var zero T
	if _, isFloat32 := any(zero).(float32); isFloat32 {
		return float64(math32.Sqrt(float32(sq)))
	}
	return math.Sqrt(sq)
}

// assignSpan assigns every point of s to its nearest centroid, and returns how many points changed cluster.
func assignSpan[T dtypes.Float](pts points[T], centroids *centroidSet[T], labels []int32, s span) int {
	scratch := make([]T, pts.cols)
	var changed int
	for i := s.Lo; i < s.Hi; i++ {
		best := centroids.nearest(pts.point(i, scratch))
		if best >= 0 && best != labels[i] {
			labels[i] = best
			changed++
		}
	}
	return changed
}

// accumulateSpan adds every point of s to the sums of its labeled centroid.
func accumulateSpan[T dtypes.Float](pts points[T], labels []int32, s span, acc *accumulator) {
	scratch := make([]T, pts.cols)
	cols := pts.cols
	for i := s.Lo; i < s.Hi; i++ {
		label := labels[i]
		if label < 0 {
			continue
		}
		sums := acc.sums[int(label)*cols : (int(label)+1)*cols]
		for j, v := range pts.point(i, scratch) {
			sums[j] += float64(v)
		}
		acc.counts[label]++
	}
}

// assign returns the nearest centroid of every point of req.Data.
func assign(exec executor, req *PredictRequest) ([]int32, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	switch req.Data.DType {
	case dtypes.Float32:
		return assignTyped[float32](exec, req)
	default:
		return assignTyped[float64](exec, req)
	}
}

func predictViews[T dtypes.Float](req *PredictRequest) (points[T], *centroidSet[T], error) {
	converted, err := req.Centroids.ConvertTo(req.Data.DType)
	if err != nil {
		return points[T]{}, nil, err
	}
	converted = converted.RowMajor()
	centroids := newCentroidSet(layout.FlatAs[T](converted), converted.Rows, converted.Cols)
	return newPoints[T](req.Data), centroids, nil
}

func assignTyped[T dtypes.Float](exec executor, req *PredictRequest) ([]int32, error) {
	pts, centroids, err := predictViews[T](req)
	if err != nil {
		return nil, err
	}
	labels := make([]int32, pts.rows)
	chunks := partition(pts.rows, exec.parallelism(max(req.DeviceCount, 1)))
	err = exec.forEach(len(chunks), func(c int) error {
		assignSpan(pts, centroids, labels, chunks[c])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// distances returns the row-major [rows, k] distances of every point of req.Data to every centroid.
func distances(exec executor, req *PredictRequest) ([]float64, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	switch req.Data.DType {
	case dtypes.Float32:
		return distancesTyped[float32](exec, req)
	default:
		return distancesTyped[float64](exec, req)
	}
}

func distancesTyped[T dtypes.Float](exec executor, req *PredictRequest) ([]float64, error) {
	pts, centroids, err := predictViews[T](req)
	if err != nil {
		return nil, err
	}
	k := centroids.k
	out := make([]float64, pts.rows*k)
	chunks := partition(pts.rows, exec.parallelism(max(req.DeviceCount, 1)))
	err = exec.forEach(len(chunks), func(c int) error {
		scratch := make([]T, pts.cols)
		for i := chunks[c].Lo; i < chunks[c].Hi; i++ {
			p := pts.point(i, scratch)
			for ci := 0; ci < k; ci++ {
				out[i*k+ci] = distance(p, centroids.row(ci))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
