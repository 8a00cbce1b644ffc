package kmeans

import (
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/gomlx/gokmeans/devices"
	"github.com/gomlx/gokmeans/dtypes"
	"github.com/gomlx/gokmeans/layout"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

var flagBlobPoints = flag.Int("blob_points", 10_000, "Number of points used by the blobs benchmark.")

func fakeDevices(n int) *devices.Context {
	found := make([]devices.Device, n)
	for i := range found {
		found[i] = devices.Device{Index: i, Name: fmt.Sprintf("Fake GPU #%d", i)}
	}
	return devices.NewContext(&devices.StaticProber{Devices: found, Version: "fake"})
}

// blobs generates numPerBlob consecutive points around each of the given centers, row-major.
func blobs(centers [][]float64, numPerBlob int, spread float64, seed uint64) *layout.Dense {
	rng := rand.New(rand.NewPCG(seed, 0))
	cols := len(centers[0])
	flat := make([]float64, 0, len(centers)*numPerBlob*cols)
	for _, center := range centers {
		for i := 0; i < numPerBlob; i++ {
			for _, c := range center {
				flat = append(flat, c+spread*rng.NormFloat64())
			}
		}
	}
	return &layout.Dense{DType: dtypes.Float64, Rows: len(centers) * numPerBlob, Cols: cols, Order: layout.RowMajor, Flat: flat}
}

func newRequest(data *layout.Dense, k int) *Request {
	return &Request{
		DeviceCount:   1,
		Rows:          data.Rows,
		Cols:          data.Cols,
		Order:         data.Order,
		K:             k,
		MaxIterations: 100,
		InitLabels:    InitLabelsRandomSelect,
		InitData:      InitDataRandomSelect,
		Threshold:     1e-3,
		Data:          data,
	}
}

func TestRegistry(t *testing.T) {
	require.Equal(t, []string{Accelerated, CPU}, Names())
	require.Error(t, Register(CPU, newCPUEngine))
	require.Error(t, Register("", newCPUEngine))

	_, err := New("tpu", nil)
	require.True(t, IsUnavailable(err))
	fmt.Printf("\t%v\n", err)

	engine := must.M1(New(CPU, nil))
	require.Equal(t, CPU, engine.Name())
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())
	_, err = engine.Run(newRequest(blobs([][]float64{{0}}, 4, 1, 0), 1))
	require.ErrorIs(t, err, ErrClosed)
}

func TestAccelerated_Unavailable(t *testing.T) {
	_, err := New(Accelerated, nil)
	require.True(t, IsUnavailable(err))

	_, err = New(Accelerated, devices.NewContext(&devices.StaticProber{}))
	require.True(t, IsUnavailable(err))
}

func TestRun_FromLabels(t *testing.T) {
	data := must.M1(layout.Prepare([][]float64{{0, 0}, {0, 1}, {10, 10}, {10, 11}}))
	for _, name := range []string{CPU, Accelerated} {
		t.Run(name, func(t *testing.T) {
			engine := must.M1(New(name, fakeDevices(1)))
			defer func() { require.NoError(t, engine.Close()) }()
			req := newRequest(data, 2)
			req.InitFromLabels = true
			req.Labels = []int32{0, 0, 1, 1}
			res, err := engine.Run(req)
			require.NoError(t, err)
			require.Equal(t, []float64{0, 0.5, 10, 10.5}, res.Centroids.Float64s())
			require.Equal(t, []int32{0, 0, 1, 1}, res.Labels)
			require.Equal(t, 1, res.Iterations)
			require.True(t, res.Converged)
			require.Equal(t, 0, res.Changed)
		})
	}
}

func TestRun_EmptyClusterIsNaN(t *testing.T) {
	data := must.M1(layout.Prepare([][]float32{{0, 0}, {0, 1}, {10, 10}, {10, 11}}))
	engine := must.M1(New(CPU, nil))
	defer func() { _ = engine.Close() }()
	req := newRequest(data, 3)
	req.InitFromLabels = true
	// Labels are reduced modulo k: 3 -> 0, -2 -> 1. Label 2 is never used.
	req.Labels = []int32{0, 3, 1, -2}
	res := must.M1(engine.Run(req))
	require.Equal(t, dtypes.Float32, res.Centroids.DType)
	require.Equal(t, []int{2}, res.Centroids.NaNRows())
	require.Equal(t, []float32{0, 0.5, 10, 10.5}, res.Centroids.DropRows([]int{2}).Float32s())
	for _, l := range res.Labels {
		require.NotEqual(t, int32(2), l)
	}
}

func TestRun_ColMajorMatchesRowMajor(t *testing.T) {
	rowMajor := blobs([][]float64{{0, 0, 0}, {5, 5, 5}, {-5, 5, 0}}, 50, 0.5, 1)
	colMajor := &layout.Dense{
		DType: dtypes.Float64, Rows: rowMajor.Rows, Cols: rowMajor.Cols, Order: layout.ColMajor,
		Flat: make([]float64, rowMajor.Size()),
	}
	for i := 0; i < rowMajor.Rows; i++ {
		for j := 0; j < rowMajor.Cols; j++ {
			colMajor.Set(i, j, rowMajor.At(i, j))
		}
	}
	engine := must.M1(New(CPU, nil))
	defer func() { _ = engine.Close() }()
	for _, mode := range []InitDataMode{InitDataRandom, InitDataSelectStrat, InitDataRandomSelect} {
		reqRow, reqCol := newRequest(rowMajor, 3), newRequest(colMajor, 3)
		reqRow.InitData, reqCol.InitData = mode, mode
		reqRow.Seed, reqCol.Seed = 7, 7
		resRow := must.M1(engine.Run(reqRow))
		resCol := must.M1(engine.Run(reqCol))
		require.Equal(t, float64Bits(resRow.Centroids.Float64s()), float64Bits(resCol.Centroids.Float64s()),
			"init data mode %s", mode)
		require.Equal(t, resRow.Labels, resCol.Labels)
		require.Equal(t, resRow.Iterations, resCol.Iterations)
	}
}

// float64Bits returns the bit patterns of values, so that NaN centroids compare equal.
func float64Bits(values []float64) []uint64 {
	bits := make([]uint64, len(values))
	for i, v := range values {
		bits[i] = math.Float64bits(v)
	}
	return bits
}

func TestRun_Deterministic(t *testing.T) {
	data := blobs([][]float64{{0, 0}, {10, 0}, {0, 10}, {10, 10}}, 100, 1, 2)
	cpu := must.M1(New(CPU, nil))
	defer func() { _ = cpu.Close() }()
	accelerated := must.M1(New(Accelerated, fakeDevices(3)))
	defer func() { _ = accelerated.Close() }()

	for _, deviceCount := range []int{1, 2, 3, 5} {
		req := newRequest(data, 4)
		req.DeviceCount = deviceCount
		req.Seed = 42
		first := must.M1(cpu.Run(req))
		second := must.M1(cpu.Run(req))
		require.Equal(t, float64Bits(first.Centroids.Float64s()), float64Bits(second.Centroids.Float64s()))

		// Same shards, same reduction order: bitwise equal across engines.
		req.DeviceID = 1
		third := must.M1(accelerated.Run(req))
		require.Equal(t, float64Bits(first.Centroids.Float64s()), float64Bits(third.Centroids.Float64s()),
			"device count %d", deviceCount)
		require.Equal(t, first.Labels, third.Labels)
		fmt.Printf("\tdevice count %d: %d iterations, converged=%v\n", deviceCount, first.Iterations, first.Converged)
	}
}

func TestRun_RecoversBlobs(t *testing.T) {
	centers := [][]float64{{0, 0}, {20, 0}, {0, 20}}
	data := blobs(centers, 200, 1, 3)
	engine := must.M1(New(Accelerated, fakeDevices(2)))
	defer func() { _ = engine.Close() }()
	req := newRequest(data, 3)
	req.DeviceCount = 2
	req.InitData = InitDataSelectStrat
	req.Threshold = 0
	res := must.M1(engine.Run(req))
	require.True(t, res.Converged)
	require.Empty(t, res.Centroids.NaNRows())

	// Every center has a centroid close by.
	for _, center := range centers {
		best := math.Inf(1)
		for c := 0; c < 3; c++ {
			best = min(best, math.Hypot(res.Centroids.At(c, 0)-center[0], res.Centroids.At(c, 1)-center[1]))
		}
		require.Less(t, best, 0.5, "center %v", center)
	}
}

func TestRun_MaxIterations(t *testing.T) {
	data := blobs([][]float64{{0}, {1}, {2}, {3}}, 100, 1, 4)
	engine := must.M1(New(CPU, nil))
	defer func() { _ = engine.Close() }()
	req := newRequest(data, 8)
	req.MaxIterations = 1
	req.Threshold = 0
	req.InitLabels = InitLabelsRandom
	res := must.M1(engine.Run(req))
	require.Equal(t, 1, res.Iterations)
	require.False(t, res.Converged)
	require.Positive(t, res.Changed)
}

func TestRun_InvalidRequests(t *testing.T) {
	engine := must.M1(New(Accelerated, fakeDevices(2)))
	defer func() { _ = engine.Close() }()
	data := blobs([][]float64{{0, 0}}, 10, 1, 5)

	req := newRequest(data, 2)
	req.DeviceID = 2
	_, err := engine.Run(req)
	require.ErrorIs(t, err, ErrInvalidDevice)

	req = newRequest(data, 0)
	_, err = engine.Run(req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	req = newRequest(data, 2)
	req.Cols = 3
	_, err = engine.Run(req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	req = newRequest(data, 2)
	req.InitFromLabels = true
	req.Labels = []int32{0}
	_, err = engine.Run(req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	req = newRequest(data, 2)
	req.InitData = InitDataMode(17)
	_, err = engine.Run(req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	// Flat buffer of the wrong Go type for the dtype.
	mismatched := &layout.Dense{DType: dtypes.Float32, Rows: 4, Cols: 1, Flat: []float64{0, 1, 2, 3}}
	req = newRequest(mismatched, 2)
	_, err = engine.Run(req)
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = engine.Assign(&PredictRequest{Data: mismatched, Centroids: mismatched})
	require.ErrorIs(t, err, ErrInvalidRequest)

	invalidOrder := data.Clone()
	invalidOrder.Order = layout.Order(7)
	req = newRequest(invalidOrder, 2)
	_, err = engine.Run(req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = engine.Run(nil)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAssignAndDistances(t *testing.T) {
	data := must.M1(layout.Prepare([][]float32{{0, 0}, {3, 4}, {1, 1}}))
	centroids := must.M1(layout.Prepare([][]float64{{0, 0}, {3, 4}, {math.NaN(), 0}}))
	for _, name := range []string{CPU, Accelerated} {
		engine := must.M1(New(name, fakeDevices(2)))
		req := &PredictRequest{DeviceCount: 2, Data: data, Centroids: centroids}
		require.Equal(t, []int32{0, 1, 0}, must.M1(engine.Assign(req)))

		dist := must.M1(engine.Distances(req))
		require.Len(t, dist, 9)
		require.Equal(t, 5.0, dist[1])
		require.Equal(t, 5.0, dist[3])
		require.InDelta(t, math.Sqrt2, dist[6], 1e-6)
		require.True(t, math.IsNaN(dist[2]))

		_, err := engine.Assign(&PredictRequest{Data: data, Centroids: must.M1(layout.Prepare([][]float64{{1, 2, 3}}))})
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.NoError(t, engine.Close())
	}
}

func TestInitCentroids(t *testing.T) {
	flat := make([]float64, 10)
	for i := range flat {
		flat[i] = float64(i)
	}
	pts := points[float64]{flat: flat, rows: 10, cols: 1, order: layout.RowMajor}

	centroids := make([]float64, 5)
	require.NoError(t, initCentroids(InitDataSelectStrat, pts, centroids, 5, newRNG(0)))
	for c, v := range centroids {
		require.True(t, v == float64(2*c) || v == float64(2*c+1), "centroid %d = %g", c, v)
	}

	require.NoError(t, initCentroids(InitDataRandomSelect, pts, centroids, 5, newRNG(1)))
	seen := make(map[float64]bool)
	for _, v := range centroids {
		require.False(t, seen[v], "centroid %g selected twice", v)
		seen[v] = true
	}

	require.NoError(t, initCentroids(InitDataRandom, pts, centroids, 5, newRNG(2)))
	for _, v := range centroids {
		require.True(t, v >= 0 && v <= 9)
	}

	// More clusters than points.
	centroids = make([]float64, 15)
	require.NoError(t, initCentroids(InitDataSelectStrat, pts, centroids, 15, newRNG(3)))
	require.NoError(t, initCentroids(InitDataRandomSelect, pts, centroids, 15, newRNG(3)))
}

func TestInitLabels(t *testing.T) {
	labels := make([]int32, 10)
	require.NoError(t, initLabels(InitLabelsRandomSelect, labels, 3, newRNG(0)))
	counts := make([]int, 3)
	for _, l := range labels {
		counts[l]++
	}
	require.Equal(t, []int{4, 3, 3}, counts)

	require.NoError(t, initLabels(InitLabelsRandom, labels, 3, newRNG(0)))
	for _, l := range labels {
		require.True(t, l >= 0 && l < 3)
	}
}

func TestParseModes(t *testing.T) {
	for _, mode := range []InitDataMode{InitDataRandom, InitDataSelectStrat, InitDataRandomSelect} {
		require.Equal(t, mode, must.M1(ParseInitDataMode(mode.String())))
	}
	for _, mode := range []InitLabelsMode{InitLabelsRandom, InitLabelsRandomSelect} {
		require.Equal(t, mode, must.M1(ParseInitLabelsMode(mode.String())))
	}
	_, err := ParseInitDataMode("kmeans++")
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = ParseInitLabelsMode("")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPartition(t *testing.T) {
	require.Equal(t, []span{{0, 3}, {3, 6}, {6, 10}}, partition(10, 3))
	require.Equal(t, []span{{0, 0}, {0, 1}, {1, 1}, {1, 2}}, partition(2, 4))
	require.Equal(t, []span{{0, 5}}, partition(5, 0))
}

func TestAccumulatorPools(t *testing.T) {
	pools := newAccumulatorPools()
	acc := pools.Get(3, 4)
	require.Len(t, acc.sums, 12)
	require.Len(t, acc.counts, 3)
	require.Equal(t, minPooledAccumulatorSize, cap(acc.sums))
	acc.sums[0], acc.counts[2] = 7, 1
	pools.Return(acc)

	// Whether or not the pool hands back the same accumulator, it must be zeroed.
	acc = pools.Get(2, 2)
	require.Equal(t, []float64{0, 0, 0, 0}, acc.sums)
	require.Equal(t, []int64{0, 0}, acc.counts)

	single := &accumulatorPools{pools: make([]sync.Pool, 1), minShift: 8, maxShift: 8}
	large := single.Get(300, 1)
	require.Equal(t, -1, large.poolIndex)
	require.Len(t, large.sums, 300)
	single.Return(large)
}

func BenchmarkRun(b *testing.B) {
	data := blobs([][]float64{{0, 0, 0, 0}, {5, 5, 5, 5}, {-5, 0, 5, 0}, {0, -5, 0, 5}}, *flagBlobPoints/4, 1, 6)
	for _, deviceCount := range []int{1, 4} {
		b.Run(fmt.Sprintf("cpu/shards=%d", deviceCount), func(b *testing.B) {
			engine := must.M1(New(CPU, nil))
			defer func() { _ = engine.Close() }()
			req := newRequest(data, 16)
			req.DeviceCount = deviceCount
			req.MaxIterations = 10
			req.Threshold = 0
			b.ResetTimer()
			for range b.N {
				must.M1(engine.Run(req))
			}
		})
	}
}
