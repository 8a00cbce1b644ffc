package kmeans

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gomlx/gokmeans/devices"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// cpuEngine runs on a pool of goroutines, one per available CPU.
type cpuEngine struct {
	pool    *ants.Pool
	workers int
	closed  atomic.Bool
}

var _ Engine = (*cpuEngine)(nil)

func newCPUEngine(_ *devices.Context) (Engine, error) {
	workers := runtime.GOMAXPROCS(0)
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		klog.Errorf("kmeans cpu engine: worker panicked: %v", p)
	}))
	if err != nil {
		return nil, &UnavailableError{Engine: CPU, cause: errors.Wrapf(err, "failed to create pool of %d workers", workers)}
	}
	klog.V(1).Infof("kmeans cpu engine created with %d workers", workers)
	return &cpuEngine{pool: pool, workers: workers}, nil
}

func (e *cpuEngine) Name() string { return CPU }

// parallelism splits order-independent work in as many chunks as workers, but at least one per shard.
func (e *cpuEngine) parallelism(numShards int) int {
	return max(e.workers, numShards)
}

func (e *cpuEngine) forEach(n int, task func(i int) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			errs[i] = runTask(i, task)
		})
		if err != nil {
			wg.Done()
			errs[i] = errors.Wrapf(err, "failed to schedule task %d", i)
		}
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// runTask calls task(i), converting panics to errors.
func runTask(i int, task func(i int) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("task %d panicked: %v", i, p)
		}
	}()
	return task(i)
}

func (e *cpuEngine) Run(req *Request) (*Result, error) {
	return runWith(e, req)
}

func (e *cpuEngine) Assign(req *PredictRequest) ([]int32, error) {
	return assign(e, req)
}

func (e *cpuEngine) Distances(req *PredictRequest) ([]float64, error) {
	return distances(e, req)
}

func (e *cpuEngine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.pool.Release()
	return nil
}
