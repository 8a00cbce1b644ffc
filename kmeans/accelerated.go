package kmeans

import (
	"runtime"
	"sync"

	"github.com/gomlx/gokmeans/devices"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// acceleratedEngine starts one worker per device of a devices.Context, and binds every shard to one of them: shard
// i of a call runs on the worker of device (DeviceID + i) % number of devices.
//
// The workers are goroutines locked to their OS thread, and run the same host kernels as the cpu engine. A Device
// only names a worker (scheduling and logs): no computation is offloaded to it. Work for a device is serialized
// through its worker.
type acceleratedEngine struct {
	devs    *devices.Context
	workers []*deviceWorker

	mu     sync.Mutex
	closed bool
}

var _ Engine = (*acceleratedEngine)(nil)

// deviceJob is one task sent to a deviceWorker.
type deviceJob struct {
	run  func() error
	done chan error
}

type deviceWorker struct {
	device devices.Device
	jobs   chan deviceJob
	wg     sync.WaitGroup
}

func newAcceleratedEngine(devs *devices.Context) (Engine, error) {
	if devs == nil {
		return nil, &UnavailableError{Engine: Accelerated, cause: errors.New("no device context given")}
	}
	devs.Init()
	found := devs.Devices()
	if len(found) == 0 {
		cause := errors.New("no devices found")
		if err := devs.Err(); err != nil {
			cause = errors.WithMessage(err, "device discovery failed")
		}
		return nil, &UnavailableError{Engine: Accelerated, cause: cause}
	}
	e := &acceleratedEngine{devs: devs, workers: make([]*deviceWorker, len(found))}
	for i, device := range found {
		w := &deviceWorker{device: device, jobs: make(chan deviceJob)}
		w.wg.Add(1)
		go w.loop()
		e.workers[i] = w
	}
	klog.V(1).Infof("kmeans accelerated engine created with %d device(s) (%s)", len(found), devs)
	return e, nil
}

func (w *deviceWorker) loop() {
	defer w.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for job := range w.jobs {
		job.done <- runTask(w.device.Index, func(int) error { return job.run() })
	}
}

// submit runs fn on the worker and waits for its result.
func (w *deviceWorker) submit(fn func() error) error {
	done := make(chan error, 1)
	w.jobs <- deviceJob{run: fn, done: done}
	return <-done
}

func (e *acceleratedEngine) Name() string { return Accelerated }

// deviceExecutor is the executor of one call: it starts at device firstDevice.
type deviceExecutor struct {
	engine      *acceleratedEngine
	firstDevice int
}

// parallelism is one chunk per shard: assignment of a shard's points runs on its device.
func (x deviceExecutor) parallelism(numShards int) int {
	return numShards
}

func (x deviceExecutor) forEach(n int, task func(i int) error) error {
	workers := x.engine.workers
	var g errgroup.Group
	for i := 0; i < n; i++ {
		w := workers[(x.firstDevice+i)%len(workers)]
		g.Go(func() error {
			err := w.submit(func() error { return task(i) })
			if err != nil {
				return errors.WithMessagef(err, "shard %d on device #%d (%s)", i, w.device.Index, w.device.Name)
			}
			return nil
		})
	}
	return g.Wait()
}

// executor validates the device range of a call, and returns its executor.
// The engine lock is held until release is called, so Close waits for running calls.
func (e *acceleratedEngine) executor(deviceID int) (x deviceExecutor, release func(), err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return x, nil, ErrClosed
	}
	if deviceID < 0 || deviceID >= len(e.workers) {
		e.mu.Unlock()
		return x, nil, errors.Wrapf(ErrInvalidDevice, "device id %d out of range, %d device(s) available", deviceID, len(e.workers))
	}
	return deviceExecutor{engine: e, firstDevice: deviceID}, e.mu.Unlock, nil
}

func (e *acceleratedEngine) Run(req *Request) (*Result, error) {
	if req == nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "nil request")
	}
	x, release, err := e.executor(req.DeviceID)
	if err != nil {
		return nil, err
	}
	defer release()
	return runWith(x, req)
}

func (e *acceleratedEngine) Assign(req *PredictRequest) ([]int32, error) {
	if req == nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "nil request")
	}
	x, release, err := e.executor(req.DeviceID)
	if err != nil {
		return nil, err
	}
	defer release()
	return assign(x, req)
}

func (e *acceleratedEngine) Distances(req *PredictRequest) ([]float64, error) {
	if req == nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "nil request")
	}
	x, release, err := e.executor(req.DeviceID)
	if err != nil {
		return nil, err
	}
	defer release()
	return distances(x, req)
}

// Close stops the device workers. It doesn't shut down the devices.Context, which is owned by the caller.
func (e *acceleratedEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for _, w := range e.workers {
		close(w.jobs)
		w.wg.Wait()
	}
	return nil
}
