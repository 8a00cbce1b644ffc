package gokmeans

import (
	"math"
	"os"

	"github.com/gomlx/gokmeans/devices"
	"github.com/gomlx/gokmeans/kmeans"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EngineEnv is the environment variable that selects the engine ("cpu" or "accelerated") when not configured
// with Config.WithEngine. If empty, the engine is selected automatically.
const EngineEnv = "GOKMEANS_ENGINE"

// AutoEngine selects the accelerated engine if devices are requested and available, and the cpu engine otherwise.
const AutoEngine = "auto"

// Default configuration values.
const (
	DefaultK             = 10
	DefaultMaxIterations = 1000
	DefaultThreshold     = 1e-3
	DefaultDeviceCount   = 1
)

// Config is used to configure a Solver, it is created with New.
//
// The configuration methods can be chained, and the first error found is kept and returned by Config.Done.
type Config struct {
	k, maxIterations      int
	threshold             float64
	initFromLabels        bool
	initLabels            InitLabelsMode
	initData              InitDataMode
	deviceCount, deviceID int
	seed                  uint64
	engine                string
	devs                  *devices.Context
	model                 *Model

	err error
}

// New returns a Config with the default values: k=10, max iterations=1000, threshold=1e-3, 1 device starting at
// device 0, random-select initialization and seed 0.
//
// The engine is taken from the GOKMEANS_ENGINE environment variable, or selected automatically.
func New() *Config {
	engine := os.Getenv(EngineEnv)
	if engine == "" {
		engine = AutoEngine
	}
	return &Config{
		k:             DefaultK,
		maxIterations: DefaultMaxIterations,
		threshold:     DefaultThreshold,
		initLabels:    InitLabelsRandomSelect,
		initData:      InitDataRandomSelect,
		deviceCount:   DefaultDeviceCount,
		engine:        engine,
	}
}

// WithK sets the number of clusters. It must be at least 1.
func (c *Config) WithK(k int) *Config {
	if c.err != nil {
		return c
	}
	if k < 1 {
		c.err = errors.Wrapf(ErrInvalidConfig, "WithK(%d): k must be at least 1", k)
		return c
	}
	c.k = k
	return c
}

// WithMaxIterations bounds the number of iterations of a fit. It must be at least 1.
func (c *Config) WithMaxIterations(maxIterations int) *Config {
	if c.err != nil {
		return c
	}
	if maxIterations < 1 {
		c.err = errors.Wrapf(ErrInvalidConfig, "WithMaxIterations(%d): must be at least 1", maxIterations)
		return c
	}
	c.maxIterations = maxIterations
	return c
}

// WithThreshold sets the fraction of points changing cluster below which a fit is considered converged.
// With 0 a fit only stops early when no point changes cluster.
func (c *Config) WithThreshold(threshold float64) *Config {
	if c.err != nil {
		return c
	}
	if threshold < 0 || math.IsNaN(threshold) {
		c.err = errors.Wrapf(ErrInvalidConfig, "WithThreshold(%g): must be a non-negative number", threshold)
		return c
	}
	c.threshold = threshold
	return c
}

// WithInitFromLabels configures the fits to seed the centroids with the mean of the points of each given label.
func (c *Config) WithInitFromLabels(initFromLabels bool) *Config {
	c.initFromLabels = initFromLabels
	return c
}

// WithInitLabels sets the starting assignment of points when not initializing from labels.
func (c *Config) WithInitLabels(mode InitLabelsMode) *Config {
	if c.err != nil {
		return c
	}
	if mode != InitLabelsRandom && mode != InitLabelsRandomSelect {
		c.err = errors.Wrapf(ErrInvalidConfig, "WithInitLabels(%s): unknown mode", mode)
		return c
	}
	c.initLabels = mode
	return c
}

// WithInitData sets how the starting centroids are chosen when not initializing from labels.
func (c *Config) WithInitData(mode InitDataMode) *Config {
	if c.err != nil {
		return c
	}
	switch mode {
	case InitDataRandom, InitDataSelectStrat, InitDataRandomSelect:
		c.initData = mode
	default:
		c.err = errors.Wrapf(ErrInvalidConfig, "WithInitData(%s): unknown mode", mode)
	}
	return c
}

// WithDeviceCount sets the number of devices (and shards) to use. A negative value means all discovered devices
// (or 1 if discovery failed), and 0 selects the cpu engine when the engine is selected automatically.
func (c *Config) WithDeviceCount(deviceCount int) *Config {
	c.deviceCount = deviceCount
	return c
}

// WithDeviceID sets the first device to use.
func (c *Config) WithDeviceID(deviceID int) *Config {
	if c.err != nil {
		return c
	}
	if deviceID < 0 {
		c.err = errors.Wrapf(ErrInvalidConfig, "WithDeviceID(%d): must not be negative", deviceID)
		return c
	}
	c.deviceID = deviceID
	return c
}

// WithSeed sets the seed of the random initialization. Fits with the same seed, data and device count return
// the same centroids.
func (c *Config) WithSeed(seed uint64) *Config {
	c.seed = seed
	return c
}

// WithEngine sets the preferred engine: "cpu", "accelerated" or "auto". If the preferred engine is not available,
// Done falls back to the cpu engine.
func (c *Config) WithEngine(name string) *Config {
	if c.err != nil {
		return c
	}
	if name == "" {
		name = AutoEngine
	}
	c.engine = name
	return c
}

// WithDeviceContext sets the devices.Context used to discover devices. It is not shut down by Solver.Close.
// If not set, the Solver creates (and owns) one with the default prober of the host.
func (c *Config) WithDeviceContext(devs *devices.Context) *Config {
	c.devs = devs
	return c
}

// WithModel starts the Solver fitted with the centroids of a previously saved Model.
// The number of clusters is taken from the model: a later WithK with a different k makes Done fail with
// ErrInvalidConfig.
func (c *Config) WithModel(model *Model) *Config {
	if c.err != nil {
		return c
	}
	if err := model.validate(); err != nil {
		c.err = errors.WithMessagef(err, "WithModel()")
		return c
	}
	c.model = model
	c.k = model.K
	return c
}

// Done creates the Solver, selecting its engine.
//
// It returns the first configuration error, or ErrNoSolver if no engine could be instantiated.
func (c *Config) Done() (*Solver, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.model != nil && c.k != c.model.K {
		return nil, errors.Wrapf(ErrInvalidConfig, "k=%d doesn't match the %d centroids of the model", c.k, c.model.K)
	}
	s := &Solver{
		k:              c.k,
		maxIterations:  c.maxIterations,
		threshold:      c.threshold,
		initFromLabels: c.initFromLabels,
		initLabels:     c.initLabels,
		initData:       c.initData,
		deviceID:       c.deviceID,
		seed:           c.seed,
		devs:           c.devs,
	}
	if s.devs == nil {
		s.devs = devices.NewContext(nil)
		s.ownDevs = true
	}
	s.devs.Init()
	s.deviceCount = s.devs.ResolveCount(c.deviceCount)

	engine, err := selectEngine(c.engine, s.deviceCount, s.devs)
	if err != nil {
		s.releaseDevices()
		return nil, err
	}
	s.engine = engine
	if engine.Name() == kmeans.Accelerated && s.deviceID >= s.devs.Count() {
		s.releaseDevices()
		_ = engine.Close()
		return nil, errors.Wrapf(ErrInvalidConfig, "device id %d out of range, %d device(s) available", s.deviceID, s.devs.Count())
	}
	if c.model != nil {
		s.centroids = c.model.Centroids.Clone()
	}
	klog.Infof("gokmeans solver using %q engine with %d device(s), k=%d", engine.Name(), s.deviceCount, s.k)
	return newSolver(s), nil
}

// selectEngine instantiates the preferred engine, falling back to the cpu engine if it is not available.
func selectEngine(preference string, deviceCount int, devs *devices.Context) (kmeans.Engine, error) {
	var candidates []string
	switch preference {
	case AutoEngine:
		if deviceCount > 0 && devs.Count() > 0 {
			candidates = append(candidates, kmeans.Accelerated)
		}
	case kmeans.CPU:
	default:
		candidates = append(candidates, preference)
	}
	candidates = append(candidates, kmeans.CPU)

	var lastErr error
	for _, name := range candidates {
		engine, err := kmeans.New(name, devs)
		if err == nil {
			return engine, nil
		}
		klog.Warningf("gokmeans: %v, falling back", err)
		lastErr = err
	}
	return nil, errors.Wrapf(ErrNoSolver, "tried engines %q: %v", candidates, lastErr)
}
