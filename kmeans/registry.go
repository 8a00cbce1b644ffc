package kmeans

import (
	"slices"
	"sync"

	"github.com/gomlx/gokmeans/devices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the built-in engines.
const (
	CPU         = "cpu"
	Accelerated = "accelerated"
)

// Factory creates an Engine bound to the given device context (which may be nil for engines that don't use devices).
//
// It should return an *UnavailableError if the engine cannot run on this host.
type Factory func(devs *devices.Context) (Engine, error)

var (
	// factories holds the registered engines. Protected by muFactories.
	factories   = make(map[string]Factory)
	muFactories sync.Mutex
)

func init() {
	MustRegister(CPU, newCPUEngine)
	MustRegister(Accelerated, newAcceleratedEngine)
}

// Register makes an engine available by name to New. It fails if the name is already registered.
func Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return errors.Errorf("kmeans.Register requires a name and a factory")
	}
	muFactories.Lock()
	defer muFactories.Unlock()
	if _, found := factories[name]; found {
		return errors.Errorf("kmeans engine %q already registered", name)
	}
	factories[name] = factory
	klog.V(2).Infof("kmeans engine %q registered", name)
	return nil
}

// MustRegister is like Register, but panics on error. Used in init functions.
func MustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

// New creates an engine by name, bound to devs.
//
// If the engine is not registered, or cannot be instantiated, the returned error is an *UnavailableError.
func New(name string, devs *devices.Context) (Engine, error) {
	muFactories.Lock()
	factory, found := factories[name]
	muFactories.Unlock()
	if !found {
		return nil, &UnavailableError{Engine: name, cause: errors.Errorf("not registered, known engines: %q", Names())}
	}
	engine, err := factory(devs)
	if err != nil {
		if IsUnavailable(err) {
			return nil, err
		}
		return nil, &UnavailableError{Engine: name, cause: err}
	}
	return engine, nil
}

// Names returns the sorted names of the registered engines.
func Names() []string {
	muFactories.Lock()
	defer muFactories.Unlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
