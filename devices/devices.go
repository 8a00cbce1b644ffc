// Package devices discovers the parallel compute devices (GPUs) available to the accelerated k-means engine.
//
// Discovery never fails fatally: if no devices are found, or probing fails, the device count is 0 and the
// caller is expected to fall back to the CPU engine.
//
// Device state is held in an explicitly created Context, initialized with Context.Init and released with
// Context.Shutdown, instead of process-wide driver state.
package devices

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Device is a lightweight description of one discovered compute device.
type Device struct {
	// Index is the device ordinal as reported by the driver (e.g. the CUDA device number).
	Index int

	// Name is a vendor-dependent string that identifies the kind of device, e.g. "Tesla V100-SXM2-16GB".
	Name string
}

// String implements fmt.Stringer.
func (d Device) String() string {
	return fmt.Sprintf("Device %d: %s", d.Index, d.Name)
}

// Prober enumerates devices. It is the narrow interface to the vendor's discovery API.
type Prober interface {
	// Enumerate lists the available devices.
	Enumerate() ([]Device, error)

	// DriverVersion returns the version of the driver backing the devices.
	DriverVersion() (string, error)
}

// StaticProber returns a fixed list of devices. Used for testing and by callers that manage devices themselves.
type StaticProber struct {
	Devices []Device
	Version string

	// Err, if set, is returned by Enumerate.
	Err error
}

// Enumerate implements Prober.
func (p *StaticProber) Enumerate() ([]Device, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return append([]Device(nil), p.Devices...), nil
}

// DriverVersion implements Prober.
func (p *StaticProber) DriverVersion() (string, error) {
	return p.Version, nil
}

// Context holds the result of device discovery. Discovery happens once, on Init, and it is cached until Shutdown.
//
// It is safe for concurrent use.
type Context struct {
	mu            sync.Mutex
	prober        Prober
	initialized   bool
	devices       []Device
	driverVersion string
	discoveryErr  error
}

// NewContext creates a Context that uses the given prober. If prober is nil, DefaultProber is used.
//
// The Context is not initialized: call Init before using it, or let the first query initialize it.
func NewContext(prober Prober) *Context {
	if prober == nil {
		prober = DefaultProber()
	}
	return &Context{prober: prober}
}

// Init discovers the devices, if not yet discovered.
//
// It never fails: probing errors are logged and leave the Context with 0 devices.
// Use Context.Err to check whether discovery failed.
func (c *Context) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
}

func (c *Context) initLocked() {
	if c.initialized {
		return
	}
	c.initialized = true
	devices, err := c.prober.Enumerate()
	if err != nil {
		c.discoveryErr = errors.WithMessagef(err, "device discovery failed")
		klog.Errorf("No GPU, setting device count to 0: %v", err)
		c.devices = nil
		return
	}
	c.devices = devices
	if len(devices) == 0 {
		klog.V(1).Infof("No accelerator devices found, host is %s", HostDescription())
		return
	}
	for _, d := range devices {
		klog.Infof("%s", d)
	}
	version, err := c.prober.DriverVersion()
	if err != nil {
		klog.Warningf("Failed to retrieve driver version: %v", err)
	} else {
		c.driverVersion = version
		klog.Infof("Driver Version: %s", version)
	}
	klog.V(1).Infof("Number of accelerator devices: %d, host is %s", len(devices), HostDescription())
}

// Shutdown releases the discovery state. The Context can be re-initialized with Init afterward.
// It is idempotent.
func (c *Context) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return
	}
	c.initialized = false
	c.devices = nil
	c.driverVersion = ""
	c.discoveryErr = nil
}

// Discover returns the number of devices and their descriptions, initializing the Context if needed.
func (c *Context) Discover() (int, []Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
	return len(c.devices), append([]Device(nil), c.devices...)
}

// Count returns the number of discovered devices.
func (c *Context) Count() int {
	n, _ := c.Discover()
	return n
}

// Devices returns a copy of the discovered devices.
func (c *Context) Devices() []Device {
	_, devices := c.Discover()
	return devices
}

// DriverVersion returns the driver version, or an empty string if unknown.
func (c *Context) DriverVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
	return c.driverVersion
}

// Err returns the error that happened during discovery, if any.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
	return c.discoveryErr
}

// ResolveCount negotiates the number of devices to use.
//
// A non-negative requested value is returned as is. A negative value means "use all": the discovered count is
// returned, or 1 if discovery failed and the count is unknown.
func (c *Context) ResolveCount(requested int) int {
	if requested >= 0 {
		return requested
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
	if c.discoveryErr != nil {
		klog.Warningf("Cannot automatically set device count to all devices (requested %d): %v; trying device count 1",
			requested, c.discoveryErr)
		return 1
	}
	return len(c.devices)
}

// String implements fmt.Stringer.
func (c *Context) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return "devices.Context(uninitialized)"
	}
	if len(c.devices) == 0 {
		return "devices.Context(no devices)"
	}
	names := make([]string, len(c.devices))
	for ii, d := range c.devices {
		names[ii] = d.Name
	}
	return fmt.Sprintf("devices.Context(%d devices: %s; driver %q)", len(c.devices), strings.Join(names, ", "), c.driverVersion)
}
