package devices

import (
	"flag"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

var flagProbeHost = flag.Bool("probe_host", false, "Also run discovery with the DefaultProber of the host.")

func twoGPUs() *StaticProber {
	return &StaticProber{
		Devices: []Device{{Index: 0, Name: "Tesla V100-SXM2-16GB"}, {Index: 1, Name: "Tesla V100-SXM2-16GB"}},
		Version: "535.104.05",
	}
}

func TestContext_Discover(t *testing.T) {
	ctx := NewContext(twoGPUs())
	require.Equal(t, "devices.Context(uninitialized)", ctx.String())
	ctx.Init()
	n, devices := ctx.Discover()
	require.Equal(t, 2, n)
	require.Len(t, devices, 2)
	require.Equal(t, "535.104.05", ctx.DriverVersion())
	require.NoError(t, ctx.Err())
	fmt.Printf("\t%s\n", ctx)

	// Returned slices are copies.
	devices[0].Name = "changed"
	require.Equal(t, "Tesla V100-SXM2-16GB", ctx.Devices()[0].Name)
}

func TestContext_DiscoveryFailure(t *testing.T) {
	ctx := NewContext(&StaticProber{Err: errors.New("nvml not loaded")})
	require.Equal(t, 0, ctx.Count())
	require.Error(t, ctx.Err())
	require.Empty(t, ctx.DriverVersion())
}

func TestContext_ResolveCount(t *testing.T) {
	ctx := NewContext(twoGPUs())
	require.Equal(t, 1, ctx.ResolveCount(1))
	require.Equal(t, 0, ctx.ResolveCount(0))
	require.Equal(t, 2, ctx.ResolveCount(-1))

	// No devices: "all" is 0, and the caller falls back to the CPU.
	require.Equal(t, 0, NewContext(&StaticProber{}).ResolveCount(-1))

	// Discovery failed: count unknown, default to 1.
	require.Equal(t, 1, NewContext(&StaticProber{Err: errors.New("failed")}).ResolveCount(-1))
}

type countingProber struct {
	StaticProber
	calls int
}

func (p *countingProber) Enumerate() ([]Device, error) {
	p.calls++
	return p.StaticProber.Enumerate()
}

func TestContext_Lifecycle(t *testing.T) {
	prober := &countingProber{StaticProber: *twoGPUs()}
	ctx := NewContext(prober)
	ctx.Init()
	ctx.Init()
	require.Equal(t, 2, ctx.Count())
	require.Equal(t, 1, prober.calls, "discovery should be cached")

	ctx.Shutdown()
	ctx.Shutdown()
	require.Equal(t, "devices.Context(uninitialized)", ctx.String())

	prober.Devices = prober.Devices[:1]
	require.Equal(t, 1, ctx.Count(), "after Shutdown devices are discovered again")
	require.Equal(t, 2, prober.calls)
}

func TestHostDescription(t *testing.T) {
	desc := HostDescription()
	require.NotEmpty(t, desc)
	fmt.Printf("\thost: %s\n", desc)
}

func TestDefaultProber(t *testing.T) {
	if !*flagProbeHost {
		t.Skip("Set --probe_host to run discovery on the host")
	}
	ctx := NewContext(nil)
	n, devices := ctx.Discover()
	fmt.Printf("\t%d devices: %v (err=%v)\n", n, devices, ctx.Err())
}

func TestDefaultProber_Disabled(t *testing.T) {
	t.Setenv(GPUChecksEnv, "0")
	ctx := NewContext(DefaultProber())
	require.Equal(t, 0, ctx.Count())
	require.NoError(t, ctx.Err())
}
