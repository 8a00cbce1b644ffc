//go:build !linux

package devices

// DefaultProber returns the Prober used when none is given to NewContext.
//
// GPU discovery is only implemented for linux: elsewhere no devices are ever found and the CPU engine is used.
func DefaultProber() Prober {
	return &StaticProber{}
}
