//go:build linux

package devices

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDeviceList(t *testing.T) {
	devices, err := parseDeviceList([]string{
		"0, NVIDIA GeForce RTX 2080 Ti",
		"1, NVIDIA A100-SXM4-40GB",
	})
	require.NoError(t, err)
	require.Equal(t, []Device{
		{Index: 0, Name: "NVIDIA GeForce RTX 2080 Ti"},
		{Index: 1, Name: "NVIDIA A100-SXM4-40GB"},
	}, devices)

	_, err = parseDeviceList([]string{"no comma here"})
	require.Error(t, err)
	_, err = parseDeviceList([]string{"x, GPU"})
	require.Error(t, err)

	devices, err = parseDeviceList(nil)
	require.NoError(t, err)
	require.Empty(t, devices)
}
