//go:build linux

package devices

import (
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// This file holds the probing of Nvidia GPUs on linux.

// nvidiaProber discovers Nvidia GPUs using the device files in /dev and the nvidia-smi command.
type nvidiaProber struct {
	// smi is the nvidia-smi executable, resolved on first use.
	smi string
}

// DefaultProber returns the Prober used when none is given to NewContext.
//
// On linux it looks for Nvidia GPUs: it checks for the device files /dev/nvidia[0-9]* and then queries nvidia-smi
// for their names. Set GOKMEANS_GPU_CHECKS=0 to disable probing altogether.
func DefaultProber() Prober {
	if !gpuChecksEnabled() {
		klog.V(1).Infof("GPU probing disabled by %s", GPUChecksEnv)
		return &StaticProber{}
	}
	return &nvidiaProber{}
}

// hasNvidiaDeviceFiles checks for the presence of the device files in /dev/nvidia*.
func hasNvidiaDeviceFiles() bool {
	matches, err := filepath.Glob("/dev/nvidia[0-9]*")
	if err != nil {
		klog.Errorf("Failed to figure out if there is an Nvidia GPU installed while searching for files matching \"/dev/nvidia*\": %v", err)
		return false
	}
	return len(matches) > 0
}

func (p *nvidiaProber) query(field string) ([]string, error) {
	if p.smi == "" {
		smi, err := exec.LookPath("nvidia-smi")
		if err != nil {
			return nil, errors.Wrapf(err, "nvidia-smi command not found")
		}
		p.smi = smi
	}
	output, err := exec.Command(p.smi, "--query-gpu="+field, "--format=csv,noheader").CombinedOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "nvidia-smi failed: %s", strings.TrimSpace(string(output)))
	}
	var lines []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// Enumerate implements Prober.
func (p *nvidiaProber) Enumerate() ([]Device, error) {
	if !hasNvidiaDeviceFiles() {
		klog.V(1).Infof("No NVidia devices found matching \"/dev/nvidia[0-9]*\", checking nvidia-smi command instead.")
	}
	lines, err := p.query("index,name")
	if err != nil {
		return nil, err
	}
	return parseDeviceList(lines)
}

// DriverVersion implements Prober.
func (p *nvidiaProber) DriverVersion() (string, error) {
	lines, err := p.query("driver_version")
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", errors.New("nvidia-smi returned no driver version")
	}
	// All GPUs share the driver, the first line is enough.
	return lines[0], nil
}

// parseDeviceList parses "index, name" lines as output by nvidia-smi.
func parseDeviceList(lines []string) ([]Device, error) {
	devices := make([]Device, 0, len(lines))
	for _, line := range lines {
		idxStr, name, found := strings.Cut(line, ",")
		if !found {
			return nil, errors.Errorf("unexpected nvidia-smi output line %q", line)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid device index in nvidia-smi output line %q", line)
		}
		devices = append(devices, Device{Index: idx, Name: strings.TrimSpace(name)})
	}
	return devices, nil
}
