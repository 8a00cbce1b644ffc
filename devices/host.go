package devices

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// GPUChecksEnv is the environment variable that disables GPU probing when set to "0", "no" or "false".
const GPUChecksEnv = "GOKMEANS_GPU_CHECKS"

func gpuChecksEnabled() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(GPUChecksEnv)))
	switch value {
	case "0", "no", "false", "off":
		return false
	}
	return true
}

// HostDescription describes the host CPU: architecture, number of CPUs and the SIMD features relevant to the
// CPU engine.
func HostDescription() string {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasAVX2 {
			features = append(features, "avx2")
		}
		if cpu.X86.HasFMA {
			features = append(features, "fma")
		}
		if cpu.X86.HasAVX512F {
			features = append(features, "avx512f")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "asimd")
		}
		if cpu.ARM64.HasSVE {
			features = append(features, "sve")
		}
	}
	if len(features) == 0 {
		return fmt.Sprintf("%s/%d cpus", runtime.GOARCH, runtime.NumCPU())
	}
	return fmt.Sprintf("%s/%d cpus (%s)", runtime.GOARCH, runtime.NumCPU(), strings.Join(features, ","))
}
