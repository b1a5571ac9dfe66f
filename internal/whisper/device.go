package whisper

import (
	"os"
	"runtime"
	"strings"
)

// Device is the execution device an engine is bound to for its lifetime.
type Device string

const (
	DeviceCPU Device = "cpu"
	DeviceGPU Device = "gpu"
)

// acceleratorPaths are paths whose presence means a GPU is visible to the process.
var acceleratorPaths = []string{"/dev/nvidia0", "/dev/nvidiactl", "/dev/dri/renderD128"}

// ResolveDevice turns a configured preference into a concrete device.
// "auto" (or anything unrecognized) selects the GPU when one is visible.
func ResolveDevice(pref string) Device {
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "cpu":
		return DeviceCPU
	case "gpu", "cuda", "metal":
		return DeviceGPU
	}
	if acceleratorVisible() {
		return DeviceGPU
	}
	return DeviceCPU
}

func acceleratorVisible() bool {
	if v, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok && v != "" && v != "-1" {
		return true
	}
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return true // Metal
	}
	for _, p := range acceleratorPaths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// threadsFor picks the inference thread count. Explicit values win; otherwise
// CPU inference uses every core and GPU inference keeps a small host pool.
func threadsFor(d Device, configured int) uint {
	if configured > 0 {
		return uint(configured)
	}
	if d == DeviceGPU {
		return uint(min(4, runtime.NumCPU()))
	}
	return uint(runtime.NumCPU())
}

// restrictToCPU hides CUDA devices from the backend before it initializes.
// The Go bindings always load with whisper.cpp's default context params, so
// a GPU build would otherwise use the GPU regardless of the configured
// device. Metal builds are unaffected.
func restrictToCPU() error {
	return os.Setenv("CUDA_VISIBLE_DEVICES", "-1")
}
