package backend

import "fmt"

// BackendType identifies a concrete backend family.
type BackendType int

const (
	// BackendIL executes kernels on the host through the IR stub.
	BackendIL BackendType = iota
	// BackendPTX emits PTX assembly for NVIDIA targets.
	BackendPTX
	// BackendOpenCL emits OpenCL C source.
	BackendOpenCL
	// BackendVelocity emits vectorized host code. Reserved; no backend ships
	// for it yet.
	BackendVelocity
)

func (t BackendType) String() string {
	switch t {
	case BackendIL:
		return "il"
	case BackendPTX:
		return "ptx"
	case BackendOpenCL:
		return "opencl"
	case BackendVelocity:
		return "velocity"
	}
	return fmt.Sprintf("backend_%d", int(t))
}

// CacheMode controls how much backend state ClearCache drops.
type CacheMode int

const (
	// ClearNothing keeps all caches.
	ClearNothing CacheMode = iota
	// ClearMethodCache drops the intrinsic lookup cache and the
	// argument-mapping plans.
	ClearMethodCache
	// ClearEverything drops the same caches as ClearMethodCache; the ABI
	// layout cache is not dropped.
	ClearEverything
)
