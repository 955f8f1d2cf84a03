// Package il is the host-executed stub backend: instead of target
// assembly it serializes the transformed kernel context to the IR text
// format, which the host runtime interprets. Tests and tooling also use it
// as a cheap IR dumper.
package il

import (
	"bytes"

	"go.uber.org/zap"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/backend"
)

// Backend is the IL stub target backend.
type Backend struct{}

// New creates an IL backend.
func New() *Backend { return &Backend{} }

// BackendType reports the backend family.
func (*Backend) BackendType() backend.BackendType { return backend.BackendIL }

// RegisterIntrinsics installs redirect-free defaults; the host interpreter
// resolves the well-known math intrinsics itself.
func (*Backend) RegisterIntrinsics(registry *backend.IntrinsicRegistry) {
	for _, method := range []string{"rsqrt", "sqrt", "sin", "cos", "exp2", "log2"} {
		registry.RegisterEmitter(method, method)
	}
}

// Compile serializes the kernel context. The driver's parallel machinery
// is unnecessary here: the artifact is a direct dump of the IR. Because the
// stub executes on the host, the target platform must match the process.
func (*Backend) Compile(entry *backend.EntryPoint, bctx *backend.BackendContext, a *abi.ABI, log *zap.Logger) (*backend.CompiledArtifact, error) {
	if a.Platform() != abi.CurrentPlatform() {
		return nil, &backend.NotSupportedPlatformError{
			Requested: a.Platform(),
			Actual:    abi.CurrentPlatform(),
		}
	}
	var buf bytes.Buffer
	if err := irDump(&buf, bctx); err != nil {
		return nil, backend.WrapInternal("serializing kernel context", err)
	}

	info := &backend.KernelInfo{
		SharedAllocations: bctx.SharedAllocations,
		SharedMemory:      entry.SharedMemory,
		Specialization:    entry.Specialization,
	}
	for _, m := range bctx.Methods() {
		localSize := 0
		if allocas := bctx.Allocas(m); allocas != nil {
			localSize = allocas.LocalSize
		}
		info.Functions = append(info.Functions, backend.FunctionInfo{
			Name:            m.Name,
			LocalMemorySize: localSize,
		})
	}

	return &backend.CompiledArtifact{
		EntryName:   entry.Method.Name,
		BackendType: backend.BackendIL,
		Source:      buf.Bytes(),
		Info:        info,
	}, nil
}
