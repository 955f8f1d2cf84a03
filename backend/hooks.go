package backend

import (
	"fmt"
	"path"

	"github.com/spf13/afero"

	"j5.nz/gkc/ir"
)

// === Compilation Hooks ===

// Hook exposes the orchestrator's observation points. All callbacks are
// invoked synchronously on the compiling goroutine.
type Hook interface {
	// FinishedCodeGeneration fires after the frontend produced the method
	// in its main context.
	FinishedCodeGeneration(mainContext *ir.Context, method *ir.Method)
	// InitializedKernelContext fires after the method was imported into the
	// fresh kernel context.
	InitializedKernelContext(kernelContext *ir.Context, method *ir.Method)
	// OptimizedKernelContext fires after the transformer pipeline ran.
	OptimizedKernelContext(kernelContext *ir.Context, method *ir.Method)
}

// NopHook ignores all observation points.
type NopHook struct{}

func (NopHook) FinishedCodeGeneration(*ir.Context, *ir.Method)   {}
func (NopHook) InitializedKernelContext(*ir.Context, *ir.Method) {}
func (NopHook) OptimizedKernelContext(*ir.Context, *ir.Method)   {}

// DumpHooks writes an IR listing at each observation point. Tests use an
// in-memory filesystem; tooling points it at a dump directory.
type DumpHooks struct {
	FS  afero.Fs
	Dir string
}

func (h *DumpHooks) FinishedCodeGeneration(ctx *ir.Context, m *ir.Method) {
	h.dump("0_frontend", ctx, m)
}

func (h *DumpHooks) InitializedKernelContext(ctx *ir.Context, m *ir.Method) {
	h.dump("1_imported", ctx, m)
}

func (h *DumpHooks) OptimizedKernelContext(ctx *ir.Context, m *ir.Method) {
	h.dump("2_optimized", ctx, m)
}

func (h *DumpHooks) dump(stage string, ctx *ir.Context, m *ir.Method) {
	name := path.Join(h.Dir, fmt.Sprintf("%s_%s.gkcir", m.Name, stage))
	f, err := h.FS.Create(name)
	if err != nil {
		return
	}
	defer f.Close()
	_ = ir.Dump(f, ctx)
}
