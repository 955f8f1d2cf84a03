package backend

import (
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/ir"
)

// === Backend Context ===

// AllocaInfo summarizes one allocation site.
type AllocaInfo struct {
	Value   *ir.Alloca
	Element ir.Type
	Count   int
	Size    int
}

// MethodAllocas groups the allocation sites of one method by address
// space.
type MethodAllocas struct {
	Local         []AllocaInfo
	Shared        []AllocaInfo
	DynamicShared []AllocaInfo
	LocalSize     int
	SharedSize    int
}

// BackendContext captures everything the code generators need about one
// compilation: the reachable method set, per-method alloca summaries and
// the aggregated shared-memory requirements. It is built once per
// compilation, is immutable afterwards, and must not be stored beyond the
// surrounding Compile call.
type BackendContext struct {
	Context    *ir.Context
	Kernel     *ir.Method
	Intrinsics *IntrinsicProvider

	methods   []*ir.Method
	methodSet map[*ir.Method]bool
	allocas   map[*ir.Method]*MethodAllocas

	SharedAllocations        []AllocaInfo
	DynamicSharedAllocations []AllocaInfo
	SharedMemorySize         int
}

// NewBackendContext walks the call graph from kernel, collecting reachable
// methods in discovery order (kernel first) and summarizing their allocas.
// Every reachable intrinsic must have a mapping in the provider; the first
// uncovered intrinsic aborts the build.
func NewBackendContext(ctx *ir.Context, kernel *ir.Method, a *abi.ABI, provider *IntrinsicProvider, log *zap.Logger) (*BackendContext, error) {
	bc := &BackendContext{
		Context:    ctx,
		Kernel:     kernel,
		Intrinsics: provider,
		methodSet:  make(map[*ir.Method]bool),
		allocas:    make(map[*ir.Method]*MethodAllocas),
	}

	// Reachability: mark-and-collect over call edges, kernel first.
	var notImplemented []*ir.Method
	worklist := []*ir.Method{kernel}
	bc.methodSet[kernel] = true
	for len(worklist) > 0 {
		m := worklist[0]
		worklist = worklist[1:]
		bc.methods = append(bc.methods, m)

		if m.HasFlags(ir.MethodIntrinsic) {
			notImplemented = append(notImplemented, m)
		}
		bc.collectAllocas(m, a)

		for _, call := range m.Calls() {
			if !bc.methodSet[call.Target] {
				bc.methodSet[call.Target] = true
				worklist = append(worklist, call.Target)
			}
		}
	}

	// Every intrinsic that survived the pipeline needs a backend mapping.
	var errs error
	for _, m := range notImplemented {
		if _, ok := provider.TryGetMapping(m); !ok {
			errs = multierror.Append(errs, &NotSupportedIntrinsicError{Method: m})
		}
	}
	if errs != nil {
		merr := errs.(*multierror.Error)
		log.Debug("intrinsic coverage validation failed",
			zap.Int("missing", len(merr.Errors)))
		return nil, merr.Errors[0]
	}

	log.Debug("backend context built",
		zap.String("kernel", kernel.Name),
		zap.Int("methods", len(bc.methods)),
		zap.Int("sharedMemorySize", bc.SharedMemorySize),
		zap.Int("dynamicShared", len(bc.DynamicSharedAllocations)))
	return bc, nil
}

func (bc *BackendContext) collectAllocas(m *ir.Method, a *abi.ABI) {
	allocas := &MethodAllocas{}
	m.Walk(func(v ir.Value) bool {
		al, ok := v.(*ir.Alloca)
		if !ok {
			return true
		}
		info := AllocaInfo{
			Value:   al,
			Element: al.Elem,
			Count:   al.Count,
		}
		switch {
		case al.Space == ir.SpaceShared && al.Dynamic:
			allocas.DynamicShared = append(allocas.DynamicShared, info)
			bc.DynamicSharedAllocations = append(bc.DynamicSharedAllocations, info)
		case al.Space == ir.SpaceShared:
			info.Size = al.Count * a.SizeOf(al.Elem)
			allocas.Shared = append(allocas.Shared, info)
			allocas.SharedSize += info.Size
			bc.SharedAllocations = append(bc.SharedAllocations, info)
			bc.SharedMemorySize += info.Size
		default:
			info.Size = al.Count * a.SizeOf(al.Elem)
			allocas.Local = append(allocas.Local, info)
			allocas.LocalSize += info.Size
		}
		return true
	})
	bc.allocas[m] = allocas
}

// Methods returns all reachable methods in discovery order, kernel first.
func (bc *BackendContext) Methods() []*ir.Method {
	out := make([]*ir.Method, len(bc.methods))
	copy(out, bc.methods)
	return out
}

// SecondaryMethods returns the reachable methods excluding the kernel, in
// discovery order. Intrinsics are skipped: their meaning is an emission
// rule, not a function body.
func (bc *BackendContext) SecondaryMethods() []*ir.Method {
	var out []*ir.Method
	for _, m := range bc.methods {
		if m == bc.Kernel || m.HasFlags(ir.MethodIntrinsic) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Contains reports whether m is reachable from the kernel.
func (bc *BackendContext) Contains(m *ir.Method) bool { return bc.methodSet[m] }

// Allocas returns the alloca summary of a reachable method.
func (bc *BackendContext) Allocas(m *ir.Method) *MethodAllocas { return bc.allocas[m] }

// SharedMemorySpec summarizes the body-declared shared-memory
// requirements.
func (bc *BackendContext) SharedMemorySpec() SharedMemorySpec {
	return SharedMemorySpec{
		StaticSize: bc.SharedMemorySize,
		HasDynamic: len(bc.DynamicSharedAllocations) > 0,
	}
}
