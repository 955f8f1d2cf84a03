package backend

import (
	"fmt"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/ir"
)

// === Entry Points ===

// KernelSpecialization carries optional launch hints attached to the
// artifact as target metadata. Zero means unset.
type KernelSpecialization struct {
	MaxThreadsPerGroup         int
	MinGroupsPerMultiprocessor int
}

// Validate rejects negative hints.
func (s KernelSpecialization) Validate() error {
	if s.MaxThreadsPerGroup < 0 {
		return fmt.Errorf("max threads per group must be positive, got %d", s.MaxThreadsPerGroup)
	}
	if s.MinGroupsPerMultiprocessor < 0 {
		return fmt.Errorf("min groups per multiprocessor must be positive, got %d", s.MinGroupsPerMultiprocessor)
	}
	return nil
}

// UniformVariable is a kernel parameter passed by value at launch.
type UniformVariable struct {
	Index int
	Type  ir.Type
	Size  int
}

// SharedMemoryVariable is a kernel parameter backed by group-shared memory.
// Count is 1 for scalars; Dynamic marks variables sized at launch, which
// carry a contiguous SharedMemoryIndex. Statically sized variables have
// SharedMemoryIndex -1.
type SharedMemoryVariable struct {
	Index             int
	SharedMemoryIndex int
	Type              ir.Type
	Element           ir.Type
	IsArray           bool
	Count             int64
	Dynamic           bool
	ElementSize       int
}

// SharedMemorySpec aggregates the kernel's shared-memory requirements for
// launch configuration.
type SharedMemorySpec struct {
	StaticSize int
	HasDynamic bool
}

// EntryPoint classifies a kernel method: its index-space type, uniform
// parameters and shared-memory variables.
type EntryPoint struct {
	Method          *ir.Method
	IndexKind       ir.IndexKind
	Uniforms        []UniformVariable
	SharedVariables []SharedMemoryVariable
	SharedMemory    SharedMemorySpec
	Specialization  KernelSpecialization
}

// IsGroupedIndexEntry reports whether the kernel receives explicit
// grid/group indices.
func (e *EntryPoint) IsGroupedIndexEntry() bool { return e.IndexKind.IsGrouped() }

// NewEntryPoint builds the entry point of a kernel method. shared carries
// the requirements already collected from the method body's allocas;
// parameter-declared shared variables are added on top. Implicitly-grouped
// kernels must not use shared memory in any form.
func NewEntryPoint(method *ir.Method, a *abi.ABI, shared SharedMemorySpec, spec KernelSpecialization) (*EntryPoint, error) {
	if err := spec.Validate(); err != nil {
		return nil, WrapInternal("invalid kernel specialization", err)
	}
	if len(method.Params) == 0 {
		return nil, InvalidCodeGenerationf("kernel %q has no index parameter", method.Name)
	}

	indexKind := ir.IndexKindOf(method.Params[0].Type())
	if indexKind == ir.IndexNone {
		return nil, InvalidCodeGenerationf(
			"kernel %q: first parameter %s is not an index type",
			method.Name, method.Params[0].Type())
	}

	ep := &EntryPoint{
		Method:         method,
		IndexKind:      indexKind,
		SharedMemory:   shared,
		Specialization: spec,
	}

	sharedMemIndex := 0
	for _, p := range method.Params[1:] {
		if p.Shared == nil {
			ep.Uniforms = append(ep.Uniforms, UniformVariable{
				Index: p.Index,
				Type:  p.Type(),
				Size:  a.SizeOf(p.Type()),
			})
			continue
		}

		sv := SharedMemoryVariable{
			Index:             p.Index,
			SharedMemoryIndex: -1,
			Type:              p.Type(),
			Element:           p.Shared.Element,
			ElementSize:       a.SizeOf(p.Shared.Element),
		}
		if _, isView := p.Type().(*ir.ViewType); isView {
			sv.IsArray = true
			if p.Shared.Dynamic() {
				sv.Dynamic = true
				sv.SharedMemoryIndex = sharedMemIndex
				sharedMemIndex++
				ep.SharedMemory.HasDynamic = true
			} else {
				sv.Count = p.Shared.Count
				ep.SharedMemory.StaticSize += int(sv.Count) * sv.ElementSize
			}
		} else {
			// Scalar shared variables occupy exactly one element.
			if p.Shared.Count != 1 {
				return nil, InvalidCodeGenerationf(
					"kernel %q: shared variable %q of non-view type must have count 1, got %d",
					method.Name, p.Name, p.Shared.Count)
			}
			sv.Count = 1
			ep.SharedMemory.StaticSize += sv.ElementSize
		}
		ep.SharedVariables = append(ep.SharedVariables, sv)
	}

	hasShared := len(ep.SharedVariables) > 0 ||
		ep.SharedMemory.StaticSize > 0 || ep.SharedMemory.HasDynamic
	if !ep.IsGroupedIndexEntry() && hasShared {
		return nil, &UnsupportedSharedMemoryUseError{Method: method}
	}
	return ep, nil
}
