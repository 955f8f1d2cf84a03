package backend

import (
	"fmt"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/ir"
)

// === Registers ===

// RegisterKind is a target-defined register class (integer widths, float
// widths, predicates). Values are assigned by the concrete backend.
type RegisterKind int

// RegisterDescription pairs a primitive type with its target register
// class.
type RegisterDescription struct {
	Basic ir.BasicValueType
	Kind  RegisterKind
}

// Register is the tagged union over allocated registers.
type Register interface {
	isRegister()
}

// PrimitiveRegister is a single hardware register slot.
type PrimitiveRegister struct {
	Desc  RegisterDescription
	Index int
}

// ConstantRegister holds a primitive literal that targets may materialize
// inline instead of occupying a slot.
type ConstantRegister struct {
	Basic ir.BasicValueType
	Raw   uint64
}

// CompoundRegister mirrors a structure, array or view type: one child
// register per field, in field order.
type CompoundRegister struct {
	Type     ir.Type
	Children []Register
}

func (*PrimitiveRegister) isRegister() {}
func (*ConstantRegister) isRegister()  {}
func (*CompoundRegister) isRegister()  {}

func (r *PrimitiveRegister) String() string {
	return fmt.Sprintf("%s:%d", r.Desc.Basic, r.Index)
}

// RegisterTarget supplies the target-specific allocation policy.
type RegisterTarget interface {
	// DescribePrimitive maps a primitive type to its register class.
	DescribePrimitive(basic ir.BasicValueType) RegisterDescription
}

// RegisterAllocator assigns hardware-register descriptors to IR values. One
// allocator exists per code generator; it is not safe for concurrent use.
type RegisterAllocator struct {
	abi    *abi.ABI
	target RegisterTarget

	bound    map[ir.ValueID]Register
	aliases  map[ir.ValueID]ir.Value
	counters map[RegisterKind]int
	free     map[RegisterKind][]int
}

// NewRegisterAllocator creates an allocator for one code generator.
func NewRegisterAllocator(a *abi.ABI, target RegisterTarget) *RegisterAllocator {
	return &RegisterAllocator{
		abi:      a,
		target:   target,
		bound:    make(map[ir.ValueID]Register),
		aliases:  make(map[ir.ValueID]ir.Value),
		counters: make(map[RegisterKind]int),
		free:     make(map[RegisterKind][]int),
	}
}

// NumRegistersOfKind returns the high-water mark of allocated registers in
// a class; targets use it to emit register declarations.
func (ra *RegisterAllocator) NumRegistersOfKind(kind RegisterKind) int {
	return ra.counters[kind]
}

// AllocatePrimitive claims a fresh hardware register of the described
// class, reusing freed indices first.
func (ra *RegisterAllocator) AllocatePrimitive(desc RegisterDescription) *PrimitiveRegister {
	if freed := ra.free[desc.Kind]; len(freed) > 0 {
		idx := freed[len(freed)-1]
		ra.free[desc.Kind] = freed[:len(freed)-1]
		return &PrimitiveRegister{Desc: desc, Index: idx}
	}
	idx := ra.counters[desc.Kind]
	ra.counters[desc.Kind] = idx + 1
	return &PrimitiveRegister{Desc: desc, Index: idx}
}

// AllocateType builds a register matching the shape of t: primitives claim
// one slot, compounds allocate one child per field, pointers and strings
// allocate as the ABI's pointer arithmetic type.
func (ra *RegisterAllocator) AllocateType(t ir.Type) Register {
	switch t.Kind() {
	case ir.KindPrimitive:
		basic := t.(*ir.PrimitiveType).Basic
		return ra.AllocatePrimitive(ra.target.DescribePrimitive(basic))
	case ir.KindPointer, ir.KindString:
		return ra.AllocatePrimitive(ra.target.DescribePrimitive(ra.abi.PointerArithmeticType()))
	case ir.KindStruct, ir.KindArray, ir.KindView:
		fields := ir.CompoundFields(t)
		children := make([]Register, len(fields))
		for i, f := range fields {
			children[i] = ra.AllocateType(f)
		}
		return &CompoundRegister{Type: t, Children: children}
	default:
		panic(fmt.Sprintf("backend: cannot allocate register for %s", t))
	}
}

// resolveAlias follows alias edges to a fixed point. A repeated value means
// an alias cycle, which is a programming error in the caller.
func (ra *RegisterAllocator) resolveAlias(v ir.Value) ir.Value {
	seen := map[ir.ValueID]bool{v.ID(): true}
	for {
		next, ok := ra.aliases[v.ID()]
		if !ok {
			return v
		}
		if seen[next.ID()] {
			panic(fmt.Sprintf("backend: alias cycle through value %d", v.ID()))
		}
		seen[next.ID()] = true
		v = next
	}
}

// Allocate returns the register bound to v, allocating one on first use.
// Aliased values resolve to their target's register.
func (ra *RegisterAllocator) Allocate(v ir.Value) Register {
	v = ra.resolveAlias(v)
	if reg, ok := ra.bound[v.ID()]; ok {
		return reg
	}
	reg := ra.AllocateType(v.Type())
	ra.bound[v.ID()] = reg
	return reg
}

// AllocateWithKind binds v to a fresh primitive register of an explicit
// class.
func (ra *RegisterAllocator) AllocateWithKind(v ir.Value, desc RegisterDescription) *PrimitiveRegister {
	v = ra.resolveAlias(v)
	reg := ra.AllocatePrimitive(desc)
	ra.bound[v.ID()] = reg
	return reg
}

// Bind overrides the register bound to v. Code generators use it to map
// constants and field extractions onto existing registers.
func (ra *RegisterAllocator) Bind(v ir.Value, reg Register) {
	ra.bound[ra.resolveAlias(v).ID()] = reg
}

// Alias declares that v shares storage with other. Lookups on v resolve
// through other transitively.
func (ra *RegisterAllocator) Alias(v, other ir.Value) {
	ra.aliases[v.ID()] = other
}

// Load returns the register bound to v, failing with invalid code
// generation if v was never allocated.
func (ra *RegisterAllocator) Load(v ir.Value) (Register, error) {
	v = ra.resolveAlias(v)
	reg, ok := ra.bound[v.ID()]
	if !ok {
		return nil, InvalidCodeGenerationf("value %d has no allocated register", v.ID())
	}
	return reg, nil
}

// LoadPrimitive returns the primitive register bound to v.
func (ra *RegisterAllocator) LoadPrimitive(v ir.Value) (*PrimitiveRegister, error) {
	reg, err := ra.Load(v)
	if err != nil {
		return nil, err
	}
	prim, ok := reg.(*PrimitiveRegister)
	if !ok {
		return nil, InvalidCodeGenerationf("value %d is not bound to a primitive register", v.ID())
	}
	return prim, nil
}

// LoadCompound returns the compound register bound to v.
func (ra *RegisterAllocator) LoadCompound(v ir.Value) (*CompoundRegister, error) {
	reg, err := ra.Load(v)
	if err != nil {
		return nil, err
	}
	comp, ok := reg.(*CompoundRegister)
	if !ok {
		return nil, InvalidCodeGenerationf("value %d is not bound to a compound register", v.ID())
	}
	return comp, nil
}

// Free releases the registers bound to v, recursively over compounds.
// Constant registers occupy no slot and are dropped.
func (ra *RegisterAllocator) Free(v ir.Value) {
	v = ra.resolveAlias(v)
	reg, ok := ra.bound[v.ID()]
	if !ok {
		return
	}
	delete(ra.bound, v.ID())
	ra.freeRegister(reg)
}

// FreeRegister returns an unbound register's slots to the free lists.
// Generators use it for scratch registers that never bind to a value.
func (ra *RegisterAllocator) FreeRegister(reg Register) {
	ra.freeRegister(reg)
}

func (ra *RegisterAllocator) freeRegister(reg Register) {
	switch r := reg.(type) {
	case *PrimitiveRegister:
		ra.free[r.Desc.Kind] = append(ra.free[r.Desc.Kind], r.Index)
	case *CompoundRegister:
		for _, child := range r.Children {
			ra.freeRegister(child)
		}
	case *ConstantRegister:
		// Constants occupy no hardware slot.
	}
}
