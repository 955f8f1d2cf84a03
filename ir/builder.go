package ir

import (
	"fmt"
	"math"
)

// === IR Construction ===

// Builder appends values to a basic block. It is the construction surface
// used by frontends, transformers and tests.
type Builder struct {
	block *BasicBlock
}

// NewBuilder returns a builder positioned at the end of block.
func NewBuilder(block *BasicBlock) *Builder {
	return &Builder{block: block}
}

// SetBlock repositions the builder.
func (b *Builder) SetBlock(block *BasicBlock) { b.block = block }

// Block returns the current insertion block.
func (b *Builder) Block() *BasicBlock { return b.block }

func (b *Builder) node(typ Type, ops ...Value) valueNode {
	return valueNode{
		id:    b.block.method.ctx.nextID(),
		typ:   typ,
		block: b.block,
		ops:   ops,
	}
}

func (b *Builder) append(v Value) Value {
	b.block.Values = append(b.block.Values, v)
	return v
}

func (b *Builder) terminate(t Terminator) Terminator {
	if b.block.Terminator != nil {
		panic(fmt.Sprintf("ir: block %s already terminated", b.block))
	}
	b.block.Terminator = t
	return t
}

// === Literals ===

// Bool appends an Int1 literal.
func (b *Builder) Bool(v bool) Value {
	raw := uint64(0)
	if v {
		raw = 1
	}
	return b.append(&Const{valueNode: b.node(Primitive(Int1)), Basic: Int1, Raw: raw})
}

// Int appends an integer literal of the given width.
func (b *Builder) Int(basic BasicValueType, v int64) Value {
	return b.append(&Const{valueNode: b.node(Primitive(basic)), Basic: basic, Raw: uint64(v)})
}

// Int32C appends an Int32 literal.
func (b *Builder) Int32C(v int32) Value { return b.Int(Int32, int64(v)) }

// Int64C appends an Int64 literal.
func (b *Builder) Int64C(v int64) Value { return b.Int(Int64, v) }

// Float32C appends a Float32 literal.
func (b *Builder) Float32C(v float32) Value {
	return b.append(&Const{
		valueNode: b.node(Primitive(Float32)),
		Basic:     Float32,
		Raw:       uint64(math.Float32bits(v)),
	})
}

// Float64C appends a Float64 literal.
func (b *Builder) Float64C(v float64) Value {
	return b.append(&Const{
		valueNode: b.node(Primitive(Float64)),
		Basic:     Float64,
		Raw:       math.Float64bits(v),
	})
}

// Null appends the typed null value.
func (b *Builder) Null(t Type) Value {
	return b.append(&NullConst{valueNode: b.node(t)})
}

// Str appends a string literal.
func (b *Builder) Str(s string) Value {
	return b.append(&StringConst{valueNode: b.node(Str()), Value: s})
}

// MakeAggregate appends a structure value built from field values.
func (b *Builder) MakeAggregate(t Type, fields ...Value) Value {
	n := len(CompoundFields(t))
	if n != len(fields) {
		panic(fmt.Sprintf("ir: aggregate of %s needs %d fields, got %d", t, n, len(fields)))
	}
	return b.append(&Aggregate{valueNode: b.node(t, fields...)})
}

// MakeUndef appends an undefined value.
func (b *Builder) MakeUndef(t Type) Value {
	return b.append(&Undef{valueNode: b.node(t)})
}

// MakeHandle appends an opaque object handle.
func (b *Builder) MakeHandle(t Type, obj any) Value {
	return b.append(&Handle{valueNode: b.node(t), Object: obj})
}

// AcceleratorType appends an accelerator-type query.
func (b *Builder) AcceleratorType() Value {
	return b.append(&AcceleratorTypeValue{valueNode: b.node(Primitive(Int32))})
}

// === Arithmetic ===

// Binary appends a binary operation typed like its left operand.
func (b *Builder) Binary(op BinaryOpKind, l, r Value) Value {
	return b.append(&BinaryOp{valueNode: b.node(l.Type(), l, r), Op: op})
}

// Unary appends a unary operation.
func (b *Builder) Unary(op UnaryOpKind, v Value) Value {
	return b.append(&UnaryOp{valueNode: b.node(v.Type(), v), Op: op})
}

// CompareOp appends a comparison yielding Int1.
func (b *Builder) CompareOp(op CompareKind, l, r Value) Value {
	return b.append(&Compare{valueNode: b.node(Primitive(Int1), l, r), Op: op})
}

// ConvertTo appends a primitive conversion.
func (b *Builder) ConvertTo(v Value, to BasicValueType) Value {
	return b.append(&Convert{valueNode: b.node(Primitive(to), v)})
}

// CastPointer appends a pointer reinterpretation.
func (b *Builder) CastPointer(v Value, to *PointerType) Value {
	return b.append(&PointerCast{valueNode: b.node(to, v)})
}

// CastAddressSpace appends an address-space cast.
func (b *Builder) CastAddressSpace(v Value, space AddressSpace) Value {
	pt, ok := v.Type().(*PointerType)
	if !ok {
		panic("ir: address-space cast requires a pointer operand")
	}
	return b.append(&AddressSpaceCast{valueNode: b.node(Pointer(pt.Elem, space), v)})
}

// CastView appends a view-element reinterpretation.
func (b *Builder) CastView(v Value, elem Type) Value {
	vt, ok := v.Type().(*ViewType)
	if !ok {
		panic("ir: view cast requires a view operand")
	}
	return b.append(&ViewCast{valueNode: b.node(View(elem, vt.Space), v)})
}

// === Memory ===

// LoadFrom appends a load through a pointer.
func (b *Builder) LoadFrom(addr Value) Value {
	pt, ok := addr.Type().(*PointerType)
	if !ok {
		panic("ir: load requires a pointer operand")
	}
	return b.append(&Load{valueNode: b.node(pt.Elem, addr)})
}

// StoreTo appends a store through a pointer.
func (b *Builder) StoreTo(addr, v Value) Value {
	return b.append(&Store{valueNode: b.node(Void(), addr, v)})
}

// FieldAddrOf appends a field-address calculation.
func (b *Builder) FieldAddrOf(addr Value, field int) Value {
	pt, ok := addr.Type().(*PointerType)
	if !ok {
		panic("ir: field address requires a pointer operand")
	}
	fields := CompoundFields(pt.Elem)
	return b.append(&FieldAddr{
		valueNode: b.node(Pointer(fields[field], pt.Space), addr),
		Field:     field,
	})
}

// ElementAddrOf appends an element-address calculation over a pointer.
func (b *Builder) ElementAddrOf(addr, index Value) Value {
	pt, ok := addr.Type().(*PointerType)
	if !ok {
		panic("ir: element address requires a pointer operand")
	}
	return b.append(&ElementAddr{valueNode: b.node(pt, addr, index)})
}

// GetFieldOf appends a field extraction from a structure value.
func (b *Builder) GetFieldOf(agg Value, field int) Value {
	fields := CompoundFields(agg.Type())
	return b.append(&GetField{valueNode: b.node(fields[field], agg), Field: field})
}

// SetFieldOf appends a field replacement on a structure value.
func (b *Builder) SetFieldOf(agg Value, field int, v Value) Value {
	return b.append(&SetField{valueNode: b.node(agg.Type(), agg, v), Field: field})
}

// AllocaOf appends an allocation of count elements in an address space.
func (b *Builder) AllocaOf(elem Type, space AddressSpace, count int) Value {
	if count < 1 {
		panic("ir: alloca count must be at least 1")
	}
	return b.append(&Alloca{
		valueNode: b.node(Pointer(elem, space)),
		Elem:      elem,
		Space:     space,
		Count:     count,
	})
}

// DynamicSharedAlloca appends a dynamically-sized shared-memory allocation.
func (b *Builder) DynamicSharedAlloca(elem Type) Value {
	return b.append(&Alloca{
		valueNode: b.node(Pointer(elem, SpaceShared)),
		Elem:      elem,
		Space:     SpaceShared,
		Count:     1,
		Dynamic:   true,
	})
}

// DynamicLength appends a dynamic shared-memory length query.
func (b *Builder) DynamicLength(elem Type) Value {
	return b.append(&DynamicMemoryLength{valueNode: b.node(Primitive(Int32)), Elem: elem})
}

// === Views ===

// MakeView appends a view construction from pointer and length.
func (b *Builder) MakeView(ptr, length Value) Value {
	pt, ok := ptr.Type().(*PointerType)
	if !ok {
		panic("ir: view construction requires a pointer operand")
	}
	return b.append(&NewView{valueNode: b.node(View(pt.Elem, pt.Space), ptr, length)})
}

// MakeSubView appends a view narrowing.
func (b *Builder) MakeSubView(view, offset, length Value) Value {
	return b.append(&SubView{valueNode: b.node(view.Type(), view, offset, length)})
}

// LengthOf appends a view-length query.
func (b *Builder) LengthOf(view Value) Value {
	return b.append(&ViewLength{valueNode: b.node(Primitive(Int32), view)})
}

// WriteOutput appends an output-write operation.
func (b *Builder) WriteOutput(target, v Value) Value {
	return b.append(&OutputWrite{valueNode: b.node(Void(), target, v)})
}

// === Thread Queries ===

// GridIndexOf appends a grid-index query.
func (b *Builder) GridIndexOf(d Dimension) Value {
	return b.append(&GridIndex{valueNode: b.node(Primitive(Int32)), Dim: d})
}

// GroupIndexOf appends a group-thread-index query.
func (b *Builder) GroupIndexOf(d Dimension) Value {
	return b.append(&GroupIndex{valueNode: b.node(Primitive(Int32)), Dim: d})
}

// GridDimOf appends a grid-dimension query.
func (b *Builder) GridDimOf(d Dimension) Value {
	return b.append(&GridDim{valueNode: b.node(Primitive(Int32)), Dim: d})
}

// GroupDimOf appends a group-dimension query.
func (b *Builder) GroupDimOf(d Dimension) Value {
	return b.append(&GroupDim{valueNode: b.node(Primitive(Int32)), Dim: d})
}

// WarpSizeOf appends a warp-size query.
func (b *Builder) WarpSizeOf() Value {
	return b.append(&WarpSize{valueNode: b.node(Primitive(Int32))})
}

// LaneIndexOf appends a lane-index query.
func (b *Builder) LaneIndexOf() Value {
	return b.append(&LaneIndex{valueNode: b.node(Primitive(Int32))})
}

// === Synchronization ===

// BarrierOf appends a barrier.
func (b *Builder) BarrierOf(kind BarrierKind) Value {
	return b.append(&Barrier{valueNode: b.node(Void()), Kind: kind})
}

// BroadcastOf appends a broadcast of v from origin.
func (b *Builder) BroadcastOf(kind BroadcastKind, v, origin Value) Value {
	return b.append(&Broadcast{valueNode: b.node(v.Type(), v, origin), Kind: kind})
}

// Shuffle appends a warp shuffle of v by origin.
func (b *Builder) Shuffle(kind ShuffleKind, v, origin Value) Value {
	return b.append(&WarpShuffle{valueNode: b.node(v.Type(), v, origin), Kind: kind})
}

// Assert appends a debug assertion.
func (b *Builder) Assert(cond Value, message string) Value {
	return b.append(&DebugOp{valueNode: b.node(Void(), cond), Kind: DebugAssert, Message: message})
}

// Trace appends a debug trace point.
func (b *Builder) Trace(message string) Value {
	return b.append(&DebugOp{valueNode: b.node(Void()), Kind: DebugTrace, Message: message})
}

// === Calls and Phis ===

// CallMethod appends a call.
func (b *Builder) CallMethod(target *Method, args ...Value) Value {
	if len(args) != len(target.Params) {
		panic(fmt.Sprintf("ir: call to %s with %d args, want %d", target.Name, len(args), len(target.Params)))
	}
	return b.append(&Call{valueNode: b.node(target.Return, args...), Target: target})
}

// NewPhi inserts a phi at the entry of the current block. Incoming edges are
// attached with AddIncoming.
func (b *Builder) NewPhi(t Type) *Phi {
	p := &Phi{valueNode: b.node(t)}
	b.block.Phis = append(b.block.Phis, p)
	return p
}

// === Terminators ===

// Ret terminates the block with a return. v may be nil for void methods.
func (b *Builder) Ret(v Value) Terminator {
	var n valueNode
	if v == nil {
		n = b.node(Void())
	} else {
		n = b.node(Void(), v)
	}
	return b.terminate(&Return{valueNode: n})
}

// Jump terminates the block with an unconditional branch.
func (b *Builder) Jump(target *BasicBlock) Terminator {
	return b.terminate(&Branch{valueNode: b.node(Void()), Target: target})
}

// CondJump terminates the block with a two-way conditional branch.
func (b *Builder) CondJump(cond Value, ifTrue, ifFalse *BasicBlock) Terminator {
	return b.terminate(&IfBranch{
		valueNode: b.node(Void(), cond),
		True:      ifTrue,
		False:     ifFalse,
	})
}

// SwitchJump terminates the block with a multi-way branch.
func (b *Builder) SwitchJump(selector Value, cases []*BasicBlock, def *BasicBlock) Terminator {
	return b.terminate(&SwitchBranch{
		valueNode: b.node(Void(), selector),
		Cases:     cases,
		Default:   def,
	})
}
