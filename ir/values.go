package ir

import (
	"fmt"
	"math"
)

// === SSA Values ===

// ValueID uniquely identifies a value within its context.
type ValueID int64

// Value is the interface implemented by every IR node. Code generators
// dispatch over the concrete node type; transformers rewrite graphs through
// Operands and ReplaceOperand.
type Value interface {
	ID() ValueID
	Type() Type
	Block() *BasicBlock
	Operands() []Value
	ReplaceOperand(i int, v Value)
}

// valueNode is the common header embedded by every concrete node. Operand
// order is node-specific and documented per node.
type valueNode struct {
	id    ValueID
	typ   Type
	block *BasicBlock
	ops   []Value
}

func (n *valueNode) ID() ValueID        { return n.id }
func (n *valueNode) Type() Type         { return n.typ }
func (n *valueNode) Block() *BasicBlock { return n.block }
func (n *valueNode) Operands() []Value  { return n.ops }

func (n *valueNode) ReplaceOperand(i int, v Value) {
	n.ops[i] = v
}

// === Parameters and Literals ===

// SharedAnnotation marks a kernel parameter as a shared-memory variable.
// Count < 0 means dynamically sized.
type SharedAnnotation struct {
	Element Type
	Count   int64
}

// Dynamic reports whether the annotated variable has no static size.
func (s *SharedAnnotation) Dynamic() bool { return s.Count < 0 }

// Param is a method parameter. Index 0 of a kernel method is its index-space
// parameter.
type Param struct {
	valueNode
	Index  int
	Name   string
	Shared *SharedAnnotation
}

// Const is a primitive literal. Raw holds the bit pattern; floats are stored
// via math.Float64bits / Float32bits.
type Const struct {
	valueNode
	Basic BasicValueType
	Raw   uint64
}

// Int64Value returns the literal as a signed integer.
func (c *Const) Int64Value() int64 { return int64(c.Raw) }

// Float64Value returns the literal as a float. Valid for float basic types.
func (c *Const) Float64Value() float64 {
	if c.Basic == Float32 || c.Basic == Float16 {
		return float64(math.Float32frombits(uint32(c.Raw)))
	}
	return math.Float64frombits(c.Raw)
}

// NullConst is the typed null value of a pointer, view or structure type.
type NullConst struct {
	valueNode
}

// StringConst is a string literal.
type StringConst struct {
	valueNode
	Value string
}

// Aggregate builds a structure value from per-field values (operands, in
// field order).
type Aggregate struct {
	valueNode
}

// Undef is an undefined value. Must be eliminated before code generation.
type Undef struct {
	valueNode
}

// Handle wraps an opaque managed object. Must be eliminated before code
// generation.
type Handle struct {
	valueNode
	Object any
}

// AcceleratorTypeValue yields the runtime accelerator type. Specialized away
// by the transformer pipeline.
type AcceleratorTypeValue struct {
	valueNode
}

// === Arithmetic ===

// BinaryOpKind enumerates binary arithmetic operations.
type BinaryOpKind int

const (
	OpAdd BinaryOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpMin
	OpMax
)

func (k BinaryOpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpRem:
		return "rem"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpXor:
		return "xor"
	case OpShl:
		return "shl"
	case OpShr:
		return "shr"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	}
	return fmt.Sprintf("binop_%d", int(k))
}

// BinaryOp applies a binary operation. Operands: [left, right].
type BinaryOp struct {
	valueNode
	Op BinaryOpKind
}

func (b *BinaryOp) Left() Value  { return b.ops[0] }
func (b *BinaryOp) Right() Value { return b.ops[1] }

// UnaryOpKind enumerates unary arithmetic operations.
type UnaryOpKind int

const (
	OpNeg UnaryOpKind = iota
	OpNot
	OpAbs
)

func (k UnaryOpKind) String() string {
	switch k {
	case OpNeg:
		return "neg"
	case OpNot:
		return "not"
	case OpAbs:
		return "abs"
	}
	return fmt.Sprintf("unop_%d", int(k))
}

// UnaryOp applies a unary operation. Operands: [operand].
type UnaryOp struct {
	valueNode
	Op UnaryOpKind
}

func (u *UnaryOp) Operand() Value { return u.ops[0] }

// CompareKind enumerates comparison predicates.
type CompareKind int

const (
	CmpEq CompareKind = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

func (k CompareKind) String() string {
	switch k {
	case CmpEq:
		return "eq"
	case CmpNe:
		return "ne"
	case CmpLt:
		return "lt"
	case CmpLe:
		return "le"
	case CmpGt:
		return "gt"
	case CmpGe:
		return "ge"
	}
	return fmt.Sprintf("cmp_%d", int(k))
}

// Compare yields an Int1 from comparing two values. Operands: [left, right].
type Compare struct {
	valueNode
	Op CompareKind
}

func (c *Compare) Left() Value  { return c.ops[0] }
func (c *Compare) Right() Value { return c.ops[1] }

// === Conversions and Casts ===

// Convert converts a primitive value to the node's type. Operands: [source].
type Convert struct {
	valueNode
}

func (c *Convert) Source() Value { return c.ops[0] }

// PointerCast reinterprets a pointer as the node's pointer type.
// Operands: [source].
type PointerCast struct {
	valueNode
}

func (c *PointerCast) Source() Value { return c.ops[0] }

// AddressSpaceCast moves a pointer between address spaces.
// Operands: [source].
type AddressSpaceCast struct {
	valueNode
}

func (c *AddressSpaceCast) Source() Value { return c.ops[0] }

// ViewCast reinterprets a view's element type. Must be eliminated before
// code generation. Operands: [source].
type ViewCast struct {
	valueNode
}

func (c *ViewCast) Source() Value { return c.ops[0] }

// === Memory ===

// Load reads from an address. Operands: [address].
type Load struct {
	valueNode
}

func (l *Load) Address() Value { return l.ops[0] }

// Store writes a value to an address. Operands: [address, value].
type Store struct {
	valueNode
}

func (s *Store) Address() Value { return s.ops[0] }
func (s *Store) Value() Value   { return s.ops[1] }

// FieldAddr computes the address of a structure field.
// Operands: [source address].
type FieldAddr struct {
	valueNode
	Field int
}

func (f *FieldAddr) Source() Value { return f.ops[0] }

// ElementAddr computes the address of an array/view element.
// Operands: [source address, index].
type ElementAddr struct {
	valueNode
}

func (e *ElementAddr) Source() Value { return e.ops[0] }
func (e *ElementAddr) Index() Value  { return e.ops[1] }

// GetField extracts a field from a structure value. Operands: [aggregate].
type GetField struct {
	valueNode
	Field int
}

func (g *GetField) Aggregate() Value { return g.ops[0] }

// SetField produces a copy of a structure value with one field replaced.
// Operands: [aggregate, value].
type SetField struct {
	valueNode
	Field int
}

func (s *SetField) Aggregate() Value { return s.ops[0] }
func (s *SetField) Value() Value     { return s.ops[1] }

// Alloca allocates storage in an address space and yields its address.
// Count is the element count (1 for scalars); Dynamic marks a
// dynamically-sized shared allocation whose extent is a launch parameter.
type Alloca struct {
	valueNode
	Elem    Type
	Space   AddressSpace
	Count   int
	Dynamic bool
}

// DynamicMemoryLength yields the launch-time length of the dynamically-sized
// shared-memory region, in elements of Elem.
type DynamicMemoryLength struct {
	valueNode
	Elem Type
}

// === Views ===
// View construction nodes must be lowered by the transformer pipeline;
// reaching a code generator with any of them is invalid code generation.

// NewView builds a view from a pointer and a length.
// Operands: [pointer, length].
type NewView struct {
	valueNode
}

func (v *NewView) Pointer() Value { return v.ops[0] }
func (v *NewView) Length() Value  { return v.ops[1] }

// SubView narrows a view. Operands: [view, offset, length].
type SubView struct {
	valueNode
}

func (v *SubView) Source() Value { return v.ops[0] }
func (v *SubView) Offset() Value { return v.ops[1] }
func (v *SubView) Length() Value { return v.ops[2] }

// ViewLength yields the length of a view. Operands: [view].
type ViewLength struct {
	valueNode
}

func (v *ViewLength) Source() Value { return v.ops[0] }

// OutputWrite writes a value to an output view slot. Lowered to a plain
// store by the pipeline. Operands: [target, value].
type OutputWrite struct {
	valueNode
}

func (o *OutputWrite) Target() Value { return o.ops[0] }
func (o *OutputWrite) Value() Value  { return o.ops[1] }

// === Thread and Grid Queries ===

// Dimension selects an axis of the 3-D launch configuration.
type Dimension int

const (
	DimX Dimension = iota
	DimY
	DimZ
)

func (d Dimension) String() string {
	switch d {
	case DimX:
		return "x"
	case DimY:
		return "y"
	case DimZ:
		return "z"
	}
	return fmt.Sprintf("dim_%d", int(d))
}

// GridIndex yields the grid (block) index along a dimension.
type GridIndex struct {
	valueNode
	Dim Dimension
}

// GroupIndex yields the thread index within its group along a dimension.
type GroupIndex struct {
	valueNode
	Dim Dimension
}

// GridDim yields the number of groups along a dimension.
type GridDim struct {
	valueNode
	Dim Dimension
}

// GroupDim yields the group size along a dimension.
type GroupDim struct {
	valueNode
	Dim Dimension
}

// WarpSize yields the hardware warp width.
type WarpSize struct {
	valueNode
}

// LaneIndex yields the lane index of the executing thread within its warp.
type LaneIndex struct {
	valueNode
}

// === Synchronization and Communication ===

// BarrierKind selects the scope of a barrier.
type BarrierKind int

const (
	BarrierGroup BarrierKind = iota
	BarrierWarp
)

// Barrier synchronizes threads at group or warp scope.
type Barrier struct {
	valueNode
	Kind BarrierKind
}

// BroadcastKind selects the scope of a broadcast.
type BroadcastKind int

const (
	BroadcastGroup BroadcastKind = iota
	BroadcastWarp
)

// Broadcast distributes a value from an origin thread to all threads in
// scope. Operands: [value, origin].
type Broadcast struct {
	valueNode
	Kind BroadcastKind
}

func (b *Broadcast) Variable() Value { return b.ops[0] }
func (b *Broadcast) Origin() Value   { return b.ops[1] }

// ShuffleKind enumerates warp-shuffle variants.
type ShuffleKind int

const (
	ShuffleGeneric ShuffleKind = iota
	ShuffleUp
	ShuffleDown
	ShuffleXor
)

func (k ShuffleKind) String() string {
	switch k {
	case ShuffleUp:
		return "up"
	case ShuffleDown:
		return "down"
	case ShuffleXor:
		return "xor"
	}
	return "idx"
}

// WarpShuffle exchanges a value across warp lanes. Operands: [variable,
// origin].
type WarpShuffle struct {
	valueNode
	Kind ShuffleKind
}

func (w *WarpShuffle) Variable() Value { return w.ops[0] }
func (w *WarpShuffle) Origin() Value   { return w.ops[1] }

// === Debug ===

// DebugKind enumerates debug operations.
type DebugKind int

const (
	DebugAssert DebugKind = iota
	DebugTrace
)

// DebugOp is an assertion or trace point. Operands: [condition] for asserts,
// empty for traces.
type DebugOp struct {
	valueNode
	Kind    DebugKind
	Message string
}

// === Calls and Phis ===

// Call invokes another method. Operands are the arguments in parameter
// order.
type Call struct {
	valueNode
	Target *Method
}

// SetTarget redirects the call to another method (intrinsic
// specialization).
func (c *Call) SetTarget(m *Method) { c.Target = m }

// Phi selects among predecessor values by the edge taken. Operand i is the
// value arriving from Incoming[i]; the two slices are parallel and their
// length is the phi's arity.
type Phi struct {
	valueNode
	Incoming []*BasicBlock
}

// Arity returns the number of predecessor edges the phi merges.
func (p *Phi) Arity() int { return len(p.Incoming) }

// AddIncoming appends a (predecessor, value) pair.
func (p *Phi) AddIncoming(pred *BasicBlock, v Value) {
	p.Incoming = append(p.Incoming, pred)
	p.ops = append(p.ops, v)
}

// === Terminators ===

// Terminator is a value that ends a basic block.
type Terminator interface {
	Value
	Successors() []*BasicBlock
}

// Return leaves the method. Operands: [result] or empty for void.
type Return struct {
	valueNode
}

func (r *Return) Result() Value {
	if len(r.ops) == 0 {
		return nil
	}
	return r.ops[0]
}

func (*Return) Successors() []*BasicBlock { return nil }

// Branch transfers control unconditionally.
type Branch struct {
	valueNode
	Target *BasicBlock
}

func (b *Branch) Successors() []*BasicBlock { return []*BasicBlock{b.Target} }

// IfBranch transfers control on an Int1 condition. Operands: [condition].
type IfBranch struct {
	valueNode
	True  *BasicBlock
	False *BasicBlock
}

func (b *IfBranch) Condition() Value { return b.ops[0] }

func (b *IfBranch) Successors() []*BasicBlock {
	return []*BasicBlock{b.True, b.False}
}

// SwitchBranch transfers control by an integer selector; out-of-range
// selectors take the default edge. Operands: [selector].
type SwitchBranch struct {
	valueNode
	Cases   []*BasicBlock
	Default *BasicBlock
}

func (b *SwitchBranch) Selector() Value { return b.ops[0] }

func (b *SwitchBranch) Successors() []*BasicBlock {
	succ := make([]*BasicBlock, 0, len(b.Cases)+1)
	succ = append(succ, b.Cases...)
	succ = append(succ, b.Default)
	return succ
}

// HasSideEffects reports whether a value must be preserved regardless of
// uses. Terminators, memory writes, barriers, communication primitives,
// calls and debug operations are effectful.
func HasSideEffects(v Value) bool {
	switch v.(type) {
	case Terminator, *Store, *Barrier, *Broadcast, *WarpShuffle,
		*Call, *DebugOp, *OutputWrite, *Alloca:
		return true
	}
	return false
}
