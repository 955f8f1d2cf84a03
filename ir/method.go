package ir

import "fmt"

// === Methods and Basic Blocks ===

// MethodFlags carries method-level markers.
type MethodFlags uint32

const (
	// MethodIntrinsic marks a method with no body whose meaning is supplied
	// by a backend-specific implementation.
	MethodIntrinsic MethodFlags = 1 << iota
)

// Method is a function in SSA form: parameters, a return type and an
// ordered collection of basic blocks. Intrinsic methods have no blocks.
type Method struct {
	ctx    *Context
	id     int
	Name   string
	Flags  MethodFlags
	Params []*Param
	Return Type
	Blocks []*BasicBlock

	blockIDs int
}

// Context returns the owning IR context.
func (m *Method) Context() *Context { return m.ctx }

// HasFlags reports whether all given flags are set.
func (m *Method) HasFlags(f MethodFlags) bool { return m.Flags&f == f }

// EntryBlock returns the first block, or nil for intrinsic methods.
func (m *Method) EntryBlock() *BasicBlock {
	if len(m.Blocks) == 0 {
		return nil
	}
	return m.Blocks[0]
}

// AddParam appends a parameter.
func (m *Method) AddParam(name string, typ Type) *Param {
	p := &Param{
		valueNode: valueNode{id: m.ctx.nextID(), typ: typ},
		Index:     len(m.Params),
		Name:      name,
	}
	m.Params = append(m.Params, p)
	return p
}

// AddSharedParam appends a parameter annotated as a shared-memory variable.
// count < 0 declares a dynamically-sized variable.
func (m *Method) AddSharedParam(name string, typ Type, elem Type, count int64) *Param {
	p := m.AddParam(name, typ)
	p.Shared = &SharedAnnotation{Element: elem, Count: count}
	return p
}

// NewBlock appends a fresh basic block.
func (m *Method) NewBlock(name string) *BasicBlock {
	b := &BasicBlock{method: m, id: m.blockIDs, Name: name}
	m.blockIDs++
	m.Blocks = append(m.Blocks, b)
	return b
}

// Calls enumerates the method-call values in block order.
func (m *Method) Calls() []*Call {
	var calls []*Call
	for _, b := range m.Blocks {
		for _, v := range b.Values {
			if c, ok := v.(*Call); ok {
				calls = append(calls, c)
			}
		}
	}
	return calls
}

// Walk visits every value in block order: phis first, then body values, then
// the terminator. Returning false stops the walk.
func (m *Method) Walk(fn func(Value) bool) {
	for _, b := range m.Blocks {
		for _, p := range b.Phis {
			if !fn(p) {
				return
			}
		}
		for _, v := range b.Values {
			if !fn(v) {
				return
			}
		}
		if b.Terminator != nil {
			if !fn(b.Terminator) {
				return
			}
		}
	}
}

func (m *Method) String() string {
	return fmt.Sprintf("%s/%d", m.Name, m.id)
}

// BasicBlock is an ordered sequence of values terminated by a branch.
// Phis live at block entry, before all body values.
type BasicBlock struct {
	method *Method
	id     int
	Name   string

	Phis       []*Phi
	Values     []Value
	Terminator Terminator
}

// Method returns the owning method.
func (b *BasicBlock) Method() *Method { return b.method }

// Index returns the block's position-independent identifier within its
// method.
func (b *BasicBlock) Index() int { return b.id }

// Successors returns the terminator's successor blocks.
func (b *BasicBlock) Successors() []*BasicBlock {
	if b.Terminator == nil {
		return nil
	}
	return b.Terminator.Successors()
}

func (b *BasicBlock) String() string {
	if b.Name != "" {
		return fmt.Sprintf("%s.%d", b.Name, b.id)
	}
	return fmt.Sprintf("bb%d", b.id)
}
