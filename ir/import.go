package ir

import "fmt"

// === Import ===

// Import deep-copies a method and every method transitively reachable from
// it via call edges into this context. The clone preserves block order,
// value order and all operand edges; method and value identifiers are
// reissued by the destination context. Returns the clone of the root
// method.
func (c *Context) Import(root *Method) (*Method, error) {
	// Mark-and-collect reachability over call edges, root first. Discovery
	// order is the clone declaration order.
	reachable := []*Method{root}
	seen := map[*Method]bool{root: true}
	for i := 0; i < len(reachable); i++ {
		for _, call := range reachable[i].Calls() {
			if !seen[call.Target] {
				seen[call.Target] = true
				reachable = append(reachable, call.Target)
			}
		}
	}

	methodMap := make(map[*Method]*Method, len(reachable))
	valueMap := make(map[Value]Value)
	blockMap := make(map[*BasicBlock]*BasicBlock)

	// Pass 1: declare clones, clone parameters, allocate value shells.
	for _, src := range reachable {
		dst, err := c.CreateMethod(src.Name, src.Flags, src.Return)
		if err != nil {
			return nil, fmt.Errorf("importing %s: %w", src.Name, err)
		}
		methodMap[src] = dst
		for _, p := range src.Params {
			np := dst.AddParam(p.Name, p.Type())
			if p.Shared != nil {
				shared := *p.Shared
				np.Shared = &shared
			}
			valueMap[p] = np
		}
		for _, b := range src.Blocks {
			nb := dst.NewBlock(b.Name)
			blockMap[b] = nb
			for _, phi := range b.Phis {
				np := &Phi{valueNode: c.shell(phi, nb)}
				nb.Phis = append(nb.Phis, np)
				valueMap[phi] = np
			}
			for _, v := range b.Values {
				nv := cloneShell(c, v, nb)
				nb.Values = append(nb.Values, nv)
				valueMap[v] = nv
			}
			if b.Terminator != nil {
				nt := cloneShell(c, b.Terminator, nb).(Terminator)
				nb.Terminator = nt
				valueMap[b.Terminator] = nt
			}
		}
	}

	// Pass 2: wire operands, phi edges, branch targets and call targets.
	for old, nv := range valueMap {
		for i, op := range old.Operands() {
			mapped, ok := valueMap[op]
			if !ok {
				return nil, fmt.Errorf("import: operand %d of value %d escapes the imported graph", i, old.ID())
			}
			nv.ReplaceOperand(i, mapped)
		}
		switch o := old.(type) {
		case *Phi:
			np := nv.(*Phi)
			np.Incoming = make([]*BasicBlock, len(o.Incoming))
			for i, pred := range o.Incoming {
				np.Incoming[i] = blockMap[pred]
			}
		case *Call:
			nv.(*Call).Target = methodMap[o.Target]
		case *Branch:
			nv.(*Branch).Target = blockMap[o.Target]
		case *IfBranch:
			nb := nv.(*IfBranch)
			nb.True = blockMap[o.True]
			nb.False = blockMap[o.False]
		case *SwitchBranch:
			nb := nv.(*SwitchBranch)
			nb.Cases = make([]*BasicBlock, len(o.Cases))
			for i, cs := range o.Cases {
				nb.Cases[i] = blockMap[cs]
			}
			nb.Default = blockMap[o.Default]
		}
	}

	return methodMap[root], nil
}

// shell builds a fresh value header in the destination context mirroring
// src's type and operand arity.
func (c *Context) shell(src Value, block *BasicBlock) valueNode {
	return valueNode{
		id:    c.nextID(),
		typ:   src.Type(),
		block: block,
		ops:   make([]Value, len(src.Operands())),
	}
}

// cloneShell copies a value's node-specific payload but leaves operands and
// graph references unresolved.
func cloneShell(c *Context, v Value, block *BasicBlock) Value {
	n := c.shell(v, block)
	switch o := v.(type) {
	case *Const:
		return &Const{valueNode: n, Basic: o.Basic, Raw: o.Raw}
	case *NullConst:
		return &NullConst{valueNode: n}
	case *StringConst:
		return &StringConst{valueNode: n, Value: o.Value}
	case *Aggregate:
		return &Aggregate{valueNode: n}
	case *Undef:
		return &Undef{valueNode: n}
	case *Handle:
		return &Handle{valueNode: n, Object: o.Object}
	case *AcceleratorTypeValue:
		return &AcceleratorTypeValue{valueNode: n}
	case *BinaryOp:
		return &BinaryOp{valueNode: n, Op: o.Op}
	case *UnaryOp:
		return &UnaryOp{valueNode: n, Op: o.Op}
	case *Compare:
		return &Compare{valueNode: n, Op: o.Op}
	case *Convert:
		return &Convert{valueNode: n}
	case *PointerCast:
		return &PointerCast{valueNode: n}
	case *AddressSpaceCast:
		return &AddressSpaceCast{valueNode: n}
	case *ViewCast:
		return &ViewCast{valueNode: n}
	case *Load:
		return &Load{valueNode: n}
	case *Store:
		return &Store{valueNode: n}
	case *FieldAddr:
		return &FieldAddr{valueNode: n, Field: o.Field}
	case *ElementAddr:
		return &ElementAddr{valueNode: n}
	case *GetField:
		return &GetField{valueNode: n, Field: o.Field}
	case *SetField:
		return &SetField{valueNode: n, Field: o.Field}
	case *Alloca:
		return &Alloca{valueNode: n, Elem: o.Elem, Space: o.Space, Count: o.Count, Dynamic: o.Dynamic}
	case *DynamicMemoryLength:
		return &DynamicMemoryLength{valueNode: n, Elem: o.Elem}
	case *NewView:
		return &NewView{valueNode: n}
	case *SubView:
		return &SubView{valueNode: n}
	case *ViewLength:
		return &ViewLength{valueNode: n}
	case *OutputWrite:
		return &OutputWrite{valueNode: n}
	case *GridIndex:
		return &GridIndex{valueNode: n, Dim: o.Dim}
	case *GroupIndex:
		return &GroupIndex{valueNode: n, Dim: o.Dim}
	case *GridDim:
		return &GridDim{valueNode: n, Dim: o.Dim}
	case *GroupDim:
		return &GroupDim{valueNode: n, Dim: o.Dim}
	case *WarpSize:
		return &WarpSize{valueNode: n}
	case *LaneIndex:
		return &LaneIndex{valueNode: n}
	case *Barrier:
		return &Barrier{valueNode: n, Kind: o.Kind}
	case *Broadcast:
		return &Broadcast{valueNode: n, Kind: o.Kind}
	case *WarpShuffle:
		return &WarpShuffle{valueNode: n, Kind: o.Kind}
	case *DebugOp:
		return &DebugOp{valueNode: n, Kind: o.Kind, Message: o.Message}
	case *Call:
		return &Call{valueNode: n, Target: o.Target}
	case *Return:
		return &Return{valueNode: n}
	case *Branch:
		return &Branch{valueNode: n, Target: o.Target}
	case *IfBranch:
		return &IfBranch{valueNode: n, True: o.True, False: o.False}
	case *SwitchBranch:
		return &SwitchBranch{valueNode: n, Cases: o.Cases, Default: o.Default}
	default:
		panic(fmt.Sprintf("ir: cannot clone value of type %T", v))
	}
}
