package backend

import (
	"fmt"

	"j5.nz/gkc/ir"
)

// === Phi Bindings ===

// PhiBindingAllocator lets the code generator observe and allocate phi
// registers while bindings are computed.
type PhiBindingAllocator interface {
	// Process is called once per block before its phis are allocated.
	Process(block *ir.BasicBlock, phis []*ir.Phi)
	// Allocate binds a register to one phi of the block.
	Allocate(block *ir.BasicBlock, phi *ir.Phi)
}

// PhiBinding is one (phi, source value) pair that must be materialized on
// exit of a predecessor block.
type PhiBinding struct {
	Phi   *ir.Phi
	Value ir.Value
}

type phiBlockInfo struct {
	lhsPhis      map[ir.ValueID]*ir.Phi
	intermediate map[ir.ValueID]*ir.Phi
	interOrder   []*ir.Phi
	bindings     []PhiBinding
}

// PhiBindings maps each basic block to the phi moves its exit must emit.
// A phi is intermediate in a block when another binding of the same block
// reads it, which signals a copy cycle or anti-dependency that needs a
// temporary register.
type PhiBindings struct {
	infos           map[*ir.BasicBlock]*phiBlockInfo
	maxIntermediate int
}

// ComputePhiBindings walks the blocks in traversal order, allocates phi
// registers through the allocator, and records per-predecessor bindings.
// Intermediate detection runs only after every binding of a predecessor is
// recorded: a phi forms a copy cycle exactly when it is read by another
// binding of the same block, and that membership test must see the
// complete left-hand-side set, not the prefix appended so far — otherwise
// a symmetric swap (p1 reads p2, p2 reads p1) flags only the second phi.
func ComputePhiBindings(blocks []*ir.BasicBlock, allocator PhiBindingAllocator) (*PhiBindings, error) {
	pb := &PhiBindings{infos: make(map[*ir.BasicBlock]*phiBlockInfo)}

	for _, block := range blocks {
		if len(block.Phis) == 0 {
			continue
		}
		allocator.Process(block, block.Phis)
		for _, phi := range block.Phis {
			allocator.Allocate(block, phi)
		}
		for _, phi := range block.Phis {
			if phi.Arity() != len(phi.Operands()) {
				return nil, fmt.Errorf("phi %d: %d incoming blocks but %d values",
					phi.ID(), phi.Arity(), len(phi.Operands()))
			}
			for i, pred := range phi.Incoming {
				pb.info(pred).append(phi, phi.Operands()[i])
			}
		}
	}

	for _, info := range pb.infos {
		info.flagIntermediates()
		if n := len(info.interOrder); n > pb.maxIntermediate {
			pb.maxIntermediate = n
		}
	}
	return pb, nil
}

func (pb *PhiBindings) info(block *ir.BasicBlock) *phiBlockInfo {
	bi, ok := pb.infos[block]
	if !ok {
		bi = &phiBlockInfo{
			lhsPhis:      make(map[ir.ValueID]*ir.Phi),
			intermediate: make(map[ir.ValueID]*ir.Phi),
		}
		pb.infos[block] = bi
	}
	return bi
}

// append registers the phi as a left-hand side of the block and records
// the binding. Intermediate detection is deferred to flagIntermediates.
func (bi *phiBlockInfo) append(phi *ir.Phi, value ir.Value) {
	bi.lhsPhis[phi.ID()] = phi
	bi.bindings = append(bi.bindings, PhiBinding{Phi: phi, Value: value})
}

// flagIntermediates marks, in binding order, every phi that is both a
// left-hand side of this block and the source of another binding here.
// A binding that merely carries a phi's own value forward creates no
// hazard and does not flag it.
func (bi *phiBlockInfo) flagIntermediates() {
	for _, b := range bi.bindings {
		src, ok := b.Value.(*ir.Phi)
		if !ok || src == b.Phi {
			continue
		}
		if _, isLHS := bi.lhsPhis[src.ID()]; !isLHS {
			continue
		}
		if _, flagged := bi.intermediate[src.ID()]; flagged {
			continue
		}
		bi.intermediate[src.ID()] = src
		bi.interOrder = append(bi.interOrder, src)
	}
}

// Bindings returns the (phi, value) moves block must emit on exit.
func (pb *PhiBindings) Bindings(block *ir.BasicBlock) []PhiBinding {
	if bi, ok := pb.infos[block]; ok {
		return bi.bindings
	}
	return nil
}

// IntermediatePhis returns the phis of block that require a temporary, in
// the order they were flagged.
func (pb *PhiBindings) IntermediatePhis(block *ir.BasicBlock) []*ir.Phi {
	if bi, ok := pb.infos[block]; ok {
		return bi.interOrder
	}
	return nil
}

// IsIntermediate reports whether phi needs a temporary on exit of block.
func (pb *PhiBindings) IsIntermediate(block *ir.BasicBlock, phi *ir.Phi) bool {
	bi, ok := pb.infos[block]
	if !ok {
		return false
	}
	_, is := bi.intermediate[phi.ID()]
	return is
}

// MaxNumIntermediatePhis returns the maximum number of intermediate phis in
// any single block; backends pre-allocate that many temporaries.
func (pb *PhiBindings) MaxNumIntermediatePhis() int { return pb.maxIntermediate }
