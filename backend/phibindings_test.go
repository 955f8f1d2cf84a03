package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/ir"
)

type countingAllocator struct {
	ra        *RegisterAllocator
	processed int
	allocated int
}

func (a *countingAllocator) Process(_ *ir.BasicBlock, phis []*ir.Phi) {
	a.processed++
}

func (a *countingAllocator) Allocate(_ *ir.BasicBlock, phi *ir.Phi) {
	a.allocated++
	a.ra.Allocate(phi)
}

// buildPhiSwap constructs the classic swap cycle: a loop whose header
// holds p1 = phi(entry: 1, latch: p2) and p2 = phi(entry: 2, latch: p1).
func buildPhiSwap(t *testing.T) (*ir.Method, *ir.BasicBlock, *ir.BasicBlock, *ir.Phi, *ir.Phi) {
	t.Helper()
	ctx := ir.NewContext()
	i32 := ir.Primitive(ir.Int32)
	m := ctx.MustCreateMethod("swap", 0, i32)
	n := m.AddParam("n", i32)

	entry := m.NewBlock("entry")
	head := m.NewBlock("head")
	latch := m.NewBlock("latch")
	exit := m.NewBlock("exit")

	b := ir.NewBuilder(entry)
	one := b.Int32C(1)
	two := b.Int32C(2)
	b.Jump(head)

	b.SetBlock(head)
	p1 := b.NewPhi(i32)
	p2 := b.NewPhi(i32)
	cond := b.CompareOp(ir.CmpLt, p1, n)
	b.CondJump(cond, latch, exit)

	b.SetBlock(latch)
	b.Jump(head)

	p1.AddIncoming(entry, one)
	p1.AddIncoming(latch, p2)
	p2.AddIncoming(entry, two)
	p2.AddIncoming(latch, p1)

	b.SetBlock(exit)
	b.Ret(p1)
	return m, entry, latch, p1, p2
}

func TestPhiBindingsSwapCycle(t *testing.T) {
	m, entry, latch, p1, p2 := buildPhiSwap(t)
	alloc := &countingAllocator{ra: NewRegisterAllocator(abi.New(abi.Platform64Bit), testTarget{})}

	pb, err := ComputePhiBindings(m.Blocks, alloc)
	require.NoError(t, err)

	assert.Equal(t, 1, alloc.processed)
	assert.Equal(t, 2, alloc.allocated)

	// One binding per phi per predecessor edge.
	assert.Len(t, pb.Bindings(entry), 2)
	require.Len(t, pb.Bindings(latch), 2)

	// Both phis feed each other across the latch edge, so both need
	// temporaries there.
	inter := pb.IntermediatePhis(latch)
	require.Len(t, inter, 2)
	assert.True(t, pb.IsIntermediate(latch, p1))
	assert.True(t, pb.IsIntermediate(latch, p2))
	assert.Equal(t, 2, pb.MaxNumIntermediatePhis())

	// The entry edge carries plain constants: no temporaries.
	assert.Empty(t, pb.IntermediatePhis(entry))
	assert.False(t, pb.IsIntermediate(entry, p1))
}

func TestPhiSwapMoveSemantics(t *testing.T) {
	m, _, latch, p1, p2 := buildPhiSwap(t)
	alloc := &countingAllocator{ra: NewRegisterAllocator(abi.New(abi.Platform64Bit), testTarget{})}
	pb, err := ComputePhiBindings(m.Blocks, alloc)
	require.NoError(t, err)

	// Interpret the move schedule over a register file: copy every
	// intermediate phi to a temporary first, then apply the bindings,
	// reading temporaries for intermediate sources.
	state := map[ir.ValueID]int{p1.ID(): 10, p2.ID(): 20}
	temps := map[ir.ValueID]int{}
	for _, phi := range pb.IntermediatePhis(latch) {
		temps[phi.ID()] = state[phi.ID()]
	}
	read := func(v ir.Value) int {
		if tmp, ok := temps[v.ID()]; ok {
			return tmp
		}
		return state[v.ID()]
	}
	for _, bind := range pb.Bindings(latch) {
		state[bind.Phi.ID()] = read(bind.Value)
	}

	// After the loop edge, the phis have swapped.
	assert.Equal(t, 20, state[p1.ID()])
	assert.Equal(t, 10, state[p2.ID()])
}

func TestPhiBindingsAcyclicCopyFlagsOnlyReadPhi(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ir.Primitive(ir.Int32)
	m := ctx.MustCreateMethod("chain", 0, ir.Void())

	entry := m.NewBlock("entry")
	head := m.NewBlock("head")

	b := ir.NewBuilder(entry)
	x := b.Int32C(7)
	b.Jump(head)

	// p2 reads p1, but p1 never reads a phi of the same block along the
	// entry edge, so only p1 is flagged where it is actually consumed.
	b.SetBlock(head)
	p1 := b.NewPhi(i32)
	p2 := b.NewPhi(i32)
	b.Ret(nil)

	p1.AddIncoming(entry, x)
	p2.AddIncoming(entry, p1)

	pb, err := ComputePhiBindings(m.Blocks, countingNop{})
	require.NoError(t, err)
	require.Len(t, pb.Bindings(entry), 2)
	assert.True(t, pb.IsIntermediate(entry, p1))
	assert.False(t, pb.IsIntermediate(entry, p2))
	assert.Equal(t, 1, pb.MaxNumIntermediatePhis())
}

type countingNop struct{}

func (countingNop) Process(*ir.BasicBlock, []*ir.Phi) {}
func (countingNop) Allocate(*ir.BasicBlock, *ir.Phi) {}

func TestPhiArityMismatchFails(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ir.Primitive(ir.Int32)
	m := ctx.MustCreateMethod("broken", 0, ir.Void())
	entry := m.NewBlock("entry")
	head := m.NewBlock("head")

	b := ir.NewBuilder(entry)
	x := b.Int32C(1)
	b.Jump(head)

	b.SetBlock(head)
	p := b.NewPhi(i32)
	b.Ret(nil)
	p.AddIncoming(entry, x)
	p.Incoming = append(p.Incoming, entry) // edge without a value

	_, err := ComputePhiBindings(m.Blocks, countingNop{})
	assert.Error(t, err)
}
