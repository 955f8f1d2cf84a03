package main

import (
	"j5.nz/gkc/ir"
)

// buildDemoContext constructs the demo kernels in a fresh main context.
func buildDemoContext() (*ir.Context, error) {
	ctx := ir.NewContext()
	if err := buildAddKernel(ctx); err != nil {
		return nil, err
	}
	if err := buildReduceKernel(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// buildAddKernel constructs the element-wise addition kernel
// add(i: Index1D, a: *f32, b: *f32, c: *f32) { c[i] = a[i] + b[i] }.
func buildAddKernel(ctx *ir.Context) error {
	f32 := ir.Primitive(ir.Float32)
	ptr := ir.Pointer(f32, ir.SpaceGlobal)

	m, err := ctx.CreateMethod("add", 0, ir.Void())
	if err != nil {
		return err
	}
	idx := m.AddParam("i", ir.IndexType(ir.Index1D))
	a := m.AddParam("a", ptr)
	bp := m.AddParam("b", ptr)
	c := m.AddParam("c", ptr)

	entry := m.NewBlock("entry")
	b := ir.NewBuilder(entry)
	i := b.GetFieldOf(idx, 0)
	va := b.LoadFrom(b.ElementAddrOf(a, i))
	vb := b.LoadFrom(b.ElementAddrOf(bp, i))
	sum := b.Binary(ir.OpAdd, va, vb)
	b.StoreTo(b.ElementAddrOf(c, i), sum)
	b.Ret(nil)
	return nil
}

// buildReduceKernel constructs a grouped tree reduction over a 256-element
// shared scratch buffer:
// reduce(idx: GroupedIndex1D, input: *f32, output: *f32,
//        @shared(256) scratch: view<f32>).
func buildReduceKernel(ctx *ir.Context) error {
	f32 := ir.Primitive(ir.Float32)
	i32 := ir.Primitive(ir.Int32)
	globalPtr := ir.Pointer(f32, ir.SpaceGlobal)
	scratchView := ir.View(f32, ir.SpaceShared)

	m, err := ctx.CreateMethod("reduce", 0, ir.Void())
	if err != nil {
		return err
	}
	idx := m.AddParam("idx", ir.IndexType(ir.GroupedIndex1D))
	input := m.AddParam("input", globalPtr)
	output := m.AddParam("output", globalPtr)
	scratch := m.AddSharedParam("scratch", scratchView, f32, 256)

	entry := m.NewBlock("entry")
	head := m.NewBlock("head")
	reduce := m.NewBlock("reduce")
	fold := m.NewBlock("fold")
	next := m.NewBlock("next")
	exit := m.NewBlock("exit")
	write := m.NewBlock("write")
	done := m.NewBlock("done")

	// entry: stage one element per thread into shared memory
	b := ir.NewBuilder(entry)
	grid := b.GetFieldOf(b.GetFieldOf(idx, 0), 0)
	group := b.GetFieldOf(b.GetFieldOf(idx, 1), 0)
	groupDim := b.GroupDimOf(ir.DimX)
	global := b.Binary(ir.OpAdd, b.Binary(ir.OpMul, grid, groupDim), group)
	v := b.LoadFrom(b.ElementAddrOf(input, global))
	base := b.GetFieldOf(scratch, 0)
	b.StoreTo(b.ElementAddrOf(base, group), v)
	b.BarrierOf(ir.BarrierGroup)
	initStride := b.Int32C(128)
	b.Jump(head)

	// head: stride loop, s = 128, 64, ..., 1
	b.SetBlock(head)
	stride := b.NewPhi(i32)
	cond := b.CompareOp(ir.CmpGt, stride, b.Int32C(0))
	b.CondJump(cond, reduce, exit)

	// reduce: only the low half of the group folds
	b.SetBlock(reduce)
	active := b.CompareOp(ir.CmpLt, group, stride)
	b.CondJump(active, fold, next)

	// fold: scratch[group] += scratch[group + stride]
	b.SetBlock(fold)
	lo := b.LoadFrom(b.ElementAddrOf(base, group))
	hiIdx := b.Binary(ir.OpAdd, group, stride)
	hi := b.LoadFrom(b.ElementAddrOf(base, hiIdx))
	b.StoreTo(b.ElementAddrOf(base, group), b.Binary(ir.OpAdd, lo, hi))
	b.Jump(next)

	// next: barrier, halve the stride
	b.SetBlock(next)
	b.BarrierOf(ir.BarrierGroup)
	half := b.Binary(ir.OpShr, stride, b.Int32C(1))
	b.Jump(head)

	stride.AddIncoming(entry, initStride)
	stride.AddIncoming(next, half)

	// exit: thread 0 writes the group's partial sum
	b.SetBlock(exit)
	isZero := b.CompareOp(ir.CmpEq, group, b.Int32C(0))
	b.CondJump(isZero, write, done)

	b.SetBlock(write)
	total := b.LoadFrom(b.ElementAddrOf(base, b.Int32C(0)))
	b.StoreTo(b.ElementAddrOf(output, grid), total)
	b.Jump(done)

	b.SetBlock(done)
	b.Ret(nil)
	return nil
}
