package backend

import (
	"sort"

	"golang.org/x/exp/maps"

	"j5.nz/gkc/ir"
)

// === Standard Transformers ===

// threadIntrinsicLowerer builds the IR node replacing a lowered call.
type threadIntrinsicLowerer func(b *ir.Builder, args []ir.Value) ir.Value

// threadIntrinsics maps well-known intrinsic method names to their IR
// nodes. Frontends declare these as body-less methods; lowering turns the
// calls into first-class values every backend understands.
var threadIntrinsics = map[string]threadIntrinsicLowerer{
	"gridIndexX":  func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GridIndexOf(ir.DimX) },
	"gridIndexY":  func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GridIndexOf(ir.DimY) },
	"gridIndexZ":  func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GridIndexOf(ir.DimZ) },
	"groupIndexX": func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GroupIndexOf(ir.DimX) },
	"groupIndexY": func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GroupIndexOf(ir.DimY) },
	"groupIndexZ": func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GroupIndexOf(ir.DimZ) },
	"gridDimX":    func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GridDimOf(ir.DimX) },
	"gridDimY":    func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GridDimOf(ir.DimY) },
	"gridDimZ":    func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GridDimOf(ir.DimZ) },
	"groupDimX":   func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GroupDimOf(ir.DimX) },
	"groupDimY":   func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GroupDimOf(ir.DimY) },
	"groupDimZ":   func(b *ir.Builder, _ []ir.Value) ir.Value { return b.GroupDimOf(ir.DimZ) },
	"warpSize":    func(b *ir.Builder, _ []ir.Value) ir.Value { return b.WarpSizeOf() },
	"laneIndex":   func(b *ir.Builder, _ []ir.Value) ir.Value { return b.LaneIndexOf() },
	"groupBarrier": func(b *ir.Builder, _ []ir.Value) ir.Value {
		return b.BarrierOf(ir.BarrierGroup)
	},
	"warpBarrier": func(b *ir.Builder, _ []ir.Value) ir.Value {
		return b.BarrierOf(ir.BarrierWarp)
	},
}

// Broadcasts and shuffles are deliberately absent from the table: their
// meaning differs per target, so each backend registers them as
// intrinsics. A backend that leaves one unregistered fails intrinsic
// coverage validation.

// ThreadIntrinsicNames lists the method names the pipeline lowers
// structurally, sorted for stable output.
func ThreadIntrinsicNames() []string {
	names := maps.Keys(threadIntrinsics)
	sort.Strings(names)
	return names
}

// LowerThreadIntrinsics rewrites calls to the well-known thread primitives
// into their dedicated IR nodes.
type LowerThreadIntrinsics struct{}

func (*LowerThreadIntrinsics) Name() string { return "lower-thread-intrinsics" }

func (*LowerThreadIntrinsics) Transform(ctx *ir.Context, _ *ir.Method) (bool, error) {
	changed := false
	for _, m := range ctx.Methods() {
		for _, block := range m.Blocks {
			for _, v := range append([]ir.Value{}, block.Values...) {
				call, ok := v.(*ir.Call)
				if !ok || !call.Target.HasFlags(ir.MethodIntrinsic) {
					continue
				}
				lower, known := threadIntrinsics[call.Target.Name]
				if !known {
					continue
				}
				b := ir.NewBuilder(block)
				replacement := lower(b, call.Operands())
				block.MoveValueBefore(replacement, call)
				ir.ReplaceAllUses(m, call, replacement)
				block.RemoveValue(call)
				changed = true
			}
		}
	}
	return changed, nil
}

// IntrinsicResolver warms the provider's method cache for every intrinsic
// call site. Missing mappings are not an error here: coverage is validated
// when the backend context is built, after specialization has settled.
type IntrinsicResolver struct {
	Provider *IntrinsicProvider
}

func (*IntrinsicResolver) Name() string { return "intrinsic-resolver" }

func (r *IntrinsicResolver) Transform(ctx *ir.Context, _ *ir.Method) (bool, error) {
	for _, m := range ctx.Methods() {
		for _, call := range m.Calls() {
			if call.Target.HasFlags(ir.MethodIntrinsic) {
				r.Provider.TryGetMapping(call.Target)
			}
		}
	}
	return false, nil
}

// IntrinsicSpecializer redirects intrinsic calls whose implementation
// substitutes another IR method. The substitute's body may call further
// intrinsics, so the pipeline iterates the specialization passes until
// nothing changes.
type IntrinsicSpecializer struct {
	Provider *IntrinsicProvider
}

func (*IntrinsicSpecializer) Name() string { return "intrinsic-specializer" }

func (s *IntrinsicSpecializer) Transform(ctx *ir.Context, _ *ir.Method) (bool, error) {
	changed := false
	for _, m := range ctx.Methods() {
		for _, call := range m.Calls() {
			if !call.Target.HasFlags(ir.MethodIntrinsic) {
				continue
			}
			impl, ok := s.Provider.TryGetMapping(call.Target)
			if !ok || !impl.IsRedirect() {
				continue
			}
			target := impl.Redirect
			// The redirect target may live in another context; import it
			// next to the kernel on first use.
			if target.Context() != ctx {
				if local, exists := ctx.Method(target.Name); exists {
					target = local
				} else {
					imported, err := ctx.Import(target)
					if err != nil {
						return changed, WrapInternal("importing intrinsic redirect", err)
					}
					target = imported
				}
			}
			call.SetTarget(target)
			changed = true
		}
	}
	return changed, nil
}

// LowerViews rewrites view construction and the remaining
// must-be-eliminated nodes into loads, stores, pointer arithmetic and
// aggregates so that code generators only ever see lowered shapes.
type LowerViews struct {
	BackendType BackendType
}

func (*LowerViews) Name() string { return "lower-views" }

func (t *LowerViews) Transform(ctx *ir.Context, _ *ir.Method) (bool, error) {
	changed := false
	for _, m := range ctx.Methods() {
		for _, block := range m.Blocks {
			for _, v := range append([]ir.Value{}, block.Values...) {
				replacement, handled := t.lower(block, v)
				if !handled {
					continue
				}
				if replacement != nil {
					block.MoveValueBefore(replacement, v)
					ir.ReplaceAllUses(m, v, replacement)
				}
				block.RemoveValue(v)
				changed = true
			}
		}
	}
	return changed, nil
}

func (t *LowerViews) lower(block *ir.BasicBlock, v ir.Value) (ir.Value, bool) {
	b := ir.NewBuilder(block)
	switch o := v.(type) {
	case *ir.NewView:
		agg := b.MakeAggregate(o.Type(), o.Pointer(), o.Length())
		return agg, true

	case *ir.ViewLength:
		length := b.GetFieldOf(o.Source(), 1)
		block.MoveValueBefore(length, v)
		return length, true

	case *ir.SubView:
		ptr := b.GetFieldOf(o.Source(), 0)
		block.MoveValueBefore(ptr, v)
		base := b.ElementAddrOf(ptr, o.Offset())
		block.MoveValueBefore(base, v)
		return b.MakeAggregate(o.Type(), base, o.Length()), true

	case *ir.ViewCast:
		srcView := o.Source().Type().(*ir.ViewType)
		dstView := o.Type().(*ir.ViewType)
		ptr := b.GetFieldOf(o.Source(), 0)
		block.MoveValueBefore(ptr, v)
		cast := b.CastPointer(ptr, ir.Pointer(dstView.Elem, dstView.Space))
		block.MoveValueBefore(cast, v)
		length := b.GetFieldOf(o.Source(), 1)
		block.MoveValueBefore(length, v)
		srcSize := b.Int32C(int32(ir.Primitive(primitiveOf(srcView.Elem)).Basic.Size()))
		block.MoveValueBefore(srcSize, v)
		dstSize := b.Int32C(int32(ir.Primitive(primitiveOf(dstView.Elem)).Basic.Size()))
		block.MoveValueBefore(dstSize, v)
		bytes := b.Binary(ir.OpMul, length, srcSize)
		block.MoveValueBefore(bytes, v)
		newLength := b.Binary(ir.OpDiv, bytes, dstSize)
		block.MoveValueBefore(newLength, v)
		return b.MakeAggregate(o.Type(), cast, newLength), true

	case *ir.OutputWrite:
		store := b.StoreTo(o.Target(), o.Value())
		return store, true

	case *ir.Undef:
		if p, ok := o.Type().(*ir.PrimitiveType); ok {
			return b.Int(p.Basic, 0), true
		}
		return b.Null(o.Type()), true

	case *ir.AcceleratorTypeValue:
		return b.Int32C(int32(t.BackendType)), true
	}
	return nil, false
}

// primitiveOf unwraps a primitive element type; non-primitive view elements
// fall back to byte-sized arithmetic.
func primitiveOf(t ir.Type) ir.BasicValueType {
	if p, ok := t.(*ir.PrimitiveType); ok {
		return p.Basic
	}
	return ir.Int8
}

// EliminateDeadCode removes values without uses or side effects,
// iterating until no removal exposes another.
type EliminateDeadCode struct{}

func (*EliminateDeadCode) Name() string { return "eliminate-dead-code" }

func (*EliminateDeadCode) Transform(ctx *ir.Context, _ *ir.Method) (bool, error) {
	changed := false
	for _, m := range ctx.Methods() {
		for {
			counts := ir.UseCounts(m)
			removed := false
			for _, block := range m.Blocks {
				for _, v := range append([]ir.Value{}, block.Values...) {
					if counts[v.ID()] > 0 || ir.HasSideEffects(v) {
						continue
					}
					block.RemoveValue(v)
					removed = true
				}
			}
			if !removed {
				break
			}
			changed = true
		}
	}
	return changed, nil
}
