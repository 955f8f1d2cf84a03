package ptx

import (
	"fmt"
	"strings"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/backend"
	"j5.nz/gkc/ir"
)

// === Emission Helpers ===

// ins writes one tab-indented instruction line into the body buffer.
func (g *codeGenerator) ins(format string, args ...any) {
	g.body.WriteByte('\t')
	fmt.Fprintf(&g.body, format, args...)
	g.body.WriteByte('\n')
}

func (g *codeGenerator) reg(r *backend.PrimitiveRegister) string {
	return fmt.Sprintf("%s%d", regPrefix(r.Desc.Kind), r.Index)
}

// temp claims a scratch register; release returns it to the allocator's
// free list so the .reg declaration count stays tight.
func (g *codeGenerator) temp(kind backend.RegisterKind, basic ir.BasicValueType) *backend.PrimitiveRegister {
	return g.ra.AllocatePrimitive(backend.RegisterDescription{Basic: basic, Kind: kind})
}

func (g *codeGenerator) release(r *backend.PrimitiveRegister) {
	g.ra.FreeRegister(r)
}

// constText renders a literal as a PTX immediate. Floats use the exact
// bit-pattern forms (0f.../0d...).
func constText(basic ir.BasicValueType, raw uint64) string {
	switch basic {
	case ir.Int1:
		return fmt.Sprint(raw & 1)
	case ir.Float16, ir.Float32:
		return fmt.Sprintf("0f%08X", uint32(raw))
	case ir.Float64:
		return fmt.Sprintf("0d%016X", raw)
	default:
		return fmt.Sprintf("%d", int64(raw))
	}
}

// valueBasic returns the primitive type of an operand; pointers and
// strings arithmetic as the ABI's pointer width.
func (g *codeGenerator) valueBasic(v ir.Value) ir.BasicValueType {
	if p, ok := v.Type().(*ir.PrimitiveType); ok {
		return p.Basic
	}
	return g.abi.PointerArithmeticType()
}

// operand returns the instruction operand for v: its register name, or
// the literal text when v sits in a constant register. Predicate
// constants are materialized since predicate instructions take no
// immediates.
func (g *codeGenerator) operand(v ir.Value) (string, error) {
	reg, err := g.ra.Load(v)
	if err != nil {
		return "", err
	}
	switch r := reg.(type) {
	case *backend.PrimitiveRegister:
		return g.reg(r), nil
	case *backend.ConstantRegister:
		if r.Basic == ir.Int1 {
			prim, err := g.materialize(v)
			if err != nil {
				return "", err
			}
			return g.reg(prim), nil
		}
		return constText(r.Basic, r.Raw), nil
	}
	return "", backend.InvalidCodeGenerationf("value %d is not a primitive operand", v.ID())
}

// materialize returns a primitive register holding v, emitting a mov when
// v sits in a constant register. Constants re-materialize per use site so
// that every mov is dominated by the instruction consuming it.
func (g *codeGenerator) materialize(v ir.Value) (*backend.PrimitiveRegister, error) {
	reg, err := g.ra.Load(v)
	if err != nil {
		return nil, err
	}
	switch r := reg.(type) {
	case *backend.PrimitiveRegister:
		return r, nil
	case *backend.ConstantRegister:
		desc := g.provider.backend.DescribePrimitive(r.Basic)
		prim := g.ra.AllocatePrimitive(desc)
		g.ins("mov%s \t%s, %s;", movSuffix(desc.Kind), g.reg(prim), constText(r.Basic, r.Raw))
		return prim, nil
	}
	return nil, backend.InvalidCodeGenerationf("value %d is not bound to a primitive register", v.ID())
}

// movSuffix picks the mov type for a register class.
func movSuffix(kind backend.RegisterKind) string {
	switch kind {
	case KindPred:
		return ".pred"
	case KindInt16:
		return ".b16"
	case KindInt32:
		return ".b32"
	case KindInt64:
		return ".b64"
	case KindFloat16:
		return ".f16"
	case KindFloat32:
		return ".f32"
	case KindFloat64:
		return ".f64"
	}
	return ".b32"
}

// loadSuffix picks the ld/st type for a primitive.
func loadSuffix(basic ir.BasicValueType, a *abi.ABI) string {
	switch basic {
	case ir.Int1, ir.Int8:
		return ".u8"
	case ir.Int16:
		return ".u16"
	case ir.Int32:
		return ".u32"
	case ir.Int64:
		return ".u64"
	case ir.Float16:
		return ".f16"
	case ir.Float32:
		return ".f32"
	case ir.Float64:
		return ".f64"
	}
	if a.PointerSize() == 4 {
		return ".u32"
	}
	return ".u64"
}

// ptrMov picks the mov type for address registers.
func ptrMov(a *abi.ABI) string {
	if a.PointerSize() == 4 {
		return ".u32"
	}
	return ".u64"
}

// arithSuffix picks the arithmetic type of a primitive.
func arithSuffix(basic ir.BasicValueType) string {
	switch basic {
	case ir.Int8, ir.Int16:
		return ".s16"
	case ir.Int32:
		return ".s32"
	case ir.Int64:
		return ".s64"
	case ir.Float16:
		return ".f16"
	case ir.Float32:
		return ".f32"
	case ir.Float64:
		return ".f64"
	}
	return ".s32"
}

// bitSuffix picks the untyped bit width of a primitive.
func bitSuffix(basic ir.BasicValueType) string {
	switch basic.Size() {
	case 1, 2:
		return ".b16"
	case 4:
		return ".b32"
	default:
		return ".b64"
	}
}

// spaceSuffix picks the state-space qualifier of a pointer.
func spaceSuffix(space ir.AddressSpace) string {
	switch space {
	case ir.SpaceGlobal:
		return ".global"
	case ir.SpaceShared:
		return ".shared"
	case ir.SpaceLocal:
		return ".local"
	}
	return ""
}

// === Value Dispatch ===

// emitValue dispatches over the concrete IR node. Nodes the transformer
// pipeline must have eliminated fail with invalid code generation.
func (g *codeGenerator) emitValue(v ir.Value) error {
	switch o := v.(type) {
	case *ir.Const:
		return g.emitConst(o)
	case *ir.NullConst:
		return g.emitZero(g.ra.Allocate(o), o.Type())
	case *ir.StringConst:
		return g.emitString(o)
	case *ir.Aggregate:
		return g.emitAggregate(o)
	case *ir.BinaryOp:
		return g.emitBinary(o)
	case *ir.UnaryOp:
		return g.emitUnary(o)
	case *ir.Compare:
		return g.emitCompare(o)
	case *ir.Convert:
		return g.emitConvert(o)
	case *ir.PointerCast:
		return g.emitRegisterCopy(o, o.Source())
	case *ir.AddressSpaceCast:
		return g.emitAddressSpaceCast(o)
	case *ir.Load:
		return g.emitLoad(o)
	case *ir.Store:
		return g.emitStore(o)
	case *ir.FieldAddr:
		return g.emitFieldAddr(o)
	case *ir.ElementAddr:
		return g.emitElementAddr(o)
	case *ir.GetField:
		return g.emitGetField(o)
	case *ir.SetField:
		return g.emitSetField(o)
	case *ir.Alloca:
		// Bound during the prologue.
		return nil
	case *ir.DynamicMemoryLength:
		return g.emitDynamicLength(o)
	case *ir.GridIndex:
		return g.emitSpecial(o, "%ctaid."+o.Dim.String())
	case *ir.GroupIndex:
		return g.emitSpecial(o, "%tid."+o.Dim.String())
	case *ir.GridDim:
		return g.emitSpecial(o, "%nctaid."+o.Dim.String())
	case *ir.GroupDim:
		return g.emitSpecial(o, "%ntid."+o.Dim.String())
	case *ir.WarpSize:
		return g.emitSpecial(o, "WARP_SZ")
	case *ir.LaneIndex:
		return g.emitSpecial(o, "%laneid")
	case *ir.Barrier:
		if o.Kind == ir.BarrierWarp {
			g.ins("bar.warp.sync \t0xffffffff;")
		} else {
			g.ins("bar.sync \t0;")
		}
		return nil
	case *ir.Broadcast:
		return g.emitBroadcast(o)
	case *ir.WarpShuffle:
		return g.emitShuffle(o)
	case *ir.DebugOp:
		if o.Kind == ir.DebugAssert {
			g.ins("// assert: %s", o.Message)
		} else {
			g.ins("// trace: %s", o.Message)
		}
		return nil
	case *ir.Call:
		return g.emitCall(o)
	case *ir.ViewCast, *ir.NewView, *ir.SubView, *ir.ViewLength,
		*ir.OutputWrite, *ir.Undef, *ir.Handle, *ir.AcceleratorTypeValue:
		return backend.InvalidCodeGenerationf(
			"%T must be eliminated by the transformer pipeline", v)
	default:
		return backend.InvalidCodeGenerationf("no PTX emitter for %T", v)
	}
}

// === Literals and Moves ===

// emitConst binds the literal to a constant register: no code here.
// Consumers inline it as an immediate or materialize it next to the use.
func (g *codeGenerator) emitConst(c *ir.Const) error {
	g.ra.Bind(c, &backend.ConstantRegister{Basic: c.Basic, Raw: c.Raw})
	return nil
}

func (g *codeGenerator) emitZero(reg backend.Register, t ir.Type) error {
	switch r := reg.(type) {
	case *backend.PrimitiveRegister:
		if r.Desc.Kind == KindPred {
			g.ins("mov.pred \t%s, 0;", g.reg(r))
		} else {
			g.ins("mov%s \t%s, 0;", movSuffix(r.Desc.Kind), g.reg(r))
		}
		return nil
	case *backend.CompoundRegister:
		fields := ir.CompoundFields(t)
		for i, child := range r.Children {
			if err := g.emitZero(child, fields[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return backend.InvalidCodeGenerationf("cannot zero register %T", reg)
}

func (g *codeGenerator) emitString(s *ir.StringConst) error {
	symbol, ok := g.strLits[s.Value]
	if !ok {
		symbol = fmt.Sprintf("str_%s_%d", g.method.Name, g.numStrs)
		g.numStrs++
		g.strLits[s.Value] = symbol
		bytes := make([]string, 0, len(s.Value)+1)
		for i := 0; i < len(s.Value); i++ {
			bytes = append(bytes, fmt.Sprint(s.Value[i]))
		}
		bytes = append(bytes, "0")
		g.constants = append(g.constants, fmt.Sprintf(
			".global .align 1 .b8 %s[%d] = {%s};",
			symbol, len(s.Value)+1, joinComma(bytes)))
	}
	dst := g.ra.Allocate(s).(*backend.PrimitiveRegister)
	g.ins("mov%s \t%s, %s;", ptrMov(g.abi), g.reg(dst), symbol)
	return nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func (g *codeGenerator) emitAggregate(a *ir.Aggregate) error {
	dst := g.ra.Allocate(a).(*backend.CompoundRegister)
	for i, op := range a.Operands() {
		src, err := g.ra.Load(op)
		if err != nil {
			return err
		}
		if err := g.moveRegister(dst.Children[i], src); err != nil {
			return err
		}
	}
	return nil
}

// moveRegister copies register contents, recursing over compounds.
func (g *codeGenerator) moveRegister(dst, src backend.Register) error {
	d, dok := dst.(*backend.PrimitiveRegister)
	s, sok := src.(*backend.PrimitiveRegister)
	if dok && sok {
		g.ins("mov%s \t%s, %s;", movSuffix(d.Desc.Kind), g.reg(d), g.reg(s))
		return nil
	}
	if dok {
		if c, isConst := src.(*backend.ConstantRegister); isConst {
			g.ins("mov%s \t%s, %s;", movSuffix(d.Desc.Kind), g.reg(d), constText(c.Basic, c.Raw))
			return nil
		}
	}
	dc, dok := dst.(*backend.CompoundRegister)
	sc, sok := src.(*backend.CompoundRegister)
	if dok && sok && len(dc.Children) == len(sc.Children) {
		for i := range dc.Children {
			if err := g.moveRegister(dc.Children[i], sc.Children[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return backend.InvalidCodeGenerationf("register shape mismatch in move")
}

// emitRegisterCopy binds v to a fresh register holding a copy of src.
func (g *codeGenerator) emitRegisterCopy(v ir.Value, src ir.Value) error {
	srcReg, err := g.ra.Load(src)
	if err != nil {
		return err
	}
	return g.moveRegister(g.ra.Allocate(v), srcReg)
}

// === Arithmetic ===

func (g *codeGenerator) emitBinary(o *ir.BinaryOp) error {
	dst := g.ra.Allocate(o).(*backend.PrimitiveRegister)
	l, err := g.operand(o.Left())
	if err != nil {
		return err
	}
	r, err := g.operand(o.Right())
	if err != nil {
		return err
	}
	basic := dst.Desc.Basic
	var op string
	switch o.Op {
	case ir.OpAdd:
		op = "add" + arithSuffix(basic)
	case ir.OpSub:
		op = "sub" + arithSuffix(basic)
	case ir.OpMul:
		if basic.IsFloat() {
			op = "mul" + arithSuffix(basic)
		} else {
			op = "mul.lo" + arithSuffix(basic)
		}
	case ir.OpDiv:
		if basic == ir.Float32 || basic == ir.Float16 {
			op = "div.rn.f32"
		} else if basic == ir.Float64 {
			op = "div.rn.f64"
		} else {
			op = "div" + arithSuffix(basic)
		}
	case ir.OpRem:
		if basic.IsFloat() {
			return backend.InvalidCodeGenerationf("floating-point remainder is not supported")
		}
		op = "rem" + arithSuffix(basic)
	case ir.OpAnd:
		if dst.Desc.Kind == KindPred {
			op = "and.pred"
		} else {
			op = "and" + bitSuffix(basic)
		}
	case ir.OpOr:
		if dst.Desc.Kind == KindPred {
			op = "or.pred"
		} else {
			op = "or" + bitSuffix(basic)
		}
	case ir.OpXor:
		if dst.Desc.Kind == KindPred {
			op = "xor.pred"
		} else {
			op = "xor" + bitSuffix(basic)
		}
	case ir.OpShl:
		op = "shl" + bitSuffix(basic)
	case ir.OpShr:
		op = "shr" + arithSuffix(basic)
	case ir.OpMin:
		op = "min" + arithSuffix(basic)
	case ir.OpMax:
		op = "max" + arithSuffix(basic)
	default:
		return backend.InvalidCodeGenerationf("unknown binary op %d", int(o.Op))
	}
	g.ins("%s \t%s, %s, %s;", op, g.reg(dst), l, r)
	return nil
}

func (g *codeGenerator) emitUnary(o *ir.UnaryOp) error {
	dst := g.ra.Allocate(o).(*backend.PrimitiveRegister)
	src, err := g.materialize(o.Operand())
	if err != nil {
		return err
	}
	basic := dst.Desc.Basic
	switch o.Op {
	case ir.OpNeg:
		g.ins("neg%s \t%s, %s;", arithSuffix(basic), g.reg(dst), g.reg(src))
	case ir.OpNot:
		if dst.Desc.Kind == KindPred {
			g.ins("not.pred \t%s, %s;", g.reg(dst), g.reg(src))
		} else {
			g.ins("not%s \t%s, %s;", bitSuffix(basic), g.reg(dst), g.reg(src))
		}
	case ir.OpAbs:
		g.ins("abs%s \t%s, %s;", arithSuffix(basic), g.reg(dst), g.reg(src))
	default:
		return backend.InvalidCodeGenerationf("unknown unary op %d", int(o.Op))
	}
	return nil
}

func (g *codeGenerator) emitCompare(o *ir.Compare) error {
	dst := g.ra.Allocate(o).(*backend.PrimitiveRegister)
	l, err := g.operand(o.Left())
	if err != nil {
		return err
	}
	r, err := g.operand(o.Right())
	if err != nil {
		return err
	}
	g.ins("setp.%s%s \t%s, %s, %s;",
		o.Op, arithSuffix(g.valueBasic(o.Left())), g.reg(dst), l, r)
	return nil
}

func (g *codeGenerator) emitConvert(o *ir.Convert) error {
	dst := g.ra.Allocate(o).(*backend.PrimitiveRegister)
	src, err := g.materialize(o.Source())
	if err != nil {
		return err
	}
	from := src.Desc.Basic
	to := dst.Desc.Basic
	switch {
	case from == to:
		g.ins("mov%s \t%s, %s;", movSuffix(dst.Desc.Kind), g.reg(dst), g.reg(src))
	case src.Desc.Kind == KindPred:
		g.ins("selp%s \t%s, 1, 0, %s;", bitSuffix(to), g.reg(dst), g.reg(src))
	case dst.Desc.Kind == KindPred:
		g.ins("setp.ne%s \t%s, %s, 0;", arithSuffix(from), g.reg(dst), g.reg(src))
	case to.IsFloat() && !from.IsFloat():
		g.ins("cvt.rn%s%s \t%s, %s;", arithSuffix(to), arithSuffix(from), g.reg(dst), g.reg(src))
	case !to.IsFloat() && from.IsFloat():
		g.ins("cvt.rzi%s%s \t%s, %s;", arithSuffix(to), arithSuffix(from), g.reg(dst), g.reg(src))
	case to.IsFloat() && from.IsFloat() && to.Size() < from.Size():
		g.ins("cvt.rn%s%s \t%s, %s;", arithSuffix(to), arithSuffix(from), g.reg(dst), g.reg(src))
	default:
		g.ins("cvt%s%s \t%s, %s;", arithSuffix(to), arithSuffix(from), g.reg(dst), g.reg(src))
	}
	return nil
}

func (g *codeGenerator) emitAddressSpaceCast(o *ir.AddressSpaceCast) error {
	dst := g.ra.Allocate(o).(*backend.PrimitiveRegister)
	src, err := g.ra.LoadPrimitive(o.Source())
	if err != nil {
		return err
	}
	fromSpace := o.Source().Type().(*ir.PointerType).Space
	toSpace := o.Type().(*ir.PointerType).Space
	width := ptrMov(g.abi)
	switch {
	case fromSpace == toSpace:
		g.ins("mov%s \t%s, %s;", width, g.reg(dst), g.reg(src))
	case toSpace == ir.SpaceGeneric:
		g.ins("cvta%s%s \t%s, %s;", spaceSuffix(fromSpace), width, g.reg(dst), g.reg(src))
	case fromSpace == ir.SpaceGeneric:
		g.ins("cvta.to%s%s \t%s, %s;", spaceSuffix(toSpace), width, g.reg(dst), g.reg(src))
	default:
		g.ins("cvta%s%s \t%s, %s;", spaceSuffix(fromSpace), width, g.reg(dst), g.reg(src))
		g.ins("cvta.to%s%s \t%s, %s;", spaceSuffix(toSpace), width, g.reg(dst), g.reg(dst))
	}
	return nil
}

// === Memory ===

func (g *codeGenerator) emitLoad(o *ir.Load) error {
	addr, err := g.ra.LoadPrimitive(o.Address())
	if err != nil {
		return err
	}
	space := spaceSuffix(o.Address().Type().(*ir.PointerType).Space)
	return g.emitLoadInto(g.ra.Allocate(o), o.Type(), addr, 0, space)
}

func (g *codeGenerator) emitLoadInto(reg backend.Register, t ir.Type, addr *backend.PrimitiveRegister, offset int, space string) error {
	switch r := reg.(type) {
	case *backend.PrimitiveRegister:
		if r.Desc.Kind == KindPred {
			tmp := g.temp(KindInt16, ir.Int16)
			g.ins("ld%s.u8 \t%s, [%s+%d];", space, g.reg(tmp), g.reg(addr), offset)
			g.ins("setp.ne.s16 \t%s, %s, 0;", g.reg(r), g.reg(tmp))
			g.release(tmp)
			return nil
		}
		g.ins("ld%s%s \t%s, [%s+%d];", space, loadSuffix(r.Desc.Basic, g.abi), g.reg(r), g.reg(addr), offset)
		return nil
	case *backend.CompoundRegister:
		fields := ir.CompoundFields(t)
		offsets := g.abi.OffsetsOf(t)
		for i, child := range r.Children {
			if err := g.emitLoadInto(child, fields[i], addr, offset+offsets[i], space); err != nil {
				return err
			}
		}
		return nil
	}
	return backend.InvalidCodeGenerationf("cannot load into register %T", reg)
}

func (g *codeGenerator) emitStore(o *ir.Store) error {
	addr, err := g.ra.LoadPrimitive(o.Address())
	if err != nil {
		return err
	}
	src, err := g.ra.Load(o.Value())
	if err != nil {
		return err
	}
	space := spaceSuffix(o.Address().Type().(*ir.PointerType).Space)
	return g.emitStoreFrom(src, o.Value().Type(), addr, 0, space)
}

func (g *codeGenerator) emitStoreFrom(reg backend.Register, t ir.Type, addr *backend.PrimitiveRegister, offset int, space string) error {
	switch r := reg.(type) {
	case *backend.PrimitiveRegister:
		if r.Desc.Kind == KindPred {
			tmp := g.temp(KindInt16, ir.Int16)
			g.ins("selp.b16 \t%s, 1, 0, %s;", g.reg(tmp), g.reg(r))
			g.ins("st%s.u8 \t[%s+%d], %s;", space, g.reg(addr), offset, g.reg(tmp))
			g.release(tmp)
			return nil
		}
		g.ins("st%s%s \t[%s+%d], %s;", space, loadSuffix(r.Desc.Basic, g.abi), g.reg(addr), offset, g.reg(r))
		return nil
	case *backend.ConstantRegister:
		// Stores take register sources: stage the literal next to the st.
		desc := g.provider.backend.DescribePrimitive(r.Basic)
		prim := g.ra.AllocatePrimitive(desc)
		g.ins("mov%s \t%s, %s;", movSuffix(desc.Kind), g.reg(prim), constText(r.Basic, r.Raw))
		err := g.emitStoreFrom(prim, t, addr, offset, space)
		g.release(prim)
		return err
	case *backend.CompoundRegister:
		fields := ir.CompoundFields(t)
		offsets := g.abi.OffsetsOf(t)
		for i, child := range r.Children {
			if err := g.emitStoreFrom(child, fields[i], addr, offset+offsets[i], space); err != nil {
				return err
			}
		}
		return nil
	}
	return backend.InvalidCodeGenerationf("cannot store from register %T", reg)
}

func (g *codeGenerator) emitFieldAddr(o *ir.FieldAddr) error {
	dst := g.ra.Allocate(o).(*backend.PrimitiveRegister)
	src, err := g.ra.LoadPrimitive(o.Source())
	if err != nil {
		return err
	}
	elem := o.Source().Type().(*ir.PointerType).Elem
	offset := g.abi.OffsetOf(elem, o.Field)
	if offset == 0 {
		g.ins("mov%s \t%s, %s;", ptrMov(g.abi), g.reg(dst), g.reg(src))
		return nil
	}
	g.ins("add%s \t%s, %s, %d;", ptrArith(g.abi), g.reg(dst), g.reg(src), offset)
	return nil
}

func (g *codeGenerator) emitElementAddr(o *ir.ElementAddr) error {
	dst := g.ra.Allocate(o).(*backend.PrimitiveRegister)
	src, err := g.ra.LoadPrimitive(o.Source())
	if err != nil {
		return err
	}
	elemSize := g.abi.SizeOf(o.Type().(*ir.PointerType).Elem)

	idxReg, err := g.ra.Load(o.Index())
	if err != nil {
		return err
	}
	if c, isConst := idxReg.(*backend.ConstantRegister); isConst {
		// Constant indices fold into the address immediately.
		if off := int64(c.Raw) * int64(elemSize); off != 0 {
			g.ins("add%s \t%s, %s, %d;", ptrArith(g.abi), g.reg(dst), g.reg(src), off)
		} else {
			g.ins("mov%s \t%s, %s;", ptrMov(g.abi), g.reg(dst), g.reg(src))
		}
		return nil
	}
	idx, ok := idxReg.(*backend.PrimitiveRegister)
	if !ok {
		return backend.InvalidCodeGenerationf("element index %d is not primitive", o.Index().ID())
	}
	if g.abi.PointerSize() == 8 && idx.Desc.Basic == ir.Int32 {
		scaled := g.temp(KindInt64, ir.Int64)
		g.ins("mul.wide.s32 \t%s, %s, %d;", g.reg(scaled), g.reg(idx), elemSize)
		g.ins("add.s64 \t%s, %s, %s;", g.reg(dst), g.reg(src), g.reg(scaled))
		g.release(scaled)
		return nil
	}
	g.ins("mad.lo%s \t%s, %s, %d, %s;", ptrArith(g.abi), g.reg(dst), g.reg(idx), elemSize, g.reg(src))
	return nil
}

func ptrArith(a *abi.ABI) string {
	if a.PointerSize() == 4 {
		return ".s32"
	}
	return ".s64"
}

func (g *codeGenerator) emitGetField(o *ir.GetField) error {
	comp, err := g.ra.LoadCompound(o.Aggregate())
	if err != nil {
		return err
	}
	// Field extraction is free: the value shares the child register.
	g.ra.Bind(o, comp.Children[o.Field])
	return nil
}

func (g *codeGenerator) emitSetField(o *ir.SetField) error {
	src, err := g.ra.LoadCompound(o.Aggregate())
	if err != nil {
		return err
	}
	val, err := g.ra.Load(o.Value())
	if err != nil {
		return err
	}
	dst := g.ra.Allocate(o).(*backend.CompoundRegister)
	for i := range dst.Children {
		if i == o.Field {
			if err := g.moveRegister(dst.Children[i], val); err != nil {
				return err
			}
			continue
		}
		if err := g.moveRegister(dst.Children[i], src.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

func (g *codeGenerator) emitDynamicLength(o *ir.DynamicMemoryLength) error {
	dst := g.ra.Allocate(o).(*backend.PrimitiveRegister)
	g.ins("mov.u32 \t%s, %%dynamic_smem_size;", g.reg(dst))
	if size := g.abi.SizeOf(o.Elem); size > 1 {
		g.ins("div.u32 \t%s, %s, %d;", g.reg(dst), g.reg(dst), size)
	}
	return nil
}

// === Thread Queries and Communication ===

func (g *codeGenerator) emitSpecial(v ir.Value, special string) error {
	dst := g.ra.Allocate(v).(*backend.PrimitiveRegister)
	g.ins("mov.u32 \t%s, %s;", g.reg(dst), special)
	return nil
}

// Emitter rules that need structural emission instead of a plain opcode
// line.
const (
	emitterShuffleIdx     = "shfl.sync.idx.b32"
	emitterGroupBroadcast = "gkc.groupBroadcast"
)

func (g *codeGenerator) emitBroadcast(o *ir.Broadcast) error {
	if o.Kind == ir.BroadcastWarp {
		return g.emitShuffleLike(emitterShuffleIdx, o, o.Variable(), o.Origin())
	}
	return g.emitGroupBroadcast(o, o.Variable(), o.Origin())
}

// emitGroupBroadcast stages the value through a shared slot guarded by two
// barriers.
func (g *codeGenerator) emitGroupBroadcast(v ir.Value, variable, orig ir.Value) error {
	src, err := g.materialize(variable)
	if err != nil {
		return err
	}
	origin, err := g.operand(orig)
	if err != nil {
		return err
	}
	dst := g.ra.Allocate(v).(*backend.PrimitiveRegister)
	slot := fmt.Sprintf("broadcast_%s", g.method.Name)
	if !g.hasConstant(slot) {
		g.constants = append(g.constants,
			fmt.Sprintf(".shared .align 8 .b8 %s[8];", slot))
	}
	pred := g.temp(KindPred, ir.Int1)
	tid := g.temp(KindInt32, ir.Int32)
	addr := g.temp(ptrKind(g.abi), g.abi.PointerArithmeticType())
	g.ins("mov.u32 \t%s, %%tid.x;", g.reg(tid))
	g.ins("setp.eq.s32 \t%s, %s, %s;", g.reg(pred), g.reg(tid), origin)
	g.ins("mov%s \t%s, %s;", ptrMov(g.abi), g.reg(addr), slot)
	g.ins("@%s st.shared%s \t[%s+0], %s;",
		g.reg(pred), loadSuffix(src.Desc.Basic, g.abi), g.reg(addr), g.reg(src))
	g.ins("bar.sync \t0;")
	g.ins("ld.shared%s \t%s, [%s+0];",
		loadSuffix(dst.Desc.Basic, g.abi), g.reg(dst), g.reg(addr))
	g.ins("bar.sync \t0;")
	g.release(pred)
	g.release(tid)
	g.release(addr)
	return nil
}

func ptrKind(a *abi.ABI) backend.RegisterKind {
	if a.PointerSize() == 4 {
		return KindInt32
	}
	return KindInt64
}

func (g *codeGenerator) hasConstant(symbol string) bool {
	for _, c := range g.constants {
		if strings.Contains(c, symbol) {
			return true
		}
	}
	return false
}

func (g *codeGenerator) emitShuffle(o *ir.WarpShuffle) error {
	var mode string
	switch o.Kind {
	case ir.ShuffleUp:
		mode = "shfl.sync.up.b32"
	case ir.ShuffleDown:
		mode = "shfl.sync.down.b32"
	case ir.ShuffleXor:
		mode = "shfl.sync.bfly.b32"
	default:
		mode = "shfl.sync.idx.b32"
	}
	return g.emitShuffleLike(mode, o, o.Variable(), o.Origin())
}

// emitShuffleLike emits a 32-bit warp exchange; float values round-trip
// through a bit-pattern register.
func (g *codeGenerator) emitShuffleLike(mode string, v ir.Value, variable, origin ir.Value) error {
	src, err := g.materialize(variable)
	if err != nil {
		return err
	}
	org, err := g.operand(origin)
	if err != nil {
		return err
	}
	if src.Desc.Basic.Size() > 4 {
		return backend.InvalidCodeGenerationf("64-bit warp shuffles are not supported")
	}
	dst := g.ra.Allocate(v).(*backend.PrimitiveRegister)
	if src.Desc.Basic == ir.Float32 {
		in := g.temp(KindInt32, ir.Int32)
		out := g.temp(KindInt32, ir.Int32)
		g.ins("mov.b32 \t%s, %s;", g.reg(in), g.reg(src))
		g.ins("%s \t%s, %s, %s, 0x1f, 0xffffffff;", mode, g.reg(out), g.reg(in), org)
		g.ins("mov.b32 \t%s, %s;", g.reg(dst), g.reg(out))
		g.release(in)
		g.release(out)
		return nil
	}
	g.ins("%s \t%s, %s, %s, 0x1f, 0xffffffff;", mode, g.reg(dst), g.reg(src), org)
	return nil
}

// === Calls ===

func (g *codeGenerator) emitCall(o *ir.Call) error {
	if o.Target.HasFlags(ir.MethodIntrinsic) {
		return g.emitIntrinsicCall(o)
	}

	// Parameter staging happens inside a dedicated scope so .param names
	// stay local to this call site.
	g.ins("{ // call %s", o.Target.Name)
	for i, arg := range o.Operands() {
		name := fmt.Sprintf("call_param_%d", i)
		g.body.WriteString("\t" + g.paramDecl(arg.Type(), name) + ";\n")
		reg, err := g.ra.Load(arg)
		if err != nil {
			return err
		}
		if err := g.emitParamStore(reg, arg.Type(), name, 0); err != nil {
			return err
		}
	}
	args := make([]string, len(o.Operands()))
	for i := range o.Operands() {
		args[i] = fmt.Sprintf("call_param_%d", i)
	}
	if ir.IsVoid(o.Type()) {
		g.ins("call.uni \t%s, (%s);", o.Target.Name, joinComma(args))
	} else {
		g.body.WriteString("\t" + g.paramDecl(o.Type(), "call_retval0") + ";\n")
		g.ins("call.uni \t(call_retval0), %s, (%s);", o.Target.Name, joinComma(args))
		if err := g.emitParamLoad(g.ra.Allocate(o), o.Type(), "call_retval0", 0); err != nil {
			return err
		}
	}
	g.ins("} // end call %s", o.Target.Name)
	return nil
}

// emitIntrinsicCall resolves the emission rule registered for the
// intrinsic and applies it to the argument registers.
func (g *codeGenerator) emitIntrinsicCall(o *ir.Call) error {
	impl, ok := g.bctx.Intrinsics.TryGetMapping(o.Target)
	if !ok {
		return &backend.NotSupportedIntrinsicError{Method: o.Target}
	}
	if impl.Emitter == "" {
		return backend.InvalidCodeGenerationf(
			"intrinsic %q survived specialization without an emitter", o.Target.Name)
	}
	if strings.HasPrefix(impl.Emitter, "shfl.sync") {
		if len(o.Operands()) != 2 {
			return backend.InvalidCodeGenerationf(
				"shuffle intrinsic %q expects (value, origin)", o.Target.Name)
		}
		return g.emitShuffleLike(impl.Emitter, o, o.Operands()[0], o.Operands()[1])
	}
	if impl.Emitter == emitterGroupBroadcast {
		if len(o.Operands()) != 2 {
			return backend.InvalidCodeGenerationf(
				"broadcast intrinsic %q expects (value, origin)", o.Target.Name)
		}
		return g.emitGroupBroadcast(o, o.Operands()[0], o.Operands()[1])
	}
	operands := make([]string, 0, len(o.Operands())+1)
	if !ir.IsVoid(o.Type()) {
		dst := g.ra.Allocate(o).(*backend.PrimitiveRegister)
		operands = append(operands, g.reg(dst))
	}
	for _, arg := range o.Operands() {
		text, err := g.operand(arg)
		if err != nil {
			return err
		}
		operands = append(operands, text)
	}
	g.ins("%s \t%s;", impl.Emitter, joinComma(operands))
	return nil
}
