package opencl

import (
	"fmt"
	"strings"

	"j5.nz/gkc/backend"
	"j5.nz/gkc/ir"
)

// === Code Generator ===

// codeGenerator emits one method as an OpenCL C function into a private
// buffer. SSA values become single-assignment local variables; phis become
// mutable variables assigned on block exit.
type codeGenerator struct {
	provider *generatorProvider
	method   *ir.Method
	entry    *backend.EntryPoint
	bctx     *backend.BackendContext

	bindings  *backend.PhiBindings
	body      strings.Builder
	localSize int
	tempID    int
}

func newCodeGenerator(p *generatorProvider, method *ir.Method, entry *backend.EntryPoint, bctx *backend.BackendContext) *codeGenerator {
	return &codeGenerator{provider: p, method: method, entry: entry, bctx: bctx}
}

func (g *codeGenerator) Name() string { return g.method.Name }

func (g *codeGenerator) Source() string { return g.body.String() }

func (g *codeGenerator) LocalMemorySize() int { return g.localSize }

func (g *codeGenerator) GenerateConstants(main *strings.Builder) {}

func (g *codeGenerator) GenerateHeader(main *strings.Builder) {
	if g.entry != nil {
		return
	}
	fmt.Fprintf(main, "%s;\n", g.signature())
}

func (g *codeGenerator) Merge(main *strings.Builder) {
	main.WriteString(g.signature())
	main.WriteString(" {\n")
	main.WriteString(g.body.String())
	main.WriteString("}\n\n")
}

// nopAllocator satisfies the phi-binding hooks; the OpenCL generator names
// phis by value identity instead of registers.
type nopAllocator struct{}

func (nopAllocator) Process(*ir.BasicBlock, []*ir.Phi)  {}
func (nopAllocator) Allocate(*ir.BasicBlock, *ir.Phi)   {}

func (g *codeGenerator) GenerateCode() error {
	bindings, err := backend.ComputePhiBindings(g.method.Blocks, nopAllocator{})
	if err != nil {
		return backend.WrapInternal("computing phi bindings", err)
	}
	g.bindings = bindings

	// Phi variables are mutable and must be visible across blocks.
	for _, block := range g.method.Blocks {
		for _, phi := range block.Phis {
			g.line("%s %s;", g.typeName(phi.Type()), g.val(phi))
		}
	}
	if g.entry != nil {
		if err := g.emitKernelPrologue(); err != nil {
			return err
		}
	}
	if err := g.emitAllocas(); err != nil {
		return err
	}

	for _, block := range g.method.Blocks {
		fmt.Fprintf(&g.body, "%s:;\n", g.label(block))
		for _, v := range block.Values {
			if err := g.emitValue(v); err != nil {
				return err
			}
		}
		if err := g.emitBlockExit(block); err != nil {
			return err
		}
	}
	return nil
}

// === Naming ===

func (g *codeGenerator) typeName(t ir.Type) string {
	return g.provider.typeNames.name(t)
}

func (g *codeGenerator) val(v ir.Value) string {
	switch o := v.(type) {
	case *ir.Param:
		return fmt.Sprintf("arg%d", o.Index)
	case *ir.Phi:
		return fmt.Sprintf("phi%d", o.ID())
	case *ir.Alloca:
		return fmt.Sprintf("depot%d", o.ID())
	}
	return fmt.Sprintf("v%d", v.ID())
}

func (g *codeGenerator) label(b *ir.BasicBlock) string {
	return fmt.Sprintf("bb%d", b.Index())
}

func (g *codeGenerator) line(format string, args ...any) {
	g.body.WriteByte('\t')
	fmt.Fprintf(&g.body, format, args...)
	g.body.WriteByte('\n')
}

// assign emits `T name = expr;`.
func (g *codeGenerator) assign(v ir.Value, expr string, args ...any) {
	g.line("%s %s = %s;", g.typeName(v.Type()), g.val(v), fmt.Sprintf(expr, args...))
}

// === Signatures ===

func (g *codeGenerator) signature() string {
	var sb strings.Builder
	if g.entry == nil {
		fmt.Fprintf(&sb, "%s %s(", g.typeName(g.method.Return), g.method.Name)
		for i, p := range g.method.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s arg%d", g.typeName(p.Type()), i)
		}
		sb.WriteString(")")
		return sb.String()
	}

	fmt.Fprintf(&sb, "__kernel void %s(", g.method.Name)
	first := true
	comma := func() {
		if !first {
			sb.WriteString(", ")
		}
		first = false
	}
	for _, u := range g.entry.Uniforms {
		comma()
		fmt.Fprintf(&sb, "%s arg%d", g.typeName(g.method.Params[u.Index].Type()), u.Index)
	}
	// Dynamically-sized shared variables arrive as trailing __local
	// pointers plus their element counts.
	for _, sv := range g.entry.SharedVariables {
		if !sv.Dynamic {
			continue
		}
		comma()
		fmt.Fprintf(&sb, "__local %s* dyn%d, int dyn%d_len",
			g.typeName(sv.Element), sv.Index, sv.Index)
	}
	sb.WriteString(")")
	return sb.String()
}

// === Prologues ===

func (g *codeGenerator) emitKernelPrologue() error {
	// Index parameter: implicit kernels read the flattened global index,
	// grouped kernels receive the (grid, group) pair.
	kind := g.entry.IndexKind
	idx := g.method.Params[0]
	g.line("%s arg0;", g.typeName(idx.Type()))
	if !kind.IsGrouped() {
		for d := 0; d < kind.Dimensions(); d++ {
			g.line("arg0.f%d = (int)get_global_id(%d);", d, d)
		}
	} else {
		for d := 0; d < kind.Dimensions(); d++ {
			g.line("arg0.f0.f%d = (int)get_group_id(%d);", d, d)
			g.line("arg0.f1.f%d = (int)get_local_id(%d);", d, d)
		}
	}

	for _, sv := range g.entry.SharedVariables {
		p := g.method.Params[sv.Index]
		if !sv.IsArray {
			g.line("__local %s scalar%d;", g.typeName(sv.Element), sv.Index)
			g.line("%s arg%d = &scalar%d;", g.typeName(p.Type()), sv.Index, sv.Index)
			continue
		}
		if sv.Dynamic {
			g.line("%s arg%d;", g.typeName(p.Type()), sv.Index)
			g.line("arg%d.f0 = dyn%d;", sv.Index, sv.Index)
			g.line("arg%d.f1 = dyn%d_len;", sv.Index, sv.Index)
			continue
		}
		g.line("__local %s shared%d[%d];", g.typeName(sv.Element), sv.Index, sv.Count)
		g.line("%s arg%d;", g.typeName(p.Type()), sv.Index)
		g.line("arg%d.f0 = shared%d;", sv.Index, sv.Index)
		g.line("arg%d.f1 = %d;", sv.Index, sv.Count)
	}
	return nil
}

func (g *codeGenerator) emitAllocas() error {
	allocas := g.bctx.Allocas(g.method)
	if allocas == nil {
		return nil
	}
	for _, info := range allocas.Local {
		g.line("__private %s %s[%d];",
			g.typeName(info.Element), g.val(info.Value), info.Count)
		g.localSize += info.Size
	}
	for _, info := range allocas.Shared {
		g.line("__local %s %s[%d];",
			g.typeName(info.Element), g.val(info.Value), info.Count)
	}
	for _, info := range allocas.DynamicShared {
		return backend.InvalidCodeGenerationf(
			"dynamic shared alloca %d must be declared as a kernel parameter on OpenCL",
			info.Value.ID())
	}
	return nil
}

// === Block Exits ===

func (g *codeGenerator) emitBlockExit(block *ir.BasicBlock) error {
	bindings := g.bindings.Bindings(block)
	if len(bindings) > 0 {
		temps := make(map[ir.ValueID]string)
		for _, phi := range g.bindings.IntermediatePhis(block) {
			tmp := fmt.Sprintf("tmp%d_%d", block.Index(), g.tempID)
			g.tempID++
			g.line("%s %s = %s;", g.typeName(phi.Type()), tmp, g.val(phi))
			temps[phi.ID()] = tmp
		}
		for _, bind := range bindings {
			src := temps[bind.Value.ID()]
			if src == "" {
				src = g.val(bind.Value)
			}
			g.line("%s = %s;", g.val(bind.Phi), src)
		}
	}

	switch t := block.Terminator.(type) {
	case *ir.Return:
		if g.entry == nil && t.Result() != nil {
			g.line("return %s;", g.val(t.Result()))
		} else {
			g.line("return;")
		}
		return nil
	case *ir.Branch:
		g.line("goto %s;", g.label(t.Target))
		return nil
	case *ir.IfBranch:
		g.line("if (%s) goto %s; else goto %s;",
			g.val(t.Condition()), g.label(t.True), g.label(t.False))
		return nil
	case *ir.SwitchBranch:
		g.line("switch (%s) {", g.val(t.Selector()))
		for i, target := range t.Cases {
			g.line("case %d: goto %s;", i, g.label(target))
		}
		g.line("default: goto %s;", g.label(t.Default))
		g.line("}")
		return nil
	case nil:
		return backend.InvalidCodeGenerationf("block %s of %s has no terminator", block, g.method.Name)
	default:
		return backend.InvalidCodeGenerationf("unknown terminator %T", t)
	}
}

// === Value Dispatch ===

func (g *codeGenerator) emitValue(v ir.Value) error {
	switch o := v.(type) {
	case *ir.Const:
		g.assign(o, "%s", constLiteral(o))
	case *ir.NullConst:
		if o.Type().Kind() == ir.KindPointer || o.Type().Kind() == ir.KindString {
			g.assign(o, "0")
		} else {
			g.line("%s %s = {0};", g.typeName(o.Type()), g.val(o))
		}
	case *ir.StringConst:
		g.assign(o, "%s", clQuote(o.Value))
	case *ir.Aggregate:
		g.line("%s %s;", g.typeName(o.Type()), g.val(o))
		for i, op := range o.Operands() {
			g.line("%s.f%d = %s;", g.val(o), i, g.val(op))
		}
	case *ir.BinaryOp:
		return g.emitBinary(o)
	case *ir.UnaryOp:
		return g.emitUnary(o)
	case *ir.Compare:
		g.assign(o, "%s %s %s", g.val(o.Left()), compareOp(o.Op), g.val(o.Right()))
	case *ir.Convert:
		g.assign(o, "(%s)(%s)", g.typeName(o.Type()), g.val(o.Source()))
	case *ir.PointerCast:
		g.assign(o, "(%s)(%s)", g.typeName(o.Type()), g.val(o.Source()))
	case *ir.AddressSpaceCast:
		g.assign(o, "(%s)(%s)", g.typeName(o.Type()), g.val(o.Source()))
	case *ir.Load:
		g.assign(o, "*%s", g.val(o.Address()))
	case *ir.Store:
		g.line("*%s = %s;", g.val(o.Address()), g.val(o.Value()))
	case *ir.FieldAddr:
		g.assign(o, "&(%s->f%d)", g.val(o.Source()), o.Field)
	case *ir.ElementAddr:
		g.assign(o, "%s + %s", g.val(o.Source()), g.val(o.Index()))
	case *ir.GetField:
		g.assign(o, "%s.f%d", g.val(o.Aggregate()), o.Field)
	case *ir.SetField:
		g.assign(o, "%s", g.val(o.Aggregate()))
		g.line("%s.f%d = %s;", g.val(o), o.Field, g.val(o.Value()))
	case *ir.Alloca:
		// Declared in the prologue.
	case *ir.DynamicMemoryLength:
		return g.emitDynamicLength(o)
	case *ir.GridIndex:
		g.assign(o, "(int)get_group_id(%d)", int(o.Dim))
	case *ir.GroupIndex:
		g.assign(o, "(int)get_local_id(%d)", int(o.Dim))
	case *ir.GridDim:
		g.assign(o, "(int)get_num_groups(%d)", int(o.Dim))
	case *ir.GroupDim:
		g.assign(o, "(int)get_local_size(%d)", int(o.Dim))
	case *ir.WarpSize:
		g.assign(o, "(int)get_sub_group_size()")
	case *ir.LaneIndex:
		g.assign(o, "(int)get_sub_group_local_id()")
	case *ir.Barrier:
		if o.Kind == ir.BarrierWarp {
			g.line("sub_group_barrier(CLK_LOCAL_MEM_FENCE);")
		} else {
			g.line("barrier(CLK_LOCAL_MEM_FENCE | CLK_GLOBAL_MEM_FENCE);")
		}
	case *ir.Broadcast:
		if o.Kind == ir.BroadcastWarp {
			g.assign(o, "sub_group_broadcast(%s, %s)", g.val(o.Variable()), g.val(o.Origin()))
		} else {
			g.assign(o, "work_group_broadcast(%s, %s)", g.val(o.Variable()), g.val(o.Origin()))
		}
	case *ir.WarpShuffle:
		g.assign(o, "%s(%s, %s)", shuffleFunc(o.Kind), g.val(o.Variable()), g.val(o.Origin()))
	case *ir.DebugOp:
		if o.Kind == ir.DebugAssert {
			g.line("// assert: %s", o.Message)
		} else {
			g.line("// trace: %s", o.Message)
		}
	case *ir.Call:
		return g.emitCall(o)
	case *ir.ViewCast, *ir.NewView, *ir.SubView, *ir.ViewLength,
		*ir.OutputWrite, *ir.Undef, *ir.Handle, *ir.AcceleratorTypeValue:
		return backend.InvalidCodeGenerationf(
			"%T must be eliminated by the transformer pipeline", v)
	default:
		return backend.InvalidCodeGenerationf("no OpenCL emitter for %T", v)
	}
	return nil
}

func (g *codeGenerator) emitBinary(o *ir.BinaryOp) error {
	basic := primitiveBasic(o.Type())
	l, r := g.val(o.Left()), g.val(o.Right())
	switch o.Op {
	case ir.OpAdd:
		g.assign(o, "%s + %s", l, r)
	case ir.OpSub:
		g.assign(o, "%s - %s", l, r)
	case ir.OpMul:
		g.assign(o, "%s * %s", l, r)
	case ir.OpDiv:
		g.assign(o, "%s / %s", l, r)
	case ir.OpRem:
		if basic.IsFloat() {
			g.assign(o, "fmod(%s, %s)", l, r)
		} else {
			g.assign(o, "%s %% %s", l, r)
		}
	case ir.OpAnd:
		g.assign(o, "%s & %s", l, r)
	case ir.OpOr:
		g.assign(o, "%s | %s", l, r)
	case ir.OpXor:
		g.assign(o, "%s ^ %s", l, r)
	case ir.OpShl:
		g.assign(o, "%s << %s", l, r)
	case ir.OpShr:
		g.assign(o, "%s >> %s", l, r)
	case ir.OpMin:
		if basic.IsFloat() {
			g.assign(o, "fmin(%s, %s)", l, r)
		} else {
			g.assign(o, "min(%s, %s)", l, r)
		}
	case ir.OpMax:
		if basic.IsFloat() {
			g.assign(o, "fmax(%s, %s)", l, r)
		} else {
			g.assign(o, "max(%s, %s)", l, r)
		}
	default:
		return backend.InvalidCodeGenerationf("unknown binary op %d", int(o.Op))
	}
	return nil
}

func (g *codeGenerator) emitUnary(o *ir.UnaryOp) error {
	basic := primitiveBasic(o.Type())
	src := g.val(o.Operand())
	switch o.Op {
	case ir.OpNeg:
		g.assign(o, "-%s", src)
	case ir.OpNot:
		if basic == ir.Int1 {
			g.assign(o, "!%s", src)
		} else {
			g.assign(o, "~%s", src)
		}
	case ir.OpAbs:
		if basic.IsFloat() {
			g.assign(o, "fabs(%s)", src)
		} else {
			g.assign(o, "abs(%s)", src)
		}
	default:
		return backend.InvalidCodeGenerationf("unknown unary op %d", int(o.Op))
	}
	return nil
}

func (g *codeGenerator) emitDynamicLength(o *ir.DynamicMemoryLength) error {
	if g.entry == nil {
		return backend.InvalidCodeGenerationf(
			"dynamic shared-memory length is only available in the kernel")
	}
	for _, sv := range g.entry.SharedVariables {
		if sv.Dynamic {
			g.assign(o, "dyn%d_len", sv.Index)
			return nil
		}
	}
	g.assign(o, "0")
	return nil
}

func (g *codeGenerator) emitCall(o *ir.Call) error {
	if o.Target.HasFlags(ir.MethodIntrinsic) {
		impl, ok := g.bctx.Intrinsics.TryGetMapping(o.Target)
		if !ok {
			return &backend.NotSupportedIntrinsicError{Method: o.Target}
		}
		if impl.Emitter == "" {
			return backend.InvalidCodeGenerationf(
				"intrinsic %q survived specialization without an emitter", o.Target.Name)
		}
		g.assign(o, "%s(%s)", impl.Emitter, g.args(o))
		return nil
	}
	if ir.IsVoid(o.Type()) {
		g.line("%s(%s);", o.Target.Name, g.args(o))
		return nil
	}
	g.assign(o, "%s(%s)", o.Target.Name, g.args(o))
	return nil
}

func (g *codeGenerator) args(o *ir.Call) string {
	parts := make([]string, len(o.Operands()))
	for i, arg := range o.Operands() {
		parts[i] = g.val(arg)
	}
	return strings.Join(parts, ", ")
}

// === Literals ===

func primitiveBasic(t ir.Type) ir.BasicValueType {
	if p, ok := t.(*ir.PrimitiveType); ok {
		return p.Basic
	}
	return ir.Int32
}

func constLiteral(c *ir.Const) string {
	switch c.Basic {
	case ir.Int1:
		if c.Raw != 0 {
			return "true"
		}
		return "false"
	case ir.Float16, ir.Float32:
		return fmt.Sprintf("%vf", float32(c.Float64Value()))
	case ir.Float64:
		return fmt.Sprintf("%v", c.Float64Value())
	case ir.Int64:
		return fmt.Sprintf("%dL", c.Int64Value())
	default:
		return fmt.Sprintf("(%s)%d", scalarName(c.Basic), c.Int64Value())
	}
}

func compareOp(op ir.CompareKind) string {
	switch op {
	case ir.CmpEq:
		return "=="
	case ir.CmpNe:
		return "!="
	case ir.CmpLt:
		return "<"
	case ir.CmpLe:
		return "<="
	case ir.CmpGt:
		return ">"
	default:
		return ">="
	}
}

func shuffleFunc(kind ir.ShuffleKind) string {
	switch kind {
	case ir.ShuffleUp:
		return "sub_group_shuffle_up"
	case ir.ShuffleDown:
		return "sub_group_shuffle_down"
	case ir.ShuffleXor:
		return "sub_group_shuffle_xor"
	}
	return "sub_group_shuffle"
}

func clQuote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\', '"':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString("\\n")
		case '\t':
			sb.WriteString("\\t")
		default:
			if c < 0x20 || c > 0x7e {
				fmt.Fprintf(&sb, "\\x%02x", c)
			} else {
				sb.WriteByte(c)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
