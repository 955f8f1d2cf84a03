package ptx

import (
	"fmt"
	"strings"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/backend"
	"j5.nz/gkc/ir"
)

// === Code Generator ===

// codeGenerator emits one method into a private buffer. The kernel
// generator additionally materializes the implicit index computation,
// uniform parameter loads and shared-memory bindings.
type codeGenerator struct {
	provider *generatorProvider
	method   *ir.Method
	entry    *backend.EntryPoint
	bctx     *backend.BackendContext
	abi      *abi.ABI

	ra       *backend.RegisterAllocator
	bindings *backend.PhiBindings

	body      strings.Builder
	constants []string
	locals    []string
	localSize int

	strLits map[string]string
	numStrs int
}

func newCodeGenerator(p *generatorProvider, method *ir.Method, entry *backend.EntryPoint, bctx *backend.BackendContext) (*codeGenerator, error) {
	return &codeGenerator{
		provider: p,
		method:   method,
		entry:    entry,
		bctx:     bctx,
		abi:      p.abi,
		ra:       backend.NewRegisterAllocator(p.abi, p.backend),
		strLits:  make(map[string]string),
	}, nil
}

func (g *codeGenerator) Name() string { return g.method.Name }

func (g *codeGenerator) Source() string { return g.body.String() }

func (g *codeGenerator) LocalMemorySize() int { return g.localSize }

// phiAllocator adapts the register allocator to the phi-binding hooks.
type phiAllocator struct{ ra *backend.RegisterAllocator }

func (phiAllocator) Process(*ir.BasicBlock, []*ir.Phi) {}

func (a phiAllocator) Allocate(_ *ir.BasicBlock, phi *ir.Phi) {
	a.ra.Allocate(phi)
}

// GenerateCode runs in the parallel phase and only touches this
// generator's private state.
func (g *codeGenerator) GenerateCode() error {
	bindings, err := backend.ComputePhiBindings(g.method.Blocks, phiAllocator{ra: g.ra})
	if err != nil {
		return backend.WrapInternal("computing phi bindings", err)
	}
	g.bindings = bindings

	if g.entry != nil {
		if err := g.emitKernelPrologue(); err != nil {
			return err
		}
	} else {
		if err := g.emitFunctionPrologue(); err != nil {
			return err
		}
	}
	if err := g.emitAllocas(); err != nil {
		return err
	}

	for _, block := range g.method.Blocks {
		fmt.Fprintf(&g.body, "%s:\n", g.label(block))
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

// GenerateConstants appends module-scope declarations: shared-memory
// symbols and string data.
func (g *codeGenerator) GenerateConstants(main *strings.Builder) {
	for _, c := range g.constants {
		main.WriteString(c)
		main.WriteByte('\n')
	}
	if len(g.constants) > 0 {
		main.WriteByte('\n')
	}
}

// GenerateHeader appends forward declarations for secondary functions.
func (g *codeGenerator) GenerateHeader(main *strings.Builder) {
	if g.entry != nil {
		return
	}
	fmt.Fprintf(main, "%s;\n", g.signature())
}

// Merge serializes this generator's buffer into the main builder.
func (g *codeGenerator) Merge(main *strings.Builder) {
	main.WriteString(g.signature())
	if g.entry != nil {
		spec := g.entry.Specialization
		if spec.MaxThreadsPerGroup > 0 {
			fmt.Fprintf(main, "\n.maxntid %d, 1, 1", spec.MaxThreadsPerGroup)
		}
		if spec.MinGroupsPerMultiprocessor > 0 {
			fmt.Fprintf(main, "\n.minnctapersm %d", spec.MinGroupsPerMultiprocessor)
		}
	}
	main.WriteString("\n{\n")
	for kind := KindPred; kind <= KindFloat64; kind++ {
		if n := g.ra.NumRegistersOfKind(kind); n > 0 {
			fmt.Fprintf(main, "\t.reg %s \t%s<%d>;\n", declType(kind), regPrefix(kind), n)
		}
	}
	for _, l := range g.locals {
		main.WriteString("\t" + l + "\n")
	}
	main.WriteByte('\n')
	main.WriteString(g.body.String())
	main.WriteString("}\n\n")
}

// === Signatures and Prologues ===

func paramName(method *ir.Method, index int) string {
	return fmt.Sprintf("%s_param_%d", method.Name, index)
}

func (g *codeGenerator) signature() string {
	var sb strings.Builder
	if g.entry != nil {
		fmt.Fprintf(&sb, ".visible .entry %s(", g.method.Name)
		first := true
		for _, u := range g.entry.Uniforms {
			if !first {
				sb.WriteString(",")
			}
			first = false
			fmt.Fprintf(&sb, "\n\t%s", g.paramDecl(g.method.Params[u.Index].Type(), paramName(g.method, u.Index)))
		}
		sb.WriteString("\n)")
		return sb.String()
	}

	sb.WriteString(".func ")
	if !ir.IsVoid(g.method.Return) {
		fmt.Fprintf(&sb, "(%s) ", g.paramDecl(g.method.Return, g.method.Name+"_retval0"))
	}
	fmt.Fprintf(&sb, "%s(", g.method.Name)
	for i, p := range g.method.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(g.paramDecl(p.Type(), paramName(g.method, i)))
	}
	sb.WriteString(")")
	return sb.String()
}

// paramDecl renders one .param declaration. Compounds are byte blobs laid
// out by the ABI.
func (g *codeGenerator) paramDecl(t ir.Type, name string) string {
	if ir.IsCompound(t) {
		info := g.abi.TypeInfoOf(t)
		return fmt.Sprintf(".param .align %d .b8 %s[%d]", info.Alignment, name, info.Size)
	}
	return fmt.Sprintf(".param %s %s", paramScalarType(g.abi, t), name)
}

func paramScalarType(a *abi.ABI, t ir.Type) string {
	switch c := t.(type) {
	case *ir.PrimitiveType:
		switch c.Basic {
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
	case *ir.PointerType, *ir.StringType:
		if a.PointerSize() == 4 {
			return ".u32"
		}
		return ".u64"
	}
	panic(fmt.Sprintf("ptx: no scalar param type for %s", t))
}

// emitKernelPrologue loads uniforms, binds shared-memory variables and
// computes the implicit index parameter.
func (g *codeGenerator) emitKernelPrologue() error {
	for _, u := range g.entry.Uniforms {
		p := g.method.Params[u.Index]
		reg := g.ra.Allocate(p)
		if err := g.emitParamLoad(reg, p.Type(), paramName(g.method, u.Index), 0); err != nil {
			return err
		}
	}
	for _, sv := range g.entry.SharedVariables {
		if err := g.emitSharedVariable(sv); err != nil {
			return err
		}
	}
	return g.emitIndexParam()
}

// emitParamLoad issues ld.param for every primitive leaf of a parameter.
func (g *codeGenerator) emitParamLoad(reg backend.Register, t ir.Type, name string, offset int) error {
	switch r := reg.(type) {
	case *backend.PrimitiveRegister:
		if r.Desc.Kind == KindPred {
			tmp := g.temp(KindInt16, ir.Int16)
			g.ins("ld.param.u8 \t%s, [%s+%d];", g.reg(tmp), name, offset)
			g.ins("setp.ne.s16 \t%s, %s, 0;", g.reg(r), g.reg(tmp))
			g.release(tmp)
			return nil
		}
		g.ins("ld.param%s \t%s, [%s+%d];", loadSuffix(r.Desc.Basic, g.abi), g.reg(r), name, offset)
		return nil
	case *backend.CompoundRegister:
		fields := ir.CompoundFields(t)
		offsets := g.abi.OffsetsOf(t)
		for i, child := range r.Children {
			if err := g.emitParamLoad(child, fields[i], name, offset+offsets[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return backend.InvalidCodeGenerationf("cannot load parameter %s", name)
}

// emitSharedVariable declares the backing .shared symbol and binds the
// parameter's view register to it.
func (g *codeGenerator) emitSharedVariable(sv backend.SharedMemoryVariable) error {
	p := g.method.Params[sv.Index]
	align := g.abi.AlignmentOf(sv.Element)
	symbol := fmt.Sprintf("shared_%s_%d", g.method.Name, sv.Index)

	if sv.Dynamic {
		symbol = "dynamic_shared"
		g.constants = append(g.constants,
			fmt.Sprintf(".extern .shared .align %d .b8 %s[];", align, symbol))
	} else {
		g.constants = append(g.constants,
			fmt.Sprintf(".shared .align %d .b8 %s[%d];", align, symbol, int(sv.Count)*sv.ElementSize))
	}

	reg := g.ra.Allocate(p)
	comp, ok := reg.(*backend.CompoundRegister)
	if !ok {
		// Scalar shared variable: the register is its address.
		prim := reg.(*backend.PrimitiveRegister)
		g.ins("mov%s \t%s, %s;", ptrMov(g.abi), g.reg(prim), symbol)
		return nil
	}
	ptr := comp.Children[0].(*backend.PrimitiveRegister)
	length := comp.Children[1].(*backend.PrimitiveRegister)
	g.ins("mov%s \t%s, %s;", ptrMov(g.abi), g.reg(ptr), symbol)
	if sv.Dynamic {
		g.ins("mov.u32 \t%s, %%dynamic_smem_size;", g.reg(length))
		if sv.ElementSize > 1 {
			g.ins("div.u32 \t%s, %s, %d;", g.reg(length), g.reg(length), sv.ElementSize)
		}
	} else {
		g.ins("mov.u32 \t%s, %d;", g.reg(length), sv.Count)
	}
	return nil
}

// emitIndexParam materializes the kernel's index parameter: the implicit
// global index for plain kernels, the (grid, group) pair for grouped ones.
func (g *codeGenerator) emitIndexParam() error {
	p := g.method.Params[0]
	comp, ok := g.ra.Allocate(p).(*backend.CompoundRegister)
	if !ok {
		return backend.InvalidCodeGenerationf("index parameter of %s is not compound", g.method.Name)
	}
	dims := [...]string{"x", "y", "z"}
	kind := g.entry.IndexKind

	if !kind.IsGrouped() {
		// global = ctaid * ntid + tid, per dimension
		for d := 0; d < kind.Dimensions(); d++ {
			dst := comp.Children[d].(*backend.PrimitiveRegister)
			cta := g.temp(KindInt32, ir.Int32)
			ntid := g.temp(KindInt32, ir.Int32)
			g.ins("mov.u32 \t%s, %%ctaid.%s;", g.reg(cta), dims[d])
			g.ins("mov.u32 \t%s, %%ntid.%s;", g.reg(ntid), dims[d])
			g.ins("mad.lo.s32 \t%s, %s, %s, %%tid.%s;", g.reg(dst), g.reg(cta), g.reg(ntid), dims[d])
			g.release(cta)
			g.release(ntid)
		}
		return nil
	}

	grid := comp.Children[0].(*backend.CompoundRegister)
	group := comp.Children[1].(*backend.CompoundRegister)
	for d := 0; d < kind.Dimensions(); d++ {
		g.ins("mov.u32 \t%s, %%ctaid.%s;", g.reg(grid.Children[d].(*backend.PrimitiveRegister)), dims[d])
		g.ins("mov.u32 \t%s, %%tid.%s;", g.reg(group.Children[d].(*backend.PrimitiveRegister)), dims[d])
	}
	return nil
}

// emitFunctionPrologue loads the parameters of a secondary function.
func (g *codeGenerator) emitFunctionPrologue() error {
	for i, p := range g.method.Params {
		reg := g.ra.Allocate(p)
		if err := g.emitParamLoad(reg, p.Type(), paramName(g.method, i), 0); err != nil {
			return err
		}
	}
	return nil
}

// emitAllocas declares local depots and binds alloca addresses.
func (g *codeGenerator) emitAllocas() error {
	allocas := g.bctx.Allocas(g.method)
	if allocas == nil {
		return nil
	}
	for _, info := range allocas.Local {
		symbol := fmt.Sprintf("depot_%d", info.Value.ID())
		align := g.abi.AlignmentOf(info.Element)
		g.locals = append(g.locals,
			fmt.Sprintf(".local .align %d .b8 %s[%d];", align, symbol, info.Size))
		g.localSize += info.Size
		reg := g.ra.Allocate(info.Value).(*backend.PrimitiveRegister)
		g.ins("mov%s \t%s, %s;", ptrMov(g.abi), g.reg(reg), symbol)
	}
	for _, info := range allocas.Shared {
		symbol := fmt.Sprintf("shared_alloca_%d", info.Value.ID())
		align := g.abi.AlignmentOf(info.Element)
		g.constants = append(g.constants,
			fmt.Sprintf(".shared .align %d .b8 %s[%d];", align, symbol, info.Size))
		reg := g.ra.Allocate(info.Value).(*backend.PrimitiveRegister)
		g.ins("mov%s \t%s, %s;", ptrMov(g.abi), g.reg(reg), symbol)
	}
	for _, info := range allocas.DynamicShared {
		g.constants = append(g.constants,
			fmt.Sprintf(".extern .shared .align %d .b8 dynamic_shared[];", g.abi.AlignmentOf(info.Element)))
		reg := g.ra.Allocate(info.Value).(*backend.PrimitiveRegister)
		g.ins("mov%s \t%s, dynamic_shared;", ptrMov(g.abi), g.reg(reg))
	}
	return nil
}

// === Block Exits ===

func (g *codeGenerator) label(b *ir.BasicBlock) string {
	return fmt.Sprintf("$L_%s_%d", g.method.Name, b.Index())
}

// emitBlockExit materializes the phi bindings and the terminator. Each
// intermediate phi is first copied into its temporary so that swap cycles
// do not lose updates.
func (g *codeGenerator) emitBlockExit(block *ir.BasicBlock) error {
	bindings := g.bindings.Bindings(block)
	if len(bindings) > 0 {
		temps := make(map[ir.ValueID]backend.Register)
		for _, phi := range g.bindings.IntermediatePhis(block) {
			src, err := g.ra.Load(phi)
			if err != nil {
				return err
			}
			tmp := g.ra.AllocateType(phi.Type())
			if err := g.moveRegister(tmp, src); err != nil {
				return err
			}
			temps[phi.ID()] = tmp
		}
		for _, bind := range bindings {
			dst, err := g.ra.Load(bind.Phi)
			if err != nil {
				return err
			}
			src := temps[bind.Value.ID()]
			if src == nil {
				loaded, err := g.ra.Load(bind.Value)
				if err != nil {
					return err
				}
				src = loaded
			}
			if err := g.moveRegister(dst, src); err != nil {
				return err
			}
		}
		for _, tmp := range temps {
			g.ra.FreeRegister(tmp)
		}
	}

	switch t := block.Terminator.(type) {
	case *ir.Return:
		return g.emitReturn(t)
	case *ir.Branch:
		g.ins("bra.uni \t%s;", g.label(t.Target))
		return nil
	case *ir.IfBranch:
		cond, err := g.materialize(t.Condition())
		if err != nil {
			return err
		}
		g.ins("@%s bra \t%s;", g.reg(cond), g.label(t.True))
		g.ins("bra.uni \t%s;", g.label(t.False))
		return nil
	case *ir.SwitchBranch:
		sel, err := g.materialize(t.Selector())
		if err != nil {
			return err
		}
		pred := g.temp(KindPred, ir.Int1)
		for i, target := range t.Cases {
			g.ins("setp.eq.s32 \t%s, %s, %d;", g.reg(pred), g.reg(sel), i)
			g.ins("@%s bra \t%s;", g.reg(pred), g.label(target))
		}
		g.release(pred)
		g.ins("bra.uni \t%s;", g.label(t.Default))
		return nil
	case nil:
		return backend.InvalidCodeGenerationf("block %s of %s has no terminator", block, g.method.Name)
	default:
		return backend.InvalidCodeGenerationf("unknown terminator %T", t)
	}
}

func (g *codeGenerator) emitReturn(t *ir.Return) error {
	if g.entry == nil && t.Result() != nil {
		reg, err := g.ra.Load(t.Result())
		if err != nil {
			return err
		}
		if err := g.emitParamStore(reg, t.Result().Type(), g.method.Name+"_retval0", 0); err != nil {
			return err
		}
	}
	g.ins("ret;")
	return nil
}

func (g *codeGenerator) emitParamStore(reg backend.Register, t ir.Type, name string, offset int) error {
	switch r := reg.(type) {
	case *backend.PrimitiveRegister:
		if r.Desc.Kind == KindPred {
			tmp := g.temp(KindInt16, ir.Int16)
			g.ins("selp.b16 \t%s, 1, 0, %s;", g.reg(tmp), g.reg(r))
			g.ins("st.param.u8 \t[%s+%d], %s;", name, offset, g.reg(tmp))
			g.release(tmp)
			return nil
		}
		g.ins("st.param%s \t[%s+%d], %s;", loadSuffix(r.Desc.Basic, g.abi), name, offset, g.reg(r))
		return nil
	case *backend.ConstantRegister:
		desc := g.provider.backend.DescribePrimitive(r.Basic)
		prim := g.ra.AllocatePrimitive(desc)
		g.ins("mov%s \t%s, %s;", movSuffix(desc.Kind), g.reg(prim), constText(r.Basic, r.Raw))
		err := g.emitParamStore(prim, t, name, offset)
		g.release(prim)
		return err
	case *backend.CompoundRegister:
		fields := ir.CompoundFields(t)
		offsets := g.abi.OffsetsOf(t)
		for i, child := range r.Children {
			if err := g.emitParamStore(child, fields[i], name, offset+offsets[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return backend.InvalidCodeGenerationf("cannot store parameter %s", name)
}
