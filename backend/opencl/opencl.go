// Package opencl emits OpenCL C source through the shared parallel
// code-generation driver.
package opencl

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/backend"
	"j5.nz/gkc/ir"
)

// Config selects OpenCL language options.
type Config struct {
	// EnableFP64 adds the double-precision pragma. Defaults to true.
	EnableFP64 *bool
}

// Backend is the OpenCL C target backend.
type Backend struct {
	enableFP64 bool
}

// New creates an OpenCL backend.
func New(cfg Config) *Backend {
	enable := true
	if cfg.EnableFP64 != nil {
		enable = *cfg.EnableFP64
	}
	return &Backend{enableFP64: enable}
}

// BackendType reports the backend family.
func (*Backend) BackendType() backend.BackendType { return backend.BackendOpenCL }

// RegisterIntrinsics installs the built-in OpenCL functions used as
// emitters for the math intrinsics.
func (*Backend) RegisterIntrinsics(registry *backend.IntrinsicRegistry) {
	for method, fn := range map[string]string{
		"rsqrt":          "rsqrt",
		"sqrt":           "sqrt",
		"sin":            "native_sin",
		"cos":            "native_cos",
		"exp2":           "native_exp2",
		"log2":           "native_log2",
		"warpBroadcast":  "sub_group_broadcast",
		"groupBroadcast": "work_group_broadcast",
		"shuffle":        "sub_group_shuffle",
		"shuffleUp":      "sub_group_shuffle_up",
		"shuffleDown":    "sub_group_shuffle_down",
		"shuffleXor":     "sub_group_shuffle_xor",
	} {
		registry.RegisterEmitter(method, fn)
	}
}

// Compile drives parallel code generation into an OpenCL C module.
func (b *Backend) Compile(entry *backend.EntryPoint, bctx *backend.BackendContext, a *abi.ABI, log *zap.Logger) (*backend.CompiledArtifact, error) {
	provider := &generatorProvider{
		backend:   b,
		abi:       a,
		typeNames: collectTypeNames(bctx),
	}
	return backend.GenerateCode(entry, bctx, provider, log)
}

// generatorProvider implements backend.CodeGeneratorProvider. The type
// name table is computed before the parallel fork and read-only afterwards.
type generatorProvider struct {
	backend   *Backend
	abi       *abi.ABI
	typeNames *typeNameTable
}

func (p *generatorProvider) InitMainBuilder(entry *backend.EntryPoint, main *strings.Builder) {
	main.WriteString("//\n// Generated by gkc\n//\n\n")
	if p.backend.enableFP64 {
		main.WriteString("#pragma OPENCL EXTENSION cl_khr_fp64 : enable\n\n")
	}
	p.typeNames.writeTypedefs(main)
}

func (p *generatorProvider) CreateKernelCodeGenerator(entry *backend.EntryPoint, bctx *backend.BackendContext) (backend.CodeGenerator, error) {
	return newCodeGenerator(p, entry.Method, entry, bctx), nil
}

func (p *generatorProvider) CreateFunctionCodeGenerator(method *ir.Method, bctx *backend.BackendContext) (backend.CodeGenerator, error) {
	return newCodeGenerator(p, method, nil, bctx), nil
}

func (p *generatorProvider) CreateKernel(entry *backend.EntryPoint, info *backend.KernelInfo, main *strings.Builder) (*backend.CompiledArtifact, error) {
	return &backend.CompiledArtifact{
		EntryName:   entry.Method.Name,
		BackendType: backend.BackendOpenCL,
		Source:      []byte(main.String()),
		Info:        info,
	}, nil
}

// === Type Rendering ===

// typeNameTable assigns stable C names to the structure and view types of
// one compilation.
type typeNameTable struct {
	names map[ir.Type]string
	used  map[string]bool
	decls []string
}

// collectTypeNames walks every reachable method and interns the compound
// types its values mention.
func collectTypeNames(bctx *backend.BackendContext) *typeNameTable {
	t := &typeNameTable{
		names: make(map[ir.Type]string),
		used:  make(map[string]bool),
	}
	for _, m := range bctx.Methods() {
		for _, p := range m.Params {
			t.intern(p.Type())
		}
		t.intern(m.Return)
		m.Walk(func(v ir.Value) bool {
			t.intern(v.Type())
			return true
		})
	}
	return t
}

func (t *typeNameTable) intern(typ ir.Type) string {
	switch c := typ.(type) {
	case *ir.VoidType:
		return "void"
	case *ir.PrimitiveType:
		return scalarName(c.Basic)
	case *ir.StringType:
		return "__constant char*"
	case *ir.PointerType:
		return spaceQualifier(c.Space) + t.intern(c.Elem) + "*"
	case *ir.ViewType, *ir.StructType, *ir.ArrayType:
		if name, ok := t.names[typ]; ok {
			return name
		}
		// Intern children first so typedefs appear in dependency order.
		fieldNames := make([]string, 0)
		for _, f := range ir.CompoundFields(typ) {
			fieldNames = append(fieldNames, t.intern(f))
		}
		name := fmt.Sprintf("gkc_type_%d", len(t.decls))
		if s, ok := typ.(*ir.StructType); ok && s.Name != "" {
			name = "gkc_" + strings.ToLower(s.Name)
		}
		if t.used[name] {
			name = fmt.Sprintf("gkc_type_%d", len(t.decls))
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "typedef struct {\n")
		for i, f := range fieldNames {
			fmt.Fprintf(&sb, "\t%s f%d;\n", f, i)
		}
		fmt.Fprintf(&sb, "} %s;\n", name)
		t.names[typ] = name
		t.used[name] = true
		t.decls = append(t.decls, sb.String())
		return name
	}
	panic(fmt.Sprintf("opencl: cannot render type %T", typ))
}

func (t *typeNameTable) writeTypedefs(main *strings.Builder) {
	for _, d := range t.decls {
		main.WriteString(d)
		main.WriteByte('\n')
	}
}

// name returns the interned C name of a type. Every type a generator asks
// about was interned by collectTypeNames before the parallel fork, so this
// is a read-only lookup during code generation.
func (t *typeNameTable) name(typ ir.Type) string {
	return t.intern(typ)
}

func scalarName(basic ir.BasicValueType) string {
	switch basic {
	case ir.Int1:
		return "bool"
	case ir.Int8:
		return "char"
	case ir.Int16:
		return "short"
	case ir.Int32:
		return "int"
	case ir.Int64:
		return "long"
	case ir.Float16:
		return "half"
	case ir.Float32:
		return "float"
	case ir.Float64:
		return "double"
	}
	panic(fmt.Sprintf("opencl: unknown basic type %d", int(basic)))
}

func spaceQualifier(space ir.AddressSpace) string {
	switch space {
	case ir.SpaceGlobal:
		return "__global "
	case ir.SpaceShared:
		return "__local "
	case ir.SpaceLocal:
		return "__private "
	}
	return ""
}
