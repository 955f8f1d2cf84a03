// Package ptx emits PTX ISA text for NVIDIA targets through the shared
// parallel code-generation driver.
package ptx

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/backend"
	"j5.nz/gkc/ir"
)

// === Register Classes ===

const (
	// KindPred is the predicate class (%p).
	KindPred backend.RegisterKind = iota
	// KindInt16 covers 8- and 16-bit integers (%rs).
	KindInt16
	// KindInt32 is the 32-bit integer class (%r).
	KindInt32
	// KindInt64 is the 64-bit integer class (%rd).
	KindInt64
	// KindFloat16 is the 16-bit float class (%h).
	KindFloat16
	// KindFloat32 is the 32-bit float class (%f).
	KindFloat32
	// KindFloat64 is the 64-bit float class (%fd).
	KindFloat64
)

// regPrefix returns the PTX register-name prefix of a class.
func regPrefix(kind backend.RegisterKind) string {
	switch kind {
	case KindPred:
		return "%p"
	case KindInt16:
		return "%rs"
	case KindInt32:
		return "%r"
	case KindInt64:
		return "%rd"
	case KindFloat16:
		return "%h"
	case KindFloat32:
		return "%f"
	case KindFloat64:
		return "%fd"
	}
	panic(fmt.Sprintf("ptx: unknown register kind %d", int(kind)))
}

// declType returns the .reg declaration type of a class.
func declType(kind backend.RegisterKind) string {
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
	panic(fmt.Sprintf("ptx: unknown register kind %d", int(kind)))
}

// === Backend ===

// Config selects the PTX ISA version and target architecture.
type Config struct {
	// ISAVersion defaults to "7.0".
	ISAVersion string
	// Architecture defaults to "sm_70".
	Architecture string
}

// Backend is the PTX target backend.
type Backend struct {
	isa  string
	arch string
}

// New creates a PTX backend.
func New(cfg Config) *Backend {
	if cfg.ISAVersion == "" {
		cfg.ISAVersion = "7.0"
	}
	if cfg.Architecture == "" {
		cfg.Architecture = "sm_70"
	}
	return &Backend{isa: cfg.ISAVersion, arch: cfg.Architecture}
}

// BackendType reports the backend family.
func (*Backend) BackendType() backend.BackendType { return backend.BackendPTX }

// DescribePrimitive maps primitives to PTX register classes.
func (*Backend) DescribePrimitive(basic ir.BasicValueType) backend.RegisterDescription {
	var kind backend.RegisterKind
	switch basic {
	case ir.Int1:
		kind = KindPred
	case ir.Int8, ir.Int16:
		kind = KindInt16
	case ir.Int32:
		kind = KindInt32
	case ir.Int64:
		kind = KindInt64
	case ir.Float16:
		kind = KindFloat16
	case ir.Float32:
		kind = KindFloat32
	case ir.Float64:
		kind = KindFloat64
	}
	return backend.RegisterDescription{Basic: basic, Kind: kind}
}

// RegisterIntrinsics installs the PTX emitter rules for the math and warp
// communication intrinsics the target supports natively.
func (*Backend) RegisterIntrinsics(registry *backend.IntrinsicRegistry) {
	for method, emitter := range map[string]string{
		"rsqrt":          "rsqrt.approx.f32",
		"sqrt":           "sqrt.rn.f32",
		"sin":            "sin.approx.f32",
		"cos":            "cos.approx.f32",
		"exp2":           "ex2.approx.f32",
		"log2":           "lg2.approx.f32",
		"warpBroadcast":  emitterShuffleIdx,
		"groupBroadcast": emitterGroupBroadcast,
		"shuffle":        emitterShuffleIdx,
		"shuffleUp":      "shfl.sync.up.b32",
		"shuffleDown":    "shfl.sync.down.b32",
		"shuffleXor":     "shfl.sync.bfly.b32",
	} {
		registry.RegisterEmitter(method, emitter)
	}
}

// Compile drives parallel code generation into a PTX module.
func (b *Backend) Compile(entry *backend.EntryPoint, bctx *backend.BackendContext, a *abi.ABI, log *zap.Logger) (*backend.CompiledArtifact, error) {
	provider := &generatorProvider{backend: b, abi: a, bctx: bctx}
	return backend.GenerateCode(entry, bctx, provider, log)
}

// generatorProvider implements backend.CodeGeneratorProvider.
type generatorProvider struct {
	backend *Backend
	abi     *abi.ABI
	bctx    *backend.BackendContext
}

func (p *generatorProvider) InitMainBuilder(entry *backend.EntryPoint, main *strings.Builder) {
	addressSize := 64
	if p.abi.Platform() == abi.Platform32Bit {
		addressSize = 32
	}
	fmt.Fprintf(main, "//\n// Generated by gkc\n//\n\n")
	fmt.Fprintf(main, ".version %s\n", p.backend.isa)
	fmt.Fprintf(main, ".target %s\n", p.backend.arch)
	fmt.Fprintf(main, ".address_size %d\n\n", addressSize)
}

func (p *generatorProvider) CreateKernelCodeGenerator(entry *backend.EntryPoint, bctx *backend.BackendContext) (backend.CodeGenerator, error) {
	return newCodeGenerator(p, entry.Method, entry, bctx)
}

func (p *generatorProvider) CreateFunctionCodeGenerator(method *ir.Method, bctx *backend.BackendContext) (backend.CodeGenerator, error) {
	return newCodeGenerator(p, method, nil, bctx)
}

func (p *generatorProvider) CreateKernel(entry *backend.EntryPoint, info *backend.KernelInfo, main *strings.Builder) (*backend.CompiledArtifact, error) {
	return &backend.CompiledArtifact{
		EntryName:   entry.Method.Name,
		BackendType: backend.BackendPTX,
		Source:      []byte(main.String()),
		Info:        info,
	}, nil
}
