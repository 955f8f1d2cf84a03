package backend

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"j5.nz/gkc/ir"
)

// === Parallel Code-Generation Driver ===

// CodeGenerator produces the target text of one method. GenerateCode runs
// in parallel with the other generators and must only touch the
// generator's private buffer; the remaining steps run sequentially against
// the shared main builder.
type CodeGenerator interface {
	// Name returns the emitted symbol name.
	Name() string
	// GenerateCode fills the generator's private buffer.
	GenerateCode() error
	// GenerateConstants appends accumulated constants to the main builder.
	GenerateConstants(main *strings.Builder)
	// GenerateHeader appends forward declarations to the main builder.
	GenerateHeader(main *strings.Builder)
	// Merge serializes the private buffer into the main builder.
	Merge(main *strings.Builder)
	// Source returns the generated text of this method.
	Source() string
	// LocalMemorySize returns the method's local memory requirement.
	LocalMemorySize() int
}

// CodeGeneratorProvider is implemented by concrete backends: it creates
// the per-method generators and assembles the final artifact.
type CodeGeneratorProvider interface {
	// InitMainBuilder writes the module prologue (headers, directives).
	InitMainBuilder(entry *EntryPoint, main *strings.Builder)
	// CreateKernelCodeGenerator creates the generator for the kernel
	// method.
	CreateKernelCodeGenerator(entry *EntryPoint, bctx *BackendContext) (CodeGenerator, error)
	// CreateFunctionCodeGenerator creates a generator for a secondary
	// method.
	CreateFunctionCodeGenerator(method *ir.Method, bctx *BackendContext) (CodeGenerator, error)
	// CreateKernel packages the merged main builder into the artifact.
	CreateKernel(entry *EntryPoint, info *KernelInfo, main *strings.Builder) (*CompiledArtifact, error)
}

// GenerateCode drives the code-generation phase: one generator per
// reachable method, generated in parallel into private buffers, then
// sequential constant emission, header emission and a reverse-order merge
// into the main builder.
func GenerateCode(entry *EntryPoint, bctx *BackendContext, provider CodeGeneratorProvider, log *zap.Logger) (*CompiledArtifact, error) {
	var main strings.Builder
	provider.InitMainBuilder(entry, &main)

	kernelGen, err := provider.CreateKernelCodeGenerator(entry, bctx)
	if err != nil {
		return nil, err
	}
	generators := []CodeGenerator{kernelGen}
	for _, m := range bctx.SecondaryMethods() {
		gen, err := provider.CreateFunctionCodeGenerator(m, bctx)
		if err != nil {
			return nil, err
		}
		generators = append(generators, gen)
	}

	// Parallel phase: every generator owns its buffer; no shared state.
	var group errgroup.Group
	for _, gen := range generators {
		gen := gen
		group.Go(gen.GenerateCode)
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	log.Debug("code generation finished",
		zap.Int("generators", len(generators)))

	// Sequential phase against the main builder.
	for _, gen := range generators {
		gen.GenerateConstants(&main)
	}
	for _, gen := range generators {
		gen.GenerateHeader(&main)
	}
	// Reverse merge keeps later-declared helpers ahead of their callers in
	// text-based targets.
	for i := len(generators) - 1; i >= 0; i-- {
		generators[i].Merge(&main)
	}

	info := &KernelInfo{
		SharedAllocations: bctx.SharedAllocations,
		SharedMemory:      entry.SharedMemory,
		Specialization:    entry.Specialization,
	}
	for _, gen := range generators {
		info.Functions = append(info.Functions, FunctionInfo{
			Name:            gen.Name(),
			Source:          gen.Source(),
			LocalMemorySize: gen.LocalMemorySize(),
		})
	}

	artifact, err := provider.CreateKernel(entry, info, &main)
	if err != nil {
		return nil, err
	}
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	return artifact, nil
}
