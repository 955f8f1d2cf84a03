// Package backend implements the kernel compilation core: the frontend
// handoff, the transformer pipeline, intrinsic resolution, entry-point
// construction and the parallel code-generation driver shared by all
// concrete backends.
package backend

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/ir"
)

// === Frontend Contract ===

// EntryDescription identifies the kernel a compilation starts from. Source
// is opaque to the core and interpreted by the frontend.
type EntryDescription struct {
	Name   string
	Source any
}

// FrontendResult carries the frontend's output: the generated method in
// its main context, or the failure that aborted generation. Frontend
// failures propagate unchanged.
type FrontendResult struct {
	MainContext *ir.Context
	Method      *ir.Method
	Err         error
}

// Faulted reports whether the frontend failed.
func (r *FrontendResult) Faulted() bool { return r.Err != nil }

// Frontend produces an IR method from a source descriptor.
type Frontend interface {
	// BeginFrontendPhase starts a code-generation phase; GenerateCode may
	// be called once per phase.
	BeginFrontendPhase() FrontendPhase
}

// FrontendPhase is one frontend code-generation run.
type FrontendPhase interface {
	GenerateCode(desc EntryDescription) *FrontendResult
}

// TargetBackend is implemented by the concrete backends (PTX, OpenCL, IL).
type TargetBackend interface {
	BackendType() BackendType
	// RegisterIntrinsics populates the backend's intrinsic registry during
	// construction.
	RegisterIntrinsics(registry *IntrinsicRegistry)
	// Compile lowers the prepared kernel to the final artifact.
	Compile(entry *EntryPoint, bctx *BackendContext, a *abi.ABI, log *zap.Logger) (*CompiledArtifact, error)
}

// === Backend ===

// Backend orchestrates compilations for one target. Instances are
// long-lived, own their intrinsic provider and argument mapper, and are
// stateless across Compile calls.
type Backend struct {
	log      *zap.Logger
	abi      *abi.ABI
	frontend Frontend
	target   TargetBackend

	intrinsics *IntrinsicProvider
	argMapper  *ArgumentMapper
	pipeline   *TransformerPipeline
}

// Config assembles a backend.
type Config struct {
	Platform     abi.TargetPlatform
	Frontend     Frontend
	Target       TargetBackend
	Transformers []Transformer
	Logger       *zap.Logger
	ABIOptions   []abi.Option
}

// New constructs a backend: resolves the ABI, populates the intrinsic
// registry from the target, and builds the transformer pipeline.
func New(cfg Config) (*Backend, error) {
	if cfg.Target == nil {
		return nil, &InternalCompilerError{Message: "backend requires a target"}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	registry := NewIntrinsicRegistry()
	cfg.Target.RegisterIntrinsics(registry)
	provider := NewIntrinsicProvider(registry)

	a := abi.New(cfg.Platform, cfg.ABIOptions...)
	pb := NewPipelineBuilder(provider, cfg.Target.BackendType())
	for _, t := range cfg.Transformers {
		pb.Add(t)
	}

	return &Backend{
		log:        log.Named("gkc"),
		abi:        a,
		frontend:   cfg.Frontend,
		target:     cfg.Target,
		intrinsics: provider,
		argMapper:  NewArgumentMapper(a),
		pipeline:   pb.Build(),
	}, nil
}

// ABI returns the backend's resolved ABI.
func (b *Backend) ABI() *abi.ABI { return b.abi }

// BackendType returns the concrete backend family.
func (b *Backend) BackendType() BackendType { return b.target.BackendType() }

// IntrinsicProvider returns the owned provider.
func (b *Backend) IntrinsicProvider() *IntrinsicProvider { return b.intrinsics }

// ArgumentMapper returns the owned argument mapper.
func (b *Backend) ArgumentMapper() *ArgumentMapper { return b.argMapper }

// ClearCache drops cached state at the given level. Not safe to call with
// in-flight compilations.
func (b *Backend) ClearCache(mode CacheMode) {
	b.intrinsics.ClearCache(mode)
	b.argMapper.ClearCache(mode)
}

// Close releases the backend. The intrinsic provider participates in the
// dispose chain.
func (b *Backend) Close() error {
	return b.intrinsics.Close()
}

// Compile lowers the described kernel entry to a compiled artifact:
// frontend, import into a fresh kernel context, transformer pipeline,
// backend-context build, entry-point construction and target code
// generation. Typed compiler errors propagate unchanged; anything else is
// wrapped exactly once as an internal compiler error.
func (b *Backend) Compile(desc EntryDescription, spec KernelSpecialization, hook Hook) (*CompiledArtifact, error) {
	if hook == nil {
		hook = NopHook{}
	}
	session := uuid.New()
	log := b.log.With(
		zap.Stringer("compilation", session),
		zap.String("entry", desc.Name))
	log.Debug("compilation started")

	artifact, err := b.compile(desc, spec, hook, log)
	if err != nil {
		log.Debug("compilation failed", zap.Error(err))
		return nil, err
	}
	artifact.ID = session
	log.Debug("compilation finished",
		zap.Int("sourceBytes", len(artifact.Source)))
	return artifact, nil
}

func (b *Backend) compile(desc EntryDescription, spec KernelSpecialization, hook Hook, log *zap.Logger) (*CompiledArtifact, error) {
	// Frontend phase. Frontend faults propagate unchanged.
	phase := b.frontend.BeginFrontendPhase()
	result := phase.GenerateCode(desc)
	if result.Faulted() {
		return nil, result.Err
	}
	hook.FinishedCodeGeneration(result.MainContext, result.Method)

	// Fresh kernel context; the import deep-copies the reachable graph.
	kernelContext := ir.NewContext()
	kernelMethod, err := kernelContext.Import(result.Method)
	if err != nil {
		return nil, WrapInternal("importing kernel method", err)
	}
	hook.InitializedKernelContext(kernelContext, kernelMethod)

	if err := b.pipeline.Apply(kernelContext, kernelMethod, log); err != nil {
		return nil, WrapInternal("applying transformer pipeline", err)
	}
	hook.OptimizedKernelContext(kernelContext, kernelMethod)

	bctx, err := NewBackendContext(kernelContext, kernelMethod, b.abi, b.intrinsics, log)
	if err != nil {
		return nil, WrapInternal("building backend context", err)
	}

	entry, err := NewEntryPoint(kernelMethod, b.abi, bctx.SharedMemorySpec(), spec)
	if err != nil {
		return nil, WrapInternal("building entry point", err)
	}

	artifact, err := b.target.Compile(entry, bctx, b.abi, log)
	if err != nil {
		return nil, WrapInternal("generating target code", err)
	}
	return artifact, nil
}
