package backend

import (
	"go.uber.org/zap"

	"j5.nz/gkc/ir"
)

// === Transformer Pipeline ===

// Transformer is one IR-to-IR pass. Passes mutate the kernel context in
// place and report whether they changed anything; they must be
// deterministic and idempotent once a fixpoint is reached.
type Transformer interface {
	Name() string
	Transform(ctx *ir.Context, kernel *ir.Method) (changed bool, err error)
}

// maxSpecializationRounds bounds the intrinsic-specialization fixpoint
// iteration. Specializing one intrinsic can expose calls to further
// intrinsics; real kernels converge in two or three rounds.
const maxSpecializationRounds = 8

// TransformerPipeline is the ordered pass list applied to the kernel
// context before code generation. Intrinsic specialization runs first and
// iterates to fixpoint; user passes follow; lowering and cleanup close.
type TransformerPipeline struct {
	specialization []Transformer
	user           []Transformer
	closing        []Transformer
}

// PipelineBuilder assembles a pipeline.
type PipelineBuilder struct {
	provider    *IntrinsicProvider
	backendType BackendType
	user        []Transformer
}

// NewPipelineBuilder starts a pipeline for a backend. The provider drives
// intrinsic resolution and specialization.
func NewPipelineBuilder(provider *IntrinsicProvider, backendType BackendType) *PipelineBuilder {
	return &PipelineBuilder{provider: provider, backendType: backendType}
}

// Add appends a user transformer.
func (b *PipelineBuilder) Add(t Transformer) *PipelineBuilder {
	b.user = append(b.user, t)
	return b
}

// Build finalizes the pipeline: the specialization trio up front, user
// passes in insertion order, then view lowering and dead-code cleanup.
func (b *PipelineBuilder) Build() *TransformerPipeline {
	return &TransformerPipeline{
		specialization: []Transformer{
			&LowerThreadIntrinsics{},
			&IntrinsicResolver{Provider: b.provider},
			&IntrinsicSpecializer{Provider: b.provider},
		},
		user: b.user,
		closing: []Transformer{
			&LowerViews{BackendType: b.backendType},
			&EliminateDeadCode{},
		},
	}
}

// Apply runs the pipeline over the kernel context.
func (p *TransformerPipeline) Apply(ctx *ir.Context, kernel *ir.Method, log *zap.Logger) error {
	// Iterate specialization to fixpoint, capped.
	for round := 0; ; round++ {
		if round == maxSpecializationRounds {
			return &InternalCompilerError{
				Message: "intrinsic specialization did not converge",
			}
		}
		changed := false
		for _, t := range p.specialization {
			c, err := t.Transform(ctx, kernel)
			if err != nil {
				return err
			}
			changed = changed || c
		}
		if !changed {
			log.Debug("intrinsic specialization converged", zap.Int("rounds", round+1))
			break
		}
	}

	for _, t := range append(append([]Transformer{}, p.user...), p.closing...) {
		changed, err := t.Transform(ctx, kernel)
		if err != nil {
			return err
		}
		log.Debug("transformer applied",
			zap.String("pass", t.Name()), zap.Bool("changed", changed))
	}
	return nil
}
