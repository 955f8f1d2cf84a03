package backend

import (
	"github.com/pkg/errors"

	"j5.nz/gkc/ir"
)

// StaticFrontend serves pre-built IR methods by entry name. It is the
// frontend used by tooling and tests that construct kernels through the IR
// builder directly.
type StaticFrontend struct {
	Context *ir.Context
}

// BeginFrontendPhase starts a generation phase.
func (f *StaticFrontend) BeginFrontendPhase() FrontendPhase {
	return &staticPhase{frontend: f}
}

type staticPhase struct {
	frontend *StaticFrontend
}

func (p *staticPhase) GenerateCode(desc EntryDescription) *FrontendResult {
	m, ok := p.frontend.Context.Method(desc.Name)
	if !ok {
		return &FrontendResult{
			Err: errors.Errorf("frontend: no method %q in main context", desc.Name),
		}
	}
	return &FrontendResult{
		MainContext: p.frontend.Context,
		Method:      m,
	}
}
