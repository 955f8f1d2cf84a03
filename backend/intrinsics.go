package backend

import (
	"go.uber.org/atomic"

	"j5.nz/gkc/ir"
)

// === Intrinsic Mapping ===

// IntrinsicImplementation is the backend-specific meaning of an intrinsic
// method. Either Redirect points at an IR method that replaces the call
// during specialization, or Emitter names an emission rule the concrete
// backend resolves at code-generation time.
type IntrinsicImplementation struct {
	Emitter  string
	Redirect *ir.Method
}

// IsRedirect reports whether the implementation substitutes another method.
func (i *IntrinsicImplementation) IsRedirect() bool { return i.Redirect != nil }

// IntrinsicRegistry collects the intrinsic implementations a backend ships.
// Each backend instance owns its registry; there is no process-wide state.
type IntrinsicRegistry struct {
	byName map[string]*IntrinsicImplementation
}

// NewIntrinsicRegistry creates an empty registry.
func NewIntrinsicRegistry() *IntrinsicRegistry {
	return &IntrinsicRegistry{byName: make(map[string]*IntrinsicImplementation)}
}

// Register binds an intrinsic method name to an implementation. The last
// registration wins.
func (r *IntrinsicRegistry) Register(methodName string, impl *IntrinsicImplementation) {
	r.byName[methodName] = impl
}

// RegisterEmitter binds a method name to a named emission rule.
func (r *IntrinsicRegistry) RegisterEmitter(methodName, emitter string) {
	r.Register(methodName, &IntrinsicImplementation{Emitter: emitter})
}

// RegisterRedirect binds a method name to a substitute IR method.
func (r *IntrinsicRegistry) RegisterRedirect(methodName string, target *ir.Method) {
	r.Register(methodName, &IntrinsicImplementation{Redirect: target})
}

// IntrinsicProvider resolves intrinsic methods to implementations. Lookup
// is pure; the per-method cache only short-circuits repeated name
// resolution. ClearCache is not safe to call with in-flight compilations.
type IntrinsicProvider struct {
	registry    *IntrinsicRegistry
	methodCache map[*ir.Method]*IntrinsicImplementation

	hits   atomic.Int64
	misses atomic.Int64
}

// NewIntrinsicProvider creates a provider over a populated registry.
func NewIntrinsicProvider(registry *IntrinsicRegistry) *IntrinsicProvider {
	return &IntrinsicProvider{
		registry:    registry,
		methodCache: make(map[*ir.Method]*IntrinsicImplementation),
	}
}

// TryGetMapping resolves the implementation of an intrinsic method.
func (p *IntrinsicProvider) TryGetMapping(m *ir.Method) (*IntrinsicImplementation, bool) {
	if impl, ok := p.methodCache[m]; ok {
		p.hits.Inc()
		return impl, impl != nil
	}
	impl := p.registry.byName[m.Name]
	p.methodCache[m] = impl
	p.misses.Inc()
	return impl, impl != nil
}

// ClearCache drops cached lookups according to mode.
func (p *IntrinsicProvider) ClearCache(mode CacheMode) {
	switch mode {
	case ClearNothing:
	case ClearMethodCache, ClearEverything:
		p.methodCache = make(map[*ir.Method]*IntrinsicImplementation)
		p.hits.Store(0)
		p.misses.Store(0)
	}
}

// CacheStats returns the lookup hit and miss counters.
func (p *IntrinsicProvider) CacheStats() (hits, misses int64) {
	return p.hits.Load(), p.misses.Load()
}

// Close releases the provider. The provider participates in the backend's
// dispose chain.
func (p *IntrinsicProvider) Close() error {
	p.methodCache = nil
	return nil
}
