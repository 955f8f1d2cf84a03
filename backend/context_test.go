package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/ir"
)

// buildContextKernel creates kernel -> helper plus an intrinsic call and a
// mix of local and shared allocas.
func buildContextKernel(t *testing.T, withIntrinsic bool) (*ir.Context, *ir.Method, *ir.Method) {
	t.Helper()
	ctx := ir.NewContext()
	f32 := ir.Primitive(ir.Float32)

	helper := ctx.MustCreateMethod("helper", 0, f32)
	hp := helper.AddParam("x", f32)
	hb := ir.NewBuilder(helper.NewBlock("entry"))
	local := hb.AllocaOf(f32, ir.SpaceLocal, 4)
	hb.StoreTo(hb.ElementAddrOf(local, hb.Int32C(0)), hp)
	hb.Ret(hb.LoadFrom(hb.ElementAddrOf(local, hb.Int32C(0))))

	var intrinsic *ir.Method
	if withIntrinsic {
		intrinsic = ctx.MustCreateMethod("warpBroadcast", ir.MethodIntrinsic, f32)
		intrinsic.AddParam("v", f32)
		intrinsic.AddParam("origin", ir.Primitive(ir.Int32))
	}

	kernel := ctx.MustCreateMethod("kernel", 0, ir.Void())
	kernel.AddParam("idx", ir.IndexType(ir.GroupedIndex1D))
	out := kernel.AddParam("out", ir.Pointer(f32, ir.SpaceGlobal))
	kb := ir.NewBuilder(kernel.NewBlock("entry"))
	shared := kb.AllocaOf(f32, ir.SpaceShared, 32)
	v := kb.LoadFrom(kb.ElementAddrOf(shared, kb.Int32C(0)))
	r := kb.CallMethod(helper, v)
	if withIntrinsic {
		r = kb.CallMethod(intrinsic, r, kb.Int32C(0))
	}
	kb.StoreTo(out, r)
	kb.Ret(nil)

	return ctx, kernel, helper
}

func emptyProvider() *IntrinsicProvider {
	return NewIntrinsicProvider(NewIntrinsicRegistry())
}

func TestBackendContextReachability(t *testing.T) {
	ctx, kernel, helper := buildContextKernel(t, false)
	bc, err := NewBackendContext(ctx, kernel, abi.New(abi.Platform64Bit), emptyProvider(), zap.NewNop())
	require.NoError(t, err)

	methods := bc.Methods()
	require.Len(t, methods, 2)
	assert.Same(t, kernel, methods[0])
	assert.Same(t, helper, methods[1])
	assert.True(t, bc.Contains(kernel))
	assert.True(t, bc.Contains(helper))

	// Every reachable method has an alloca summary.
	for _, m := range methods {
		assert.NotNil(t, bc.Allocas(m))
	}

	secondaries := bc.SecondaryMethods()
	require.Len(t, secondaries, 1)
	assert.Same(t, helper, secondaries[0])
}

func TestBackendContextAllocaSummaries(t *testing.T) {
	ctx, kernel, helper := buildContextKernel(t, false)
	bc, err := NewBackendContext(ctx, kernel, abi.New(abi.Platform64Bit), emptyProvider(), zap.NewNop())
	require.NoError(t, err)

	ha := bc.Allocas(helper)
	require.Len(t, ha.Local, 1)
	assert.Equal(t, 16, ha.Local[0].Size)
	assert.Equal(t, 16, ha.LocalSize)
	assert.Empty(t, ha.Shared)

	ka := bc.Allocas(kernel)
	require.Len(t, ka.Shared, 1)
	assert.Equal(t, 128, ka.Shared[0].Size)
	assert.Equal(t, 128, ka.SharedSize)

	assert.Equal(t, 128, bc.SharedMemorySize)
	spec := bc.SharedMemorySpec()
	assert.Equal(t, 128, spec.StaticSize)
	assert.False(t, spec.HasDynamic)
}

func TestBackendContextDynamicShared(t *testing.T) {
	ctx := ir.NewContext()
	f32 := ir.Primitive(ir.Float32)
	kernel := ctx.MustCreateMethod("kernel", 0, ir.Void())
	kernel.AddParam("idx", ir.IndexType(ir.GroupedIndex1D))
	kb := ir.NewBuilder(kernel.NewBlock("entry"))
	dyn := kb.DynamicSharedAlloca(f32)
	kb.StoreTo(dyn, kb.Float32C(0))
	kb.Ret(nil)

	bc, err := NewBackendContext(ctx, kernel, abi.New(abi.Platform64Bit), emptyProvider(), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, bc.DynamicSharedAllocations, 1)
	assert.Zero(t, bc.SharedMemorySize)
	assert.True(t, bc.SharedMemorySpec().HasDynamic)
}

func TestUnregisteredIntrinsicFailsValidation(t *testing.T) {
	ctx, kernel, _ := buildContextKernel(t, true)
	_, err := NewBackendContext(ctx, kernel, abi.New(abi.Platform64Bit), emptyProvider(), zap.NewNop())
	var missing *NotSupportedIntrinsicError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "warpBroadcast", missing.Method.Name)
}

func TestRegisteredIntrinsicPassesValidation(t *testing.T) {
	ctx, kernel, _ := buildContextKernel(t, true)
	registry := NewIntrinsicRegistry()
	registry.RegisterEmitter("warpBroadcast", "shfl.sync.idx.b32")
	bc, err := NewBackendContext(ctx, kernel, abi.New(abi.Platform64Bit),
		NewIntrinsicProvider(registry), zap.NewNop())
	require.NoError(t, err)

	// Intrinsics never appear as secondary functions: they have no body.
	for _, m := range bc.SecondaryMethods() {
		assert.False(t, m.HasFlags(ir.MethodIntrinsic))
	}
}

func TestIntrinsicProviderCache(t *testing.T) {
	registry := NewIntrinsicRegistry()
	target := ir.NewContext().MustCreateMethod("redir", 0, ir.Void())
	registry.RegisterRedirect("mapped", target)
	p := NewIntrinsicProvider(registry)

	ctx := ir.NewContext()
	mapped := ctx.MustCreateMethod("mapped", ir.MethodIntrinsic, ir.Void())
	unmapped := ctx.MustCreateMethod("unmapped", ir.MethodIntrinsic, ir.Void())

	impl, ok := p.TryGetMapping(mapped)
	require.True(t, ok)
	assert.True(t, impl.IsRedirect())
	_, ok = p.TryGetMapping(unmapped)
	assert.False(t, ok)

	// Second lookups hit the method cache.
	p.TryGetMapping(mapped)
	p.TryGetMapping(unmapped)
	hits, misses := p.CacheStats()
	assert.EqualValues(t, 2, hits)
	assert.EqualValues(t, 2, misses)

	p.ClearCache(ClearMethodCache)
	hits, misses = p.CacheStats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)

	p.ClearCache(ClearNothing) // keeps state
	_, ok = p.TryGetMapping(mapped)
	assert.True(t, ok)
}
