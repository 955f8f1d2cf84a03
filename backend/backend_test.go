package backend_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/backend"
	"j5.nz/gkc/backend/il"
	"j5.nz/gkc/ir"
)

// buildMainContext declares the add kernel and a kernel calling an
// unregistered intrinsic.
func buildMainContext(t *testing.T) *ir.Context {
	t.Helper()
	ctx := ir.NewContext()
	f32 := ir.Primitive(ir.Float32)
	ptr := ir.Pointer(f32, ir.SpaceGlobal)

	add := ctx.MustCreateMethod("add", 0, ir.Void())
	idx := add.AddParam("i", ir.IndexType(ir.Index1D))
	a := add.AddParam("a", ptr)
	bp := add.AddParam("b", ptr)
	c := add.AddParam("c", ptr)
	b := ir.NewBuilder(add.NewBlock("entry"))
	i := b.GetFieldOf(idx, 0)
	sum := b.Binary(ir.OpAdd,
		b.LoadFrom(b.ElementAddrOf(a, i)),
		b.LoadFrom(b.ElementAddrOf(bp, i)))
	b.StoreTo(b.ElementAddrOf(c, i), sum)
	b.Ret(nil)

	missing := ctx.MustCreateMethod("warpBroadcast", ir.MethodIntrinsic, f32)
	missing.AddParam("v", f32)
	missing.AddParam("origin", ir.Primitive(ir.Int32))

	broken := ctx.MustCreateMethod("broken", 0, ir.Void())
	bidx := broken.AddParam("i", ir.IndexType(ir.Index1D))
	out := broken.AddParam("out", ptr)
	bb := ir.NewBuilder(broken.NewBlock("entry"))
	v := bb.LoadFrom(bb.ElementAddrOf(out, bb.GetFieldOf(bidx, 0)))
	bb.StoreTo(out, bb.CallMethod(missing, v, bb.Int32C(0)))
	bb.Ret(nil)

	return ctx
}

func newILBackend(t *testing.T, ctx *ir.Context) *backend.Backend {
	t.Helper()
	b, err := backend.New(backend.Config{
		Platform: abi.CurrentPlatform(),
		Frontend: &backend.StaticFrontend{Context: ctx},
		Target:   il.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

type recordingHook struct {
	stages []string
}

func (h *recordingHook) FinishedCodeGeneration(ctx *ir.Context, m *ir.Method) {
	h.stages = append(h.stages, "frontend")
}

func (h *recordingHook) InitializedKernelContext(ctx *ir.Context, m *ir.Method) {
	h.stages = append(h.stages, "imported")
}

func (h *recordingHook) OptimizedKernelContext(ctx *ir.Context, m *ir.Method) {
	h.stages = append(h.stages, "optimized")
}

func TestCompileProducesArtifact(t *testing.T) {
	b := newILBackend(t, buildMainContext(t))
	hook := &recordingHook{}

	artifact, err := b.Compile(
		backend.EntryDescription{Name: "add"},
		backend.KernelSpecialization{MaxThreadsPerGroup: 128},
		hook)
	require.NoError(t, err)

	assert.Equal(t, "add", artifact.EntryName)
	assert.Equal(t, backend.BackendIL, artifact.BackendType)
	assert.NotEmpty(t, artifact.Source)
	assert.NotZero(t, artifact.ID)
	assert.Equal(t, []string{"frontend", "imported", "optimized"}, hook.stages)

	require.NotNil(t, artifact.Info)
	require.Len(t, artifact.Info.Functions, 1)
	assert.Equal(t, "add", artifact.Info.Functions[0].Name)
	assert.Equal(t, 128, artifact.Info.Specialization.MaxThreadsPerGroup)

	// The artifact is the IR listing of the imported kernel.
	assert.Contains(t, string(artifact.Source), `func "add"`)
}

func TestCompileIsDeterministic(t *testing.T) {
	b := newILBackend(t, buildMainContext(t))
	first, err := b.Compile(backend.EntryDescription{Name: "add"}, backend.KernelSpecialization{}, nil)
	require.NoError(t, err)
	second, err := b.Compile(backend.EntryDescription{Name: "add"}, backend.KernelSpecialization{}, nil)
	require.NoError(t, err)
	assert.Equal(t, string(first.Source), string(second.Source))
	assert.NotEqual(t, first.ID, second.ID, "each compilation has its own session id")
}

func TestFrontendFailurePropagatesUnchanged(t *testing.T) {
	b := newILBackend(t, buildMainContext(t))
	_, err := b.Compile(backend.EntryDescription{Name: "nosuch"}, backend.KernelSpecialization{}, nil)
	require.Error(t, err)
	// The failure must not be wrapped as an internal compiler error.
	var ice *backend.InternalCompilerError
	assert.False(t, errors.As(err, &ice))
}

func TestMissingIntrinsicSurfacesTypedError(t *testing.T) {
	b := newILBackend(t, buildMainContext(t))
	_, err := b.Compile(backend.EntryDescription{Name: "broken"}, backend.KernelSpecialization{}, nil)
	var missing *backend.NotSupportedIntrinsicError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "warpBroadcast", missing.Method.Name)
	// Typed compiler errors are never double-wrapped.
	var ice *backend.InternalCompilerError
	assert.False(t, errors.As(err, &ice))
}

func TestWrapInternalPolicy(t *testing.T) {
	plain := errors.New("boom")
	wrapped := backend.WrapInternal("stage", plain)
	var ice *backend.InternalCompilerError
	require.ErrorAs(t, wrapped, &ice)
	assert.ErrorIs(t, wrapped, plain)

	typed := &backend.InvalidCodeGenerationError{Message: "bad"}
	assert.Same(t, error(typed), backend.WrapInternal("stage", typed))
	assert.Same(t, wrapped, backend.WrapInternal("again", wrapped))
	assert.NoError(t, backend.WrapInternal("stage", nil))
}

func TestDumpHooksWriteListings(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := newILBackend(t, buildMainContext(t))
	_, err := b.Compile(backend.EntryDescription{Name: "add"},
		backend.KernelSpecialization{}, &backend.DumpHooks{FS: fs, Dir: "dumps"})
	require.NoError(t, err)

	for _, stage := range []string{"0_frontend", "1_imported", "2_optimized"} {
		data, err := afero.ReadFile(fs, "dumps/add_"+stage+".gkcir")
		require.NoError(t, err, stage)
		assert.True(t, strings.Contains(string(data), "add"), stage)
	}
}

func TestClearCacheLevels(t *testing.T) {
	b := newILBackend(t, buildMainContext(t))
	_, err := b.Compile(backend.EntryDescription{Name: "add"}, backend.KernelSpecialization{}, nil)
	require.NoError(t, err)

	// All levels are accepted; compilations still succeed afterwards.
	for _, mode := range []backend.CacheMode{
		backend.ClearNothing, backend.ClearMethodCache, backend.ClearEverything,
	} {
		b.ClearCache(mode)
		_, err := b.Compile(backend.EntryDescription{Name: "add"}, backend.KernelSpecialization{}, nil)
		require.NoError(t, err)
	}
}
