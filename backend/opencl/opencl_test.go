package opencl_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/backend"
	"j5.nz/gkc/backend/opencl"
	"j5.nz/gkc/ir"
)

func buildKernels(t *testing.T) *ir.Context {
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

	scale := ctx.MustCreateMethod("scale", 0, f32)
	sx := scale.AddParam("x", f32)
	sf := scale.AddParam("factor", f32)
	sb := ir.NewBuilder(scale.NewBlock("entry"))
	sb.Ret(sb.Binary(ir.OpMul, sx, sf))

	saxpy := ctx.MustCreateMethod("saxpy", 0, ir.Void())
	pidx := saxpy.AddParam("i", ir.IndexType(ir.Index1D))
	factor := saxpy.AddParam("factor", f32)
	px := saxpy.AddParam("x", ptr)
	py := saxpy.AddParam("y", ptr)
	pb := ir.NewBuilder(saxpy.NewBlock("entry"))
	pi := pb.GetFieldOf(pidx, 0)
	scaled := pb.CallMethod(scale, pb.LoadFrom(pb.ElementAddrOf(px, pi)), factor)
	pb.StoreTo(pb.ElementAddrOf(py, pi),
		pb.Binary(ir.OpAdd, scaled, pb.LoadFrom(pb.ElementAddrOf(py, pi))))
	pb.Ret(nil)

	grouped := ctx.MustCreateMethod("grouped", 0, ir.Void())
	gidx := grouped.AddParam("idx", ir.IndexType(ir.GroupedIndex1D))
	out := grouped.AddParam("out", ptr)
	grouped.AddSharedParam("scratch", ir.View(f32, ir.SpaceShared), f32, 64)
	dynv := grouped.AddSharedParam("dyn", ir.View(f32, ir.SpaceShared), f32, -1)
	gb := ir.NewBuilder(grouped.NewBlock("entry"))
	group := gb.GetFieldOf(gb.GetFieldOf(gidx, 1), 0)
	dbase := gb.GetFieldOf(dynv, 0)
	gb.StoreTo(gb.ElementAddrOf(dbase, group), gb.Float32C(1))
	gb.BarrierOf(ir.BarrierGroup)
	grid := gb.GetFieldOf(gb.GetFieldOf(gidx, 0), 0)
	gb.StoreTo(gb.ElementAddrOf(out, grid),
		gb.LoadFrom(gb.ElementAddrOf(dbase, gb.Int32C(0))))
	gb.Ret(nil)

	return ctx
}

func newCLBackend(t *testing.T) *backend.Backend {
	t.Helper()
	b, err := backend.New(backend.Config{
		Platform: abi.Platform64Bit,
		Frontend: &backend.StaticFrontend{Context: buildKernels(t)},
		Target:   opencl.New(opencl.Config{}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func compile(t *testing.T, b *backend.Backend, name string) string {
	t.Helper()
	artifact, err := b.Compile(backend.EntryDescription{Name: name}, backend.KernelSpecialization{}, nil)
	require.NoError(t, err)
	assert.Equal(t, backend.BackendOpenCL, artifact.BackendType)
	return string(artifact.Source)
}

func TestCompileAddKernel(t *testing.T) {
	b := newCLBackend(t)
	src := compile(t, b, "add")

	assert.Contains(t, src, "#pragma OPENCL EXTENSION cl_khr_fp64 : enable")
	assert.Contains(t, src, "__kernel void add(")
	assert.Contains(t, src, "__global float* arg1")
	assert.Contains(t, src, "get_global_id(0)")
	// The index struct typedef is emitted before the kernel.
	typedefAt := strings.Index(src, "typedef struct")
	kernelAt := strings.Index(src, "__kernel void add(")
	require.GreaterOrEqual(t, typedefAt, 0)
	assert.Less(t, typedefAt, kernelAt)
	assert.Contains(t, src, "return;")
}

func TestSecondaryFunctionHasPrototypeAndBody(t *testing.T) {
	b := newCLBackend(t)
	src := compile(t, b, "saxpy")

	proto := strings.Index(src, "float scale(float arg0, float arg1);")
	body := strings.Index(src, "float scale(float arg0, float arg1) {")
	kernel := strings.Index(src, "__kernel void saxpy(")
	require.GreaterOrEqual(t, proto, 0)
	require.GreaterOrEqual(t, body, 0)
	require.GreaterOrEqual(t, kernel, 0)
	assert.Less(t, proto, body)
	assert.Less(t, body, kernel)
	assert.Contains(t, src, "scale(")
}

func TestGroupedKernelSharedMemory(t *testing.T) {
	b := newCLBackend(t)
	src := compile(t, b, "grouped")

	// Static shared buffer declared in the kernel, dynamic one passed as a
	// trailing __local parameter with its element count.
	assert.Contains(t, src, "__local float shared2[64];")
	assert.Contains(t, src, "__local float* dyn3, int dyn3_len")
	assert.Contains(t, src, "get_group_id(0)")
	assert.Contains(t, src, "get_local_id(0)")
	assert.Contains(t, src, "barrier(CLK_LOCAL_MEM_FENCE | CLK_GLOBAL_MEM_FENCE);")
}

func TestCompileIsDeterministic(t *testing.T) {
	b := newCLBackend(t)
	for _, kernel := range []string{"add", "saxpy", "grouped"} {
		assert.Equal(t, compile(t, b, kernel), compile(t, b, kernel), kernel)
	}
}

func TestImplicitKernelWithSharedMemoryFails(t *testing.T) {
	ctx := ir.NewContext()
	f32 := ir.Primitive(ir.Float32)
	bad := ctx.MustCreateMethod("bad", 0, ir.Void())
	bad.AddParam("i", ir.IndexType(ir.Index1D))
	bad.AddSharedParam("scratch", ir.View(f32, ir.SpaceShared), f32, 8)
	b := ir.NewBuilder(bad.NewBlock("entry"))
	b.Ret(nil)

	be, err := backend.New(backend.Config{
		Platform: abi.Platform64Bit,
		Frontend: &backend.StaticFrontend{Context: ctx},
		Target:   opencl.New(opencl.Config{}),
	})
	require.NoError(t, err)
	defer be.Close()

	_, err = be.Compile(backend.EntryDescription{Name: "bad"}, backend.KernelSpecialization{}, nil)
	var shared *backend.UnsupportedSharedMemoryUseError
	assert.ErrorAs(t, err, &shared)
}
