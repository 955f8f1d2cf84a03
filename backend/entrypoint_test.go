package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/ir"
)

func newKernelMethod(t *testing.T, name string, indexKind ir.IndexKind) *ir.Method {
	t.Helper()
	ctx := ir.NewContext()
	m := ctx.MustCreateMethod(name, 0, ir.Void())
	m.AddParam("idx", ir.IndexType(indexKind))
	return m
}

func TestImplicit1DKernelWithoutSharedMemory(t *testing.T) {
	f32 := ir.Primitive(ir.Float32)
	ptr := ir.Pointer(f32, ir.SpaceGlobal)
	m := newKernelMethod(t, "add", ir.Index1D)
	m.AddParam("a", ptr)
	m.AddParam("b", ptr)
	m.AddParam("c", ptr)

	a := abi.New(abi.Platform64Bit)
	ep, err := NewEntryPoint(m, a, SharedMemorySpec{}, KernelSpecialization{})
	require.NoError(t, err)

	assert.Equal(t, ir.Index1D, ep.IndexKind)
	assert.False(t, ep.IsGroupedIndexEntry())
	require.Len(t, ep.Uniforms, 3)
	for i, u := range ep.Uniforms {
		assert.Equal(t, i+1, u.Index)
		assert.Equal(t, 8, u.Size)
	}
	assert.Empty(t, ep.SharedVariables)
	assert.Zero(t, ep.SharedMemory.StaticSize)
	assert.False(t, ep.SharedMemory.HasDynamic)
}

func TestGroupedKernelWithStaticSharedArray(t *testing.T) {
	f32 := ir.Primitive(ir.Float32)
	ptr := ir.Pointer(f32, ir.SpaceGlobal)
	m := newKernelMethod(t, "reduce", ir.GroupedIndex1D)
	m.AddParam("input", ptr)
	m.AddParam("output", ptr)
	m.AddSharedParam("scratch", ir.View(f32, ir.SpaceShared), f32, 256)

	a := abi.New(abi.Platform64Bit)
	ep, err := NewEntryPoint(m, a, SharedMemorySpec{}, KernelSpecialization{})
	require.NoError(t, err)

	assert.True(t, ep.IsGroupedIndexEntry())
	require.Len(t, ep.SharedVariables, 1)
	sv := ep.SharedVariables[0]
	assert.Equal(t, 3, sv.Index)
	assert.Equal(t, -1, sv.SharedMemoryIndex)
	assert.True(t, sv.IsArray)
	assert.False(t, sv.Dynamic)
	assert.EqualValues(t, 256, sv.Count)
	assert.Equal(t, 4, sv.ElementSize)
	assert.Equal(t, 1024, ep.SharedMemory.StaticSize)
	assert.False(t, ep.SharedMemory.HasDynamic)
}

func TestImplicitKernelWithSharedMemoryIsRejected(t *testing.T) {
	f32 := ir.Primitive(ir.Float32)
	m := newKernelMethod(t, "bad", ir.Index1D)
	m.AddSharedParam("scratch", ir.View(f32, ir.SpaceShared), f32, 16)

	_, err := NewEntryPoint(m, abi.New(abi.Platform64Bit), SharedMemorySpec{}, KernelSpecialization{})
	var shared *UnsupportedSharedMemoryUseError
	require.ErrorAs(t, err, &shared)
	assert.Equal(t, m, shared.Method)
}

func TestImplicitKernelWithBodySharedMemoryIsRejected(t *testing.T) {
	// Shared memory collected from allocas triggers the same policy.
	m := newKernelMethod(t, "bad", ir.Index2D)
	_, err := NewEntryPoint(m, abi.New(abi.Platform64Bit),
		SharedMemorySpec{StaticSize: 64}, KernelSpecialization{})
	var shared *UnsupportedSharedMemoryUseError
	assert.ErrorAs(t, err, &shared)
}

func TestDynamicSharedVariablesGetContiguousIndices(t *testing.T) {
	f32 := ir.Primitive(ir.Float32)
	i32 := ir.Primitive(ir.Int32)
	m := newKernelMethod(t, "dyn", ir.GroupedIndex1D)
	m.AddSharedParam("a", ir.View(f32, ir.SpaceShared), f32, -1)
	m.AddSharedParam("b", ir.View(f32, ir.SpaceShared), f32, 8)
	m.AddSharedParam("c", ir.View(i32, ir.SpaceShared), i32, -1)

	ep, err := NewEntryPoint(m, abi.New(abi.Platform64Bit), SharedMemorySpec{}, KernelSpecialization{})
	require.NoError(t, err)
	require.Len(t, ep.SharedVariables, 3)
	assert.Equal(t, 0, ep.SharedVariables[0].SharedMemoryIndex)
	assert.Equal(t, -1, ep.SharedVariables[1].SharedMemoryIndex)
	assert.Equal(t, 1, ep.SharedVariables[2].SharedMemoryIndex)
	assert.True(t, ep.SharedMemory.HasDynamic)
	assert.Equal(t, 32, ep.SharedMemory.StaticSize)
}

func TestScalarSharedVariableRequiresCountOne(t *testing.T) {
	f32 := ir.Primitive(ir.Float32)
	m := newKernelMethod(t, "scalar", ir.GroupedIndex1D)
	m.AddSharedParam("total", ir.Pointer(f32, ir.SpaceShared), f32, 4)

	_, err := NewEntryPoint(m, abi.New(abi.Platform64Bit), SharedMemorySpec{}, KernelSpecialization{})
	var ice *InvalidCodeGenerationError
	assert.ErrorAs(t, err, &ice)

	good := newKernelMethod(t, "scalar2", ir.GroupedIndex1D)
	good.AddSharedParam("total", ir.Pointer(f32, ir.SpaceShared), f32, 1)
	ep, err := NewEntryPoint(good, abi.New(abi.Platform64Bit), SharedMemorySpec{}, KernelSpecialization{})
	require.NoError(t, err)
	require.Len(t, ep.SharedVariables, 1)
	assert.False(t, ep.SharedVariables[0].IsArray)
	assert.EqualValues(t, 1, ep.SharedVariables[0].Count)
	assert.Equal(t, 4, ep.SharedMemory.StaticSize)
}

func TestIndexClassification(t *testing.T) {
	for _, kind := range []ir.IndexKind{
		ir.Index1D, ir.Index2D, ir.Index3D,
		ir.GroupedIndex1D, ir.GroupedIndex2D, ir.GroupedIndex3D,
	} {
		m := newKernelMethod(t, "k", kind)
		ep, err := NewEntryPoint(m, abi.New(abi.Platform64Bit), SharedMemorySpec{}, KernelSpecialization{})
		require.NoError(t, err, kind)
		assert.Equal(t, kind, ep.IndexKind)
		assert.Equal(t, kind.IsGrouped(), ep.IsGroupedIndexEntry())
	}
}

func TestNonIndexFirstParameterIsRejected(t *testing.T) {
	ctx := ir.NewContext()
	m := ctx.MustCreateMethod("notakernel", 0, ir.Void())
	m.AddParam("x", ir.Primitive(ir.Int32))
	_, err := NewEntryPoint(m, abi.New(abi.Platform64Bit), SharedMemorySpec{}, KernelSpecialization{})
	assert.Error(t, err)

	empty := ctx.MustCreateMethod("noparams", 0, ir.Void())
	_, err = NewEntryPoint(empty, abi.New(abi.Platform64Bit), SharedMemorySpec{}, KernelSpecialization{})
	assert.Error(t, err)
}

func TestSpecializationValidation(t *testing.T) {
	m := newKernelMethod(t, "k", ir.Index1D)
	_, err := NewEntryPoint(m, abi.New(abi.Platform64Bit), SharedMemorySpec{},
		KernelSpecialization{MaxThreadsPerGroup: -1})
	assert.Error(t, err)

	ep, err := NewEntryPoint(m, abi.New(abi.Platform64Bit), SharedMemorySpec{},
		KernelSpecialization{MaxThreadsPerGroup: 256, MinGroupsPerMultiprocessor: 2})
	require.NoError(t, err)
	assert.Equal(t, 256, ep.Specialization.MaxThreadsPerGroup)
	assert.Equal(t, 2, ep.Specialization.MinGroupsPerMultiprocessor)
}
