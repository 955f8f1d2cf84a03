package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/ir"
)

// testTarget assigns one register class per primitive width.
type testTarget struct{}

func (testTarget) DescribePrimitive(basic ir.BasicValueType) RegisterDescription {
	return RegisterDescription{Basic: basic, Kind: RegisterKind(basic.Size())}
}

func newTestAllocator() *RegisterAllocator {
	return NewRegisterAllocator(abi.New(abi.Platform64Bit), testTarget{})
}

func testValues(t *testing.T, types ...ir.Type) []ir.Value {
	t.Helper()
	ctx := ir.NewContext()
	m := ctx.MustCreateMethod("probe", 0, ir.Void())
	values := make([]ir.Value, len(types))
	for i, typ := range types {
		values[i] = m.AddParam("", typ)
	}
	return values
}

func TestAllocateIsIdempotent(t *testing.T) {
	ra := newTestAllocator()
	v := testValues(t, ir.Primitive(ir.Int32))[0]
	first := ra.Allocate(v)
	second := ra.Allocate(v)
	assert.Same(t, first, second)
}

func TestAllocateCompoundMirrorsType(t *testing.T) {
	ra := newTestAllocator()
	s := ir.Struct(
		ir.Primitive(ir.Float32),
		ir.Struct(ir.Primitive(ir.Int8), ir.Primitive(ir.Int64)),
		ir.Primitive(ir.Int32),
	)
	v := testValues(t, s)[0]

	comp, ok := ra.Allocate(v).(*CompoundRegister)
	require.True(t, ok)
	require.Len(t, comp.Children, 3)

	inner, ok := comp.Children[1].(*CompoundRegister)
	require.True(t, ok)
	require.Len(t, inner.Children, 2)
	assert.Equal(t, ir.Int8, inner.Children[0].(*PrimitiveRegister).Desc.Basic)
	assert.Equal(t, ir.Int64, inner.Children[1].(*PrimitiveRegister).Desc.Basic)
}

func TestViewAllocatesPointerPlusLength(t *testing.T) {
	ra := newTestAllocator()
	v := testValues(t, ir.View(ir.Primitive(ir.Float32), ir.SpaceGlobal))[0]
	comp, ok := ra.Allocate(v).(*CompoundRegister)
	require.True(t, ok)
	require.Len(t, comp.Children, 2)
	assert.Equal(t, ir.Int64, comp.Children[0].(*PrimitiveRegister).Desc.Basic)
	assert.Equal(t, ir.Int32, comp.Children[1].(*PrimitiveRegister).Desc.Basic)
}

func TestAliasResolvesChains(t *testing.T) {
	ra := newTestAllocator()
	vs := testValues(t,
		ir.Primitive(ir.Int32), ir.Primitive(ir.Int32), ir.Primitive(ir.Int32))

	// c -> b -> a resolves through the whole chain.
	ra.Alias(vs[2], vs[1])
	ra.Alias(vs[1], vs[0])
	root := ra.Allocate(vs[0])
	assert.Same(t, root, ra.Allocate(vs[2]))
	assert.Same(t, root, ra.Allocate(vs[1]))
}

func TestAliasCyclePanics(t *testing.T) {
	ra := newTestAllocator()
	vs := testValues(t, ir.Primitive(ir.Int32), ir.Primitive(ir.Int32))
	ra.Alias(vs[0], vs[1])
	ra.Alias(vs[1], vs[0])
	assert.Panics(t, func() { ra.Allocate(vs[0]) })
}

func TestLoadUnboundFails(t *testing.T) {
	ra := newTestAllocator()
	v := testValues(t, ir.Primitive(ir.Int32))[0]
	_, err := ra.Load(v)
	require.Error(t, err)
	var ice *InvalidCodeGenerationError
	assert.ErrorAs(t, err, &ice)
}

func TestFreeRecyclesIndices(t *testing.T) {
	ra := newTestAllocator()
	vs := testValues(t, ir.Primitive(ir.Int32), ir.Primitive(ir.Int32))

	first := ra.Allocate(vs[0]).(*PrimitiveRegister)
	ra.Free(vs[0])
	second := ra.Allocate(vs[1]).(*PrimitiveRegister)
	assert.Equal(t, first.Index, second.Index)
	// The high-water mark stays at one register of that class.
	assert.Equal(t, 1, ra.NumRegistersOfKind(first.Desc.Kind))
}

func TestFreeCompoundReleasesAllChildren(t *testing.T) {
	ra := newTestAllocator()
	s := ir.Struct(ir.Primitive(ir.Int32), ir.Primitive(ir.Int32))
	vs := testValues(t, s, s)

	ra.Allocate(vs[0])
	ra.Free(vs[0])
	ra.Allocate(vs[1])
	kind := testTarget{}.DescribePrimitive(ir.Int32).Kind
	assert.Equal(t, 2, ra.NumRegistersOfKind(kind))

	_, err := ra.Load(vs[0])
	assert.Error(t, err)
}

func TestBindOverridesAllocation(t *testing.T) {
	ra := newTestAllocator()
	vs := testValues(t, ir.Primitive(ir.Int32), ir.Primitive(ir.Int32))
	shared := ra.Allocate(vs[0])
	ra.Bind(vs[1], shared)
	got, err := ra.Load(vs[1])
	require.NoError(t, err)
	assert.Same(t, shared, got)
}

func TestLoadPrimitiveRejectsCompound(t *testing.T) {
	ra := newTestAllocator()
	v := testValues(t, ir.Struct(ir.Primitive(ir.Int32)))[0]
	ra.Allocate(v)
	_, err := ra.LoadPrimitive(v)
	assert.Error(t, err)
	_, err = ra.LoadCompound(v)
	assert.NoError(t, err)
}
