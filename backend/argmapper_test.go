package backend

import (
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"j5.nz/gkc/abi"
)

// deviceView is a host-side view handle for tests.
type deviceView struct {
	ptr uint64
	len int32
}

func (v deviceView) ViewPointer() uint64 { return v.ptr }
func (v deviceView) ViewLength() int32   { return v.len }

func newMapper() *ArgumentMapper {
	return NewArgumentMapper(abi.New(abi.Platform64Bit))
}

func TestMapPrimitives(t *testing.T) {
	am := newMapper()
	plan, err := am.Map(
		reflect.TypeOf(int32(0)),
		reflect.TypeOf(float64(0)),
		reflect.TypeOf(false),
	)
	require.NoError(t, err)
	require.Len(t, plan.Arguments, 3)

	// i32 at 0, f64 aligned to 8, bool after it.
	assert.Equal(t, 0, plan.Arguments[0].(*PrimitiveMapping).Offset)
	assert.Equal(t, 8, plan.Arguments[1].(*PrimitiveMapping).Offset)
	assert.Equal(t, 16, plan.Arguments[2].(*PrimitiveMapping).Offset)

	buf, err := plan.Serialize(int32(7), 2.5, true)
	require.NoError(t, err)
	assert.EqualValues(t, 7, binary.LittleEndian.Uint32(buf[0:]))
	assert.EqualValues(t, 0x4004000000000000, binary.LittleEndian.Uint64(buf[8:]))
	assert.EqualValues(t, 1, buf[16])
}

func TestMapStructPreservesFieldOrder(t *testing.T) {
	type params struct {
		A int8
		B int64
		C int8
	}
	am := newMapper()
	plan, err := am.Map(reflect.TypeOf(params{}))
	require.NoError(t, err)

	s, ok := plan.Arguments[0].(*StructMapping)
	require.True(t, ok)
	require.Len(t, s.Fields, 3)

	offsets := make([]int, 3)
	for i, f := range s.Fields {
		offsets[i] = f.(*PrimitiveMapping).Offset
	}
	// Leaves land in sequential, aligned slots in declared order.
	assert.Equal(t, []int{0, 8, 16}, offsets)
	assert.Equal(t, 0, s.Fields[0].TargetID())
	assert.Equal(t, 1, s.Fields[1].TargetID())
	assert.Equal(t, 2, s.Fields[2].TargetID())

	buf, err := plan.Serialize(params{A: 1, B: -2, C: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 1, buf[0])
	assert.EqualValues(t, uint64(0xfffffffffffffffe), binary.LittleEndian.Uint64(buf[8:]))
	assert.EqualValues(t, 3, buf[16])
}

func TestMapNestedStruct(t *testing.T) {
	type inner struct {
		X float32
		Y float32
	}
	type outer struct {
		N int32
		I inner
	}
	am := newMapper()
	plan, err := am.Map(reflect.TypeOf(outer{}))
	require.NoError(t, err)

	s := plan.Arguments[0].(*StructMapping)
	require.Len(t, s.Fields, 2)
	_, ok := s.Fields[1].(*StructMapping)
	assert.True(t, ok)

	buf, err := plan.Serialize(outer{N: 1, I: inner{X: 2, Y: 3}})
	require.NoError(t, err)
	assert.Len(t, buf, plan.Size)
}

func TestMapEmptyStruct(t *testing.T) {
	type empty struct{}
	am := newMapper()
	plan, err := am.Map(reflect.TypeOf(empty{}))
	require.NoError(t, err)
	s := plan.Arguments[0].(*StructMapping)
	assert.Empty(t, s.Fields)
}

func TestMapView(t *testing.T) {
	am := newMapper()
	plan, err := am.Map(reflect.TypeOf(deviceView{}))
	require.NoError(t, err)

	v, ok := plan.Arguments[0].(*ViewMapping)
	require.True(t, ok)
	assert.Equal(t, 8, v.PointerSize)

	buf, err := plan.Serialize(deviceView{ptr: 0xdeadbeef, len: 42})
	require.NoError(t, err)
	assert.EqualValues(t, 0xdeadbeef, binary.LittleEndian.Uint64(buf[0:]))
	assert.EqualValues(t, 42, binary.LittleEndian.Uint32(buf[8:]))
}

func TestMapRejectsUnsupportedKinds(t *testing.T) {
	am := newMapper()
	cases := []reflect.Type{
		reflect.TypeOf(&struct{}{}),
		reflect.TypeOf([]int32{}),
		reflect.TypeOf([4]int32{}),
		reflect.TypeOf(map[string]int{}),
		reflect.TypeOf(func() {}),
		reflect.TypeOf("str"),
	}
	for _, typ := range cases {
		_, err := am.Map(typ)
		var unsupported *UnsupportedParameterTypeError
		assert.ErrorAs(t, err, &unsupported, typ.String())
	}
}

func TestMapCachesPlansPerSignature(t *testing.T) {
	am := newMapper()
	first, err := am.Map(reflect.TypeOf(int32(0)))
	require.NoError(t, err)
	second, err := am.Map(reflect.TypeOf(int32(0)))
	require.NoError(t, err)
	assert.Same(t, first, second)

	am.ClearCache(ClearEverything)
	third, err := am.Map(reflect.TypeOf(int32(0)))
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestSerializeArgumentCountMismatch(t *testing.T) {
	am := newMapper()
	plan, err := am.Map(reflect.TypeOf(int32(0)))
	require.NoError(t, err)
	_, err = plan.Serialize()
	assert.Error(t, err)
}
