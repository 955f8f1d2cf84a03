package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"j5.nz/gkc/ir"
)

func TestStructLayout(t *testing.T) {
	mixed := ir.Struct(
		ir.Primitive(ir.Int8),
		ir.Primitive(ir.Int64),
		ir.Primitive(ir.Int8),
	)

	tests := []struct {
		name      string
		platform  TargetPlatform
		typ       ir.Type
		size      int
		alignment int
		offsets   []int
	}{
		{
			name:     "mixed 64-bit",
			platform: Platform64Bit,
			typ:      mixed,
			size:     24, alignment: 8, offsets: []int{0, 8, 16},
		},
		{
			name:     "packed pair",
			platform: Platform64Bit,
			typ:      ir.Struct(ir.Primitive(ir.Int32), ir.Primitive(ir.Int32)),
			size:     8, alignment: 4, offsets: []int{0, 4},
		},
		{
			name:     "tail padding",
			platform: Platform64Bit,
			typ:      ir.Struct(ir.Primitive(ir.Int64), ir.Primitive(ir.Int16)),
			size:     16, alignment: 8, offsets: []int{0, 8},
		},
		{
			name:     "array of floats",
			platform: Platform64Bit,
			typ:      ir.Array(ir.Primitive(ir.Float32), 3),
			size:     12, alignment: 4, offsets: []int{0, 4, 8},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.platform)
			info := a.TypeInfoOf(tt.typ)
			assert.Equal(t, tt.size, info.Size)
			assert.Equal(t, tt.alignment, info.Alignment)
			assert.Equal(t, tt.offsets, info.FieldOffsets)
		})
	}
}

func TestStructLayout32BitPointers(t *testing.T) {
	// On the 32-bit platform pointers shrink to 4 bytes, and a struct of
	// {i8, ptr, i8} packs accordingly.
	withPtr := ir.Struct(
		ir.Primitive(ir.Int8),
		ir.Pointer(ir.Primitive(ir.Float32), ir.SpaceGlobal),
		ir.Primitive(ir.Int8),
	)
	a := New(Platform32Bit)
	info := a.TypeInfoOf(withPtr)
	assert.Equal(t, []int{0, 4, 8}, info.FieldOffsets)
	assert.Equal(t, 4, info.Alignment)
	assert.Equal(t, 12, info.Size)

	a64 := New(Platform64Bit)
	info64 := a64.TypeInfoOf(withPtr)
	assert.Equal(t, []int{0, 8, 16}, info64.FieldOffsets)
	assert.Equal(t, 24, info64.Size)
}

func TestEmptyStruct(t *testing.T) {
	a := New(Platform64Bit)
	info := a.TypeInfoOf(ir.Struct())
	assert.Equal(t, 1, info.Size)
	assert.Equal(t, 1, info.Alignment)
	assert.Empty(t, info.FieldOffsets)
}

func TestViewLayout(t *testing.T) {
	view := ir.View(ir.Primitive(ir.Float32), ir.SpaceGlobal)

	a64 := New(Platform64Bit)
	assert.Equal(t, 16, a64.SizeOf(view))
	assert.Equal(t, 8, a64.AlignmentOf(view))
	assert.Equal(t, []int{0, 8}, a64.OffsetsOf(view))

	a32 := New(Platform32Bit)
	assert.Equal(t, 8, a32.SizeOf(view))
	assert.Equal(t, []int{0, 4}, a32.OffsetsOf(view))
}

func TestViewSizeOverride(t *testing.T) {
	a := New(Platform64Bit, WithViewSize(func(a *ABI) int {
		return a.PointerSize() * 2
	}))
	assert.Equal(t, 16, a.SizeOf(ir.View(ir.Primitive(ir.Int8), ir.SpaceGlobal)))
}

func TestOffsetsAreMonotonicAndAligned(t *testing.T) {
	s := ir.Struct(
		ir.Primitive(ir.Int16),
		ir.Primitive(ir.Float64),
		ir.Primitive(ir.Int8),
		ir.Primitive(ir.Int32),
		ir.Struct(ir.Primitive(ir.Int8), ir.Primitive(ir.Int64)),
	)
	a := New(Platform64Bit)
	info := a.TypeInfoOf(s)
	fields := ir.CompoundFields(s)

	require.Len(t, info.FieldOffsets, len(fields))
	for i, f := range fields {
		assert.Zerof(t, info.FieldOffsets[i]%a.AlignmentOf(f),
			"field %d misaligned", i)
		if i > 0 {
			prev := fields[i-1]
			assert.GreaterOrEqual(t, info.FieldOffsets[i],
				info.FieldOffsets[i-1]+a.SizeOf(prev))
		}
	}
	last := len(fields) - 1
	assert.Equal(t,
		Align(info.FieldOffsets[last]+a.SizeOf(fields[last]), info.Alignment),
		info.Size)
	assert.Zero(t, info.Size%info.Alignment)
}

func TestPointerArithmeticType(t *testing.T) {
	assert.Equal(t, ir.Int64, New(Platform64Bit).PointerArithmeticType())
	assert.Equal(t, ir.Int32, New(Platform32Bit).PointerArithmeticType())
}

func TestMemoizationByIdentity(t *testing.T) {
	a := New(Platform64Bit)
	s := ir.Struct(ir.Primitive(ir.Int32))
	first := a.TypeInfoOf(s)
	second := a.TypeInfoOf(s)
	assert.Same(t, first, second)
}
