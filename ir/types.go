// Package ir implements the SSA intermediate representation the kernel
// compiler lowers through: a type system over primitives, pointers, views
// and structures, value nodes grouped into basic blocks, methods, and
// scoped contexts that own them.
package ir

import (
	"fmt"
	"strings"
)

// === Type System ===

// BasicValueType represents a primitive value type.
type BasicValueType int

const (
	Int1 BasicValueType = iota
	Int8
	Int16
	Int32
	Int64
	Float16
	Float32
	Float64
)

// Size returns the storage size of the primitive in bytes. Int1 occupies a
// full byte in memory.
func (b BasicValueType) Size() int {
	switch b {
	case Int1, Int8:
		return 1
	case Int16, Float16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	panic(fmt.Sprintf("ir: unknown basic value type %d", int(b)))
}

// IsFloat reports whether the primitive is a floating-point type.
func (b BasicValueType) IsFloat() bool {
	return b == Float16 || b == Float32 || b == Float64
}

// IsInt reports whether the primitive is an integer type (including Int1).
func (b BasicValueType) IsInt() bool {
	return !b.IsFloat()
}

func (b BasicValueType) String() string {
	switch b {
	case Int1:
		return "i1"
	case Int8:
		return "i8"
	case Int16:
		return "i16"
	case Int32:
		return "i32"
	case Int64:
		return "i64"
	case Float16:
		return "f16"
	case Float32:
		return "f32"
	case Float64:
		return "f64"
	}
	return fmt.Sprintf("basic_%d", int(b))
}

// AddressSpace identifies the memory address space of pointers and views.
type AddressSpace int

const (
	SpaceGeneric AddressSpace = iota
	SpaceGlobal
	SpaceShared
	SpaceLocal
)

func (s AddressSpace) String() string {
	switch s {
	case SpaceGeneric:
		return "generic"
	case SpaceGlobal:
		return "global"
	case SpaceShared:
		return "shared"
	case SpaceLocal:
		return "local"
	}
	return fmt.Sprintf("space_%d", int(s))
}

// TypeKind discriminates the Type union.
type TypeKind int

const (
	KindPrimitive TypeKind = iota
	KindPointer
	KindView
	KindStruct
	KindArray
	KindString
	KindVoid
)

// Type is the tagged union over all IR types. Primitive, string and void
// types are canonical singletons so that identity-keyed caches (ABI layout
// memoization) work across independently constructed IR graphs.
type Type interface {
	Kind() TypeKind
	String() string
}

// PrimitiveType wraps a basic value type.
type PrimitiveType struct {
	Basic BasicValueType
}

// PointerType is a raw pointer into an address space.
type PointerType struct {
	Elem  Type
	Space AddressSpace
}

// ViewType is a (pointer, length) pair over a region in an address space.
type ViewType struct {
	Elem  Type
	Space AddressSpace
}

// StructType is an ordered sequence of field types. Name is empty for
// anonymous structures; the index types are recognized by name.
type StructType struct {
	Name   string
	Fields []Type
}

// ArrayType is a fixed-length sequence of elements.
type ArrayType struct {
	Elem Type
	Len  int
}

// StringType is an immutable string handle.
type StringType struct{}

// VoidType is the absence of a value.
type VoidType struct{}

func (*PrimitiveType) Kind() TypeKind { return KindPrimitive }
func (*PointerType) Kind() TypeKind   { return KindPointer }
func (*ViewType) Kind() TypeKind      { return KindView }
func (*StructType) Kind() TypeKind    { return KindStruct }
func (*ArrayType) Kind() TypeKind     { return KindArray }
func (*StringType) Kind() TypeKind    { return KindString }
func (*VoidType) Kind() TypeKind      { return KindVoid }

func (t *PrimitiveType) String() string { return t.Basic.String() }

func (t *PointerType) String() string {
	return fmt.Sprintf("*%s [%s]", t.Elem, t.Space)
}

func (t *ViewType) String() string {
	return fmt.Sprintf("view<%s> [%s]", t.Elem, t.Space)
}

func (t *StructType) String() string {
	if t.Name != "" {
		return t.Name
	}
	var sb strings.Builder
	sb.WriteString("struct { ")
	for i, f := range t.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.String())
	}
	sb.WriteString(" }")
	return sb.String()
}

func (t *ArrayType) String() string {
	return fmt.Sprintf("[%d]%s", t.Len, t.Elem)
}

func (*StringType) String() string { return "string" }
func (*VoidType) String() string   { return "void" }

// Canonical singletons.
var (
	primitives = [...]*PrimitiveType{
		{Int1}, {Int8}, {Int16}, {Int32}, {Int64},
		{Float16}, {Float32}, {Float64},
	}
	stringSingleton = &StringType{}
	voidSingleton   = &VoidType{}
)

// Primitive returns the canonical type node for a basic value type.
func Primitive(b BasicValueType) *PrimitiveType {
	return primitives[int(b)]
}

// Str returns the canonical string type.
func Str() *StringType { return stringSingleton }

// Void returns the canonical void type.
func Void() *VoidType { return voidSingleton }

// Pointer constructs a pointer type.
func Pointer(elem Type, space AddressSpace) *PointerType {
	return &PointerType{Elem: elem, Space: space}
}

// View constructs a view type.
func View(elem Type, space AddressSpace) *ViewType {
	return &ViewType{Elem: elem, Space: space}
}

// Struct constructs an anonymous structure type.
func Struct(fields ...Type) *StructType {
	return &StructType{Fields: fields}
}

// Array constructs a fixed-length array type.
func Array(elem Type, length int) *ArrayType {
	return &ArrayType{Elem: elem, Len: length}
}

// IsVoid reports whether t is the void type.
func IsVoid(t Type) bool {
	return t.Kind() == KindVoid
}

// === Index Types ===

// IndexKind classifies kernel index-space types. Grouped kinds expose a
// (grid, group) pair instead of a flattened global index.
type IndexKind int

const (
	IndexNone IndexKind = iota
	Index1D
	Index2D
	Index3D
	GroupedIndex1D
	GroupedIndex2D
	GroupedIndex3D
)

// IsGrouped reports whether the kind exposes explicit grid/group indices.
func (k IndexKind) IsGrouped() bool { return k >= GroupedIndex1D }

// Dimensions returns the dimensionality of the index space (1..3).
func (k IndexKind) Dimensions() int {
	switch k {
	case Index1D, GroupedIndex1D:
		return 1
	case Index2D, GroupedIndex2D:
		return 2
	case Index3D, GroupedIndex3D:
		return 3
	}
	return 0
}

func (k IndexKind) String() string {
	switch k {
	case Index1D:
		return "Index1D"
	case Index2D:
		return "Index2D"
	case Index3D:
		return "Index3D"
	case GroupedIndex1D:
		return "GroupedIndex1D"
	case GroupedIndex2D:
		return "GroupedIndex2D"
	case GroupedIndex3D:
		return "GroupedIndex3D"
	}
	return "IndexNone"
}

var indexTypes = map[IndexKind]*StructType{}

func init() {
	i32 := Primitive(Int32)
	dims := func(n int) []Type {
		fs := make([]Type, n)
		for i := range fs {
			fs[i] = i32
		}
		return fs
	}
	indexTypes[Index1D] = &StructType{Name: "Index1D", Fields: dims(1)}
	indexTypes[Index2D] = &StructType{Name: "Index2D", Fields: dims(2)}
	indexTypes[Index3D] = &StructType{Name: "Index3D", Fields: dims(3)}
	for k, base := range map[IndexKind]IndexKind{
		GroupedIndex1D: Index1D,
		GroupedIndex2D: Index2D,
		GroupedIndex3D: Index3D,
	} {
		indexTypes[k] = &StructType{
			Name:   k.String(),
			Fields: []Type{indexTypes[base], indexTypes[base]},
		}
	}
}

// IndexType returns the canonical struct type for an index kind.
func IndexType(k IndexKind) *StructType {
	t, ok := indexTypes[k]
	if !ok {
		panic(fmt.Sprintf("ir: no index type for kind %d", int(k)))
	}
	return t
}

// IndexKindOf classifies a type as one of the index kinds, or IndexNone.
func IndexKindOf(t Type) IndexKind {
	s, ok := t.(*StructType)
	if !ok {
		return IndexNone
	}
	for k, it := range indexTypes {
		if s == it || s.Name == it.Name {
			return k
		}
	}
	return IndexNone
}
