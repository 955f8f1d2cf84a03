// Package abi resolves native sizes, alignments and field offsets of IR
// types under a target platform.
package abi

import (
	"fmt"
	"runtime"
	"sync"

	"j5.nz/gkc/ir"
)

// === Target Platforms ===

// TargetPlatform selects the pointer model of the compilation target.
type TargetPlatform int

const (
	Platform32Bit TargetPlatform = iota
	Platform64Bit
)

func (p TargetPlatform) String() string {
	if p == Platform32Bit {
		return "32-bit"
	}
	return "64-bit"
}

// PointerSize returns the pointer size in bytes.
func (p TargetPlatform) PointerSize() int {
	if p == Platform32Bit {
		return 4
	}
	return 8
}

// CurrentPlatform derives the platform from the process architecture:
// x86 and 32-bit Arm map to the 32-bit platform, everything else to 64-bit.
func CurrentPlatform() TargetPlatform {
	switch runtime.GOARCH {
	case "386", "arm":
		return Platform32Bit
	default:
		return Platform64Bit
	}
}

// === Type Information ===

// TypeInfo is the resolved layout of a type: total size, alignment and the
// offset of each field. Size is always a multiple of Alignment.
type TypeInfo struct {
	Size         int
	Alignment    int
	FieldOffsets []int
}

// ViewSizeFunc decides the native size of a view under a given ABI.
type ViewSizeFunc func(a *ABI) int

// defaultViewSize lays a view out as pointer + 32-bit length, padded to
// pointer alignment.
func defaultViewSize(a *ABI) int {
	return Align(a.PointerSize()+4, a.PointerSize())
}

// ABI resolves type layouts for a target platform. Layout results are
// memoized by type-node identity; the cache is safe for concurrent readers
// and writers, but callers are expected to resolve all types before the
// parallel code-generation fork.
type ABI struct {
	platform TargetPlatform
	viewSize ViewSizeFunc

	mu    sync.Mutex
	cache map[ir.Type]*TypeInfo
}

// Option configures an ABI.
type Option func(*ABI)

// WithViewSize overrides the view layout policy.
func WithViewSize(f ViewSizeFunc) Option {
	return func(a *ABI) { a.viewSize = f }
}

// New creates an ABI for the platform.
func New(platform TargetPlatform, opts ...Option) *ABI {
	a := &ABI{
		platform: platform,
		viewSize: defaultViewSize,
		cache:    make(map[ir.Type]*TypeInfo),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platform returns the target platform.
func (a *ABI) Platform() TargetPlatform { return a.platform }

// PointerSize returns the pointer size in bytes.
func (a *ABI) PointerSize() int { return a.platform.PointerSize() }

// PointerArithmeticType returns the unsigned integer width used for address
// arithmetic.
func (a *ABI) PointerArithmeticType() ir.BasicValueType {
	if a.platform == Platform32Bit {
		return ir.Int32
	}
	return ir.Int64
}

// Align rounds offset up to the next multiple of alignment.
func Align(offset, alignment int) int {
	return (offset + alignment - 1) / alignment * alignment
}

// AlignFor rounds offset up to the alignment of t.
func (a *ABI) AlignFor(offset int, t ir.Type) int {
	return Align(offset, a.AlignmentOf(t))
}

// SizeOf returns the native size of t in bytes.
func (a *ABI) SizeOf(t ir.Type) int {
	return a.TypeInfoOf(t).Size
}

// AlignmentOf returns the native alignment of t in bytes.
func (a *ABI) AlignmentOf(t ir.Type) int {
	return a.TypeInfoOf(t).Alignment
}

// OffsetsOf returns the field offsets of t. Empty for non-compound types.
func (a *ABI) OffsetsOf(t ir.Type) []int {
	return a.TypeInfoOf(t).FieldOffsets
}

// OffsetOf returns the offset of field index within t.
func (a *ABI) OffsetOf(t ir.Type, index int) int {
	return a.TypeInfoOf(t).FieldOffsets[index]
}

// TypeInfoOf resolves the full layout of t.
func (a *ABI) TypeInfoOf(t ir.Type) *TypeInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolve(t)
}

// resolve computes or returns the memoized layout. Caller holds a.mu;
// recursion stays under the same lock.
func (a *ABI) resolve(t ir.Type) *TypeInfo {
	if info, ok := a.cache[t]; ok {
		return info
	}
	info := a.compute(t)
	a.cache[t] = info
	return info
}

func (a *ABI) compute(t ir.Type) *TypeInfo {
	switch c := t.(type) {
	case *ir.PrimitiveType:
		s := c.Basic.Size()
		return &TypeInfo{Size: s, Alignment: min(s, a.PointerSize())}

	case *ir.PointerType:
		return &TypeInfo{Size: a.PointerSize(), Alignment: a.PointerSize()}

	case *ir.StringType:
		// Strings are opaque handles and occupy a pointer slot.
		return &TypeInfo{Size: a.PointerSize(), Alignment: a.PointerSize()}

	case *ir.ViewType:
		size := a.viewSize(a)
		align := a.PointerSize()
		return &TypeInfo{
			Size:         Align(size, align),
			Alignment:    align,
			FieldOffsets: []int{0, a.PointerSize()},
		}

	case *ir.VoidType:
		panic("abi: void has no layout")

	case *ir.StructType, *ir.ArrayType:
		fields := ir.CompoundFields(t)
		if len(fields) == 0 {
			// Empty containers occupy a single byte.
			return &TypeInfo{Size: 1, Alignment: 1}
		}
		offset := 0
		maxAlign := 1
		offsets := make([]int, len(fields))
		for i, f := range fields {
			fi := a.resolve(f)
			elementOffset := Align(offset, fi.Alignment)
			offsets[i] = elementOffset
			offset = elementOffset + fi.Size
			if fi.Alignment > maxAlign {
				maxAlign = fi.Alignment
			}
		}
		return &TypeInfo{
			Size:         Align(offset, maxAlign),
			Alignment:    maxAlign,
			FieldOffsets: offsets,
		}

	default:
		panic(fmt.Sprintf("abi: unsupported type %T", t))
	}
}
