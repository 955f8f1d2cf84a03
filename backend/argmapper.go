package backend

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/hashicorp/go-multierror"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/ir"
)

// === Argument Mapping ===

// ViewArgument is implemented by host-side view handles. The mapper
// serializes them as a device pointer plus a 32-bit length.
type ViewArgument interface {
	ViewPointer() uint64
	ViewLength() int32
}

// Mapping is one step of the argument serialization plan. TargetID is the
// slot index in the outbound layout; leaves know how to read their source
// through reflection and write the target slot.
type Mapping interface {
	TargetID() int
	Store(buf *KernelArgumentBuffer, src reflect.Value) error
}

// PrimitiveMapping copies a primitive into its target slot.
type PrimitiveMapping struct {
	Target int
	Offset int
	Basic  ir.BasicValueType
}

func (m *PrimitiveMapping) TargetID() int { return m.Target }

func (m *PrimitiveMapping) Store(buf *KernelArgumentBuffer, src reflect.Value) error {
	var raw uint64
	switch src.Kind() {
	case reflect.Bool:
		if src.Bool() {
			raw = 1
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		raw = uint64(src.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		raw = src.Uint()
	case reflect.Float32:
		raw = uint64(math.Float32bits(float32(src.Float())))
	case reflect.Float64:
		raw = math.Float64bits(src.Float())
	default:
		return &UnsupportedParameterTypeError{Type: src.Type().String()}
	}
	buf.put(m.Offset, m.Basic.Size(), raw)
	return nil
}

// ViewMapping serializes a view handle as pointer plus length.
type ViewMapping struct {
	Target      int
	Offset      int
	PointerSize int
}

func (m *ViewMapping) TargetID() int { return m.Target }

func (m *ViewMapping) Store(buf *KernelArgumentBuffer, src reflect.Value) error {
	view, ok := src.Interface().(ViewArgument)
	if !ok {
		return &UnsupportedParameterTypeError{Type: src.Type().String()}
	}
	buf.put(m.Offset, m.PointerSize, view.ViewPointer())
	buf.put(m.Offset+m.PointerSize, 4, uint64(uint32(view.ViewLength())))
	return nil
}

// StructMapping drives its field mappings in declared order.
type StructMapping struct {
	Target int
	Fields []Mapping
}

func (m *StructMapping) TargetID() int { return m.Target }

func (m *StructMapping) Store(buf *KernelArgumentBuffer, src reflect.Value) error {
	var errs error
	for i, f := range m.Fields {
		if err := f.Store(buf, src.Field(i)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// KernelArgumentBuffer is the outbound argument block laid out by the ABI.
type KernelArgumentBuffer struct {
	Data []byte
}

func (b *KernelArgumentBuffer) put(offset, size int, raw uint64) {
	switch size {
	case 1:
		b.Data[offset] = byte(raw)
	case 2:
		binary.LittleEndian.PutUint16(b.Data[offset:], uint16(raw))
	case 4:
		binary.LittleEndian.PutUint32(b.Data[offset:], uint32(raw))
	case 8:
		binary.LittleEndian.PutUint64(b.Data[offset:], raw)
	default:
		panic(fmt.Sprintf("backend: invalid slot size %d", size))
	}
}

// MappingPlan is the flattened serialization plan of one kernel signature.
type MappingPlan struct {
	Arguments []Mapping
	Size      int
}

// Serialize marshals host argument values into a launch-ready buffer.
func (p *MappingPlan) Serialize(args ...any) ([]byte, error) {
	if len(args) != len(p.Arguments) {
		return nil, fmt.Errorf("argument count mismatch: got %d, plan has %d",
			len(args), len(p.Arguments))
	}
	buf := &KernelArgumentBuffer{Data: make([]byte, p.Size)}
	for i, m := range p.Arguments {
		if err := m.Store(buf, reflect.ValueOf(args[i])); err != nil {
			return nil, err
		}
	}
	return buf.Data, nil
}

// ArgumentMapper flattens host-side parameter types into mapping plans:
// primitive leaves are read in declared order and written to sequential
// target slots. Plans are cached per signature.
type ArgumentMapper struct {
	abi *abi.ABI

	mu    sync.Mutex
	cache map[string]*MappingPlan
}

// NewArgumentMapper creates a mapper over an ABI.
func NewArgumentMapper(a *abi.ABI) *ArgumentMapper {
	return &ArgumentMapper{abi: a, cache: make(map[string]*MappingPlan)}
}

var viewArgumentType = reflect.TypeOf((*ViewArgument)(nil)).Elem()

// Map builds the serialization plan for a host argument list described by
// its reflected types.
func (am *ArgumentMapper) Map(types ...reflect.Type) (*MappingPlan, error) {
	key := signatureKey(types)
	am.mu.Lock()
	if plan, ok := am.cache[key]; ok {
		am.mu.Unlock()
		return plan, nil
	}
	am.mu.Unlock()

	plan := &MappingPlan{}
	state := &mapState{abi: am.abi}
	for _, t := range types {
		m, err := state.mapType(t)
		if err != nil {
			return nil, err
		}
		plan.Arguments = append(plan.Arguments, m)
	}
	plan.Size = abi.Align(state.offset, am.abi.PointerSize())

	am.mu.Lock()
	am.cache[key] = plan
	am.mu.Unlock()
	return plan, nil
}

// ClearCache drops cached plans according to mode.
func (am *ArgumentMapper) ClearCache(mode CacheMode) {
	if mode == ClearNothing {
		return
	}
	am.mu.Lock()
	am.cache = make(map[string]*MappingPlan)
	am.mu.Unlock()
}

type mapState struct {
	abi      *abi.ABI
	offset   int
	targetID int
}

func (s *mapState) nextSlot(size, align int) (target, offset int) {
	offset = abi.Align(s.offset, align)
	s.offset = offset + size
	target = s.targetID
	s.targetID++
	return target, offset
}

func (s *mapState) mapType(t reflect.Type) (Mapping, error) {
	if t.Implements(viewArgumentType) || reflect.PointerTo(t).Implements(viewArgumentType) {
		ptr := s.abi.PointerSize()
		target, offset := s.nextSlot(ptr+4, ptr)
		return &ViewMapping{
			Target:      target,
			Offset:      offset,
			PointerSize: ptr,
		}, nil
	}

	if basic, ok := basicOf(t.Kind()); ok {
		size := basic.Size()
		target, offset := s.nextSlot(size, size)
		return &PrimitiveMapping{Target: target, Offset: offset, Basic: basic}, nil
	}

	if t.Kind() == reflect.Struct {
		m := &StructMapping{Target: s.targetID}
		for i := 0; i < t.NumField(); i++ {
			fm, err := s.mapType(t.Field(i).Type)
			if err != nil {
				return nil, err
			}
			m.Fields = append(m.Fields, fm)
		}
		return m, nil
	}

	// Pointers, references, arrays, slices, maps, funcs and interfaces
	// cannot be marshalled to the device.
	return nil, &UnsupportedParameterTypeError{Type: t.String()}
}

func basicOf(k reflect.Kind) (ir.BasicValueType, bool) {
	switch k {
	case reflect.Bool:
		return ir.Int1, true
	case reflect.Int8, reflect.Uint8:
		return ir.Int8, true
	case reflect.Int16, reflect.Uint16:
		return ir.Int16, true
	case reflect.Int32, reflect.Uint32:
		return ir.Int32, true
	case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint:
		return ir.Int64, true
	case reflect.Float32:
		return ir.Float32, true
	case reflect.Float64:
		return ir.Float64, true
	}
	return 0, false
}

func signatureKey(types []reflect.Type) string {
	key := ""
	for _, t := range types {
		key += t.String() + ";"
	}
	return key
}
