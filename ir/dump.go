package ir

import (
	"fmt"
	"io"
	"strings"
)

// === IR Text Serialization ===

// Dump writes a human-readable listing of every method in the context.
// The format is stable and used by the IL stub backend and the IR-dump
// hooks.
func Dump(w io.Writer, ctx *Context) error {
	methods := ctx.Methods()
	if _, err := fmt.Fprintf(w, "; gkc IR context: %d method(s)\n\n", len(methods)); err != nil {
		return err
	}
	for _, m := range methods {
		if err := DumpMethod(w, m); err != nil {
			return err
		}
	}
	return nil
}

// DumpMethod writes a single method listing.
func DumpMethod(w io.Writer, m *Method) error {
	var sb strings.Builder

	flags := ""
	if m.HasFlags(MethodIntrinsic) {
		flags = " intrinsic"
	}
	fmt.Fprintf(&sb, "func %s%s (params=%d, blocks=%d) -> %s\n",
		irQuote(m.Name), flags, len(m.Params), len(m.Blocks), m.Return)

	for _, p := range m.Params {
		fmt.Fprintf(&sb, "  param %d %s : %s", p.Index, irQuote(p.Name), p.Type())
		if p.Shared != nil {
			if p.Shared.Dynamic() {
				fmt.Fprintf(&sb, " shared<%s, dynamic>", p.Shared.Element)
			} else {
				fmt.Fprintf(&sb, " shared<%s, %d>", p.Shared.Element, p.Shared.Count)
			}
		}
		sb.WriteByte('\n')
	}

	for _, b := range m.Blocks {
		fmt.Fprintf(&sb, "%s:\n", b)
		for _, phi := range b.Phis {
			fmt.Fprintf(&sb, "  %s = phi %s", valueRef(phi), phi.Type())
			for i, in := range phi.Operands() {
				fmt.Fprintf(&sb, " [%s, %s]", valueRef(in), phi.Incoming[i])
			}
			sb.WriteByte('\n')
		}
		for _, v := range b.Values {
			fmt.Fprintf(&sb, "  %s\n", formatValue(v))
		}
		if b.Terminator != nil {
			fmt.Fprintf(&sb, "  %s\n", formatValue(b.Terminator))
		}
	}
	sb.WriteString("end\n\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func valueRef(v Value) string {
	if p, ok := v.(*Param); ok {
		return "%arg" + fmt.Sprint(p.Index)
	}
	return "%" + fmt.Sprint(v.ID())
}

func opsRefs(v Value) string {
	parts := make([]string, 0, len(v.Operands()))
	for _, op := range v.Operands() {
		parts = append(parts, valueRef(op))
	}
	return strings.Join(parts, ", ")
}

func formatValue(v Value) string {
	lhs := ""
	if !IsVoid(v.Type()) {
		lhs = valueRef(v) + " = "
	}
	switch o := v.(type) {
	case *Const:
		if o.Basic.IsFloat() {
			return fmt.Sprintf("%sconst %s %g", lhs, o.Basic, o.Float64Value())
		}
		return fmt.Sprintf("%sconst %s %d", lhs, o.Basic, o.Int64Value())
	case *NullConst:
		return fmt.Sprintf("%snull %s", lhs, o.Type())
	case *StringConst:
		return fmt.Sprintf("%sstr %s", lhs, irQuote(o.Value))
	case *Aggregate:
		return fmt.Sprintf("%saggregate %s (%s)", lhs, o.Type(), opsRefs(o))
	case *Undef:
		return fmt.Sprintf("%sundef %s", lhs, o.Type())
	case *Handle:
		return fmt.Sprintf("%shandle %T", lhs, o.Object)
	case *AcceleratorTypeValue:
		return lhs + "accelerator_type"
	case *BinaryOp:
		return fmt.Sprintf("%s%s %s %s", lhs, o.Op, o.Type(), opsRefs(o))
	case *UnaryOp:
		return fmt.Sprintf("%s%s %s %s", lhs, o.Op, o.Type(), opsRefs(o))
	case *Compare:
		return fmt.Sprintf("%scmp.%s %s", lhs, o.Op, opsRefs(o))
	case *Convert:
		return fmt.Sprintf("%sconvert %s -> %s", lhs, valueRef(o.Source()), o.Type())
	case *PointerCast:
		return fmt.Sprintf("%sptrcast %s -> %s", lhs, valueRef(o.Source()), o.Type())
	case *AddressSpaceCast:
		return fmt.Sprintf("%saddrspacecast %s -> %s", lhs, valueRef(o.Source()), o.Type())
	case *ViewCast:
		return fmt.Sprintf("%sviewcast %s -> %s", lhs, valueRef(o.Source()), o.Type())
	case *Load:
		return fmt.Sprintf("%sload %s %s", lhs, o.Type(), valueRef(o.Address()))
	case *Store:
		return fmt.Sprintf("store %s, %s", valueRef(o.Address()), valueRef(o.Value()))
	case *FieldAddr:
		return fmt.Sprintf("%sfield_addr %s #%d", lhs, valueRef(o.Source()), o.Field)
	case *ElementAddr:
		return fmt.Sprintf("%selement_addr %s [%s]", lhs, valueRef(o.Source()), valueRef(o.Index()))
	case *GetField:
		return fmt.Sprintf("%sget_field %s #%d", lhs, valueRef(o.Aggregate()), o.Field)
	case *SetField:
		return fmt.Sprintf("%sset_field %s #%d = %s", lhs, valueRef(o.Aggregate()), o.Field, valueRef(o.Value()))
	case *Alloca:
		if o.Dynamic {
			return fmt.Sprintf("%salloca %s x dynamic [%s]", lhs, o.Elem, o.Space)
		}
		return fmt.Sprintf("%salloca %s x %d [%s]", lhs, o.Elem, o.Count, o.Space)
	case *DynamicMemoryLength:
		return fmt.Sprintf("%sdynamic_length %s", lhs, o.Elem)
	case *NewView:
		return fmt.Sprintf("%snew_view %s", lhs, opsRefs(o))
	case *SubView:
		return fmt.Sprintf("%ssub_view %s", lhs, opsRefs(o))
	case *ViewLength:
		return fmt.Sprintf("%sview_length %s", lhs, opsRefs(o))
	case *OutputWrite:
		return fmt.Sprintf("output_write %s", opsRefs(o))
	case *GridIndex:
		return fmt.Sprintf("%sgrid_index.%s", lhs, o.Dim)
	case *GroupIndex:
		return fmt.Sprintf("%sgroup_index.%s", lhs, o.Dim)
	case *GridDim:
		return fmt.Sprintf("%sgrid_dim.%s", lhs, o.Dim)
	case *GroupDim:
		return fmt.Sprintf("%sgroup_dim.%s", lhs, o.Dim)
	case *WarpSize:
		return lhs + "warp_size"
	case *LaneIndex:
		return lhs + "lane_index"
	case *Barrier:
		if o.Kind == BarrierWarp {
			return "barrier.warp"
		}
		return "barrier.group"
	case *Broadcast:
		scope := "group"
		if o.Kind == BroadcastWarp {
			scope = "warp"
		}
		return fmt.Sprintf("%sbroadcast.%s %s", lhs, scope, opsRefs(o))
	case *WarpShuffle:
		return fmt.Sprintf("%sshuffle.%s %s", lhs, o.Kind, opsRefs(o))
	case *DebugOp:
		if o.Kind == DebugAssert {
			return fmt.Sprintf("assert %s, %s", opsRefs(o), irQuote(o.Message))
		}
		return fmt.Sprintf("trace %s", irQuote(o.Message))
	case *Call:
		return fmt.Sprintf("%scall %s (%s)", lhs, irQuote(o.Target.Name), opsRefs(o))
	case *Phi:
		return fmt.Sprintf("%sphi %s", lhs, o.Type())
	case *Return:
		if o.Result() == nil {
			return "ret"
		}
		return fmt.Sprintf("ret %s", valueRef(o.Result()))
	case *Branch:
		return fmt.Sprintf("br %s", o.Target)
	case *IfBranch:
		return fmt.Sprintf("br_if %s, %s, %s", valueRef(o.Condition()), o.True, o.False)
	case *SwitchBranch:
		parts := make([]string, len(o.Cases))
		for i, c := range o.Cases {
			parts[i] = c.String()
		}
		return fmt.Sprintf("switch %s [%s] default %s",
			valueRef(o.Selector()), strings.Join(parts, ", "), o.Default)
	case *Param:
		return lhs + "param"
	default:
		return fmt.Sprintf("%s<%T>", lhs, v)
	}
}

func irQuote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			sb.WriteString("\\\\")
		case '"':
			sb.WriteString("\\\"")
		case '\n':
			sb.WriteString("\\n")
		case '\r':
			sb.WriteString("\\r")
		case '\t':
			sb.WriteString("\\t")
		default:
			if c < 0x20 || c > 0x7e {
				const hex = "0123456789abcdef"
				sb.WriteString("\\x")
				sb.WriteByte(hex[c>>4])
				sb.WriteByte(hex[c&0x0f])
			} else {
				sb.WriteByte(c)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
