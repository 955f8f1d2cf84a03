package ir

// === Graph Rewriting Utilities ===

// ReplaceAllUses rewrites every operand edge in m that points at old to
// point at new instead.
func ReplaceAllUses(m *Method, old, new Value) {
	m.Walk(func(v Value) bool {
		for i, op := range v.Operands() {
			if op == old {
				v.ReplaceOperand(i, new)
			}
		}
		return true
	})
}

// RemoveValue deletes v from the block's body. Phis and terminators are not
// body values and are left untouched.
func (b *BasicBlock) RemoveValue(v Value) {
	for i, cur := range b.Values {
		if cur == v {
			b.Values = append(b.Values[:i], b.Values[i+1:]...)
			return
		}
	}
}

// MoveValueBefore repositions v immediately before anchor within the
// block's body. Both values must belong to the block.
func (b *BasicBlock) MoveValueBefore(v, anchor Value) {
	b.RemoveValue(v)
	for i, cur := range b.Values {
		if cur == anchor {
			b.Values = append(b.Values[:i], append([]Value{v}, b.Values[i:]...)...)
			return
		}
	}
	b.Values = append(b.Values, v)
}

// UseCounts tallies, per value, how many operand edges in m reference it.
func UseCounts(m *Method) map[ValueID]int {
	counts := make(map[ValueID]int)
	m.Walk(func(v Value) bool {
		for _, op := range v.Operands() {
			counts[op.ID()]++
		}
		return true
	})
	return counts
}
