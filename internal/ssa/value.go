package ssa

import (
	"fmt"
	"strings"
)

// ID identifies a Value: its position in Func.Values.
type ID int32

// InvalidID marks an operand that could not be produced.
const InvalidID ID = -1

// Value represents a single SSA computation. It is a tagged variant: which
// fields are meaningful depends on Op.
type Value struct {
	// ID is the position of the value in its Func.
	ID ID

	// Op is the operation this value computes.
	Op Op

	// Param is the declared parameter index (OpParam).
	Param int

	// Const is the constant value (OpConst).
	Const int32

	// Args are the operand ids: lhs, rhs for binary ops; the operand for
	// unary ops and Return; cond, trueVal, falseVal for Select; the initial
	// value for LoopCarried; cond, label for BranchIf.
	Args []ID

	// Local is the local variable index of a LoopCarried marker.
	Local int

	// Updated is the value a LoopCarried marker's local holds at the loop
	// back-edge. It may reference a value defined later; InvalidID if the
	// loop has no back-edge.
	Updated ID

	// Target is the Label a LoopCarried marker belongs to.
	Target ID
}

// String returns a short string representation of the value (e.g., "v5").
func (v *Value) String() string {
	return fmt.Sprintf("v%d", v.ID)
}

// LongString returns a detailed representation, e.g. "v2 = Add(v0, v1)".
func (v *Value) LongString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "v%d = %s(", v.ID, v.Op)
	switch v.Op {
	case OpParam:
		fmt.Fprintf(&sb, "param %d", v.Param)
	case OpConst:
		fmt.Fprintf(&sb, "%d", v.Const)
	case OpLoopCarried:
		fmt.Fprintf(&sb, "local %d, init %s, updated %s, loop %s",
			v.Local, idString(v.arg(0)), idString(v.Updated), idString(v.Target))
	case OpBranchIf:
		fmt.Fprintf(&sb, "%s, loop %s", idString(v.arg(0)), idString(v.arg(1)))
	default:
		for i, a := range v.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(idString(a))
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// arg returns Args[i] or InvalidID if absent.
func (v *Value) arg(i int) ID {
	if i < len(v.Args) {
		return v.Args[i]
	}
	return InvalidID
}

// Lhs returns the left operand of a binary op, or the single operand of a
// unary op.
func (v *Value) Lhs() ID { return v.arg(0) }

// Rhs returns the right operand of a binary op.
func (v *Value) Rhs() ID { return v.arg(1) }

// Cond returns the condition operand of a Select or BranchIf.
func (v *Value) Cond() ID { return v.arg(0) }

// TrueVal returns the value a Select yields for a non-zero condition.
func (v *Value) TrueVal() ID { return v.arg(1) }

// FalseVal returns the value a Select yields for a zero condition.
func (v *Value) FalseVal() ID { return v.arg(2) }

// Label returns the loop label a BranchIf jumps to.
func (v *Value) Label() ID { return v.arg(1) }

// Initial returns the value a LoopCarried marker's local holds on loop entry.
func (v *Value) Initial() ID { return v.arg(0) }

func idString(id ID) string {
	if id < 0 {
		return "?"
	}
	return fmt.Sprintf("v%d", id)
}
