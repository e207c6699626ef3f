package ssa

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"
)

var (
	// ErrControlFlow is returned by Eval for functions containing loops.
	ErrControlFlow = errors.New("ssa: evaluator handles straight-line code only")

	// ErrDivideByZero is returned when an integer division or remainder has
	// a zero divisor.
	ErrDivideByZero = errors.New("ssa: integer divide by zero")

	// ErrIntegerOverflow is returned for a signed division whose quotient
	// does not fit in an i32.
	ErrIntegerOverflow = errors.New("ssa: integer overflow")

	// ErrNoReturn is returned when evaluation reaches the end of the value
	// list without a Return.
	ErrNoReturn = errors.New("ssa: no return value")
)

// Eval evaluates a straight-line function with the given arguments and
// returns the operand of its first Return. A void Return yields 0. Missing
// arguments read as zero.
func Eval(f *Func, params []int32) (int32, error) {
	vals := make([]int32, len(f.Values))
	get := func(v *Value, id ID) (int32, error) {
		if id < 0 || id >= v.ID {
			return 0, errors.Errorf("ssa: %s uses undefined value %s", v, idString(id))
		}
		return vals[id], nil
	}

	for _, v := range f.Values {
		var err error
		switch {
		case v.Op == OpParam:
			if v.Param < len(params) {
				vals[v.ID] = params[v.Param]
			}
		case v.Op == OpConst:
			vals[v.ID] = v.Const
		case v.Op == OpReturn:
			if len(v.Args) == 0 {
				return 0, nil
			}
			return get(v, v.Args[0])
		case v.Op == OpSelect:
			var c, t, e int32
			if c, err = get(v, v.Cond()); err != nil {
				return 0, err
			}
			if t, err = get(v, v.TrueVal()); err != nil {
				return 0, err
			}
			if e, err = get(v, v.FalseVal()); err != nil {
				return 0, err
			}
			vals[v.ID] = e
			if c != 0 {
				vals[v.ID] = t
			}
		case v.Op.IsBinary():
			var a, b int32
			if a, err = get(v, v.Lhs()); err != nil {
				return 0, err
			}
			if b, err = get(v, v.Rhs()); err != nil {
				return 0, err
			}
			if vals[v.ID], err = EvalBinary(v.Op, a, b); err != nil {
				return 0, err
			}
		case v.Op.IsUnary():
			var a int32
			if a, err = get(v, v.Lhs()); err != nil {
				return 0, err
			}
			vals[v.ID] = EvalUnary(v.Op, a)
		case v.Op == OpLabel, v.Op == OpLoopCarried, v.Op == OpBranchIf:
			return 0, errors.Wrapf(ErrControlFlow, "%s", v.LongString())
		default:
			return 0, errors.Errorf("ssa: cannot evaluate %s", v.LongString())
		}
	}
	return 0, ErrNoReturn
}

// EvalBinary applies a binary op to two i32 operands with wasm semantics:
// wrapping arithmetic, shift counts taken modulo 32 and comparisons yielding
// 0 or 1.
func EvalBinary(op Op, a, b int32) (int32, error) {
	ua, ub := uint32(a), uint32(b)
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDivS, OpDivU, OpRemS, OpRemU:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		switch op {
		case OpDivS:
			if a == math.MinInt32 && b == -1 {
				return 0, ErrIntegerOverflow
			}
			return a / b, nil
		case OpDivU:
			return int32(ua / ub), nil
		case OpRemS:
			return a % b, nil
		}
		return int32(ua % ub), nil
	case OpAnd:
		return a & b, nil
	case OpOr:
		return a | b, nil
	case OpXor:
		return a ^ b, nil
	case OpShl:
		return a << (ub & 31), nil
	case OpShrS:
		return a >> (ub & 31), nil
	case OpShrU:
		return int32(ua >> (ub & 31)), nil
	case OpEq:
		return b2i(a == b), nil
	case OpNe:
		return b2i(a != b), nil
	case OpLtS:
		return b2i(a < b), nil
	case OpLtU:
		return b2i(ua < ub), nil
	case OpGtS:
		return b2i(a > b), nil
	case OpGtU:
		return b2i(ua > ub), nil
	case OpLeS:
		return b2i(a <= b), nil
	case OpLeU:
		return b2i(ua <= ub), nil
	case OpGeS:
		return b2i(a >= b), nil
	case OpGeU:
		return b2i(ua >= ub), nil
	}
	return 0, errors.Errorf("ssa: %s is not a binary op", op)
}

// EvalUnary applies a unary op to an i32 operand.
func EvalUnary(op Op, a int32) int32 {
	switch op {
	case OpEqz:
		return b2i(a == 0)
	case OpClz:
		return int32(bits.LeadingZeros32(uint32(a)))
	case OpCtz:
		return int32(bits.TrailingZeros32(uint32(a)))
	case OpPopcnt:
		return int32(bits.OnesCount32(uint32(a)))
	}
	return 0
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
