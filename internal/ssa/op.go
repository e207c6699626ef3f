// Package ssa implements the SSA (Static Single Assignment) value list that
// stack-machine bytecode is lowered into before graph construction.
package ssa

// Op represents an SSA operation code.
type Op int

const (
	OpInvalid Op = iota

	// Leaves
	OpParam // function parameter; Param = declared index
	OpConst // i32 constant; Const = value

	// Integer arithmetic; Args = lhs, rhs
	OpAdd
	OpSub
	OpMul
	OpDivS
	OpDivU
	OpRemS
	OpRemU

	// Bitwise; Args = lhs, rhs
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShrS
	OpShrU

	// Comparison; Args = lhs, rhs
	OpEq
	OpNe
	OpLtS
	OpLtU
	OpGtS
	OpGtU
	OpLeS
	OpLeU
	OpGeS
	OpGeU

	// Unary; Args = operand
	OpEqz
	OpClz
	OpCtz
	OpPopcnt

	// Ternary choice; Args = cond, trueVal, falseVal
	OpSelect

	// Loops
	OpLabel       // loop entry; usable as a branch target
	OpLoopCarried // Args = initial; Local, Updated, Target
	OpBranchIf    // Args = cond, label

	OpReturn // Args = value (empty for a void return)

	opCount // sentinel; must be last
)

// OpInfo holds metadata about an SSA operation.
type OpInfo struct {
	Name   string // human-readable name
	Arity  int    // number of Args; -1 if variable
	IsPure bool   // true if the op has no side effects
	IsVoid bool   // true if the op produces no value
}

var opInfoTable = [opCount]OpInfo{
	OpInvalid: {Name: "Invalid"},

	OpParam: {Name: "Param", IsPure: true},
	OpConst: {Name: "Const", IsPure: true},

	OpAdd:  {Name: "Add", Arity: 2, IsPure: true},
	OpSub:  {Name: "Sub", Arity: 2, IsPure: true},
	OpMul:  {Name: "Mul", Arity: 2, IsPure: true},
	OpDivS: {Name: "Div_S", Arity: 2},
	OpDivU: {Name: "Div_U", Arity: 2},
	OpRemS: {Name: "Rem_S", Arity: 2},
	OpRemU: {Name: "Rem_U", Arity: 2},

	OpAnd:  {Name: "And", Arity: 2, IsPure: true},
	OpOr:   {Name: "Or", Arity: 2, IsPure: true},
	OpXor:  {Name: "Xor", Arity: 2, IsPure: true},
	OpShl:  {Name: "Shl", Arity: 2, IsPure: true},
	OpShrS: {Name: "Shr_S", Arity: 2, IsPure: true},
	OpShrU: {Name: "Shr_U", Arity: 2, IsPure: true},

	OpEq:  {Name: "Eq", Arity: 2, IsPure: true},
	OpNe:  {Name: "Ne", Arity: 2, IsPure: true},
	OpLtS: {Name: "Lt_S", Arity: 2, IsPure: true},
	OpLtU: {Name: "Lt_U", Arity: 2, IsPure: true},
	OpGtS: {Name: "Gt_S", Arity: 2, IsPure: true},
	OpGtU: {Name: "Gt_U", Arity: 2, IsPure: true},
	OpLeS: {Name: "Le_S", Arity: 2, IsPure: true},
	OpLeU: {Name: "Le_U", Arity: 2, IsPure: true},
	OpGeS: {Name: "Ge_S", Arity: 2, IsPure: true},
	OpGeU: {Name: "Ge_U", Arity: 2, IsPure: true},

	OpEqz:    {Name: "Eqz", Arity: 1, IsPure: true},
	OpClz:    {Name: "Clz", Arity: 1, IsPure: true},
	OpCtz:    {Name: "Ctz", Arity: 1, IsPure: true},
	OpPopcnt: {Name: "Popcnt", Arity: 1, IsPure: true},

	OpSelect: {Name: "Select", Arity: 3, IsPure: true},

	OpLabel:       {Name: "Label", IsVoid: true},
	OpLoopCarried: {Name: "LoopCarried", Arity: 1},
	OpBranchIf:    {Name: "BranchIf", Arity: 2, IsVoid: true},

	OpReturn: {Name: "Return", Arity: -1, IsVoid: true},
}

// String returns the human-readable name of the op.
func (o Op) String() string {
	if o >= 0 && o < opCount {
		return opInfoTable[o].Name
	}
	return "unknown"
}

// Info returns the OpInfo for this op.
func (o Op) Info() OpInfo {
	if o >= 0 && o < opCount {
		return opInfoTable[o]
	}
	return OpInfo{Name: "unknown"}
}

// IsPure returns true if this op has no side effects.
func (o Op) IsPure() bool { return o.Info().IsPure }

// IsVoid returns true if this op produces no value.
func (o Op) IsVoid() bool { return o.Info().IsVoid }

// IsBinary reports whether the op takes an lhs and an rhs.
func (o Op) IsBinary() bool { return o.Info().Arity == 2 && o != OpBranchIf }

// IsUnary reports whether the op takes exactly one value operand.
func (o Op) IsUnary() bool { return o.Info().Arity == 1 && o != OpLoopCarried }
