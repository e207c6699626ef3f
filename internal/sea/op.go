// Package sea implements a sea-of-nodes graph IR built from the SSA value
// list, together with its read-only consumers: a text dump, a Graphviz
// export, a serializer, a validator and an interpreter.
package sea

// Op is a graph node opcode.
type Op uint8

const (
	OpUnused Op = iota // placeholder for a value that could not be built

	OpStart
	OpParam // Val = declared parameter index
	OpConst // Val = constant
	OpVar   // Val = local index
	OpVLoad
	OpVStore

	// Arithmetic and bitwise; Type distinguishes signed from unsigned.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpSar
	OpShr

	// Comparison
	OpEq
	OpNe
	OpLt
	OpGe
	OpLe
	OpGt
	OpULt
	OpUGe
	OpULe
	OpUGt

	// Bit counting
	OpCtlz
	OpCttz
	OpCtpop

	// Control
	OpIf
	OpIfTrue
	OpIfFalse
	OpEnd
	OpMerge
	OpPhi
	OpLoopBegin
	OpLoopEnd
	OpReturn

	opCount
)

// OpndKind classifies an operand slot.
type OpndKind uint8

const (
	OpndNone    OpndKind = iota
	OpndControl          // edge to the preceding control node
	OpndData             // edge to a value-producing node
	OpndVar              // edge to a VAR node
)

// OpInfo holds metadata about a graph opcode.
type OpInfo struct {
	Name string

	// Opnds gives the kind of each operand slot. When Variadic is set the
	// last kind repeats.
	Opnds    []OpndKind
	Variadic bool

	// MinOpnds is the number of leading slots that must be non-nil.
	MinOpnds int

	// Control is set for nodes that are part of the control chain.
	Control bool
}

var (
	none    = []OpndKind{}
	ctl     = []OpndKind{OpndControl}
	ctlCtl  = []OpndKind{OpndControl, OpndControl}
	unary   = []OpndKind{OpndData}
	binary  = []OpndKind{OpndData, OpndData}
	ctlData = []OpndKind{OpndControl, OpndData}
)

var opInfoTable = [opCount]OpInfo{
	OpUnused: {Name: "UNUSED", Opnds: none},

	OpStart:  {Name: "START", Opnds: none, Control: true},
	OpParam:  {Name: "PARAM", Opnds: ctl, MinOpnds: 1},
	OpConst:  {Name: "CONST", Opnds: none},
	OpVar:    {Name: "VAR", Opnds: none},
	OpVLoad:  {Name: "VLOAD", Opnds: []OpndKind{OpndControl, OpndVar}, MinOpnds: 2, Control: true},
	OpVStore: {Name: "VSTORE", Opnds: []OpndKind{OpndControl, OpndVar, OpndData}, MinOpnds: 3, Control: true},

	OpAdd: {Name: "ADD", Opnds: binary, MinOpnds: 2},
	OpSub: {Name: "SUB", Opnds: binary, MinOpnds: 2},
	OpMul: {Name: "MUL", Opnds: binary, MinOpnds: 2},
	OpDiv: {Name: "DIV", Opnds: binary, MinOpnds: 2},
	OpMod: {Name: "MOD", Opnds: binary, MinOpnds: 2},
	OpAnd: {Name: "AND", Opnds: binary, MinOpnds: 2},
	OpOr:  {Name: "OR", Opnds: binary, MinOpnds: 2},
	OpXor: {Name: "XOR", Opnds: binary, MinOpnds: 2},
	OpShl: {Name: "SHL", Opnds: binary, MinOpnds: 2},
	OpSar: {Name: "SAR", Opnds: binary, MinOpnds: 2},
	OpShr: {Name: "SHR", Opnds: binary, MinOpnds: 2},

	OpEq:  {Name: "EQ", Opnds: binary, MinOpnds: 2},
	OpNe:  {Name: "NE", Opnds: binary, MinOpnds: 2},
	OpLt:  {Name: "LT", Opnds: binary, MinOpnds: 2},
	OpGe:  {Name: "GE", Opnds: binary, MinOpnds: 2},
	OpLe:  {Name: "LE", Opnds: binary, MinOpnds: 2},
	OpGt:  {Name: "GT", Opnds: binary, MinOpnds: 2},
	OpULt: {Name: "ULT", Opnds: binary, MinOpnds: 2},
	OpUGe: {Name: "UGE", Opnds: binary, MinOpnds: 2},
	OpULe: {Name: "ULE", Opnds: binary, MinOpnds: 2},
	OpUGt: {Name: "UGT", Opnds: binary, MinOpnds: 2},

	OpCtlz:  {Name: "CTLZ", Opnds: unary, MinOpnds: 1},
	OpCttz:  {Name: "CTTZ", Opnds: unary, MinOpnds: 1},
	OpCtpop: {Name: "CTPOP", Opnds: unary, MinOpnds: 1},

	OpIf:        {Name: "IF", Opnds: ctlData, MinOpnds: 2, Control: true},
	OpIfTrue:    {Name: "IF_TRUE", Opnds: ctl, MinOpnds: 1, Control: true},
	OpIfFalse:   {Name: "IF_FALSE", Opnds: ctl, MinOpnds: 1, Control: true},
	OpEnd:       {Name: "END", Opnds: ctl, MinOpnds: 1, Control: true},
	OpMerge:     {Name: "MERGE", Opnds: ctlCtl, MinOpnds: 2, Control: true},
	OpPhi:       {Name: "PHI", Opnds: []OpndKind{OpndControl, OpndData}, Variadic: true, MinOpnds: 3},
	OpLoopBegin: {Name: "LOOP_BEGIN", Opnds: ctlCtl, Variadic: true, MinOpnds: 1, Control: true},
	OpLoopEnd:   {Name: "LOOP_END", Opnds: ctl, MinOpnds: 1, Control: true},
	OpReturn:    {Name: "RETURN", Opnds: ctlData, MinOpnds: 1, Control: true},
}

// String returns the name of the opcode.
func (o Op) String() string {
	if o < opCount {
		return opInfoTable[o].Name
	}
	return "unknown"
}

// Info returns the OpInfo for this opcode.
func (o Op) Info() OpInfo {
	if o < opCount {
		return opInfoTable[o]
	}
	return OpInfo{Name: "unknown"}
}

// IsControl reports whether nodes with this opcode are on the control chain.
func (o Op) IsControl() bool { return o.Info().Control }

// OpndKind returns the kind of operand slot i, or OpndNone if the opcode has
// no such slot.
func (o Op) OpndKind(i int) OpndKind {
	info := o.Info()
	switch {
	case i < 0 || len(info.Opnds) == 0:
		return OpndNone
	case i < len(info.Opnds):
		return info.Opnds[i]
	case info.Variadic:
		return info.Opnds[len(info.Opnds)-1]
	}
	return OpndNone
}
