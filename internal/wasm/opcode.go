// Package wasm implements the stack-machine bytecode model consumed by the
// SSA lowering engine: the instruction vocabulary, the ordered program
// representation, a textual dump and a decoder for the binary module format.
package wasm

// Op is an instruction kind.
type Op uint8

const (
	OpInvalid Op = iota

	// Metadata
	OpFuncInfo // declared parameter count; Imm = count

	// Control
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr   // Imm = label depth
	OpBrIf // Imm = label depth
	OpReturn

	// Parametric
	OpDrop
	OpSelect

	// Locals; Imm = local index
	OpLocalGet
	OpLocalSet
	OpLocalTee

	// Constants; Imm = value
	OpI32Const

	// Comparison
	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU

	// Unary bit counting
	OpI32Clz
	OpI32Ctz
	OpI32Popcnt

	// Binary arithmetic and bitwise
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU

	opCount // sentinel; must be last
)

// ImmKind describes the immediate carried by an instruction in the binary
// encoding.
type ImmKind uint8

const (
	ImmNone      ImmKind = iota
	ImmIndex             // unsigned LEB128: local index or label depth
	ImmI32               // signed LEB128
	ImmBlockType         // one-byte block type
)

// OpInfo holds metadata about an instruction kind.
type OpInfo struct {
	Name string  // text-format mnemonic
	Code byte    // binary opcode
	Imm  ImmKind // immediate encoding
	Pop  int     // operands consumed
	Push int     // results produced
}

var opInfoTable = [opCount]OpInfo{
	OpInvalid: {Name: "invalid"},

	OpFuncInfo: {Name: "func.info"},

	OpNop:    {Name: "nop", Code: 0x01},
	OpBlock:  {Name: "block", Code: 0x02, Imm: ImmBlockType},
	OpLoop:   {Name: "loop", Code: 0x03, Imm: ImmBlockType},
	OpIf:     {Name: "if", Code: 0x04, Imm: ImmBlockType, Pop: 1},
	OpElse:   {Name: "else", Code: 0x05},
	OpEnd:    {Name: "end", Code: 0x0b},
	OpBr:     {Name: "br", Code: 0x0c, Imm: ImmIndex},
	OpBrIf:   {Name: "br_if", Code: 0x0d, Imm: ImmIndex, Pop: 1},
	OpReturn: {Name: "return", Code: 0x0f},

	OpDrop:   {Name: "drop", Code: 0x1a, Pop: 1},
	OpSelect: {Name: "select", Code: 0x1b, Pop: 3, Push: 1},

	OpLocalGet: {Name: "local.get", Code: 0x20, Imm: ImmIndex, Push: 1},
	OpLocalSet: {Name: "local.set", Code: 0x21, Imm: ImmIndex, Pop: 1},
	OpLocalTee: {Name: "local.tee", Code: 0x22, Imm: ImmIndex, Pop: 1, Push: 1},

	OpI32Const: {Name: "i32.const", Code: 0x41, Imm: ImmI32, Push: 1},

	OpI32Eqz: {Name: "i32.eqz", Code: 0x45, Pop: 1, Push: 1},
	OpI32Eq:  {Name: "i32.eq", Code: 0x46, Pop: 2, Push: 1},
	OpI32Ne:  {Name: "i32.ne", Code: 0x47, Pop: 2, Push: 1},
	OpI32LtS: {Name: "i32.lt_s", Code: 0x48, Pop: 2, Push: 1},
	OpI32LtU: {Name: "i32.lt_u", Code: 0x49, Pop: 2, Push: 1},
	OpI32GtS: {Name: "i32.gt_s", Code: 0x4a, Pop: 2, Push: 1},
	OpI32GtU: {Name: "i32.gt_u", Code: 0x4b, Pop: 2, Push: 1},
	OpI32LeS: {Name: "i32.le_s", Code: 0x4c, Pop: 2, Push: 1},
	OpI32LeU: {Name: "i32.le_u", Code: 0x4d, Pop: 2, Push: 1},
	OpI32GeS: {Name: "i32.ge_s", Code: 0x4e, Pop: 2, Push: 1},
	OpI32GeU: {Name: "i32.ge_u", Code: 0x4f, Pop: 2, Push: 1},

	OpI32Clz:    {Name: "i32.clz", Code: 0x67, Pop: 1, Push: 1},
	OpI32Ctz:    {Name: "i32.ctz", Code: 0x68, Pop: 1, Push: 1},
	OpI32Popcnt: {Name: "i32.popcnt", Code: 0x69, Pop: 1, Push: 1},

	OpI32Add:  {Name: "i32.add", Code: 0x6a, Pop: 2, Push: 1},
	OpI32Sub:  {Name: "i32.sub", Code: 0x6b, Pop: 2, Push: 1},
	OpI32Mul:  {Name: "i32.mul", Code: 0x6c, Pop: 2, Push: 1},
	OpI32DivS: {Name: "i32.div_s", Code: 0x6d, Pop: 2, Push: 1},
	OpI32DivU: {Name: "i32.div_u", Code: 0x6e, Pop: 2, Push: 1},
	OpI32RemS: {Name: "i32.rem_s", Code: 0x6f, Pop: 2, Push: 1},
	OpI32RemU: {Name: "i32.rem_u", Code: 0x70, Pop: 2, Push: 1},
	OpI32And:  {Name: "i32.and", Code: 0x71, Pop: 2, Push: 1},
	OpI32Or:   {Name: "i32.or", Code: 0x72, Pop: 2, Push: 1},
	OpI32Xor:  {Name: "i32.xor", Code: 0x73, Pop: 2, Push: 1},
	OpI32Shl:  {Name: "i32.shl", Code: 0x74, Pop: 2, Push: 1},
	OpI32ShrS: {Name: "i32.shr_s", Code: 0x75, Pop: 2, Push: 1},
	OpI32ShrU: {Name: "i32.shr_u", Code: 0x76, Pop: 2, Push: 1},
}

// byCode maps a binary opcode to its Op. Built from opInfoTable.
var byCode [256]Op

func init() {
	for op := OpNop; op < opCount; op++ {
		byCode[opInfoTable[op].Code] = op
	}
}

// String returns the text-format mnemonic of the op.
func (o Op) String() string {
	if o < opCount {
		return opInfoTable[o].Name
	}
	return "unknown"
}

// Info returns the OpInfo for this op.
func (o Op) Info() OpInfo {
	if o < opCount {
		return opInfoTable[o]
	}
	return OpInfo{Name: "unknown"}
}

// IsBinary reports whether the op pops two operands and pushes one.
func (o Op) IsBinary() bool {
	info := o.Info()
	return info.Pop == 2 && info.Push == 1
}

// IsUnary reports whether the op pops one operand and pushes one
// (excluding local.tee, which only peeks at the stack).
func (o Op) IsUnary() bool {
	info := o.Info()
	return info.Pop == 1 && info.Push == 1 && o != OpLocalTee
}

// OpForCode returns the Op for a binary opcode, or OpInvalid.
func OpForCode(code byte) Op {
	return byCode[code]
}
