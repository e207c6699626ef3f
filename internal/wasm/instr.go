package wasm

import "fmt"

// Instr is a single instruction: an operation kind and one integer
// immediate (local index, label depth or constant; zero when unused).
type Instr struct {
	Op  Op
	Imm int64
}

// String returns the text form of the instruction, e.g. "local.get 0".
func (i Instr) String() string {
	switch imm := i.Op.Info().Imm; {
	case imm == ImmIndex, imm == ImmI32, i.Op == OpFuncInfo:
		return fmt.Sprintf("%s %d", i.Op, i.Imm)
	}
	return i.Op.String()
}

// Function is a program: an ordered instruction sequence plus the declared
// parameter count and an optional human-readable name.
type Function struct {
	Name string

	// NumParams is the declared parameter count, used unless the body
	// starts with a func.info record.
	NumParams int

	Body []Instr
}

// NewFunction creates a function with an explicit parameter count.
func NewFunction(name string, numParams int, body ...Instr) *Function {
	return &Function{Name: name, NumParams: numParams, Body: body}
}

// Params returns the declared parameter count: the immediate of a leading
// func.info record if there is one, NumParams otherwise.
func (f *Function) Params() int {
	if len(f.Body) > 0 && f.Body[0].Op == OpFuncInfo {
		return int(f.Body[0].Imm)
	}
	return f.NumParams
}

// Module is an ordered list of functions.
type Module struct {
	Funcs []*Function
}

// Helpers for building instruction sequences by hand.

func LocalGet(idx int) Instr { return Instr{Op: OpLocalGet, Imm: int64(idx)} }
func LocalSet(idx int) Instr { return Instr{Op: OpLocalSet, Imm: int64(idx)} }
func LocalTee(idx int) Instr { return Instr{Op: OpLocalTee, Imm: int64(idx)} }
func Const(v int32) Instr    { return Instr{Op: OpI32Const, Imm: int64(v)} }
func Br(depth int) Instr     { return Instr{Op: OpBr, Imm: int64(depth)} }
func BrIf(depth int) Instr   { return Instr{Op: OpBrIf, Imm: int64(depth)} }
func FuncInfo(n int) Instr   { return Instr{Op: OpFuncInfo, Imm: int64(n)} }
func I(op Op) Instr          { return Instr{Op: op} }
