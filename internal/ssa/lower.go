package ssa

import (
	"maps"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/you-not-fish/wasmsea/internal/diag"
	"github.com/you-not-fish/wasmsea/internal/wasm"
)

type (
	// loweringState holds the transient state of one lowering pass.
	loweringState struct {
		f         *Func
		src       *wasm.Function
		h         diag.Handler
		numParams int

		// values is the operand stack mirroring the source stack machine.
		values []ID
		// locals maps a local index to the value currently representing it.
		locals        map[int]ID
		controlFrames []controlFrame
		pc            int
	}

	controlFrame struct {
		kind controlFrameKind
		// originalStackLen is the operand stack height on entry.
		originalStackLen int

		// if frames
		cond         ID
		thenResult   ID
		hasThen      bool
		inElse       bool
		bindings     map[int]ID // bindings on entry
		thenBindings map[int]ID // bindings at the else marker

		// loop frames
		label   ID
		markers []ID
	}

	controlFrameKind byte
)

const (
	controlFrameKindBlock controlFrameKind = iota + 1
	controlFrameKindIf
	controlFrameKindLoop
)

// String implements fmt.Stringer for debugging.
func (k controlFrameKind) String() string {
	switch k {
	case controlFrameKindBlock:
		return "block"
	case controlFrameKindIf:
		return "if"
	case controlFrameKindLoop:
		return "loop"
	}
	return "invalid"
}

func (ctrl *controlFrame) isLoop() bool { return ctrl.kind == controlFrameKindLoop }

var binaryOps = map[wasm.Op]Op{
	wasm.OpI32Add:  OpAdd,
	wasm.OpI32Sub:  OpSub,
	wasm.OpI32Mul:  OpMul,
	wasm.OpI32DivS: OpDivS,
	wasm.OpI32DivU: OpDivU,
	wasm.OpI32RemS: OpRemS,
	wasm.OpI32RemU: OpRemU,
	wasm.OpI32And:  OpAnd,
	wasm.OpI32Or:   OpOr,
	wasm.OpI32Xor:  OpXor,
	wasm.OpI32Shl:  OpShl,
	wasm.OpI32ShrS: OpShrS,
	wasm.OpI32ShrU: OpShrU,
	wasm.OpI32Eq:   OpEq,
	wasm.OpI32Ne:   OpNe,
	wasm.OpI32LtS:  OpLtS,
	wasm.OpI32LtU:  OpLtU,
	wasm.OpI32GtS:  OpGtS,
	wasm.OpI32GtU:  OpGtU,
	wasm.OpI32LeS:  OpLeS,
	wasm.OpI32LeU:  OpLeU,
	wasm.OpI32GeS:  OpGeS,
	wasm.OpI32GeU:  OpGeU,
}

var unaryOps = map[wasm.Op]Op{
	wasm.OpI32Eqz:    OpEqz,
	wasm.OpI32Clz:    OpClz,
	wasm.OpI32Ctz:    OpCtz,
	wasm.OpI32Popcnt: OpPopcnt,
}

// Lower translates a stack-machine function into an SSA value list in a
// single forward pass. Problems are reported to h and the offending
// instruction is skipped; lowering always completes.
func Lower(fn *wasm.Function, h diag.Handler) *Func {
	s := &loweringState{
		f:         NewFunc(fn.Name, fn.Params()),
		src:       fn,
		h:         h,
		numParams: fn.Params(),
		locals:    make(map[int]ID),
	}
	for s.pc = 0; s.pc < len(fn.Body); s.pc++ {
		s.lowerInstr(fn.Body[s.pc])
	}
	if len(s.controlFrames) > 0 {
		s.errorf(diag.DecodeError, "%d control frame(s) left open", len(s.controlFrames))
	}
	if len(s.values) > 0 {
		s.f.NewValue(OpReturn, s.values[len(s.values)-1])
	}
	return s.f
}

func (s *loweringState) errorf(kind diag.Kind, format string, args ...interface{}) {
	s.h.Reportf(kind, s.f.Name, s.pc, format, args...)
}

func (s *loweringState) push(id ID) { s.values = append(s.values, id) }

// pop returns the top of the operand stack, or InvalidID and false when it
// is empty.
func (s *loweringState) pop() (ID, bool) {
	tail := len(s.values) - 1
	if tail < 0 {
		return InvalidID, false
	}
	id := s.values[tail]
	s.values = s.values[:tail]
	return id, true
}

func (s *loweringState) peek() (ID, bool) {
	if len(s.values) == 0 {
		return InvalidID, false
	}
	return s.values[len(s.values)-1], true
}

// popN pops n operands and returns them in stack order (deepest first).
// Missing operands are InvalidID and reported once as a stack underflow.
func (s *loweringState) popN(op wasm.Op, n int) []ID {
	args := make([]ID, n)
	ok := true
	for i := n - 1; i >= 0; i-- {
		var popped bool
		args[i], popped = s.pop()
		ok = ok && popped
	}
	if !ok {
		s.errorf(diag.StackUnderflow, "%s needs %d operand(s)", op, n)
	}
	return args
}

func (s *loweringState) ctrlPush(ctrl controlFrame) {
	s.controlFrames = append(s.controlFrames, ctrl)
}

func (s *loweringState) ctrlPop() (ret controlFrame) {
	tail := len(s.controlFrames) - 1
	ret = s.controlFrames[tail]
	s.controlFrames = s.controlFrames[:tail]
	return
}

// ctrlPeekAt returns the frame n levels out from the innermost one, or nil.
func (s *loweringState) ctrlPeekAt(n int) *controlFrame {
	i := len(s.controlFrames) - 1 - n
	if n < 0 || i < 0 {
		return nil
	}
	return &s.controlFrames[i]
}

// defaultLocal synthesizes the value an unbound local reads as: its
// parameter if idx is a declared parameter, zero otherwise.
func (s *loweringState) defaultLocal(idx int) ID {
	if idx >= 0 && idx < s.numParams {
		v := s.f.NewValue(OpParam)
		v.Param = idx
		return v.ID
	}
	return s.f.NewValue(OpConst).ID
}

// local returns the value bound to idx, synthesizing and binding a default
// if there is none.
func (s *loweringState) local(idx int) ID {
	if id, ok := s.locals[idx]; ok {
		return id
	}
	id := s.defaultLocal(idx)
	s.locals[idx] = id
	return id
}

func (s *loweringState) lowerInstr(ins wasm.Instr) {
	op := ins.Op
	if sop, ok := binaryOps[op]; ok {
		args := s.popN(op, 2)
		s.push(s.f.NewValue(sop, args...).ID)
		return
	}
	if sop, ok := unaryOps[op]; ok {
		args := s.popN(op, 1)
		s.push(s.f.NewValue(sop, args...).ID)
		return
	}

	switch op {
	case wasm.OpNop:
	case wasm.OpFuncInfo:
		if s.pc != 0 {
			s.errorf(diag.DecodeError, "func.info is only valid as the first instruction")
		}
	case wasm.OpI32Const:
		v := s.f.NewValue(OpConst)
		v.Const = int32(ins.Imm)
		s.push(v.ID)
	case wasm.OpLocalGet:
		s.push(s.local(int(ins.Imm)))
	case wasm.OpLocalSet:
		id, ok := s.pop()
		if !ok {
			s.errorf(diag.StackUnderflow, "local.set %d on an empty stack", ins.Imm)
			return
		}
		s.locals[int(ins.Imm)] = id
	case wasm.OpLocalTee:
		id, ok := s.peek()
		if !ok {
			s.errorf(diag.StackUnderflow, "local.tee %d on an empty stack", ins.Imm)
			return
		}
		s.locals[int(ins.Imm)] = id
	case wasm.OpDrop:
		if _, ok := s.pop(); !ok {
			s.errorf(diag.StackUnderflow, "drop on an empty stack")
		}
	case wasm.OpSelect:
		// Stack order is trueVal, falseVal, cond with cond on top.
		args := s.popN(op, 3)
		s.push(s.f.NewValue(OpSelect, args[2], args[0], args[1]).ID)
	case wasm.OpBlock:
		s.ctrlPush(controlFrame{
			kind:             controlFrameKindBlock,
			originalStackLen: len(s.values),
		})
	case wasm.OpIf:
		cond, ok := s.pop()
		if !ok {
			s.errorf(diag.StackUnderflow, "if without a condition")
		}
		s.ctrlPush(controlFrame{
			kind:             controlFrameKindIf,
			originalStackLen: len(s.values),
			cond:             cond,
			bindings:         maps.Clone(s.locals),
		})
	case wasm.OpElse:
		s.lowerElse()
	case wasm.OpEnd:
		s.lowerEnd()
	case wasm.OpLoop:
		s.lowerLoop()
	case wasm.OpBrIf:
		cond, ok := s.pop()
		if !ok {
			s.errorf(diag.StackUnderflow, "br_if without a condition")
		}
		s.lowerBranch(int(ins.Imm), cond)
	case wasm.OpBr:
		// An unconditional back-edge is a conditional one on a true constant.
		if ctrl := s.ctrlPeekAt(int(ins.Imm)); ctrl == nil || !ctrl.isLoop() {
			s.lowerBranch(int(ins.Imm), InvalidID)
			return
		}
		v := s.f.NewValue(OpConst)
		v.Const = 1
		s.lowerBranch(int(ins.Imm), v.ID)
	case wasm.OpReturn:
		if id, ok := s.pop(); ok {
			s.f.NewValue(OpReturn, id)
		} else {
			s.f.NewValue(OpReturn)
		}
	default:
		s.errorf(diag.UnsupportedOperation, "no lowering for %s", op)
	}
}

func (s *loweringState) lowerElse() {
	ctrl := s.ctrlPeekAt(0)
	if ctrl == nil || ctrl.kind != controlFrameKindIf || ctrl.inElse {
		s.errorf(diag.DecodeError, "else without a matching if")
		return
	}
	if len(s.values) > ctrl.originalStackLen {
		ctrl.thenResult, _ = s.pop()
		ctrl.hasThen = true
	}
	s.values = s.values[:min(len(s.values), ctrl.originalStackLen)]
	ctrl.thenBindings = s.locals
	s.locals = maps.Clone(ctrl.bindings)
	ctrl.inElse = true
}

func (s *loweringState) lowerEnd() {
	if len(s.controlFrames) == 0 {
		s.errorf(diag.DecodeError, "end without a matching block, loop or if")
		return
	}
	ctrl := s.ctrlPop()
	if ctrl.kind != controlFrameKindIf {
		return
	}

	if !ctrl.inElse {
		// The stack is left as the then arm built it; only locals need
		// merging against the bindings on entry.
		s.mergeLocals(ctrl.cond, s.locals, ctrl.bindings)
		return
	}

	elseResult, hasElse := InvalidID, false
	if len(s.values) > ctrl.originalStackLen {
		elseResult, hasElse = s.pop()
	}
	s.values = s.values[:min(len(s.values), ctrl.originalStackLen)]

	switch {
	case ctrl.hasThen && hasElse:
		s.push(s.f.NewValue(OpSelect, ctrl.cond, ctrl.thenResult, elseResult).ID)
	case ctrl.hasThen:
		s.push(ctrl.thenResult)
	case hasElse:
		s.push(elseResult)
	}
	s.mergeLocals(ctrl.cond, ctrl.thenBindings, s.locals)
}

// mergeLocals binds every local that the two arms of an if left bound to
// different values to a Select over both.
func (s *loweringState) mergeLocals(cond ID, thenB, elseB map[int]ID) {
	idxs := mapset.NewThreadUnsafeSet[int]()
	for idx := range thenB {
		idxs.Add(idx)
	}
	for idx := range elseB {
		idxs.Add(idx)
	}
	sorted := idxs.ToSlice()
	slices.Sort(sorted)

	merged := make(map[int]ID, len(sorted))
	for _, idx := range sorted {
		t, tok := thenB[idx]
		e, eok := elseB[idx]
		switch {
		case tok && eok && t == e:
			merged[idx] = t
			continue
		case !tok:
			t = s.defaultLocal(idx)
		case !eok:
			e = s.defaultLocal(idx)
		}
		merged[idx] = s.f.NewValue(OpSelect, cond, t, e).ID
	}
	s.locals = merged
}

func (s *loweringState) lowerLoop() {
	carried := s.carriedLocals()
	initial := make([]ID, len(carried))
	for i, idx := range carried {
		initial[i] = s.local(idx)
	}

	label := s.f.NewValue(OpLabel).ID
	ctrl := controlFrame{
		kind:             controlFrameKindLoop,
		originalStackLen: len(s.values),
		label:            label,
	}
	for i, idx := range carried {
		m := s.f.NewValue(OpLoopCarried, initial[i])
		m.Local = idx
		m.Target = label
		ctrl.markers = append(ctrl.markers, m.ID)
		s.locals[idx] = m.ID
	}
	s.ctrlPush(ctrl)
}

// carriedLocals returns, in ascending order, the locals written anywhere in
// the body of the loop opened at s.pc.
func (s *loweringState) carriedLocals() []int {
	set := mapset.NewThreadUnsafeSet[int]()
	depth := 0
scan:
	for _, ins := range s.src.Body[s.pc+1:] {
		switch ins.Op {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			depth++
		case wasm.OpEnd:
			if depth == 0 {
				break scan
			}
			depth--
		case wasm.OpLocalSet, wasm.OpLocalTee:
			set.Add(int(ins.Imm))
		}
	}
	out := set.ToSlice()
	slices.Sort(out)
	return out
}

// lowerBranch emits a back-edge to the loop depth frames out. Branches to
// anything but an enclosing loop are not representable and are skipped.
func (s *loweringState) lowerBranch(depth int, cond ID) {
	ctrl := s.ctrlPeekAt(depth)
	if ctrl == nil {
		s.errorf(diag.UnknownBranchTarget, "branch depth %d exceeds %d open frame(s)", depth, len(s.controlFrames))
		return
	}
	if !ctrl.isLoop() {
		s.errorf(diag.UnknownBranchTarget, "branch depth %d targets a %s, not a loop", depth, ctrl.kind)
		return
	}
	for _, id := range ctrl.markers {
		m := s.f.Values[id]
		m.Updated = s.locals[m.Local]
	}
	s.f.NewValue(OpBranchIf, cond, ctrl.label)
}
