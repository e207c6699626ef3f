package sea

import (
	"slices"

	"github.com/containerd/errdefs"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"

	"github.com/you-not-fish/wasmsea/internal/diag"
	"github.com/you-not-fish/wasmsea/internal/ssa"
)

type constKey struct {
	typ Type
	val int64
}

// builder translates one SSA function into a graph. It is single-use: a
// fresh builder is made for every Build call.
type builder struct {
	f *ssa.Func
	g *Graph
	h diag.Handler

	// refs maps an SSA value id to its node; 0 means unmapped.
	refs    []Ref
	params  map[int]Ref
	vars    map[int]Ref
	consts  map[constKey]Ref
	control Ref

	// stored maps a VAR to the value it is known to hold at control.
	// Loop headers forget everything: a back-edge may arrive with other
	// values.
	stored map[Ref]Ref
}

// binaryNodes maps SSA binary ops to graph opcodes and result types.
var binaryNodes = map[ssa.Op]struct {
	op  Op
	typ Type
}{
	ssa.OpAdd:  {OpAdd, I32},
	ssa.OpSub:  {OpSub, I32},
	ssa.OpMul:  {OpMul, I32},
	ssa.OpDivS: {OpDiv, I32},
	ssa.OpDivU: {OpDiv, U32},
	ssa.OpRemS: {OpMod, I32},
	ssa.OpRemU: {OpMod, U32},
	ssa.OpAnd:  {OpAnd, I32},
	ssa.OpOr:   {OpOr, I32},
	ssa.OpXor:  {OpXor, I32},
	ssa.OpShl:  {OpShl, I32},
	ssa.OpShrS: {OpSar, I32},
	ssa.OpShrU: {OpShr, U32},
	ssa.OpEq:   {OpEq, Bool},
	ssa.OpNe:   {OpNe, Bool},
	ssa.OpLtS:  {OpLt, Bool},
	ssa.OpLtU:  {OpULt, Bool},
	ssa.OpGtS:  {OpGt, Bool},
	ssa.OpGtU:  {OpUGt, Bool},
	ssa.OpLeS:  {OpLe, Bool},
	ssa.OpLeU:  {OpULe, Bool},
	ssa.OpGeS:  {OpGe, Bool},
	ssa.OpGeU:  {OpUGe, Bool},
}

var unaryNodes = map[ssa.Op]Op{
	ssa.OpClz:    OpCtlz,
	ssa.OpCtz:    OpCttz,
	ssa.OpPopcnt: OpCtpop,
}

// Build constructs the graph for f. Values that cannot be translated are
// reported to h, left unmapped and recorded as UNUSED nodes, so the damage
// stays visible to Validate. The caller owns the returned graph and must
// Release it.
func Build(f *ssa.Func, h diag.Handler) (*Graph, error) {
	if f == nil {
		return nil, errors.Wrap(errdefs.ErrInvalidArgument, "sea: nil function")
	}
	b := &builder{
		f:      f,
		g:      newGraph(f.Name, f.NumParams),
		h:      h,
		refs:   make([]Ref, len(f.Values)),
		params: make(map[int]Ref),
		vars:   make(map[int]Ref),
		consts: make(map[constKey]Ref),
		stored: make(map[Ref]Ref),
	}
	b.control = b.g.add(OpStart, Void, 0)
	b.buildParams()
	b.buildVars()
	for _, v := range f.Values {
		b.buildValue(v)
	}
	return b.g, nil
}

func (b *builder) errorf(kind diag.Kind, v *ssa.Value, format string, args ...interface{}) {
	b.h.Reportf(kind, b.f.Name, int(v.ID), format, args...)
}

// buildParams creates one PARAM node per declared index in ascending index
// order, whatever order the SSA list first references them in.
func (b *builder) buildParams() {
	idxs := mapset.NewThreadUnsafeSet[int]()
	for _, v := range b.f.Values {
		if v.Op == ssa.OpParam {
			idxs.Add(v.Param)
		}
	}
	sorted := idxs.ToSlice()
	slices.Sort(sorted)
	for _, idx := range sorted {
		b.params[idx] = b.g.add(OpParam, I32, int64(idx), b.g.Start())
	}
	for _, v := range b.f.Values {
		if v.Op == ssa.OpParam {
			b.refs[v.ID] = b.params[v.Param]
		}
	}
}

// buildVars creates one VAR per local that is a parameter or carried around
// a loop, seeding parameter locals with their incoming value.
func (b *builder) buildVars() {
	locals := mapset.NewThreadUnsafeSet[int]()
	for idx := range b.params {
		locals.Add(idx)
	}
	for _, v := range b.f.Values {
		if v.Op == ssa.OpLoopCarried {
			locals.Add(v.Local)
		}
	}
	sorted := locals.ToSlice()
	slices.Sort(sorted)
	for _, idx := range sorted {
		vr := b.g.add(OpVar, I32, int64(idx))
		b.vars[idx] = vr
		if p, ok := b.params[idx]; ok {
			b.store(vr, p)
		}
	}
}

// operand resolves an operand of v. It must be defined before v and mapped.
func (b *builder) operand(v *ssa.Value, id ssa.ID) (Ref, bool) {
	if id < 0 || id >= v.ID {
		b.errorf(diag.UnresolvedReference, v, "%s operand %d out of range [0, %d)", v.Op, id, v.ID)
		return 0, false
	}
	ref := b.refs[id]
	if ref == 0 {
		b.errorf(diag.UnresolvedReference, v, "%s operand v%d is unmapped", v.Op, id)
		return 0, false
	}
	return ref, true
}

// operands resolves all of v's Args, reporting every failure.
func (b *builder) operands(v *ssa.Value, want int) ([]Ref, bool) {
	if len(v.Args) != want {
		b.errorf(diag.UnresolvedReference, v, "%s has %d operand(s), want %d", v.Op, len(v.Args), want)
		return nil, false
	}
	refs := make([]Ref, len(v.Args))
	ok := true
	for i, id := range v.Args {
		var rok bool
		refs[i], rok = b.operand(v, id)
		ok = ok && rok
	}
	return refs, ok
}

// hole records a value that could not be built.
func (b *builder) hole(v *ssa.Value) {
	b.g.add(OpUnused, Void, int64(v.ID))
}

// store chains a VSTORE of val into vr.
func (b *builder) store(vr, val Ref) {
	b.control = b.g.add(OpVStore, Void, 0, b.control, vr, val)
	b.stored[vr] = val
}

func (b *builder) constant(typ Type, val int64) Ref {
	k := constKey{typ, val}
	if ref, ok := b.consts[k]; ok {
		return ref
	}
	ref := b.g.add(OpConst, typ, val)
	b.consts[k] = ref
	return ref
}

func (b *builder) buildValue(v *ssa.Value) {
	if n, ok := binaryNodes[v.Op]; ok {
		ops, ok := b.operands(v, 2)
		if !ok {
			b.hole(v)
			return
		}
		b.refs[v.ID] = b.g.add(n.op, n.typ, 0, ops...)
		return
	}
	if op, ok := unaryNodes[v.Op]; ok {
		ops, ok := b.operands(v, 1)
		if !ok {
			b.hole(v)
			return
		}
		b.refs[v.ID] = b.g.add(op, I32, 0, ops...)
		return
	}

	switch v.Op {
	case ssa.OpParam:
		// Materialized up front.
	case ssa.OpConst:
		b.refs[v.ID] = b.constant(I32, int64(v.Const))
	case ssa.OpEqz:
		ops, ok := b.operands(v, 1)
		if !ok {
			b.hole(v)
			return
		}
		b.refs[v.ID] = b.g.add(OpEq, Bool, 0, ops[0], b.constant(I32, 0))
	case ssa.OpSelect:
		b.buildSelect(v)
	case ssa.OpLabel:
		b.buildLabel(v)
	case ssa.OpLoopCarried:
		if vr, ok := b.vars[v.Local]; ok {
			b.control = b.g.add(OpVLoad, I32, 0, b.control, vr)
			b.refs[v.ID] = b.control
			return
		}
		ops, ok := b.operands(v, 1)
		if !ok {
			b.hole(v)
			return
		}
		b.refs[v.ID] = ops[0]
	case ssa.OpBranchIf:
		b.buildBranchIf(v)
	case ssa.OpReturn:
		b.buildReturn(v)
	default:
		b.errorf(diag.UnsupportedOperation, v, "no graph translation for %s", v.Op)
		b.hole(v)
	}
}

// buildSelect lowers a Select to
//
//	IF(cond) -> IF_TRUE -> END, IF_FALSE -> END
//	MERGE(falseEnd, trueEnd)
//	PHI(merge, falseVal, trueVal)
func (b *builder) buildSelect(v *ssa.Value) {
	ops, ok := b.operands(v, 3)
	if !ok {
		b.hole(v)
		return
	}
	cond, trueVal, falseVal := ops[0], ops[1], ops[2]

	ifRef := b.g.add(OpIf, Void, 0, b.control, cond)
	trueEnd := b.g.add(OpEnd, Void, 0, b.g.add(OpIfTrue, Void, 0, ifRef))
	falseEnd := b.g.add(OpEnd, Void, 0, b.g.add(OpIfFalse, Void, 0, ifRef))
	merge := b.g.add(OpMerge, Void, 0, falseEnd, trueEnd)
	b.control = merge
	b.refs[v.ID] = b.g.add(OpPhi, I32, 0, merge, falseVal, trueVal)
}

// buildLabel stores every carried local's entry value into its VAR, unless
// the VAR already holds it, and opens the loop. The label maps to its LOOP_BEGIN so branches can find it.
func (b *builder) buildLabel(v *ssa.Value) {
	for _, m := range b.f.Markers(v.ID) {
		vr, ok := b.vars[m.Local]
		if !ok {
			continue
		}
		init, ok := b.operand(v, m.Initial())
		if !ok || b.stored[vr] == init {
			continue
		}
		b.store(vr, init)
	}
	b.control = b.g.add(OpLoopBegin, Void, 0, b.control, 0)
	clear(b.stored)
	b.refs[v.ID] = b.control
}

// buildBranchIf closes a loop back-edge: carried locals are updated, the true
// arm jumps back to the LOOP_BEGIN and the false arm falls through.
func (b *builder) buildBranchIf(v *ssa.Value) {
	ops, ok := b.operands(v, 2)
	if !ok {
		b.hole(v)
		return
	}
	cond, loop := ops[0], ops[1]
	if n := b.g.Node(loop); n.Op != OpLoopBegin {
		b.errorf(diag.UnknownBranchTarget, v, "branch target v%d is not a loop", v.Label())
		b.hole(v)
		return
	}

	for _, m := range b.f.Markers(v.Label()) {
		vr, ok := b.vars[m.Local]
		if !ok || m.Updated == ssa.InvalidID {
			continue
		}
		upd, ok := b.operand(v, m.Updated)
		if !ok {
			continue
		}
		b.store(vr, upd)
	}

	ifRef := b.g.add(OpIf, Void, 0, b.control, cond)
	loopEnd := b.g.add(OpLoopEnd, Void, 0, b.g.add(OpIfTrue, Void, 0, ifRef))
	b.linkBackEdge(loop, loopEnd)
	b.control = b.g.add(OpIfFalse, Void, 0, ifRef)
}

// linkBackEdge fills the first free back-edge slot of a LOOP_BEGIN.
func (b *builder) linkBackEdge(loop, loopEnd Ref) {
	n := b.g.Node(loop)
	for i := 1; i < len(n.Ops); i++ {
		if n.Ops[i] == 0 {
			n.Ops[i] = loopEnd
			return
		}
	}
	b.g.setOp(loop, len(n.Ops), loopEnd)
}

func (b *builder) buildReturn(v *ssa.Value) {
	if len(v.Args) == 0 {
		b.control = b.g.add(OpReturn, Void, 0, b.control)
		return
	}
	ops, ok := b.operands(v, 1)
	if !ok {
		b.hole(v)
		return
	}
	b.control = b.g.add(OpReturn, Void, 0, b.control, ops[0])
}
