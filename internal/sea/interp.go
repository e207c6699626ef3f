package sea

import (
	"github.com/containerd/errdefs"
	"github.com/pkg/errors"

	"github.com/you-not-fish/wasmsea/internal/ssa"
)

// DefaultMaxSteps bounds the number of control nodes Interpret executes.
const DefaultMaxSteps = 1000

var (
	// ErrStepLimit is returned when the step limit is exhausted before a
	// RETURN is reached.
	ErrStepLimit = errors.New("sea: step limit exhausted")

	// ErrTrap is returned when execution traps on division by zero or
	// signed division overflow.
	ErrTrap = errors.New("sea: trap")

	// ErrNoReturn is returned when control reaches a node with no successor.
	ErrNoReturn = errors.New("sea: control fell off the graph")
)

// Result is the outcome of interpreting a graph.
type Result struct {
	Value          int32 // operand of the RETURN reached; 0 for a void return
	Steps          int   // control nodes executed
	LoopIterations int   // LOOP_BEGIN entries
	BackEdges      int   // LOOP_END nodes executed
}

type interpOptions struct {
	maxSteps int
}

// Option configures Interpret.
type Option func(*interpOptions)

// WithMaxSteps overrides DefaultMaxSteps. Values below 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(o *interpOptions) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

type interpreter struct {
	g     *Graph
	args  []int32
	succs map[Ref][]Ref
	phis  map[Ref][]Ref // MERGE -> its PHIs

	vals    map[Ref]int32 // results of VLOAD and PHI nodes
	vars    map[Ref]int32 // VAR cells
	arrival int           // MERGE input index control came in through

	// cache holds computed data nodes. It is cleared whenever vals
	// changes, since every cached value may depend on a VLOAD or PHI.
	cache map[Ref]int32
}

// arithOps maps graph arithmetic to the SSA evaluator's ops, indexed by
// signedness of the node type: [signed, unsigned].
var arithOps = map[Op][2]ssa.Op{
	OpAdd: {ssa.OpAdd, ssa.OpAdd},
	OpSub: {ssa.OpSub, ssa.OpSub},
	OpMul: {ssa.OpMul, ssa.OpMul},
	OpDiv: {ssa.OpDivS, ssa.OpDivU},
	OpMod: {ssa.OpRemS, ssa.OpRemU},
	OpAnd: {ssa.OpAnd, ssa.OpAnd},
	OpOr:  {ssa.OpOr, ssa.OpOr},
	OpXor: {ssa.OpXor, ssa.OpXor},
	OpShl: {ssa.OpShl, ssa.OpShl},
	OpSar: {ssa.OpShrS, ssa.OpShrS},
	OpShr: {ssa.OpShrU, ssa.OpShrU},
	OpEq:  {ssa.OpEq, ssa.OpEq},
	OpNe:  {ssa.OpNe, ssa.OpNe},
	OpLt:  {ssa.OpLtS, ssa.OpLtU},
	OpGe:  {ssa.OpGeS, ssa.OpGeU},
	OpLe:  {ssa.OpLeS, ssa.OpLeU},
	OpGt:  {ssa.OpGtS, ssa.OpGtU},
	OpULt: {ssa.OpLtU, ssa.OpLtU},
	OpUGe: {ssa.OpGeU, ssa.OpGeU},
	OpULe: {ssa.OpLeU, ssa.OpLeU},
	OpUGt: {ssa.OpGtU, ssa.OpGtU},
}

var bitOps = map[Op]ssa.Op{
	OpCtlz:  ssa.OpClz,
	OpCttz:  ssa.OpCtz,
	OpCtpop: ssa.OpPopcnt,
}

// Interpret executes g with one argument per parameter, following control
// edges from START until a RETURN is reached or the step limit runs out.
func Interpret(g *Graph, args []int32, opts ...Option) (Result, error) {
	var res Result
	if g.Released() {
		return res, ErrReleased
	}
	if len(args) != g.NumParams {
		return res, errors.Wrapf(errdefs.ErrInvalidArgument, "sea: %s wants %d argument(s), got %d", g.Name, g.NumParams, len(args))
	}
	o := interpOptions{maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(&o)
	}

	in := &interpreter{
		g:     g,
		args:  args,
		succs: successors(g),
		phis:  make(map[Ref][]Ref),
		vals:  make(map[Ref]int32),
		vars:  make(map[Ref]int32),
		cache: make(map[Ref]int32),
	}
	for ref := Ref(1); int(ref) <= g.NumNodes(); ref++ {
		if n := g.Node(ref); n.Op == OpPhi && len(n.Ops) > 0 {
			in.phis[n.Ops[0]] = append(in.phis[n.Ops[0]], ref)
		}
	}

	pc := g.Start()
	for {
		if res.Steps >= o.maxSteps {
			return res, errors.Wrapf(ErrStepLimit, "after %d steps", res.Steps)
		}
		res.Steps++

		n := g.Node(pc)
		if n == nil || !n.Op.IsControl() || len(n.Ops) < n.Op.Info().MinOpnds {
			return res, errors.Errorf("sea: pc %%%d is not a well-formed control node", pc)
		}
		switch n.Op {
		case OpReturn:
			if len(n.Ops) > 1 && n.Ops[1] != 0 {
				v, err := in.eval(pc, n.Ops[1])
				if err != nil {
					return res, err
				}
				res.Value = v
			}
			return res, nil
		case OpVStore:
			v, err := in.eval(pc, n.Ops[2])
			if err != nil {
				return res, err
			}
			in.vars[n.Ops[1]] = v
		case OpVLoad:
			in.set(pc, in.vars[n.Ops[1]])
		case OpLoopBegin:
			res.LoopIterations++
		case OpLoopEnd:
			res.BackEdges++
		case OpMerge:
			for _, phi := range in.phis[pc] {
				pn := g.Node(phi)
				if 1+in.arrival >= len(pn.Ops) {
					return res, errors.Errorf("sea: PHI %%%d has no input %d", phi, in.arrival)
				}
				v, err := in.eval(phi, pn.Ops[1+in.arrival])
				if err != nil {
					return res, err
				}
				in.set(phi, v)
			}
		}

		next, err := in.next(pc, n)
		if err != nil {
			return res, err
		}
		pc = next
	}
}

// set records the result of a VLOAD or PHI.
func (in *interpreter) set(ref Ref, v int32) {
	in.vals[ref] = v
	clear(in.cache)
}

// next picks the control successor of pc.
func (in *interpreter) next(pc Ref, n *Node) (Ref, error) {
	succs := in.succs[pc]
	switch n.Op {
	case OpIf:
		cond, err := in.eval(pc, n.Ops[1])
		if err != nil {
			return 0, err
		}
		want := OpIfFalse
		if cond != 0 {
			want = OpIfTrue
		}
		for _, s := range succs {
			if in.g.Node(s).Op == want {
				return s, nil
			}
		}
		return 0, errors.Wrapf(ErrNoReturn, "IF %%%d has no %s", pc, want)
	case OpEnd:
		for _, s := range succs {
			if m := in.g.Node(s); m.Op == OpMerge {
				for i, op := range m.Ops {
					if op == pc {
						in.arrival = i
					}
				}
				return s, nil
			}
		}
	}
	if len(succs) == 0 {
		return 0, errors.Wrapf(ErrNoReturn, "at %s %%%d", n.Op, pc)
	}
	return succs[0], nil
}

// eval computes data node ref as used by user. Operands must precede their
// users, which keeps evaluation finite on malformed graphs.
func (in *interpreter) eval(user, ref Ref) (int32, error) {
	n := in.g.Node(ref)
	if n == nil || ref >= user || len(n.Ops) < n.Op.Info().MinOpnds {
		return 0, errors.Errorf("sea: %%%d uses invalid data operand %%%d", user, ref)
	}
	switch n.Op {
	case OpConst:
		return int32(n.Val), nil
	case OpParam:
		if n.Val < 0 || n.Val >= int64(len(in.args)) {
			return 0, errors.Errorf("sea: PARAM %%%d index %d out of range", ref, n.Val)
		}
		return in.args[n.Val], nil
	case OpVLoad, OpPhi:
		v, ok := in.vals[ref]
		if !ok {
			return 0, errors.Errorf("sea: %s %%%d read before it executed", n.Op, ref)
		}
		return v, nil
	}
	if v, ok := in.cache[ref]; ok {
		return v, nil
	}
	v, err := in.compute(ref, n)
	if err != nil {
		return 0, err
	}
	in.cache[ref] = v
	return v, nil
}

// compute applies the operation of data node n to its evaluated operands.
func (in *interpreter) compute(ref Ref, n *Node) (int32, error) {
	if op, ok := bitOps[n.Op]; ok {
		x, err := in.eval(ref, n.Ops[0])
		if err != nil {
			return 0, err
		}
		return ssa.EvalUnary(op, x), nil
	}
	if ops, ok := arithOps[n.Op]; ok {
		a, err := in.eval(ref, n.Ops[0])
		if err != nil {
			return 0, err
		}
		b, err := in.eval(ref, n.Ops[1])
		if err != nil {
			return 0, err
		}
		op := ops[0]
		if n.Type.IsUnsigned() {
			op = ops[1]
		}
		v, err := ssa.EvalBinary(op, a, b)
		switch {
		case errors.Is(err, ssa.ErrDivideByZero):
			return 0, errors.Wrapf(ErrTrap, "%s %%%d: divide by zero", n.Op, ref)
		case errors.Is(err, ssa.ErrIntegerOverflow):
			return 0, errors.Wrapf(ErrTrap, "%s %%%d: integer overflow", n.Op, ref)
		}
		return v, err
	}
	return 0, errors.Errorf("sea: %s %%%d is not a data node", n.Op, ref)
}
