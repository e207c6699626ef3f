package sea

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"
	"gotest.tools/v3/golden"

	"github.com/you-not-fish/wasmsea/internal/diag"
	"github.com/you-not-fish/wasmsea/internal/ssa"
	"github.com/you-not-fish/wasmsea/internal/wasm"
)

// build lowers and builds fn, releasing the graph when the test ends.
func build(t *testing.T, fn *wasm.Function) (*Graph, *diag.Collector) {
	t.Helper()
	var c diag.Collector
	g, err := Build(ssa.Lower(fn, c.Handler()), c.Handler())
	assert.NilError(t, err)
	t.Cleanup(func() { _ = g.Release() })
	return g, &c
}

func interpret(t *testing.T, g *Graph, args ...int32) Result {
	t.Helper()
	res, err := Interpret(g, args)
	assert.NilError(t, err)
	return res
}

func addFunc() *wasm.Function {
	return wasm.NewFunction("add", 0,
		wasm.Const(2), wasm.Const(3), wasm.I(wasm.OpI32Add), wasm.I(wasm.OpReturn))
}

func countdownFunc() *wasm.Function {
	return wasm.NewFunction("countdown", 1,
		wasm.I(wasm.OpLoop),
		wasm.LocalGet(0), wasm.Const(1), wasm.I(wasm.OpI32Sub), wasm.LocalSet(0),
		wasm.LocalGet(0), wasm.Const(0), wasm.I(wasm.OpI32GtS), wasm.BrIf(0),
		wasm.I(wasm.OpEnd),
		wasm.LocalGet(0),
	)
}

func selectFunc(cond int32) *wasm.Function {
	return wasm.NewFunction("sel", 0,
		wasm.Const(20), wasm.Const(10), wasm.Const(cond), wasm.I(wasm.OpSelect))
}

func TestBuildAdd(t *testing.T) {
	g, c := build(t, addFunc())
	assert.NilError(t, c.Err())

	want := `graph add (0 params, 5 nodes):
  %1 = START void
  %2 = CONST i32 [2]
  %3 = CONST i32 [3]
  %4 = ADD i32 %2, %3
  %5 = RETURN void %1, %4
`
	assert.Equal(t, Sprint(g), want)
	assert.Check(t, is.Equal(g.Count(OpStart), 1))
	assert.Check(t, is.Equal(g.Count(OpConst), 2))
	assert.Check(t, is.Equal(g.Count(OpAdd), 1))
	assert.Check(t, is.Equal(g.Count(OpReturn), 1))
	assert.NilError(t, Validate(g))

	res := interpret(t, g)
	assert.Equal(t, res.Value, int32(5))
}

func TestBuildParamsInDeclaredOrder(t *testing.T) {
	g, c := build(t, wasm.NewFunction("sub", 3,
		wasm.LocalGet(2), wasm.LocalGet(0), wasm.I(wasm.OpI32Sub)))
	assert.NilError(t, c.Err())

	var params []int64
	for ref := Ref(1); int(ref) <= g.NumNodes(); ref++ {
		if n := g.Node(ref); n.Op == OpParam {
			params = append(params, n.Val)
		}
	}
	assert.DeepEqual(t, params, []int64{0, 2})
	assert.NilError(t, Validate(g))

	res := interpret(t, g, 10, 99, 3)
	assert.Equal(t, res.Value, int32(-7))
}

func TestBuildLoop(t *testing.T) {
	g, c := build(t, countdownFunc())
	assert.NilError(t, c.Err())

	want := `graph countdown (1 params, 16 nodes):
  %1 = START void
  %2 = PARAM i32 %1 [0]
  %3 = VAR i32 [0]
  %4 = VSTORE void %1, %3, %2
  %5 = LOOP_BEGIN void %4, %14
  %6 = VLOAD i32 %5, %3
  %7 = CONST i32 [1]
  %8 = SUB i32 %6, %7
  %9 = CONST i32 [0]
  %10 = GT bool %8, %9
  %11 = VSTORE void %6, %3, %8
  %12 = IF void %11, %10
  %13 = IF_TRUE void %12
  %14 = LOOP_END void %13
  %15 = IF_FALSE void %12
  %16 = RETURN void %15, %8
`
	assert.Equal(t, Sprint(g), want)
	assert.NilError(t, Validate(g))
	// The parameter seeds its VAR once.
	assert.Equal(t, g.Count(OpVStore), 2)

	res := interpret(t, g, 5)
	assert.Equal(t, res.Value, int32(0))
	assert.Equal(t, res.LoopIterations, 5)
	assert.Equal(t, res.BackEdges, 4)
	assert.Equal(t, res.Steps, 32)
	assert.Check(t, res.Steps < DefaultMaxSteps)

	// A loop body always runs at least once.
	res = interpret(t, g, -3)
	assert.Equal(t, res.Value, int32(-4))
	assert.Equal(t, res.LoopIterations, 1)
	assert.Equal(t, res.BackEdges, 0)
}

func TestInterpretStepLimit(t *testing.T) {
	g, _ := build(t, countdownFunc())
	res, err := Interpret(g, []int32{1000}, WithMaxSteps(50))
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, res.Steps, 50)

	_, err = Interpret(g, []int32{1000})
	assert.ErrorIs(t, err, ErrStepLimit)
}

func TestInterpretArgCount(t *testing.T) {
	g, _ := build(t, countdownFunc())
	_, err := Interpret(g, nil)
	assert.Check(t, errdefs.IsInvalidArgument(err), "got %v", err)
}

func TestBuildSelect(t *testing.T) {
	for _, tt := range []struct {
		cond, want int32
	}{
		{1, 20},
		{7, 20},
		{0, 10},
	} {
		g, c := build(t, selectFunc(tt.cond))
		assert.NilError(t, c.Err())
		assert.NilError(t, Validate(g))

		assert.Check(t, is.Equal(g.Count(OpIf), 1))
		assert.Check(t, is.Equal(g.Count(OpEnd), 2))
		assert.Check(t, is.Equal(g.Count(OpMerge), 1))
		assert.Check(t, is.Equal(g.Count(OpPhi), 1))

		// The choice node lists the false value first, matching the
		// merge's arm order.
		for ref := Ref(1); int(ref) <= g.NumNodes(); ref++ {
			n := g.Node(ref)
			switch n.Op {
			case OpPhi:
				assert.Check(t, is.Equal(g.Node(n.Ops[1]).Val, int64(10)))
				assert.Check(t, is.Equal(g.Node(n.Ops[2]).Val, int64(20)))
			case OpMerge:
				falseEnd := g.Node(n.Ops[0])
				assert.Check(t, is.Equal(g.Node(falseEnd.Ops[0]).Op, OpIfFalse))
			}
		}

		res := interpret(t, g)
		if res.Value != tt.want {
			t.Errorf("select with cond %d = %d, want %d", tt.cond, res.Value, tt.want)
		}
	}
}

func TestBuildIfElse(t *testing.T) {
	fn := wasm.NewFunction("abs", 1,
		wasm.LocalGet(0), wasm.Const(0), wasm.I(wasm.OpI32LtS),
		wasm.I(wasm.OpIf),
		wasm.Const(0), wasm.LocalGet(0), wasm.I(wasm.OpI32Sub),
		wasm.I(wasm.OpElse),
		wasm.LocalGet(0),
		wasm.I(wasm.OpEnd),
	)
	g, c := build(t, fn)
	assert.NilError(t, c.Err())
	assert.NilError(t, Validate(g))

	f := ssa.Lower(fn, nil)
	for _, x := range []int32{-5, 0, 7, -1 << 31} {
		want, err := ssa.Eval(f, []int32{x})
		assert.NilError(t, err)
		res := interpret(t, g, x)
		assert.Check(t, is.Equal(res.Value, want), "abs(%d)", x)
	}
}

func TestBuildUnaryAndUnsigned(t *testing.T) {
	tests := []struct {
		name string
		body []wasm.Instr
		args []int32
		want int32
	}{
		{"eqz zero", []wasm.Instr{wasm.LocalGet(0), wasm.I(wasm.OpI32Eqz)}, []int32{0}, 1},
		{"eqz nonzero", []wasm.Instr{wasm.LocalGet(0), wasm.I(wasm.OpI32Eqz)}, []int32{3}, 0},
		{"div_u", []wasm.Instr{wasm.Const(-1), wasm.Const(2), wasm.I(wasm.OpI32DivU)}, []int32{0}, 1<<31 - 1},
		{"div_s", []wasm.Instr{wasm.Const(-9), wasm.Const(2), wasm.I(wasm.OpI32DivS)}, []int32{0}, -4},
		{"shr_u", []wasm.Instr{wasm.Const(-1), wasm.Const(28), wasm.I(wasm.OpI32ShrU)}, []int32{0}, 15},
		{"lt_u", []wasm.Instr{wasm.Const(-1), wasm.Const(1), wasm.I(wasm.OpI32LtU)}, []int32{0}, 0},
		{"clz", []wasm.Instr{wasm.LocalGet(0), wasm.I(wasm.OpI32Clz)}, []int32{1}, 31},
		{"popcnt", []wasm.Instr{wasm.LocalGet(0), wasm.I(wasm.OpI32Popcnt)}, []int32{0xff}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, c := build(t, wasm.NewFunction(tt.name, 1, tt.body...))
			assert.NilError(t, c.Err())
			assert.NilError(t, Validate(g))
			res := interpret(t, g, tt.args...)
			assert.Equal(t, res.Value, tt.want)
		})
	}
}

func TestInterpretTrap(t *testing.T) {
	g, _ := build(t, wasm.NewFunction("div", 1,
		wasm.Const(1), wasm.LocalGet(0), wasm.I(wasm.OpI32RemS)))
	_, err := Interpret(g, []int32{0})
	assert.ErrorIs(t, err, ErrTrap)
}

func TestInterpretDivideOverflow(t *testing.T) {
	g, _ := build(t, wasm.NewFunction("div", 2,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.I(wasm.OpI32DivS)))
	_, err := Interpret(g, []int32{-1 << 31, -1})
	assert.ErrorIs(t, err, ErrTrap)
	assert.ErrorContains(t, err, "integer overflow")

	res := interpret(t, g, -1<<31, 1)
	assert.Equal(t, res.Value, int32(-1<<31))
}

// doublingFunc doubles a local n times through a chain of ADD(x, x) nodes.
func doublingFunc(n int) *wasm.Function {
	body := []wasm.Instr{wasm.Const(1), wasm.LocalSet(0)}
	for i := 0; i < n; i++ {
		body = append(body,
			wasm.LocalGet(0), wasm.LocalGet(0), wasm.I(wasm.OpI32Add), wasm.LocalSet(0))
	}
	body = append(body, wasm.LocalGet(0))
	return wasm.NewFunction("double", 0, body...)
}

func TestInterpretSharedOperands(t *testing.T) {
	for _, tt := range []struct {
		n    int
		want int32
	}{
		{30, 1 << 30},
		{40, 0},
	} {
		g, c := build(t, doublingFunc(tt.n))
		assert.NilError(t, c.Err())
		assert.Equal(t, g.Count(OpAdd), tt.n)

		res := interpret(t, g)
		assert.Check(t, is.Equal(res.Value, tt.want), "%d doublings", tt.n)
		assert.Check(t, is.Equal(res.Steps, 2))
	}
}

func TestBuildInternsConstants(t *testing.T) {
	g, _ := build(t, wasm.NewFunction("dbl", 0,
		wasm.Const(7), wasm.Const(7), wasm.I(wasm.OpI32Add)))
	assert.Equal(t, g.Count(OpConst), 1)
	assert.Equal(t, interpret(t, g).Value, int32(14))
}

func TestBuildUnderflow(t *testing.T) {
	g, c := build(t, wasm.NewFunction("bad", 0, wasm.Const(1), wasm.I(wasm.OpI32Add)))
	assert.Equal(t, c.Count(diag.StackUnderflow), 1)
	assert.Equal(t, c.Count(diag.UnresolvedReference), 2)
	assert.Equal(t, g.Count(OpUnused), 2)
	assert.Equal(t, g.Count(OpAdd), 0)

	// The damaged graph is still dumpable.
	assert.Check(t, strings.Contains(Sprint(g), "UNUSED void [1]"))

	err := Validate(g)
	assert.ErrorContains(t, err, "unused node (value v1 left unmapped)")

	_, err = Interpret(g, nil)
	assert.ErrorIs(t, err, ErrNoReturn)
}

func TestBuildBadValues(t *testing.T) {
	f := ssa.NewFunc("bad", 0)
	one := f.NewValue(ssa.OpConst)
	one.Const = 1
	zero := f.NewValue(ssa.OpConst)
	f.NewValue(ssa.OpBranchIf, one.ID, zero.ID)
	f.NewValue(ssa.OpInvalid)
	f.NewValue(ssa.OpAdd, 9, 0)

	var c diag.Collector
	g, err := Build(f, c.Handler())
	assert.NilError(t, err)
	defer g.Release()

	assert.Equal(t, c.Count(diag.UnknownBranchTarget), 1)
	assert.Equal(t, c.Count(diag.UnsupportedOperation), 1)
	assert.Equal(t, c.Count(diag.UnresolvedReference), 1)
	assert.Equal(t, g.Count(OpUnused), 3)

	_, err = Build(nil, nil)
	assert.Check(t, errdefs.IsInvalidArgument(err))
}

func TestValidateIdempotent(t *testing.T) {
	g, _ := build(t, countdownFunc())
	assert.NilError(t, Validate(g))
	assert.NilError(t, Validate(g))
	assert.Equal(t, Sprint(g), Sprint(g))

	bad, _ := build(t, wasm.NewFunction("bad", 0, wasm.I(wasm.OpI32Add)))
	err1, err2 := Validate(bad), Validate(bad)
	assert.Assert(t, err1 != nil)
	assert.Equal(t, err1.Error(), err2.Error())
}

func TestValidateUnreachable(t *testing.T) {
	g := newGraph("loose", 0)
	defer g.Release()
	start := g.add(OpStart, Void, 0)
	lb := g.add(OpLoopBegin, Void, 0, 3)
	g.add(OpLoopEnd, Void, 0, lb)
	g.add(OpReturn, Void, 0, start)

	err := Validate(g)
	assert.ErrorContains(t, err, "%2: LOOP_BEGIN is unreachable from START")
	assert.ErrorContains(t, err, "%3: LOOP_END is unreachable from START")
}

func TestValidateOperandKinds(t *testing.T) {
	g := newGraph("kinds", 0)
	defer g.Release()
	start := g.add(OpStart, Void, 0)
	c := g.add(OpConst, I32, 4)
	g.add(OpVStore, Void, 0, start, c, c)
	g.add(OpReturn, Void, 0, c, 42)

	err := Validate(g)
	assert.ErrorContains(t, err, "VSTORE operand 1: CONST is not a VAR")
	assert.ErrorContains(t, err, "RETURN operand 0: CONST is not a control node")
	assert.ErrorContains(t, err, "RETURN operand 1 = 42 out of bounds")
}

func TestRelease(t *testing.T) {
	var c diag.Collector
	g, err := Build(ssa.Lower(addFunc(), nil), c.Handler())
	assert.NilError(t, err)

	assert.NilError(t, g.Release())
	assert.Check(t, g.Released())
	assert.ErrorIs(t, g.Release(), ErrReleased)

	assert.ErrorIs(t, Validate(g), ErrReleased)
	assert.ErrorIs(t, Fprint(&bytes.Buffer{}, g), ErrReleased)
	assert.ErrorIs(t, FprintDOT(&bytes.Buffer{}, g, ""), ErrReleased)
	assert.ErrorIs(t, Save("unused.ir", g), ErrReleased)
	_, err = Interpret(g, nil)
	assert.ErrorIs(t, err, ErrReleased)
	assert.Check(t, g.Node(1) == nil)
	assert.Equal(t, g.NumNodes(), 0)

	// Storage is recycled for the next build.
	g2, _ := build(t, addFunc())
	assert.Equal(t, interpret(t, g2).Value, int32(5))
}

func TestSave(t *testing.T) {
	g, _ := build(t, addFunc())
	dir := fs.NewDir(t, "sea")
	defer dir.Remove()

	path := dir.Join("add.ir")
	assert.NilError(t, Save(path, g))

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Check(t, strings.HasPrefix(string(data), "; wasmsea graph add: 0 params, 5 nodes, start %1\n"))
	assert.Check(t, strings.HasSuffix(string(data), Sprint(g)))

	err = Save(dir.Join("missing", "add.ir"), g)
	assert.ErrorContains(t, err, "sea: save graph")
}

func TestFprintDOT(t *testing.T) {
	g, _ := build(t, countdownFunc())
	var buf bytes.Buffer
	assert.NilError(t, FprintDOT(&buf, g, ""))
	golden.Assert(t, buf.String(), "countdown.dot")
}
