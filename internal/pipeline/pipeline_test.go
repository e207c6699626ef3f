package pipeline

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/you-not-fish/wasmsea/internal/diag"
	"github.com/you-not-fish/wasmsea/internal/sea"
	"github.com/you-not-fish/wasmsea/internal/wasm"
)

func addFunc() *wasm.Function {
	return wasm.NewFunction("add", 2, wasm.LocalGet(0), wasm.LocalGet(1), wasm.I(wasm.OpI32Add))
}

func TestRunEmpty(t *testing.T) {
	u := NewUnit(context.Background(), addFunc())
	if err := Run(context.Background(), u, nil, Config{}); err != nil {
		t.Fatalf("Run with no stages: %v", err)
	}
	if u.SSA != nil || u.Graph != nil {
		t.Error("Run with no stages produced output")
	}
}

func TestRunStandard(t *testing.T) {
	ctx := context.Background()
	u := NewUnit(ctx, addFunc())
	defer u.Close()

	stages := append(Standard(), Validate)
	if err := Run(ctx, u, stages, Config{Verify: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if u.SSA == nil || u.Graph == nil {
		t.Fatal("standard stages did not produce SSA and graph")
	}
	if u.Diags.Len() != 0 {
		t.Errorf("diagnostics = %v, want none", u.Diags.Diags)
	}

	res, err := sea.Interpret(u.Graph, []int32{4, 5})
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if res.Value != 9 {
		t.Errorf("add(4, 5) = %d, want 9", res.Value)
	}
}

func TestRunOrder(t *testing.T) {
	u := NewUnit(context.Background(), addFunc())

	var order []string
	stages := []Stage{
		{Name: "first", Fn: func(ctx context.Context, u *Unit) error { order = append(order, "first"); return nil }},
		{Name: "second", Fn: func(ctx context.Context, u *Unit) error { order = append(order, "second"); return nil }},
	}
	if err := Run(context.Background(), u, stages, Config{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("stage order = %v, want [first second]", order)
	}
}

func TestRunStageError(t *testing.T) {
	u := NewUnit(context.Background(), addFunc())
	boom := errors.New("boom")
	called := false
	stages := []Stage{
		{Name: "fail", Fn: func(ctx context.Context, u *Unit) error { return boom }},
		{Name: "never", Fn: func(ctx context.Context, u *Unit) error { called = true; return nil }},
	}
	err := Run(context.Background(), u, stages, Config{})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
	if errors.Cause(err) != boom {
		t.Errorf("Cause(%v) = %v, want %v", err, errors.Cause(err), boom)
	}
	if !strings.Contains(err.Error(), "fail (add)") {
		t.Errorf("error %q does not name the stage and function", err)
	}
	if called {
		t.Error("stage after a failure was run")
	}
}

func TestRunVerifyFails(t *testing.T) {
	// i32.add on an empty stack leaves holes in both SSA and graph.
	u := NewUnit(context.Background(), wasm.NewFunction("bad", 0, wasm.I(wasm.OpI32Add)))
	err := Run(context.Background(), u, Standard(), Config{Verify: true})
	if err == nil || !strings.Contains(err.Error(), "verify after lower") {
		t.Fatalf("Run error = %v, want verify failure after lower", err)
	}
	if _, ok := errors.Cause(err).(*multierror.Error); !ok {
		t.Errorf("Cause(%v) is %T, want the verifier's *multierror.Error", err, errors.Cause(err))
	}
	if u.Diags.Count(diag.StackUnderflow) != 1 {
		t.Errorf("StackUnderflow count = %d, want 1", u.Diags.Count(diag.StackUnderflow))
	}

	// Without verification the damaged function still builds.
	u = NewUnit(context.Background(), wasm.NewFunction("bad", 0, wasm.I(wasm.OpI32Add)))
	defer u.Close()
	if err := Run(context.Background(), u, Standard(), Config{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := Run(context.Background(), u, []Stage{Validate}, Config{}); err == nil {
		t.Error("validate succeeded on a damaged graph")
	}
}

func TestRunDump(t *testing.T) {
	var buf bytes.Buffer
	u := NewUnit(context.Background(), addFunc())
	defer u.Close()

	cfg := Config{DumpBefore: "lower", DumpAfter: "*", Out: &buf}
	if err := Run(context.Background(), u, Standard(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"--- before lower (add) ---\nfunc add (2 params):\n  0: local.get 0\n",
		"--- after lower (add) ---\nfunc add (2 params):\n  v0 = Param(param 0)\n",
		"--- after build (add) ---\ngraph add (2 params,",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "before build") {
		t.Error("dumped before build without being asked to")
	}
}

func TestRunDumpFuncFilter(t *testing.T) {
	var buf bytes.Buffer
	u := NewUnit(context.Background(), addFunc())
	defer u.Close()

	cfg := Config{DumpAfter: "*", DumpFunc: "other", Out: &buf}
	if err := Run(context.Background(), u, Standard(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("dump for filtered function:\n%s", buf.String())
	}
}

func TestClose(t *testing.T) {
	u := NewUnit(context.Background(), addFunc())
	if err := u.Close(); err != nil {
		t.Fatalf("Close without graph: %v", err)
	}
	if err := Run(context.Background(), u, Standard(), Config{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := u.Close(); !errors.Is(err, sea.ErrReleased) {
		t.Errorf("second Close = %v, want %v", err, sea.ErrReleased)
	}
}
