// Package pipeline runs the per-function compilation stages: lowering to
// SSA, building the graph and validating it.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/you-not-fish/wasmsea/internal/diag"
	"github.com/you-not-fish/wasmsea/internal/sea"
	"github.com/you-not-fish/wasmsea/internal/ssa"
	"github.com/you-not-fish/wasmsea/internal/wasm"
)

// Unit carries one function through the stages.
type Unit struct {
	Func  *wasm.Function
	SSA   *ssa.Func
	Graph *sea.Graph

	// Diags collects every diagnostic reported for the function.
	Diags diag.Collector

	handler diag.Handler
}

// NewUnit creates a unit for fn. Diagnostics are collected on the unit and
// also logged through the logger carried by ctx.
func NewUnit(ctx context.Context, fn *wasm.Function) *Unit {
	u := &Unit{Func: fn}
	u.handler = diag.Tee(u.Diags.Handler(), diag.Log(ctx))
	return u
}

// Name returns the function name.
func (u *Unit) Name() string { return u.Func.Name }

// Handler returns the diagnostic sink for the unit.
func (u *Unit) Handler() diag.Handler { return u.handler }

// Close releases the unit's graph. It must be called exactly once, after
// every consumer of the graph is done.
func (u *Unit) Close() error {
	if u.Graph == nil {
		return nil
	}
	return u.Graph.Release()
}

// Stage describes a single step of the pipeline.
type Stage struct {
	Name string
	Fn   func(ctx context.Context, u *Unit) error
}

var (
	// Lower translates the function into SSA form.
	Lower = Stage{Name: "lower", Fn: func(ctx context.Context, u *Unit) error {
		u.SSA = ssa.Lower(u.Func, u.handler)
		return nil
	}}

	// Build constructs the graph from the SSA form.
	Build = Stage{Name: "build", Fn: func(ctx context.Context, u *Unit) error {
		g, err := sea.Build(u.SSA, u.handler)
		if err != nil {
			return err
		}
		u.Graph = g
		return nil
	}}

	// Validate checks the structure of the graph.
	Validate = Stage{Name: "validate", Fn: func(ctx context.Context, u *Unit) error {
		return sea.Validate(u.Graph)
	}}
)

// Standard returns the stages every function goes through.
func Standard() []Stage {
	return []Stage{Lower, Build}
}

// Config controls stage execution behavior.
type Config struct {
	DumpBefore string    // dump before this stage ("*" for all)
	DumpAfter  string    // dump after this stage ("*" for all)
	DumpFunc   string    // restrict dumps to this function name
	Verify     bool      // verify SSA and graph before/after each stage
	Out        io.Writer // dump destination; os.Stderr if nil
}

// Run executes the given stages on u in order.
func Run(ctx context.Context, u *Unit, stages []Stage, cfg Config) error {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	for _, s := range stages {
		if shouldDump(cfg.DumpBefore, s.Name) && matchFunc(cfg.DumpFunc, u.Name()) {
			fmt.Fprintf(out, "--- before %s (%s) ---\n", s.Name, u.Name())
			dump(out, u)
			fmt.Fprintln(out)
		}

		if cfg.Verify {
			if err := verify(u); err != nil {
				return errors.Wrapf(err, "verify before %s", s.Name)
			}
		}

		log.G(ctx).WithFields(log.Fields{
			"func":  u.Name(),
			"stage": s.Name,
		}).Debug("running stage")
		if err := s.Fn(ctx, u); err != nil {
			return errors.Wrapf(err, "%s (%s)", s.Name, u.Name())
		}

		if cfg.Verify {
			if err := verify(u); err != nil {
				return errors.Wrapf(err, "verify after %s", s.Name)
			}
		}

		if shouldDump(cfg.DumpAfter, s.Name) && matchFunc(cfg.DumpFunc, u.Name()) {
			fmt.Fprintf(out, "--- after %s (%s) ---\n", s.Name, u.Name())
			dump(out, u)
			fmt.Fprintln(out)
		}
	}
	return nil
}

// dump prints the most lowered form the unit holds.
func dump(w io.Writer, u *Unit) {
	switch {
	case u.Graph != nil:
		if err := sea.Fprint(w, u.Graph); err != nil {
			fmt.Fprintf(w, "<%v>\n", err)
		}
	case u.SSA != nil:
		ssa.Fprint(w, u.SSA)
	default:
		wasm.Fprint(w, u.Func)
	}
}

func verify(u *Unit) error {
	if u.SSA != nil {
		if err := ssa.Verify(u.SSA); err != nil {
			return err
		}
	}
	if u.Graph != nil {
		return sea.Validate(u.Graph)
	}
	return nil
}

func shouldDump(pattern, name string) bool {
	return pattern == "*" || pattern == name
}

func matchFunc(filter, name string) bool {
	return filter == "" || filter == name
}
