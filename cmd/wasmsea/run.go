package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"github.com/you-not-fish/wasmsea/internal/diag"
	"github.com/you-not-fish/wasmsea/internal/pipeline"
	"github.com/you-not-fish/wasmsea/internal/sea"
	"github.com/you-not-fish/wasmsea/internal/ssa"
	"github.com/you-not-fish/wasmsea/internal/wasm"
)

func run(ctx context.Context, out io.Writer, opts *options, path string) error {
	var args []int32
	if opts.interpret {
		var err error
		if args, err = parseArgs(opts.run); err != nil {
			return err
		}
	}
	data, err := readInput(ctx, path, opts.maxInputSize)
	if err != nil {
		return err
	}
	m, err := wasm.DecodeBytes(data, diag.Log(ctx))
	if err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	if opts.saveIR != "" {
		if err := os.MkdirAll(opts.saveIR, 0o755); err != nil {
			return errors.Wrap(err, "creating IR directory")
		}
	}

	cfg := pipeline.Config{
		DumpBefore: opts.dumpBefore,
		DumpAfter:  opts.dumpAfter,
		DumpFunc:   opts.dumpFunc,
		Verify:     opts.verify,
		Out:        out,
	}
	for _, fn := range m.Funcs {
		if err := runFunc(ctx, out, fn, cfg, opts, args); err != nil {
			return err
		}
	}
	return nil
}

// runFunc takes one function through the pipeline and reports on it.
func runFunc(ctx context.Context, out io.Writer, fn *wasm.Function, cfg pipeline.Config, opts *options, args []int32) (retErr error) {
	u := pipeline.NewUnit(ctx, fn)
	defer func() {
		if err := u.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	fmt.Fprintf(out, "== %s ==\n", fn.Name)
	wasm.Fprint(out, fn)
	if err := pipeline.Run(ctx, u, pipeline.Standard(), cfg); err != nil {
		return err
	}
	ssa.Fprint(out, u.SSA)
	if err := sea.Fprint(out, u.Graph); err != nil {
		return err
	}

	if opts.dot {
		if err := sea.FprintDOT(out, u.Graph, fn.Name); err != nil {
			return err
		}
	}
	if opts.saveIR != "" {
		path := filepath.Join(opts.saveIR, irFileName(fn.Name))
		if err := sea.Save(path, u.Graph); err != nil {
			return err
		}
		fmt.Fprintf(out, "saved %s\n", path)
	}
	if opts.validate {
		if err := sea.Validate(u.Graph); err != nil {
			fmt.Fprintf(out, "validate: FAILED\n%v\n", err)
		} else {
			fmt.Fprintln(out, "validate: ok")
		}
	}
	if opts.interpret {
		res, err := sea.Interpret(u.Graph, args, sea.WithMaxSteps(opts.maxSteps))
		if err != nil {
			fmt.Fprintf(out, "run %s: %v\n", fn.Name, err)
		} else {
			fmt.Fprintf(out, "run %s = %d (steps %d, loop iterations %d, back-edges %d)\n",
				fn.Name, res.Value, res.Steps, res.LoopIterations, res.BackEdges)
		}
	}
	if n := u.Diags.Len(); n > 0 {
		fmt.Fprintf(out, "%d diagnostic(s):\n", n)
		for _, d := range u.Diags.Diags {
			fmt.Fprintf(out, "  %v\n", d)
		}
	}
	return nil
}

// readInput reads the module at path, refusing files larger than maxSize.
func readInput(ctx context.Context, path, maxSize string) ([]byte, error) {
	limit, err := units.RAMInBytes(maxSize)
	if err != nil {
		return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "max input size: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errdefs.ErrNotFound, "input %s", path)
		}
		return nil, errors.Wrap(err, "reading input")
	}
	if fi.IsDir() {
		return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "input %s is a directory", path)
	}
	if fi.Size() > limit {
		return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "input %s is %s, larger than %s",
			path, units.HumanSize(float64(fi.Size())), units.BytesSize(float64(limit)))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading input")
	}
	log.G(ctx).WithFields(log.Fields{
		"path": path,
		"size": units.HumanSize(float64(len(data))),
	}).Info("read module")
	return data, nil
}

// parseArgs parses a comma separated list of i32 values.
func parseArgs(s string) ([]int32, error) {
	args := []int32{}
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseInt(f, 0, 32)
		if err != nil {
			return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "--run: bad argument %q", f)
		}
		args = append(args, int32(v))
	}
	return args, nil
}

// irFileName returns the file a function's graph is saved to.
func irFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "func"
	}
	return name + ".ir"
}
