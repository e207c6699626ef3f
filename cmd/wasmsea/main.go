// Package main implements the wasmsea command: it decodes a WebAssembly
// module and, for every function, prints the instructions, the SSA form and
// the sea-of-nodes graph, optionally saving, validating and interpreting it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/you-not-fish/wasmsea/internal/sea"
)

// Version information
const Version = "0.1.0-dev"

// Exit codes
const (
	exitOK = iota
	exitError
	exitNotFound
	exitInvalid
)

type options struct {
	configFile   string
	saveIR       string
	dot          bool
	validate     bool
	run          string
	interpret    bool // --run given, possibly with no args
	maxSteps     int
	maxInputSize string
	dumpBefore   string
	dumpAfter    string
	dumpFunc     string
	verify       bool
	logLevel     string
}

func main() {
	os.Exit(runMain(os.Args[1:], os.Stdout, os.Stderr))
}

// runMain executes the command line args and returns the exit code.
func runMain(args []string, stdout, stderr io.Writer) int {
	if args == nil {
		// cobra falls back to os.Args for a nil slice
		args = []string{}
	}
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(stderr, "wasmsea: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return exitNotFound
	case errdefs.IsInvalidArgument(err):
		return exitInvalid
	}
	return exitError
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "wasmsea [OPTIONS] <input.wasm>",
		Short:         "Lower WebAssembly functions to SSA and a sea-of-nodes graph",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile != "" {
				if err := loadConfig(opts.configFile, cmd.Flags(), opts); err != nil {
					return err
				}
			}
			opts.interpret = opts.interpret || cmd.Flags().Changed("run")
			ctx, err := withLogger(cmd.Context(), cmd.ErrOrStderr(), opts.logLevel)
			if err != nil {
				return err
			}
			return run(ctx, cmd.OutOrStdout(), opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", "", "Read options from a TOML file")
	flags.StringVar(&opts.saveIR, "save-ir", "", "Save each function's graph to `DIR`/<func>.ir")
	flags.BoolVar(&opts.dot, "dot", false, "Print a Graphviz DOT export of each graph")
	flags.BoolVar(&opts.validate, "validate", false, "Validate each graph")
	flags.StringVar(&opts.run, "run", "", "Interpret each function with comma separated i32 `ARGS`")
	flags.IntVar(&opts.maxSteps, "max-steps", sea.DefaultMaxSteps, "Interpreter step limit")
	flags.StringVar(&opts.maxInputSize, "max-input-size", "16MiB", "Reject input modules larger than this")
	flags.StringVar(&opts.dumpBefore, "dump-before", "", "Dump before stage (name or \"*\")")
	flags.StringVar(&opts.dumpAfter, "dump-after", "", "Dump after stage (name or \"*\")")
	flags.StringVar(&opts.dumpFunc, "dump-func", "", "Only dump specific function")
	flags.BoolVar(&opts.verify, "verify", false, "Verify SSA and graph around each stage")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	return cmd
}

// withLogger returns a context carrying a text logger writing to w.
func withLogger(ctx context.Context, w io.Writer, level string) (context.Context, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return ctx, errors.Wrapf(errdefs.ErrInvalidArgument, "log level: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    true,
	})
	return log.WithLogger(ctx, logrus.NewEntry(logger)), nil
}
