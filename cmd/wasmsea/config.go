package main

import (
	"os"

	"github.com/containerd/errdefs"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// fileConfig is the layout of the --config file. Flags given on the command
// line take precedence over it.
type fileConfig struct {
	SaveIR       string `toml:"save-ir"`
	DOT          bool   `toml:"dot"`
	Validate     bool   `toml:"validate"`
	Run          string `toml:"run"`
	MaxSteps     int    `toml:"max-steps"`
	MaxInputSize string `toml:"max-input-size"`
	LogLevel     string `toml:"log-level"`

	Dump struct {
		Before string `toml:"before"`
		After  string `toml:"after"`
		Func   string `toml:"func"`
		Verify bool   `toml:"verify"`
	} `toml:"dump"`
}

// loadConfig reads path and copies every value whose flag was not set
// explicitly into opts.
func loadConfig(path string, flags *pflag.FlagSet, opts *options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(errdefs.ErrNotFound, "config %s", path)
		}
		return errors.Wrap(err, "reading config")
	}
	var cfg fileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "config %s: %v", path, err)
	}

	set := func(name string, apply func()) {
		if !flags.Changed(name) {
			apply()
		}
	}
	set("save-ir", func() {
		if cfg.SaveIR != "" {
			opts.saveIR = cfg.SaveIR
		}
	})
	set("dot", func() { opts.dot = opts.dot || cfg.DOT })
	set("validate", func() { opts.validate = opts.validate || cfg.Validate })
	set("run", func() {
		if cfg.Run != "" {
			opts.run = cfg.Run
			opts.interpret = true
		}
	})
	set("max-steps", func() {
		if cfg.MaxSteps > 0 {
			opts.maxSteps = cfg.MaxSteps
		}
	})
	set("max-input-size", func() {
		if cfg.MaxInputSize != "" {
			opts.maxInputSize = cfg.MaxInputSize
		}
	})
	set("log-level", func() {
		if cfg.LogLevel != "" {
			opts.logLevel = cfg.LogLevel
		}
	})
	set("dump-before", func() {
		if cfg.Dump.Before != "" {
			opts.dumpBefore = cfg.Dump.Before
		}
	})
	set("dump-after", func() {
		if cfg.Dump.After != "" {
			opts.dumpAfter = cfg.Dump.After
		}
	})
	set("dump-func", func() {
		if cfg.Dump.Func != "" {
			opts.dumpFunc = cfg.Dump.Func
		}
	})
	set("verify", func() { opts.verify = opts.verify || cfg.Dump.Verify })
	return nil
}
