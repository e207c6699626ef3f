// Package diag implements the diagnostic sink shared by the decoder, the SSA
// lowering engine and the graph builder.
//
// Every problem found while translating a single instruction or value is
// local and recoverable: it is reported to a Handler and translation goes on
// with the rest of the function.
package diag

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/hashicorp/go-multierror"
)

// Kind classifies a diagnostic.
type Kind int

const (
	DecodeError          Kind = iota // malformed or unsupported instruction encoding
	StackUnderflow                   // insufficient operands on the operand stack
	UnresolvedReference              // operand id out of range or unmapped
	UnknownBranchTarget              // branch to a label that cannot be resolved
	UnsupportedOperation             // no lowering rule for an opcode
	kindCount
)

var kindNames = [...]string{
	DecodeError:          "decode error",
	StackUnderflow:       "stack underflow",
	UnresolvedReference:  "unresolved reference",
	UnknownBranchTarget:  "unknown branch target",
	UnsupportedOperation: "unsupported operation",
}

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	if k >= 0 && k < kindCount {
		return kindNames[k]
	}
	return "unknown"
}

// class maps a kind onto the errdefs error classes.
func (k Kind) class() error {
	switch k {
	case DecodeError, StackUnderflow:
		return errdefs.ErrInvalidArgument
	case UnresolvedReference, UnknownBranchTarget:
		return errdefs.ErrNotFound
	case UnsupportedOperation:
		return errdefs.ErrNotImplemented
	}
	return errdefs.ErrUnknown
}

// Diagnostic is a single recoverable problem.
type Diagnostic struct {
	Kind  Kind
	Func  string // function name, may be empty
	Index int    // instruction index or SSA value id, -1 if not applicable
	Msg   string
}

// Error implements the error interface.
func (d Diagnostic) Error() string {
	prefix := d.Kind.String()
	if d.Func != "" {
		prefix = d.Func + ": " + prefix
	}
	if d.Index >= 0 {
		return fmt.Sprintf("%s at %d: %s", prefix, d.Index, d.Msg)
	}
	return fmt.Sprintf("%s: %s", prefix, d.Msg)
}

// Unwrap exposes the errdefs class so callers can use errdefs.IsNotFound and
// friends on a Diagnostic.
func (d Diagnostic) Unwrap() error {
	return d.Kind.class()
}

// Handler is called for each diagnostic.
type Handler func(d Diagnostic)

// Report calls h if it is non-nil.
func (h Handler) Report(d Diagnostic) {
	if h != nil {
		h(d)
	}
}

// Reportf builds and reports a diagnostic.
func (h Handler) Reportf(kind Kind, fn string, index int, format string, args ...interface{}) {
	h.Report(Diagnostic{Kind: kind, Func: fn, Index: index, Msg: fmt.Sprintf(format, args...)})
}

// Tee returns a Handler that forwards to every non-nil handler in hs.
func Tee(hs ...Handler) Handler {
	return func(d Diagnostic) {
		for _, h := range hs {
			h.Report(d)
		}
	}
}

// Log returns a Handler that writes each diagnostic to the logger carried by
// ctx.
func Log(ctx context.Context) Handler {
	return func(d Diagnostic) {
		log.G(ctx).WithFields(log.Fields{
			"func":  d.Func,
			"kind":  d.Kind.String(),
			"index": d.Index,
		}).Warn(d.Msg)
	}
}

// Collector accumulates diagnostics.
type Collector struct {
	Diags []Diagnostic
}

// Handler returns a Handler appending to c.
func (c *Collector) Handler() Handler {
	return func(d Diagnostic) {
		c.Diags = append(c.Diags, d)
	}
}

// Len returns the number of collected diagnostics.
func (c *Collector) Len() int { return len(c.Diags) }

// Count returns the number of collected diagnostics of the given kind.
func (c *Collector) Count(kind Kind) int {
	n := 0
	for _, d := range c.Diags {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// Err combines all collected diagnostics into one error, or returns nil.
func (c *Collector) Err() error {
	var result *multierror.Error
	for _, d := range c.Diags {
		result = multierror.Append(result, d)
	}
	return result.ErrorOrNil()
}

// Reset drops all collected diagnostics.
func (c *Collector) Reset() {
	c.Diags = c.Diags[:0]
}
