package ssa

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Verify checks the structural integrity of an SSA function: ids match
// positions, ops are known, and every directly dereferenced operand is
// defined before its use. A loop-carried marker's Updated operand is the one
// permitted forward reference and only has to be in range.
//
// It returns an error describing all violations found, or nil if valid.
func Verify(f *Func) error {
	var result *multierror.Error

	add := func(format string, args ...interface{}) {
		result = multierror.Append(result, errors.Errorf("func %s: "+format, append([]interface{}{f.Name}, args...)...))
	}

	n := ID(len(f.Values))
	for i, v := range f.Values {
		if v == nil {
			add("value %d is nil", i)
			continue
		}
		if v.ID != ID(i) {
			add("value at position %d has id %d", i, v.ID)
		}
		if v.Op <= OpInvalid || v.Op >= opCount {
			add("%s: invalid op %d", v, v.Op)
			continue
		}
		if arity := v.Op.Info().Arity; arity >= 0 && len(v.Args) != arity {
			add("%s (%s): has %d args, want %d", v, v.Op, len(v.Args), arity)
		}
		if v.Op == OpReturn && len(v.Args) > 1 {
			add("%s: return has %d args, want at most 1", v, len(v.Args))
		}
		for j, a := range v.Args {
			if a < 0 || a >= v.ID {
				add("%s (%s): arg[%d] = %s is not defined before use", v, v.Op, j, idString(a))
			}
		}

		switch v.Op {
		case OpParam:
			if v.Param < 0 || v.Param >= f.NumParams {
				add("%s: param index %d out of range [0, %d)", v, v.Param, f.NumParams)
			}
		case OpLoopCarried:
			if v.Target < 0 || v.Target >= v.ID || opAt(f, v.Target) != OpLabel {
				add("%s: target %s is not a preceding label", v, idString(v.Target))
			}
			if v.Updated != InvalidID && (v.Updated < 0 || v.Updated >= n) {
				add("%s: updated value %d out of range", v, v.Updated)
			}
		case OpBranchIf:
			if l := v.Label(); l >= 0 && l < v.ID && opAt(f, l) != OpLabel {
				add("%s: branch target %s is not a label", v, idString(l))
			}
		}
	}
	return result.ErrorOrNil()
}

func opAt(f *Func, id ID) Op {
	if v := f.Value(id); v != nil {
		return v.Op
	}
	return OpInvalid
}
