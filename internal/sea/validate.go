package sea

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Validate checks g without modifying it: no node is left UNUSED, every
// operand is in bounds and of the kind its slot requires, and every control
// node is reachable from START over control edges.
//
// It returns an error describing all violations found, or nil if valid.
func Validate(g *Graph) error {
	if g.Released() {
		return ErrReleased
	}
	var result *multierror.Error

	add := func(ref Ref, format string, args ...interface{}) {
		result = multierror.Append(result, errors.Errorf("graph %s, %%%d: %s", g.Name, ref, fmt.Sprintf(format, args...)))
	}

	n := g.NumNodes()
	if n == 0 || g.Node(g.Start()).Op != OpStart {
		add(g.Start(), "entry is not START")
		return result.ErrorOrNil()
	}

	for ref := Ref(1); int(ref) <= n; ref++ {
		node := g.Node(ref)
		if node.Op == OpUnused {
			add(ref, "unused node (value v%d left unmapped)", node.Val)
			continue
		}
		if node.Op >= opCount {
			add(ref, "invalid opcode %d", node.Op)
			continue
		}
		info := node.Op.Info()
		if len(node.Ops) < info.MinOpnds || (len(node.Ops) > len(info.Opnds) && !info.Variadic) {
			add(ref, "%s has %d operand(s)", node.Op, len(node.Ops))
		}
		for i, op := range node.Ops {
			if op < 0 || int(op) > n {
				add(ref, "%s operand %d = %d out of bounds", node.Op, i, op)
				continue
			}
			if op == 0 {
				if i < info.MinOpnds {
					add(ref, "%s operand %d is null", node.Op, i)
				}
				continue
			}
			target := g.Node(op)
			switch node.Op.OpndKind(i) {
			case OpndControl:
				if !target.Op.IsControl() {
					add(ref, "%s operand %d: %s is not a control node", node.Op, i, target.Op)
				}
			case OpndVar:
				if target.Op != OpVar {
					add(ref, "%s operand %d: %s is not a VAR", node.Op, i, target.Op)
				}
			case OpndData:
				if !target.Type.IsValue() && target.Op != OpUnused {
					add(ref, "%s operand %d: %s produces no value", node.Op, i, target.Op)
				}
			}
		}
		switch node.Op {
		case OpMerge:
			for _, op := range node.Ops {
				if op > 0 && int(op) <= n && g.Node(op).Op != OpEnd {
					add(ref, "MERGE input %%%d is not an END", op)
				}
			}
		case OpPhi:
			if len(node.Ops) == 0 {
				break
			}
			if m := node.Ops[0]; m > 0 && int(m) <= n {
				if mn := g.Node(m); mn.Op != OpMerge || len(mn.Ops) != len(node.Ops)-1 {
					add(ref, "PHI does not match its MERGE %%%d", m)
				}
			}
		}
	}

	for _, ref := range unreachable(g) {
		add(ref, "%s is unreachable from START", g.Node(ref).Op)
	}
	return result.ErrorOrNil()
}

// successors returns, for each control node, the control nodes that name it
// as a control operand.
func successors(g *Graph) map[Ref][]Ref {
	succs := make(map[Ref][]Ref)
	for ref := Ref(1); int(ref) <= g.NumNodes(); ref++ {
		node := g.Node(ref)
		if !node.Op.IsControl() {
			continue
		}
		for i, op := range node.Ops {
			if op > 0 && int(op) <= g.NumNodes() && node.Op.OpndKind(i) == OpndControl {
				succs[op] = append(succs[op], ref)
			}
		}
	}
	return succs
}

// unreachable walks control edges forward from START and returns the control
// nodes it never reaches, in ascending order.
func unreachable(g *Graph) []Ref {
	succs := successors(g)
	visited := mapset.NewThreadUnsafeSet[Ref](g.Start())
	work := []Ref{g.Start()}
	for len(work) > 0 {
		ref := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range succs[ref] {
			if visited.Add(s) {
				work = append(work, s)
			}
		}
	}

	var out []Ref
	for ref := Ref(1); int(ref) <= g.NumNodes(); ref++ {
		if g.Node(ref).Op.IsControl() && !visited.Contains(ref) {
			out = append(out, ref)
		}
	}
	return out
}
