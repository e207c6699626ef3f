package sea

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrReleased is returned by every consumer handed a graph whose storage has
// already been released.
var ErrReleased = errors.New("sea: graph already released")

// Ref is a node reference: its position in the node table. Ref 0 is the nil
// reference; the START node is always at ref 1.
type Ref int32

// Node is a single graph node.
type Node struct {
	Op   Op
	Type Type
	Ops  []Ref // operand slots, kinds given by Op.OpndKind
	Val  int64 // parameter index, constant or local index
}

// arena is the backing storage of a graph. Arenas are recycled through a
// sync.Pool once a graph is released.
type arena struct {
	nodes []Node
	refs  []Ref
}

var arenaPool = sync.Pool{
	New: func() interface{} {
		return &arena{
			nodes: make([]Node, 0, 64),
			refs:  make([]Ref, 0, 128),
		}
	},
}

// Graph owns a node table built for one function. Its storage must be
// returned with Release exactly once, after every consumer is done.
type Graph struct {
	Name      string
	NumParams int

	a *arena
}

func newGraph(name string, numParams int) *Graph {
	a := arenaPool.Get().(*arena)
	// Slot 0 is the nil reference.
	a.nodes = append(a.nodes[:0], Node{Op: OpUnused})
	a.refs = a.refs[:0]
	return &Graph{Name: name, NumParams: numParams, a: a}
}

// Released reports whether the graph's storage has been released.
func (g *Graph) Released() bool { return g.a == nil }

// Release returns the graph's storage to the arena pool. The graph must not
// be used afterwards; a second call returns ErrReleased.
func (g *Graph) Release() error {
	if g.a == nil {
		return ErrReleased
	}
	a := g.a
	g.a = nil
	clear(a.nodes)
	a.nodes = a.nodes[:0]
	a.refs = a.refs[:0]
	arenaPool.Put(a)
	return nil
}

// Start returns the entry control node.
func (g *Graph) Start() Ref { return 1 }

// NumNodes returns the number of nodes, not counting the nil reference.
// Valid refs are 1 through NumNodes.
func (g *Graph) NumNodes() int {
	if g.a == nil {
		return 0
	}
	return len(g.a.nodes) - 1
}

// Node returns the node at ref, or nil if ref is out of range or the graph
// has been released. The pointer is only valid until the next node is added.
func (g *Graph) Node(ref Ref) *Node {
	if g.a == nil || ref <= 0 || int(ref) >= len(g.a.nodes) {
		return nil
	}
	return &g.a.nodes[ref]
}

// Count returns the number of nodes with the given opcode.
func (g *Graph) Count(op Op) int {
	n := 0
	for ref := Ref(1); int(ref) <= g.NumNodes(); ref++ {
		if g.a.nodes[ref].Op == op {
			n++
		}
	}
	return n
}

// add appends a node and returns its ref.
func (g *Graph) add(op Op, typ Type, val int64, ops ...Ref) Ref {
	a := g.a
	start := len(a.refs)
	a.refs = append(a.refs, ops...)
	a.nodes = append(a.nodes, Node{
		Op:   op,
		Type: typ,
		// Capped so growing one node's operands never overwrites another's.
		Ops: a.refs[start:len(a.refs):len(a.refs)],
		Val: val,
	})
	return Ref(len(a.nodes) - 1)
}

// setOp overwrites operand slot i of node ref, growing a variadic node's
// operand list as needed.
func (g *Graph) setOp(ref Ref, i int, v Ref) {
	n := &g.a.nodes[ref]
	for len(n.Ops) <= i {
		n.Ops = append(n.Ops, 0)
	}
	n.Ops[i] = v
}
