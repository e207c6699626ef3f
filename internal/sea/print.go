package sea

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Fprint writes the text dump of g to w, one line per node.
//
// Format:
//
//	graph add (0 params, 5 nodes):
//	  %1 = START void
//	  %2 = CONST i32 [2]
//	  %3 = CONST i32 [3]
//	  %4 = ADD i32 %2, %3
//	  %5 = RETURN void %1, %4
func Fprint(w io.Writer, g *Graph) error {
	if g.Released() {
		return ErrReleased
	}
	bw := bufio.NewWriter(w)
	name := g.Name
	if name == "" {
		name = "<unnamed>"
	}
	fmt.Fprintf(bw, "graph %s (%d params, %d nodes):\n", name, g.NumParams, g.NumNodes())
	for ref := Ref(1); int(ref) <= g.NumNodes(); ref++ {
		fmt.Fprintf(bw, "  %s\n", formatNode(ref, g.Node(ref)))
	}
	return bw.Flush()
}

// Sprint returns the text dump of g.
func Sprint(g *Graph) string {
	var sb strings.Builder
	if err := Fprint(&sb, g); err != nil {
		return err.Error()
	}
	return sb.String()
}

func formatNode(ref Ref, n *Node) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%%%d = %s %s", ref, n.Op, n.Type)
	for i, op := range n.Ops {
		if i == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(refString(op))
	}
	switch n.Op {
	case OpParam, OpConst, OpVar, OpUnused:
		fmt.Fprintf(&sb, " [%d]", n.Val)
	}
	return sb.String()
}

func refString(r Ref) string {
	if r == 0 {
		return "null"
	}
	return fmt.Sprintf("%%%d", r)
}

// FprintDOT writes g to w in Graphviz DOT format. Edges run from operand to
// user: control edges are bold, data edges dashed and VAR edges dotted.
func FprintDOT(w io.Writer, g *Graph, name string) error {
	if g.Released() {
		return ErrReleased
	}
	if name == "" {
		name = g.Name
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "digraph %q {\n", name)
	fmt.Fprintln(bw, "  rankdir=TB;")
	fmt.Fprintln(bw, "  node [shape=box, fontname=\"monospace\"];")
	for ref := Ref(1); int(ref) <= g.NumNodes(); ref++ {
		n := g.Node(ref)
		label := fmt.Sprintf("%d: %s", ref, n.Op)
		switch n.Op {
		case OpParam, OpConst, OpVar:
			label += fmt.Sprintf(" %d", n.Val)
		}
		attrs := ""
		switch {
		case n.Op == OpUnused:
			attrs = ", color=red"
		case n.Op.IsControl():
			attrs = ", style=filled, fillcolor=lightgrey"
		}
		fmt.Fprintf(bw, "  n%d [label=%q%s];\n", ref, label, attrs)
	}
	for ref := Ref(1); int(ref) <= g.NumNodes(); ref++ {
		n := g.Node(ref)
		for i, op := range n.Ops {
			if op == 0 {
				continue
			}
			style := "dashed"
			switch n.Op.OpndKind(i) {
			case OpndControl:
				style = "bold"
			case OpndVar:
				style = "dotted"
			}
			fmt.Fprintf(bw, "  n%d -> n%d [style=%s];\n", op, ref, style)
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
