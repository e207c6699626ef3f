package wasm

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes the instruction sequence of f to w, one instruction per line,
// indented by structured nesting depth.
//
// Format:
//
//	func add (2 params):
//	  0: local.get 0
//	  1: local.get 1
//	  2: i32.add
func Fprint(w io.Writer, f *Function) {
	name := f.Name
	if name == "" {
		name = "<unnamed>"
	}
	fmt.Fprintf(w, "func %s (%d params):\n", name, f.Params())

	depth := 0
	for i, ins := range f.Body {
		indent := depth
		switch ins.Op {
		case OpElse:
			indent--
		case OpEnd:
			depth--
			indent = depth
		}
		if indent < 0 {
			indent = 0
		}
		fmt.Fprintf(w, "  %d: %s%s\n", i, strings.Repeat("  ", indent), ins)

		switch ins.Op {
		case OpBlock, OpLoop, OpIf:
			depth++
		}
		if depth < 0 {
			depth = 0
		}
	}
}

// Sprint returns the instruction dump of f as a string.
func Sprint(f *Function) string {
	var sb strings.Builder
	Fprint(&sb, f)
	return sb.String()
}
