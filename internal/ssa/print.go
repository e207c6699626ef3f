package ssa

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes the SSA value list of a function to w.
//
// Format:
//
//	func add (0 params):
//	  v0 = Const(2)
//	  v1 = Const(3)
//	  v2 = Add(v0, v1)
//	  v3 = Return(v2)
func Fprint(w io.Writer, f *Func) {
	name := f.Name
	if name == "" {
		name = "<unnamed>"
	}
	fmt.Fprintf(w, "func %s (%d params):\n", name, f.NumParams)
	for _, v := range f.Values {
		fmt.Fprintf(w, "  %s\n", v.LongString())
	}
}

// Sprint returns the SSA representation of a function as a string.
func Sprint(f *Func) string {
	var sb strings.Builder
	Fprint(&sb, f)
	return sb.String()
}
