package ssa

// Func is the SSA form of one function: a value list strictly ordered by
// definition, so Values[i].ID == i.
type Func struct {
	// Name is the function name.
	Name string

	// NumParams is the declared parameter count.
	NumParams int

	// Values is the ordered value list.
	Values []*Value
}

// NewFunc creates an empty SSA function.
func NewFunc(name string, numParams int) *Func {
	return &Func{Name: name, NumParams: numParams}
}

// NewValue appends a new value with the given op and operands.
func (f *Func) NewValue(op Op, args ...ID) *Value {
	v := &Value{
		ID:      ID(len(f.Values)),
		Op:      op,
		Updated: InvalidID,
		Target:  InvalidID,
	}
	if len(args) > 0 {
		v.Args = append([]ID(nil), args...)
	}
	f.Values = append(f.Values, v)
	return v
}

// Value returns the value with the given id, or nil if id is out of range.
func (f *Func) Value(id ID) *Value {
	if id < 0 || int(id) >= len(f.Values) {
		return nil
	}
	return f.Values[id]
}

// NumValues returns the number of values in the function.
func (f *Func) NumValues() int { return len(f.Values) }

// Markers returns the LoopCarried markers belonging to the given label, in
// definition order.
func (f *Func) Markers(label ID) []*Value {
	var out []*Value
	for _, v := range f.Values {
		if v.Op == OpLoopCarried && v.Target == label {
			out = append(out, v)
		}
	}
	return out
}
