package sea

// Type is the value type of a graph node.
type Type uint8

const (
	Void Type = iota // control and store nodes
	Bool             // comparison results
	I32              // signed 32-bit integer
	U32              // unsigned 32-bit integer

	typeCount
)

// TypeInfo describes properties of a node type.
type TypeInfo int

const (
	IsValue TypeInfo = 1 << iota
	IsInteger
	IsUnsigned
)

var typeTable = [typeCount]struct {
	name string
	info TypeInfo
}{
	Void: {name: "void"},
	Bool: {name: "bool", info: IsValue},
	I32:  {name: "i32", info: IsValue | IsInteger},
	U32:  {name: "u32", info: IsValue | IsInteger | IsUnsigned},
}

// String returns the name of the type.
func (t Type) String() string {
	if t < typeCount {
		return typeTable[t].name
	}
	return "invalid"
}

// Info returns information about the type.
func (t Type) Info() TypeInfo {
	if t < typeCount {
		return typeTable[t].info
	}
	return 0
}

// IsValue reports whether nodes of this type produce a data value.
func (t Type) IsValue() bool { return t.Info()&IsValue != 0 }

// IsUnsigned reports whether integer nodes of this type use unsigned
// semantics.
func (t Type) IsUnsigned() bool { return t.Info()&IsUnsigned != 0 }
