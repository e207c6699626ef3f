package wasm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"

	"github.com/you-not-fish/wasmsea/internal/diag"
)

// Section ids.
const (
	secCustom   = 0
	secType     = 1
	secImport   = 2
	secFunction = 3
	secExport   = 7
	secCode     = 10
)

const (
	typeFunc  = 0x60
	typeI32   = 0x7f
	typeEmpty = 0x40

	externFunc = 0x00
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d}

type funcType struct {
	params  int
	results int
}

// decoder holds the state for reading one binary module.
type decoder struct {
	r    *reader
	errh diag.Handler

	types     []funcType
	imported  int      // number of imported functions
	typeIdx   []uint32 // type index per defined function
	names     map[uint32]string
	exports   map[uint32]string
	bodies    [][]byte
	bodyStart []int // offset of each body, for diagnostics
}

// Decode reads a binary module from r. Problems inside function bodies are
// reported to errh and the offending instruction is skipped; a malformed
// container is returned as an error.
func Decode(r io.Reader, errh diag.Handler) (*Module, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading module")
	}
	return DecodeBytes(buf, errh)
}

// DecodeBytes is like Decode for an in-memory module.
func DecodeBytes(buf []byte, errh diag.Handler) (*Module, error) {
	d := &decoder{
		r:       newReader(buf),
		errh:    errh,
		names:   make(map[uint32]string),
		exports: make(map[uint32]string),
	}
	if err := d.header(); err != nil {
		return nil, err
	}
	for !d.r.eof() {
		if err := d.section(); err != nil {
			return nil, err
		}
	}
	return d.module()
}

func (d *decoder) header() error {
	m := d.r.bytes(4)
	if d.r.err != nil || !bytes.Equal(m, magic) {
		return errors.Wrap(errdefs.ErrInvalidArgument, "not a wasm module: bad magic")
	}
	v := d.r.bytes(4)
	if d.r.err != nil || !bytes.Equal(v, []byte{1, 0, 0, 0}) {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "unsupported wasm version %x", v)
	}
	return nil
}

func (d *decoder) section() error {
	id := d.r.byte()
	size := d.r.u32()
	payload := d.r.bytes(int(size))
	if d.r.err != nil {
		return errors.Wrapf(d.r.err, "section %d", id)
	}

	sr := newReader(payload)
	switch id {
	case secType:
		d.typeSection(sr)
	case secImport:
		d.importSection(sr)
	case secFunction:
		n := sr.u32()
		for i := uint32(0); i < n && sr.err == nil; i++ {
			d.typeIdx = append(d.typeIdx, sr.u32())
		}
	case secExport:
		d.exportSection(sr)
	case secCode:
		d.codeSection(sr, d.r.offs-int(size))
	case secCustom:
		d.customSection(sr)
		// custom sections never make the module invalid
		return nil
	default:
		// not needed for lowering
		return nil
	}
	if sr.err != nil {
		return errors.Wrapf(sr.err, "section %d", id)
	}
	return nil
}

func (d *decoder) typeSection(r *reader) {
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		if form := r.byte(); form != typeFunc {
			r.fail(errors.Wrapf(errdefs.ErrInvalidArgument, "type %d: bad form 0x%x", i, form))
			return
		}
		np := r.u32()
		r.skip(int(np))
		nr := r.u32()
		r.skip(int(nr))
		d.types = append(d.types, funcType{params: int(np), results: int(nr)})
	}
}

func (d *decoder) importSection(r *reader) {
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		r.name() // module
		r.name() // field
		switch kind := r.byte(); kind {
		case externFunc:
			r.u32()
			d.imported++
		case 0x01: // table
			r.byte()
			d.limits(r)
		case 0x02: // memory
			d.limits(r)
		case 0x03: // global
			r.byte()
			r.byte()
		default:
			r.fail(errors.Wrapf(errdefs.ErrInvalidArgument, "import %d: bad kind 0x%x", i, kind))
		}
	}
}

func (d *decoder) limits(r *reader) {
	flags := r.byte()
	r.u32()
	if flags&1 != 0 {
		r.u32()
	}
}

func (d *decoder) exportSection(r *reader) {
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		name := r.name()
		kind := r.byte()
		idx := r.u32()
		if kind == externFunc {
			if _, ok := d.exports[idx]; !ok {
				d.exports[idx] = name
			}
		}
	}
}

func (d *decoder) codeSection(r *reader, base int) {
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		size := r.u32()
		start := base + r.offs
		d.bodies = append(d.bodies, r.bytes(int(size)))
		d.bodyStart = append(d.bodyStart, start)
	}
}

func (d *decoder) customSection(r *reader) {
	if r.name() != "name" || r.err != nil {
		return
	}
	for !r.eof() && r.err == nil {
		id := r.byte()
		size := r.u32()
		sub := newReader(r.bytes(int(size)))
		if id != 1 { // function names
			continue
		}
		n := sub.u32()
		for i := uint32(0); i < n && sub.err == nil; i++ {
			idx := sub.u32()
			name := sub.name()
			if sub.err == nil {
				d.names[idx] = name
			}
		}
	}
}

func (d *decoder) module() (*Module, error) {
	if len(d.bodies) != len(d.typeIdx) {
		return nil, errors.Wrapf(errdefs.ErrInvalidArgument,
			"function and code section mismatch: %d declarations, %d bodies", len(d.typeIdx), len(d.bodies))
	}
	m := &Module{}
	for i, body := range d.bodies {
		idx := uint32(d.imported + i)
		fn := &Function{Name: d.funcName(idx)}
		ti := d.typeIdx[i]
		if int(ti) >= len(d.types) {
			return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "function %s: type index %d out of range", fn.Name, ti)
		}
		fn.NumParams = d.types[ti].params
		fn.Body = d.body(fn.Name, body, d.bodyStart[i])
		m.Funcs = append(m.Funcs, fn)
	}
	return m, nil
}

func (d *decoder) funcName(idx uint32) string {
	if name, ok := d.names[idx]; ok && name != "" {
		return name
	}
	if name, ok := d.exports[idx]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("func%d", idx)
}

// body decodes one function body. The closing end of the body is not part
// of the returned sequence. Diagnostics carry module byte offsets.
func (d *decoder) body(fname string, buf []byte, base int) []Instr {
	r := newReader(buf)

	// Local declarations are irrelevant: undeclared locals read as zero.
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		r.u32()
		r.byte()
	}

	var out []Instr
	depth := 0
	for r.err == nil && !r.eof() {
		pos := r.offs
		code := r.byte()
		op := OpForCode(code)
		if op == OpInvalid {
			if !d.skipUnsupported(r, code) {
				d.errh.Reportf(diag.DecodeError, fname, base+pos, "unknown opcode 0x%02x; rest of body dropped", code)
				return out
			}
			if r.err == nil {
				d.errh.Reportf(diag.DecodeError, fname, base+pos, "unsupported opcode 0x%02x skipped", code)
			}
			continue
		}

		ins := Instr{Op: op}
		switch op.Info().Imm {
		case ImmIndex:
			ins.Imm = int64(r.u32())
		case ImmI32:
			ins.Imm = int64(r.s32())
		case ImmBlockType:
			d.blockType(r)
		}
		if r.err != nil {
			break
		}

		switch op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			if depth == 0 {
				if !r.eof() {
					d.errh.Reportf(diag.DecodeError, fname, base+r.offs, "%d trailing bytes after function end", len(buf)-r.offs)
				}
				return out
			}
			depth--
		}
		out = append(out, ins)
	}
	if r.err != nil {
		d.errh.Reportf(diag.DecodeError, fname, base+r.offs, "%v", r.err)
	} else {
		d.errh.Reportf(diag.DecodeError, fname, base+r.offs, "function body is missing its end")
	}
	return out
}

func (d *decoder) blockType(r *reader) {
	switch b := r.peek(); {
	case b == typeEmpty, b >= 0x6f && b <= 0x7f:
		r.byte()
	default:
		r.sleb(33)
	}
}

// skipUnsupported consumes the immediates of a recognised opcode that is
// outside the supported vocabulary. It reports false if the opcode is not
// recognised at all.
func (d *decoder) skipUnsupported(r *reader, code byte) bool {
	switch {
	case code == 0x00: // unreachable
	case code == 0x0e: // br_table
		n := r.u32()
		for i := uint32(0); i <= n && r.err == nil; i++ {
			r.u32()
		}
	case code == 0x10: // call
		r.u32()
	case code == 0x11: // call_indirect
		r.u32()
		r.u32()
	case code == 0x1c: // select t*
		n := r.u32()
		r.skip(int(n))
	case code >= 0x23 && code <= 0x26: // global.get/set, table.get/set
		r.u32()
	case code >= 0x28 && code <= 0x3e: // loads and stores
		r.u32()
		r.u32()
	case code == 0x3f || code == 0x40: // memory.size, memory.grow
		r.byte()
	case code == 0x42: // i64.const
		r.s64()
	case code == 0x43: // f32.const
		r.skip(4)
	case code == 0x44: // f64.const
		r.skip(8)
	case code >= 0x50 && code <= 0xc4: // other numeric ops, no immediates
	case code == 0xd0: // ref.null
		r.byte()
	case code == 0xd1: // ref.is_null
	case code == 0xd2: // ref.func
		r.u32()
	default:
		return false
	}
	return true
}
