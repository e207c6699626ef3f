package wasm

import (
	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

var (
	errUnexpectedEOF = errors.Wrap(errdefs.ErrInvalidArgument, "unexpected end of input")
	errOverflow      = errors.Wrap(errdefs.ErrInvalidArgument, "LEB128 integer too large")
)

// reader is a cursor over an in-memory byte buffer. Errors are sticky: after
// the first failure every read returns zero and err stays set.
type reader struct {
	buf  []byte
	offs int
	err  error
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) eof() bool {
	return r.offs >= len(r.buf)
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.offs >= len(r.buf) {
		r.fail(errUnexpectedEOF)
		return 0
	}
	b := r.buf[r.offs]
	r.offs++
	return b
}

func (r *reader) peek() byte {
	if r.err != nil || r.offs >= len(r.buf) {
		return 0
	}
	return r.buf[r.offs]
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offs+n > len(r.buf) {
		r.fail(errUnexpectedEOF)
		return nil
	}
	b := r.buf[r.offs : r.offs+n]
	r.offs += n
	return b
}

func (r *reader) skip(n int) {
	r.bytes(n)
}

// uleb reads an unsigned LEB128 integer of at most maxBits bits.
func (r *reader) uleb(maxBits uint) uint64 {
	var result uint64
	var shift uint
	for {
		b := r.byte()
		if r.err != nil {
			return 0
		}
		result |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return result
		}
		if shift >= maxBits {
			r.fail(errOverflow)
			return 0
		}
	}
}

// sleb reads a signed LEB128 integer of at most maxBits bits.
func (r *reader) sleb(maxBits uint) int64 {
	var result int64
	var shift uint
	var b byte
	for {
		b = r.byte()
		if r.err != nil {
			return 0
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= maxBits {
			r.fail(errOverflow)
			return 0
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result
}

func (r *reader) u32() uint32 { return uint32(r.uleb(32)) }
func (r *reader) s32() int32  { return int32(r.sleb(32)) }
func (r *reader) s64() int64  { return r.sleb(64) }

// name reads a length-prefixed UTF-8 string.
func (r *reader) name() string {
	n := r.u32()
	return string(r.bytes(int(n)))
}

// appendULEB128 appends the unsigned LEB128 encoding of v.
func appendULEB128(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}

// appendSLEB128 appends the signed LEB128 encoding of v.
func appendSLEB128(buf []byte, v int32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}
