package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

/*
LEARNING: VARIABLE-LENGTH INTEGER ENCODING

The wire format packs unsigned integers into 7-bit groups, least significant
group first. The high bit of every byte signals "more groups follow".

Why varints?
1. Small values (message types, short lengths) cost a single byte
2. The format stays byte-compatible with the CRDT ecosystem clients speak
3. No fixed width to waste on the common case

A uint64 needs at most 10 bytes; an 11th continuation byte is an overflow.
*/

// MaxVarUintLen is the maximum number of bytes a varint may occupy.
const MaxVarUintLen = 10

// Codec errors. ErrMalformedMessage is the sentinel every decode failure
// wraps, so callers can match the whole family with errors.Is.
var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrVarUintOverflow  = fmt.Errorf("%w: varint overflows 64 bits", ErrMalformedMessage)
	ErrUnexpectedEOF    = fmt.Errorf("%w: unexpected end of input", ErrMalformedMessage)
)

// Encoder builds a wire message. The zero value is ready to use.
type Encoder struct {
	buf bytes.Buffer
}

// WriteVarUint appends v as an unsigned varint.
func (e *Encoder) WriteVarUint(v uint64) {
	for v >= 0x80 {
		e.buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	e.buf.WriteByte(byte(v))
}

// WriteVarString appends s as a varint length followed by its UTF-8 bytes.
func (e *Encoder) WriteVarString(s string) {
	e.WriteVarUint(uint64(len(s)))
	e.buf.WriteString(s)
}

// WriteVarBytes appends b as a varint length followed by the raw bytes.
func (e *Encoder) WriteVarBytes(b []byte) {
	e.WriteVarUint(uint64(len(b)))
	e.buf.Write(b)
}

// WriteRaw appends b with no length prefix. Used for message bodies that are
// defined as "all remaining bytes" on the wire.
func (e *Encoder) WriteRaw(b []byte) {
	e.buf.Write(b)
}

// Bytes returns the encoded message.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Len returns the number of bytes encoded so far.
func (e *Encoder) Len() int {
	return e.buf.Len()
}

// Decoder reads wire primitives from a byte slice.
// Learning: The decoder never copies — returned slices alias the input, so
// callers that retain a payload past the frame's lifetime must copy it.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{buf: data}
}

// ReadVarUint reads an unsigned varint.
func (d *Decoder) ReadVarUint() (uint64, error) {
	var v uint64
	var shift uint

	for i := 0; ; i++ {
		if d.pos >= len(d.buf) {
			return 0, ErrUnexpectedEOF
		}
		if i >= MaxVarUintLen {
			return 0, ErrVarUintOverflow
		}

		b := d.buf[d.pos]
		d.pos++

		// The 10th byte may only contribute a single bit.
		if i == MaxVarUintLen-1 && b > 1 {
			return 0, ErrVarUintOverflow
		}

		v |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
	}
}

// ReadVarString reads a varint-length-prefixed UTF-8 string.
func (d *Decoder) ReadVarString() (string, error) {
	b, err := d.ReadVarBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadVarBytes reads a varint-length-prefixed byte slice.
func (d *Decoder) ReadVarBytes() ([]byte, error) {
	n, err := d.ReadVarUint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(d.buf)-d.pos) {
		return nil, fmt.Errorf("%w: declared length %d exceeds %d remaining bytes",
			ErrMalformedMessage, n, len(d.buf)-d.pos)
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

// ReadRemaining consumes and returns everything left in the buffer.
func (d *Decoder) ReadRemaining() []byte {
	b := d.buf[d.pos:]
	d.pos = len(d.buf)
	return b
}

// Remaining reports how many bytes are left to read.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}
