package cdr

import (
	"encoding/binary"
	"math"
)

// Decoder reads CDR-encoded primitives from a fixed buffer, tracking
// alignment relative to the start of the encapsulation (immediately after
// the 4-byte encapsulation header, per RTPS convention) and never panics on
// truncated or malformed input.
type Decoder struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
	// origin is the buffer offset alignment is computed relative to.
	origin int
}

// NewDecoder wraps buf, reading the 2-byte encapsulation id + 2 bytes of
// options at the front, per RTPS parameter-list / serialized-payload
// header convention. Returns ErrInvalidEncapsulation for an unrecognized id
// and ErrTruncatedData if buf is shorter than the 4-byte header.
func NewDecoder(buf []byte) (*Decoder, Encapsulation, error) {
	if len(buf) < 4 {
		return nil, 0, ErrTruncatedData
	}
	enc := Encapsulation(binary.BigEndian.Uint16(buf[0:2]))
	if !enc.valid() {
		return nil, 0, ErrInvalidEncapsulation
	}
	d := &Decoder{buf: buf, pos: 4, origin: 4}
	if enc.LittleEndian() {
		d.order = binary.LittleEndian
	} else {
		d.order = binary.BigEndian
	}
	return d, enc, nil
}

// NewRawDecoder wraps buf with an explicit byte order and no header,
// for decoding sub-messages that are framed by their own RTPS submessage
// header rather than a CDR encapsulation id.
func NewRawDecoder(buf []byte, littleEndian bool) *Decoder {
	order := binary.ByteOrder(binary.BigEndian)
	if littleEndian {
		order = binary.LittleEndian
	}
	return &Decoder{buf: buf, pos: 0, order: order, origin: 0}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// Pos returns the current read offset from the start of buf.
func (d *Decoder) Pos() int {
	return d.pos
}

func (d *Decoder) align(n int) error {
	rel := d.pos - d.origin
	pad := (n - rel%n) % n
	if pad == 0 {
		return nil
	}
	if d.pos+pad > len(d.buf) {
		return ErrTruncatedData
	}
	d.pos += pad
	return nil
}

func (d *Decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return ErrTruncatedData
	}
	return nil
}

// Bytes reads n raw bytes with no alignment.
func (d *Decoder) Bytes(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

// U8 reads an unsigned 8-bit integer.
func (d *Decoder) U8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

// I8 reads a signed 8-bit integer.
func (d *Decoder) I8() (int8, error) {
	v, err := d.U8()
	return int8(v), err
}

// Bool reads a CDR boolean (1 octet, nonzero is true).
func (d *Decoder) Bool() (bool, error) {
	v, err := d.U8()
	return v != 0, err
}

// U16 reads an unsigned 16-bit integer, 2-byte aligned.
func (d *Decoder) U16() (uint16, error) {
	if err := d.align(2); err != nil {
		return 0, err
	}
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := d.order.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

// I16 reads a signed 16-bit integer.
func (d *Decoder) I16() (int16, error) {
	v, err := d.U16()
	return int16(v), err
}

// U32 reads an unsigned 32-bit integer, 4-byte aligned.
func (d *Decoder) U32() (uint32, error) {
	if err := d.align(4); err != nil {
		return 0, err
	}
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := d.order.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

// I32 reads a signed 32-bit integer.
func (d *Decoder) I32() (int32, error) {
	v, err := d.U32()
	return int32(v), err
}

// U64 reads an unsigned 64-bit integer, 8-byte aligned.
func (d *Decoder) U64() (uint64, error) {
	if err := d.align(8); err != nil {
		return 0, err
	}
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := d.order.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

// I64 reads a signed 64-bit integer.
func (d *Decoder) I64() (int64, error) {
	v, err := d.U64()
	return int64(v), err
}

// F32 reads an IEEE-754 single precision float, 4-byte aligned.
func (d *Decoder) F32() (float32, error) {
	v, err := d.U32()
	return math.Float32frombits(v), err
}

// F64 reads an IEEE-754 double precision float, 8-byte aligned.
func (d *Decoder) F64() (float64, error) {
	v, err := d.U64()
	return math.Float64frombits(v), err
}

// String reads a CDR1 string: a u32 length (including the NUL terminator)
// followed by that many bytes, the last of which is the NUL.
func (d *Decoder) String() (string, error) {
	n, err := d.U32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrInvalidFormat
	}
	b, err := d.Bytes(int(n))
	if err != nil {
		return "", ErrInvalidFormat
	}
	return string(b[:len(b)-1]), nil
}

// RawSequence reads a u32-length-prefixed octet sequence with no per-element
// alignment. Unlike Bytes, it copies: callers use this for DATA/DATA_FRAG
// payload bytes, which outlive the decoder's input buffer once a sample is
// stored in a reader's or writer's history cache.
func (d *Decoder) RawSequence() ([]byte, error) {
	n, err := d.U32()
	if err != nil {
		return nil, err
	}
	b, err := d.Bytes(int(n))
	if err != nil {
		return nil, ErrInvalidFormat
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// DHeader reads a CDR2 delimiter header: a u32 byte count covering the
// remainder of an appendable/mutable member's serialized representation.
func (d *Decoder) DHeader() (uint32, error) {
	return d.U32()
}

// EMHeader reads a CDR2 per-member header for mutable types: a member id
// (u32, top bit is the must-understand flag) and the member's encoded
// length in bytes.
type EMHeader struct {
	MemberID       uint32
	MustUnderstand bool
	Length         uint32
}

const mustUnderstandBit = uint32(1) << 31

// EMHeader reads one CDR2 EMHEADER.
func (d *Decoder) EMHeader() (EMHeader, error) {
	raw, err := d.U32()
	if err != nil {
		return EMHeader{}, err
	}
	length, err := d.U32()
	if err != nil {
		return EMHeader{}, err
	}
	return EMHeader{
		MemberID:       raw &^ mustUnderstandBit,
		MustUnderstand: raw&mustUnderstandBit != 0,
		Length:         length,
	}, nil
}

// Skip advances the reader by n bytes without interpreting them, used to
// preserve forward compatibility when an EMHEADER/PID's declared length
// does not match a known member.
func (d *Decoder) Skip(n int) error {
	if err := d.need(n); err != nil {
		return ErrInvalidFormat
	}
	d.pos += n
	return nil
}
