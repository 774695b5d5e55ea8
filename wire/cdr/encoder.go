package cdr

import (
	"encoding/binary"
	"math"
)

// Encoder appends CDR-encoded primitives into a caller-owned buffer, or
// returns ErrBufferTooSmall if the buffer's capacity is exhausted. It
// never grows the buffer itself; callers size it up front (NewEncoder
// preallocates, but will not reallocate past the requested capacity).
type Encoder struct {
	buf    []byte
	order  binary.ByteOrder
	origin int
	max    int
}

// NewEncoder allocates an encoder writing into a buffer of the given
// capacity, prefixed with the encapsulation id and two reserved option
// bytes (both zero).
func NewEncoder(enc Encapsulation, capacity int) *Encoder {
	order := binary.ByteOrder(binary.BigEndian)
	if enc.LittleEndian() {
		order = binary.LittleEndian
	}
	e := &Encoder{buf: make([]byte, 0, capacity), order: order, max: capacity}
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(enc))
	e.buf = append(e.buf, hdr[:]...)
	e.origin = 4
	return e
}

// NewRawEncoder allocates a header-less encoder, for building RTPS
// submessages whose framing comes from the submessage header instead.
func NewRawEncoder(littleEndian bool, capacity int) *Encoder {
	order := binary.ByteOrder(binary.BigEndian)
	if littleEndian {
		order = binary.LittleEndian
	}
	return &Encoder{buf: make([]byte, 0, capacity), order: order, max: capacity, origin: 0}
}

// Bytes returns the encoded buffer so far.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) room(n int) error {
	if e.max > 0 && len(e.buf)+n > e.max {
		return ErrBufferTooSmall
	}
	return nil
}

func (e *Encoder) align(n int) error {
	rel := len(e.buf) - e.origin
	pad := (n - rel%n) % n
	if pad == 0 {
		return nil
	}
	if err := e.room(pad); err != nil {
		return err
	}
	for i := 0; i < pad; i++ {
		e.buf = append(e.buf, 0)
	}
	return nil
}

// PutBytes writes raw bytes with no alignment.
func (e *Encoder) PutBytes(b []byte) error {
	if err := e.room(len(b)); err != nil {
		return err
	}
	e.buf = append(e.buf, b...)
	return nil
}

// U8 writes an unsigned 8-bit integer.
func (e *Encoder) U8(v uint8) error {
	if err := e.room(1); err != nil {
		return err
	}
	e.buf = append(e.buf, v)
	return nil
}

// Bool writes a CDR boolean as a single octet.
func (e *Encoder) Bool(v bool) error {
	if v {
		return e.U8(1)
	}
	return e.U8(0)
}

// U16 writes an unsigned 16-bit integer, 2-byte aligned.
func (e *Encoder) U16(v uint16) error {
	if err := e.align(2); err != nil {
		return err
	}
	if err := e.room(2); err != nil {
		return err
	}
	var b [2]byte
	e.order.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return nil
}

// U32 writes an unsigned 32-bit integer, 4-byte aligned.
func (e *Encoder) U32(v uint32) error {
	if err := e.align(4); err != nil {
		return err
	}
	if err := e.room(4); err != nil {
		return err
	}
	var b [4]byte
	e.order.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return nil
}

// I32 writes a signed 32-bit integer.
func (e *Encoder) I32(v int32) error {
	return e.U32(uint32(v))
}

// U64 writes an unsigned 64-bit integer, 8-byte aligned.
func (e *Encoder) U64(v uint64) error {
	if err := e.align(8); err != nil {
		return err
	}
	if err := e.room(8); err != nil {
		return err
	}
	var b [8]byte
	e.order.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return nil
}

// I64 writes a signed 64-bit integer.
func (e *Encoder) I64(v int64) error {
	return e.U64(uint64(v))
}

// F32 writes an IEEE-754 single precision float, 4-byte aligned.
func (e *Encoder) F32(v float32) error {
	return e.U32(math.Float32bits(v))
}

// F64 writes an IEEE-754 double precision float, 8-byte aligned.
func (e *Encoder) F64(v float64) error {
	return e.U64(math.Float64bits(v))
}

// String writes a CDR1 string: u32 length (including NUL) then bytes + NUL.
func (e *Encoder) String(s string) error {
	if err := e.U32(uint32(len(s) + 1)); err != nil {
		return err
	}
	if err := e.room(len(s) + 1); err != nil {
		return err
	}
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	return nil
}

// RawSequence writes a u32-length-prefixed octet sequence.
func (e *Encoder) RawSequence(b []byte) error {
	if err := e.U32(uint32(len(b))); err != nil {
		return err
	}
	return e.PutBytes(b)
}

// DHeader reserves space for a CDR2 delimiter header and returns a function
// that, once the delimited member has been fully written, backpatches the
// byte count covering everything written since.
func (e *Encoder) DHeader() (func() error, error) {
	if err := e.align(4); err != nil {
		return nil, err
	}
	if err := e.room(4); err != nil {
		return nil, err
	}
	patchAt := len(e.buf)
	e.buf = append(e.buf, 0, 0, 0, 0)
	start := len(e.buf)
	return func() error {
		n := uint32(len(e.buf) - start)
		e.order.PutUint32(e.buf[patchAt:patchAt+4], n)
		return nil
	}, nil
}

// EMHeader writes a CDR2 per-member header, returning a backpatch function
// for the length field (as with DHeader).
func (e *Encoder) EMHeader(memberID uint32, mustUnderstand bool) (func() error, error) {
	raw := memberID
	if mustUnderstand {
		raw |= mustUnderstandBit
	}
	if err := e.U32(raw); err != nil {
		return nil, err
	}
	if err := e.room(4); err != nil {
		return nil, err
	}
	patchAt := len(e.buf)
	e.buf = append(e.buf, 0, 0, 0, 0)
	start := len(e.buf)
	return func() error {
		n := uint32(len(e.buf) - start)
		e.order.PutUint32(e.buf[patchAt:patchAt+4], n)
		return nil
	}, nil
}
