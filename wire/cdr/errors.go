package cdr

import "errors"

// ErrTruncatedData is returned when the buffer ends before a requested
// primitive or length-prefixed value can be fully read.
var ErrTruncatedData = errors.New("cdr: truncated data")

// ErrInvalidEncapsulation is returned when the 2-byte encapsulation id at
// the start of a CDR buffer is not one of the recognized kinds.
var ErrInvalidEncapsulation = errors.New("cdr: invalid encapsulation id")

// ErrInvalidFormat is returned when a declared length (string, sequence,
// parameter value) exceeds what remains in the buffer.
var ErrInvalidFormat = errors.New("cdr: invalid format: declared length exceeds buffer")

// ErrBufferTooSmall is returned by Encoder methods when the destination
// buffer cannot hold the encoded value.
var ErrBufferTooSmall = errors.New("cdr: output buffer too small")
