// Package rtps implements the RTPS v2.4 Message and Submessage framing
// this implementation's DataWriter/DataReader exchange over a transport
// Carrier: the fixed Message header, the common Submessage header, and
// DATA/DATA_FRAG/HEARTBEAT/ACKNACK/GAP submessage bodies. It builds
// directly on wire/cdr's raw encoder/decoder, the same way paramlist.go
// layers a TLV stream on top of the base CDR primitives.
package rtps

import (
	"encoding/binary"
	"fmt"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/wire/cdr"
)

// ProtocolID is the 4-byte magic every RTPS Message starts with.
var ProtocolID = [4]byte{'R', 'T', 'P', 'S'}

// ProtocolVersion is the RTPS version this implementation speaks.
var ProtocolVersion = [2]byte{2, 4}

// Header is the fixed 20-byte RTPS Message header.
type Header struct {
	VendorID   [2]byte
	GUIDPrefix guid.Prefix
}

// SubmessageID identifies a submessage's kind, per RTPS v2.4 table 8.13.
type SubmessageID uint8

const (
	SubmsgPad       SubmessageID = 0x01
	SubmsgAckNack   SubmessageID = 0x06
	SubmsgHeartbeat SubmessageID = 0x07
	SubmsgGap       SubmessageID = 0x08
	SubmsgData      SubmessageID = 0x15
	SubmsgDataFrag  SubmessageID = 0x16
)

// FlagLittleEndian is always set by this implementation, which only ever
// emits little-endian submessages (RTPS's "endianness flag").
const FlagLittleEndian = 0x01

// RawSubmessage is one still-undecoded submessage: its id, flags, and
// body bytes, deferred decoding to the caller once it knows which body
// type to expect.
type RawSubmessage struct {
	ID    SubmessageID
	Flags uint8
	Body  []byte
}

// EncodeMessage assembles a full RTPS Message: the fixed header followed
// by each submessage's {id, flags, octetsToNextHeader} header and body.
func EncodeMessage(hdr Header, submessages []RawSubmessage) []byte {
	size := 4 + 2 + 2 + 12
	for _, sm := range submessages {
		size += 4 + len(sm.Body)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, ProtocolID[:]...)
	buf = append(buf, ProtocolVersion[:]...)
	buf = append(buf, hdr.VendorID[:]...)
	buf = append(buf, hdr.GUIDPrefix[:]...)

	for _, sm := range submessages {
		var smHdr [4]byte
		smHdr[0] = byte(sm.ID)
		smHdr[1] = sm.Flags
		binary.LittleEndian.PutUint16(smHdr[2:4], uint16(len(sm.Body)))
		buf = append(buf, smHdr[:]...)
		buf = append(buf, sm.Body...)
	}
	return buf
}

// DecodeMessage splits raw into its Header and RawSubmessage list without
// interpreting any submessage body.
func DecodeMessage(raw []byte) (Header, []RawSubmessage, error) {
	if len(raw) < 20 {
		return Header{}, nil, fmt.Errorf("rtps: message too short: %d bytes", len(raw))
	}
	if raw[0] != ProtocolID[0] || raw[1] != ProtocolID[1] || raw[2] != ProtocolID[2] || raw[3] != ProtocolID[3] {
		return Header{}, nil, fmt.Errorf("rtps: bad protocol id %q", raw[0:4])
	}

	var hdr Header
	copy(hdr.VendorID[:], raw[6:8])
	copy(hdr.GUIDPrefix[:], raw[8:20])

	var subs []RawSubmessage
	pos := 20
	for pos < len(raw) {
		if pos+4 > len(raw) {
			return Header{}, nil, fmt.Errorf("rtps: truncated submessage header at offset %d", pos)
		}
		id := SubmessageID(raw[pos])
		flags := raw[pos+1]
		length := int(binary.LittleEndian.Uint16(raw[pos+2 : pos+4]))
		pos += 4
		if pos+length > len(raw) {
			return Header{}, nil, fmt.Errorf("rtps: truncated submessage body at offset %d", pos)
		}
		body := make([]byte, length)
		copy(body, raw[pos:pos+length])
		subs = append(subs, RawSubmessage{ID: id, Flags: flags, Body: body})
		pos += length
	}
	return hdr, subs, nil
}

func newBodyEncoder(capacity int) *cdr.Encoder {
	return cdr.NewRawEncoder(true, capacity)
}

func newBodyDecoder(body []byte) *cdr.Decoder {
	return cdr.NewRawDecoder(body, true)
}
