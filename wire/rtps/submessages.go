package rtps

import (
	"fmt"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/seqnum"
	"github.com/ddsgo/rdds/wire/cdr"
)

func encodeSeqNum(e *cdr.Encoder, sn seqnum.SequenceNumber) error {
	v := int64(sn)
	if err := e.I32(int32(v >> 32)); err != nil {
		return err
	}
	return e.U32(uint32(v))
}

func decodeSeqNum(d *cdr.Decoder) (seqnum.SequenceNumber, error) {
	hi, err := d.I32()
	if err != nil {
		return 0, err
	}
	lo, err := d.U32()
	if err != nil {
		return 0, err
	}
	return seqnum.SequenceNumber(int64(hi)<<32 | int64(lo)), nil
}

// encodeSeqNumSet writes an RTPS SequenceNumberSet_t covering missing (an
// ascending list of outstanding sequence numbers), the bitmap ACKNACK and
// GAP submessages both use.
func encodeSeqNumSet(e *cdr.Encoder, missing []seqnum.SequenceNumber) error {
	if len(missing) == 0 {
		if err := encodeSeqNum(e, seqnum.First); err != nil {
			return err
		}
		return e.U32(0)
	}

	base := missing[0]
	last := missing[len(missing)-1]
	span := uint32(last-base) + 1
	if span > seqnum.MaxBitmapBits {
		span = seqnum.MaxBitmapBits
	}
	if err := encodeSeqNum(e, base); err != nil {
		return err
	}
	if err := e.U32(span); err != nil {
		return err
	}

	missSet := make(map[seqnum.SequenceNumber]struct{}, len(missing))
	for _, m := range missing {
		missSet[m] = struct{}{}
	}

	nWords := (span + 31) / 32
	words := make([]uint32, nWords)
	for i := uint32(0); i < span; i++ {
		if _, ok := missSet[base+seqnum.SequenceNumber(i)]; ok {
			words[i/32] |= 1 << uint(31-i%32)
		}
	}
	for _, w := range words {
		if err := e.U32(w); err != nil {
			return err
		}
	}
	return nil
}

func decodeSeqNumSet(d *cdr.Decoder) ([]seqnum.SequenceNumber, error) {
	base, err := decodeSeqNum(d)
	if err != nil {
		return nil, err
	}
	numBits, err := d.U32()
	if err != nil {
		return nil, err
	}
	nWords := (numBits + 31) / 32
	var out []seqnum.SequenceNumber
	for w := uint32(0); w < nWords; w++ {
		word, err := d.U32()
		if err != nil {
			return nil, err
		}
		for bit := uint32(0); bit < 32; bit++ {
			i := w*32 + bit
			if i >= numBits {
				break
			}
			if word&(1<<uint(31-bit)) != 0 {
				out = append(out, base+seqnum.SequenceNumber(i))
			}
		}
	}
	return out, nil
}

// DataBody is the content of a DATA submessage: one sample addressed to
// readerID (EntityIDUnknown for "every matched reader") from writerID at
// writerSN, carrying payload verbatim (the reliability layer, not this
// package, decides fragmentation).
type DataBody struct {
	ReaderID guid.EntityID
	WriterID guid.EntityID
	WriterSN seqnum.SequenceNumber
	Payload  []byte
}

// EncodeData builds the DATA submessage for body.
func EncodeData(body DataBody) RawSubmessage {
	e := newBodyEncoder(32 + len(body.Payload))
	e.PutBytes(body.ReaderID[:])
	e.PutBytes(body.WriterID[:])
	encodeSeqNum(e, body.WriterSN)
	e.RawSequence(body.Payload)
	return RawSubmessage{ID: SubmsgData, Flags: FlagLittleEndian, Body: e.Bytes()}
}

// DecodeData parses a DATA submessage body.
func DecodeData(sm RawSubmessage) (DataBody, error) {
	if sm.ID != SubmsgData {
		return DataBody{}, fmt.Errorf("rtps: not a DATA submessage: id=%#x", sm.ID)
	}
	d := newBodyDecoder(sm.Body)
	var body DataBody
	rid, err := d.Bytes(guid.EntityIDLength)
	if err != nil {
		return DataBody{}, err
	}
	copy(body.ReaderID[:], rid)
	wid, err := d.Bytes(guid.EntityIDLength)
	if err != nil {
		return DataBody{}, err
	}
	copy(body.WriterID[:], wid)
	if body.WriterSN, err = decodeSeqNum(d); err != nil {
		return DataBody{}, err
	}
	if body.Payload, err = d.RawSequence(); err != nil {
		return DataBody{}, err
	}
	return body, nil
}

// DataFragBody is the content of a DATA_FRAG submessage: one fragment of
// a sample too large to fit in a single DATA submessage.
type DataFragBody struct {
	ReaderID            guid.EntityID
	WriterID            guid.EntityID
	WriterSN            seqnum.SequenceNumber
	FragmentStartingNum uint32
	FragmentSize        uint32
	SampleSize          uint32
	Fragment            []byte
}

// EncodeDataFrag builds the DATA_FRAG submessage for body.
func EncodeDataFrag(body DataFragBody) RawSubmessage {
	e := newBodyEncoder(48 + len(body.Fragment))
	e.PutBytes(body.ReaderID[:])
	e.PutBytes(body.WriterID[:])
	encodeSeqNum(e, body.WriterSN)
	e.U32(body.FragmentStartingNum)
	e.U32(body.FragmentSize)
	e.U32(body.SampleSize)
	e.RawSequence(body.Fragment)
	return RawSubmessage{ID: SubmsgDataFrag, Flags: FlagLittleEndian, Body: e.Bytes()}
}

// DecodeDataFrag parses a DATA_FRAG submessage body.
func DecodeDataFrag(sm RawSubmessage) (DataFragBody, error) {
	if sm.ID != SubmsgDataFrag {
		return DataFragBody{}, fmt.Errorf("rtps: not a DATA_FRAG submessage: id=%#x", sm.ID)
	}
	d := newBodyDecoder(sm.Body)
	var body DataFragBody
	rid, err := d.Bytes(guid.EntityIDLength)
	if err != nil {
		return DataFragBody{}, err
	}
	copy(body.ReaderID[:], rid)
	wid, err := d.Bytes(guid.EntityIDLength)
	if err != nil {
		return DataFragBody{}, err
	}
	copy(body.WriterID[:], wid)
	if body.WriterSN, err = decodeSeqNum(d); err != nil {
		return DataFragBody{}, err
	}
	if body.FragmentStartingNum, err = d.U32(); err != nil {
		return DataFragBody{}, err
	}
	if body.FragmentSize, err = d.U32(); err != nil {
		return DataFragBody{}, err
	}
	if body.SampleSize, err = d.U32(); err != nil {
		return DataFragBody{}, err
	}
	if body.Fragment, err = d.RawSequence(); err != nil {
		return DataFragBody{}, err
	}
	return body, nil
}

// HeartbeatBody is the content of a HEARTBEAT submessage: the writer's
// claim of its currently-held sequence number range.
type HeartbeatBody struct {
	ReaderID guid.EntityID
	WriterID guid.EntityID
	FirstSN  seqnum.SequenceNumber
	LastSN   seqnum.SequenceNumber
	Count    uint32
	Final    bool
}

// EncodeHeartbeat builds the HEARTBEAT submessage for body.
func EncodeHeartbeat(body HeartbeatBody) RawSubmessage {
	e := newBodyEncoder(40)
	e.PutBytes(body.ReaderID[:])
	e.PutBytes(body.WriterID[:])
	encodeSeqNum(e, body.FirstSN)
	encodeSeqNum(e, body.LastSN)
	e.U32(body.Count)
	flags := FlagLittleEndian
	if body.Final {
		flags |= 0x02
	}
	return RawSubmessage{ID: SubmsgHeartbeat, Flags: uint8(flags), Body: e.Bytes()}
}

// DecodeHeartbeat parses a HEARTBEAT submessage body.
func DecodeHeartbeat(sm RawSubmessage) (HeartbeatBody, error) {
	if sm.ID != SubmsgHeartbeat {
		return HeartbeatBody{}, fmt.Errorf("rtps: not a HEARTBEAT submessage: id=%#x", sm.ID)
	}
	d := newBodyDecoder(sm.Body)
	var body HeartbeatBody
	rid, err := d.Bytes(guid.EntityIDLength)
	if err != nil {
		return HeartbeatBody{}, err
	}
	copy(body.ReaderID[:], rid)
	wid, err := d.Bytes(guid.EntityIDLength)
	if err != nil {
		return HeartbeatBody{}, err
	}
	copy(body.WriterID[:], wid)
	if body.FirstSN, err = decodeSeqNum(d); err != nil {
		return HeartbeatBody{}, err
	}
	if body.LastSN, err = decodeSeqNum(d); err != nil {
		return HeartbeatBody{}, err
	}
	if body.Count, err = d.U32(); err != nil {
		return HeartbeatBody{}, err
	}
	body.Final = sm.Flags&0x02 != 0
	return body, nil
}

// AckNackBody is the content of an ACKNACK submessage: a reader's report
// of which sequence numbers it is still missing from writerID.
type AckNackBody struct {
	ReaderID guid.EntityID
	WriterID guid.EntityID
	Missing  []seqnum.SequenceNumber
	Count    uint32
	Final    bool
}

// EncodeAckNack builds the ACKNACK submessage for body.
func EncodeAckNack(body AckNackBody) RawSubmessage {
	e := newBodyEncoder(64)
	e.PutBytes(body.ReaderID[:])
	e.PutBytes(body.WriterID[:])
	encodeSeqNumSet(e, body.Missing)
	e.U32(body.Count)
	flags := FlagLittleEndian
	if body.Final {
		flags |= 0x02
	}
	return RawSubmessage{ID: SubmsgAckNack, Flags: uint8(flags), Body: e.Bytes()}
}

// DecodeAckNack parses an ACKNACK submessage body.
func DecodeAckNack(sm RawSubmessage) (AckNackBody, error) {
	if sm.ID != SubmsgAckNack {
		return AckNackBody{}, fmt.Errorf("rtps: not an ACKNACK submessage: id=%#x", sm.ID)
	}
	d := newBodyDecoder(sm.Body)
	var body AckNackBody
	rid, err := d.Bytes(guid.EntityIDLength)
	if err != nil {
		return AckNackBody{}, err
	}
	copy(body.ReaderID[:], rid)
	wid, err := d.Bytes(guid.EntityIDLength)
	if err != nil {
		return AckNackBody{}, err
	}
	copy(body.WriterID[:], wid)
	if body.Missing, err = decodeSeqNumSet(d); err != nil {
		return AckNackBody{}, err
	}
	if body.Count, err = d.U32(); err != nil {
		return AckNackBody{}, err
	}
	body.Final = sm.Flags&0x02 != 0
	return body, nil
}

// GapBody is the content of a GAP submessage: an authoritative notice
// that sequence numbers in gapList (and the contiguous range up to
// gapListBase) will never be resent, so a reader should stop waiting on
// them.
type GapBody struct {
	ReaderID guid.EntityID
	WriterID guid.EntityID
	GapStart seqnum.SequenceNumber
	GapList  []seqnum.SequenceNumber
}

// EncodeGap builds the GAP submessage for body.
func EncodeGap(body GapBody) RawSubmessage {
	e := newBodyEncoder(64)
	e.PutBytes(body.ReaderID[:])
	e.PutBytes(body.WriterID[:])
	encodeSeqNum(e, body.GapStart)
	encodeSeqNumSet(e, body.GapList)
	return RawSubmessage{ID: SubmsgGap, Flags: FlagLittleEndian, Body: e.Bytes()}
}

// DecodeGap parses a GAP submessage body.
func DecodeGap(sm RawSubmessage) (GapBody, error) {
	if sm.ID != SubmsgGap {
		return GapBody{}, fmt.Errorf("rtps: not a GAP submessage: id=%#x", sm.ID)
	}
	d := newBodyDecoder(sm.Body)
	var body GapBody
	rid, err := d.Bytes(guid.EntityIDLength)
	if err != nil {
		return GapBody{}, err
	}
	copy(body.ReaderID[:], rid)
	wid, err := d.Bytes(guid.EntityIDLength)
	if err != nil {
		return GapBody{}, err
	}
	copy(body.WriterID[:], wid)
	if body.GapStart, err = decodeSeqNum(d); err != nil {
		return GapBody{}, err
	}
	if body.GapList, err = decodeSeqNumSet(d); err != nil {
		return GapBody{}, err
	}
	return body, nil
}
