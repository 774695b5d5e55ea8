package rtps

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/seqnum"
)

func testPrefix() guid.Prefix {
	var p guid.Prefix
	for i := range p {
		p[i] = byte(i + 1)
	}
	return p
}

func TestMessageRoundTripWithMultipleSubmessages(t *testing.T) {
	hdr := Header{VendorID: [2]byte{0x01, 0x0f}, GUIDPrefix: testPrefix()}

	data := EncodeData(DataBody{
		ReaderID: guid.EntityIDUnknown,
		WriterID: guid.EntityIDSEDPPubWriter,
		WriterSN: 7,
		Payload:  []byte("hello rtps"),
	})
	hb := EncodeHeartbeat(HeartbeatBody{
		ReaderID: guid.EntityIDUnknown,
		WriterID: guid.EntityIDSEDPPubWriter,
		FirstSN:  1,
		LastSN:   7,
		Count:    3,
		Final:    true,
	})

	raw := EncodeMessage(hdr, []RawSubmessage{data, hb})

	gotHdr, subs, err := DecodeMessage(raw)
	require.NoError(t, err)
	require.Equal(t, hdr.VendorID, gotHdr.VendorID)
	require.Equal(t, hdr.GUIDPrefix, gotHdr.GUIDPrefix)
	require.Len(t, subs, 2)

	gotData, err := DecodeData(subs[0])
	require.NoError(t, err)
	require.Equal(t, guid.EntityIDSEDPPubWriter, gotData.WriterID)
	require.Equal(t, seqnum.SequenceNumber(7), gotData.WriterSN)
	require.Equal(t, []byte("hello rtps"), gotData.Payload)

	gotHB, err := DecodeHeartbeat(subs[1])
	require.NoError(t, err)
	require.Equal(t, seqnum.SequenceNumber(1), gotHB.FirstSN)
	require.Equal(t, seqnum.SequenceNumber(7), gotHB.LastSN)
	require.Equal(t, uint32(3), gotHB.Count)
	require.True(t, gotHB.Final)
}

func TestDecodeMessageRejectsBadProtocolID(t *testing.T) {
	raw := EncodeMessage(Header{GUIDPrefix: testPrefix()}, nil)
	raw[0] = 'X'
	_, _, err := DecodeMessage(raw)
	require.Error(t, err)
}

func TestDecodeMessageRejectsTruncatedBody(t *testing.T) {
	raw := EncodeMessage(Header{GUIDPrefix: testPrefix()}, []RawSubmessage{
		{ID: SubmsgData, Flags: FlagLittleEndian, Body: []byte{1, 2, 3, 4}},
	})
	_, _, err := DecodeMessage(raw[:len(raw)-2])
	require.Error(t, err)
}

func TestAckNackBitmapRoundTripsMissingSet(t *testing.T) {
	missing := []seqnum.SequenceNumber{5, 6, 9, 40}
	sm := EncodeAckNack(AckNackBody{
		ReaderID: guid.EntityIDSEDPSubReader,
		WriterID: guid.EntityIDSEDPPubWriter,
		Missing:  missing,
		Count:    1,
	})

	body, err := DecodeAckNack(sm)
	require.NoError(t, err)
	require.Equal(t, missing, body.Missing)
	require.False(t, body.Final)
}

func TestAckNackBitmapRoundTripsEmptyMissingSet(t *testing.T) {
	sm := EncodeAckNack(AckNackBody{
		ReaderID: guid.EntityIDSEDPSubReader,
		WriterID: guid.EntityIDSEDPPubWriter,
		Missing:  nil,
		Count:    2,
		Final:    true,
	})

	body, err := DecodeAckNack(sm)
	require.NoError(t, err)
	require.Empty(t, body.Missing)
	require.True(t, body.Final)
}

func TestGapBodyRoundTrip(t *testing.T) {
	sm := EncodeGap(GapBody{
		ReaderID: guid.EntityIDUnknown,
		WriterID: guid.EntityIDSEDPPubWriter,
		GapStart: 10,
		GapList:  []seqnum.SequenceNumber{12, 13, 20},
	})

	body, err := DecodeGap(sm)
	require.NoError(t, err)
	require.Equal(t, seqnum.SequenceNumber(10), body.GapStart)
	require.Equal(t, []seqnum.SequenceNumber{12, 13, 20}, body.GapList)
}

func TestDataFragRoundTrip(t *testing.T) {
	sm := EncodeDataFrag(DataFragBody{
		ReaderID:            guid.EntityIDUnknown,
		WriterID:            guid.EntityIDSEDPPubWriter,
		WriterSN:            3,
		FragmentStartingNum: 2,
		FragmentSize:        1024,
		SampleSize:          4096,
		Fragment:            []byte("fragment payload"),
	})

	body, err := DecodeDataFrag(sm)
	require.NoError(t, err)
	require.Equal(t, uint32(2), body.FragmentStartingNum)
	require.Equal(t, uint32(1024), body.FragmentSize)
	require.Equal(t, uint32(4096), body.SampleSize)
	require.Equal(t, []byte("fragment payload"), body.Fragment)
}

func TestWrongSubmessageKindIsRejected(t *testing.T) {
	sm := EncodeHeartbeat(HeartbeatBody{WriterID: guid.EntityIDSEDPPubWriter, FirstSN: 1, LastSN: 1})
	_, err := DecodeData(sm)
	require.Error(t, err)
}
