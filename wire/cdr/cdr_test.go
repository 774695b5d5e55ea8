package cdr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	for _, enc := range []Encapsulation{EncapsulationCDRBE, EncapsulationCDRLE, EncapsulationCDR2BE, EncapsulationCDR2LE} {
		e := NewEncoder(enc, 256)
		require.NoError(t, e.U8(0xAB))
		require.NoError(t, e.U16(0x1234))
		require.NoError(t, e.U32(0xDEADBEEF))
		require.NoError(t, e.U64(0x0102030405060708))
		require.NoError(t, e.F32(3.5))
		require.NoError(t, e.F64(-2.25))
		require.NoError(t, e.String("hello"))
		require.NoError(t, e.RawSequence([]byte{1, 2, 3}))

		d, gotEnc, err := NewDecoder(e.Bytes())
		require.NoError(t, err)
		require.Equal(t, enc, gotEnc)

		u8, err := d.U8()
		require.NoError(t, err)
		require.Equal(t, uint8(0xAB), u8)

		u16, err := d.U16()
		require.NoError(t, err)
		require.Equal(t, uint16(0x1234), u16)

		u32, err := d.U32()
		require.NoError(t, err)
		require.Equal(t, uint32(0xDEADBEEF), u32)

		u64, err := d.U64()
		require.NoError(t, err)
		require.Equal(t, uint64(0x0102030405060708), u64)

		f32, err := d.F32()
		require.NoError(t, err)
		require.Equal(t, float32(3.5), f32)

		f64, err := d.F64()
		require.NoError(t, err)
		require.Equal(t, float64(-2.25), f64)

		s, err := d.String()
		require.NoError(t, err)
		require.Equal(t, "hello", s)

		seq, err := d.RawSequence()
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3}, seq)
	}
}

func TestAlignment(t *testing.T) {
	e := NewEncoder(EncapsulationCDRLE, 64)
	require.NoError(t, e.U8(1))
	require.NoError(t, e.U32(2)) // must be padded to 4-byte boundary
	d, _, err := NewDecoder(e.Bytes())
	require.NoError(t, err)
	_, err = d.U8()
	require.NoError(t, err)
	require.Equal(t, 5, d.Pos()) // header(4) + u8(1)
	v, err := d.U32()
	require.NoError(t, err)
	require.Equal(t, uint32(2), v)
}

func TestParameterListRoundTrip(t *testing.T) {
	e := NewEncoder(EncapsulationPLCDRLE, 256)
	params := []Parameter{
		{PID: PIDTopicName, Value: []byte("t1")},
		{PID: PIDTypeName, Value: []byte("MyType")},
	}
	require.NoError(t, e.EncodeParameterList(params))

	d, _, err := NewDecoder(e.Bytes())
	require.NoError(t, err)
	got, err := d.DecodeParameterList()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, PIDTopicName, got[0].PID)
	require.Equal(t, []byte("t1\x00\x00"), got[0].Value)
}

func TestUnknownPIDSkipped(t *testing.T) {
	e := NewEncoder(EncapsulationPLCDRBE, 256)
	require.NoError(t, e.EncodeParameterList([]Parameter{
		{PID: 0x9999, Value: []byte{1, 2, 3, 4}},
		{PID: PIDTopicName, Value: []byte("t1")},
	}))
	d, _, err := NewDecoder(e.Bytes())
	require.NoError(t, err)
	got, err := d.DecodeParameterList()
	require.NoError(t, err)
	require.Len(t, got, 2)
	p, ok := Find(got, PIDTopicName)
	require.True(t, ok)
	require.Equal(t, []byte("t1\x00\x00"), p.Value)
}

func TestTruncatedDataNeverPanics(t *testing.T) {
	for n := 0; n < 40; n++ {
		buf := make([]byte, n)
		d, _, err := NewDecoder(buf)
		if err != nil {
			continue
		}
		_, _ = d.U8()
		_, _ = d.U16()
		_, _ = d.U32()
		_, _ = d.U64()
		_, _ = d.String()
		_, _ = d.RawSequence()
		_, _ = d.DecodeParameterList()
	}
}

func TestBufferTooSmall(t *testing.T) {
	e := NewEncoder(EncapsulationCDRLE, 2)
	err := e.U32(1)
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestInvalidEncapsulation(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0, 0}
	_, _, err := NewDecoder(buf)
	require.ErrorIs(t, err, ErrInvalidEncapsulation)
}
