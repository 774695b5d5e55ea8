package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/seqnum"
	"github.com/ddsgo/rdds/reliability"
)

func testWriter() guid.GUID {
	return guid.New(guid.Prefix{0x01, 0x02, 0x03}, guid.EntityID{0x00, 0x00, 0x01, 0x02})
}

func openTestLog(t *testing.T, dir string, cipher Cipher) (*Log, *Index) {
	t.Helper()
	index, err := OpenIndex(filepath.Join(dir, "index.bbolt"))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	l, err := Open(filepath.Join(dir, "segments"), testWriter(), index, cipher)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, index
}

func TestLogAppendAndReplayRoundTrips(t *testing.T) {
	l, _ := openTestLog(t, t.TempDir(), nil)

	require.NoError(t, l.Append(1, "a", reliability.ChangeAlive, []byte("v1")))
	require.NoError(t, l.Append(2, "a", reliability.ChangeAlive, []byte("v2")))
	require.NoError(t, l.Append(3, "b", reliability.ChangeAlive, []byte("v3")))

	records, err := l.Replay(seqnum.First)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []byte("v1"), records[0].Payload)
	require.Equal(t, []byte("v2"), records[1].Payload)
	require.Equal(t, []byte("v3"), records[2].Payload)
	require.Equal(t, KeyHash("a"), records[0].KeyHash)
	require.Equal(t, KeyHash("b"), records[2].KeyHash)
}

func TestLogReplaySkipsAcknowledgedPrefix(t *testing.T) {
	l, _ := openTestLog(t, t.TempDir(), nil)

	require.NoError(t, l.Append(1, "a", reliability.ChangeAlive, []byte("v1")))
	require.NoError(t, l.Append(2, "a", reliability.ChangeAlive, []byte("v2")))
	require.NoError(t, l.Append(3, "a", reliability.ChangeAlive, []byte("v3")))

	records, err := l.Replay(3)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, seqnum.SequenceNumber(3), records[0].Sequence)
}

func TestLogResumesTailSegmentAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	index, err := OpenIndex(filepath.Join(dir, "index.bbolt"))
	require.NoError(t, err)

	l, err := Open(filepath.Join(dir, "segments"), testWriter(), index, nil)
	require.NoError(t, err)
	require.NoError(t, l.Append(1, "a", reliability.ChangeAlive, []byte("v1")))
	require.NoError(t, l.Close())
	require.NoError(t, index.Close())

	index2, err := OpenIndex(filepath.Join(dir, "index.bbolt"))
	require.NoError(t, err)
	t.Cleanup(func() { index2.Close() })

	l2, err := Open(filepath.Join(dir, "segments"), testWriter(), index2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l2.Close() })
	require.NoError(t, l2.Append(2, "a", reliability.ChangeAlive, []byte("v2")))

	records, err := l2.Replay(seqnum.First)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestLogRoundTripsThroughBlockCipher(t *testing.T) {
	cipher, err := NewBlockCipher(make([]byte, 16))
	require.NoError(t, err)

	l, _ := openTestLog(t, t.TempDir(), cipher)
	require.NoError(t, l.Append(1, "a", reliability.ChangeAlive, []byte("secret payload")))

	records, err := l.Replay(seqnum.First)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []byte("secret payload"), records[0].Payload)
}
