package persistence

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/seqnum"
	"github.com/ddsgo/rdds/reliability"
)

var log = logging.MustGetLogger("persistence")

// SegmentMaxBytes is the size a writer's log segment is rolled at.
const SegmentMaxBytes = 64 << 20

// recordHeaderSize is len(seq) + len(ts_ns) + len(key_hash) + len(kind) + len(payload_len).
const recordHeaderSize = 8 + 8 + 16 + 1 + 4

// Record is one decoded entry from a writer's persisted log.
type Record struct {
	Sequence  seqnum.SequenceNumber
	Timestamp time.Time
	KeyHash   [16]byte
	Kind      reliability.ChangeKind
	Payload   []byte
}

// KeyHash truncates the SHA-256 digest of an instance key to the
// 128-bit identifier stored alongside each record, so a replayed record
// names its instance without the instance key itself being kept in the
// log. Replay returns records in sequence order, ungrouped.
func KeyHash(instanceKey string) [16]byte {
	sum := sha256.Sum256([]byte(instanceKey))
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// Log is a segmented, append-only record log for a single writer GUID.
// Segments are rolled at SegmentMaxBytes; their sequence-number ranges
// are tracked in an Index so a restart can replay only the tail it needs.
type Log struct {
	dir    string
	writer guid.GUID
	index  *Index
	cipher Cipher

	mu       sync.Mutex
	cur      *os.File
	curFirst seqnum.SequenceNumber
	curLast  seqnum.SequenceNumber
	curSize  int64
}

// Open opens (or creates) the segmented log for writer beneath dir,
// resuming the writer's latest segment if the index already knows one.
// cipher may be nil to leave payloads in plaintext.
func Open(dir string, writer guid.GUID, index *Index, cipher Cipher) (*Log, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("persistence: creating log dir %s: %w", dir, err)
	}
	l := &Log{dir: dir, writer: writer, index: index, cipher: cipher}
	if err := l.openTailSegment(); err != nil {
		return nil, err
	}
	return l, nil
}

func segmentPath(dir string, first seqnum.SequenceNumber) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.seg", first))
}

func (l *Log) openTailSegment() error {
	if seg, ok := l.index.LatestSegment(l.writer); ok {
		f, err := os.OpenFile(seg.Path, os.O_RDWR|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("persistence: reopening segment %s: %w", seg.Path, err)
		}
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("persistence: statting segment %s: %w", seg.Path, err)
		}
		l.cur = f
		l.curFirst = seg.First
		l.curLast = seg.Last
		l.curSize = info.Size()
		return nil
	}
	return l.startSegment(seqnum.First)
}

func (l *Log) startSegment(first seqnum.SequenceNumber) error {
	path := segmentPath(l.dir, first)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("persistence: creating segment %s: %w", path, err)
	}
	if l.cur != nil {
		if err := l.cur.Close(); err != nil {
			log.Warnf("closing rolled segment for %s: %v", l.writer, err)
		}
	}
	l.cur = f
	l.curFirst = first
	l.curLast = first - 1
	l.curSize = 0
	return nil
}

// Append persists one record for instanceKey, rolling to a fresh segment
// first if the write would cross SegmentMaxBytes.
func (l *Log) Append(seq seqnum.SequenceNumber, instanceKey string, kind reliability.ChangeKind, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored := payload
	if l.cipher != nil {
		enc, err := l.cipher.Encrypt(payload)
		if err != nil {
			return fmt.Errorf("persistence: encrypting record %d: %w", seq, err)
		}
		stored = enc
	}

	recordSize := int64(recordHeaderSize + len(stored))
	if l.curSize > 0 && l.curSize+recordSize > SegmentMaxBytes {
		if err := l.startSegment(seq); err != nil {
			return err
		}
	}

	keyHash := KeyHash(instanceKey)
	hdr := make([]byte, recordHeaderSize)
	binary.BigEndian.PutUint64(hdr[0:8], uint64(seq))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(time.Now().UnixNano()))
	copy(hdr[16:32], keyHash[:])
	hdr[32] = byte(kind)
	binary.BigEndian.PutUint32(hdr[33:37], uint32(len(stored)))

	n, err := l.cur.Write(hdr)
	if err != nil {
		return fmt.Errorf("persistence: writing record header: %w", err)
	}
	m, err := l.cur.Write(stored)
	if err != nil {
		return fmt.Errorf("persistence: writing record payload: %w", err)
	}
	if err := l.cur.Sync(); err != nil {
		return fmt.Errorf("persistence: syncing segment: %w", err)
	}

	l.curSize += int64(n + m)
	l.curLast = seq
	return l.index.RecordSegment(l.writer, SegmentInfo{Path: l.cur.Name(), First: l.curFirst, Last: l.curLast})
}

// Replay reconstructs every persisted record with sequence number >=
// from, ascending, by walking only the segments the Index says can
// contain it.
func (l *Log) Replay(from seqnum.SequenceNumber) ([]Record, error) {
	segs, err := l.index.Segments(l.writer)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, seg := range segs {
		if seg.Last < from {
			continue
		}
		records, err := l.readSegment(seg.Path)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.Sequence >= from {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (l *Log) readSegment(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persistence: reading segment %s: %w", path, err)
	}

	var out []Record
	for off := 0; off < len(data); {
		if off+recordHeaderSize > len(data) {
			return nil, fmt.Errorf("persistence: truncated record header in %s", path)
		}
		hdr := data[off : off+recordHeaderSize]
		seq := seqnum.SequenceNumber(binary.BigEndian.Uint64(hdr[0:8]))
		ts := int64(binary.BigEndian.Uint64(hdr[8:16]))
		var keyHash [16]byte
		copy(keyHash[:], hdr[16:32])
		kind := reliability.ChangeKind(hdr[32])
		payloadLen := int(binary.BigEndian.Uint32(hdr[33:37]))
		off += recordHeaderSize

		if off+payloadLen > len(data) {
			return nil, fmt.Errorf("persistence: truncated payload in %s", path)
		}
		stored := data[off : off+payloadLen]
		off += payloadLen

		payload := stored
		if l.cipher != nil {
			dec, err := l.cipher.Decrypt(stored)
			if err != nil {
				return nil, fmt.Errorf("persistence: decrypting record in %s: %w", path, err)
			}
			payload = dec
		}

		out = append(out, Record{
			Sequence:  seq,
			Timestamp: time.Unix(0, ts),
			KeyHash:   keyHash,
			Kind:      kind,
			Payload:   payload,
		})
	}
	return out, nil
}

// Close releases the current segment's file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil {
		return nil
	}
	return l.cur.Close()
}
