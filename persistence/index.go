// Package persistence implements the segmented append-only per-writer
// log and its bbolt-backed segment index used to keep Durability >=
// TRANSIENT_LOCAL samples across restarts.
package persistence

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/seqnum"
)

// SegmentInfo records the sequence-number range one segment file covers.
type SegmentInfo struct {
	Path  string
	First seqnum.SequenceNumber
	Last  seqnum.SequenceNumber
}

// Index is a small bbolt database mapping each writer GUID to its ordered
// list of segment files, so Log.Replay can locate the right segment
// without scanning a writer's whole directory.
type Index struct {
	db *bbolt.DB
}

// OpenIndex opens (creating if necessary) the segment metadata index at
// path.
func OpenIndex(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("persistence: opening index: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying bbolt database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func bucketName(writer guid.GUID) []byte {
	b := writer.Bytes()
	return b[:]
}

// RecordSegment upserts metadata for one segment file belonging to
// writer, keyed by its first sequence number so bbolt's natural
// big-endian byte order keeps Segments' iteration ascending.
func (ix *Index) RecordSegment(writer guid.GUID, info SegmentInfo) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(writer))
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], uint64(info.First))

		val := make([]byte, 24+len(info.Path))
		binary.BigEndian.PutUint64(val[0:8], uint64(info.First))
		binary.BigEndian.PutUint64(val[8:16], uint64(info.Last))
		binary.BigEndian.PutUint64(val[16:24], uint64(len(info.Path)))
		copy(val[24:], info.Path)

		return bucket.Put(key[:], val)
	})
}

// Segments returns every recorded segment for writer, ascending by First.
func (ix *Index) Segments(writer guid.GUID) ([]SegmentInfo, error) {
	var out []SegmentInfo
	err := ix.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(writer))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if len(v) < 24 {
				return fmt.Errorf("persistence: truncated segment record")
			}
			first := seqnum.SequenceNumber(binary.BigEndian.Uint64(v[0:8]))
			last := seqnum.SequenceNumber(binary.BigEndian.Uint64(v[8:16]))
			pathLen := binary.BigEndian.Uint64(v[16:24])
			if 24+pathLen > uint64(len(v)) {
				return fmt.Errorf("persistence: truncated segment path")
			}
			path := string(v[24 : 24+pathLen])
			out = append(out, SegmentInfo{Path: path, First: first, Last: last})
			return nil
		})
	})
	return out, err
}

// LatestSegment returns the highest-First segment recorded for writer.
func (ix *Index) LatestSegment(writer guid.GUID) (SegmentInfo, bool) {
	segs, err := ix.Segments(writer)
	if err != nil || len(segs) == 0 {
		return SegmentInfo{}, false
	}
	return segs[len(segs)-1], true
}
