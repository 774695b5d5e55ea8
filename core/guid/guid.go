// Package guid implements the 16-byte RTPS entity GUID: a 12-byte
// participant GUID prefix plus a 4-byte entity id, immutable for the
// entity's lifetime.
package guid

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// PrefixLength is the size in bytes of a participant GUID prefix.
const PrefixLength = 12

// EntityIDLength is the size in bytes of an entity id.
const EntityIDLength = 4

// Prefix identifies a participant.
type Prefix [PrefixLength]byte

func (p Prefix) String() string {
	return hex.EncodeToString(p[:])
}

// EntityID identifies an entity within a participant.
type EntityID [EntityIDLength]byte

// Well-known entity id kinds, per RTPS v2.4 table 9.1.
var (
	EntityIDUnknown             = EntityID{0x00, 0x00, 0x00, 0x00}
	EntityIDSPDPBuiltinWriter   = EntityID{0x00, 0x01, 0x00, 0xc2}
	EntityIDSPDPBuiltinReader   = EntityID{0x00, 0x01, 0x00, 0xc7}
	EntityIDSEDPPubWriter       = EntityID{0x00, 0x00, 0x03, 0xc2}
	EntityIDSEDPPubReader       = EntityID{0x00, 0x00, 0x03, 0xc7}
	EntityIDSEDPSubWriter       = EntityID{0x00, 0x00, 0x04, 0xc2}
	EntityIDSEDPSubReader       = EntityID{0x00, 0x00, 0x04, 0xc7}
	EntityIDSEDPTopicWriter     = EntityID{0x00, 0x00, 0x02, 0xc2}
	EntityIDSEDPTopicReader     = EntityID{0x00, 0x00, 0x02, 0xc7}
	EntityIDParticipant         = EntityID{0x00, 0x00, 0x01, 0xc1}
)

// GUID is the 16-byte globally unique identifier of an RTPS entity.
type GUID struct {
	Prefix Prefix
	Entity EntityID
}

// New builds a GUID from its parts.
func New(prefix Prefix, entity EntityID) GUID {
	return GUID{Prefix: prefix, Entity: entity}
}

// Bytes returns the 16-byte wire representation.
func (g GUID) Bytes() [16]byte {
	var out [16]byte
	copy(out[:12], g.Prefix[:])
	copy(out[12:], g.Entity[:])
	return out
}

// FromBytes parses a 16-byte slice into a GUID.
func FromBytes(b []byte) (GUID, error) {
	if len(b) != 16 {
		return GUID{}, fmt.Errorf("guid: expected 16 bytes, got %d", len(b))
	}
	var g GUID
	copy(g.Prefix[:], b[:12])
	copy(g.Entity[:], b[12:])
	return g, nil
}

// Equal reports whether two GUIDs name the same entity.
func (g GUID) Equal(o GUID) bool {
	return bytes.Equal(g.Prefix[:], o.Prefix[:]) && bytes.Equal(g.Entity[:], o.Entity[:])
}

// Less implements a deterministic lexical ordering, used as the
// cross-writer tie-break in TopicMerger and for ownership-strength
// tie-breaks (equal strength resolves to lexical GUID order).
func (g GUID) Less(o GUID) bool {
	a, b := g.Bytes(), o.Bytes()
	return bytes.Compare(a[:], b[:]) < 0
}

func (g GUID) String() string {
	return fmt.Sprintf("%s:%x", g.Prefix, g.Entity)
}

// IsBuiltin reports whether the entity id is one of the well-known
// discovery built-in endpoints.
func (e EntityID) IsBuiltin() bool {
	switch e {
	case EntityIDSPDPBuiltinWriter, EntityIDSPDPBuiltinReader,
		EntityIDSEDPPubWriter, EntityIDSEDPPubReader,
		EntityIDSEDPSubWriter, EntityIDSEDPSubReader,
		EntityIDSEDPTopicWriter, EntityIDSEDPTopicReader,
		EntityIDParticipant:
		return true
	default:
		return false
	}
}
