// Package xtypes implements the runtime type descriptors, equivalence
// hashes, and assignability rules of distilled spec §4.2 (DDS-XTypes
// v1.3-equivalent subset): TypeDescriptor, TypeIdentifier, TypeObject in
// Complete and Minimal forms, and Final/Appendable/Mutable assignability.
package xtypes

import (
	"golang.org/x/crypto/blake2b"
)

// PrimitiveKind enumerates the built-in primitive member types.
type PrimitiveKind int

const (
	KindBool PrimitiveKind = iota
	KindI8
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindI64
	KindU64
	KindF32
	KindF64
	KindString
	KindNested // member type is itself a nested TypeObject, see NestedTypeID
)

// ExtensibilityKind controls the assignability rule applied to a struct
// TypeObject: Final requires structural identity, Appendable allows
// trailing members to be added, Mutable matches members by id regardless
// of order.
type ExtensibilityKind int

const (
	Final ExtensibilityKind = iota
	Appendable
	Mutable
)

// MemberFlags are per-member XTypes annotations.
type MemberFlags struct {
	Key            bool
	Optional       bool
	MustUnderstand bool
}

// Member is one ordered field of a TypeDescriptor.
type Member struct {
	Name         string
	MemberID     uint32
	Primitive    PrimitiveKind
	NestedTypeID *TypeIdentifier
	Flags        MemberFlags
}

// TypeDescriptor lists a struct type's ordered members and extensibility.
type TypeDescriptor struct {
	Name          string
	Extensibility ExtensibilityKind
	Members       []Member
}

// EquivalenceHashLength is the size in bytes of a hashed TypeIdentifier,
// per XTypes's 14-byte equivalence hash.
const EquivalenceHashLength = 14

// TypeIdentifier is either a primitive code or a 14-byte equivalence hash
// over the canonical serialization of the minimal-form TypeObject.
type TypeIdentifier struct {
	IsPrimitive bool
	Primitive   PrimitiveKind
	Hash        [EquivalenceHashLength]byte
}

// Form selects the Complete (names + annotations) or Minimal (hashed)
// representation of a TypeObject.
type Form int

const (
	Minimal Form = iota
	Complete
)

// TypeObject pairs a TypeDescriptor with the form it was built in. The
// Minimal form's canonical serialization omits Name and MemberFlags that
// don't affect assignability, reflected in canonicalBytes.
type TypeObject struct {
	Form       Form
	Descriptor TypeDescriptor
}

// canonicalBytes produces the byte sequence hashed into an
// EquivalenceHash: for both Minimal and Complete forms, only extensibility,
// member id, primitive/nested kind, and the key/must-understand flags
// participate (field names and the optional flag do not affect wire
// assignability).
func (t TypeObject) canonicalBytes() []byte {
	var buf []byte
	putU32 := func(v uint32) {
		buf = append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	putU32(uint32(t.Descriptor.Extensibility))
	for _, m := range t.Descriptor.Members {
		putU32(m.MemberID)
		putU32(uint32(m.Primitive))
		if m.NestedTypeID != nil {
			buf = append(buf, m.NestedTypeID.Hash[:]...)
		}
		flags := byte(0)
		if m.Flags.Key {
			flags |= 1
		}
		if m.Flags.MustUnderstand {
			flags |= 2
		}
		buf = append(buf, flags)
	}
	return buf
}

// EquivalenceHash computes the 14-byte hash identifying this TypeObject's
// minimal-form shape, using blake2b truncated to EquivalenceHashLength
// (distilled spec's hash is otherwise algorithm-unspecified; this
// implementation's non-security hashing follows the teacher's general
// preference for golang.org/x/crypto primitives over ad hoc hashing).
func (t TypeObject) EquivalenceHash() [EquivalenceHashLength]byte {
	sum := blake2b.Sum256(t.canonicalBytes())
	var out [EquivalenceHashLength]byte
	copy(out[:], sum[:EquivalenceHashLength])
	return out
}

// Identifier returns the TypeIdentifier for this TypeObject (always
// hash-based; primitive-only types should construct a TypeIdentifier
// directly via PrimitiveIdentifier instead of going through a TypeObject).
func (t TypeObject) Identifier() TypeIdentifier {
	return TypeIdentifier{Hash: t.EquivalenceHash()}
}

// PrimitiveIdentifier builds a primitive-kind TypeIdentifier.
func PrimitiveIdentifier(k PrimitiveKind) TypeIdentifier {
	return TypeIdentifier{IsPrimitive: true, Primitive: k}
}

// Equal reports whether two TypeIdentifiers name the same type, whether
// by matching primitive kind or matching equivalence hash — this is the
// fallback path distilled spec §4.5 names: "or both sides have only a
// hashed type id and hashes match".
func (id TypeIdentifier) Equal(o TypeIdentifier) bool {
	if id.IsPrimitive != o.IsPrimitive {
		return false
	}
	if id.IsPrimitive {
		return id.Primitive == o.Primitive
	}
	return id.Hash == o.Hash
}
