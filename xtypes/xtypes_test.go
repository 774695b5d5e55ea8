package xtypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func simpleStruct(ext ExtensibilityKind, members ...Member) TypeObject {
	return TypeObject{Form: Minimal, Descriptor: TypeDescriptor{
		Name:          "T",
		Extensibility: ext,
		Members:       members,
	}}
}

func TestFinalRequiresIdenticalStructure(t *testing.T) {
	a := simpleStruct(Final, Member{Name: "x", MemberID: 1, Primitive: KindI32, Flags: MemberFlags{Key: true}})
	b := simpleStruct(Final, Member{Name: "x", MemberID: 1, Primitive: KindI32, Flags: MemberFlags{Key: true}})
	require.True(t, Assignable(a, b))

	c := simpleStruct(Final,
		Member{Name: "x", MemberID: 1, Primitive: KindI32, Flags: MemberFlags{Key: true}},
		Member{Name: "y", MemberID: 2, Primitive: KindI32})
	require.False(t, Assignable(c, b))
}

func TestAppendableAllowsTrailingMembers(t *testing.T) {
	writer := simpleStruct(Appendable,
		Member{Name: "x", MemberID: 1, Primitive: KindI32, Flags: MemberFlags{Key: true}},
		Member{Name: "y", MemberID: 2, Primitive: KindString})
	reader := simpleStruct(Appendable,
		Member{Name: "x", MemberID: 1, Primitive: KindI32, Flags: MemberFlags{Key: true}})
	require.True(t, Assignable(writer, reader))
}

func TestAppendableRejectsMustUnderstandGap(t *testing.T) {
	writer := simpleStruct(Appendable,
		Member{Name: "x", MemberID: 1, Primitive: KindI32, Flags: MemberFlags{Key: true}})
	reader := simpleStruct(Appendable,
		Member{Name: "x", MemberID: 1, Primitive: KindI32, Flags: MemberFlags{Key: true}},
		Member{Name: "y", MemberID: 2, Primitive: KindString, Flags: MemberFlags{MustUnderstand: true}})
	require.False(t, Assignable(writer, reader))
}

func TestMutableMatchesByMemberIDRegardlessOfOrder(t *testing.T) {
	writer := simpleStruct(Mutable,
		Member{Name: "b", MemberID: 2, Primitive: KindString},
		Member{Name: "a", MemberID: 1, Primitive: KindI32, Flags: MemberFlags{Key: true}})
	reader := simpleStruct(Mutable,
		Member{Name: "a", MemberID: 1, Primitive: KindI32, Flags: MemberFlags{Key: true}},
		Member{Name: "b", MemberID: 2, Primitive: KindString})
	require.True(t, Assignable(writer, reader))
}

func TestKeyMismatchRejected(t *testing.T) {
	writer := simpleStruct(Mutable, Member{Name: "a", MemberID: 1, Primitive: KindI32, Flags: MemberFlags{Key: true}})
	reader := simpleStruct(Mutable, Member{Name: "a", MemberID: 1, Primitive: KindString, Flags: MemberFlags{Key: true}})
	require.False(t, Assignable(writer, reader))
}

func TestEquivalenceHashStableAndDiscriminating(t *testing.T) {
	a := simpleStruct(Final, Member{Name: "x", MemberID: 1, Primitive: KindI32})
	b := simpleStruct(Final, Member{Name: "x", MemberID: 1, Primitive: KindI32})
	c := simpleStruct(Final, Member{Name: "x", MemberID: 1, Primitive: KindString})

	require.Equal(t, a.EquivalenceHash(), b.EquivalenceHash())
	require.NotEqual(t, a.EquivalenceHash(), c.EquivalenceHash())
}

func TestTypeIdentifierHashFallbackMatch(t *testing.T) {
	a := simpleStruct(Final, Member{Name: "x", MemberID: 1, Primitive: KindI32})
	b := simpleStruct(Final, Member{Name: "x", MemberID: 1, Primitive: KindI32})
	require.True(t, a.Identifier().Equal(b.Identifier()))
}
