package xtypes

// Assignable implements the XTypes v1.3 assignability rules of distilled
// spec §4.2: Final requires structural identity; Appendable allows the
// writer type to have trailing members the reader type lacks (or vice
// versa) but requires a matching prefix; Mutable matches members by
// member_id regardless of declaration order, and every member either side
// marks must-understand must be present on both sides. Key fields must
// match exactly by member_id and primitive/nested type in all three modes.
func Assignable(writer, reader TypeObject) bool {
	if !keysMatch(writer.Descriptor, reader.Descriptor) {
		return false
	}
	// The reader's extensibility governs what it will accept, matching
	// the DDS rule that the *subscribed* type's rule applies.
	switch reader.Descriptor.Extensibility {
	case Final:
		return sameStructure(writer.Descriptor, reader.Descriptor)
	case Appendable:
		return appendableCompatible(writer.Descriptor, reader.Descriptor)
	case Mutable:
		return mutableCompatible(writer.Descriptor, reader.Descriptor)
	default:
		return false
	}
}

func keysMatch(a, b TypeDescriptor) bool {
	akeys := keyMembers(a)
	bkeys := keyMembers(b)
	if len(akeys) != len(bkeys) {
		return false
	}
	for id, am := range akeys {
		bm, ok := bkeys[id]
		if !ok {
			return false
		}
		if !sameMemberType(am, bm) {
			return false
		}
	}
	return true
}

func keyMembers(d TypeDescriptor) map[uint32]Member {
	out := make(map[uint32]Member)
	for _, m := range d.Members {
		if m.Flags.Key {
			out[m.MemberID] = m
		}
	}
	return out
}

func sameMemberType(a, b Member) bool {
	if a.Primitive != b.Primitive {
		return false
	}
	if a.Primitive == KindNested {
		if a.NestedTypeID == nil || b.NestedTypeID == nil {
			return false
		}
		return a.NestedTypeID.Equal(*b.NestedTypeID)
	}
	return true
}

func sameStructure(a, b TypeDescriptor) bool {
	if len(a.Members) != len(b.Members) {
		return false
	}
	for i := range a.Members {
		if a.Members[i].MemberID != b.Members[i].MemberID {
			return false
		}
		if !sameMemberType(a.Members[i], b.Members[i]) {
			return false
		}
	}
	return true
}

// appendableCompatible requires the shorter member prefix to match exactly
// by position; extra trailing members on either side are permitted and
// simply ignored by whichever side lacks them.
func appendableCompatible(writer, reader TypeDescriptor) bool {
	n := len(writer.Members)
	if len(reader.Members) < n {
		n = len(reader.Members)
	}
	for i := 0; i < n; i++ {
		if writer.Members[i].MemberID != reader.Members[i].MemberID {
			return false
		}
		if !sameMemberType(writer.Members[i], reader.Members[i]) {
			return false
		}
	}
	// Any must-understand member beyond the shared prefix must still be
	// satisfiable: a must-understand member the writer doesn't send
	// cannot be understood by the reader.
	for i := n; i < len(reader.Members); i++ {
		if reader.Members[i].Flags.MustUnderstand {
			return false
		}
	}
	return true
}

// mutableCompatible matches members by id irrespective of order; any
// member either side flags must-understand must exist (with matching
// type) on both sides.
func mutableCompatible(writer, reader TypeDescriptor) bool {
	byID := func(d TypeDescriptor) map[uint32]Member {
		m := make(map[uint32]Member, len(d.Members))
		for _, mem := range d.Members {
			m[mem.MemberID] = mem
		}
		return m
	}
	wm, rm := byID(writer), byID(reader)

	for id, m := range wm {
		if !m.Flags.MustUnderstand {
			continue
		}
		rmem, ok := rm[id]
		if !ok || !sameMemberType(m, rmem) {
			return false
		}
	}
	for id, m := range rm {
		if !m.Flags.MustUnderstand {
			continue
		}
		wmem, ok := wm[id]
		if !ok || !sameMemberType(m, wmem) {
			return false
		}
	}
	// Any member present on both sides must agree in type even if not
	// must-understand, since a type-mismatched shared member id is never
	// a valid evolution of the same type.
	for id, m := range wm {
		if rmem, ok := rm[id]; ok && !sameMemberType(m, rmem) {
			return false
		}
	}
	return true
}
