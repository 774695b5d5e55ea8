package discovery

import (
	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/xtypes"
)

// MatchStatus is the outcome of attempting to match a local endpoint
// against a discovered remote one.
type MatchStatus int

const (
	MatchOK MatchStatus = iota
	MatchIncompatibleQoS
	MatchIncompatibleType
	MatchTopicMismatch
)

func (s MatchStatus) String() string {
	switch s {
	case MatchOK:
		return "OK"
	case MatchIncompatibleQoS:
		return "IncompatibleQoS"
	case MatchIncompatibleType:
		return "IncompatibleType"
	case MatchTopicMismatch:
		return "TopicMismatch"
	default:
		return "Unknown"
	}
}

// MatchResult reports why a match attempt succeeded or failed, carrying
// enough detail for the INCOMPATIBLE_QOS status to name the offending
// policy.
type MatchResult struct {
	Status   MatchStatus
	Mismatch *qos.Mismatch
}

// Match checks whether a local writer (offered) and a discovered remote
// reader (requested) on the same topic should be bound, per distilled
// spec §4.5: topic name and type must agree (by assignability, not just
// name equality, so XTypes Appendable/Mutable evolution is honored), and
// QoS must satisfy "offer >= request".
func Match(localTopic string, localType xtypes.TypeObject, offered qos.Policies, remote EndpointInfo) MatchResult {
	if localTopic != remote.TopicName {
		return MatchResult{Status: MatchTopicMismatch}
	}
	if !typeCompatible(localType, remote, false) {
		return MatchResult{Status: MatchIncompatibleType}
	}
	ok, mismatch := qos.CompatibleOffer(offered, remote.QoS)
	if !ok {
		return MatchResult{Status: MatchIncompatibleQoS, Mismatch: mismatch}
	}
	return MatchResult{Status: MatchOK}
}

// MatchReader checks a local reader (requested) against a discovered
// remote writer (offered), the mirror image of Match.
func MatchReader(localTopic string, localType xtypes.TypeObject, requested qos.Policies, remote EndpointInfo) MatchResult {
	if localTopic != remote.TopicName {
		return MatchResult{Status: MatchTopicMismatch}
	}
	if !typeCompatible(localType, remote, true) {
		return MatchResult{Status: MatchIncompatibleType}
	}
	ok, mismatch := qos.CompatibleOffer(remote.QoS, requested)
	if !ok {
		return MatchResult{Status: MatchIncompatibleQoS, Mismatch: mismatch}
	}
	return MatchResult{Status: MatchOK}
}

// typeCompatible decides type assignability for a (local, remote) pair.
// remoteIsWriter says which side of Assignable(writer, reader) remote
// plays. SEDP only ever carries the remote side's type name and
// equivalence hash on the wire (PIDTypeObject), not its full
// TypeDescriptor, so a remote EndpointInfo's Type is structurally empty
// whenever it crossed the wire. Full XTypes Assignable (Appendable/
// Mutable evolution) only applies when both TypeObjects are locally known
// to have members; otherwise this falls back to comparing type names, the
// one piece of type identity both sides actually exchange.
func typeCompatible(localType xtypes.TypeObject, remote EndpointInfo, remoteIsWriter bool) bool {
	if len(remote.Type.Descriptor.Members) == 0 {
		return remote.TypeName == "" || remote.TypeName == localType.Descriptor.Name
	}
	if remoteIsWriter {
		return xtypes.Assignable(remote.Type, localType)
	}
	return xtypes.Assignable(localType, remote.Type)
}
