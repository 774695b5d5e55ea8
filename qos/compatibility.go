package qos

import "strings"

// PolicyID identifies which policy caused an INCOMPATIBLE_QOS status,
// mirroring the DDS standard's *_QOS_POLICY_ID constants.
type PolicyID int

const (
	ReliabilityQosPolicyID PolicyID = iota + 1
	DurabilityQosPolicyID
	DeadlineQosPolicyID
	LatencyBudgetQosPolicyID
	OwnershipQosPolicyID
	LivelinessQosPolicyID
	PartitionQosPolicyID
	PresentationQosPolicyID
)

func (p PolicyID) String() string {
	switch p {
	case ReliabilityQosPolicyID:
		return "RELIABILITY_QOS_POLICY_ID"
	case DurabilityQosPolicyID:
		return "DURABILITY_QOS_POLICY_ID"
	case DeadlineQosPolicyID:
		return "DEADLINE_QOS_POLICY_ID"
	case LatencyBudgetQosPolicyID:
		return "LATENCY_BUDGET_QOS_POLICY_ID"
	case OwnershipQosPolicyID:
		return "OWNERSHIP_QOS_POLICY_ID"
	case LivelinessQosPolicyID:
		return "LIVELINESS_QOS_POLICY_ID"
	case PartitionQosPolicyID:
		return "PARTITION_QOS_POLICY_ID"
	case PresentationQosPolicyID:
		return "PRESENTATION_QOS_POLICY_ID"
	default:
		return "UNKNOWN_QOS_POLICY_ID"
	}
}

// Mismatch reports the first offending policy when two QoS sets are
// incompatible for a match attempt.
type Mismatch struct {
	Policy PolicyID
}

// CompatibleOffer checks offered (writer) against requested (reader) QoS
// per distilled spec §4.5's "offer >= request" relation. Partition
// compatibility is symmetric (set intersection); every other policy here
// is asymmetric (offer must be at least as strong as request).
func CompatibleOffer(offered, requested Policies) (bool, *Mismatch) {
	if offered.Reliability < requested.Reliability {
		return false, &Mismatch{Policy: ReliabilityQosPolicyID}
	}
	if offered.Durability < requested.Durability {
		return false, &Mismatch{Policy: DurabilityQosPolicyID}
	}
	if !offered.Deadline.LessEqual(requested.Deadline) {
		// requested deadline must be >= offered deadline period (writer
		// commits to publishing at least as often as the reader needs).
		return false, &Mismatch{Policy: DeadlineQosPolicyID}
	}
	if !offered.LatencyBudget.LessEqual(requested.LatencyBudget) {
		return false, &Mismatch{Policy: LatencyBudgetQosPolicyID}
	}
	if offered.Ownership != requested.Ownership {
		return false, &Mismatch{Policy: OwnershipQosPolicyID}
	}
	if !livelinessCompatible(offered, requested) {
		return false, &Mismatch{Policy: LivelinessQosPolicyID}
	}
	if !partitionsIntersect(offered.Partitions, requested.Partitions) {
		return false, &Mismatch{Policy: PartitionQosPolicyID}
	}
	if !presentationReconcilable(offered, requested) {
		return false, &Mismatch{Policy: PresentationQosPolicyID}
	}
	return true, nil
}

// livelinessCompatible requires the offered kind be at least as strong as
// requested, and the writer's lease duration be no looser than what the
// reader asked for (writer promises liveliness at least as often).
func livelinessCompatible(offered, requested Policies) bool {
	if offered.Liveliness < requested.Liveliness {
		return false
	}
	return offered.LivelinessLeaseDur.LessEqual(requested.LivelinessLeaseDur)
}

// partitionsIntersect treats an empty partition list as the default
// partition "" and matches on exact string or simple glob ('*', '?'),
// matching the DDS partition-matching rule; it is symmetric by
// construction (intersection is commutative).
func partitionsIntersect(a, b []string) bool {
	if len(a) == 0 {
		a = []string{""}
	}
	if len(b) == 0 {
		b = []string{""}
	}
	for _, x := range a {
		for _, y := range b {
			if partitionGlobMatch(x, y) || partitionGlobMatch(y, x) || x == y {
				return true
			}
		}
	}
	return false
}

func partitionGlobMatch(pattern, s string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == s
	}
	return globMatch(pattern, s)
}

func globMatch(pattern, s string) bool {
	// Simple recursive glob matcher supporting '*' and '?', sufficient for
	// DDS partition expressions; no external glob library is used because
	// none appears anywhere in the retrieved example pack and the grammar
	// is two characters wide.
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '*':
		if globMatch(pattern[1:], s) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if globMatch(pattern[1:], s[i+1:]) {
				return true
			}
		}
		return globMatch(pattern[1:], "")
	case '?':
		if len(s) == 0 {
			return false
		}
		return globMatch(pattern[1:], s[1:])
	default:
		if len(s) == 0 || s[0] != pattern[0] {
			return false
		}
		return globMatch(pattern[1:], s[1:])
	}
}

// presentationReconcilable implements the "ACCESS_SCOPE=TOPIC or GROUP"
// coherent-change boundary rule from distilled spec §4.4: a subscriber
// requesting a coherent/ordered access scope can only be satisfied by a
// publisher offering an access scope at least as wide.
func presentationReconcilable(offered, requested Policies) bool {
	if requested.PresentationCoherent && !offered.PresentationCoherent {
		return false
	}
	if requested.PresentationOrdered && !offered.PresentationOrdered {
		return false
	}
	return offered.PresentationAccessScope >= requested.PresentationAccessScope
}
