// Package qos models the 22 standard DDS QoS policies (distilled spec §3
// NEW) and the "offer >= request" compatibility relation used by endpoint
// matching (distilled spec §4.5).
package qos

import "time"

// DurabilityKind orders durability from weakest to strongest.
type DurabilityKind int

const (
	Volatile DurabilityKind = iota
	TransientLocal
	Transient
	Persistent
)

// ReliabilityKind orders reliability from weakest to strongest.
type ReliabilityKind int

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

// HistoryKind selects KEEP_LAST or KEEP_ALL retention.
type HistoryKind int

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// OwnershipKind selects SHARED or EXCLUSIVE instance ownership.
type OwnershipKind int

const (
	SharedOwnership OwnershipKind = iota
	ExclusiveOwnership
)

// LivelinessKind selects how liveliness is asserted.
type LivelinessKind int

const (
	Automatic LivelinessKind = iota
	ManualByParticipant
	ManualByTopic
)

// PresentationAccessScope controls the granularity PRESENTATION applies at.
type PresentationAccessScope int

const (
	InstanceScope PresentationAccessScope = iota
	TopicScope
	GroupScope
)

// DestinationOrderKind selects ordering by reception or by source timestamp.
type DestinationOrderKind int

const (
	ByReceptionTimestamp DestinationOrderKind = iota
	BySourceTimestamp
)

// Duration wraps time.Duration with an Infinite flag standing for the DDS
// convention of DURATION_INFINITE; Value is ignored when Infinite is set.
type Duration struct {
	Value    time.Duration
	Infinite bool
}

// Infinite is the DURATION_INFINITE sentinel.
var Infinite = Duration{Infinite: true}

// Finite wraps a concrete duration.
func Finite(d time.Duration) Duration {
	return Duration{Value: d}
}

// LessEqual implements Duration comparison treating Infinite as +infinity.
func (d Duration) LessEqual(o Duration) bool {
	if o.Infinite {
		return true
	}
	if d.Infinite {
		return false
	}
	return d.Value <= o.Value
}

// Policies bundles the 22 standard DDS QoS policies. Only the fields the
// compatibility relation in distilled spec §4.5 names are enforced at
// match time (Reliability, Durability, Deadline, LatencyBudget,
// Ownership, Liveliness, Partition, Presentation); the rest are carried
// and validated for internal consistency (History/ResourceLimits) but do
// not participate in endpoint matching.
type Policies struct {
	Durability           DurabilityKind
	DurabilityServiceHistoryDepth int

	Deadline      Duration
	LatencyBudget Duration

	Ownership         OwnershipKind
	OwnershipStrength int32

	Liveliness         LivelinessKind
	LivelinessLeaseDur Duration

	TimeBasedFilterMinSeparation Duration

	Partitions []string

	Reliability    ReliabilityKind
	MaxBlockingTime Duration

	DestinationOrder DestinationOrderKind

	History      HistoryKind
	HistoryDepth int

	ResourceLimitsMaxSamples         int
	ResourceLimitsMaxInstances       int
	ResourceLimitsMaxSamplesPerInstance int

	EntityFactoryAutoenable bool

	WriterDataLifecycleAutodispose bool
	ReaderDataLifecycleNoWriterDelay   Duration
	ReaderDataLifecycleDisposedSamplesDelay Duration

	UserData  []byte
	TopicData []byte
	GroupData []byte

	PresentationAccessScope PresentationAccessScope
	PresentationCoherent    bool
	PresentationOrdered     bool

	Lifespan Duration

	TransportPriority int32
}

// Default returns the DDS default QoS: BEST_EFFORT/VOLATILE/KEEP_LAST(1),
// matching OMG DDS default policy values.
func Default() Policies {
	return Policies{
		Durability:       Volatile,
		Deadline:         Infinite,
		LatencyBudget:    Finite(0),
		Ownership:        SharedOwnership,
		Liveliness:       Automatic,
		LivelinessLeaseDur: Infinite,
		Reliability:      BestEffort,
		MaxBlockingTime:  Finite(100 * time.Millisecond),
		History:          KeepLast,
		HistoryDepth:     1,
		ResourceLimitsMaxSamples:            -1,
		ResourceLimitsMaxInstances:          -1,
		ResourceLimitsMaxSamplesPerInstance: -1,
		EntityFactoryAutoenable: true,
		WriterDataLifecycleAutodispose: true,
		Lifespan: Infinite,
	}
}

// Validate checks internal consistency (distilled spec invariant: History
// depth only makes sense under KEEP_LAST).
func (p Policies) Validate() error {
	if p.History == KeepLast && p.HistoryDepth < 1 {
		return errInvalidHistoryDepth
	}
	if p.ResourceLimitsMaxSamplesPerInstance > 0 && p.History == KeepLast &&
		p.HistoryDepth > p.ResourceLimitsMaxSamplesPerInstance {
		return errHistoryExceedsResourceLimit
	}
	return nil
}

// MutableField names a policy for IsMutable, which reports whether that
// policy may be changed after the owning entity
// is enabled, per distilled spec §4.8: Deadline, LatencyBudget, and
// UserData/TopicData/GroupData may change; Reliability, Durability, and
// Liveliness kind may not.
type MutableField int

const (
	FieldDeadline MutableField = iota
	FieldLatencyBudget
	FieldUserData
	FieldTopicData
	FieldGroupData
	FieldOwnershipStrength
	FieldPartition
	FieldTimeBasedFilter
	FieldLifespan

	FieldReliability
	FieldDurability
	FieldLivelinessKind
	FieldHistory
	FieldResourceLimits
	FieldDestinationOrder
	FieldPresentation
)

var mutableAfterEnable = map[MutableField]bool{
	FieldDeadline:          true,
	FieldLatencyBudget:     true,
	FieldUserData:          true,
	FieldTopicData:         true,
	FieldGroupData:         true,
	FieldOwnershipStrength: true,
	FieldPartition:         true,
	FieldTimeBasedFilter:   true,
	FieldLifespan:          true,
}

// IsMutable reports whether a field may be changed after enable.
func IsMutable(f MutableField) bool {
	return mutableAfterEnable[f]
}
