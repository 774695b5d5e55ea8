// Package reliability implements the per-writer HistoryCache, fragment
// reassembly, and NACK-driven retransmission policy of distilled spec §5
// (RTPS reliability protocol): HistoryCache append/range/ack_up_to/
// min_unacked/evict_up_to, the KEEP_LAST-per-instance index, fragment
// buffers with a reassembly timeout, and the writer-side resend-or-gap
// decision on a received ACKNACK.
package reliability

import (
	"sync"

	"gitlab.com/yawning/avl.git"

	"github.com/ddsgo/rdds/core/seqnum"
	"github.com/ddsgo/rdds/qos"
)

// InstanceKey identifies one keyed instance within a HistoryCache, the
// serialized key fields of a sample.
type InstanceKey string

// ChangeKind distinguishes a live write from a dispose or unregister.
type ChangeKind int

const (
	ChangeAlive ChangeKind = iota
	ChangeDisposed
	ChangeUnregistered
)

// Change is one cached sample: a CDR-encoded payload plus the metadata the
// reliability and presentation layers need to order and retire it.
type Change struct {
	SequenceNumber seqnum.SequenceNumber
	Instance       InstanceKey
	Kind           ChangeKind
	Payload        []byte
	node           *avl.Node
}

// HistoryCache is a single DataWriter's sample history (readers do not
// use one), ordered by sequence number in an AVL
// tree exactly as server/internal/decoy/decoy.go orders its surbETAs by
// deadline — here the ordering key is the monotonic per-writer sequence
// number instead of a fire time, and the tree additionally gives range
// scans and min/max in the same O(log n) the decoy scheduler relies on.
type HistoryCache struct {
	mu sync.Mutex

	tree *avl.Tree // ordered by SequenceNumber

	depthKind  qos.HistoryKind
	depth      int
	maxSamples int

	byInstance map[InstanceKey][]*Change // KEEP_LAST_PER_INSTANCE index

	ackedUpTo seqnum.SequenceNumber // minimum across all matched readers
}

// NewHistoryCache builds a HistoryCache honoring the HISTORY and
// RESOURCE_LIMITS policies of p.
func NewHistoryCache(p qos.Policies) *HistoryCache {
	return &HistoryCache{
		tree: avl.New(func(a, b interface{}) int {
			ca, cb := a.(*Change), b.(*Change)
			switch {
			case ca.SequenceNumber < cb.SequenceNumber:
				return -1
			case ca.SequenceNumber > cb.SequenceNumber:
				return 1
			default:
				return 0
			}
		}),
		depthKind:  p.History,
		depth:      p.HistoryDepth,
		maxSamples: p.ResourceLimitsMaxSamples,
		byInstance: make(map[InstanceKey][]*Change),
	}
}

// Append inserts change, evicting older same-instance samples beyond the
// KEEP_LAST depth. Returns false (and does not insert) if RESOURCE_LIMITS
// would be exceeded and no sample is eligible for eviction, matching
// distilled spec §5.1's "writer blocks or rejects the sample" edge case
// (this cache signals the reject; blocking is the DataWriter's concern).
func (c *HistoryCache) Append(change *Change) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSamples > 0 && c.tree.Len() >= c.maxSamples {
		if !c.evictOldestLocked() {
			return false
		}
	}

	change.node = c.tree.Insert(change)
	if change.node.Value.(*Change) != change {
		panic("historycache: duplicate sequence number inserted")
	}

	bucket := append(c.byInstance[change.Instance], change)
	if c.depthKind == qos.KeepLast && c.depth > 0 && len(bucket) > c.depth {
		stale := bucket[0]
		bucket = bucket[1:]
		c.removeLocked(stale)
	}
	c.byInstance[change.Instance] = bucket
	return true
}

func (c *HistoryCache) evictOldestLocked() bool {
	it := c.tree.Iterator(avl.Forward)
	n := it.First()
	if n == nil {
		return false
	}
	ch := n.Value.(*Change)
	if ch.SequenceNumber > c.ackedUpTo {
		// Oldest sample is still unacknowledged by some reader; nothing
		// safe to evict.
		return false
	}
	c.removeLocked(ch)
	return true
}

func (c *HistoryCache) removeLocked(ch *Change) {
	if ch.node != nil {
		c.tree.Remove(ch.node)
		ch.node = nil
	}
	bucket := c.byInstance[ch.Instance]
	for i, b := range bucket {
		if b == ch {
			c.byInstance[ch.Instance] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
}

// Range calls fn for every cached change with sequence number in
// [from, to], in ascending order, stopping early if fn returns false.
func (c *HistoryCache) Range(from, to seqnum.SequenceNumber, fn func(*Change) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := c.tree.Iterator(avl.Forward)
	for n := it.First(); n != nil; n = it.Next() {
		ch := n.Value.(*Change)
		if ch.SequenceNumber < from {
			continue
		}
		if ch.SequenceNumber > to {
			return
		}
		if !fn(ch) {
			return
		}
	}
}

// Get returns the cached change at seq, or nil if absent (already evicted
// or never written).
func (c *HistoryCache) Get(seq seqnum.SequenceNumber) *Change {
	var found *Change
	c.Range(seq, seq, func(ch *Change) bool {
		found = ch
		return false
	})
	return found
}

// AckUpTo records that every matched reader has acknowledged sequence
// numbers up to and including upTo, allowing later Append calls to evict
// through that point.
func (c *HistoryCache) AckUpTo(upTo seqnum.SequenceNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if upTo > c.ackedUpTo {
		c.ackedUpTo = upTo
	}
}

// MinUnacked returns the lowest sequence number not yet acknowledged by
// every matched reader, used to compute a HEARTBEAT's firstSN.
func (c *HistoryCache) MinUnacked() seqnum.SequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ackedUpTo + 1
}

// EvictUpTo removes every cached change with sequence number <= upTo,
// regardless of acknowledgment state (used when a writer is disposed or
// the cache is force-trimmed).
func (c *HistoryCache) EvictUpTo(upTo seqnum.SequenceNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		it := c.tree.Iterator(avl.Forward)
		n := it.First()
		if n == nil {
			return
		}
		ch := n.Value.(*Change)
		if ch.SequenceNumber > upTo {
			return
		}
		c.removeLocked(ch)
	}
}

// Len reports the number of cached changes.
func (c *HistoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Len()
}

// HighestSequence returns the highest cached sequence number, or
// seqnum.Unknown if the cache is empty.
func (c *HistoryCache) HighestSequence() seqnum.SequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := c.tree.Iterator(avl.Forward)
	last := seqnum.Unknown
	for n := it.First(); n != nil; n = it.Next() {
		last = n.Value.(*Change).SequenceNumber
	}
	return last
}
