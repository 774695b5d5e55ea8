package runtime

import (
	"errors"
	"sync/atomic"

	channels "gopkg.in/eapache/channels.v1"
)

// ErrWouldBlock is returned by IndexRing.Push under KEEP_ALL semantics
// when the ring is full, mirroring distilled spec §4.4's
// "KEEP_ALL returns OutOfResources to caller" rule one layer up (the
// ring itself only reports the overflow; IndexRing is not used by
// DataWriter/DataReader, so nothing maps it to ddserrors.OutOfResources).
var ErrWouldBlock = errors.New("runtime: index ring full")

// OverwritePolicy selects what IndexRing.Push does when the ring is full.
type OverwritePolicy int

const (
	// KeepAll makes a full ring reject new entries.
	KeepAll OverwritePolicy = iota
	// KeepLastOverwrite makes a full ring overwrite its oldest entry.
	KeepLastOverwrite
)

// IndexRing is a single-producer/multiple-consumer lock-free ring of
// slab handle indices, sized to a power of two so head/tail wrap with a
// bitmask instead of a modulo. The lock-free hot path here generalizes
// stream.go's free-running `for { select { case <-HaltCh(): return;
// default: } ...}` worker loop shape: readers poll Pop the same way
// stream.go's reader() polls frames, without blocking the single
// producer's Push.
type IndexRing struct {
	mask   uint64
	slots  []atomic.Value // holds *Handle, nil when empty
	head   uint64         // next write position (producer-owned)
	tail   uint64         // next read position (shared consumer cursor)
	policy OverwritePolicy

	backpressure channels.Channel // reports drop/overwrite events for metrics
}

// NewIndexRing builds an IndexRing with capacity rounded up to the next
// power of two.
func NewIndexRing(capacity int, policy OverwritePolicy) *IndexRing {
	cap2 := nextPow2(capacity)
	r := &IndexRing{
		mask:         uint64(cap2 - 1),
		slots:        make([]atomic.Value, cap2),
		policy:       policy,
		backpressure: channels.NewInfiniteChannel(),
	}
	return r
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Push enqueues handle (single producer only). Under KeepAll it returns
// ErrWouldBlock once the ring is full of unread entries; under
// KeepLastOverwrite it silently drops the oldest unread entry and
// reports the drop on the backpressure channel (see BackpressureEvents).
func (r *IndexRing) Push(h *Handle) error {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	full := head-tail >= uint64(len(r.slots))

	if full {
		if r.policy == KeepAll {
			return ErrWouldBlock
		}
		// Overwrite: advance the shared tail past the slot we're about to
		// clobber and notify the backpressure channel.
		atomic.CompareAndSwapUint64(&r.tail, tail, tail+1)
		r.backpressure.In() <- struct{}{}
	}

	idx := head & r.mask
	r.slots[idx].Store(h)
	atomic.AddUint64(&r.head, 1)
	return nil
}

// Pop dequeues the oldest entry, or returns nil if the ring is empty.
// Safe for concurrent use by multiple consumers: a CAS on tail arbitrates
// which consumer wins a given slot.
func (r *IndexRing) Pop() *Handle {
	for {
		tail := atomic.LoadUint64(&r.tail)
		head := atomic.LoadUint64(&r.head)
		if tail >= head {
			return nil
		}
		if !atomic.CompareAndSwapUint64(&r.tail, tail, tail+1) {
			continue
		}
		idx := tail & r.mask
		v := r.slots[idx].Load()
		if v == nil {
			return nil
		}
		return v.(*Handle)
	}
}

// Len reports the number of entries currently queued.
func (r *IndexRing) Len() int {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// BackpressureEvents exposes the channel that receives one event per
// KEEP_LAST overwrite.
func (r *IndexRing) BackpressureEvents() <-chan interface{} {
	return r.backpressure.Out()
}

// Close releases the backpressure channel's resources.
func (r *IndexRing) Close() {
	r.backpressure.Close()
}
