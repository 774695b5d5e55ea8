// Package runtime implements the lock-free hot-path primitives of
// distilled spec §4.4: a process-wide SlabPool allocator, the SPMC
// IndexRing sample queue, cross-writer TopicMerger ordering, and the
// edge-triggered WaitsetDriver. These back every DataReader/DataWriter's
// steady-state path, so allocation and signaling here avoid locks where
// the teacher's own worker loops show an atomics-or-channel alternative
// exists.
package runtime

import (
	"sync"
	"sync/atomic"
)

// sizeClasses are the SlabPool's bucket boundaries, chosen to cover
// typical RTPS sample sizes from small fixed-size structs up to one
// unfragmented DATA submessage.
var sizeClasses = []int{64, 256, 1024, 4096, 16384, 65536}

// Handle is a refcounted lease on a slab-allocated buffer. Copies of a
// Handle share the same underlying buffer; the buffer returns to its
// free list only once every outstanding reference calls Release.
type Handle struct {
	buf    []byte
	class  int
	refs   *int32
	pool   *SlabPool
}

// Bytes returns the handle's backing buffer, valid only until the last
// Release.
func (h *Handle) Bytes() []byte {
	return h.buf
}

// Append grows the handle's buffer by p, reallocating past the pooled
// size class's capacity if needed (Release still returns the grown buffer
// to the handle's original size class).
func (h *Handle) Append(p []byte) {
	h.buf = append(h.buf, p...)
}

// Retain increments the handle's reference count and returns a new
// Handle value sharing the same buffer, so each owner can Release
// independently.
func (h *Handle) Retain() *Handle {
	atomic.AddInt32(h.refs, 1)
	return &Handle{buf: h.buf, class: h.class, refs: h.refs, pool: h.pool}
}

// Release decrements the reference count, returning the buffer to its
// size-class free list once no references remain.
func (h *Handle) Release() {
	if atomic.AddInt32(h.refs, -1) == 0 {
		h.pool.put(h.class, h.buf[:0])
	}
}

// SlabPool is a process-wide allocator of fixed-size-class byte buffers,
// avoiding a GC allocation on every sample in the steady-state publish
// path. One SlabPool is normally shared across all DataWriters and
// DataReaders in a participant.
type SlabPool struct {
	classes []sync.Pool
}

// NewSlabPool constructs a SlabPool with the default size classes.
func NewSlabPool() *SlabPool {
	p := &SlabPool{classes: make([]sync.Pool, len(sizeClasses))}
	for i, sz := range sizeClasses {
		sz := sz
		p.classes[i].New = func() interface{} {
			return make([]byte, 0, sz)
		}
	}
	return p
}

func classFor(n int) int {
	for i, sz := range sizeClasses {
		if n <= sz {
			return i
		}
	}
	return -1
}

// Get returns a Handle to a buffer with capacity at least n, with a
// single reference already held. Buffers larger than the largest size
// class are allocated directly and not pooled.
func (p *SlabPool) Get(n int) *Handle {
	class := classFor(n)
	refs := new(int32)
	*refs = 1
	if class < 0 {
		return &Handle{buf: make([]byte, 0, n), class: -1, refs: refs, pool: p}
	}
	buf := p.classes[class].Get().([]byte)
	return &Handle{buf: buf[:0], class: class, refs: refs, pool: p}
}

func (p *SlabPool) put(class int, buf []byte) {
	if class < 0 {
		return
	}
	p.classes[class].Put(buf)
}
