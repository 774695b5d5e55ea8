package reliability

import (
	"sync"
	"time"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/seqnum"
)

// FragmentSizeThreshold is the serialized sample size above which a writer
// must fragment, per distilled spec §5.4.
const FragmentSizeThreshold = 64 * 1024

// FragmentPayloadSize is the size of each fragment's data payload below
// the threshold split point.
const FragmentPayloadSize = 32 * 1024

// MaxPendingFragmentedSamples caps concurrently-reassembling samples per
// matched writer, per distilled spec §5.4's resource-exhaustion guard.
const MaxPendingFragmentedSamples = 256

// FragmentReassemblyTimeout is how long a partially-received fragmented
// sample is kept before being dropped.
const FragmentReassemblyTimeout = 1000 * time.Millisecond

// fragmentKey identifies one fragmented sample's reassembly buffer.
type fragmentKey struct {
	writer guid.GUID
	seq    seqnum.SequenceNumber
}

// fragmentBuffer accumulates a single sample's fragments until complete.
type fragmentBuffer struct {
	totalSize    uint32
	fragmentSize uint32
	have         map[uint32][]byte // fragment index -> bytes
	received     int
	total        int
}

func newFragmentBuffer(totalSize, fragmentSize uint32) *fragmentBuffer {
	total := int(totalSize / fragmentSize)
	if totalSize%fragmentSize != 0 {
		total++
	}
	return &fragmentBuffer{
		totalSize:    totalSize,
		fragmentSize: fragmentSize,
		have:         make(map[uint32][]byte),
		total:        total,
	}
}

func (b *fragmentBuffer) put(index uint32, data []byte) {
	if _, ok := b.have[index]; ok {
		return
	}
	b.have[index] = data
	b.received++
}

func (b *fragmentBuffer) complete() bool {
	return b.received >= b.total
}

// assemble concatenates fragments in index order into the full payload.
// Callers must only call this once complete() is true.
func (b *fragmentBuffer) assemble() []byte {
	out := make([]byte, 0, b.totalSize)
	for i := 0; i < b.total; i++ {
		out = append(out, b.have[uint32(i)]...)
	}
	return out
}

// FragmentReassembler reassembles fragmented samples arriving out of
// order across any number of writers, evicting a reassembly buffer whose
// FragmentReassemblyTimeout elapses without reaching completion. The
// timeout bookkeeping reuses TimerQueue, generalizing client2/arq.go's
// per-message retransmit deadline to a per-fragment-set reassembly
// deadline.
type FragmentReassembler struct {
	mu      sync.Mutex
	buffers map[fragmentKey]*fragmentBuffer
	timers  *TimerQueue
}

// NewFragmentReassembler builds a reassembler. onDrop is invoked (from
// the reassembler's own goroutine) whenever a buffer times out before
// completion.
func NewFragmentReassembler(onDrop func(writer guid.GUID, seq seqnum.SequenceNumber)) *FragmentReassembler {
	r := &FragmentReassembler{
		buffers: make(map[fragmentKey]*fragmentBuffer),
	}
	r.timers = NewTimerQueue(func(v interface{}) {
		key := v.(fragmentKey)
		r.mu.Lock()
		buf, ok := r.buffers[key]
		if ok && !buf.complete() {
			delete(r.buffers, key)
		}
		r.mu.Unlock()
		if ok && !buf.complete() && onDrop != nil {
			onDrop(key.writer, key.seq)
		}
	})
	r.timers.Start()
	return r
}

// Stop halts the reassembler's background timer goroutine.
func (r *FragmentReassembler) Stop() {
	r.timers.Stop()
	r.timers.Wait()
}

// Put records one received fragment and returns the assembled payload
// once every fragment of the sample has arrived; otherwise it returns
// nil, false.
func (r *FragmentReassembler) Put(writer guid.GUID, seq seqnum.SequenceNumber, totalSize, fragmentSize, index uint32, data []byte) ([]byte, bool) {
	key := fragmentKey{writer: writer, seq: seq}

	r.mu.Lock()
	buf, ok := r.buffers[key]
	if !ok {
		pending := 0
		for k := range r.buffers {
			if k.writer == writer {
				pending++
			}
		}
		if pending >= MaxPendingFragmentedSamples {
			r.mu.Unlock()
			return nil, false
		}
		buf = newFragmentBuffer(totalSize, fragmentSize)
		r.buffers[key] = buf
		r.timers.Push(uint64(time.Now().Add(FragmentReassemblyTimeout).UnixNano()), key)
	}
	buf.put(index, data)
	done := buf.complete()
	if done {
		delete(r.buffers, key)
	}
	r.mu.Unlock()

	if !done {
		return nil, false
	}
	return buf.assemble(), true
}

// Pending reports the number of samples currently mid-reassembly.
func (r *FragmentReassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}
