package endpoint

import (
	"sync"

	"github.com/ddsgo/rdds/core/guid"
)

// MatchedReadersRegistry holds a single DataWriter's full set of
// matched-reader proxies. Reads (the steady-state publish path looking
// up which readers to fan a sample out to) happen far more often than
// writes (discovery matching a new reader), so this uses a plain
// RWMutex-guarded map: discovery-plane writes are rare and can afford
// exclusive access, while every publish call only needs a read lock.
type MatchedReadersRegistry struct {
	mu    sync.RWMutex
	byGUID map[guid.GUID]*ReliableWriterProxy
}

// NewMatchedReadersRegistry builds an empty registry.
func NewMatchedReadersRegistry() *MatchedReadersRegistry {
	return &MatchedReadersRegistry{byGUID: make(map[guid.GUID]*ReliableWriterProxy)}
}

// Add registers a newly-matched reader, returning its proxy (creating
// one in the Initial state if this reader was not already matched).
func (r *MatchedReadersRegistry) Add(reader guid.GUID) *ReliableWriterProxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byGUID[reader]; ok {
		return p
	}
	p := NewReliableWriterProxy(reader)
	r.byGUID[reader] = p
	return p
}

// Remove unmatches reader, e.g. on discovery loss or explicit
// INCOMPATIBLE_QOS teardown.
func (r *MatchedReadersRegistry) Remove(reader guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byGUID, reader)
}

// Get returns the proxy for reader, if matched.
func (r *MatchedReadersRegistry) Get(reader guid.GUID) (*ReliableWriterProxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byGUID[reader]
	return p, ok
}

// All returns every currently matched reader's proxy, for fan-out on
// publish or HEARTBEAT broadcast.
func (r *MatchedReadersRegistry) All() []*ReliableWriterProxy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ReliableWriterProxy, 0, len(r.byGUID))
	for _, p := range r.byGUID {
		out = append(out, p)
	}
	return out
}

// Len reports the number of matched readers.
func (r *MatchedReadersRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byGUID)
}

// MatchedWritersRegistry is the reader-side mirror of
// MatchedReadersRegistry: one ReliableReaderProxy per matched writer.
type MatchedWritersRegistry struct {
	mu     sync.RWMutex
	byGUID map[guid.GUID]*ReliableReaderProxy
}

// NewMatchedWritersRegistry builds an empty registry.
func NewMatchedWritersRegistry() *MatchedWritersRegistry {
	return &MatchedWritersRegistry{byGUID: make(map[guid.GUID]*ReliableReaderProxy)}
}

// Add registers a newly-matched writer, returning its proxy.
func (r *MatchedWritersRegistry) Add(writer guid.GUID) *ReliableReaderProxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byGUID[writer]; ok {
		return p
	}
	p := NewReliableReaderProxy(writer)
	r.byGUID[writer] = p
	return p
}

// Remove unmatches writer.
func (r *MatchedWritersRegistry) Remove(writer guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byGUID, writer)
}

// Get returns the proxy for writer, if matched.
func (r *MatchedWritersRegistry) Get(writer guid.GUID) (*ReliableReaderProxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byGUID[writer]
	return p, ok
}

// All returns every currently matched writer's proxy.
func (r *MatchedWritersRegistry) All() []*ReliableReaderProxy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ReliableReaderProxy, 0, len(r.byGUID))
	for _, p := range r.byGUID {
		out = append(out, p)
	}
	return out
}

// Len reports the number of matched writers.
func (r *MatchedWritersRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byGUID)
}
