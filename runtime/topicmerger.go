package runtime

import (
	"sort"

	"github.com/ddsgo/rdds/core/guid"
)

// MergedSample is one sample surfaced by TopicMerger, tagged with its
// originating writer for the GUID tie-break and its coherent-change
// group if PRESENTATION requires one.
type MergedSample struct {
	Writer        guid.GUID
	SourceOrder   uint64 // writer-local monotonic order (e.g. sequence number)
	CoherentGroup uint64 // 0 means not part of a coherent change set
	Payload       []byte
}

// TopicMerger produces a single deterministic cross-writer ordering over
// samples arriving independently from every DataWriter matched to a
// DataReader, honoring distilled spec §4.4's tie-break ("equal timestamp
// resolves to lexical GUID order") and the PRESENTATION coherent-change
// boundary (a reader must not observe half of a coherent change set).
type TopicMerger struct {
	pending map[uint64][]MergedSample // CoherentGroup -> accumulated samples, 0 excluded
	ready   []MergedSample
}

// NewTopicMerger builds an empty TopicMerger.
func NewTopicMerger() *TopicMerger {
	return &TopicMerger{pending: make(map[uint64][]MergedSample)}
}

// Offer admits one sample. Samples outside a coherent group (group 0)
// become immediately ready; samples within a group accumulate until
// CloseGroup is called for that group, at which point the whole group
// becomes ready atomically and in tie-broken order, so a reader can never
// see a partial coherent change.
func (m *TopicMerger) Offer(s MergedSample) {
	if s.CoherentGroup == 0 {
		m.ready = append(m.ready, s)
		m.sortReady()
		return
	}
	m.pending[s.CoherentGroup] = append(m.pending[s.CoherentGroup], s)
}

// CloseGroup flushes every sample accumulated for group into the ready
// queue, in deterministic order.
func (m *TopicMerger) CloseGroup(group uint64) {
	samples := m.pending[group]
	delete(m.pending, group)
	m.ready = append(m.ready, samples...)
	m.sortReady()
}

func (m *TopicMerger) sortReady() {
	sort.SliceStable(m.ready, func(i, j int) bool {
		a, b := m.ready[i], m.ready[j]
		if a.SourceOrder != b.SourceOrder {
			return a.SourceOrder < b.SourceOrder
		}
		return a.Writer.Less(b.Writer)
	})
}

// Drain removes and returns every currently ready sample, in order.
func (m *TopicMerger) Drain() []MergedSample {
	out := m.ready
	m.ready = nil
	return out
}

// Pending reports how many samples are held back awaiting their
// coherent group's close, across all open groups.
func (m *TopicMerger) Pending() int {
	n := 0
	for _, v := range m.pending {
		n += len(v)
	}
	return n
}
