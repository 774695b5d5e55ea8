package dds

import (
	"context"
	"os"
	"sync"
	"time"

	logpkg "github.com/charmbracelet/log"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/locator"
	"github.com/ddsgo/rdds/core/seqnum"
	"github.com/ddsgo/rdds/discovery"
	"github.com/ddsgo/rdds/endpoint"
	"github.com/ddsgo/rdds/internal/worker"
	"github.com/ddsgo/rdds/metrics"
	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/reliability"
	"github.com/ddsgo/rdds/runtime"
	"github.com/ddsgo/rdds/wire/rtps"
)

// mergeKey identifies one sample staged for TopicMerger's cross-writer
// ordering by its originating writer and writer-local sequence number.
type mergeKey struct {
	writer guid.GUID
	order  uint64
}

// DataReaderNackCheckInterval is how often a Reliable DataReader checks
// every matched writer's proxy for a due (coalesced or backed-off) NACK.
const DataReaderNackCheckInterval = 20 * time.Millisecond

// DataReader subscribes to a Topic: it owns a bounded sample cache, a
// ReliableReaderProxy per matched writer (when its QoS is Reliable), a
// FragmentReassembler for oversized samples, and the ReadCondition the
// application's WaitSet blocks on.
type DataReader struct {
	worker.Worker

	log *logpkg.Logger

	GUID        guid.GUID
	participant *DomainParticipant
	topic       *Topic
	qos         qos.Policies

	matched    *endpoint.MatchedWritersRegistry
	reassemble *reliability.FragmentReassembler

	mu             sync.Mutex
	writerLocators map[guid.GUID][]locator.Locator
	writerLastSN   map[guid.GUID]seqnum.SequenceNumber
	samples        []Sample
	depth          int

	merger    *runtime.TopicMerger
	mergerBuf map[mergeKey]Sample

	ws       *WaitSet
	readCond *Condition

	statusMu sync.Mutex
	listener func(*DataReader, Sample)
	dispatch *listenerDispatch
}

func newDataReader(p *DomainParticipant, topic *Topic, q qos.Policies) (*DataReader, error) {
	entity := p.allocateEntityID(userReaderEntityKind)
	depth := q.HistoryDepth
	if q.History != qos.KeepLast || depth <= 0 {
		depth = 0 // KeepAll: unbounded; the reader applies no ResourceLimits cap
	}

	r := &DataReader{
		log: logpkg.NewWithOptions(os.Stderr, logpkg.Options{
			ReportTimestamp: true,
			Prefix:          "dds/datareader",
		}),
		GUID:           guid.New(p.GUID.Prefix, entity),
		participant:    p,
		topic:          topic,
		qos:            q,
		matched:        endpoint.NewMatchedWritersRegistry(),
		writerLocators: make(map[guid.GUID][]locator.Locator),
		writerLastSN:   make(map[guid.GUID]seqnum.SequenceNumber),
		depth:          depth,
		merger:         runtime.NewTopicMerger(),
		mergerBuf:      make(map[mergeKey]Sample),
		ws:             NewWaitSet(),
		dispatch:       newListenerDispatch(),
	}
	r.readCond = r.ws.Attach(ReadConditionKind)
	r.reassemble = reliability.NewFragmentReassembler(r.onFragmentDropped)

	p.registerReader(r)
	if q.Reliability == qos.Reliable {
		r.Go(r.nackLoop)
	}

	info := r.endpointInfo()
	p.topics.Observe(info)
	p.sendSEDP(info, []locator.Locator{p.spdpLocator})

	return r, nil
}

// SetListener installs fn to be invoked (via a bounded dispatch goroutine)
// for every newly accepted sample.
func (r *DataReader) SetListener(fn func(*DataReader, Sample)) {
	r.statusMu.Lock()
	r.listener = fn
	r.statusMu.Unlock()
}

func (r *DataReader) notifyListener(s Sample) {
	r.statusMu.Lock()
	fn := r.listener
	r.statusMu.Unlock()
	if fn != nil {
		r.dispatch.Dispatch(func() { fn(r, s) })
	}
}

// ReadCondition returns the Condition this reader signals on every newly
// accepted sample, for attaching to a WaitSet.
func (r *DataReader) ReadCondition() *Condition { return r.readCond }

// WaitSet returns the reader's own WaitSet, convenient for a caller that
// only wants to block on this one reader.
func (r *DataReader) WaitSet() *WaitSet { return r.ws }

// Take returns every cached sample and clears the cache (DDS take()
// semantics, as opposed to Read's leave-in-place semantics).
func (r *DataReader) Take() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.samples
	r.samples = nil
	r.ws.Clear(r.readCond)
	for i := range out {
		out[i].SampleState = Read
	}
	return out
}

// Read returns every cached sample without removing it, marking each
// returned sample Read in place (DDS read() semantics).
func (r *DataReader) Read() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	for i := range r.samples {
		r.samples[i].SampleState = Read
	}
	return out
}

// offerSample stages s into the cross-writer delivery order TopicMerger
// maintains for this topic (writer-local sequence number, lexical GUID
// tie-break on equal order), without draining it yet. A caller dispatching
// one RTPS Message that batches DATA submessages from more than one
// matched writer offers all of them first, then calls flushMerged once,
// so the merger gets a chance to resolve the tie-break across the whole
// batch instead of seeing one sample at a time.
func (r *DataReader) offerSample(writer guid.GUID, seq seqnum.SequenceNumber, s Sample) {
	r.mu.Lock()
	key := mergeKey{writer: writer, order: uint64(seq)}
	r.mergerBuf[key] = s
	r.merger.Offer(runtime.MergedSample{Writer: writer, SourceOrder: uint64(seq)})
	r.mu.Unlock()
}

// flushMerged drains every sample the merger currently holds ready (see
// offerSample) into the reader's sample buffer, in merge order, then
// signals the read condition and notifies the listener once per
// delivered sample. A no-op if nothing is ready.
func (r *DataReader) flushMerged() {
	r.mu.Lock()
	ready := r.merger.Drain()
	delivered := make([]Sample, 0, len(ready))
	for _, m := range ready {
		k := mergeKey{writer: m.Writer, order: m.SourceOrder}
		sample, ok := r.mergerBuf[k]
		if !ok {
			continue
		}
		delete(r.mergerBuf, k)
		r.samples = append(r.samples, sample)
		delivered = append(delivered, sample)
	}
	if r.depth > 0 && len(r.samples) > r.depth {
		r.samples = r.samples[len(r.samples)-r.depth:]
	}
	r.mu.Unlock()

	if len(delivered) == 0 {
		return
	}
	r.ws.Signal(r.readCond)
	for _, s := range delivered {
		r.notifyListener(s)
	}
}

// appendSample offers s then immediately flushes. Used by callers that
// deliver one sample at a time with no batching opportunity (tests, and
// any future non-batched delivery path).
func (r *DataReader) appendSample(writer guid.GUID, seq seqnum.SequenceNumber, s Sample) {
	r.offerSample(writer, seq, s)
	r.flushMerged()
}

func (r *DataReader) onFragmentDropped(writer guid.GUID, seq seqnum.SequenceNumber) {
	r.log.Warnf("dropping incomplete fragmented sample from %s seq %s: reassembly timed out", writer, seq)
	r.participant.countMetric(func(reg *metrics.Registry) { reg.FragmentReassemblyTimeouts.Inc() })
}

// writersFromPrefix returns every currently matched writer GUID belonging
// to prefix, for tearing down all matches on that participant's discovery
// lease expiry.
func (r *DataReader) writersFromPrefix(prefix guid.Prefix) []guid.GUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []guid.GUID
	for g := range r.writerLocators {
		if g.Prefix == prefix {
			out = append(out, g)
		}
	}
	return out
}

// matchWriter registers info as a newly matched writer: it records the
// writer's locators for direct NACK sends and, for a Reliable reader,
// creates its ReliableReaderProxy. Safe to call repeatedly for an
// already-matched writer, e.g. on every periodic SEDP re-announce.
func (r *DataReader) matchWriter(info discovery.EndpointInfo) {
	r.mu.Lock()
	_, already := r.writerLocators[info.GUID]
	r.writerLocators[info.GUID] = append(info.UnicastLocators, info.MulticastLocators...)
	r.mu.Unlock()

	if r.qos.Reliability == qos.Reliable {
		r.matched.Add(info.GUID)
	}
	if !already {
		r.participant.countMetric(func(reg *metrics.Registry) { reg.MatchedEndpoints.WithLabelValues("reader").Inc() })
	}
}

// unmatchWriter removes writer from this reader's matched set, e.g. when
// its owning participant's discovery lease expires.
func (r *DataReader) unmatchWriter(writer guid.GUID) {
	r.mu.Lock()
	_, was := r.writerLocators[writer]
	delete(r.writerLocators, writer)
	r.mu.Unlock()

	r.matched.Remove(writer)
	if was {
		r.participant.countMetric(func(reg *metrics.Registry) { reg.MatchedEndpoints.WithLabelValues("reader").Dec() })
	}
}

func (r *DataReader) acceptChange(writer guid.GUID, seq seqnum.SequenceNumber, payload []byte, kind reliability.ChangeKind) {
	if r.qos.Reliability == qos.Reliable {
		if proxy, ok := r.matched.Get(writer); ok {
			proxy.OnDataReceived(seq)
		}
	}

	state := InstanceAlive
	switch kind {
	case reliability.ChangeDisposed:
		state = InstanceDisposed
	case reliability.ChangeUnregistered:
		state = InstanceUnregistered
	}

	r.offerSample(writer, seq, Sample{
		WriterGUID:      writer.Bytes(),
		SequenceNumber:  seq,
		SourceTimestamp: time.Now(),
		Payload:         payload,
		SampleState:     NotRead,
		ViewState:       NewView,
		InstanceState:   state,
	})
}

// handleData applies a received DATA submessage from writer.
func (r *DataReader) handleData(writer guid.GUID, body rtps.DataBody) {
	kind := reliability.ChangeAlive
	if body.Payload == nil {
		kind = reliability.ChangeDisposed
	}
	r.acceptChange(writer, body.WriterSN, body.Payload, kind)
}

// handleDataFrag applies a received DATA_FRAG submessage, delivering the
// reassembled sample once every fragment has arrived.
func (r *DataReader) handleDataFrag(writer guid.GUID, body rtps.DataFragBody) {
	index := uint32(0)
	if body.FragmentStartingNum > 0 {
		index = body.FragmentStartingNum - 1
	}
	payload, done := r.reassemble.Put(writer, body.WriterSN, body.SampleSize, body.FragmentSize, index, body.Fragment)
	if !done {
		return
	}
	r.acceptChange(writer, body.WriterSN, payload, reliability.ChangeAlive)
}

// handleHeartbeat applies a received HEARTBEAT from writer, scheduling a
// NACK if it reveals samples this reader is missing.
func (r *DataReader) handleHeartbeat(writer guid.GUID, body rtps.HeartbeatBody) {
	proxy, ok := r.matched.Get(writer)
	if !ok {
		proxy = r.matched.Add(writer)
	}
	lastSN := seqnum.SequenceNumber(body.LastSN)
	r.mu.Lock()
	r.writerLastSN[writer] = lastSN
	r.mu.Unlock()
	proxy.OnHeartbeat(seqnum.SequenceNumber(body.FirstSN), lastSN, time.Now())
}

// handleGap applies a received GAP from writer: every sequence number it
// covers will never arrive, so it is folded into the receive set exactly
// as if it had been received, per RTPS's GAP semantics.
func (r *DataReader) handleGap(writer guid.GUID, body rtps.GapBody) {
	proxy, ok := r.matched.Get(writer)
	if !ok {
		return
	}
	proxy.OnDataReceived(body.GapStart)
	for _, seq := range body.GapList {
		proxy.OnDataReceived(seq)
	}
}

func (r *DataReader) nackLoop() {
	defer r.Done()
	t := time.NewTicker(DataReaderNackCheckInterval)
	defer t.Stop()
	defer r.reassemble.Stop()

	for {
		select {
		case <-r.HaltCh():
			return
		case now := <-t.C:
			for _, proxy := range r.matched.All() {
				if !proxy.NackDue(now) {
					continue
				}
				r.mu.Lock()
				upTo := r.writerLastSN[proxy.WriterGUID]
				r.mu.Unlock()
				if upTo < proxy.HighestContiguous() {
					upTo = proxy.HighestContiguous()
				}
				final, missing := proxy.EmitNack(upTo, now)
				r.sendAckNack(proxy.WriterGUID, final, missing)
			}
		}
	}
}

func (r *DataReader) sendAckNack(writer guid.GUID, final bool, missing []seqnum.SequenceNumber) {
	r.mu.Lock()
	locs := r.writerLocators[writer]
	r.mu.Unlock()
	dst, ok := bestOf(locs, r.participant.allowQUIC, r.participant.spdpLocator)
	if !ok {
		return
	}

	sm := rtps.EncodeAckNack(rtps.AckNackBody{
		ReaderID: r.GUID.Entity,
		WriterID: writer.Entity,
		Missing:  missing,
		Final:    final,
	})
	msg := rtps.EncodeMessage(rtps.Header{GUIDPrefix: r.GUID.Prefix}, []rtps.RawSubmessage{sm})
	if err := r.participant.mux.SendVia(context.Background(), dst, msg); err != nil {
		r.log.Debugf("sending ACKNACK to %s: %v", dst, err)
		return
	}
	r.participant.countMetric(func(reg *metrics.Registry) { reg.AckNacksSent.Inc() })
}

// endpointInfo builds the SEDP EndpointInfo this DataReader announces.
func (r *DataReader) endpointInfo() discovery.EndpointInfo {
	return discovery.EndpointInfo{
		GUID:              r.GUID,
		Kind:              discovery.EndpointReader,
		TopicName:         r.topic.Name,
		TypeName:          r.topic.TypeName(),
		Type:              r.topic.Type,
		QoS:               r.qos,
		UnicastLocators:   r.participant.locators(),
		MulticastLocators: nil,
	}
}
