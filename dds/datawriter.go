package dds

import (
	"context"
	"encoding/hex"
	"math/rand"
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
	"github.com/ddsgo/rdds/persistence"
	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/reliability"
	"github.com/ddsgo/rdds/transport"
	"github.com/ddsgo/rdds/wire/rtps"
)

// DataWriterHeartbeatPeriod is the base (pre-jitter) interval a Reliable
// DataWriter announces its HistoryCache range to every matched reader.
const DataWriterHeartbeatPeriod = 500 * time.Millisecond

// DataWriter publishes samples on a Topic: it owns the HistoryCache of
// everything it has written, a ReliableWriterProxy per matched reader
// (when its QoS is Reliable), and sends DATA/HEARTBEAT RTPS submessages
// directly to each matched reader's best-reachable locator.
type DataWriter struct {
	worker.Worker

	log *logpkg.Logger

	GUID        guid.GUID
	participant *DomainParticipant
	topic       *Topic
	qos         qos.Policies

	cache   *reliability.HistoryCache
	matched *endpoint.MatchedReadersRegistry
	persist *persistence.Log

	mu             sync.Mutex
	nextSeq        seqnum.SequenceNumber
	readerLocators map[guid.GUID][]locator.Locator

	statusMu sync.Mutex
	listener func(*DataWriter)
	dispatch *listenerDispatch
}

func newDataWriter(p *DomainParticipant, topic *Topic, q qos.Policies) (*DataWriter, error) {
	entity := p.allocateEntityID(userWriterEntityKind)
	w := &DataWriter{
		log: logpkg.NewWithOptions(os.Stderr, logpkg.Options{
			ReportTimestamp: true,
			Prefix:          "dds/datawriter",
		}),
		GUID:           guid.New(p.GUID.Prefix, entity),
		participant:    p,
		topic:          topic,
		qos:            q,
		cache:          reliability.NewHistoryCache(q),
		matched:        endpoint.NewMatchedReadersRegistry(),
		nextSeq:        seqnum.First,
		readerLocators: make(map[guid.GUID][]locator.Locator),
		dispatch:       newListenerDispatch(),
	}

	if q.Durability >= qos.TransientLocal {
		w.replayPersisted(p)
	}

	p.registerWriter(w)
	if q.Reliability == qos.Reliable {
		w.Go(w.heartbeatLoop)
	}

	info := w.endpointInfo()
	p.topics.Observe(info)
	p.sendSEDP(info, []locator.Locator{p.spdpLocator})

	return w, nil
}

// replayPersisted opens this writer's segmented log beneath the
// participant's persistence directory (if EnablePersistence was called)
// and replays every record it holds back into the HistoryCache before
// the writer starts announcing, so a restarted TRANSIENT_LOCAL/
// TRANSIENT writer resumes its unacked tail instead of losing it.
// Replayed samples are keyed by the hex of their persisted key_hash,
// since only the hash (not the original instance key string) survives
// on disk.
func (w *DataWriter) replayPersisted(p *DomainParticipant) {
	plog, ok, err := p.openWriterLog(w.GUID)
	if err != nil {
		w.log.Warnf("opening persistence log: %v", err)
		return
	}
	if !ok {
		return
	}
	w.persist = plog

	records, err := plog.Replay(seqnum.First)
	if err != nil {
		w.log.Warnf("replaying persistence log: %v", err)
		return
	}
	for _, r := range records {
		w.cache.Append(&reliability.Change{
			SequenceNumber: r.Sequence,
			Instance:       reliability.InstanceKey(hex.EncodeToString(r.KeyHash[:])),
			Kind:           r.Kind,
			Payload:        r.Payload,
		})
		if r.Sequence >= w.nextSeq {
			w.nextSeq = r.Sequence + 1
		}
	}
}

// SetListener installs fn to be invoked (via a bounded dispatch goroutine)
// whenever a matched reader's acknowledgment state changes.
func (w *DataWriter) SetListener(fn func(*DataWriter)) {
	w.statusMu.Lock()
	w.listener = fn
	w.statusMu.Unlock()
}

func (w *DataWriter) notifyListener() {
	w.statusMu.Lock()
	fn := w.listener
	w.statusMu.Unlock()
	if fn != nil {
		w.dispatch.Dispatch(func() { fn(w) })
	}
}

// Write appends payload (already serialized by the caller) under
// instanceKey to the HistoryCache and fans a DATA submessage out to every
// currently matched reader. It returns the assigned sequence number.
func (w *DataWriter) Write(payload []byte, instanceKey string) (seqnum.SequenceNumber, error) {
	w.mu.Lock()
	seq := w.nextSeq
	w.nextSeq++
	w.mu.Unlock()

	change := &reliability.Change{
		SequenceNumber: seq,
		Instance:       reliability.InstanceKey(instanceKey),
		Kind:           reliability.ChangeAlive,
		Payload:        payload,
	}
	if !w.cache.Append(change) {
		return 0, ErrResourceLimitsExceeded
	}
	if w.persist != nil {
		if err := w.persist.Append(seq, instanceKey, reliability.ChangeAlive, payload); err != nil {
			w.log.Warnf("persisting sample %d: %v", seq, err)
		}
	}

	w.broadcastData(seq, payload)
	return seq, nil
}

// Dispose marks instanceKey as disposed, the same broadcast path as
// Write but with ChangeDisposed recorded in the HistoryCache.
func (w *DataWriter) Dispose(instanceKey string) (seqnum.SequenceNumber, error) {
	w.mu.Lock()
	seq := w.nextSeq
	w.nextSeq++
	w.mu.Unlock()

	change := &reliability.Change{
		SequenceNumber: seq,
		Instance:       reliability.InstanceKey(instanceKey),
		Kind:           reliability.ChangeDisposed,
	}
	if !w.cache.Append(change) {
		return 0, ErrResourceLimitsExceeded
	}
	if w.persist != nil {
		if err := w.persist.Append(seq, instanceKey, reliability.ChangeDisposed, nil); err != nil {
			w.log.Warnf("persisting dispose %d: %v", seq, err)
		}
	}
	w.broadcastData(seq, nil)
	return seq, nil
}

func (w *DataWriter) broadcastData(seq seqnum.SequenceNumber, payload []byte) {
	for _, proxy := range w.matched.All() {
		w.sendDataTo(proxy.ReaderGUID, seq, payload)
	}
}

func (w *DataWriter) sendDataTo(reader guid.GUID, seq seqnum.SequenceNumber, payload []byte) {
	w.mu.Lock()
	locs := w.readerLocators[reader]
	w.mu.Unlock()
	dst, ok := bestOf(locs, w.participant.allowQUIC, w.participant.spdpLocator)
	if !ok {
		return
	}

	if len(payload) > reliability.FragmentSizeThreshold {
		w.sendDataFragTo(dst, reader, seq, payload)
		return
	}

	sm := rtps.EncodeData(rtps.DataBody{
		ReaderID: reader.Entity,
		WriterID: w.GUID.Entity,
		WriterSN: seq,
		Payload:  payload,
	})
	msg := rtps.EncodeMessage(rtps.Header{GUIDPrefix: w.GUID.Prefix}, []rtps.RawSubmessage{sm})
	if err := w.participant.mux.SendVia(context.Background(), dst, msg); err != nil {
		w.log.Debugf("sending DATA to %s: %v", dst, err)
	}
}

// sendDataFragTo splits payload into reliability.FragmentPayloadSize
// chunks and sends one DATA_FRAG submessage per chunk, per distilled
// spec §5.4's fragmentation threshold.
func (w *DataWriter) sendDataFragTo(dst locator.Locator, reader guid.GUID, seq seqnum.SequenceNumber, payload []byte) {
	const chunk = reliability.FragmentPayloadSize
	total := uint32(len(payload))
	for start, index := 0, uint32(1); start < len(payload); start, index = start+chunk, index+1 {
		end := start + chunk
		if end > len(payload) {
			end = len(payload)
		}
		sm := rtps.EncodeDataFrag(rtps.DataFragBody{
			ReaderID:            reader.Entity,
			WriterID:            w.GUID.Entity,
			WriterSN:            seq,
			FragmentStartingNum: index,
			FragmentSize:        chunk,
			SampleSize:          total,
			Fragment:            payload[start:end],
		})
		msg := rtps.EncodeMessage(rtps.Header{GUIDPrefix: w.GUID.Prefix}, []rtps.RawSubmessage{sm})
		if err := w.participant.mux.SendVia(context.Background(), dst, msg); err != nil {
			w.log.Debugf("sending DATA_FRAG to %s: %v", dst, err)
		}
	}
}

func bestOf(candidates []locator.Locator, allowQUIC bool, fallback locator.Locator) (locator.Locator, bool) {
	if dst, ok := transport.BestLocator(candidates, allowQUIC); ok {
		return dst, true
	}
	if fallback.Kind != locator.KindInvalid {
		return fallback, true
	}
	return locator.Locator{}, false
}

// readersFromPrefix returns every currently matched reader GUID belonging
// to prefix, for tearing down all matches on that participant's discovery
// lease expiry.
func (w *DataWriter) readersFromPrefix(prefix guid.Prefix) []guid.GUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []guid.GUID
	for g := range w.readerLocators {
		if g.Prefix == prefix {
			out = append(out, g)
		}
	}
	return out
}

// matchReader registers info as a newly matched reader: it records the
// reader's locators for direct sends and, for a Reliable writer, creates
// its ReliableWriterProxy. Safe to call repeatedly for an already-matched
// reader, e.g. on every periodic SEDP re-announce.
func (w *DataWriter) matchReader(info discovery.EndpointInfo) {
	w.mu.Lock()
	_, already := w.readerLocators[info.GUID]
	w.readerLocators[info.GUID] = append(info.UnicastLocators, info.MulticastLocators...)
	w.mu.Unlock()

	if w.qos.Reliability == qos.Reliable {
		w.matched.Add(info.GUID)
	}
	if !already {
		w.participant.countMetric(func(r *metrics.Registry) { r.MatchedEndpoints.WithLabelValues("writer").Inc() })
	}
	w.notifyListener()
}

// unmatchReader removes reader from this writer's matched set, e.g. when
// its owning participant's discovery lease expires.
func (w *DataWriter) unmatchReader(reader guid.GUID) {
	w.mu.Lock()
	_, was := w.readerLocators[reader]
	delete(w.readerLocators, reader)
	w.mu.Unlock()

	w.matched.Remove(reader)
	if was {
		w.participant.countMetric(func(r *metrics.Registry) { r.MatchedEndpoints.WithLabelValues("writer").Dec() })
	}
	// A removed reader can no longer hold samples back from eviction;
	// recompute in case it was the slowest matched reader.
	w.recomputeAckedUpTo()
}

// recomputeAckedUpTo advances the HistoryCache's eviction watermark to
// the minimum MinUnacked-1 across every currently matched reader's
// proxy, so a fast reader's ACKNACK can never let a sample be evicted
// out from under a slower matched reader that hasn't acknowledged it
// yet. With no matched Reliable readers, nothing holds eviction back.
func (w *DataWriter) recomputeAckedUpTo() {
	proxies := w.matched.All()
	if len(proxies) == 0 {
		w.cache.AckUpTo(w.cache.HighestSequence())
		return
	}
	min := proxies[0].MinUnacked() - 1
	for _, p := range proxies[1:] {
		if u := p.MinUnacked() - 1; u < min {
			min = u
		}
	}
	w.cache.AckUpTo(min)
}

// handleAckNack applies a received ACKNACK to the matched reader's proxy
// and resends (or GAPs) whatever it is still missing.
func (w *DataWriter) handleAckNack(reader guid.GUID, body rtps.AckNackBody) {
	proxy, ok := w.matched.Get(reader)
	if !ok {
		proxy = w.matched.Add(reader)
	}
	countBase := seqnum.First
	if len(body.Missing) > 0 {
		countBase = body.Missing[0]
	} else {
		countBase = w.cache.HighestSequence() + 1
	}
	proxy.OnAckNack(body.Final, body.Missing, countBase)
	w.recomputeAckedUpTo()

	plan := proxy.RespondToNack(w.cache)
	for _, ch := range plan.Resend {
		w.sendDataTo(reader, ch.Change.SequenceNumber, ch.Change.Payload)
		w.participant.countMetric(func(r *metrics.Registry) { r.Retransmissions.Inc() })
	}
	if len(plan.Gaps) > 0 {
		var gaps []seqnum.SequenceNumber
		for _, g := range plan.Gaps {
			for s := g.From; s <= g.To; s++ {
				gaps = append(gaps, s)
			}
		}
		w.sendGapTo(reader, gaps)
	}
	proxy.OnRepairSent()
	w.notifyListener()
}

func (w *DataWriter) sendGapTo(reader guid.GUID, gaps []seqnum.SequenceNumber) {
	w.mu.Lock()
	locs := w.readerLocators[reader]
	w.mu.Unlock()
	dst, ok := bestOf(locs, w.participant.allowQUIC, w.participant.spdpLocator)
	if !ok {
		return
	}
	sm := rtps.EncodeGap(rtps.GapBody{ReaderID: reader.Entity, WriterID: w.GUID.Entity, GapStart: gaps[0], GapList: gaps})
	msg := rtps.EncodeMessage(rtps.Header{GUIDPrefix: w.GUID.Prefix}, []rtps.RawSubmessage{sm})
	if err := w.participant.mux.SendVia(context.Background(), dst, msg); err != nil {
		w.log.Debugf("sending GAP to %s: %v", dst, err)
		return
	}
	w.participant.countMetric(func(r *metrics.Registry) { r.GapsSent.Inc() })
}

func (w *DataWriter) heartbeatLoop() {
	defer w.Done()
	timer := time.NewTimer(DataWriterHeartbeatPeriod)
	defer timer.Stop()
	var count uint32

	for {
		select {
		case <-w.HaltCh():
			return
		case <-timer.C:
		}

		count++
		first := w.cache.MinUnacked()
		last := w.cache.HighestSequence()
		if last >= first {
			for _, proxy := range w.matched.All() {
				proxy.OnHeartbeatSent(time.Now())
				sm := rtps.EncodeHeartbeat(rtps.HeartbeatBody{
					ReaderID: proxy.ReaderGUID.Entity,
					WriterID: w.GUID.Entity,
					FirstSN:  first,
					LastSN:   last,
					Count:    count,
				})
				msg := rtps.EncodeMessage(rtps.Header{GUIDPrefix: w.GUID.Prefix}, []rtps.RawSubmessage{sm})
				w.mu.Lock()
				locs := w.readerLocators[proxy.ReaderGUID]
				w.mu.Unlock()
				dst, ok := bestOf(locs, w.participant.allowQUIC, w.participant.spdpLocator)
				if !ok {
					continue
				}
				if err := w.participant.mux.SendVia(context.Background(), dst, msg); err != nil {
					w.log.Debugf("sending HEARTBEAT to %s: %v", dst, err)
					continue
				}
				w.participant.countMetric(func(r *metrics.Registry) { r.HeartbeatsSent.Inc() })
			}
		}

		timer.Reset(jitterHeartbeatPeriod(DataWriterHeartbeatPeriod))
	}
}

// jitterHeartbeatPeriod applies endpoint.HeartbeatJitterFraction's ±20%
// uniform spread to period, the same anti-synchronization idiom
// ReliableWriterProxy.JitteredHeartbeatPeriod applies per matched reader.
func jitterHeartbeatPeriod(period time.Duration) time.Duration {
	delta := float64(period) * endpoint.HeartbeatJitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return period + time.Duration(offset)
}

// endpointInfo builds the SEDP EndpointInfo this DataWriter announces.
func (w *DataWriter) endpointInfo() discovery.EndpointInfo {
	return discovery.EndpointInfo{
		GUID:              w.GUID,
		Kind:              discovery.EndpointWriter,
		TopicName:         w.topic.Name,
		TypeName:          w.topic.TypeName(),
		Type:              w.topic.Type,
		QoS:               w.qos,
		UnicastLocators:   w.participant.locators(),
		MulticastLocators: nil,
	}
}
