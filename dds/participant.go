package dds

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logpkg "github.com/charmbracelet/log"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/locator"
	"github.com/ddsgo/rdds/discovery"
	"github.com/ddsgo/rdds/internal/worker"
	"github.com/ddsgo/rdds/metrics"
	"github.com/ddsgo/rdds/persistence"
	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/transport"
	"github.com/ddsgo/rdds/wire/rtps"
	"github.com/ddsgo/rdds/xtypes"
)

// SPDPAnnouncePeriod is the default period between this participant's SPDP
// announcements, before jitter.
const SPDPAnnouncePeriod = 3 * time.Second

// ParticipantLeaseDuration is the default SPDP lease advertised to peers.
const ParticipantLeaseDuration = 10 * time.Second

// participantSweepInterval is how often a DomainParticipant checks for
// expired remote participant leases.
const participantSweepInterval = 1 * time.Second

const (
	userWriterEntityKind byte = 0x02
	userReaderEntityKind byte = 0x07
)

// DomainParticipant is the root client-facing entity: it owns this
// process's participant GUID, the discovery mesh view, the transport
// multiplexer, and every Publisher/Subscriber/DataWriter/DataReader
// created under it. Its background loops (SPDP announce, lease sweep,
// RTPS Message receive/dispatch) are worker.Worker goroutines, the same
// halt/wait shape every other background loop in this module uses.
type DomainParticipant struct {
	worker.Worker

	log *logpkg.Logger

	DomainID uint32
	GUID     guid.GUID

	mux         *transport.Multiplexer
	spdpLocator locator.Locator
	allowQUIC   bool

	participants *discovery.ParticipantDB
	topics       *discovery.TopicRegistry
	announcer    *discovery.Announcer

	defaultQoS qos.Policies

	persistDir   string
	persistIndex *persistence.Index

	metrics *metrics.Registry

	mu          sync.Mutex
	publishers  []*Publisher
	subscribers []*Subscriber
	writers     map[guid.EntityID]*DataWriter
	readers     map[guid.EntityID]*DataReader
	known       map[guid.Prefix]struct{}
	nextEntity  uint32
}

// NewDomainParticipant builds a DomainParticipant addressing domainID,
// sending and receiving over mux, with spdpLocator as the well-known SPDP
// multicast destination. allowQUIC enables preferring KindQUIC locators
// when sending to peers also running this implementation.
func NewDomainParticipant(domainID uint32, mux *transport.Multiplexer, spdpLocator locator.Locator, allowQUIC bool) (*DomainParticipant, error) {
	var prefix guid.Prefix
	if _, err := rand.Read(prefix[:]); err != nil {
		return nil, fmt.Errorf("dds: generating participant guid prefix: %w", err)
	}

	p := &DomainParticipant{
		log: logpkg.NewWithOptions(os.Stderr, logpkg.Options{
			ReportTimestamp: true,
			Prefix:          "dds/participant",
		}),
		DomainID:    domainID,
		GUID:        guid.New(prefix, guid.EntityIDParticipant),
		mux:         mux,
		spdpLocator: spdpLocator,
		allowQUIC:   allowQUIC,
		topics:      discovery.NewTopicRegistry(),
		defaultQoS:  qos.Default(),
		writers:     make(map[guid.EntityID]*DataWriter),
		readers:     make(map[guid.EntityID]*DataReader),
		known:       make(map[guid.Prefix]struct{}),
	}
	p.participants = discovery.NewParticipantDB(p.onParticipantLost)
	p.announcer = discovery.NewAnnouncer(SPDPAnnouncePeriod, p.buildSPDPPayload, spdpTransmitter{p})
	return p, nil
}

// Start begins the participant's background loops: SPDP announcement,
// lease sweeping, and RTPS Message receive/dispatch.
func (p *DomainParticipant) Start() {
	p.announcer.Start()
	p.Go(p.sweepLoop)
	p.Go(p.recvLoop)
}

// Close tears down every background loop and the underlying transport.
func (p *DomainParticipant) Close() error {
	p.announcer.Stop()
	p.announcer.Wait()
	p.Halt()
	p.Wait()
	p.mu.Lock()
	var loops []*worker.Worker
	var dispatches []*listenerDispatch
	for _, w := range p.writers {
		loops, dispatches = append(loops, &w.Worker), append(dispatches, w.dispatch)
	}
	for _, r := range p.readers {
		loops, dispatches = append(loops, &r.Worker), append(dispatches, r.dispatch)
	}
	p.mu.Unlock()
	for i, l := range loops {
		l.Halt()
		l.Wait()
		dispatches[i].Close()
	}
	if p.persistIndex != nil {
		if err := p.persistIndex.Close(); err != nil {
			p.log.Warnf("closing persistence index: %v", err)
		}
	}
	return p.mux.Close()
}

// EnablePersistence opens a bbolt-backed segment index under dir and
// directs every subsequently created Durability>=TRANSIENT_LOCAL
// DataWriter to keep a segmented append-only log beneath it, replaying
// its unacked tail back into its HistoryCache at construction time.
func (p *DomainParticipant) EnablePersistence(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("dds: creating persistence dir %s: %w", dir, err)
	}
	index, err := persistence.OpenIndex(filepath.Join(dir, "index.bbolt"))
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.persistDir = dir
	p.persistIndex = index
	p.mu.Unlock()
	return nil
}

// EnableMetrics directs this participant to record protocol traffic and
// parse-failure counts into reg. reg is not registered against any
// prometheus.Registerer by this call; the caller owns that (typically
// via reg.MustRegister against its own or the default registry).
func (p *DomainParticipant) EnableMetrics(reg *metrics.Registry) {
	p.mu.Lock()
	p.metrics = reg
	p.mu.Unlock()
}

// openWriterLog opens writer's segmented log beneath the participant's
// persistence directory, or reports ok=false if EnablePersistence was
// never called.
func (p *DomainParticipant) openWriterLog(writer guid.GUID) (*persistence.Log, bool, error) {
	p.mu.Lock()
	dir, index := p.persistDir, p.persistIndex
	p.mu.Unlock()
	if index == nil {
		return nil, false, nil
	}
	l, err := persistence.Open(filepath.Join(dir, writer.String()), writer, index, nil)
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

// CreatePublisher builds a Publisher scoped to this participant with the
// given default QoS for DataWriters it creates.
func (p *DomainParticipant) CreatePublisher(q qos.Policies) *Publisher {
	pub := &Publisher{participant: p, qos: q}
	p.mu.Lock()
	p.publishers = append(p.publishers, pub)
	p.mu.Unlock()
	return pub
}

// CreateSubscriber builds a Subscriber scoped to this participant.
func (p *DomainParticipant) CreateSubscriber(q qos.Policies) *Subscriber {
	sub := &Subscriber{participant: p, qos: q}
	p.mu.Lock()
	p.subscribers = append(p.subscribers, sub)
	p.mu.Unlock()
	return sub
}

// CreateTopic declares a Topic this participant's Publishers/Subscribers
// can bind DataWriters/DataReaders to.
func (p *DomainParticipant) CreateTopic(name string, typ xtypes.TypeObject, q qos.Policies) *Topic {
	return &Topic{participant: p, Name: name, Type: typ, QoS: q}
}

func (p *DomainParticipant) allocateEntityID(kind byte) guid.EntityID {
	p.mu.Lock()
	idx := p.nextEntity
	p.nextEntity++
	p.mu.Unlock()
	return guid.EntityID{byte(idx >> 16), byte(idx >> 8), byte(idx), kind}
}

func (p *DomainParticipant) registerWriter(w *DataWriter) {
	p.mu.Lock()
	p.writers[w.GUID.Entity] = w
	p.mu.Unlock()
}

func (p *DomainParticipant) registerReader(r *DataReader) {
	p.mu.Lock()
	p.readers[r.GUID.Entity] = r
	p.mu.Unlock()
}

// locators returns the unicast locators this participant advertises for
// its own endpoints, i.e. every locator its Multiplexer's carriers expose.
func (p *DomainParticipant) locators() []locator.Locator {
	return p.mux.LocalLocators()
}

// --- SPDP ---

type spdpTransmitter struct{ p *DomainParticipant }

func (t spdpTransmitter) SendSPDP(payload []byte) error {
	sm := rtps.EncodeData(rtps.DataBody{
		ReaderID: guid.EntityIDSPDPBuiltinReader,
		WriterID: guid.EntityIDSPDPBuiltinWriter,
		WriterSN: 1,
		Payload:  payload,
	})
	msg := rtps.EncodeMessage(rtps.Header{GUIDPrefix: t.p.GUID.Prefix}, []rtps.RawSubmessage{sm})
	return t.p.mux.SendVia(context.Background(), t.p.spdpLocator, msg)
}

func (p *DomainParticipant) buildSPDPPayload() []byte {
	payload, err := discovery.EncodeParticipantData(discovery.ParticipantData{
		GUID:                   p.GUID,
		ProtocolVersion:        rtps.ProtocolVersion,
		VendorID:               discovery.VendorID,
		DefaultUnicastLocators: p.locators(),
		LeaseDuration:          qos.Finite(ParticipantLeaseDuration),
	})
	if err != nil {
		p.log.Warnf("failed to encode SPDP payload: %v", err)
		return nil
	}
	return payload
}

func (p *DomainParticipant) onParticipantLost(prefix guid.Prefix) {
	p.log.Infof("participant %s lease expired", prefix)
	p.topics.ForgetParticipant(prefix)

	p.mu.Lock()
	writers := make([]*DataWriter, 0, len(p.writers))
	for _, w := range p.writers {
		writers = append(writers, w)
	}
	readers := make([]*DataReader, 0, len(p.readers))
	for _, r := range p.readers {
		readers = append(readers, r)
	}
	delete(p.known, prefix)
	p.mu.Unlock()

	for _, w := range writers {
		for _, g := range w.readersFromPrefix(prefix) {
			w.unmatchReader(g)
		}
	}
	for _, r := range readers {
		for _, g := range r.writersFromPrefix(prefix) {
			r.unmatchWriter(g)
		}
	}
}

func (p *DomainParticipant) sweepLoop() {
	defer p.Done()
	t := time.NewTicker(participantSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-p.HaltCh():
			return
		case now := <-t.C:
			p.participants.Sweep(now)
		}
	}
}

// announceToNewPeer re-sends every locally owned writer's/reader's SEDP
// announcement directly to a newly discovered participant, the
// catch-up step a late joiner otherwise only gets on the announcer's own
// periodic jittered schedule.
func (p *DomainParticipant) announceToNewPeer(info discovery.ParticipantInfo) {
	p.mu.Lock()
	writers := make([]*DataWriter, 0, len(p.writers))
	for _, w := range p.writers {
		writers = append(writers, w)
	}
	readers := make([]*DataReader, 0, len(p.readers))
	for _, r := range p.readers {
		readers = append(readers, r)
	}
	p.mu.Unlock()

	dst := info.MetatrafficUnicastLocators
	if len(dst) == 0 {
		dst = info.DefaultUnicastLocators
	}
	if len(dst) == 0 {
		dst = []locator.Locator{p.spdpLocator}
	}
	for _, w := range writers {
		p.sendSEDP(w.endpointInfo(), dst)
	}
	for _, r := range readers {
		p.sendSEDP(r.endpointInfo(), dst)
	}
}

func (p *DomainParticipant) sendSEDP(info discovery.EndpointInfo, dst []locator.Locator) {
	payload, err := discovery.EncodeEndpointData(info)
	if err != nil {
		p.log.Warnf("failed to encode SEDP payload for %s: %v", info.GUID, err)
		return
	}
	writerID := guid.EntityIDSEDPSubWriter
	readerID := guid.EntityIDSEDPSubReader
	if info.Kind == discovery.EndpointWriter {
		writerID = guid.EntityIDSEDPPubWriter
		readerID = guid.EntityIDSEDPPubReader
	}
	sm := rtps.EncodeData(rtps.DataBody{ReaderID: readerID, WriterID: writerID, WriterSN: 1, Payload: payload})
	msg := rtps.EncodeMessage(rtps.Header{GUIDPrefix: p.GUID.Prefix}, []rtps.RawSubmessage{sm})

	dest, ok := transport.BestLocator(dst, p.allowQUIC)
	if !ok {
		return
	}
	if err := p.mux.SendVia(context.Background(), dest, msg); err != nil {
		p.log.Debugf("sending SEDP to %s: %v", dest, err)
	}
}

// --- receive/dispatch ---

func (p *DomainParticipant) recvLoop() {
	defer p.Done()
	ch := p.mux.Recv()
	for {
		select {
		case <-p.HaltCh():
			return
		case pkt, ok := <-ch:
			if !ok {
				return
			}
			p.handlePacket(pkt)
		}
	}
}

func (p *DomainParticipant) handlePacket(pkt transport.Packet) {
	if pkt.Release != nil {
		defer pkt.Release()
	}
	hdr, subs, err := rtps.DecodeMessage(pkt.Data)
	if err != nil {
		p.log.Debugf("dropping malformed RTPS message from %s: %v", pkt.From, err)
		p.countMalformed("rtps")
		return
	}
	if hdr.GUIDPrefix == p.GUID.Prefix {
		return
	}
	for _, sm := range subs {
		p.handleSubmessage(hdr.GUIDPrefix, sm)
	}
	p.flushMatchedReaders()
}

// flushMatchedReaders drains every local reader's TopicMerger once this
// whole RTPS Message has been dispatched, so a Message batching DATA
// submessages from more than one matched writer resolves its cross-writer
// tie-break across the full batch instead of one submessage at a time.
func (p *DomainParticipant) flushMatchedReaders() {
	p.mu.Lock()
	readers := make([]*DataReader, 0, len(p.readers))
	for _, r := range p.readers {
		readers = append(readers, r)
	}
	p.mu.Unlock()
	for _, r := range readers {
		r.flushMerged()
	}
}

func (p *DomainParticipant) handleSubmessage(sender guid.Prefix, sm rtps.RawSubmessage) {
	switch sm.ID {
	case rtps.SubmsgData:
		body, err := rtps.DecodeData(sm)
		if err != nil {
			p.log.Debugf("malformed DATA from %s: %v", sender, err)
			p.countMalformed("data")
			return
		}
		p.handleData(sender, body)
	case rtps.SubmsgDataFrag:
		body, err := rtps.DecodeDataFrag(sm)
		if err != nil {
			p.log.Debugf("malformed DATA_FRAG from %s: %v", sender, err)
			p.countMalformed("data_frag")
			return
		}
		p.handleDataFrag(sender, body)
	case rtps.SubmsgHeartbeat:
		body, err := rtps.DecodeHeartbeat(sm)
		if err != nil {
			p.log.Debugf("malformed HEARTBEAT from %s: %v", sender, err)
			p.countMalformed("heartbeat")
			return
		}
		p.countMetric(func(r *metrics.Registry) { r.HeartbeatsRecv.Inc() })
		p.mu.Lock()
		r, ok := p.readers[body.ReaderID]
		p.mu.Unlock()
		if ok {
			r.handleHeartbeat(guid.New(sender, body.WriterID), body)
		}
	case rtps.SubmsgAckNack:
		body, err := rtps.DecodeAckNack(sm)
		if err != nil {
			p.log.Debugf("malformed ACKNACK from %s: %v", sender, err)
			p.countMalformed("acknack")
			return
		}
		p.countMetric(func(r *metrics.Registry) { r.AckNacksRecv.Inc() })
		p.mu.Lock()
		w, ok := p.writers[body.WriterID]
		p.mu.Unlock()
		if ok {
			w.handleAckNack(guid.New(sender, body.ReaderID), body)
		}
	case rtps.SubmsgGap:
		body, err := rtps.DecodeGap(sm)
		if err != nil {
			p.log.Debugf("malformed GAP from %s: %v", sender, err)
			p.countMalformed("gap")
			return
		}
		p.countMetric(func(r *metrics.Registry) { r.GapsRecv.Inc() })
		p.mu.Lock()
		r, ok := p.readers[body.ReaderID]
		p.mu.Unlock()
		if ok {
			r.handleGap(guid.New(sender, body.WriterID), body)
		}
	}
}

// countMalformed increments MalformedMessages for kind, if metrics are
// enabled.
func (p *DomainParticipant) countMalformed(kind string) {
	p.countMetric(func(r *metrics.Registry) { r.MalformedMessages.WithLabelValues(kind).Inc() })
}

// countMetric applies fn to this participant's metrics registry, if
// EnableMetrics was called; a no-op otherwise.
func (p *DomainParticipant) countMetric(fn func(*metrics.Registry)) {
	p.mu.Lock()
	r := p.metrics
	p.mu.Unlock()
	if r != nil {
		fn(r)
	}
}

func (p *DomainParticipant) handleData(sender guid.Prefix, body rtps.DataBody) {
	switch body.WriterID {
	case guid.EntityIDSPDPBuiltinWriter:
		p.handleSPDP(body.Payload)
		return
	case guid.EntityIDSEDPPubWriter:
		p.handleSEDP(body.Payload, discovery.EndpointWriter)
		return
	case guid.EntityIDSEDPSubWriter:
		p.handleSEDP(body.Payload, discovery.EndpointReader)
		return
	}

	p.mu.Lock()
	r, ok := p.readers[body.ReaderID]
	p.mu.Unlock()
	if !ok {
		return
	}
	r.handleData(guid.New(sender, body.WriterID), body)
}

func (p *DomainParticipant) handleDataFrag(sender guid.Prefix, body rtps.DataFragBody) {
	p.mu.Lock()
	r, ok := p.readers[body.ReaderID]
	p.mu.Unlock()
	if !ok {
		return
	}
	r.handleDataFrag(guid.New(sender, body.WriterID), body)
}

func (p *DomainParticipant) handleSPDP(payload []byte) {
	pd, err := discovery.DecodeParticipantData(payload)
	if err != nil {
		p.log.Debugf("malformed SPDP payload: %v", err)
		p.countMalformed("spdp")
		return
	}
	if pd.GUID.Prefix == p.GUID.Prefix {
		return
	}

	p.mu.Lock()
	_, alreadyKnown := p.known[pd.GUID.Prefix]
	p.known[pd.GUID.Prefix] = struct{}{}
	p.mu.Unlock()

	info := discovery.ParticipantInfo{
		GUIDPrefix:                   pd.GUID.Prefix,
		VendorID:                     pd.VendorID,
		MetatrafficUnicastLocators:   pd.MetatrafficUnicastLocators,
		MetatrafficMulticastLocators: pd.MetatrafficMulticastLocators,
		DefaultUnicastLocators:       pd.DefaultUnicastLocators,
		LeaseDuration:                pd.LeaseDuration,
		UserData:                     pd.UserData,
	}
	p.participants.Observe(info)

	if !alreadyKnown {
		p.announceToNewPeer(info)
	}
}

func (p *DomainParticipant) handleSEDP(payload []byte, kind discovery.EndpointKind) {
	info, err := discovery.DecodeEndpointData(payload, kind)
	if err != nil {
		p.log.Debugf("malformed SEDP payload: %v", err)
		p.countMalformed("sedp")
		return
	}
	p.topics.Observe(info)
	p.matchAll(info)
}

func (p *DomainParticipant) matchAll(info discovery.EndpointInfo) {
	p.mu.Lock()
	writers := make([]*DataWriter, 0, len(p.writers))
	for _, w := range p.writers {
		writers = append(writers, w)
	}
	readers := make([]*DataReader, 0, len(p.readers))
	for _, r := range p.readers {
		readers = append(readers, r)
	}
	p.mu.Unlock()

	if info.Kind == discovery.EndpointReader {
		for _, w := range writers {
			if w.topic.Name != info.TopicName {
				continue
			}
			res := discovery.Match(w.topic.Name, w.topic.Type, w.qos, info)
			if res.Status == discovery.MatchOK {
				w.matchReader(info)
			} else {
				p.log.Debugf("writer %s: not matching reader %s on %q (%v)", w.GUID, info.GUID, info.TopicName, res.Status)
			}
		}
		return
	}
	for _, r := range readers {
		if r.topic.Name != info.TopicName {
			continue
		}
		res := discovery.MatchReader(r.topic.Name, r.topic.Type, r.qos, info)
		if res.Status == discovery.MatchOK {
			r.matchWriter(info)
		} else {
			p.log.Debugf("reader %s: not matching writer %s on %q (%v)", r.GUID, info.GUID, info.TopicName, res.Status)
		}
	}
}
