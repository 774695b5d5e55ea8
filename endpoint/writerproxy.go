// Package endpoint implements the per-matched-endpoint reliability sub
// state machines of distilled spec §4.3: a ReliableWriterProxy tracking
// one matched reader's acknowledgment progress, a reader-side NACK
// scheduler tracking one matched writer's gap state, and the registries
// that hold a DataWriter's/DataReader's full set of matches.
package endpoint

import (
	"math/rand"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/seqnum"
	"github.com/ddsgo/rdds/reliability"
)

var proxyLog = logging.MustGetLogger("endpoint/writerproxy")

// WriterProxyState is a matched reader's reliability sub-state as seen
// from the writer side, per distilled spec §4.3's transition table.
type WriterProxyState int

const (
	ProxyInitial WriterProxyState = iota
	ProxyAnnouncing
	ProxySteady
	ProxyRepairing
	ProxyAcked
)

func (s WriterProxyState) String() string {
	switch s {
	case ProxyInitial:
		return "Initial"
	case ProxyAnnouncing:
		return "Announcing"
	case ProxySteady:
		return "Steady"
	case ProxyRepairing:
		return "Repairing"
	case ProxyAcked:
		return "Acked"
	default:
		return "Unknown"
	}
}

// HeartbeatJitterFraction is the ±20% uniform jitter applied to a
// writer's HEARTBEAT period, per distilled spec §4.3 ("avoid synchronized
// NACK storms").
const HeartbeatJitterFraction = 0.20

// RoundTripSlop pads the expected round-trip delay before concluding a
// HEARTBEAT went unanswered, the same "don't trust the raw RTT, add
// slop" idiom client2/arq.go's RoundTripTimeSlop applies to SURB replies.
const RoundTripSlop = 500 * time.Millisecond

// ReliableWriterProxy is one matched reader's reliability state as
// tracked by a Reliable writer: what it has acknowledged, what it is
// missing, and the HEARTBEAT/repair cycle's current phase. This
// generalizes client2/arq.go's ARQ (one retransmit map keyed by SURB ID)
// to one retransmit relationship keyed by (writer, matched reader),
// answering NACKs against the writer's own HistoryCache instead of
// resending a fixed ciphertext blob.
type ReliableWriterProxy struct {
	mu sync.Mutex

	ReaderGUID guid.GUID
	state      WriterProxyState

	minUnacked seqnum.SequenceNumber
	missing    map[seqnum.SequenceNumber]struct{}

	lastHeartbeatSent time.Time
	heartbeatCount    uint32

	rng *rand.Rand
}

// NewReliableWriterProxy builds a proxy in the Initial state.
func NewReliableWriterProxy(reader guid.GUID) *ReliableWriterProxy {
	return &ReliableWriterProxy{
		ReaderGUID: reader,
		state:      ProxyInitial,
		minUnacked: seqnum.First,
		missing:    make(map[seqnum.SequenceNumber]struct{}),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// State returns the proxy's current sub-state.
func (p *ReliableWriterProxy) State() WriterProxyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OnHeartbeatSent transitions Initial/Steady into Announcing (or stays
// Announcing) and records when the HEARTBEAT was sent and how many have
// been sent so far.
func (p *ReliableWriterProxy) OnHeartbeatSent(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ProxyInitial || p.state == ProxySteady {
		p.state = ProxyAnnouncing
	}
	p.lastHeartbeatSent = now
	p.heartbeatCount++
}

// JitteredHeartbeatPeriod applies HeartbeatJitterFraction to period.
func (p *ReliableWriterProxy) JitteredHeartbeatPeriod(period time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	delta := float64(period) * HeartbeatJitterFraction
	offset := (p.rng.Float64()*2 - 1) * delta
	return period + time.Duration(offset)
}

// OnAckNack applies a received ACKNACK per distilled spec §4.3's
// transition table: final=0 with a non-empty missing set moves
// Announcing/Steady into Repairing; final=1 with an empty missing set
// moves the proxy into Acked from any state and advances min_unacked.
func (p *ReliableWriterProxy) OnAckNack(final bool, missing []seqnum.SequenceNumber, countBase seqnum.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.missing = make(map[seqnum.SequenceNumber]struct{}, len(missing))
	for _, m := range missing {
		p.missing[m] = struct{}{}
	}

	prev := p.state
	switch {
	case len(missing) > 0:
		if p.state == ProxyAnnouncing || p.state == ProxySteady {
			p.state = ProxyRepairing
		}
	case final:
		if countBase > p.minUnacked {
			p.minUnacked = countBase
		}
		p.state = ProxyAcked
	default:
		p.state = ProxySteady
	}
	if p.state != prev {
		proxyLog.Debugf("reader %s: %s -> %s (missing=%d)", p.ReaderGUID, prev, p.state, len(missing))
	}
}

// OnRepairSent marks that every requested sample has been resent (or
// GAP'd) with nothing else outstanding, moving Repairing back to Steady.
func (p *ReliableWriterProxy) OnRepairSent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ProxyRepairing && len(p.missing) == 0 {
		p.state = ProxySteady
	}
}

// MinUnacked returns the lowest sequence number this reader has not yet
// acknowledged; everything below it is acknowledged.
func (p *ReliableWriterProxy) MinUnacked() seqnum.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minUnacked
}

// MissingSorted returns the currently outstanding missing sequence
// numbers the reader has NACK'd, in ascending order.
func (p *ReliableWriterProxy) MissingSorted() []seqnum.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]seqnum.SequenceNumber, 0, len(p.missing))
	for s := range p.missing {
		out = append(out, s)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// RespondToNack computes the resend-or-gap plan for this proxy's current
// missing set against cache, delegating to reliability.PlanRetransmission.
func (p *ReliableWriterProxy) RespondToNack(cache *reliability.HistoryCache) reliability.ResendPlan {
	return reliability.PlanRetransmission(cache, p.MissingSorted())
}
