package endpoint

import (
	"sync"
	"time"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/seqnum"
)

// ReaderProxyState is a matched writer's reliability sub-state as seen
// from the reader side, per distilled spec §4.3.
type ReaderProxyState int

const (
	ReaderInitial ReaderProxyState = iota
	ReaderWaitForHB
	ReaderSynchronized
)

// NackCoalescingWindow is how long a reader batches newly-discovered
// gaps before emitting a single ACKNACK, per distilled spec §4.3.
const NackCoalescingWindow = 50 * time.Millisecond

// nackBackoffSchedule is the exponential backoff applied to repeated
// unanswered NACKs (50, 100, 200, 400 ms, capped at the last entry).
var nackBackoffSchedule = []time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
}

// ReliableReaderProxy tracks one matched writer's reliability state as
// seen by a Reliable reader: what has been received, what gaps are
// outstanding, and the NACK coalescing/backoff schedule. The coalescing
// window reuses the same "accumulate, then fire on a timer" shape
// client2/arq.go's resend-on-timeout uses, but triggered on a short
// window instead of an RTT-scaled deadline.
type ReliableReaderProxy struct {
	mu sync.Mutex

	WriterGUID guid.GUID
	state      ReaderProxyState

	receive *seqnum.ReceiveSet

	pendingNack     bool
	coalesceDeadline time.Time
	unansweredCount int
}

// NewReliableReaderProxy builds a proxy in the Initial state.
func NewReliableReaderProxy(writer guid.GUID) *ReliableReaderProxy {
	return &ReliableReaderProxy{
		WriterGUID: writer,
		state:      ReaderInitial,
		receive:    seqnum.NewReceiveSet(),
	}
}

// State returns the proxy's current sub-state.
func (p *ReliableReaderProxy) State() ReaderProxyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OnHeartbeat records receipt of a HEARTBEAT, moving Initial into
// WaitForHB (or onward to Synchronized once the reader's view matches
// what the writer claims to hold).
func (p *ReliableReaderProxy) OnHeartbeat(firstSN, lastSN seqnum.SequenceNumber, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.state
	if p.state == ReaderInitial {
		p.state = ReaderWaitForHB
	}
	if p.receive.HighestContiguous >= lastSN {
		p.state = ReaderSynchronized
	}
	if p.state != prev {
		proxyLog.Debugf("writer %s: %s -> %s (heartbeat %d..%d)", p.WriterGUID, prev, p.state, firstSN, lastSN)
	}
	if missing := p.receive.MissingUpTo(lastSN); len(missing) > 0 {
		p.scheduleNackLocked(now)
	}
}

// OnDataReceived records receipt of seq, advancing the contiguous
// watermark through any now-filled holes.
func (p *ReliableReaderProxy) OnDataReceived(seq seqnum.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receive.Receive(seq)
}

func (p *ReliableReaderProxy) scheduleNackLocked(now time.Time) {
	if !p.pendingNack {
		p.pendingNack = true
		p.coalesceDeadline = now.Add(NackCoalescingWindow)
	}
}

// NackDue reports whether the coalescing window (or backoff interval)
// has elapsed and an ACKNACK should now be emitted.
func (p *ReliableReaderProxy) NackDue(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingNack && !now.Before(p.coalesceDeadline)
}

// EmitNack returns the current (final, missing) ACKNACK payload and
// reschedules the next backoff deadline in case this NACK also goes
// unanswered.
func (p *ReliableReaderProxy) EmitNack(upTo seqnum.SequenceNumber, now time.Time) (final bool, missing []seqnum.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()

	missing = p.receive.MissingUpTo(upTo)
	final = len(missing) == 0

	if final {
		p.pendingNack = false
		p.unansweredCount = 0
	} else {
		backoff := nackBackoffSchedule[len(nackBackoffSchedule)-1]
		if p.unansweredCount < len(nackBackoffSchedule) {
			backoff = nackBackoffSchedule[p.unansweredCount]
		}
		p.unansweredCount++
		p.coalesceDeadline = now.Add(backoff)
	}
	return final, missing
}

// HighestContiguous returns the highest sequence number received with
// no gap below it.
func (p *ReliableReaderProxy) HighestContiguous() seqnum.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receive.HighestContiguous
}
