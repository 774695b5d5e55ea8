package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ddsgo/rdds/core/locator"
	"github.com/ddsgo/rdds/internal/worker"
)

// kindPreference ranks locator kinds from least to most preferred, per
// the distilled spec's "prefer SHM, then unicast UDP, then multicast UDP,
// then TCP, with QUIC opt-in only between instances of this
// implementation" ordering.
var kindPreference = map[locator.Kind]int{
	locator.KindQUIC:  1,
	locator.KindTCPv4: 2,
	locator.KindTCPv6: 2,
	locator.KindUDPv6: 4,
	locator.KindUDPv4: 4,
	locator.KindSHM:   5,
}

// BestLocator picks the most preferred reachable locator out of
// candidates given the set of enabled carrier kinds, breaking ties in
// favor of unicast over multicast. allowQUIC gates KindQUIC, since it is
// only safe to prefer when the peer is known to run this implementation.
func BestLocator(candidates []locator.Locator, allowQUIC bool) (locator.Locator, bool) {
	best := locator.Locator{}
	bestScore := -1
	found := false
	for _, l := range candidates {
		if l.Kind == locator.KindQUIC && !allowQUIC {
			continue
		}
		score, ok := kindPreference[l.Kind]
		if !ok {
			continue
		}
		if l.IsMulticast() {
			score--
		}
		if score > bestScore {
			bestScore = score
			best = l
			found = true
		}
	}
	return best, found
}

// Multiplexer fans inbound packets from every registered Carrier into a
// single channel and dispatches outbound sends to whichever carrier
// matches the destination locator's kind, the same "one receive loop per
// carrier, funnel into shared channels" shape client2/connection.go's
// connectWorker/onWireConn pair uses for a single carrier, generalized
// here to many concurrent carriers.
type Multiplexer struct {
	worker.Worker

	mu       sync.RWMutex
	carriers map[locator.Kind]Carrier

	recvCh chan Packet
	status chan StatusChange
}

// NewMultiplexer builds an empty Multiplexer; carriers are attached via
// Register.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		carriers: make(map[locator.Kind]Carrier),
		recvCh:   make(chan Packet, 256),
		status:   make(chan StatusChange, 16),
	}
}

// Register attaches carrier and starts forwarding its Recv/StatusCh into
// the multiplexer's shared channels.
func (m *Multiplexer) Register(carrier Carrier) {
	m.mu.Lock()
	m.carriers[carrier.Kind()] = carrier
	m.mu.Unlock()

	m.Go(func() { m.pump(carrier) })
}

func (m *Multiplexer) pump(carrier Carrier) {
	defer m.Done()
	recv := carrier.Recv()
	status := carrier.StatusCh()
	for recv != nil || status != nil {
		select {
		case pkt, ok := <-recv:
			if !ok {
				recv = nil
				continue
			}
			select {
			case m.recvCh <- pkt:
			case <-m.HaltCh():
				return
			}
		case sc, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			select {
			case m.status <- sc:
			case <-m.HaltCh():
				return
			}
		case <-m.HaltCh():
			return
		}
	}
}

// SendVia sends data to dst using whichever registered carrier serves
// dst.Kind, or returns an error if no such carrier is registered.
func (m *Multiplexer) SendVia(ctx context.Context, dst locator.Locator, data []byte) error {
	m.mu.RLock()
	carrier, ok := m.carriers[dst.Kind]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no carrier registered for kind %v", dst.Kind)
	}
	return carrier.SendTo(ctx, dst, data)
}

// SendBest picks the best reachable locator among candidates (via
// BestLocator) and sends through its carrier.
func (m *Multiplexer) SendBest(ctx context.Context, candidates []locator.Locator, allowQUIC bool, data []byte) error {
	dst, ok := BestLocator(candidates, allowQUIC)
	if !ok {
		return fmt.Errorf("transport: no reachable locator among %d candidates", len(candidates))
	}
	return m.SendVia(ctx, dst, data)
}

// Recv returns the shared inbound packet channel across all carriers.
func (m *Multiplexer) Recv() <-chan Packet { return m.recvCh }

// StatusCh returns the shared connectivity transition channel.
func (m *Multiplexer) StatusCh() <-chan StatusChange { return m.status }

// LocalLocators aggregates every registered carrier's local locators, for
// inclusion in SPDP announcements.
func (m *Multiplexer) LocalLocators() []locator.Locator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []locator.Locator
	for _, c := range m.carriers {
		out = append(out, c.LocalLocators()...)
	}
	return out
}

// Close halts every registered carrier and drains the pump goroutines.
func (m *Multiplexer) Close() error {
	m.mu.RLock()
	carriers := make([]Carrier, 0, len(m.carriers))
	for _, c := range m.carriers {
		carriers = append(carriers, c)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, c := range carriers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.Halt()
	m.Wait()
	return firstErr
}
