// Package transport implements the send/receive multiplexer over RTPS's
// wire-level carriers: UDP multicast (discovery), UDP unicast (steady-state
// user traffic), TCP (reconnecting, for NAT'd/firewalled peers), and an
// optional QUIC carrier for interop between instances of this
// implementation. Locator preference and carrier selection live in mux.go;
// each carrier's own connection lifecycle lives in its own file.
package transport

import (
	"context"
	"errors"

	"github.com/ddsgo/rdds/core/locator"
)

// ErrClosed is returned by Send/Recv once a Carrier has been closed.
var ErrClosed = errors.New("transport: carrier closed")

// Packet is one received datagram or framed message together with the
// locator it arrived from, handed up to the receive-side demultiplexer
// which dispatches into RTPS message parsing.
type Packet struct {
	Data []byte
	From locator.Locator

	// Release returns Data's backing buffer to its carrier's slab pool,
	// if it came from one. Callers that retain Data past the handling
	// of one receive loop iteration must not call it; nil for carriers
	// that don't pool.
	Release func()
}

// StatusChange describes a carrier's connectivity transition, mirroring
// the teacher's OnConnFn(err error) callback shape: nil means connected,
// non-nil carries the reason for the preceding disconnect.
type StatusChange struct {
	Locator locator.Locator
	Err     error
}

// Carrier is the common interface every concrete transport (UDP, TCP,
// QUIC) implements. SendTo is fire-and-forget from the caller's
// perspective; delivery guarantees belong to the RTPS reliability layer
// above this package, not to the carrier.
type Carrier interface {
	// Kind identifies which locator.Kind this carrier serves.
	Kind() locator.Kind

	// SendTo queues data for delivery to dst. Returns ErrClosed if the
	// carrier has been shut down.
	SendTo(ctx context.Context, dst locator.Locator, data []byte) error

	// Recv returns the channel of inbound packets. It is closed when the
	// carrier is closed.
	Recv() <-chan Packet

	// StatusCh returns the channel of connectivity transitions. Carriers
	// with no connection concept (plain UDP) may never send on it.
	StatusCh() <-chan StatusChange

	// LocalLocators reports the locator(s) this carrier is reachable at,
	// for inclusion in SPDP/SEDP announcements.
	LocalLocators() []locator.Locator

	// Close tears down the carrier and unblocks any pending Recv/SendTo.
	Close() error
}
