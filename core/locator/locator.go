// Package locator implements the RTPS Locator tagged union:
// {kind, port, 16-byte address}, covering UDPv4, UDPv6, TCPv4, TCPv6, and a
// shared-memory handle kind that is not on the wire-interop path.
package locator

import (
	"fmt"
	"net"

	"golang.org/x/net/idna"
)

// Kind identifies the transport a Locator addresses.
type Kind int32

const (
	KindInvalid Kind = 0
	KindUDPv4   Kind = 1
	KindUDPv6   Kind = 2
	KindTCPv4   Kind = 4
	KindTCPv6   Kind = 8
	// KindSHM is not part of RTPS v2.4; it is this implementation's local
	// extension for same-host shared-memory locators, never placed on the
	// wire towards a foreign vendor.
	KindSHM Kind = 0x01000000
	// KindQUIC is this implementation's local extension for the optional
	// QUIC transport (SPEC_FULL §4.7); advertised only to peers that are
	// also instances of this implementation.
	KindQUIC Kind = 0x01000001
)

func (k Kind) String() string {
	switch k {
	case KindUDPv4:
		return "udpv4"
	case KindUDPv6:
		return "udpv6"
	case KindTCPv4:
		return "tcpv4"
	case KindTCPv6:
		return "tcpv6"
	case KindSHM:
		return "shm"
	case KindQUIC:
		return "quic"
	default:
		return "invalid"
	}
}

// Locator is a {kind, port, address} tuple. Address holds 16 bytes for
// IPv6, or for IPv4 kinds twelve zero bytes followed by the IPv4 address
// (the RTPS layout); for KindSHM it holds
// a local shared-memory segment handle instead of a network address.
type Locator struct {
	Kind    Kind
	Port    uint32
	Address [16]byte
}

// FromUDPAddr builds a Locator for a *net.UDPAddr.
func FromUDPAddr(a *net.UDPAddr) Locator {
	kind := KindUDPv4
	ip4 := a.IP.To4()
	var addr [16]byte
	if ip4 == nil {
		kind = KindUDPv6
		copy(addr[:], a.IP.To16())
	} else {
		copy(addr[12:], ip4)
	}
	return Locator{Kind: kind, Port: uint32(a.Port), Address: addr}
}

// FromTCPAddr builds a Locator for a *net.TCPAddr.
func FromTCPAddr(a *net.TCPAddr) Locator {
	kind := KindTCPv4
	ip4 := a.IP.To4()
	var addr [16]byte
	if ip4 == nil {
		kind = KindTCPv6
		copy(addr[:], a.IP.To16())
	} else {
		copy(addr[12:], ip4)
	}
	return Locator{Kind: kind, Port: uint32(a.Port), Address: addr}
}

// IP extracts the net.IP for network-kind locators.
func (l Locator) IP() net.IP {
	switch l.Kind {
	case KindUDPv4, KindTCPv4:
		return net.IP(l.Address[12:16])
	case KindUDPv6, KindTCPv6:
		return net.IP(l.Address[:])
	default:
		return nil
	}
}

// UDPAddr converts a UDP-kind locator to a *net.UDPAddr.
func (l Locator) UDPAddr() (*net.UDPAddr, error) {
	if l.Kind != KindUDPv4 && l.Kind != KindUDPv6 {
		return nil, fmt.Errorf("locator: kind %v is not UDP", l.Kind)
	}
	return &net.UDPAddr{IP: l.IP(), Port: int(l.Port)}, nil
}

// TCPAddr converts a TCP-kind locator to a *net.TCPAddr.
func (l Locator) TCPAddr() (*net.TCPAddr, error) {
	if l.Kind != KindTCPv4 && l.Kind != KindTCPv6 {
		return nil, fmt.Errorf("locator: kind %v is not TCP", l.Kind)
	}
	return &net.TCPAddr{IP: l.IP(), Port: int(l.Port)}, nil
}

func (l Locator) String() string {
	switch l.Kind {
	case KindUDPv4, KindUDPv6, KindTCPv4, KindTCPv6, KindQUIC:
		return fmt.Sprintf("%s://%s:%d", l.Kind, l.IP(), l.Port)
	default:
		return fmt.Sprintf("%s:%x", l.Kind, l.Address)
	}
}

// ValidateHostname checks a non-IP transport address (used for the generic
// TransportTCP "sensible DNS style hostname" case in discovery descriptor
// validation), mirroring the teacher's use of golang.org/x/net/idna to
// validate non-numeric addresses before trusting them.
func ValidateHostname(host string) error {
	_, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return fmt.Errorf("locator: invalid hostname %q: %w", host, err)
	}
	return nil
}

// IsMulticast reports whether the locator's address is a multicast address.
func (l Locator) IsMulticast() bool {
	ip := l.IP()
	return ip != nil && ip.IsMulticast()
}
