package transport

import (
	"context"
	"fmt"
	"net"

	"gopkg.in/op/go-logging.v1"

	"github.com/ddsgo/rdds/core/locator"
	"github.com/ddsgo/rdds/internal/worker"
	"github.com/ddsgo/rdds/runtime"
)

var udpLog = logging.MustGetLogger("transport/udp")

// UDPMaxDatagram is the largest single UDP payload this implementation
// will read; anything past RTPS's usual MTU headroom gets fragmented by
// the reliability layer before it ever reaches a carrier.
const UDPMaxDatagram = 65507

// UDPCarrier is a single bound UDP socket, used for both the SPDP
// multicast carrier and per-participant unicast metatraffic/user-data
// carriers. It has no connection concept, so StatusCh never fires.
type UDPCarrier struct {
	worker.Worker

	log *logging.Logger

	kind   locator.Kind
	conn   *net.UDPConn
	local  locator.Locator
	recvCh chan Packet
	status chan StatusChange
	pool   *runtime.SlabPool
}

// NewUDPUnicast binds a unicast UDP socket on bindAddr (host:port, or
// ":0" to let the kernel pick a port).
func NewUDPUnicast(bindAddr string) (*UDPCarrier, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", bindAddr, err)
	}
	return newUDPCarrier(conn, false, "")
}

// NewUDPMulticast binds a multicast UDP socket on group (e.g.
// "239.255.0.1:7400"), joining the group on the system-chosen multicast
// interface. iface, if non-empty, joins on that named interface
// instead.
func NewUDPMulticast(group string, iface string) (*UDPCarrier, error) {
	addr, err := net.ResolveUDPAddr("udp", group)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", group, err)
	}

	var ifi *net.Interface
	if iface != "" {
		ifi, err = net.InterfaceByName(iface)
		if err != nil {
			return nil, fmt.Errorf("transport: interface %q: %w", iface, err)
		}
	}

	conn, err := net.ListenMulticastUDP("udp", ifi, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen multicast %q: %w", group, err)
	}
	return newUDPCarrier(conn, true, group)
}

func newUDPCarrier(conn *net.UDPConn, multicast bool, group string) (*UDPCarrier, error) {
	kind := locator.KindUDPv4
	localAddr, _ := conn.LocalAddr().(*net.UDPAddr)
	if localAddr != nil && localAddr.IP.To4() == nil {
		kind = locator.KindUDPv6
	}

	c := &UDPCarrier{
		log:    udpLog,
		kind:   kind,
		conn:   conn,
		recvCh: make(chan Packet, 64),
		status: make(chan StatusChange),
		pool:   runtime.NewSlabPool(),
	}
	if localAddr != nil {
		c.local = locator.FromUDPAddr(localAddr)
	}

	c.Go(c.recvLoop)
	return c, nil
}

func (c *UDPCarrier) Kind() locator.Kind { return c.kind }

func (c *UDPCarrier) SendTo(ctx context.Context, dst locator.Locator, data []byte) error {
	select {
	case <-c.HaltCh():
		return ErrClosed
	default:
	}
	addr, err := dst.UDPAddr()
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	_, err = c.conn.WriteToUDP(data, addr)
	return err
}

func (c *UDPCarrier) Recv() <-chan Packet               { return c.recvCh }
func (c *UDPCarrier) StatusCh() <-chan StatusChange      { return c.status }
func (c *UDPCarrier) LocalLocators() []locator.Locator  { return []locator.Locator{c.local} }

func (c *UDPCarrier) Close() error {
	c.Halt()
	err := c.conn.Close()
	c.Wait()
	return err
}

func (c *UDPCarrier) recvLoop() {
	defer close(c.recvCh)
	buf := make([]byte, UDPMaxDatagram)
	for {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.HaltCh():
			default:
				c.log.Debugf("read error, stopping recv loop: %v", err)
			}
			return
		}
		h := c.pool.Get(n)
		h.Append(buf[:n])
		pkt := Packet{Data: h.Bytes(), From: locator.FromUDPAddr(from), Release: h.Release}
		select {
		case c.recvCh <- pkt:
		case <-c.HaltCh():
			return
		}
	}
}
