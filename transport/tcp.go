package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/ddsgo/rdds/core/locator"
	"github.com/ddsgo/rdds/internal/worker"
)

var tcpLog = logging.MustGetLogger("transport/tcp")

// TCPState is a TCPCarrier's connection lifecycle state, generalizing the
// teacher's implicit connected/disconnected connection struct into an
// explicit state machine so higher layers can observe reconnect progress.
type TCPState int32

const (
	TCPIdle TCPState = iota
	TCPConnecting
	TCPConnected
	TCPReconnecting
	TCPClosed
)

func (s TCPState) String() string {
	switch s {
	case TCPIdle:
		return "Idle"
	case TCPConnecting:
		return "Connecting"
	case TCPConnected:
		return "Connected"
	case TCPReconnecting:
		return "Reconnecting"
	case TCPClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const (
	tcpRetryIncrement = 2 * time.Second
	tcpMaxRetryDelay  = 60 * time.Second
	tcpDialTimeout    = 30 * time.Second
	maxFrameSize      = 16 * 1024 * 1024
)

// TCPCarrier dials (and redials on drop) a single remote peer, framing
// each message with a 4-byte big-endian length prefix. Its reconnect loop
// follows client2/connection.go's doConnect: a capped exponential backoff that
// resets to zero the moment a frame is successfully read, and a dial
// cancelled promptly via the embedded Worker's HaltCh.
type TCPCarrier struct {
	worker.Worker

	log *logging.Logger

	mu    sync.Mutex
	state TCPState
	conn  net.Conn

	remote locator.Locator
	local  locator.Locator

	retryDelay int64 // atomic time.Duration

	recvCh chan Packet
	status chan StatusChange

	sendMu sync.Mutex
}

// DialTCP starts a TCPCarrier that maintains a connection to remote,
// reconnecting with exponential backoff whenever the connection drops.
func DialTCP(remote locator.Locator) (*TCPCarrier, error) {
	c := &TCPCarrier{
		log:    tcpLog,
		remote: remote,
		recvCh: make(chan Packet, 64),
		status: make(chan StatusChange, 4),
	}
	c.Go(c.connectLoop)
	return c, nil
}

func (c *TCPCarrier) Kind() locator.Kind { return locator.KindTCPv4 }

func (c *TCPCarrier) setState(s TCPState) {
	atomic.StoreInt32((*int32)(&c.state), int32(s))
}

// State returns the carrier's current lifecycle state.
func (c *TCPCarrier) State() TCPState {
	return TCPState(atomic.LoadInt32((*int32)(&c.state)))
}

func (c *TCPCarrier) connectLoop() {
	defer c.log.Debugf("tcp connect loop terminating")

	dialCtx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c.HaltCh()
		cancel()
	}()
	defer cancel()

	dialer := net.Dialer{Timeout: tcpDialTimeout}
	for {
		select {
		case <-time.After(time.Duration(atomic.LoadInt64(&c.retryDelay))):
		case <-c.HaltCh():
			c.setState(TCPClosed)
			return
		}

		c.setState(TCPConnecting)
		addr, err := c.remote.TCPAddr()
		if err != nil {
			c.notifyStatus(err)
			c.setState(TCPClosed)
			return
		}

		conn, err := dialer.DialContext(dialCtx, "tcp", addr.String())
		select {
		case <-c.HaltCh():
			if conn != nil {
				conn.Close()
			}
			c.setState(TCPClosed)
			return
		default:
		}
		if err != nil {
			c.log.Warnf("dial %v failed: %v", addr, err)
			c.bumpRetryDelay()
			c.notifyStatus(fmt.Errorf("transport: dial %v: %w", addr, err))
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.local = tcpLocalLocator(conn)
		c.mu.Unlock()
		c.setState(TCPConnected)
		c.notifyStatus(nil)

		readErr := c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		select {
		case <-c.HaltCh():
			c.setState(TCPClosed)
			return
		default:
		}
		c.setState(TCPReconnecting)
		c.notifyStatus(readErr)
	}
}

func (c *TCPCarrier) bumpRetryDelay() {
	next := 2 * atomic.LoadInt64(&c.retryDelay)
	if next < int64(tcpRetryIncrement) {
		next = int64(tcpRetryIncrement)
	}
	if next > int64(tcpMaxRetryDelay) {
		next = int64(tcpMaxRetryDelay)
	}
	atomic.StoreInt64(&c.retryDelay, next)
}

func (c *TCPCarrier) notifyStatus(err error) {
	select {
	case c.status <- StatusChange{Locator: c.remote, Err: err}:
	default:
	}
}

func (c *TCPCarrier) readLoop(conn net.Conn) error {
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxFrameSize {
			return fmt.Errorf("transport: frame too large: %d bytes", n)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(conn, data); err != nil {
			return err
		}
		atomic.StoreInt64(&c.retryDelay, 0)
		select {
		case c.recvCh <- Packet{Data: data, From: c.remote}:
		case <-c.HaltCh():
			return errors.New("transport: carrier halted")
		}
	}
}

func (c *TCPCarrier) SendTo(ctx context.Context, dst locator.Locator, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("transport: payload %d bytes exceeds max frame size", len(data))
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(data)
	return err
}

func (c *TCPCarrier) Recv() <-chan Packet          { return c.recvCh }
func (c *TCPCarrier) StatusCh() <-chan StatusChange { return c.status }

func (c *TCPCarrier) LocalLocators() []locator.Locator {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local.Kind == locator.KindInvalid {
		return nil
	}
	return []locator.Locator{c.local}
}

func (c *TCPCarrier) Close() error {
	c.Halt()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.Wait()
	close(c.recvCh)
	return nil
}

func tcpLocalLocator(conn net.Conn) locator.Locator {
	if a, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return locator.FromTCPAddr(a)
	}
	return locator.Locator{}
}
