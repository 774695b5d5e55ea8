package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"gopkg.in/op/go-logging.v1"

	"github.com/ddsgo/rdds/core/locator"
	"github.com/ddsgo/rdds/internal/worker"
)

var quicLog = logging.MustGetLogger("transport/quic")

// QUICCarrier is this implementation's optional fourth transport
// (SPEC_FULL §4.7): a single QUIC stream per remote peer, reconnecting on
// drop in the same shape as TCPCarrier. Only ever advertised between two
// instances of this implementation (locator.KindQUIC), never towards a
// generic RTPS vendor.
type QUICCarrier struct {
	worker.Worker

	log *logging.Logger

	mu     sync.Mutex
	state  TCPState
	stream quic.Stream
	conn   quic.Connection

	remote locator.Locator
	local  locator.Locator
	server bool

	retryDelay int64

	recvCh chan Packet
	status chan StatusChange

	sendMu sync.Mutex
}

// DialQUIC opens a QUIC stream to remote, reconnecting with a capped
// linear backoff on drop.
func DialQUIC(remote locator.Locator) (*QUICCarrier, error) {
	c := newQUICCarrier(remote, false)
	c.Go(c.clientLoop)
	return c, nil
}

// ListenQUIC accepts a single inbound QUIC connection on bindAddr and
// exposes it as a Carrier once a peer has connected.
func ListenQUIC(bindAddr string) (*QUICCarrier, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", bindAddr, err)
	}
	c := newQUICCarrier(locator.Locator{}, true)
	c.local = locator.Locator{Kind: locator.KindQUIC, Port: uint32(addr.Port)}
	c.Go(func() { c.serverLoop(bindAddr) })
	return c, nil
}

func newQUICCarrier(remote locator.Locator, server bool) *QUICCarrier {
	return &QUICCarrier{
		log:    quicLog,
		remote: remote,
		server: server,
		recvCh: make(chan Packet, 64),
		status: make(chan StatusChange, 4),
	}
}

func (c *QUICCarrier) Kind() locator.Kind { return locator.KindQUIC }

func (c *QUICCarrier) clientLoop() {
	defer c.log.Debugf("quic client loop terminating")
	tlsConf := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"rdds-quic"}}

	for {
		select {
		case <-time.After(time.Duration(atomic.LoadInt64(&c.retryDelay))):
		case <-c.HaltCh():
			return
		}

		addr, err := c.remote.UDPAddr()
		if err != nil {
			c.notifyStatus(err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), tcpDialTimeout)
		conn, err := quic.DialAddr(ctx, addr.String(), tlsConf, nil)
		cancel()
		if err != nil {
			c.log.Warnf("quic dial %v failed: %v", addr, err)
			c.bumpRetryDelay()
			c.notifyStatus(fmt.Errorf("transport: quic dial %v: %w", addr, err))
			continue
		}

		stream, err := conn.OpenStreamSync(context.Background())
		if err != nil {
			conn.CloseWithError(0, "stream open failed")
			c.bumpRetryDelay()
			c.notifyStatus(err)
			continue
		}

		c.attach(conn, stream)
		readErr := c.readLoop(stream)
		c.detach()

		select {
		case <-c.HaltCh():
			return
		default:
		}
		c.notifyStatus(readErr)
	}
}

func (c *QUICCarrier) serverLoop(bindAddr string) {
	defer c.log.Debugf("quic server loop terminating")
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		c.notifyStatus(err)
		return
	}

	listener, err := quic.ListenAddr(bindAddr, tlsConf, nil)
	if err != nil {
		c.notifyStatus(err)
		return
	}
	defer listener.Close()

	go func() {
		<-c.HaltCh()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			select {
			case <-c.HaltCh():
				return
			default:
				c.notifyStatus(err)
				continue
			}
		}
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			conn.CloseWithError(0, "stream accept failed")
			continue
		}

		c.attach(conn, stream)
		readErr := c.readLoop(stream)
		c.detach()
		c.notifyStatus(readErr)
	}
}

func (c *QUICCarrier) attach(conn quic.Connection, stream quic.Stream) {
	c.mu.Lock()
	c.conn = conn
	c.stream = stream
	if a, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
		c.remote = locator.Locator{Kind: locator.KindQUIC, Port: uint32(a.Port), Address: locator.FromUDPAddr(a).Address}
	}
	c.mu.Unlock()
	c.setState(TCPConnected)
	c.notifyStatus(nil)
}

func (c *QUICCarrier) detach() {
	c.mu.Lock()
	c.stream = nil
	c.conn = nil
	c.mu.Unlock()
	c.setState(TCPReconnecting)
}

func (c *QUICCarrier) setState(s TCPState) {
	atomic.StoreInt32((*int32)(&c.state), int32(s))
}

// State returns the carrier's current lifecycle state.
func (c *QUICCarrier) State() TCPState {
	return TCPState(atomic.LoadInt32((*int32)(&c.state)))
}

func (c *QUICCarrier) bumpRetryDelay() {
	next := atomic.AddInt64(&c.retryDelay, int64(tcpRetryIncrement))
	if next > int64(tcpMaxRetryDelay) {
		atomic.StoreInt64(&c.retryDelay, int64(tcpMaxRetryDelay))
	}
}

func (c *QUICCarrier) notifyStatus(err error) {
	select {
	case c.status <- StatusChange{Locator: c.remote, Err: err}:
	default:
	}
}

func (c *QUICCarrier) readLoop(stream quic.Stream) error {
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(stream, lenBuf[:]); err != nil {
			return err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxFrameSize {
			return fmt.Errorf("transport: quic frame too large: %d bytes", n)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(stream, data); err != nil {
			return err
		}
		atomic.StoreInt64(&c.retryDelay, 0)
		select {
		case c.recvCh <- Packet{Data: data, From: c.remote}:
		case <-c.HaltCh():
			return fmt.Errorf("transport: carrier halted")
		}
	}
}

func (c *QUICCarrier) SendTo(ctx context.Context, dst locator.Locator, data []byte) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return ErrClosed
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("transport: payload %d bytes exceeds max frame size", len(data))
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := stream.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := stream.Write(data)
	return err
}

func (c *QUICCarrier) Recv() <-chan Packet          { return c.recvCh }
func (c *QUICCarrier) StatusCh() <-chan StatusChange { return c.status }

func (c *QUICCarrier) LocalLocators() []locator.Locator {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local.Kind == locator.KindInvalid {
		return nil
	}
	return []locator.Locator{c.local}
}

func (c *QUICCarrier) Close() error {
	c.Halt()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.CloseWithError(0, "closing")
	}
	c.Wait()
	close(c.recvCh)
	return nil
}

// selfSignedTLSConfig generates an ephemeral self-signed certificate for
// the QUIC server side; this transport is only ever advertised between
// participants of this implementation and is not meant to authenticate
// peers on its own (that is the discovery/security plane's job).
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"rdds-quic"}}, nil
}
