package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ddsgo/rdds/core/locator"
)

func TestBestLocatorPrefersUnicastUDPOverMulticast(t *testing.T) {
	unicast := locator.Locator{Kind: locator.KindUDPv4, Port: 7400, Address: [16]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 127, 0, 0, 1}}
	multicast := locator.Locator{Kind: locator.KindUDPv4, Port: 7401, Address: [16]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 239, 255, 0, 1}}

	best, ok := BestLocator([]locator.Locator{multicast, unicast}, false)
	require.True(t, ok)
	require.Equal(t, unicast, best)
}

func TestBestLocatorExcludesQUICUnlessAllowed(t *testing.T) {
	quicLoc := locator.Locator{Kind: locator.KindQUIC, Port: 7402}
	tcpLoc := locator.Locator{Kind: locator.KindTCPv4, Port: 7403}

	best, ok := BestLocator([]locator.Locator{quicLoc, tcpLoc}, false)
	require.True(t, ok)
	require.Equal(t, tcpLoc, best)

	best, ok = BestLocator([]locator.Locator{quicLoc}, true)
	require.True(t, ok)
	require.Equal(t, quicLoc, best)
}

func TestBestLocatorReturnsFalseWhenNoneReachable(t *testing.T) {
	_, ok := BestLocator(nil, false)
	require.False(t, ok)
}

func TestUDPCarrierRoundTrip(t *testing.T) {
	a, err := NewUDPUnicast("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	b, err := NewUDPUnicast("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.SendTo(ctx, b.local, []byte("hello")))

	select {
	case pkt := <-b.Recv():
		require.Equal(t, []byte("hello"), pkt.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestMultiplexerFansInFromRegisteredCarrier(t *testing.T) {
	a, err := NewUDPUnicast("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	b, err := NewUDPUnicast("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	mux := NewMultiplexer()
	mux.Register(b)
	defer mux.Close()

	require.NoError(t, a.SendTo(context.Background(), b.local, []byte("viamux")))

	select {
	case pkt := <-mux.Recv():
		require.Equal(t, []byte("viamux"), pkt.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet via multiplexer")
	}
}

func TestMultiplexerSendViaUnregisteredKindFails(t *testing.T) {
	mux := NewMultiplexer()
	defer mux.Close()

	err := mux.SendVia(context.Background(), locator.Locator{Kind: locator.KindTCPv4}, []byte("x"))
	require.Error(t, err)
}
