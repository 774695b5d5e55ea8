package endpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/seqnum"
	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/reliability"
)

func testGUID(entity byte) guid.GUID {
	return guid.New(guid.Prefix{1, 2, 3}, guid.EntityID{0, 0, 0, entity})
}

func TestReliableWriterProxyAnnouncingToRepairingToSteady(t *testing.T) {
	p := NewReliableWriterProxy(testGUID(1))
	require.Equal(t, ProxyInitial, p.State())

	p.OnHeartbeatSent(time.Now())
	require.Equal(t, ProxyAnnouncing, p.State())

	p.OnAckNack(false, []seqnum.SequenceNumber{3, 5}, 1)
	require.Equal(t, ProxyRepairing, p.State())
	require.Equal(t, []seqnum.SequenceNumber{3, 5}, p.MissingSorted())

	p.OnRepairSent()
	require.Equal(t, ProxyRepairing, p.State(), "missing set must clear before repair completes")

	p.OnAckNack(false, nil, 1)
	require.Equal(t, ProxySteady, p.State())
}

func TestReliableWriterProxyFinalAckAdvancesMinUnacked(t *testing.T) {
	p := NewReliableWriterProxy(testGUID(1))
	p.OnHeartbeatSent(time.Now())
	p.OnAckNack(true, nil, 42)
	require.Equal(t, ProxyAcked, p.State())
	require.Equal(t, seqnum.SequenceNumber(42), p.MinUnacked())
}

func TestReliableWriterProxyMinUnackedNeverRegresses(t *testing.T) {
	p := NewReliableWriterProxy(testGUID(1))
	p.OnAckNack(true, nil, 10)
	p.OnAckNack(true, nil, 3)
	require.Equal(t, seqnum.SequenceNumber(10), p.MinUnacked())
}

func TestReliableWriterProxyRespondToNackUsesHistoryCache(t *testing.T) {
	cache := reliability.NewHistoryCache(qos.Default())
	cache.Append(&reliability.Change{SequenceNumber: 1, Instance: "a", Payload: []byte("x")})
	cache.Append(&reliability.Change{SequenceNumber: 2, Instance: "b", Payload: []byte("y")})

	p := NewReliableWriterProxy(testGUID(1))
	p.OnAckNack(false, []seqnum.SequenceNumber{1, 2}, 1)

	plan := p.RespondToNack(cache)
	require.Len(t, plan.Resend, 2)
	require.Empty(t, plan.Gaps)
}

func TestReliableWriterProxyJitterStaysWithinBound(t *testing.T) {
	p := NewReliableWriterProxy(testGUID(1))
	period := 200 * time.Millisecond
	for i := 0; i < 50; i++ {
		j := p.JitteredHeartbeatPeriod(period)
		require.InDelta(t, period, j, float64(period)*HeartbeatJitterFraction+1)
	}
}

func TestReliableReaderProxySynchronizesOnMatchingHeartbeat(t *testing.T) {
	p := NewReliableReaderProxy(testGUID(2))
	require.Equal(t, ReaderInitial, p.State())

	p.OnDataReceived(1)
	p.OnDataReceived(2)
	p.OnHeartbeat(1, 2, time.Now())
	require.Equal(t, ReaderSynchronized, p.State())
}

func TestReliableReaderProxySchedulesNackOnGap(t *testing.T) {
	p := NewReliableReaderProxy(testGUID(2))
	now := time.Now()
	p.OnDataReceived(1)
	p.OnHeartbeat(1, 3, now)

	require.False(t, p.NackDue(now))
	require.True(t, p.NackDue(now.Add(NackCoalescingWindow+time.Millisecond)))

	final, missing := p.EmitNack(3, now.Add(NackCoalescingWindow+time.Millisecond))
	require.False(t, final)
	require.Equal(t, []seqnum.SequenceNumber{2, 3}, missing)
}

func TestReliableReaderProxyEmitNackFinalWhenComplete(t *testing.T) {
	p := NewReliableReaderProxy(testGUID(2))
	p.OnDataReceived(1)
	p.OnDataReceived(2)

	final, missing := p.EmitNack(2, time.Now())
	require.True(t, final)
	require.Empty(t, missing)
	require.Equal(t, seqnum.SequenceNumber(2), p.HighestContiguous())
}

func TestReliableReaderProxyBackoffEscalates(t *testing.T) {
	p := NewReliableReaderProxy(testGUID(2))
	now := time.Now()
	p.OnHeartbeat(1, 5, now)

	_, missing := p.EmitNack(5, now)
	require.NotEmpty(t, missing)
	require.False(t, p.NackDue(now.Add(nackBackoffSchedule[0]-time.Millisecond)))
	require.True(t, p.NackDue(now.Add(nackBackoffSchedule[0]+time.Millisecond)))

	// A second unanswered NACK waits for the next, longer interval.
	t1 := now.Add(nackBackoffSchedule[0] + time.Millisecond)
	_, missing = p.EmitNack(5, t1)
	require.NotEmpty(t, missing)
	require.False(t, p.NackDue(t1.Add(nackBackoffSchedule[1]-time.Millisecond)))
	require.True(t, p.NackDue(t1.Add(nackBackoffSchedule[1]+time.Millisecond)))
}

func TestMatchedReadersRegistryAddIsIdempotent(t *testing.T) {
	reg := NewMatchedReadersRegistry()
	r := testGUID(9)
	p1 := reg.Add(r)
	p2 := reg.Add(r)
	require.Same(t, p1, p2)
	require.Equal(t, 1, reg.Len())

	got, ok := reg.Get(r)
	require.True(t, ok)
	require.Same(t, p1, got)

	reg.Remove(r)
	require.Equal(t, 0, reg.Len())
	_, ok = reg.Get(r)
	require.False(t, ok)
}

func TestMatchedReadersRegistryAllReturnsEveryMatch(t *testing.T) {
	reg := NewMatchedReadersRegistry()
	reg.Add(testGUID(1))
	reg.Add(testGUID(2))
	reg.Add(testGUID(3))
	require.Len(t, reg.All(), 3)
}

func TestMatchedWritersRegistryAddIsIdempotent(t *testing.T) {
	reg := NewMatchedWritersRegistry()
	w := testGUID(9)
	p1 := reg.Add(w)
	p2 := reg.Add(w)
	require.Same(t, p1, p2)
	require.Equal(t, 1, reg.Len())

	reg.Remove(w)
	require.Equal(t, 0, reg.Len())
}
