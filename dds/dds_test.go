package dds

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/discovery"
	"github.com/ddsgo/rdds/metrics"
	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/transport"
	"github.com/ddsgo/rdds/wire/rtps"
	"github.com/ddsgo/rdds/xtypes"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func newUDPCarrier(t *testing.T) *transport.UDPCarrier {
	t.Helper()
	carrier, err := transport.NewUDPUnicast("127.0.0.1:0")
	require.NoError(t, err)
	return carrier
}

// newUDPParticipant builds a DomainParticipant over carrier, announcing
// SPDP directly at spdpDst's address in place of true multicast.
func newUDPParticipant(t *testing.T, carrier *transport.UDPCarrier, spdpDst *transport.UDPCarrier) *DomainParticipant {
	t.Helper()
	mux := transport.NewMultiplexer()
	mux.Register(carrier)

	dst := carrier.LocalLocators()[0]
	if spdpDst != nil {
		dst = spdpDst.LocalLocators()[0]
	}

	p, err := NewDomainParticipant(0, mux, dst, false)
	require.NoError(t, err)
	p.Start()
	t.Cleanup(func() { p.Close() })
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDomainParticipantDiscoversAndMatchesReliableEndpoints(t *testing.T) {
	aCarrier, bCarrier := newUDPCarrier(t), newUDPCarrier(t)
	aParticipant := newUDPParticipant(t, aCarrier, bCarrier)
	bParticipant := newUDPParticipant(t, bCarrier, aCarrier)

	typ := xtypes.TypeObject{Descriptor: xtypes.TypeDescriptor{Name: "SensorReading"}}
	reliableQoS := qos.Default()
	reliableQoS.Reliability = qos.Reliable

	topicA := aParticipant.CreateTopic("sensors/temp", typ, reliableQoS)
	topicB := bParticipant.CreateTopic("sensors/temp", typ, reliableQoS)

	pub := aParticipant.CreatePublisher(reliableQoS)
	writer, err := pub.CreateDataWriter(topicA, reliableQoS)
	require.NoError(t, err)

	sub := bParticipant.CreateSubscriber(reliableQoS)
	reader, err := sub.CreateDataReader(topicB, reliableQoS)
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool { return writer.matched.Len() > 0 })
	waitFor(t, 5*time.Second, func() bool { return reader.matched.Len() > 0 })
}

func TestDataWriterRejectsSampleBeyondResourceLimits(t *testing.T) {
	p := newUDPParticipant(t, newUDPCarrier(t), nil)

	q := qos.Default()
	q.History = qos.KeepAll
	q.ResourceLimitsMaxSamples = 1

	topic := p.CreateTopic("bounded", xtypes.TypeObject{}, q)
	pub := p.CreatePublisher(q)
	writer, err := pub.CreateDataWriter(topic, q)
	require.NoError(t, err)

	_, err = writer.Write([]byte("first"), "k")
	require.NoError(t, err)

	_, err = writer.Write([]byte("second"), "k")
	require.ErrorIs(t, err, ErrResourceLimitsExceeded)
}

func TestDataWriterReplaysPersistedTailAcrossRestart(t *testing.T) {
	p := newUDPParticipant(t, newUDPCarrier(t), nil)
	require.NoError(t, p.EnablePersistence(t.TempDir()))

	q := qos.Default()
	q.Durability = qos.TransientLocal
	topic := p.CreateTopic("durable", xtypes.TypeObject{}, q)
	pub := p.CreatePublisher(q)

	writer1, err := pub.CreateDataWriter(topic, q)
	require.NoError(t, err)
	seq, err := writer1.Write([]byte("payload"), "k")
	require.NoError(t, err)
	require.NoError(t, writer1.persist.Close())

	// Simulate a restart: a fresh DataWriter reusing writer1's entity id
	// opens the same on-disk segment directory and replays its tail.
	p.nextEntity--
	writer2, err := pub.CreateDataWriter(topic, q)
	require.NoError(t, err)
	require.Equal(t, writer1.GUID, writer2.GUID)

	change := writer2.cache.Get(seq)
	require.NotNil(t, change)
	require.Equal(t, []byte("payload"), change.Payload)
}

func TestDataReaderTakeClearsCacheAndReadCondition(t *testing.T) {
	p := newUDPParticipant(t, newUDPCarrier(t), nil)

	q := qos.Default()
	topic := p.CreateTopic("local-only", xtypes.TypeObject{}, q)
	sub := p.CreateSubscriber(q)
	reader, err := sub.CreateDataReader(topic, q)
	require.NoError(t, err)

	reader.appendSample(reader.GUID, 1, Sample{SequenceNumber: 1, Payload: []byte("x")})
	require.True(t, reader.ReadCondition().TriggerValue())

	samples := reader.Take()
	require.Len(t, samples, 1)
	require.Equal(t, Read, samples[0].SampleState)
	require.False(t, reader.ReadCondition().TriggerValue())
	require.Empty(t, reader.Take())
}

func TestDataReaderBatchFlushOrdersAcrossWriters(t *testing.T) {
	p := newUDPParticipant(t, newUDPCarrier(t), nil)

	q := qos.Default()
	topic := p.CreateTopic("merged", xtypes.TypeObject{}, q)
	sub := p.CreateSubscriber(q)
	reader, err := sub.CreateDataReader(topic, q)
	require.NoError(t, err)

	var lo, hi guid.GUID
	lo.Entity = guid.EntityIDUnknown
	hi.Entity = guid.EntityIDUnknown
	hi.Prefix[0] = 0xff

	// Offer the lexically-greater writer's sample first; since neither
	// call flushes, the merger still gets to sort the batch before
	// either sample reaches reader.samples.
	reader.offerSample(hi, 1, Sample{Payload: []byte("from-hi")})
	reader.offerSample(lo, 1, Sample{Payload: []byte("from-lo")})
	require.Empty(t, reader.samples)

	reader.flushMerged()

	require.Len(t, reader.samples, 2)
	require.Equal(t, []byte("from-lo"), reader.samples[0].Payload)
	require.Equal(t, []byte("from-hi"), reader.samples[1].Payload)
}

func TestMatchedEndpointsMetricTracksDiscoveryLifecycle(t *testing.T) {
	p := newUDPParticipant(t, newUDPCarrier(t), nil)
	reg := metrics.New()
	p.EnableMetrics(reg)

	q := qos.Default()
	topic := p.CreateTopic("metered", xtypes.TypeObject{}, q)
	pub := p.CreatePublisher(q)
	writer, err := pub.CreateDataWriter(topic, q)
	require.NoError(t, err)

	remoteReader := guid.New(guid.Prefix{0xaa}, guid.EntityIDUnknown)
	writer.matchReader(discovery.EndpointInfo{
		GUID:      remoteReader,
		TopicName: "metered",
		Kind:      discovery.EndpointReader,
	})
	require.Equal(t, float64(1), gaugeValue(t, reg.MatchedEndpoints.WithLabelValues("writer")))

	// A repeat SEDP observation of the same remote reader must not
	// double-count the gauge.
	writer.matchReader(discovery.EndpointInfo{
		GUID:      remoteReader,
		TopicName: "metered",
		Kind:      discovery.EndpointReader,
	})
	require.Equal(t, float64(1), gaugeValue(t, reg.MatchedEndpoints.WithLabelValues("writer")))

	p.onParticipantLost(remoteReader.Prefix)
	require.Equal(t, float64(0), gaugeValue(t, reg.MatchedEndpoints.WithLabelValues("writer")))
}

// TestHistoryCacheWithholdsEvictionForSlowestMatchedReader guards the
// HistoryCache invariant that a sample is never evicted while any
// matched Reliable reader still hasn't acknowledged it: a fast reader's
// ACKNACK must not let a slow reader's un-acked samples be reclaimed.
func TestHistoryCacheWithholdsEvictionForSlowestMatchedReader(t *testing.T) {
	p := newUDPParticipant(t, newUDPCarrier(t), nil)

	q := qos.Default()
	q.Reliability = qos.Reliable
	q.History = qos.KeepAll
	q.ResourceLimitsMaxSamples = 2

	topic := p.CreateTopic("multi-reader", xtypes.TypeObject{}, q)
	pub := p.CreatePublisher(q)
	writer, err := pub.CreateDataWriter(topic, q)
	require.NoError(t, err)

	fast := guid.New(guid.Prefix{0x01}, guid.EntityIDUnknown)
	slow := guid.New(guid.Prefix{0x02}, guid.EntityIDUnknown)
	info := func(reader guid.GUID) discovery.EndpointInfo {
		return discovery.EndpointInfo{GUID: reader, TopicName: "multi-reader", Kind: discovery.EndpointReader}
	}
	writer.matchReader(info(fast))
	writer.matchReader(info(slow))

	seq1, err := writer.Write([]byte("one"), "k")
	require.NoError(t, err)
	_, err = writer.Write([]byte("two"), "k")
	require.NoError(t, err)

	// fast fully acknowledges everything written so far; slow never acks.
	writer.handleAckNack(fast, rtps.AckNackBody{Final: true})
	writer.handleAckNack(slow, rtps.AckNackBody{Final: false})

	// A third write would need to evict seq1 to stay within
	// ResourceLimitsMaxSamples=2, but slow hasn't acknowledged it yet.
	_, err = writer.Write([]byte("three"), "k")
	require.ErrorIs(t, err, ErrResourceLimitsExceeded)
	require.NotNil(t, writer.cache.Get(seq1))
}
