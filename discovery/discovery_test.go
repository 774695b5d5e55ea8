package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/locator"
	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/xtypes"
)

func TestParticipantDBSweepEvictsExpiredLease(t *testing.T) {
	var lost []guid.Prefix
	db := NewParticipantDB(func(p guid.Prefix) { lost = append(lost, p) })

	prefix := guid.Prefix{1, 2, 3}
	db.Observe(ParticipantInfo{GUIDPrefix: prefix, LeaseDuration: qos.Finite(10 * time.Millisecond)})
	require.Equal(t, 1, db.Len())

	db.Sweep(time.Now().Add(time.Second))
	require.Equal(t, 0, db.Len())
	require.Equal(t, []guid.Prefix{prefix}, lost)
}

func TestParticipantDBInfiniteLeaseNeverExpires(t *testing.T) {
	db := NewParticipantDB(nil)
	prefix := guid.Prefix{9}
	db.Observe(ParticipantInfo{GUIDPrefix: prefix, LeaseDuration: qos.Infinite})
	db.Sweep(time.Now().Add(24 * time.Hour))
	require.Equal(t, 1, db.Len())
}

func TestTopicRegistryCandidatesFiltersByKindAndTopic(t *testing.T) {
	reg := NewTopicRegistry()
	w := guid.New(guid.Prefix{1}, guid.EntityID{1})
	r := guid.New(guid.Prefix{2}, guid.EntityID{1})

	reg.Observe(EndpointInfo{GUID: w, Kind: EndpointWriter, TopicName: "t"})
	reg.Observe(EndpointInfo{GUID: r, Kind: EndpointReader, TopicName: "t"})
	reg.Observe(EndpointInfo{GUID: guid.New(guid.Prefix{3}, guid.EntityID{1}), Kind: EndpointReader, TopicName: "other"})

	readers := reg.Candidates("t", EndpointReader)
	require.Len(t, readers, 1)
	require.True(t, readers[0].GUID.Equal(r))
}

func TestTopicRegistryForgetParticipantRemovesAllItsEndpoints(t *testing.T) {
	reg := NewTopicRegistry()
	prefix := guid.Prefix{1}
	reg.Observe(EndpointInfo{GUID: guid.New(prefix, guid.EntityID{1}), Kind: EndpointWriter, TopicName: "t"})
	reg.Observe(EndpointInfo{GUID: guid.New(prefix, guid.EntityID{2}), Kind: EndpointWriter, TopicName: "t"})

	reg.ForgetParticipant(prefix)
	require.Empty(t, reg.Candidates("t", EndpointWriter))
}

func simpleType(name string) xtypes.TypeObject {
	return xtypes.TypeObject{Descriptor: xtypes.TypeDescriptor{Name: name, Extensibility: xtypes.Final}}
}

func TestMatchDetectsIncompatibleQoS(t *testing.T) {
	offered := qos.Default()
	requested := qos.Default()
	requested.Reliability = qos.Reliable

	result := Match("t", simpleType("T"), offered, EndpointInfo{TopicName: "t", Type: simpleType("T"), QoS: requested})
	require.Equal(t, MatchIncompatibleQoS, result.Status)
	require.Equal(t, qos.ReliabilityQosPolicyID, result.Mismatch.Policy)
}

func TestMatchSucceedsWhenCompatible(t *testing.T) {
	offered := qos.Default()
	offered.Reliability = qos.Reliable
	requested := qos.Default()

	result := Match("t", simpleType("T"), offered, EndpointInfo{TopicName: "t", Type: simpleType("T"), QoS: requested})
	require.Equal(t, MatchOK, result.Status)
}

func TestMatchRejectsTopicMismatch(t *testing.T) {
	result := Match("a", simpleType("T"), qos.Default(), EndpointInfo{TopicName: "b", Type: simpleType("T"), QoS: qos.Default()})
	require.Equal(t, MatchTopicMismatch, result.Status)
}

func TestDialectRegistryFallsBackToDefault(t *testing.T) {
	reg := NewDialectRegistry()
	enc := reg.Lookup([2]byte{0xAA, 0xBB})
	require.Equal(t, "rtps-default", enc.Name())
}

func TestParticipantDataRoundTrip(t *testing.T) {
	d := ParticipantData{
		GUID:            guid.New(guid.Prefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, guid.EntityIDParticipant),
		ProtocolVersion: [2]byte{2, 4},
		VendorID:        [2]byte{0x01, 0xff},
		DefaultUnicastLocators: []locator.Locator{
			locator.FromUDPAddr(mustUDPAddr(t, "127.0.0.1:7400")),
		},
		LeaseDuration: qos.Finite(30 * time.Second),
		UserData:      []byte("hello"),
	}

	raw, err := EncodeParticipantData(d)
	require.NoError(t, err)

	got, err := DecodeParticipantData(raw)
	require.NoError(t, err)
	require.True(t, got.GUID.Equal(d.GUID))
	require.Equal(t, d.ProtocolVersion, got.ProtocolVersion)
	require.Equal(t, d.VendorID, got.VendorID)
	require.Equal(t, d.LeaseDuration, got.LeaseDuration)
	require.Equal(t, d.UserData, got.UserData)
	require.Len(t, got.DefaultUnicastLocators, 1)
}

func TestEndpointDataRoundTrip(t *testing.T) {
	e := EndpointInfo{
		GUID:      guid.New(guid.Prefix{1}, guid.EntityIDSEDPPubWriter),
		Kind:      EndpointWriter,
		TopicName: "Square",
		TypeName:  "ShapeType",
		QoS:       qos.Default(),
	}
	raw, err := EncodeEndpointData(e)
	require.NoError(t, err)

	got, err := DecodeEndpointData(raw, EndpointWriter)
	require.NoError(t, err)
	require.True(t, got.GUID.Equal(e.GUID))
	require.Equal(t, "Square", got.TopicName)
	require.Equal(t, "ShapeType", got.TypeName)
}

func mustUDPAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}
