package qos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReliabilityIncompatible(t *testing.T) {
	offered := Default()
	offered.Reliability = BestEffort
	requested := Default()
	requested.Reliability = Reliable

	ok, mm := CompatibleOffer(offered, requested)
	require.False(t, ok)
	require.Equal(t, ReliabilityQosPolicyID, mm.Policy)
}

func TestReliabilityCompatibleWhenOfferMeetsOrExceeds(t *testing.T) {
	offered := Default()
	offered.Reliability = Reliable
	requested := Default()
	requested.Reliability = BestEffort

	ok, _ := CompatibleOffer(offered, requested)
	require.True(t, ok)
}

func TestPartitionIntersectionIsSymmetric(t *testing.T) {
	a := Default()
	a.Partitions = []string{"sensors/*"}
	b := Default()
	b.Partitions = []string{"sensors/lidar"}

	ok1, _ := CompatibleOffer(a, b)
	ok2, _ := CompatibleOffer(b, a)
	require.True(t, ok1)
	require.Equal(t, ok1, ok2)
}

func TestDisjointPartitionsIncompatible(t *testing.T) {
	a := Default()
	a.Partitions = []string{"left"}
	b := Default()
	b.Partitions = []string{"right"}
	ok, mm := CompatibleOffer(a, b)
	require.False(t, ok)
	require.Equal(t, PartitionQosPolicyID, mm.Policy)
}

func TestDefaultQoSSelfCompatible(t *testing.T) {
	d := Default()
	ok, _ := CompatibleOffer(d, d)
	require.True(t, ok)
}
