package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/seqnum"
	"github.com/ddsgo/rdds/qos"
)

func change(seq seqnum.SequenceNumber, instance InstanceKey, payload string) *Change {
	return &Change{SequenceNumber: seq, Instance: instance, Payload: []byte(payload)}
}

func TestHistoryCacheKeepLastEvictsOldestPerInstance(t *testing.T) {
	p := qos.Default()
	p.HistoryDepth = 2
	c := NewHistoryCache(p)

	require.True(t, c.Append(change(1, "a", "v1")))
	require.True(t, c.Append(change(2, "a", "v2")))
	require.True(t, c.Append(change(3, "a", "v3")))

	require.Nil(t, c.Get(1))
	require.NotNil(t, c.Get(2))
	require.NotNil(t, c.Get(3))
}

func TestHistoryCacheRangeIsOrdered(t *testing.T) {
	c := NewHistoryCache(qos.Default())
	c.Append(change(5, "a", "v5"))
	c.Append(change(1, "b", "v1"))
	c.Append(change(3, "c", "v3"))

	var seen []seqnum.SequenceNumber
	c.Range(0, 100, func(ch *Change) bool {
		seen = append(seen, ch.SequenceNumber)
		return true
	})
	require.Equal(t, []seqnum.SequenceNumber{1, 3, 5}, seen)
}

func TestHistoryCacheRefusesUnacknowledgedEvictionUnderResourceLimit(t *testing.T) {
	p := qos.Default()
	p.History = qos.KeepAll
	p.ResourceLimitsMaxSamples = 1
	c := NewHistoryCache(p)

	require.True(t, c.Append(change(1, "a", "v1")))
	// Oldest sample is still unacknowledged, so no slot is freed.
	require.False(t, c.Append(change(2, "a", "v2")))

	c.AckUpTo(1)
	require.True(t, c.Append(change(2, "a", "v2")))
}

func TestHistoryCacheEvictUpTo(t *testing.T) {
	c := NewHistoryCache(qos.Default())
	c.Append(change(1, "a", "v1"))
	c.Append(change(2, "a", "v2"))
	c.Append(change(3, "a", "v3"))

	c.EvictUpTo(2)
	require.Nil(t, c.Get(1))
	require.Nil(t, c.Get(2))
	require.NotNil(t, c.Get(3))
}

func TestPlanRetransmissionResendsCachedAndGapsEvicted(t *testing.T) {
	c := NewHistoryCache(qos.Default())
	c.Append(change(1, "a", "v1"))
	c.Append(change(2, "b", "v2"))
	c.Append(change(5, "c", "v5"))

	plan := PlanRetransmission(c, []seqnum.SequenceNumber{1, 2, 3, 4, 5})
	require.Len(t, plan.Resend, 3)
	require.Equal(t, []GapRange{{From: 3, To: 4}}, plan.Gaps)
}

func TestFragmentSizesSplitsAboveThreshold(t *testing.T) {
	sizes := FragmentSizes(FragmentSizeThreshold + 1)
	require.Greater(t, len(sizes), 1)
	for _, s := range sizes {
		require.LessOrEqual(t, s, FragmentPayloadSize)
	}

	single := FragmentSizes(FragmentSizeThreshold)
	require.Equal(t, []int{FragmentSizeThreshold}, single)
}

func TestFragmentReassemblerAssemblesOutOfOrderFragments(t *testing.T) {
	r := NewFragmentReassembler(nil)
	defer r.Stop()

	w := guid.New(guid.Prefix{1, 2, 3}, guid.EntityID{0x00, 0x00, 0x05, 0xc2})
	total := uint32(12)
	frag := uint32(4)

	_, done := r.Put(w, 1, total, frag, 1, []byte("efgh"))
	require.False(t, done)
	_, done = r.Put(w, 1, total, frag, 2, []byte("ijkl"))
	require.False(t, done)
	payload, done := r.Put(w, 1, total, frag, 0, []byte("abcd"))
	require.True(t, done)
	require.Equal(t, "abcdefghijkl", string(payload))
}

func TestFragmentReassemblerDropsOnTimeout(t *testing.T) {
	dropped := make(chan struct{}, 1)
	r := NewFragmentReassembler(func(w guid.GUID, seq seqnum.SequenceNumber) {
		dropped <- struct{}{}
	})
	defer r.Stop()

	w := guid.New(guid.Prefix{1, 2, 3}, guid.EntityID{0x00, 0x00, 0x05, 0xc2})
	r.Put(w, 1, 8, 4, 0, []byte("abcd"))

	select {
	case <-dropped:
	case <-time.After(FragmentReassemblyTimeout + 500*time.Millisecond):
		t.Fatal("expected reassembly timeout to fire")
	}
	require.Equal(t, 0, r.Pending())
}

func TestTimerQueueFiresInPriorityOrder(t *testing.T) {
	var mu struct {
		order []int
	}
	done := make(chan struct{})
	q := NewTimerQueue(func(v interface{}) {
		mu.order = append(mu.order, v.(int))
		if len(mu.order) == 3 {
			close(done)
		}
	})
	q.Start()
	defer func() {
		q.Stop()
		q.Wait()
	}()

	now := uint64(time.Now().UnixNano())
	q.Push(now+uint64(30*time.Millisecond), 3)
	q.Push(now+uint64(10*time.Millisecond), 1)
	q.Push(now+uint64(20*time.Millisecond), 2)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer queue did not fire all entries")
	}
	require.Equal(t, []int{1, 2, 3}, mu.order)
}
