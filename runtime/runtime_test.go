package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ddsgo/rdds/core/guid"
)

func TestSlabPoolReusesBuffers(t *testing.T) {
	pool := NewSlabPool()
	h := pool.Get(100)
	h.buf = append(h.buf, []byte("hello")...)
	h.Release()

	h2 := pool.Get(100)
	require.Equal(t, 0, len(h2.Bytes()))
}

func TestSlabPoolHandleRetainDefersRelease(t *testing.T) {
	pool := NewSlabPool()
	h := pool.Get(10)
	h2 := h.Retain()

	h.Release()
	// still one outstanding reference via h2
	h2.Release()
}

func TestIndexRingKeepAllRejectsWhenFull(t *testing.T) {
	pool := NewSlabPool()
	r := NewIndexRing(2, KeepAll)

	require.NoError(t, r.Push(pool.Get(1)))
	require.NoError(t, r.Push(pool.Get(1)))
	require.ErrorIs(t, r.Push(pool.Get(1)), ErrWouldBlock)

	require.NotNil(t, r.Pop())
	require.NotNil(t, r.Pop())
	require.Nil(t, r.Pop())
}

func TestIndexRingKeepLastOverwritesOldest(t *testing.T) {
	pool := NewSlabPool()
	r := NewIndexRing(2, KeepLastOverwrite)
	defer r.Close()

	a := pool.Get(1)
	a.buf = append(a.buf, 'a')
	b := pool.Get(1)
	b.buf = append(b.buf, 'b')
	c := pool.Get(1)
	c.buf = append(c.buf, 'c')

	require.NoError(t, r.Push(a))
	require.NoError(t, r.Push(b))
	require.NoError(t, r.Push(c)) // overwrites a

	first := r.Pop()
	require.Equal(t, "b", string(first.Bytes()))

	select {
	case <-r.BackpressureEvents():
	case <-time.After(time.Second):
		t.Fatal("expected a backpressure event")
	}
}

func TestTopicMergerOrdersBySourceOrderThenGUID(t *testing.T) {
	m := NewTopicMerger()
	gA := guid.New(guid.Prefix{1}, guid.EntityID{1})
	gB := guid.New(guid.Prefix{2}, guid.EntityID{1})

	m.Offer(MergedSample{Writer: gB, SourceOrder: 1})
	m.Offer(MergedSample{Writer: gA, SourceOrder: 1})
	m.Offer(MergedSample{Writer: gA, SourceOrder: 0})

	out := m.Drain()
	require.Len(t, out, 3)
	require.Equal(t, uint64(0), out[0].SourceOrder)
	require.True(t, out[1].Writer.Equal(gA))
	require.True(t, out[2].Writer.Equal(gB))
}

func TestTopicMergerHoldsCoherentGroupUntilClosed(t *testing.T) {
	m := NewTopicMerger()
	g := guid.New(guid.Prefix{1}, guid.EntityID{1})

	m.Offer(MergedSample{Writer: g, SourceOrder: 1, CoherentGroup: 5})
	m.Offer(MergedSample{Writer: g, SourceOrder: 2, CoherentGroup: 5})
	require.Empty(t, m.Drain())
	require.Equal(t, 2, m.Pending())

	m.CloseGroup(5)
	require.Len(t, m.Drain(), 2)
}

func TestWaitsetDriverWakesOnSignal(t *testing.T) {
	d := NewWaitsetDriver()
	done := make(chan uint64, 1)
	go func() {
		done <- d.Wait(nil)
	}()

	time.Sleep(10 * time.Millisecond)
	d.Signal(3)

	select {
	case bm := <-done:
		require.Equal(t, uint64(1<<3), bm)
	case <-time.After(time.Second):
		t.Fatal("wait did not wake")
	}
}

func TestWaitsetDriverCancel(t *testing.T) {
	d := NewWaitsetDriver()
	cancel := make(chan struct{})
	done := make(chan uint64, 1)
	go func() {
		done <- d.Wait(cancel)
	}()

	time.Sleep(10 * time.Millisecond)
	close(cancel)

	select {
	case bm := <-done:
		require.Equal(t, uint64(0), bm)
	case <-time.After(time.Second):
		t.Fatal("wait did not wake on cancel")
	}
}
