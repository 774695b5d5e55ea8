package reliability

import (
	"sync"
	"time"

	"gitlab.com/yawning/avl.git"

	"github.com/ddsgo/rdds/internal/worker"
)

// TimerEntry is one pending deadline in a TimerQueue. Value is whatever
// the caller pushed; callers type-assert it the same way client2/arq.go's
// HandleAck type-asserts a Peek'd entry's Value back to a SURB ID.
type TimerEntry struct {
	Priority uint64 // UnixNano deadline
	Value    interface{}
	node     *avl.Node
}

// TimerQueue runs a callback once per entry once its deadline has passed,
// generalizing the teacher's client2/arq.go ARQ retransmit timer (there,
// one timer queue per ARQ client keyed by SURB ID) to a reusable primitive
// used by every per-writer retransmit deadline and every per-fragment
// reassembly timeout in this package. Ordering is kept in an AVL tree
// exactly as server/internal/decoy/decoy.go orders its surbETAs, so the
// next-to-fire entry is always the tree's first in-order node.
type TimerQueue struct {
	worker.Worker

	mu   sync.Mutex
	tree *avl.Tree

	wake     chan struct{}
	callback func(interface{})
}

// NewTimerQueue builds a TimerQueue that invokes callback (from the
// queue's own goroutine) once each pushed item's deadline elapses.
func NewTimerQueue(callback func(interface{})) *TimerQueue {
	return &TimerQueue{
		tree: avl.New(func(a, b interface{}) int {
			ea, eb := a.(*TimerEntry), b.(*TimerEntry)
			switch {
			case ea.Priority < eb.Priority:
				return -1
			case ea.Priority > eb.Priority:
				return 1
			default:
				return 0
			}
		}),
		wake:     make(chan struct{}, 1),
		callback: callback,
	}
}

// Start begins the queue's background goroutine. Must be called before Push.
func (q *TimerQueue) Start() {
	q.Go(q.worker_)
}

// Stop halts the background goroutine; callers should follow with Wait().
func (q *TimerQueue) Stop() {
	q.Halt()
}

// Push schedules value to fire at priority (UnixNano deadline).
func (q *TimerQueue) Push(priority uint64, value interface{}) {
	e := &TimerEntry{Priority: priority, Value: value}
	q.mu.Lock()
	e.node = q.tree.Insert(e)
	q.mu.Unlock()
	q.nudge()
}

// Peek returns the earliest-deadline entry without removing it, or nil if
// the queue is empty.
func (q *TimerQueue) Peek() *TimerEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	it := q.tree.Iterator(avl.Forward)
	n := it.First()
	if n == nil {
		return nil
	}
	return n.Value.(*TimerEntry)
}

// Pop removes the earliest-deadline entry.
func (q *TimerQueue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	it := q.tree.Iterator(avl.Forward)
	n := it.First()
	if n != nil {
		q.tree.Remove(n)
	}
}

// Len reports the number of pending entries.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

func (q *TimerQueue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *TimerQueue) worker_() {
	defer q.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.mu.Lock()
		it := q.tree.Iterator(avl.Forward)
		n := it.First()
		q.mu.Unlock()

		var wait time.Duration
		if n == nil {
			wait = time.Hour
		} else {
			e := n.Value.(*TimerEntry)
			now := uint64(time.Now().UnixNano())
			if e.Priority <= now {
				wait = 0
			} else {
				wait = time.Duration(e.Priority - now)
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-q.HaltCh():
			return
		case <-q.wake:
			continue
		case <-timer.C:
		}

		q.mu.Lock()
		it = q.tree.Iterator(avl.Forward)
		n = it.First()
		var fired *TimerEntry
		if n != nil {
			e := n.Value.(*TimerEntry)
			if e.Priority <= uint64(time.Now().UnixNano()) {
				q.tree.Remove(n)
				fired = e
			}
		}
		q.mu.Unlock()

		if fired != nil {
			q.callback(fired.Value)
		}
	}
}
