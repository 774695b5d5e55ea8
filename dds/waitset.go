package dds

import (
	"errors"
	"sync"

	"github.com/ddsgo/rdds/runtime"
)

// ErrWaitsetTimeout reports a wait that ended with no condition triggered.
// No WaitSet method returns it: Wait takes a cancel channel, not a
// deadline, and returns the triggered conditions.
var ErrWaitsetTimeout = errors.New("dds: wait_for_data timed out")

// ConditionKind distinguishes the four DDS condition flavors sharing a
// single WaitsetDriver bitmap slot apiece.
type ConditionKind int

const (
	StatusConditionKind ConditionKind = iota
	ReadConditionKind
	QueryConditionKind
	GuardConditionKind
)

// Condition is one WaitSet-attachable slot: a StatusCondition tracking an
// entity's status changes, a ReadCondition/QueryCondition tracking a
// DataReader's matching samples, or an application-triggered
// GuardCondition.
type Condition struct {
	Kind ConditionKind
	id   runtime.ConditionID
	ws   *WaitSet

	// Query, for QueryConditionKind, is the compiled filter applied in
	// addition to the sample/view/instance state masks.
	Query *Filter
}

// TriggerValue reports whether this condition is currently signaled.
func (c *Condition) TriggerValue() bool {
	return c.ws.driver.Triggered()&(1<<uint(c.id)) != 0
}

// WaitSet groups a bounded set of Conditions and blocks a caller until at
// least one is triggered, the edge-triggered bitmap wakeup
// runtime.WaitsetDriver implements.
type WaitSet struct {
	mu         sync.Mutex
	driver     *runtime.WaitsetDriver
	nextID     runtime.ConditionID
	conditions map[runtime.ConditionID]*Condition
}

// NewWaitSet builds an empty WaitSet.
func NewWaitSet() *WaitSet {
	return &WaitSet{
		driver:     runtime.NewWaitsetDriver(),
		conditions: make(map[runtime.ConditionID]*Condition),
	}
}

// Attach registers a new condition of kind and returns it; callers
// trigger it via the returned Condition's id through the entity or
// GuardCondition.Set that owns it.
func (w *WaitSet) Attach(kind ConditionKind) *Condition {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	c := &Condition{Kind: kind, id: id, ws: w}
	w.conditions[id] = c
	return c
}

// Detach removes c from the WaitSet.
func (w *WaitSet) Detach(c *Condition) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.conditions, c.id)
	w.driver.Clear(c.id)
}

// Signal marks c as triggered, waking any blocked Wait.
func (w *WaitSet) Signal(c *Condition) {
	w.driver.Signal(c.id)
}

// Clear unmarks c.
func (w *WaitSet) Clear(c *Condition) {
	w.driver.Clear(c.id)
}

// Wait blocks until at least one attached condition is triggered, cancel
// fires, or, if cancel is nil, indefinitely. It returns the triggered
// subset of attached conditions.
func (w *WaitSet) Wait(cancel <-chan struct{}) []*Condition {
	bitmap := w.driver.Wait(cancel)

	w.mu.Lock()
	defer w.mu.Unlock()
	var triggered []*Condition
	for id, c := range w.conditions {
		if bitmap&(1<<uint(id)) != 0 {
			triggered = append(triggered, c)
		}
	}
	return triggered
}

// GuardCondition is an application-controlled Condition: Set(true) wakes
// any WaitSet it is attached to; Set(false) clears it.
type GuardCondition struct {
	cond *Condition
}

// NewGuardCondition attaches a new GuardCondition to ws.
func NewGuardCondition(ws *WaitSet) *GuardCondition {
	return &GuardCondition{cond: ws.Attach(GuardConditionKind)}
}

// Set triggers or clears the guard condition.
func (g *GuardCondition) Set(triggered bool) {
	if triggered {
		g.cond.ws.Signal(g.cond)
	} else {
		g.cond.ws.Clear(g.cond)
	}
}

// Condition returns the underlying Condition for attaching to WaitSets.
func (g *GuardCondition) Condition() *Condition { return g.cond }
