// Package dds implements the client-facing entity hierarchy: Participant,
// Publisher, Subscriber, Topic, DataWriter, DataReader, and the WaitSet/
// Condition/listener machinery an embedding application drives directly.
// Everything below this package (discovery, endpoint, reliability,
// transport) is wiring; dds is the surface applications call.
package dds

import (
	"time"

	"github.com/ddsgo/rdds/core/seqnum"
)

// SampleState distinguishes samples an application has already read from
// ones it has not, per distilled spec's NOT_READ/READ sample-state mask.
type SampleState int

const (
	NotRead SampleState = iota
	Read
)

// ViewState distinguishes a reader's first observation of an instance
// from subsequent ones.
type ViewState int

const (
	NewView ViewState = iota
	NotNewView
)

// InstanceState tracks a keyed instance's DDS-defined lifecycle:
// NEW→ALIVE→DISPOSED/UNREGISTERED.
type InstanceState int

const (
	InstanceAlive InstanceState = iota
	InstanceDisposed
	InstanceUnregistered
)

// Sample is one received (or locally cached) data sample together with
// the SampleInfo metadata read()/take() expose alongside the payload.
type Sample struct {
	WriterGUID      [16]byte
	SequenceNumber  seqnum.SequenceNumber
	SourceTimestamp time.Time
	InstanceKey     string
	Payload         []byte

	SampleState   SampleState
	ViewState     ViewState
	InstanceState InstanceState
}
