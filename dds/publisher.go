package dds

import "github.com/ddsgo/rdds/qos"

// Publisher groups DataWriters created with a shared default QoS; it has
// no behavior of its own beyond scoping CreateDataWriter.
type Publisher struct {
	participant *DomainParticipant
	qos         qos.Policies
}

// CreateDataWriter validates q and builds a DataWriter publishing on topic
// with exactly q; neither the Publisher's QoS nor topic.QoS is merged in.
func (p *Publisher) CreateDataWriter(topic *Topic, q qos.Policies) (*DataWriter, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return newDataWriter(p.participant, topic, q)
}
