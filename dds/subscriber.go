package dds

import "github.com/ddsgo/rdds/qos"

// Subscriber groups DataReaders created with a shared default QoS; it has
// no behavior of its own beyond scoping CreateDataReader.
type Subscriber struct {
	participant *DomainParticipant
	qos         qos.Policies
}

// CreateDataReader builds a DataReader subscribing to topic with q.
func (s *Subscriber) CreateDataReader(topic *Topic, q qos.Policies) (*DataReader, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return newDataReader(s.participant, topic, q)
}
