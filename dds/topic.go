package dds

import (
	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/xtypes"
)

// Topic names a data-space a DataWriter publishes into and a DataReader
// subscribes from: a name, a type, and the topic-level QoS policies
// (Durability, Reliability, and the rest). A DataWriter/DataReader created
// against it takes the QoS passed to its Create call; it does not inherit
// these.
type Topic struct {
	participant *DomainParticipant
	Name        string
	Type        xtypes.TypeObject
	QoS         qos.Policies
}

// TypeName is the type's descriptor name, the identity SEDP exchanges on
// the wire in place of a full TypeDescriptor (see discovery.typeCompatible).
func (t *Topic) TypeName() string {
	return t.Type.Descriptor.Name
}
