package discovery

import (
	"sync"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/locator"
	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/xtypes"
)

// EndpointKind distinguishes a discovered SEDP writer from a reader.
type EndpointKind int

const (
	EndpointWriter EndpointKind = iota
	EndpointReader
)

// EndpointInfo is everything SEDP carries about one remote writer or
// reader: its topic, type, full QoS, and locators.
type EndpointInfo struct {
	GUID       guid.GUID
	Kind       EndpointKind
	TopicName  string
	TypeName   string
	Type       xtypes.TypeObject
	QoS        qos.Policies
	UnicastLocators   []locator.Locator
	MulticastLocators []locator.Locator
}

// TopicRegistry indexes every discovered remote endpoint by topic name,
// the way a DataWriter/DataReader finds its match candidates without
// scanning every known endpoint in the participant.
type TopicRegistry struct {
	mu        sync.RWMutex
	byTopic   map[string][]*EndpointInfo
	byGUID    map[guid.GUID]*EndpointInfo
}

// NewTopicRegistry builds an empty TopicRegistry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		byTopic: make(map[string][]*EndpointInfo),
		byGUID:  make(map[guid.GUID]*EndpointInfo),
	}
}

// Observe records or replaces a discovered endpoint's SEDP announcement.
func (r *TopicRegistry) Observe(info EndpointInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byGUID[info.GUID]; ok {
		r.removeFromTopicLocked(old)
	}
	cp := info
	r.byGUID[info.GUID] = &cp
	r.byTopic[info.TopicName] = append(r.byTopic[info.TopicName], &cp)
}

// Forget removes a previously discovered endpoint, e.g. on SEDP dispose
// or participant loss.
func (r *TopicRegistry) Forget(id guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.byGUID[id]
	if !ok {
		return
	}
	delete(r.byGUID, id)
	r.removeFromTopicLocked(info)
}

func (r *TopicRegistry) removeFromTopicLocked(info *EndpointInfo) {
	bucket := r.byTopic[info.TopicName]
	for i, e := range bucket {
		if e.GUID.Equal(info.GUID) {
			r.byTopic[info.TopicName] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
}

// Candidates returns every known endpoint of the opposite Kind on topic,
// for matching against a local endpoint.
func (r *TopicRegistry) Candidates(topic string, opposite EndpointKind) []EndpointInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []EndpointInfo
	for _, e := range r.byTopic[topic] {
		if e.Kind == opposite {
			out = append(out, *e)
		}
	}
	return out
}

// ForgetParticipant removes every endpoint belonging to prefix, called
// when ParticipantDB reports a lost lease.
func (r *TopicRegistry) ForgetParticipant(prefix guid.Prefix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, info := range r.byGUID {
		if id.Prefix == prefix {
			delete(r.byGUID, id)
			r.removeFromTopicLocked(info)
		}
	}
}
