// Package metrics exposes this implementation's Prometheus
// instrumentation: discovery health, matched-endpoint counts, reliability
// protocol traffic, and the fragment-reassembly timeouts a deployment
// needs to notice a struggling participant before an application does.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/gauge this implementation exports, so a
// DomainParticipant (or a test) can either register it against
// prometheus.DefaultRegisterer or an isolated *prometheus.Registry.
type Registry struct {
	MalformedMessages *prometheus.CounterVec
	MatchedEndpoints  *prometheus.GaugeVec

	HeartbeatsSent   prometheus.Counter
	HeartbeatsRecv   prometheus.Counter
	AckNacksSent     prometheus.Counter
	AckNacksRecv     prometheus.Counter
	GapsSent         prometheus.Counter
	GapsRecv         prometheus.Counter
	Retransmissions  prometheus.Counter

	FragmentReassemblyTimeouts prometheus.Counter
}

// New builds a Registry with every metric constructed but not yet
// registered against any prometheus.Registerer.
func New() *Registry {
	return &Registry{
		MalformedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdds",
			Subsystem: "discovery",
			Name:      "malformed_messages_total",
			Help:      "RTPS messages, submessages and SPDP/SEDP payloads dropped for failing to decode.",
		}, []string{"kind"}),
		MatchedEndpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rdds",
			Subsystem: "discovery",
			Name:      "matched_endpoints",
			Help:      "Currently matched remote endpoints, by local entity kind.",
		}, []string{"kind"}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdds", Subsystem: "reliability", Name: "heartbeats_sent_total",
			Help: "HEARTBEAT submessages sent by local DataWriters.",
		}),
		HeartbeatsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdds", Subsystem: "reliability", Name: "heartbeats_received_total",
			Help: "HEARTBEAT submessages received by local DataReaders.",
		}),
		AckNacksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdds", Subsystem: "reliability", Name: "acknacks_sent_total",
			Help: "ACKNACK submessages sent by local DataReaders.",
		}),
		AckNacksRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdds", Subsystem: "reliability", Name: "acknacks_received_total",
			Help: "ACKNACK submessages received by local DataWriters.",
		}),
		GapsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdds", Subsystem: "reliability", Name: "gaps_sent_total",
			Help: "GAP submessages sent by local DataWriters.",
		}),
		GapsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdds", Subsystem: "reliability", Name: "gaps_received_total",
			Help: "GAP submessages received by local DataReaders.",
		}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdds", Subsystem: "reliability", Name: "retransmissions_total",
			Help: "Cached samples resent in response to an ACKNACK.",
		}),
		FragmentReassemblyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdds", Subsystem: "reliability", Name: "fragment_reassembly_timeouts_total",
			Help: "Partially reassembled DATA_FRAG samples dropped after timing out.",
		}),
	}
}

// MustRegister registers every metric in r against reg, panicking (the
// standard client_golang idiom) on a duplicate registration.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.MalformedMessages,
		r.MatchedEndpoints,
		r.HeartbeatsSent,
		r.HeartbeatsRecv,
		r.AckNacksSent,
		r.AckNacksRecv,
		r.GapsSent,
		r.GapsRecv,
		r.Retransmissions,
		r.FragmentReassemblyTimeouts,
	)
}
