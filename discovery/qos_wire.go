package discovery

import (
	"time"

	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/wire/cdr"
)

// encodeQoSParameters serializes the Policies that participate in endpoint
// matching (distilled spec §4.5), plus OwnershipStrength, History,
// ResourceLimits and Presentation, as RTPS parameters, each a
// small fixed-layout CDR struct padded to the parameter list's 4-byte
// alignment by EncodeParameterList.
func encodeQoSParameters(p qos.Policies) []cdr.Parameter {
	var params []cdr.Parameter

	params = append(params, cdr.Parameter{PID: cdr.PIDReliability, Value: u32(uint32(p.Reliability))})
	params = append(params, cdr.Parameter{PID: cdr.PIDDurability, Value: u32(uint32(p.Durability))})
	params = append(params, cdr.Parameter{PID: cdr.PIDOwnership, Value: u32(uint32(p.Ownership))})
	params = append(params, cdr.Parameter{PID: cdr.PIDOwnershipStrength, Value: u32(uint32(p.OwnershipStrength))})
	params = append(params, cdr.Parameter{PID: cdr.PIDLiveliness, Value: append(u32(uint32(p.Liveliness)), durationBytes(p.LivelinessLeaseDur)...)})
	params = append(params, cdr.Parameter{PID: cdr.PIDDeadline, Value: durationBytes(p.Deadline)})
	params = append(params, cdr.Parameter{PID: cdr.PIDLatencyBudget, Value: durationBytes(p.LatencyBudget)})
	params = append(params, cdr.Parameter{PID: cdr.PIDHistory, Value: append(u32(uint32(p.History)), u32(uint32(p.HistoryDepth))...)})
	params = append(params, cdr.Parameter{
		PID: cdr.PIDResourceLimits,
		Value: concat(
			u32(uint32(p.ResourceLimitsMaxSamples)),
			u32(uint32(p.ResourceLimitsMaxInstances)),
			u32(uint32(p.ResourceLimitsMaxSamplesPerInstance)),
		),
	})
	params = append(params, cdr.Parameter{
		PID:   cdr.PIDPresentation,
		Value: concat(u32(uint32(p.PresentationAccessScope)), boolByte(p.PresentationCoherent), boolByte(p.PresentationOrdered)),
	})
	for _, part := range p.Partitions {
		params = append(params, cdr.Parameter{PID: cdr.PIDPartition, Value: nulTerminated(part)})
	}
	return params
}

func decodeQoSParameters(params []cdr.Parameter) qos.Policies {
	p := qos.Default()
	for _, param := range params {
		switch param.PID {
		case cdr.PIDReliability:
			p.Reliability = qos.ReliabilityKind(readU32(param.Value))
		case cdr.PIDDurability:
			p.Durability = qos.DurabilityKind(readU32(param.Value))
		case cdr.PIDOwnership:
			p.Ownership = qos.OwnershipKind(readU32(param.Value))
		case cdr.PIDOwnershipStrength:
			p.OwnershipStrength = int32(readU32(param.Value))
		case cdr.PIDLiveliness:
			if len(param.Value) >= 4 {
				p.Liveliness = qos.LivelinessKind(readU32(param.Value[:4]))
			}
			if len(param.Value) >= 12 {
				p.LivelinessLeaseDur = readDuration(param.Value[4:])
			}
		case cdr.PIDDeadline:
			p.Deadline = readDuration(param.Value)
		case cdr.PIDLatencyBudget:
			p.LatencyBudget = readDuration(param.Value)
		case cdr.PIDHistory:
			if len(param.Value) >= 8 {
				p.History = qos.HistoryKind(readU32(param.Value[:4]))
				p.HistoryDepth = int(readU32(param.Value[4:8]))
			}
		case cdr.PIDResourceLimits:
			if len(param.Value) >= 12 {
				p.ResourceLimitsMaxSamples = int(int32(readU32(param.Value[0:4])))
				p.ResourceLimitsMaxInstances = int(int32(readU32(param.Value[4:8])))
				p.ResourceLimitsMaxSamplesPerInstance = int(int32(readU32(param.Value[8:12])))
			}
		case cdr.PIDPresentation:
			if len(param.Value) >= 6 {
				p.PresentationAccessScope = qos.PresentationAccessScope(readU32(param.Value[:4]))
				p.PresentationCoherent = param.Value[4] != 0
				p.PresentationOrdered = param.Value[5] != 0
			}
		case cdr.PIDPartition:
			p.Partitions = append(p.Partitions, fromNulTerminated(param.Value))
		}
	}
	return p
}

func u32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func readU32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func boolByte(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// durationBytes encodes a qos.Duration as {seconds u32, nanos u32,
// infinite u32}, matching the DDS Duration_t wire shape with an extra
// infinite flag since DDS itself signals infinite via sentinel
// seconds/nanos values this implementation prefers to make explicit.
func durationBytes(d qos.Duration) []byte {
	inf := uint32(0)
	if d.Infinite {
		inf = 1
	}
	secs := uint32(d.Value / time.Second)
	nanos := uint32(d.Value % time.Second)
	return concat(u32(secs), u32(nanos), u32(inf))
}

func readDuration(b []byte) qos.Duration {
	if len(b) < 12 {
		return qos.Infinite
	}
	secs := readU32(b[0:4])
	nanos := readU32(b[4:8])
	inf := readU32(b[8:12])
	if inf != 0 {
		return qos.Infinite
	}
	return qos.Finite(time.Duration(secs)*time.Second + time.Duration(nanos))
}
