package discovery

import (
	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/wire/cdr"
)

// SEDP announces one local writer or reader's full QoS and type
// information to every other participant, across the six built-in SEDP
// endpoints (publications writer/reader, subscriptions writer/reader,
// topics writer/reader) per distilled spec's RTPS wire protocol section.
// Encoding reuses the same PL_CDR parameter-list machinery as SPDP.

// EncodeEndpointData serializes an EndpointInfo as a PL_CDR_LE parameter
// list for transmission over one of the SEDP builtin writers.
func EncodeEndpointData(e EndpointInfo) ([]byte, error) {
	enc := cdr.NewEncoder(cdr.EncapsulationPLCDRLE, 1024)

	guidBytes := e.GUID.Bytes()
	params := []cdr.Parameter{
		{PID: cdr.PIDEndpointGUID, Value: guidBytes[:]},
		{PID: cdr.PIDTopicName, Value: nulTerminated(e.TopicName)},
		{PID: cdr.PIDTypeName, Value: nulTerminated(e.TypeName)},
	}
	for _, l := range e.UnicastLocators {
		params = append(params, cdr.Parameter{PID: cdr.PIDUnicastLocator, Value: encodeLocator(l)})
	}
	for _, l := range e.MulticastLocators {
		params = append(params, cdr.Parameter{PID: cdr.PIDMulticastLocator, Value: encodeLocator(l)})
	}
	params = append(params, encodeQoSParameters(e.QoS)...)

	if err := enc.EncodeParameterList(params); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// DecodeEndpointData parses a SEDP PL_CDR payload into an EndpointInfo.
// kind must be supplied by the caller since it is implied by which of
// the six builtin endpoints delivered the message, not carried on the
// wire.
func DecodeEndpointData(raw []byte, kind EndpointKind) (EndpointInfo, error) {
	var e EndpointInfo
	e.Kind = kind

	dec, _, err := cdr.NewDecoder(raw)
	if err != nil {
		return e, err
	}
	params, err := dec.DecodeParameterList()
	if err != nil {
		return e, err
	}
	for _, p := range params {
		switch p.PID {
		case cdr.PIDEndpointGUID:
			if g, err := guid.FromBytes(p.Value); err == nil {
				e.GUID = g
			}
		case cdr.PIDTopicName:
			e.TopicName = fromNulTerminated(p.Value)
		case cdr.PIDTypeName:
			e.TypeName = fromNulTerminated(p.Value)
		case cdr.PIDUnicastLocator:
			e.UnicastLocators = append(e.UnicastLocators, decodeLocator(p.Value))
		case cdr.PIDMulticastLocator:
			e.MulticastLocators = append(e.MulticastLocators, decodeLocator(p.Value))
		}
	}
	e.QoS = decodeQoSParameters(params)
	return e, nil
}

func nulTerminated(s string) []byte {
	return append([]byte(s), 0)
}

func fromNulTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
