package cdr

// PID identifies a parameter in an RTPS parameter-list stream.
type PID uint16

// PIDSentinel terminates a parameter-list stream.
const PIDSentinel PID = 0x0001

// Well-known PIDs referenced by discovery (distilled spec §6). Only the
// subset this module interprets is named here; any PID not in this list is
// still round-tripped (skip-preserving) by Parameter/ParameterList.
const (
	PIDParticipantGUID               PID = 0x0050
	PIDTopicName                     PID = 0x0005
	PIDTypeName                      PID = 0x0007
	PIDDurability                    PID = 0x001D
	PIDDurabilityService             PID = 0x001E
	PIDDeadline                      PID = 0x0023
	PIDLatencyBudget                 PID = 0x0027
	PIDLiveliness                    PID = 0x001B
	PIDReliability                   PID = 0x001A
	PIDOwnership                     PID = 0x001F
	PIDOwnershipStrength             PID = 0x0006
	PIDPartition                     PID = 0x0029
	PIDPresentation                  PID = 0x0021
	PIDHistory                       PID = 0x0040
	PIDResourceLimits                PID = 0x0041
	PIDEndpointGUID                  PID = 0x005A
	PIDUnicastLocator                PID = 0x002F
	PIDMulticastLocator              PID = 0x0030
	PIDDefaultUnicastLocator         PID = 0x0031
	PIDMetatrafficUnicastLocator     PID = 0x0032
	PIDMetatrafficMulticastLocator   PID = 0x0033
	PIDProtocolVersion               PID = 0x0015
	PIDVendorID                      PID = 0x0016
	PIDBuiltinEndpointSet            PID = 0x0058
	PIDParticipantLeaseDuration      PID = 0x0002
	PIDUserData                      PID = 0x002C
	PIDTypeObject                    PID = 0x0072
)

// Parameter is one (pid, value) entry of a parameter-list stream. Value is
// the raw, already-length-framed payload; interpretation is the caller's
// job, keeping unknown PIDs forward-compatible (they round-trip untouched).
type Parameter struct {
	PID   PID
	Value []byte
}

// DecodeParameterList reads a PID/length/value stream until PIDSentinel or
// the buffer is exhausted. Each value is padded to a 4-byte boundary on the
// wire and the length field counts that padding, so Value includes any
// padding bytes the sender wrote.
func (d *Decoder) DecodeParameterList() ([]Parameter, error) {
	var params []Parameter
	for {
		pid, err := d.U16()
		if err != nil {
			return nil, err
		}
		length, err := d.U16()
		if err != nil {
			return nil, err
		}
		if PID(pid) == PIDSentinel {
			return params, nil
		}
		if d.Remaining() < int(length) {
			return nil, ErrInvalidFormat
		}
		val, err := d.Bytes(int(length))
		if err != nil {
			return nil, ErrInvalidFormat
		}
		buf := make([]byte, len(val))
		copy(buf, val)
		params = append(params, Parameter{PID: PID(pid), Value: buf})
	}
}

// EncodeParameterList writes params followed by PIDSentinel. Each value is
// padded with zero bytes to the next 4-byte boundary, per RTPS parameter
// list encoding; the length field records the padded length.
func (e *Encoder) EncodeParameterList(params []Parameter) error {
	for _, p := range params {
		padded := (len(p.Value) + 3) &^ 3
		if err := e.U16(uint16(p.PID)); err != nil {
			return err
		}
		if err := e.U16(uint16(padded)); err != nil {
			return err
		}
		if err := e.PutBytes(p.Value); err != nil {
			return err
		}
		for i := len(p.Value); i < padded; i++ {
			if err := e.U8(0); err != nil {
				return err
			}
		}
	}
	if err := e.U16(uint16(PIDSentinel)); err != nil {
		return err
	}
	return e.U16(0)
}

// Find returns the first parameter with the given PID, if present.
func Find(params []Parameter, pid PID) (Parameter, bool) {
	for _, p := range params {
		if p.PID == pid {
			return p, true
		}
	}
	return Parameter{}, false
}

// FindAll returns every parameter with the given PID, in order, since some
// PIDs (e.g. PIDUnicastLocator) may repeat.
func FindAll(params []Parameter, pid PID) []Parameter {
	var out []Parameter
	for _, p := range params {
		if p.PID == pid {
			out = append(out, p)
		}
	}
	return out
}
