package cdr

// Encapsulation identifies the CDR dialect and byte order of a buffer, per
// distilled spec §6 / RTPS v2.4 table 10.3.
type Encapsulation uint16

const (
	EncapsulationCDRBE   Encapsulation = 0x0000
	EncapsulationCDRLE   Encapsulation = 0x0001
	EncapsulationPLCDRBE Encapsulation = 0x0002
	EncapsulationPLCDRLE Encapsulation = 0x0003
	EncapsulationCDR2BE  Encapsulation = 0x0010
	EncapsulationCDR2LE  Encapsulation = 0x0011
	EncapsulationPL2CDRBE Encapsulation = 0x0012
	EncapsulationPL2CDRLE Encapsulation = 0x0013
)

// LittleEndian reports whether the encapsulation uses little-endian byte order.
func (e Encapsulation) LittleEndian() bool {
	switch e {
	case EncapsulationCDRLE, EncapsulationPLCDRLE, EncapsulationCDR2LE, EncapsulationPL2CDRLE:
		return true
	default:
		return false
	}
}

// IsParameterList reports whether the encapsulation carries a PL_CDR
// parameter-list stream rather than a plain struct.
func (e Encapsulation) IsParameterList() bool {
	switch e {
	case EncapsulationPLCDRBE, EncapsulationPLCDRLE, EncapsulationPL2CDRBE, EncapsulationPL2CDRLE:
		return true
	default:
		return false
	}
}

// IsCDR2 reports whether the encapsulation is an XTypes CDR2 variant
// (DHeader/EMHEADER framing applies to appendable/mutable types).
func (e Encapsulation) IsCDR2() bool {
	switch e {
	case EncapsulationCDR2BE, EncapsulationCDR2LE, EncapsulationPL2CDRBE, EncapsulationPL2CDRLE:
		return true
	default:
		return false
	}
}

func (e Encapsulation) valid() bool {
	switch e {
	case EncapsulationCDRBE, EncapsulationCDRLE, EncapsulationPLCDRBE, EncapsulationPLCDRLE,
		EncapsulationCDR2BE, EncapsulationCDR2LE, EncapsulationPL2CDRBE, EncapsulationPL2CDRLE:
		return true
	default:
		return false
	}
}
