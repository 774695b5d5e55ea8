package discovery

// DialectEncoder is a per-vendor capability: given a newly-discovered
// participant, it produces whatever extra opening sequence that vendor's
// RTPS stack expects before it will complete discovery (e.g. some
// implementations wait for a service-request ACKNACK before publishing
// their SEDP endpoints). The discovery FSM holds a DialectEncoder value
// and calls it without knowing which vendor is on the other end, the
// same capability-interface-over-inheritance shape
// core/crypto/nike/hybrid/hybrid.go's Scheme gives pluggable NIKE
// backends: the FSM is written once against the interface, and adding a
// vendor means adding an implementation, not touching the FSM.
type DialectEncoder interface {
	// Name identifies the dialect for logging.
	Name() string
	// Opening returns the submessages (already serialized) to send to a
	// newly-discovered participant with the given vendor id, or nil if
	// this dialect requires no special opening sequence.
	Opening(vendorID [2]byte) [][]byte
}

// VendorID is the RTPS vendor id this implementation announces in its
// own SPDP participant data. 0x01 is unassigned in the OMG vendor id
// registry at the time of writing and is used here as a good-citizen
// placeholder pending a real vendor id assignment.
var VendorID = [2]byte{0x01, 0xff}

// defaultDialect performs no vendor-specific handshake, suitable for
// peers that are other instances of this implementation or any RTPS
// v2.4-compliant stack that needs no special opening.
type defaultDialect struct{}

func (defaultDialect) Name() string { return "rtps-default" }

func (defaultDialect) Opening(vendorID [2]byte) [][]byte { return nil }

// DefaultDialect is the DialectEncoder used when no vendor-specific
// dialect is registered for a peer's vendor id.
var DefaultDialect DialectEncoder = defaultDialect{}

// DialectRegistry maps a peer's RTPS vendor id to the DialectEncoder
// that knows how to complete discovery with it.
type DialectRegistry struct {
	byVendor map[[2]byte]DialectEncoder
}

// NewDialectRegistry builds a registry with no vendor-specific dialects
// registered; Lookup falls back to DefaultDialect for every vendor id.
func NewDialectRegistry() *DialectRegistry {
	return &DialectRegistry{byVendor: make(map[[2]byte]DialectEncoder)}
}

// Register associates a DialectEncoder with a vendor id.
func (r *DialectRegistry) Register(vendorID [2]byte, enc DialectEncoder) {
	r.byVendor[vendorID] = enc
}

// Lookup returns the DialectEncoder for vendorID, or DefaultDialect if
// none is registered.
func (r *DialectRegistry) Lookup(vendorID [2]byte) DialectEncoder {
	if enc, ok := r.byVendor[vendorID]; ok {
		return enc
	}
	return DefaultDialect
}
