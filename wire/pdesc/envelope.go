// Package pdesc implements the optional signed participant descriptor
// envelope: a CBOR-wrapped, optionally-signed blob a participant may
// attach to its SPDP announcement so a peer that cares about origin
// authentication can verify it before trusting the announcement. This
// sits alongside (not instead of) the plain RTPS parameter-list SPDP
// payload every peer must still understand.
package pdesc

import (
	"errors"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudflare/circl/sign/schemes"
)

// ErrUnknownScheme is returned when a signed envelope names a signature
// scheme this build does not have registered.
var ErrUnknownScheme = errors.New("pdesc: unknown signature scheme")

// ErrBadSignature is returned by Verify when the envelope's signature
// does not validate against its embedded public key.
var ErrBadSignature = errors.New("pdesc: signature verification failed")

// Envelope is the CBOR-serialized wrapper around a participant's raw
// SPDP payload (the RTPS parameter list bytes), the way
// core/pki/descriptor.go wraps a MixDescriptor for transport: payload
// plus scheme name plus signature, all CBOR-marshaled together so one
// Unmarshal recovers the whole thing.
type Envelope struct {
	Payload   []byte
	Scheme    string // signature scheme name, empty if unsigned
	PublicKey []byte
	Signature []byte
}

// Wrap serializes payload unsigned.
func Wrap(payload []byte) ([]byte, error) {
	return cbor.Marshal(Envelope{Payload: payload})
}

// Sign serializes payload and signs it with the named circl signature
// scheme (e.g. "Ed25519"), the same shape as
// core/pki/descriptor.go's SignDescriptor: sign the canonical bytes,
// attach the signature and the signer's public key so a verifier with
// no prior key exchange can still check the signature (authenticity of
// the key itself is then a discovery-layer policy decision, e.g.
// trust-on-first-use).
func Sign(payload []byte, schemeName string, seed []byte) ([]byte, error) {
	scheme := schemes.ByName(schemeName)
	if scheme == nil {
		return nil, ErrUnknownScheme
	}
	pub, priv := scheme.DeriveKey(seed)
	sig := scheme.Sign(priv, payload, nil)
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(Envelope{
		Payload:   payload,
		Scheme:    schemeName,
		PublicKey: pubBytes,
		Signature: sig,
	})
}

// Open unmarshals a CBOR envelope, verifying its signature if present.
// Returns the raw SPDP payload bytes on success.
func Open(raw []byte) ([]byte, error) {
	var env Envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Scheme == "" {
		return env.Payload, nil
	}
	scheme := schemes.ByName(env.Scheme)
	if scheme == nil {
		return nil, ErrUnknownScheme
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(env.PublicKey)
	if err != nil {
		return nil, err
	}
	if !scheme.Verify(pub, env.Payload, env.Signature, nil) {
		return nil, ErrBadSignature
	}
	return env.Payload, nil
}
