package discovery

import (
	"math/rand"
	"time"

	"github.com/ddsgo/rdds/core/guid"
	"github.com/ddsgo/rdds/core/locator"
	"github.com/ddsgo/rdds/internal/worker"
	"github.com/ddsgo/rdds/qos"
	"github.com/ddsgo/rdds/wire/cdr"
)

// SPDPJitterFraction is the ±20% uniform jitter applied to the SPDP
// announcement period to avoid every participant on a segment announcing
// in lockstep, per distilled spec §4.4.
const SPDPJitterFraction = 0.20

// AnnounceBuilder produces the raw parameter-list bytes of this
// participant's SPDP announcement each time one is due; the announcer
// doesn't know or care about the content, only the cadence.
type AnnounceBuilder func() []byte

// Transmitter sends a fully-framed SPDP datagram to SPDP's well-known
// multicast (and any configured unicast) locators.
type Transmitter interface {
	SendSPDP(payload []byte) error
}

// Announcer periodically (re)sends this participant's SPDP data, the
// jittered-timer loop shape client2/connection.go's connectWorker uses
// for its PKI fallback timer (timer.Reset after each iteration, with a
// HaltCh-guarded select), generalized from "retry on failure" to
// "always re-announce on a jittered schedule regardless of outcome".
type Announcer struct {
	worker.Worker

	period  time.Duration
	build   AnnounceBuilder
	tx      Transmitter
	rng     *rand.Rand
}

// NewAnnouncer builds an Announcer with the given base period (before
// jitter).
func NewAnnouncer(period time.Duration, build AnnounceBuilder, tx Transmitter) *Announcer {
	return &Announcer{
		period: period,
		build:  build,
		tx:     tx,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start begins the background announcement loop.
func (a *Announcer) Start() {
	a.Go(a.loop)
}

// Stop halts the announcement loop; callers should follow with Wait().
func (a *Announcer) Stop() {
	a.Halt()
}

func (a *Announcer) jitteredPeriod() time.Duration {
	delta := float64(a.period) * SPDPJitterFraction
	offset := (a.rng.Float64()*2 - 1) * delta
	return a.period + time.Duration(offset)
}

func (a *Announcer) loop() {
	defer a.Done()

	timer := time.NewTimer(a.jitteredPeriod())
	defer timer.Stop()

	for {
		select {
		case <-a.HaltCh():
			return
		case <-timer.C:
		}

		payload := a.build()
		_ = a.tx.SendSPDP(payload)

		timer.Reset(a.jitteredPeriod())
	}
}

// ParticipantData holds the fields an SPDP payload carries, encoded as a
// parameter list under wire/cdr's PID constants.
type ParticipantData struct {
	GUID                         guid.GUID
	ProtocolVersion              [2]byte
	VendorID                     [2]byte
	DefaultUnicastLocators       []locator.Locator
	MetatrafficUnicastLocators   []locator.Locator
	MetatrafficMulticastLocators []locator.Locator
	LeaseDuration                qos.Duration
	UserData                     []byte
}

// EncodeParticipantData serializes d as an RTPS PL_CDR_LE parameter
// list, per distilled spec §6's wire layout.
func EncodeParticipantData(d ParticipantData) ([]byte, error) {
	enc := cdr.NewEncoder(cdr.EncapsulationPLCDRLE, 512)

	guidBytes := d.GUID.Bytes()
	params := []cdr.Parameter{
		{PID: cdr.PIDParticipantGUID, Value: guidBytes[:]},
		{PID: cdr.PIDProtocolVersion, Value: d.ProtocolVersion[:]},
		{PID: cdr.PIDVendorID, Value: d.VendorID[:]},
	}
	for _, l := range d.DefaultUnicastLocators {
		params = append(params, cdr.Parameter{PID: cdr.PIDDefaultUnicastLocator, Value: encodeLocator(l)})
	}
	for _, l := range d.MetatrafficUnicastLocators {
		params = append(params, cdr.Parameter{PID: cdr.PIDMetatrafficUnicastLocator, Value: encodeLocator(l)})
	}
	for _, l := range d.MetatrafficMulticastLocators {
		params = append(params, cdr.Parameter{PID: cdr.PIDMetatrafficMulticastLocator, Value: encodeLocator(l)})
	}
	if !d.LeaseDuration.Infinite {
		secs := uint32(d.LeaseDuration.Value / time.Second)
		params = append(params, cdr.Parameter{PID: cdr.PIDParticipantLeaseDuration, Value: u32bytes(secs)})
	}
	if len(d.UserData) > 0 {
		params = append(params, cdr.Parameter{PID: cdr.PIDUserData, Value: d.UserData})
	}

	if err := enc.EncodeParameterList(params); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func encodeLocator(l locator.Locator) []byte {
	out := make([]byte, 24)
	out[0] = byte(l.Kind)
	out[1] = byte(l.Kind >> 8)
	out[2] = byte(l.Kind >> 16)
	out[3] = byte(l.Kind >> 24)
	out[4] = byte(l.Port)
	out[5] = byte(l.Port >> 8)
	out[6] = byte(l.Port >> 16)
	out[7] = byte(l.Port >> 24)
	copy(out[8:], l.Address[:])
	return out
}

func decodeLocator(b []byte) locator.Locator {
	var l locator.Locator
	if len(b) < 24 {
		return l
	}
	l.Kind = locator.Kind(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	l.Port = uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24
	copy(l.Address[:], b[8:24])
	return l
}

func u32bytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// DecodeParticipantData parses an SPDP PL_CDR payload into a
// ParticipantData, ignoring any PID it does not recognize (the
// must-understand bit is never set on standard SPDP parameters).
func DecodeParticipantData(raw []byte) (ParticipantData, error) {
	var d ParticipantData
	dec, _, err := cdr.NewDecoder(raw)
	if err != nil {
		return d, err
	}
	params, err := dec.DecodeParameterList()
	if err != nil {
		return d, err
	}
	for _, p := range params {
		switch p.PID {
		case cdr.PIDParticipantGUID:
			if g, err := guid.FromBytes(p.Value); err == nil {
				d.GUID = g
			}
		case cdr.PIDProtocolVersion:
			copy(d.ProtocolVersion[:], p.Value)
		case cdr.PIDVendorID:
			copy(d.VendorID[:], p.Value)
		case cdr.PIDDefaultUnicastLocator:
			d.DefaultUnicastLocators = append(d.DefaultUnicastLocators, decodeLocator(p.Value))
		case cdr.PIDMetatrafficUnicastLocator:
			d.MetatrafficUnicastLocators = append(d.MetatrafficUnicastLocators, decodeLocator(p.Value))
		case cdr.PIDMetatrafficMulticastLocator:
			d.MetatrafficMulticastLocators = append(d.MetatrafficMulticastLocators, decodeLocator(p.Value))
		case cdr.PIDParticipantLeaseDuration:
			if len(p.Value) >= 4 {
				secs := uint32(p.Value[0]) | uint32(p.Value[1])<<8 | uint32(p.Value[2])<<16 | uint32(p.Value[3])<<24
				d.LeaseDuration = qos.Finite(time.Duration(secs) * time.Second)
			}
		case cdr.PIDUserData:
			d.UserData = append([]byte{}, p.Value...)
		}
	}
	if d.LeaseDuration.Value == 0 && !d.LeaseDuration.Infinite {
		d.LeaseDuration = qos.Infinite
	}
	return d, nil
}
