// Package config loads this implementation's runtime configuration from
// a TOML file: domain addressing, transport preference, persistence, and
// the heartbeat/NACK timing knobs a DomainParticipant is built from.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/ddsgo/rdds/qos"
)

// TransportPreference orders which carrier kind a Multiplexer prefers
// when more than one can reach a given peer.
type TransportPreference string

const (
	PreferUDP  TransportPreference = "udp"
	PreferTCP  TransportPreference = "tcp"
	PreferQUIC TransportPreference = "quic"
	PreferSHM  TransportPreference = "shm"
)

// PersistenceConfig configures the optional segmented on-disk log kept
// for Durability>=TRANSIENT_LOCAL writers.
type PersistenceConfig struct {
	Enabled   bool   `toml:"enabled"`
	Directory string `toml:"directory"`
	Encrypt   bool   `toml:"encrypt"`
}

// TimingConfig overrides this implementation's default protocol timers.
// A zero value for any field leaves the corresponding package default in
// place.
type TimingConfig struct {
	SPDPAnnouncePeriodMS int `toml:"spdp_announce_period_ms"`
	LeaseDurationMS      int `toml:"lease_duration_ms"`
	HeartbeatPeriodMS    int `toml:"heartbeat_period_ms"`
	NackCheckIntervalMS  int `toml:"nack_check_interval_ms"`
}

// Config is the top-level TOML document this package decodes, one
// DomainParticipant's worth of runtime settings plus its default QoS.
type Config struct {
	DomainID            uint32              `toml:"domain_id"`
	TransportPreference TransportPreference `toml:"transport_preference"`
	AllowQUIC           bool                `toml:"allow_quic"`
	BindAddress         string              `toml:"bind_address"`

	Persistence PersistenceConfig `toml:"persistence"`
	Timing      TimingConfig      `toml:"timing"`

	DefaultQoS QosConfig `toml:"default_qos"`
}

// QosConfig is the subset of qos.Policies a profile can override from
// TOML; anything left zero-valued falls back to qos.Default().
type QosConfig struct {
	Reliable       bool `toml:"reliable"`
	TransientLocal bool `toml:"transient_local"`
	KeepAll        bool `toml:"keep_all"`
	HistoryDepth   int  `toml:"history_depth"`
}

// Policies builds a qos.Policies starting from qos.Default() and
// applying every field QosConfig sets.
func (c QosConfig) Policies() qos.Policies {
	p := qos.Default()
	if c.Reliable {
		p.Reliability = qos.Reliable
	}
	if c.TransientLocal {
		p.Durability = qos.TransientLocal
	}
	if c.KeepAll {
		p.History = qos.KeepAll
	}
	if c.HistoryDepth > 0 {
		p.HistoryDepth = c.HistoryDepth
	}
	return p
}

// Default returns a Config with this implementation's built-in defaults,
// the starting point Load merges a file's settings into.
func Default() Config {
	return Config{
		TransportPreference: PreferUDP,
		BindAddress:         "0.0.0.0:0",
	}
}

// Load decodes the TOML file at path into a Config seeded with Default.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: %s has unrecognized keys: %v", path, undecoded)
	}
	return cfg, nil
}
