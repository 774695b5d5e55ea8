package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ddsgo/rdds/qos"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rdds.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDecodesKnownFields(t *testing.T) {
	path := writeTOML(t, `
domain_id = 3
transport_preference = "quic"
allow_quic = true
bind_address = "127.0.0.1:7412"

[persistence]
enabled = true
directory = "/var/lib/rdds"

[timing]
heartbeat_period_ms = 250

[default_qos]
reliable = true
history_depth = 16
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 3, cfg.DomainID)
	require.Equal(t, PreferQUIC, cfg.TransportPreference)
	require.True(t, cfg.AllowQUIC)
	require.Equal(t, "127.0.0.1:7412", cfg.BindAddress)
	require.True(t, cfg.Persistence.Enabled)
	require.Equal(t, "/var/lib/rdds", cfg.Persistence.Directory)
	require.Equal(t, 250, cfg.Timing.HeartbeatPeriodMS)

	pol := cfg.DefaultQoS.Policies()
	require.Equal(t, qos.Reliable, pol.Reliability)
	require.Equal(t, 16, pol.HistoryDepth)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, `domain_idd = 3`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestQosConfigPoliciesFallsBackToDefault(t *testing.T) {
	pol := QosConfig{}.Policies()
	require.Equal(t, qos.Default(), pol)
}
