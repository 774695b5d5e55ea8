package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRegistryRegistersWithoutPanicking(t *testing.T) {
	r := New()
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { r.MustRegister(reg) })
}

func TestRegistryCountersIncrement(t *testing.T) {
	r := New()
	r.HeartbeatsSent.Inc()
	r.HeartbeatsSent.Inc()
	require.Equal(t, float64(2), counterValue(t, r.HeartbeatsSent))

	r.MalformedMessages.WithLabelValues("spdp").Inc()
	require.Equal(t, float64(1), counterValue(t, r.MalformedMessages.WithLabelValues("spdp")))
}
