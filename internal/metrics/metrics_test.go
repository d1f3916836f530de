package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SweepRuns.WithLabelValues("ok").Inc()
	m.ChargeTotal.WithLabelValues("sweep", ResultCharged).Inc()
	m.PauseTotal.WithLabelValues(ReasonUser).Inc()
	m.GatewayFailures.WithLabelValues("suspend").Inc()
	m.GatewayDuration.WithLabelValues("suspend").Observe(0.1)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"billing_sweep_runs_total",
		"billing_sweep_duration_seconds",
		"billing_sweep_candidates",
		"billing_charge_total",
		"billing_coins_charged_total",
		"billing_pause_total",
		"billing_gateway_failures_total",
		"billing_gateway_duration_seconds",
		"billing_refund_total",
		"billing_create_rollback_total",
	} {
		assert.True(t, names[want], "metric %s not registered", want)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestObserveGateway(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveGateway("suspend", time.Now(), nil)
	m.ObserveGateway("suspend", time.Now(), errors.New("boom"))
	m.ObserveGateway("unsuspend", time.Now(), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayFailures.WithLabelValues("suspend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayFailures.WithLabelValues("unsuspend")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.GatewayDuration))
}
