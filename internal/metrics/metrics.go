// Package metrics defines the Prometheus metrics exported by the billing engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Charge results.
const (
	ResultCharged      = "charged"
	ResultInsufficient = "insufficient"
	ResultFree         = "free"
	ResultError        = "error"
	ResultSkipped      = "skipped"
)

// Pause reasons.
const (
	ReasonUser                = "user"
	ReasonInsufficientBalance = "insufficient_balance"
)

// Billing holds the billing engine metrics.
type Billing struct {
	SweepRuns           *prometheus.CounterVec   // by outcome: ok/error/disabled/skipped
	SweepDuration       prometheus.Histogram     // seconds per sweep
	SweepCandidates     prometheus.Gauge         // servers due in the last sweep
	ChargeTotal         *prometheus.CounterVec   // by source and result
	CoinsCharged        prometheus.Counter       // coins debited by billing
	PauseTotal          *prometheus.CounterVec   // by reason
	GatewayFailures     *prometheus.CounterVec   // by operation
	GatewayDuration     *prometheus.HistogramVec // seconds per gateway call, by operation
	RefundTotal         prometheus.Counter       // unpause refunds
	CreateRollbackTotal prometheus.Counter       // servers rolled back after a failed first charge
}

// New registers the billing metrics with reg.
func New(reg prometheus.Registerer) *Billing {
	f := promauto.With(reg)
	return &Billing{
		SweepRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_sweep_runs_total",
				Help: "Total number of billing sweeps",
			},
			[]string{"outcome"},
		),
		SweepDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_sweep_duration_seconds",
				Help:    "Duration of billing sweeps",
				Buckets: prometheus.DefBuckets,
			},
		),
		SweepCandidates: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_sweep_candidates",
				Help: "Number of servers due for billing in the last sweep",
			},
		),
		ChargeTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_charge_total",
				Help: "Total number of hourly charge attempts",
			},
			[]string{"source", "result"}, // source: upfront/sweep
		),
		CoinsCharged: f.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_coins_charged_total",
				Help: "Total coins debited by hourly billing",
			},
		),
		PauseTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_pause_total",
				Help: "Total number of servers paused",
			},
			[]string{"reason"},
		),
		GatewayFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_gateway_failures_total",
				Help: "Total number of failed provisioning gateway calls",
			},
			[]string{"op"},
		),
		GatewayDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_gateway_duration_seconds",
				Help:    "Duration of provisioning gateway calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		RefundTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_refund_total",
				Help: "Total number of charges refunded after a failed unpause",
			},
		),
		CreateRollbackTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_create_rollback_total",
				Help: "Total number of servers rolled back after a failed first charge",
			},
		),
	}
}

// ObserveGateway records the outcome of one gateway call.
func (m *Billing) ObserveGateway(op string, start time.Time, err error) {
	m.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.GatewayFailures.WithLabelValues(op).Inc()
	}
}
