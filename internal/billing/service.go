package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/coinhost/billing/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultGatewayTimeout   = 15 * time.Second
	defaultSweepConcurrency = 1
)

// Service runs charges, sweeps and state transitions against a Ledger and a
// Gateway.
type Service struct {
	ledger  Ledger
	gateway Gateway
	events  EventPublisher
	metrics *metrics.Billing
	logger  *slog.Logger
	now     func() time.Time

	gatewayTimeout   time.Duration
	sweepConcurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Billing) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEvents sets the publisher notified of billing state changes.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithGatewayTimeout bounds every provisioning gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

// WithSweepConcurrency sets how many servers a sweep processes at once.
func WithSweepConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepConcurrency = n
		}
	}
}

// NewService creates a Service.
func NewService(ledger Ledger, gateway Gateway, opts ...Option) *Service {
	s := &Service{
		ledger:           ledger,
		gateway:          gateway,
		events:           nopPublisher{},
		logger:           slog.Default(),
		now:              func() time.Time { return time.Now().UTC() },
		gatewayTimeout:   defaultGatewayTimeout,
		sweepConcurrency: defaultSweepConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	return s
}

// Rates returns the current billing configuration.
func (s *Service) Rates(ctx context.Context) (*Rates, error) {
	return s.ledger.GetBillingRates(ctx)
}

// callGateway runs fn under the gateway timeout and records its outcome.
func (s *Service) callGateway(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveGateway(op, start, err)
	return err
}
