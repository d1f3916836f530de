package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coinhost/billing/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// SweepReport summarizes one billing sweep.
type SweepReport struct {
	Candidates    int   `json:"candidates"`
	Charged       int   `json:"charged"`
	CoinsCharged  int64 `json:"coins_charged"`
	Paused        int   `json:"paused"`
	SuspendFailed int   `json:"suspend_failed"`
	Skipped       int   `json:"skipped"`
	Errors        int   `json:"errors"`
	Disabled      bool  `json:"disabled"`
}

type sweepOutcome int

const (
	outcomeCharged sweepOutcome = iota
	outcomeFree
	outcomePaused
	outcomeSuspendFailed
	outcomeSkipped
	outcomeError
)

// ProcessBilling charges every server whose prepaid hour has ended and
// suspends the ones whose owner cannot pay. A failure on one server is
// logged and counted; it never stops the rest of the sweep.
//
// An invalid rate configuration skips the whole sweep and returns
// ErrInvalidRate.
func (s *Service) ProcessBilling(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{}

	rates, err := s.ledger.GetBillingRates(ctx)
	if err != nil {
		s.metrics.SweepRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load billing rates: %w", err)
	}
	if !rates.Enabled {
		s.metrics.SweepRuns.WithLabelValues("disabled").Inc()
		report.Disabled = true
		return report, nil
	}
	if err := rates.Validate(); err != nil {
		s.logger.Error("billing sweep skipped: invalid rate configuration", "error", err)
		s.metrics.SweepRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	now := s.now()
	servers, err := s.ledger.FindServersDueForBilling(ctx, now)
	if err != nil {
		s.metrics.SweepRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to find servers due for billing: %w", err)
	}
	report.Candidates = len(servers)
	s.metrics.SweepCandidates.Set(float64(len(servers)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.sweepConcurrency)

	for i := range servers {
		server := servers[i]
		g.Go(func() error {
			outcome, coins := s.billServer(gctx, server, *rates, now)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeCharged:
				report.Charged++
				report.CoinsCharged += coins
			case outcomeFree:
				report.Charged++
			case outcomePaused:
				report.Paused++
			case outcomeSuspendFailed:
				report.SuspendFailed++
			case outcomeSkipped:
				report.Skipped++
			case outcomeError:
				report.Errors++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.SweepRuns.WithLabelValues("ok").Inc()
	s.metrics.SweepDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("billing sweep complete",
		"candidates", report.Candidates,
		"charged", report.Charged,
		"coins_charged", report.CoinsCharged,
		"paused", report.Paused,
		"suspend_failed", report.SuspendFailed,
		"skipped", report.Skipped,
		"errors", report.Errors,
		"duration", time.Since(start),
	)

	return report, nil
}

func (s *Service) billServer(ctx context.Context, server Server, rates Rates, now time.Time) (sweepOutcome, int64) {
	logger := s.logger.With("server_id", server.ID, "user_id", server.UserID)

	cost, err := ChargeAmount(server.Resources, rates)
	if err != nil {
		logger.Error("cannot compute hourly cost", "error", err)
		s.metrics.ChargeTotal.WithLabelValues("sweep", metrics.ResultError).Inc()
		return outcomeError, 0
	}

	next := now.Add(BillingPeriod)
	window := WindowOf(&server)

	if cost == 0 {
		if err := s.ledger.ExtendBilling(ctx, server.ID, window, next); err != nil {
			if s.changedSinceLoad(logger, err) {
				return outcomeSkipped, 0
			}
			logger.Error("failed to extend billing", "error", err)
			s.metrics.ChargeTotal.WithLabelValues("sweep", metrics.ResultError).Inc()
			return outcomeError, 0
		}
		s.metrics.ChargeTotal.WithLabelValues("sweep", metrics.ResultFree).Inc()
		return outcomeFree, 0
	}

	balance, err := s.ledger.GetUserBalance(ctx, server.UserID)
	if err != nil {
		logger.Error("failed to load balance", "error", err)
		s.metrics.ChargeTotal.WithLabelValues("sweep", metrics.ResultError).Inc()
		return outcomeError, 0
	}

	if balance < cost {
		s.metrics.ChargeTotal.WithLabelValues("sweep", metrics.ResultInsufficient).Inc()
		return s.autoPause(ctx, server, cost, balance, now), 0
	}

	after, err := s.ledger.ChargeAndExtend(ctx, Charge{
		UserID:        server.UserID,
		ServerID:      server.ID,
		Amount:        cost,
		At:            now,
		NextBillingAt: next,
		Expect:        window,
		Description:   fmt.Sprintf("hourly charge for server %s", server.Name),
	})
	if err != nil {
		if s.changedSinceLoad(logger, err) {
			return outcomeSkipped, 0
		}
		var insufficient *InsufficientFundsError
		if errors.As(err, &insufficient) {
			s.metrics.ChargeTotal.WithLabelValues("sweep", metrics.ResultInsufficient).Inc()
			return s.autoPause(ctx, server, insufficient.Required, insufficient.Available, now), 0
		}
		logger.Error("failed to charge server", "error", err)
		s.metrics.ChargeTotal.WithLabelValues("sweep", metrics.ResultError).Inc()
		return outcomeError, 0
	}

	s.metrics.ChargeTotal.WithLabelValues("sweep", metrics.ResultCharged).Inc()
	s.metrics.CoinsCharged.Add(float64(cost))
	logger.Debug("server charged", "coins", cost, "balance_after", after)

	s.events.Publish(Event{
		Type:          EventCharged,
		UserID:        server.UserID,
		ServerID:      server.ID,
		Coins:         cost,
		NextBillingAt: timePtr(next),
		At:            now,
	})

	return outcomeCharged, cost
}

// changedSinceLoad reports whether err means the server was paused, resumed,
// deleted or billed after the sweep loaded it.
func (s *Service) changedSinceLoad(logger *slog.Logger, err error) bool {
	if !errors.Is(err, ErrBillingStateChanged) && !errors.Is(err, ErrServerNotFound) {
		return false
	}
	logger.Info("server changed during sweep, skipping", "reason", err)
	s.metrics.ChargeTotal.WithLabelValues("sweep", metrics.ResultSkipped).Inc()
	return true
}

// autoPause suspends server on the panel and records the pause locally. The
// local record is only changed once the panel has confirmed the suspend.
func (s *Service) autoPause(ctx context.Context, server Server, required, available int64, now time.Time) sweepOutcome {
	logger := s.logger.With("server_id", server.ID, "user_id", server.UserID)

	err := s.callGateway(ctx, "suspend", func(ctx context.Context) error {
		return s.gateway.SuspendServer(ctx, server.RemoteID)
	})
	if err != nil {
		logger.Warn("failed to suspend server with insufficient balance",
			"remote_id", server.RemoteID,
			"error", err,
		)
		return outcomeSuspendFailed
	}

	err = s.ledger.MarkPaused(ctx, server.ID, now, AuditEvent{
		Action:   AuditAutoPause,
		UserID:   uuidPtr(server.UserID),
		ServerID: uuidPtr(server.ID),
		Details: map[string]any{
			"reason":    "insufficient_balance",
			"required":  required,
			"available": available,
		},
	})
	if err != nil {
		logger.Error("server suspended but failed to record pause", "error", err)
		return outcomeError
	}

	s.metrics.PauseTotal.WithLabelValues(metrics.ReasonInsufficientBalance).Inc()
	logger.Info("server auto-paused", "required", required, "available", available)

	s.events.Publish(Event{
		Type:     EventAutoPaused,
		UserID:   server.UserID,
		ServerID: server.ID,
		Message:  (&InsufficientFundsError{Required: required, Available: available}).Error(),
		At:       now,
	})

	return outcomePaused
}
