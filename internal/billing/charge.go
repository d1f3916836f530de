package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/coinhost/billing/internal/metrics"
)

// ChargeUpfront debits one hour of req.Resources from the user and advances
// the server's billing window by one BillingPeriod. It never calls the
// provisioning gateway; callers roll back remote side effects on failure.
//
// When billing is disabled the window is advanced without touching the
// balance. An insufficient balance returns *InsufficientFundsError and
// writes nothing, as does a server that has left req.Expect
// (ErrBillingStateChanged).
func (s *Service) ChargeUpfront(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	now := s.now()
	next := now.Add(BillingPeriod)

	rates, err := s.ledger.GetBillingRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load billing rates: %w", err)
	}

	if !rates.Enabled {
		if err := s.ledger.ExtendBilling(ctx, req.ServerID, req.Expect, next); err != nil {
			return nil, fmt.Errorf("failed to extend billing: %w", err)
		}
		s.metrics.ChargeTotal.WithLabelValues("upfront", metrics.ResultFree).Inc()
		return &ChargeResult{NextBillingAt: next}, nil
	}

	cost, err := ChargeAmount(req.Resources, *rates)
	if err != nil {
		s.logger.Error("cannot compute hourly cost",
			"server_id", req.ServerID,
			"user_id", req.UserID,
			"error", err,
		)
		s.metrics.ChargeTotal.WithLabelValues("upfront", metrics.ResultError).Inc()
		return nil, err
	}

	if cost == 0 {
		if err := s.ledger.ExtendBilling(ctx, req.ServerID, req.Expect, next); err != nil {
			return nil, fmt.Errorf("failed to extend billing: %w", err)
		}
		s.metrics.ChargeTotal.WithLabelValues("upfront", metrics.ResultFree).Inc()
		return &ChargeResult{NextBillingAt: next, BillingEnabled: true}, nil
	}

	balance, err := s.ledger.GetUserBalance(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	if balance < cost {
		s.metrics.ChargeTotal.WithLabelValues("upfront", metrics.ResultInsufficient).Inc()
		return nil, &InsufficientFundsError{Required: cost, Available: balance}
	}

	reason := req.Reason
	if reason == "" {
		reason = "hourly charge"
	}

	after, err := s.ledger.ChargeAndExtend(ctx, Charge{
		UserID:        req.UserID,
		ServerID:      req.ServerID,
		Amount:        cost,
		At:            now,
		NextBillingAt: next,
		Expect:        req.Expect,
		Description:   fmt.Sprintf("%s for server %s", reason, req.ServerID),
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			s.metrics.ChargeTotal.WithLabelValues("upfront", metrics.ResultInsufficient).Inc()
			return nil, err
		}
		s.metrics.ChargeTotal.WithLabelValues("upfront", metrics.ResultError).Inc()
		return nil, fmt.Errorf("failed to charge: %w", err)
	}

	s.metrics.ChargeTotal.WithLabelValues("upfront", metrics.ResultCharged).Inc()
	s.metrics.CoinsCharged.Add(float64(cost))

	s.events.Publish(Event{
		Type:          EventCharged,
		UserID:        req.UserID,
		ServerID:      req.ServerID,
		Coins:         cost,
		NextBillingAt: timePtr(next),
		At:            now,
	})

	return &ChargeResult{
		Charged:        cost,
		NextBillingAt:  next,
		BalanceAfter:   after,
		BillingEnabled: true,
	}, nil
}

// Estimate returns the hourly cost of res under the current rates, both as
// the exact fraction and as the whole coins that would be charged.
func (s *Service) Estimate(ctx context.Context, res Resources) (string, int64, error) {
	rates, err := s.ledger.GetBillingRates(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load billing rates: %w", err)
	}
	cost, err := HourlyCost(res, *rates)
	if err != nil {
		return "", 0, err
	}
	return cost.String(), cost.Ceil().IntPart(), nil
}
