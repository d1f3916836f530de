package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coinhost/billing/internal/metrics"
	"github.com/google/uuid"
)

// Pause suspends a running server at its owner's request. The local record
// only changes after the panel confirms the suspend. The remainder of the
// prepaid hour is not refunded.
func (s *Service) Pause(ctx context.Context, serverID, actor uuid.UUID) (*Server, error) {
	server, err := s.ledger.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if server.Paused {
		return nil, ErrAlreadyPaused
	}

	err = s.callGateway(ctx, "suspend", func(ctx context.Context) error {
		return s.gateway.SuspendServer(ctx, server.RemoteID)
	})
	if err != nil {
		s.logger.Error("failed to suspend server",
			"server_id", server.ID,
			"remote_id", server.RemoteID,
			"error", err,
		)
		return nil, &GatewayError{Op: "suspend", ServerID: server.ID, Err: err}
	}

	now := s.now()
	err = s.ledger.MarkPaused(ctx, server.ID, now, AuditEvent{
		Action:   AuditPause,
		UserID:   uuidPtr(actor),
		ServerID: uuidPtr(server.ID),
		Details:  map[string]any{"remote_id": server.RemoteID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark server paused: %w", err)
	}
	s.metrics.PauseTotal.WithLabelValues(metrics.ReasonUser).Inc()

	server.Paused = true
	server.SuspendedAt = timePtr(now)
	server.NextBillingAt = nil

	s.events.Publish(Event{
		Type:     EventPaused,
		UserID:   server.UserID,
		ServerID: server.ID,
		At:       now,
	})

	return server, nil
}

// Unpause charges the first hour and resumes a paused server. If the charge
// fails the panel is never contacted. If the panel fails to resume the
// server after a successful charge, the charge is refunded and a
// *GatewayError is returned.
func (s *Service) Unpause(ctx context.Context, serverID, actor uuid.UUID) (*Server, error) {
	server, err := s.ledger.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !server.Paused {
		return nil, ErrNotPaused
	}

	result, err := s.ChargeUpfront(ctx, ChargeRequest{
		UserID:    server.UserID,
		ServerID:  server.ID,
		Resources: server.Resources,
		Reason:    "unpause charge",
		Expect:    WindowOf(server),
	})
	if err != nil {
		return nil, err
	}

	err = s.callGateway(ctx, "unsuspend", func(ctx context.Context) error {
		return s.gateway.UnsuspendServer(ctx, server.RemoteID)
	})
	if err != nil {
		s.logger.Error("failed to unsuspend server after charge",
			"server_id", server.ID,
			"remote_id", server.RemoteID,
			"charged", result.Charged,
			"error", err,
		)
		s.refundUnpause(ctx, server, actor, result.Charged, err)
		return nil, &GatewayError{Op: "unsuspend", ServerID: server.ID, Err: err}
	}

	err = s.ledger.MarkResumed(ctx, server.ID, AuditEvent{
		Action:   AuditUnpause,
		UserID:   uuidPtr(actor),
		ServerID: uuidPtr(server.ID),
		Details: map[string]any{
			"charged":         result.Charged,
			"next_billing_at": result.NextBillingAt,
		},
	})
	if err != nil {
		s.undoResume(ctx, server, actor, result.Charged, err)
		return nil, fmt.Errorf("failed to mark server resumed: %w", err)
	}

	server.Paused = false
	server.SuspendedAt = nil
	server.NextBillingAt = timePtr(result.NextBillingAt)

	s.events.Publish(Event{
		Type:          EventUnpaused,
		UserID:        server.UserID,
		ServerID:      server.ID,
		Coins:         result.Charged,
		NextBillingAt: timePtr(result.NextBillingAt),
		At:            s.now(),
	})

	return server, nil
}

// undoResume suspends a server the panel already resumed but the ledger
// still records as paused, then refunds its unpause charge. If the panel
// refuses, the server keeps running unbilled and is logged for manual
// reconciliation.
func (s *Service) undoResume(ctx context.Context, server *Server, actor uuid.UUID, amount int64, cause error) {
	err := s.callGateway(ctx, "suspend", func(ctx context.Context) error {
		return s.gateway.SuspendServer(ctx, server.RemoteID)
	})
	if err != nil {
		s.logger.Error("server running on panel but recorded as paused, reconcile manually",
			"server_id", server.ID,
			"remote_id", server.RemoteID,
			"user_id", server.UserID,
			"charged", amount,
			"cause", cause,
			"error", err,
		)
		return
	}
	s.refundUnpause(ctx, server, actor, amount, cause)
}

func (s *Service) refundUnpause(ctx context.Context, server *Server, actor uuid.UUID, amount int64, cause error) {
	err := s.ledger.RefundCharge(ctx, Refund{
		UserID:      server.UserID,
		ServerID:    server.ID,
		Amount:      amount,
		Description: fmt.Sprintf("refund: failed to unpause server %s", server.Name),
		Audit: AuditEvent{
			Action:   AuditUnpauseRefund,
			UserID:   uuidPtr(actor),
			ServerID: uuidPtr(server.ID),
			Details: map[string]any{
				"refunded": amount,
				"error":    cause.Error(),
			},
		},
	})
	if err != nil {
		s.logger.Error("failed to refund unpause charge",
			"server_id", server.ID,
			"user_id", server.UserID,
			"amount", amount,
			"error", err,
		)
		return
	}
	s.metrics.RefundTotal.Inc()

	if amount > 0 {
		s.events.Publish(Event{
			Type:     EventRefunded,
			UserID:   server.UserID,
			ServerID: server.ID,
			Coins:    amount,
			Message:  "failed to unpause server",
			At:       s.now(),
		})
	}
}

// CreateServer provisions a server on the panel, records it and charges its
// first hour. A failed charge undoes both the panel server and the local
// record before the charge error is returned.
func (s *Service) CreateServer(ctx context.Context, req CreateServerRequest) (*Server, *ChargeResult, error) {
	rates, err := s.ledger.GetBillingRates(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load billing rates: %w", err)
	}
	if rates.Enabled {
		cost, err := ChargeAmount(req.Resources, *rates)
		if err != nil {
			return nil, nil, err
		}
		balance, err := s.ledger.GetUserBalance(ctx, req.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load balance: %w", err)
		}
		if balance < cost {
			return nil, nil, &InsufficientFundsError{Required: cost, Available: balance}
		}
	}

	var remoteID int
	err = s.callGateway(ctx, "create", func(ctx context.Context) error {
		var err error
		remoteID, err = s.gateway.CreateServer(ctx, req.ProvisionSpec)
		return err
	})
	if err != nil {
		return nil, nil, &GatewayError{Op: "create", Err: err}
	}

	// The record starts with a prepaid window so no sweep picks it up
	// before its first charge. Microseconds match the stored precision.
	pending := s.now().Add(BillingPeriod).Truncate(time.Microsecond)
	server := &Server{
		ID:            uuid.New(),
		UserID:        req.UserID,
		RemoteID:      remoteID,
		Name:          req.Name,
		Resources:     req.Resources,
		NextBillingAt: &pending,
		CreatedAt:     s.now(),
	}

	if err := s.ledger.CreateServer(ctx, server); err != nil {
		s.deleteRemote(ctx, server)
		return nil, nil, fmt.Errorf("failed to create server record: %w", err)
	}

	result, err := s.ChargeUpfront(ctx, ChargeRequest{
		UserID:    req.UserID,
		ServerID:  server.ID,
		Resources: req.Resources,
		Reason:    "initial charge",
		Expect:    WindowOf(server),
	})
	if err != nil {
		s.rollbackCreate(ctx, server, err)
		return nil, nil, err
	}

	server.NextBillingAt = timePtr(result.NextBillingAt)
	if result.Charged > 0 {
		server.LastBilledAt = timePtr(s.now())
	}

	s.events.Publish(Event{
		Type:          EventCreated,
		UserID:        server.UserID,
		ServerID:      server.ID,
		Coins:         result.Charged,
		NextBillingAt: timePtr(result.NextBillingAt),
		At:            server.CreatedAt,
	})

	return server, result, nil
}

func (s *Service) rollbackCreate(ctx context.Context, server *Server, cause error) {
	s.logger.Warn("rolling back server after failed initial charge",
		"server_id", server.ID,
		"remote_id", server.RemoteID,
		"error", cause,
	)
	s.metrics.CreateRollbackTotal.Inc()

	s.deleteRemote(ctx, server)

	if err := s.ledger.DeleteServer(ctx, server.ID); err != nil && !errors.Is(err, ErrServerNotFound) {
		s.logger.Error("failed to delete server record during rollback", "server_id", server.ID, "error", err)
	}

	err := s.ledger.RecordAuditEvent(ctx, AuditEvent{
		Action: AuditCreateRollback,
		UserID: uuidPtr(server.UserID),
		Details: map[string]any{
			"server_id": server.ID.String(),
			"remote_id": server.RemoteID,
			"error":     cause.Error(),
		},
	})
	if err != nil {
		s.logger.Error("failed to record rollback audit event", "server_id", server.ID, "error", err)
	}
}

func (s *Service) deleteRemote(ctx context.Context, server *Server) {
	err := s.callGateway(ctx, "delete", func(ctx context.Context) error {
		return s.gateway.DeleteServer(ctx, server.RemoteID)
	})
	if err != nil {
		s.logger.Error("failed to delete panel server", "server_id", server.ID, "remote_id", server.RemoteID, "error", err)
	}
}

// DeleteServer removes the server from the panel and then from the ledger.
// A server already gone from the panel is not an error.
func (s *Service) DeleteServer(ctx context.Context, serverID, actor uuid.UUID) error {
	server, err := s.ledger.GetServer(ctx, serverID)
	if err != nil {
		return err
	}

	err = s.callGateway(ctx, "delete", func(ctx context.Context) error {
		return s.gateway.DeleteServer(ctx, server.RemoteID)
	})
	if err != nil {
		return &GatewayError{Op: "delete", ServerID: server.ID, Err: err}
	}

	if err := s.ledger.DeleteServer(ctx, server.ID); err != nil {
		return fmt.Errorf("failed to delete server record: %w", err)
	}

	err = s.ledger.RecordAuditEvent(ctx, AuditEvent{
		Action: AuditDelete,
		UserID: uuidPtr(actor),
		Details: map[string]any{
			"server_id": server.ID.String(),
			"remote_id": server.RemoteID,
			"name":      server.Name,
		},
	})
	if err != nil {
		s.logger.Warn("failed to record delete audit event", "server_id", server.ID, "error", err)
	}

	s.events.Publish(Event{
		Type:     EventDeleted,
		UserID:   server.UserID,
		ServerID: server.ID,
		At:       s.now(),
	})
	return nil
}
