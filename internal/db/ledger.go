package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/coinhost/billing/internal/billing"
)

// serverColumns is the list of columns to select for server queries
const serverColumns = `id, user_id, remote_id, name, ram, cpu, disk, databases, allocations, backups,
    paused, suspended_at, last_billed_at, next_billing_at, created_at`

// scanServer scans a database row into a billing.Server
func scanServer(row interface{ Scan(...any) error }) (*billing.Server, error) {
	var s billing.Server
	err := row.Scan(
		&s.ID, &s.UserID, &s.RemoteID, &s.Name,
		&s.RAM, &s.CPU, &s.Disk, &s.Databases, &s.Allocations, &s.Backups,
		&s.Paused, &s.SuspendedAt, &s.LastBilledAt, &s.NextBillingAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetUserBalance returns the coin balance of a user.
func (c *Client) GetUserBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var coins int64
	err := c.pool.QueryRow(ctx, `SELECT coins FROM users WHERE id = $1`, userID).Scan(&coins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, billing.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return coins, nil
}

// GetServer retrieves a server by its ID.
func (c *Client) GetServer(ctx context.Context, serverID uuid.UUID) (*billing.Server, error) {
	query := fmt.Sprintf(`SELECT %s FROM servers WHERE id = $1`, serverColumns)

	server, err := scanServer(c.pool.QueryRow(ctx, query, serverID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrServerNotFound
		}
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return server, nil
}

// FindServersDueForBilling returns unpaused servers whose prepaid hour ended
// at or before now, or that were never prepaid.
func (c *Client) FindServersDueForBilling(ctx context.Context, now time.Time) ([]billing.Server, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM servers
		WHERE paused = false
		  AND (next_billing_at IS NULL OR next_billing_at <= $1)
		ORDER BY next_billing_at NULLS FIRST, created_at
	`, serverColumns)

	return c.queryServers(ctx, query, now)
}

func (c *Client) queryServers(ctx context.Context, query string, args ...any) ([]billing.Server, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query servers: %w", err)
	}
	defer rows.Close()

	var servers []billing.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate servers: %w", err)
	}
	return servers, nil
}

// ChargeAndExtend debits the user, advances the server's billing window and
// appends a BILLING transaction in one database transaction. The user row is
// locked for the duration, so concurrent charges against the same balance
// are serialized.
//
// The window only moves if the server still matches charge.Expect; a
// concurrent UPDATE re-evaluates that condition after the row lock clears.
func (c *Client) ChargeAndExtend(ctx context.Context, charge billing.Charge) (int64, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var balance int64
	err = tx.QueryRow(ctx, `SELECT coins FROM users WHERE id = $1 FOR UPDATE`, charge.UserID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, billing.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to lock user: %w", err)
	}
	if balance < charge.Amount {
		return 0, &billing.InsufficientFundsError{Required: charge.Amount, Available: balance}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE servers
		SET last_billed_at = $3, next_billing_at = $4
		WHERE id = $1 AND user_id = $2
		  AND paused = $5 AND next_billing_at IS NOT DISTINCT FROM $6
	`, charge.ServerID, charge.UserID, charge.At, charge.NextBillingAt, charge.Expect.Paused, charge.Expect.NextBillingAt)
	if err != nil {
		return 0, fmt.Errorf("failed to extend billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, windowMismatch(ctx, tx, charge.ServerID)
	}

	var after int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET coins = coins - $2 WHERE id = $1 RETURNING coins`,
		charge.UserID, charge.Amount,
	).Scan(&after)
	if err != nil {
		return 0, fmt.Errorf("failed to debit user: %w", err)
	}

	if err := insertTransaction(ctx, tx, charge.UserID, billing.TransactionBilling, -charge.Amount, charge.Description); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit charge: %w", err)
	}
	return after, nil
}

// ExtendBilling sets next_billing_at without touching any balance.
func (c *Client) ExtendBilling(ctx context.Context, serverID uuid.UUID, expect billing.Window, next time.Time) error {
	tag, err := c.pool.Exec(ctx, `
		UPDATE servers SET next_billing_at = $2
		WHERE id = $1 AND paused = $3 AND next_billing_at IS NOT DISTINCT FROM $4
	`, serverID, next, expect.Paused, expect.NextBillingAt)
	if err != nil {
		return fmt.Errorf("failed to extend billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return windowMismatch(ctx, c.pool, serverID)
	}
	return nil
}

// windowMismatch tells a vanished server apart from one whose billing
// window moved under a conditional update.
func windowMismatch(ctx context.Context, q execer, serverID uuid.UUID) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM servers WHERE id = $1)`, serverID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check server: %w", err)
	}
	if !exists {
		return billing.ErrServerNotFound
	}
	return billing.ErrBillingStateChanged
}

// RefundCharge credits the user, clears the server's billing window and
// records the refund and its audit event in one database transaction.
func (c *Client) RefundCharge(ctx context.Context, refund billing.Refund) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if refund.Amount > 0 {
		tag, err := tx.Exec(ctx, `UPDATE users SET coins = coins + $2 WHERE id = $1`, refund.UserID, refund.Amount)
		if err != nil {
			return fmt.Errorf("failed to credit user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return billing.ErrUserNotFound
		}
		if err := insertTransaction(ctx, tx, refund.UserID, billing.TransactionBilling, refund.Amount, refund.Description); err != nil {
			return err
		}
	}

	tag, err := tx.Exec(ctx, `UPDATE servers SET next_billing_at = NULL WHERE id = $1`, refund.ServerID)
	if err != nil {
		return fmt.Errorf("failed to clear billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrServerNotFound
	}

	if err := insertAuditEvent(ctx, tx, refund.Audit); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit refund: %w", err)
	}
	return nil
}

// MarkPaused records a confirmed suspend: the server is paused, its billing
// window cleared and the audit event written together.
func (c *Client) MarkPaused(ctx context.Context, serverID uuid.UUID, at time.Time, event billing.AuditEvent) error {
	return c.updateWithAudit(ctx, `
		UPDATE servers
		SET paused = true, next_billing_at = NULL, suspended_at = $2
		WHERE id = $1
	`, []any{serverID, at}, event)
}

// MarkResumed records a confirmed unsuspend together with its audit event.
func (c *Client) MarkResumed(ctx context.Context, serverID uuid.UUID, event billing.AuditEvent) error {
	return c.updateWithAudit(ctx, `
		UPDATE servers
		SET paused = false, suspended_at = NULL
		WHERE id = $1
	`, []any{serverID}, event)
}

func (c *Client) updateWithAudit(ctx context.Context, query string, args []any, event billing.AuditEvent) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrServerNotFound
	}

	if err := insertAuditEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", event.Action, err)
	}
	return nil
}

// CreateServer inserts a new server record.
func (c *Client) CreateServer(ctx context.Context, server *billing.Server) error {
	if server.ID == uuid.Nil {
		server.ID = uuid.New()
	}

	query := fmt.Sprintf(`
		INSERT INTO servers (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, serverColumns)

	createdAt := server.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
		server.CreatedAt = createdAt
	}

	_, err := c.pool.Exec(ctx, query,
		server.ID, server.UserID, server.RemoteID, server.Name,
		server.RAM, server.CPU, server.Disk, server.Databases, server.Allocations, server.Backups,
		server.Paused, server.SuspendedAt, server.LastBilledAt, server.NextBillingAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return nil
}

// DeleteServer removes a server record.
func (c *Client) DeleteServer(ctx context.Context, serverID uuid.UUID) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, serverID)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrServerNotFound
	}
	return nil
}

// RecordAuditEvent appends an audit log entry.
func (c *Client) RecordAuditEvent(ctx context.Context, event billing.AuditEvent) error {
	return insertAuditEvent(ctx, c.pool, event)
}

func insertTransaction(ctx context.Context, q execer, userID uuid.UUID, txType string, amount int64, description string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO transactions (user_id, type, amount, description, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, userID, txType, amount, description)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func insertAuditEvent(ctx context.Context, q execer, event billing.AuditEvent) error {
	details := event.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO audit_logs (action, user_id, server_id, details, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, event.Action, event.UserID, event.ServerID, detailsJSON)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

var _ billing.Ledger = (*Client)(nil)
