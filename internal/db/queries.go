package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coinhost/billing/internal/billing"
)

// userColumns is the list of columns to select for user queries
const userColumns = `id, email, api_key, coins, panel_user_id, is_admin, created_at`

// scanUser scans a database row into a User struct
func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.APIKey, &u.Coins, &u.PanelUserID, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByAPIKey retrieves the user owning an API key.
func (c *Client) GetUserByAPIKey(ctx context.Context, key string) (*User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE api_key = $1`, userColumns)

	user, err := scanUser(c.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (c *Client) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)

	user, err := scanUser(c.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateUser creates a user with a freshly generated API key.
func (c *Client) CreateUser(ctx context.Context, email string, panelUserID int, isAdmin bool) (*User, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}
	key := "ck_" + hex.EncodeToString(keyBytes)

	query := fmt.Sprintf(`
		INSERT INTO users (id, email, api_key, coins, panel_user_id, is_admin, created_at)
		VALUES ($1, $2, $3, 0, $4, $5, NOW())
		RETURNING %s
	`, userColumns)

	user, err := scanUser(c.pool.QueryRow(ctx, query, uuid.New(), email, key, panelUserID, isAdmin))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// CreditCoins adds coins to a user's balance and records the transaction.
// Amount must be positive; billing debits go through ChargeAndExtend.
func (c *Client) CreditCoins(ctx context.Context, userID uuid.UUID, txType string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var balance int64
	err = tx.QueryRow(ctx, `UPDATE users SET coins = coins + $2 WHERE id = $1 RETURNING coins`, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, billing.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to credit user: %w", err)
	}

	if err := insertTransaction(ctx, tx, userID, txType, amount, description); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit credit: %w", err)
	}
	return balance, nil
}

// ListServers returns a user's servers, newest first.
func (c *Client) ListServers(ctx context.Context, userID uuid.UUID) ([]billing.Server, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM servers
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, serverColumns)

	return c.queryServers(ctx, query, userID)
}

// ListTransactions returns a user's most recent transactions.
func (c *Client) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := c.pool.Query(ctx, `
		SELECT id, user_id, type, amount, description, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

// ListAuditLogs returns the audit trail of a server, newest first.
func (c *Client) ListAuditLogs(ctx context.Context, serverID uuid.UUID, limit int) ([]AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := c.pool.Query(ctx, `
		SELECT id, action, user_id, server_id, details, created_at
		FROM audit_logs
		WHERE server_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var l AuditLog
		if err := rows.Scan(&l.ID, &l.Action, &l.UserID, &l.ServerID, &l.Details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return logs, nil
}
