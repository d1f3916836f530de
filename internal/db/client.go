package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing. A sweep holds one connection per concurrent charge; the
// API and the admin surface share the rest.
const (
	maxConns        = 16
	minConns        = 2
	maxConnIdleTime = 5 * time.Minute
	applicationName = "coinhost-billing"
)

// Client is the PostgreSQL ledger: balances, servers, transactions, audit
// logs and billing settings.
type Client struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Client, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL is required")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = maxConns
	config.MinConns = minConns
	config.MaxConnIdleTime = maxConnIdleTime
	config.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{pool: pool}, nil
}

func (c *Client) Close() {
	c.pool.Close()
}

// Health fails when the ledger is unreachable or not migrated.
func (c *Client) Health(ctx context.Context) error {
	var settings int
	if err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM settings`).Scan(&settings); err != nil {
		return fmt.Errorf("ledger unavailable: %w", err)
	}
	return nil
}
