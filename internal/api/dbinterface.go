package api

import (
	"context"

	"github.com/coinhost/billing/internal/billing"
	"github.com/coinhost/billing/internal/db"
	"github.com/google/uuid"
)

// DBClient defines the database operations required by the API handlers
type DBClient interface {
	Health(ctx context.Context) error
	GetUserByAPIKey(ctx context.Context, key string) (*db.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
	CreateUser(ctx context.Context, email string, panelUserID int, isAdmin bool) (*db.User, error)
	CreditCoins(ctx context.Context, userID uuid.UUID, txType string, amount int64, description string) (int64, error)
	GetServer(ctx context.Context, serverID uuid.UUID) (*billing.Server, error)
	ListServers(ctx context.Context, userID uuid.UUID) ([]billing.Server, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]db.Transaction, error)
	ListAuditLogs(ctx context.Context, serverID uuid.UUID, limit int) ([]db.AuditLog, error)
	GetBillingRates(ctx context.Context) (*billing.Rates, error)
	UpdateBillingRates(ctx context.Context, rates billing.Rates) error
}

// Engine is the billing engine behind the server and billing endpoints.
type Engine interface {
	Estimate(ctx context.Context, res billing.Resources) (string, int64, error)
	CreateServer(ctx context.Context, req billing.CreateServerRequest) (*billing.Server, *billing.ChargeResult, error)
	Pause(ctx context.Context, serverID, actor uuid.UUID) (*billing.Server, error)
	Unpause(ctx context.Context, serverID, actor uuid.UUID) (*billing.Server, error)
	DeleteServer(ctx context.Context, serverID, actor uuid.UUID) error
}

// SweepRunner runs a billing sweep on demand.
type SweepRunner interface {
	RunOnce(ctx context.Context) (*billing.SweepReport, error)
}

// EventSource streams billing events for one user.
type EventSource interface {
	Subscribe(userID uuid.UUID) (<-chan billing.Event, func())
}

// Ensure the production types implement the interfaces
var (
	_ DBClient    = (*db.Client)(nil)
	_ Engine      = (*billing.Service)(nil)
	_ SweepRunner = (*billing.Scheduler)(nil)
	_ EventSource = (*billing.Hub)(nil)
)
