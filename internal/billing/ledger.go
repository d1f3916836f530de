package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger is the persistent store of balances, billing windows, transactions
// and audit events. Every method documented as atomic must apply all of its
// writes or none of them.
type Ledger interface {
	GetBillingRates(ctx context.Context) (*Rates, error)
	GetUserBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	GetServer(ctx context.Context, serverID uuid.UUID) (*Server, error)

	// FindServersDueForBilling returns unpaused servers whose prepaid period
	// ended at or before now, or that have no prepaid period at all.
	FindServersDueForBilling(ctx context.Context, now time.Time) ([]Server, error)

	// ChargeAndExtend atomically debits the user, advances the server's
	// billing window and appends a BILLING transaction. It returns
	// *InsufficientFundsError without writing anything if the balance is
	// too low at commit time, and ErrBillingStateChanged if the server is
	// no longer in charge.Expect.
	ChargeAndExtend(ctx context.Context, charge Charge) (int64, error)

	// ExtendBilling sets next_billing_at without touching any balance,
	// provided the server is still in expect.
	ExtendBilling(ctx context.Context, serverID uuid.UUID, expect Window, next time.Time) error

	// RefundCharge atomically credits the user, clears next_billing_at,
	// appends a BILLING transaction and records the audit event.
	RefundCharge(ctx context.Context, refund Refund) error

	// MarkPaused atomically sets paused, clears next_billing_at, stamps
	// suspended_at and records the audit event.
	MarkPaused(ctx context.Context, serverID uuid.UUID, at time.Time, event AuditEvent) error

	// MarkResumed atomically clears paused and suspended_at and records the
	// audit event.
	MarkResumed(ctx context.Context, serverID uuid.UUID, event AuditEvent) error

	CreateServer(ctx context.Context, server *Server) error
	DeleteServer(ctx context.Context, serverID uuid.UUID) error
	RecordAuditEvent(ctx context.Context, event AuditEvent) error
}

// Gateway is the remote panel that actually runs servers. Suspend and
// Unsuspend are idempotent; DeleteServer treats an already-deleted server
// as success.
type Gateway interface {
	CreateServer(ctx context.Context, spec ProvisionSpec) (int, error)
	SuspendServer(ctx context.Context, remoteID int) error
	UnsuspendServer(ctx context.Context, remoteID int) error
	DeleteServer(ctx context.Context, remoteID int) error
}
