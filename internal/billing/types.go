package billing

import (
	"time"

	"github.com/google/uuid"
)

// BillingPeriod is the length of one prepaid period.
const BillingPeriod = time.Hour

// Transaction types recorded in the ledger.
const (
	TransactionBilling  = "BILLING"
	TransactionPurchase = "PURCHASE"
	TransactionEarn     = "EARN"
	TransactionCoupon   = "COUPON"
	TransactionAFK      = "AFK"
)

// Audit actions written by the billing engine.
const (
	AuditAutoPause      = "server.auto_pause"
	AuditPause          = "server.pause"
	AuditUnpause        = "server.unpause"
	AuditUnpauseRefund  = "server.unpause_refund"
	AuditCreateRollback = "server.create_rollback"
	AuditDelete         = "server.delete"
)

// Resources is the allocation of a server. Only RAM, CPU and Disk are billed
// hourly; the remaining counts are one-time purchases.
type Resources struct {
	RAM         int64 `json:"ram"`  // MB
	CPU         int64 `json:"cpu"`  // percentage points
	Disk        int64 `json:"disk"` // MB
	Databases   int   `json:"databases"`
	Allocations int   `json:"allocations"`
	Backups     int   `json:"backups"`
}

// Server is the billing view of a provisioned server.
type Server struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	RemoteID int       `json:"remote_id"` // panel server id
	Name     string    `json:"name"`
	Resources

	Paused        bool       `json:"paused"`
	SuspendedAt   *time.Time `json:"suspended_at,omitempty"`
	LastBilledAt  *time.Time `json:"last_billed_at,omitempty"`
	NextBillingAt *time.Time `json:"next_billing_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Window is the billing state a write expects to find on a server. A write
// whose expectation no longer holds changes nothing and returns
// ErrBillingStateChanged. A nil NextBillingAt expects the column to be NULL.
type Window struct {
	Paused        bool
	NextBillingAt *time.Time
}

// WindowOf returns the window currently recorded on server.
func WindowOf(server *Server) Window {
	return Window{Paused: server.Paused, NextBillingAt: server.NextBillingAt}
}

// Matches reports whether server is still in window w.
func (w Window) Matches(server *Server) bool {
	if server.Paused != w.Paused {
		return false
	}
	if w.NextBillingAt == nil || server.NextBillingAt == nil {
		return w.NextBillingAt == nil && server.NextBillingAt == nil
	}
	return w.NextBillingAt.Equal(*server.NextBillingAt)
}

// Charge is one atomic debit that also advances a server's billing window.
type Charge struct {
	UserID        uuid.UUID
	ServerID      uuid.UUID
	Amount        int64
	At            time.Time
	NextBillingAt time.Time
	Expect        Window
	Description   string
}

// Refund reverses a charge whose follow-up action failed. Amount may be zero,
// in which case only the billing window is cleared.
type Refund struct {
	UserID      uuid.UUID
	ServerID    uuid.UUID
	Amount      int64
	Description string
	Audit       AuditEvent
}

// AuditEvent is an immutable record of a state-changing action.
type AuditEvent struct {
	Action   string
	UserID   *uuid.UUID
	ServerID *uuid.UUID
	Details  map[string]any
}

// ChargeRequest is the input of ChargeUpfront.
type ChargeRequest struct {
	UserID    uuid.UUID
	ServerID  uuid.UUID
	Resources Resources
	Reason    string
	// Expect is the server's window as read by the caller.
	Expect Window
}

// ChargeResult describes a successful upfront charge.
type ChargeResult struct {
	Charged        int64     `json:"charged"`
	NextBillingAt  time.Time `json:"next_billing_at"`
	BalanceAfter   int64     `json:"balance_after"`
	BillingEnabled bool      `json:"billing_enabled"`
}

// ProvisionSpec describes a server to create on the panel.
type ProvisionSpec struct {
	Name        string
	PanelUserID int
	EggID       int
	LocationID  int
	DockerImage string
	Startup     string
	Environment map[string]string
	Resources   Resources
}

// CreateServerRequest is the input of CreateServer.
type CreateServerRequest struct {
	UserID uuid.UUID
	ProvisionSpec
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

func timePtr(t time.Time) *time.Time {
	return &t
}
