package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is a dashboard account holding a coin balance.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	APIKey      string    `json:"-"`
	Coins       int64     `json:"coins"`
	PanelUserID int       `json:"panel_user_id"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transaction is one immutable entry of a user's coin history. Debits are
// negative.
type Transaction struct {
	ID          int64     `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Type        string    `json:"type"` // BILLING|PURCHASE|EARN|COUPON|AFK
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditLog is an immutable record of a state-changing action.
type AuditLog struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	ServerID  *uuid.UUID      `json:"server_id,omitempty"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}
