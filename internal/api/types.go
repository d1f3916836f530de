package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/coinhost/billing/internal/billing"
	"github.com/coinhost/billing/internal/db"
)

// AccountResponse describes the authenticated user and their balance.
type AccountResponse struct {
	ID          string `json:"id" doc:"User ID"`
	Email       string `json:"email" doc:"Email address"`
	Coins       int64  `json:"coins" doc:"Current coin balance"`
	PanelUserID int    `json:"panelUserId" doc:"Game panel user ID"`
	IsAdmin     bool   `json:"isAdmin"`
	CreatedAt   string `json:"createdAt" format:"date-time"`
}

// TransactionResponse is one entry of a user's coin history.
type TransactionResponse struct {
	ID          int64  `json:"id"`
	Type        string `json:"type" enum:"BILLING,PURCHASE,EARN,COUPON,AFK"`
	Amount      int64  `json:"amount" doc:"Signed amount, debits are negative"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt" format:"date-time"`
}

// ListTransactionsResponse defines the response body for GET /v1/account/transactions
type ListTransactionsResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
}

// RatesResponse is the billing configuration.
type RatesResponse struct {
	RAMRate          string `json:"ramRate" doc:"MB of RAM one coin buys per hour" example:"1024"`
	CPURate          string `json:"cpuRate" doc:"CPU percentage points one coin buys per hour" example:"100"`
	DiskRate         string `json:"diskRate" doc:"MB of disk one coin buys per hour" example:"5120"`
	GracePeriodHours int    `json:"gracePeriodHours"`
	Enabled          bool   `json:"enabled"`
}

// EstimateResponse is the hourly cost of a resource allocation.
type EstimateResponse struct {
	HourlyCost     string `json:"hourlyCost" doc:"Exact hourly cost in coins" example:"4.25"`
	Charge         int64  `json:"charge" doc:"Whole coins charged per hour" example:"5"`
	BillingEnabled bool   `json:"billingEnabled"`
}

// CreateServerRequest defines the request body for POST /v1/servers
type CreateServerRequest struct {
	Name        string            `json:"name" minLength:"1" maxLength:"191" example:"survival"`
	EggID       int               `json:"eggId" minimum:"1" doc:"Panel egg to install"`
	LocationID  int               `json:"locationId" minimum:"1" doc:"Panel location to deploy to"`
	DockerImage string            `json:"dockerImage" minLength:"1"`
	Startup     string            `json:"startup" minLength:"1"`
	Environment map[string]string `json:"environment,omitempty"`
	RAM         int64             `json:"ram" minimum:"0" doc:"Memory in MB" example:"2048"`
	CPU         int64             `json:"cpu" minimum:"0" doc:"CPU percentage points" example:"100"`
	Disk        int64             `json:"disk" minimum:"0" doc:"Disk in MB" example:"10240"`
	Databases   int               `json:"databases" minimum:"0"`
	Allocations int               `json:"allocations" minimum:"0"`
	Backups     int               `json:"backups" minimum:"0"`
}

// ServerResponse is the billing view of a server.
type ServerResponse struct {
	ID            string     `json:"id"`
	RemoteID      int        `json:"remoteId" doc:"Panel server ID"`
	Name          string     `json:"name"`
	RAM           int64      `json:"ram"`
	CPU           int64      `json:"cpu"`
	Disk          int64      `json:"disk"`
	Databases     int        `json:"databases"`
	Allocations   int        `json:"allocations"`
	Backups       int        `json:"backups"`
	Paused        bool       `json:"paused"`
	SuspendedAt   *time.Time `json:"suspendedAt,omitempty"`
	LastBilledAt  *time.Time `json:"lastBilledAt,omitempty"`
	NextBillingAt *time.Time `json:"nextBillingAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ChargeResponse describes an upfront charge.
type ChargeResponse struct {
	Charged        int64     `json:"charged"`
	NextBillingAt  time.Time `json:"nextBillingAt"`
	BalanceAfter   int64     `json:"balanceAfter"`
	BillingEnabled bool      `json:"billingEnabled"`
}

// ServerWithChargeResponse is returned by create: the server and its first charge.
type ServerWithChargeResponse struct {
	Server ServerResponse  `json:"server"`
	Charge *ChargeResponse `json:"charge,omitempty"`
}

// ListServersResponse defines the response body for GET /v1/servers
type ListServersResponse struct {
	Servers []ServerResponse `json:"servers"`
}

// AuditLogResponse is one audit trail entry.
type AuditLogResponse struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	UserID    *string        `json:"userId,omitempty"`
	Details   map[string]any `json:"details"`
	CreatedAt string         `json:"createdAt" format:"date-time"`
}

// ListAuditLogsResponse defines the response body for GET /v1/servers/{id}/audit
type ListAuditLogsResponse struct {
	Entries []AuditLogResponse `json:"entries"`
}

// SweepResponse reports the outcome of an on-demand billing sweep.
type SweepResponse struct {
	Candidates    int   `json:"candidates"`
	Charged       int   `json:"charged"`
	CoinsCharged  int64 `json:"coinsCharged"`
	Paused        int   `json:"paused"`
	SuspendFailed int   `json:"suspendFailed"`
	Skipped       int   `json:"skipped"`
	Errors        int   `json:"errors"`
	Disabled      bool  `json:"disabled"`
}

// UpdateRatesRequest defines the request body for PUT /v1/admin/billing/rates
type UpdateRatesRequest struct {
	RAMRate          string `json:"ramRate" pattern:"^[0-9]+(\\.[0-9]+)?$" example:"1024"`
	CPURate          string `json:"cpuRate" pattern:"^[0-9]+(\\.[0-9]+)?$" example:"100"`
	DiskRate         string `json:"diskRate" pattern:"^[0-9]+(\\.[0-9]+)?$" example:"5120"`
	GracePeriodHours int    `json:"gracePeriodHours" minimum:"0"`
	Enabled          bool   `json:"enabled"`
}

// CreateUserRequest defines the request body for POST /v1/admin/users
type CreateUserRequest struct {
	Email       string `json:"email" format:"email" maxLength:"255"`
	PanelUserID int    `json:"panelUserId" minimum:"1"`
	IsAdmin     bool   `json:"isAdmin,omitempty"`
}

// CreateUserResponse includes the API key, which is only ever shown here.
type CreateUserResponse struct {
	AccountResponse
	APIKey string `json:"apiKey" doc:"API key, shown only once"`
}

// CreditCoinsRequest defines the request body for POST /v1/admin/users/{id}/coins
type CreditCoinsRequest struct {
	Type        string `json:"type" enum:"PURCHASE,EARN,COUPON,AFK"`
	Amount      int64  `json:"amount" minimum:"1"`
	Description string `json:"description,omitempty" maxLength:"255"`
}

// CreditCoinsResponse returns the balance after a credit.
type CreditCoinsResponse struct {
	Balance int64 `json:"balance"`
}

func toAccountResponse(u *db.User) AccountResponse {
	return AccountResponse{
		ID:          u.ID.String(),
		Email:       u.Email,
		Coins:       u.Coins,
		PanelUserID: u.PanelUserID,
		IsAdmin:     u.IsAdmin,
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
	}
}

func toServerResponse(s *billing.Server) ServerResponse {
	return ServerResponse{
		ID:            s.ID.String(),
		RemoteID:      s.RemoteID,
		Name:          s.Name,
		RAM:           s.RAM,
		CPU:           s.CPU,
		Disk:          s.Disk,
		Databases:     s.Databases,
		Allocations:   s.Allocations,
		Backups:       s.Backups,
		Paused:        s.Paused,
		SuspendedAt:   s.SuspendedAt,
		LastBilledAt:  s.LastBilledAt,
		NextBillingAt: s.NextBillingAt,
		CreatedAt:     s.CreatedAt,
	}
}

func toChargeResponse(c *billing.ChargeResult) *ChargeResponse {
	if c == nil {
		return nil
	}
	return &ChargeResponse{
		Charged:        c.Charged,
		NextBillingAt:  c.NextBillingAt,
		BalanceAfter:   c.BalanceAfter,
		BillingEnabled: c.BillingEnabled,
	}
}

func toRatesResponse(r *billing.Rates) RatesResponse {
	return RatesResponse{
		RAMRate:          r.RAMRate.String(),
		CPURate:          r.CPURate.String(),
		DiskRate:         r.DiskRate.String(),
		GracePeriodHours: r.GracePeriod,
		Enabled:          r.Enabled,
	}
}

func toAuditLogResponse(l db.AuditLog) AuditLogResponse {
	resp := AuditLogResponse{
		ID:        l.ID,
		Action:    l.Action,
		Details:   map[string]any{},
		CreatedAt: l.CreatedAt.Format(time.RFC3339),
	}
	if l.UserID != nil && *l.UserID != uuid.Nil {
		id := l.UserID.String()
		resp.UserID = &id
	}
	if len(l.Details) > 0 {
		_ = json.Unmarshal(l.Details, &resp.Details)
	}
	return resp
}
