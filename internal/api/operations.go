package api

// Huma input/output types for API operations.
// These wrap the body types with path parameters, query parameters, and body.

// --- Health ---

// HealthCheckInput is the input for GET /health.
type HealthCheckInput struct{}

// HealthCheckOutput is the output for GET /health.
type HealthCheckOutput struct {
	Body struct {
		Status string `json:"status" doc:"Health status" example:"ok"`
	}
}

// --- Account ---

// GetAccountInput is the input for GET /v1/account.
type GetAccountInput struct{}

// GetAccountOutput is the output for GET /v1/account.
type GetAccountOutput struct {
	Body AccountResponse
}

// ListTransactionsInput is the input for GET /v1/account/transactions.
type ListTransactionsInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Maximum number of entries"`
}

// ListTransactionsOutput is the output for GET /v1/account/transactions.
type ListTransactionsOutput struct {
	Body ListTransactionsResponse
}

// --- Billing ---

// GetRatesInput is the input for GET /v1/billing/rates.
type GetRatesInput struct{}

// GetRatesOutput is the output for GET /v1/billing/rates.
type GetRatesOutput struct {
	Body RatesResponse
}

// EstimateInput is the input for GET /v1/billing/estimate.
type EstimateInput struct {
	RAM  int64 `query:"ram" minimum:"0" doc:"Memory in MB"`
	CPU  int64 `query:"cpu" minimum:"0" doc:"CPU percentage points"`
	Disk int64 `query:"disk" minimum:"0" doc:"Disk in MB"`
}

// EstimateOutput is the output for GET /v1/billing/estimate.
type EstimateOutput struct {
	Body EstimateResponse
}

// --- Servers ---

// ServerIDInput addresses a single server.
type ServerIDInput struct {
	ID string `path:"id" doc:"Server ID" format:"uuid" minLength:"1"`
}

// CreateServerInput is the input for POST /v1/servers.
type CreateServerInput struct {
	Body CreateServerRequest
}

// CreateServerOutput is the output for POST /v1/servers.
type CreateServerOutput struct {
	Body ServerWithChargeResponse
}

// ListServersInput is the input for GET /v1/servers.
type ListServersInput struct{}

// ListServersOutput is the output for GET /v1/servers.
type ListServersOutput struct {
	Body ListServersResponse
}

// ServerOutput is the output of operations returning a single server.
type ServerOutput struct {
	Body ServerResponse
}

// DeleteServerOutput is the output for DELETE /v1/servers/{id} (204 No Content).
type DeleteServerOutput struct{}

// ListAuditLogsInput is the input for GET /v1/servers/{id}/audit.
type ListAuditLogsInput struct {
	ID    string `path:"id" doc:"Server ID" format:"uuid" minLength:"1"`
	Limit int    `query:"limit" minimum:"1" maximum:"500" default:"50"`
}

// ListAuditLogsOutput is the output for GET /v1/servers/{id}/audit.
type ListAuditLogsOutput struct {
	Body ListAuditLogsResponse
}

// EventsInput is the input for GET /v1/events (WebSocket upgrade).
type EventsInput struct{}

// --- Admin ---

// RunSweepInput is the input for POST /v1/admin/billing/sweep.
type RunSweepInput struct{}

// RunSweepOutput is the output for POST /v1/admin/billing/sweep.
type RunSweepOutput struct {
	Body SweepResponse
}

// UpdateRatesInput is the input for PUT /v1/admin/billing/rates.
type UpdateRatesInput struct {
	Body UpdateRatesRequest
}

// CreateUserInput is the input for POST /v1/admin/users.
type CreateUserInput struct {
	Body CreateUserRequest
}

// CreateUserOutput is the output for POST /v1/admin/users.
type CreateUserOutput struct {
	Body CreateUserResponse
}

// CreditCoinsInput is the input for POST /v1/admin/users/{id}/coins.
type CreditCoinsInput struct {
	ID   string `path:"id" doc:"User ID" format:"uuid" minLength:"1"`
	Body CreditCoinsRequest
}

// CreditCoinsOutput is the output for POST /v1/admin/users/{id}/coins.
type CreditCoinsOutput struct {
	Body CreditCoinsResponse
}
