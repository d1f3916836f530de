package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/coinhost/billing/internal/billing"
)

// Standard API errors
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInternal     = errors.New("internal server error")
)

// ErrorResponse defines the error response format of the non-huma routes
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeInternal      = "INTERNAL"
	CodeUnavailable   = "UNAVAILABLE"
	CodeRateLimited   = "RATE_LIMIT_EXCEEDED"
	CodePaymentNeeded = "PAYMENT_REQUIRED"
)

// WriteError writes a JSON error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error, statusCode int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: err.Error(),
		Code:  code,
	}

	// Ignore encoding errors - nothing we can do at this point
	_ = json.NewEncoder(w).Encode(response)
}

// WriteJSON writes a JSON response to the HTTP response writer
func WriteJSON(w http.ResponseWriter, data interface{}, statusCode int) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(data)
}

// mapBillingError converts a billing engine error into a huma status error.
// Internal detail of gateway and ledger failures is logged, not returned.
func mapBillingError(err error) error {
	var insufficient *billing.InsufficientFundsError
	var gatewayErr *billing.GatewayError

	switch {
	case errors.As(err, &insufficient):
		return huma.NewError(http.StatusPaymentRequired, insufficient.Error(),
			&huma.ErrorDetail{Location: "required", Message: "coins required", Value: insufficient.Required},
			&huma.ErrorDetail{Location: "available", Message: "coins available", Value: insufficient.Available},
		)
	case errors.As(err, &gatewayErr):
		slog.Error("provisioning gateway failed", "op", gatewayErr.Op, "server_id", gatewayErr.ServerID, "error", gatewayErr.Err)
		return huma.Error502BadGateway(gatewayErr.UserMessage())
	case errors.Is(err, billing.ErrServerNotFound):
		return huma.Error404NotFound("server not found")
	case errors.Is(err, billing.ErrUserNotFound):
		return huma.Error404NotFound("user not found")
	case errors.Is(err, billing.ErrAlreadyPaused),
		errors.Is(err, billing.ErrNotPaused),
		errors.Is(err, billing.ErrSweepInProgress):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, billing.ErrBillingStateChanged):
		return huma.Error409Conflict("server changed, retry the request")
	case errors.Is(err, billing.ErrInvalidResources):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, billing.ErrInvalidRate):
		slog.Error("billing rates are misconfigured", "error", err)
		return huma.Error503ServiceUnavailable("billing is misconfigured")
	default:
		slog.Error("request failed", "error", err)
		return huma.Error500InternalServerError("internal server error")
	}
}
