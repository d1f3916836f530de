package billing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidRate       = errors.New("invalid billing rate")
	ErrInvalidResources  = errors.New("invalid server resources")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrServerNotFound    = errors.New("server not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrAlreadyPaused     = errors.New("server is already paused")
	ErrNotPaused         = errors.New("server is not paused")
	ErrSweepInProgress   = errors.New("billing sweep already running")

	ErrBillingStateChanged = errors.New("server billing state changed")
)

// InsufficientFundsError reports the shortfall of a rejected charge.
// errors.Is(err, ErrInsufficientFunds) holds for it.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d coins, have %d", e.Required, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// GatewayError wraps a failed provisioning gateway call.
type GatewayError struct {
	Op       string // suspend, unsuspend, create, delete
	ServerID uuid.UUID
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("provisioning gateway %s failed for server %s: %v", e.Op, e.ServerID, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// UserMessage is the message shown to end users, without internal detail.
func (e *GatewayError) UserMessage() string {
	switch e.Op {
	case "unsuspend":
		return "failed to unpause server"
	case "suspend":
		return "failed to pause server"
	case "create":
		return "failed to create server"
	case "delete":
		return "failed to delete server"
	default:
		return "provisioning failed"
	}
}
