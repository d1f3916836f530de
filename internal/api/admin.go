package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinhost/billing/internal/billing"
)

// AdminService handles operator endpoints. Every route is behind
// humaAdminMiddleware.
type AdminService struct {
	db      DBClient
	sweeper SweepRunner
}

// NewAdminService creates a new AdminService.
func NewAdminService(db DBClient, sweeper SweepRunner) *AdminService {
	return &AdminService{db: db, sweeper: sweeper}
}

// RunSweep handles POST /v1/admin/billing/sweep
// It fails with 409 when a scheduled sweep holds the sweep lock.
func (a *AdminService) RunSweep(ctx context.Context, input *RunSweepInput) (*RunSweepOutput, error) {
	report, err := a.sweeper.RunOnce(ctx)
	if err != nil {
		return nil, mapBillingError(err)
	}

	return &RunSweepOutput{Body: SweepResponse{
		Candidates:    report.Candidates,
		Charged:       report.Charged,
		CoinsCharged:  report.CoinsCharged,
		Paused:        report.Paused,
		SuspendFailed: report.SuspendFailed,
		Skipped:       report.Skipped,
		Errors:        report.Errors,
		Disabled:      report.Disabled,
	}}, nil
}

// UpdateRates handles PUT /v1/admin/billing/rates
func (a *AdminService) UpdateRates(ctx context.Context, input *UpdateRatesInput) (*GetRatesOutput, error) {
	req := input.Body

	rates := billing.Rates{
		GracePeriod: req.GracePeriodHours,
		Enabled:     req.Enabled,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"ramRate", req.RAMRate, &rates.RAMRate},
		{"cpuRate", req.CPURate, &rates.CPURate},
		{"diskRate", req.DiskRate, &rates.DiskRate},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("%s must be a decimal number", f.name))
		}
		*f.dst = d
	}
	if err := rates.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	if err := a.db.UpdateBillingRates(ctx, rates); err != nil {
		return nil, mapBillingError(err)
	}

	slog.Info("billing rates updated",
		"ram_rate", rates.RAMRate.String(),
		"cpu_rate", rates.CPURate.String(),
		"disk_rate", rates.DiskRate.String(),
		"enabled", rates.Enabled,
	)

	return &GetRatesOutput{Body: toRatesResponse(&rates)}, nil
}

// CreateUser handles POST /v1/admin/users
func (a *AdminService) CreateUser(ctx context.Context, input *CreateUserInput) (*CreateUserOutput, error) {
	user, err := a.db.CreateUser(ctx, input.Body.Email, input.Body.PanelUserID, input.Body.IsAdmin)
	if err != nil {
		return nil, mapBillingError(err)
	}

	return &CreateUserOutput{Body: CreateUserResponse{
		AccountResponse: toAccountResponse(user),
		APIKey:          user.APIKey,
	}}, nil
}

// CreditCoins handles POST /v1/admin/users/{id}/coins
func (a *AdminService) CreditCoins(ctx context.Context, input *CreditCoinsInput) (*CreditCoinsOutput, error) {
	userID, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid user ID")
	}

	description := input.Body.Description
	if description == "" {
		description = fmt.Sprintf("%s credit", input.Body.Type)
	}

	balance, err := a.db.CreditCoins(ctx, userID, input.Body.Type, input.Body.Amount, description)
	if err != nil {
		return nil, mapBillingError(err)
	}

	return &CreditCoinsOutput{Body: CreditCoinsResponse{Balance: balance}}, nil
}
