package api

import (
	"context"

	"github.com/coinhost/billing/internal/billing"
)

// BillingService exposes the rate configuration and cost previews.
type BillingService struct {
	db     DBClient
	engine Engine
}

// NewBillingService creates a new BillingService.
func NewBillingService(db DBClient, engine Engine) *BillingService {
	return &BillingService{db: db, engine: engine}
}

// GetRates handles GET /v1/billing/rates
func (b *BillingService) GetRates(ctx context.Context, input *GetRatesInput) (*GetRatesOutput, error) {
	rates, err := b.db.GetBillingRates(ctx)
	if err != nil {
		return nil, mapBillingError(err)
	}
	return &GetRatesOutput{Body: toRatesResponse(rates)}, nil
}

// Estimate handles GET /v1/billing/estimate
func (b *BillingService) Estimate(ctx context.Context, input *EstimateInput) (*EstimateOutput, error) {
	rates, err := b.db.GetBillingRates(ctx)
	if err != nil {
		return nil, mapBillingError(err)
	}

	exact, charge, err := b.engine.Estimate(ctx, billing.Resources{
		RAM:  input.RAM,
		CPU:  input.CPU,
		Disk: input.Disk,
	})
	if err != nil {
		return nil, mapBillingError(err)
	}

	return &EstimateOutput{Body: EstimateResponse{
		HourlyCost:     exact,
		Charge:         charge,
		BillingEnabled: rates.Enabled,
	}}, nil
}
