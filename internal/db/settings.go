package db

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/coinhost/billing/internal/billing"
)

// Setting keys holding the billing configuration.
const (
	SettingRAMRate     = "billing.ram_rate"
	SettingCPURate     = "billing.cpu_rate"
	SettingDiskRate    = "billing.disk_rate"
	SettingGracePeriod = "billing.grace_period"
	SettingEnabled     = "billing.enabled"
)

var billingSettingKeys = []string{
	SettingRAMRate,
	SettingCPURate,
	SettingDiskRate,
	SettingGracePeriod,
	SettingEnabled,
}

// GetBillingRates loads the billing configuration. Missing settings fall back
// to billing.DefaultRates; stored values are returned as they are, so a
// stored non-positive rate is reported when the rates are used.
func (c *Client) GetBillingRates(ctx context.Context) (*billing.Rates, error) {
	rows, err := c.pool.Query(ctx, `SELECT key, value FROM settings WHERE key = ANY($1)`, billingSettingKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, len(billingSettingKeys))
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}

	return parseRates(values)
}

// parseRates builds Rates from raw setting values.
func parseRates(values map[string]string) (*billing.Rates, error) {
	rates := billing.DefaultRates()

	for key, dst := range map[string]*decimal.Decimal{
		SettingRAMRate:  &rates.RAMRate,
		SettingCPURate:  &rates.CPURate,
		SettingDiskRate: &rates.DiskRate,
	} {
		raw, ok := values[key]
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q is not a number", billing.ErrInvalidRate, key, raw)
		}
		*dst = d
	}

	if raw, ok := values[SettingGracePeriod]; ok {
		hours, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", SettingGracePeriod, raw, err)
		}
		rates.GracePeriod = hours
	}

	if raw, ok := values[SettingEnabled]; ok {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", SettingEnabled, raw, err)
		}
		rates.Enabled = enabled
	}

	return &rates, nil
}

// UpdateBillingRates stores the complete billing configuration in one
// transaction. Rates must be valid.
func (c *Client) UpdateBillingRates(ctx context.Context, rates billing.Rates) error {
	if err := rates.Validate(); err != nil {
		return err
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	values := map[string]string{
		SettingRAMRate:     rates.RAMRate.String(),
		SettingCPURate:     rates.CPURate.String(),
		SettingDiskRate:    rates.DiskRate.String(),
		SettingGracePeriod: strconv.Itoa(rates.GracePeriod),
		SettingEnabled:     strconv.FormatBool(rates.Enabled),
	}
	for key, value := range values {
		_, err := tx.Exec(ctx, `
			INSERT INTO settings (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, key, value)
		if err != nil {
			return fmt.Errorf("failed to store setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	return nil
}
