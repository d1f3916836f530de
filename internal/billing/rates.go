// Package billing implements prepaid hourly billing for panel-provisioned
// servers: the rate model, the upfront charge, the periodic billing sweep and
// the pause/unpause/create transitions.
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Default rate settings used when a deployment has not stored its own.
var (
	DefaultRAMRate     = decimal.NewFromInt(1024)
	DefaultCPURate     = decimal.NewFromInt(100)
	DefaultDiskRate    = decimal.NewFromInt(5120)
	DefaultGracePeriod = 24
)

// Rates is a snapshot of the billing configuration.
type Rates struct {
	RAMRate     decimal.Decimal `json:"ram_rate"`  // MB of RAM one coin buys per hour
	CPURate     decimal.Decimal `json:"cpu_rate"`  // CPU percentage points one coin buys per hour
	DiskRate    decimal.Decimal `json:"disk_rate"` // MB of disk one coin buys per hour
	GracePeriod int             `json:"grace_period_hours"`
	Enabled     bool            `json:"enabled"`
}

// DefaultRates returns the fallback configuration with billing disabled.
func DefaultRates() Rates {
	return Rates{
		RAMRate:     DefaultRAMRate,
		CPURate:     DefaultCPURate,
		DiskRate:    DefaultDiskRate,
		GracePeriod: DefaultGracePeriod,
	}
}

// Validate reports ErrInvalidRate if any rate is not strictly positive.
func (r Rates) Validate() error {
	checks := []struct {
		name string
		rate decimal.Decimal
	}{
		{"ram_rate", r.RAMRate},
		{"cpu_rate", r.CPURate},
		{"disk_rate", r.DiskRate},
	}
	for _, c := range checks {
		if !c.rate.IsPositive() {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidRate, c.name, c.rate)
		}
	}
	return nil
}

// HourlyCost returns the fractional coin cost of running res for one hour.
//
//	cost = ram/RAMRate + cpu/CPURate + disk/DiskRate
//
// Databases, allocations and backups do not contribute.
func HourlyCost(res Resources, rates Rates) (decimal.Decimal, error) {
	if err := rates.Validate(); err != nil {
		return decimal.Zero, err
	}
	if res.RAM < 0 || res.CPU < 0 || res.Disk < 0 {
		return decimal.Zero, fmt.Errorf("%w: ram=%d cpu=%d disk=%d", ErrInvalidResources, res.RAM, res.CPU, res.Disk)
	}

	ram := decimal.NewFromInt(res.RAM).Div(rates.RAMRate)
	cpu := decimal.NewFromInt(res.CPU).Div(rates.CPURate)
	disk := decimal.NewFromInt(res.Disk).Div(rates.DiskRate)

	return ram.Add(cpu).Add(disk), nil
}

// ChargeAmount is the whole number of coins deducted for one hour of res.
// Fractional costs are always rounded up.
func ChargeAmount(res Resources, rates Rates) (int64, error) {
	cost, err := HourlyCost(res, rates)
	if err != nil {
		return 0, err
	}
	return cost.Ceil().IntPart(), nil
}
