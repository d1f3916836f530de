package db

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinhost/billing/internal/billing"
)

func TestParseRates_Defaults(t *testing.T) {
	rates, err := parseRates(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, billing.DefaultRates(), *rates)
	assert.False(t, rates.Enabled)
}

func TestParseRates_StoredValues(t *testing.T) {
	rates, err := parseRates(map[string]string{
		SettingRAMRate:     "2048",
		SettingCPURate:     "50.5",
		SettingDiskRate:    "10240",
		SettingGracePeriod: "48",
		SettingEnabled:     "true",
	})
	require.NoError(t, err)

	assert.True(t, rates.RAMRate.Equal(decimal.NewFromInt(2048)))
	assert.True(t, rates.CPURate.Equal(decimal.RequireFromString("50.5")))
	assert.True(t, rates.DiskRate.Equal(decimal.NewFromInt(10240)))
	assert.Equal(t, 48, rates.GracePeriod)
	assert.True(t, rates.Enabled)
}

func TestParseRates_PartialFallsBack(t *testing.T) {
	rates, err := parseRates(map[string]string{SettingEnabled: "1"})
	require.NoError(t, err)

	assert.True(t, rates.Enabled)
	assert.True(t, rates.RAMRate.Equal(billing.DefaultRAMRate))
	assert.Equal(t, billing.DefaultGracePeriod, rates.GracePeriod)
}

func TestParseRates_NonPositiveIsKept(t *testing.T) {
	rates, err := parseRates(map[string]string{SettingCPURate: "0", SettingEnabled: "true"})
	require.NoError(t, err)

	assert.True(t, rates.CPURate.IsZero())
	assert.ErrorIs(t, rates.Validate(), billing.ErrInvalidRate)
}

func TestParseRates_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		invalid bool
	}{
		{"rate", map[string]string{SettingRAMRate: "lots"}, true},
		{"grace period", map[string]string{SettingGracePeriod: "a day"}, false},
		{"enabled", map[string]string{SettingEnabled: "maybe"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRates(tt.values)
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, billing.ErrInvalidRate))
		})
	}
}
