package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinhost/billing/internal/billing"
)

func TestGetAccount(t *testing.T) {
	env := newTestEnv(t)
	alice := env.db.addUser("alice-key", 42, false)

	w := env.do(t, http.MethodGet, "/v1/account", "alice-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp AccountResponse
	decode(t, w, &resp)
	assert.Equal(t, alice.ID.String(), resp.ID)
	assert.Equal(t, int64(42), resp.Coins)
	assert.Equal(t, "2025-03-01T12:00:00Z", resp.CreatedAt)
	assert.NotContains(t, w.Body.String(), "alice-key")
}

func TestListTransactions(t *testing.T) {
	env := newTestEnv(t)
	alice := env.db.addUser("alice-key", 0, false)
	bob := env.db.addUser("bob-key", 0, false)

	_, err := env.db.CreditCoins(t.Context(), alice.ID, billing.TransactionPurchase, 100, "store purchase")
	require.NoError(t, err)
	_, err = env.db.CreditCoins(t.Context(), bob.ID, billing.TransactionAFK, 3, "afk reward")
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/v1/account/transactions?limit=10", "alice-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ListTransactionsResponse
	decode(t, w, &resp)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, billing.TransactionPurchase, resp.Transactions[0].Type)
	assert.Equal(t, int64(100), resp.Transactions[0].Amount)
}

func TestGetRates(t *testing.T) {
	env := newTestEnv(t)
	env.db.addUser("alice-key", 0, false)

	w := env.do(t, http.MethodGet, "/v1/billing/rates", "alice-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp RatesResponse
	decode(t, w, &resp)
	assert.Equal(t, "1024", resp.RAMRate)
	assert.Equal(t, "100", resp.CPURate)
	assert.Equal(t, "5120", resp.DiskRate)
	assert.True(t, resp.Enabled)
}

func TestEstimate(t *testing.T) {
	env := newTestEnv(t)
	env.db.addUser("alice-key", 0, false)

	// 2048/1024 + 100/100 + 10240/5120 = 5
	w := env.do(t, http.MethodGet, "/v1/billing/estimate?ram=2048&cpu=100&disk=10240", "alice-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp EstimateResponse
	decode(t, w, &resp)
	assert.Equal(t, "5", resp.HourlyCost)
	assert.Equal(t, int64(5), resp.Charge)
	assert.True(t, resp.BillingEnabled)
}

func TestEstimate_RoundsUp(t *testing.T) {
	env := newTestEnv(t)
	env.db.addUser("alice-key", 0, false)

	w := env.do(t, http.MethodGet, "/v1/billing/estimate?ram=512", "alice-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp EstimateResponse
	decode(t, w, &resp)
	assert.Equal(t, "0.5", resp.HourlyCost)
	assert.Equal(t, int64(1), resp.Charge)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	env.db.healthErr = errDBDown
	w = env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}
