package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinhost/billing/internal/billing"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	alice, bob := uuid.New(), uuid.New()

	assert.True(t, rl.allow(alice))
	assert.True(t, rl.allow(alice))
	assert.False(t, rl.allow(alice), "burst exhausted")
	assert.True(t, rl.allow(bob), "limits are per user")

	now = now.Add(time.Second)
	assert.True(t, rl.allow(alice), "token refilled after one second")
}

func TestRateLimiter_Prune(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	idle, active := uuid.New(), uuid.New()
	rl.allow(idle)
	now = now.Add(2 * time.Hour)
	rl.allow(active)

	rl.prune(time.Hour)

	assert.NotContains(t, rl.limiters, idle)
	assert.Contains(t, rl.limiters, active)
}

func TestRateLimiter_HumaMiddleware(t *testing.T) {
	mdb := newMockDB()
	alice := mdb.addUser("alice-key", 100, false)
	server := mdb.addServer(alice.ID, false)

	srv, err := NewServer(&Config{
		DB:          mdb,
		Engine:      &mockEngine{db: mdb},
		Sweeper:     &mockSweeper{},
		Events:      billing.NewHub(),
		RateLimiter: NewRateLimiter(0.001, 1),
	})
	require.NoError(t, err)
	env := &testEnv{db: mdb, router: srv.Router()}

	path := "/v1/servers/" + server.ID.String() + "/pause"
	w := env.do(t, http.MethodPost, path, "alice-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, path, "alice-key", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Reads are not limited
	w = env.do(t, http.MethodGet, "/v1/servers", "alice-key", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
