package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coinhost/billing/internal/billing"
	"github.com/coinhost/billing/internal/db"
)

var errDBDown = errors.New("connection refused")

// mockDB implements DBClient in memory
type mockDB struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*db.User
	servers      map[uuid.UUID]*billing.Server
	transactions []db.Transaction
	auditLogs    []db.AuditLog
	rates        billing.Rates
	healthErr    error
	lookupErr    error
}

func newMockDB() *mockDB {
	rates := billing.DefaultRates()
	rates.RAMRate = decimal.NewFromInt(1024)
	rates.Enabled = true
	return &mockDB{
		users:   make(map[uuid.UUID]*db.User),
		servers: make(map[uuid.UUID]*billing.Server),
		rates:   rates,
	}
}

func (m *mockDB) addUser(key string, coins int64, isAdmin bool) *db.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := &db.User{
		ID:          uuid.New(),
		Email:       key + "@example.com",
		APIKey:      key,
		Coins:       coins,
		PanelUserID: 7,
		IsAdmin:     isAdmin,
		CreatedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	m.users[u.ID] = u
	return u
}

func (m *mockDB) addServer(userID uuid.UUID, paused bool) *billing.Server {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &billing.Server{
		ID:        uuid.New(),
		UserID:    userID,
		RemoteID:  len(m.servers) + 1,
		Name:      "survival",
		Resources: billing.Resources{RAM: 2048, CPU: 100, Disk: 10240},
		Paused:    paused,
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	m.servers[s.ID] = s
	return s
}

func (m *mockDB) Health(ctx context.Context) error {
	return m.healthErr
}

func (m *mockDB) GetUserByAPIKey(ctx context.Context, key string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	for _, u := range m.users {
		if u.APIKey == key {
			uCopy := *u
			return &uCopy, nil
		}
	}
	return nil, billing.ErrUserNotFound
}

func (m *mockDB) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	uCopy := *u
	return &uCopy, nil
}

func (m *mockDB) CreateUser(ctx context.Context, email string, panelUserID int, isAdmin bool) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := &db.User{
		ID:          uuid.New(),
		Email:       email,
		APIKey:      "ck_generated",
		PanelUserID: panelUserID,
		IsAdmin:     isAdmin,
		CreatedAt:   time.Now().UTC(),
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *mockDB) CreditCoins(ctx context.Context, userID uuid.UUID, txType string, amount int64, description string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return 0, billing.ErrUserNotFound
	}
	u.Coins += amount
	m.transactions = append(m.transactions, db.Transaction{
		ID:          int64(len(m.transactions) + 1),
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
	return u.Coins, nil
}

func (m *mockDB) GetServer(ctx context.Context, serverID uuid.UUID) (*billing.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[serverID]
	if !ok {
		return nil, billing.ErrServerNotFound
	}
	sCopy := *s
	return &sCopy, nil
}

func (m *mockDB) ListServers(ctx context.Context, userID uuid.UUID) ([]billing.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []billing.Server
	for _, s := range m.servers {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockDB) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]db.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []db.Transaction
	for _, t := range m.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockDB) ListAuditLogs(ctx context.Context, serverID uuid.UUID, limit int) ([]db.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []db.AuditLog
	for _, l := range m.auditLogs {
		if l.ServerID != nil && *l.ServerID == serverID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockDB) GetBillingRates(ctx context.Context) (*billing.Rates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rates
	return &r, nil
}

func (m *mockDB) UpdateBillingRates(ctx context.Context, rates billing.Rates) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rates = rates
	return nil
}

// mockEngine implements Engine with canned results
type mockEngine struct {
	mu         sync.Mutex
	db         *mockDB
	err        error
	created    []billing.CreateServerRequest
	pauseCalls []uuid.UUID
}

func (e *mockEngine) Estimate(ctx context.Context, res billing.Resources) (string, int64, error) {
	if e.err != nil {
		return "", 0, e.err
	}
	rates, _ := e.db.GetBillingRates(ctx)
	cost, err := billing.HourlyCost(res, *rates)
	if err != nil {
		return "", 0, err
	}
	return cost.String(), cost.Ceil().IntPart(), nil
}

func (e *mockEngine) CreateServer(ctx context.Context, req billing.CreateServerRequest) (*billing.Server, *billing.ChargeResult, error) {
	e.mu.Lock()
	e.created = append(e.created, req)
	e.mu.Unlock()

	if e.err != nil {
		return nil, nil, e.err
	}
	server := e.db.addServer(req.UserID, false)
	next := server.CreatedAt.Add(billing.BillingPeriod)
	server.NextBillingAt = &next
	return server, &billing.ChargeResult{Charged: 5, NextBillingAt: next, BalanceAfter: 95, BillingEnabled: true}, nil
}

func (e *mockEngine) Pause(ctx context.Context, serverID, actor uuid.UUID) (*billing.Server, error) {
	e.mu.Lock()
	e.pauseCalls = append(e.pauseCalls, serverID)
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}
	s, err := e.db.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	s.Paused = true
	return s, nil
}

func (e *mockEngine) Unpause(ctx context.Context, serverID, actor uuid.UUID) (*billing.Server, error) {
	if e.err != nil {
		return nil, e.err
	}
	s, err := e.db.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	s.Paused = false
	return s, nil
}

func (e *mockEngine) DeleteServer(ctx context.Context, serverID, actor uuid.UUID) error {
	return e.err
}

// mockSweeper implements SweepRunner
type mockSweeper struct {
	report *billing.SweepReport
	err    error
	calls  int
}

func (s *mockSweeper) RunOnce(ctx context.Context) (*billing.SweepReport, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

type testEnv struct {
	db      *mockDB
	engine  *mockEngine
	sweeper *mockSweeper
	hub     *billing.Hub
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mdb := newMockDB()
	env := &testEnv{
		db:      mdb,
		engine:  &mockEngine{db: mdb},
		sweeper: &mockSweeper{report: &billing.SweepReport{}},
		hub:     billing.NewHub(),
	}
	t.Cleanup(env.hub.Close)

	server, err := NewServer(&Config{
		DB:      env.db,
		Engine:  env.engine,
		Sweeper: env.sweeper,
		Events:  env.hub,
	})
	require.NoError(t, err)
	env.router = server.Router()
	return env
}

// do performs a request against the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decode unmarshals a response body into v.
func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

func dbAuditLog(id int64, action string, serverID uuid.UUID, details string) db.AuditLog {
	return db.AuditLog{
		ID:        id,
		Action:    action,
		ServerID:  &serverID,
		Details:   json.RawMessage(details),
		CreatedAt: time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC),
	}
}
