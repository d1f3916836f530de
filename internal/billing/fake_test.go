package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enabledRates() *Rates {
	r := DefaultRates()
	r.Enabled = true
	return &r
}

// scenarioResources costs exactly 5 coins per hour under the default rates.
var scenarioResources = Resources{RAM: 2048, CPU: 100, Disk: 10240, Databases: 2, Allocations: 1, Backups: 3}

type fakeTx struct {
	UserID      uuid.UUID
	Type        string
	Amount      int64
	Description string
}

// fakeLedger is an in-memory Ledger. Every method holds mu for its whole
// body, which gives the same all-or-nothing behaviour as a database
// transaction.
type fakeLedger struct {
	mu sync.Mutex

	rates        *Rates
	ratesErr     error
	balances     map[uuid.UUID]int64
	balanceErrs  map[uuid.UUID]error
	servers      map[uuid.UUID]*Server
	transactions []fakeTx
	audits       []AuditEvent

	chargeErr      error
	markPausedErr  error
	markResumedErr error
	createErr      error
	chargeCalls    int

	// Called without mu held, before the method of the same name runs.
	onGetUserBalance func()
	afterCreate      func()
}

func newFakeLedger(rates *Rates) *fakeLedger {
	return &fakeLedger{
		rates:       rates,
		balances:    make(map[uuid.UUID]int64),
		balanceErrs: make(map[uuid.UUID]error),
		servers:     make(map[uuid.UUID]*Server),
	}
}

func (l *fakeLedger) addUser(balance int64) uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.New()
	l.balances[id] = balance
	return id
}

func (l *fakeLedger) addServer(userID uuid.UUID, remoteID int, res Resources, next *time.Time, paused bool) uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.New()
	l.servers[id] = &Server{
		ID:            id,
		UserID:        userID,
		RemoteID:      remoteID,
		Name:          "server-" + id.String()[:8],
		Resources:     res,
		Paused:        paused,
		NextBillingAt: next,
		CreatedAt:     t0.Add(-24 * time.Hour).Add(time.Duration(len(l.servers)) * time.Second),
	}
	if paused {
		l.servers[id].SuspendedAt = timePtr(t0.Add(-time.Hour))
	}
	return id
}

func (l *fakeLedger) balance(userID uuid.UUID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

func (l *fakeLedger) server(id uuid.UUID) *Server {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.servers[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (l *fakeLedger) txs() []fakeTx {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]fakeTx(nil), l.transactions...)
}

func (l *fakeLedger) auditActions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	actions := make([]string, 0, len(l.audits))
	for _, a := range l.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

func (l *fakeLedger) GetBillingRates(ctx context.Context) (*Rates, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ratesErr != nil {
		return nil, l.ratesErr
	}
	r := *l.rates
	return &r, nil
}

func (l *fakeLedger) GetUserBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if l.onGetUserBalance != nil {
		l.onGetUserBalance()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.balanceErrs[userID]; err != nil {
		return 0, err
	}
	b, ok := l.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	return b, nil
}

func (l *fakeLedger) GetServer(ctx context.Context, serverID uuid.UUID) (*Server, error) {
	s := l.server(serverID)
	if s == nil {
		return nil, ErrServerNotFound
	}
	return s, nil
}

func (l *fakeLedger) FindServersDueForBilling(ctx context.Context, now time.Time) ([]Server, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []Server
	for _, s := range l.servers {
		if s.Paused {
			continue
		}
		if s.NextBillingAt == nil || !s.NextBillingAt.After(now) {
			due = append(due, *s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	return due, nil
}

func (l *fakeLedger) ChargeAndExtend(ctx context.Context, charge Charge) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chargeCalls++
	if l.chargeErr != nil {
		return 0, l.chargeErr
	}
	s, ok := l.servers[charge.ServerID]
	if !ok {
		return 0, ErrServerNotFound
	}
	balance := l.balances[charge.UserID]
	if balance < charge.Amount {
		return 0, &InsufficientFundsError{Required: charge.Amount, Available: balance}
	}
	if !charge.Expect.Matches(s) {
		return 0, ErrBillingStateChanged
	}
	l.balances[charge.UserID] = balance - charge.Amount
	s.LastBilledAt = timePtr(charge.At)
	s.NextBillingAt = timePtr(charge.NextBillingAt)
	l.transactions = append(l.transactions, fakeTx{
		UserID:      charge.UserID,
		Type:        TransactionBilling,
		Amount:      -charge.Amount,
		Description: charge.Description,
	})
	return balance - charge.Amount, nil
}

func (l *fakeLedger) ExtendBilling(ctx context.Context, serverID uuid.UUID, expect Window, next time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.servers[serverID]
	if !ok {
		return ErrServerNotFound
	}
	if !expect.Matches(s) {
		return ErrBillingStateChanged
	}
	s.NextBillingAt = timePtr(next)
	return nil
}

func (l *fakeLedger) RefundCharge(ctx context.Context, refund Refund) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.servers[refund.ServerID]
	if !ok {
		return ErrServerNotFound
	}
	l.balances[refund.UserID] += refund.Amount
	s.NextBillingAt = nil
	if refund.Amount > 0 {
		l.transactions = append(l.transactions, fakeTx{
			UserID:      refund.UserID,
			Type:        TransactionBilling,
			Amount:      refund.Amount,
			Description: refund.Description,
		})
	}
	l.audits = append(l.audits, refund.Audit)
	return nil
}

func (l *fakeLedger) MarkPaused(ctx context.Context, serverID uuid.UUID, at time.Time, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markPausedErr != nil {
		return l.markPausedErr
	}
	s, ok := l.servers[serverID]
	if !ok {
		return ErrServerNotFound
	}
	s.Paused = true
	s.NextBillingAt = nil
	s.SuspendedAt = timePtr(at)
	l.audits = append(l.audits, event)
	return nil
}

func (l *fakeLedger) MarkResumed(ctx context.Context, serverID uuid.UUID, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markResumedErr != nil {
		return l.markResumedErr
	}
	s, ok := l.servers[serverID]
	if !ok {
		return ErrServerNotFound
	}
	s.Paused = false
	s.SuspendedAt = nil
	l.audits = append(l.audits, event)
	return nil
}

func (l *fakeLedger) CreateServer(ctx context.Context, server *Server) error {
	l.mu.Lock()
	if l.createErr != nil {
		l.mu.Unlock()
		return l.createErr
	}
	cp := *server
	l.servers[server.ID] = &cp
	l.mu.Unlock()

	if l.afterCreate != nil {
		l.afterCreate()
	}
	return nil
}

func (l *fakeLedger) DeleteServer(ctx context.Context, serverID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.servers[serverID]; !ok {
		return ErrServerNotFound
	}
	delete(l.servers, serverID)
	return nil
}

func (l *fakeLedger) RecordAuditEvent(ctx context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audits = append(l.audits, event)
	return nil
}

var _ Ledger = (*fakeLedger)(nil)

var errPanelDown = errors.New("panel unavailable")

// fakeGateway records every call and fails the ones configured to fail.
type fakeGateway struct {
	mu sync.Mutex

	nextID    int
	calls     []string
	suspended map[int]bool
	created   map[int]ProvisionSpec
	deleted   []int

	createErr    error
	suspendErr   error
	unsuspendErr error
	deleteErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		nextID:    100,
		suspended: make(map[int]bool),
		created:   make(map[int]ProvisionSpec),
	}
}

func (g *fakeGateway) record(call string) {
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) callCount(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (g *fakeGateway) isSuspended(remoteID int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suspended[remoteID]
}

func (g *fakeGateway) CreateServer(ctx context.Context, spec ProvisionSpec) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("create")
	if g.createErr != nil {
		return 0, g.createErr
	}
	g.nextID++
	g.created[g.nextID] = spec
	return g.nextID, nil
}

func (g *fakeGateway) SuspendServer(ctx context.Context, remoteID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("suspend")
	if g.suspendErr != nil {
		return g.suspendErr
	}
	g.suspended[remoteID] = true
	return nil
}

func (g *fakeGateway) UnsuspendServer(ctx context.Context, remoteID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("unsuspend")
	if g.unsuspendErr != nil {
		return g.unsuspendErr
	}
	g.suspended[remoteID] = false
	return nil
}

func (g *fakeGateway) DeleteServer(ctx context.Context, remoteID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("delete")
	if g.deleteErr != nil {
		return g.deleteErr
	}
	delete(g.created, remoteID)
	g.deleted = append(g.deleted, remoteID)
	return nil
}

var _ Gateway = (*fakeGateway)(nil)

func newTestService(t *testing.T, ledger *fakeLedger, gateway *fakeGateway, opts ...Option) *Service {
	t.Helper()
	base := []Option{
		WithClock(func() time.Time { return t0 }),
		WithLogger(testLogger()),
	}
	return NewService(ledger, gateway, append(base, opts...)...)
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
