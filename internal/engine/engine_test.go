package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tai-ledger-api/internal/lock"
	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/repository"
	"tai-ledger-api/internal/repository/memory"
	"tai-ledger-api/internal/repository/sqlstore"
	apperrors "tai-ledger-api/pkg/errors"
)

var testEpoch = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backend struct {
	name     string
	newStore func(t *testing.T) repository.Store
}

var backends = []backend{
	{name: "memory", newStore: func(t *testing.T) repository.Store { return memory.NewStore() }},
	{name: "sqlite", newStore: newSQLiteStore},
}

func newSQLiteStore(t *testing.T) repository.Store {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:engine_%s?mode=memory&cache=shared&_foreign_keys=on", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := sqlstore.NewStore(db)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type harness struct {
	ctx    context.Context
	store  repository.Store
	clock  *fakeClock
	ledger *Ledger
	seq    int
}

func newHarness(t *testing.T, newStore func(t *testing.T) repository.Store, opts ...Option) *harness {
	store := newStore(t)
	clock := newFakeClock()
	locks := lock.NewAccountLockManager(lock.NewLocalLocker(10*time.Second), 30*time.Second)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &harness{
		ctx:    context.Background(),
		store:  store,
		clock:  clock,
		ledger: NewLedger(store, locks, opts...),
	}
}

// eachBackend runs fn against a fresh harness per storage backend.
func eachBackend(t *testing.T, fn func(t *testing.T, h *harness)) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, newHarness(t, b.newStore))
		})
	}
}

func (h *harness) account(t *testing.T, name string) *models.Account {
	return h.accountWith(t, name, models.RoleUser, "")
}

func (h *harness) admin(t *testing.T) *models.Account {
	return h.accountWith(t, "admin", models.RoleAdmin, "")
}

func (h *harness) accountWith(t *testing.T, name string, role models.Role, referralCode string) *models.Account {
	t.Helper()
	h.seq++
	acc, err := h.ledger.CreateAccount(h.ctx, NewAccount{
		Name:         name,
		Email:        fmt.Sprintf("%s.%d@example.com", name, h.seq),
		PasswordHash: "hash",
		Role:         role,
		ReferralCode: referralCode,
	})
	require.NoError(t, err)
	return acc
}

func (h *harness) fund(t *testing.T, accountID int64, tai, usdt string) {
	t.Helper()
	_, err := h.ledger.ApplyDelta(h.ctx, accountID, dec(tai), dec(usdt))
	require.NoError(t, err)
}

func (h *harness) reload(t *testing.T, accountID int64) *models.Account {
	t.Helper()
	acc, err := h.ledger.GetAccount(h.ctx, accountID)
	require.NoError(t, err)
	return acc
}

func (h *harness) rows(t *testing.T, accountID int64) []*models.Transaction {
	t.Helper()
	txs, err := h.store.Transactions().ListOwned(h.ctx, accountID)
	require.NoError(t, err)
	return txs
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(expected).Equal(actual), append([]interface{}{"expected %s, got %s", expected, actual.String()}, msgAndArgs...)...)
}

func assertKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperrors.KindOf(err), "unexpected error: %v", err)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishAccountCreated(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishTransaction(ctx context.Context, tx *models.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishStaking(ctx context.Context, p *models.StakingPosition) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

type MockMetricsRecorder struct {
	mock.Mock
}

func (m *MockMetricsRecorder) RecordOperation(operation, status string, duration time.Duration) {
	m.Called(operation, status, duration)
}

func (m *MockMetricsRecorder) RecordTransaction(tx *models.Transaction) {
	m.Called(tx)
}
