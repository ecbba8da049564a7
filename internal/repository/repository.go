package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tai-ledger-api/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when a unique field already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrVersionConflict is returned when a balance write observes a newer
	// version than the one it read.
	ErrVersionConflict = errors.New("version conflict")
)

// AccountTotals aggregates balances across every account.
type AccountTotals struct {
	Count       int64
	TaiBalance  decimal.Decimal
	UsdtBalance decimal.Decimal
}

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByTaiID(ctx context.Context, taiID string) (*models.Account, error)
	GetByReferralCode(ctx context.Context, code string) (*models.Account, error)
	// UpdateBalances persists both balances and account.UpdatedAt if the
	// stored version still equals account.Version, then bumps
	// account.Version. Callers stamp UpdatedAt from their own clock.
	UpdateBalances(ctx context.Context, account *models.Account) error
	UpdateMining(ctx context.Context, id int64, active bool, startedAt *time.Time, updatedAt time.Time) error
	MarkEmailVerified(ctx context.Context, id int64, updatedAt time.Time) error
	List(ctx context.Context, offset, limit int) ([]*models.Account, int64, error)
	ListReferrals(ctx context.Context, referrerID int64) ([]*models.Account, error)
	Totals(ctx context.Context) (*AccountTotals, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	// ListFor returns rows owned by or naming the account as counterparty,
	// newest first. A limit of zero returns every row.
	ListFor(ctx context.Context, accountID int64, limit int) ([]*models.Transaction, error)
	// ListOwned returns rows owned by the account, oldest first.
	ListOwned(ctx context.Context, accountID int64) ([]*models.Transaction, error)
	SumByType(ctx context.Context, accountID int64, txType models.TransactionType, currency models.Currency) (decimal.Decimal, error)
}

type WithdrawalRepository interface {
	Create(ctx context.Context, w *models.Withdrawal) error
	GetByID(ctx context.Context, id int64) (*models.Withdrawal, error)
	Update(ctx context.Context, w *models.Withdrawal) error
	ListByUser(ctx context.Context, userID int64) ([]*models.Withdrawal, error)
	// ListPending returns pending requests oldest first.
	ListPending(ctx context.Context) ([]*models.Withdrawal, error)
	CountPending(ctx context.Context) (int64, error)
	SumPending(ctx context.Context, userID int64, currency models.Currency) (decimal.Decimal, error)
}

// MaturedCursor is the (end_at, id) of the last position a matured scan
// returned.
type MaturedCursor struct {
	EndAt time.Time
	ID    int64
}

// After reports whether p sorts after the cursor.
func (c *MaturedCursor) After(p *models.StakingPosition) bool {
	if c == nil {
		return true
	}
	if p.EndAt.Equal(c.EndAt) {
		return p.ID > c.ID
	}
	return p.EndAt.After(c.EndAt)
}

type StakingRepository interface {
	Create(ctx context.Context, s *models.StakingPosition) error
	GetByID(ctx context.Context, id int64) (*models.StakingPosition, error)
	Update(ctx context.Context, s *models.StakingPosition) error
	ListByUser(ctx context.Context, userID int64) ([]*models.StakingPosition, error)
	// ListMatured returns active positions whose end is at or before now,
	// ordered by (end_at, id). A non-nil after skips every position at or
	// before the cursor.
	ListMatured(ctx context.Context, now time.Time, after *MaturedCursor, limit int) ([]*models.StakingPosition, error)
	CountActive(ctx context.Context) (int64, error)
}

// Store groups the repositories of one backend. Repositories obtained from
// the Store passed to WithinTx's callback see and write that transaction.
type Store interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
	Withdrawals() WithdrawalRepository
	Stakings() StakingRepository

	// WithinTx runs fn in one storage transaction, committing if fn returns
	// nil and rolling back otherwise. Calls nested in fn's store join the
	// enclosing transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
	Close() error
}
