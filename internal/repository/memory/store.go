// Package memory is a map-backed repository.Store for tests and single-node
// development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/repository"
)

type state struct {
	accounts     map[int64]*models.Account
	transactions map[int64]*models.Transaction
	withdrawals  map[int64]*models.Withdrawal
	stakings     map[int64]*models.StakingPosition

	nextAccountID     int64
	nextTransactionID int64
	nextWithdrawalID  int64
	nextStakingID     int64
}

// Store keeps every entity in memory. A transaction holds the store mutex
// for its whole duration and keeps an undo log that restores the previous
// state on rollback.
type Store struct {
	mu    *sync.Mutex
	st    *state
	undo  *[]func()
	inTx  bool
	clock func() time.Time
}

func NewStore() *Store {
	return &Store{
		mu: &sync.Mutex{},
		st: &state{
			accounts:     make(map[int64]*models.Account),
			transactions: make(map[int64]*models.Transaction),
			withdrawals:  make(map[int64]*models.Withdrawal),
			stakings:     make(map[int64]*models.StakingPosition),
		},
		clock: time.Now,
	}
}

// WithClock sets the clock used for generated timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) Accounts() repository.AccountRepository         { return &accountRepo{s} }
func (s *Store) Transactions() repository.TransactionRepository { return &transactionRepo{s} }
func (s *Store) Withdrawals() repository.WithdrawalRepository   { return &withdrawalRepo{s} }
func (s *Store) Stakings() repository.StakingRepository         { return &stakingRepo{s} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	undo := make([]func(), 0, 8)
	tx := &Store{mu: s.mu, st: s.st, undo: &undo, inTx: true, clock: s.clock}

	if err := fn(tx); err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

// run executes op against the state, taking the mutex unless the store is
// already inside a transaction.
func (s *Store) run(op func(st *state) error) error {
	if s.inTx {
		return op(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return op(s.st)
}

func (s *Store) onRollback(f func()) {
	if s.inTx {
		*s.undo = append(*s.undo, f)
	}
}

type accountRepo struct{ s *Store }

func (r *accountRepo) Create(ctx context.Context, account *models.Account) error {
	return r.s.run(func(st *state) error {
		for _, a := range st.accounts {
			if strings.EqualFold(a.Email, account.Email) || a.TaiID == account.TaiID || a.ReferralCode == account.ReferralCode {
				return repository.ErrDuplicateKey
			}
		}

		prevID := st.nextAccountID
		st.nextAccountID++
		now := r.s.clock()
		account.ID = st.nextAccountID
		account.CreatedAt = now
		account.UpdatedAt = now
		st.accounts[account.ID] = account.Clone()

		id := account.ID
		r.s.onRollback(func() {
			delete(st.accounts, id)
			st.nextAccountID = prevID
		})
		return nil
	})
}

func (r *accountRepo) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return a.ID == id })
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return strings.EqualFold(a.Email, email) })
}

func (r *accountRepo) GetByTaiID(ctx context.Context, taiID string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return a.TaiID == taiID })
}

func (r *accountRepo) GetByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return a.ReferralCode == code })
}

func (r *accountRepo) find(match func(*models.Account) bool) (*models.Account, error) {
	var found *models.Account
	err := r.s.run(func(st *state) error {
		for _, a := range st.accounts {
			if match(a) {
				found = a.Clone()
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return found, err
}

func (r *accountRepo) UpdateBalances(ctx context.Context, account *models.Account) error {
	return r.s.run(func(st *state) error {
		stored, ok := st.accounts[account.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if stored.Version != account.Version {
			return repository.ErrVersionConflict
		}

		prev := stored.Clone()
		stored.TaiBalance = account.TaiBalance
		stored.UsdtBalance = account.UsdtBalance
		stored.Version++
		stored.UpdatedAt = account.UpdatedAt
		account.Version = stored.Version

		r.s.onRollback(func() { st.accounts[prev.ID] = prev })
		return nil
	})
}

func (r *accountRepo) UpdateMining(ctx context.Context, id int64, active bool, startedAt *time.Time, updatedAt time.Time) error {
	return r.s.run(func(st *state) error {
		stored, ok := st.accounts[id]
		if !ok {
			return repository.ErrNotFound
		}

		prev := stored.Clone()
		stored.MiningActive = active
		stored.MiningStartedAt = nil
		if startedAt != nil {
			v := *startedAt
			stored.MiningStartedAt = &v
		}
		stored.UpdatedAt = updatedAt

		r.s.onRollback(func() { st.accounts[prev.ID] = prev })
		return nil
	})
}

func (r *accountRepo) MarkEmailVerified(ctx context.Context, id int64, updatedAt time.Time) error {
	return r.s.run(func(st *state) error {
		stored, ok := st.accounts[id]
		if !ok {
			return repository.ErrNotFound
		}

		prev := stored.Clone()
		stored.EmailVerified = true
		stored.UpdatedAt = updatedAt

		r.s.onRollback(func() { st.accounts[prev.ID] = prev })
		return nil
	})
}

func (r *accountRepo) List(ctx context.Context, offset, limit int) ([]*models.Account, int64, error) {
	var out []*models.Account
	var total int64
	err := r.s.run(func(st *state) error {
		all := make([]*models.Account, 0, len(st.accounts))
		for _, a := range st.accounts {
			all = append(all, a)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

		total = int64(len(all))
		for _, a := range page(all, offset, limit) {
			out = append(out, a.Clone())
		}
		return nil
	})
	return out, total, err
}

func (r *accountRepo) ListReferrals(ctx context.Context, referrerID int64) ([]*models.Account, error) {
	var out []*models.Account
	err := r.s.run(func(st *state) error {
		for _, a := range st.accounts {
			if a.ReferredBy != nil && *a.ReferredBy == referrerID {
				out = append(out, a.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
		return nil
	})
	return out, err
}

func (r *accountRepo) Totals(ctx context.Context) (*repository.AccountTotals, error) {
	totals := &repository.AccountTotals{TaiBalance: decimal.Zero, UsdtBalance: decimal.Zero}
	err := r.s.run(func(st *state) error {
		for _, a := range st.accounts {
			totals.Count++
			totals.TaiBalance = totals.TaiBalance.Add(a.TaiBalance)
			totals.UsdtBalance = totals.UsdtBalance.Add(a.UsdtBalance)
		}
		return nil
	})
	return totals, err
}

type transactionRepo struct{ s *Store }

func (r *transactionRepo) Create(ctx context.Context, tx *models.Transaction) error {
	return r.s.run(func(st *state) error {
		prevID := st.nextTransactionID
		st.nextTransactionID++
		tx.ID = st.nextTransactionID
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = r.s.clock()
		}
		st.transactions[tx.ID] = tx.Clone()

		id := tx.ID
		r.s.onRollback(func() {
			delete(st.transactions, id)
			st.nextTransactionID = prevID
		})
		return nil
	})
}

func (r *transactionRepo) ListFor(ctx context.Context, accountID int64, limit int) ([]*models.Transaction, error) {
	var out []*models.Transaction
	err := r.s.run(func(st *state) error {
		for _, t := range st.transactions {
			if t.Involves(accountID) {
				out = append(out, t.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].ID > out[j].ID
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *transactionRepo) ListOwned(ctx context.Context, accountID int64) ([]*models.Transaction, error) {
	var out []*models.Transaction
	err := r.s.run(func(st *state) error {
		for _, t := range st.transactions {
			if t.UserID == accountID {
				out = append(out, t.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (r *transactionRepo) SumByType(ctx context.Context, accountID int64, txType models.TransactionType, currency models.Currency) (decimal.Decimal, error) {
	sum := decimal.Zero
	err := r.s.run(func(st *state) error {
		for _, t := range st.transactions {
			if t.UserID == accountID && t.Type == txType && t.Currency == currency {
				sum = sum.Add(t.Amount)
			}
		}
		return nil
	})
	return sum, err
}

type withdrawalRepo struct{ s *Store }

func (r *withdrawalRepo) Create(ctx context.Context, w *models.Withdrawal) error {
	return r.s.run(func(st *state) error {
		prevID := st.nextWithdrawalID
		st.nextWithdrawalID++
		w.ID = st.nextWithdrawalID
		if w.CreatedAt.IsZero() {
			w.CreatedAt = r.s.clock()
		}
		st.withdrawals[w.ID] = w.Clone()

		id := w.ID
		r.s.onRollback(func() {
			delete(st.withdrawals, id)
			st.nextWithdrawalID = prevID
		})
		return nil
	})
}

func (r *withdrawalRepo) GetByID(ctx context.Context, id int64) (*models.Withdrawal, error) {
	var found *models.Withdrawal
	err := r.s.run(func(st *state) error {
		w, ok := st.withdrawals[id]
		if !ok {
			return repository.ErrNotFound
		}
		found = w.Clone()
		return nil
	})
	return found, err
}

func (r *withdrawalRepo) Update(ctx context.Context, w *models.Withdrawal) error {
	return r.s.run(func(st *state) error {
		prev, ok := st.withdrawals[w.ID]
		if !ok {
			return repository.ErrNotFound
		}
		st.withdrawals[w.ID] = w.Clone()
		r.s.onRollback(func() { st.withdrawals[prev.ID] = prev })
		return nil
	})
}

func (r *withdrawalRepo) ListByUser(ctx context.Context, userID int64) ([]*models.Withdrawal, error) {
	out := r.filter(func(w *models.Withdrawal) bool { return w.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (r *withdrawalRepo) ListPending(ctx context.Context) ([]*models.Withdrawal, error) {
	out := r.filter(func(w *models.Withdrawal) bool { return w.IsPending() })
	sort.Slice(out, func(i, j int) bool { return newer(out[j].CreatedAt, out[j].ID, out[i].CreatedAt, out[i].ID) })
	return out, nil
}

func (r *withdrawalRepo) CountPending(ctx context.Context) (int64, error) {
	return int64(len(r.filter(func(w *models.Withdrawal) bool { return w.IsPending() }))), nil
}

func (r *withdrawalRepo) SumPending(ctx context.Context, userID int64, currency models.Currency) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, w := range r.filter(func(w *models.Withdrawal) bool {
		return w.UserID == userID && w.Currency == currency && w.IsPending()
	}) {
		sum = sum.Add(w.Amount)
	}
	return sum, nil
}

func (r *withdrawalRepo) filter(match func(*models.Withdrawal) bool) []*models.Withdrawal {
	var out []*models.Withdrawal
	_ = r.s.run(func(st *state) error {
		for _, w := range st.withdrawals {
			if match(w) {
				out = append(out, w.Clone())
			}
		}
		return nil
	})
	return out
}

type stakingRepo struct{ s *Store }

func (r *stakingRepo) Create(ctx context.Context, p *models.StakingPosition) error {
	return r.s.run(func(st *state) error {
		prevID := st.nextStakingID
		st.nextStakingID++
		p.ID = st.nextStakingID
		st.stakings[p.ID] = p.Clone()

		id := p.ID
		r.s.onRollback(func() {
			delete(st.stakings, id)
			st.nextStakingID = prevID
		})
		return nil
	})
}

func (r *stakingRepo) GetByID(ctx context.Context, id int64) (*models.StakingPosition, error) {
	var found *models.StakingPosition
	err := r.s.run(func(st *state) error {
		p, ok := st.stakings[id]
		if !ok {
			return repository.ErrNotFound
		}
		found = p.Clone()
		return nil
	})
	return found, err
}

func (r *stakingRepo) Update(ctx context.Context, p *models.StakingPosition) error {
	return r.s.run(func(st *state) error {
		prev, ok := st.stakings[p.ID]
		if !ok {
			return repository.ErrNotFound
		}
		st.stakings[p.ID] = p.Clone()
		r.s.onRollback(func() { st.stakings[prev.ID] = prev })
		return nil
	})
}

func (r *stakingRepo) ListByUser(ctx context.Context, userID int64) ([]*models.StakingPosition, error) {
	out := r.filter(func(p *models.StakingPosition) bool { return p.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return newer(out[i].StartedAt, out[i].ID, out[j].StartedAt, out[j].ID) })
	return out, nil
}

func (r *stakingRepo) ListMatured(ctx context.Context, now time.Time, after *repository.MaturedCursor, limit int) ([]*models.StakingPosition, error) {
	out := r.filter(func(p *models.StakingPosition) bool { return p.IsActive() && p.IsMatured(now) && after.After(p) })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndAt.Equal(out[j].EndAt) {
			return out[i].EndAt.Before(out[j].EndAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *stakingRepo) CountActive(ctx context.Context) (int64, error) {
	return int64(len(r.filter(func(p *models.StakingPosition) bool { return p.IsActive() }))), nil
}

func (r *stakingRepo) filter(match func(*models.StakingPosition) bool) []*models.StakingPosition {
	var out []*models.StakingPosition
	_ = r.s.run(func(st *state) error {
		for _, p := range st.stakings {
			if match(p) {
				out = append(out, p.Clone())
			}
		}
		return nil
	})
	return out
}

// newer orders by timestamp descending and then by id descending.
func newer(at time.Time, id int64, otherAt time.Time, otherID int64) bool {
	if !at.Equal(otherAt) {
		return at.After(otherAt)
	}
	return id > otherID
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
