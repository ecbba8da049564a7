// Package sqlstore implements repository.Store on gorm, for the sqlite and
// mysql dialects.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/repository"
)

type Store struct {
	db   *gorm.DB
	inTx bool
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the four ledger tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&models.Account{},
		&models.Transaction{},
		&models.Withdrawal{},
		&models.StakingPosition{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Accounts() repository.AccountRepository         { return &accountRepository{s} }
func (s *Store) Transactions() repository.TransactionRepository { return &transactionRepository{s} }
func (s *Store) Withdrawals() repository.WithdrawalRepository   { return &withdrawalRepository{s} }
func (s *Store) Stakings() repository.StakingRepository         { return &stakingRepository{s} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, inTx: true})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.Close()
}

func (s *Store) query(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// forUpdate is query plus a row lock when inside a transaction. The sqlite
// dialect drops the locking clause.
func (s *Store) forUpdate(ctx context.Context) *gorm.DB {
	db := s.db.WithContext(ctx)
	if s.inTx {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func translate(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrNotFound
	case isDuplicate(err):
		return repository.ErrDuplicateKey
	default:
		return fmt.Errorf("failed to %s: %w", action, err)
	}
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

type accountRepository struct{ s *Store }

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	return translate(r.s.query(ctx).Omit(clause.Associations).Create(account).Error, "create account")
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	if err := r.s.forUpdate(ctx).First(&account, id).Error; err != nil {
		return nil, translate(err, "get account")
	}
	return &account, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getBy(ctx, "email = ?", email)
}

func (r *accountRepository) GetByTaiID(ctx context.Context, taiID string) (*models.Account, error) {
	return r.getBy(ctx, "tai_id = ?", taiID)
}

func (r *accountRepository) GetByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	return r.getBy(ctx, "referral_code = ?", code)
}

func (r *accountRepository) getBy(ctx context.Context, cond string, value string) (*models.Account, error) {
	var account models.Account
	if err := r.s.query(ctx).Where(cond, value).First(&account).Error; err != nil {
		return nil, translate(err, "get account")
	}
	return &account, nil
}

func (r *accountRepository) UpdateBalances(ctx context.Context, account *models.Account) error {
	res := r.s.query(ctx).Model(&models.Account{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"tai_balance":  account.TaiBalance,
			"usdt_balance": account.UsdtBalance,
			"version":      gorm.Expr("version + 1"),
			"updated_at":   account.UpdatedAt,
		})
	if res.Error != nil {
		return translate(res.Error, "update balances")
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.s.query(ctx).Model(&models.Account{}).Where("id = ?", account.ID).Count(&count).Error; err != nil {
			return translate(err, "update balances")
		}
		if count == 0 {
			return repository.ErrNotFound
		}
		return repository.ErrVersionConflict
	}

	account.Version++
	return nil
}

func (r *accountRepository) UpdateMining(ctx context.Context, id int64, active bool, startedAt *time.Time, updatedAt time.Time) error {
	res := r.s.query(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"mining_active":     active,
			"mining_started_at": startedAt,
			"updated_at":        updatedAt,
		})
	if res.Error != nil {
		return translate(res.Error, "update mining state")
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *accountRepository) MarkEmailVerified(ctx context.Context, id int64, updatedAt time.Time) error {
	res := r.s.query(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"email_verified": true,
			"updated_at":     updatedAt,
		})
	if res.Error != nil {
		return translate(res.Error, "mark email verified")
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *accountRepository) List(ctx context.Context, offset, limit int) ([]*models.Account, int64, error) {
	var accounts []*models.Account
	var total int64

	query := r.s.query(ctx).Model(&models.Account{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "count accounts")
	}

	query = query.Order("id ASC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&accounts).Error; err != nil {
		return nil, 0, translate(err, "list accounts")
	}
	return accounts, total, nil
}

func (r *accountRepository) ListReferrals(ctx context.Context, referrerID int64) ([]*models.Account, error) {
	var accounts []*models.Account
	if err := r.s.query(ctx).Where("referred_by = ?", referrerID).Order("id DESC").Find(&accounts).Error; err != nil {
		return nil, translate(err, "list referrals")
	}
	return accounts, nil
}

func (r *accountRepository) Totals(ctx context.Context) (*repository.AccountTotals, error) {
	var row struct {
		Count int64
		Tai   decimal.NullDecimal
		Usdt  decimal.NullDecimal
	}
	err := r.s.query(ctx).Model(&models.Account{}).
		Select("COUNT(*) AS count, SUM(tai_balance) AS tai, SUM(usdt_balance) AS usdt").
		Scan(&row).Error
	if err != nil {
		return nil, translate(err, "sum balances")
	}
	return &repository.AccountTotals{
		Count:       row.Count,
		TaiBalance:  orZero(row.Tai),
		UsdtBalance: orZero(row.Usdt),
	}, nil
}

type transactionRepository struct{ s *Store }

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	return translate(r.s.query(ctx).Omit(clause.Associations).Create(tx).Error, "create transaction")
}

func (r *transactionRepository) ListFor(ctx context.Context, accountID int64, limit int) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	query := r.s.query(ctx).
		Where("user_id = ? OR counterparty_id = ?", accountID, accountID).
		Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txs).Error; err != nil {
		return nil, translate(err, "list transactions")
	}
	return txs, nil
}

func (r *transactionRepository) ListOwned(ctx context.Context, accountID int64) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	if err := r.s.query(ctx).Where("user_id = ?", accountID).Order("id ASC").Find(&txs).Error; err != nil {
		return nil, translate(err, "list transactions")
	}
	return txs, nil
}

func (r *transactionRepository) SumByType(ctx context.Context, accountID int64, txType models.TransactionType, currency models.Currency) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.s.query(ctx).Model(&models.Transaction{}).
		Select("SUM(amount)").
		Where("user_id = ? AND type = ? AND currency = ?", accountID, txType, currency).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, translate(err, "sum transactions")
	}
	return orZero(sum), nil
}

type withdrawalRepository struct{ s *Store }

func (r *withdrawalRepository) Create(ctx context.Context, w *models.Withdrawal) error {
	return translate(r.s.query(ctx).Omit(clause.Associations).Create(w).Error, "create withdrawal")
}

func (r *withdrawalRepository) GetByID(ctx context.Context, id int64) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.s.forUpdate(ctx).First(&w, id).Error; err != nil {
		return nil, translate(err, "get withdrawal")
	}
	return &w, nil
}

func (r *withdrawalRepository) Update(ctx context.Context, w *models.Withdrawal) error {
	res := r.s.query(ctx).Model(&models.Withdrawal{}).
		Where("id = ?", w.ID).
		Updates(map[string]interface{}{
			"status":       w.Status,
			"processed_at": w.ProcessedAt,
			"processed_by": w.ProcessedBy,
		})
	if res.Error != nil {
		return translate(res.Error, "update withdrawal")
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *withdrawalRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Withdrawal, error) {
	var ws []*models.Withdrawal
	if err := r.s.query(ctx).Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC").Find(&ws).Error; err != nil {
		return nil, translate(err, "list withdrawals")
	}
	return ws, nil
}

func (r *withdrawalRepository) ListPending(ctx context.Context) ([]*models.Withdrawal, error) {
	var ws []*models.Withdrawal
	err := r.s.query(ctx).Where("status = ?", models.WithdrawalStatusPending).
		Order("created_at ASC").Order("id ASC").Find(&ws).Error
	if err != nil {
		return nil, translate(err, "list pending withdrawals")
	}
	return ws, nil
}

func (r *withdrawalRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.s.query(ctx).Model(&models.Withdrawal{}).Where("status = ?", models.WithdrawalStatusPending).Count(&count).Error
	if err != nil {
		return 0, translate(err, "count pending withdrawals")
	}
	return count, nil
}

func (r *withdrawalRepository) SumPending(ctx context.Context, userID int64, currency models.Currency) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.s.query(ctx).Model(&models.Withdrawal{}).
		Select("SUM(amount)").
		Where("user_id = ? AND currency = ? AND status = ?", userID, currency, models.WithdrawalStatusPending).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, translate(err, "sum pending withdrawals")
	}
	return orZero(sum), nil
}

type stakingRepository struct{ s *Store }

func (r *stakingRepository) Create(ctx context.Context, p *models.StakingPosition) error {
	return translate(r.s.query(ctx).Omit(clause.Associations).Create(p).Error, "create staking position")
}

func (r *stakingRepository) GetByID(ctx context.Context, id int64) (*models.StakingPosition, error) {
	var p models.StakingPosition
	if err := r.s.forUpdate(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err, "get staking position")
	}
	return &p, nil
}

func (r *stakingRepository) Update(ctx context.Context, p *models.StakingPosition) error {
	res := r.s.query(ctx).Model(&models.StakingPosition{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"status":         p.Status,
			"last_reward_at": p.LastRewardAt,
			"settled_at":     p.SettledAt,
			"reward":         p.Reward,
		})
	if res.Error != nil {
		return translate(res.Error, "update staking position")
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *stakingRepository) ListByUser(ctx context.Context, userID int64) ([]*models.StakingPosition, error) {
	var ps []*models.StakingPosition
	if err := r.s.query(ctx).Where("user_id = ?", userID).Order("started_at DESC").Order("id DESC").Find(&ps).Error; err != nil {
		return nil, translate(err, "list staking positions")
	}
	return ps, nil
}

func (r *stakingRepository) ListMatured(ctx context.Context, now time.Time, after *repository.MaturedCursor, limit int) ([]*models.StakingPosition, error) {
	var ps []*models.StakingPosition
	query := r.s.query(ctx).
		Where("status = ? AND end_at <= ?", models.StakingStatusActive, now).
		Order("end_at ASC").Order("id ASC")
	if after != nil {
		query = query.Where("(end_at > ? OR (end_at = ? AND id > ?))", after.EndAt, after.EndAt, after.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&ps).Error; err != nil {
		return nil, translate(err, "list matured staking positions")
	}
	return ps, nil
}

func (r *stakingRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.s.query(ctx).Model(&models.StakingPosition{}).Where("status = ?", models.StakingStatusActive).Count(&count).Error
	if err != nil {
		return 0, translate(err, "count active staking positions")
	}
	return count, nil
}

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
