package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/lock"
	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/repository"
	apperrors "tai-ledger-api/pkg/errors"
)

const (
	taiIDPrefix        = "TAI"
	referralCodePrefix = "REF"
	codeLength         = 8
	codeAlphabet       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	defaultCreateAttempts = 5
)

// ReferralBonus is credited to the referrer when a referred account is created.
var ReferralBonus = decimal.RequireFromString("0.5")

// Ledger owns every balance mutation. Other engines build on its unit of
// work so that balance changes and their log rows commit together.
type Ledger struct {
	store   repository.Store
	locks   *lock.AccountLockManager
	events  EventPublisher
	metrics MetricsRecorder
	now     func() time.Time
	newCode func() string
	logger  *logrus.Entry

	createAttempts int
}

type Option func(*Ledger)

// WithClock replaces time.Now as the source of every timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(l *Ledger) { l.events = p }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithCodeGenerator replaces the random suffix generator of TAI IDs and
// referral codes.
func WithCodeGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newCode = gen }
}

func NewLedger(store repository.Store, locks *lock.AccountLockManager, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		locks:          locks,
		events:         noopPublisher{},
		metrics:        noopMetrics{},
		now:            time.Now,
		newCode:        randomCode,
		logger:         logrus.WithField("component", "ledger"),
		createAttempts: defaultCreateAttempts,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the backing store for read-only queries.
func (l *Ledger) Store() repository.Store {
	return l.store
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// ApplyDelta adds the signed deltas to the account's balances. It fails with
// InsufficientFunds, leaving the account untouched, if either result would
// be negative.
func (l *Ledger) ApplyDelta(ctx context.Context, accountID int64, taiDelta, usdtDelta decimal.Decimal) (*models.Account, error) {
	var account *models.Account
	err := l.execute(ctx, "apply_delta", []int64{accountID}, func(u *unit) error {
		acc, err := u.applyDelta(accountID, models.Delta{Tai: taiDelta, Usdt: usdtDelta})
		account = acc
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// NewAccount holds the registration input of CreateAccount. PasswordHash is
// stored as given.
type NewAccount struct {
	Name         string
	Email        string
	PasswordHash string
	Role         models.Role
	ReferralCode string
}

// CreateAccount registers an account with zero balances and fresh
// identifiers. A referral code that resolves credits the referrer with
// ReferralBonus in the same transaction; an unknown code is ignored.
func (l *Ledger) CreateAccount(ctx context.Context, req NewAccount) (*models.Account, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || email == "" {
		return nil, apperrors.NewInvalidOperationError("Name and email are required")
	}
	role := req.Role
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return nil, apperrors.NewInvalidOperationError("Invalid role", string(role))
	}

	if _, err := l.store.Accounts().GetByEmail(ctx, email); err == nil {
		return nil, apperrors.ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	referrer, err := l.resolveReferrer(ctx, req.ReferralCode)
	if err != nil {
		return nil, err
	}

	var lockIDs []int64
	if referrer != nil {
		lockIDs = append(lockIDs, referrer.ID)
	}

	for attempt := 1; attempt <= l.createAttempts; attempt++ {
		var created *models.Account
		err := l.execute(ctx, "create_account", lockIDs, func(u *unit) error {
			account := &models.Account{
				Name:         name,
				Email:        email,
				PasswordHash: req.PasswordHash,
				Role:         role,
				TaiID:        taiIDPrefix + l.newCode(),
				ReferralCode: referralCodePrefix + l.newCode(),
				TaiBalance:   decimal.Zero,
				UsdtBalance:  decimal.Zero,
			}
			if referrer != nil {
				id := referrer.ID
				account.ReferredBy = &id
			}

			if err := u.tx.Accounts().Create(u.ctx, account); err != nil {
				return err
			}
			u.accounts = append(u.accounts, account)

			if referrer != nil {
				if _, err := u.applyDelta(referrer.ID, models.DeltaFor(models.CurrencyTAI, ReferralBonus)); err != nil {
					return err
				}
				bonus := models.NewTransaction(referrer.ID, models.TransactionTypeReferralBonus, ReferralBonus,
					models.CurrencyTAI, fmt.Sprintf("Referral bonus for user %s", account.Name))
				if _, err := u.record(bonus); err != nil {
					return err
				}
			}

			created = account
			return nil
		})
		if err == nil {
			l.logger.WithFields(logrus.Fields{
				"account_id": created.ID,
				"tai_id":     created.TaiID,
				"referred":   referrer != nil,
			}).Info("Account created")
			return created, nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, err
		}

		// The email may have been taken concurrently; otherwise an
		// identifier collided and a new pair is drawn.
		if _, lookupErr := l.store.Accounts().GetByEmail(ctx, email); lookupErr == nil {
			return nil, apperrors.ErrEmailTaken
		}
		l.logger.WithField("attempt", attempt).Warn("Account identifier collision, retrying")
	}

	return nil, apperrors.NewConflictError("Could not allocate unique account identifiers")
}

func (l *Ledger) resolveReferrer(ctx context.Context, code string) (*models.Account, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, nil
	}

	referrer, err := l.store.Accounts().GetByReferralCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		l.logger.WithField("referral_code", code).Info("Ignoring unknown referral code")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve referral code: %w", err)
	}
	return referrer, nil
}

// VerifyEmail marks the account's email as verified. Verifying twice is a
// no-op.
func (l *Ledger) VerifyEmail(ctx context.Context, accountID int64) (*models.Account, error) {
	var account *models.Account
	err := l.execute(ctx, "verify_email", []int64{accountID}, func(u *unit) error {
		acc, err := u.loadAccount(accountID)
		if err != nil {
			return err
		}
		if !acc.EmailVerified {
			if err := u.tx.Accounts().MarkEmailVerified(u.ctx, accountID, u.now); err != nil {
				return fmt.Errorf("failed to verify email: %w", err)
			}
			acc.EmailVerified = true
			acc.UpdatedAt = u.now
		}
		account = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccount loads an account by id.
func (l *Ledger) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	account, err := l.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, mapNotFound(err, apperrors.ErrAccountNotFound, "get account")
	}
	return account, nil
}

// unit is the state of one locked, transactional ledger operation.
type unit struct {
	ctx context.Context
	tx  repository.Store
	now time.Time

	accounts     []*models.Account
	transactions []*models.Transaction
	withdrawals  []*models.Withdrawal
	stakings     []*models.StakingPosition
}

// execute locks the given accounts, runs fn in one storage transaction and
// publishes the collected events once it has committed.
func (l *Ledger) execute(ctx context.Context, operation string, accountIDs []int64, fn func(u *unit) error) error {
	start := time.Now()
	status := "success"
	defer func() {
		l.metrics.RecordOperation(operation, status, time.Since(start))
	}()

	if len(accountIDs) > 0 {
		release, err := l.locks.LockAccounts(ctx, accountIDs...)
		if err != nil {
			status = "lock_failed"
			return apperrors.NewAppError(apperrors.KindConflict, "Account is busy, try again", err.Error())
		}
		defer release()
	}

	u := &unit{ctx: ctx}
	err := l.store.WithinTx(ctx, func(tx repository.Store) error {
		// Some backends retry the callback; start every attempt clean.
		*u = unit{ctx: ctx, tx: tx, now: l.now()}
		return fn(u)
	})
	if err != nil {
		status = string(apperrors.KindOf(err))
		return err
	}

	l.publish(ctx, u)
	return nil
}

func (l *Ledger) publish(ctx context.Context, u *unit) {
	for _, a := range u.accounts {
		if err := l.events.PublishAccountCreated(ctx, a); err != nil {
			l.logger.WithError(err).WithField("account_id", a.ID).Warn("Failed to publish account event")
		}
	}
	for _, t := range u.transactions {
		l.metrics.RecordTransaction(t)
		if err := l.events.PublishTransaction(ctx, t); err != nil {
			l.logger.WithError(err).WithField("transaction_id", t.ID).Warn("Failed to publish transaction event")
		}
	}
	for _, w := range u.withdrawals {
		if err := l.events.PublishWithdrawal(ctx, w); err != nil {
			l.logger.WithError(err).WithField("withdrawal_id", w.ID).Warn("Failed to publish withdrawal event")
		}
	}
	for _, p := range u.stakings {
		if err := l.events.PublishStaking(ctx, p); err != nil {
			l.logger.WithError(err).WithField("staking_id", p.ID).Warn("Failed to publish staking event")
		}
	}
}

// applyDelta is the single read-modify-write of balances.
func (u *unit) applyDelta(accountID int64, delta models.Delta) (*models.Account, error) {
	account, err := u.tx.Accounts().GetByID(u.ctx, accountID)
	if err != nil {
		return nil, mapNotFound(err, apperrors.ErrAccountNotFound, "load account")
	}

	tai := account.TaiBalance.Add(delta.Tai)
	usdt := account.UsdtBalance.Add(delta.Usdt)
	if tai.IsNegative() {
		return nil, apperrors.NewInsufficientFundsError(string(models.CurrencyTAI))
	}
	if usdt.IsNegative() {
		return nil, apperrors.NewInsufficientFundsError(string(models.CurrencyUSDT))
	}

	account.TaiBalance = tai
	account.UsdtBalance = usdt
	account.UpdatedAt = u.now
	if err := u.tx.Accounts().UpdateBalances(u.ctx, account); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, apperrors.NewConflictError("Account was modified concurrently, try again")
		}
		return nil, fmt.Errorf("failed to update balances: %w", err)
	}
	return account, nil
}

// record appends a row to the transaction log.
func (u *unit) record(entry *models.Transaction) (*models.Transaction, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = u.now
	}
	if entry.Status == "" {
		entry.Status = models.TransactionStatusCompleted
	}
	if err := entry.Validate(); err != nil {
		return nil, apperrors.NewInvalidOperationError("Invalid transaction", err.Error())
	}
	if err := u.tx.Transactions().Create(u.ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	u.transactions = append(u.transactions, entry)
	return entry, nil
}

func (u *unit) loadAccount(accountID int64) (*models.Account, error) {
	account, err := u.tx.Accounts().GetByID(u.ctx, accountID)
	if err != nil {
		return nil, mapNotFound(err, apperrors.ErrAccountNotFound, "load account")
	}
	return account, nil
}

func mapNotFound(err error, notFound *apperrors.AppError, action string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.ErrInvalidAmount
	}
	return nil
}

func requireCurrency(c models.Currency) error {
	if !c.Valid() {
		return apperrors.NewInvalidOperationError("Unsupported currency", string(c))
	}
	return nil
}

// randomCode draws codeLength characters from codeAlphabet using the
// random bytes of a version 4 UUID.
func randomCode() string {
	u := uuid.New()
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[int(u[i])%len(codeAlphabet)]
	}
	return string(b)
}
