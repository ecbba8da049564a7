package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/models"
	apperrors "tai-ledger-api/pkg/errors"
)

// WithdrawalWorkflow is the state machine pending -> approved | rejected.
// Funds stay on the account until approval; a request only succeeds while
// the balance covers it together with the account's other pending requests
// in the same currency.
type WithdrawalWorkflow interface {
	Request(ctx context.Context, accountID int64, amount decimal.Decimal, currency models.Currency, address string) (*models.Withdrawal, error)
	Process(ctx context.Context, withdrawalID, adminID int64, decision models.WithdrawalStatus) (*models.Withdrawal, error)
	Pending(ctx context.Context) ([]*models.WithdrawalWithAccount, error)
	ListFor(ctx context.Context, accountID int64) ([]*models.Withdrawal, error)
}

type withdrawalWorkflow struct {
	ledger *Ledger
	logger *logrus.Entry
}

func NewWithdrawalWorkflow(ledger *Ledger) WithdrawalWorkflow {
	return &withdrawalWorkflow{
		ledger: ledger,
		logger: logrus.WithField("component", "withdrawals"),
	}
}

func (w *withdrawalWorkflow) Request(ctx context.Context, accountID int64, amount decimal.Decimal, currency models.Currency, address string) (*models.Withdrawal, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	if err := requireCurrency(currency); err != nil {
		return nil, err
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, apperrors.NewInvalidOperationError("Withdrawal address is required")
	}

	var created *models.Withdrawal
	err := w.ledger.execute(ctx, "withdrawal_request", []int64{accountID}, func(u *unit) error {
		acc, err := u.loadAccount(accountID)
		if err != nil {
			return err
		}

		pending, err := u.tx.Withdrawals().SumPending(u.ctx, accountID, currency)
		if err != nil {
			return fmt.Errorf("failed to sum pending withdrawals: %w", err)
		}
		if !acc.HasSufficientBalance(currency, pending.Add(amount)) {
			return apperrors.NewInsufficientFundsError(string(currency))
		}

		withdrawal := &models.Withdrawal{
			UserID:    accountID,
			Amount:    amount,
			Currency:  currency,
			Address:   address,
			Status:    models.WithdrawalStatusPending,
			CreatedAt: u.now,
		}
		if err := u.tx.Withdrawals().Create(u.ctx, withdrawal); err != nil {
			return fmt.Errorf("failed to create withdrawal: %w", err)
		}
		u.withdrawals = append(u.withdrawals, withdrawal)
		created = withdrawal
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.WithFields(logrus.Fields{
		"withdrawal_id": created.ID,
		"account_id":    accountID,
		"amount":        amount.String(),
		"currency":      currency,
	}).Info("Withdrawal requested")
	return created, nil
}

// Process moves a pending request to its terminal state. Approval debits
// the owner and logs a withdrawal row; rejection touches no balance.
func (w *withdrawalWorkflow) Process(ctx context.Context, withdrawalID, adminID int64, decision models.WithdrawalStatus) (*models.Withdrawal, error) {
	if !decision.IsDecision() {
		return nil, apperrors.NewInvalidOperationError("Decision must be approved or rejected", string(decision))
	}

	admin, err := w.ledger.GetAccount(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if !admin.IsAdmin() {
		return nil, apperrors.ErrAccessDenied
	}

	existing, err := w.ledger.store.Withdrawals().GetByID(ctx, withdrawalID)
	if err != nil {
		return nil, mapNotFound(err, apperrors.ErrWithdrawalNotFound, "get withdrawal")
	}

	var processed *models.Withdrawal
	err = w.ledger.execute(ctx, "withdrawal_process", []int64{existing.UserID}, func(u *unit) error {
		withdrawal, err := u.tx.Withdrawals().GetByID(u.ctx, withdrawalID)
		if err != nil {
			return mapNotFound(err, apperrors.ErrWithdrawalNotFound, "get withdrawal")
		}
		if !withdrawal.IsPending() {
			return apperrors.ErrAlreadyProcessed
		}

		if decision == models.WithdrawalStatusApproved {
			if _, err := u.applyDelta(withdrawal.UserID, models.DeltaFor(withdrawal.Currency, withdrawal.Amount.Neg())); err != nil {
				return err
			}
			if _, err := u.record(models.NewTransaction(withdrawal.UserID, models.TransactionTypeWithdrawal,
				withdrawal.Amount, withdrawal.Currency, fmt.Sprintf("Withdrawal to %s", withdrawal.Address))); err != nil {
				return err
			}
		}

		processedAt := u.now
		processedBy := adminID
		withdrawal.Status = decision
		withdrawal.ProcessedAt = &processedAt
		withdrawal.ProcessedBy = &processedBy
		if err := u.tx.Withdrawals().Update(u.ctx, withdrawal); err != nil {
			return fmt.Errorf("failed to update withdrawal: %w", err)
		}

		u.withdrawals = append(u.withdrawals, withdrawal)
		processed = withdrawal
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.WithFields(logrus.Fields{
		"withdrawal_id": withdrawalID,
		"admin_id":      adminID,
		"decision":      decision,
	}).Info("Withdrawal processed")
	return processed, nil
}

// Pending lists requests awaiting review, oldest first, with owner details.
func (w *withdrawalWorkflow) Pending(ctx context.Context) ([]*models.WithdrawalWithAccount, error) {
	pending, err := w.ledger.store.Withdrawals().ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending withdrawals: %w", err)
	}

	owners := make(map[int64]*models.Account)
	out := make([]*models.WithdrawalWithAccount, 0, len(pending))
	for _, wd := range pending {
		owner, ok := owners[wd.UserID]
		if !ok {
			owner, err = w.ledger.GetAccount(ctx, wd.UserID)
			if err != nil {
				return nil, err
			}
			owners[wd.UserID] = owner
		}
		out = append(out, &models.WithdrawalWithAccount{
			Withdrawal: *wd,
			UserName:   owner.Name,
			UserEmail:  owner.Email,
			UserTaiID:  owner.TaiID,
		})
	}
	return out, nil
}

// ListFor returns the account's requests, newest first.
func (w *withdrawalWorkflow) ListFor(ctx context.Context, accountID int64) ([]*models.Withdrawal, error) {
	ws, err := w.ledger.store.Withdrawals().ListByUser(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	return ws, nil
}
