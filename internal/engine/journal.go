package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tai-ledger-api/internal/models"
)

// RecordRequest describes one log row.
type RecordRequest struct {
	AccountID      int64
	Type           models.TransactionType
	Amount         decimal.Decimal
	Currency       models.Currency
	Status         models.TransactionStatus
	Description    string
	CounterpartyID *int64
}

// TransactionLog is the append-only history of balance-affecting events.
// It exposes no update or delete.
type TransactionLog interface {
	Record(ctx context.Context, req RecordRequest) (*models.Transaction, error)
	ListFor(ctx context.Context, accountID int64, limit int) ([]*models.Transaction, error)
}

type transactionLog struct {
	ledger *Ledger
}

func NewTransactionLog(ledger *Ledger) TransactionLog {
	return &transactionLog{ledger: ledger}
}

func (j *transactionLog) Record(ctx context.Context, req RecordRequest) (*models.Transaction, error) {
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}
	if err := requireCurrency(req.Currency); err != nil {
		return nil, err
	}

	var recorded *models.Transaction
	err := j.ledger.execute(ctx, "record_transaction", nil, func(u *unit) error {
		if _, err := u.loadAccount(req.AccountID); err != nil {
			return err
		}
		if req.CounterpartyID != nil {
			if _, err := u.loadAccount(*req.CounterpartyID); err != nil {
				return err
			}
		}

		entry := models.NewTransaction(req.AccountID, req.Type, req.Amount, req.Currency, req.Description)
		if req.Status != "" {
			entry.Status = req.Status
		}
		if req.CounterpartyID != nil {
			entry.WithCounterparty(*req.CounterpartyID)
		}

		tx, err := u.record(entry)
		recorded = tx
		return err
	})
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

// ListFor returns the account's rows and the rows naming it as
// counterparty, newest first.
func (j *transactionLog) ListFor(ctx context.Context, accountID int64, limit int) ([]*models.Transaction, error) {
	if _, err := j.ledger.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	txs, err := j.ledger.store.Transactions().ListFor(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}
