package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/models"
)

const (
	ReconcileStatusBalanced    = "balanced"
	ReconcileStatusDiscrepancy = "discrepancy_found"
)

type SystemStats struct {
	TotalUsers         int64           `json:"total_users"`
	TotalTai           decimal.Decimal `json:"total_tai"`
	TotalUsdt          decimal.Decimal `json:"total_usdt"`
	PendingWithdrawals int64           `json:"pending_withdrawals"`
	ActiveStakings     int64           `json:"active_stakings"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

type ReconciliationResult struct {
	AccountID          int64           `json:"account_id"`
	StoredTai          decimal.Decimal `json:"stored_tai"`
	CalculatedTai      decimal.Decimal `json:"calculated_tai"`
	TaiDiscrepancy     decimal.Decimal `json:"tai_discrepancy"`
	StoredUsdt         decimal.Decimal `json:"stored_usdt"`
	CalculatedUsdt     decimal.Decimal `json:"calculated_usdt"`
	UsdtDiscrepancy    decimal.Decimal `json:"usdt_discrepancy"`
	TransactionCount   int             `json:"transaction_count"`
	LastTransactionAt  *time.Time      `json:"last_transaction_at,omitempty"`
	ReconciliationTime time.Time       `json:"reconciliation_time"`
	Status             string          `json:"status"`
}

func (r *ReconciliationResult) Balanced() bool {
	return r.Status == ReconcileStatusBalanced
}

// ReconciliationEngine audits stored balances against the transaction log.
// It never writes.
type ReconciliationEngine interface {
	SystemStats(ctx context.Context) (*SystemStats, error)
	Reconcile(ctx context.Context, accountID int64) (*ReconciliationResult, error)
}

type reconciliationEngine struct {
	ledger *Ledger
	logger *logrus.Entry
}

func NewReconciliationEngine(ledger *Ledger) ReconciliationEngine {
	return &reconciliationEngine{
		ledger: ledger,
		logger: logrus.WithField("component", "reconciliation"),
	}
}

func (e *reconciliationEngine) SystemStats(ctx context.Context) (*SystemStats, error) {
	store := e.ledger.store

	totals, err := store.Accounts().Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate balances: %w", err)
	}
	pending, err := store.Withdrawals().CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending withdrawals: %w", err)
	}
	active, err := store.Stakings().CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active stakings: %w", err)
	}

	return &SystemStats{
		TotalUsers:         totals.Count,
		TotalTai:           totals.TaiBalance,
		TotalUsdt:          totals.UsdtBalance,
		PendingWithdrawals: pending,
		ActiveStakings:     active,
		GeneratedAt:        e.ledger.now(),
	}, nil
}

// Reconcile replays the rows the account owns and compares the result with
// its stored balances. Balance changes made without a log row, such as a
// bare ApplyDelta, show up as discrepancies.
func (e *reconciliationEngine) Reconcile(ctx context.Context, accountID int64) (*ReconciliationResult, error) {
	account, err := e.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	rows, err := e.ledger.store.Transactions().ListOwned(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	calculated := models.Delta{Tai: decimal.Zero, Usdt: decimal.Zero}
	for _, row := range rows {
		if row.Status != models.TransactionStatusCompleted {
			continue
		}
		delta, err := replay(row)
		if err != nil {
			return nil, err
		}
		calculated = calculated.Add(delta)
	}

	result := &ReconciliationResult{
		AccountID:          accountID,
		StoredTai:          account.TaiBalance,
		CalculatedTai:      calculated.Tai,
		TaiDiscrepancy:     account.TaiBalance.Sub(calculated.Tai),
		StoredUsdt:         account.UsdtBalance,
		CalculatedUsdt:     calculated.Usdt,
		UsdtDiscrepancy:    account.UsdtBalance.Sub(calculated.Usdt),
		TransactionCount:   len(rows),
		ReconciliationTime: e.ledger.now(),
		Status:             ReconcileStatusBalanced,
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1].CreatedAt
		result.LastTransactionAt = &last
	}
	if !result.TaiDiscrepancy.IsZero() || !result.UsdtDiscrepancy.IsZero() {
		result.Status = ReconcileStatusDiscrepancy
	}

	entry := e.logger.WithFields(logrus.Fields{
		"account_id":       accountID,
		"tai_discrepancy":  result.TaiDiscrepancy.String(),
		"usdt_discrepancy": result.UsdtDiscrepancy.String(),
		"transactions":     result.TransactionCount,
	})
	if result.Balanced() {
		entry.Info("Account reconciled")
	} else {
		entry.Warn("Account balance discrepancy found")
	}
	return result, nil
}

// replay returns the balance effect of one completed row on its owner.
func replay(row *models.Transaction) (models.Delta, error) {
	if row.Type == models.TransactionTypeConversion {
		to := models.CurrencyUSDT
		if row.Currency == models.CurrencyUSDT {
			to = models.CurrencyTAI
		}
		converted, err := Quote(row.Amount, row.Currency, to)
		if err != nil {
			return models.Delta{}, err
		}
		return models.DeltaFor(row.Currency, row.Amount.Neg()).Add(models.DeltaFor(to, converted)), nil
	}

	if row.Type.Credits() {
		return models.DeltaFor(row.Currency, row.Amount), nil
	}
	return models.DeltaFor(row.Currency, row.Amount.Neg()), nil
}
