package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/models"
	apperrors "tai-ledger-api/pkg/errors"
)

const DepositAddress = "TBc7FqYfELGecbivMaKLhvdkJjbyXFB9cH"

// MinimumDepositUsdt is the smallest USDT deposit credited by the operator.
var MinimumDepositUsdt = decimal.NewFromInt(6)

type DepositInfo struct {
	Address  string          `json:"address"`
	Network  string          `json:"network"`
	Currency models.Currency `json:"currency"`
	Minimum  decimal.Decimal `json:"minimum"`
}

func GetDepositInfo() DepositInfo {
	return DepositInfo{
		Address:  DepositAddress,
		Network:  "TRC20",
		Currency: models.CurrencyUSDT,
		Minimum:  MinimumDepositUsdt,
	}
}

type FundResult struct {
	Account      *models.Account       `json:"account"`
	Transactions []*models.Transaction `json:"transactions"`
}

// Fund credits an account on behalf of an admin. Each positive amount is
// logged as its own deposit row; at least one must be positive and neither
// may be negative.
func (l *Ledger) Fund(ctx context.Context, adminID, accountID int64, tai, usdt decimal.Decimal) (*FundResult, error) {
	if tai.IsNegative() || usdt.IsNegative() || (tai.IsZero() && usdt.IsZero()) {
		return nil, apperrors.ErrInvalidAmount
	}

	admin, err := l.GetAccount(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if !admin.IsAdmin() {
		return nil, apperrors.ErrAccessDenied
	}

	result := &FundResult{}
	err = l.execute(ctx, "fund", []int64{accountID}, func(u *unit) error {
		acc, err := u.applyDelta(accountID, models.Delta{Tai: tai, Usdt: usdt})
		if err != nil {
			return err
		}
		result.Account = acc
		result.Transactions = nil

		funded := models.Delta{Tai: tai, Usdt: usdt}
		for _, c := range models.Currencies {
			amount := funded.For(c)
			if !amount.IsPositive() {
				continue
			}
			tx, err := u.record(models.NewTransaction(accountID, models.TransactionTypeDeposit,
				amount, c, fmt.Sprintf("Admin funded %s balance", c)))
			if err != nil {
				return err
			}
			result.Transactions = append(result.Transactions, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"admin_id":   adminID,
		"account_id": accountID,
		"tai":        tai.String(),
		"usdt":       usdt.String(),
	}).Info("Account funded")
	return result, nil
}
