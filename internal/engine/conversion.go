package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/models"
	apperrors "tai-ledger-api/pkg/errors"
)

// TaiToUsdtRate is the fixed price of one TAI in USDT.
var TaiToUsdtRate = decimal.RequireFromString("0.6")

// AmountScale is the number of decimal places amounts are truncated to.
const AmountScale = 8

type ConversionResult struct {
	Amount      decimal.Decimal     `json:"amount"`
	From        models.Currency     `json:"from"`
	Converted   decimal.Decimal     `json:"converted"`
	To          models.Currency     `json:"to"`
	Account     *models.Account     `json:"account"`
	Transaction *models.Transaction `json:"transaction"`
}

type ConversionEngine interface {
	Convert(ctx context.Context, accountID int64, amount decimal.Decimal, from, to models.Currency) (*ConversionResult, error)
}

type conversionEngine struct {
	ledger *Ledger
	logger *logrus.Entry
}

func NewConversionEngine(ledger *Ledger) ConversionEngine {
	return &conversionEngine{
		ledger: ledger,
		logger: logrus.WithField("component", "conversion"),
	}
}

// Quote converts amount between the two currencies at the fixed rate,
// truncating to AmountScale so that no direction ever rounds up.
func Quote(amount decimal.Decimal, from, to models.Currency) (decimal.Decimal, error) {
	if err := requireCurrency(from); err != nil {
		return decimal.Zero, err
	}
	if err := requireCurrency(to); err != nil {
		return decimal.Zero, err
	}
	if from == to {
		return decimal.Zero, apperrors.ErrSameCurrency
	}

	switch from {
	case models.CurrencyTAI:
		return amount.Mul(TaiToUsdtRate).Truncate(AmountScale), nil
	case models.CurrencyUSDT:
		return amount.Div(TaiToUsdtRate).Truncate(AmountScale), nil
	default:
		return decimal.Zero, apperrors.ErrInvalidCurrency
	}
}

func (e *conversionEngine) Convert(ctx context.Context, accountID int64, amount decimal.Decimal, from, to models.Currency) (*ConversionResult, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	converted, err := Quote(amount, from, to)
	if err != nil {
		return nil, err
	}
	if !converted.IsPositive() {
		return nil, apperrors.NewInvalidOperationError("Amount is too small to convert")
	}

	result := &ConversionResult{Amount: amount, From: from, Converted: converted, To: to}
	err = e.ledger.execute(ctx, "convert", []int64{accountID}, func(u *unit) error {
		delta := models.DeltaFor(from, amount.Neg()).Add(models.DeltaFor(to, converted))
		acc, err := u.applyDelta(accountID, delta)
		if err != nil {
			return err
		}

		description := fmt.Sprintf("Converted %s %s to %s %s", amount.String(), from, converted.StringFixed(2), to)
		tx, err := u.record(models.NewTransaction(accountID, models.TransactionTypeConversion, amount, from, description))
		if err != nil {
			return err
		}

		result.Account = acc
		result.Transaction = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"from":       from,
		"to":         to,
		"amount":     amount.String(),
		"converted":  converted.String(),
	}).Info("Currency converted")
	return result, nil
}
