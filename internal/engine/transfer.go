package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/repository"
	apperrors "tai-ledger-api/pkg/errors"
)

type TransferResult struct {
	Amount         decimal.Decimal     `json:"amount"`
	RecipientName  string              `json:"recipient_name"`
	RecipientTaiID string              `json:"recipient_tai_id"`
	Sender         *models.Account     `json:"sender"`
	Sent           *models.Transaction `json:"sent"`
	Received       *models.Transaction `json:"received"`
}

// TransferEngine moves TAI between two accounts atomically.
type TransferEngine interface {
	Transfer(ctx context.Context, senderID int64, recipientTaiID string, amount decimal.Decimal) (*TransferResult, error)
}

type transferEngine struct {
	ledger *Ledger
	logger *logrus.Entry
}

func NewTransferEngine(ledger *Ledger) TransferEngine {
	return &transferEngine{
		ledger: ledger,
		logger: logrus.WithField("component", "transfer"),
	}
}

func (e *transferEngine) Transfer(ctx context.Context, senderID int64, recipientTaiID string, amount decimal.Decimal) (*TransferResult, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}

	recipient, err := e.ledger.store.Accounts().GetByTaiID(ctx, strings.ToUpper(strings.TrimSpace(recipientTaiID)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}
	if recipient.ID == senderID {
		return nil, apperrors.ErrSelfTransfer
	}

	result := &TransferResult{Amount: amount}
	err = e.ledger.execute(ctx, "transfer", []int64{senderID, recipient.ID}, func(u *unit) error {
		sender, err := u.applyDelta(senderID, models.DeltaFor(models.CurrencyTAI, amount.Neg()))
		if err != nil {
			return err
		}
		receiver, err := u.applyDelta(recipient.ID, models.DeltaFor(models.CurrencyTAI, amount))
		if err != nil {
			return err
		}

		sent, err := u.record(models.NewTransaction(sender.ID, models.TransactionTypeTransferSent, amount,
			models.CurrencyTAI, fmt.Sprintf("Transfer to %s (%s)", receiver.Name, receiver.TaiID)).
			WithCounterparty(receiver.ID))
		if err != nil {
			return err
		}
		received, err := u.record(models.NewTransaction(receiver.ID, models.TransactionTypeTransferReceived, amount,
			models.CurrencyTAI, fmt.Sprintf("Transfer from %s (%s)", sender.Name, sender.TaiID)).
			WithCounterparty(sender.ID))
		if err != nil {
			return err
		}

		result.RecipientName = receiver.Name
		result.RecipientTaiID = receiver.TaiID
		result.Sender = sender
		result.Sent = sent
		result.Received = received
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"sender_id":    senderID,
		"recipient_id": recipient.ID,
		"amount":       amount.String(),
	}).Info("Transfer completed")
	return result, nil
}
