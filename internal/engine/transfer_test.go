package engine

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/models"
	apperrors "tai-ledger-api/pkg/errors"
)

func TestTransfer(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		transfers := NewTransferEngine(h.ledger)
		sender := h.account(t, "xena")
		recipient := h.account(t, "yuri")
		h.fund(t, sender.ID, "100", "0")

		result, err := transfers.Transfer(h.ctx, sender.ID, strings.ToLower(recipient.TaiID), dec("40"))
		require.NoError(t, err)
		assert.Equal(t, "yuri", result.RecipientName)
		assert.Equal(t, recipient.TaiID, result.RecipientTaiID)
		assertDecimal(t, "60", result.Sender.TaiBalance)

		assertDecimal(t, "60", h.reload(t, sender.ID).TaiBalance)
		assertDecimal(t, "40", h.reload(t, recipient.ID).TaiBalance)

		sent := h.rows(t, sender.ID)
		require.Len(t, sent, 1)
		assert.Equal(t, models.TransactionTypeTransferSent, sent[0].Type)
		assert.Equal(t, "Transfer to yuri ("+recipient.TaiID+")", sent[0].Description)
		require.NotNil(t, sent[0].CounterpartyID)
		assert.Equal(t, recipient.ID, *sent[0].CounterpartyID)

		received := h.rows(t, recipient.ID)
		require.Len(t, received, 1)
		assert.Equal(t, models.TransactionTypeTransferReceived, received[0].Type)
		assert.Equal(t, "Transfer from xena ("+sender.TaiID+")", received[0].Description)
		require.NotNil(t, received[0].CounterpartyID)
		assert.Equal(t, sender.ID, *received[0].CounterpartyID)
		assertDecimal(t, "40", received[0].Amount)
		assert.Equal(t, models.CurrencyTAI, received[0].Currency)

		history, err := NewTransactionLog(h.ledger).ListFor(h.ctx, sender.ID, 10)
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})
}

func TestTransferRejections(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		transfers := NewTransferEngine(h.ledger)
		sender := h.account(t, "zack")
		recipient := h.account(t, "abby")
		h.fund(t, sender.ID, "10", "50")

		_, err := transfers.Transfer(h.ctx, sender.ID, sender.TaiID, dec("1"))
		assertKind(t, err, apperrors.KindInvalidOperation)
		assert.Equal(t, "Cannot transfer to yourself", apperrors.AsAppError(err).Message)

		_, err = transfers.Transfer(h.ctx, sender.ID, "TAI00000000", dec("1"))
		assertKind(t, err, apperrors.KindNotFound)

		_, err = transfers.Transfer(h.ctx, sender.ID, recipient.TaiID, dec("0"))
		assertKind(t, err, apperrors.KindInvalidOperation)

		_, err = transfers.Transfer(h.ctx, sender.ID, recipient.TaiID, dec("10.01"))
		assertKind(t, err, apperrors.KindInsufficientFunds)

		assertDecimal(t, "10", h.reload(t, sender.ID).TaiBalance)
		assertDecimal(t, "50", h.reload(t, sender.ID).UsdtBalance)
		assert.True(t, h.reload(t, recipient.ID).TaiBalance.IsZero())
		assert.Empty(t, h.rows(t, sender.ID))
		assert.Empty(t, h.rows(t, recipient.ID))
	})
}

func TestOpposingConcurrentTransfersConserveSupply(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		transfers := NewTransferEngine(h.ledger)
		a := h.account(t, "ann")
		b := h.account(t, "ben")
		h.fund(t, a.ID, "10", "0")
		h.fund(t, b.ID, "10", "0")

		var wg sync.WaitGroup
		for i := 0; i < 15; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := transfers.Transfer(h.ctx, a.ID, b.TaiID, dec("1"))
				if err != nil {
					assert.True(t, apperrors.IsKind(err, apperrors.KindInsufficientFunds), "unexpected error: %v", err)
				}
			}()
			go func() {
				defer wg.Done()
				_, err := transfers.Transfer(h.ctx, b.ID, a.TaiID, dec("1"))
				if err != nil {
					assert.True(t, apperrors.IsKind(err, apperrors.KindInsufficientFunds), "unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		total := h.reload(t, a.ID).TaiBalance.Add(h.reload(t, b.ID).TaiBalance)
		assertDecimal(t, "20", total)
		assert.Equal(t, len(h.rows(t, a.ID)), len(h.rows(t, b.ID)))
	})
}
