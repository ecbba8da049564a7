package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/models"
	apperrors "tai-ledger-api/pkg/errors"
)

const testAddress = "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE"

func TestWithdrawalApproveDebitsBalance(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		withdrawals := NewWithdrawalWorkflow(h.ledger)
		admin := h.admin(t)
		acc := h.account(t, "cleo")
		h.fund(t, acc.ID, "0", "50")

		requested, err := withdrawals.Request(h.ctx, acc.ID, dec("50"), models.CurrencyUSDT, testAddress)
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalStatusPending, requested.Status)
		assertDecimal(t, "50", h.reload(t, acc.ID).UsdtBalance)

		h.clock.Advance(time.Hour)
		processed, err := withdrawals.Process(h.ctx, requested.ID, admin.ID, models.WithdrawalStatusApproved)
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalStatusApproved, processed.Status)
		require.NotNil(t, processed.ProcessedAt)
		assert.True(t, h.clock.Now().Equal(*processed.ProcessedAt))
		require.NotNil(t, processed.ProcessedBy)
		assert.Equal(t, admin.ID, *processed.ProcessedBy)

		assert.True(t, h.reload(t, acc.ID).UsdtBalance.IsZero())

		rows := h.rows(t, acc.ID)
		require.Len(t, rows, 1)
		assert.Equal(t, models.TransactionTypeWithdrawal, rows[0].Type)
		assert.Equal(t, models.CurrencyUSDT, rows[0].Currency)
		assertDecimal(t, "50", rows[0].Amount)
		assert.Equal(t, "Withdrawal to "+testAddress, rows[0].Description)

		_, err = withdrawals.Process(h.ctx, requested.ID, admin.ID, models.WithdrawalStatusRejected)
		assert.True(t, errors.Is(err, apperrors.ErrAlreadyProcessed))
		assertKind(t, err, apperrors.KindInvalidOperation)
	})
}

func TestWithdrawalRejectKeepsBalance(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		withdrawals := NewWithdrawalWorkflow(h.ledger)
		admin := h.admin(t)
		acc := h.account(t, "dora")
		h.fund(t, acc.ID, "0", "50")

		requested, err := withdrawals.Request(h.ctx, acc.ID, dec("50"), models.CurrencyUSDT, testAddress)
		require.NoError(t, err)

		processed, err := withdrawals.Process(h.ctx, requested.ID, admin.ID, models.WithdrawalStatusRejected)
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalStatusRejected, processed.Status)
		assert.NotNil(t, processed.ProcessedAt)

		assertDecimal(t, "50", h.reload(t, acc.ID).UsdtBalance)
		assert.Empty(t, h.rows(t, acc.ID))

		_, err = withdrawals.Process(h.ctx, requested.ID, admin.ID, models.WithdrawalStatusApproved)
		assert.True(t, errors.Is(err, apperrors.ErrAlreadyProcessed))
	})
}

func TestWithdrawalRequestCountsPendingRequests(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		withdrawals := NewWithdrawalWorkflow(h.ledger)
		acc := h.account(t, "eli")
		h.fund(t, acc.ID, "5", "50")

		_, err := withdrawals.Request(h.ctx, acc.ID, dec("30"), models.CurrencyUSDT, testAddress)
		require.NoError(t, err)

		_, err = withdrawals.Request(h.ctx, acc.ID, dec("30"), models.CurrencyUSDT, testAddress)
		assertKind(t, err, apperrors.KindInsufficientFunds)

		_, err = withdrawals.Request(h.ctx, acc.ID, dec("20"), models.CurrencyUSDT, testAddress)
		require.NoError(t, err)

		_, err = withdrawals.Request(h.ctx, acc.ID, dec("5"), models.CurrencyTAI, testAddress)
		require.NoError(t, err)

		mine, err := withdrawals.ListFor(h.ctx, acc.ID)
		require.NoError(t, err)
		assert.Len(t, mine, 3)
	})
}

func TestWithdrawalRequestValidation(t *testing.T) {
	h := newHarness(t, backends[0].newStore)
	withdrawals := NewWithdrawalWorkflow(h.ledger)
	acc := h.account(t, "fay")
	h.fund(t, acc.ID, "0", "10")

	tests := []struct {
		name     string
		amount   string
		currency models.Currency
		address  string
		kind     apperrors.Kind
	}{
		{name: "zero amount", amount: "0", currency: models.CurrencyUSDT, address: testAddress, kind: apperrors.KindInvalidOperation},
		{name: "unknown currency", amount: "1", currency: models.Currency("ETH"), address: testAddress, kind: apperrors.KindInvalidOperation},
		{name: "blank address", amount: "1", currency: models.CurrencyUSDT, address: "   ", kind: apperrors.KindInvalidOperation},
		{name: "more than balance", amount: "10.00000001", currency: models.CurrencyUSDT, address: testAddress, kind: apperrors.KindInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := withdrawals.Request(h.ctx, acc.ID, dec(tt.amount), tt.currency, tt.address)
			assertKind(t, err, tt.kind)
		})
	}

	mine, err := withdrawals.ListFor(h.ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestWithdrawalApprovalRevalidatesFunds(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		withdrawals := NewWithdrawalWorkflow(h.ledger)
		admin := h.admin(t)
		acc := h.account(t, "gus")
		h.fund(t, acc.ID, "0", "50")

		requested, err := withdrawals.Request(h.ctx, acc.ID, dec("50"), models.CurrencyUSDT, testAddress)
		require.NoError(t, err)
		h.fund(t, acc.ID, "0", "-10")

		_, err = withdrawals.Process(h.ctx, requested.ID, admin.ID, models.WithdrawalStatusApproved)
		assertKind(t, err, apperrors.KindInsufficientFunds)

		stored, err := h.store.Withdrawals().GetByID(h.ctx, requested.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalStatusPending, stored.Status)
		assert.Nil(t, stored.ProcessedAt)
		assertDecimal(t, "40", h.reload(t, acc.ID).UsdtBalance)
	})
}

func TestWithdrawalProcessRequiresAdmin(t *testing.T) {
	h := newHarness(t, backends[0].newStore)
	withdrawals := NewWithdrawalWorkflow(h.ledger)
	admin := h.admin(t)
	acc := h.account(t, "hugo")
	h.fund(t, acc.ID, "0", "5")

	requested, err := withdrawals.Request(h.ctx, acc.ID, dec("5"), models.CurrencyUSDT, testAddress)
	require.NoError(t, err)

	_, err = withdrawals.Process(h.ctx, requested.ID, acc.ID, models.WithdrawalStatusApproved)
	assertKind(t, err, apperrors.KindForbidden)

	_, err = withdrawals.Process(h.ctx, requested.ID, admin.ID, models.WithdrawalStatusPending)
	assertKind(t, err, apperrors.KindInvalidOperation)

	_, err = withdrawals.Process(h.ctx, 12345, admin.ID, models.WithdrawalStatusApproved)
	assertKind(t, err, apperrors.KindNotFound)
}

func TestPendingWithdrawalsOldestFirst(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		withdrawals := NewWithdrawalWorkflow(h.ledger)
		admin := h.admin(t)
		first := h.account(t, "iris")
		second := h.account(t, "jon")
		h.fund(t, first.ID, "0", "10")
		h.fund(t, second.ID, "10", "0")

		a, err := withdrawals.Request(h.ctx, first.ID, dec("10"), models.CurrencyUSDT, testAddress)
		require.NoError(t, err)
		h.clock.Advance(time.Minute)
		b, err := withdrawals.Request(h.ctx, second.ID, dec("10"), models.CurrencyTAI, testAddress)
		require.NoError(t, err)
		h.clock.Advance(time.Minute)
		c, err := withdrawals.Request(h.ctx, second.ID, dec("0.5"), models.CurrencyUSDT, testAddress)
		assertKind(t, err, apperrors.KindInsufficientFunds)
		assert.Nil(t, c)

		pending, err := withdrawals.Pending(h.ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, a.ID, pending[0].ID)
		assert.Equal(t, "iris", pending[0].UserName)
		assert.Equal(t, first.TaiID, pending[0].UserTaiID)
		assert.Equal(t, b.ID, pending[1].ID)
		assert.Equal(t, second.Email, pending[1].UserEmail)

		_, err = withdrawals.Process(h.ctx, a.ID, admin.ID, models.WithdrawalStatusApproved)
		require.NoError(t, err)

		pending, err = withdrawals.Pending(h.ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, b.ID, pending[0].ID)
	})
}
