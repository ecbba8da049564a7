package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/models"
	apperrors "tai-ledger-api/pkg/errors"
)

func TestFund(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		admin := h.admin(t)
		acc := h.account(t, "sofia")

		result, err := h.ledger.Fund(h.ctx, admin.ID, acc.ID, dec("12.5"), dec("6"))
		require.NoError(t, err)
		assertDecimal(t, "12.5", result.Account.TaiBalance)
		assertDecimal(t, "6", result.Account.UsdtBalance)
		require.Len(t, result.Transactions, 2)
		assert.Equal(t, "Admin funded TAI balance", result.Transactions[0].Description)
		assert.Equal(t, "Admin funded USDT balance", result.Transactions[1].Description)

		result, err = h.ledger.Fund(h.ctx, admin.ID, acc.ID, dec("0"), dec("1"))
		require.NoError(t, err)
		require.Len(t, result.Transactions, 1)
		assert.Equal(t, models.CurrencyUSDT, result.Transactions[0].Currency)
		assert.Equal(t, models.TransactionTypeDeposit, result.Transactions[0].Type)
	})
}

func TestFundRejections(t *testing.T) {
	h := newHarness(t, backends[0].newStore)
	admin := h.admin(t)
	acc := h.account(t, "tom")

	_, err := h.ledger.Fund(h.ctx, acc.ID, acc.ID, dec("1"), dec("0"))
	assertKind(t, err, apperrors.KindForbidden)

	_, err = h.ledger.Fund(h.ctx, admin.ID, acc.ID, dec("0"), dec("0"))
	assertKind(t, err, apperrors.KindInvalidOperation)

	_, err = h.ledger.Fund(h.ctx, admin.ID, acc.ID, dec("5"), dec("-1"))
	assertKind(t, err, apperrors.KindInvalidOperation)

	_, err = h.ledger.Fund(h.ctx, admin.ID, 4242, dec("5"), dec("0"))
	assertKind(t, err, apperrors.KindNotFound)

	assert.Empty(t, h.rows(t, acc.ID))
}

func TestReconcileMatchesLoggedActivity(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		engine := NewReconciliationEngine(h.ledger)
		admin := h.admin(t)
		alice := h.account(t, "alice")
		bob := h.accountWith(t, "bob", models.RoleUser, alice.ReferralCode)

		_, err := h.ledger.Fund(h.ctx, admin.ID, bob.ID, dec("100"), dec("20"))
		require.NoError(t, err)

		_, err = NewConversionEngine(h.ledger).Convert(h.ctx, bob.ID, dec("7"), models.CurrencyUSDT, models.CurrencyTAI)
		require.NoError(t, err)
		_, err = NewTransferEngine(h.ledger).Transfer(h.ctx, bob.ID, alice.TaiID, dec("15.5"))
		require.NoError(t, err)

		staking := NewStakingEngine(h.ledger)
		early, err := staking.Stake(h.ctx, bob.ID, dec("10"))
		require.NoError(t, err)
		_, err = staking.Stake(h.ctx, bob.ID, dec("20"))
		require.NoError(t, err)
		_, err = staking.Unstake(h.ctx, bob.ID, early.ID)
		require.NoError(t, err)

		withdrawals := NewWithdrawalWorkflow(h.ledger)
		w, err := withdrawals.Request(h.ctx, bob.ID, dec("5"), models.CurrencyUSDT, testAddress)
		require.NoError(t, err)
		_, err = withdrawals.Process(h.ctx, w.ID, admin.ID, models.WithdrawalStatusApproved)
		require.NoError(t, err)

		mining := NewMiningEngine(h.ledger)
		_, err = mining.Start(h.ctx, alice.ID)
		require.NoError(t, err)
		h.clock.Advance(stakingTerm + 95*time.Minute)
		_, err = mining.Stop(h.ctx, alice.ID)
		require.NoError(t, err)

		_, err = staking.SweepMatured(h.ctx, 10)
		require.NoError(t, err)

		for _, acc := range []*models.Account{admin, alice, bob} {
			result, err := engine.Reconcile(h.ctx, acc.ID)
			require.NoError(t, err)
			assert.True(t, result.Balanced(), "account %d: tai %s usdt %s",
				acc.ID, result.TaiDiscrepancy, result.UsdtDiscrepancy)
		}

		result, err := engine.Reconcile(h.ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, 9, result.TransactionCount)
		require.NotNil(t, result.LastTransactionAt)
	})
}

func TestReconcileReportsUnloggedChanges(t *testing.T) {
	h := newHarness(t, backends[0].newStore)
	engine := NewReconciliationEngine(h.ledger)
	acc := h.account(t, "uri")
	h.fund(t, acc.ID, "3", "1.5")

	result, err := engine.Reconcile(h.ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, result.Balanced())
	assert.Equal(t, ReconcileStatusDiscrepancy, result.Status)
	assertDecimal(t, "3", result.TaiDiscrepancy)
	assertDecimal(t, "1.5", result.UsdtDiscrepancy)
	assert.True(t, result.CalculatedTai.IsZero())
	assert.Zero(t, result.TransactionCount)
	assert.Nil(t, result.LastTransactionAt)

	_, err = engine.Reconcile(h.ctx, 31337)
	assertKind(t, err, apperrors.KindNotFound)
}

func TestSystemStats(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		engine := NewReconciliationEngine(h.ledger)
		a := h.account(t, "vic")
		b := h.account(t, "wes")
		h.fund(t, a.ID, "10", "4")
		h.fund(t, b.ID, "2.5", "1")

		_, err := NewStakingEngine(h.ledger).Stake(h.ctx, a.ID, dec("5"))
		require.NoError(t, err)
		_, err = NewWithdrawalWorkflow(h.ledger).Request(h.ctx, b.ID, dec("1"), models.CurrencyUSDT, testAddress)
		require.NoError(t, err)

		stats, err := engine.SystemStats(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.TotalUsers)
		assertDecimal(t, "7.5", stats.TotalTai)
		assertDecimal(t, "5", stats.TotalUsdt)
		assert.Equal(t, int64(1), stats.PendingWithdrawals)
		assert.Equal(t, int64(1), stats.ActiveStakings)
		assert.True(t, testEpoch.Equal(stats.GeneratedAt))
	})
}
