package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		input     string
		want      Currency
		expectErr bool
	}{
		{"TAI", CurrencyTAI, false},
		{"usdt", CurrencyUSDT, false},
		{" tai ", CurrencyTAI, false},
		{"BTC", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCurrency(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransactionTypeDirection(t *testing.T) {
	credits := []TransactionType{
		TransactionTypeMiningReward, TransactionTypeReferralBonus, TransactionTypeDeposit,
		TransactionTypeTransferReceived, TransactionTypeStakingReward,
	}
	debits := []TransactionType{
		TransactionTypeWithdrawal, TransactionTypeTransferSent, TransactionTypeConversion,
		TransactionTypeStaking,
	}

	for _, tt := range credits {
		assert.True(t, tt.Valid())
		assert.True(t, tt.Credits(), tt)
	}
	for _, tt := range debits {
		assert.True(t, tt.Valid())
		assert.False(t, tt.Credits(), tt)
	}
	assert.False(t, TransactionType("airdrop").Valid())
}

func TestAccountBalanceAndDelta(t *testing.T) {
	acc := &Account{
		TaiBalance:  decimal.RequireFromString("10"),
		UsdtBalance: decimal.RequireFromString("3.5"),
	}

	assert.True(t, acc.Balance(CurrencyTAI).Equal(decimal.NewFromInt(10)))
	assert.True(t, acc.HasSufficientBalance(CurrencyUSDT, decimal.RequireFromString("3.5")))
	assert.False(t, acc.HasSufficientBalance(CurrencyUSDT, decimal.RequireFromString("3.51")))
	assert.True(t, acc.Balance(Currency("BTC")).IsZero())

	d := DeltaFor(CurrencyTAI, decimal.NewFromInt(-2)).Add(DeltaFor(CurrencyUSDT, decimal.NewFromInt(1)))
	assert.True(t, d.Tai.Equal(decimal.NewFromInt(-2)))
	assert.True(t, d.Usdt.Equal(decimal.NewFromInt(1)))
	assert.False(t, d.IsZero())
}

func TestAccountCloneIsDeep(t *testing.T) {
	started := time.Now()
	ref := int64(7)
	acc := &Account{ID: 1, ReferredBy: &ref, MiningStartedAt: &started}

	c := acc.Clone()
	*c.ReferredBy = 9
	*c.MiningStartedAt = started.Add(time.Hour)

	assert.Equal(t, int64(7), *acc.ReferredBy)
	assert.Equal(t, started, *acc.MiningStartedAt)
}

func TestTransactionValidate(t *testing.T) {
	tx := NewTransaction(1, TransactionTypeDeposit, decimal.NewFromInt(5), CurrencyUSDT, "Admin funded USDT balance")
	require.NoError(t, tx.Validate())
	assert.Equal(t, TransactionStatusCompleted, tx.Status)

	tx.WithCounterparty(2)
	assert.True(t, tx.Involves(1))
	assert.True(t, tx.Involves(2))
	assert.False(t, tx.Involves(3))

	tx.Amount = decimal.Zero
	assert.Error(t, tx.Validate())
}

func TestStakingMaturity(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pos := &StakingPosition{
		UserID:    1,
		Amount:    decimal.NewFromInt(100),
		StartedAt: start,
		EndAt:     start.AddDate(0, 0, 30),
		Status:    StakingStatusActive,
	}

	require.NoError(t, pos.Validate())
	assert.False(t, pos.IsMatured(start.AddDate(0, 0, 29)))
	assert.True(t, pos.IsMatured(start.AddDate(0, 0, 30)))
}

func TestWithdrawalStatusDecision(t *testing.T) {
	assert.True(t, WithdrawalStatusApproved.IsDecision())
	assert.True(t, WithdrawalStatusRejected.IsDecision())
	assert.False(t, WithdrawalStatusPending.IsDecision())
}
