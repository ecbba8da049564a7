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

func TestStopReward(t *testing.T) {
	tests := []struct {
		minutes  int64
		expected string
	}{
		{minutes: 0, expected: "0"},
		{minutes: 2, expected: "0"},
		{minutes: 3, expected: "0.01"},
		{minutes: 59, expected: "0.24"},
		{minutes: 60, expected: "0.25"},
		{minutes: 150, expected: "0.62"},
		{minutes: 1440, expected: "6"},
	}

	for _, tt := range tests {
		assertDecimal(t, tt.expected, StopReward(tt.minutes), "minutes=%d", tt.minutes)
	}
}

func TestClaimReward(t *testing.T) {
	assert.True(t, ClaimReward(0).IsZero())
	assertDecimal(t, "0.25", ClaimReward(1))
	assertDecimal(t, "2.5", ClaimReward(10))
}

func TestMiningStartRejectsActiveSession(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		mining := NewMiningEngine(h.ledger)
		acc := h.account(t, "olga")

		started, err := mining.Start(h.ctx, acc.ID)
		require.NoError(t, err)
		assert.True(t, started.MiningActive)
		require.NotNil(t, started.MiningStartedAt)
		assert.True(t, testEpoch.Equal(*started.MiningStartedAt))

		_, err = mining.Start(h.ctx, acc.ID)
		assertKind(t, err, apperrors.KindInvalidOperation)
	})
}

func TestMiningStopPaysProportionalReward(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		mining := NewMiningEngine(h.ledger)
		acc := h.account(t, "pete")

		_, err := mining.Start(h.ctx, acc.ID)
		require.NoError(t, err)
		h.clock.Advance(150 * time.Minute)

		result, err := mining.Stop(h.ctx, acc.ID)
		require.NoError(t, err)
		assertDecimal(t, "0.62", result.Reward)
		assert.False(t, result.Account.MiningActive)
		assert.Nil(t, result.Account.MiningStartedAt)
		require.NotNil(t, result.Transaction)
		assert.Equal(t, "Mining reward for 2h 30m", result.Transaction.Description)

		reloaded := h.reload(t, acc.ID)
		assertDecimal(t, "0.62", reloaded.TaiBalance)
		assert.False(t, reloaded.MiningActive)
		assert.Nil(t, reloaded.MiningStartedAt)

		rows := h.rows(t, acc.ID)
		require.Len(t, rows, 1)
		assert.Equal(t, models.TransactionTypeMiningReward, rows[0].Type)
		assertDecimal(t, "0.62", rows[0].Amount)
	})
}

func TestMiningStopWithoutRewardWritesNoRow(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		mining := NewMiningEngine(h.ledger)
		acc := h.account(t, "quinn")

		_, err := mining.Start(h.ctx, acc.ID)
		require.NoError(t, err)
		h.clock.Advance(2 * time.Minute)

		result, err := mining.Stop(h.ctx, acc.ID)
		require.NoError(t, err)
		assert.True(t, result.Reward.IsZero())
		assert.Nil(t, result.Transaction)
		assert.Empty(t, h.rows(t, acc.ID))
		assert.False(t, h.reload(t, acc.ID).MiningActive)
	})
}

func TestMiningRequiresActiveSession(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		mining := NewMiningEngine(h.ledger)
		acc := h.account(t, "rita")

		_, err := mining.Stop(h.ctx, acc.ID)
		assert.True(t, errors.Is(err, apperrors.ErrMiningNotActive))

		_, err = mining.Claim(h.ctx, acc.ID)
		assertKind(t, err, apperrors.KindInvalidOperation)
	})
}

func TestMiningClaim(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		mining := NewMiningEngine(h.ledger)
		acc := h.account(t, "sam")

		_, err := mining.Start(h.ctx, acc.ID)
		require.NoError(t, err)

		h.clock.Advance(30 * time.Minute)
		_, err = mining.Claim(h.ctx, acc.ID)
		assertKind(t, err, apperrors.KindNoRewardYet)
		assert.Equal(t, 30, apperrors.AsAppError(err).MinutesRemaining)

		h.clock.Advance(155 * time.Minute)
		result, err := mining.Claim(h.ctx, acc.ID)
		require.NoError(t, err)
		assertDecimal(t, "0.75", result.Reward)
		assert.Equal(t, "Mining reward for 3 hours", result.Transaction.Description)
		assert.True(t, result.Account.MiningActive)
		require.NotNil(t, result.Account.MiningStartedAt)
		assert.True(t, h.clock.Now().Equal(*result.Account.MiningStartedAt))

		_, err = mining.Claim(h.ctx, acc.ID)
		assertKind(t, err, apperrors.KindNoRewardYet)
		assert.Equal(t, 60, apperrors.AsAppError(err).MinutesRemaining)

		reloaded := h.reload(t, acc.ID)
		assertDecimal(t, "0.75", reloaded.TaiBalance)
		assert.True(t, reloaded.MiningActive)
		require.NotNil(t, reloaded.MiningStartedAt)
		assert.True(t, h.clock.Now().Equal(*reloaded.MiningStartedAt))
		assert.Len(t, h.rows(t, acc.ID), 1)
	})
}

func TestMiningStatus(t *testing.T) {
	h := newHarness(t, backends[0].newStore)
	mining := NewMiningEngine(h.ledger)
	acc := h.account(t, "tess")

	status, err := mining.Status(h.ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Nil(t, status.NextClaimAt)

	_, err = mining.Start(h.ctx, acc.ID)
	require.NoError(t, err)
	h.clock.Advance(90 * time.Minute)

	status, err = mining.Status(h.ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, int64(90), status.ElapsedMinutes)
	assertDecimal(t, "0.25", status.ClaimableNow)
	assertDecimal(t, "0.37", status.StopReward)
	require.NotNil(t, status.NextClaimAt)
	assert.True(t, testEpoch.Add(2*time.Hour).Equal(*status.NextClaimAt))

	assert.True(t, h.reload(t, acc.ID).TaiBalance.IsZero())
}
