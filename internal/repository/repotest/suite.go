// Package repotest holds behaviour checks shared by every repository.Store
// backend.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/repository"
)

// Run executes the full suite, creating a fresh store per case.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, store repository.Store)
	}{
		{"AccountUniqueness", testAccountUniqueness},
		{"BalanceVersioning", testBalanceVersioning},
		{"MiningState", testMiningState},
		{"RollbackDiscardsWrites", testRollbackDiscardsWrites},
		{"TransactionVisibility", testTransactionVisibility},
		{"WithdrawalQueries", testWithdrawalQueries},
		{"StakingQueries", testStakingQueries},
		{"MaturedCursor", testMaturedCursor},
		{"Totals", testTotals},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// NewAccount builds an unsaved account with identifiers derived from n.
func NewAccount(n int) *models.Account {
	return &models.Account{
		Name:         fmt.Sprintf("user%d", n),
		Email:        fmt.Sprintf("user%d@example.com", n),
		PasswordHash: "hash",
		Role:         models.RoleUser,
		TaiID:        fmt.Sprintf("TAI%08d", n),
		ReferralCode: fmt.Sprintf("REF%08d", n),
		TaiBalance:   decimal.Zero,
		UsdtBalance:  decimal.Zero,
	}
}

func testAccountUniqueness(t *testing.T, store repository.Store) {
	ctx := context.Background()
	accounts := store.Accounts()

	first := NewAccount(1)
	require.NoError(t, accounts.Create(ctx, first))
	assert.NotZero(t, first.ID)

	dupTaiID := NewAccount(2)
	dupTaiID.TaiID = first.TaiID
	assert.ErrorIs(t, accounts.Create(ctx, dupTaiID), repository.ErrDuplicateKey)

	dupEmail := NewAccount(3)
	dupEmail.Email = first.Email
	assert.ErrorIs(t, accounts.Create(ctx, dupEmail), repository.ErrDuplicateKey)

	byTai, err := accounts.GetByTaiID(ctx, first.TaiID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byTai.ID)

	byCode, err := accounts.GetByReferralCode(ctx, first.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byCode.ID)

	_, err = accounts.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testBalanceVersioning(t *testing.T, store repository.Store) {
	ctx := context.Background()
	accounts := store.Accounts()

	acc := NewAccount(1)
	require.NoError(t, accounts.Create(ctx, acc))

	loaded, err := accounts.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	stale := loaded.Clone()

	stamped := time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)
	loaded.TaiBalance = decimal.RequireFromString("1.25")
	loaded.UpdatedAt = stamped
	require.NoError(t, accounts.UpdateBalances(ctx, loaded))

	stale.TaiBalance = decimal.RequireFromString("9")
	assert.ErrorIs(t, accounts.UpdateBalances(ctx, stale), repository.ErrVersionConflict)

	reloaded, err := accounts.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.TaiBalance.Equal(decimal.RequireFromString("1.25")), reloaded.TaiBalance.String())
	assert.Equal(t, loaded.Version, reloaded.Version)
	assert.True(t, reloaded.UpdatedAt.Equal(stamped), reloaded.UpdatedAt.String())

	missing := NewAccount(99)
	missing.ID = 9999
	assert.ErrorIs(t, accounts.UpdateBalances(ctx, missing), repository.ErrNotFound)
}

func testMiningState(t *testing.T, store repository.Store) {
	ctx := context.Background()
	accounts := store.Accounts()

	acc := NewAccount(1)
	require.NoError(t, accounts.Create(ctx, acc))

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, accounts.UpdateMining(ctx, acc.ID, true, &started, started))

	loaded, err := accounts.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, loaded.MiningActive)
	require.NotNil(t, loaded.MiningStartedAt)
	assert.True(t, loaded.MiningStartedAt.Equal(started))

	require.NoError(t, accounts.UpdateMining(ctx, acc.ID, false, nil, started.Add(time.Hour)))
	loaded, err = accounts.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, loaded.MiningActive)
	assert.Nil(t, loaded.MiningStartedAt)
	assert.True(t, loaded.UpdatedAt.Equal(started.Add(time.Hour)), loaded.UpdatedAt.String())

	assert.False(t, loaded.EmailVerified)
	verifiedAt := started.Add(2 * time.Hour)
	require.NoError(t, accounts.MarkEmailVerified(ctx, acc.ID, verifiedAt))
	loaded, err = accounts.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, loaded.EmailVerified)
	assert.True(t, loaded.UpdatedAt.Equal(verifiedAt), loaded.UpdatedAt.String())

	assert.ErrorIs(t, accounts.MarkEmailVerified(ctx, 9999, verifiedAt), repository.ErrNotFound)
}

func testRollbackDiscardsWrites(t *testing.T, store repository.Store) {
	ctx := context.Background()

	acc := NewAccount(1)
	require.NoError(t, store.Accounts().Create(ctx, acc))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx repository.Store) error {
		loaded, err := tx.Accounts().GetByID(ctx, acc.ID)
		if err != nil {
			return err
		}
		loaded.TaiBalance = decimal.NewFromInt(100)
		if err := tx.Accounts().UpdateBalances(ctx, loaded); err != nil {
			return err
		}
		row := models.NewTransaction(acc.ID, models.TransactionTypeDeposit, decimal.NewFromInt(100), models.CurrencyTAI, "deposit")
		if err := tx.Transactions().Create(ctx, row); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	loaded, err := store.Accounts().GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, loaded.TaiBalance.IsZero())

	rows, err := store.Transactions().ListFor(ctx, acc.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testTransactionVisibility(t *testing.T, store repository.Store) {
	ctx := context.Background()
	a, b, c := NewAccount(1), NewAccount(2), NewAccount(3)
	for _, acc := range []*models.Account{a, b, c} {
		require.NoError(t, store.Accounts().Create(ctx, acc))
	}

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []*models.Transaction{
		models.NewTransaction(a.ID, models.TransactionTypeMiningReward, decimal.NewFromInt(1), models.CurrencyTAI, "first"),
		models.NewTransaction(a.ID, models.TransactionTypeTransferSent, decimal.NewFromInt(2), models.CurrencyTAI, "sent").WithCounterparty(b.ID),
		models.NewTransaction(b.ID, models.TransactionTypeTransferReceived, decimal.NewFromInt(2), models.CurrencyTAI, "received").WithCounterparty(a.ID),
		models.NewTransaction(c.ID, models.TransactionTypeDeposit, decimal.NewFromInt(3), models.CurrencyUSDT, "other"),
	}
	for i, row := range rows {
		row.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Transactions().Create(ctx, row))
	}

	listed, err := store.Transactions().ListFor(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "received", listed[0].Description)
	assert.Equal(t, "sent", listed[1].Description)
	assert.Equal(t, "first", listed[2].Description)

	limited, err := store.Transactions().ListFor(ctx, a.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	owned, err := store.Transactions().ListOwned(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	sum, err := store.Transactions().SumByType(ctx, a.ID, models.TransactionTypeMiningReward, models.CurrencyTAI)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(1)))

	none, err := store.Transactions().SumByType(ctx, c.ID, models.TransactionTypeReferralBonus, models.CurrencyTAI)
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func testWithdrawalQueries(t *testing.T, store repository.Store) {
	ctx := context.Background()
	acc := NewAccount(1)
	require.NoError(t, store.Accounts().Create(ctx, acc))

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var created []*models.Withdrawal
	for i, amount := range []int64{10, 20, 30} {
		w := &models.Withdrawal{
			UserID:    acc.ID,
			Amount:    decimal.NewFromInt(amount),
			Currency:  models.CurrencyUSDT,
			Address:   "0xabc",
			Status:    models.WithdrawalStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, store.Withdrawals().Create(ctx, w))
		created = append(created, w)
	}

	processedAt := base.Add(5 * time.Hour)
	admin := acc.ID
	created[1].Status = models.WithdrawalStatusApproved
	created[1].ProcessedAt = &processedAt
	created[1].ProcessedBy = &admin
	require.NoError(t, store.Withdrawals().Update(ctx, created[1]))

	pending, err := store.Withdrawals().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, created[0].ID, pending[0].ID)
	assert.Equal(t, created[2].ID, pending[1].ID)

	count, err := store.Withdrawals().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	sum, err := store.Withdrawals().SumPending(ctx, acc.ID, models.CurrencyUSDT)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(40)), sum.String())

	mine, err := store.Withdrawals().ListByUser(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, created[2].ID, mine[0].ID)

	loaded, err := store.Withdrawals().GetByID(ctx, created[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusApproved, loaded.Status)
	require.NotNil(t, loaded.ProcessedBy)
	assert.Equal(t, admin, *loaded.ProcessedBy)

	_, err = store.Withdrawals().GetByID(ctx, 9999)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testStakingQueries(t *testing.T, store repository.Store) {
	ctx := context.Background()
	acc := NewAccount(1)
	require.NoError(t, store.Accounts().Create(ctx, acc))

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	early := &models.StakingPosition{
		UserID: acc.ID, Amount: decimal.NewFromInt(10), StartedAt: base, EndAt: base.AddDate(0, 0, 30),
		Status: models.StakingStatusActive, LastRewardAt: base, Reward: decimal.Zero,
	}
	late := &models.StakingPosition{
		UserID: acc.ID, Amount: decimal.NewFromInt(20), StartedAt: base.AddDate(0, 0, 1), EndAt: base.AddDate(0, 0, 31),
		Status: models.StakingStatusActive, LastRewardAt: base.AddDate(0, 0, 1), Reward: decimal.Zero,
	}
	require.NoError(t, store.Stakings().Create(ctx, early))
	require.NoError(t, store.Stakings().Create(ctx, late))

	matured, err := store.Stakings().ListMatured(ctx, base.AddDate(0, 0, 30), nil, 0)
	require.NoError(t, err)
	require.Len(t, matured, 1)
	assert.Equal(t, early.ID, matured[0].ID)

	settled := base.AddDate(0, 0, 30)
	early.Status = models.StakingStatusCompleted
	early.SettledAt = &settled
	early.LastRewardAt = settled
	early.Reward = decimal.RequireFromString("0.0986")
	require.NoError(t, store.Stakings().Update(ctx, early))

	active, err := store.Stakings().CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)

	mine, err := store.Stakings().ListByUser(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, late.ID, mine[0].ID)

	loaded, err := store.Stakings().GetByID(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StakingStatusCompleted, loaded.Status)
	assert.True(t, loaded.Reward.Equal(decimal.RequireFromString("0.0986")))
}

func testMaturedCursor(t *testing.T, store repository.Store) {
	ctx := context.Background()
	acc := NewAccount(1)
	require.NoError(t, store.Accounts().Create(ctx, acc))

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ends := []time.Time{base, base, base.Add(time.Hour), base.Add(2 * time.Hour)}
	var ids []int64
	for _, end := range ends {
		p := &models.StakingPosition{
			UserID: acc.ID, Amount: decimal.NewFromInt(1), StartedAt: end.AddDate(0, 0, -30), EndAt: end,
			Status: models.StakingStatusActive, LastRewardAt: end.AddDate(0, 0, -30), Reward: decimal.Zero,
		}
		require.NoError(t, store.Stakings().Create(ctx, p))
		ids = append(ids, p.ID)
	}
	now := base.Add(3 * time.Hour)

	var seen []int64
	var cursor *repository.MaturedCursor
	for page := 0; page < 5; page++ {
		batch, err := store.Stakings().ListMatured(ctx, now, cursor, 2)
		require.NoError(t, err)
		for _, p := range batch {
			seen = append(seen, p.ID)
		}
		if len(batch) < 2 {
			break
		}
		last := batch[len(batch)-1]
		cursor = &repository.MaturedCursor{EndAt: last.EndAt, ID: last.ID}
	}
	assert.Equal(t, ids, seen)

	// Ties on end_at resume by id.
	rest, err := store.Stakings().ListMatured(ctx, now, &repository.MaturedCursor{EndAt: base, ID: ids[0]}, 0)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, ids[1], rest[0].ID)
}

func testTotals(t *testing.T, store repository.Store) {
	ctx := context.Background()

	empty, err := store.Accounts().Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Count)
	assert.True(t, empty.TaiBalance.IsZero())

	for i, tai := range []string{"1.5", "2.25"} {
		acc := NewAccount(i + 1)
		require.NoError(t, store.Accounts().Create(ctx, acc))
		acc.TaiBalance = decimal.RequireFromString(tai)
		acc.UsdtBalance = decimal.NewFromInt(int64(i + 1))
		require.NoError(t, store.Accounts().UpdateBalances(ctx, acc))
	}

	totals, err := store.Accounts().Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals.Count)
	assert.True(t, totals.TaiBalance.Equal(decimal.RequireFromString("3.75")), totals.TaiBalance.String())
	assert.True(t, totals.UsdtBalance.Equal(decimal.NewFromInt(3)))

	page, total, err := store.Accounts().List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, page, 1)
}
