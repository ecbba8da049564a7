package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/repository"
	"tai-ledger-api/internal/repository/repotest"
)

func TestStore(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Store {
		return NewStore()
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	acc := repotest.NewAccount(1)
	require.NoError(t, store.Accounts().Create(ctx, acc))

	loaded, err := store.Accounts().GetByID(ctx, acc.ID)
	require.NoError(t, err)
	loaded.TaiBalance = decimal.NewFromInt(50)

	again, err := store.Accounts().GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, again.TaiBalance.IsZero())
}

func TestStoreSerializesTransactions(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	acc := repotest.NewAccount(1)
	require.NoError(t, store.Accounts().Create(ctx, acc))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(ctx, func(tx repository.Store) error {
				loaded, err := tx.Accounts().GetByID(ctx, acc.ID)
				if err != nil {
					return err
				}
				loaded.TaiBalance = loaded.TaiBalance.Add(decimal.NewFromInt(1))
				return tx.Accounts().UpdateBalances(ctx, loaded)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := store.Accounts().GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, loaded.TaiBalance.Equal(decimal.NewFromInt(50)))
}
