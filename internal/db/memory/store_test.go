package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/db/memory"
	"serotonyl.ru/altyn-ledger/internal/ledger"
)

func newAccount(id int64, email string) *ledger.Account {
	return &ledger.Account{UserID: id, Email: email, CoinBalance: decimal.NewFromInt(10), TokenBalance: decimal.Zero, CreatedAt: time.Now()}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		require.NoError(t, tx.CreateAccount(ctx, newAccount(1, "a@example.com")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.InTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.GetAccount(ctx, 1)
		return err
	})
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
}

func TestInTxCommitsAndIsolatesCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateAccount(ctx, newAccount(1, "a@example.com"))
	}))

	var got *ledger.Account
	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error {
		var err error
		got, err = tx.GetAccountByEmail(ctx, "a@example.com")
		return err
	}))
	got.CoinBalance = decimal.NewFromInt(1_000_000)

	// Изменение полученной копии не затрагивает хранилище
	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error {
		acc, err := tx.GetAccount(ctx, 1)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(10).Equal(acc.CoinBalance))
		return nil
	}))
}

func TestInTxUniqueness(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateAccount(ctx, newAccount(1, "a@example.com"))
	}))
	err := s.InTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateAccount(ctx, newAccount(2, "a@example.com"))
	})
	assert.ErrorIs(t, err, common.ErrAccountExists)
}

func TestInTxCancelledContext(t *testing.T) {
	s := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		if err := tx.CreateAccount(ctx, newAccount(1, "a@example.com")); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	err = s.InTx(ctx, func(ledger.Tx) error {
		t.Fatal("fn не должна вызываться с отменённым контекстом")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	err = s.InTx(context.Background(), func(tx ledger.Tx) error {
		_, err := tx.GetAccount(context.Background(), 1)
		return err
	})
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
}
