package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/db/memory"
	"serotonyl.ru/altyn-ledger/internal/ledger"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	l     *ledger.Ledger
	store *memory.Store
	clock *fakeClock
}

func newFixture(t *testing.T, opts ...func(*ledger.Params)) *fixture {
	t.Helper()
	params := ledger.DefaultParams()
	for _, opt := range opts {
		opt(&params)
	}
	clock := &fakeClock{now: t0}
	store := memory.New()
	l := ledger.New(store, params, ledger.WithClock(clock.Now))
	require.NoError(t, l.Bootstrap(context.Background()))
	return &fixture{t: t, ctx: context.Background(), l: l, store: store, clock: clock}
}

func withSupply(supply string) func(*ledger.Params) {
	return func(p *ledger.Params) { p.TokenSupply = dec(supply) }
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func email(id int64) string {
	return fmt.Sprintf("user%d@example.com", id)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

// user открывает счёт и выдаёт ему токены из резерва и COIN эмиссией.
func (f *fixture) user(id int64, tokens, coins string) {
	f.t.Helper()
	_, err := f.l.EnsureAccount(f.ctx, id, email(id))
	require.NoError(f.t, err)
	if tokens != "" {
		_, err := f.l.Emit(f.ctx, ledger.EmissionRequest{
			ToEmail: email(id), Amount: dec(tokens), Asset: ledger.AssetToken, Reason: "setup", Actor: "test",
		})
		require.NoError(f.t, err)
	}
	if coins != "" {
		_, err := f.l.Emit(f.ctx, ledger.EmissionRequest{
			ToEmail: email(id), Amount: dec(coins), Asset: ledger.AssetCoin, Reason: "setup", Actor: "test",
		})
		require.NoError(f.t, err)
	}
}

func (f *fixture) balance(id int64, asset ledger.AssetType) decimal.Decimal {
	f.t.Helper()
	b, err := f.l.GetBalance(f.ctx, id, asset)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) treasury() *ledger.Treasury {
	f.t.Helper()
	tr, err := f.l.Treasury(f.ctx)
	require.NoError(f.t, err)
	return tr
}

func (f *fixture) requireAuditOK() {
	f.t.Helper()
	report, err := f.l.Audit(f.ctx)
	require.NoError(f.t, err)
	require.Empty(f.t, report.Problems)
	require.True(f.t, report.SupplyOK)
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)

	assertDec(t, "35000000", f.balance(ledger.ReserveUserID, ledger.AssetToken))
	tr := f.treasury()
	assertDec(t, "35000000", tr.TokenSupply)
	assertDec(t, "0", tr.CollectedFees)
	assert.Nil(t, tr.LastDistributionAt)

	// Повторный вызов ничего не меняет
	require.NoError(t, f.l.Bootstrap(f.ctx))
	assertDec(t, "35000000", f.balance(ledger.ReserveUserID, ledger.AssetToken))
	f.requireAuditOK()
}

func TestTreasuryBeforeBootstrap(t *testing.T) {
	l := ledger.New(memory.New(), ledger.DefaultParams())
	_, err := l.Treasury(context.Background())
	assert.ErrorIs(t, err, common.ErrLedgerNotInitialized)
}

func TestEnsureAccount(t *testing.T) {
	f := newFixture(t)

	acc, err := f.l.EnsureAccount(f.ctx, 1, "  Alice@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", acc.Email)
	assertDec(t, "0", acc.CoinBalance)
	assertDec(t, "0", acc.TokenBalance)

	again, err := f.l.EnsureAccount(f.ctx, 1, "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", again.Email)

	_, err = f.l.EnsureAccount(f.ctx, 0, "reserve@example.com")
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = f.l.EnsureAccount(f.ctx, 2, "  ")
	assert.ErrorIs(t, err, common.ErrValidation)

	// email уже занят другим пользователем
	_, err = f.l.EnsureAccount(f.ctx, 3, "alice@example.com")
	assert.ErrorIs(t, err, common.ErrAccountExists)
	assert.NotErrorIs(t, err, common.ErrAccountNotFound)
	assert.Contains(t, err.Error(), "занят другим пользователем")
}

func TestEnsureAccountWelcomeBonus(t *testing.T) {
	f := newFixture(t, func(p *ledger.Params) { p.WelcomeBonus = dec("100") })

	acc, err := f.l.EnsureAccount(f.ctx, 7, email(7))
	require.NoError(t, err)
	assertDec(t, "100", acc.CoinBalance)
	assertDec(t, "100", f.treasury().CoinsInCirculation)

	txs, err := f.l.Transactions(f.ctx, 7, "", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxWelcomeBonus, txs[0].Type)

	// Повторное обращение бонус не начисляет
	_, err = f.l.EnsureAccount(f.ctx, 7, email(7))
	require.NoError(t, err)
	assertDec(t, "100", f.balance(7, ledger.AssetCoin))
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t)
	f.user(1, "250.5", "10")

	assertDec(t, "250.5", f.balance(1, ledger.AssetToken))
	assertDec(t, "10", f.balance(1, ledger.AssetCoin))

	_, err := f.l.GetBalance(f.ctx, 1, "GOLD")
	assert.ErrorIs(t, err, common.ErrInvalidAsset)
	_, err = f.l.GetBalance(f.ctx, 99, ledger.AssetCoin)
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
}

func TestSetBlock(t *testing.T) {
	f := newFixture(t)
	f.user(1, "100", "100")
	f.user(2, "", "")

	_, err := f.l.SetBlock(f.ctx, 1, ledger.BlockFlags{CoinBlocked: true}, " ", "admin")
	assert.ErrorIs(t, err, common.ErrReasonRequired)

	acc, err := f.l.SetBlock(f.ctx, 1, ledger.BlockFlags{CoinBlocked: true}, "проверка", "admin")
	require.NoError(t, err)
	assert.True(t, acc.Blocks.CoinBlocked)

	coin := ledger.TransferRequest{FromUserID: 1, ToEmail: email(2), Amount: dec("10"), Asset: ledger.AssetCoin}
	_, err = f.l.Transfer(f.ctx, coin)
	assert.ErrorIs(t, err, common.ErrAssetBlocked)

	// TOKEN не заблокирован
	token := ledger.TransferRequest{FromUserID: 1, ToEmail: email(2), Amount: dec("10"), Asset: ledger.AssetToken}
	_, err = f.l.Transfer(f.ctx, token)
	require.NoError(t, err)

	// Блокировка счёта проверяется раньше блокировки актива
	_, err = f.l.SetBlock(f.ctx, 1, ledger.BlockFlags{AccountBlocked: true, CoinBlocked: true}, "расследование", "admin")
	require.NoError(t, err)
	_, err = f.l.Transfer(f.ctx, coin)
	assert.ErrorIs(t, err, common.ErrAccountBlocked)

	// Зачисления на заблокированный счёт проходят
	_, err = f.l.Transfer(f.ctx, ledger.TransferRequest{FromUserID: 2, ToEmail: email(1), Amount: dec("5"), Asset: ledger.AssetToken})
	require.NoError(t, err)
	assertDec(t, "95", f.balance(1, ledger.AssetToken))

	_, err = f.l.SetBlock(f.ctx, 99, ledger.BlockFlags{}, "нет такого", "admin")
	assert.ErrorIs(t, err, common.ErrAccountNotFound)

	var blocks int
	for _, a := range f.store.AdminActions() {
		if a.Action == ledger.ActionSetBlock {
			blocks++
			assert.NotEmpty(t, a.Reason)
			assert.Equal(t, "account:1", a.Target)
		}
	}
	assert.Equal(t, 2, blocks)
}

func TestWallet(t *testing.T) {
	f := newFixture(t)
	f.user(1, "1000", "")

	node, _, err := f.l.CreateNode(f.ctx, 1, "", dec("300"))
	require.NoError(t, err)
	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.l.Stake(f.ctx, 1, node.ID, dec("200"))
	require.NoError(t, err)

	w, err := f.l.Wallet(f.ctx, 1)
	require.NoError(t, err)
	assertDec(t, "500", w.Account.TokenBalance)
	assertDec(t, "500", w.StakedTokens)
	assertDec(t, "200", w.LockedTokens)
	assertDec(t, "300", w.UnlockedStaked)
	assertDec(t, "1000", w.TotalTokens)
	assert.Len(t, w.Stakes, 2)
}

func TestTransactionsFilterAndLimit(t *testing.T) {
	f := newFixture(t)
	f.user(1, "100", "100")
	f.user(2, "", "")

	for i := 0; i < 3; i++ {
		_, err := f.l.Transfer(f.ctx, ledger.TransferRequest{FromUserID: 1, ToEmail: email(2), Amount: dec("1"), Asset: ledger.AssetCoin})
		require.NoError(t, err)
	}
	_, err := f.l.Transfer(f.ctx, ledger.TransferRequest{FromUserID: 1, ToEmail: email(2), Amount: dec("1"), Asset: ledger.AssetToken})
	require.NoError(t, err)

	all, err := f.l.Transactions(f.ctx, 2, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, ledger.AssetToken, all[0].AssetType, "новые первыми")

	coins, err := f.l.Transactions(f.ctx, 2, ledger.AssetCoin, 2)
	require.NoError(t, err)
	assert.Len(t, coins, 2)
	for _, tx := range coins {
		assert.Equal(t, ledger.AssetCoin, tx.AssetType)
	}

	_, err = f.l.Transactions(f.ctx, 2, "GOLD", 10)
	assert.ErrorIs(t, err, common.ErrInvalidAsset)
}
