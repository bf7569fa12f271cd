package ledger_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/ledger"
)

func sumPayouts(payouts []ledger.Payout) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payouts {
		total = total.Add(p.Amount)
	}
	return total
}

func TestSplitDividendsTieGoesToLowestID(t *testing.T) {
	payouts, remainder, to := ledger.SplitDividends(dec("1"), dec("3"), []ledger.Holding{
		{UserID: 3, Tokens: dec("1")},
		{UserID: 1, Tokens: dec("1")},
		{UserID: 2, Tokens: dec("1")},
	})
	require.Len(t, payouts, 3)
	assertDec(t, "0.01", remainder)
	assert.Equal(t, int64(1), to)
	assert.Equal(t, int64(1), payouts[0].UserID)
	assertDec(t, "0.34", payouts[0].Amount)
	assertDec(t, "0.33", payouts[1].Amount)
	assertDec(t, "0.33", payouts[2].Amount)
}

func TestSplitDividendsDropsZeroPayouts(t *testing.T) {
	payouts, remainder, to := ledger.SplitDividends(dec("100"), dec("1000"), []ledger.Holding{
		{UserID: 1, Tokens: dec("999.999999")},
		{UserID: 2, Tokens: dec("0.000001")},
		{UserID: 3, Tokens: dec("0")},
	})
	require.Len(t, payouts, 1)
	assert.Equal(t, int64(1), payouts[0].UserID)
	assertDec(t, "100", payouts[0].Amount)
	assertDec(t, "0.01", remainder)
	assert.Equal(t, int64(1), to)
}

func TestSplitDividendsEmpty(t *testing.T) {
	payouts, remainder, _ := ledger.SplitDividends(dec("10"), dec("100"), nil)
	assert.Empty(t, payouts)
	assertDec(t, "0", remainder)

	payouts, _, _ = ledger.SplitDividends(dec("0"), dec("100"), []ledger.Holding{{UserID: 1, Tokens: dec("1")}})
	assert.Empty(t, payouts)
}

func TestSplitDividendsDisbursesExactly(t *testing.T) {
	for seed := 1; seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			var holdings []ledger.Holding
			supply := decimal.Zero
			for i := 1; i <= 40; i++ {
				tokens := decimal.New(int64((i*7919*seed)%1_000_003+1), -6).Mul(decimal.NewFromInt(int64(seed)))
				holdings = append(holdings, ledger.Holding{UserID: int64(i), Tokens: tokens})
				supply = supply.Add(tokens)
			}
			fees := decimal.New(int64(seed*123457), -2)

			payouts, remainder, _ := ledger.SplitDividends(fees, supply, holdings)
			assertDec(t, fees.String(), sumPayouts(payouts))
			assert.False(t, remainder.IsNegative())
			for _, p := range payouts {
				assert.True(t, p.Amount.Equal(p.Amount.Truncate(ledger.CoinPlaces)), "выплата %s округлена до копеек", p.Amount)
			}
		})
	}
}

func TestDistributeDividends(t *testing.T) {
	f := newFixture(t, withSupply("10000"))
	f.user(1, "3000", "")
	f.user(2, "1000", "")
	f.user(3, "", "10000")

	// Застейканные токены тоже приносят дивиденды
	_, _, err := f.l.CreateNode(f.ctx, 2, "", dec("500"))
	require.NoError(t, err)

	_, err = f.l.Transfer(f.ctx, ledger.TransferRequest{FromUserID: 3, ToEmail: email(1), Amount: dec("10000"), Asset: ledger.AssetCoin})
	require.NoError(t, err)
	assertDec(t, "10", f.treasury().CollectedFees)

	report, err := f.l.DistributeDividends(f.ctx, "", "admin")
	require.NoError(t, err)
	assertDec(t, "10", report.Distributed)
	assertDec(t, "10", sumPayouts(report.Payouts))
	assertDec(t, "0", report.Remainder)
	require.Len(t, report.Payouts, 3)

	byUser := map[int64]decimal.Decimal{}
	for _, p := range report.Payouts {
		byUser[p.UserID] = p.Amount
	}
	assertDec(t, "6", byUser[ledger.ReserveUserID])
	assertDec(t, "3", byUser[1])
	assertDec(t, "1", byUser[2])

	assertDec(t, "9993", f.balance(1, ledger.AssetCoin))
	assertDec(t, "1", f.balance(2, ledger.AssetCoin))
	assertDec(t, "0", f.balance(3, ledger.AssetCoin))

	tr := f.treasury()
	assertDec(t, "0", tr.CollectedFees)
	require.NotNil(t, tr.LastDistributionAt)
	assert.Equal(t, t0, *tr.LastDistributionAt)

	txs, err := f.l.Transactions(f.ctx, 2, ledger.AssetCoin, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxDividend, txs[0].Type)

	_, err = f.l.DistributeDividends(f.ctx, "", "admin")
	assert.ErrorIs(t, err, common.ErrNothingToDistribute)
	f.requireAuditOK()
}

func TestDistributeDividendsRemainder(t *testing.T) {
	f := newFixture(t, withSupply("30000"))
	f.user(1, "10000", "")
	f.user(2, "10000", "1000")

	_, err := f.l.Transfer(f.ctx, ledger.TransferRequest{FromUserID: 2, ToEmail: email(1), Amount: dec("1000"), Asset: ledger.AssetCoin})
	require.NoError(t, err)

	report, err := f.l.DistributeDividends(f.ctx, "ежемесячно", "admin")
	require.NoError(t, err)
	assertDec(t, "1", sumPayouts(report.Payouts))
	assertDec(t, "0.01", report.Remainder)
	assert.Equal(t, ledger.ReserveUserID, report.RemainderTo)
	assertDec(t, "0.34", f.balance(ledger.ReserveUserID, ledger.AssetCoin))
	assertDec(t, "999.33", f.balance(1, ledger.AssetCoin))
	assertDec(t, "0.33", f.balance(2, ledger.AssetCoin))

	var found bool
	for _, a := range f.store.AdminActions() {
		if a.Action == ledger.ActionDistribute {
			found = true
			assert.Equal(t, "ежемесячно", a.Reason)
		}
	}
	assert.True(t, found)
}

func TestDistributeDividendsNothingCollected(t *testing.T) {
	f := newFixture(t)
	f.user(1, "100", "")

	_, err := f.l.DistributeDividends(f.ctx, "", "admin")
	assert.ErrorIs(t, err, common.ErrNothingToDistribute)
	assertDec(t, "0", f.balance(1, ledger.AssetCoin))
}
