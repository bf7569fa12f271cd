package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/ledger"
)

func TestTransferCoinFee(t *testing.T) {
	tests := []struct {
		amount string
		fee    string
		net    string
	}{
		{"1000", "1", "999"},
		{"5", "0.01", "4.99"},
		{"4.99", "0", "4.99"},
		{"123.45", "0.12", "123.33"},
		{"0.01", "0", "0.01"},
		{"15", "0.02", "14.98"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			f := newFixture(t)
			f.user(1, "", "2000")
			f.user(2, "", "")

			rec, err := f.l.Transfer(f.ctx, ledger.TransferRequest{
				FromUserID: 1, ToEmail: email(2), Amount: dec(tt.amount), Asset: ledger.AssetCoin,
			})
			require.NoError(t, err)

			assertDec(t, tt.fee, rec.FeeAmount)
			assertDec(t, tt.amount, rec.Amount)
			assert.Equal(t, ledger.TxTransfer, rec.Type)
			assertDec(t, tt.net, f.balance(2, ledger.AssetCoin))
			assertDec(t, tt.fee, f.treasury().CollectedFees)
			// Получатель и казначейство вместе получают ровно amount
			assertDec(t, tt.amount, f.balance(2, ledger.AssetCoin).Add(f.treasury().CollectedFees))
			assertDec(t, dec("2000").Sub(dec(tt.amount)).String(), f.balance(1, ledger.AssetCoin))
		})
	}
}

func TestTransferTokenWithoutFee(t *testing.T) {
	f := newFixture(t)
	f.user(1, "10.123456", "")
	f.user(2, "", "")

	rec, err := f.l.Transfer(f.ctx, ledger.TransferRequest{
		FromUserID: 1, ToEmail: "USER2@example.com", Amount: dec("10.123456"), Asset: ledger.AssetToken,
		Description: "возврат долга", Type: ledger.TxPayment,
	})
	require.NoError(t, err)
	assertDec(t, "0", rec.FeeAmount)
	assert.Equal(t, ledger.TxPayment, rec.Type)
	assert.Equal(t, "возврат долга", rec.Description)
	assertDec(t, "10.123456", f.balance(2, ledger.AssetToken))
	assertDec(t, "0", f.balance(1, ledger.AssetToken))
	assertDec(t, "0", f.treasury().CollectedFees)
	f.requireAuditOK()
}

func TestTransferRejectsWithoutMutation(t *testing.T) {
	f := newFixture(t)
	f.user(1, "100", "100")
	f.user(2, "", "")

	tests := []struct {
		name string
		req  ledger.TransferRequest
		want error
	}{
		{"zero", ledger.TransferRequest{Amount: dec("0"), Asset: ledger.AssetCoin, ToEmail: email(2)}, common.ErrInvalidAmount},
		{"negative", ledger.TransferRequest{Amount: dec("-1"), Asset: ledger.AssetCoin, ToEmail: email(2)}, common.ErrInvalidAmount},
		{"coin precision", ledger.TransferRequest{Amount: dec("1.001"), Asset: ledger.AssetCoin, ToEmail: email(2)}, common.ErrInvalidPrecision},
		{"token precision", ledger.TransferRequest{Amount: dec("1.0000001"), Asset: ledger.AssetToken, ToEmail: email(2)}, common.ErrInvalidPrecision},
		{"asset", ledger.TransferRequest{Amount: dec("1"), Asset: "GOLD", ToEmail: email(2)}, common.ErrInvalidAsset},
		{"type", ledger.TransferRequest{Amount: dec("1"), Asset: ledger.AssetCoin, ToEmail: email(2), Type: ledger.TxDividend}, common.ErrValidation},
		{"self", ledger.TransferRequest{Amount: dec("1"), Asset: ledger.AssetCoin, ToEmail: email(1)}, common.ErrSelfTransfer},
		{"no recipient", ledger.TransferRequest{Amount: dec("1"), Asset: ledger.AssetCoin, ToEmail: "ghost@example.com"}, common.ErrRecipientNotFound},
		{"no email", ledger.TransferRequest{Amount: dec("1"), Asset: ledger.AssetCoin}, common.ErrValidation},
		{"insufficient", ledger.TransferRequest{Amount: dec("100.01"), Asset: ledger.AssetCoin, ToEmail: email(2)}, common.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.FromUserID = 1
			_, err := f.l.Transfer(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)

			assertDec(t, "100", f.balance(1, ledger.AssetCoin))
			assertDec(t, "100", f.balance(1, ledger.AssetToken))
			assertDec(t, "0", f.balance(2, ledger.AssetCoin))
			assertDec(t, "0", f.treasury().CollectedFees)
		})
	}
	assert.ErrorIs(t, common.ErrSelfTransfer, common.ErrValidation)
}

func TestEmit(t *testing.T) {
	f := newFixture(t)
	f.user(1, "", "")

	rec, err := f.l.Emit(f.ctx, ledger.EmissionRequest{
		ToEmail: email(1), Amount: dec("500"), Asset: ledger.AssetCoin, Reason: "бонус", Actor: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxEmission, rec.Type)
	assert.Nil(t, rec.FromUserID)
	assertDec(t, "500", f.balance(1, ledger.AssetCoin))
	assertDec(t, "500", f.treasury().CoinsInCirculation)

	rec, err = f.l.Emit(f.ctx, ledger.EmissionRequest{
		ToEmail: email(1), Amount: dec("1000"), Asset: ledger.AssetToken, Reason: "грант", Actor: "admin",
	})
	require.NoError(t, err)
	require.NotNil(t, rec.FromUserID)
	assert.Equal(t, ledger.ReserveUserID, *rec.FromUserID)
	assertDec(t, "1000", f.balance(1, ledger.AssetToken))
	assertDec(t, "34999000", f.balance(ledger.ReserveUserID, ledger.AssetToken))
	assertDec(t, "35000000", f.treasury().TokenSupply, "эмиссия токенов фиксирована")

	_, err = f.l.Emit(f.ctx, ledger.EmissionRequest{ToEmail: email(1), Amount: dec("1"), Asset: ledger.AssetCoin})
	assert.ErrorIs(t, err, common.ErrReasonRequired)
	_, err = f.l.Emit(f.ctx, ledger.EmissionRequest{ToEmail: ledger.ReserveEmail, Amount: dec("1"), Asset: ledger.AssetToken, Reason: "x"})
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = f.l.Emit(f.ctx, ledger.EmissionRequest{ToEmail: "ghost@example.com", Amount: dec("1"), Asset: ledger.AssetCoin, Reason: "x"})
	assert.ErrorIs(t, err, common.ErrRecipientNotFound)
	_, err = f.l.Emit(f.ctx, ledger.EmissionRequest{ToEmail: email(1), Amount: dec("35000000"), Asset: ledger.AssetToken, Reason: "x"})
	assert.ErrorIs(t, err, common.ErrInsufficientFunds)

	f.requireAuditOK()
}
