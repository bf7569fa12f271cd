package ledger

import (
	"github.com/shopspring/decimal"

	"serotonyl.ru/altyn-ledger/internal/common"
)

// Точность активов
const (
	CoinPlaces  int32 = 2
	TokenPlaces int32 = 6
)

// Places возвращает число знаков после запятой для актива.
func Places(asset AssetType) int32 {
	if asset == AssetCoin {
		return CoinPlaces
	}
	return TokenPlaces
}

// ValidateAmount проверяет, что сумма положительна и укладывается в точность актива.
func ValidateAmount(asset AssetType, amount decimal.Decimal) error {
	if !asset.Valid() {
		return common.ErrInvalidAsset
	}
	if !amount.IsPositive() {
		return common.ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(Places(asset))) {
		return common.ErrInvalidPrecision
	}
	return nil
}

// Fee считает комиссию COIN-перевода: amount × rate, округление half-up до 2 знаков.
func Fee(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(CoinPlaces)
}

// SplitFee делит сумму перевода на нетто получателю и комиссию казначейству.
// Для TOKEN комиссия всегда ноль.
func SplitFee(asset AssetType, amount, rate decimal.Decimal) (net, fee decimal.Decimal) {
	if asset != AssetCoin {
		return amount, decimal.Zero
	}
	fee = Fee(amount, rate)
	return amount.Sub(fee), fee
}
