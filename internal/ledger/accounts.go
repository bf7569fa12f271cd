package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
)

// Balance возвращает баланс счёта по активу.
func (a *Account) Balance(asset AssetType) decimal.Decimal {
	if asset == AssetCoin {
		return a.CoinBalance
	}
	return a.TokenBalance
}

// CanDebit проверяет списание без изменения счёта.
// Порядок проверок: блокировка счёта, блокировка актива, остаток.
func (a *Account) CanDebit(asset AssetType, amount decimal.Decimal) error {
	if a.Blocks.AccountBlocked {
		return common.ErrAccountBlocked
	}
	if asset == AssetCoin && a.Blocks.CoinBlocked {
		return common.ErrAssetBlocked
	}
	if asset == AssetToken && a.Blocks.TokenBlocked {
		return common.ErrAssetBlocked
	}
	if a.Balance(asset).LessThan(amount) {
		return common.ErrInsufficientFunds
	}
	return nil
}

// Debit списывает сумму со счёта. Баланс никогда не становится отрицательным.
// Вызывается только внутри единицы работы на заблокированном счёте.
func (a *Account) Debit(asset AssetType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return common.ErrInvalidAmount
	}
	if err := a.CanDebit(asset, amount); err != nil {
		return err
	}
	if asset == AssetCoin {
		a.CoinBalance = a.CoinBalance.Sub(amount)
	} else {
		a.TokenBalance = a.TokenBalance.Sub(amount)
	}
	return nil
}

// Credit начисляет сумму на счёт. Блокировки на зачисление не действуют.
func (a *Account) Credit(asset AssetType, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return common.ErrInvalidAmount
	}
	if asset == AssetCoin {
		a.CoinBalance = a.CoinBalance.Add(amount)
	} else {
		a.TokenBalance = a.TokenBalance.Add(amount)
	}
	return nil
}

// Wallet — сводка кошелька для экрана портфеля.
type Wallet struct {
	Account        *Account        `json:"account"`
	StakedTokens   decimal.Decimal `json:"staked_tokens"`
	LockedTokens   decimal.Decimal `json:"locked_tokens"`
	UnlockedStaked decimal.Decimal `json:"unlocked_staked_tokens"`
	TotalTokens    decimal.Decimal `json:"total_tokens"`
	Stakes         []*Stake        `json:"stakes"`
}

// EnsureAccount открывает счёт пользователю при первом обращении.
// Если задан приветственный бонус — начисляет его в COIN (WELCOME_BONUS).
func (l *Ledger) EnsureAccount(ctx context.Context, userID int64, email string) (*Account, error) {
	if userID <= ReserveUserID {
		return nil, fmt.Errorf("%w: некорректный user_id", common.ErrValidation)
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email обязателен", common.ErrValidation)
	}

	var acc *Account
	err := l.store.InTx(ctx, func(tx Tx) error {
		existing, err := tx.GetAccount(ctx, userID)
		if err == nil {
			acc = existing
			return nil
		}
		if !errors.Is(err, common.ErrAccountNotFound) {
			return err
		}

		now := l.now()
		acc = &Account{
			UserID:       userID,
			Email:        email,
			CoinBalance:  decimal.Zero,
			TokenBalance: decimal.Zero,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateAccount(ctx, acc); err != nil {
			return err
		}

		if !l.params.WelcomeBonus.IsPositive() {
			return nil
		}

		acc.CoinBalance = l.params.WelcomeBonus
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return err
		}
		treasury, err := tx.LockTreasury(ctx)
		if err != nil {
			return err
		}
		treasury.CoinsInCirculation = treasury.CoinsInCirculation.Add(l.params.WelcomeBonus)
		treasury.UpdatedAt = now
		if err := tx.UpdateTreasury(ctx, treasury); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &Transaction{
			ToUserID:    int64Ptr(userID),
			AssetType:   AssetCoin,
			Amount:      l.params.WelcomeBonus,
			FeeAmount:   decimal.Zero,
			Type:        TxWelcomeBonus,
			Description: "Приветственный бонус",
			CreatedAt:   now,
		})
	})
	if errors.Is(err, common.ErrAccountExists) {
		// Параллельный запрос успел открыть счёт первым, либо email занят другим user_id
		existing, getErr := l.GetAccount(ctx, userID)
		if errors.Is(getErr, common.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: email %s занят другим пользователем", common.ErrAccountExists, email)
		}
		return existing, getErr
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// GetAccount возвращает счёт пользователя.
func (l *Ledger) GetAccount(ctx context.Context, userID int64) (*Account, error) {
	var acc *Account
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		acc, err = tx.GetAccount(ctx, userID)
		return err
	})
	return acc, err
}

// GetBalance возвращает баланс пользователя по активу.
func (l *Ledger) GetBalance(ctx context.Context, userID int64, asset AssetType) (decimal.Decimal, error) {
	if !asset.Valid() {
		return decimal.Zero, common.ErrInvalidAsset
	}
	acc, err := l.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance(asset), nil
}

// SetBlock устанавливает флаги блокировки счёта (админ).
func (l *Ledger) SetBlock(ctx context.Context, userID int64, flags BlockFlags, reason, actor string) (*Account, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}

	var acc *Account
	err = l.store.InTx(ctx, func(tx Tx) error {
		locked, err := tx.LockAccounts(ctx, userID)
		if err != nil {
			return err
		}
		acc = locked[userID]
		acc.Blocks = flags
		acc.UpdatedAt = l.now()
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return err
		}
		target := "account:" + strconv.FormatInt(userID, 10)
		return l.recordAction(ctx, tx, ActionSetBlock, target, reason, actor)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"flags":   fmt.Sprintf("%+v", flags),
		"actor":   actor,
	}).Info("Флаги блокировки счёта изменены")
	return acc, nil
}

// Wallet возвращает кошелёк пользователя со стейками.
func (l *Ledger) Wallet(ctx context.Context, userID int64) (*Wallet, error) {
	w := &Wallet{}
	err := l.store.InTx(ctx, func(tx Tx) error {
		acc, err := tx.GetAccount(ctx, userID)
		if err != nil {
			return err
		}
		stakes, err := tx.ListStakes(ctx, StakeFilter{UserID: int64Ptr(userID)})
		if err != nil {
			return err
		}
		w.Account = acc
		w.Stakes = stakes
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := l.now()
	w.StakedTokens = decimal.Zero
	w.LockedTokens = decimal.Zero
	w.UnlockedStaked = decimal.Zero
	for _, s := range w.Stakes {
		w.StakedTokens = w.StakedTokens.Add(s.StakedAmount)
		if s.IsLocked(now) {
			w.LockedTokens = w.LockedTokens.Add(s.StakedAmount)
		} else {
			w.UnlockedStaked = w.UnlockedStaked.Add(s.StakedAmount)
		}
	}
	w.TotalTokens = w.Account.TokenBalance.Add(w.StakedTokens)
	return w, nil
}

// Transactions возвращает последние транзакции пользователя.
// asset может быть пустым — тогда по всем активам.
func (l *Ledger) Transactions(ctx context.Context, userID int64, asset AssetType, limit int) ([]*Transaction, error) {
	if asset != "" && !asset.Valid() {
		return nil, common.ErrInvalidAsset
	}
	switch {
	case limit <= 0:
		limit = 50
	case limit > 200:
		limit = 200
	}

	var txs []*Transaction
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		txs, err = tx.ListTransactions(ctx, TransactionFilter{UserID: userID, AssetType: asset, Limit: limit})
		return err
	})
	return txs, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
