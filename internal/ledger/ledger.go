// Package ledger реализует леджер стейкинга и дивидендов ALTYN:
// счета COIN/TOKEN, реестр узлов, стейки с блокировкой, движок размещения,
// переводы с комиссией, импорт с внешней сети и распределение дивидендов.
//
// Все мутации выполняются внутри Store.InTx, поэтому на любой ошибке
// леджер остаётся в состоянии до вызова.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
)

// Params — параметры леджера. Передаются явно в New, глобального состояния нет.
type Params struct {
	FeeRate          decimal.Decimal // Доля комиссии COIN-перевода (0.001)
	LockDays         int             // Срок блокировки стейка в днях
	StandardCapacity decimal.Decimal // Ёмкость STANDARD-узла
	SuperCapacity    decimal.Decimal // Ёмкость SUPER-узла
	SuperThreshold   decimal.Decimal // Начальный стейк, с которого узел SUPER
	TokenSupply      decimal.Decimal // Фиксированная эмиссия токенов
	WelcomeBonus     decimal.Decimal // COIN при открытии счёта (0 — без бонуса)
	TransferMode     TransferMode    // Режим импорта с внешней сети
}

// DefaultParams возвращает параметры ALTYN по умолчанию.
func DefaultParams() Params {
	return Params{
		FeeRate:          decimal.RequireFromString("0.001"),
		LockDays:         30,
		StandardCapacity: decimal.NewFromInt(5_000),
		SuperCapacity:    decimal.NewFromInt(100_000),
		SuperThreshold:   decimal.NewFromInt(10_000),
		TokenSupply:      decimal.NewFromInt(35_000_000),
		WelcomeBonus:     decimal.Zero,
		TransferMode:     ModeModeration,
	}
}

// Ledger — движок леджера поверх Store.
type Ledger struct {
	store  Store
	params Params
	now    func() time.Time
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithClock подменяет источник времени (для тестов блокировок).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New создаёт леджер.
func New(store Store, params Params, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		params: params,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Params возвращает параметры леджера.
func (l *Ledger) Params() Params {
	return l.params
}

// Now возвращает текущее время по часам леджера.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Bootstrap создаёт счёт резерва со всей эмиссией токенов и казначейство,
// если их ещё нет. Повторный вызов ничего не меняет.
func (l *Ledger) Bootstrap(ctx context.Context) error {
	return l.store.InTx(ctx, func(tx Tx) error {
		_, err := tx.GetTreasury(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, common.ErrLedgerNotInitialized) {
			return err
		}

		now := l.now()
		reserve := &Account{
			UserID:       ReserveUserID,
			Email:        ReserveEmail,
			CoinBalance:  decimal.Zero,
			TokenBalance: l.params.TokenSupply,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateAccount(ctx, reserve); err != nil {
			return fmt.Errorf("ошибка создания резерва: %w", err)
		}

		treasury := &Treasury{
			CollectedFees:      decimal.Zero,
			CoinsInCirculation: decimal.Zero,
			TokenSupply:        l.params.TokenSupply,
			UpdatedAt:          now,
		}
		if err := tx.CreateTreasury(ctx, treasury); err != nil {
			return fmt.Errorf("ошибка создания казначейства: %w", err)
		}

		log.WithField("token_supply", l.params.TokenSupply.String()).Info("Genesis леджера создан")
		return nil
	})
}

// Treasury возвращает текущее состояние казначейства.
func (l *Ledger) Treasury(ctx context.Context) (*Treasury, error) {
	var t *Treasury
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		t, err = tx.GetTreasury(ctx)
		return err
	})
	return t, err
}

// recordAction пишет админ-действие в аудит. Причина обязательна.
func (l *Ledger) recordAction(ctx context.Context, tx Tx, action, target, reason, actor string) error {
	return tx.RecordAdminAction(ctx, &AdminAction{
		Action:    action,
		Target:    target,
		Reason:    reason,
		Actor:     actor,
		CreatedAt: l.now(),
	})
}

// requireReason проверяет причину админ-действия.
func requireReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", common.ErrReasonRequired
	}
	return reason, nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
