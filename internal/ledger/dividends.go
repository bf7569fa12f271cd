package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
)

// Holding — токены, принадлежащие пользователю: свободные плюс застейканные.
type Holding struct {
	UserID int64
	Tokens decimal.Decimal
}

// Payout — выплата дивидендов одному держателю.
type Payout struct {
	UserID   int64           `json:"user_id"`
	Holdings decimal.Decimal `json:"holdings"`
	Amount   decimal.Decimal `json:"amount"`
}

// DistributionReport — итог распределения дивидендов.
type DistributionReport struct {
	Distributed   decimal.Decimal `json:"distributed"`
	Remainder     decimal.Decimal `json:"remainder"`
	RemainderTo   int64           `json:"remainder_to"`
	Payouts       []Payout        `json:"payouts"`
	DistributedAt time.Time       `json:"distributed_at"`
}

// SplitDividends делит fees между держателями пропорционально доле в supply.
//
// Каждая выплата округляется вниз до 2 знаков, остаток от округления
// добавляется крупнейшему держателю (при равенстве — с меньшим user_id),
// поэтому сумма выплат всегда равна fees. Держатели с нулевой выплатой в
// результат не попадают.
func SplitDividends(fees, supply decimal.Decimal, holdings []Holding) ([]Payout, decimal.Decimal, int64) {
	list := make([]Holding, 0, len(holdings))
	for _, h := range holdings {
		if h.Tokens.IsPositive() {
			list = append(list, h)
		}
	}
	if len(list) == 0 || !supply.IsPositive() || !fees.IsPositive() {
		return nil, decimal.Zero, 0
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UserID < list[j].UserID })

	payouts := make([]Payout, len(list))
	total := decimal.Zero
	largest := 0
	for i, h := range list {
		amount := fees.Mul(h.Tokens).Div(supply).Truncate(CoinPlaces)
		payouts[i] = Payout{UserID: h.UserID, Holdings: h.Tokens, Amount: amount}
		total = total.Add(amount)
		if h.Tokens.GreaterThan(list[largest].Tokens) {
			largest = i
		}
	}

	remainder := fees.Sub(total)
	payouts[largest].Amount = payouts[largest].Amount.Add(remainder)

	out := payouts[:0]
	for _, p := range payouts {
		if p.Amount.IsPositive() {
			out = append(out, p)
		}
	}
	return out, remainder, list[largest].UserID
}

// DistributeDividends распределяет собранные комиссии между держателями токенов.
//
// Все счета блокируются, снимок владения и обнуление collected_fees
// выполняются в одной единице работы: прерванное распределение не
// оставляет частичных выплат, а повторное после успеха вернёт
// ErrNothingToDistribute.
func (l *Ledger) DistributeDividends(ctx context.Context, reason, actor string) (*DistributionReport, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "распределение дивидендов"
	}

	var report *DistributionReport
	err := l.store.InTx(ctx, func(tx Tx) error {
		accounts, err := tx.LockAllAccounts(ctx)
		if err != nil {
			return err
		}
		staked, err := tx.StakedByUser(ctx)
		if err != nil {
			return err
		}
		treasury, err := tx.LockTreasury(ctx)
		if err != nil {
			return err
		}
		if !treasury.CollectedFees.IsPositive() {
			return common.ErrNothingToDistribute
		}

		byUser := make(map[int64]*Account, len(accounts))
		holdings := make([]Holding, 0, len(accounts))
		for _, acc := range accounts {
			byUser[acc.UserID] = acc
			holdings = append(holdings, Holding{
				UserID: acc.UserID,
				Tokens: acc.TokenBalance.Add(staked[acc.UserID]),
			})
		}

		fees := treasury.CollectedFees
		payouts, remainder, remainderTo := SplitDividends(fees, treasury.TokenSupply, holdings)
		if len(payouts) == 0 {
			return fmt.Errorf("%w: нет держателей токенов", common.ErrNothingToDistribute)
		}

		now := l.now()
		for _, p := range payouts {
			acc := byUser[p.UserID]
			if err := acc.Credit(AssetCoin, p.Amount); err != nil {
				return err
			}
			acc.UpdatedAt = now
			if err := tx.UpdateAccount(ctx, acc); err != nil {
				return err
			}
			err := tx.AppendTransaction(ctx, &Transaction{
				ToUserID:    int64Ptr(p.UserID),
				AssetType:   AssetCoin,
				Amount:      p.Amount,
				FeeAmount:   decimal.Zero,
				Type:        TxDividend,
				Description: fmt.Sprintf("Дивиденды за %s AT", p.Holdings),
				CreatedAt:   now,
			})
			if err != nil {
				return err
			}
		}

		treasury.CollectedFees = decimal.Zero
		treasury.LastDistributionAt = &now
		treasury.UpdatedAt = now
		if err := tx.UpdateTreasury(ctx, treasury); err != nil {
			return err
		}

		report = &DistributionReport{
			Distributed:   fees,
			Remainder:     remainder,
			RemainderTo:   remainderTo,
			Payouts:       payouts,
			DistributedAt: now,
		}
		return l.recordAction(ctx, tx, ActionDistribute, "treasury:"+fees.String(), reason, actor)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"distributed": report.Distributed.String(),
		"holders":     len(report.Payouts),
		"remainder":   report.Remainder.String(),
		"actor":       actor,
	}).Info("Дивиденды распределены")
	return report, nil
}
