package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
)

// TransferRequest — перевод между пользователями.
type TransferRequest struct {
	FromUserID  int64
	ToEmail     string
	Amount      decimal.Decimal
	Asset       AssetType
	Description string
	Type        TxType // TRANSFER (по умолчанию) или PAYMENT
}

// EmissionRequest — эмиссия пользователю (админ).
type EmissionRequest struct {
	ToEmail string
	Amount  decimal.Decimal
	Asset   AssetType
	Reason  string
	Actor   string
}

// Transfer переводит COIN или TOKEN пользователю по email.
//
// Для COIN: комиссия = round(amount × FeeRate, 2), получатель получает
// amount − fee, комиссия уходит в казначейство. Для TOKEN комиссии нет.
// Оба счёта и казначейство меняются в одной единице работы, и в журнал
// добавляется одна запись с fee_amount.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	if err := ValidateAmount(req.Asset, req.Amount); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = TxTransfer
	}
	if req.Type != TxTransfer && req.Type != TxPayment {
		return nil, fmt.Errorf("%w: тип перевода %s", common.ErrValidation, req.Type)
	}
	toEmail := normalizeEmail(req.ToEmail)
	if toEmail == "" {
		return nil, fmt.Errorf("%w: email получателя обязателен", common.ErrValidation)
	}

	net, fee := SplitFee(req.Asset, req.Amount, l.params.FeeRate)

	var record *Transaction
	err := l.store.InTx(ctx, func(tx Tx) error {
		recipient, err := tx.GetAccountByEmail(ctx, toEmail)
		if errors.Is(err, common.ErrAccountNotFound) {
			return common.ErrRecipientNotFound
		}
		if err != nil {
			return err
		}
		if recipient.UserID == req.FromUserID {
			return common.ErrSelfTransfer
		}

		accounts, err := tx.LockAccounts(ctx, req.FromUserID, recipient.UserID)
		if err != nil {
			return err
		}
		from, to := accounts[req.FromUserID], accounts[recipient.UserID]

		now := l.now()
		if err := from.Debit(req.Asset, req.Amount); err != nil {
			return err
		}
		if err := to.Credit(req.Asset, net); err != nil {
			return err
		}
		from.UpdatedAt, to.UpdatedAt = now, now
		if err := tx.UpdateAccount(ctx, from); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, to); err != nil {
			return err
		}

		if fee.IsPositive() {
			treasury, err := tx.LockTreasury(ctx)
			if err != nil {
				return err
			}
			treasury.CollectedFees = treasury.CollectedFees.Add(fee)
			treasury.UpdatedAt = now
			if err := tx.UpdateTreasury(ctx, treasury); err != nil {
				return err
			}
		}

		description := strings.TrimSpace(req.Description)
		if description == "" {
			description = fmt.Sprintf("Перевод %s %s", req.Amount, req.Asset)
		}
		record = &Transaction{
			FromUserID:  int64Ptr(req.FromUserID),
			ToUserID:    int64Ptr(recipient.UserID),
			AssetType:   req.Asset,
			Amount:      req.Amount,
			FeeAmount:   fee,
			Type:        req.Type,
			Description: description,
			CreatedAt:   now,
		}
		return tx.AppendTransaction(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"from":   req.FromUserID,
		"to":     *record.ToUserID,
		"asset":  req.Asset,
		"amount": req.Amount.String(),
		"fee":    fee.String(),
	}).Info("Перевод выполнен")
	return record, nil
}

// Emit начисляет пользователю эмиссию (админ).
// COIN выпускается заново и увеличивает объём в обращении. TOKEN имеет
// фиксированную эмиссию, поэтому переводится со счёта резерва.
func (l *Ledger) Emit(ctx context.Context, req EmissionRequest) (*Transaction, error) {
	reason, err := requireReason(req.Reason)
	if err != nil {
		return nil, err
	}
	if err := ValidateAmount(req.Asset, req.Amount); err != nil {
		return nil, err
	}
	toEmail := normalizeEmail(req.ToEmail)

	var record *Transaction
	err = l.store.InTx(ctx, func(tx Tx) error {
		recipient, err := tx.GetAccountByEmail(ctx, toEmail)
		if errors.Is(err, common.ErrAccountNotFound) {
			return common.ErrRecipientNotFound
		}
		if err != nil {
			return err
		}
		if recipient.UserID == ReserveUserID {
			return fmt.Errorf("%w: эмиссия на счёт резерва", common.ErrValidation)
		}

		now := l.now()
		record = &Transaction{
			ToUserID:    int64Ptr(recipient.UserID),
			AssetType:   req.Asset,
			Amount:      req.Amount,
			FeeAmount:   decimal.Zero,
			Type:        TxEmission,
			Description: "Эмиссия: " + reason,
			CreatedAt:   now,
		}

		if req.Asset == AssetToken {
			if err := l.moveFromReserve(ctx, tx, recipient.UserID, req.Amount); err != nil {
				return err
			}
			record.FromUserID = int64Ptr(ReserveUserID)
		} else {
			accounts, err := tx.LockAccounts(ctx, recipient.UserID)
			if err != nil {
				return err
			}
			to := accounts[recipient.UserID]
			if err := to.Credit(AssetCoin, req.Amount); err != nil {
				return err
			}
			to.UpdatedAt = now
			if err := tx.UpdateAccount(ctx, to); err != nil {
				return err
			}
			treasury, err := tx.LockTreasury(ctx)
			if err != nil {
				return err
			}
			treasury.CoinsInCirculation = treasury.CoinsInCirculation.Add(req.Amount)
			treasury.UpdatedAt = now
			if err := tx.UpdateTreasury(ctx, treasury); err != nil {
				return err
			}
		}

		if err := tx.AppendTransaction(ctx, record); err != nil {
			return err
		}
		target := fmt.Sprintf("account:%d %s %s", recipient.UserID, req.Amount, req.Asset)
		return l.recordAction(ctx, tx, ActionEmission, target, reason, req.Actor)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"to":     *record.ToUserID,
		"asset":  req.Asset,
		"amount": req.Amount.String(),
		"actor":  req.Actor,
	}).Info("Эмиссия выполнена")
	return record, nil
}

// moveFromReserve переводит токены со счёта резерва пользователю.
// Резерв не блокируется флагами: это системный счёт.
func (l *Ledger) moveFromReserve(ctx context.Context, tx Tx, userID int64, amount decimal.Decimal) error {
	accounts, err := tx.LockAccounts(ctx, ReserveUserID, userID)
	if err != nil {
		return err
	}
	reserve, to := accounts[ReserveUserID], accounts[userID]
	if reserve.TokenBalance.LessThan(amount) {
		return fmt.Errorf("%w: в резерве %s токенов", common.ErrInsufficientFunds, reserve.TokenBalance)
	}

	now := l.now()
	reserve.TokenBalance = reserve.TokenBalance.Sub(amount)
	reserve.UpdatedAt = now
	if err := to.Credit(AssetToken, amount); err != nil {
		return err
	}
	to.UpdatedAt = now
	if err := tx.UpdateAccount(ctx, reserve); err != nil {
		return err
	}
	return tx.UpdateAccount(ctx, to)
}
