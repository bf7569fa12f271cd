package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
)

var walletRe = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// NormalizeWallet приводит адрес к нижнему регистру и проверяет формат 0x + 40 hex.
func NormalizeWallet(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if !walletRe.MatchString(address) {
		return "", common.ErrInvalidWallet
	}
	return address, nil
}

// WalletUsed сообщает, подавалась ли уже заявка с этого адреса (в любом статусе).
func (l *Ledger) WalletUsed(ctx context.Context, address string) (bool, error) {
	address, err := NormalizeWallet(address)
	if err != nil {
		return false, err
	}

	used := false
	err = l.store.InTx(ctx, func(tx Tx) error {
		_, err := tx.GetExternalTransferByWallet(ctx, address)
		if errors.Is(err, common.ErrTransferNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		used = true
		return nil
	})
	return used, err
}

// SubmitExternalTransfer принимает проверенный внешним оракулом баланс кошелька.
//
// Адрес можно использовать только один раз за всё время, независимо от
// статуса прошлых заявок (ErrWalletAlreadyUsed). В режиме AUTOMATIC токены
// сразу переводятся из резерва и заявка получает COMPLETED, в режиме
// MODERATION создаётся PENDING-заявка для админа.
func (l *Ledger) SubmitExternalTransfer(ctx context.Context, userID int64, address string, verified decimal.Decimal) (*ExternalTransfer, error) {
	address, err := NormalizeWallet(address)
	if err != nil {
		return nil, err
	}
	amount := verified.Truncate(TokenPlaces)
	if !amount.IsPositive() {
		return nil, common.ErrNothingToImport
	}

	mode := l.params.TransferMode
	if mode != ModeAutomatic {
		mode = ModeModeration
	}

	var et *ExternalTransfer
	err = l.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.GetAccount(ctx, userID); err != nil {
			return err
		}

		now := l.now()
		et = &ExternalTransfer{
			UserID:        userID,
			WalletAddress: address,
			Amount:        amount,
			Status:        ExternalPending,
			Mode:          mode,
			CreatedAt:     now,
		}
		if err := tx.CreateExternalTransfer(ctx, et); err != nil {
			return err
		}
		if mode == ModeModeration {
			return nil
		}
		return l.completeExternal(ctx, tx, et)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"wallet":  address,
		"amount":  amount.String(),
		"status":  et.Status,
	}).Info("Заявка на импорт ALTYN принята")
	return et, nil
}

// completeExternal зачисляет токены заявки и помечает её COMPLETED.
func (l *Ledger) completeExternal(ctx context.Context, tx Tx, et *ExternalTransfer) error {
	if err := l.moveFromReserve(ctx, tx, et.UserID, et.Amount); err != nil {
		return err
	}

	now := l.now()
	et.Status = ExternalCompleted
	et.ProcessedAt = &now
	if err := tx.UpdateExternalTransfer(ctx, et); err != nil {
		return err
	}
	return tx.AppendTransaction(ctx, &Transaction{
		FromUserID:  int64Ptr(ReserveUserID),
		ToUserID:    int64Ptr(et.UserID),
		AssetType:   AssetToken,
		Amount:      et.Amount,
		FeeAmount:   decimal.Zero,
		Type:        TxExternalImport,
		Description: "Импорт ALTYN с кошелька " + et.WalletAddress,
		CreatedAt:   now,
	})
}

// ApproveExternalTransfer одобряет PENDING-заявку (админ).
// Уже одобренная заявка возвращается без изменений; отклонённую одобрить нельзя.
func (l *Ledger) ApproveExternalTransfer(ctx context.Context, id int64, actor string) (*ExternalTransfer, error) {
	var et *ExternalTransfer
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		et, err = tx.LockExternalTransfer(ctx, id)
		if err != nil {
			return err
		}
		switch et.Status {
		case ExternalCompleted:
			return nil
		case ExternalRejected:
			return fmt.Errorf("%w: заявка #%d отклонена", common.ErrTransferProcessed, id)
		}
		if err := l.completeExternal(ctx, tx, et); err != nil {
			return err
		}
		return l.recordAction(ctx, tx, ActionApproveImport, "external_transfer:"+strconv.FormatInt(id, 10), "approved", actor)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"transfer_id": id, "actor": actor}).Info("Заявка на импорт одобрена")
	return et, nil
}

// RejectExternalTransfer отклоняет PENDING-заявку (админ). Повторный вызов
// безопасен. Адрес кошелька после отклонения остаётся использованным.
func (l *Ledger) RejectExternalTransfer(ctx context.Context, id int64, reason, actor string) (*ExternalTransfer, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}

	var et *ExternalTransfer
	err = l.store.InTx(ctx, func(tx Tx) error {
		var err error
		et, err = tx.LockExternalTransfer(ctx, id)
		if err != nil {
			return err
		}
		switch et.Status {
		case ExternalRejected:
			return nil
		case ExternalCompleted:
			return fmt.Errorf("%w: заявка #%d уже выполнена", common.ErrTransferProcessed, id)
		}

		now := l.now()
		et.Status = ExternalRejected
		et.Reason = reason
		et.ProcessedAt = &now
		if err := tx.UpdateExternalTransfer(ctx, et); err != nil {
			return err
		}
		return l.recordAction(ctx, tx, ActionRejectImport, "external_transfer:"+strconv.FormatInt(id, 10), reason, actor)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"transfer_id": id, "actor": actor, "reason": reason}).Info("Заявка на импорт отклонена")
	return et, nil
}

// ListExternalTransfers возвращает заявки по статусу (пустой — все).
func (l *Ledger) ListExternalTransfers(ctx context.Context, status ExternalStatus) ([]*ExternalTransfer, error) {
	switch status {
	case "", ExternalPending, ExternalCompleted, ExternalRejected:
	default:
		return nil, common.ErrInvalidStatus
	}

	var list []*ExternalTransfer
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		list, err = tx.ListExternalTransfers(ctx, status)
		return err
	})
	return list, err
}
