// Package altyn — одноразовый импорт ALTYN TOKEN с внешнего кошелька.
// service.go сверяет баланс кошелька у оракула и передаёт заявку леджеру.
package altyn

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/ledger"
	"serotonyl.ru/altyn-ledger/internal/notify"
)

// Verifier сообщает проверенный баланс внешнего кошелька.
type Verifier interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Verification — результат проверки кошелька.
type Verification struct {
	WalletAddress string          `json:"wallet_address"`
	Balance       decimal.Decimal `json:"balance"`
	AlreadyUsed   bool            `json:"already_used"`
	CanImport     bool            `json:"can_import"`
}

// Service связывает оракул, леджер и уведомления админам.
type Service struct {
	ledger   *ledger.Ledger
	verifier Verifier
	notifier notify.Notifier
}

// NewService создаёт сервис импорта.
func NewService(l *ledger.Ledger, verifier Verifier, notifier notify.Notifier) *Service {
	return &Service{ledger: l, verifier: verifier, notifier: notifier}
}

// VerifyWallet проверяет адрес: формат, прошлое использование и баланс.
// Запрос к оракулу идёт вне единицы работы леджера.
func (s *Service) VerifyWallet(ctx context.Context, address string) (*Verification, error) {
	address, err := ledger.NormalizeWallet(address)
	if err != nil {
		return nil, err
	}
	used, err := s.ledger.WalletUsed(ctx, address)
	if err != nil {
		return nil, err
	}
	v := &Verification{WalletAddress: address, Balance: decimal.Zero, AlreadyUsed: used}
	if used {
		return v, nil
	}

	balance, err := s.verifier.Balance(ctx, address)
	if err != nil {
		return nil, err
	}
	v.Balance = balance.Truncate(ledger.TokenPlaces)
	v.CanImport = v.Balance.IsPositive()
	return v, nil
}

// Submit подаёт заявку на импорт. Сумма берётся у оракула, не у клиента.
func (s *Service) Submit(ctx context.Context, userID int64, address string) (*ledger.ExternalTransfer, error) {
	v, err := s.VerifyWallet(ctx, address)
	if err != nil {
		return nil, err
	}
	if v.AlreadyUsed {
		return nil, common.ErrWalletAlreadyUsed
	}

	et, err := s.ledger.SubmitExternalTransfer(ctx, userID, v.WalletAddress, v.Balance)
	if err != nil {
		return nil, err
	}

	if et.Status == ledger.ExternalPending {
		s.notifier.NotifyAdmins(ctx, fmt.Sprintf(
			"Новая заявка на импорт ALTYN #%d: пользователь %d, кошелёк %s, %s AT",
			et.ID, et.UserID, et.WalletAddress, common.FormatNumber(et.Amount, ledger.TokenPlaces)))
	}
	log.WithFields(log.Fields{
		"transfer_id": et.ID,
		"user_id":     userID,
		"status":      et.Status,
	}).Debug("Заявка на импорт обработана")
	return et, nil
}

// Approve одобряет заявку.
func (s *Service) Approve(ctx context.Context, id int64, actor string) (*ledger.ExternalTransfer, error) {
	return s.ledger.ApproveExternalTransfer(ctx, id, actor)
}

// Reject отклоняет заявку.
func (s *Service) Reject(ctx context.Context, id int64, reason, actor string) (*ledger.ExternalTransfer, error) {
	return s.ledger.RejectExternalTransfer(ctx, id, reason, actor)
}

// List возвращает заявки по статусу.
func (s *Service) List(ctx context.Context, status ledger.ExternalStatus) ([]*ledger.ExternalTransfer, error) {
	return s.ledger.ListExternalTransfers(ctx, status)
}
