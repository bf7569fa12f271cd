// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: аудит инвариантов леджера и,
// если задано, автоматическое распределение дивидендов.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
	"serotonyl.ru/altyn-ledger/internal/ledger"
	"serotonyl.ru/altyn-ledger/internal/notify"
)

// Ledger — операции леджера, которые запускает планировщик.
type Ledger interface {
	DistributeDividends(ctx context.Context, reason, actor string) (*ledger.DistributionReport, error)
	Audit(ctx context.Context) (*ledger.AuditReport, error)
}

// Actor, от имени которого планировщик пишет аудит.
const Actor = "scheduler"

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron             *cron.Cron
	ledger           Ledger
	notifier         notify.Notifier
	loc              *time.Location
	dividendSchedule string
	auditSchedule    string
}

// NewScheduler создаёт планировщик задач в часовом поясе loc.
// Пустое расписание отключает соответствующую задачу.
func NewScheduler(l Ledger, notifier notify.Notifier, loc *time.Location, dividendSchedule, auditSchedule string) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:             cron.New(cron.WithLocation(loc)),
		ledger:           l,
		notifier:         notifier,
		loc:              loc,
		dividendSchedule: strings.TrimSpace(dividendSchedule),
		auditSchedule:    strings.TrimSpace(auditSchedule),
	}
}

// Start регистрирует задачи и запускает cron.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.dividendSchedule != "" {
		if _, err := s.cron.AddFunc(s.dividendSchedule, func() { s.RunDividends(ctx) }); err != nil {
			return fmt.Errorf("DIVIDEND_SCHEDULE: %w", err)
		}
	}
	if s.auditSchedule != "" {
		if _, err := s.cron.AddFunc(s.auditSchedule, func() { s.RunAudit(ctx) }); err != nil {
			return fmt.Errorf("AUDIT_SCHEDULE: %w", err)
		}
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"dividends": s.dividendSchedule,
		"audit":     s.auditSchedule,
	}).Info("Планировщик задач запущен")
	return nil
}

// RunDividends распределяет дивиденды. Пустое казначейство не ошибка.
func (s *Scheduler) RunDividends(ctx context.Context) {
	log.Info("[CRON] Распределение дивидендов")
	report, err := s.ledger.DistributeDividends(ctx, "распределение по расписанию", Actor)
	if errors.Is(err, common.ErrNothingToDistribute) {
		log.Debug("[CRON] Комиссий для распределения нет")
		return
	}
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка распределения дивидендов")
		return
	}
	s.notifier.NotifyAdmins(ctx, fmt.Sprintf("Дивиденды распределены %s: %s AC между %d держателями",
		common.FormatDateTime(report.DistributedAt, s.loc), common.FormatNumber(report.Distributed, 2), len(report.Payouts)))
}

// RunAudit проверяет инварианты и сообщает админам о нарушениях.
func (s *Scheduler) RunAudit(ctx context.Context) {
	log.Debug("[CRON] Аудит леджера")
	report, err := s.ledger.Audit(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка аудита")
		return
	}
	if report.OK() {
		return
	}
	s.notifier.NotifyAdmins(ctx, fmt.Sprintf("Аудит леджера %s нашёл нарушения:\n%s",
		common.FormatDateTime(report.CheckedAt, s.loc), strings.Join(report.Problems, "\n")))
}

// Stop останавливает планировщик и ждёт выполняющиеся задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
