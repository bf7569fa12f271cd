// Package notify отправляет уведомления администраторам в Telegram:
// новые заявки на импорт ALTYN, результаты распределения дивидендов,
// нарушения инвариантов леджера.
package notify

import (
	"context"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
)

// Notifier рассылает сообщения админам.
type Notifier interface {
	NotifyAdmins(ctx context.Context, text string)
}

// Nop ничего не отправляет. Используется, если бот не настроен.
type Nop struct{}

// NotifyAdmins ничего не делает.
func (Nop) NotifyAdmins(context.Context, string) {}

// Telegram рассылает сообщения в чаты админов через Bot API.
type Telegram struct {
	bot     *telego.Bot
	chatIDs []int64
}

// New создаёт уведомитель. Без токена или без чатов возвращает Nop.
func New(token string, chatIDs []int64) (Notifier, error) {
	if token == "" || len(chatIDs) == 0 {
		log.Info("Telegram-уведомления отключены")
		return Nop{}, nil
	}
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot, chatIDs: chatIDs}, nil
}

// NotifyAdmins отправляет text в каждый чат. Ошибки отправки только
// логируются: уведомление не должно ронять операцию леджера.
func (t *Telegram) NotifyAdmins(ctx context.Context, text string) {
	for _, id := range t.chatIDs {
		if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(id), text)); err != nil {
			log.WithError(err).WithField("chat_id", id).Warn("Не удалось отправить уведомление админу")
		}
	}
}
