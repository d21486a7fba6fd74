package logger

import (
	"fmt"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender часть tgbotapi.BotAPI, нужная для отправки сообщений.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier отправляет критические уведомления админам. Nil Notifier или
// Notifier без sender только логирует.
type Notifier struct {
	sender Sender
	admins []int64
	log    *zap.Logger
}

func NewNotifier(sender Sender, admins []int64, log *zap.Logger) *Notifier {
	return &Notifier{sender: sender, admins: admins, log: log}
}

// NotifyAdmin отправляет уведомление всем админам.
func (n *Notifier) NotifyAdmin(msg string) {
	if n == nil || n.sender == nil {
		return
	}
	for _, id := range n.admins {
		if _, err := n.sender.Send(tgbotapi.NewMessage(id, "[ALERT] "+msg)); err != nil {
			n.log.Warn("admin alert not delivered", zap.Int64("admin_id", id), zap.Error(err))
		}
	}
}

// Recover вызывается через defer: перехватывает панику, логирует и уведомляет админов.
func (n *Notifier) Recover(context string) {
	r := recover()
	if r == nil {
		return
	}
	msg := fmt.Sprintf("panic in %s: %v", context, r)
	if n != nil && n.log != nil {
		n.log.Error("recovered panic", zap.String("context", context), zap.Any("panic", r))
	}
	n.NotifyAdmin(msg)
}
