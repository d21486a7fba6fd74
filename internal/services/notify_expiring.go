package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/logger"
)

type ExpiringStore interface {
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]db.Subscription, error)
	MarkNotified(ctx context.Context, id uint) error
}

// ExpiringNotifier напоминает пользователям, у которых подписка заканчивается
// в ближайшие daysBefore дней. Одно напоминание на каждое продление.
type ExpiringNotifier struct {
	subs       ExpiringStore
	sender     logger.Sender
	notifier   *logger.Notifier
	daysBefore int
	now        func() time.Time
	log        *zap.Logger
}

func NewExpiringNotifier(subs ExpiringStore, sender logger.Sender, notifier *logger.Notifier, daysBefore int, log *zap.Logger) *ExpiringNotifier {
	return &ExpiringNotifier{subs: subs, sender: sender, notifier: notifier, daysBefore: daysBefore, now: time.Now, log: log}
}

// Run возвращает число отправленных напоминаний.
func (n *ExpiringNotifier) Run(ctx context.Context) (int, error) {
	if n.daysBefore <= 0 || n.sender == nil {
		return 0, nil
	}
	now := n.now()
	subs, err := n.subs.ExpiringBetween(ctx, now, now.Add(time.Duration(n.daysBefore)*24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("expiring subscriptions: %w", err)
	}
	sent := 0
	for _, sub := range subs {
		if sub.User == nil || !sub.User.IsActive {
			continue
		}
		text := fmt.Sprintf("Ваша подписка истекает %s (UTC). Продлить: /status", sub.ExpiresAt.UTC().Format("02.01.2006 15:04"))
		if _, err := n.sender.Send(tgbotapi.NewMessage(sub.User.TgID, text)); err != nil {
			n.log.Warn("expiring reminder not delivered", zap.Int64("tg_id", sub.User.TgID), zap.Error(err))
			n.notifier.NotifyAdmin(fmt.Sprintf("failed to remind user %d: %v", sub.User.TgID, err))
			continue
		}
		if err := n.subs.MarkNotified(ctx, sub.ID); err != nil {
			n.log.Error("failed to mark subscription reminded", zap.Uint("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		n.log.Info("expiring reminders sent", zap.Int("count", sent))
	}
	return sent, nil
}

func (n *ExpiringNotifier) RunSafe(ctx context.Context) {
	defer n.notifier.Recover("expiring notifier")
	if _, err := n.Run(ctx); err != nil {
		n.log.Error("expiring notifier failed", zap.Error(err))
	}
}
