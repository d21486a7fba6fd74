package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/logger"
	"vpn-subscription-backend/internal/xui"
)

type ExpiredStore interface {
	DeactivateExpired(ctx context.Context, now time.Time) ([]db.ExpiredRow, error)
}

type ClientDisabler interface {
	EnsureDisabled(ctx context.Context, clientUUID string) xui.Report
}

type ReaperObserver interface {
	ObserveReaperCycle(deactivated int, err error)
}

// ExpiryReaper отключает просроченные подписки и их клиентов в панели.
type ExpiryReaper struct {
	subs     ExpiredStore
	panel    ClientDisabler
	sender   logger.Sender
	notifier *logger.Notifier
	observer ReaperObserver
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
}

type ReaperOption func(*ExpiryReaper)

// WithUserNotices включает уведомление пользователя об окончании подписки.
func WithUserNotices(sender logger.Sender) ReaperOption {
	return func(r *ExpiryReaper) { r.sender = sender }
}

func WithAdminAlerts(n *logger.Notifier) ReaperOption {
	return func(r *ExpiryReaper) { r.notifier = n }
}

func WithReaperObserver(o ReaperObserver) ReaperOption {
	return func(r *ExpiryReaper) { r.observer = o }
}

func NewExpiryReaper(subs ExpiredStore, panel ClientDisabler, interval time.Duration, log *zap.Logger, opts ...ReaperOption) *ExpiryReaper {
	r := &ExpiryReaper{subs: subs, panel: panel, interval: interval, now: time.Now, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run выполняет один проход и возвращает отключённые подписки. Ошибки панели
// и Telegram логируются по каждой строке и не прерывают проход.
func (r *ExpiryReaper) Run(ctx context.Context) ([]db.ExpiredRow, error) {
	rows, err := r.subs.DeactivateExpired(ctx, r.now())
	if err != nil {
		r.log.Error("expiry sweep failed", zap.Error(err))
		if r.observer != nil {
			r.observer.ObserveReaperCycle(0, err)
		}
		return nil, err
	}
	if r.observer != nil {
		r.observer.ObserveReaperCycle(len(rows), nil)
	}
	if len(rows) == 0 {
		r.log.Debug("expiry sweep: nothing to deactivate")
		return rows, nil
	}
	r.log.Info("expiry sweep deactivated subscriptions", zap.Int("count", len(rows)))

	for _, row := range rows {
		if ctx.Err() != nil {
			r.log.Warn("expiry sweep interrupted", zap.Error(ctx.Err()))
			break
		}
		r.disable(ctx, row)
	}
	return rows, nil
}

func (r *ExpiryReaper) disable(ctx context.Context, row db.ExpiredRow) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic while disabling client",
				zap.Uint("subscription_id", row.SubscriptionID),
				zap.Any("panic", p))
		}
	}()

	if r.panel != nil {
		report := r.panel.EnsureDisabled(ctx, row.UserUUID)
		if !report.OK() {
			r.log.Warn("panel client not fully disabled",
				zap.Uint("subscription_id", row.SubscriptionID),
				zap.Uint("user_id", row.UserID),
				zap.Int("failed_inbounds", report.Failed()),
				zap.Error(report.Err))
		}
	}
	if r.sender != nil && row.TgID != 0 {
		msg := tgbotapi.NewMessage(row.TgID, "Ваша подписка завершена. Для продления обратитесь к администратору.")
		if _, err := r.sender.Send(msg); err != nil {
			r.log.Warn("expiry notice not delivered", zap.Int64("tg_id", row.TgID), zap.Error(err))
		}
	}
}

// RunSafe обёртка Run для планировщика: не паникует и не возвращает ошибку.
func (r *ExpiryReaper) RunSafe(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("expiry sweep panicked", zap.Any("panic", p))
			if r.observer != nil {
				r.observer.ObserveReaperCycle(0, fmt.Errorf("panic: %v", p))
			}
			r.notifier.NotifyAdmin(fmt.Sprintf("expiry sweep panicked: %v", p))
		}
	}()
	if _, err := r.Run(ctx); err != nil {
		r.notifier.NotifyAdmin(fmt.Sprintf("expiry sweep failed: %v", err))
	}
}

// Schedule регистрирует проход в c с настроенным интервалом.
func (r *ExpiryReaper) Schedule(ctx context.Context, c *cron.Cron) (cron.EntryID, error) {
	return c.AddFunc(fmt.Sprintf("@every %s", r.interval), func() { r.RunSafe(ctx) })
}
