// Package bot Telegram-бот: статус подписки для пользователей и команды для админов.
package bot

import (
	"context"
	"sync"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"vpn-subscription-backend/internal/admin"
	"vpn-subscription-backend/internal/logger"
	"vpn-subscription-backend/internal/ratelimit"
	"vpn-subscription-backend/internal/subscription"
)

type StatusSource interface {
	SummaryByTgID(ctx context.Context, tgID int64) (subscription.Summary, error)
}

// Updates часть tgbotapi.BotAPI для long polling.
type Updates interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	sender    logger.Sender
	status    StatusSource
	admin     *admin.Commands
	limiter   *ratelimit.Commands
	isAdmin   func(int64) bool
	webAppURL string
	notifier  *logger.Notifier
	log       *zap.Logger
}

type Deps struct {
	Sender    logger.Sender
	Status    StatusSource
	Admin     *admin.Commands
	Limiter   *ratelimit.Commands
	IsAdmin   func(int64) bool
	WebAppURL string
	Notifier  *logger.Notifier
	Log       *zap.Logger
}

func New(d Deps) *Bot {
	isAdmin := d.IsAdmin
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}
	return &Bot{
		sender:    d.Sender,
		status:    d.Status,
		admin:     d.Admin,
		limiter:   d.Limiter,
		isAdmin:   isAdmin,
		webAppURL: d.WebAppURL,
		notifier:  d.Notifier,
		log:       d.Log,
	}
}

// Run получает обновления до отмены ctx. Каждое обновление обрабатывается
// в своей горутине, перед выходом Run дожидается их завершения.
func (b *Bot) Run(ctx context.Context, source Updates) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := source.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			source.StopReceivingUpdates()
			b.log.Info("telegram bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer b.notifier.Recover("bot update")
				b.HandleUpdate(ctx, update)
			}()
		}
	}
}
