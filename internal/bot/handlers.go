package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"vpn-subscription-backend/internal/subscription"
)

const helpText = `Доступные команды:
/status — Статус подписки и ссылка
/help — Показать эту справку

Ссылку подписки добавьте в клиент (v2rayNG, Hiddify, Streisand и др.) как подписку.`

const adminHelpText = `

Команды администратора:
/grant <tg_id> [дней] — Выдать или продлить подписку
/revoke <tg_id> — Отключить подписку
/ban <tg_id> — Заблокировать пользователя
/servers — Статус серверов
/stats — Статистика
/backup — Резервная копия БД`

// HandleUpdate отвечает на одно обновление. Обрабатываются только текстовые команды.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	cmd, args := parseCommand(msg.Text)
	if cmd == "" {
		return
	}
	userID := msg.From.ID
	isAdmin := b.isAdmin(userID)

	if b.limiter != nil && b.limiter.IsLimited(ctx, userID, "/"+cmd) {
		b.reply(msg.Chat.ID, "Пожалуйста, не так быстро! Подождите пару секунд...", isAdmin)
		return
	}

	if b.admin != nil && b.admin.Known(cmd) {
		if !isAdmin {
			b.log.Warn("admin command from non-admin", zap.Int64("tg_id", userID), zap.String("command", cmd))
			b.reply(msg.Chat.ID, "Команда доступна только администраторам.", false)
			return
		}
		b.reply(msg.Chat.ID, b.admin.Handle(ctx, userID, cmd, args), true)
		return
	}

	switch cmd {
	case "start":
		m := tgbotapi.NewMessage(msg.Chat.ID, "Добро пожаловать! Узнать статус подписки: /status")
		if b.webAppURL != "" {
			m.ReplyMarkup = openAppKeyboard(b.webAppURL)
		} else {
			m.ReplyMarkup = ReplyKeyboard(isAdmin)
		}
		b.send(m)
	case "help":
		text := helpText
		if isAdmin {
			text += adminHelpText
		}
		b.reply(msg.Chat.ID, text, isAdmin)
	case "status":
		b.reply(msg.Chat.ID, b.statusText(ctx, userID), isAdmin)
	default:
		b.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help для списка всех возможностей.", isAdmin)
	}
}

func (b *Bot) statusText(ctx context.Context, tgID int64) string {
	summary, err := b.status.SummaryByTgID(ctx, tgID)
	if err != nil {
		b.log.Error("status lookup failed", zap.Int64("tg_id", tgID), zap.Error(err))
		return "Не удалось получить статус подписки. Попробуйте позже."
	}
	return FormatSummary(summary)
}

// FormatSummary форматирует статус подписки для сообщения в чат.
func FormatSummary(s subscription.Summary) string {
	var sb strings.Builder
	switch s.Status {
	case subscription.StatusNone:
		sb.WriteString("У вас нет подписки. Обратитесь к администратору.")
		return sb.String()
	case subscription.StatusActive:
		sb.WriteString("Подписка активна.")
	case subscription.StatusExpired:
		sb.WriteString("Подписка истекла.")
	case subscription.StatusBlocked:
		sb.WriteString("Подписка отключена.")
	}
	if s.ExpiresAt != nil {
		sb.WriteString("\nДействует до: " + *s.ExpiresAt)
	}
	if s.Status == subscription.StatusActive && s.ExpiresInDays != nil {
		sb.WriteString(fmt.Sprintf("\nОсталось дней: %d", *s.ExpiresInDays))
	}
	if s.Status == subscription.StatusActive && s.SubURL != nil {
		sb.WriteString("\nСсылка подписки: " + *s.SubURL)
	}
	sb.WriteString(fmt.Sprintf("\nСерверов доступно: %d", s.ServersCount))
	return sb.String()
}

// parseCommand разбивает "/cmd@bot args" на ("cmd", "args").
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, args, _ := strings.Cut(text, " ")
	cmd := strings.TrimPrefix(head, "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func (b *Bot) reply(chatID int64, text string, isAdmin bool) {
	m := tgbotapi.NewMessage(chatID, text)
	m.ReplyMarkup = ReplyKeyboard(isAdmin)
	b.send(m)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.sender.Send(c); err != nil {
		b.log.Warn("telegram send failed", zap.Error(err))
	}
}
