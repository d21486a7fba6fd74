// Package admin содержит инструменты администратора: команды бота и бэкапы БД.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/logger"
	"vpn-subscription-backend/internal/services"
	"vpn-subscription-backend/internal/subscription"
)

type Lifecycle interface {
	CreateOrExtend(ctx context.Context, tgID int64, days int) (*db.Subscription, error)
	Revoke(ctx context.Context, tgID int64) (int64, error)
	Ban(ctx context.Context, tgID int64) error
}

type UserCounter interface {
	Count(ctx context.Context) (int64, error)
}

type ActiveCounter interface {
	CountActive(ctx context.Context, now time.Time) (int64, error)
}

type StatusBoard interface {
	Statuses() []services.ServerStatus
}

type Backuper interface {
	Run(ctx context.Context) (string, error)
}

// Commands обрабатывает команды администратора. Каждый метод возвращает текст ответа.
type Commands struct {
	lifecycle   Lifecycle
	users       UserCounter
	subs        ActiveCounter
	board       StatusBoard
	backup      Backuper
	defaultDays int
	baseSubURL  string
	log         *zap.Logger
}

func NewCommands(lifecycle Lifecycle, users UserCounter, subs ActiveCounter, board StatusBoard, backup Backuper, defaultDays int, baseSubURL string, log *zap.Logger) *Commands {
	return &Commands{
		lifecycle:   lifecycle,
		users:       users,
		subs:        subs,
		board:       board,
		backup:      backup,
		defaultDays: defaultDays,
		baseSubURL:  baseSubURL,
		log:         log,
	}
}

// Known проверяет, является ли cmd командой администратора.
func (a *Commands) Known(cmd string) bool {
	switch cmd {
	case "grant", "revoke", "ban", "servers", "backup", "stats":
		return true
	}
	return false
}

func (a *Commands) Handle(ctx context.Context, adminID int64, cmd, args string) string {
	logger.LogAdminAction(a.log, adminID, cmd, args)
	switch cmd {
	case "grant":
		return a.grant(ctx, strings.Fields(args))
	case "revoke":
		return a.revoke(ctx, strings.Fields(args))
	case "ban":
		return a.ban(ctx, strings.Fields(args))
	case "servers":
		return a.servers()
	case "backup":
		return a.runBackup(ctx)
	case "stats":
		return a.stats(ctx)
	}
	return "Неизвестная команда администратора."
}

func (a *Commands) grant(ctx context.Context, args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return "Использование: /grant <tg_id> [дней]"
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Некорректный tg_id."
	}
	days := a.defaultDays
	if len(args) == 2 {
		days, err = strconv.Atoi(args[1])
		if err != nil || days <= 0 {
			return "Количество дней должно быть положительным числом."
		}
	}
	sub, err := a.lifecycle.CreateOrExtend(ctx, tgID, days)
	if errors.Is(err, subscription.ErrIdentityBlocked) {
		return "Пользователь заблокирован, выдача подписки невозможна."
	}
	if err != nil {
		a.log.Error("grant failed", zap.Int64("tg_id", tgID), zap.Error(err))
		return "Ошибка выдачи подписки: " + err.Error()
	}
	return fmt.Sprintf("Подписка пользователя %d действует до %s (UTC).\nСсылка: %s",
		tgID, sub.ExpiresAt.UTC().Format("02.01.2006 15:04"), subscription.SubURL(a.baseSubURL, sub.Token))
}

func (a *Commands) revoke(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Использование: /revoke <tg_id>"
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Некорректный tg_id."
	}
	n, err := a.lifecycle.Revoke(ctx, tgID)
	if errors.Is(err, db.ErrNotFound) {
		return "Пользователь не найден."
	}
	if err != nil {
		a.log.Error("revoke failed", zap.Int64("tg_id", tgID), zap.Error(err))
		return "Ошибка отзыва подписки: " + err.Error()
	}
	return fmt.Sprintf("Отключено подписок: %d.", n)
}

func (a *Commands) ban(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Использование: /ban <tg_id>"
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Некорректный tg_id."
	}
	err = a.lifecycle.Ban(ctx, tgID)
	if errors.Is(err, db.ErrNotFound) {
		return "Пользователь не найден."
	}
	if err != nil {
		a.log.Error("ban failed", zap.Int64("tg_id", tgID), zap.Error(err))
		return "Ошибка блокировки пользователя: " + err.Error()
	}
	return fmt.Sprintf("Пользователь %d заблокирован.", tgID)
}

func (a *Commands) servers() string {
	if a.board == nil {
		return "Мониторинг серверов отключён."
	}
	statuses := a.board.Statuses()
	if len(statuses) == 0 {
		return "Нет данных о серверах."
	}
	var sb strings.Builder
	sb.WriteString("Статус серверов:\n")
	for _, s := range statuses {
		state := "offline"
		if s.Online {
			state = "online"
		}
		sb.WriteString(fmt.Sprintf("%s (%s): %s, проверен %s\n", s.Label, s.Address, state, s.LastChecked.Format("02.01 15:04")))
	}
	return sb.String()
}

func (a *Commands) runBackup(ctx context.Context) string {
	if a.backup == nil {
		return "Резервное копирование не настроено."
	}
	file, err := a.backup.Run(ctx)
	if err != nil {
		a.log.Error("manual backup failed", zap.Error(err))
		return "Ошибка резервного копирования: " + err.Error()
	}
	return "Резервная копия создана: " + file
}

func (a *Commands) stats(ctx context.Context) string {
	users, err := a.users.Count(ctx)
	if err != nil {
		return "Ошибка получения статистики: " + err.Error()
	}
	active, err := a.subs.CountActive(ctx, time.Now())
	if err != nil {
		return "Ошибка получения статистики: " + err.Error()
	}
	return fmt.Sprintf("Пользователей: %d\nАктивных подписок: %d", users, active)
}
