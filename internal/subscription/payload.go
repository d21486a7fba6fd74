package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/logger"
	"vpn-subscription-backend/internal/vless"
)

var (
	ErrSubscriptionUnavailable = errors.New("subscription unavailable")
	ErrNoActiveServers         = errors.New("no active servers")
)

// Assembler собирает содержимое публичной ссылки подписки по токену.
type Assembler struct {
	subs    SubscriptionStore
	servers ServerStore
	now     func() time.Time
	log     *zap.Logger
}

func NewAssembler(subs SubscriptionStore, servers ServerStore, log *zap.Logger) *Assembler {
	return &Assembler{subs: subs, servers: servers, now: time.Now, log: log}
}

// Build возвращает по ссылке на каждый включённый сервер через перевод строки.
// Любая ошибка сборки ссылки прерывает весь ответ.
func (a *Assembler) Build(ctx context.Context, token string) (string, error) {
	prefix := logger.TokenPrefix(token)

	sub, err := a.subs.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			a.log.Warn("subscription not found", zap.String("token_prefix", prefix))
			return "", ErrSubscriptionUnavailable
		}
		return "", fmt.Errorf("find subscription: %w", err)
	}
	if status := Evaluate(sub, a.now()); status != StatusActive {
		a.log.Warn("subscription unavailable",
			zap.String("token_prefix", prefix),
			zap.Uint("subscription_id", sub.ID),
			zap.String("status", string(status)))
		return "", ErrSubscriptionUnavailable
	}

	servers, err := a.servers.ListEnabled(ctx)
	if err != nil {
		return "", fmt.Errorf("list servers: %w", err)
	}
	if len(servers) == 0 {
		a.log.Error("no active servers for subscription",
			zap.String("token_prefix", prefix),
			zap.Uint("subscription_id", sub.ID))
		return "", ErrNoActiveServers
	}

	lines := make([]string, 0, len(servers))
	for _, server := range servers {
		uri, err := vless.BuildURI(server, sub.User.UUID)
		if err != nil {
			fields := []zap.Field{
				zap.String("token_prefix", prefix),
				zap.Uint("subscription_id", sub.ID),
				zap.Uint("server_id", server.ID),
				zap.Error(err),
			}
			var missing *vless.MissingFieldError
			if errors.As(err, &missing) {
				fields = append(fields, zap.Strings("missing_fields", missing.Fields))
			}
			a.log.Error("failed to build server uri", fields...)
			return "", err
		}
		lines = append(lines, uri)
	}
	return strings.Join(lines, "\n"), nil
}
