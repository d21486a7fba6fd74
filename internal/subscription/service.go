package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/xui"
)

var (
	ErrInvalidDays     = errors.New("days must be positive")
	ErrIdentityBlocked = errors.New("identity is deactivated")
)

type UserStore interface {
	FindByTgID(ctx context.Context, tgID int64) (*db.User, error)
	Ensure(ctx context.Context, tgID int64) (*db.User, bool, error)
	SetActive(ctx context.Context, userID uint, active bool) error
}

type SubscriptionStore interface {
	FindByToken(ctx context.Context, token string) (*db.Subscription, error)
	LatestForUser(ctx context.Context, userID uint) (*db.Subscription, error)
	Create(ctx context.Context, sub *db.Subscription) error
	Extend(ctx context.Context, sub *db.Subscription, expiresAt time.Time) error
	DeactivateForUser(ctx context.Context, userID uint) (int64, error)
}

type ServerStore interface {
	ListEnabled(ctx context.Context) ([]db.Server, error)
	CountEnabled(ctx context.Context) (int64, error)
}

// Panel передаёт состояние клиента в VPN-панель. Реализуется *xui.Sync.
type Panel interface {
	EnsureEnabled(ctx context.Context, clientUUID string) xui.Report
	EnsureDisabled(ctx context.Context, clientUUID string) xui.Report
	Remove(ctx context.Context, clientUUID string) xui.Report
}

// Service управляет подписками: статус, выдача и продление, отзыв.
type Service struct {
	users      UserStore
	subs       SubscriptionStore
	servers    ServerStore
	panel      Panel
	baseSubURL string
	now        func() time.Time
	log        *zap.Logger
}

func NewService(users UserStore, subs SubscriptionStore, servers ServerStore, panel Panel, baseSubURL string, log *zap.Logger) *Service {
	return &Service{
		users:      users,
		subs:       subs,
		servers:    servers,
		panel:      panel,
		baseSubURL: baseSubURL,
		now:        time.Now,
		log:        log,
	}
}

// SummaryForUser описывает последнюю подписку пользователя.
func (s *Service) SummaryForUser(ctx context.Context, user *db.User) (Summary, error) {
	count, err := s.servers.CountEnabled(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("count servers: %w", err)
	}
	sub, err := s.subs.LatestForUser(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return Summary{}, fmt.Errorf("latest subscription: %w", err)
		}
		sub = nil
	}
	if sub != nil && sub.User == nil {
		sub.User = user
	}
	return Describe(sub, s.now(), s.baseSubURL, count), nil
}

// SummaryByTgID то же, что SummaryForUser, по Telegram id. Для неизвестного id
// возвращается статус none, пользователь не создаётся.
func (s *Service) SummaryByTgID(ctx context.Context, tgID int64) (Summary, error) {
	user, err := s.users.FindByTgID(ctx, tgID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return Summary{}, err
		}
		count, err := s.servers.CountEnabled(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("count servers: %w", err)
		}
		return Describe(nil, s.now(), s.baseSubURL, count), nil
	}
	return s.SummaryForUser(ctx, user)
}

// CreateOrExtend создаёт подписку для tgID или продлевает последнюю на days дней.
// Продление считается от большего из now и текущего срока. Клиент в панели
// включается без гарантии. Заблокированному пользователю подписка не выдаётся.
func (s *Service) CreateOrExtend(ctx context.Context, tgID int64, days int) (*db.Subscription, error) {
	if days <= 0 {
		return nil, ErrInvalidDays
	}
	user, _, err := s.users.Ensure(ctx, tgID)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if !user.IsActive {
		s.log.Warn("grant rejected for deactivated user", zap.Int64("tg_id", tgID))
		return nil, ErrIdentityBlocked
	}
	now := s.now().UTC()
	period := time.Duration(days) * day

	sub, err := s.subs.LatestForUser(ctx, user.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		token, err := GenerateToken()
		if err != nil {
			return nil, err
		}
		sub = &db.Subscription{UserID: user.ID, Token: token, ExpiresAt: now.Add(period), IsActive: true}
		if err := s.subs.Create(ctx, sub); err != nil {
			return nil, fmt.Errorf("create subscription: %w", err)
		}
		s.log.Info("subscription created",
			zap.Int64("tg_id", tgID),
			zap.Uint("subscription_id", sub.ID),
			zap.Time("expires_at", sub.ExpiresAt))
	case err != nil:
		return nil, fmt.Errorf("latest subscription: %w", err)
	default:
		base := now
		if sub.ExpiresAt.After(base) {
			base = sub.ExpiresAt.UTC()
		}
		if err := s.subs.Extend(ctx, sub, base.Add(period)); err != nil {
			return nil, fmt.Errorf("extend subscription: %w", err)
		}
		s.log.Info("subscription extended",
			zap.Int64("tg_id", tgID),
			zap.Uint("subscription_id", sub.ID),
			zap.Time("expires_at", sub.ExpiresAt))
	}
	sub.User = user

	if s.panel != nil {
		s.panel.EnsureEnabled(ctx, user.UUID)
	}
	return sub, nil
}

// Revoke отключает все активные подписки tgID и клиента в панели.
// Возвращает число отключённых подписок.
func (s *Service) Revoke(ctx context.Context, tgID int64) (int64, error) {
	user, err := s.users.FindByTgID(ctx, tgID)
	if err != nil {
		return 0, err
	}
	n, err := s.subs.DeactivateForUser(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("deactivate subscriptions: %w", err)
	}
	s.log.Info("subscriptions revoked", zap.Int64("tg_id", tgID), zap.Int64("count", n))
	if s.panel != nil {
		s.panel.EnsureDisabled(ctx, user.UUID)
	}
	return n, nil
}

// Ban отключает пользователя и все его подписки и удаляет клиента со всех
// инбаундов панели. Записи в БД сохраняются.
func (s *Service) Ban(ctx context.Context, tgID int64) error {
	user, err := s.users.FindByTgID(ctx, tgID)
	if err != nil {
		return err
	}
	if err := s.users.SetActive(ctx, user.ID, false); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	n, err := s.subs.DeactivateForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("deactivate subscriptions: %w", err)
	}
	s.log.Info("user banned", zap.Int64("tg_id", tgID), zap.Uint("user_id", user.ID), zap.Int64("subscriptions", n))
	if s.panel != nil {
		if report := s.panel.Remove(ctx, user.UUID); !report.OK() {
			s.log.Warn("panel client not fully removed", zap.Int64("tg_id", tgID), zap.Int("failed", report.Failed()))
		}
	}
	return nil
}
