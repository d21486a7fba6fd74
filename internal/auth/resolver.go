package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"vpn-subscription-backend/internal/db"
)

// Users хранилище пользователей, которое читает и пишет Resolver.
type Users interface {
	Ensure(ctx context.Context, tgID int64) (*db.User, bool, error)
	EnsureAdminRole(ctx context.Context, user *db.User) error
}

// Result результат успешной авторизации.
type Result struct {
	User db.User
	Role string
}

type Resolver struct {
	botToken string
	admins   map[int64]struct{}
	users    Users
	log      *zap.Logger
}

func NewResolver(botToken string, adminIDs []int64, users Users, log *zap.Logger) *Resolver {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Resolver{botToken: botToken, admins: admins, users: users, log: log}
}

// Authenticate проверяет initData, находит или создаёт пользователя и определяет роль.
// Назначение роли admin пишет в БД.
func (r *Resolver) Authenticate(ctx context.Context, initData string) (*Result, error) {
	fields, err := VerifyInitData(initData, r.botToken)
	if err != nil {
		return nil, err
	}
	tgID, err := ExtractTgID(fields)
	if err != nil {
		return nil, err
	}

	user, created, err := r.users.Ensure(ctx, tgID)
	if err != nil {
		return nil, fmt.Errorf("ensure user %d: %w", tgID, err)
	}
	if created {
		r.log.Info("user created", zap.Int64("tg_id", tgID), zap.Uint("user_id", user.ID))
	}
	if !user.IsActive {
		return nil, &AuthError{Reason: ReasonDeactivated}
	}

	role, err := r.ensureRole(ctx, user)
	if err != nil {
		return nil, err
	}
	return &Result{User: *user, Role: role}, nil
}

// ensureRole повышает пользователей из списка до admin и возвращает итоговую роль.
func (r *Resolver) ensureRole(ctx context.Context, user *db.User) (string, error) {
	_, allowlisted := r.admins[user.TgID]
	if !allowlisted && user.Role != db.RoleAdmin {
		return db.RoleUser, nil
	}
	if err := r.users.EnsureAdminRole(ctx, user); err != nil {
		return "", fmt.Errorf("ensure admin role for %d: %w", user.TgID, err)
	}
	return db.RoleAdmin, nil
}

// ExtractTgID достаёт user.id из проверенных полей init data.
func ExtractTgID(fields map[string]string) (int64, error) {
	raw, ok := fields["user"]
	if !ok || raw == "" {
		return 0, &AuthError{Reason: ReasonMissingUser}
	}
	var payload struct {
		ID *json.Number `json:"id"`
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return 0, &AuthError{Reason: ReasonMalformedUser}
	}
	if payload.ID == nil {
		return 0, &AuthError{Reason: ReasonMissingID}
	}
	id, err := payload.ID.Int64()
	if err != nil {
		return 0, &AuthError{Reason: ReasonMissingID}
	}
	return id, nil
}

// IsAuthError проверяет, что err это AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
