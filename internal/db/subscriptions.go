package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type SubscriptionRepo struct {
	db *gorm.DB
}

func NewSubscriptionRepo(db *gorm.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

// ExpiredRow подписка, отключённая DeactivateExpired.
type ExpiredRow struct {
	SubscriptionID uint
	UserID         uint
	UserUUID       string
	TgID           int64
}

// FindByToken загружает подписку вместе с владельцем.
func (r *SubscriptionRepo) FindByToken(ctx context.Context, token string) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).Preload("User").Where("token = ?", token).First(&sub).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// LatestForUser возвращает подписку с самым поздним сроком, даже истёкшую.
func (r *SubscriptionRepo) LatestForUser(ctx context.Context, userID uint) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).Preload("User").
		Where("user_id = ?", userID).
		Order("expires_at desc").Order("id desc").
		First(&sub).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (r *SubscriptionRepo) Create(ctx context.Context, sub *Subscription) error {
	sub.ExpiresAt = sub.ExpiresAt.UTC()
	return r.db.WithContext(ctx).Omit("User").Create(sub).Error
}

// Extend переносит срок, включает подписку и сбрасывает флаг напоминания.
func (r *SubscriptionRepo) Extend(ctx context.Context, sub *Subscription, expiresAt time.Time) error {
	expiresAt = expiresAt.UTC()
	err := r.db.WithContext(ctx).Model(&Subscription{}).Where("id = ?", sub.ID).
		Updates(map[string]interface{}{"expires_at": expiresAt, "is_active": true, "notified_expiring": false}).Error
	if err != nil {
		return err
	}
	sub.ExpiresAt = expiresAt
	sub.IsActive = true
	sub.NotifiedExpiring = false
	return nil
}

// DeactivateExpired одним UPDATE отключает активные подписки с expires_at < now
// и возвращает отключённые.
func (r *SubscriptionRepo) DeactivateExpired(ctx context.Context, now time.Time) ([]ExpiredRow, error) {
	now = now.UTC()
	var rows []ExpiredRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Table("subscriptions").
			Select("subscriptions.id AS subscription_id, subscriptions.user_id AS user_id, users.uuid AS user_uuid, users.tg_id AS tg_id").
			Joins("JOIN users ON users.id = subscriptions.user_id").
			Where("subscriptions.expires_at < ? AND subscriptions.is_active = ?", now, true).
			Order("subscriptions.id").
			Scan(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.SubscriptionID)
		}
		return tx.Model(&Subscription{}).Where("id IN ?", ids).Update("is_active", false).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ExpiringBetween возвращает активные подписки без напоминания,
// у которых from < expires_at <= to.
func (r *SubscriptionRepo) ExpiringBetween(ctx context.Context, from, to time.Time) ([]Subscription, error) {
	var subs []Subscription
	err := r.db.WithContext(ctx).Preload("User").
		Where("is_active = ? AND notified_expiring = ? AND expires_at > ? AND expires_at <= ?", true, false, from.UTC(), to.UTC()).
		Order("id").Find(&subs).Error
	return subs, err
}

func (r *SubscriptionRepo) MarkNotified(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&Subscription{}).Where("id = ?", id).Update("notified_expiring", true).Error
}

func (r *SubscriptionRepo) DeactivateForUser(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

func (r *SubscriptionRepo) CountActive(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("is_active = ? AND expires_at > ?", true, now.UTC()).Count(&count).Error
	return count, err
}
