package subscription

import (
	"time"

	"vpn-subscription-backend/internal/db"
)

type Status string

const (
	StatusNone    Status = "none"
	StatusBlocked Status = "blocked"
	StatusExpired Status = "expired"
	StatusActive  Status = "active"
)

const day = 24 * time.Hour

// Evaluate вычисляет статус sub на момент now. Порядок проверок: владелец
// отключён, подписка отключена, срок истёк.
func Evaluate(sub *db.Subscription, now time.Time) Status {
	if sub == nil {
		return StatusNone
	}
	if sub.User == nil || !sub.User.IsActive {
		return StatusBlocked
	}
	if !sub.IsActive {
		return StatusBlocked
	}
	if IsExpired(sub.ExpiresAt, now) {
		return StatusExpired
	}
	return StatusActive
}

// IsExpired проверяет expiresAt <= now. Сравнение в UTC.
func IsExpired(expiresAt, now time.Time) bool {
	return !expiresAt.UTC().After(now.UTC())
}

// ExpiresInDays число оставшихся полных дней, не меньше нуля.
func ExpiresInDays(expiresAt, now time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / day)
}

// Summary статус подписки, общий для Mini App и бота.
type Summary struct {
	Status         Status  `json:"status"`
	SubscriptionID *uint   `json:"subscription_id"`
	ExpiresAt      *string `json:"expires_at"`
	ExpiresInDays  *int    `json:"expires_in_days"`
	SubURL         *string `json:"sub_url"`
	ServersCount   int64   `json:"servers_count"`
}

// Describe собирает Summary для sub (nil, если подписки нет).
func Describe(sub *db.Subscription, now time.Time, baseSubURL string, serversCount int64) Summary {
	summary := Summary{Status: Evaluate(sub, now), ServersCount: serversCount}
	if sub == nil {
		return summary
	}
	id := sub.ID
	summary.SubscriptionID = &id
	if !sub.ExpiresAt.IsZero() {
		expiresAt := sub.ExpiresAt.UTC().Format(time.RFC3339)
		days := ExpiresInDays(sub.ExpiresAt, now)
		summary.ExpiresAt = &expiresAt
		summary.ExpiresInDays = &days
	}
	if summary.Status != StatusNone {
		url := SubURL(baseSubURL, sub.Token)
		summary.SubURL = &url
	}
	return summary
}

func SubURL(baseSubURL, token string) string {
	for len(baseSubURL) > 0 && baseSubURL[len(baseSubURL)-1] == '/' {
		baseSubURL = baseSubURL[:len(baseSubURL)-1]
	}
	return baseSubURL + "/" + token
}
