package subscription

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const tokenBytes = 32

// GenerateToken возвращает случайный URL-safe токен для публичной ссылки подписки.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
