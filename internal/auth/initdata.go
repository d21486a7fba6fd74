// Package auth проверяет init data Telegram Mini App и определяет пользователя.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// AuthError возвращается при любой неудачной авторизации.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Reason
}

const (
	ReasonMissingHash   = "missing hash"
	ReasonBadSignature  = "bad signature"
	ReasonMalformed     = "malformed init data"
	ReasonMissingUser   = "missing user"
	ReasonMalformedUser = "malformed user"
	ReasonMissingID     = "missing user id"
	ReasonDeactivated   = "deactivated"
)

const webAppDataKey = "WebAppData"

// VerifyInitData проверяет подпись init data по токену бота и возвращает
// подписанные поля без "hash".
func VerifyInitData(initData, botToken string) (map[string]string, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, &AuthError{Reason: ReasonMalformed}
	}
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			fields[k] = v[len(v)-1]
		} else {
			fields[k] = ""
		}
	}

	received, ok := fields["hash"]
	delete(fields, "hash")
	if !ok || received == "" {
		return nil, &AuthError{Reason: ReasonMissingHash}
	}

	expected := Sign(fields, botToken)
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return nil, &AuthError{Reason: ReasonBadSignature}
	}
	return fields, nil
}

// Sign считает hex-хэш, который Telegram прикладывает к init data с этими полями.
func Sign(fields map[string]string, botToken string) string {
	mac := hmac.New(sha256.New, secretKey(botToken))
	mac.Write([]byte(DataCheckString(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// DataCheckString склеивает пары key=value, отсортированные по ключу, через перевод строки.
func DataCheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}
	return strings.Join(lines, "\n")
}

func secretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte(webAppDataKey))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}
