package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New создаёт production JSON-логгер с заданным уровнем ("debug", "info", ...).
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

const tokenPrefixLen = 6

// TokenPrefix возвращает часть токена, которую можно писать в лог. Префикс
// не длиннее половины токена, поэтому короткий токен целиком в лог не попадает.
func TokenPrefix(token string) string {
	return token[:min(tokenPrefixLen, len(token)/2)]
}

func LogAdminAction(log *zap.Logger, adminID int64, action, params string) {
	log.Info("admin_action", zap.Int64("admin_id", adminID), zap.String("action", action), zap.String("params", params))
}
