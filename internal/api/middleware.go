package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vpn-subscription-backend/internal/auth"
	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/ratelimit"
)

const (
	initDataHeader = "X-Telegram-Init-Data"
	botTokenHeader = "X-Bot-Token"
	authResultKey  = "auth_result"
)

type Authenticator interface {
	Authenticate(ctx context.Context, initData string) (*auth.Result, error)
}

type AuthObserver interface {
	ObserveAuth(result string)
}

// LoggerMiddleware пишет одну строку на запрос, уровень зависит от статуса.
// В лог попадает маршрут, а не путь, поэтому токены из /sub не логируются.
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// InitDataAuth авторизует вызывающего по заголовку с init data.
func InitDataAuth(authenticator Authenticator, observer AuthObserver, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := authenticator.Authenticate(c.Request.Context(), c.GetHeader(initDataHeader))
		if err != nil {
			observeAuth(observer, err)
			if !auth.IsAuthError(err) {
				log.Error("authentication failed", zap.Error(err))
			}
			abortWithError(c, err)
			return
		}
		observeAuth(observer, nil)
		c.Set(authResultKey, result)
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := authResult(c)
		if result == nil || result.Role != db.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "admin only"})
			return
		}
		c.Next()
	}
}

// BotToken защищает вызовы от бота общим токеном бота.
func BotToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(botTokenHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// RateLimit пропускает один запрос на ключ за окно. При ошибке лимитера
// запрос пропускается.
func RateLimit(limiter ratelimit.Limiter, window time.Duration, key func(*gin.Context) string, onLimited func(), log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || window <= 0 {
			c.Next()
			return
		}
		ok, err := limiter.Allow(c.Request.Context(), key(c), window)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			if onLimited != nil {
				onLimited()
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
			return
		}
		c.Next()
	}
}

func authResult(c *gin.Context) *auth.Result {
	v, ok := c.Get(authResultKey)
	if !ok {
		return nil
	}
	result, _ := v.(*auth.Result)
	return result
}

func observeAuth(observer AuthObserver, err error) {
	if observer == nil {
		return
	}
	switch {
	case err == nil:
		observer.ObserveAuth("ok")
	case auth.IsAuthError(err):
		observer.ObserveAuth("invalid")
	default:
		observer.ObserveAuth("error")
	}
}
