// Package api HTTP-интерфейс: публичная ссылка подписки, статус для Mini App
// и бота, управление серверами для админа.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vpn-subscription-backend/internal/ratelimit"
)

// Metrics часть *metrics.Metrics, которую использует API.
type Metrics interface {
	AuthObserver
	PayloadObserver
}

type Deps struct {
	Authenticator Authenticator
	Subscriptions SubscriptionService
	Payloads      PayloadBuilder
	Servers       ServerStore
	Limiter       ratelimit.Limiter
	SubRateLimit  time.Duration
	BotToken      string
	Metrics       Metrics
	Gatherer      prometheus.Gatherer
	Log           *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(LoggerMiddleware(d.Log))
	r.Use(gin.Recovery())

	h := &Handler{
		authenticator: d.Authenticator,
		subs:          d.Subscriptions,
		payloads:      d.Payloads,
		servers:       d.Servers,
		validate:      validator.New(),
		observer:      d.Metrics,
		authObserver:  d.Metrics,
		log:           d.Log,
	}

	r.GET("/health", h.Health)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	limitSub := RateLimit(d.Limiter, d.SubRateLimit,
		func(c *gin.Context) string { return "sub:" + c.Param("token") },
		func() {
			if d.Metrics != nil {
				d.Metrics.ObservePayload("rate_limited")
			}
		},
		d.Log)
	r.GET("/sub/:token", limitSub, h.Payload)

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/auth/telegram", h.AuthTelegram)

		me := apiGroup.Group("/me", InitDataAuth(d.Authenticator, d.Metrics, d.Log))
		me.GET("/subscription", h.MySubscription)

		bot := apiGroup.Group("/bot", BotToken(d.BotToken))
		bot.POST("/subscription", h.BotSubscription)

		admin := apiGroup.Group("/admin", InitDataAuth(d.Authenticator, d.Metrics, d.Log), RequireAdmin())
		{
			admin.GET("/servers", h.ListServers)
			admin.POST("/servers", h.CreateServer)
			admin.PUT("/servers/:id", h.UpdateServer)
			admin.PATCH("/servers/:id", h.UpdateServer)
			admin.DELETE("/servers/:id", h.DeleteServer)
		}
	}
	return r
}
