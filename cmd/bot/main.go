package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"vpn-subscription-backend/config"
	"vpn-subscription-backend/internal/admin"
	"vpn-subscription-backend/internal/api"
	"vpn-subscription-backend/internal/auth"
	"vpn-subscription-backend/internal/bot"
	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/logger"
	"vpn-subscription-backend/internal/metrics"
	"vpn-subscription-backend/internal/ratelimit"
	"vpn-subscription-backend/internal/services"
	"vpn-subscription-backend/internal/subscription"
	"vpn-subscription-backend/internal/xui"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("failed to open database", zap.Error(err))
	}
	users := db.NewUserRepo(conn)
	subs := db.NewSubscriptionRepo(conn)
	servers := db.NewServerRepo(conn)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var botAPI *tgbotapi.BotAPI
	var sender logger.Sender
	if cfg.BotEnabled {
		botAPI, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			zlog.Fatal("failed to create bot", zap.Error(err))
		}
		zlog.Info("telegram bot authorized", zap.String("username", botAPI.Self.UserName))
		sender = botAPI
	}
	notifier := logger.NewNotifier(sender, cfg.AdminTgIDs, zlog.Named("notifier"))

	var panel xui.Panel
	if cfg.XUI.BaseURL != "" {
		client, err := xui.NewClient(cfg.XUI, zlog.Named("xui"))
		if err != nil {
			zlog.Fatal("failed to create panel client", zap.Error(err))
		}
		panel = client
		go func() {
			inbounds, err := client.ListInbounds(ctx)
			if err != nil {
				zlog.Warn("panel not reachable at startup", zap.Error(err))
				return
			}
			zlog.Info("panel reachable", zap.Int("inbounds", len(inbounds)))
		}()
	} else {
		zlog.Warn("XUI_BASE_URL not set, panel sync disabled")
	}
	panelSync := xui.NewSync(panel, servers, cfg.XUI.Concurrency, m, zlog.Named("xui"))

	var limiter ratelimit.Limiter = ratelimit.NewMemory()
	if cfg.Redis.Addr != "" {
		redisLimiter, err := ratelimit.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, zlog)
		if err != nil {
			zlog.Warn("redis unavailable, using in-memory rate limiter", zap.Error(err))
		} else {
			defer redisLimiter.Close()
			limiter = redisLimiter
		}
	}

	resolver := auth.NewResolver(cfg.BotToken, cfg.AdminTgIDs, users, zlog.Named("auth"))
	subService := subscription.NewService(users, subs, servers, panelSync, cfg.BaseSubURL, zlog.Named("subscription"))
	assembler := subscription.NewAssembler(subs, servers, zlog.Named("payload"))

	reaperOpts := []services.ReaperOption{services.WithAdminAlerts(notifier), services.WithReaperObserver(m)}
	if sender != nil {
		reaperOpts = append(reaperOpts, services.WithUserNotices(sender))
	}
	reaper := services.NewExpiryReaper(subs, panelSync, cfg.ExpirySweepInterval, zlog.Named("reaper"), reaperOpts...)
	prober := services.NewServerProber(servers, notifier, 3*time.Second, zlog.Named("prober"))
	backup := admin.NewBackup(cfg.DatabaseURL, cfg.BackupDir, notifier, zlog.Named("backup"))

	c := cron.New()
	if _, err := reaper.Schedule(ctx, c); err != nil {
		zlog.Fatal("failed to schedule expiry sweep", zap.Error(err))
	}
	c.AddFunc("@every 1m", func() { prober.RunSafe(ctx) })
	c.AddFunc("0 3 * * *", func() { backup.RunSafe(ctx) })
	if sender != nil {
		expiring := services.NewExpiringNotifier(subs, sender, notifier, cfg.ExpiringNotifyDays, zlog.Named("expiring"))
		c.AddFunc("0 10 * * *", func() { expiring.RunSafe(ctx) })
	}
	c.Start()
	go reaper.RunSafe(ctx)
	go prober.RunSafe(ctx)

	router := api.NewRouter(api.Deps{
		Authenticator: resolver,
		Subscriptions: subService,
		Payloads:      assembler,
		Servers:       servers,
		Limiter:       limiter,
		SubRateLimit:  cfg.SubRateLimit,
		BotToken:      cfg.BotToken,
		Metrics:       m,
		Gatherer:      registry,
		Log:           zlog.Named("http"),
	})
	server := api.NewServer(cfg.HTTPAddr, router, zlog.Named("http"))
	go func() {
		if err := server.Start(); err != nil {
			zlog.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	botDone := make(chan struct{})
	if botAPI != nil {
		commands := admin.NewCommands(subService, users, subs, prober, backup, cfg.SubscriptionDays, cfg.BaseSubURL, zlog.Named("admin"))
		tgBot := bot.New(bot.Deps{
			Sender:    botAPI,
			Status:    subService,
			Admin:     commands,
			Limiter:   ratelimit.NewCommands(limiter, map[string]time.Duration{"/status": 5 * time.Second, "/backup": 30 * time.Second}, 2*time.Second, cfg.IsAdmin, zlog),
			IsAdmin:   cfg.IsAdmin,
			WebAppURL: cfg.WebAppURL,
			Notifier:  notifier,
			Log:       zlog.Named("bot"),
		})
		go func() {
			tgBot.Run(ctx, botAPI)
			close(botDone)
		}()
	} else {
		close(botDone)
	}

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("http shutdown failed", zap.Error(err))
	}
	<-c.Stop().Done()
	<-botDone
	if sqlDB, err := conn.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
