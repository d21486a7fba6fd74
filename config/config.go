package config

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	DatabaseURL string
	BotToken    string
	BotEnabled  bool
	BaseSubURL  string
	WebAppURL   string
	AdminTgIDs  []int64
	HTTPAddr    string
	LogLevel    string

	SubscriptionDays    int
	ExpirySweepInterval time.Duration
	ExpiringNotifyDays  int
	SubRateLimit        time.Duration
	BackupDir           string

	XUI   XUIConfig
	Redis RedisConfig
}

type XUIConfig struct {
	BaseURL        string
	Username       string
	Password       string
	RequestTimeout time.Duration
	Concurrency    int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// IsAdmin проверяет, входит ли tgID в список администраторов.
func (c *AppConfig) IsAdmin(tgID int64) bool {
	for _, id := range c.AdminTgIDs {
		if id == tgID {
			return true
		}
	}
	return false
}

// Load читает .env (если он есть) и переменные окружения.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BOT_ENABLED", true)
	v.SetDefault("SUBSCRIPTION_DAYS", 30)
	v.SetDefault("EXPIRY_SWEEP_INTERVAL", "24h")
	v.SetDefault("EXPIRING_NOTIFY_DAYS", 3)
	v.SetDefault("SUB_RATE_LIMIT", "1s")
	v.SetDefault("BACKUP_DIR", "backups")
	v.SetDefault("XUI_REQUEST_TIMEOUT", "15s")
	v.SetDefault("XUI_CONCURRENCY", 4)
	v.SetDefault("REDIS_DB", 0)

	admins, err := ParseAdminIDs(v.GetString("ADMIN_TG_IDS"))
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		DatabaseURL:         v.GetString("DATABASE_URL"),
		BotToken:            v.GetString("BOT_TOKEN"),
		BotEnabled:          v.GetBool("BOT_ENABLED"),
		BaseSubURL:          strings.TrimRight(v.GetString("BASE_SUB_URL"), "/"),
		WebAppURL:           v.GetString("WEBAPP_URL"),
		AdminTgIDs:          admins,
		HTTPAddr:            v.GetString("HTTP_ADDR"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		SubscriptionDays:    v.GetInt("SUBSCRIPTION_DAYS"),
		ExpirySweepInterval: v.GetDuration("EXPIRY_SWEEP_INTERVAL"),
		ExpiringNotifyDays:  v.GetInt("EXPIRING_NOTIFY_DAYS"),
		SubRateLimit:        v.GetDuration("SUB_RATE_LIMIT"),
		BackupDir:           v.GetString("BACKUP_DIR"),
		XUI: XUIConfig{
			BaseURL:        strings.TrimRight(v.GetString("XUI_BASE_URL"), "/"),
			Username:       v.GetString("XUI_USERNAME"),
			Password:       v.GetString("XUI_PASSWORD"),
			RequestTimeout: v.GetDuration("XUI_REQUEST_TIMEOUT"),
			Concurrency:    v.GetInt("XUI_CONCURRENCY"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if c.BaseSubURL == "" {
		missing = append(missing, "BASE_SUB_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.ExpirySweepInterval <= 0 {
		return errors.New("EXPIRY_SWEEP_INTERVAL must be positive")
	}
	if c.SubscriptionDays <= 0 {
		return errors.New("SUBSCRIPTION_DAYS must be positive")
	}
	if c.XUI.Concurrency < 1 {
		c.XUI.Concurrency = 1
	}
	return nil
}

// ParseAdminIDs разбирает список Telegram id через запятую, пустые элементы пропускаются.
func ParseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TG_IDS entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
