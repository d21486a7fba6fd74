// Package ratelimit ограничивает повторные вызовы по ключу в пределах окна.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter пропускает не больше одного вызова на ключ за окно.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// pruneInterval задаёт, как часто Memory вычищает истёкшие ключи. Между
// чистками Allow работает за O(1).
const pruneInterval = time.Minute

// Memory хранит окна в памяти процесса.
type Memory struct {
	mu        sync.Mutex
	until     map[string]time.Time
	nextPrune time.Time
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{until: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !now.Before(m.nextPrune) {
		m.prune(now)
	}
	if until, ok := m.until[key]; ok && now.Before(until) {
		return false, nil
	}
	m.until[key] = now.Add(window)
	return true, nil
}

func (m *Memory) prune(now time.Time) {
	for k, until := range m.until {
		if !now.Before(until) {
			delete(m.until, k)
		}
	}
	m.nextPrune = now.Add(pruneInterval)
}

// Redis хранит окна в Redis, общие для всех экземпляров сервиса.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(addr, password string, db int, log *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("connected to Redis", zap.String("addr", addr))
	return &Redis{client: client, prefix: "ratelimit:"}, nil
}

func (r *Redis) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, window).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Commands применяет окна по командам к пользователям Telegram.
type Commands struct {
	limiter Limiter
	limits  map[string]time.Duration
	def     time.Duration
	exempt  func(int64) bool
	log     *zap.Logger
}

func NewCommands(limiter Limiter, limits map[string]time.Duration, def time.Duration, exempt func(int64) bool, log *zap.Logger) *Commands {
	return &Commands{limiter: limiter, limits: limits, def: def, exempt: exempt, log: log}
}

// IsLimited сообщает, должен ли userID подождать перед повтором cmd.
// При ошибке лимитера вызов пропускается.
func (c *Commands) IsLimited(ctx context.Context, userID int64, cmd string) bool {
	if c.exempt != nil && c.exempt(userID) {
		return false
	}
	window, ok := c.limits[cmd]
	if !ok {
		window = c.def
	}
	allowed, err := c.limiter.Allow(ctx, "cmd:"+strconv.FormatInt(userID, 10)+":"+cmd, window)
	if err != nil {
		c.log.Warn("rate limiter unavailable", zap.Error(err))
		return false
	}
	return !allowed
}
