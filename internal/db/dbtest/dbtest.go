// Package dbtest временные базы в памяти для тестов.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vpn-subscription-backend/internal/db"
)

var seq atomic.Int64

// New возвращает отдельную для теста sqlite-базу с миграциями.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get underlying *sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func Ptr[T any](v T) *T {
	return &v
}

// Server возвращает корректный включённый Reality-сервер.
func Server(country, host string) db.Server {
	return db.Server{
		CountryCode: country,
		Host:        host,
		Port:        443,
		Protocol:    db.ProtocolVLESS,
		Network:     "tcp",
		PublicKey:   "pbk-" + host,
		SNI:         Ptr("www.example.com"),
		ShortID:     "ab12",
		Enabled:     true,
	}
}
