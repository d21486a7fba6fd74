package db

import (
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

// Open подключается к Postgres и выполняет миграции.
func Open(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := Migrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(&User{}, &Subscription{}, &Server{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
