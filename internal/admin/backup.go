package admin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"vpn-subscription-backend/internal/logger"
)

const (
	backupPattern   = "autobackup_*.dump"
	backupRetention = 31 * 24 * time.Hour
	backupTimeout   = 2 * time.Minute
)

// Backup снимает дамп Postgres через pg_dump в dir и хранит дампы месяц.
type Backup struct {
	dsn      string
	dir      string
	notifier *logger.Notifier
	run      func(ctx context.Context, name string, args ...string) error
	now      func() time.Time
	log      *zap.Logger
}

func NewBackup(dsn, dir string, notifier *logger.Notifier, log *zap.Logger) *Backup {
	return &Backup{dsn: dsn, dir: dir, notifier: notifier, run: runCommand, now: time.Now, log: log}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

// Run создаёт дамп и удаляет старые. Возвращает путь к дампу.
func (b *Backup) Run(ctx context.Context) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, backupTimeout)
	defer cancel()

	filename := filepath.Join(b.dir, "autobackup_"+b.now().Format("20060102_150405")+".dump")
	if err := b.run(ctx, "pg_dump", b.dsn, "-Fc", "-f", filename); err != nil {
		return "", err
	}
	removed, err := b.CleanOld()
	if err != nil {
		b.log.Warn("failed to prune old backups", zap.Error(err))
	}
	b.log.Info("database backup created", zap.String("file", filename), zap.Int("pruned", removed))
	return filename, nil
}

// CleanOld удаляет дампы старше срока хранения.
func (b *Backup) CleanOld() (int, error) {
	files, err := filepath.Glob(filepath.Join(b.dir, backupPattern))
	if err != nil {
		return 0, err
	}
	cutoff := b.now().Add(-backupRetention)
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// RunSafe запускается по cron.
func (b *Backup) RunSafe(ctx context.Context) {
	defer b.notifier.Recover("database backup")
	if _, err := b.Run(ctx); err != nil {
		b.log.Error("database backup failed", zap.Error(err))
		b.notifier.NotifyAdmin("database backup failed: " + err.Error())
	}
}
