// Package settings persists integer settings in SQLite. The volume engine
// reads and writes through the audio.SettingsStore interface; only the command
// pipeline worker calls it once the daemon is running.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod settings db: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	logger.Debug("settings store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetInt returns the stored value for key, or def when the key is missing or
// the read fails.
func (s *Store) GetInt(ctx context.Context, key string, def int) int {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	switch {
	case err == nil:
		return v
	case errors.Is(err, sql.ErrNoRows):
		return def
	default:
		s.logger.Warn("settings read failed, using default", "key", key, "default", def, "error", err)
		return def
	}
}

// PutInt upserts key.
func (s *Store) PutInt(ctx context.Context, key string, value int) error {
	if key == "" {
		return errors.New("put: empty key")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO settings(key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at
`, key, value, now); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
