package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/example/captcha-relay/internal/logger"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_expires_at ON entries(expires_at);`

// SQLite is a Store backed by a single sqlite table. expires_at holds unix nanoseconds.
type SQLite struct {
	db     *sql.DB
	sentry *sentry.Hub

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		sqliteSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	log.WithField("path", path).Info("SQLite store opened")
	return &SQLite{db: db, sentry: opts.Sentry, Now: time.Now}, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkPut(key, value, ttl); err != nil {
		return err
	}
	expiresAt := s.Now().Add(ttl).UnixNano()
	_, err := s.db.ExecContext(ctx, `INSERT INTO entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		logger.LogAndCapture(s.sentry, err, "Failed to put entry", map[string]interface{}{
			"key":  key,
			"size": len(value),
		})
		return fmt.Errorf("failed to save entry %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE key = ? AND expires_at > ?`,
		key, s.Now().UnixNano()).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		logger.LogAndCapture(s.sentry, err, "Failed to get entry", map[string]interface{}{
			"key": key,
		})
		return nil, err
	}
	return value, nil
}

// Purge deletes expired rows and reports how many were removed.
func (s *SQLite) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE expires_at <= ?`, s.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLite) Maintain(ctx context.Context) error {
	n, err := s.Purge(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("purged", n).Debug("expired sqlite entries removed")
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
