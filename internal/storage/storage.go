package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// ErrNotFound is returned by Get for keys that were never written or whose TTL elapsed.
var ErrNotFound = errors.New("key not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store is closed")

// MaxValueSize bounds a single stored value.
const MaxValueSize = 10 * 1024 * 1024

// Store is a key-value store with per-key expiry. Put overwrites any existing
// value and resets its expiry to ttl from now; last write wins.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Maintainer is implemented by backends that need periodic housekeeping.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// Options are shared by all backends.
type Options struct {
	Sentry *sentry.Hub
}

// Open builds a Store from a handle such as "memory://", "badger:///var/lib/relay"
// or "sqlite://relay.db".
func Open(ctx context.Context, handle string, opts Options) (Store, error) {
	scheme, path, ok := strings.Cut(strings.TrimSpace(handle), "://")
	if !ok {
		return nil, fmt.Errorf("invalid store handle %q: expected scheme://path", handle)
	}
	switch strings.ToLower(scheme) {
	case "memory", "mem":
		return NewMemory(), nil
	case "badger":
		if path == "" {
			return nil, fmt.Errorf("invalid store handle %q: badger needs a directory", handle)
		}
		b := &Badger{Path: path, SentryBadger: opts.Sentry}
		if err := b.Open(); err != nil {
			return nil, err
		}
		return b, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return nil, fmt.Errorf("invalid store handle %q: sqlite needs a file", handle)
		}
		return OpenSQLite(ctx, path, opts)
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}

func checkPut(key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("empty key")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("data too large: %d bytes", len(value))
	}
	return nil
}
