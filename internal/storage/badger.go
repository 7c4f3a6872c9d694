package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"github.com/example/captcha-relay/internal/logger"
)

// Badger is a Store on BadgerDB. Expiry uses Badger's native entry TTL,
// which has one-second resolution.
type Badger struct {
	db           *badger.DB
	Path         string
	SentryBadger *sentry.Hub
	closed       bool
	mutex        sync.RWMutex
}

func (b *Badger) Open() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.db != nil {
		return nil
	}

	opts := badger.DefaultOptions(b.Path).WithLogger(log.StandardLogger())
	opts.ValueLogFileSize = 16 << 20
	opts.MemTableSize = 4 << 20
	opts.NumMemtables = 2
	opts.NumLevelZeroTables = 2
	opts.NumLevelZeroTablesStall = 3
	opts.CompactL0OnClose = true
	opts.ValueThreshold = 64 << 10

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		logger.LogAndCapture(b.SentryBadger, err, "Failed to open badger database", map[string]interface{}{
			"path": b.Path,
		})
		return err
	}
	b.closed = false

	log.WithField("path", b.Path).Info("BadgerDB opened")
	return nil
}

func (b *Badger) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkPut(key, value, ttl); err != nil {
		return err
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed || b.db == nil {
		return ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		logger.LogAndCapture(b.SentryBadger, err, "Failed to put entry", map[string]interface{}{
			"key":  key,
			"size": len(value),
		})
		return fmt.Errorf("failed to save entry %s: %w", key, err)
	}
	return nil
}

func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed || b.db == nil {
		return nil, ErrClosed
	}

	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		logger.LogAndCapture(b.SentryBadger, err, "Failed to get entry", map[string]interface{}{
			"key": key,
		})
		return nil, err
	}
	return out, nil
}

// Maintain runs one value-log GC pass.
func (b *Badger) Maintain(ctx context.Context) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed || b.db == nil {
		return ErrClosed
	}

	err := b.db.RunValueLogGC(0.7)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
		log.Warnf("ValueLog GC failed: %v", err)
		return err
	}
	return nil
}

func (b *Badger) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.db == nil {
		return nil
	}

	b.closed = true
	err := b.db.Close()
	b.db = nil

	if err != nil {
		logger.LogAndCapture(b.SentryBadger, err, "Failed to close BadgerDB", nil)
		return err
	}

	log.Info("BadgerDB closed")
	return nil
}
