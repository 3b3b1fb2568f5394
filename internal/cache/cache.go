// Package cache persists per-table snapshots to a local Badger database
// so a restarting client can serve stale reads before its first snapshot
// round completes. Cached data is a hint, never ground truth: the mirror
// certifies it only after a fresh snapshot.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
	"github.com/tablemesh/tablemesh-go/pkg/crypto/sealed"
)

const (
	snapshotPrefix = "snapshot/"

	// DefaultGCInterval is the Badger value-log GC period.
	DefaultGCInterval = 10 * time.Minute

	gcDiscardRatio = 0.5
)

// Config configures the bootstrap cache.
type Config struct {
	// Dir is the Badger data directory.
	Dir string

	// EncryptionKey, when 32 bytes long, seals cached snapshots at rest.
	// Empty disables sealing.
	EncryptionKey []byte

	// GCInterval overrides the value-log GC period; zero means default.
	GCInterval time.Duration
}

// Cache is a Badger-backed snapshot store, one value per table.
type Cache struct {
	db     *badger.DB
	cipher *sealed.Cipher
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens or creates the cache at cfg.Dir and starts the GC loop.
func Open(cfg Config, logger *slog.Logger) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = DefaultGCInterval
	}

	var cipher *sealed.Cipher
	if len(cfg.EncryptionKey) > 0 {
		var err error
		cipher, err = sealed.New(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}

	c := &Cache{
		db:     db,
		cipher: cipher,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go c.gcLoop(cfg.GCInterval)

	logger.Info("bootstrap cache opened",
		"dir", cfg.Dir,
		"sealed", cipher != nil,
		"gc_interval", cfg.GCInterval.String())
	return c, nil
}

// SaveTable stores the full row set of one table, replacing any previous
// snapshot for it.
func (c *Cache) SaveTable(table string, rows []*domain.RowRecord) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", table, err)
	}

	if c.cipher != nil {
		// The table name binds the ciphertext to its key, so a sealed
		// snapshot cannot be replayed under another table.
		payload, err = c.cipher.Seal(payload, []byte(table))
		if err != nil {
			return fmt.Errorf("cache: seal %s: %w", table, err)
		}
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotPrefix+table), payload)
	})
}

// LoadTable returns the cached row set of one table. The second return is
// false when no snapshot is cached. A snapshot that fails to unseal or
// decode is treated as absent and dropped; warming from garbage would be
// worse than a cold start.
func (c *Cache) LoadTable(table string) ([]*domain.RowRecord, bool, error) {
	var payload []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotPrefix + table))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: load %s: %w", table, err)
	}

	if c.cipher != nil {
		payload, err = c.cipher.Open(payload, []byte(table))
		if err != nil {
			c.logger.Warn("dropping unreadable cached snapshot", "table", table, "error", err)
			return nil, false, c.DeleteTable(table)
		}
	}

	var rows []*domain.RowRecord
	if err := json.Unmarshal(payload, &rows); err != nil {
		c.logger.Warn("dropping undecodable cached snapshot", "table", table, "error", err)
		return nil, false, c.DeleteTable(table)
	}
	return rows, true, nil
}

// DeleteTable removes the cached snapshot of one table. Absent is fine.
func (c *Cache) DeleteTable(table string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(snapshotPrefix + table))
	})
}

// Tables returns the names of all cached snapshots.
func (c *Cache) Tables() ([]string, error) {
	var names []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(snapshotPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			names = append(names, string(key[len(snapshotPrefix):]))
		}
		return nil
	})
	return names, err
}

// Close stops the GC loop and closes the database.
func (c *Cache) Close() error {
	close(c.stopCh)
	<-c.doneCh

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("cache: close db: %w", err)
	}
	c.logger.Info("bootstrap cache closed")
	return nil
}

// gcLoop runs periodic value-log garbage collection.
func (c *Cache) gcLoop(interval time.Duration) {
	defer close(c.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				err := c.db.RunValueLogGC(gcDiscardRatio)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						c.logger.Error("cache gc failed", "error", err)
					}
					break
				}
			}
		case <-c.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
