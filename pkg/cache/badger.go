package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethpandaops/nis/pkg/observability"
	"github.com/sirupsen/logrus"
)

const deleteBatch = 1000

// BadgerStore keeps checksummed entries in a badger database under a
// directory. Entries expire through badger's TTL and the envelope's
// creation time.
type BadgerStore struct {
	log logrus.FieldLogger
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

var _ Backend = (*BadgerStore)(nil)

// NewBadgerStore opens or creates the database in dir. A zero ttl never
// expires entries. The store must be closed to release the directory.
func NewBadgerStore(log logrus.FieldLogger, dir string, ttl time.Duration) (*BadgerStore, error) {
	log = log.WithField("component", "cache_badger")

	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{log: log}).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache dir %s: %w", dir, err)
	}

	return &BadgerStore{
		log: log,
		db:  db,
		ttl: ttl,
		now: time.Now,
	}, nil
}

// Get reads key. Corrupt and expired entries are removed and reported as misses.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var raw []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		raw, err = item.ValueCopy(nil)

		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	env, err := open(key, raw)
	if err != nil {
		observability.RecordCacheCorruption("badger")
		s.log.WithError(err).WithField("key", key).Warn("Removing corrupt cache entry")
		s.remove(key)

		return nil, false, nil
	}

	if env.expired(s.ttl, s.now()) {
		s.remove(key)
		return nil, false, nil
	}

	return env.Payload, true, nil
}

// Set writes key with the configured TTL.
func (s *BadgerStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := seal(key, value, s.now())
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	entry := badger.NewEntry([]byte(key), raw)
	if s.ttl > 0 {
		entry = entry.WithTTL(s.ttl)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}

	return nil
}

// DeletePrefix removes every entry whose key starts with prefix.
func (s *BadgerStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			keys = append(keys, it.Item().KeyCopy(nil))
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan prefix %q: %w", prefix, err)
	}

	removed := 0

	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))

		if err := s.db.Update(func(txn *badger.Txn) error {
			for _, k := range keys[start:end] {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}

			return nil
		}); err != nil {
			return removed, fmt.Errorf("failed to delete prefix %q: %w", prefix, err)
		}

		removed += end - start
	}

	return removed, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) remove(key string) {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Failed to remove cache entry")
	}
}

// badgerLogger routes badger's logs to logrus, demoting its chatty info
// messages to debug.
type badgerLogger struct {
	log logrus.FieldLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.log.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.log.Debugf(format, args...) }
