package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/nis/pkg/observability"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const scanCount = 100

// RedisStore keeps entries as checksummed JSON under "<prefix>:cache:<key>".
type RedisStore struct {
	log       logrus.FieldLogger
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ Backend = (*RedisStore)(nil)

// NewRedisStore returns a store using client. A zero ttl keeps entries
// until invalidated.
func NewRedisStore(log logrus.FieldLogger, client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	keyPrefix := "cache:"
	if prefix != "" {
		keyPrefix = prefix + ":cache:"
	}

	return &RedisStore{
		log:       log.WithField("component", "cache_redis"),
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Get returns nil, false, nil if the key does not exist or fails validation.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}

	env, err := open(key, raw)
	if err != nil {
		observability.RecordCacheCorruption("redis")
		s.log.WithError(err).WithField("key", key).Warn("Removing corrupt cache entry")

		if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("Failed to remove corrupt cache entry")
		}

		return nil, false, nil
	}

	return env.Payload, true, nil
}

// Set stores value with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	raw, err := seal(key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	if err := s.client.Set(ctx, s.keyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry %s: %w", key, err)
	}

	return nil
}

// DeletePrefix collects every matching key with a full scan and then
// deletes them in batches. Deleting while scanning would move keys behind
// the cursor.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	match := s.keyPrefix + globEscape(prefix) + "*"

	var (
		cursor uint64
		keys   []string
	)

	seen := make(map[string]struct{})

	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan %q: %w", match, err)
		}

		for _, k := range batch {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}

		if next == 0 {
			break
		}

		cursor = next
	}

	removed := 0

	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))

		n, err := s.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to delete cache entries: %w", err)
		}

		removed += int(n)
	}

	return removed, nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string {
	return globReplacer.Replace(s)
}
