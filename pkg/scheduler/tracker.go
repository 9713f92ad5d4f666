package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// scheduleTracker persists the last scheduled refresh of each source so a
// newly elected leader does not re-enqueue work the previous one did.
type scheduleTracker interface {
	// GetLastRun returns zero time if the source has never been scheduled
	GetLastRun(ctx context.Context, sourceID string) (time.Time, error)
	SetLastRun(ctx context.Context, sourceID string, timestamp time.Time) error
	DeleteLastRun(ctx context.Context, sourceID string) error
	GetAllSourceIDs(ctx context.Context) ([]string, error)
}

// redisScheduleTracker stores one key per source: <prefix><sourceID>
type redisScheduleTracker struct {
	log       logrus.FieldLogger
	redis     *redis.Client
	keyPrefix string
}

func newScheduleTracker(log logrus.FieldLogger, client *redis.Client, keyPrefix string) *redisScheduleTracker {
	return &redisScheduleTracker{
		log:       log.WithField("component", "schedule_tracker"),
		redis:     client,
		keyPrefix: keyPrefix,
	}
}

func (r *redisScheduleTracker) GetLastRun(ctx context.Context, sourceID string) (time.Time, error) {
	val, err := r.redis.Get(ctx, r.keyPrefix+sourceID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("failed to get last run for source %s: %w", sourceID, err)
	}

	timestamp, err := time.Parse(time.RFC3339, val)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"source":    sourceID,
			"raw_value": val,
		}).Error("Failed to parse timestamp")

		return time.Time{}, fmt.Errorf("failed to parse timestamp for source %s: %w", sourceID, err)
	}

	return timestamp, nil
}

func (r *redisScheduleTracker) SetLastRun(ctx context.Context, sourceID string, timestamp time.Time) error {
	if err := r.redis.Set(ctx, r.keyPrefix+sourceID, timestamp.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("failed to set last run for source %s: %w", sourceID, err)
	}

	r.log.WithFields(logrus.Fields{
		"source":    sourceID,
		"timestamp": timestamp,
	}).Debug("Updated last run for source")

	return nil
}

func (r *redisScheduleTracker) DeleteLastRun(ctx context.Context, sourceID string) error {
	if err := r.redis.Del(ctx, r.keyPrefix+sourceID).Err(); err != nil {
		return fmt.Errorf("failed to delete last run for source %s: %w", sourceID, err)
	}

	return nil
}

func (r *redisScheduleTracker) GetAllSourceIDs(ctx context.Context) ([]string, error) {
	// SCAN rather than KEYS; the count is a per-iteration hint.
	const scanBatchSize = 100

	var ids []string

	iter := r.redis.Scan(ctx, 0, r.keyPrefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), r.keyPrefix))
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan source IDs: %w", err)
	}

	return ids, nil
}

var _ scheduleTracker = (*redisScheduleTracker)(nil)
