package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/ethpandaops/nis/pkg/observability"
	"github.com/hibiken/asynq"
)

// Enqueuer queues refresh tasks
type Enqueuer interface {
	EnqueueRefresh(ctx context.Context, payload RefreshPayload, opts ...asynq.Option) error
}

// QueueManager manages task queuing
type QueueManager struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

var _ Enqueuer = (*QueueManager)(nil)

// NewQueueManager creates a new queue manager. queue is the (prefixed)
// name refresh tasks are sent to.
func NewQueueManager(redisOpt *asynq.RedisClientOpt, queue string) *QueueManager {
	if queue == "" {
		queue = QueueRefresh
	}

	return &QueueManager{
		client:    asynq.NewClient(*redisOpt),
		inspector: asynq.NewInspector(*redisOpt),
		queue:     queue,
	}
}

// EnqueueRefresh enqueues a refresh task. A refresh of the same source
// that is already queued is not an error.
func (q *QueueManager) EnqueueRefresh(ctx context.Context, payload RefreshPayload, opts ...asynq.Option) error {
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}

	task, err := NewRefreshTask(payload)
	if err != nil {
		return err
	}

	// Default options
	allOpts := []asynq.Option{
		asynq.TaskID(payload.UniqueID()),
		asynq.Queue(q.queue),
		asynq.MaxRetry(3),
		asynq.Timeout(30 * time.Minute),
	}
	allOpts = append(allOpts, opts...)

	if _, err := q.client.EnqueueContext(ctx, task, allOpts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}

		return err
	}

	observability.RecordTaskEnqueued(payload.SourceID, payload.Trigger)

	return nil
}

// IsTaskPendingOrRunning checks if a refresh of the source is pending or running
func (q *QueueManager) IsTaskPendingOrRunning(payload RefreshPayload) (bool, error) {
	info, err := q.inspector.GetTaskInfo(q.queue, payload.UniqueID())
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return info.State == asynq.TaskStatePending ||
		info.State == asynq.TaskStateActive ||
		info.State == asynq.TaskStateRetry, nil
}

// GetQueueStats returns queue statistics
func (q *QueueManager) GetQueueStats() (*asynq.QueueInfo, error) {
	return q.inspector.GetQueueInfo(q.queue)
}

// Close closes the queue manager
func (q *QueueManager) Close() error {
	return q.client.Close()
}

func isNotFound(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}
