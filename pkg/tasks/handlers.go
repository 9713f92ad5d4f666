package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethpandaops/nis/pkg/models"
	"github.com/ethpandaops/nis/pkg/observability"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Refresher re-normalizes a source and invalidates what was derived from it
type Refresher interface {
	Refresh(ctx context.Context, sourceID string) error
}

// getWorkerID returns the worker ID based on hostname
func getWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "worker-unknown"
	}

	return hostname
}

// TaskHandler handles task execution
type TaskHandler struct {
	refresher Refresher
	workerID  string
	log       logrus.FieldLogger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(log logrus.FieldLogger, refresher Refresher) *TaskHandler {
	return &TaskHandler{
		refresher: refresher,
		workerID:  getWorkerID(),
		log:       log.WithField("component", "task-handler"),
	}
}

// HandleRefresh handles source refresh tasks. Unknown sources and
// undecodable payloads are not retried.
func (h *TaskHandler) HandleRefresh(ctx context.Context, t *asynq.Task) error {
	payload, err := ParseRefreshPayload(t)
	if err != nil {
		observability.RecordError("task-handler", "unmarshal_error")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	log := h.log.WithFields(logrus.Fields{
		"source":  payload.SourceID,
		"trigger": payload.Trigger,
	})
	log.Info("Starting refresh task")

	startTime := time.Now()

	observability.RecordTaskStart(payload.SourceID, h.workerID)

	if err := h.refresher.Refresh(ctx, payload.SourceID); err != nil {
		observability.RecordTaskComplete(payload.SourceID, h.workerID, "failed", time.Since(startTime).Seconds())

		if errors.Is(err, models.ErrModelNotFound) {
			observability.RecordError("task-handler", "source_not_found")
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}

		observability.RecordError("task-handler", "refresh_error")
		log.WithError(err).Error("Refresh failed")

		return fmt.Errorf("refresh error: %w", err)
	}

	observability.RecordTaskComplete(payload.SourceID, h.workerID, "success", time.Since(startTime).Seconds())

	log.WithField("duration", time.Since(startTime)).Info("Task completed successfully")

	return nil
}

// Routes returns the task handler routes for Asynq
func (h *TaskHandler) Routes() map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		TypeSourceRefresh: h.HandleRefresh,
	}
}
