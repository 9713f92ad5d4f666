// Package tasks provides task queue management using Asynq
package tasks

import (
	"fmt"
	"time"
)

const (
	// TypeSourceRefresh is the task type for re-normalizing a source
	TypeSourceRefresh = "source:refresh"
	// QueueRefresh is the queue refresh tasks are processed from
	QueueRefresh = "refresh"
)

// Triggers recorded on refresh payloads.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// RefreshPayload represents the payload for a source refresh task
type RefreshPayload struct {
	SourceID   string    `json:"source_id"`
	Trigger    string    `json:"trigger"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// UniqueID returns a unique identifier for this task. At most one refresh
// per source is queued at a time.
func (p RefreshPayload) UniqueID() string {
	return fmt.Sprintf("%s:%s", TypeSourceRefresh, p.SourceID)
}

// QueueName returns the queue name for this task payload
func (p RefreshPayload) QueueName() string {
	return QueueRefresh
}
