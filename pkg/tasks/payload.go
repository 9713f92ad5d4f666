package tasks

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// ErrInvalidPayload is returned for payloads that cannot be decoded
var ErrInvalidPayload = errors.New("invalid task payload")

// NewRefreshTask encodes payload as an asynq task
func NewRefreshTask(payload RefreshPayload) (*asynq.Task, error) {
	if payload.SourceID == "" {
		return nil, fmt.Errorf("%w: source id is required", ErrInvalidPayload)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TypeSourceRefresh, data), nil
}

// ParseRefreshPayload decodes the payload of a refresh task
func ParseRefreshPayload(t *asynq.Task) (RefreshPayload, error) {
	var payload RefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return RefreshPayload{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if payload.SourceID == "" {
		return RefreshPayload{}, fmt.Errorf("%w: source id is required", ErrInvalidPayload)
	}

	return payload, nil
}
