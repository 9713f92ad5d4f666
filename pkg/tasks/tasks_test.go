package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethpandaops/nis/pkg/models"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls []string
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, sourceID string) error {
	f.calls = append(f.calls, sourceID)
	return f.err
}

func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestRefreshPayload(t *testing.T) {
	p := RefreshPayload{SourceID: "faostat-qcl", Trigger: TriggerManual}

	assert.Equal(t, "source:refresh:faostat-qcl", p.UniqueID())
	assert.Equal(t, QueueRefresh, p.QueueName())

	task, err := NewRefreshTask(p)
	require.NoError(t, err)
	assert.Equal(t, TypeSourceRefresh, task.Type())

	got, err := ParseRefreshPayload(task)
	require.NoError(t, err)
	assert.Equal(t, p.SourceID, got.SourceID)
	assert.Equal(t, TriggerManual, got.Trigger)
}

func TestRefreshPayload_Invalid(t *testing.T) {
	_, err := NewRefreshTask(RefreshPayload{})
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseRefreshPayload(asynq.NewTask(TypeSourceRefresh, []byte("{")))
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseRefreshPayload(asynq.NewTask(TypeSourceRefresh, []byte(`{"trigger":"manual"}`)))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestHandleRefresh(t *testing.T) {
	tests := []struct {
		name          string
		payload       []byte
		refreshErr    error
		wantErr       bool
		wantSkipRetry bool
		wantCalls     []string
	}{
		{
			name:      "success",
			payload:   []byte(`{"source_id":"fao","trigger":"schedule"}`),
			wantCalls: []string{"fao"},
		},
		{
			name:          "malformed payload is not retried",
			payload:       []byte("not json"),
			wantErr:       true,
			wantSkipRetry: true,
		},
		{
			name:          "unknown source is not retried",
			payload:       []byte(`{"source_id":"gone"}`),
			refreshErr:    fmt.Errorf("%w: gone", models.ErrModelNotFound),
			wantErr:       true,
			wantSkipRetry: true,
			wantCalls:     []string{"gone"},
		},
		{
			name:       "fetch failure is retried",
			payload:    []byte(`{"source_id":"fao"}`),
			refreshErr: errors.New("connection reset"),
			wantErr:    true,
			wantCalls:  []string{"fao"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRefresher{err: tt.refreshErr}
			h := NewTaskHandler(newTestLogger(), r)

			err := h.HandleRefresh(context.Background(), asynq.NewTask(TypeSourceRefresh, tt.payload))
			if !tt.wantErr {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantSkipRetry, errors.Is(err, asynq.SkipRetry))
			}

			assert.Equal(t, tt.wantCalls, r.calls)
		})
	}
}

func TestRoutes(t *testing.T) {
	h := NewTaskHandler(newTestLogger(), &fakeRefresher{})
	routes := h.Routes()

	require.Len(t, routes, 1)
	assert.Contains(t, routes, TypeSourceRefresh)
}

func TestGetWorkerID(t *testing.T) {
	assert.NotEmpty(t, getWorkerID())
}

func TestQueueManager(t *testing.T) {
	t.Skip("Requires Redis connection")

	qm := NewQueueManager(&asynq.RedisClientOpt{Addr: "localhost:6379"}, "nis:refresh")
	defer qm.Close()

	p := RefreshPayload{SourceID: "fao", Trigger: TriggerManual, EnqueuedAt: time.Now()}
	require.NoError(t, qm.EnqueueRefresh(context.Background(), p))
	require.NoError(t, qm.EnqueueRefresh(context.Background(), p))

	pending, err := qm.IsTaskPendingOrRunning(p)
	require.NoError(t, err)
	assert.True(t, pending)
}
