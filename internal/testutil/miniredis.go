package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewMiniredis creates an in-memory Redis for unit tests.
// The server is automatically closed when the test completes.
func NewMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	return miniredis.RunT(t)
}

// NewMiniredisClient returns both a miniredis server and a connected client.
// Both are automatically closed when the test completes.
func NewMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, opts := NewMiniredisOptions(t)
	client := redis.NewClient(opts)

	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close miniredis client: %v", err)
		}
	})

	return mr, client
}

// NewMiniredisOptions returns a miniredis server and client options
// pointing at it, for components that build their own clients (asynq).
func NewMiniredisOptions(t *testing.T) (*miniredis.Miniredis, *redis.Options) {
	t.Helper()

	mr := miniredis.RunT(t)

	return mr, &redis.Options{Addr: mr.Addr()}
}
