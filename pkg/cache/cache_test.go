package cache

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func counting(calls *atomic.Int32, value string) ComputeFunc {
	return func(_ context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(value), nil
	}
}

func TestCache_GetOrCompute_SingleComputeUnderConcurrency(t *testing.T) {
	c := New(newTestLogger(), nil)

	var calls atomic.Int32

	release := make(chan struct{})
	fn := func(_ context.Context) ([]byte, error) {
		calls.Add(1)
		<-release

		return []byte("value"), nil
	}

	const n = 64

	var wg sync.WaitGroup

	results := make([][]byte, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "source/fao/k", fn)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("value"), results[i])
	}
}

func TestCache_GetOrCompute_WaiterCancellation(t *testing.T) {
	c := New(newTestLogger(), nil)

	var calls atomic.Int32

	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		close(started)
		<-release

		return []byte("value"), ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		_, err := c.GetOrCompute(ctx, "k", fn)
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("waiter did not return after cancellation")
	}

	close(release)

	v, err := c.GetOrCompute(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_GetOrCompute_ErrorsAreNotCached(t *testing.T) {
	c := New(newTestLogger(), nil)
	boom := errors.New("boom")

	var calls atomic.Int32

	fn := func(_ context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}

		return []byte("ok"), nil
	}

	_, err := c.GetOrCompute(context.Background(), "k", fn)
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrCompute(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
	assert.Equal(t, int32(2), calls.Load())
}

func newTestBadger(t *testing.T, dir string, ttl time.Duration) *BadgerStore {
	t.Helper()

	s, err := NewBadgerStore(newTestLogger(), dir, ttl)
	require.NoError(t, err)

	return s
}

func TestCache_BackendHitSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	var calls atomic.Int32

	first := New(newTestLogger(), newTestBadger(t, dir, 0))
	v, err := first.GetOrCompute(context.Background(), "source/fao/abc", counting(&calls, "persisted"))
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), v)
	require.NoError(t, first.Close())

	second := New(newTestLogger(), newTestBadger(t, dir, 0))
	t.Cleanup(func() { _ = second.Close() })

	v, err = second.GetOrCompute(context.Background(), "source/fao/abc", counting(&calls, "recomputed"))
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_MemoryLimit(t *testing.T) {
	tests := []struct {
		name    string
		entries int
		ttl     time.Duration
		wait    time.Duration
		keys    []string
		cached  map[string]bool
	}{
		{
			name:    "least recently used is evicted",
			entries: 2,
			keys:    []string{"a", "b", "c"},
			cached:  map[string]bool{"a": false, "b": true, "c": true},
		},
		{
			name:    "within the bound",
			entries: 4,
			keys:    []string{"a", "b", "c"},
			cached:  map[string]bool{"a": true, "b": true, "c": true},
		},
		{
			name:    "entries expire",
			entries: 4,
			ttl:     20 * time.Millisecond,
			wait:    100 * time.Millisecond,
			keys:    []string{"a", "b"},
			cached:  map[string]bool{"a": false, "b": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(newTestLogger(), nil, WithMemoryLimit(tt.entries, tt.ttl))

			var calls atomic.Int32

			for _, k := range tt.keys {
				_, err := c.GetOrCompute(context.Background(), k, counting(&calls, k))
				require.NoError(t, err)
			}

			time.Sleep(tt.wait)

			for k, want := range tt.cached {
				_, ok := c.fromMemory(k)
				assert.Equal(t, want, ok, k)
			}

			assert.LessOrEqual(t, c.memory.Len(), tt.entries)
		})
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := New(newTestLogger(), newTestBadger(t, t.TempDir(), 0))
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()

	var calls atomic.Int32

	for _, key := range []string{"source/fao/a", "source/fao/b", "source/ssp/a"} {
		_, err := c.GetOrCompute(ctx, key, counting(&calls, key))
		require.NoError(t, err)
	}

	require.Equal(t, int32(3), calls.Load())

	n, err := c.Invalidate(ctx, SourcePrefix("fao"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = c.GetOrCompute(ctx, "source/ssp/a", counting(&calls, "x"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "untouched prefix stays cached")

	v, err := c.GetOrCompute(ctx, "source/fao/a", counting(&calls, "fresh"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), v)
	assert.Equal(t, int32(4), calls.Load())
}

func TestCache_InvalidateDuringComputeDiscardsResult(t *testing.T) {
	c := New(newTestLogger(), nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		<-started
		_, _ = c.Invalidate(ctx, "source/")
		close(release)
	}()

	v, err := c.GetOrCompute(ctx, "source/fao/a", func(_ context.Context) ([]byte, error) {
		close(started)
		<-release

		return []byte("stale"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("stale"), v)

	_, ok := c.fromMemory("source/fao/a")
	assert.False(t, ok)
}

func TestGetOrComputeJSON(t *testing.T) {
	type payload struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}

	c := New(newTestLogger(), nil)

	var calls atomic.Int32

	fn := func(_ context.Context) (payload, error) {
		calls.Add(1)
		return payload{Name: "wheat", Value: 1000}, nil
	}

	for i := 0; i < 2; i++ {
		got, err := GetOrComputeJSON(context.Background(), c, "k", fn)
		require.NoError(t, err)
		assert.Equal(t, payload{Name: "wheat", Value: 1000}, got)
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint("fao", map[string]string{"area": "ES", "item": "wheat"}, 2010)
	require.NoError(t, err)

	b, err := Fingerprint("fao", map[string]string{"item": "wheat", "area": "ES"}, 2010)
	require.NoError(t, err)

	c, err := Fingerprint("fao", map[string]string{"area": "FR", "item": "wheat"}, 2010)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^source/fao/[0-9a-f]{64}$`, a)

	_, err = Fingerprint("fao", make(chan int))
	require.Error(t, err)

	k, err := Key(CubePrefix("wheat"), "Europe")
	require.NoError(t, err)
	assert.Regexp(t, `^cube/wheat/[0-9a-f]{64}$`, k)
	assert.Equal(t, "graph/food/", GraphPrefix("food"))
}

// putRaw stores raw bytes under key, bypassing the envelope.
func putRaw(t *testing.T, s *BadgerStore, key string, raw []byte) {
	t.Helper()

	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	}))
}

func rawExists(t *testing.T, s *BadgerStore, key string) bool {
	t.Helper()

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false
	}

	require.NoError(t, err)

	return true
}

func TestBadgerStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		s := newTestBadger(t, t.TempDir(), 0)
		t.Cleanup(func() { _ = s.Close() })

		require.NoError(t, s.Set(ctx, "source/fao/k", []byte("v")))

		v, found, err := s.Get(ctx, "source/fao/k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("v"), v)

		_, found, err = s.Get(ctx, "source/fao/missing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("corrupt entries are misses and removed", func(t *testing.T) {
		tests := []struct {
			name    string
			corrupt func([]byte) []byte
		}{
			{name: "truncated", corrupt: func(b []byte) []byte { return b[:len(b)/2] }},
			{name: "garbage", corrupt: func(_ []byte) []byte { return []byte("not json") }},
			{name: "foreign key", corrupt: func(_ []byte) []byte {
				out, err := seal("other", []byte("v"), time.Now())
				require.NoError(t, err)

				return out
			}},
			{name: "checksum mismatch", corrupt: func(_ []byte) []byte {
				return []byte(`{"key":"source/fao/k","checksum":"00","payload":"dg=="}`)
			}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s := newTestBadger(t, t.TempDir(), 0)
				t.Cleanup(func() { _ = s.Close() })

				raw, err := seal("source/fao/k", []byte("v"), time.Now())
				require.NoError(t, err)
				putRaw(t, s, "source/fao/k", tt.corrupt(raw))

				_, found, err := s.Get(ctx, "source/fao/k")
				require.NoError(t, err)
				assert.False(t, found)
				assert.False(t, rawExists(t, s, "source/fao/k"))
			})
		}
	})

	t.Run("expired entries are misses", func(t *testing.T) {
		s := newTestBadger(t, t.TempDir(), time.Hour)
		t.Cleanup(func() { _ = s.Close() })

		now := time.Now()
		s.now = func() time.Time { return now }

		require.NoError(t, s.Set(ctx, "k", []byte("v")))

		now = now.Add(30 * time.Minute)
		_, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)

		now = now.Add(time.Hour)
		_, found, err = s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("delete prefix", func(t *testing.T) {
		tests := []struct {
			name   string
			keys   []string
			prefix string
			want   int
			kept   []string
		}{
			{
				name:   "segments are not escaped",
				keys:   []string{"source/a b/1", "source/a b/2", "source/a%2Fb/1", "source/ab/1"},
				prefix: "source/a b/",
				want:   2,
				kept:   []string{"source/a%2Fb/1", "source/ab/1"},
			},
			{
				name:   "more than one batch",
				keys:   numbered("cube/wheat/", deleteBatch+7),
				prefix: "cube/wheat/",
				want:   deleteBatch + 7,
			},
			{
				name:   "no match",
				keys:   []string{"graph/food/1"},
				prefix: "graph/feed/",
				kept:   []string{"graph/food/1"},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s := newTestBadger(t, t.TempDir(), 0)
				t.Cleanup(func() { _ = s.Close() })

				for _, key := range tt.keys {
					require.NoError(t, s.Set(ctx, key, []byte(key)))
				}

				n, err := s.DeletePrefix(ctx, tt.prefix)
				require.NoError(t, err)
				assert.Equal(t, tt.want, n)

				for _, key := range tt.keys {
					_, found, err := s.Get(ctx, key)
					require.NoError(t, err)
					assert.Equal(t, slices.Contains(tt.kept, key), found, key)
				}
			})
		}
	})
}

func numbered(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + strconv.Itoa(i)
	}

	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "file", cfg: Config{Backend: BackendFile, Dir: "x"}},
		{name: "memory", cfg: Config{Backend: BackendMemory}},
		{name: "redis", cfg: Config{Backend: BackendRedis, TTL: time.Minute}},
		{name: "file without dir", cfg: Config{Backend: BackendFile}, wantErr: ErrDirRequired},
		{name: "unknown backend", cfg: Config{Backend: "s3"}, wantErr: ErrInvalidBackend},
		{name: "negative ttl", cfg: Config{Backend: BackendMemory, TTL: -time.Second}, wantErr: ErrInvalidBackend},
		{name: "negative memory entries", cfg: Config{Backend: BackendMemory, MemoryEntries: -1}, wantErr: ErrInvalidBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	c, err := NewFromConfig(newTestLogger(), &Config{Backend: BackendFile, Dir: t.TempDir()}, nil, "")
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, c.backend)
	require.NoError(t, c.Close())

	c, err = NewFromConfig(newTestLogger(), &Config{Backend: BackendMemory}, nil, "")
	require.NoError(t, err)
	assert.Nil(t, c.backend)

	_, err = NewFromConfig(newTestLogger(), &Config{Backend: BackendRedis}, nil, "nis")
	require.ErrorIs(t, err, ErrRedisRequired)
}
