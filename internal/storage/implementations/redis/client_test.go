package redis

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/models"
)

func TestNewRedisStorageInvalidConfig(t *testing.T) {
	_, err := NewRedisStorage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Redis config cannot be nil")

	_, err = NewRedisStorage(&RedisConfig{DB: 1}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Redis address or cluster addresses are required")

	_, err = NewRedisStorage(&RedisConfig{ClusterAddrs: []string{"a:6379"}}, logrus.New())
	assert.NoError(t, err)
}

func TestRedisStorageKeys(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379", KeyPrefix: "p3gm"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "p3gm:model:model-1", storage.modelKey("model-1"))
	assert.Equal(t, "p3gm:models", storage.indexKey())

	storage, err = NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "model:model-1", storage.modelKey("model-1"))
}

func TestRedisStorageNotConnected(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)

	_, err = storage.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Redis not connected")
}

func TestRedisStorageRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	storage := createTestStorage(t, fake, time.Hour)
	ctx := context.Background()

	require.NoError(t, storage.Connect(ctx))
	require.NoError(t, storage.Save(ctx, createTestSnapshot("b-model")))
	require.NoError(t, storage.Save(ctx, createTestSnapshot("a-model")))
	assert.Equal(t, time.Hour, fake.ttls["p3gm:model:a-model"])

	loaded, err := storage.Load(ctx, "a-model")
	require.NoError(t, err)
	assert.Equal(t, "a-model", loaded.ID)
	assert.Equal(t, []float64{0.25, 0.75}, loaded.Mixture.Weights)

	ids, err := storage.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-model", "b-model"}, ids)

	require.NoError(t, storage.Delete(ctx, "a-model"))
	_, err = storage.Load(ctx, "a-model")
	assert.ErrorIs(t, err, errors.ErrModelNotFound)
	assert.ErrorIs(t, storage.Delete(ctx, "a-model"), errors.ErrModelNotFound)

	require.NoError(t, storage.Close())
	assert.True(t, fake.closed)
	assert.Error(t, storage.Save(ctx, createTestSnapshot("c-model")))
}

func TestRedisStorageListPrunesExpired(t *testing.T) {
	fake := newFakeRedis()
	storage := createTestStorage(t, fake, time.Minute)
	ctx := context.Background()

	require.NoError(t, storage.Save(ctx, createTestSnapshot("kept")))
	require.NoError(t, storage.Save(ctx, createTestSnapshot("expired")))
	fake.expire("p3gm:model:expired")

	ids, err := storage.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, ids)
	assert.NotContains(t, fake.sets["p3gm:models"], "expired")
}

func TestRedisStorageRejectsUnsafeIDs(t *testing.T) {
	storage := createTestStorage(t, newFakeRedis(), 0)

	err := storage.Save(context.Background(), createTestSnapshot("../escape"))
	assert.ErrorIs(t, err, errors.ErrInvalidParameters)

	_, err = storage.Load(context.Background(), "a/b")
	assert.ErrorIs(t, err, errors.ErrModelNotFound)

	assert.Error(t, storage.Save(context.Background(), nil))
}

func TestRedisStorageConnectFailure(t *testing.T) {
	fake := newFakeRedis()
	fake.pingErr = fmt.Errorf("connection refused")
	storage := createTestStorage(t, fake, 0)

	err := storage.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to connect to Redis")
}

func TestRedisStorageWriteFailure(t *testing.T) {
	fake := newFakeRedis()
	fake.setErr = fmt.Errorf("OOM command not allowed")
	storage := createTestStorage(t, fake, 0)

	err := storage.Save(context.Background(), createTestSnapshot("m1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to write snapshot to Redis")
	assert.Empty(t, fake.sets["p3gm:models"])
}

// Helper functions

func createTestStorage(t *testing.T, client Client, ttl time.Duration) *RedisStorage {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	storage, err := NewRedisStorageWithClient(&RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "p3gm",
		TTL:       ttl,
	}, client, logger)
	require.NoError(t, err)
	return storage
}

func createTestSnapshot(id string) *models.ModelSnapshot {
	return &models.ModelSnapshot{
		ID:        id,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Mode:      "p3gm",
		InputDim:  2,
		ZDim:      1,
		Mixture: &models.MixtureSnapshot{
			Weights:   []float64{0.25, 0.75},
			Means:     [][]float64{{0}, {1}},
			Variances: [][]float64{{1}, {1}},
		},
	}
}

type fakeRedis struct {
	mu      sync.Mutex
	strings map[string]string
	ttls    map[string]time.Duration
	sets    map[string]map[string]struct{}
	pingErr error
	setErr  error
	closed  bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		strings: make(map[string]string),
		ttls:    make(map[string]time.Duration),
		sets:    make(map[string]map[string]struct{}),
	}
}

func (f *fakeRedis) expire(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.strings, key)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.strings[key] = string(v)
	case string:
		f.strings[key] = v
	default:
		return redis.NewStatusResult("", fmt.Errorf("unsupported value %T", value))
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.strings[key]; ok {
			delete(f.strings, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) SAdd(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	var n int64
	for _, m := range members {
		s := fmt.Sprint(m)
		if _, ok := set[s]; !ok {
			set[s] = struct{}{}
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) SRem(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range members {
		s := fmt.Sprint(m)
		if _, ok := f.sets[key][s]; ok {
			delete(f.sets[key], s)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}
