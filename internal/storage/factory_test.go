package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/p3gm/internal/storage/implementations/file"
	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/interfaces"
	"github.com/inferloop/p3gm/pkg/models"
)

func TestFactoryCreatesFileStore(t *testing.T) {
	factory := NewFactory(quietLogger())
	assert.Equal(t, []string{TypeFile, TypeRedis, TypeS3}, factory.GetSupportedTypes())
	assert.True(t, factory.IsSupported(TypeS3))
	assert.True(t, factory.IsSupported(TypeRedis))

	cfg := DefaultConfig()
	cfg.File = file.FileStorageConfig{BasePath: t.TempDir()}
	store, err := factory.CreateStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(context.Background(), &models.ModelSnapshot{ID: "m1"}))
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
}

func TestFactoryUnsupportedType(t *testing.T) {
	factory := NewFactory(quietLogger())
	_, err := factory.CreateStore(context.Background(), &Config{Type: "postgres"})
	assert.ErrorIs(t, err, errors.ErrStorageNotFound)
}

func TestFactoryS3RequiresBucket(t *testing.T) {
	factory := NewFactory(quietLogger())
	_, err := factory.CreateStore(context.Background(), &Config{Type: TypeS3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 bucket is required")
}

func TestFactoryRedisRequiresAddress(t *testing.T) {
	factory := NewFactory(quietLogger())
	_, err := factory.CreateStore(context.Background(), &Config{Type: TypeRedis})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Redis address or cluster addresses are required")
}

func TestFactoryRegisterStorage(t *testing.T) {
	factory := NewFactory(quietLogger())
	assert.Error(t, factory.RegisterStorage("", nil))
	assert.Error(t, factory.RegisterStorage("memory", nil))

	require.NoError(t, factory.RegisterStorage("memory", func(context.Context, *Config, *logrus.Logger) (interfaces.ModelStore, error) {
		return &memoryStore{}, nil
	}))
	store, err := factory.CreateStore(context.Background(), &Config{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memoryStore{}, store)
}

func TestInstrumentRecordsOperations(t *testing.T) {
	recorder := &fakeRecorder{}
	store := Instrument(&memoryStore{}, "memory", recorder)

	require.NoError(t, store.Save(context.Background(), &models.ModelSnapshot{ID: "m"}))
	_, err := store.Load(context.Background(), "missing")
	assert.Error(t, err)
	_, err = store.List(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Delete(context.Background(), "m"))
	require.NoError(t, store.Close())

	assert.Equal(t, []string{"save:ok", "load:error", "list:ok", "delete:ok"}, recorder.ops)
	assert.Same(t, recorder, Instrument(store, "x", recorder).(*InstrumentedStore).recorder)

	plain := &memoryStore{}
	assert.Same(t, plain, Instrument(plain, "memory", nil))
}

// Helper functions

type fakeRecorder struct{ ops []string }

func (f *fakeRecorder) RecordStorageOperation(_, operation, status string, _ time.Duration) {
	f.ops = append(f.ops, operation+":"+status)
}

type memoryStore struct {
	snapshots map[string]*models.ModelSnapshot
}

func (m *memoryStore) Save(_ context.Context, s *models.ModelSnapshot) error {
	if m.snapshots == nil {
		m.snapshots = make(map[string]*models.ModelSnapshot)
	}
	m.snapshots[s.ID] = s
	return nil
}

func (m *memoryStore) Load(_ context.Context, id string) (*models.ModelSnapshot, error) {
	s, ok := m.snapshots[id]
	if !ok {
		return nil, errors.ErrModelNotFound
	}
	return s, nil
}

func (m *memoryStore) List(context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	delete(m.snapshots, id)
	return nil
}

func (m *memoryStore) Close() error { return nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
