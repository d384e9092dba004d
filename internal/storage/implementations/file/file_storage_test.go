package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/models"
)

func TestFileStorageRoundTrip(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		storage := createTestStorage(t, compressed)
		ctx := context.Background()

		require.NoError(t, storage.Save(ctx, createTestSnapshot("m2")))
		require.NoError(t, storage.Save(ctx, createTestSnapshot("m1")))

		loaded, err := storage.Load(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "m1", loaded.ID)
		assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, loaded.Parameters["fc1.weight"])
		assert.True(t, loaded.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

		ids, err := storage.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2"}, ids)

		require.NoError(t, storage.Delete(ctx, "m1"))
		_, err = storage.Load(ctx, "m1")
		assert.ErrorIs(t, err, errors.ErrModelNotFound)
		assert.Equal(t, 404, errors.HTTPStatus(err))
		assert.ErrorIs(t, storage.Delete(ctx, "m1"), errors.ErrModelNotFound)
	}
}

func TestFileStorageSwitchesCompression(t *testing.T) {
	dir := t.TempDir()
	plain, err := NewFileStorage(&FileStorageConfig{BasePath: dir}, quietLogger())
	require.NoError(t, err)
	require.NoError(t, plain.Save(context.Background(), createTestSnapshot("m")))

	compressed, err := NewFileStorage(&FileStorageConfig{BasePath: dir, Compression: true}, quietLogger())
	require.NoError(t, err)
	loaded, err := compressed.Load(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, "m", loaded.ID)

	require.NoError(t, compressed.Save(context.Background(), createTestSnapshot("m")))
	_, err = os.Stat(filepath.Join(dir, "m.json"))
	assert.True(t, os.IsNotExist(err))

	ids, err := compressed.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m"}, ids)
}

func TestFileStorageRejectsUnsafeIDs(t *testing.T) {
	storage := createTestStorage(t, false)

	err := storage.Save(context.Background(), createTestSnapshot("../escape"))
	assert.ErrorIs(t, err, errors.ErrInvalidParameters)

	_, err = storage.Load(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, errors.ErrModelNotFound)
}

func TestFileStorageClosedAndCancelled(t *testing.T) {
	storage := createTestStorage(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, storage.Save(ctx, createTestSnapshot("m")), context.Canceled)

	require.NoError(t, storage.Close())
	_, err := storage.List(context.Background())
	assert.Error(t, err)
}

func TestNewFileStorageValidation(t *testing.T) {
	_, err := NewFileStorage(nil, quietLogger())
	assert.Error(t, err)

	_, err = NewFileStorage(&FileStorageConfig{BasePath: filepath.Join(t.TempDir(), "missing")}, quietLogger())
	assert.Error(t, err)

	storage, err := NewFileStorage(&FileStorageConfig{BasePath: filepath.Join(t.TempDir(), "created"), CreateDirs: true}, quietLogger())
	require.NoError(t, err)
	assert.NotNil(t, storage)
}

// Helper functions

func createTestStorage(t *testing.T, compressed bool) *FileStorage {
	t.Helper()
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: t.TempDir(), Compression: compressed}, quietLogger())
	require.NoError(t, err)
	return storage
}

func createTestSnapshot(id string) *models.ModelSnapshot {
	return &models.ModelSnapshot{
		ID:         id,
		CreatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Mode:       "vae",
		InputDim:   2,
		ZDim:       2,
		Parameters: map[string][][]float64{"fc1.weight": {{1, 2}, {3, 4}}},
		Mixture: &models.MixtureSnapshot{
			Weights:   []float64{1},
			Means:     [][]float64{{0, 0}},
			Variances: [][]float64{{1, 1}},
		},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
