package file

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/interfaces"
	"github.com/inferloop/p3gm/pkg/models"
)

var _ interfaces.ModelStore = (*FileStorage)(nil)

const (
	jsonExt = ".json"
	gzipExt = ".json.gz"
)

// FileStorageConfig contains configuration for file-based storage
type FileStorageConfig struct {
	BasePath    string `json:"base_path" mapstructure:"base_path"`
	Compression bool   `json:"compression" mapstructure:"compression"` // gzip compression
	CreateDirs  bool   `json:"create_dirs" mapstructure:"create_dirs"` // auto-create the base path
}

// FileStorage keeps one JSON document per model snapshot under BasePath.
type FileStorage struct {
	config *FileStorageConfig
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewFileStorage creates a new file-based model store
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil || config.BasePath == "" {
		return nil, errors.NewStorageError(errors.CodeStorageError, "file storage base path is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	if config.CreateDirs {
		if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError,
				fmt.Sprintf("failed to create %s", config.BasePath))
		}
	}
	info, err := os.Stat(config.BasePath)
	if err != nil || !info.IsDir() {
		return nil, errors.NewStorageError(errors.CodeStorageError, fmt.Sprintf("%s is not a directory", config.BasePath))
	}

	return &FileStorage{config: config, logger: logger}, nil
}

// Save writes the snapshot atomically through a temporary file.
func (fs *FileStorage) Save(ctx context.Context, snapshot *models.ModelSnapshot) error {
	if snapshot == nil {
		return errors.NewValidationError(errors.CodeMissingField, "snapshot is nil")
	}
	if err := models.ValidateModelID(snapshot.ID); err != nil {
		return errors.WrapError(errors.ErrInvalidParameters, errors.ErrorTypeValidation, errors.CodeInvalidInput, err.Error())
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkOpen(ctx); err != nil {
		return err
	}

	path := fs.pathFor(snapshot.ID, fs.config.Compression)
	tmp, err := os.CreateTemp(fs.config.BasePath, ".tmp-"+snapshot.ID+"-*")
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to create temporary file")
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, snapshot, fs.config.Compression); err != nil {
		tmp.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to encode snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to close temporary file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to move snapshot into place")
	}
	// Drop a stale copy written with the other compression setting.
	_ = os.Remove(fs.pathFor(snapshot.ID, !fs.config.Compression))

	fs.logger.WithFields(logrus.Fields{
		"model_id": snapshot.ID,
		"path":     path,
	}).Debug("Model snapshot saved")
	return nil
}

// Load reads the snapshot with the given ID.
func (fs *FileStorage) Load(ctx context.Context, id string) (*models.ModelSnapshot, error) {
	if err := models.ValidateModelID(id); err != nil {
		return nil, errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound, err.Error())
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkOpen(ctx); err != nil {
		return nil, err
	}

	for _, compressed := range []bool{fs.config.Compression, !fs.config.Compression} {
		f, err := os.Open(fs.pathFor(id, compressed))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to open snapshot")
		}
		defer f.Close()

		snapshot, err := decode(f, compressed)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to decode snapshot")
		}
		return snapshot, nil
	}
	return nil, errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound,
		fmt.Sprintf("model %s not found", id))
}

// List returns the stored model IDs in lexical order.
func (fs *FileStorage) List(ctx context.Context) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkOpen(ctx); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fs.config.BasePath)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to list snapshots")
	}
	seen := make(map[string]bool)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		id := idFromName(e.Name())
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the snapshot with the given ID.
func (fs *FileStorage) Delete(ctx context.Context, id string) error {
	if err := models.ValidateModelID(id); err != nil {
		return errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound, err.Error())
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkOpen(ctx); err != nil {
		return err
	}

	removed := false
	for _, compressed := range []bool{false, true} {
		err := os.Remove(fs.pathFor(id, compressed))
		if err == nil {
			removed = true
		} else if !os.IsNotExist(err) {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to delete snapshot")
		}
	}
	if !removed {
		return errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound,
			fmt.Sprintf("model %s not found", id))
	}
	return nil
}

// Close marks the store closed.
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed = true
	return nil
}

func (fs *FileStorage) checkOpen(ctx context.Context) error {
	if fs.closed {
		return errors.NewStorageError(errors.CodeStorageError, "file storage is closed")
	}
	return ctx.Err()
}

func (fs *FileStorage) pathFor(id string, compressed bool) string {
	if compressed {
		return filepath.Join(fs.config.BasePath, id+gzipExt)
	}
	return filepath.Join(fs.config.BasePath, id+jsonExt)
}

func idFromName(name string) string {
	switch {
	case strings.HasSuffix(name, gzipExt):
		return strings.TrimSuffix(name, gzipExt)
	case strings.HasSuffix(name, jsonExt):
		return strings.TrimSuffix(name, jsonExt)
	default:
		return ""
	}
}

func encode(w io.Writer, snapshot *models.ModelSnapshot, compressed bool) error {
	if !compressed {
		return json.NewEncoder(w).Encode(snapshot)
	}
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(snapshot); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

func decode(r io.Reader, compressed bool) (*models.ModelSnapshot, error) {
	if compressed {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	var snapshot models.ModelSnapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
