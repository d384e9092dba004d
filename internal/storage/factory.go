// Package storage selects and instruments the model snapshot store.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/p3gm/internal/storage/implementations/file"
	"github.com/inferloop/p3gm/internal/storage/implementations/redis"
	"github.com/inferloop/p3gm/internal/storage/implementations/s3"
	"github.com/inferloop/p3gm/pkg/constants"
	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/interfaces"
)

// Storage types
const (
	TypeFile  = "file"
	TypeRedis = "redis"
	TypeS3    = "s3"
)

// Config selects a backend and carries the settings of every backend.
type Config struct {
	Type  string                 `json:"type" mapstructure:"type"`
	File  file.FileStorageConfig `json:"file" mapstructure:"file"`
	Redis redis.RedisConfig      `json:"redis" mapstructure:"redis"`
	S3    s3.S3Config            `json:"s3" mapstructure:"s3"`
}

// DefaultConfig stores models as files under constants.DefaultModelDir.
func DefaultConfig() *Config {
	return &Config{
		Type: constants.DefaultStorageType,
		File: file.FileStorageConfig{BasePath: constants.DefaultModelDir, CreateDirs: true},
		Redis: redis.RedisConfig{
			Addr:        "localhost:6379",
			DialTimeout: 5 * time.Second,
			PoolSize:    10,
			MaxRetries:  3,
			KeyPrefix:   constants.DefaultS3Prefix,
		},
		S3: s3.S3Config{Region: "us-east-1", Prefix: constants.DefaultS3Prefix, MaxRetries: 3},
	}
}

// CreateFunc builds a connected store from the configuration.
type CreateFunc func(ctx context.Context, config *Config, logger *logrus.Logger) (interfaces.ModelStore, error)

// Factory creates model stores by type
type Factory struct {
	creators map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new storage factory with the file, Redis and S3
// backends registered.
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]CreateFunc),
		logger:   logger,
	}
	factory.registerDefaults()
	return factory
}

// CreateStore creates a store of config.Type
func (f *Factory) CreateStore(ctx context.Context, config *Config) (interfaces.ModelStore, error) {
	if config == nil {
		config = DefaultConfig()
	}

	f.mu.RLock()
	createFunc, exists := f.creators[config.Type]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.WrapError(errors.ErrStorageNotFound, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("Storage type '%s' is not supported", config.Type))
	}

	store, err := createFunc(ctx, config, f.logger)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError,
			fmt.Sprintf("Failed to create %s storage", config.Type))
	}

	f.logger.WithFields(logrus.Fields{
		"storage_type": config.Type,
	}).Info("Created storage instance")
	return store, nil
}

// GetSupportedTypes returns all supported storage types
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for storageType := range f.creators {
		types = append(types, storageType)
	}
	sort.Strings(types)
	return types
}

// RegisterStorage registers a new storage type
func (f *Factory) RegisterStorage(storageType string, createFunc CreateFunc) error {
	if storageType == "" {
		return errors.NewValidationError(errors.CodeMissingField, "Storage type cannot be empty")
	}
	if createFunc == nil {
		return errors.NewValidationError(errors.CodeMissingField, "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[storageType] = createFunc

	f.logger.WithFields(logrus.Fields{
		"storage_type": storageType,
	}).Debug("Registered storage type")
	return nil
}

// IsSupported checks if a storage type is supported
func (f *Factory) IsSupported(storageType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[storageType]
	return exists
}

func (f *Factory) registerDefaults() {
	_ = f.RegisterStorage(TypeFile, func(_ context.Context, config *Config, logger *logrus.Logger) (interfaces.ModelStore, error) {
		cfg := config.File
		return file.NewFileStorage(&cfg, logger)
	})

	_ = f.RegisterStorage(TypeRedis, func(ctx context.Context, config *Config, logger *logrus.Logger) (interfaces.ModelStore, error) {
		cfg := config.Redis
		store, err := redis.NewRedisStorage(&cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Connect(ctx); err != nil {
			return nil, err
		}
		return store, nil
	})

	_ = f.RegisterStorage(TypeS3, func(ctx context.Context, config *Config, logger *logrus.Logger) (interfaces.ModelStore, error) {
		cfg := config.S3
		store, err := s3.NewS3Storage(&cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Connect(ctx); err != nil {
			return nil, err
		}
		return store, nil
	})
}
