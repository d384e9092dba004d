package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/interfaces"
	"github.com/inferloop/p3gm/pkg/models"
)

var _ interfaces.ModelStore = (*RedisStorage)(nil)

// Client is the subset of redis.UniversalClient the store uses.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

// RedisConfig holds configuration for Redis storage
type RedisConfig struct {
	Addr          string        `json:"addr" mapstructure:"addr"`
	Password      string        `json:"password" mapstructure:"password"`
	DB            int           `json:"db" mapstructure:"db"`
	DialTimeout   time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	PoolSize      int           `json:"pool_size" mapstructure:"pool_size"`
	MinIdleConns  int           `json:"min_idle_conns" mapstructure:"min_idle_conns"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	IdleTimeout   time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	TTL           time.Duration `json:"ttl" mapstructure:"ttl"`
	KeyPrefix     string        `json:"key_prefix" mapstructure:"key_prefix"`
	UseClustering bool          `json:"use_clustering" mapstructure:"use_clustering"`
	ClusterAddrs  []string      `json:"cluster_addrs" mapstructure:"cluster_addrs"`
}

// RedisStorage keeps each snapshot as a JSON string and tracks the stored
// IDs in a set.
type RedisStorage struct {
	config *RedisConfig
	client Client
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStorage creates a new Redis storage instance. Connect must be
// called before use.
func NewRedisStorage(config *RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeStorageError, "Redis config cannot be nil")
	}
	if config.Addr == "" && len(config.ClusterAddrs) == 0 {
		return nil, errors.NewStorageError(errors.CodeStorageError, "Redis address or cluster addresses are required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisStorage{config: config, logger: logger}, nil
}

// NewRedisStorageWithClient creates a store on an existing client.
func NewRedisStorageWithClient(config *RedisConfig, client Client, logger *logrus.Logger) (*RedisStorage, error) {
	r, err := NewRedisStorage(config, logger)
	if err != nil {
		return nil, err
	}
	r.client = client
	return r, nil
}

// Connect opens the client if needed and pings the server.
func (r *RedisStorage) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		if r.config.UseClustering && len(r.config.ClusterAddrs) > 0 {
			r.client = redis.NewClusterClient(&redis.ClusterOptions{
				Addrs:        r.config.ClusterAddrs,
				Password:     r.config.Password,
				DialTimeout:  r.config.DialTimeout,
				ReadTimeout:  r.config.ReadTimeout,
				WriteTimeout: r.config.WriteTimeout,
				PoolSize:     r.config.PoolSize,
				MinIdleConns: r.config.MinIdleConns,
				MaxRetries:   r.config.MaxRetries,
				IdleTimeout:  r.config.IdleTimeout,
			})
		} else {
			r.client = redis.NewClient(&redis.Options{
				Addr:         r.config.Addr,
				Password:     r.config.Password,
				DB:           r.config.DB,
				DialTimeout:  r.config.DialTimeout,
				ReadTimeout:  r.config.ReadTimeout,
				WriteTimeout: r.config.WriteTimeout,
				PoolSize:     r.config.PoolSize,
				MinIdleConns: r.config.MinIdleConns,
				MaxRetries:   r.config.MaxRetries,
				IdleTimeout:  r.config.IdleTimeout,
			})
		}
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Failed to connect to Redis")
	}

	r.logger.WithFields(logrus.Fields{
		"addr":       r.config.Addr,
		"db":         r.config.DB,
		"clustering": r.config.UseClustering,
	}).Info("Connected to Redis")
	return nil
}

// Close closes the client
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Failed to close Redis connection")
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// Save writes the snapshot, replacing any previous version, and resets its TTL.
func (r *RedisStorage) Save(ctx context.Context, snapshot *models.ModelSnapshot) error {
	if snapshot == nil {
		return errors.NewValidationError(errors.CodeMissingField, "snapshot is nil")
	}
	if err := models.ValidateModelID(snapshot.ID); err != nil {
		return errors.WrapError(errors.ErrInvalidParameters, errors.ErrorTypeValidation, errors.CodeInvalidInput, err.Error())
	}
	client, err := r.getClient()
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to serialize snapshot")
	}

	if err := client.Set(ctx, r.modelKey(snapshot.ID), data, r.config.TTL).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write snapshot to Redis")
	}
	if err := client.SAdd(ctx, r.indexKey(), snapshot.ID).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to index snapshot")
	}

	r.logger.WithFields(logrus.Fields{
		"model_id": snapshot.ID,
		"bytes":    len(data),
	}).Debug("Model snapshot stored in Redis")
	return nil
}

// Load reads the snapshot with the given ID.
func (r *RedisStorage) Load(ctx context.Context, id string) (*models.ModelSnapshot, error) {
	if err := models.ValidateModelID(id); err != nil {
		return nil, errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound, err.Error())
	}
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	data, err := client.Get(ctx, r.modelKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound,
			fmt.Sprintf("model %s not found", id))
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read snapshot from Redis")
	}

	var snapshot models.ModelSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to decode snapshot")
	}
	return &snapshot, nil
}

// List returns the IDs of all stored snapshots. Entries whose key has
// expired are pruned from the index.
func (r *RedisStorage) List(ctx context.Context) ([]string, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	members, err := client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list Redis index")
	}

	ids := make([]string, 0, len(members))
	for _, id := range members {
		if r.config.TTL > 0 {
			if err := client.Get(ctx, r.modelKey(id)).Err(); err == redis.Nil {
				client.SRem(ctx, r.indexKey(), id)
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the snapshot with the given ID.
func (r *RedisStorage) Delete(ctx context.Context, id string) error {
	if err := models.ValidateModelID(id); err != nil {
		return errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound, err.Error())
	}
	client, err := r.getClient()
	if err != nil {
		return err
	}

	deleted, err := client.Del(ctx, r.modelKey(id)).Result()
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to delete snapshot from Redis")
	}
	if err := client.SRem(ctx, r.indexKey(), id).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to update Redis index")
	}
	if deleted == 0 {
		return errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound,
			fmt.Sprintf("model %s not found", id))
	}
	return nil
}

func (r *RedisStorage) getClient() (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || r.client == nil {
		return nil, errors.NewStorageError(errors.CodeStorageError, "Redis not connected")
	}
	return r.client, nil
}

func (r *RedisStorage) modelKey(id string) string {
	return r.buildKey("model", id)
}

func (r *RedisStorage) indexKey() string {
	return r.buildKey("models")
}

func (r *RedisStorage) buildKey(parts ...string) string {
	if r.config.KeyPrefix != "" {
		parts = append([]string{r.config.KeyPrefix}, parts...)
	}
	return strings.Join(parts, ":")
}
