package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/inferloop/p3gm/internal/generators/p3gm"
	"github.com/inferloop/p3gm/internal/observability/metrics"
	"github.com/inferloop/p3gm/internal/server"
	"github.com/inferloop/p3gm/internal/storage"
	"github.com/inferloop/p3gm/pkg/constants"
)

// Config is the complete CLI configuration.
type Config struct {
	Log     LogConfig                `mapstructure:"log"`
	Model   p3gm.Config              `mapstructure:"model"`
	Privacy PrivacyConfig            `mapstructure:"privacy"`
	Storage storage.Config           `mapstructure:"storage"`
	Server  server.Config            `mapstructure:"server"`
	Metrics metrics.PrometheusConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PrivacyConfig bounds the total privacy loss of a process. A zero
// MaxEpsilon disables the budget.
type PrivacyConfig struct {
	MaxEpsilon float64 `mapstructure:"max_epsilon"`
	MaxDelta   float64 `mapstructure:"max_delta"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	model := p3gm.DefaultConfig()
	v.SetDefault("log.level", constants.DefaultLogLevel)
	v.SetDefault("log.format", constants.DefaultLogFormat)

	v.SetDefault("model.mode", string(model.Mode))
	v.SetDefault("model.z_dim", model.ZDim)
	v.SetDefault("model.hidden_dim", model.HiddenDim)
	v.SetDefault("model.seed", model.Seed)
	v.SetDefault("model.pca_sigma", model.PCASigma)
	v.SetDefault("model.gmm_n_comp", model.MixtureComponents)
	v.SetDefault("model.gmm_iter", model.MixtureIterations)
	v.SetDefault("model.gmm_sigma", model.MixtureSigma)
	v.SetDefault("model.sgd_sigma", model.SGDSigma)
	v.SetDefault("model.clip_norm", model.ClipNorm)
	v.SetDefault("model.microbatches", model.Microbatches)
	v.SetDefault("model.no_noise", model.NoNoise)
	v.SetDefault("model.reconstruction_only", model.ReconstructionOnly)
	v.SetDefault("model.epochs", model.Epochs)
	v.SetDefault("model.batch_size", model.BatchSize)
	v.SetDefault("model.learning_rate", model.LearningRate)
	v.SetDefault("model.pretrain_iterations", model.PretrainIterations)
	v.SetDefault("model.pretrain_batch_size", model.PretrainBatchSize)
	v.SetDefault("model.pretrain_learning_rate", model.PretrainLearningRate)
	v.SetDefault("model.delta", model.Delta)

	v.SetDefault("privacy.max_epsilon", constants.DefaultMaxEpsilon)
	v.SetDefault("privacy.max_delta", 0)

	store := storage.DefaultConfig()
	v.SetDefault("storage.type", store.Type)
	v.SetDefault("storage.file.base_path", store.File.BasePath)
	v.SetDefault("storage.file.compression", store.File.Compression)
	v.SetDefault("storage.file.create_dirs", store.File.CreateDirs)
	v.SetDefault("storage.redis.addr", store.Redis.Addr)
	v.SetDefault("storage.redis.db", store.Redis.DB)
	v.SetDefault("storage.redis.dial_timeout", store.Redis.DialTimeout)
	v.SetDefault("storage.redis.pool_size", store.Redis.PoolSize)
	v.SetDefault("storage.redis.max_retries", store.Redis.MaxRetries)
	v.SetDefault("storage.redis.ttl", store.Redis.TTL)
	v.SetDefault("storage.redis.key_prefix", store.Redis.KeyPrefix)
	v.SetDefault("storage.s3.region", store.S3.Region)
	v.SetDefault("storage.s3.bucket", store.S3.Bucket)
	v.SetDefault("storage.s3.prefix", store.S3.Prefix)
	v.SetDefault("storage.s3.max_retries", store.S3.MaxRetries)
	v.SetDefault("storage.s3.use_compression", store.S3.UseCompression)

	srv := server.DefaultConfig()
	v.SetDefault("server.host", srv.Host)
	v.SetDefault("server.port", srv.Port)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.max_request_size", srv.MaxRequestSize)
	v.SetDefault("server.enable_cors", srv.EnableCORS)
	v.SetDefault("server.max_sample_count", srv.MaxSampleCount)

	prom := metrics.DefaultPrometheusConfig()
	v.SetDefault("metrics.enabled", prom.Enabled)
	v.SetDefault("metrics.port", prom.Port)
	v.SetDefault("metrics.path", prom.Path)
	v.SetDefault("metrics.namespace", prom.Namespace)
	v.SetDefault("metrics.subsystem", prom.Subsystem)
}

// Load reads cfgFile, or $HOME/.p3gm.yaml when it is empty, into v and
// decodes the result. A missing default file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName("." + constants.AppName)
	}

	v.SetEnvPrefix("P3GM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals v without reading any file.
func Decode(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return config, nil
}

// GetDefaultConfigPath returns the path read when no --config is given.
func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+constants.AppName+".yaml")
}
