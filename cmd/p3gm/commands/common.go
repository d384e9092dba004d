package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/inferloop/p3gm/cmd/p3gm/config"
	"github.com/inferloop/p3gm/internal/observability/metrics"
	"github.com/inferloop/p3gm/internal/storage"
	"github.com/inferloop/p3gm/pkg/interfaces"
)

// GlobalOptions holds the persistent root flags.
type GlobalOptions struct {
	ConfigFile string
	Verbose    bool
}

// Load reads the configuration and builds the logger it describes.
func (g *GlobalOptions) Load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(viper.New(), g.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	if g.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return cfg, logger, nil
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return logger
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// openStore creates the configured store, instrumented when pm is set.
func openStore(ctx context.Context, cfg *config.Config, pm *metrics.PrometheusMetrics, logger *logrus.Logger) (interfaces.ModelStore, error) {
	store, err := storage.NewFactory(logger).CreateStore(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}
	if pm == nil {
		return store, nil
	}
	return storage.Instrument(store, cfg.Storage.Type, pm), nil
}

// newMetrics returns nil when metrics are disabled.
func newMetrics(cfg *config.Config, logger *logrus.Logger) (*metrics.PrometheusMetrics, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	return metrics.NewPrometheusMetrics(&cfg.Metrics, logger)
}
