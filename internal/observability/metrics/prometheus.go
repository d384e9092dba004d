package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/p3gm/internal/dpsgd"
	"github.com/inferloop/p3gm/internal/generators/vae"
	"github.com/inferloop/p3gm/pkg/constants"
)

// PrometheusMetrics collects training, privacy and service metrics.
// It satisfies the p3gm Recorder interface.
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	server   *http.Server
	config   *PrometheusConfig

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Training metrics
	trainingStage       *prometheus.GaugeVec
	noisedStepsTotal    *prometheus.CounterVec
	skippedMicrobatches *prometheus.CounterVec
	clippedMicrobatches *prometheus.CounterVec
	gradientNorm        *prometheus.GaugeVec
	epochLoss           *prometheus.GaugeVec
	epochDuration       *prometheus.HistogramVec

	// Privacy metrics
	privacyEpsilon *prometheus.GaugeVec

	// Service metrics
	generatedRecordsTotal  *prometheus.CounterVec
	storageOperationsTotal *prometheus.CounterVec
	storageDuration        *prometheus.HistogramVec
	errorsTotal            *prometheus.CounterVec
}

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Port      int    `json:"port" mapstructure:"port"`
	Path      string `json:"path" mapstructure:"path"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
	Subsystem string `json:"subsystem" mapstructure:"subsystem"`
}

// NewPrometheusMetrics creates a new Prometheus metrics instance on its own
// registry.
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = DefaultPrometheusConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}
	pm.initializeMetrics()

	if err := pm.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return pm, nil
}

// Handler serves the registry in the exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start exposes the metrics on a dedicated port, for processes such as a
// CLI training run that have no HTTP server of their own.
func (pm *PrometheusMetrics) Start(_ context.Context) error {
	if !pm.config.Enabled {
		pm.logger.Info("Prometheus metrics disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(pm.config.Path, pm.Handler())
	pm.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", pm.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: constants.DefaultReadTimeout,
	}

	pm.logger.WithFields(logrus.Fields{
		"port": pm.config.Port,
		"path": pm.config.Path,
	}).Info("Starting Prometheus metrics server")

	go func() {
		if err := pm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pm.logger.WithError(err).Error("Prometheus metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (pm *PrometheusMetrics) Stop(ctx context.Context) error {
	if pm.server == nil {
		return nil
	}
	pm.logger.Info("Stopping Prometheus metrics server")
	return pm.server.Shutdown(ctx)
}

// HTTP Metrics
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	pm.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetStage records the pipeline stage of a model as its ordinal.
func (pm *PrometheusMetrics) SetStage(modelID string, stage int) {
	pm.trainingStage.WithLabelValues(modelID).Set(float64(stage))
}

// ObserveStep records one noised gradient step.
func (pm *PrometheusMetrics) ObserveStep(modelID string, stats dpsgd.StepStats) {
	pm.noisedStepsTotal.WithLabelValues(modelID).Inc()
	pm.skippedMicrobatches.WithLabelValues(modelID).Add(float64(stats.Skipped))
	pm.clippedMicrobatches.WithLabelValues(modelID).Add(float64(stats.ClippedCount))
	pm.gradientNorm.WithLabelValues(modelID).Set(stats.MeanNorm)
}

// ObserveEpoch records the losses of a finished epoch.
func (pm *PrometheusMetrics) ObserveEpoch(modelID string, m vae.TrainingMetrics) {
	pm.epochLoss.WithLabelValues(modelID, "reconstruction").Set(m.ReconstructionLoss)
	pm.epochLoss.WithLabelValues(modelID, "divergence").Set(m.DivergenceLoss)
	pm.epochLoss.WithLabelValues(modelID, "total").Set(m.TotalLoss)
	pm.epochDuration.WithLabelValues(modelID).Observe(m.Duration.Seconds())
}

// SetEpsilon records the certified epsilon of a model.
func (pm *PrometheusMetrics) SetEpsilon(modelID string, epsilon float64) {
	pm.privacyEpsilon.WithLabelValues(modelID).Set(epsilon)
}

// Generation Metrics
func (pm *PrometheusMetrics) RecordGeneratedRecords(modelID string, count int) {
	pm.generatedRecordsTotal.WithLabelValues(modelID).Add(float64(count))
}

// Storage Metrics
func (pm *PrometheusMetrics) RecordStorageOperation(backend, operation, status string, duration time.Duration) {
	pm.storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	pm.storageDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// Error Metrics
func (pm *PrometheusMetrics) RecordError(component, errorType string) {
	pm.errorsTotal.WithLabelValues(component, errorType).Inc()
}

func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem

	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	pm.trainingStage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "stage",
			Help:      "Current pipeline stage of a model",
		},
		[]string{"model"},
	)

	pm.noisedStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "noised_steps_total",
			Help:      "Total number of noised gradient steps",
		},
		[]string{"model"},
	)

	pm.skippedMicrobatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "skipped_microbatches_total",
			Help:      "Empty microbatches skipped by noised steps",
		},
		[]string{"model"},
	)

	pm.clippedMicrobatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "clipped_microbatches_total",
			Help:      "Microbatch gradients scaled down to the clip norm",
		},
		[]string{"model"},
	)

	pm.gradientNorm = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "gradient_norm",
			Help:      "Mean pre-clip microbatch gradient norm of the last step",
		},
		[]string{"model"},
	)

	pm.epochLoss = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "epoch_loss",
			Help:      "Mean per-example loss of the last epoch",
		},
		[]string{"model", "component"},
	)

	pm.epochDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "epoch_duration_seconds",
			Help:      "Epoch duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"model"},
	)

	pm.privacyEpsilon = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "privacy",
			Name:      "epsilon",
			Help:      "Certified epsilon of a training run",
		},
		[]string{"model"},
	)

	pm.generatedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generated_records_total",
			Help:      "Total number of synthetic records generated",
		},
		[]string{"model"},
	)

	pm.storageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	pm.storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operation_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"backend", "operation"},
	)

	pm.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"component", "type"},
	)
}

func (pm *PrometheusMetrics) registerMetrics() error {
	metrics := []prometheus.Collector{
		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.trainingStage,
		pm.noisedStepsTotal,
		pm.skippedMicrobatches,
		pm.clippedMicrobatches,
		pm.gradientNorm,
		pm.epochLoss,
		pm.epochDuration,
		pm.privacyEpsilon,
		pm.generatedRecordsTotal,
		pm.storageOperationsTotal,
		pm.storageDuration,
		pm.errorsTotal,
	}

	for _, metric := range metrics {
		if err := pm.registry.Register(metric); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return nil
}

// DefaultPrometheusConfig returns the default metrics configuration.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:   true,
		Port:      constants.DefaultMetricsPort,
		Path:      constants.DefaultMetricsPath,
		Namespace: constants.AppName,
		Subsystem: "server",
	}
}
