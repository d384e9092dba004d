// Package p3gm implements the phased generative model: a DP PCA fixes the
// encoder mean, a DP Gaussian mixture fitted on the PCA features becomes
// the prior, the decoder is warm-started on samples of that prior and the
// remaining weights are trained with noised gradient steps. An accountant
// certifies the cost of all three stages before any data is touched.
package p3gm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/dataset"
	"github.com/inferloop/p3gm/internal/dpfit"
	"github.com/inferloop/p3gm/internal/dpsgd"
	"github.com/inferloop/p3gm/internal/generators/vae"
	"github.com/inferloop/p3gm/internal/nn"
	"github.com/inferloop/p3gm/internal/privacy"
	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/interfaces"
	"github.com/inferloop/p3gm/pkg/models"
)

var _ interfaces.Generator = (*Model)(nil)

// Recorder receives training telemetry.
type Recorder interface {
	SetStage(modelID string, stage int)
	ObserveStep(modelID string, stats dpsgd.StepStats)
	ObserveEpoch(modelID string, m vae.TrainingMetrics)
	SetEpsilon(modelID string, epsilon float64)
}

// Option customises a Model.
type Option func(*Model)

// WithBudget charges every certified run against budget.
func WithBudget(budget *privacy.Budget) Option {
	return func(m *Model) { m.budget = budget }
}

// WithRecorder attaches a telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(m *Model) { m.recorder = r }
}

// WithAccountant replaces the default accountant.
func WithAccountant(a *privacy.Accountant) Option {
	return func(m *Model) { m.accountant = a }
}

// WithPCAFitter replaces the DP PCA stage.
func WithPCAFitter(f interfaces.PCAFitter) Option {
	return func(m *Model) { m.pcaFitter = f }
}

// WithMixtureFitter replaces the DP mixture stage.
func WithMixtureFitter(f interfaces.MixtureFitter) Option {
	return func(m *Model) { m.mixtureFitter = f }
}

// WithScaler records the column scaling applied to training data so that
// Generate can undo it.
func WithScaler(s *dataset.Scaler, columns []string) Option {
	return func(m *Model) {
		m.scaler = s
		m.columns = columns
	}
}

// Model is a P3GM (or plain VAE) generator.
type Model struct {
	id        string
	createdAt time.Time
	config    *Config
	stage     Stage

	ae      *vae.Autoencoder
	pca     *models.PCATransform
	mixture *models.GaussianMixture
	scaler  *dataset.Scaler
	columns []string
	report  *models.PrivacyReport
	history []vae.TrainingMetrics

	accountant    *privacy.Accountant
	budget        *privacy.Budget
	pcaFitter     interfaces.PCAFitter
	mixtureFitter interfaces.MixtureFitter
	mechanism     *privacy.GaussianMechanism
	recorder      Recorder
	rng           *rand.Rand
	logger        *logrus.Logger
}

// NewModel creates an untrained model.
func NewModel(config *Config, logger *logrus.Logger, opts ...Option) (*Model, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	config = &cfg
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	m := &Model{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		config:    config,
		stage:     StageUninitialized,
		mechanism: privacy.NewSeededGaussianMechanism(config.Seed + 4),
		rng:       rand.New(rand.NewPCG(config.Seed, config.Seed+3)),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.accountant == nil {
		m.accountant = privacy.NewAccountant(nil, logger)
	}
	return m, nil
}

// ID returns the model identifier.
func (m *Model) ID() string { return m.id }

// Mode returns the model variant.
func (m *Model) Mode() Mode { return m.config.Mode }

// Stage returns the current pipeline stage.
func (m *Model) Stage() Stage { return m.stage }

// Report returns the certified privacy cost, or nil for runs without noise.
func (m *Model) Report() *models.PrivacyReport { return m.report }

// History returns the per-epoch metrics of the noised phase.
func (m *Model) History() []vae.TrainingMetrics { return m.history }

// PCA returns the fitted projection, nil in ModeVAE.
func (m *Model) PCA() *models.PCATransform { return m.pca }

// Prior returns the latent prior.
func (m *Model) Prior() *models.GaussianMixture { return m.mixture }

// Train runs the full pipeline on data, whose rows are expected in [0, 1].
func (m *Model) Train(ctx context.Context, data mat.Matrix) error {
	if m.stage != StageUninitialized {
		return errors.WrapError(errors.ErrStageOutOfOrder, errors.ErrorTypeTraining, errors.CodeTrainingFailed,
			fmt.Sprintf("model is already at stage %s", m.stage))
	}
	n, d := data.Dims()
	if n == 0 || d == 0 {
		return errors.WrapError(errors.ErrInsufficientData, errors.ErrorTypeTraining, errors.CodeInsufficientData, "training data is empty")
	}
	if m.config.ZDim > d {
		m.logger.WithFields(logrus.Fields{
			"z_dim":     m.config.ZDim,
			"input_dim": d,
		}).Warn("Latent dimension exceeds input dimension, clamping")
		m.config.ZDim = d
	}

	startTime := time.Now()
	m.logger.WithFields(logrus.Fields{
		"model_id": m.id,
		"mode":     m.config.Mode,
		"samples":  n,
		"dim":      d,
		"z_dim":    m.config.ZDim,
	}).Info("Starting P3GM training")

	if err := m.certify(n); err != nil {
		return err
	}

	ae, err := vae.NewAutoencoder(&vae.Config{
		InputDim:  d,
		HiddenDim: m.config.HiddenDim,
		ZDim:      m.config.ZDim,
		Seed:      m.config.Seed,
	}, m.logger)
	if err != nil {
		return m.fail(StageUninitialized, err)
	}
	m.ae = ae

	if m.config.Mode == ModeP3GM {
		if err := m.fitPrior(data); err != nil {
			return err
		}
	} else {
		m.mixture = models.StandardNormal(m.config.ZDim)
	}
	m.advance(StageParametersFrozen)

	if m.config.Mode == ModeP3GM && m.config.PretrainIterations > 0 {
		if err := m.pretrainDecoder(ctx); err != nil {
			return err
		}
	}

	if m.config.ReconstructionOnly {
		m.ae.SetObjective(vae.ZeroKL{})
	}

	m.advance(StageNoisedTraining)
	history, err := m.ae.Train(ctx, data, m.config.TrainConfig(), m.stepFunc(), m.observeEpoch)
	m.history = history
	if err != nil {
		return m.fail(StageNoisedTraining, err)
	}
	m.advance(StageTrained)

	m.logger.WithFields(logrus.Fields{
		"model_id": m.id,
		"duration": time.Since(startTime),
	}).Info("P3GM training completed")
	return nil
}

// certify computes the privacy cost of the configured run and charges the
// budget, before any stage reads the data.
func (m *Model) certify(n int) error {
	if m.config.NoNoise {
		m.logger.Warn("Noise is disabled; the trained model carries no privacy guarantee")
		return nil
	}

	params := m.config.PrivacyParams(n)
	var report *models.PrivacyReport
	var err error
	if m.config.Mode == ModeP3GM {
		report, err = m.accountant.Analyze(params)
	} else {
		report, err = m.sgdOnlyReport(params)
	}
	if err != nil {
		return err
	}

	if m.budget != nil {
		if _, err := m.budget.Spend("train "+m.id, report); err != nil {
			return err
		}
	}
	m.report = report
	if m.recorder != nil {
		m.recorder.SetEpsilon(m.id, report.Epsilon)
	}
	return nil
}

// sgdOnlyReport accounts for ModeVAE, where only the noised steps touch
// the data.
func (m *Model) sgdOnlyReport(params models.PrivacyParams) (*models.PrivacyReport, error) {
	orders := m.accountant.Orders()
	rdp := make([]float64, len(orders))
	if steps := params.SGDSteps(); steps > 0 {
		rdp = privacy.ComputeRDP(params.SamplingRatio(), params.SGDSigma, steps, orders)
	}
	eps, delta, order, err := privacy.PrivacySpent(orders, rdp, params.Delta)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypePrivacy, errors.CodeInvalidInput, "privacy conversion failed")
	}
	m.logger.Infof("SGD (MA): %v, %v-DP", eps, delta)
	return &models.PrivacyReport{
		Epsilon:      eps,
		Delta:        delta,
		OptimalOrder: order,
		Ratios:       models.StageRatios{SGD: 1},
		SGDSteps:     params.SGDSteps(),
		SamplingRate: params.SamplingRatio(),
	}, nil
}

func (m *Model) fitPrior(data mat.Matrix) error {
	m.advance(StagePCAFit)
	pcaFitter := m.pcaFitter
	if pcaFitter == nil {
		fitter, err := dpfit.NewGaussianPCA(&dpfit.PCAConfig{
			Components: m.config.ZDim,
			Sigma:      m.config.PCASigma,
			Seed:       m.config.Seed,
		}, m.logger)
		if err != nil {
			return m.fail(StagePCAFit, err)
		}
		pcaFitter = fitter
	}
	pca, err := pcaFitter.Fit(data)
	if err != nil {
		return m.fail(StagePCAFit, err)
	}
	m.pca = pca.Truncate(m.config.ZDim)
	// A PCA of rank below z_dim shrinks the latent space with it.
	if k := m.pca.OutputDim(); k < m.config.ZDim {
		return m.fail(StagePCAFit, fmt.Errorf("pca returned %d components, need %d", k, m.config.ZDim))
	}

	m.advance(StageMixtureFit)
	mixtureFitter := m.mixtureFitter
	if mixtureFitter == nil {
		_, d := data.Dims()
		fitter, err := dpfit.NewGaussianMixture(m.config.mixtureConfig(d), m.logger)
		if err != nil {
			return m.fail(StageMixtureFit, err)
		}
		mixtureFitter = fitter
	}
	mixture, err := mixtureFitter.Fit(m.pca.Transform(data))
	if err != nil {
		return m.fail(StageMixtureFit, err)
	}
	if mixture.Dim() != m.config.ZDim {
		return m.fail(StageMixtureFit, fmt.Errorf("mixture has dimension %d, expected %d", mixture.Dim(), m.config.ZDim))
	}
	m.mixture = mixture

	m.ae.SetMeanEncoder(m.pca)
	m.ae.SetObjective(vae.PriorKL{Prior: m.mixture})
	return nil
}

func (m *Model) pretrainDecoder(ctx context.Context) error {
	sample := func(n int) (*mat.Dense, *mat.Dense) {
		z := m.mixture.Sample(n, m.rng)
		return z, m.pca.InverseTransform(z)
	}
	loss, err := m.ae.TrainDecoder(ctx, sample, m.config.PretrainIterations, m.config.PretrainBatchSize, m.config.PretrainLearningRate)
	if err != nil {
		return m.fail(StageDecoderPretrained, err)
	}
	m.advance(StageDecoderPretrained)
	m.logger.WithFields(logrus.Fields{
		"iterations": m.config.PretrainIterations,
		"loss":       loss,
	}).Info("Decoder pretraining completed")
	return nil
}

func (m *Model) stepFunc() vae.StepFunc {
	if m.config.NoNoise {
		return vae.PlainStep
	}
	cfg := m.config.StepConfig()
	return func(model nn.Module, losses dpsgd.Losses) error {
		stats, err := dpsgd.NoisedStep(model, losses, cfg, m.mechanism)
		if err != nil {
			return err
		}
		if m.recorder != nil {
			m.recorder.ObserveStep(m.id, stats)
		}
		m.logger.WithFields(logrus.Fields{
			"microbatches": stats.Microbatches,
			"skipped":      stats.Skipped,
			"mean_norm":    stats.MeanNorm,
			"clipped":      stats.ClippedCount,
		}).Debug("Noised step")
		return nil
	}
}

func (m *Model) observeEpoch(metrics vae.TrainingMetrics) {
	if m.recorder != nil {
		m.recorder.ObserveEpoch(m.id, metrics)
	}
}

func (m *Model) advance(to Stage) {
	if to <= m.stage {
		panic(fmt.Sprintf("p3gm: stage %s cannot follow %s", to, m.stage))
	}
	m.stage = to
	if m.recorder != nil {
		m.recorder.SetStage(m.id, int(to))
	}
	m.logger.WithFields(logrus.Fields{
		"model_id": m.id,
		"stage":    to.String(),
	}).Info("Stage transition")
}

// fail wraps a stage error once with the stage that produced it.
func (m *Model) fail(stage Stage, err error) error {
	m.logger.WithFields(logrus.Fields{
		"model_id": m.id,
		"stage":    stage.String(),
		"error":    err,
	}).Error("P3GM training failed")
	return errors.WrapError(err, errors.ErrorTypeTraining, errors.CodeTrainingFailed,
		fmt.Sprintf("stage %s failed", stage))
}
