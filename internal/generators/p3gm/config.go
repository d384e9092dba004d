package p3gm

import (
	"math"

	"github.com/inferloop/p3gm/internal/dpfit"
	"github.com/inferloop/p3gm/internal/dpsgd"
	"github.com/inferloop/p3gm/internal/generators/vae"
	"github.com/inferloop/p3gm/pkg/constants"
	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/models"
)

// Mode selects the model variant. It is fixed at construction.
type Mode string

const (
	// ModeP3GM fixes the encoder mean to DP PCA and the prior to a DP mixture.
	ModeP3GM Mode = "p3gm"
	// ModeVAE learns the encoder mean against an N(0, I) prior.
	ModeVAE Mode = "vae"
)

// Config contains the hyperparameters of a training run.
type Config struct {
	Mode      Mode   `json:"mode" mapstructure:"mode"`
	ZDim      int    `json:"z_dim" mapstructure:"z_dim"`
	HiddenDim int    `json:"hidden_dim" mapstructure:"hidden_dim"`
	Seed      uint64 `json:"seed" mapstructure:"seed"`

	PCASigma          float64 `json:"pca_sigma" mapstructure:"pca_sigma"`
	MixtureComponents int     `json:"gmm_n_comp" mapstructure:"gmm_n_comp"`
	MixtureIterations int     `json:"gmm_iter" mapstructure:"gmm_iter"`
	MixtureSigma      float64 `json:"gmm_sigma" mapstructure:"gmm_sigma"`

	SGDSigma     float64 `json:"sgd_sigma" mapstructure:"sgd_sigma"`
	ClipNorm     float64 `json:"clip_norm" mapstructure:"clip_norm"`
	Microbatches int     `json:"microbatches" mapstructure:"microbatches"`
	// NoNoise trains with plain steps. The run then carries no privacy
	// guarantee and no report is produced.
	NoNoise bool `json:"no_noise" mapstructure:"no_noise"`
	// ReconstructionOnly trains the autoencoder without the prior term.
	ReconstructionOnly bool `json:"reconstruction_only" mapstructure:"reconstruction_only"`

	Epochs       int     `json:"epochs" mapstructure:"epochs"`
	BatchSize    int     `json:"batch_size" mapstructure:"batch_size"`
	LearningRate float64 `json:"learning_rate" mapstructure:"learning_rate"`

	PretrainIterations   int     `json:"pretrain_iterations" mapstructure:"pretrain_iterations"`
	PretrainBatchSize    int     `json:"pretrain_batch_size" mapstructure:"pretrain_batch_size"`
	PretrainLearningRate float64 `json:"pretrain_learning_rate" mapstructure:"pretrain_learning_rate"`

	Delta float64 `json:"delta" mapstructure:"delta"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Mode:                 ModeP3GM,
		ZDim:                 constants.DefaultZDim,
		HiddenDim:            constants.DefaultHiddenDim,
		PCASigma:             constants.DefaultPCASigma,
		MixtureComponents:    constants.DefaultGMMComponents,
		MixtureIterations:    constants.DefaultGMMIterations,
		MixtureSigma:         constants.DefaultGMMSigma,
		SGDSigma:             constants.DefaultSGDSigma,
		ClipNorm:             constants.DefaultClipNorm,
		Microbatches:         constants.DefaultMicrobatches,
		Epochs:               constants.DefaultEpochs,
		BatchSize:            constants.DefaultBatchSize,
		LearningRate:         constants.DefaultLearningRate,
		PretrainIterations:   constants.DefaultPretrainIterations,
		PretrainBatchSize:    constants.DefaultPretrainBatchSize,
		PretrainLearningRate: constants.DefaultPretrainLR,
		Delta:                constants.DefaultDelta,
	}
}

// applyDefaults fills zero values. Counts where zero is meaningful
// (epochs, mixture iterations, pretrain iterations) are left alone.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.ZDim == 0 {
		c.ZDim = d.ZDim
	}
	if c.HiddenDim == 0 {
		c.HiddenDim = d.HiddenDim
	}
	if c.MixtureComponents == 0 {
		c.MixtureComponents = d.MixtureComponents
	}
	if c.ClipNorm == 0 {
		c.ClipNorm = d.ClipNorm
	}
	if c.Microbatches == 0 {
		c.Microbatches = d.Microbatches
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.LearningRate == 0 {
		c.LearningRate = d.LearningRate
	}
	if c.PretrainBatchSize == 0 {
		c.PretrainBatchSize = d.PretrainBatchSize
	}
	if c.PretrainLearningRate == 0 {
		c.PretrainLearningRate = d.PretrainLearningRate
	}
	if c.Delta == 0 {
		c.Delta = d.Delta
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	verrs := errors.NewValidationErrors()
	if c.Mode != ModeP3GM && c.Mode != ModeVAE {
		verrs.Add("mode", errors.CodeInvalidInput, "must be p3gm or vae", c.Mode)
	}
	if c.ZDim <= 0 {
		verrs.Add("z_dim", errors.CodeOutOfRange, "must be positive", c.ZDim)
	}
	if c.HiddenDim <= 0 {
		verrs.Add("hidden_dim", errors.CodeOutOfRange, "must be positive", c.HiddenDim)
	}
	if c.MixtureComponents <= 0 {
		verrs.Add("gmm_n_comp", errors.CodeOutOfRange, "must be positive", c.MixtureComponents)
	}
	if c.MixtureIterations < 0 {
		verrs.Add("gmm_iter", errors.CodeOutOfRange, "must not be negative", c.MixtureIterations)
	}
	if c.Mode == ModeP3GM {
		if !(c.PCASigma > 0) {
			verrs.Add("pca_sigma", errors.CodeOutOfRange, "must be positive", c.PCASigma)
		}
		if !(c.MixtureSigma > 0) {
			verrs.Add("gmm_sigma", errors.CodeOutOfRange, "must be positive", c.MixtureSigma)
		}
	}
	if !c.NoNoise && !(c.SGDSigma > 0) {
		verrs.Add("sgd_sigma", errors.CodeOutOfRange, "must be positive", c.SGDSigma)
	}
	if c.Epochs < 0 {
		verrs.Add("epochs", errors.CodeOutOfRange, "must not be negative", c.Epochs)
	}
	if c.PretrainIterations < 0 {
		verrs.Add("pretrain_iterations", errors.CodeOutOfRange, "must not be negative", c.PretrainIterations)
	}
	if !(c.Delta > 0 && c.Delta < 1) {
		verrs.Add("delta", errors.CodeOutOfRange, "must be in (0, 1)", c.Delta)
	}
	if err := c.StepConfig().Validate(); err != nil {
		if ve, ok := err.(*errors.ValidationErrors); ok {
			verrs.Errors = append(verrs.Errors, ve.Errors...)
		}
	}
	if verrs.HasErrors() {
		return verrs
	}
	return nil
}

// StepConfig returns the noised-step settings.
func (c *Config) StepConfig() dpsgd.Config {
	return dpsgd.Config{Sigma: c.SGDSigma, ClipNorm: c.ClipNorm, Microbatches: c.Microbatches}
}

// TrainConfig returns the optimisation settings of the noised phase.
func (c *Config) TrainConfig() vae.TrainConfig {
	return vae.TrainConfig{Epochs: c.Epochs, BatchSize: c.BatchSize, LearningRate: c.LearningRate}
}

// PrivacyParams describes a run of this configuration over dataSize rows.
// The lot is the training batch, capped at dataSize as in training.
func (c *Config) PrivacyParams(dataSize int) models.PrivacyParams {
	lot := c.BatchSize
	if dataSize > 0 {
		lot = min(lot, dataSize)
	}
	return models.PrivacyParams{
		LotSize:       lot,
		DataSize:      dataSize,
		SGDSigma:      c.SGDSigma,
		GMMSigma:      c.MixtureSigma,
		PCASigma:      c.PCASigma,
		GMMIterations: c.MixtureIterations,
		GMMComponents: c.MixtureComponents,
		SGDEpochs:     float64(c.Epochs),
		Delta:         c.Delta,
	}
}

// mixtureConfig bounds the PCA features of inputDim-dimensional rows in
// [0, 1]. Centring and projecting onto orthonormal components keeps their
// norm within sqrt(inputDim).
func (c *Config) mixtureConfig(inputDim int) *dpfit.MixtureConfig {
	return &dpfit.MixtureConfig{
		Components:   c.MixtureComponents,
		Iterations:   c.MixtureIterations,
		Sigma:        c.MixtureSigma,
		FeatureBound: math.Sqrt(float64(inputDim)),
		Seed:         c.Seed,
	}
}
