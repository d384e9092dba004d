package models

import (
	"math"

	"github.com/inferloop/p3gm/pkg/errors"
)

// PrivacyParams are the hyperparameters that determine the privacy cost of a
// full P3GM training run. They never include the data itself.
type PrivacyParams struct {
	LotSize       int     `json:"lot_size" mapstructure:"lot_size"`
	DataSize      int     `json:"data_size" mapstructure:"data_size"`
	SGDSigma      float64 `json:"sgd_sigma" mapstructure:"sgd_sigma"`
	GMMSigma      float64 `json:"gmm_sigma" mapstructure:"gmm_sigma"`
	PCASigma      float64 `json:"pca_sigma" mapstructure:"pca_sigma"`
	GMMIterations int     `json:"gmm_iter" mapstructure:"gmm_iter"`
	GMMComponents int     `json:"gmm_n_comp" mapstructure:"gmm_n_comp"`
	SGDEpochs     float64 `json:"sgd_epoch" mapstructure:"sgd_epoch"`
	Delta         float64 `json:"delta" mapstructure:"delta"`
}

// Validate checks the parameter invariants. Zero SGD epochs is valid.
func (p PrivacyParams) Validate() error {
	verrs := errors.NewValidationErrors()
	if p.LotSize <= 0 {
		verrs.Add("lot_size", errors.CodeOutOfRange, "must be positive", p.LotSize)
	}
	if p.DataSize <= 0 {
		verrs.Add("data_size", errors.CodeOutOfRange, "must be positive", p.DataSize)
	} else if p.LotSize > p.DataSize {
		verrs.Add("lot_size", errors.CodeOutOfRange, "must not exceed data_size", p.LotSize)
	}
	if !(p.SGDSigma > 0) {
		verrs.Add("sgd_sigma", errors.CodeOutOfRange, "must be positive", p.SGDSigma)
	}
	if !(p.GMMSigma > 0) {
		verrs.Add("gmm_sigma", errors.CodeOutOfRange, "must be positive", p.GMMSigma)
	}
	if !(p.PCASigma > 0) {
		verrs.Add("pca_sigma", errors.CodeOutOfRange, "must be positive", p.PCASigma)
	}
	if p.GMMIterations < 0 {
		verrs.Add("gmm_iter", errors.CodeOutOfRange, "must not be negative", p.GMMIterations)
	}
	if p.GMMComponents < 0 {
		verrs.Add("gmm_n_comp", errors.CodeOutOfRange, "must not be negative", p.GMMComponents)
	}
	if p.SGDEpochs < 0 || math.IsNaN(p.SGDEpochs) {
		verrs.Add("sgd_epoch", errors.CodeOutOfRange, "must not be negative", p.SGDEpochs)
	}
	if !(p.Delta > 0 && p.Delta < 1) {
		verrs.Add("delta", errors.CodeOutOfRange, "must be in (0, 1)", p.Delta)
	}
	if verrs.HasErrors() {
		return verrs
	}
	return nil
}

// SamplingRatio is the Poisson sampling probability q = lot / data.
func (p PrivacyParams) SamplingRatio() float64 {
	return float64(p.LotSize) / float64(p.DataSize)
}

// SGDSteps is ceil(epochs · data / lot).
func (p PrivacyParams) SGDSteps() int {
	return int(math.Ceil(p.SGDEpochs * float64(p.DataSize) / float64(p.LotSize)))
}

// GMMSteps counts the noised queries of the mixture fit: each iteration
// releases one mean and one covariance per component plus the weight vector.
func (p PrivacyParams) GMMSteps() int {
	return p.GMMIterations * (2*p.GMMComponents + 1)
}

// StageRatios is each stage's share of the total RDP at the chosen order.
type StageRatios struct {
	PCA float64 `json:"pca"`
	GMM float64 `json:"gmm"`
	SGD float64 `json:"sgd"`
}

// Sum returns PCA + GMM + SGD.
func (r StageRatios) Sum() float64 {
	return r.PCA + r.GMM + r.SGD
}

// PrivacyReport is the certified (epsilon, delta) cost of a training run.
type PrivacyReport struct {
	Epsilon      float64     `json:"epsilon"`
	Delta        float64     `json:"delta"`
	OptimalOrder float64     `json:"optimal_order"`
	Ratios       StageRatios `json:"ratios"`
	SGDSteps     int         `json:"sgd_steps"`
	GMMSteps     int         `json:"gmm_steps"`
	SamplingRate float64     `json:"sampling_rate"`
}
