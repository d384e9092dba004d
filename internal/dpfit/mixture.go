package dpfit

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/privacy"
	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/models"
)

const (
	minComponentMass = 1e-3
	// minVariance is the variance floor in unit-ball coordinates.
	minVariance = 1e-4
)

// MixtureConfig configures GaussianMixture.
type MixtureConfig struct {
	Components int     `json:"components" mapstructure:"components"`
	Iterations int     `json:"iterations" mapstructure:"iterations"`
	Sigma      float64 `json:"sigma" mapstructure:"sigma"`
	// FeatureBound is a data-independent bound on feature norms. Zero
	// selects sqrt(D).
	FeatureBound float64 `json:"feature_bound" mapstructure:"feature_bound"`
	Seed         uint64  `json:"seed" mapstructure:"seed"`
}

// GaussianMixture fits a diagonal mixture with EM where every M-step
// releases 2K+1 noised statistics: the component masses, and per
// component the weighted sum and weighted sum of squares.
type GaussianMixture struct {
	config    *MixtureConfig
	rng       *rand.Rand
	mechanism *privacy.GaussianMechanism
	logger    *logrus.Logger
}

// NewGaussianMixture creates a DP mixture fitter.
func NewGaussianMixture(config *MixtureConfig, logger *logrus.Logger) (*GaussianMixture, error) {
	if config == nil {
		return nil, fmt.Errorf("mixture config is required")
	}
	verrs := errors.NewValidationErrors()
	if config.Components <= 0 {
		verrs.Add("components", errors.CodeOutOfRange, "must be positive", config.Components)
	}
	if config.Iterations < 0 {
		verrs.Add("iterations", errors.CodeOutOfRange, "must not be negative", config.Iterations)
	}
	if !(config.Sigma > 0) {
		verrs.Add("sigma", errors.CodeOutOfRange, "must be positive", config.Sigma)
	}
	if verrs.HasErrors() {
		return nil, verrs
	}
	if logger == nil {
		logger = logrus.New()
	}

	rng := rand.New(rand.NewPCG(config.Seed, config.Seed+2))
	return &GaussianMixture{
		config:    config,
		rng:       rng,
		mechanism: privacy.NewGaussianMechanism(rng),
		logger:    logger,
	}, nil
}

// Fit implements interfaces.MixtureFitter.
func (g *GaussianMixture) Fit(features mat.Matrix) (*models.GaussianMixture, error) {
	n, d := features.Dims()
	if n == 0 || d == 0 {
		return nil, errors.WrapError(errors.ErrInsufficientData, errors.ErrorTypeTraining, errors.CodeInsufficientData, "mixture fit needs at least one row")
	}

	bound := g.config.FeatureBound
	if bound <= 0 {
		bound = math.Sqrt(float64(d))
	}
	rows := unitRows(features, bound)

	k := g.config.Components
	mix := g.initialMixture(k, d)
	resp := make([]float64, k)
	logp := make([]float64, k)

	for it := 0; it < g.config.Iterations; it++ {
		mass := make([]float64, k)
		sums := make([][]float64, k)
		squares := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, d)
			squares[c] = make([]float64, d)
		}

		var logLik float64
		for _, x := range rows {
			for c := 0; c < k; c++ {
				logp[c] = math.Log(mix.Weights[c]) + diagLogPDF(x, mix.Means.RawRowView(c), mix.Variances.RawRowView(c))
			}
			lse := floats.LogSumExp(logp)
			logLik += lse
			for c := 0; c < k; c++ {
				resp[c] = math.Exp(logp[c] - lse)
				mass[c] += resp[c]
				for j, v := range x {
					sums[c][j] += resp[c] * v
					squares[c][j] += resp[c] * v * v
				}
			}
		}

		g.mechanism.Perturb(mass, g.config.Sigma)
		for c := 0; c < k; c++ {
			g.mechanism.Perturb(sums[c], g.config.Sigma)
			g.mechanism.Perturb(squares[c], g.config.Sigma)
		}

		mix = g.maximize(mass, sums, squares, d)

		g.logger.WithFields(logrus.Fields{
			"iteration":      it + 1,
			"log_likelihood": logLik / float64(n),
		}).Debug("DP EM iteration")
	}

	// Back to feature coordinates.
	mix.Means.Scale(bound, mix.Means)
	mix.Variances.Scale(bound*bound, mix.Variances)
	if err := mix.Validate(); err != nil {
		return nil, errors.WrapError(errors.ErrMixtureFitFailed, errors.ErrorTypeTraining, errors.CodeMixtureFailed, err.Error())
	}

	g.logger.WithFields(logrus.Fields{
		"samples":    n,
		"dim":        d,
		"components": k,
		"iterations": g.config.Iterations,
		"sigma":      g.config.Sigma,
	}).Info("DP Gaussian mixture fitted")
	return mix, nil
}

// initialMixture draws a data-independent starting point inside the unit
// ball.
func (g *GaussianMixture) initialMixture(k, d int) *models.GaussianMixture {
	spread := 1 / math.Sqrt(float64(d))
	mix := &models.GaussianMixture{
		Weights:   make([]float64, k),
		Means:     mat.NewDense(k, d, nil),
		Variances: mat.NewDense(k, d, nil),
	}
	for c := 0; c < k; c++ {
		mix.Weights[c] = 1 / float64(k)
		for j := 0; j < d; j++ {
			mix.Means.Set(c, j, 0.5*spread*g.rng.NormFloat64())
			mix.Variances.Set(c, j, spread*spread)
		}
	}
	return mix
}

func (g *GaussianMixture) maximize(mass []float64, sums, squares [][]float64, d int) *models.GaussianMixture {
	k := len(mass)
	mix := &models.GaussianMixture{
		Weights:   make([]float64, k),
		Means:     mat.NewDense(k, d, nil),
		Variances: mat.NewDense(k, d, nil),
	}
	for c := 0; c < k; c++ {
		m := math.Max(mass[c], minComponentMass)
		mix.Weights[c] = m
		for j := 0; j < d; j++ {
			// Features lie in the unit ball, so noise pushing the
			// statistics outside it is clamped back.
			mean := math.Max(-1, math.Min(1, sums[c][j]/m))
			v := squares[c][j]/m - mean*mean
			mix.Means.Set(c, j, mean)
			mix.Variances.Set(c, j, math.Min(1, math.Max(v, minVariance)))
		}
	}
	floats.Scale(1/floats.Sum(mix.Weights), mix.Weights)
	return mix
}

func diagLogPDF(x, mean, variance []float64) float64 {
	var s float64
	for j := range x {
		diff := x[j] - mean[j]
		s += math.Log(2*math.Pi*variance[j]) + diff*diff/variance[j]
	}
	return -0.5 * s
}
