// Package dpfit holds the differentially private fitters that feed the
// P3GM latent space: a Gaussian-mechanism PCA and a Gaussian mixture fitted
// by noised EM. Both operate on rows scaled into the unit ball, so each
// released statistic has L2 sensitivity at most one. Statistics released
// together by one accounted query share the noise multiplier scaled by
// their joint sensitivity.
package dpfit

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/privacy"
	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/models"
)

// PCAConfig configures GaussianPCA.
type PCAConfig struct {
	Components int     `json:"components" mapstructure:"components"`
	Sigma      float64 `json:"sigma" mapstructure:"sigma"`
	// RowBound is a data-independent bound on row norms. Zero selects
	// sqrt(D), the bound for min-max scaled data.
	RowBound float64 `json:"row_bound" mapstructure:"row_bound"`
	Seed     uint64  `json:"seed" mapstructure:"seed"`
}

// GaussianPCA releases a noisy mean and a noisy second-moment matrix and
// takes the leading eigenvectors of the resulting covariance. The pair is
// one query of joint sensitivity sqrt(2), so both get sigma*sqrt(2) noise.
type GaussianPCA struct {
	config    *PCAConfig
	mechanism *privacy.GaussianMechanism
	logger    *logrus.Logger
}

// NewGaussianPCA creates a DP PCA fitter.
func NewGaussianPCA(config *PCAConfig, logger *logrus.Logger) (*GaussianPCA, error) {
	if config == nil {
		return nil, fmt.Errorf("pca config is required")
	}
	if config.Components <= 0 {
		return nil, errors.NewValidationError(errors.CodeOutOfRange, fmt.Sprintf("pca components must be positive, got %d", config.Components))
	}
	if !(config.Sigma > 0) {
		return nil, errors.NewValidationError(errors.CodeOutOfRange, fmt.Sprintf("pca sigma must be positive, got %g", config.Sigma))
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &GaussianPCA{
		config:    config,
		mechanism: privacy.NewGaussianMechanism(rand.New(rand.NewPCG(config.Seed, config.Seed+1))),
		logger:    logger,
	}, nil
}

// Fit implements interfaces.PCAFitter. At most D components are returned.
func (p *GaussianPCA) Fit(data mat.Matrix) (*models.PCATransform, error) {
	n, d := data.Dims()
	if n == 0 || d == 0 {
		return nil, errors.WrapError(errors.ErrInsufficientData, errors.ErrorTypeTraining, errors.CodeInsufficientData, "pca needs at least one row")
	}

	bound := p.config.RowBound
	if bound <= 0 {
		bound = math.Sqrt(float64(d))
	}
	rows := unitRows(data, bound)

	sum := make([]float64, d)
	second := mat.NewSymDense(d, nil)
	for _, row := range rows {
		floats.Add(sum, row)
		second.SymRankOne(second, 1, mat.NewVecDense(d, row))
	}
	std := p.noiseStd()
	p.mechanism.Perturb(sum, std)
	p.mechanism.PerturbSymmetric(second, std)

	mean := make([]float64, d)
	floats.ScaleTo(mean, 1/float64(n), sum)

	cov := mat.NewSymDense(d, nil)
	cov.ScaleSym(1/float64(n), second)
	cov.SymRankOne(cov, -1, mat.NewVecDense(d, mean))

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil, errors.WrapError(errors.ErrPCAFitFailed, errors.ErrorTypeTraining, errors.CodePCAFailed, "eigendecomposition did not converge")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Eigenvalues come back ascending.
	order := make([]int, d)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	k := min(p.config.Components, d)
	components := mat.NewDense(d, k, nil)
	for c := 0; c < k; c++ {
		for r := 0; r < d; r++ {
			components.Set(r, c, vectors.At(r, order[c]))
		}
	}

	floats.Scale(bound, mean)

	p.logger.WithFields(logrus.Fields{
		"samples":    n,
		"input_dim":  d,
		"components": k,
		"sigma":      p.config.Sigma,
		"noise_std":  std,
		"top_value":  values[order[0]],
	}).Info("DP PCA fitted")

	return &models.PCATransform{Mean: mean, Components: components}, nil
}

func (p *GaussianPCA) noiseStd() float64 {
	return p.config.Sigma * math.Sqrt2
}

// unitRows scales rows by 1/bound and clips them to the unit ball.
func unitRows(data mat.Matrix, bound float64) [][]float64 {
	n, _ := data.Dims()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := mat.Row(nil, i, data)
		floats.Scale(1/bound, row)
		if norm := floats.Norm(row, 2); norm > 1 {
			floats.Scale(1/norm, row)
		}
		rows[i] = row
	}
	return rows
}
