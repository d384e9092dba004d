package vae

import (
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/divergence"
	"github.com/inferloop/p3gm/pkg/models"
)

// Objective is the latent regulariser added to the reconstruction error.
// It returns one value per row together with the gradients of each value
// with respect to that row's mean and variance.
type Objective interface {
	Regularize(means, variances *mat.Dense) (values []float64, dMeans, dVars *mat.Dense)
}

// MeanEncoder replaces the learned encoder mean with a fixed projection.
type MeanEncoder interface {
	Transform(x mat.Matrix) *mat.Dense
}

// PriorKL regularises towards a Gaussian-mixture prior with the
// approximate mixture KL.
type PriorKL struct {
	Prior *models.GaussianMixture
}

// Regularize implements Objective.
func (o PriorKL) Regularize(means, variances *mat.Dense) ([]float64, *mat.Dense, *mat.Dense) {
	return divergence.MixtureKLGrad(means, variances, o.Prior)
}

// ZeroKL drops the regulariser, leaving a plain reconstruction loss.
type ZeroKL struct{}

// Regularize implements Objective.
func (ZeroKL) Regularize(means, _ *mat.Dense) ([]float64, *mat.Dense, *mat.Dense) {
	n, d := means.Dims()
	if n == 0 {
		return nil, nil, nil
	}
	return make([]float64, n), mat.NewDense(n, d, nil), mat.NewDense(n, d, nil)
}
