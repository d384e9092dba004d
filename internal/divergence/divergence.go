// Package divergence evaluates the KL divergence between per-sample diagonal
// Gaussians and a fixed diagonal Gaussian mixture.
//
// The divergence to a mixture has no closed form. The value computed here is
// the variational approximation
//
//	KL(q || Σ_k w_k p_k) ≈ -log Σ_k w_k exp(-KL(q || p_k))
//
// evaluated with a max-shifted log-sum-exp. Training gradients depend on this
// exact estimator, so it must not be replaced by a tighter one.
//
// Non-positive variances and mismatched dimensions are programming errors and
// cause a panic.
package divergence

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/pkg/models"
)

// GaussianKL returns KL(N(muQ, varQ) || N(muP, varP)) for diagonal Gaussians.
func GaussianKL(muQ, varQ, muP, varP []float64) float64 {
	var logDet, trace, maha float64
	for j := range muQ {
		logDet += math.Log(varP[j]) - math.Log(varQ[j])
		trace += varQ[j] / varP[j]
		diff := muP[j] - muQ[j]
		maha += diff * diff / varP[j]
	}
	return 0.5 * (logDet - float64(len(muQ)) + trace + maha)
}

// MixtureKL returns the approximate KL divergence of every row Gaussian
// (means[i], vars[i]) to the mixture.
func MixtureKL(means, vars mat.Matrix, prior *models.GaussianMixture) []float64 {
	kl, _, _ := evaluate(means, vars, prior, false)
	return kl
}

// MixtureKLGrad returns MixtureKL together with the gradient of each row's
// value with respect to that row's mean and variance.
func MixtureKLGrad(means, vars mat.Matrix, prior *models.GaussianMixture) (kl []float64, dMeans, dVars *mat.Dense) {
	return evaluate(means, vars, prior, true)
}

func evaluate(means, vars mat.Matrix, prior *models.GaussianMixture, withGrad bool) ([]float64, *mat.Dense, *mat.Dense) {
	n, d := means.Dims()
	if vn, vd := vars.Dims(); vn != n || vd != d {
		panic(fmt.Sprintf("divergence: means are %dx%d but variances are %dx%d", n, d, vn, vd))
	}
	if prior.Dim() != d {
		panic(fmt.Sprintf("divergence: samples have dimension %d but mixture has %d", d, prior.Dim()))
	}

	k := prior.Components()
	logWeights := make([]float64, k)
	compMeans := make([][]float64, k)
	compVars := make([][]float64, k)
	for c := 0; c < k; c++ {
		if !(prior.Weights[c] > 0) {
			panic(fmt.Sprintf("divergence: mixture weight %d is not positive", c))
		}
		logWeights[c] = math.Log(prior.Weights[c])
		compMeans[c] = mat.Row(nil, c, prior.Means)
		compVars[c] = mat.Row(nil, c, prior.Variances)
		assertPositive(compVars[c], "mixture variance")
	}

	out := make([]float64, n)
	var dMeans, dVars *mat.Dense
	if withGrad && n > 0 {
		dMeans = mat.NewDense(n, d, nil)
		dVars = mat.NewDense(n, d, nil)
	}

	terms := make([]float64, k)
	muQ := make([]float64, d)
	varQ := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(muQ, i, means)
		mat.Row(varQ, i, vars)
		assertPositive(varQ, "sample variance")

		for c := 0; c < k; c++ {
			terms[c] = logWeights[c] - GaussianKL(muQ, varQ, compMeans[c], compVars[c])
		}
		lse := floats.LogSumExp(terms)
		out[i] = -lse

		if dMeans == nil {
			continue
		}
		// d(-lse)/d KL_c is the posterior responsibility of component c.
		for c := 0; c < k; c++ {
			r := math.Exp(terms[c] - lse)
			if r == 0 {
				continue
			}
			for j := 0; j < d; j++ {
				dMeans.Set(i, j, dMeans.At(i, j)+r*(muQ[j]-compMeans[c][j])/compVars[c][j])
				dVars.Set(i, j, dVars.At(i, j)+r*0.5*(1/compVars[c][j]-1/varQ[j]))
			}
		}
	}
	return out, dMeans, dVars
}

func assertPositive(v []float64, what string) {
	for j, x := range v {
		if !(x > 0) {
			panic(fmt.Sprintf("divergence: %s %d is not positive: %g", what, j, x))
		}
	}
}
