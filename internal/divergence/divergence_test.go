package divergence

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/pkg/models"
)

func TestGaussianKLIdentical(t *testing.T) {
	mu := []float64{0.3, -1.2}
	v := []float64{0.5, 2.0}
	assert.InDelta(t, 0.0, GaussianKL(mu, v, mu, v), 1e-12)
}

func TestGaussianKLKnownValue(t *testing.T) {
	// KL(N(1, 1) || N(0, 1)) = 0.5
	assert.InDelta(t, 0.5, GaussianKL([]float64{1}, []float64{1}, []float64{0}, []float64{1}), 1e-12)
	// KL(N(0, 1) || N(0, 2)) = 0.5 * (log 2 - 1 + 0.5)
	expected := 0.5 * (math.Log(2) - 1 + 0.5)
	assert.InDelta(t, expected, GaussianKL([]float64{0}, []float64{1}, []float64{0}, []float64{2}), 1e-12)
}

func TestMixtureKLSingleMatchingComponentIsZero(t *testing.T) {
	means := mat.NewDense(3, 2, []float64{0.1, 0.2, 0.1, 0.2, 0.1, 0.2})
	vars := mat.NewDense(3, 2, []float64{0.5, 1.5, 0.5, 1.5, 0.5, 1.5})
	prior := &models.GaussianMixture{
		Weights:   []float64{1},
		Means:     mat.NewDense(1, 2, []float64{0.1, 0.2}),
		Variances: mat.NewDense(1, 2, []float64{0.5, 1.5}),
	}

	kl := MixtureKL(means, vars, prior)
	require.Len(t, kl, 3)
	for _, v := range kl {
		assert.InDelta(t, 0.0, v, 1e-12)
	}
}

func TestMixtureKLSingleComponentIsExact(t *testing.T) {
	means := mat.NewDense(2, 3, []float64{0.5, -0.5, 1, 2, 0, -1})
	vars := mat.NewDense(2, 3, []float64{0.3, 0.7, 1.1, 2, 0.1, 0.9})
	prior := models.StandardNormal(3)

	kl := MixtureKL(means, vars, prior)
	for i := 0; i < 2; i++ {
		expected := GaussianKL(mat.Row(nil, i, means), mat.Row(nil, i, vars), []float64{0, 0, 0}, []float64{1, 1, 1})
		assert.InDelta(t, expected, kl[i], 1e-12)
	}
}

func TestMixtureKLPermutationInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	prior := randomMixture(rng, 5, 4)
	means, vars := randomGaussians(rng, 6, 4)

	base := MixtureKL(means, vars, prior)
	for _, order := range [][]int{{4, 3, 2, 1, 0}, {1, 0, 3, 2, 4}, {2, 4, 0, 1, 3}} {
		permuted := MixtureKL(means, vars, prior.Permute(order))
		for i := range base {
			assert.InDelta(t, base[i], permuted[i], 1e-10)
		}
	}
}

func TestMixtureKLStableForSmallVariances(t *testing.T) {
	means := mat.NewDense(1, 2, []float64{3, -3})
	vars := mat.NewDense(1, 2, []float64{1e-8, 1e-8})
	prior := &models.GaussianMixture{
		Weights:   []float64{0.5, 0.5},
		Means:     mat.NewDense(2, 2, []float64{0, 0, 10, 10}),
		Variances: mat.NewDense(2, 2, []float64{1e-6, 1e-6, 1e-6, 1e-6}),
	}

	kl := MixtureKL(means, vars, prior)
	assert.False(t, math.IsNaN(kl[0]))
	assert.False(t, math.IsInf(kl[0], 0))
	assert.Greater(t, kl[0], 0.0)
}

func TestMixtureKLUpperBoundedByClosestComponent(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	prior := randomMixture(rng, 3, 2)
	means, vars := randomGaussians(rng, 4, 2)

	kl := MixtureKL(means, vars, prior)
	for i := range kl {
		mu, v := mat.Row(nil, i, means), mat.Row(nil, i, vars)
		for c := 0; c < prior.Components(); c++ {
			bound := GaussianKL(mu, v, mat.Row(nil, c, prior.Means), mat.Row(nil, c, prior.Variances)) - math.Log(prior.Weights[c])
			assert.LessOrEqual(t, kl[i], bound+1e-12)
		}
	}
}

func TestMixtureKLGradMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	prior := randomMixture(rng, 3, 2)
	means, vars := randomGaussians(rng, 2, 2)

	kl, dMeans, dVars := MixtureKLGrad(means, vars, prior)
	assert.Equal(t, MixtureKL(means, vars, prior), kl)

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			numMean := fd.Derivative(func(x float64) float64 {
				m := mat.DenseCopyOf(means)
				m.Set(i, j, x)
				return MixtureKL(m, vars, prior)[i]
			}, means.At(i, j), central)
			numVar := fd.Derivative(func(x float64) float64 {
				v := mat.DenseCopyOf(vars)
				v.Set(i, j, x)
				return MixtureKL(means, v, prior)[i]
			}, vars.At(i, j), central)

			assert.InDelta(t, numMean, dMeans.At(i, j), 1e-5)
			assert.InDelta(t, numVar, dVars.At(i, j), 1e-5)
		}
	}
}

func TestMixtureKLPanicsOnNonPositiveVariance(t *testing.T) {
	prior := models.StandardNormal(2)
	means := mat.NewDense(1, 2, []float64{0, 0})

	assert.Panics(t, func() {
		MixtureKL(means, mat.NewDense(1, 2, []float64{1, 0}), prior)
	})

	bad := models.StandardNormal(2)
	bad.Variances.Set(0, 1, -1)
	assert.Panics(t, func() {
		MixtureKL(means, mat.NewDense(1, 2, []float64{1, 1}), bad)
	})
}

func TestMixtureKLPanicsOnDimensionMismatch(t *testing.T) {
	assert.Panics(t, func() {
		MixtureKL(mat.NewDense(1, 2, nil), mat.NewDense(1, 3, []float64{1, 1, 1}), models.StandardNormal(2))
	})
	assert.Panics(t, func() {
		MixtureKL(mat.NewDense(1, 3, nil), mat.NewDense(1, 3, []float64{1, 1, 1}), models.StandardNormal(2))
	})
}

func randomMixture(rng *rand.Rand, k, d int) *models.GaussianMixture {
	weights := make([]float64, k)
	var total float64
	for c := range weights {
		weights[c] = 0.1 + rng.Float64()
		total += weights[c]
	}
	for c := range weights {
		weights[c] /= total
	}
	means := mat.NewDense(k, d, nil)
	vars := mat.NewDense(k, d, nil)
	for c := 0; c < k; c++ {
		for j := 0; j < d; j++ {
			means.Set(c, j, rng.NormFloat64())
			vars.Set(c, j, 0.2+rng.Float64())
		}
	}
	return &models.GaussianMixture{Weights: weights, Means: means, Variances: vars}
}

func randomGaussians(rng *rand.Rand, n, d int) (*mat.Dense, *mat.Dense) {
	means := mat.NewDense(n, d, nil)
	vars := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			means.Set(i, j, rng.NormFloat64())
			vars.Set(i, j, 0.2+rng.Float64())
		}
	}
	return means, vars
}

var central = &fd.Settings{Formula: fd.Central}
