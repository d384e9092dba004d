package models

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// GaussianMixture is a mixture of K diagonal Gaussians in D dimensions.
// It is fixed once the mixture-fit stage completes.
type GaussianMixture struct {
	Weights   []float64  // K mixing coefficients, positive, summing to 1
	Means     *mat.Dense // K×D
	Variances *mat.Dense // K×D diagonal covariances, all positive
}

// StandardNormal returns the single-component N(0, I) mixture in d dimensions.
func StandardNormal(d int) *GaussianMixture {
	variances := mat.NewDense(1, d, nil)
	for j := 0; j < d; j++ {
		variances.Set(0, j, 1)
	}
	return &GaussianMixture{
		Weights:   []float64{1},
		Means:     mat.NewDense(1, d, nil),
		Variances: variances,
	}
}

// Components returns K.
func (g *GaussianMixture) Components() int {
	return len(g.Weights)
}

// Dim returns D.
func (g *GaussianMixture) Dim() int {
	_, d := g.Means.Dims()
	return d
}

// Validate checks the shape and positivity invariants of the mixture.
func (g *GaussianMixture) Validate() error {
	k := len(g.Weights)
	if k == 0 {
		return fmt.Errorf("mixture has no components")
	}
	if g.Means == nil || g.Variances == nil {
		return fmt.Errorf("mixture means and variances are required")
	}
	mr, mc := g.Means.Dims()
	vr, vc := g.Variances.Dims()
	if mr != k || vr != k || mc != vc {
		return fmt.Errorf("mixture shape mismatch: weights %d, means %dx%d, variances %dx%d", k, mr, mc, vr, vc)
	}
	for i, w := range g.Weights {
		if !(w > 0) {
			return fmt.Errorf("mixture weight %d is not positive: %g", i, w)
		}
	}
	if sum := floats.Sum(g.Weights); math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("mixture weights sum to %g, not 1", sum)
	}
	for i := 0; i < vr; i++ {
		for j := 0; j < vc; j++ {
			if !(g.Variances.At(i, j) > 0) {
				return fmt.Errorf("mixture variance (%d,%d) is not positive", i, j)
			}
		}
	}
	return nil
}

// Sample draws n > 0 points from the mixture.
func (g *GaussianMixture) Sample(n int, rng *rand.Rand) *mat.Dense {
	d := g.Dim()
	out := mat.NewDense(n, d, nil)
	picker := distuv.NewCategorical(g.Weights, rng)
	for i := 0; i < n; i++ {
		k := int(picker.Rand())
		for j := 0; j < d; j++ {
			std := math.Sqrt(g.Variances.At(k, j))
			out.Set(i, j, g.Means.At(k, j)+std*rng.NormFloat64())
		}
	}
	return out
}

// Permute returns a copy of the mixture with its components reordered so that
// component i of the result is component order[i] of the receiver.
func (g *GaussianMixture) Permute(order []int) *GaussianMixture {
	k, d := len(order), g.Dim()
	out := &GaussianMixture{
		Weights:   make([]float64, k),
		Means:     mat.NewDense(k, d, nil),
		Variances: mat.NewDense(k, d, nil),
	}
	for i, src := range order {
		out.Weights[i] = g.Weights[src]
		out.Means.SetRow(i, g.Means.RawRowView(src))
		out.Variances.SetRow(i, g.Variances.RawRowView(src))
	}
	return out
}
