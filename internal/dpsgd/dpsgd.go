// Package dpsgd implements the differentially private gradient step: the
// batch is split into microbatches, each microbatch gradient is clipped to
// a global L2 norm, the clipped gradients are summed, Gaussian noise scaled
// to one clip-worth of sensitivity is added and the sum is averaged.
package dpsgd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/nn"
	"github.com/inferloop/p3gm/pkg/errors"
)

// clipEpsilon keeps the clip coefficient finite for zero gradients.
const clipEpsilon = 1e-6

// Losses is a batch of per-example losses. Backward must accumulate into
// the model parameters the gradient of the mean loss over examples [lo, hi).
type Losses interface {
	Len() int
	Backward(lo, hi int)
}

// NoiseSource perturbs a gradient matrix with N(0, std²) entries.
type NoiseSource interface {
	PerturbDense(m *mat.Dense, std float64)
}

// Config holds the noised-step hyperparameters.
type Config struct {
	Sigma        float64 `json:"sigma" mapstructure:"sigma"`
	ClipNorm     float64 `json:"clip_norm" mapstructure:"clip_norm"`
	Microbatches int     `json:"microbatches" mapstructure:"microbatches"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	verrs := errors.NewValidationErrors()
	if c.Sigma < 0 || math.IsNaN(c.Sigma) {
		verrs.Add("sigma", errors.CodeOutOfRange, "must not be negative", c.Sigma)
	}
	if !(c.ClipNorm > 0) {
		verrs.Add("clip_norm", errors.CodeOutOfRange, "must be positive", c.ClipNorm)
	}
	if c.Microbatches < 1 {
		verrs.Add("microbatches", errors.CodeOutOfRange, "must be at least 1", c.Microbatches)
	}
	if verrs.HasErrors() {
		return verrs
	}
	return nil
}

// Microbatch is the half-open example range [Lo, Hi).
type Microbatch struct {
	Lo, Hi int
}

// Empty reports whether the microbatch holds no examples.
func (m Microbatch) Empty() bool { return m.Hi <= m.Lo }

// Partition splits n examples into m contiguous microbatches of size
// ceil(n/m). Trailing microbatches may be empty.
func Partition(n, m int) []Microbatch {
	if m < 1 {
		panic(fmt.Sprintf("dpsgd: microbatch count must be positive, got %d", m))
	}
	size := (n + m - 1) / m
	out := make([]Microbatch, m)
	for i := range out {
		lo := min(i*size, n)
		hi := min((i+1)*size, n)
		out[i] = Microbatch{Lo: lo, Hi: hi}
	}
	return out
}

// ClipGradNorm scales the gradients of params jointly so that their global
// L2 norm does not exceed maxNorm. Parameters without a gradient are
// ignored. It returns the norm before clipping.
func ClipGradNorm(params []*nn.Parameter, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		n := mat.Norm(p.Grad, 2)
		sq += n * n
	}
	total := math.Sqrt(sq)

	coef := maxNorm / (total + clipEpsilon)
	if coef < 1 {
		for _, p := range params {
			if p.Grad != nil {
				p.Grad.Scale(coef, p.Grad)
			}
		}
	}
	return total
}

// StepStats describes one noised step.
type StepStats struct {
	Microbatches int
	Skipped      int
	Touched      int
	MeanNorm     float64
	ClippedCount int
}

// NoisedStep leaves the noised, averaged gradient in every parameter of
// model that received a gradient from at least one microbatch. Parameters
// that no microbatch touched keep a nil gradient and receive no noise.
func NoisedStep(model nn.Module, losses Losses, cfg Config, noise NoiseSource) (StepStats, error) {
	if err := cfg.Validate(); err != nil {
		return StepStats{}, err
	}

	params := nn.Trainable(model)
	acc := make(map[string]*mat.Dense, len(params))
	touched := make(map[string]bool, len(params))
	for _, p := range params {
		r, c := p.Value.Dims()
		acc[p.Name] = mat.NewDense(r, c, nil)
	}

	stats := StepStats{Microbatches: cfg.Microbatches}
	nn.ZeroGrad(model)

	var normSum float64
	for _, mb := range Partition(losses.Len(), cfg.Microbatches) {
		if mb.Empty() {
			stats.Skipped++
			continue
		}
		losses.Backward(mb.Lo, mb.Hi)

		norm := ClipGradNorm(params, cfg.ClipNorm)
		normSum += norm
		if norm > cfg.ClipNorm {
			stats.ClippedCount++
		}
		for _, p := range params {
			if p.Grad == nil {
				continue
			}
			acc[p.Name].Add(acc[p.Name], p.Grad)
			touched[p.Name] = true
		}
		nn.ZeroGrad(model)
	}

	std := cfg.Sigma * cfg.ClipNorm
	for _, p := range params {
		if !touched[p.Name] {
			continue
		}
		g := acc[p.Name]
		noise.PerturbDense(g, std)
		g.Scale(1/float64(cfg.Microbatches), g)
		p.Grad = g
		stats.Touched++
	}

	if used := stats.Microbatches - stats.Skipped; used > 0 {
		stats.MeanNorm = normSum / float64(used)
	}
	return stats, nil
}

// PlainStep is the non-private step: one backward pass of the mean loss
// over the whole batch with no clipping or noise.
func PlainStep(model nn.Module, losses Losses) {
	nn.ZeroGrad(model)
	if n := losses.Len(); n > 0 {
		losses.Backward(0, n)
	}
}
