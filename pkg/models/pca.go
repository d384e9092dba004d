package models

import (
	"gonum.org/v1/gonum/mat"
)

// PCATransform projects data onto a fixed set of principal components.
type PCATransform struct {
	Mean       []float64  // D_in
	Components *mat.Dense // D_in×D_out, one component per column
}

// InputDim returns D_in.
func (p *PCATransform) InputDim() int {
	r, _ := p.Components.Dims()
	return r
}

// OutputDim returns D_out.
func (p *PCATransform) OutputDim() int {
	_, c := p.Components.Dims()
	return c
}

// Transform returns (x - mean) · components for every row of x.
func (p *PCATransform) Transform(x mat.Matrix) *mat.Dense {
	n, _ := x.Dims()
	centered := mat.DenseCopyOf(x)
	for i := 0; i < n; i++ {
		row := centered.RawRowView(i)
		for j := range row {
			row[j] -= p.Mean[j]
		}
	}
	out := mat.NewDense(n, p.OutputDim(), nil)
	out.Mul(centered, p.Components)
	return out
}

// InverseTransform maps latent rows back to data space: z · componentsᵀ + mean.
func (p *PCATransform) InverseTransform(z mat.Matrix) *mat.Dense {
	n, _ := z.Dims()
	out := mat.NewDense(n, p.InputDim(), nil)
	out.Mul(z, p.Components.T())
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += p.Mean[j]
		}
	}
	return out
}

// Truncate keeps only the first n components.
func (p *PCATransform) Truncate(n int) *PCATransform {
	if n >= p.OutputDim() {
		return p
	}
	cols := mat.DenseCopyOf(p.Components.Slice(0, p.InputDim(), 0, n))
	mean := make([]float64, len(p.Mean))
	copy(mean, p.Mean)
	return &PCATransform{Mean: mean, Components: cols}
}
