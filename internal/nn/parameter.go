// Package nn provides the dense-layer building blocks of the autoencoder:
// named parameters with gradient buffers, linear layers with explicit
// backward passes, activations and the Adam optimizer.
package nn

import (
	"gonum.org/v1/gonum/mat"
)

// Parameter is a named trainable matrix. Grad stays nil until a backward
// pass reaches the parameter, so callers can tell used parameters from
// dead ones.
type Parameter struct {
	Name      string
	Value     *mat.Dense
	Grad      *mat.Dense
	Trainable bool
}

// NewParameter wraps value as a trainable parameter.
func NewParameter(name string, value *mat.Dense) *Parameter {
	return &Parameter{Name: name, Value: value, Trainable: true}
}

// AccumulateGrad adds g to the gradient, allocating it on first use.
// Frozen parameters ignore the call.
func (p *Parameter) AccumulateGrad(g mat.Matrix) {
	if !p.Trainable {
		return
	}
	if p.Grad == nil {
		p.Grad = mat.DenseCopyOf(g)
		return
	}
	p.Grad.Add(p.Grad, g)
}

// ZeroGrad drops the gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad = nil
}

// Module is anything that owns parameters.
type Module interface {
	Parameters() []*Parameter
}

// ZeroGrad clears the gradients of every parameter of m.
func ZeroGrad(m Module) {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// Trainable filters m's parameters down to the trainable ones.
func Trainable(m Module) []*Parameter {
	var out []*Parameter
	for _, p := range m.Parameters() {
		if p.Trainable {
			out = append(out, p)
		}
	}
	return out
}
