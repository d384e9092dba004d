package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam implements the Adam optimization algorithm over named parameters.
// Parameters without a gradient are skipped and keep their moment state.
type Adam struct {
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	t            int
	m            map[string]*mat.Dense
	v            map[string]*mat.Dense
}

// NewAdam creates an Adam optimizer with the usual betas.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		learningRate: learningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
		m:            make(map[string]*mat.Dense),
		v:            make(map[string]*mat.Dense),
	}
}

// Step updates every trainable parameter that carries a gradient.
func (opt *Adam) Step(params []*Parameter) {
	opt.t++
	c1 := 1 - math.Pow(opt.beta1, float64(opt.t))
	c2 := 1 - math.Pow(opt.beta2, float64(opt.t))

	for _, p := range params {
		if !p.Trainable || p.Grad == nil {
			continue
		}
		rows, cols := p.Value.Dims()
		m, ok := opt.m[p.Name]
		if !ok {
			m = mat.NewDense(rows, cols, nil)
			opt.m[p.Name] = m
			opt.v[p.Name] = mat.NewDense(rows, cols, nil)
		}
		v := opt.v[p.Name]

		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				g := p.Grad.At(r, c)
				mt := opt.beta1*m.At(r, c) + (1-opt.beta1)*g
				vt := opt.beta2*v.At(r, c) + (1-opt.beta2)*g*g
				m.Set(r, c, mt)
				v.Set(r, c, vt)

				update := opt.learningRate * (mt / c1) / (math.Sqrt(vt/c2) + opt.epsilon)
				p.Value.Set(r, c, p.Value.At(r, c)-update)
			}
		}
	}
}
