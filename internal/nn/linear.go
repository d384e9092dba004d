package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Linear computes y = x·W + b for row-major batches. W is in×out and b is
// a 1×out row.
type Linear struct {
	Weight *Parameter
	Bias   *Parameter
	in     int
	out    int
}

// NewLinear creates a layer named name with He-scaled normal weights and
// zero biases.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	weight := mat.NewDense(in, out, nil)
	scale := math.Sqrt(2.0 / float64(in))
	for r := 0; r < in; r++ {
		for c := 0; c < out; c++ {
			weight.Set(r, c, rng.NormFloat64()*scale)
		}
	}

	return &Linear{
		Weight: NewParameter(name+".weight", weight),
		Bias:   NewParameter(name+".bias", mat.NewDense(1, out, nil)),
		in:     in,
		out:    out,
	}
}

// In returns the input width.
func (l *Linear) In() int { return l.in }

// Out returns the output width.
func (l *Linear) Out() int { return l.out }

// Parameters returns the weight and the bias.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}

// Forward applies the layer to every row of x.
func (l *Linear) Forward(x mat.Matrix) *mat.Dense {
	n, _ := x.Dims()
	y := mat.NewDense(n, l.out, nil)
	y.Mul(x, l.Weight.Value)
	bias := l.Bias.Value.RawRowView(0)
	for i := 0; i < n; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	return y
}

// Backward accumulates the parameter gradients for upstream gradient dy at
// input x and returns the gradient with respect to x.
func (l *Linear) Backward(x, dy mat.Matrix) *mat.Dense {
	n, _ := dy.Dims()

	if l.Weight.Trainable {
		dW := mat.NewDense(l.in, l.out, nil)
		dW.Mul(x.T(), dy)
		l.Weight.AccumulateGrad(dW)
	}
	if l.Bias.Trainable {
		db := mat.NewDense(1, l.out, nil)
		row := db.RawRowView(0)
		for i := 0; i < n; i++ {
			for j := range row {
				row[j] += dy.At(i, j)
			}
		}
		l.Bias.AccumulateGrad(db)
	}

	dx := mat.NewDense(n, l.in, nil)
	dx.Mul(dy, l.Weight.Value.T())
	return dx
}
