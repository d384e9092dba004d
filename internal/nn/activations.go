package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ReLU returns max(x, 0) elementwise.
func ReLU(x mat.Matrix) *mat.Dense {
	out := mat.DenseCopyOf(x)
	out.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, out)
	return out
}

// ReLUBackward masks dy with the sign of the pre-activation.
func ReLUBackward(pre, dy mat.Matrix) *mat.Dense {
	out := mat.DenseCopyOf(dy)
	out.Apply(func(i, j int, v float64) float64 {
		if pre.At(i, j) > 0 {
			return v
		}
		return 0
	}, out)
	return out
}

// Sigmoid returns 1/(1+exp(-x)) elementwise.
func Sigmoid(x mat.Matrix) *mat.Dense {
	out := mat.DenseCopyOf(x)
	out.Apply(func(_, _ int, v float64) float64 {
		return 1 / (1 + math.Exp(-v))
	}, out)
	return out
}

// SigmoidBackward computes dy ⊙ s(1-s) from the sigmoid output s.
func SigmoidBackward(out, dy mat.Matrix) *mat.Dense {
	grad := mat.DenseCopyOf(dy)
	grad.Apply(func(i, j int, v float64) float64 {
		s := out.At(i, j)
		return v * s * (1 - s)
	}, grad)
	return grad
}
