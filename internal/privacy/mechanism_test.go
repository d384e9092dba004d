package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestGaussianMechanismZeroStdIsNoop(t *testing.T) {
	g := NewSeededGaussianMechanism(1)
	values := []float64{1, 2, 3}
	g.Perturb(values, 0)
	assert.Equal(t, []float64{1, 2, 3}, values)
}

func TestGaussianMechanismSeeded(t *testing.T) {
	a := make([]float64, 10)
	b := make([]float64, 10)
	NewSeededGaussianMechanism(7).Perturb(a, 1)
	NewSeededGaussianMechanism(7).Perturb(b, 1)
	assert.Equal(t, a, b)
	assert.NotEqual(t, make([]float64, 10), a)
}

func TestGaussianMechanismMoments(t *testing.T) {
	values := make([]float64, 20000)
	NewSeededGaussianMechanism(3).Perturb(values, 2.5)

	mean, std := stat.MeanStdDev(values, nil)
	assert.InDelta(t, 0.0, mean, 0.1)
	assert.InDelta(t, 2.5, std, 0.1)
}

func TestGaussianMechanismSymmetric(t *testing.T) {
	m := mat.NewSymDense(4, nil)
	NewSeededGaussianMechanism(5).PerturbSymmetric(m, 1)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			assert.Equal(t, m.At(i, j), m.At(j, i))
		}
	}
	assert.NotEqual(t, 0.0, m.At(0, 1))
}

func TestGaussianMechanismDense(t *testing.T) {
	m := mat.NewDense(2, 3, nil)
	NewSeededGaussianMechanism(9).PerturbDense(m, 1)
	assert.NotEqual(t, 0.0, mat.Sum(m))
}
