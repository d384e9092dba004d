package privacy

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// GaussianMechanism perturbs released values with zero-mean Gaussian noise.
// It is not safe for concurrent use.
type GaussianMechanism struct {
	rng *rand.Rand
}

// NewGaussianMechanism creates a mechanism drawing from rng. A nil rng is
// replaced by a fixed-seed source.
func NewGaussianMechanism(rng *rand.Rand) *GaussianMechanism {
	if rng == nil {
		rng = rand.New(rand.NewPCG(42, 42))
	}
	return &GaussianMechanism{rng: rng}
}

// NewSeededGaussianMechanism is NewGaussianMechanism over a PCG source.
func NewSeededGaussianMechanism(seed uint64) *GaussianMechanism {
	return NewGaussianMechanism(rand.New(rand.NewPCG(seed, seed)))
}

// Perturb adds N(0, std²) to every value in place.
func (g *GaussianMechanism) Perturb(values []float64, std float64) {
	if std == 0 {
		return
	}
	noise := distuv.Normal{Mu: 0, Sigma: std, Src: g.rng}
	for i := range values {
		values[i] += noise.Rand()
	}
}

// PerturbDense adds N(0, std²) to every entry of m in place.
func (g *GaussianMechanism) PerturbDense(m *mat.Dense, std float64) {
	if std == 0 {
		return
	}
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		g.Perturb(m.RawRowView(i), std)
	}
}

// PerturbSymmetric adds symmetric N(0, std²) noise to a square matrix: the
// upper triangle is drawn independently and mirrored.
func (g *GaussianMechanism) PerturbSymmetric(m *mat.SymDense, std float64) {
	if std == 0 {
		return
	}
	noise := distuv.Normal{Mu: 0, Sigma: std, Src: g.rng}
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			m.SetSym(i, j, m.At(i, j)+noise.Rand())
		}
	}
}
