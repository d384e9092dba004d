package vae

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/nn"
)

// Batch holds one forward pass through the full network. Each example's
// loss is its squared reconstruction error plus the objective's
// regulariser.
type Batch struct {
	ae          *Autoencoder
	learnedMean bool

	x, eps           *mat.Dense
	h1pre, h1        *mat.Dense
	mu, logvar       *mat.Dense
	std, variance, z *mat.Dense
	decoder          *DecoderBatch

	kl            []float64
	dKLMu, dKLVar *mat.Dense
}

// Len returns the number of examples.
func (b *Batch) Len() int { return len(b.kl) }

// Values returns the per-example losses.
func (b *Batch) Values() []float64 {
	out := make([]float64, len(b.kl))
	for i := range out {
		out[i] = b.decoder.se[i] + b.kl[i]
	}
	return out
}

// Reconstruction returns the per-example squared errors.
func (b *Batch) Reconstruction() []float64 { return append([]float64(nil), b.decoder.se...) }

// Divergence returns the per-example regulariser values.
func (b *Batch) Divergence() []float64 { return append([]float64(nil), b.kl...) }

// MeanLoss returns the mean of Values.
func (b *Batch) MeanLoss() float64 {
	if b.Len() == 0 {
		return 0
	}
	return floats.Sum(b.Values()) / float64(b.Len())
}

// Backward accumulates the gradient of the mean loss over [lo, hi) into the
// network parameters. With a fixed mean encoder fc21 receives no gradient.
func (b *Batch) Backward(lo, hi int) {
	if hi <= lo {
		return
	}
	a := b.ae
	w := 1 / float64(hi-lo)

	dz := b.decoder.backward(lo, hi)
	_, d := dz.Dims()

	klMu := b.dKLMu.Slice(lo, hi, 0, d)
	klVar := b.dKLVar.Slice(lo, hi, 0, d)
	dMu := mat.NewDense(hi-lo, d, nil)
	dLogvar := mat.NewDense(hi-lo, d, nil)
	for i := 0; i < hi-lo; i++ {
		for j := 0; j < d; j++ {
			g := dz.At(i, j)
			dMu.Set(i, j, g+w*klMu.At(i, j))
			// z = mu + eps·exp(logvar/2) and var = exp(logvar)
			dLogvar.Set(i, j, g*b.eps.At(lo+i, j)*0.5*b.std.At(lo+i, j)+
				w*klVar.At(i, j)*b.variance.At(lo+i, j))
		}
	}

	_, hidden := b.h1.Dims()
	h1 := b.h1.Slice(lo, hi, 0, hidden)
	dh1 := a.fc22.Backward(h1, dLogvar)
	if b.learnedMean {
		dh1.Add(dh1, a.fc21.Backward(h1, dMu))
	}
	dh1pre := nn.ReLUBackward(b.h1pre.Slice(lo, hi, 0, hidden), dh1)

	_, in := b.x.Dims()
	a.fc1.Backward(b.x.Slice(lo, hi, 0, in), dh1pre)
}

// DecoderBatch holds one decoder-only forward pass scored by squared error.
type DecoderBatch struct {
	ae        *Autoencoder
	z, target *mat.Dense
	h3pre, h3 *mat.Dense
	out       *mat.Dense
	se        []float64
}

// Len returns the number of examples.
func (d *DecoderBatch) Len() int { return len(d.se) }

// Values returns the per-example squared errors.
func (d *DecoderBatch) Values() []float64 { return append([]float64(nil), d.se...) }

// Output returns the decoded rows.
func (d *DecoderBatch) Output() *mat.Dense { return d.out }

// MeanLoss returns the mean squared error per example.
func (d *DecoderBatch) MeanLoss() float64 {
	if len(d.se) == 0 {
		return 0
	}
	return floats.Sum(d.se) / float64(len(d.se))
}

// Backward accumulates the gradient of the mean error over [lo, hi) into
// the decoder parameters.
func (d *DecoderBatch) Backward(lo, hi int) {
	if hi > lo {
		d.backward(lo, hi)
	}
}

// backward returns the gradient with respect to z for rows [lo, hi).
func (d *DecoderBatch) backward(lo, hi int) *mat.Dense {
	a := d.ae
	w := 1 / float64(hi-lo)
	_, in := d.out.Dims()
	_, hidden := d.h3.Dims()
	_, zdim := d.z.Dims()

	out := d.out.Slice(lo, hi, 0, in)
	dOut := mat.NewDense(hi-lo, in, nil)
	dOut.Apply(func(i, j int, _ float64) float64 {
		return 2 * w * (out.At(i, j) - d.target.At(lo+i, j))
	}, dOut)

	dh3 := a.fc4.Backward(d.h3.Slice(lo, hi, 0, hidden), nn.SigmoidBackward(out, dOut))
	dh3pre := nn.ReLUBackward(d.h3pre.Slice(lo, hi, 0, hidden), dh3)
	return a.fc3.Backward(d.z.Slice(lo, hi, 0, zdim), dh3pre)
}
