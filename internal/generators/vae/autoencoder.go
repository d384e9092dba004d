// Package vae implements the fully connected variational autoencoder that
// the P3GM model builds on. The forward pass keeps its activations so that
// gradients of any contiguous slice of examples can be backpropagated,
// which is what the microbatched noised step needs.
package vae

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/nn"
	"github.com/inferloop/p3gm/pkg/constants"
	"github.com/inferloop/p3gm/pkg/models"
)

// Config describes the network shape.
type Config struct {
	InputDim  int    `json:"input_dim" mapstructure:"input_dim"`
	HiddenDim int    `json:"hidden_dim" mapstructure:"hidden_dim"`
	ZDim      int    `json:"z_dim" mapstructure:"z_dim"`
	Seed      uint64 `json:"seed" mapstructure:"seed"`
}

// Autoencoder is x → fc1 → ReLU → (fc21 mean, fc22 log-variance) → z →
// fc3 → ReLU → fc4 → sigmoid.
type Autoencoder struct {
	config      *Config
	fc1         *nn.Linear
	fc21        *nn.Linear
	fc22        *nn.Linear
	fc3         *nn.Linear
	fc4         *nn.Linear
	objective   Objective
	meanEncoder MeanEncoder
	rng         *rand.Rand
	logger      *logrus.Logger
}

// NewAutoencoder creates an autoencoder regularised towards N(0, I).
func NewAutoencoder(config *Config, logger *logrus.Logger) (*Autoencoder, error) {
	if config == nil {
		return nil, fmt.Errorf("autoencoder config is required")
	}
	if config.InputDim <= 0 || config.ZDim <= 0 {
		return nil, fmt.Errorf("input and latent dimensions must be positive, got %d and %d", config.InputDim, config.ZDim)
	}
	if config.HiddenDim <= 0 {
		config.HiddenDim = constants.DefaultHiddenDim
	}
	if logger == nil {
		logger = logrus.New()
	}

	rng := rand.New(rand.NewPCG(config.Seed, config.Seed))
	return &Autoencoder{
		config:    config,
		fc1:       nn.NewLinear("fc1", config.InputDim, config.HiddenDim, rng),
		fc21:      nn.NewLinear("fc21", config.HiddenDim, config.ZDim, rng),
		fc22:      nn.NewLinear("fc22", config.HiddenDim, config.ZDim, rng),
		fc3:       nn.NewLinear("fc3", config.ZDim, config.HiddenDim, rng),
		fc4:       nn.NewLinear("fc4", config.HiddenDim, config.InputDim, rng),
		objective: PriorKL{Prior: models.StandardNormal(config.ZDim)},
		rng:       rng,
		logger:    logger,
	}, nil
}

// Config returns the network configuration.
func (a *Autoencoder) Config() Config { return *a.config }

// Parameters returns every layer parameter in a stable order.
func (a *Autoencoder) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, l := range a.layers() {
		params = append(params, l.Parameters()...)
	}
	return params
}

// DecoderParameters returns the parameters of fc3 and fc4.
func (a *Autoencoder) DecoderParameters() []*nn.Parameter {
	return append(a.fc3.Parameters(), a.fc4.Parameters()...)
}

func (a *Autoencoder) layers() []*nn.Linear {
	return []*nn.Linear{a.fc1, a.fc21, a.fc22, a.fc3, a.fc4}
}

// SetObjective replaces the latent regulariser.
func (a *Autoencoder) SetObjective(o Objective) { a.objective = o }

// SetMeanEncoder fixes the encoder mean to a projection of the input. A nil
// encoder restores the learned mean.
func (a *Autoencoder) SetMeanEncoder(e MeanEncoder) { a.meanEncoder = e }

// Rand exposes the generator used for reparameterisation noise.
func (a *Autoencoder) Rand() *rand.Rand { return a.rng }

// Encode returns the latent mean and log-variance of every row of x.
func (a *Autoencoder) Encode(x mat.Matrix) (*mat.Dense, *mat.Dense) {
	h1 := nn.ReLU(a.fc1.Forward(x))
	var mu *mat.Dense
	if a.meanEncoder != nil {
		mu = a.meanEncoder.Transform(x)
	} else {
		mu = a.fc21.Forward(h1)
	}
	return mu, a.fc22.Forward(h1)
}

// Reparameterize draws z = mu + eps·exp(logvar/2).
func (a *Autoencoder) Reparameterize(mu, logvar mat.Matrix) *mat.Dense {
	n, d := mu.Dims()
	z := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			z.Set(i, j, mu.At(i, j)+a.rng.NormFloat64()*math.Exp(0.5*logvar.At(i, j)))
		}
	}
	return z
}

// Decode maps latent rows to data space.
func (a *Autoencoder) Decode(z mat.Matrix) *mat.Dense {
	return nn.Sigmoid(a.fc4.Forward(nn.ReLU(a.fc3.Forward(z))))
}

// Forward runs the full network on x and returns the per-example losses
// ready for backpropagation.
func (a *Autoencoder) Forward(x mat.Matrix) *Batch {
	n, _ := x.Dims()
	eps := mat.NewDense(n, a.config.ZDim, nil)
	for i := 0; i < n; i++ {
		row := eps.RawRowView(i)
		for j := range row {
			row[j] = a.rng.NormFloat64()
		}
	}
	return a.forward(x, eps)
}

func (a *Autoencoder) forward(x mat.Matrix, eps *mat.Dense) *Batch {
	b := &Batch{ae: a, x: mat.DenseCopyOf(x), eps: eps}
	b.h1pre = a.fc1.Forward(b.x)
	b.h1 = nn.ReLU(b.h1pre)
	if a.meanEncoder != nil {
		b.mu = a.meanEncoder.Transform(b.x)
	} else {
		b.mu = a.fc21.Forward(b.h1)
		b.learnedMean = true
	}
	b.logvar = a.fc22.Forward(b.h1)

	n, d := b.mu.Dims()
	b.std = mat.NewDense(n, d, nil)
	b.variance = mat.NewDense(n, d, nil)
	b.z = mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			lv := b.logvar.At(i, j)
			s := math.Exp(0.5 * lv)
			b.std.Set(i, j, s)
			b.variance.Set(i, j, math.Exp(lv))
			b.z.Set(i, j, b.mu.At(i, j)+eps.At(i, j)*s)
		}
	}

	b.decoder = a.forwardDecoder(b.z, b.x)
	b.kl, b.dKLMu, b.dKLVar = a.objective.Regularize(b.mu, b.variance)
	return b
}

// ForwardDecoder runs only the decoder and scores its output against
// target by squared error.
func (a *Autoencoder) ForwardDecoder(z, target mat.Matrix) *DecoderBatch {
	return a.forwardDecoder(mat.DenseCopyOf(z), mat.DenseCopyOf(target))
}

func (a *Autoencoder) forwardDecoder(z, target *mat.Dense) *DecoderBatch {
	d := &DecoderBatch{ae: a, z: z, target: target}
	d.h3pre = a.fc3.Forward(z)
	d.h3 = nn.ReLU(d.h3pre)
	d.out = nn.Sigmoid(a.fc4.Forward(d.h3))

	n, _ := target.Dims()
	d.se = make([]float64, n)
	for i := 0; i < n; i++ {
		o, t := d.out.RawRowView(i), target.RawRowView(i)
		for j := range o {
			diff := o[j] - t[j]
			d.se[i] += diff * diff
		}
	}
	return d
}

// StateDict copies every parameter value, keyed by name.
func (a *Autoencoder) StateDict() map[string][][]float64 {
	out := make(map[string][][]float64)
	for _, p := range a.Parameters() {
		out[p.Name] = models.DenseRows(p.Value)
	}
	return out
}

// LoadStateDict restores parameter values saved by StateDict.
func (a *Autoencoder) LoadStateDict(state map[string][][]float64) error {
	for _, p := range a.Parameters() {
		rows, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.Name)
		}
		m, err := models.DenseFromRows(rows)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		wr, wc := p.Value.Dims()
		if r, c := m.Dims(); r != wr || c != wc {
			return fmt.Errorf("parameter %q is %dx%d, expected %dx%d", p.Name, r, c, wr, wc)
		}
		p.Value = m
	}
	return nil
}
