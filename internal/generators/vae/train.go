package vae

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/dpsgd"
	"github.com/inferloop/p3gm/internal/nn"
)

// TrainConfig holds the optimisation settings of a training run.
type TrainConfig struct {
	Epochs       int     `json:"epochs" mapstructure:"epochs"`
	BatchSize    int     `json:"batch_size" mapstructure:"batch_size"`
	LearningRate float64 `json:"learning_rate" mapstructure:"learning_rate"`
}

// TrainingMetrics summarises one epoch.
type TrainingMetrics struct {
	Epoch              int           `json:"epoch"`
	Phase              string        `json:"phase"`
	ReconstructionLoss float64       `json:"reconstruction_loss"`
	DivergenceLoss     float64       `json:"divergence_loss"`
	TotalLoss          float64       `json:"total_loss"`
	Duration           time.Duration `json:"duration"`
}

// StepFunc leaves gradients for one batch in the model parameters.
type StepFunc func(model nn.Module, losses dpsgd.Losses) error

// PlainStep is the StepFunc of ordinary, non-private training.
func PlainStep(model nn.Module, losses dpsgd.Losses) error {
	dpsgd.PlainStep(model, losses)
	return nil
}

// EpochObserver is notified after every completed epoch.
type EpochObserver func(m TrainingMetrics)

// Train fits the network to the rows of data. The step function decides
// how batch gradients are formed; Adam applies them. Every epoch runs
// floor(n/B) full batches of a fresh permutation, with B capped at n, and
// drops the remainder. Cancellation is checked between batches.
func (a *Autoencoder) Train(ctx context.Context, data mat.Matrix, cfg TrainConfig, step StepFunc, observe EpochObserver) ([]TrainingMetrics, error) {
	n, _ := data.Dims()
	if n == 0 {
		return nil, fmt.Errorf("no training data")
	}
	if cfg.BatchSize <= 0 || cfg.Epochs < 0 || !(cfg.LearningRate > 0) {
		return nil, fmt.Errorf("invalid training config: %+v", cfg)
	}
	if step == nil {
		step = PlainStep
	}

	batchSize := min(cfg.BatchSize, n)
	batches := n / batchSize
	seen := float64(batches * batchSize)

	opt := nn.NewAdam(cfg.LearningRate)
	params := nn.Trainable(a)
	history := make([]TrainingMetrics, 0, cfg.Epochs)

	a.logger.WithFields(logrus.Fields{
		"samples":    n,
		"epochs":     cfg.Epochs,
		"batch_size": batchSize,
	}).Info("Starting autoencoder training")

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		startTime := time.Now()
		order := a.rng.Perm(n)
		var recon, div float64

		for b := 0; b < batches; b++ {
			select {
			case <-ctx.Done():
				return history, ctx.Err()
			default:
			}

			lo, hi := b*batchSize, (b+1)*batchSize
			batch := a.Forward(gatherRows(data, order[lo:hi]))
			if err := step(a, batch); err != nil {
				return history, fmt.Errorf("epoch %d: %w", epoch+1, err)
			}
			opt.Step(params)

			recon += floats.Sum(batch.decoder.se)
			div += floats.Sum(batch.kl)
		}

		metrics := TrainingMetrics{
			Epoch:              epoch + 1,
			Phase:              "training",
			ReconstructionLoss: recon / seen,
			DivergenceLoss:     div / seen,
			TotalLoss:          (recon + div) / seen,
			Duration:           time.Since(startTime),
		}
		history = append(history, metrics)
		if observe != nil {
			observe(metrics)
		}

		a.logger.WithFields(logrus.Fields{
			"epoch":    metrics.Epoch,
			"loss":     metrics.TotalLoss,
			"recon":    metrics.ReconstructionLoss,
			"kl":       metrics.DivergenceLoss,
			"duration": metrics.Duration,
		}).Info("Autoencoder training progress")
	}

	a.logger.Info("Autoencoder training completed")
	return history, nil
}

// DecoderSampler produces latent codes and their data-space targets.
type DecoderSampler func(n int) (z, x *mat.Dense)

// TrainDecoder fits only the decoder on synthetic (z, x) pairs with plain
// steps. It returns the mean loss of the last batch.
func (a *Autoencoder) TrainDecoder(ctx context.Context, sample DecoderSampler, iterations, batchSize int, learningRate float64) (float64, error) {
	if iterations < 0 || batchSize <= 0 || !(learningRate > 0) {
		return 0, fmt.Errorf("invalid decoder training settings: iterations=%d batch=%d lr=%g", iterations, batchSize, learningRate)
	}

	opt := nn.NewAdam(learningRate)
	decoder := decoderModule{a}
	params := a.DecoderParameters()
	var last float64

	for it := 0; it < iterations; it++ {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		default:
		}

		z, x := sample(batchSize)
		batch := a.ForwardDecoder(z, x)
		dpsgd.PlainStep(decoder, batch)
		opt.Step(params)
		last = batch.MeanLoss()

		if (it+1)%500 == 0 {
			a.logger.WithFields(logrus.Fields{
				"iteration": it + 1,
				"loss":      last,
			}).Debug("Decoder pretraining progress")
		}
	}
	return last, nil
}

type decoderModule struct{ a *Autoencoder }

func (d decoderModule) Parameters() []*nn.Parameter { return d.a.DecoderParameters() }

func gatherRows(m mat.Matrix, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(r, j))
		}
	}
	return out
}
