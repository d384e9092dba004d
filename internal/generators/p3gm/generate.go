package p3gm

import (
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/dataset"
	"github.com/inferloop/p3gm/internal/generators/vae"
	"github.com/inferloop/p3gm/internal/privacy"
	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/models"
)

// SampleLatent draws n latent codes from the prior.
func (m *Model) SampleLatent(n int) (*mat.Dense, error) {
	if err := m.checkTrained(n); err != nil {
		return nil, err
	}
	return m.mixture.Sample(n, m.rng), nil
}

// Generate draws n synthetic records in the original column ranges.
func (m *Model) Generate(n int) (*mat.Dense, error) {
	z, err := m.SampleLatent(n)
	if err != nil {
		return nil, err
	}
	x := m.ae.Decode(z)
	if m.scaler != nil {
		x = m.scaler.InverseTransform(x)
	}
	return x, nil
}

// GenerateByPCA draws n latent codes from the prior and maps them back
// through the inverse PCA only, skipping the decoder.
func (m *Model) GenerateByPCA(n int) (z, x *mat.Dense, err error) {
	if m.config.Mode != ModeP3GM || m.pca == nil {
		return nil, nil, errors.NewValidationError(errors.CodeInvalidInput, "PCA generation requires a p3gm-mode model")
	}
	z, err = m.SampleLatent(n)
	if err != nil {
		return nil, nil, err
	}
	x = m.pca.InverseTransform(z)
	if m.scaler != nil {
		x = m.scaler.InverseTransform(x)
	}
	return z, x, nil
}

// Columns returns the names of the generated columns, if known.
func (m *Model) Columns() []string { return m.columns }

func (m *Model) checkTrained(n int) error {
	if m.stage != StageTrained {
		return errors.WrapError(errors.ErrModelNotTrained, errors.ErrorTypeGeneration, errors.CodeModelNotTrained,
			fmt.Sprintf("model is at stage %s", m.stage))
	}
	if n <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, fmt.Sprintf("sample count must be positive, got %d", n))
	}
	return nil
}

// Snapshot exports the trained state.
func (m *Model) Snapshot() (*models.ModelSnapshot, error) {
	if m.stage != StageTrained {
		return nil, errors.WrapError(errors.ErrModelNotTrained, errors.ErrorTypeGeneration, errors.CodeModelNotTrained,
			fmt.Sprintf("model is at stage %s", m.stage))
	}
	cfg := m.ae.Config()
	s := &models.ModelSnapshot{
		ID:         m.id,
		CreatedAt:  m.createdAt,
		Mode:       string(m.config.Mode),
		InputDim:   cfg.InputDim,
		ZDim:       cfg.ZDim,
		HiddenDim:  cfg.HiddenDim,
		Columns:    m.columns,
		Parameters: m.ae.StateDict(),
		PCA:        models.NewPCASnapshot(m.pca),
		Mixture:    models.NewMixtureSnapshot(m.mixture),
		Privacy:    m.report,
	}
	if m.scaler != nil {
		s.Scaler = m.scaler.Snapshot()
	}
	return s, nil
}

// FromSnapshot restores a trained model. The result can generate but not
// be trained again.
func FromSnapshot(s *models.ModelSnapshot, seed uint64, logger *logrus.Logger) (*Model, error) {
	if s == nil {
		return nil, errors.NewValidationError(errors.CodeMissingField, "snapshot is nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	mode := Mode(s.Mode)
	if mode != ModeP3GM && mode != ModeVAE {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("unknown mode %q", s.Mode))
	}
	if s.Mixture == nil {
		return nil, errors.NewValidationError(errors.CodeMissingField, "snapshot has no prior")
	}

	ae, err := vae.NewAutoencoder(&vae.Config{
		InputDim:  s.InputDim,
		HiddenDim: s.HiddenDim,
		ZDim:      s.ZDim,
		Seed:      seed,
	}, logger)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid snapshot shape")
	}
	if err := ae.LoadStateDict(s.Parameters); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid snapshot parameters")
	}

	mixture, err := s.Mixture.Mixture()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid snapshot prior")
	}
	if mixture.Dim() != s.ZDim {
		return nil, errors.NewValidationError(errors.CodeDimensionMismatch,
			fmt.Sprintf("prior has dimension %d, expected %d", mixture.Dim(), s.ZDim))
	}

	config := DefaultConfig()
	config.Mode = mode
	config.ZDim = s.ZDim
	config.HiddenDim = s.HiddenDim
	config.Seed = seed

	m := &Model{
		id:         s.ID,
		createdAt:  s.CreatedAt,
		config:     config,
		stage:      StageTrained,
		ae:         ae,
		mixture:    mixture,
		columns:    s.Columns,
		report:     s.Privacy,
		accountant: privacy.NewAccountant(nil, logger),
		mechanism:  privacy.NewSeededGaussianMechanism(seed + 4),
		rng:        rand.New(rand.NewPCG(seed, seed+3)),
		logger:     logger,
	}

	if s.PCA != nil {
		pca, err := s.PCA.Transform()
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid snapshot pca")
		}
		if pca.InputDim() != s.InputDim || pca.OutputDim() != s.ZDim {
			return nil, errors.NewValidationError(errors.CodeDimensionMismatch, "pca shape does not match the network")
		}
		m.pca = pca
		ae.SetMeanEncoder(pca)
		ae.SetObjective(vae.PriorKL{Prior: mixture})
	}
	if s.Scaler != nil {
		scaler, err := dataset.NewScalerFromSnapshot(s.Scaler)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid snapshot scaler")
		}
		m.scaler = scaler
	}
	return m, nil
}
