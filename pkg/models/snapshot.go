package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
)

// ModelSnapshot is the serialisable form of a trained model.
type ModelSnapshot struct {
	ID         string                 `json:"id"`
	CreatedAt  time.Time              `json:"created_at"`
	Mode       string                 `json:"mode"`
	InputDim   int                    `json:"input_dim"`
	ZDim       int                    `json:"z_dim"`
	HiddenDim  int                    `json:"hidden_dim"`
	Columns    []string               `json:"columns,omitempty"`
	Parameters map[string][][]float64 `json:"parameters"`
	PCA        *PCASnapshot           `json:"pca,omitempty"`
	Mixture    *MixtureSnapshot       `json:"mixture"`
	Scaler     *ScalerSnapshot        `json:"scaler,omitempty"`
	Privacy    *PrivacyReport         `json:"privacy,omitempty"`
}

// PCASnapshot is the serialisable form of a PCATransform.
type PCASnapshot struct {
	Mean       []float64   `json:"mean"`
	Components [][]float64 `json:"components"`
}

// MixtureSnapshot is the serialisable form of a GaussianMixture.
type MixtureSnapshot struct {
	Weights   []float64   `json:"weights"`
	Means     [][]float64 `json:"means"`
	Variances [][]float64 `json:"variances"`
}

// ScalerSnapshot holds per-column min-max scaling bounds.
type ScalerSnapshot struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// NewPCASnapshot converts a PCATransform.
func NewPCASnapshot(p *PCATransform) *PCASnapshot {
	if p == nil {
		return nil
	}
	return &PCASnapshot{Mean: append([]float64(nil), p.Mean...), Components: DenseRows(p.Components)}
}

// Transform restores the PCATransform.
func (s *PCASnapshot) Transform() (*PCATransform, error) {
	comps, err := DenseFromRows(s.Components)
	if err != nil {
		return nil, fmt.Errorf("pca components: %w", err)
	}
	return &PCATransform{Mean: append([]float64(nil), s.Mean...), Components: comps}, nil
}

// NewMixtureSnapshot converts a GaussianMixture.
func NewMixtureSnapshot(g *GaussianMixture) *MixtureSnapshot {
	if g == nil {
		return nil
	}
	return &MixtureSnapshot{
		Weights:   append([]float64(nil), g.Weights...),
		Means:     DenseRows(g.Means),
		Variances: DenseRows(g.Variances),
	}
}

// Mixture restores and validates the GaussianMixture.
func (s *MixtureSnapshot) Mixture() (*GaussianMixture, error) {
	means, err := DenseFromRows(s.Means)
	if err != nil {
		return nil, fmt.Errorf("mixture means: %w", err)
	}
	variances, err := DenseFromRows(s.Variances)
	if err != nil {
		return nil, fmt.Errorf("mixture variances: %w", err)
	}
	g := &GaussianMixture{Weights: append([]float64(nil), s.Weights...), Means: means, Variances: variances}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// DenseRows copies a matrix into row slices.
func DenseRows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			rows[i][j] = m.At(i, j)
		}
	}
	return rows
}

// DenseFromRows builds a matrix from equally sized row slices.
func DenseFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty matrix")
	}
	c := len(rows[0])
	data := make([]float64, 0, len(rows)*c)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), c)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), c, data), nil
}

var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateModelID rejects identifiers that are unsafe as file names or
// object keys.
func ValidateModelID(id string) error {
	if !modelIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid model id %q", id)
	}
	return nil
}
