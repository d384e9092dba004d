package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/pkg/models"
)

// Scaler maps every column linearly onto [0, 1].
type Scaler struct {
	min    []float64
	max    []float64
	fitted bool
}

// NewScaler creates an unfitted scaler.
func NewScaler() *Scaler {
	return &Scaler{}
}

// NewScalerFromSnapshot restores a fitted scaler.
func NewScalerFromSnapshot(s *models.ScalerSnapshot) (*Scaler, error) {
	if s == nil {
		return nil, fmt.Errorf("scaler snapshot is nil")
	}
	sc := NewScaler()
	if err := sc.SetBounds(s.Min, s.Max); err != nil {
		return nil, err
	}
	return sc, nil
}

// Fit records each column's observed range.
func (s *Scaler) Fit(data mat.Matrix) error {
	n, d := data.Dims()
	if n == 0 || d == 0 {
		return fmt.Errorf("cannot fit scaler on empty data")
	}
	lo := make([]float64, d)
	hi := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, data)
		lo[j] = floats.Min(col)
		hi[j] = floats.Max(col)
	}
	return s.SetBounds(lo, hi)
}

// SetBounds fixes the column ranges explicitly. Constant columns are
// widened slightly to avoid division by zero.
func (s *Scaler) SetBounds(lo, hi []float64) error {
	if len(lo) == 0 || len(lo) != len(hi) {
		return fmt.Errorf("bounds must be non-empty and of equal length, got %d and %d", len(lo), len(hi))
	}
	s.min = append([]float64(nil), lo...)
	s.max = append([]float64(nil), hi...)
	for j := range s.min {
		if s.max[j] < s.min[j] {
			return fmt.Errorf("column %d: max %g below min %g", j, s.max[j], s.min[j])
		}
		if s.max[j] == s.min[j] {
			s.max[j] = s.min[j] + 1e-8
		}
	}
	s.fitted = true
	return nil
}

// IsFitted reports whether bounds are known.
func (s *Scaler) IsFitted() bool { return s.fitted }

// Transform scales data into [0, 1] per column. Unfitted scalers return a
// copy of the input.
func (s *Scaler) Transform(data mat.Matrix) *mat.Dense {
	return s.apply(data, func(j int, v float64) float64 {
		return (v - s.min[j]) / (s.max[j] - s.min[j])
	})
}

// InverseTransform maps scaled data back to the original ranges.
func (s *Scaler) InverseTransform(data mat.Matrix) *mat.Dense {
	return s.apply(data, func(j int, v float64) float64 {
		return v*(s.max[j]-s.min[j]) + s.min[j]
	})
}

// FitTransform fits the scaler and transforms the data in one step.
func (s *Scaler) FitTransform(data mat.Matrix) (*mat.Dense, error) {
	if err := s.Fit(data); err != nil {
		return nil, err
	}
	return s.Transform(data), nil
}

// Snapshot exports the bounds.
func (s *Scaler) Snapshot() *models.ScalerSnapshot {
	if !s.fitted {
		return nil
	}
	return &models.ScalerSnapshot{
		Min: append([]float64(nil), s.min...),
		Max: append([]float64(nil), s.max...),
	}
}

func (s *Scaler) apply(data mat.Matrix, f func(j int, v float64) float64) *mat.Dense {
	out := mat.DenseCopyOf(data)
	if !s.fitted {
		return out
	}
	out.Apply(func(_, j int, v float64) float64 { return f(j, v) }, out)
	return out
}
