package interfaces

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/pkg/models"
)

// PCAFitter fits a (differentially private) principal component projection.
type PCAFitter interface {
	// Fit returns the mean and component matrix learned from data
	Fit(data mat.Matrix) (*models.PCATransform, error)
}

// MixtureFitter fits a (differentially private) diagonal Gaussian mixture.
type MixtureFitter interface {
	// Fit runs a bounded number of EM iterations over the features
	Fit(features mat.Matrix) (*models.GaussianMixture, error)
}

// Generator defines the interface for trained synthetic data generators
type Generator interface {
	// Train fits the generator to the rows of data
	Train(ctx context.Context, data mat.Matrix) error

	// Generate draws n synthetic records in data space
	Generate(n int) (*mat.Dense, error)

	// Snapshot exports the trained state for persistence
	Snapshot() (*models.ModelSnapshot, error)
}
