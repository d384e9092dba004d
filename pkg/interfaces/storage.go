package interfaces

import (
	"context"

	"github.com/inferloop/p3gm/pkg/models"
)

// ModelStore persists trained model snapshots
type ModelStore interface {
	// Save writes the snapshot under its ID, replacing any previous version
	Save(ctx context.Context, snapshot *models.ModelSnapshot) error

	// Load reads the snapshot with the given ID
	Load(ctx context.Context, id string) (*models.ModelSnapshot, error)

	// List returns the IDs of all stored snapshots
	List(ctx context.Context) ([]string, error)

	// Delete removes the snapshot with the given ID
	Delete(ctx context.Context, id string) error

	// Close releases resources held by the store
	Close() error
}
