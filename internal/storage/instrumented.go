package storage

import (
	"context"
	"time"

	"github.com/inferloop/p3gm/pkg/interfaces"
	"github.com/inferloop/p3gm/pkg/models"
)

// OperationRecorder receives the outcome of every store operation.
type OperationRecorder interface {
	RecordStorageOperation(backend, operation, status string, duration time.Duration)
}

// InstrumentedStore reports each call of the wrapped store to a recorder.
type InstrumentedStore struct {
	store    interfaces.ModelStore
	backend  string
	recorder OperationRecorder
}

var _ interfaces.ModelStore = (*InstrumentedStore)(nil)

// Instrument wraps store. A nil recorder returns store unchanged.
func Instrument(store interfaces.ModelStore, backend string, recorder OperationRecorder) interfaces.ModelStore {
	if recorder == nil {
		return store
	}
	return &InstrumentedStore{store: store, backend: backend, recorder: recorder}
}

func (s *InstrumentedStore) Save(ctx context.Context, snapshot *models.ModelSnapshot) error {
	start := time.Now()
	err := s.store.Save(ctx, snapshot)
	s.record("save", start, err)
	return err
}

func (s *InstrumentedStore) Load(ctx context.Context, id string) (*models.ModelSnapshot, error) {
	start := time.Now()
	snapshot, err := s.store.Load(ctx, id)
	s.record("load", start, err)
	return snapshot, err
}

func (s *InstrumentedStore) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := s.store.List(ctx)
	s.record("list", start, err)
	return ids, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.store.Delete(ctx, id)
	s.record("delete", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

func (s *InstrumentedStore) record(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.recorder.RecordStorageOperation(s.backend, operation, status, time.Since(start))
}
