package models

import (
	"context"
	"fmt"
	"sync"

	"github.com/obrunao/tech-challenge-fase3/pkg/features"
)

// PersistenceModel predicts that the next hour repeats the last observed
// temperature (y_hat = temp_lag_1h). It is the reference a trained model has
// to beat.
type PersistenceModel struct {
	mu     sync.RWMutex
	column string
	index  int
}

// NewPersistenceModel creates a persistence baseline reading temp_lag_1h.
func NewPersistenceModel() *PersistenceModel {
	return &PersistenceModel{column: features.ColTempLag1h, index: -1}
}

// Name returns the model identifier.
func (m *PersistenceModel) Name() string {
	return "persistence"
}

// Train only locates the lag column; there is nothing to fit.
func (m *PersistenceModel) Train(ctx context.Context, ds Dataset) error {
	for i, c := range ds.Columns {
		if c == m.column {
			m.mu.Lock()
			m.index = i
			m.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("%w: column %q not in dataset", ErrSchemaMismatch, m.column)
}

// Predict returns the lag column of x.
func (m *PersistenceModel) Predict(ctx context.Context, x []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	idx := m.index
	m.mu.RUnlock()

	if idx < 0 {
		return 0, ErrNotTrained
	}
	if idx >= len(x) {
		return 0, fmt.Errorf("vector has %d values, want at least %d", len(x), idx+1)
	}
	return x[idx], nil
}
