// Package models fits and serves the next-hour temperature regressor.
//
// A Model is trained offline on a Dataset and then predicts one scalar from
// one aligned feature vector. The fitted model and its column list are saved
// together as an Artifact.
package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/obrunao/tech-challenge-fase3/pkg/features"
)

var (
	// ErrNotTrained is returned by Predict before Train succeeded.
	ErrNotTrained = errors.New("model not trained")

	// ErrSchemaMismatch reports an artifact column list that is unreadable,
	// absent, or not the one the model was fitted with.
	ErrSchemaMismatch = errors.New("feature schema mismatch")
)

// Dataset is a design matrix with its labels. Rows are in time order.
type Dataset struct {
	Columns []string
	X       [][]float64
	Y       []float64
}

// Len returns the number of rows.
func (d Dataset) Len() int {
	return len(d.Y)
}

// Slice returns rows [i, j) sharing the underlying arrays.
func (d Dataset) Slice(i, j int) Dataset {
	return Dataset{Columns: d.Columns, X: d.X[i:j], Y: d.Y[i:j]}
}

// NewDataset extracts the given columns and the labels of rows.
func NewDataset(rows []features.Row, columns []string) (Dataset, error) {
	x, y, err := features.Matrix(rows, columns)
	if err != nil {
		return Dataset{}, err
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return Dataset{Columns: cols, X: x, Y: y}, nil
}

func (d Dataset) validate() error {
	if len(d.X) != len(d.Y) {
		return fmt.Errorf("dataset has %d rows and %d labels", len(d.X), len(d.Y))
	}
	if len(d.Y) == 0 {
		return fmt.Errorf("%w: empty dataset", features.ErrInsufficientData)
	}
	for i, row := range d.X {
		if len(row) != len(d.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(d.Columns))
		}
	}
	return nil
}

// Model is implemented by every regressor.
type Model interface {
	// Name returns the model identifier.
	Name() string

	// Train fits the model on ds.
	Train(ctx context.Context, ds Dataset) error

	// Predict returns the forecast for one aligned feature vector.
	Predict(ctx context.Context, x []float64) (float64, error)
}
