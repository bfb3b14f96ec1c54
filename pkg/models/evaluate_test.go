package models

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obrunao/tech-challenge-fase3/pkg/features"
)

func linear(n int) Dataset {
	ds := Dataset{Columns: []string{"x"}}
	for i := range n {
		ds.X = append(ds.X, []float64{float64(i)})
		ds.Y = append(ds.Y, float64(i))
	}
	return ds
}

func TestTimeSplit_KeepsOrder(t *testing.T) {
	train, test, err := TimeSplit(linear(10), DefaultTestFraction)
	require.NoError(t, err)
	assert.Equal(t, 8, train.Len())
	assert.Equal(t, 2, test.Len())
	assert.Equal(t, []float64{8, 9}, test.Y)
	assert.Equal(t, float64(7), train.Y[train.Len()-1])
}

func TestTimeSplit_TooFewRows(t *testing.T) {
	for _, n := range []int{0, 1} {
		_, _, err := TimeSplit(linear(n), DefaultTestFraction)
		assert.ErrorIs(t, err, features.ErrInsufficientData, "n=%d", n)
	}
}

func TestTimeSplit_InvalidFraction(t *testing.T) {
	for _, frac := range []float64{0, 1, -0.5, 2} {
		_, _, err := TimeSplit(linear(10), frac)
		assert.Error(t, err, "fraction=%g", frac)
	}
}

func TestMAEAndRMSE(t *testing.T) {
	y := []float64{1, 2, 3, 4}
	pred := []float64{2, 2, 3, 2}
	assert.InDelta(t, 0.75, MAE(y, pred), 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/4), RMSE(y, pred), 1e-12)
	assert.Zero(t, MAE(nil, nil))
	assert.Panics(t, func() { RMSE([]float64{1}, nil) })
}

func TestEvaluate_EmptySet(t *testing.T) {
	_, err := Evaluate(context.Background(), NewPersistenceModel(), Dataset{})
	assert.ErrorIs(t, err, features.ErrInsufficientData)
}

func TestNewDataset_FromFeatureRows(t *testing.T) {
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]features.Row, 3)
	for i := range rows {
		vals := make([]float64, len(features.Columns))
		for j := range vals {
			vals[j] = float64(i*100 + j)
		}
		rows[i] = features.Row{Timestamp: base.Add(time.Duration(i) * time.Hour), Values: vals, Label: float64(i), HasLabel: true}
	}

	ds, err := NewDataset(rows, []string{features.ColTempLag2h, features.ColTempLag1h})
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, []float64{1, 0}, ds.X[0])
	assert.Equal(t, []float64{0, 1, 2}, ds.Y)

	rows[1].HasLabel = false
	_, err = NewDataset(rows, features.Columns)
	assert.Error(t, err)
}
