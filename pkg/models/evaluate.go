package models

import (
	"context"
	"fmt"
	"math"

	"github.com/obrunao/tech-challenge-fase3/pkg/features"
)

// DefaultTestFraction is the share of the newest rows held out for evaluation.
const DefaultTestFraction = 0.2

// TimeSplit splits ds into the earliest rows for fitting and the latest
// testFraction for evaluation. Rows are never shuffled. Both sides must be
// non-empty, otherwise the error wraps features.ErrInsufficientData.
func TimeSplit(ds Dataset, testFraction float64) (train, test Dataset, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return Dataset{}, Dataset{}, fmt.Errorf("test fraction must be in (0, 1), got %g", testFraction)
	}
	n := ds.Len()
	cut := int(float64(n) * (1 - testFraction))
	if cut <= 0 || cut >= n {
		return Dataset{}, Dataset{}, fmt.Errorf("%w: %d rows cannot be split %.0f/%.0f",
			features.ErrInsufficientData, n, (1-testFraction)*100, testFraction*100)
	}
	return ds.Slice(0, cut), ds.Slice(cut, n), nil
}

// Metrics are the error measures of a model on a held-out set.
type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	N    int     `json:"n"`
}

func (m Metrics) String() string {
	return fmt.Sprintf("MAE=%.3f RMSE=%.3f n=%d", m.MAE, m.RMSE, m.N)
}

// Evaluate predicts every row of ds with m and scores the predictions.
func Evaluate(ctx context.Context, m Model, ds Dataset) (Metrics, error) {
	if ds.Len() == 0 {
		return Metrics{}, fmt.Errorf("%w: empty evaluation set", features.ErrInsufficientData)
	}
	pred := make([]float64, ds.Len())
	for i, x := range ds.X {
		p, err := m.Predict(ctx, x)
		if err != nil {
			return Metrics{}, fmt.Errorf("predict row %d: %w", i, err)
		}
		pred[i] = p
	}
	return Metrics{MAE: MAE(ds.Y, pred), RMSE: RMSE(ds.Y, pred), N: ds.Len()}, nil
}

// MAE is the mean absolute error. It panics if the lengths differ.
func MAE(y, pred []float64) float64 {
	mustSameLen(y, pred)
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for i := range y {
		sum += math.Abs(y[i] - pred[i])
	}
	return sum / float64(len(y))
}

// RMSE is the root mean squared error. It panics if the lengths differ.
func RMSE(y, pred []float64) float64 {
	mustSameLen(y, pred)
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for i := range y {
		d := y[i] - pred[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(y)))
}

func mustSameLen(a, b []float64) {
	if len(a) != len(b) {
		panic(fmt.Sprintf("models: length mismatch %d != %d", len(a), len(b)))
	}
}
