// Package features derives the supervised learning table from an ordered
// series of hourly observations and keeps live vectors aligned with the
// column set a model was trained on.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

// Column names, in output order after the timestamp.
const (
	ColTempLag1h     = "temp_lag_1h"
	ColTempLag2h     = "temp_lag_2h"
	ColTempLag3h     = "temp_lag_3h"
	ColTempLag4h     = "temp_lag_4h"
	ColTempLag5h     = "temp_lag_5h"
	ColTempLag6h     = "temp_lag_6h"
	ColTempLag24h    = "temp_lag_24h"
	ColTempMA3h      = "temp_ma_3h"
	ColTempMA6h      = "temp_ma_6h"
	ColHumidity      = "humidity"
	ColPrecipitation = "precipitation"
	ColWindSpeed     = "wind_speed"
	ColHourSin       = "hour_sin"
	ColHourCos       = "hour_cos"

	// LabelColumn is the forward-shifted target.
	LabelColumn = "temp_next_hour"
)

// Lags are the row offsets used for the lag columns.
var Lags = []int{1, 2, 3, 4, 5, 6, 24}

// MaxLag is the largest lag in Lags.
const MaxLag = 24

// MinObservations is the smallest series that yields a Feature Row:
// MaxLag history rows, the anchor and the label row.
const MinObservations = MaxLag + 2

// Columns lists the feature columns in output order. The label is excluded.
var Columns = []string{
	ColTempLag1h, ColTempLag2h, ColTempLag3h, ColTempLag4h, ColTempLag5h, ColTempLag6h, ColTempLag24h,
	ColTempMA3h, ColTempMA6h,
	ColHumidity, ColPrecipitation, ColWindSpeed,
	ColHourSin, ColHourCos,
}

var (
	// ErrInsufficientData reports a series too short to yield any row.
	// It is a soft condition: callers log it and try again later.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrMixedLocations is returned when a series spans more than one location.
	ErrMixedLocations = errors.New("series spans more than one location")

	// ErrDuplicateTimestamp is returned when two observations share a timestamp.
	ErrDuplicateTimestamp = errors.New("duplicate timestamp in series")
)

// Row is one Feature Row. Values follow Columns.
type Row struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Values    []float64
	Label     float64
	// HasLabel is false for the live row anchored at the newest observation.
	HasLabel bool
}

// Get returns the value of the named feature column.
func (r Row) Get(col string) (float64, bool) {
	i, ok := columnIndex[col]
	if !ok || i >= len(r.Values) {
		return 0, false
	}
	return r.Values[i], true
}

// Vector returns the row as a column-keyed map.
func (r Row) Vector() map[string]float64 {
	v := make(map[string]float64, len(Columns))
	for i, c := range Columns {
		v[c] = r.Values[i]
	}
	return v
}

// Frame is an ordered feature table for one or more locations.
type Frame struct {
	Columns []string
	Rows    []Row
}

var columnIndex = func() map[string]int {
	m := make(map[string]int, len(Columns))
	for i, c := range Columns {
		m[c] = i
	}
	return m
}()

// Builder turns an observation history into Feature Rows.
//
// Lags, rolling windows and the label are positional: temp_lag_1h is the
// previous row, not the previous clock hour. Series with missing hours are
// still processed; use CountGaps to detect them.
type Builder struct{}

// NewBuilder creates a new feature builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildFeatures derives the training rows from the history of one location.
//
// The input is sorted by timestamp first; it may arrive in any order. The
// first MaxLag rows and the last row are excluded, as is any row whose
// humidity, precipitation or wind speed is missing. A series shorter than
// MinObservations yields an empty frame and a nil error.
func (b *Builder) BuildFeatures(obs []storage.Observation) (Frame, error) {
	sorted, err := prepare(obs)
	if err != nil {
		return Frame{}, err
	}

	frame := Frame{Columns: Columns, Rows: []Row{}}
	if len(sorted) < MinObservations {
		return frame, nil
	}

	temps := temperatures(sorted)
	for i := MaxLag; i < len(sorted)-1; i++ {
		row, ok := buildRow(sorted, temps, i)
		if !ok {
			continue
		}
		row.Label = temps[i+1]
		row.HasLabel = true
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

// LatestVector builds the live row anchored at the newest observation. The
// label is absent. It needs at least MaxLag+1 observations and complete
// exogenous values on the newest one; otherwise it returns ErrInsufficientData.
func (b *Builder) LatestVector(obs []storage.Observation) (Row, error) {
	sorted, err := prepare(obs)
	if err != nil {
		return Row{}, err
	}
	if len(sorted) < MaxLag+1 {
		return Row{}, fmt.Errorf("%w: need %d observations, have %d", ErrInsufficientData, MaxLag+1, len(sorted))
	}

	row, ok := buildRow(sorted, temperatures(sorted), len(sorted)-1)
	if !ok {
		return Row{}, fmt.Errorf("%w: newest observation lacks exogenous values", ErrInsufficientData)
	}
	return row, nil
}

// BuildAll builds features per location and concatenates the frames, so no
// window ever spans two locations. Rows are ordered by timestamp, then
// location.
func (b *Builder) BuildAll(obs []storage.Observation) (Frame, error) {
	order, groups := storage.GroupByLocation(obs)
	out := Frame{Columns: Columns, Rows: []Row{}}
	for _, loc := range order {
		f, err := b.BuildFeatures(groups[loc])
		if err != nil {
			return Frame{}, fmt.Errorf("location %s: %w", loc, err)
		}
		out.Rows = append(out.Rows, f.Rows...)
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		a, c := out.Rows[i], out.Rows[j]
		if !a.Timestamp.Equal(c.Timestamp) {
			return a.Timestamp.Before(c.Timestamp)
		}
		if a.Latitude != c.Latitude {
			return a.Latitude < c.Latitude
		}
		return a.Longitude < c.Longitude
	})
	return out, nil
}

func prepare(obs []storage.Observation) ([]storage.Observation, error) {
	sorted := make([]storage.Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Location() != sorted[0].Location() {
			return nil, ErrMixedLocations
		}
		if sorted[i].Timestamp.Equal(sorted[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTimestamp, sorted[i].Timestamp.UTC().Format(time.RFC3339))
		}
	}
	return sorted, nil
}

func temperatures(obs []storage.Observation) []float64 {
	t := make([]float64, len(obs))
	for i, o := range obs {
		t[i] = o.Temperature
	}
	return t
}

// buildRow computes the features anchored at index i. i must be >= MaxLag.
func buildRow(obs []storage.Observation, temps []float64, i int) (Row, bool) {
	o := obs[i]
	if o.Humidity == nil || o.Precipitation == nil || o.WindSpeed == nil {
		return Row{}, false
	}

	values := make([]float64, 0, len(Columns))
	for _, k := range Lags {
		values = append(values, temps[i-k])
	}
	values = append(values, mean(temps[i-2:i+1]), mean(temps[i-5:i+1]))
	values = append(values, *o.Humidity, *o.Precipitation, *o.WindSpeed)

	sin, cos := HourEncoding(o.Timestamp)
	values = append(values, sin, cos)

	return Row{
		Timestamp: o.Timestamp.UTC(),
		Latitude:  o.Latitude,
		Longitude: o.Longitude,
		Values:    values,
	}, true
}

// HourEncoding maps the UTC hour of t onto the unit circle.
func HourEncoding(t time.Time) (sin, cos float64) {
	angle := 2 * math.Pi * float64(t.UTC().Hour()) / 24
	return math.Sin(angle), math.Cos(angle)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
