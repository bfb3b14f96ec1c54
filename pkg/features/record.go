package features

import (
	"fmt"
	"time"

	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

// ToRecords converts labelled rows into their persisted form.
func ToRecords(rows []Row) []storage.FeatureRecord {
	recs := make([]storage.FeatureRecord, 0, len(rows))
	for _, r := range rows {
		v := r.Values
		recs = append(recs, storage.FeatureRecord{
			TimestampMillis: r.Timestamp.UTC().UnixMilli(),
			Latitude:        r.Latitude,
			Longitude:       r.Longitude,
			TempLag1h:       v[0],
			TempLag2h:       v[1],
			TempLag3h:       v[2],
			TempLag4h:       v[3],
			TempLag5h:       v[4],
			TempLag6h:       v[5],
			TempLag24h:      v[6],
			TempMA3h:        v[7],
			TempMA6h:        v[8],
			Humidity:        v[9],
			Precipitation:   v[10],
			WindSpeed:       v[11],
			HourSin:         v[12],
			HourCos:         v[13],
			TempNextHour:    r.Label,
		})
	}
	return recs
}

// FromRecords restores rows from persisted records.
func FromRecords(recs []storage.FeatureRecord) []Row {
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, Row{
			Timestamp: time.UnixMilli(rec.TimestampMillis).UTC(),
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			Values: []float64{
				rec.TempLag1h, rec.TempLag2h, rec.TempLag3h, rec.TempLag4h, rec.TempLag5h, rec.TempLag6h, rec.TempLag24h,
				rec.TempMA3h, rec.TempMA6h,
				rec.Humidity, rec.Precipitation, rec.WindSpeed,
				rec.HourSin, rec.HourCos,
			},
			Label:    rec.TempNextHour,
			HasLabel: true,
		})
	}
	return rows
}

// Matrix extracts the design matrix and the label vector of rows for the
// given column order.
func Matrix(rows []Row, columns []string) ([][]float64, []float64, error) {
	idx := make([]int, len(columns))
	for j, c := range columns {
		i, ok := columnIndex[c]
		if !ok {
			return nil, nil, fmt.Errorf("unknown feature column %q", c)
		}
		idx[j] = i
	}

	x := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for r, row := range rows {
		if !row.HasLabel {
			return nil, nil, fmt.Errorf("row %d at %s has no label", r, row.Timestamp.Format(time.RFC3339))
		}
		vec := make([]float64, len(idx))
		for j, i := range idx {
			vec[j] = row.Values[i]
		}
		x[r] = vec
		y[r] = row.Label
	}
	return x, y, nil
}
