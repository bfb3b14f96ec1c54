package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureParquet_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "features.parquet")

	recs := make([]FeatureRecord, 4)
	for i := range recs {
		recs[i] = FeatureRecord{
			TimestampMillis: baseHour.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Latitude:        -23.5505,
			Longitude:       -46.6333,
			TempLag1h:       20 + float64(i),
			TempLag24h:      18,
			TempMA3h:        19.5,
			Humidity:        70,
			HourSin:         0.5,
			HourCos:         -0.5,
			TempNextHour:    21 + float64(i),
		}
	}

	require.NoError(t, WriteFeatureParquet(path, recs, "snappy"))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must be renamed away")

	got, err := ReadFeatureParquet(path)
	require.NoError(t, err)
	assert.Equal(t, recs, got)
}

func TestFeatureParquet_LargeSnapshot(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping large snapshot in short mode")
	}
	path := filepath.Join(t.TempDir(), "features.parquet")

	// about 180 days of hourly rows for a dozen locations
	const n = 50000
	recs := make([]FeatureRecord, n)
	for i := range recs {
		recs[i] = FeatureRecord{
			TimestampMillis: baseHour.Add(time.Duration(i%4320) * time.Hour).UnixMilli(),
			Latitude:        float64(i / 4320),
			Longitude:       -46.6333,
			TempLag1h:       float64(i % 40),
			TempNextHour:    float64((i + 1) % 40),
		}
	}

	start := time.Now()
	require.NoError(t, WriteFeatureParquet(path, recs, "snappy"))
	assert.Less(t, time.Since(start), 10*time.Second)

	got, err := ReadFeatureParquet(path)
	require.NoError(t, err)
	require.Len(t, got, n)
	assert.Equal(t, recs[0], got[0])
	assert.Equal(t, recs[n-1], got[n-1])
}

func TestFeatureParquet_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	require.NoError(t, WriteFeatureParquet(path, nil, "NONE"))

	got, err := ReadFeatureParquet(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteFeatureParquet_UnknownCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.parquet")
	err := WriteFeatureParquet(path, nil, "lz5")
	assert.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReadFeatureParquet_Missing(t *testing.T) {
	_, err := ReadFeatureParquet(filepath.Join(t.TempDir(), "nope.parquet"))
	assert.Error(t, err)
}
