package models

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obrunao/tech-challenge-fase3/pkg/blob"
)

func trainedArtifact(t *testing.T) *Artifact {
	t.Helper()
	f := smallForest(t)
	require.NoError(t, f.Train(context.Background(), synthetic(60, 11)))
	return NewArtifact(f, []string{"a", "b", "c"}, map[string]Metrics{"forest": {MAE: 0.5, RMSE: 0.7, N: 12}})
}

func localBucket(t *testing.T) *blob.LocalBucket {
	t.Helper()
	b, err := blob.NewLocalBucket(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestArtifact_SaveLoad(t *testing.T) {
	ctx := context.Background()
	bucket := localBucket(t)
	a := trainedArtifact(t)
	_, err := uuid.Parse(a.RunID)
	require.NoError(t, err)

	require.NoError(t, SaveArtifact(ctx, bucket, a))

	loaded, err := LoadArtifact(ctx, bucket)
	require.NoError(t, err)
	assert.Equal(t, a.RunID, loaded.RunID)
	assert.Equal(t, a.Columns, loaded.Columns)
	assert.Equal(t, 12, loaded.Metrics["forest"].N)
	assert.True(t, a.TrainedAt.Equal(loaded.TrainedAt))

	x := []float64{3, 1, 0.2}
	want, err := a.Forest.Predict(ctx, x)
	require.NoError(t, err)
	got, err := loaded.Forest.Predict(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestArtifact_ColumnsFileIsPlainList(t *testing.T) {
	ctx := context.Background()
	bucket := localBucket(t)
	require.NoError(t, SaveArtifact(ctx, bucket, trainedArtifact(t)))

	raw, err := bucket.Get(ctx, ColumnsKey)
	require.NoError(t, err)
	var cols []string
	require.NoError(t, json.Unmarshal(raw, &cols))
	assert.Equal(t, []string{"a", "b", "c"}, cols)
}

func TestLoadArtifact_Missing(t *testing.T) {
	_, err := LoadArtifact(context.Background(), localBucket(t))
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestLoadArtifact_SchemaProblems(t *testing.T) {
	tests := []struct {
		name    string
		columns []byte
	}{
		{"missing columns file", nil},
		{"unreadable columns file", []byte("{not json")},
		{"empty list", []byte("[]")},
		{"columns from another run", []byte(`["a","c","b"]`)},
		{"wrong column count", []byte(`["a","b"]`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			src := localBucket(t)
			require.NoError(t, SaveArtifact(ctx, src, trainedArtifact(t)))
			model, err := src.Get(ctx, ModelKey)
			require.NoError(t, err)

			dst := localBucket(t)
			require.NoError(t, dst.Put(ctx, ModelKey, model))
			if tt.columns != nil {
				require.NoError(t, dst.Put(ctx, ColumnsKey, tt.columns))
			}

			_, err = LoadArtifact(ctx, dst)
			assert.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}
}

func TestSaveArtifact_Rejects(t *testing.T) {
	ctx := context.Background()
	bucket := localBucket(t)

	untrained := smallForest(t)
	err := SaveArtifact(ctx, bucket, NewArtifact(untrained, []string{"a"}, nil))
	assert.ErrorIs(t, err, ErrNotTrained)

	a := trainedArtifact(t)
	a.Columns = a.Columns[:2]
	err = SaveArtifact(ctx, bucket, a)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = LoadArtifact(ctx, bucket)
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestColumnsDigest_OrderSensitive(t *testing.T) {
	assert.Equal(t, ColumnsDigest([]string{"a", "b"}), ColumnsDigest([]string{"a", "b"}))
	assert.NotEqual(t, ColumnsDigest([]string{"a", "b"}), ColumnsDigest([]string{"b", "a"}))
}
