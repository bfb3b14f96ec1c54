package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/obrunao/tech-challenge-fase3/pkg/blob"
)

// Object names of the artifact pair.
const (
	ModelKey   = "model_rf_temp_next_hour.json"
	ColumnsKey = "feature_cols.json"
)

// ErrNoArtifact is returned by LoadArtifact when no model has been saved.
var ErrNoArtifact = errors.New("no model artifact")

// Artifact is a fitted forest with the ordered column list it was trained
// on. The two are written and read as a matched pair.
type Artifact struct {
	RunID     string             `json:"run_id"`
	TrainedAt time.Time          `json:"trained_at"`
	Columns   []string           `json:"-"`
	Metrics   map[string]Metrics `json:"metrics,omitempty"`
	Forest    *Forest            `json:"-"`
}

// NewArtifact wraps a trained forest with a fresh run id.
func NewArtifact(f *Forest, columns []string, metrics map[string]Metrics) *Artifact {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Artifact{
		RunID:     uuid.NewString(),
		TrainedAt: time.Now().UTC(),
		Columns:   cols,
		Metrics:   metrics,
		Forest:    f,
	}
}

type modelDocument struct {
	RunID         string             `json:"run_id"`
	TrainedAt     time.Time          `json:"trained_at"`
	Model         string             `json:"model"`
	ColumnsDigest string             `json:"columns_digest"`
	Metrics       map[string]Metrics `json:"metrics,omitempty"`
	Forest        *Forest            `json:"forest"`
}

// ColumnsDigest fingerprints an ordered column list.
func ColumnsDigest(columns []string) string {
	sum := sha256.Sum256([]byte(strings.Join(columns, "\n")))
	return hex.EncodeToString(sum[:])
}

// SaveArtifact writes the column list, then the model. The model file records
// the digest of the column list, so a pair torn by a failed write is detected
// on load.
func SaveArtifact(ctx context.Context, bucket blob.Bucket, a *Artifact) error {
	if a.Forest == nil || a.Forest.Features() == 0 {
		return ErrNotTrained
	}
	if a.Forest.Features() != len(a.Columns) {
		return fmt.Errorf("%w: forest has %d features, %d columns given", ErrSchemaMismatch, a.Forest.Features(), len(a.Columns))
	}

	cols, err := json.MarshalIndent(a.Columns, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}
	doc, err := json.Marshal(modelDocument{
		RunID:         a.RunID,
		TrainedAt:     a.TrainedAt,
		Model:         a.Forest.Name(),
		ColumnsDigest: ColumnsDigest(a.Columns),
		Metrics:       a.Metrics,
		Forest:        a.Forest,
	})
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}

	if err := bucket.Put(ctx, ColumnsKey, cols); err != nil {
		return fmt.Errorf("write %s: %w", ColumnsKey, err)
	}
	if err := bucket.Put(ctx, ModelKey, doc); err != nil {
		return fmt.Errorf("write %s: %w", ModelKey, err)
	}
	return nil
}

// LoadArtifact reads the pair back. A missing model file yields ErrNoArtifact.
// A missing or unreadable column list, or one that does not match the model,
// yields ErrSchemaMismatch.
func LoadArtifact(ctx context.Context, bucket blob.Bucket) (*Artifact, error) {
	raw, err := bucket.Get(ctx, ModelKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, ErrNoArtifact
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ModelKey, err)
	}

	doc := modelDocument{Forest: &Forest{}}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ModelKey, err)
	}
	if doc.Forest == nil || doc.Forest.Features() == 0 {
		return nil, fmt.Errorf("decode %s: %w", ModelKey, ErrNotTrained)
	}

	rawCols, err := bucket.Get(ctx, ColumnsKey)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrSchemaMismatch, ColumnsKey, err)
	}
	var columns []string
	if err := json.Unmarshal(rawCols, &columns); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrSchemaMismatch, ColumnsKey, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrSchemaMismatch, ColumnsKey)
	}
	if ColumnsDigest(columns) != doc.ColumnsDigest {
		return nil, fmt.Errorf("%w: %s does not belong to run %s", ErrSchemaMismatch, ColumnsKey, doc.RunID)
	}
	if len(columns) != doc.Forest.Features() {
		return nil, fmt.Errorf("%w: %d columns for a %d-feature model", ErrSchemaMismatch, len(columns), doc.Forest.Features())
	}

	return &Artifact{
		RunID:     doc.RunID,
		TrainedAt: doc.TrainedAt,
		Columns:   columns,
		Metrics:   doc.Metrics,
		Forest:    doc.Forest,
	}, nil
}
