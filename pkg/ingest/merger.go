package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

// Merger inserts observations into an ObservationStore without ever
// overwriting a stored key. The first write of a key is authoritative.
type Merger struct {
	store     storage.ObservationStore
	precision int
	logger    *slog.Logger
}

// NewMerger creates a Merger. precision <= 0 uses storage.DefaultPrecision.
func NewMerger(store storage.ObservationStore, precision int, logger *slog.Logger) *Merger {
	if precision <= 0 {
		precision = storage.DefaultPrecision
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{store: store, precision: precision, logger: logger}
}

// Merge inserts the observations whose key is not yet stored and returns the
// number inserted. Keys repeated inside obs are collapsed to their first
// occurrence. The insert is atomic: on error nothing was inserted.
func (m *Merger) Merge(ctx context.Context, obs []storage.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	batch := make([]storage.Observation, 0, len(obs))
	seen := make(map[storage.Key]struct{}, len(obs))
	for _, o := range obs {
		o.Timestamp = o.Timestamp.UTC()
		o.Latitude = storage.RoundCoord(o.Latitude, m.precision)
		o.Longitude = storage.RoundCoord(o.Longitude, m.precision)
		k := o.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		batch = append(batch, o)
	}
	if dropped := len(obs) - len(batch); dropped > 0 {
		m.logger.Warn("duplicate keys in batch", "dropped", dropped)
	}

	n, err := m.store.InsertIfAbsent(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("merge observations: %w", err)
	}
	return n, nil
}

// DeleteLocation removes every stored observation of the rounded (lat, lon)
// pair and returns the count. Ingestion never calls it.
func (m *Merger) DeleteLocation(ctx context.Context, lat, lon float64) (int, error) {
	loc := storage.Location{
		Latitude:  storage.RoundCoord(lat, m.precision),
		Longitude: storage.RoundCoord(lon, m.precision),
	}
	n, err := m.store.DeleteLocation(ctx, loc)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", loc, err)
	}
	m.logger.Info("deleted observations", "latitude", loc.Latitude, "longitude", loc.Longitude, "deleted", n)
	return n, nil
}

// DeleteAll removes every stored observation and returns the count.
func (m *Merger) DeleteAll(ctx context.Context) (int, error) {
	n, err := m.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all: %w", err)
	}
	m.logger.Info("deleted all observations", "deleted", n)
	return n, nil
}
