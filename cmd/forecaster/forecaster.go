package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hashicorp/go-multierror"

	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/metrics"
	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/router"
	"github.com/obrunao/tech-challenge-fase3/pkg/blob"
	"github.com/obrunao/tech-challenge-fase3/pkg/features"
	"github.com/obrunao/tech-challenge-fase3/pkg/ingest"
	"github.com/obrunao/tech-challenge-fase3/pkg/models"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

const tsLayout = "2006-01-02T15:04:05"

// Forecaster runs the ingestion boundary and serves next-hour predictions:
// collect → merge → build features → align → predict → store.
type Forecaster struct {
	collector    *ingest.Collector
	merger       *ingest.Merger
	observations storage.ObservationStore
	builder      *features.Builder
	predictions  storage.Store
	bucket       blob.Bucket
	metrics      *metrics.Metrics
	locations    []storage.Location
	pastHours    int
	precision    int
	logger       *slog.Logger

	mu      sync.RWMutex
	model   *loadedModel
	loadErr error
}

type loadedModel struct {
	artifact *models.Artifact
	aligner  *features.Aligner
}

// Options wires a Forecaster.
type Options struct {
	Collector    *ingest.Collector
	Merger       *ingest.Merger
	Observations storage.ObservationStore
	Predictions  storage.Store
	Bucket       blob.Bucket
	Metrics      *metrics.Metrics
	Locations    []storage.Location
	PastHours    int
	Precision    int
	Logger       *slog.Logger
}

// New creates a Forecaster. No model is loaded until Reload succeeds.
func New(opts Options) *Forecaster {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PastHours <= 0 {
		opts.PastHours = ingest.DefaultPastHours
	}
	if opts.Precision <= 0 {
		opts.Precision = storage.DefaultPrecision
	}
	return &Forecaster{
		collector:    opts.Collector,
		merger:       opts.Merger,
		observations: opts.Observations,
		builder:      features.NewBuilder(),
		predictions:  opts.Predictions,
		bucket:       opts.Bucket,
		metrics:      opts.Metrics,
		locations:    opts.Locations,
		pastHours:    opts.PastHours,
		precision:    opts.Precision,
		logger:       opts.Logger,
		loadErr:      models.ErrNoArtifact,
	}
}

func (f *Forecaster) location(lat, lon float64) storage.Location {
	return storage.Location{
		Latitude:  storage.RoundCoord(lat, f.precision),
		Longitude: storage.RoundCoord(lon, f.precision),
	}
}

// Run schedules Tick every interval until ctx is canceled. The first run
// starts immediately.
func (f *Forecaster) Run(ctx context.Context, interval time.Duration) error {
	if len(f.locations) == 0 {
		f.logger.Info("no scheduled locations; serving on-demand requests only")
		<-ctx.Done()
		return ctx.Err()
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(interval).Do(func() {
		if err := f.Tick(ctx); err != nil {
			f.logger.Error("scheduled run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	f.logger.Info("starting scheduled collection", "interval", interval, "locations", len(f.locations))
	s.StartAsync()
	<-ctx.Done()
	s.Stop()
	f.logger.Info("scheduled collection stopped")
	return ctx.Err()
}

// Tick collects recent hours and refreshes the prediction of every configured
// location. A failing location does not stop the others; all failures are
// returned together. Missing history is not a failure.
func (f *Forecaster) Tick(ctx context.Context) error {
	start := time.Now()
	var result *multierror.Error

	for _, loc := range f.locations {
		if ctx.Err() != nil {
			return multierror.Append(result, ctx.Err()).ErrorOrNil()
		}

		res := f.Collect(ctx, loc.Latitude, loc.Longitude, f.pastHours)
		if !res.OK() {
			result = multierror.Append(result, fmt.Errorf("collect %s: %s", loc, res.Error))
		}

		if _, err := f.Predict(ctx, loc.Latitude, loc.Longitude); err != nil {
			if errors.Is(err, features.ErrInsufficientData) {
				f.logger.Warn("not enough history to predict", "location", loc.String(), "error", err)
				continue
			}
			result = multierror.Append(result, fmt.Errorf("predict %s: %w", loc, err))
		}
	}

	f.logger.Info("scheduled run complete",
		"locations", len(f.locations),
		"failures", failures(result),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result.ErrorOrNil()
}

func failures(err *multierror.Error) int {
	if err == nil {
		return 0
	}
	return len(err.Errors)
}

// Collect ingests the last pastHours hours for one location.
func (f *Forecaster) Collect(ctx context.Context, lat, lon float64, pastHours int) ingest.Result {
	res := f.collector.Collect(ctx, lat, lon, pastHours)
	f.observeIngest("collect", res)
	return res
}

// Backfill ingests an archive range for one location.
func (f *Forecaster) Backfill(ctx context.Context, lat, lon float64, br ingest.BackfillRequest) ingest.Result {
	res := f.collector.Backfill(ctx, lat, lon, br)
	f.observeIngest("backfill", res)
	return res
}

func (f *Forecaster) observeIngest(op string, res ingest.Result) {
	if f.metrics == nil {
		return
	}
	f.metrics.CollectSeconds.WithLabelValues(op).Observe(res.Duration.Seconds())
	f.metrics.RowsInserted.WithLabelValues(op).Add(float64(res.InsertedRows))
	switch res.Failure {
	case ingest.FailureProvider:
		kind := string(res.ProviderKind)
		if kind == "" {
			kind = "unknown"
		}
		f.metrics.ProviderErrors.WithLabelValues(kind).Inc()
	case ingest.FailureStore:
		f.metrics.ErrorsTotal.WithLabelValues("store", op).Inc()
	}
}

// DeleteLocation removes the stored history of one location. An unreachable
// store deletes nothing.
func (f *Forecaster) DeleteLocation(ctx context.Context, lat, lon float64) (int, error) {
	n, err := f.merger.DeleteLocation(ctx, lat, lon)
	return f.degrade("delete", n, err)
}

// DeleteAll removes every stored observation.
func (f *Forecaster) DeleteAll(ctx context.Context) (int, error) {
	n, err := f.merger.DeleteAll(ctx)
	return f.degrade("delete_all", n, err)
}

func (f *Forecaster) degrade(op string, n int, err error) (int, error) {
	if errors.Is(err, storage.ErrUnavailable) {
		f.logger.Warn("observation store unavailable", "op", op, "error", err)
		f.countError("store", op)
		return 0, nil
	}
	return n, err
}

// Status summarizes the stored history of one location.
func (f *Forecaster) Status(ctx context.Context, lat, lon float64) (router.Status, error) {
	loc := f.location(lat, lon)
	st := router.Status{Latitude: loc.Latitude, Longitude: loc.Longitude}

	obs, err := f.observations.ForLocation(ctx, loc)
	if errors.Is(err, storage.ErrUnavailable) {
		f.logger.Warn("observation store unavailable", "op", "status", "error", err)
		f.countError("store", "status")
		return st, nil
	}
	if err != nil {
		return st, err
	}

	st.Rows = len(obs)
	if len(obs) > 0 {
		ts := obs[len(obs)-1].Timestamp.UTC().Format(tsLayout)
		st.LatestTSUTC = &ts
		st.Gaps = features.CountGaps(obs)
	}
	return st, nil
}

// Latest returns the stored prediction of one location.
func (f *Forecaster) Latest(lat, lon float64) (storage.PredictionSnapshot, bool, error) {
	return f.predictions.GetLatest(f.location(lat, lon))
}

// Predict builds the live feature vector of one location from its stored
// history, aligns it to the loaded model's columns and predicts the
// temperature one hour after the newest observation. The result is stored.
func (f *Forecaster) Predict(ctx context.Context, lat, lon float64) (storage.PredictionSnapshot, error) {
	start := time.Now()
	loc := f.location(lat, lon)

	f.mu.RLock()
	m, loadErr := f.model, f.loadErr
	f.mu.RUnlock()
	if m == nil {
		f.countError("predict", "no_model")
		return storage.PredictionSnapshot{}, fmt.Errorf("no model loaded: %w", loadErr)
	}

	obs, err := f.observations.ForLocation(ctx, loc)
	if err != nil {
		f.countError("predict", "store")
		return storage.PredictionSnapshot{}, fmt.Errorf("read history: %w", err)
	}
	if f.metrics != nil {
		f.metrics.HistoryRows.WithLabelValues(loc.String()).Set(float64(len(obs)))
	}
	if gaps := features.CountGaps(obs); gaps > 0 {
		f.logger.Warn("history has missing hours; lags are positional", "location", loc.String(), "gaps", gaps)
	}

	row, err := f.builder.LatestVector(obs)
	if err != nil {
		f.countError("predict", "insufficient_data")
		return storage.PredictionSnapshot{}, err
	}

	aligned := m.aligner.Align(row.Vector())
	if len(aligned.Filled) > 0 || len(aligned.Dropped) > 0 {
		f.logger.Warn("live vector differs from training columns",
			"filled", aligned.Filled,
			"dropped", aligned.Dropped,
		)
	}

	temp, err := m.artifact.Forest.Predict(ctx, aligned.Values)
	if err != nil {
		f.countError("predict", "model")
		return storage.PredictionSnapshot{}, fmt.Errorf("predict: %w", err)
	}

	snap := storage.PredictionSnapshot{
		Location:    loc,
		GeneratedAt: time.Now().UTC(),
		AnchorTime:  row.Timestamp,
		TargetTime:  row.Timestamp.Add(time.Hour),
		Temperature: temp,
		Model:       m.artifact.Forest.Name(),
		RunID:       m.artifact.RunID,
	}
	if err := f.predictions.Put(snap); err != nil {
		f.countError("predict", "snapshot_store")
		return storage.PredictionSnapshot{}, fmt.Errorf("store prediction: %w", err)
	}

	duration := time.Since(start)
	if f.metrics != nil {
		f.metrics.PredictSeconds.Observe(duration.Seconds())
		f.metrics.PredictedTemp.WithLabelValues(loc.String()).Set(temp)
		f.metrics.PredictionAge.WithLabelValues(loc.String()).Set(time.Since(row.Timestamp).Seconds())
	}
	f.logger.Info("predicted next hour",
		"location", loc.String(),
		"anchor", row.Timestamp.Format(time.RFC3339),
		"temperature", temp,
		"run_id", m.artifact.RunID,
		"duration_ms", duration.Milliseconds(),
	)
	return snap, nil
}

// Reload reads the artifact pair and swaps it in. On failure the previous
// model is dropped and predictions are refused until a reload succeeds.
func (f *Forecaster) Reload(ctx context.Context) (router.ModelInfo, error) {
	a, err := models.LoadArtifact(ctx, f.bucket)
	var aligner *features.Aligner
	if err == nil {
		aligner, err = features.NewAligner(a.Columns, features.ZeroDefault{})
		if err != nil {
			err = fmt.Errorf("%w: %w", models.ErrSchemaMismatch, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.model, f.loadErr = nil, err
		if f.metrics != nil {
			f.metrics.ObserveModel(false, time.Time{})
		}
		return router.ModelInfo{}, err
	}

	f.model = &loadedModel{artifact: a, aligner: aligner}
	f.loadErr = nil
	if f.metrics != nil {
		f.metrics.ObserveModel(true, a.TrainedAt)
	}
	f.logger.Info("model loaded",
		"run_id", a.RunID,
		"trained_at", a.TrainedAt.Format(time.RFC3339),
		"columns", len(a.Columns),
		"source", f.bucket.String(),
	)
	return router.ModelInfo{RunID: a.RunID, TrainedAt: a.TrainedAt, Columns: a.Columns}, nil
}

// Ready reports whether predictions can be served.
func (f *Forecaster) Ready() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.model == nil {
		return fmt.Errorf("no model loaded: %w", f.loadErr)
	}
	return nil
}

func (f *Forecaster) countError(component, reason string) {
	if f.metrics != nil {
		f.metrics.ErrorsTotal.WithLabelValues(component, reason).Inc()
	}
}
