package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/obrunao/tech-challenge-fase3/cmd/trainer/metrics"
	"github.com/obrunao/tech-challenge-fase3/pkg/blob"
	"github.com/obrunao/tech-challenge-fase3/pkg/client"
	"github.com/obrunao/tech-challenge-fase3/pkg/features"
	"github.com/obrunao/tech-challenge-fase3/pkg/models"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

// featureMirror is implemented by stores that keep a copy of the feature table.
type featureMirror interface {
	ReplaceFeatures(ctx context.Context, recs []storage.FeatureRecord) error
}

// Trainer runs the offline jobs. Fields a job does not use may be nil.
type Trainer struct {
	store   storage.ObservationStore
	bucket  blob.Bucket
	builder *features.Builder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewTrainer(store storage.ObservationStore, bucket blob.Bucket, m *metrics.Metrics, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		store:   store,
		bucket:  bucket,
		builder: features.NewBuilder(),
		metrics: m,
		logger:  logger,
	}
}

type PrepareOptions struct {
	SnapshotPath    string
	Compression     string
	Mirror          bool
	MinObservations int
}

type PrepareResult struct {
	Observations int
	Locations    int
	Rows         int
	Skipped      bool
	Mirrored     bool
}

// Prepare builds the feature table of every stored location and writes it
// as the parquet snapshot. Features are built per location and concatenated.
// With fewer than MinObservations stored rows nothing is written.
func (t *Trainer) Prepare(ctx context.Context, opts PrepareOptions) (PrepareResult, error) {
	start := time.Now()
	var res PrepareResult

	obs, err := t.store.All(ctx)
	if err != nil {
		return res, fmt.Errorf("read observations: %w", err)
	}
	res.Observations = len(obs)
	if len(obs) < opts.MinObservations {
		t.logger.Warn("too few observations to build features; run backfill and collect first",
			"observations", len(obs),
			"required", opts.MinObservations,
		)
		res.Skipped = true
		return res, nil
	}

	frame, err := t.builder.BuildAll(obs)
	if err != nil {
		return res, fmt.Errorf("build features: %w", err)
	}
	locs, groups := storage.GroupByLocation(obs)
	res.Locations = len(locs)
	for _, loc := range locs {
		if gaps := features.CountGaps(groups[loc]); gaps > 0 {
			t.logger.Warn("location history has missing hours", "location", loc.String(), "gaps", gaps)
		}
	}
	res.Rows = len(frame.Rows)

	recs := features.ToRecords(frame.Rows)
	if err := storage.WriteFeatureParquet(opts.SnapshotPath, recs, opts.Compression); err != nil {
		return res, err
	}
	t.logger.Info("feature snapshot written",
		"path", opts.SnapshotPath,
		"rows", len(recs),
		"columns", len(frame.Columns)+2,
		"locations", res.Locations,
	)

	if opts.Mirror {
		if m, ok := t.store.(featureMirror); ok {
			if err := m.ReplaceFeatures(ctx, recs); err != nil {
				return res, fmt.Errorf("mirror features: %w", err)
			}
			res.Mirrored = true
			t.logger.Info("feature table replaced", "table", storage.FeatureRecord{}.TableName(), "rows", len(recs))
		} else {
			t.logger.Warn("store cannot mirror features; skipped")
		}
	}

	if t.metrics != nil {
		t.metrics.ObserveStage("prepare", res.Rows, time.Since(start))
	}
	return res, nil
}

type TrainOptions struct {
	SnapshotPath string
	TestFraction float64
	Forest       models.ForestConfig
}

type TrainResult struct {
	RunID     string
	TrainRows int
	TestRows  int
	Forest    models.Metrics
	Baseline  models.Metrics
}

// Train fits the forest on the oldest rows of the snapshot, scores it and the
// persistence baseline on the newest rows, and saves the artifact pair.
func (t *Trainer) Train(ctx context.Context, opts TrainOptions) (TrainResult, error) {
	start := time.Now()
	var res TrainResult

	recs, err := storage.ReadFeatureParquet(opts.SnapshotPath)
	if err != nil {
		return res, fmt.Errorf("read snapshot %s (run prepare first): %w", opts.SnapshotPath, err)
	}
	rows := features.FromRecords(recs)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	ds, err := models.NewDataset(rows, features.Columns)
	if err != nil {
		return res, err
	}
	trainSet, testSet, err := models.TimeSplit(ds, opts.TestFraction)
	if err != nil {
		return res, err
	}
	res.TrainRows, res.TestRows = trainSet.Len(), testSet.Len()

	forest, err := models.NewForest(opts.Forest)
	if err != nil {
		return res, err
	}
	fitStart := time.Now()
	if err := forest.Train(ctx, trainSet); err != nil {
		return res, fmt.Errorf("fit forest: %w", err)
	}
	t.logger.Info("forest fitted",
		"trees", opts.Forest.Trees,
		"rows", trainSet.Len(),
		"duration_ms", time.Since(fitStart).Milliseconds(),
	)

	baseline := models.NewPersistenceModel()
	if err := baseline.Train(ctx, trainSet); err != nil {
		return res, err
	}
	if res.Baseline, err = models.Evaluate(ctx, baseline, testSet); err != nil {
		return res, fmt.Errorf("evaluate baseline: %w", err)
	}
	if res.Forest, err = models.Evaluate(ctx, forest, testSet); err != nil {
		return res, fmt.Errorf("evaluate forest: %w", err)
	}
	t.logger.Info("held-out evaluation",
		"baseline", res.Baseline.String(),
		"forest", res.Forest.String(),
	)
	if res.Forest.MAE >= res.Baseline.MAE {
		t.logger.Warn("forest does not beat the persistence baseline",
			"forest_mae", res.Forest.MAE,
			"baseline_mae", res.Baseline.MAE,
		)
	}

	artifact := models.NewArtifact(forest, ds.Columns, map[string]models.Metrics{
		baseline.Name(): res.Baseline,
		forest.Name():   res.Forest,
	})
	if err := models.SaveArtifact(ctx, t.bucket, artifact); err != nil {
		return res, fmt.Errorf("save artifacts: %w", err)
	}
	res.RunID = artifact.RunID
	t.logger.Info("model artifacts saved",
		"run_id", artifact.RunID,
		"target", t.bucket.String(),
		"columns", len(artifact.Columns),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if t.metrics != nil {
		t.metrics.ObserveStage("train", ds.Len(), time.Since(start))
		t.metrics.ObserveModel(baseline.Name(), res.Baseline)
		t.metrics.ObserveModel(forest.Name(), res.Forest)
	}
	return res, nil
}

// DayCount is the number of stored hours on one UTC day.
type DayCount struct {
	Day   time.Time
	Hours int
}

type AuditResult struct {
	Location storage.Location
	From     time.Time
	To       time.Time
	Expected int
	Stored   int
	Gaps     []features.Gap
	Daily    []DayCount
}

// Coverage is the stored share of expected hours, in percent.
func (r AuditResult) Coverage() float64 {
	if r.Expected == 0 {
		return 0
	}
	return 100 * float64(r.Stored) / float64(r.Expected)
}

// Missing is the number of expected hours not stored.
func (r AuditResult) Missing() int {
	n := 0
	for _, g := range r.Gaps {
		n += g.Missing
	}
	return n
}

const auditDailyTail = 10

// Audit checks the hourly coverage of one location over the days before its
// newest stored hour.
func (t *Trainer) Audit(ctx context.Context, loc storage.Location, days int) (AuditResult, error) {
	res := AuditResult{Location: loc}

	obs, err := t.store.ForLocation(ctx, loc)
	if err != nil {
		return res, fmt.Errorf("read observations: %w", err)
	}
	if len(obs) == 0 {
		return res, fmt.Errorf("%w: no observations for %s; run backfill or collect first", features.ErrInsufficientData, loc)
	}

	res.To = obs[len(obs)-1].Timestamp
	res.From = res.To.Add(-time.Duration(days) * 24 * time.Hour)
	window := make([]storage.Observation, 0, len(obs))
	for _, o := range obs {
		if !o.Timestamp.Before(res.From) {
			window = append(window, o)
		}
	}

	res.Stored = len(window)
	res.Expected = int(res.To.Sub(res.From)/time.Hour) + 1
	if len(window) > 0 && window[0].Timestamp.After(res.From) {
		// hours before the first stored one count as a leading gap
		res.Gaps = append(res.Gaps, features.Gap{
			After:   res.From.Add(-time.Hour),
			Before:  window[0].Timestamp,
			Missing: int(window[0].Timestamp.Sub(res.From) / time.Hour),
		})
	}
	res.Gaps = append(res.Gaps, features.FindGaps(window)...)

	for _, o := range window {
		day := o.Timestamp.Truncate(24 * time.Hour)
		if n := len(res.Daily); n > 0 && res.Daily[n-1].Day.Equal(day) {
			res.Daily[n-1].Hours++
			continue
		}
		res.Daily = append(res.Daily, DayCount{Day: day, Hours: 1})
	}
	if len(res.Daily) > auditDailyTail {
		res.Daily = res.Daily[len(res.Daily)-auditDailyTail:]
	}

	t.logger.Info("audit complete",
		"location", loc.String(),
		"expected", res.Expected,
		"stored", res.Stored,
		"missing", res.Missing(),
	)
	return res, nil
}

const reportGapLimit = 20

// Report writes a human-readable summary of r.
func (r AuditResult) Report(w io.Writer) error {
	ew := &errWriter{w: w}
	ew.printf("location:  %s\n", r.Location)
	ew.printf("window:    %s -> %s (UTC)\n", r.From.Format(time.DateTime), r.To.Format(time.DateTime))
	ew.printf("expected:  %d hours\n", r.Expected)
	ew.printf("stored:    %d hours\n", r.Stored)
	ew.printf("coverage:  %.2f%%\n", r.Coverage())

	if len(r.Gaps) == 0 {
		ew.printf("no missing hours in the window\n")
	} else {
		ew.printf("missing:   %d hours in %d gaps\n", r.Missing(), len(r.Gaps))
		for i, g := range r.Gaps {
			if i == reportGapLimit {
				ew.printf("  ... %d more gaps\n", len(r.Gaps)-reportGapLimit)
				break
			}
			ew.printf("  %s -> %s (%d h)\n", g.After.Format(time.DateTime), g.Before.Format(time.DateTime), g.Missing)
		}
	}

	ew.printf("\nhours per day (last %d):\n", auditDailyTail)
	for _, d := range r.Daily {
		ew.printf("  %s  %2d\n", d.Day.Format(time.DateOnly), d.Hours)
	}
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

type reloader interface {
	Reload(ctx context.Context) (client.ModelInfo, error)
}

// notifyReload asks the forecaster to load the new artifacts. A forecaster
// that is down or reading another bucket is reported, not fatal.
func notifyReload(ctx context.Context, r reloader, runID string, logger *slog.Logger) bool {
	info, err := r.Reload(ctx)
	if err != nil {
		logger.Warn("forecaster reload failed; it keeps serving its current model", "error", err)
		return false
	}
	if info.RunID != runID {
		logger.Warn("forecaster loaded a different run", "want", runID, "loaded", info.RunID)
		return false
	}
	logger.Info("forecaster reloaded", "run_id", info.RunID)
	return true
}

func isSoft(err error) bool {
	return errors.Is(err, features.ErrInsufficientData)
}
