package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/obrunao/tech-challenge-fase3/pkg/adapters"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

const (
	DefaultPastHours    = 6
	MaxPastHours        = 48
	DefaultBackfillDays = 30
	MaxBackfillDays     = 180

	dateLayout = "2006-01-02"
	tsLayout   = "2006-01-02T15:04:05"
)

// Failure says which side of the boundary an ingestion failed on.
type Failure string

const (
	FailureNone     Failure = ""
	FailureInvalid  Failure = "invalid"
	FailureProvider Failure = "provider"
	FailureStore    Failure = "store"
)

// DateRange is an inclusive range of calendar dates (YYYY-MM-DD).
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Result describes one collect or backfill call. When Error is set the
// counts are zero and Failure says where it happened.
type Result struct {
	InsertedRows int        `json:"inserted_rows"`
	RowsReturned int        `json:"rows_returned"`
	Lat          float64    `json:"lat"`
	Lon          float64    `json:"lon"`
	Timezone     string     `json:"timezone"`
	FirstTSUTC   *string    `json:"first_ts_utc"`
	LastTSUTC    *string    `json:"last_ts_utc"`
	RangeUsed    *DateRange `json:"range_used,omitempty"`
	Error        string     `json:"error,omitempty"`

	Failure      Failure           `json:"-"`
	ProviderKind adapters.ErrorKind `json:"-"`
	Duration     time.Duration     `json:"-"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Error == ""
}

// BackfillRequest selects the archive range. StartDate and EndDate are used
// when both are set; otherwise the range covers Days days back from today.
type BackfillRequest struct {
	Days      int
	StartDate string
	EndDate   string
}

// Collector is the ingestion boundary: it queries the adapter, normalizes the
// payload and merges the rows, converting every failure into a Result.
type Collector struct {
	adapter    adapters.Adapter
	normalizer *Normalizer
	merger     *Merger
	precision  int
	now        func() time.Time
	logger     *slog.Logger
}

// NewCollector wires a Collector. The Normalizer's clock is reused for
// backfill date arithmetic.
func NewCollector(adapter adapters.Adapter, normalizer *Normalizer, merger *Merger, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		adapter:    adapter,
		normalizer: normalizer,
		merger:     merger,
		precision:  normalizer.precision,
		now:        normalizer.now,
		logger:     logger,
	}
}

// Collect ingests the last pastHours hours for (lat, lon).
func (c *Collector) Collect(ctx context.Context, lat, lon float64, pastHours int) Result {
	start := time.Now()
	lat, lon = c.round(lat), c.round(lon)
	res := Result{Lat: lat, Lon: lon}

	if pastHours < 1 || pastHours > MaxPastHours {
		return c.fail(res, start, FailureInvalid, fmt.Errorf("past_hours must be between 1 and %d, got %d", MaxPastHours, pastHours))
	}

	res = c.run(ctx, res, adapters.Request{Latitude: lat, Longitude: lon, PastHours: pastHours})
	res.Duration = time.Since(start)
	c.log("collect", res)
	return res
}

// Backfill ingests historical hours for (lat, lon) from the archive.
func (c *Collector) Backfill(ctx context.Context, lat, lon float64, br BackfillRequest) Result {
	start := time.Now()
	lat, lon = c.round(lat), c.round(lon)
	res := Result{Lat: lat, Lon: lon}

	rng, err := c.resolveRange(br)
	if err != nil {
		return c.fail(res, start, FailureInvalid, err)
	}
	res.RangeUsed = &rng

	res = c.run(ctx, res, adapters.Request{
		Latitude:  lat,
		Longitude: lon,
		StartDate: rng.StartDate,
		EndDate:   rng.EndDate,
	})
	res.Duration = time.Since(start)
	c.log("backfill", res)
	return res
}

func (c *Collector) run(ctx context.Context, res Result, req adapters.Request) Result {
	payload, err := c.adapter.Collect(ctx, req)
	if err != nil {
		return c.fail(res, time.Time{}, FailureProvider, err)
	}

	tz := payload.Timezone
	if tz == "" {
		tz = "UTC"
	}
	res.Timezone = tz

	obs, err := c.normalizer.Normalize(payload, req.Latitude, req.Longitude)
	if err != nil {
		return c.fail(res, time.Time{}, FailureProvider, err)
	}

	inserted, err := c.merger.Merge(ctx, obs)
	if err != nil {
		return c.fail(res, time.Time{}, FailureStore, err)
	}

	res.InsertedRows = inserted
	res.RowsReturned = len(obs)
	if len(obs) > 0 {
		first, last := obs[0].Timestamp, obs[0].Timestamp
		for _, o := range obs[1:] {
			if o.Timestamp.Before(first) {
				first = o.Timestamp
			}
			if o.Timestamp.After(last) {
				last = o.Timestamp
			}
		}
		f, l := first.UTC().Format(tsLayout), last.UTC().Format(tsLayout)
		res.FirstTSUTC, res.LastTSUTC = &f, &l
	}
	return res
}

func (c *Collector) resolveRange(br BackfillRequest) (DateRange, error) {
	if br.StartDate != "" && br.EndDate != "" {
		s, err := time.Parse(dateLayout, br.StartDate)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid start_date %q: expected YYYY-MM-DD", br.StartDate)
		}
		e, err := time.Parse(dateLayout, br.EndDate)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid end_date %q: expected YYYY-MM-DD", br.EndDate)
		}
		if e.Before(s) {
			return DateRange{}, errors.New("end_date is before start_date")
		}
		return DateRange{StartDate: br.StartDate, EndDate: br.EndDate}, nil
	}

	days := br.Days
	if days == 0 {
		days = DefaultBackfillDays
	}
	if days < 1 || days > MaxBackfillDays {
		return DateRange{}, fmt.Errorf("days must be between 1 and %d, got %d", MaxBackfillDays, days)
	}
	today := c.now().UTC()
	return DateRange{
		StartDate: today.AddDate(0, 0, -days).Format(dateLayout),
		EndDate:   today.Format(dateLayout),
	}, nil
}

func (c *Collector) fail(res Result, start time.Time, kind Failure, err error) Result {
	res.InsertedRows = 0
	res.RowsReturned = 0
	res.FirstTSUTC, res.LastTSUTC = nil, nil
	res.Error = err.Error()
	res.Failure = kind
	if pe, ok := adapters.AsProviderError(err); ok {
		res.ProviderKind = pe.Kind
	}
	if !start.IsZero() {
		res.Duration = time.Since(start)
		c.log("ingest", res)
	}
	return res
}

func (c *Collector) log(op string, res Result) {
	if !res.OK() {
		c.logger.Warn(op+" failed",
			"latitude", res.Lat,
			"longitude", res.Lon,
			"failure", string(res.Failure),
			"error", res.Error,
			"duration_ms", res.Duration.Milliseconds(),
		)
		return
	}
	c.logger.Info(op+" completed",
		"latitude", res.Lat,
		"longitude", res.Lon,
		"timezone", res.Timezone,
		"rows_returned", res.RowsReturned,
		"inserted", res.InsertedRows,
		"duration_ms", res.Duration.Milliseconds(),
	)
}

func (c *Collector) round(v float64) float64 {
	return storage.RoundCoord(v, c.precision)
}
