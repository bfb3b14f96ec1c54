// Package router configures HTTP routes for the forecaster's HTTP API.
//
// Routes configured:
//   - POST   /observations/collect?latitude&longitude[&past_hours]   ingest recent hours
//   - POST   /observations/backfill?latitude&longitude[&days|&start_date&end_date]
//   - DELETE /observations?latitude&longitude | ?all=true            operator deletion
//   - GET    /observations/status?latitude&longitude                 stored history summary
//   - GET    /forecast/current?latitude&longitude                    latest stored prediction
//   - POST   /forecast?latitude&longitude                            compute a fresh prediction
//   - POST   /model/reload                                           reload the artifact pair
//   - GET    /healthz, GET /metrics
//
// Ingestion replies carry the ingestion result object: 200 on success, 400
// for invalid parameters, 502 when the provider failed and 503 when the
// store did. Predictions older than the stale threshold carry an
// X-Nexthour-Stale header.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obrunao/tech-challenge-fase3/pkg/features"
	"github.com/obrunao/tech-challenge-fase3/pkg/httpx"
	"github.com/obrunao/tech-challenge-fase3/pkg/ingest"
	"github.com/obrunao/tech-challenge-fase3/pkg/models"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

// StaleHeader flags a prediction older than the stale threshold.
const StaleHeader = "X-Nexthour-Stale"

// Status summarizes the stored history of one location.
type Status struct {
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	Rows        int     `json:"rows"`
	LatestTSUTC *string `json:"latest_ts_utc"`
	Gaps        int     `json:"gaps"`
}

// ModelInfo describes the loaded artifact pair.
type ModelInfo struct {
	RunID     string    `json:"run_id"`
	TrainedAt time.Time `json:"trained_at"`
	Columns   []string  `json:"columns"`
}

// Service is what the routes drive.
type Service interface {
	Collect(ctx context.Context, lat, lon float64, pastHours int) ingest.Result
	Backfill(ctx context.Context, lat, lon float64, br ingest.BackfillRequest) ingest.Result
	DeleteLocation(ctx context.Context, lat, lon float64) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	Status(ctx context.Context, lat, lon float64) (Status, error)
	Latest(lat, lon float64) (storage.PredictionSnapshot, bool, error)
	Predict(ctx context.Context, lat, lon float64) (storage.PredictionSnapshot, error)
	Reload(ctx context.Context) (ModelInfo, error)
	Ready() error
}

var validate = validator.New()

type locationQuery struct {
	Latitude  *float64 `validate:"required,gte=-90,lte=90"`
	Longitude *float64 `validate:"required,gte=-180,lte=180"`
}

type collectQuery struct {
	locationQuery
	PastHours int `validate:"gte=1,lte=48"`
}

type backfillQuery struct {
	locationQuery
	Days      int    `validate:"omitempty,gte=1,lte=180"`
	StartDate string `validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `validate:"omitempty,datetime=2006-01-02"`
}

// SetupRoutes configures HTTP endpoints for the forecaster.
func SetupRoutes(svc Service, staleAfter time.Duration, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandler())
	mux.Handle("GET /readyz", httpx.HealthHandlerWithCheck(svc.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /observations/collect", handleCollect(svc))
	mux.HandleFunc("POST /observations/backfill", handleBackfill(svc))
	mux.HandleFunc("DELETE /observations", handleDelete(svc, logger))
	mux.HandleFunc("GET /observations/status", handleStatus(svc, logger))

	mux.HandleFunc("GET /forecast/current", handleCurrent(svc, staleAfter, logger))
	mux.HandleFunc("POST /forecast", handlePredict(svc, logger))
	mux.HandleFunc("POST /model/reload", handleReload(svc, logger))

	return mux
}

func handleCollect(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := collectQuery{PastHours: ingest.DefaultPastHours}
		if err := parseLocation(r.URL.Query(), &q.locationQuery); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if err := parseInt(r.URL.Query(), "past_hours", &q.PastHours); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if err := validate.Struct(q); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, validationError(err))
			return
		}

		res := svc.Collect(r.Context(), *q.Latitude, *q.Longitude, q.PastHours)
		writeResult(w, res)
	}
}

func handleBackfill(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q backfillQuery
		values := r.URL.Query()
		if err := parseLocation(values, &q.locationQuery); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if err := parseInt(values, "days", &q.Days); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		q.StartDate = values.Get("start_date")
		q.EndDate = values.Get("end_date")
		if (q.StartDate == "") != (q.EndDate == "") {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "start_date and end_date must be given together")
			return
		}
		if err := validate.Struct(q); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, validationError(err))
			return
		}

		res := svc.Backfill(r.Context(), *q.Latitude, *q.Longitude, ingest.BackfillRequest{
			Days:      q.Days,
			StartDate: q.StartDate,
			EndDate:   q.EndDate,
		})
		writeResult(w, res)
	}
}

func writeResult(w http.ResponseWriter, res ingest.Result) {
	status := http.StatusOK
	switch res.Failure {
	case ingest.FailureInvalid:
		status = http.StatusBadRequest
	case ingest.FailureProvider:
		status = http.StatusBadGateway
	case ingest.FailureStore:
		status = http.StatusServiceUnavailable
	}
	_ = httpx.WriteJSON(w, status, res)
}

func handleDelete(svc Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values := r.URL.Query()
		if values.Get("all") == "true" {
			n, err := svc.DeleteAll(r.Context())
			if err != nil {
				logger.Error("failed to delete observations", "error", err)
				httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				return
			}
			_ = httpx.WriteJSON(w, http.StatusOK, map[string]int{"deleted": n})
			return
		}

		var q locationQuery
		if err := parseLocation(values, &q); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if err := validate.Struct(q); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, validationError(err))
			return
		}
		n, err := svc.DeleteLocation(r.Context(), *q.Latitude, *q.Longitude)
		if err != nil {
			logger.Error("failed to delete observations", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

func handleStatus(svc Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q locationQuery
		if !bindLocation(w, r, &q) {
			return
		}
		st, err := svc.Status(r.Context(), *q.Latitude, *q.Longitude)
		if err != nil {
			logger.Error("failed to read status", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		_ = httpx.WriteJSON(w, http.StatusOK, st)
	}
}

func handleCurrent(svc Service, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q locationQuery
		if !bindLocation(w, r, &q) {
			return
		}

		snap, found, err := svc.Latest(*q.Latitude, *q.Longitude)
		if err != nil {
			logger.Error("failed to get prediction", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound,
				fmt.Sprintf("no prediction for %s", storage.NewLocation(*q.Latitude, *q.Longitude)))
			return
		}

		if staleAfter > 0 && time.Since(snap.GeneratedAt) > staleAfter {
			w.Header().Set(StaleHeader, "true")
		}
		_ = httpx.WriteJSON(w, http.StatusOK, snap)
	}
}

func handlePredict(svc Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q locationQuery
		if !bindLocation(w, r, &q) {
			return
		}

		snap, err := svc.Predict(r.Context(), *q.Latitude, *q.Longitude)
		if err != nil {
			status := predictStatus(err)
			if status == http.StatusInternalServerError {
				logger.Error("prediction failed", "error", err)
				httpx.WriteErrorMessage(w, status, "internal server error")
				return
			}
			httpx.WriteError(w, status, err)
			return
		}
		_ = httpx.WriteJSON(w, http.StatusOK, snap)
	}
}

// predictStatus maps a refused prediction to its reply status.
func predictStatus(err error) int {
	switch {
	case errors.Is(err, features.ErrInsufficientData):
		return http.StatusConflict
	case errors.Is(err, models.ErrNoArtifact),
		errors.Is(err, models.ErrSchemaMismatch),
		errors.Is(err, models.ErrNotTrained),
		errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func handleReload(svc Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := svc.Reload(r.Context())
		if err != nil {
			logger.Warn("model reload failed", "error", err)
			httpx.WriteError(w, http.StatusServiceUnavailable, err)
			return
		}
		_ = httpx.WriteJSON(w, http.StatusOK, info)
	}
}

func bindLocation(w http.ResponseWriter, r *http.Request, q *locationQuery) bool {
	if err := parseLocation(r.URL.Query(), q); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return false
	}
	if err := validate.Struct(q); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, validationError(err))
		return false
	}
	return true
}

func parseLocation(values url.Values, q *locationQuery) error {
	var err error
	if q.Latitude, err = parseFloat(values, "latitude"); err != nil {
		return err
	}
	q.Longitude, err = parseFloat(values, "longitude")
	return err
}

func parseFloat(values url.Values, key string) (*float64, error) {
	s := values.Get(key)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &v, nil
}

func parseInt(values url.Values, key string, dst *int) error {
	s := values.Get(key)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%s must be an integer", key)
	}
	*dst = v
	return nil
}

var fieldNames = map[string]string{
	"Latitude":  "latitude",
	"Longitude": "longitude",
	"PastHours": "past_hours",
	"Days":      "days",
	"StartDate": "start_date",
	"EndDate":   "end_date",
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	name := fieldNames[fe.Field()]
	if name == "" {
		name = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", name)
	case "datetime":
		return fmt.Errorf("%s must be YYYY-MM-DD", name)
	case "gte", "lte":
		return fmt.Errorf("%s is out of range", name)
	default:
		return fmt.Errorf("%s is invalid", name)
	}
}
