package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultArchiveURL  = "https://archive-api.open-meteo.com/v1/archive"

	maxBodyBytes = 32 << 20
)

// HourlyVariables is the list of variables requested from the provider.
var HourlyVariables = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"precipitation",
	"wind_speed_10m",
}

// OpenMeteoConfig configures an OpenMeteoAdapter. Zero values fall back to
// the public endpoints, a 20s collect timeout and a 60s backfill timeout.
type OpenMeteoConfig struct {
	ForecastURL     string
	ArchiveURL      string
	CollectTimeout  time.Duration
	BackfillTimeout time.Duration

	// FailureThreshold is the number of consecutive failed calls that opens
	// the circuit (defaults to 5). OpenTimeout is how long it stays open.
	FailureThreshold uint32
	OpenTimeout      time.Duration

	// HTTPClient is optional; if nil http.DefaultClient is used and the
	// per-call timeouts bound each request.
	HTTPClient *http.Client
}

// OpenMeteoAdapter queries the Open-Meteo forecast and archive endpoints.
//
// Calls go through a circuit breaker: after FailureThreshold consecutive
// transport or 5xx/429 failures the adapter fails fast with KindCircuitOpen
// until OpenTimeout elapses. Requests are never retried.
type OpenMeteoAdapter struct {
	cfg     OpenMeteoConfig
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

// NewOpenMeteoAdapter creates an adapter with cfg.
func NewOpenMeteoAdapter(cfg OpenMeteoConfig) *OpenMeteoAdapter {
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = DefaultForecastURL
	}
	if cfg.ArchiveURL == "" {
		cfg.ArchiveURL = DefaultArchiveURL
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 20 * time.Second
	}
	if cfg.BackfillTimeout <= 0 {
		cfg.BackfillTimeout = 60 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "open-meteo",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
	})

	return &OpenMeteoAdapter{cfg: cfg, client: client, circuit: cb}
}

func (a *OpenMeteoAdapter) Name() string { return "open-meteo" }

// Collect implements Adapter.
func (a *OpenMeteoAdapter) Collect(ctx context.Context, req Request) (*Payload, error) {
	u, timeout, err := a.buildURL(req)
	if err != nil {
		return nil, NewProviderError(a.Name(), KindMalformed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := a.circuit.Execute(func() (any, error) {
		return a.do(ctx, u)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, NewProviderError(a.Name(), KindCircuitOpen, err)
		}
		if pe, ok := AsProviderError(err); ok {
			return nil, pe
		}
		return nil, NewProviderError(a.Name(), KindTransport, err)
	}

	resp := result.(response)
	if resp.status != http.StatusOK {
		return nil, &ProviderError{
			Provider:   a.Name(),
			Kind:       KindStatus,
			StatusCode: resp.status,
			Err:        errors.New(providerReason(resp.body)),
		}
	}

	var p Payload
	if err := json.Unmarshal(resp.body, &p); err != nil {
		return nil, NewProviderError(a.Name(), KindDecode, err)
	}
	return &p, nil
}

type response struct {
	status int
	body   []byte
}

// do performs one round trip. Only failures that say something about the
// provider's health are returned as errors, so they count against the breaker.
func (a *OpenMeteoAdapter) do(ctx context.Context, u string) (response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return response{}, NewProviderError(a.Name(), KindMalformed, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return response{}, NewProviderError(a.Name(), KindTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, NewProviderError(a.Name(), KindTransport, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return response{}, &ProviderError{
			Provider:   a.Name(),
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(providerReason(body)),
		}
	}
	return response{status: resp.StatusCode, body: body}, nil
}

func (a *OpenMeteoAdapter) buildURL(req Request) (string, time.Duration, error) {
	base := a.cfg.ForecastURL
	timeout := a.cfg.CollectTimeout
	if req.IsArchive() {
		base = a.cfg.ArchiveURL
		timeout = a.cfg.BackfillTimeout
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", 0, fmt.Errorf("invalid provider URL: %w", err)
	}

	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(req.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(req.Longitude, 'f', -1, 64))
	q.Set("hourly", strings.Join(HourlyVariables, ","))
	q.Set("timezone", "auto")
	if req.IsArchive() {
		if req.EndDate == "" {
			return "", 0, errors.New("archive query requires an end date")
		}
		q.Set("start_date", req.StartDate)
		q.Set("end_date", req.EndDate)
	} else {
		if req.PastHours <= 0 {
			return "", 0, fmt.Errorf("past hours must be positive, got %d", req.PastHours)
		}
		q.Set("past_hours", strconv.Itoa(req.PastHours))
		q.Set("forecast_hours", "0")
	}
	u.RawQuery = q.Encode()

	return u.String(), timeout, nil
}

// providerReason extracts Open-Meteo's {"error":true,"reason":"..."} message
// when present and falls back to a trimmed body.
func providerReason(body []byte) string {
	var e struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body, &e) == nil && e.Reason != "" {
		return e.Reason
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
