// Package client provides an HTTP client for the forecaster service.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/obrunao/tech-challenge-fase3/pkg/httpx"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

// StaleHeader is set by the forecaster on predictions older than its stale threshold.
const StaleHeader = "X-Nexthour-Stale"

// ErrNotFound is returned when no prediction is stored for a location.
var ErrNotFound = errors.New("prediction not found")

// ForecasterClient is an HTTP client for the forecaster service.
// It is safe for concurrent use by multiple goroutines.
type ForecasterClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewForecasterClient creates a new client for the forecaster service.
// The baseURL should include the scheme and host (e.g., "http://localhost:8081").
// A default timeout of 5 seconds is used for HTTP requests.
func NewForecasterClient(baseURL string) *ForecasterClient {
	return NewForecasterClientWithTimeout(baseURL, 5*time.Second)
}

// NewForecasterClientWithTimeout creates a new client with a custom timeout.
func NewForecasterClientWithTimeout(baseURL string, timeout time.Duration) *ForecasterClient {
	return &ForecasterClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PredictionResult contains the prediction and whether the forecaster
// flagged it as stale.
type PredictionResult struct {
	Prediction storage.PredictionSnapshot
	Stale      bool
}

// ModelInfo describes the artifact pair the forecaster loaded.
type ModelInfo struct {
	RunID     string    `json:"run_id"`
	TrainedAt time.Time `json:"trained_at"`
	Columns   []string  `json:"columns"`
}

// StatusError is a non-2xx reply.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// GetCurrent fetches the stored prediction for (lat, lon). It returns
// ErrNotFound when none exists.
func (c *ForecasterClient) GetCurrent(ctx context.Context, lat, lon float64) (*PredictionResult, error) {
	resp, err := c.do(ctx, http.MethodGet, "/forecast/current", locationQuery(lat, lon))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w for %v,%v", ErrNotFound, lat, lon)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var snap storage.PredictionSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &PredictionResult{
		Prediction: snap,
		Stale:      resp.Header.Get(StaleHeader) == "true",
	}, nil
}

// Predict asks the forecaster for a fresh prediction of (lat, lon).
func (c *ForecasterClient) Predict(ctx context.Context, lat, lon float64) (storage.PredictionSnapshot, error) {
	var snap storage.PredictionSnapshot
	resp, err := c.do(ctx, http.MethodPost, "/forecast", locationQuery(lat, lon))
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("failed to decode response: %w", err)
	}
	return snap, nil
}

// Reload makes the forecaster load the current artifact pair.
func (c *ForecasterClient) Reload(ctx context.Context) (ModelInfo, error) {
	var info ModelInfo
	resp, err := c.do(ctx, http.MethodPost, "/model/reload", nil)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return info, statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("failed to decode response: %w", err)
	}
	return info, nil
}

func (c *ForecasterClient) do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func locationQuery(lat, lon float64) url.Values {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	return q
}

func statusError(resp *http.Response) error {
	e := &StatusError{StatusCode: resp.StatusCode}
	var body httpx.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, httpx.MaxBodyBytes)).Decode(&body); err == nil {
		e.Message = body.Error
	}
	return e
}

// IsStale checks if a prediction is older than the specified duration.
func IsStale(snap storage.PredictionSnapshot, staleAfter time.Duration) bool {
	return time.Since(snap.GeneratedAt) > staleAfter
}
