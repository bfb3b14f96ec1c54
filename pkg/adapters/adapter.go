// Package adapters connects the pipeline to upstream weather providers.
//
// An adapter issues the HTTP query for a location and hands back the raw
// hourly payload untouched. Localization, filtering and rounding are left to
// the ingestion layer so every provider goes through the same normalization.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Request describes one provider query. Coordinates are expected to be
// rounded by the caller. When StartDate is set the query targets the
// historical archive for the inclusive [StartDate, EndDate] range
// (YYYY-MM-DD); otherwise it asks for the last PastHours hours.
type Request struct {
	Latitude  float64
	Longitude float64
	PastHours int
	StartDate string
	EndDate   string
}

// IsArchive reports whether r targets the historical archive.
func (r Request) IsArchive() bool {
	return r.StartDate != ""
}

// Adapter is implemented by upstream providers.
//
// Collect is synchronous, respects context cancellation and never retries:
// retry and backoff are a caller concern. Every failure is a *ProviderError.
type Adapter interface {
	Collect(ctx context.Context, req Request) (*Payload, error)

	// Name returns a short identifier, e.g. "open-meteo".
	Name() string
}

// Payload is the tabular hourly response of a provider.
//
// Hourly is nil when the response has no hourly section.
type Payload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Hourly    *Hourly `json:"hourly"`
}

// Hourly holds the parallel hourly arrays. Time carries local wall-clock
// timestamps in the payload timezone; Series maps each variable name, as sent
// by the provider, to its values. Null entries decode to nil.
type Hourly struct {
	Time   []string
	Series map[string][]*float64
}

// UnmarshalJSON decodes the "time" array and every numeric array of the
// hourly object. Non-numeric arrays other than "time" are rejected.
func (h *Hourly) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	h.Time = nil
	h.Series = make(map[string][]*float64, len(raw))
	for key, msg := range raw {
		if key == "time" {
			if err := json.Unmarshal(msg, &h.Time); err != nil {
				return fmt.Errorf("hourly.time: %w", err)
			}
			continue
		}
		var values []*float64
		if err := json.Unmarshal(msg, &values); err != nil {
			return fmt.Errorf("hourly.%s: %w", key, err)
		}
		h.Series[key] = values
	}
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON; keys are written in sorted order.
func (h Hourly) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(h.Series))
	for k := range h.Series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(keys)+1)
	out["time"] = h.Time
	for _, k := range keys {
		out[k] = h.Series[k]
	}
	return json.Marshal(out)
}

// Len returns the number of hourly rows.
func (h *Hourly) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Time)
}
