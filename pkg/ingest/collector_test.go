package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/obrunao/tech-challenge-fase3/pkg/adapters"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

type stubAdapter struct {
	payload *adapters.Payload
	err     error
	reqs    []adapters.Request
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) Collect(ctx context.Context, req adapters.Request) (*adapters.Payload, error) {
	s.reqs = append(s.reqs, req)
	return s.payload, s.err
}

func hourlyPayload(t *testing.T, tz string, start time.Time, temps ...float64) *adapters.Payload {
	t.Helper()
	times := make([]string, len(temps))
	for i := range temps {
		times[i] = start.Add(time.Duration(i) * time.Hour).Format("2006-01-02T15:04")
	}
	raw, _ := json.Marshal(map[string]any{
		"timezone": tz,
		"hourly": map[string]any{
			"time":           times,
			"temperature_2m": temps,
		},
	})
	var p adapters.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatal(err)
	}
	return &p
}

func newTestCollector(ad adapters.Adapter, store storage.ObservationStore, now time.Time) *Collector {
	n := NewNormalizer(NormalizerConfig{Now: fixedClock(now)}, nil)
	return NewCollector(ad, n, NewMerger(store, 4, nil), nil)
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 10, 0, 0, time.UTC)
	ad := &stubAdapter{payload: hourlyPayload(t, "UTC", now.Add(-5*time.Hour).Truncate(time.Hour), 10, 11, 12, 13, 14, 15, 16)}
	store := storage.NewMemoryObservationStore()
	c := newTestCollector(ad, store, now)

	res := c.Collect(context.Background(), -23.550512, -46.633309, 6)
	if !res.OK() {
		t.Fatalf("Collect() error = %s", res.Error)
	}
	// 07:00..13:00 returned; 13:00 is in the future
	if res.RowsReturned != 6 || res.InsertedRows != 6 {
		t.Errorf("rows = %d, inserted = %d; want 6, 6", res.RowsReturned, res.InsertedRows)
	}
	if res.Lat != -23.5505 || res.Lon != -46.6333 {
		t.Errorf("coordinates = %v, %v", res.Lat, res.Lon)
	}
	if res.Timezone != "UTC" {
		t.Errorf("timezone = %q", res.Timezone)
	}
	if res.FirstTSUTC == nil || *res.FirstTSUTC != "2024-06-01T07:00:00" {
		t.Errorf("first_ts_utc = %v", res.FirstTSUTC)
	}
	if res.LastTSUTC == nil || *res.LastTSUTC != "2024-06-01T12:00:00" {
		t.Errorf("last_ts_utc = %v", res.LastTSUTC)
	}
	if res.RangeUsed != nil {
		t.Error("collect must not report a range")
	}

	req := ad.reqs[0]
	if req.PastHours != 6 || req.IsArchive() || req.Latitude != -23.5505 {
		t.Errorf("adapter request = %+v", req)
	}

	again := c.Collect(context.Background(), -23.5505, -46.6333, 6)
	if again.InsertedRows != 0 || again.RowsReturned != 6 {
		t.Errorf("re-collect rows = %d, inserted = %d; want 6, 0", again.RowsReturned, again.InsertedRows)
	}
}

func TestCollector_CollectInvalidPastHours(t *testing.T) {
	ad := &stubAdapter{}
	c := newTestCollector(ad, storage.NewMemoryObservationStore(), time.Now())

	for _, h := range []int{0, 49} {
		res := c.Collect(context.Background(), 0, 0, h)
		if res.Failure != FailureInvalid {
			t.Errorf("past_hours %d: failure = %q, want invalid", h, res.Failure)
		}
	}
	if len(ad.reqs) != 0 {
		t.Error("invalid request reached the provider")
	}
}

func TestCollector_ProviderFailure(t *testing.T) {
	ad := &stubAdapter{err: &adapters.ProviderError{Provider: "stub", Kind: adapters.KindStatus, StatusCode: 500, Err: errors.New("boom")}}
	c := newTestCollector(ad, storage.NewMemoryObservationStore(), time.Now())

	res := c.Collect(context.Background(), 1, 2, 6)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.Failure != FailureProvider || res.ProviderKind != adapters.KindStatus {
		t.Errorf("failure = %q/%q", res.Failure, res.ProviderKind)
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("error %q does not carry the provider message", res.Error)
	}
	if res.InsertedRows != 0 || res.FirstTSUTC != nil {
		t.Errorf("failed result carries data: %+v", res)
	}
}

func TestCollector_MalformedPayloadIsProviderFailure(t *testing.T) {
	p := hourlyPayload(t, "Nowhere/Atlantis", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1)
	c := newTestCollector(&stubAdapter{payload: p}, storage.NewMemoryObservationStore(), time.Now())

	res := c.Collect(context.Background(), 1, 2, 6)
	if res.Failure != FailureProvider || res.ProviderKind != adapters.KindMalformed {
		t.Errorf("failure = %q/%q", res.Failure, res.ProviderKind)
	}
}

func TestCollector_StoreFailure(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ad := &stubAdapter{payload: hourlyPayload(t, "UTC", now.Add(-2*time.Hour), 1, 2)}
	c := newTestCollector(ad, failingStore{}, now)

	res := c.Collect(context.Background(), 1, 2, 6)
	if res.Failure != FailureStore {
		t.Errorf("failure = %q, want store", res.Failure)
	}
	if res.InsertedRows != 0 || res.RowsReturned != 0 {
		t.Errorf("counts not zeroed: %+v", res)
	}
}

func TestCollector_Backfill(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		req       BackfillRequest
		wantRange DateRange
		wantFail  Failure
	}{
		{
			name:      "explicit range",
			req:       BackfillRequest{StartDate: "2024-05-01", EndDate: "2024-05-31"},
			wantRange: DateRange{StartDate: "2024-05-01", EndDate: "2024-05-31"},
		},
		{
			name:      "default days",
			req:       BackfillRequest{},
			wantRange: DateRange{StartDate: "2024-05-16", EndDate: "2024-06-15"},
		},
		{
			name:      "days",
			req:       BackfillRequest{Days: 7},
			wantRange: DateRange{StartDate: "2024-06-08", EndDate: "2024-06-15"},
		},
		{
			name:      "only start date falls back to days",
			req:       BackfillRequest{Days: 1, StartDate: "2024-01-01"},
			wantRange: DateRange{StartDate: "2024-06-14", EndDate: "2024-06-15"},
		},
		{name: "too many days", req: BackfillRequest{Days: 181}, wantFail: FailureInvalid},
		{name: "bad date", req: BackfillRequest{StartDate: "01/05/2024", EndDate: "2024-05-31"}, wantFail: FailureInvalid},
		{name: "reversed", req: BackfillRequest{StartDate: "2024-05-31", EndDate: "2024-05-01"}, wantFail: FailureInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad := &stubAdapter{payload: hourlyPayload(t, "UTC", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 10, 11, 12)}
			c := newTestCollector(ad, storage.NewMemoryObservationStore(), now)

			res := c.Backfill(context.Background(), 1, 2, tt.req)
			if tt.wantFail != FailureNone {
				if res.Failure != tt.wantFail {
					t.Errorf("failure = %q, want %q", res.Failure, tt.wantFail)
				}
				return
			}
			if !res.OK() {
				t.Fatalf("Backfill() error = %s", res.Error)
			}
			if res.RangeUsed == nil || *res.RangeUsed != tt.wantRange {
				t.Errorf("range_used = %+v, want %+v", res.RangeUsed, tt.wantRange)
			}
			req := ad.reqs[0]
			if req.StartDate != tt.wantRange.StartDate || req.EndDate != tt.wantRange.EndDate {
				t.Errorf("adapter request = %+v", req)
			}
			if res.InsertedRows != 3 {
				t.Errorf("inserted = %d, want 3", res.InsertedRows)
			}
		})
	}
}

func TestResult_JSON(t *testing.T) {
	res := Result{Lat: 1, Lon: 2, Timezone: "UTC"}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{`"inserted_rows":0`, `"first_ts_utc":null`, `"last_ts_utc":null`} {
		if !strings.Contains(got, want) {
			t.Errorf("json %s missing %s", got, want)
		}
	}
	for _, absent := range []string{"range_used", "error", "Failure"} {
		if strings.Contains(got, absent) {
			t.Errorf("json %s should omit %s", got, absent)
		}
	}
}
