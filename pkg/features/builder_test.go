package features

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

var start = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

// rampSeries returns n hourly observations with temperatures 10.0, 10.1, ...
func rampSeries(n int) []storage.Observation {
	obs := make([]storage.Observation, n)
	for i := range obs {
		obs[i] = storage.Observation{
			Timestamp:     start.Add(time.Duration(i) * time.Hour),
			Latitude:      -23.5505,
			Longitude:     -46.6333,
			Temperature:   10 + float64(i)/10,
			Humidity:      ptr(70 + float64(i%5)),
			Precipitation: ptr(0),
			WindSpeed:     ptr(3.5),
		}
	}
	return obs
}

func TestNewBuilder(t *testing.T) {
	if NewBuilder() == nil {
		t.Fatal("NewBuilder() returned nil")
	}
}

func TestBuilder_BuildFeatures_ThirtyHours(t *testing.T) {
	obs := rampSeries(30)
	frame, err := NewBuilder().BuildFeatures(obs)
	if err != nil {
		t.Fatalf("BuildFeatures() error = %v", err)
	}
	if len(frame.Rows) != 5 {
		t.Fatalf("len(Rows) = %d, want 5", len(frame.Rows))
	}

	// the last emitted row is anchored at the 29th observation (index 28)
	last := frame.Rows[len(frame.Rows)-1]
	lag1, _ := last.Get(ColTempLag1h)
	if lag1 != obs[27].Temperature {
		t.Errorf("last temp_lag_1h = %v, want %v", lag1, obs[27].Temperature)
	}
	if !last.Timestamp.Equal(obs[28].Timestamp) {
		t.Errorf("last anchor = %v, want %v", last.Timestamp, obs[28].Timestamp)
	}

	first := frame.Rows[0]
	if !first.Timestamp.Equal(obs[24].Timestamp) {
		t.Errorf("first anchor = %v, want %v", first.Timestamp, obs[24].Timestamp)
	}
	if first.Label != obs[25].Temperature {
		t.Errorf("first label = %v, want %v", first.Label, obs[25].Temperature)
	}
	lag24, _ := first.Get(ColTempLag24h)
	if lag24 != obs[0].Temperature {
		t.Errorf("first temp_lag_24h = %v, want %v", lag24, obs[0].Temperature)
	}
	ma3, _ := first.Get(ColTempMA3h)
	wantMA3 := (obs[22].Temperature + obs[23].Temperature + obs[24].Temperature) / 3
	if math.Abs(ma3-wantMA3) > 1e-12 {
		t.Errorf("first temp_ma_3h = %v, want %v", ma3, wantMA3)
	}
	ma6, _ := first.Get(ColTempMA6h)
	var sum float64
	for i := 19; i <= 24; i++ {
		sum += obs[i].Temperature
	}
	if math.Abs(ma6-sum/6) > 1e-12 {
		t.Errorf("first temp_ma_6h = %v, want %v", ma6, sum/6)
	}
}

func TestBuilder_BuildFeatures_LastLag1IsTwentyNinthObservation(t *testing.T) {
	// With 30 observations the newest labelled anchor is index 28; its
	// temp_lag_1h is index 27. The live row anchored at index 29 has
	// temp_lag_1h equal to the 29th observation (index 28).
	obs := rampSeries(30)
	live, err := NewBuilder().LatestVector(obs)
	if err != nil {
		t.Fatalf("LatestVector() error = %v", err)
	}
	lag1, _ := live.Get(ColTempLag1h)
	if lag1 != obs[28].Temperature {
		t.Errorf("live temp_lag_1h = %v, want %v", lag1, obs[28].Temperature)
	}
	if live.HasLabel {
		t.Error("live row must not carry a label")
	}
	if !live.Timestamp.Equal(obs[29].Timestamp) {
		t.Errorf("live anchor = %v, want newest observation", live.Timestamp)
	}
}

func TestBuilder_BuildFeatures_RowCount(t *testing.T) {
	b := NewBuilder()
	for _, n := range []int{0, 1, 24, 25, 26, 27, 48, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			frame, err := b.BuildFeatures(rampSeries(n))
			if err != nil {
				t.Fatalf("BuildFeatures() error = %v", err)
			}
			want := n - 25
			if want < 0 {
				want = 0
			}
			if len(frame.Rows) != want {
				t.Errorf("len(Rows) = %d, want %d", len(frame.Rows), want)
			}
			for _, r := range frame.Rows {
				if len(r.Values) != len(Columns) || !r.HasLabel {
					t.Fatalf("incomplete row %+v", r)
				}
				for i, v := range r.Values {
					if math.IsNaN(v) {
						t.Fatalf("column %s is NaN", Columns[i])
					}
				}
			}
		})
	}
}

func TestBuilder_BuildFeatures_UnorderedInput(t *testing.T) {
	obs := rampSeries(40)
	shuffled := make([]storage.Observation, len(obs))
	copy(shuffled, obs)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	b := NewBuilder()
	want, _ := b.BuildFeatures(obs)
	got, err := b.BuildFeatures(shuffled)
	if err != nil {
		t.Fatalf("BuildFeatures() error = %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Error("unordered input produced a different frame")
	}
}

func TestBuilder_BuildFeatures_Deterministic(t *testing.T) {
	obs := rampSeries(60)
	b := NewBuilder()
	a, _ := b.BuildFeatures(obs)
	c, _ := b.BuildFeatures(obs)
	if fmt.Sprintf("%#v", a) != fmt.Sprintf("%#v", c) {
		t.Error("BuildFeatures() is not deterministic")
	}
}

func TestBuilder_BuildFeatures_MissingExogenousDropsRow(t *testing.T) {
	obs := rampSeries(30)
	obs[26].Humidity = nil

	frame, err := NewBuilder().BuildFeatures(obs)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame.Rows) != 4 {
		t.Fatalf("len(Rows) = %d, want 4", len(frame.Rows))
	}
	for _, r := range frame.Rows {
		if r.Timestamp.Equal(obs[26].Timestamp) {
			t.Error("row with missing humidity emitted")
		}
	}
}

func TestBuilder_BuildFeatures_RejectsInvalidSeries(t *testing.T) {
	b := NewBuilder()

	dup := rampSeries(30)
	dup[10].Timestamp = dup[9].Timestamp
	if _, err := b.BuildFeatures(dup); !errors.Is(err, ErrDuplicateTimestamp) {
		t.Errorf("duplicate timestamps: err = %v", err)
	}

	mixed := rampSeries(30)
	mixed[3].Latitude = 0
	if _, err := b.BuildFeatures(mixed); !errors.Is(err, ErrMixedLocations) {
		t.Errorf("mixed locations: err = %v", err)
	}
}

func TestBuilder_HourEncoding(t *testing.T) {
	tests := []struct {
		hour     int
		sin, cos float64
	}{
		{0, 0, 1},
		{6, 1, 0},
		{12, 0, -1},
		{18, -1, 0},
	}
	for _, tt := range tests {
		s, c := HourEncoding(time.Date(2024, 1, 1, tt.hour, 0, 0, 0, time.UTC))
		if math.Abs(s-tt.sin) > 1e-12 || math.Abs(c-tt.cos) > 1e-12 {
			t.Errorf("hour %d: (%v, %v), want (%v, %v)", tt.hour, s, c, tt.sin, tt.cos)
		}
	}

	s23, c23 := HourEncoding(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC))
	s0, c0 := HourEncoding(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if math.Hypot(s23-s0, c23-c0) > 0.3 {
		t.Error("23h and 0h should be neighbours on the circle")
	}
}

func TestBuilder_LatestVector_Insufficient(t *testing.T) {
	_, err := NewBuilder().LatestVector(rampSeries(24))
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}

	obs := rampSeries(30)
	obs[29].WindSpeed = nil
	_, err = NewBuilder().LatestVector(obs)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestBuilder_BuildAll_PerLocation(t *testing.T) {
	a := rampSeries(30)
	b := rampSeries(27)
	for i := range b {
		b[i].Latitude = -22.9068
		b[i].Longitude = -43.1729
	}
	obs := append(append([]storage.Observation{}, b...), a...)

	frame, err := NewBuilder().BuildAll(obs)
	if err != nil {
		t.Fatalf("BuildAll() error = %v", err)
	}
	if len(frame.Rows) != 5+2 {
		t.Fatalf("len(Rows) = %d, want 7", len(frame.Rows))
	}
	for i := 1; i < len(frame.Rows); i++ {
		if frame.Rows[i].Timestamp.Before(frame.Rows[i-1].Timestamp) {
			t.Fatal("rows not ordered by timestamp")
		}
	}
	// first anchor hour is shared; the lower latitude sorts first
	if frame.Rows[0].Latitude != -23.5505 {
		t.Errorf("first row latitude = %v", frame.Rows[0].Latitude)
	}
}

func TestFindGaps(t *testing.T) {
	obs := rampSeries(10)
	obs = append(obs[:3], obs[6:]...) // drop hours 3,4,5

	gaps := FindGaps(obs)
	if len(gaps) != 1 {
		t.Fatalf("len(gaps) = %d, want 1", len(gaps))
	}
	if gaps[0].Missing != 3 {
		t.Errorf("missing = %d, want 3", gaps[0].Missing)
	}
	if CountGaps(rampSeries(10)) != 0 {
		t.Error("complete series reported gaps")
	}
}

func TestRecords_RoundTrip(t *testing.T) {
	frame, _ := NewBuilder().BuildFeatures(rampSeries(30))
	recs := ToRecords(frame.Rows)
	if len(recs) != 5 {
		t.Fatalf("len(recs) = %d", len(recs))
	}
	if recs[0].TempNextHour != frame.Rows[0].Label || recs[0].HourCos != frame.Rows[0].Values[13] {
		t.Errorf("record does not match row: %+v", recs[0])
	}
	back := FromRecords(recs)
	if !reflect.DeepEqual(back, frame.Rows) {
		t.Error("FromRecords(ToRecords(rows)) != rows")
	}
}

func TestMatrix(t *testing.T) {
	frame, _ := NewBuilder().BuildFeatures(rampSeries(27))
	x, y, err := Matrix(frame.Rows, []string{ColHourSin, ColTempLag1h})
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 2 || len(x[0]) != 2 || len(y) != 2 {
		t.Fatalf("shape = %dx%d, %d", len(x), len(x[0]), len(y))
	}
	lag1, _ := frame.Rows[1].Get(ColTempLag1h)
	if x[1][1] != lag1 || y[1] != frame.Rows[1].Label {
		t.Error("matrix values out of place")
	}

	if _, _, err := Matrix(frame.Rows, []string{"nope"}); err == nil {
		t.Error("unknown column accepted")
	}
}
