// Package ingest turns provider payloads into stored observations.
//
// The Normalizer converts a payload into canonical Observations, the Merger
// inserts them idempotently into an ObservationStore, and the Collector ties
// both to an adapter and reports every outcome as a Result.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/obrunao/tech-challenge-fase3/pkg/adapters"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

// NormalizerConfig configures a Normalizer.
type NormalizerConfig struct {
	// Precision is the number of decimal places for coordinates (defaults to 4).
	Precision int
	// Aliases resolves source variable names (defaults to DefaultAliases).
	Aliases FieldAliases
	// Now is the clock used for the future-row cutoff (defaults to time.Now).
	Now func() time.Time
}

// Normalizer converts provider payloads into canonical Observations.
type Normalizer struct {
	precision int
	aliases   FieldAliases
	now       func() time.Time
	logger    *slog.Logger
}

// NewNormalizer creates a Normalizer. A nil logger uses slog.Default().
func NewNormalizer(cfg NormalizerConfig, logger *slog.Logger) *Normalizer {
	if cfg.Precision <= 0 {
		cfg.Precision = storage.DefaultPrecision
	}
	if cfg.Aliases == nil {
		cfg.Aliases = DefaultAliases
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		precision: cfg.Precision,
		aliases:   cfg.Aliases,
		now:       cfg.Now,
		logger:    logger,
	}
}

// Normalize converts p into Observations for the queried location.
//
// Timestamps are localized to the payload timezone (UTC when absent), rows
// after the current hour in that zone are discarded, and the survivors are
// converted to UTC. Rows without a temperature are dropped. A payload without
// an hourly section yields an empty slice. Structural problems (unknown zone,
// unparseable time, arrays of different lengths) are reported as a
// *adapters.ProviderError of kind malformed.
func (n *Normalizer) Normalize(p *adapters.Payload, lat, lon float64) ([]storage.Observation, error) {
	if p == nil || p.Hourly.Len() == 0 {
		return []storage.Observation{}, nil
	}

	tzName := p.Timezone
	if tzName == "" {
		tzName = "UTC"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, malformed(fmt.Errorf("unknown timezone %q: %w", tzName, err))
	}

	rows := p.Hourly.Len()
	series := make(map[string][]*float64, 4)
	for _, field := range []string{FieldTemperature, FieldHumidity, FieldPrecipitation, FieldWindSpeed} {
		values, source, ok := n.aliases.Resolve(p.Hourly.Series, field)
		if !ok {
			continue
		}
		if len(values) != rows {
			return nil, malformed(fmt.Errorf("hourly.%s has %d values, hourly.time has %d", source, len(values), rows))
		}
		series[field] = values
	}

	walls := make([]time.Time, rows)
	for i, s := range p.Hourly.Time {
		w, err := parseWall(s)
		if err != nil {
			return nil, malformed(err)
		}
		walls[i] = w
	}
	instants := Localize(walls, loc)

	cutoff := floorHour(n.now().In(loc))
	lat = storage.RoundCoord(lat, n.precision)
	lon = storage.RoundCoord(lon, n.precision)

	out := make([]storage.Observation, 0, rows)
	future, missing := 0, 0
	for i, ts := range instants {
		if ts.After(cutoff) {
			future++
			continue
		}
		temp := at(series[FieldTemperature], i)
		if temp == nil {
			missing++
			continue
		}
		out = append(out, storage.Observation{
			Timestamp:     ts.UTC(),
			Latitude:      lat,
			Longitude:     lon,
			Temperature:   *temp,
			Humidity:      at(series[FieldHumidity], i),
			Precipitation: at(series[FieldPrecipitation], i),
			WindSpeed:     at(series[FieldWindSpeed], i),
		})
	}

	if future > 0 || missing > 0 {
		n.logger.Debug("normalizer dropped rows",
			"timezone", tzName,
			"future", future,
			"missing_temperature", missing,
			"kept", len(out),
		)
	}
	return out, nil
}

func at(values []*float64, i int) *float64 {
	if values == nil || values[i] == nil {
		return nil
	}
	v := *values[i]
	return &v
}

func malformed(err error) error {
	return adapters.NewProviderError("payload", adapters.KindMalformed, err)
}

// IsMalformed reports whether err is a malformed payload error.
func IsMalformed(err error) bool {
	var pe *adapters.ProviderError
	return errors.As(err, &pe) && pe.Kind == adapters.KindMalformed
}
