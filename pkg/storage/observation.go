// Package storage holds the persistence contracts used by the pipeline:
// the hourly Observation Store, the derived feature snapshot, and the
// prediction snapshot cache served to readers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultPrecision is the number of decimal places coordinates are rounded to.
const DefaultPrecision = 4

// ErrUnavailable reports a store that is missing or unreachable.
var ErrUnavailable = errors.New("store unavailable")

// Observation is one canonical hourly weather reading.
//
// Timestamp is UTC, hour aligned and carries no zone annotation beyond UTC.
// Latitude and Longitude are already rounded when an Observation reaches a store.
type Observation struct {
	Timestamp     time.Time `gorm:"column:ts;primaryKey" json:"ts"`
	Latitude      float64   `gorm:"column:latitude;primaryKey" json:"latitude"`
	Longitude     float64   `gorm:"column:longitude;primaryKey" json:"longitude"`
	Temperature   float64   `gorm:"column:temperature_2m" json:"temperature_2m"`
	Humidity      *float64  `gorm:"column:relative_humidity_2m" json:"relative_humidity_2m"`
	Precipitation *float64  `gorm:"column:precipitation" json:"precipitation"`
	WindSpeed     *float64  `gorm:"column:wind_speed_10m" json:"wind_speed_10m"`
}

// TableName pins the raw table name.
func (Observation) TableName() string {
	return "weather_hourly"
}

// Key is the identity of an Observation.
type Key struct {
	Timestamp int64
	Latitude  float64
	Longitude float64
}

// Key returns the identity key of o.
func (o Observation) Key() Key {
	return Key{
		Timestamp: o.Timestamp.UTC().Unix(),
		Latitude:  o.Latitude,
		Longitude: o.Longitude,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%d@%.4f,%.4f", k.Timestamp, k.Latitude, k.Longitude)
}

// Location is a rounded coordinate pair.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewLocation rounds lat and lon to DefaultPrecision.
func NewLocation(lat, lon float64) Location {
	return Location{
		Latitude:  RoundCoord(lat, DefaultPrecision),
		Longitude: RoundCoord(lon, DefaultPrecision),
	}
}

func (l Location) String() string {
	return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
}

// Location returns the coordinate pair of o.
func (o Observation) Location() Location {
	return Location{Latitude: o.Latitude, Longitude: o.Longitude}
}

// RoundCoord rounds v half away from zero to the given number of decimal places.
func RoundCoord(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ObservationStore is the ordered, append-only table of hourly observations.
//
// Implementations must make InsertIfAbsent atomic: either every qualifying row
// lands or none does, and a key that already exists is never overwritten.
type ObservationStore interface {
	// InsertIfAbsent inserts the observations whose key is not yet stored and
	// returns how many were inserted.
	InsertIfAbsent(ctx context.Context, obs []Observation) (int, error)

	// All returns every observation ordered by timestamp, then location.
	All(ctx context.Context) ([]Observation, error)

	// ForLocation returns the observations of one rounded location ordered by timestamp.
	ForLocation(ctx context.Context, loc Location) ([]Observation, error)

	// DeleteLocation removes every row of the rounded location and returns the count.
	DeleteLocation(ctx context.Context, loc Location) (int, error)

	// DeleteAll removes every row and returns the count.
	DeleteAll(ctx context.Context) (int, error)
}

// GroupByLocation splits observations per location, keeping their relative order.
// Locations are returned in first-seen order.
func GroupByLocation(obs []Observation) ([]Location, map[Location][]Observation) {
	groups := make(map[Location][]Observation)
	var order []Location
	for _, o := range obs {
		loc := o.Location()
		if _, seen := groups[loc]; !seen {
			order = append(order, loc)
		}
		groups[loc] = append(groups[loc], o)
	}
	return order, groups
}
