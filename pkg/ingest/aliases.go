package ingest

// Canonical variable names stored for every Observation.
const (
	FieldTemperature   = "temperature_2m"
	FieldHumidity      = "relative_humidity_2m"
	FieldPrecipitation = "precipitation"
	FieldWindSpeed     = "wind_speed_10m"
)

// FieldAliases maps a canonical variable name to the source names a provider
// may use for it, in order of preference.
type FieldAliases map[string][]string

// DefaultAliases accepts both the current and the legacy Open-Meteo names.
var DefaultAliases = FieldAliases{
	FieldTemperature:   {"temperature_2m"},
	FieldHumidity:      {"relative_humidity_2m", "relativehumidity_2m"},
	FieldPrecipitation: {"precipitation"},
	FieldWindSpeed:     {"wind_speed_10m", "windspeed_10m"},
}

// Resolve returns the series for canonical and the source name it was found
// under. The first accepted name present in series wins, even when its array
// is empty. ok is false when no accepted name is present.
func (a FieldAliases) Resolve(series map[string][]*float64, canonical string) (values []*float64, source string, ok bool) {
	names, known := a[canonical]
	if !known {
		names = []string{canonical}
	}
	for _, name := range names {
		if v, present := series[name]; present {
			return v, name, true
		}
	}
	return nil, "", false
}
