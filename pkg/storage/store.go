package storage

import "time"

// PredictionSnapshot is the latest next-hour forecast for one location.
type PredictionSnapshot struct {
	Location    Location  `json:"location"`
	Timezone    string    `json:"timezone,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
	AnchorTime  time.Time `json:"anchorTime"`
	TargetTime  time.Time `json:"targetTime"`
	Temperature float64   `json:"temperature"`
	Model       string    `json:"model"`
	RunID       string    `json:"runId"`
}

// Store keeps the most recent PredictionSnapshot per location.
type Store interface {
	Put(PredictionSnapshot) error
	GetLatest(loc Location) (PredictionSnapshot, bool, error)
}
