// Package metrics defines the forecaster's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the forecaster's instruments. All are namespaced nexthour_.
type Metrics struct {
	CollectSeconds *prometheus.HistogramVec
	RowsInserted   *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	HistoryRows    *prometheus.GaugeVec
	PredictSeconds prometheus.Histogram
	PredictedTemp  *prometheus.GaugeVec
	PredictionAge  *prometheus.GaugeVec
	ErrorsTotal    *prometheus.CounterVec
	ModelLoaded    prometheus.Gauge
	ModelTrainedAt prometheus.Gauge
}

// New registers the instruments on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the instruments on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CollectSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexthour_collect_seconds",
			Help:    "Time spent on one ingestion call, provider round trip included",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"op"}),
		RowsInserted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexthour_rows_inserted_total",
			Help: "Observations inserted into the store",
		}, []string{"op"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexthour_provider_errors_total",
			Help: "Provider failures by kind",
		}, []string{"kind"}),
		HistoryRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexthour_history_rows",
			Help: "Stored observations read for the latest prediction per location",
		}, []string{"location"}),
		PredictSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexthour_predict_seconds",
			Help:    "Time spent building, aligning and predicting one vector",
			Buckets: prometheus.DefBuckets,
		}),
		PredictedTemp: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexthour_predicted_temperature_celsius",
			Help: "Last next-hour temperature predicted per location",
		}, []string{"location"}),
		PredictionAge: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexthour_prediction_age_seconds",
			Help: "Age of the newest observation behind the last prediction",
		}, []string{"location"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nexthour_errors_total",
			Help: "Errors by component and reason",
		}, []string{"component", "reason"}),
		ModelLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexthour_model_loaded",
			Help: "1 when a valid model artifact pair is loaded",
		}),
		ModelTrainedAt: f.NewGauge(prometheus.GaugeOpts{
			Name: "nexthour_model_trained_timestamp_seconds",
			Help: "Training time of the loaded model artifact",
		}),
	}
}

// ObserveModel records the loaded artifact state.
func (m *Metrics) ObserveModel(loaded bool, trainedAt time.Time) {
	if !loaded {
		m.ModelLoaded.Set(0)
		return
	}
	m.ModelLoaded.Set(1)
	m.ModelTrainedAt.Set(float64(trainedAt.Unix()))
}
