// Package metrics records the outcome of a trainer job.
//
// The trainer is a batch process, so instead of being scraped its metrics are
// pushed to a Prometheus Pushgateway when one is configured.
//
// Metrics exposed:
//   - nexthour_trainer_stage_duration_seconds: Gauge of the last run duration by stage
//   - nexthour_trainer_stage_rows: Gauge of rows produced by stage
//   - nexthour_trainer_last_success_timestamp_seconds: Gauge of the last successful run by stage
//   - nexthour_trainer_model_mae: Gauge of held-out MAE by model
//   - nexthour_trainer_model_rmse: Gauge of held-out RMSE by model
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/obrunao/tech-challenge-fase3/pkg/models"
)

// Job is the Pushgateway job name.
const Job = "nexthour_trainer"

type Metrics struct {
	registry *prometheus.Registry

	StageDuration *prometheus.GaugeVec
	StageRows     *prometheus.GaugeVec
	LastSuccess   *prometheus.GaugeVec
	ModelMAE      *prometheus.GaugeVec
	ModelRMSE     *prometheus.GaugeVec
}

// New registers the trainer metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		StageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexthour_trainer_stage_duration_seconds",
			Help: "Duration of the last run by stage",
		}, []string{"stage"}),

		StageRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexthour_trainer_stage_rows",
			Help: "Rows produced by the last run by stage",
		}, []string{"stage"}),

		LastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexthour_trainer_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run by stage",
		}, []string{"stage"}),

		ModelMAE: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexthour_trainer_model_mae",
			Help: "Held-out mean absolute error by model",
		}, []string{"model"}),

		ModelRMSE: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexthour_trainer_model_rmse",
			Help: "Held-out root mean squared error by model",
		}, []string{"model"}),
	}
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveStage(stage string, rows int, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Set(d.Seconds())
	m.StageRows.WithLabelValues(stage).Set(float64(rows))
	m.LastSuccess.WithLabelValues(stage).SetToCurrentTime()
}

func (m *Metrics) ObserveModel(name string, mt models.Metrics) {
	m.ModelMAE.WithLabelValues(name).Set(mt.MAE)
	m.ModelRMSE.WithLabelValues(name).Set(mt.RMSE)
}

// Push replaces the job's metric group on the Pushgateway at url.
func (m *Metrics) Push(ctx context.Context, url string) error {
	if err := push.New(url, Job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
