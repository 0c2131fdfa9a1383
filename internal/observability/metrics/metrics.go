// Package metrics exposes production run metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "kinjo_production_"

// Recorder implements production.Recorder on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runLatency  *prometheus.HistogramVec
	energyGauge *prometheus.GaugeVec
}

// NewRecorder registers the run metrics plus the Go and process collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "runs_total",
			Help: "Total production runs by estimator and outcome",
		}, []string{"estimator", "outcome"}),
		runLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricPrefix + "run_duration_seconds",
			Help:    "Production run duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"estimator", "outcome"}),
		energyGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "annual_energy_kwh",
			Help: "Last computed annual energy per installation",
		}, []string{"installation_id"}),
	}
	registry.MustRegister(r.runsTotal, r.runLatency, r.energyGauge)
	return r
}

func (r *Recorder) ObserveRun(estimator, outcome string, seconds float64) {
	r.runsTotal.WithLabelValues(estimator, outcome).Inc()
	r.runLatency.WithLabelValues(estimator, outcome).Observe(seconds)
}

func (r *Recorder) ObserveEnergy(installationID string, energyKWh float64) {
	r.energyGauge.WithLabelValues(installationID).Set(energyKWh)
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
