// Package metrics exposes occupancy and session counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/visit"
)

const namespace = "occupancy"

// Metrics holds the collectors and the registry they are registered on.
type Metrics struct {
	Registry *prometheus.Registry

	Transitions   *prometheus.CounterVec
	SpotState     *prometheus.GaugeVec
	Visits        *prometheus.CounterVec
	VisitRevenue  *prometheus.CounterVec
	VisitDuration *prometheus.HistogramVec
	Overstays     *prometheus.CounterVec
	SerialLines   *prometheus.CounterVec
}

// New registers every collector on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spot_transitions_total",
			Help:      "Committed spot state changes.",
		}, []string{"lot", "spot", "state"}),
		SpotState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spot_occupied",
			Help:      "1 if the spot is occupied, 0 if vacant, -1 if unknown.",
		}, []string{"lot", "spot"}),
		Visits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visits_total",
			Help:      "Completed sensor-observed visits.",
		}, []string{"lot"}),
		VisitRevenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visit_revenue_dollars_total",
			Help:      "Hourly-rate revenue of completed visits.",
		}, []string{"lot"}),
		VisitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "visit_duration_seconds",
			Help:      "Duration of completed visits.",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}, []string{"lot"}),
		Overstays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overstays_total",
			Help:      "Overstays found by the sweep.",
		}, []string{"lot"}),
		SerialLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_lines_total",
			Help:      "Lines read from sensor nodes by event type.",
		}, []string{"type"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Transitions,
		m.SpotState,
		m.Visits,
		m.VisitRevenue,
		m.VisitDuration,
		m.Overstays,
		m.SerialLines,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// SpotChanged implements pipeline.Observer.
func (m *Metrics) SpotChanged(t pipeline.Transition) {
	spot := itoa(t.SpotID)
	m.Transitions.WithLabelValues(t.Lot, spot, t.To.String()).Inc()
	m.SpotState.WithLabelValues(t.Lot, spot).Set(stateValue(t.To))
}

// RecordVisit implements visit.Sink.
func (m *Metrics) RecordVisit(v visit.Visit) error {
	m.Visits.WithLabelValues(v.Lot).Inc()
	m.VisitRevenue.WithLabelValues(v.Lot).Add(v.Fee)
	m.VisitDuration.WithLabelValues(v.Lot).Observe(v.Duration.Seconds())
	return nil
}

// SeedSpots publishes the current state of every spot, so that spots
// that never change still appear.
func (m *Metrics) SeedSpots(lots []*lot.Lot) {
	for _, l := range lots {
		for _, s := range l.Spots() {
			m.SpotState.WithLabelValues(l.Name(), itoa(s.ID)).Set(stateValue(s.State))
		}
	}
}
