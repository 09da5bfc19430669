package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fumapis/models"
)

// Metrics holds the dashboard's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	CitizensTotal   prometheus.Gauge
	CitizenRecords  prometheus.Gauge
	Duplicates      prometheus.Gauge
	Eligible        prometheus.Gauge
	Pending         prometheus.Gauge
	Voted           prometheus.Gauge
	Unmapped        prometheus.Gauge
	Neighborhood    *prometheus.GaugeVec
	LastRefresh     prometheus.Gauge
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	HTTPRequests    *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry. Runtime
// collectors are added when withRuntime is set.
func NewMetrics(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CitizensTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "fumapis_citizens_total",
			Help: "Distinct citizens in the last dashboard refresh",
		}),
		CitizenRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "fumapis_citizen_records",
			Help: "Citizen records received in the last refresh, duplicates included",
		}),
		Duplicates: f.NewGauge(prometheus.GaugeOpts{
			Name: "fumapis_citizen_duplicate_records",
			Help: "Records whose id repeats an earlier record",
		}),
		Eligible: f.NewGauge(prometheus.GaugeOpts{
			Name: "fumapis_citizens_eligible",
			Help: "Records flagged as eligible",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "fumapis_citizens_pending",
			Help: "Records with pending registration",
		}),
		Voted: f.NewGauge(prometheus.GaugeOpts{
			Name: "fumapis_citizens_voted",
			Help: "Records flagged as having voted",
		}),
		Unmapped: f.NewGauge(prometheus.GaugeOpts{
			Name: "fumapis_citizens_unmapped",
			Help: "Records without a neighborhood",
		}),
		Neighborhood: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fumapis_neighborhood_records",
			Help: "Records per neighborhood",
		}, []string{"neighborhood"}),
		LastRefresh: f.NewGauge(prometheus.GaugeOpts{
			Name: "fumapis_last_refresh_timestamp_seconds",
			Help: "Unix time of the last successful refresh",
		}),
		RefreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fumapis_refresh_total",
			Help: "Dashboard refreshes by result",
		}, []string{"result"}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fumapis_refresh_duration_seconds",
			Help:    "Time spent fetching and aggregating the registry",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fumapis_http_requests_total",
			Help: "Dashboard HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// ObserveReport publishes the report's counts.
func (m *Metrics) ObserveReport(r *models.DashboardReport) {
	s := r.Summary
	m.CitizensTotal.Set(float64(s.Total))
	m.CitizenRecords.Set(float64(s.Records))
	m.Duplicates.Set(float64(s.Duplicates))
	m.Eligible.Set(float64(s.Eligible))
	m.Pending.Set(float64(s.Pending))
	m.Voted.Set(float64(s.Voted))
	m.Unmapped.Set(float64(s.Unmapped))

	// Neighborhoods that disappeared must not keep their old value.
	m.Neighborhood.Reset()
	for name, count := range r.ByNeighborhood {
		m.Neighborhood.WithLabelValues(name).Set(float64(count))
	}
	m.LastRefresh.Set(float64(r.GeneratedAt.Unix()))
}

// ObserveRefresh records one refresh attempt.
func (m *Metrics) ObserveRefresh(d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
	m.RefreshDuration.Observe(d.Seconds())
}

// Handler exposes the registry for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
