package tracker

import (
	"net/http"
	"time"

	"github.com/OpenTransitTools/traintracker/business/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsCollector exposes per cycle counts through its own prometheus registry.
// Implements engine.Observer
type metricsCollector struct {
	reg *prometheus.Registry

	cycles        prometheus.Counter
	vehicles      *prometheus.CounterVec // outcome label: matched|fallback|unmatched|skipped
	reasons       *prometheus.CounterVec // reason label: resolution reason
	clampedDelays prometheus.Counter
	liveVehicles  prometheus.Gauge
	snapshotSeq   prometheus.Gauge
	fetchErrors   prometheus.Counter
	cycleDuration prometheus.Histogram
	publishErrors prometheus.Counter
}

func makeMetricsCollector() *metricsCollector {
	reg := prometheus.NewRegistry()
	m := &metricsCollector{
		reg: reg,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_cycles_total",
			Help: "Total completed polling cycles.",
		}),
		vehicles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_reports_total",
			Help: "Vehicle reports processed by outcome.",
		}, []string{"outcome"}),
		reasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_resolutions_total",
			Help: "Trip resolutions by reason.",
		}, []string{"reason"}),
		clampedDelays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_clamped_delays_total",
			Help: "Reported delays outside the accepted range.",
		}),
		liveVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_live_vehicles",
			Help: "Vehicles in the latest snapshot.",
		}),
		snapshotSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_snapshot_seq",
			Help: "Sequence number of the latest snapshot.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fetch_errors_total",
			Help: "Failed attempts to read the live feed.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_cycle_duration_seconds",
			Help:    "Time spent fetching and processing one cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_publish_errors_total",
			Help: "Snapshots that could not be published.",
		}),
	}
	reg.MustRegister(m.cycles, m.vehicles, m.reasons, m.clampedDelays, m.liveVehicles, m.snapshotSeq,
		m.fetchErrors, m.cycleDuration, m.publishErrors)
	return m
}

// CycleCompleted implements engine.Observer
func (m *metricsCollector) CycleCompleted(snapshot *engine.Snapshot) {
	stats := snapshot.Stats
	m.cycles.Inc()
	m.vehicles.WithLabelValues("matched").Add(float64(stats.Matched))
	m.vehicles.WithLabelValues("fallback").Add(float64(stats.Fallback))
	m.vehicles.WithLabelValues("unmatched").Add(float64(stats.Unmatched))
	m.vehicles.WithLabelValues("skipped").Add(float64(stats.Skipped))
	for reason, count := range stats.Reasons {
		m.reasons.WithLabelValues(reason).Add(float64(count))
	}
	m.clampedDelays.Add(float64(stats.ClampedDelays))
	m.liveVehicles.Set(float64(len(snapshot.Vehicles)))
	m.snapshotSeq.Set(float64(snapshot.Seq))
}

func (m *metricsCollector) fetchFailed() {
	m.fetchErrors.Inc()
}

func (m *metricsCollector) observeCycle(d time.Duration) {
	m.cycleDuration.Observe(d.Seconds())
}

func (m *metricsCollector) publishFailed() {
	m.publishErrors.Inc()
}

func (m *metricsCollector) handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
