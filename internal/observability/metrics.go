package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "incident_map"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline and broadcast hub.
type Metrics struct {
	// Ingestion metrics.
	MessagesReceived *prometheus.CounterVec // labels: source={queue,kafka}
	MessagesSkipped  prometheus.Counter
	QueueDropped     prometheus.Counter
	IncidentsTotal   *prometheus.CounterVec // labels: type={emergency,repair,road_work}
	ParseFailures    prometheus.Counter
	IngestDuration   prometheus.Histogram
	MirrorErrors     prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,empty,error,timeout,out_of_bounds,skipped}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram

	// Broadcast metrics.
	Subscribers         prometheus.Gauge
	BroadcastDeliveries prometheus.Counter
	BroadcastPruned     prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MessagesReceived,
		m.MessagesSkipped,
		m.QueueDropped,
		m.IncidentsTotal,
		m.ParseFailures,
		m.IngestDuration,
		m.MirrorErrors,
		m.PipelineRunning,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.Subscribers,
		m.BroadcastDeliveries,
		m.BroadcastPruned,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Raw text reports received, by source.",
		}, []string{"source"}),
		MessagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_skipped_total",
			Help:      "Channel messages ignored for being empty or too short.",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_queue_dropped_total",
			Help:      "Channel messages rejected because the ingest queue was full.",
		}),
		IncidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Incidents finalized and published, by type.",
		}, []string{"type"}),
		ParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "AI parsing calls that failed outright.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of one parse-geocode-publish cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		MirrorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_errors_total",
			Help:      "Failures writing incidents to the mirror sink.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "Number of channel ingestion loops currently running.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding lookups by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Geocoding provider request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_subscribers",
			Help:      "Live subscribers currently connected to the hub.",
		}),
		BroadcastDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Envelopes delivered to live subscribers.",
		}),
		BroadcastPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_pruned_total",
			Help:      "Subscribers removed after a failed delivery.",
		}),
	}
}
