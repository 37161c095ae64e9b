// Package metrics exposes Prometheus instrumentation for the ingestion
// and analysis pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EntriesIngested counts log entries accepted into the queue, by
	// transport ("http" or "kafka").
	EntriesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "entries_ingested_total",
		Help:      "Log entries accepted into the analysis queue.",
	}, []string{"transport"})

	// EntriesQuarantined counts invalid submissions routed to quarantine.
	EntriesQuarantined = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "entries_quarantined_total",
		Help:      "Invalid submissions written to the quarantine table.",
	}, []string{"transport"})

	// EntriesDropped counts entries lost to a full queue.
	EntriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "entries_dropped_total",
		Help:      "Entries rejected because the ingest queue was full.",
	})

	// QueueDepth tracks the current ingest queue depth.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "queue_depth",
		Help:      "Current number of entries waiting in the ingest queue.",
	})

	// EntriesAnalyzed counts entries run through the fusion engine.
	EntriesAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "entries_analyzed_total",
		Help:      "Log entries analyzed by the detection fusion engine.",
	})

	// ThreatsDetected counts positive verdicts by severity.
	ThreatsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "threats_detected_total",
		Help:      "Positive detection verdicts, by assigned severity.",
	}, []string{"severity"})

	// DetectorFailures counts detector errors by detector name.
	DetectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "detector_failures_total",
		Help:      "Detector invocations that returned an error or panicked.",
	}, []string{"detector"})

	// RequestsThrottled counts HTTP submissions rejected by the ingest
	// rate limiter.
	RequestsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "requests_throttled_total",
		Help:      "HTTP requests rejected because a sender exceeded its rate limit.",
	})

	// ReportsGenerated counts reports computed and cached, by report type.
	ReportsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "reports_generated_total",
		Help:      "Reports computed and saved to the report cache.",
	}, []string{"report_type"})
)

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
