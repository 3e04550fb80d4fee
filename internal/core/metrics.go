package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's counter surface, registered on a private registry
// that the optional metrics endpoint serves for scraping.
type Metrics struct {
	EventsScored     prometheus.Counter
	EventsMalformed  prometheus.Counter
	ProcessingErrors prometheus.Counter
	PollFailures     prometheus.Counter

	AlertsRaised     prometheus.Counter
	AlertsSuppressed prometheus.Counter
	AlertsDropped    prometheus.Counter

	TrainingRuns     prometheus.Counter
	TrainingFailures prometheus.Counter

	ModelVersion prometheus.Gauge
	Watermark    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers the engine metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		EventsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_events_scored_total",
			Help: "Events that completed a scoring attempt.",
		}),
		EventsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_events_malformed_total",
			Help: "Events skipped because feature extraction failed.",
		}),
		ProcessingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_processing_errors_total",
			Help: "Unexpected per-event errors the loop advanced past.",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_poll_failures_total",
			Help: "Event store polls that failed and were retried with backoff.",
		}),
		AlertsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_alerts_raised_total",
			Help: "Alerts persisted to the alert store.",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_alerts_suppressed_total",
			Help: "Detections suppressed by the dedup window.",
		}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_alerts_dropped_total",
			Help: "Detections lost after alert write retries were exhausted.",
		}),
		TrainingRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_training_runs_total",
			Help: "Completed model training runs.",
		}),
		TrainingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_training_failures_total",
			Help: "Training runs that failed; the prior model stayed active.",
		}),
		ModelVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logwarden_model_version",
			Help: "Version of the active model.",
		}),
		Watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logwarden_watermark",
			Help: "Highest event ID the scoring loop has processed.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.EventsScored, m.EventsMalformed, m.ProcessingErrors, m.PollFailures,
		m.AlertsRaised, m.AlertsSuppressed, m.AlertsDropped,
		m.TrainingRuns, m.TrainingFailures,
		m.ModelVersion, m.Watermark,
	)
	return m
}

// Registry returns the prometheus registry holding the engine's collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
