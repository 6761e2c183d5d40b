package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	samplesScoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel_heal",
			Name:      "samples_scored_total",
			Help:      "Total number of metric samples scored.",
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_heal",
			Name:      "anomalies_total",
			Help:      "Anomalous verdicts, partitioned by contributing model.",
		},
		[]string{"model"},
	)

	alertsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_heal",
			Name:      "alerts_ingested_total",
			Help:      "Alerts entering the correlator, partitioned by source.",
		},
		[]string{"source"},
	)

	alertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel_heal",
			Name:      "alerts_suppressed_total",
			Help:      "Alerts marked as noise duplicates.",
		},
	)

	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_heal",
			Name:      "incidents_total",
			Help:      "Incident lifecycle transitions, partitioned by event.",
		},
		[]string{"event"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_heal",
			Name:      "actions_total",
			Help:      "Self-healing action decisions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentinel_heal",
			Name:      "cycle_seconds",
			Help:      "Pipeline cycle latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

// Register attaches the engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplesScoredTotal,
		anomaliesTotal,
		alertsIngestedTotal,
		alertsSuppressedTotal,
		incidentsTotal,
		actionsTotal,
		cycleDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSampleScored counts one scored sample.
func ObserveSampleScored() {
	samplesScoredTotal.Inc()
}

// ObserveAnomaly counts an anomalous verdict by contributing model.
func ObserveAnomaly(model string) {
	anomaliesTotal.WithLabelValues(model).Inc()
}

// ObserveAlertIngested counts an alert entering the correlator.
func ObserveAlertIngested(source string) {
	alertsIngestedTotal.WithLabelValues(source).Inc()
}

// ObserveAlertSuppressed counts a suppressed duplicate.
func ObserveAlertSuppressed() {
	alertsSuppressedTotal.Inc()
}

// ObserveIncidentEvent counts an incident lifecycle event ("opened",
// "extended", "resolved", "acknowledged").
func ObserveIncidentEvent(event string) {
	incidentsTotal.WithLabelValues(event).Inc()
}

// ObserveAction counts a rule-engine decision by outcome.
func ObserveAction(outcome string) {
	actionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCycle records one pipeline cycle duration.
func ObserveCycle(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}
