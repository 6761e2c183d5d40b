package models

import "time"

// Severity captures alert and incident impact levels, ordered low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering weight of a severity. Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AlertSource enumerates where an alert originated.
type AlertSource string

const (
	SourceMetric   AlertSource = "metric"
	SourceExternal AlertSource = "external"
	SourceCustom   AlertSource = "custom"
)

// MetricSample is a single labelled measurement from the collection layer.
// Samples are immutable once recorded.
type MetricSample struct {
	Key       string            `json:"key"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// ContributingModel records which detection strategy flagged a sample.
type ContributingModel string

const (
	ModelOutlier  ContributingModel = "outlier"
	ModelForecast ContributingModel = "forecast"
	ModelBoth     ContributingModel = "both"
	ModelNone     ContributingModel = ""
)

// VerdictReason enumerates why a verdict was (or was not) anomalous.
type VerdictReason string

const (
	ReasonNone             VerdictReason = "none"
	ReasonInsufficientData VerdictReason = "insufficient_data"
	ReasonOutlierScore     VerdictReason = "outlier_score"
	ReasonForecastBreach   VerdictReason = "forecast_breach"
)

// AnomalyVerdict is the per-sample scoring result. It is ephemeral: a
// verdict only survives by being folded into an Alert when anomalous.
type AnomalyVerdict struct {
	Key               string            `json:"key"`
	Timestamp         time.Time         `json:"timestamp"`
	IsAnomaly         bool              `json:"is_anomaly"`
	Severity          float64           `json:"severity"`
	Reason            VerdictReason     `json:"reason"`
	ContributingModel ContributingModel `json:"contributing_model,omitempty"`
}

// Alert is the uniform record produced by the normalizer from scorer
// verdicts and externally submitted alerts. Only Suppressed is mutated
// after creation.
type Alert struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Severity       Severity          `json:"severity"`
	Source         AlertSource       `json:"source"`
	Timestamp      time.Time         `json:"timestamp"`
	Message        string            `json:"message"`
	Labels         map[string]string `json:"labels,omitempty"`
	CorrelationKey string            `json:"correlation_key"`
	Suppressed     bool              `json:"suppressed"`
}
