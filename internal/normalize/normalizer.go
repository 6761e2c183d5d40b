// Package normalize converts scorer verdicts and externally submitted
// alerts into the uniform Alert record. Malformed input is rejected here
// and never enters the pipeline.
package normalize

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelstack/sentinel-heal/internal/models"
	"github.com/sentinelstack/sentinel-heal/internal/utils"
)

// ExternalAlert is the ingest shape for alerts raised outside the scorer.
type ExternalAlert struct {
	ID        string            `json:"id,omitempty"`
	Name      string            `json:"name"`
	Severity  models.Severity   `json:"severity"`
	Source    string            `json:"source,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Normalizer validates and converts incoming records.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// FromVerdict folds an anomalous verdict into an Alert. Non-anomalous
// verdicts are a caller error.
func (n *Normalizer) FromVerdict(verdict models.AnomalyVerdict, sample models.MetricSample) (models.Alert, error) {
	if !verdict.IsAnomaly {
		return models.Alert{}, utils.NewAppError("normalize.FromVerdict", "verdict is not anomalous", nil)
	}
	if sample.Key == "" {
		return models.Alert{}, utils.NewAppError("normalize.FromVerdict", "sample key is required", nil)
	}
	if sample.Timestamp.IsZero() {
		return models.Alert{}, utils.NewAppError("normalize.FromVerdict", "sample timestamp is required", nil)
	}

	name := fmt.Sprintf("Anomaly detected: %s", sample.Key)
	message := fmt.Sprintf("%s=%.4f flagged by %s model (severity %.2f)",
		sample.Key, sample.Value, verdict.ContributingModel, verdict.Severity)

	labels := copyLabels(sample.Labels)
	labels["metric"] = sample.Key

	alert := models.Alert{
		ID:        uuid.NewString(),
		Name:      name,
		Severity:  severityFromScore(verdict.Severity),
		Source:    models.SourceMetric,
		Timestamp: sample.Timestamp,
		Message:   message,
		Labels:    labels,
	}
	alert.CorrelationKey = CorrelationKey(alert)
	return alert, nil
}

// FromExternal validates an externally submitted alert and converts it.
func (n *Normalizer) FromExternal(in ExternalAlert) (models.Alert, error) {
	if strings.TrimSpace(in.Name) == "" {
		return models.Alert{}, utils.NewAppError("normalize.FromExternal", "name is required", nil)
	}
	if !in.Severity.Valid() {
		return models.Alert{}, utils.NewAppError("normalize.FromExternal",
			fmt.Sprintf("unknown severity %q", in.Severity), nil)
	}
	if in.Timestamp.IsZero() {
		return models.Alert{}, utils.NewAppError("normalize.FromExternal", "timestamp is required", nil)
	}

	source := models.SourceExternal
	if strings.EqualFold(in.Source, string(models.SourceCustom)) {
		source = models.SourceCustom
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	alert := models.Alert{
		ID:        id,
		Name:      in.Name,
		Severity:  in.Severity,
		Source:    source,
		Timestamp: in.Timestamp,
		Message:   in.Message,
		Labels:    copyLabels(in.Labels),
	}
	alert.CorrelationKey = CorrelationKey(alert)
	return alert, nil
}

// CorrelationKey derives a stable fingerprint from the alert's name and
// sorted labels. Alerts with the same key are near-certain duplicates.
func CorrelationKey(alert models.Alert) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(alert.Name)))
	for _, pair := range sortedLabelPairs(alert.Labels) {
		h.Write([]byte{0})
		h.Write([]byte(pair))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func sortedLabelPairs(labels map[string]string) []string {
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func severityFromScore(score float64) models.Severity {
	switch {
	case score >= 0.85:
		return models.SeverityCritical
	case score >= 0.6:
		return models.SeverityHigh
	case score >= 0.3:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
