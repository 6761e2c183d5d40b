package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-heal/internal/baseline"
	"github.com/sentinelstack/sentinel-heal/internal/cache"
	"github.com/sentinelstack/sentinel-heal/internal/correlate"
	"github.com/sentinelstack/sentinel-heal/internal/detect"
	"github.com/sentinelstack/sentinel-heal/internal/healing"
	"github.com/sentinelstack/sentinel-heal/internal/incidents"
	"github.com/sentinelstack/sentinel-heal/internal/models"
	"github.com/sentinelstack/sentinel-heal/internal/normalize"
	"github.com/sentinelstack/sentinel-heal/internal/pipeline"
)

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, models.SelfHealingAction, string) (string, error) {
	return "ok", nil
}

func newTestServer(t *testing.T) (*httptest.Server, Deps) {
	t.Helper()

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	rules := `
actions:
  - id: restart-web
    name: Restart web
    action_type: restart_service
    condition: cpu_percent > 90
    parameters:
      service: web
    cooldown_minutes: 30
    priority: 10
    enabled: true
`
	if err := os.WriteFile(rulesPath, []byte(rules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	store := baseline.NewStore(100)
	scorer := detect.NewScorer(detect.Config{MinSamples: 30}, nil)
	normalizer := normalize.NewNormalizer(nil)
	correlator := correlate.New(correlate.Config{}, nil)
	aggregator := incidents.NewAggregator(incidents.Config{}, nil)

	engine, err := healing.NewEngine(healing.Config{RulesPath: rulesPath}, noopExecutor{}, nil, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	pipe := pipeline.New(pipeline.Config{}, store, scorer, normalizer, correlator, aggregator, engine, nil)

	deps := Deps{
		Pipeline:   pipe,
		Aggregator: aggregator,
		Engine:     engine,
		Normalizer: normalizer,
		Cache:      cache.NoopProvider{},
	}
	h := &handlers{deps: deps}
	ts := httptest.NewServer(newRouter(h))
	t.Cleanup(ts.Close)
	return ts, deps
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSubmitSamplesAcceptsBatchAndSingle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/samples", []models.MetricSample{
		{Key: "cpu", Value: 40, Timestamp: time.Now()},
		{Key: "cpu", Value: 41, Timestamp: time.Now()},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for batch, got %d", resp.StatusCode)
	}
	var body map[string]int
	decodeBody(t, resp, &body)
	if body["accepted"] != 2 {
		t.Fatalf("expected 2 accepted, got %v", body)
	}

	resp = postJSON(t, ts.URL+"/api/v1/samples",
		models.MetricSample{Key: "mem", Value: 70, Timestamp: time.Now()})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for single sample, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSubmitSamplesRejectsGarbage(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/v1/samples", "application/json", bytes.NewReader([]byte("nope")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAlertIngestValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/alerts", normalize.ExternalAlert{
		Name: "Disk filling", Severity: models.SeverityHigh, Timestamp: time.Now(),
		Labels: map[string]string{"host": "db-1"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var accepted map[string]string
	decodeBody(t, resp, &accepted)
	if accepted["alert_id"] == "" {
		t.Fatal("expected alert id in response")
	}

	resp = postJSON(t, ts.URL+"/api/v1/alerts", normalize.ExternalAlert{
		Name: "Missing severity", Timestamp: time.Now(),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid alert, got %d", resp.StatusCode)
	}
}

func TestIncidentLifecycleOverHTTP(t *testing.T) {
	ts, deps := newTestServer(t)

	inc, err := deps.Aggregator.OpenIncident([]models.Alert{{
		ID: "a1", Name: "High CPU", Severity: models.SeverityHigh,
		Source: models.SourceMetric, Timestamp: time.Now(),
		Labels: map[string]string{"service": "web"},
	}})
	if err != nil {
		t.Fatalf("open incident: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/incidents?status=open")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listing struct {
		Incidents []models.Incident `json:"incidents"`
		Count     int               `json:"count"`
	}
	decodeBody(t, resp, &listing)
	if listing.Count != 1 || listing.Incidents[0].ID != inc.ID {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	resp = postJSON(t, ts.URL+"/api/v1/incidents/"+inc.ID+"/acknowledge", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Acknowledging twice conflicts.
	resp = postJSON(t, ts.URL+"/api/v1/incidents/"+inc.ID+"/acknowledge", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/incidents/"+inc.ID+"/resolve", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", resp.StatusCode)
	}
	var resolved models.Incident
	decodeBody(t, resp, &resolved)
	if resolved.Status != models.IncidentResolved {
		t.Fatalf("expected resolved, got %s", resolved.Status)
	}

	resp, err = http.Get(ts.URL + "/api/v1/incidents/" + inc.ID + "/alerts")
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	var alerts struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &alerts)
	if alerts.Count != 1 {
		t.Fatalf("expected one member alert, got %d", alerts.Count)
	}
}

func TestIncidentNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/incidents/ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListIncidentsRejectsBadQuery(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, query := range []string{"?status=bogus", "?from=yesterday", "?to=tomorrow"} {
		resp, err := http.Get(ts.URL + "/api/v1/incidents" + query)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("query %s: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestActionSurface(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/actions")
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	var actions struct {
		Actions []models.SelfHealingAction `json:"actions"`
	}
	decodeBody(t, resp, &actions)
	if len(actions.Actions) != 1 || actions.Actions[0].ID != "restart-web" {
		t.Fatalf("unexpected actions: %+v", actions)
	}

	resp = postJSON(t, ts.URL+"/api/v1/actions/restart-web/disable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable: expected 200, got %d", resp.StatusCode)
	}
	var toggled struct {
		Enabled bool `json:"enabled"`
	}
	decodeBody(t, resp, &toggled)
	if toggled.Enabled {
		t.Fatal("expected enabled=false after disable")
	}

	resp = postJSON(t, ts.URL+"/api/v1/actions/ghost/enable", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/v1/actions/history?limit=-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/actions/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var snap pipeline.Snapshot
	decodeBody(t, resp, &snap)
	if snap.QueuedSamples != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSampleQueueBackpressure(t *testing.T) {
	// A one-slot queue makes the second sample spill.
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(rulesPath, []byte("actions: []\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	store := baseline.NewStore(10)
	scorer := detect.NewScorer(detect.Config{}, nil)
	normalizer := normalize.NewNormalizer(nil)
	aggregator := incidents.NewAggregator(incidents.Config{}, nil)
	pipe := pipeline.New(pipeline.Config{SampleQueueSize: 1, AlertQueueSize: 1},
		store, scorer, normalizer, correlate.New(correlate.Config{}, nil), aggregator, nil, nil)

	h := &handlers{deps: Deps{
		Pipeline: pipe, Aggregator: aggregator, Normalizer: normalizer, Cache: cache.NoopProvider{},
	}}
	ts := httptest.NewServer(newRouter(h))
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/samples", []models.MetricSample{
		{Key: "cpu", Value: 1}, {Key: "cpu", Value: 2}, {Key: "cpu", Value: 3},
	})
	defer resp.Body.Close()
	var body map[string]int
	decodeBody(t, resp, &body)
	if body["accepted"] != 1 || body["rejected"] != 2 {
		t.Fatalf("expected 1 accepted 2 rejected, got %v", body)
	}
}
