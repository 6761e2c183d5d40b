package healing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sentinelstack/sentinel-heal/internal/models"
)

type recordingRemediator struct {
	restarted string
	scaled    int
	cleared   string
	fail      bool
}

func (r *recordingRemediator) RestartService(_ context.Context, service string, _ map[string]string) error {
	if r.fail {
		return errors.New("platform refused")
	}
	r.restarted = service
	return nil
}

func (r *recordingRemediator) ScaleService(_ context.Context, _ string, replicas int, _ map[string]string) error {
	r.scaled = replicas
	return nil
}

func (r *recordingRemediator) ClearCache(_ context.Context, target string, _ map[string]string) error {
	r.cleared = target
	return nil
}

func TestExecuteRestart(t *testing.T) {
	rem := &recordingRemediator{}
	exec := NewStandardExecutor(rem, nil)

	detail, err := exec.Execute(context.Background(), models.SelfHealingAction{
		ID: "r1", ActionType: models.ActionRestartService,
		Parameters: map[string]string{"service": "web"},
	}, "inc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rem.restarted != "web" || !strings.Contains(detail, "web") {
		t.Fatalf("expected restart of web, got %q %q", rem.restarted, detail)
	}
}

func TestExecuteRestartRequiresService(t *testing.T) {
	exec := NewStandardExecutor(&recordingRemediator{}, nil)
	if _, err := exec.Execute(context.Background(), models.SelfHealingAction{
		ID: "r1", ActionType: models.ActionRestartService,
	}, ""); err == nil {
		t.Fatal("expected error for missing service parameter")
	}
}

func TestExecuteScaleParsesReplicas(t *testing.T) {
	rem := &recordingRemediator{}
	exec := NewStandardExecutor(rem, nil)

	if _, err := exec.Execute(context.Background(), models.SelfHealingAction{
		ID: "s1", ActionType: models.ActionScaleService,
		Parameters: map[string]string{"service": "web", "replicas": "5"},
	}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rem.scaled != 5 {
		t.Fatalf("expected 5 replicas, got %d", rem.scaled)
	}

	if _, err := exec.Execute(context.Background(), models.SelfHealingAction{
		ID: "s2", ActionType: models.ActionScaleService,
		Parameters: map[string]string{"service": "web", "replicas": "lots"},
	}, ""); err == nil {
		t.Fatal("expected error for invalid replicas")
	}
}

func TestExecutePropagatesRemediatorFailure(t *testing.T) {
	exec := NewStandardExecutor(&recordingRemediator{fail: true}, nil)
	if _, err := exec.Execute(context.Background(), models.SelfHealingAction{
		ID: "r1", ActionType: models.ActionRestartService,
		Parameters: map[string]string{"service": "web"},
	}, ""); err == nil {
		t.Fatal("expected remediator failure to propagate")
	}
}

func TestNotifyPostsWebhook(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := decodeJSON(r, &received); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exec := NewStandardExecutor(nil, nil)
	_, err := exec.Execute(context.Background(), models.SelfHealingAction{
		ID: "n1", Name: "Notify", ActionType: models.ActionNotifyTeam,
		Parameters: map[string]string{"webhook_url": srv.URL, "channel": "oncall"},
	}, "inc-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received["incident_id"] != "inc-7" || received["channel"] != "oncall" {
		t.Fatalf("unexpected payload: %v", received)
	}
}

func TestNotifyWebhookFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	exec := NewStandardExecutor(nil, nil)
	if _, err := exec.Execute(context.Background(), models.SelfHealingAction{
		ID: "n1", ActionType: models.ActionNotifyTeam,
		Parameters: map[string]string{"webhook_url": srv.URL},
	}, ""); err == nil {
		t.Fatal("expected webhook failure to error")
	}
}

func TestNotifyWithoutWebhookDegradesToLog(t *testing.T) {
	exec := NewStandardExecutor(nil, nil)
	detail, err := exec.Execute(context.Background(), models.SelfHealingAction{
		ID: "n1", ActionType: models.ActionNotifyTeam,
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(detail, "no webhook_url") {
		t.Fatalf("unexpected detail: %q", detail)
	}
}

func TestExecuteUnknownTypeErrors(t *testing.T) {
	exec := NewStandardExecutor(nil, nil)
	if _, err := exec.Execute(context.Background(), models.SelfHealingAction{
		ID: "x", ActionType: "teleport",
	}, ""); err == nil {
		t.Fatal("expected unknown action type to error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
