package healing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sentinelstack/sentinel-heal/internal/models"
)

// StandardExecutor dispatches on action type. Service operations
// (restart, scale, clear cache) go through the configured Remediator;
// notify_team posts a JSON payload to the webhook_url parameter.
type StandardExecutor struct {
	remediator Remediator
	httpClient *http.Client
	logger     *slog.Logger
}

// Remediator applies service-level operations in the target platform.
// The default implementation only logs, which is the right behaviour in
// dry-run deployments; production wires a real one.
type Remediator interface {
	RestartService(ctx context.Context, service string, params map[string]string) error
	ScaleService(ctx context.Context, service string, replicas int, params map[string]string) error
	ClearCache(ctx context.Context, target string, params map[string]string) error
}

// NewStandardExecutor constructs the executor. remediator may be nil;
// then a log-only remediator is used.
func NewStandardExecutor(remediator Remediator, logger *slog.Logger) *StandardExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if remediator == nil {
		remediator = &logRemediator{logger: logger}
	}
	return &StandardExecutor{
		remediator: remediator,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Execute implements Executor.
func (e *StandardExecutor) Execute(ctx context.Context, action models.SelfHealingAction, incidentID string) (string, error) {
	switch action.ActionType {
	case models.ActionRestartService:
		service := action.Parameters["service"]
		if service == "" {
			return "", fmt.Errorf("action %s: missing service parameter", action.ID)
		}
		if err := e.remediator.RestartService(ctx, service, action.Parameters); err != nil {
			return "", fmt.Errorf("restart %s: %w", service, err)
		}
		return fmt.Sprintf("restarted service %s", service), nil

	case models.ActionScaleService:
		service := action.Parameters["service"]
		if service == "" {
			return "", fmt.Errorf("action %s: missing service parameter", action.ID)
		}
		replicas := 1
		if v := action.Parameters["replicas"]; v != "" {
			if _, err := fmt.Sscanf(v, "%d", &replicas); err != nil {
				return "", fmt.Errorf("action %s: invalid replicas %q", action.ID, v)
			}
		}
		if err := e.remediator.ScaleService(ctx, service, replicas, action.Parameters); err != nil {
			return "", fmt.Errorf("scale %s: %w", service, err)
		}
		return fmt.Sprintf("scaled service %s to %d replicas", service, replicas), nil

	case models.ActionClearCache:
		target := action.Parameters["target"]
		if err := e.remediator.ClearCache(ctx, target, action.Parameters); err != nil {
			return "", fmt.Errorf("clear cache %s: %w", target, err)
		}
		return fmt.Sprintf("cleared cache %s", target), nil

	case models.ActionNotifyTeam:
		return e.notify(ctx, action, incidentID)

	case models.ActionCustom:
		// Custom actions are acknowledged but carry no built-in effect.
		e.logger.Info("custom action acknowledged",
			slog.String("action_id", action.ID),
			slog.String("incident_id", incidentID))
		return "custom action acknowledged", nil

	default:
		return "", fmt.Errorf("unknown action type %q", action.ActionType)
	}
}

func (e *StandardExecutor) notify(ctx context.Context, action models.SelfHealingAction, incidentID string) (string, error) {
	url := action.Parameters["webhook_url"]
	if url == "" {
		// Without a webhook the notification degrades to a log line.
		e.logger.Warn("team notification",
			slog.String("action_id", action.ID),
			slog.String("incident_id", incidentID),
			slog.String("channel", action.Parameters["channel"]))
		return "notification logged (no webhook_url configured)", nil
	}

	payload, err := json.Marshal(map[string]string{
		"action_id":   action.ID,
		"action_name": action.Name,
		"incident_id": incidentID,
		"channel":     action.Parameters["channel"],
	})
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("notification webhook returned %s", resp.Status)
	}
	return fmt.Sprintf("notified via webhook (%s)", resp.Status), nil
}

// logRemediator records the requested operation without touching any
// platform. Used when no real remediator is wired.
type logRemediator struct {
	logger *slog.Logger
}

func (r *logRemediator) RestartService(_ context.Context, service string, _ map[string]string) error {
	r.logger.Info("dry-run restart", slog.String("service", service))
	return nil
}

func (r *logRemediator) ScaleService(_ context.Context, service string, replicas int, _ map[string]string) error {
	r.logger.Info("dry-run scale", slog.String("service", service), slog.Int("replicas", replicas))
	return nil
}

func (r *logRemediator) ClearCache(_ context.Context, target string, _ map[string]string) error {
	r.logger.Info("dry-run cache clear", slog.String("target", target))
	return nil
}
