package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentinelstack/sentinel-heal/internal/incidents"
	"github.com/sentinelstack/sentinel-heal/internal/models"
	"github.com/sentinelstack/sentinel-heal/internal/normalize"
)

type handlers struct {
	deps     Deps
	queryTTL time.Duration
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "sentinel-heal"})
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Pipeline.Status())
}

// submitSamples accepts either a single sample object or an array.
func (h *handlers) submitSamples(w http.ResponseWriter, r *http.Request) {
	body, err := decodeSamples(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted, rejected := 0, 0
	for _, sample := range body {
		if err := h.deps.Pipeline.Submit(sample); err != nil {
			rejected++
			continue
		}
		accepted++
	}
	status := http.StatusAccepted
	if accepted == 0 && rejected > 0 {
		status = http.StatusTooManyRequests
	}
	respondJSON(w, status, map[string]int{"accepted": accepted, "rejected": rejected})
}

func decodeSamples(r *http.Request) ([]models.MetricSample, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		return nil, errors.New("read request body failed")
	}
	var batch []models.MetricSample
	if err := json.Unmarshal(data, &batch); err == nil {
		return batch, nil
	}
	var single models.MetricSample
	if err := json.Unmarshal(data, &single); err == nil && single.Key != "" {
		return []models.MetricSample{single}, nil
	}
	return nil, errors.New("invalid request body: expected a sample or an array of samples")
}

func (h *handlers) submitAlert(w http.ResponseWriter, r *http.Request) {
	var in normalize.ExternalAlert
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.deps.Normalizer.FromExternal(in)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.Pipeline.SubmitAlert(alert); err != nil {
		respondError(w, http.StatusTooManyRequests, "alert queue full")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"alert_id": alert.ID})
}

func (h *handlers) listAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts := h.deps.Aggregator.AllAlerts()
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (h *handlers) listIncidents(w http.ResponseWriter, r *http.Request) {
	q := incidents.Query{}
	if status := r.URL.Query().Get("status"); status != "" {
		s := models.IncidentStatus(strings.ToLower(status))
		switch s {
		case models.IncidentOpen, models.IncidentAcknowledged, models.IncidentResolved:
			q.Status = s
		default:
			respondError(w, http.StatusBadRequest, "unknown status "+status)
			return
		}
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		q.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		q.To = t
	}

	// Listing is the hottest read; serve a short-lived cached copy when
	// a cache backend is configured.
	cacheKey := "sentinel-heal:incidents:" + r.URL.RawQuery
	if h.queryTTL > 0 {
		if data, err := h.deps.Cache.Get(r.Context(), cacheKey); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	list := h.deps.Aggregator.List(q)
	payload := map[string]any{"incidents": list, "count": len(list)}
	if h.queryTTL > 0 {
		if data, err := json.Marshal(payload); err == nil {
			_ = h.deps.Cache.Set(r.Context(), cacheKey, data, h.queryTTL)
		}
	}
	respondJSON(w, http.StatusOK, payload)
}

func (h *handlers) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.deps.Aggregator.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

func (h *handlers) incidentAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.deps.Aggregator.Alerts(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (h *handlers) acknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.deps.Aggregator.Acknowledge(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

func (h *handlers) resolveIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.deps.Aggregator.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

func (h *handlers) listActions(w http.ResponseWriter, _ *http.Request) {
	actions := h.deps.Engine.Actions()
	respondJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

func (h *handlers) enableAction(w http.ResponseWriter, r *http.Request) {
	h.toggleAction(w, r, true)
}

func (h *handlers) disableAction(w http.ResponseWriter, r *http.Request) {
	h.toggleAction(w, r, false)
}

func (h *handlers) toggleAction(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Engine.SetEnabled(id, enabled); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"action_id": id, "enabled": enabled})
}

func (h *handlers) actionHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	records := h.deps.Engine.History(limit)
	respondJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (h *handlers) actionStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"stats": h.deps.Engine.Stats()})
}
