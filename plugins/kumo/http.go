package kumo

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// RegisterHTTP exposes read-only entity views under /api/kumo.
func (p *Plugin) RegisterHTTP(r chi.Router) {
	r.Get("/entities", p.handleEntities)
	r.Get("/entities/{id}", p.handleEntity)
	r.Get("/rate-limit", p.handleRateLimit)
}

func (p *Plugin) handleEntities(w http.ResponseWriter, r *http.Request) {
	if p.integration == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": p.HealthMessage()})
		return
	}
	platform := r.URL.Query().Get("platform")
	entities := make([]map[string]any, 0)
	for _, e := range p.integration.Entities() {
		if platform != "" && e.Platform() != platform {
			continue
		}
		entities = append(entities, entityView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"pending":  p.integration.Pending(),
		"source":   p.integration.Source(),
		"health":   p.Health(),
	})
}

func (p *Plugin) handleEntity(w http.ResponseWriter, r *http.Request) {
	if p.integration == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": p.HealthMessage()})
		return
	}
	id := chi.URLParam(r, "id")
	e, ok := p.integration.Entity(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "entity not found", "unique_id": id})
		return
	}
	writeJSON(w, http.StatusOK, entityView(e))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleRateLimit reports the cloud login guard. Setups with static units never log in.
func (p *Plugin) handleRateLimit(w http.ResponseWriter, _ *http.Request) {
	if p.cloud == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no cloud login configured"})
		return
	}
	snap, ok := p.cloud.RateLimitState()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "cloud login is not rate limited"})
		return
	}
	remaining := make(map[string]int, len(snap.Remaining))
	for window, n := range snap.Remaining {
		remaining[window.String()] = n
	}
	limits := make(map[string]int, len(snap.Limits))
	for window, n := range snap.Limits {
		limits[window.String()] = n
	}
	body := map[string]any{
		"provider":    p.RateLimits().Provider,
		"limits":      limits,
		"remaining":   remaining,
		"last_status": snap.LastStatus,
		"blocked":     snap.Blocked,
	}
	if !snap.Cooldown.IsZero() {
		body["cooldown_until"] = snap.Cooldown.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}
