package gateway

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"` // "ok" or "degraded"
	Providers int    `json:"providers"`
	Models    int    `json:"models"`
	Store     string `json:"store"` // "ok", "error" or "n/a"
}

// pinger is implemented by stores that can check their connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealth returns 200 when models are loaded and the store answers,
// 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Store: "n/a"}
		if g.registry != nil {
			resp.Providers = g.registry.Len()
			resp.Models = len(g.registry.Models())
		}
		if resp.Models == 0 {
			resp.Status = "degraded"
		}

		if p, ok := g.store.(pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			resp.Store = "ok"
			if err := p.Ping(ctx); err != nil {
				resp.Store = "error"
				resp.Status = "degraded"
			}
		}

		code := http.StatusOK
		if resp.Status == "degraded" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Uptime     int64    `json:"uptime_seconds"`
	Providers  []string `json:"providers"`
	Dispatcher bool     `json:"dispatcher"`
}

func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:     int64(time.Since(g.startedAt) / time.Second),
			Providers:  g.registry.IDs(),
			Dispatcher: g.dispatcher != nil,
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
