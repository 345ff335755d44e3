package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if h := g.metricsHandler(); h != nil {
		r.Handle("/metrics", h)
	}

	// Webhooks carry their own HMAC auth per source.
	r.Post("/webhooks/{source}", g.webhooks.ServeHTTP)

	// API endpoints require auth and are not mounted without it.
	if g.config.Auth.IsConfigured() {
		r.Route("/api", func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth, g.logger, g.authLimiter))
			r.Get("/status", g.handleStatus())
			r.Get("/modules", g.handleGetAllModules())
			r.Get("/providers", g.handleListProviders())
			r.Get("/models", g.handleListModels())
			r.Post("/chat", g.handleChat())
			r.Post("/fields", g.handleSubmitField())
			r.Post("/auth", g.handleAuthorize())
			if g.dispatcher != nil {
				r.Post("/messages", g.handleSubmitMessage())
			}
			if g.store != nil {
				r.Get("/sessions/{user}", g.handleListSessions())
				r.Get("/sessions/{user}/{group}/{role}/history", g.handleSessionHistory())
			}
			r.Delete("/sessions/{user}/{group}/{role}", g.handleDeleteSession())
		})
	}

	return r
}
