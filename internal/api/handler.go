// Package api serves the historian HTTP API, the HTML views and the MCP
// tools over the record store and the reference pipeline.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/historian/internal/access"
	"github.com/kalambet/historian/internal/cache"
	"github.com/kalambet/historian/internal/pipeline"
	"github.com/kalambet/historian/internal/records"
	"github.com/kalambet/historian/internal/storage"
)

// LoginPath is where the route gate sends visitors without a marker cookie.
const LoginPath = "/access"

type Deps struct {
	Store        *storage.Store
	Records      *records.Store
	Orchestrator *pipeline.Orchestrator
	Cache        *cache.Cache
	Gate         *access.Gate
	Metrics      http.Handler // optional; served at /metrics
	Logger       *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewHandler returns the full HTTP surface: health, metrics, login, the JSON
// API under /api and the HTML views.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(access.RouteGate(LoginPath))

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Get(LoginPath, handleAccessPage(deps))
	r.Post(LoginPath, handleLogin(deps))
	r.Post("/logout", handleLogout(deps))

	r.Route("/api", func(r chi.Router) {
		r.Get("/access", handleAccessStatus(deps))

		r.Group(func(r chi.Router) {
			r.Use(deps.Gate.RequireCredential)

			r.Get("/timeline", handleListTimeline(deps))
			r.Post("/timeline", handleCreateTimeline(deps))
			r.Get("/timeline/{id}", handleGetTimeline(deps))
			r.Patch("/timeline/{id}", handleUpdateTimeline(deps))
			r.Delete("/timeline/{id}", handleDeleteTimeline(deps))
			r.Get("/timeline/{id}/reference", handleViewReference(deps, records.KindTimeline))
			r.Post("/timeline/{id}/reference/regenerate", handleRegenerateReference(deps, records.KindTimeline))
			r.Post("/timeline/{id}/reference/accept", handleAcceptReference(deps))

			r.Get("/learning", handleListLearning(deps))
			r.Post("/learning", handleCreateLearning(deps))
			r.Get("/learning/{id}", handleGetLearning(deps))
			r.Patch("/learning/{id}", handleUpdateLearning(deps))
			r.Delete("/learning/{id}", handleDeleteLearning(deps))
			r.Get("/learning/{id}/reference", handleViewReference(deps, records.KindLearning))
			r.Post("/learning/{id}/reference/regenerate", handleRegenerateReference(deps, records.KindLearning))

			r.Get("/references/{id}/status", handleReferenceStatus(deps))
			r.Delete("/references", handleClearReferences(deps))

			r.Get("/generations", handleListGenerations(deps))
			r.Get("/export", handleExport(deps))
		})
	})

	mountPages(r, deps)

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
