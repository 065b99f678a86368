// Package api exposes the control plane's synchronous REST surface.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/byt3bl33d3r/figaro-sub000/internal/postgres"
	"github.com/byt3bl33d3r/figaro-sub000/services/controlplane"
	"github.com/byt3bl33d3r/figaro-sub000/services/controlplane/middleware"
)

// API is the REST handler set over the orchestrator.
type API struct {
	orch   *controlplane.Orchestrator
	fleet  *postgres.FleetRepository // nil = desktop workers not persisted
	logger *slog.Logger
}

func New(orch *controlplane.Orchestrator, fleet *postgres.FleetRepository, logger *slog.Logger) *API {
	return &API{orch: orch, fleet: fleet, logger: logger}
}

// Router builds the chi router with the full route tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(a.logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1MB limit

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", a.SubmitTask)
		r.Get("/tasks", a.ListTasks)
		r.Get("/tasks/search", a.SearchTasks)
		r.Get("/tasks/{id}", a.GetTask)
		r.Get("/tasks/{id}/messages", a.GetTaskMessages)

		r.Post("/executors/register", a.RegisterExecutor)
		r.Delete("/executors/{id}", a.DeregisterExecutor)
		r.Get("/executors", a.ListExecutors)

		r.Get("/desktop-workers", a.ListDesktopWorkers)
		r.Post("/desktop-workers", a.RegisterDesktopWorker)
		r.Delete("/desktop-workers/{id}", a.DeleteDesktopWorker)
		r.Post("/desktop-workers/{id}/command", a.DesktopCommand)

		r.Get("/schedules", a.ListSchedules)
		r.Post("/schedules", a.CreateSchedule)
		r.Get("/schedules/{id}", a.GetSchedule)
		r.Put("/schedules/{id}", a.UpdateSchedule)
		r.Delete("/schedules/{id}", a.DeleteSchedule)
		r.Post("/schedules/{id}/toggle", a.ToggleSchedule)
		r.Post("/schedules/{id}/trigger", a.TriggerSchedule)

		r.Get("/help-requests", a.ListHelpRequests)
		r.Post("/help-requests/{id}/respond", a.RespondHelpRequest)
		r.Post("/help-requests/{id}/dismiss", a.DismissHelpRequest)
	})
	return r
}

// Healthz handles GET /healthz.
func (a *API) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz.
func (a *API) Readyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
