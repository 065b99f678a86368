package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// RegisterExecutorRequest is the JSON body for POST /api/v1/executors/register.
type RegisterExecutorRequest struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"` // worker | supervisor
	Capabilities []string          `json:"capabilities,omitempty"`
	DesktopAddr  string            `json:"desktop_addr,omitempty"`
	DesktopCreds string            `json:"desktop_creds,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RegisterExecutor handles POST /api/v1/executors/register. This is the
// synchronous registration path: the response confirms the executor is in
// the registry before it starts heartbeating.
func (a *API) RegisterExecutor(w http.ResponseWriter, r *http.Request) {
	var req RegisterExecutorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "field 'id' is required")
		return
	}
	kind := domain.KindWorker
	if req.Kind == string(domain.KindSupervisor) {
		kind = domain.KindSupervisor
	}

	conn := &domain.Connection{
		ID:                 req.ID,
		Kind:               kind,
		Status:             domain.StatusIdle,
		Capabilities:       req.Capabilities,
		RemoteDesktopAddr:  req.DesktopAddr,
		RemoteDesktopCreds: req.DesktopCreds,
		Metadata:           req.Metadata,
	}
	a.orch.RegisterExecutor(r.Context(), conn)
	a.logger.Info("executor registered",
		slog.String("executor_id", req.ID),
		slog.String("kind", string(kind)),
	)
	writeJSON(w, http.StatusOK, map[string]string{"id": req.ID, "status": "registered"})
}

// DeregisterExecutor handles DELETE /api/v1/executors/{id}.
func (a *API) DeregisterExecutor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := a.orch.Registry().Get(id); !ok {
		writeError(w, http.StatusNotFound, "executor not found")
		return
	}
	a.orch.DeregisterExecutor(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deregistered"})
}

// ListExecutors handles GET /api/v1/executors.
func (a *API) ListExecutors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.orch.Registry().Snapshot())
}

// DesktopWorkerRequest is the JSON body for POST /api/v1/desktop-workers.
type DesktopWorkerRequest struct {
	ID    string `json:"id"`
	Addr  string `json:"addr"`
	Creds string `json:"creds,omitempty"`
	Label string `json:"label,omitempty"`
}

// RegisterDesktopWorker handles POST /api/v1/desktop-workers: a machine
// reachable for remote-desktop control, persisted so it survives restarts.
func (a *API) RegisterDesktopWorker(w http.ResponseWriter, r *http.Request) {
	var req DesktopWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" || req.Addr == "" {
		writeError(w, http.StatusBadRequest, "fields 'id' and 'addr' are required")
		return
	}

	if !a.orch.Registry().RegisterDesktopOnly(req.ID, req.Addr, req.Creds) {
		writeError(w, http.StatusConflict, "an agent is already connected under this id")
		return
	}

	if a.fleet != nil {
		now := time.Now().UTC()
		worker := &domain.DesktopWorker{
			ID:        req.ID,
			Addr:      req.Addr,
			Creds:     req.Creds,
			Label:     req.Label,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := a.fleet.UpsertDesktopWorker(r.Context(), worker); err != nil {
			a.logger.Error("persist desktop worker",
				slog.String("id", req.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": req.ID, "status": "registered"})
}

// DeleteDesktopWorker handles DELETE /api/v1/desktop-workers/{id}.
func (a *API) DeleteDesktopWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conn, ok := a.orch.Registry().Get(id)
	if ok && conn.AgentConnected {
		writeError(w, http.StatusConflict, "an agent is connected under this id")
		return
	}
	a.orch.Registry().Unregister(id)

	if a.fleet != nil {
		if err := a.fleet.DeleteDesktopWorker(r.Context(), id); err != nil {
			a.logger.Error("delete desktop worker",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// ListDesktopWorkers handles GET /api/v1/desktop-workers.
func (a *API) ListDesktopWorkers(w http.ResponseWriter, r *http.Request) {
	out := make([]*domain.Connection, 0)
	for _, conn := range a.orch.Registry().Snapshot() {
		if conn.DesktopCapable() {
			out = append(out, conn)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
