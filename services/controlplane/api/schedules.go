package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// ListSchedules handles GET /api/v1/schedules.
func (a *API) ListSchedules(w http.ResponseWriter, r *http.Request) {
	out, err := a.orch.Scheduler().List(r.Context())
	if err != nil {
		a.logger.Error("list schedules", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateSchedule handles POST /api/v1/schedules.
func (a *API) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var st domain.ScheduledTask
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if st.Name == "" || st.Prompt == "" {
		writeError(w, http.StatusBadRequest, "fields 'name' and 'prompt' are required")
		return
	}
	if err := a.orch.Scheduler().Create(r.Context(), &st); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// GetSchedule handles GET /api/v1/schedules/{id}.
func (a *API) GetSchedule(w http.ResponseWriter, r *http.Request) {
	st, err := a.orch.Scheduler().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// UpdateSchedule handles PUT /api/v1/schedules/{id}.
func (a *API) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var st domain.ScheduledTask
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	st.ID = chi.URLParam(r, "id")
	if err := a.orch.Scheduler().Update(r.Context(), &st); err != nil {
		writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteSchedule handles DELETE /api/v1/schedules/{id}.
func (a *API) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.orch.Scheduler().Delete(r.Context(), id); err != nil {
		writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// ToggleScheduleRequest is the JSON body for POST /api/v1/schedules/{id}/toggle.
type ToggleScheduleRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleSchedule handles POST /api/v1/schedules/{id}/toggle.
func (a *API) ToggleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ToggleScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	st, err := a.orch.Scheduler().Toggle(r.Context(), chi.URLParam(r, "id"), req.Enabled)
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// TriggerSchedule handles POST /api/v1/schedules/{id}/trigger: run now,
// regardless of the due time or the enabled flag.
func (a *API) TriggerSchedule(w http.ResponseWriter, r *http.Request) {
	report, err := a.orch.Scheduler().Trigger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeScheduleError(w http.ResponseWriter, err error) {
	var notFound *domain.ScheduleNotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
