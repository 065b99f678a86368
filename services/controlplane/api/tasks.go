package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// SubmitTaskRequest is the JSON body for POST /api/v1/tasks.
type SubmitTaskRequest struct {
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options,omitempty"`
}

// SubmitTaskResponse is the 202 response body.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// SubmitTask handles POST /api/v1/tasks.
func (a *API) SubmitTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("controlplane").Start(r.Context(), "api.submit_task")
	defer span.End()

	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "field 'prompt' is required")
		return
	}

	task := &domain.Task{
		Prompt:  req.Prompt,
		Options: req.Options,
		Status:  domain.TaskPending,
		Source:  domain.SourceAPI,
	}
	if err := a.orch.SubmitTask(ctx, task, "api"); err != nil {
		var limited *domain.RateLimitExceededError
		if errors.As(err, &limited) {
			writeError(w, http.StatusTooManyRequests, limited.Error())
			return
		}
		a.logger.Error("submit task", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	span.SetAttributes(attribute.String("task.id", task.ID))

	current, err := a.orch.Tasks().Get(ctx, task.ID)
	if err != nil {
		current = task
	}
	writeJSON(w, http.StatusAccepted, SubmitTaskResponse{
		TaskID: task.ID,
		Status: string(current.Status),
	})
}

// GetTask handles GET /api/v1/tasks/{id}.
func (a *API) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := a.orch.Tasks().Get(r.Context(), id)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		a.logger.Error("get task", slog.String("task_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GetTaskMessages handles GET /api/v1/tasks/{id}/messages.
func (a *API) GetTaskMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messages, err := a.orch.Tasks().History(r.Context(), id)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to retrieve messages")
		return
	}
	if messages == nil {
		messages = []domain.TaskMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// ListTasks handles GET /api/v1/tasks?status=&limit=.
func (a *API) ListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	out, err := a.orch.Tasks().All(r.Context(), status, limit)
	if err != nil {
		a.logger.Error("list tasks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// SearchTasks handles GET /api/v1/tasks/search?q=.
func (a *API) SearchTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	out, err := a.orch.Tasks().Search(r.Context(), query, limit)
	if err != nil {
		a.logger.Error("search tasks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
