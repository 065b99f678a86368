package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// ListHelpRequests handles GET /api/v1/help-requests?status=.
func (a *API) ListHelpRequests(w http.ResponseWriter, r *http.Request) {
	status := domain.HelpRequestStatus(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, a.orch.Help().List(status))
}

// RespondHelpRequestBody is the JSON body for POST /api/v1/help-requests/{id}/respond.
type RespondHelpRequestBody struct {
	Answers []string `json:"answers"`
	Source  string   `json:"source,omitempty"`
}

// RespondHelpRequest handles POST /api/v1/help-requests/{id}/respond.
func (a *API) RespondHelpRequest(w http.ResponseWriter, r *http.Request) {
	var body RespondHelpRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Answers) == 0 {
		writeError(w, http.StatusBadRequest, "field 'answers' is required")
		return
	}
	source := body.Source
	if source == "" {
		source = "api"
	}

	req, err := a.orch.Help().Respond(r.Context(), chi.URLParam(r, "id"), body.Answers, source)
	if err != nil {
		writeHelpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// DismissHelpRequest handles POST /api/v1/help-requests/{id}/dismiss.
func (a *API) DismissHelpRequest(w http.ResponseWriter, r *http.Request) {
	req, err := a.orch.Help().Dismiss(r.Context(), chi.URLParam(r, "id"), "api")
	if err != nil {
		writeHelpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func writeHelpError(w http.ResponseWriter, err error) {
	var notFound *domain.HelpRequestNotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, "help request not found")
		return
	}
	var state *domain.HelpRequestStateError
	if errors.As(err, &state) {
		writeError(w, http.StatusConflict, state.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
