package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// DesktopCommandRequest is the JSON body for
// POST /api/v1/desktop-workers/{id}/command.
type DesktopCommandRequest struct {
	Command   string   `json:"command"` // screenshot | type_text | key_press | click
	Text      string   `json:"text,omitempty"`
	Key       string   `json:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
	HoldMs    int      `json:"hold_ms,omitempty"`
	X         int      `json:"x,omitempty"`
	Y         int      `json:"y,omitempty"`
	Button    int      `json:"button,omitempty"`
	MaxWidth  int      `json:"max_width,omitempty"`
}

// DesktopCommand handles POST /api/v1/desktop-workers/{id}/command. The
// target machine is any registry connection with a desktop address, agent
// attached or not.
func (a *API) DesktopCommand(w http.ResponseWriter, r *http.Request) {
	if a.orch.Desktop() == nil {
		writeError(w, http.StatusServiceUnavailable, "remote desktop is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	conn, ok := a.orch.Registry().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "desktop worker not found")
		return
	}
	if !conn.DesktopCapable() {
		writeError(w, http.StatusConflict, "connection has no desktop address")
		return
	}

	var req DesktopCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	commander := a.orch.Desktop()
	target := commander.ResolveTarget(conn.RemoteDesktopAddr, conn.RemoteDesktopCreds)
	ctx := r.Context()

	switch req.Command {
	case "screenshot":
		shot, err := commander.Screenshot(ctx, target, req.MaxWidth)
		if err != nil {
			writeDesktopError(w, a.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, shot)

	case "type_text":
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "field 'text' is required")
			return
		}
		if err := commander.TypeText(ctx, target, req.Text); err != nil {
			writeDesktopError(w, a.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case "key_press":
		if req.Key == "" {
			writeError(w, http.StatusBadRequest, "field 'key' is required")
			return
		}
		hold := time.Duration(req.HoldMs) * time.Millisecond
		if err := commander.PressKey(ctx, target, req.Key, req.Modifiers, hold); err != nil {
			writeDesktopError(w, a.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case "click":
		button := req.Button
		if button == 0 {
			button = 1
		}
		if err := commander.Click(ctx, target, req.X, req.Y, button); err != nil {
			writeDesktopError(w, a.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeError(w, http.StatusBadRequest, "unknown command")
	}
}

func writeDesktopError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var cmdErr *domain.DesktopCommandError
	if errors.As(err, &cmdErr) {
		logger.Error("desktop command failed",
			slog.String("addr", cmdErr.Addr),
			slog.String("command", cmdErr.Command),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
