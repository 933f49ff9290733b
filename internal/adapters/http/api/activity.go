// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ActivityHandler handles score-submission activity recording.
type ActivityHandler struct {
	deps Dependencies
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(deps Dependencies) *ActivityHandler {
	return &ActivityHandler{deps: deps}
}

type activityRequest struct {
	UserID string `json:"user_id"`
}

// HandlePostActivity handles POST /activity requests.
func (h *ActivityHandler) HandlePostActivity(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_activity"
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing user_id")))
		return
	}

	h.deps.RecordActivity(r.Context(), req.UserID)
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "recorded"})
}
