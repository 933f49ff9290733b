// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/keytempo/fanout/internal/domain/model"
)

// DeltasHandler handles ranking-delta ingestion.
type DeltasHandler struct {
	deps Dependencies
}

// NewDeltasHandler creates a new deltas handler.
func NewDeltasHandler(deps Dependencies) *DeltasHandler {
	return &DeltasHandler{deps: deps}
}

// deltaRequest mirrors the wire schema for POST /deltas.
type deltaRequest struct {
	Mode      string         `json:"mode"`
	Timeframe string         `json:"timeframe"`
	Language  string         `json:"language"`
	Version   int64          `json:"version"`
	Timestamp string         `json:"timestamp"`
	Changes   []model.Change `json:"changes"`
	Removed   []string       `json:"removed"`
	TopN      int            `json:"top_n"`
}

func (r deltaRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Mode) == "":
		return errors.New("missing mode")
	case strings.TrimSpace(r.Timeframe) == "":
		return errors.New("missing timeframe")
	case strings.TrimSpace(r.Language) == "":
		return errors.New("missing language")
	}
	seen := make(map[string]struct{}, len(r.Changes))
	for _, c := range r.Changes {
		if strings.TrimSpace(c.UserID) == "" {
			return errors.New("change missing user_id")
		}
		if _, dup := seen[c.UserID]; dup {
			return errors.New("duplicate user_id in changes")
		}
		seen[c.UserID] = struct{}{}
	}
	if r.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
			return errors.New("invalid timestamp; must be RFC3339")
		}
	}
	return nil
}

func (r deltaRequest) toDelta() model.Delta {
	ts := time.Now()
	if r.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			ts = parsed
		}
	}
	return model.Delta{
		Topic: model.Topic{
			Mode:      r.Mode,
			Timeframe: r.Timeframe,
			Language:  r.Language,
		},
		Version:   r.Version,
		Timestamp: ts,
		Changes:   r.Changes,
		Removed:   r.Removed,
		TopN:      r.TopN,
	}
}

// HandlePostDelta handles POST /deltas requests.
func (h *DeltasHandler) HandlePostDelta(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_delta"
	var req deltaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	h.deps.DispatchDelta(r.Context(), req.toDelta())
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// updateRequest mirrors the wire schema for the legacy POST /updates.
type updateRequest struct {
	Mode      string       `json:"mode"`
	Timeframe string       `json:"timeframe"`
	Language  string       `json:"language"`
	Change    model.Change `json:"change"`
	TopN      int          `json:"top_n"`
}

func (r updateRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Mode) == "":
		return errors.New("missing mode")
	case strings.TrimSpace(r.Timeframe) == "":
		return errors.New("missing timeframe")
	case strings.TrimSpace(r.Language) == "":
		return errors.New("missing language")
	case strings.TrimSpace(r.Change.UserID) == "":
		return errors.New("change missing user_id")
	}
	return nil
}

// HandlePostUpdate handles POST /updates requests, the single-change
// legacy shape.
func (h *DeltasHandler) HandlePostUpdate(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_update"
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	h.deps.DispatchUpdate(r.Context(), model.Update{
		Topic: model.Topic{
			Mode:      req.Mode,
			Timeframe: req.Timeframe,
			Language:  req.Language,
		},
		Change:    req.Change,
		TopN:      req.TopN,
		Timestamp: time.Now(),
	})
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
