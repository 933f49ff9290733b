// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/keytempo/fanout/internal/domain/model"
)

// SubscribeHandler serves the SSE update stream.
type SubscribeHandler struct {
	deps Dependencies
}

// NewSubscribeHandler creates a new subscribe handler.
func NewSubscribeHandler(deps Dependencies) *SubscribeHandler {
	return &SubscribeHandler{deps: deps}
}

// HandleSubscribe handles GET /subscribe requests. It registers the
// connection as a subscriber and streams routed updates as SSE until the
// client goes away.
//
// Query parameters: mode (required), language (required), timeframe
// (defaults to the wildcard), user_id (absent for anonymous viewers).
func (h *SubscribeHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	const op = "api.subscribe"
	q := r.URL.Query()
	mode := strings.TrimSpace(q.Get("mode"))
	language := strings.TrimSpace(q.Get("language"))
	timeframe := strings.TrimSpace(q.Get("timeframe"))
	if timeframe == "" {
		timeframe = model.TimeframeAll
	}
	if mode == "" || language == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing mode or language")))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", NewKind(op, ErrStreaming))
		return
	}

	userID := strings.TrimSpace(q.Get("user_id"))
	rec := model.SubscriberRecord{
		UserID: userID,
		Topic: model.Topic{
			Mode:      mode,
			Timeframe: timeframe,
			Language:  language,
		},
		Tier: model.TierObserver,
	}
	if userID != "" {
		// Known viewers start passive; recency signals promote them.
		rec.Tier = model.TierPassive
	}

	ctx := r.Context()
	connID, sub := h.deps.Subscribe(ctx, rec)
	defer h.deps.Unsubscribe(ctx, connID, sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case u, open := <-sub.Updates():
			if !open {
				return
			}
			payload, err := json.Marshal(u)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
