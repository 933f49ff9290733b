// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/keytempo/fanout/internal/adapters/transport"
	"github.com/keytempo/fanout/internal/domain/model"
	"github.com/keytempo/fanout/pkg/metrics"
)

// Dependencies required by the HTTP handlers. The interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	DispatchDelta(ctx context.Context, d model.Delta)
	DispatchUpdate(ctx context.Context, u model.Update)
	RecordActivity(ctx context.Context, userID string)
	Subscribe(ctx context.Context, rec model.SubscriberRecord) (string, *transport.Subscription)
	Unsubscribe(ctx context.Context, connID string, sub *transport.Subscription)
}

// StatsProvider exposes service statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Server wires HTTP routes for the fanout API.
type Server struct {
	deltasHandler    *DeltasHandler
	activityHandler  *ActivityHandler
	subscribeHandler *SubscribeHandler
	statsHandler     *StatsHandler
	healthHandler    *HealthHandler
	limiter          *rate.Limiter
}

// ServerOption applies a configuration option to the Server.
type ServerOption func(*Server)

// WithIngestLimit sets the rate limit applied to ingestion endpoints.
func WithIngestLimit(rps, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, stats StatsProvider, opts ...ServerOption) *Server {
	s := &Server{
		deltasHandler:    NewDeltasHandler(deps),
		activityHandler:  NewActivityHandler(deps),
		subscribeHandler: NewSubscribeHandler(deps),
		statsHandler:     NewStatsHandler(stats),
		healthHandler:    NewHealthHandler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all routes attached.
func (s *Server) Router(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	r.Get("/subscribe", MetricsMiddleware(s.subscribeHandler.HandleSubscribe, "subscribe"))
	r.Post("/deltas", MetricsMiddleware(RateLimitMiddleware(s.limiter, s.deltasHandler.HandlePostDelta), "deltas"))
	r.Post("/updates", MetricsMiddleware(RateLimitMiddleware(s.limiter, s.deltasHandler.HandlePostUpdate), "updates"))
	r.Post("/activity", MetricsMiddleware(s.activityHandler.HandlePostActivity, "activity"))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	return r
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
