// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/keytempo/fanout/pkg/metrics"
)

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Milliseconds())
		status := strconv.Itoa(wrapped.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)
		if wrapped.statusCode >= http.StatusBadRequest {
			metrics.RecordErrorByComponent("http", errorKind(wrapped.statusCode))
		}
	}
}

// RateLimitMiddleware rejects requests beyond the configured ingestion
// rate. A nil limiter passes everything through.
func RateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil && !limiter.Allow() {
			metrics.RecordRateLimited()
			writeError(w, http.StatusTooManyRequests, "rate_limited", ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	}
}

// errorKind maps an HTTP status to a coarse error label.
func errorKind(statusCode int) string {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return "server_error"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limit"
	case statusCode == http.StatusNotFound:
		return "not_found"
	default:
		return "client_error"
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards flushes so SSE streaming keeps working through the
// middleware wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
