// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api provides the HTTP control surface for the daemon.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/codelift/codelift/internal/daemon/httputil"
	"github.com/codelift/codelift/internal/log"
	"github.com/codelift/codelift/internal/tracing"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string
}

// RequestRecorder counts control API requests for observability.
type RequestRecorder interface {
	RecordRequest(method, path string)
}

// MetricsHandler serves the Prometheus metrics endpoint.
type MetricsHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Router wraps an http.ServeMux with middleware and the shared endpoints.
type Router struct {
	mux      *http.ServeMux
	config   RouterConfig
	recorder RequestRecorder
	logger   *slog.Logger
}

// NewRouter creates a new HTTP router with the basic endpoints registered.
func NewRouter(cfg RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		logger: logger,
	}

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)
	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// SetRequestRecorder sets the request counter.
func (r *Router) SetRequestRecorder(recorder RequestRecorder) {
	r.recorder = recorder
}

// SetMetricsHandler registers the Prometheus metrics endpoint.
func (r *Router) SetMetricsHandler(handler MetricsHandler) {
	if handler != nil {
		r.mux.HandleFunc("GET /metrics", handler.ServeHTTP)
	}
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// ServeHTTP implements http.Handler: correlation IDs, request logging and
// counting, then dispatch.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = r.mux

	inner := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		correlationID := tracing.FromContextOrEmpty(req.Context())
		logger := log.WithCorrelationID(r.logger, string(correlationID))

		if r.recorder != nil {
			r.recorder.RecordRequest(req.Method, req.URL.Path)
		}

		defer func() {
			logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()

		inner.ServeHTTP(w, req)
	})

	handler = tracing.CorrelationMiddleware(handler)

	handler.ServeHTTP(w, req)
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "codeliftd",
		"version": r.config.Version,
	})
}

// handleHealth reports liveness.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleVersion reports build information.
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"version":    r.config.Version,
		"commit":     r.config.Commit,
		"build_date": r.config.BuildDate,
	})
}
