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

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/codelift/codelift/internal/configstore"
	"github.com/codelift/codelift/internal/content"
	"github.com/codelift/codelift/internal/daemon/httputil"
	"github.com/codelift/codelift/internal/task"
	"github.com/codelift/codelift/pkg/errors"
	"github.com/codelift/codelift/pkg/llm"
	"github.com/codelift/codelift/pkg/workflow"
)

// Server implements the control API handlers over the engine components.
type Server struct {
	content   *content.Store
	configs   *configstore.Store
	scheduler *task.Scheduler
	executor  *workflow.Executor

	// relay is the chat-relay provider for the generate-react pass-through.
	// Optional; routes depending on it 503 when absent.
	relay llm.Provider

	logger *slog.Logger
}

// NewServer creates the control API server.
func NewServer(contentStore *content.Store, configs *configstore.Store, scheduler *task.Scheduler, executor *workflow.Executor, relay llm.Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		content:   contentStore,
		configs:   configs,
		scheduler: scheduler,
		executor:  executor,
		relay:     relay,
		logger:    logger,
	}
}

// Register attaches every control route to the router.
func (s *Server) Register(r *Router) {
	mux := r.Mux()

	mux.HandleFunc("POST /api/process-file", s.handleProcessFile)
	mux.HandleFunc("POST /api/process-file-direct", s.handleProcessFileDirect)
	mux.HandleFunc("POST /api/generate-react", s.handleGenerateReact)
	mux.HandleFunc("POST /api/list-files", s.handleListFiles)

	mux.HandleFunc("POST /api/config/save", s.handleConfigSave)
	mux.HandleFunc("GET /api/config/load", s.handleConfigLoad)
	mux.HandleFunc("DELETE /api/config/delete", s.handleConfigDelete)
	mux.HandleFunc("GET /api/config/info", s.handleConfigInfo)

	mux.HandleFunc("POST /api/multi-stream/save", s.handleMultiStreamSave)
	mux.HandleFunc("GET /api/multi-stream/load", s.handleMultiStreamLoad)
	mux.HandleFunc("GET /api/multi-stream/info", s.handleMultiStreamInfo)
	mux.HandleFunc("POST /api/multi-stream/process", s.handleMultiStreamProcess)
	mux.HandleFunc("POST /api/multi-stream/execute-all", s.handleMultiStreamExecuteAll)
	mux.HandleFunc("POST /api/multi-stream/stop", s.handleMultiStreamStop)
	mux.HandleFunc("GET /api/multi-stream/tasks/{id}", s.handleMultiStreamTask)
	mux.HandleFunc("POST /api/multi-stream/materialize", s.handleMultiStreamMaterialize)
}

// decode reads a JSON request body into dst.
func decode(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var ce *errors.ConcurrencyError
	var ie *errors.InputError

	switch {
	case errors.IsNotFound(err):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ie):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.IsValidation(err):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ce):
		httputil.WriteError(w, http.StatusTooManyRequests, err.Error())
	default:
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
