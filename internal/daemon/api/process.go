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
	"fmt"
	"net/http"
	"strings"

	"github.com/codelift/codelift/internal/daemon/httputil"
	"github.com/codelift/codelift/pkg/llm"
	"github.com/codelift/codelift/pkg/workflow"
)

// processInput is one element of an ad-hoc processing request: literal
// prompt text or a file reference, interleaved in request order.
type processInput struct {
	Type  string `json:"type"` // "file" | "prompt"
	Value string `json:"value"`
}

// processFileRequest is the body of the ad-hoc processing routes.
type processFileRequest struct {
	Inputs         []processInput `json:"inputs"`
	OutputFileName string         `json:"outputFileName"`
	OutputFolder   string         `json:"outputFolder"`
}

// handleProcessFile executes one step-executor pass via the chat relay.
func (s *Server) handleProcessFile(w http.ResponseWriter, r *http.Request) {
	s.processWith(w, r, workflow.EndpointChatRelay)
}

// handleProcessFileDirect executes one pass via the direct-streaming
// variant; ?model=qianwen|deepseek selects the endpoint.
func (s *Server) handleProcessFileDirect(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	var endpoint workflow.Endpoint
	switch model {
	case "", "qianwen":
		endpoint = workflow.EndpointQianwen
	case "deepseek":
		endpoint = workflow.EndpointDeepseek
	default:
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown model %q", model))
		return
	}
	s.processWith(w, r, endpoint)
}

// processWith builds a synthetic single step from the request and executes it.
func (s *Server) processWith(w http.ResponseWriter, r *http.Request, endpoint workflow.Endpoint) {
	var req processFileRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Inputs) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "inputs must not be empty")
		return
	}

	step, err := stepFromInputs(req, endpoint)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.executor.ExecuteStep(r.Context(), step, nil)
	if !result.Success {
		httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
			Success: false,
			Error:   result.Message,
		})
		return
	}

	httputil.WriteSuccessMessage(w, result.Message, result.Data)
}

// stepFromInputs converts the ad-hoc inputs list into a synthetic step:
// file inputs become named references, and the prompt content interleaves
// text and {{name}} tokens in request order.
func stepFromInputs(req processFileRequest, endpoint workflow.Endpoint) (*workflow.Step, error) {
	var fileInputs []workflow.FileInput
	var parts []string

	for i, input := range req.Inputs {
		switch input.Type {
		case "file":
			name := fmt.Sprintf("f%d", i)
			fileInputs = append(fileInputs, workflow.FileInput{Name: name, Path: input.Value})
			parts = append(parts, "{{"+name+"}}")
		case "prompt":
			parts = append(parts, input.Value)
		default:
			return nil, fmt.Errorf("input %d has unknown type %q", i, input.Type)
		}
	}

	return &workflow.Step{
		ID: "adhoc",
		Config: workflow.StepConfig{
			FileInputs:     fileInputs,
			PromptInputs:   []workflow.PromptInput{{Content: strings.Join(parts, "\n")}},
			OutputFolder:   req.OutputFolder,
			OutputFileName: req.OutputFileName,
			APIEndpoint:    endpoint,
		},
	}, nil
}

// generateReactRequest is the body of the relay pass-through route.
type generateReactRequest struct {
	Message      string `json:"message"`
	SessionID    string `json:"sessionId,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// handleGenerateReact forwards one message to the chat relay.
func (s *Server) handleGenerateReact(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "chat relay is not configured")
		return
	}

	var req generateReactRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		httputil.WriteError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	var messages []llm.Message
	if req.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.MessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.MessageRoleUser, Content: req.Message})

	resp, err := s.relay.Complete(r.Context(), llm.CompletionRequest{
		Messages:  messages,
		SessionID: req.SessionID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]string{"reply": resp.Content})
}

// listFilesRequest is the body of the discovery route.
type listFilesRequest struct {
	FolderPath string `json:"folderPath"`
	FileType   string `json:"fileType"`
}

// handleListFiles returns the relative paths under folderPath whose
// extension (or glob) matches fileType.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	var req listFilesRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FolderPath == "" {
		httputil.WriteError(w, http.StatusBadRequest, "folderPath must not be empty")
		return
	}

	files, err := s.content.ListFiles(req.FolderPath, req.FileType)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]any{"files": files})
}
