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
	"net/http"

	"github.com/codelift/codelift/internal/configstore"
	"github.com/codelift/codelift/internal/daemon/httputil"
)

// handleConfigSave overwrites app-config.json with the request body.
func (s *Server) handleConfigSave(w http.ResponseWriter, r *http.Request) {
	s.saveDocument(w, r, configstore.DocumentApp)
}

// handleConfigLoad returns app-config.json, 404 when absent.
func (s *Server) handleConfigLoad(w http.ResponseWriter, r *http.Request) {
	s.loadDocument(w, configstore.DocumentApp)
}

// handleConfigDelete removes app-config.json.
func (s *Server) handleConfigDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.configs.Delete(configstore.DocumentApp); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "config deleted", nil)
}

// handleConfigInfo describes app-config.json without loading it.
func (s *Server) handleConfigInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, s.configs.Stat(configstore.DocumentApp))
}

// handleMultiStreamSave overwrites multi-file-stream-config.json.
func (s *Server) handleMultiStreamSave(w http.ResponseWriter, r *http.Request) {
	s.saveDocument(w, r, configstore.DocumentMultiStream)
}

// handleMultiStreamLoad returns multi-file-stream-config.json, 404 when absent.
func (s *Server) handleMultiStreamLoad(w http.ResponseWriter, r *http.Request) {
	s.loadDocument(w, configstore.DocumentMultiStream)
}

// handleMultiStreamInfo describes the multi-stream document plus counts.
func (s *Server) handleMultiStreamInfo(w http.ResponseWriter, r *http.Request) {
	info := s.configs.Stat(configstore.DocumentMultiStream)

	counts := map[string]int{}
	if doc, err := s.configs.Load(configstore.DocumentMultiStream); err == nil {
		counts["streamGroupsCount"] = arrayLen(doc, "workflowGroups")
		counts["templatesCount"] = arrayLen(doc, "workflowGroupTemplates")
		counts["workflowsCount"] = arrayLen(doc, "workflows")
	}

	httputil.WriteSuccess(w, map[string]any{
		"configPath":        info.Path,
		"exists":            info.Exists,
		"size":              info.Size,
		"lastModified":      info.LastModified,
		"streamGroupsCount": counts["streamGroupsCount"],
		"templatesCount":    counts["templatesCount"],
		"workflowsCount":    counts["workflowsCount"],
	})
}

// saveDocument persists an arbitrary JSON body as the given document.
func (s *Server) saveDocument(w http.ResponseWriter, r *http.Request, doc configstore.Document) {
	var body map[string]any
	if err := decode(r, &body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.configs.Save(doc, body); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "config saved", nil)
}

// loadDocument returns the given document, 404 when absent.
func (s *Server) loadDocument(w http.ResponseWriter, doc configstore.Document) {
	content, err := s.configs.Load(doc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, content)
}

// arrayLen returns the length of a top-level array field, 0 when absent.
func arrayLen(doc map[string]any, key string) int {
	if arr, ok := doc[key].([]any); ok {
		return len(arr)
	}
	return 0
}
