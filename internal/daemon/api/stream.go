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
	"context"
	"encoding/json"
	"net/http"

	"github.com/codelift/codelift/internal/configstore"
	"github.com/codelift/codelift/internal/daemon/httputil"
	"github.com/codelift/codelift/internal/task"
	"github.com/codelift/codelift/pkg/errors"
)

// handleMultiStreamProcess executes one stream group end-to-end
// server-side (the legacy synchronous runner). Admission rules apply: the
// call is refused when the pool is full.
func (s *Server) handleMultiStreamProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamGroupID string `json:"streamGroupId"`
	}
	if err := decode(r, &req); err != nil || req.StreamGroupID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "streamGroupId is required")
		return
	}

	doc, err := s.configs.Load(configstore.DocumentMultiStream)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	t, err := findTask(doc, req.StreamGroupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Detach from the request context: closing the HTTP connection must
	// not abort a legacy server-side run. Stop goes through the scheduler.
	if err := s.scheduler.Execute(context.WithoutCancel(r.Context()), t); err != nil {
		writeDomainError(w, err)
		return
	}

	s.persistTask(doc, t)

	httputil.WriteSuccessMessage(w, "stream group processed", map[string]any{
		"taskId":           t.ID,
		"status":           t.Status,
		"executionResults": t.ExecutionResults,
	})
}

// handleMultiStreamExecuteAll starts a batch run over every idle
// executable task. The batch drains in the background; the response
// reports how many tasks were eligible.
func (s *Server) handleMultiStreamExecuteAll(w http.ResponseWriter, r *http.Request) {
	doc, err := s.configs.Load(configstore.DocumentMultiStream)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	tasks, err := allTasks(doc)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	eligible := 0
	for _, t := range tasks {
		if t.Status == task.StatusIdle && t.Executable() {
			eligible++
		}
	}

	go func() {
		s.scheduler.ExecuteAll(context.Background(), tasks)
		for _, t := range tasks {
			s.persistTask(doc, t)
		}
	}()

	httputil.WriteSuccessMessage(w, "batch execution started", map[string]int{
		"eligibleTasks": eligible,
	})
}

// handleMultiStreamStop stops one running task ({taskId}) or all ({all}).
func (s *Server) handleMultiStreamStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"taskId,omitempty"`
		All    bool   `json:"all,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case req.All:
		s.scheduler.StopAll()
		httputil.WriteSuccessMessage(w, "all tasks stopped", nil)
	case req.TaskID != "":
		if err := s.scheduler.Stop(req.TaskID); err != nil {
			writeDomainError(w, err)
			return
		}
		httputil.WriteSuccessMessage(w, "stop requested", nil)
	default:
		httputil.WriteError(w, http.StatusBadRequest, "taskId or all is required")
	}
}

// handleMultiStreamTask returns the live view of a running task: its
// execution record plus per-step statuses and results.
func (s *Server) handleMultiStreamTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	live := s.scheduler.Live(taskID)
	if live == nil {
		httputil.WriteError(w, http.StatusNotFound, "task is not executing")
		return
	}
	httputil.WriteSuccess(w, live)
}

// materializeRequest is the body of the bulk task-creation route.
type materializeRequest struct {
	TemplateID string                  `json:"templateId"`
	Selections []task.Selection        `json:"selections"`
	Options    task.MaterializeOptions `json:"options"`
}

// handleMultiStreamMaterialize expands a template across the selected
// files and appends the produced tasks to the multi-stream document.
func (s *Server) handleMultiStreamMaterialize(w http.ResponseWriter, r *http.Request) {
	var req materializeRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TemplateID == "" || len(req.Selections) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "templateId and selections are required")
		return
	}

	doc, err := s.configs.Load(configstore.DocumentMultiStream)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	template, err := findTemplate(doc, req.TemplateID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	tasks := task.Materialize(template, req.Selections, req.Options)

	groups, _ := doc["workflowGroups"].([]any)
	for _, t := range tasks {
		entry, err := toDocument(t)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		groups = append(groups, entry)
	}
	doc["workflowGroups"] = groups

	if err := s.configs.Save(configstore.DocumentMultiStream, doc); err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccessMessage(w, "tasks created", map[string]any{
		"createdTasks": len(tasks),
		"tasks":        tasks,
	})
}

// persistTask writes a task's terminal status and results back into the
// document and saves it. Last writer wins; a save failure is logged, not
// surfaced — the run itself already finished.
func (s *Server) persistTask(doc map[string]any, t *task.Task) {
	groups, ok := doc["workflowGroups"].([]any)
	if !ok {
		return
	}

	for i, g := range groups {
		group, ok := g.(map[string]any)
		if !ok || group["id"] != t.ID {
			continue
		}
		entry, err := toDocument(t)
		if err != nil {
			s.logger.Warn("failed to encode task for persistence", "task_id", t.ID, "error", err)
			return
		}
		groups[i] = entry
		break
	}

	if err := s.configs.Save(configstore.DocumentMultiStream, doc); err != nil {
		s.logger.Warn("failed to persist task results", "task_id", t.ID, "error", err)
	}
}

// findTask decodes the workflow group with the given id into a Task.
func findTask(doc map[string]any, id string) (*task.Task, error) {
	groups, _ := doc["workflowGroups"].([]any)
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok || group["id"] != id {
			continue
		}
		var t task.Task
		if err := fromDocument(group, &t); err != nil {
			return nil, err
		}
		return &t, nil
	}
	return nil, &errors.NotFoundError{Resource: "stream group", ID: id}
}

// allTasks decodes every workflow group in the document.
func allTasks(doc map[string]any) ([]*task.Task, error) {
	groups, _ := doc["workflowGroups"].([]any)

	tasks := make([]*task.Task, 0, len(groups))
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		var t task.Task
		if err := fromDocument(group, &t); err != nil {
			return nil, err
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// findTemplate decodes the template with the given id.
func findTemplate(doc map[string]any, id string) (*task.Template, error) {
	templates, _ := doc["workflowGroupTemplates"].([]any)
	for _, raw := range templates {
		entry, ok := raw.(map[string]any)
		if !ok || entry["id"] != id {
			continue
		}
		var tpl task.Template
		if err := fromDocument(entry, &tpl); err != nil {
			return nil, err
		}
		return &tpl, nil
	}
	return nil, &errors.NotFoundError{Resource: "template", ID: id}
}

// toDocument converts a typed value into its JSON document form.
func toDocument(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromDocument converts a JSON document form into a typed value.
func fromDocument(doc map[string]any, dst any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
