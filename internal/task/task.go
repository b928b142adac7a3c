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

// Package task implements the task layer: workflow groups, their sequential
// runner, the concurrency-capped scheduler, and template materialization.
package task

import (
	"time"

	"github.com/codelift/codelift/pkg/workflow"
)

// Status is a task's lifecycle state. Running is transient: the
// configuration store strips runtime state on save, so a restarted process
// sees every task idle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Template is a frozen, executable blueprint: an ordered set of workflows
// that many tasks may instantiate.
type Template struct {
	ID          string               `json:"id,omitempty"`
	Name        string               `json:"name,omitempty"`
	Description string               `json:"description,omitempty"`
	Workflows   []*workflow.Workflow `json:"workflows"`

	// WorkflowOrder fixes execution order by workflow id. Empty means
	// declaration order.
	WorkflowOrder []string `json:"workflowOrder,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// OrderedWorkflows returns the template's workflows in execution order.
func (t *Template) OrderedWorkflows() []*workflow.Workflow {
	if len(t.WorkflowOrder) == 0 {
		return t.Workflows
	}

	byID := make(map[string]*workflow.Workflow, len(t.Workflows))
	for _, w := range t.Workflows {
		byID[w.ID] = w
	}

	ordered := make([]*workflow.Workflow, 0, len(t.Workflows))
	for _, id := range t.WorkflowOrder {
		if w, ok := byID[id]; ok {
			ordered = append(ordered, w)
			delete(byID, id)
		}
	}
	// Workflows missing from the order list run last, in declaration order.
	for _, w := range t.Workflows {
		if _, pending := byID[w.ID]; pending {
			ordered = append(ordered, w)
		}
	}
	return ordered
}

// ExecutionResults summarizes a finished run of a task.
type ExecutionResults struct {
	TotalWorkflows     int        `json:"totalWorkflows"`
	CompletedWorkflows int        `json:"completedWorkflows"`
	FailedWorkflows    int        `json:"failedWorkflows"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            *time.Time `json:"endTime,omitempty"`

	// Duration is the wall-clock run time in milliseconds.
	Duration int64 `json:"duration,omitempty"`
}

// Task is a runnable instance of a template: the user-facing unit of work
// (a "workflow group"). Status, Progress, and ExecutionResults are owned by
// the task runner; everything else is authored.
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Template    *Template `json:"template"`

	Status           Status            `json:"status,omitempty"`
	Progress         float64           `json:"progress,omitempty"`
	ExecutionResults *ExecutionResults `json:"executionResults,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Executable reports whether the task has anything to run: at least one
// workflow holding at least one step.
func (t *Task) Executable() bool {
	if t.Template == nil {
		return false
	}
	for _, w := range t.Template.Workflows {
		if len(w.Steps) > 0 {
			return true
		}
	}
	return false
}

// Execution is the ephemeral state of one task run. It exists only while
// the task executes and is never persisted.
type Execution struct {
	TaskID               string     `json:"taskId"`
	IsRunning            bool       `json:"isRunning"`
	Progress             float64    `json:"progress"`
	StartTime            time.Time  `json:"startTime"`
	EndTime              *time.Time `json:"endTime,omitempty"`
	CurrentWorkflowIndex int        `json:"currentWorkflowIndex"`
	TotalWorkflows       int        `json:"totalWorkflows"`
}
