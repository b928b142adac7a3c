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

// Package workflow implements the workflow execution engine: the step data
// model, graph validation, topological execution, per-step I/O marshalling,
// and partial re-execution.
package workflow

// Endpoint names the LLM transport variant a step uses.
type Endpoint string

const (
	// EndpointChatRelay posts the rendered prompt to the external chat
	// relay; no streaming, no continuation.
	EndpointChatRelay Endpoint = "chat"

	// EndpointQianwen streams directly against the qianwen model endpoint.
	EndpointQianwen Endpoint = "qianwen"

	// EndpointDeepseek streams directly against the deepseek model endpoint.
	EndpointDeepseek Endpoint = "deepseek"
)

// KnownEndpoints lists the closed set of valid endpoint variants.
var KnownEndpoints = []Endpoint{EndpointChatRelay, EndpointQianwen, EndpointDeepseek}

// IsValid reports whether e names a known transport variant.
func (e Endpoint) IsValid() bool {
	for _, known := range KnownEndpoints {
		if e == known {
			return true
		}
	}
	return false
}

// StepStatus represents the runtime execution state of a step.
// Transitions: pending → running → {success, error, skipped}; a reset moves
// any terminal state back to pending. Persisted steps are always pending.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
	StepStatusSkipped StepStatus = "skipped"
)

// Terminal reports whether the status ends a step's run.
func (s StepStatus) Terminal() bool {
	return s == StepStatusSuccess || s == StepStatusError || s == StepStatusSkipped
}

// FileInput names one file consumed by a step. Exactly one of Path or
// DependsOn is effective: when DependsOn is set, the input resolves to the
// output path of that upstream step and Path is ignored.
type FileInput struct {
	// Name is the handle referenced from prompt content as {{name}}.
	// Unique within the step.
	Name string `json:"name"`

	// Path is the on-disk location of the input file.
	Path string `json:"path,omitempty"`

	// DependsOn names the sibling step whose output this input consumes.
	DependsOn string `json:"dependsOn,omitempty"`
}

// PromptInput is one block of prompt text. Content may reference declared
// file inputs with {{name}} tokens; FileReferences mirrors which names the
// author intended to use (informational — only the tokens drive substitution).
type PromptInput struct {
	Content        string   `json:"content"`
	FileReferences []string `json:"fileReferences,omitempty"`
}

// StepConfig holds the authored configuration of a step.
type StepConfig struct {
	// FileInputs are the files this step reads, in declaration order.
	FileInputs []FileInput `json:"fileInputs"`

	// PromptInputs are the prompt blocks, rendered in order.
	PromptInputs []PromptInput `json:"promptInputs"`

	// OutputFolder and OutputFileName join to form the output path.
	OutputFolder   string `json:"outputFolder"`
	OutputFileName string `json:"outputFileName"`

	// APIEndpoint selects the LLM transport variant.
	APIEndpoint Endpoint `json:"apiEndpoint"`
}

// Step is one LLM-backed transformation unit inside a workflow.
type Step struct {
	// ID is the stable identifier, unique within the workflow.
	ID string `json:"id"`

	// Order is a non-negative integer, unique within the workflow. It
	// breaks ties between steps at the same topological level.
	Order int `json:"order"`

	// Dependencies names sibling steps whose results this step consumes.
	// The relation over the whole workflow must be acyclic.
	Dependencies []string `json:"dependencies,omitempty"`

	// Config is the authored configuration.
	Config StepConfig `json:"config"`

	// Status and Result are transient runtime state. They are never
	// persisted; the configuration store strips them on save.
	Status StepStatus  `json:"status,omitempty"`
	Result *StepResult `json:"result,omitempty"`
}

// Workflow is a named DAG of steps.
type Workflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// ResultData carries the output descriptor of a successful step.
// Path is the canonical handle downstream steps consume.
type ResultData struct {
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Size    int    `json:"size,omitempty"`
}

// StepResult is the runtime outcome of a step. The executor always returns
// one — failures are carried in Success/Message, never thrown into the runner.
type StepResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    *ResultData `json:"data,omitempty"`
}
