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

package task

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codelift/codelift/pkg/errors"
	"github.com/codelift/codelift/pkg/llm"
	"github.com/codelift/codelift/pkg/workflow"
)

// fakeStore is an in-memory content store for task-level tests.
type fakeStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: map[string][]byte{
		"/seed.txt": []byte("seed"),
	}}
}

func (s *fakeStore) ReadFile(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, &errors.InputError{Path: path, Cause: errors.New("file does not exist")}
	}
	return data, nil
}

func (s *fakeStore) EnsureDir(string) error { return nil }

func (s *fakeStore) WriteFile(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
	return nil
}

func (s *fakeStore) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[path]
	return ok
}

// fakeGen echoes its payload; optional hooks observe and delay calls.
type fakeGen struct {
	mu      sync.Mutex
	calls   int
	onCall  func(n int)
	failAll bool
}

func (g *fakeGen) Generate(ctx context.Context, messages []llm.Message) (*llm.Result, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	hook := g.onCall
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hook != nil {
		hook(n)
	}
	if g.failAll {
		return nil, &errors.ProviderError{Provider: "fake", Message: "always fails"}
	}
	return &llm.Result{
		Text:         messages[len(messages)-1].Content,
		FinishReason: llm.FinishReasonStop,
	}, nil
}

func (g *fakeGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testTaskRunner(gen workflow.Generator, opts ...RunnerOption) *Runner {
	exec := workflow.NewExecutor(newFakeStore(), map[workflow.Endpoint]workflow.Generator{
		workflow.EndpointChatRelay: gen,
		workflow.EndpointQianwen:   gen,
	})
	opts = append([]RunnerOption{WithPause(time.Millisecond)}, opts...)
	return NewRunner(exec, opts...)
}

// singleStepWorkflow builds a one-step workflow reading the seed file.
func singleStepWorkflow(id string) *workflow.Workflow {
	return &workflow.Workflow{
		ID:   id,
		Name: id,
		Steps: []workflow.Step{{
			ID:    "s1",
			Order: 0,
			Config: workflow.StepConfig{
				FileInputs:     []workflow.FileInput{{Name: "in", Path: "/seed.txt"}},
				PromptInputs:   []workflow.PromptInput{{Content: "{{in}}"}},
				OutputFolder:   "/out/" + id,
				OutputFileName: "result.txt",
				APIEndpoint:    workflow.EndpointChatRelay,
			},
		}},
	}
}

// brokenWorkflow builds a workflow whose single step fails (missing input).
func brokenWorkflow(id string) *workflow.Workflow {
	w := singleStepWorkflow(id)
	w.Steps[0].Config.FileInputs[0].Path = "/missing.txt"
	return w
}

func newTask(id string, workflows ...*workflow.Workflow) *Task {
	return &Task{
		ID:       id,
		Name:     "task " + id,
		Status:   StatusIdle,
		Template: &Template{ID: "tpl-" + id, Workflows: workflows},
	}
}

func TestRunnerExecutesWorkflowsSequentially(t *testing.T) {
	gen := &fakeGen{}
	var order []int
	var orderMu sync.Mutex
	gen.onCall = func(n int) {
		orderMu.Lock()
		order = append(order, n)
		orderMu.Unlock()
	}

	runner := testTaskRunner(gen)
	task := newTask("t1",
		singleStepWorkflow("wf-a"),
		singleStepWorkflow("wf-b"),
		singleStepWorkflow("wf-c"))

	results := runner.Execute(context.Background(), task, nil)

	if task.Status != StatusCompleted {
		t.Errorf("Status = %q", task.Status)
	}
	if results.CompletedWorkflows != 3 || results.FailedWorkflows != 0 {
		t.Errorf("results = %+v", results)
	}
	if results.EndTime == nil || results.Duration < 0 {
		t.Errorf("timing not recorded: %+v", results)
	}
	if task.Progress != 1.0 {
		t.Errorf("Progress = %v", task.Progress)
	}
	for i, n := range order {
		if n != i+1 {
			t.Errorf("calls out of order: %v", order)
		}
	}
}

func TestRunnerWorkflowOrder(t *testing.T) {
	gen := &fakeGen{}
	runner := testTaskRunner(gen)

	task := newTask("t1", singleStepWorkflow("wf-a"), singleStepWorkflow("wf-b"))
	task.Template.WorkflowOrder = []string{"wf-b", "wf-a"}

	var started []string
	runner.Execute(context.Background(), task, func(workflowID string, _ *workflow.Run) {
		started = append(started, workflowID)
	})

	if len(started) != 2 || started[0] != "wf-b" || started[1] != "wf-a" {
		t.Errorf("started = %v", started)
	}
}

func TestRunnerContinuesPastFailure(t *testing.T) {
	gen := &fakeGen{}
	runner := testTaskRunner(gen)

	task := newTask("t1",
		brokenWorkflow("wf-bad"),
		singleStepWorkflow("wf-good"))

	results := runner.Execute(context.Background(), task, nil)

	// Mixed outcome still completes the task, with the failure counted.
	if task.Status != StatusCompleted {
		t.Errorf("Status = %q", task.Status)
	}
	if results.CompletedWorkflows != 1 || results.FailedWorkflows != 1 {
		t.Errorf("results = %+v", results)
	}
}

func TestRunnerAllFailed(t *testing.T) {
	gen := &fakeGen{}
	runner := testTaskRunner(gen)

	task := newTask("t1", brokenWorkflow("wf-1"), brokenWorkflow("wf-2"))
	results := runner.Execute(context.Background(), task, nil)

	if task.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", task.Status)
	}
	if results.FailedWorkflows != 2 {
		t.Errorf("results = %+v", results)
	}
}

func TestRunnerInvalidWorkflowCountsAsFailed(t *testing.T) {
	gen := &fakeGen{}
	runner := testTaskRunner(gen)

	cyclic := singleStepWorkflow("wf-cyclic")
	cyclic.Steps[0].Dependencies = []string{"s1"}

	task := newTask("t1", cyclic)
	results := runner.Execute(context.Background(), task, nil)

	if results.FailedWorkflows != 1 {
		t.Errorf("results = %+v", results)
	}
	if gen.callCount() != 0 {
		t.Error("no step of a rejected workflow may execute")
	}
}

func TestRunnerCancellationBetweenWorkflows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	gen := &fakeGen{}
	gen.onCall = func(n int) {
		if n == 1 {
			cancel()
		}
	}
	runner := testTaskRunner(gen)

	task := newTask("t1",
		singleStepWorkflow("wf-1"),
		singleStepWorkflow("wf-2"),
		singleStepWorkflow("wf-3"))

	results := runner.Execute(ctx, task, nil)

	// Workflow #1 completed; #2 and #3 never ran; the task is back to idle
	// with timing recorded.
	if task.Status != StatusIdle {
		t.Errorf("Status = %q, want idle after cancellation", task.Status)
	}
	if results.EndTime == nil {
		t.Error("EndTime must be set")
	}
	if gen.callCount() != 1 {
		t.Errorf("generator calls = %d, want 1", gen.callCount())
	}
	if results.CompletedWorkflows != 1 {
		t.Errorf("results = %+v", results)
	}
}

func TestRunnerProgressIncrements(t *testing.T) {
	gen := &fakeGen{}
	runner := testTaskRunner(gen)

	workflows := make([]*workflow.Workflow, 4)
	for i := range workflows {
		workflows[i] = singleStepWorkflow(fmt.Sprintf("wf-%d", i))
	}
	task := newTask("t1", workflows...)

	runner.Execute(context.Background(), task, nil)

	if task.Progress != 1.0 {
		t.Errorf("Progress = %v", task.Progress)
	}
}
