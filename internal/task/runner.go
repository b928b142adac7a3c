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
	"log/slog"
	"time"

	"github.com/codelift/codelift/internal/log"
	"github.com/codelift/codelift/pkg/workflow"
)

// DefaultInterWorkflowPause is the cooperative pause between a task's
// workflows. A throttle for downstream LLM endpoints, not a correctness
// requirement.
const DefaultInterWorkflowPause = 500 * time.Millisecond

// RunObserver receives the live workflow run as each workflow starts, so
// callers can expose per-step state while the task executes.
type RunObserver func(workflowID string, run *workflow.Run)

// Runner executes the workflows of one task strictly sequentially.
type Runner struct {
	executor *workflow.Executor
	pause    time.Duration
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPause overrides the inter-workflow pause.
func WithPause(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.pause = d
	}
}

// WithRunnerLogger sets the logger for task diagnostics.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a task runner over the given step executor.
func NewRunner(executor *workflow.Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		executor: executor,
		pause:    DefaultInterWorkflowPause,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs every workflow of the task in template order. A workflow
// failure does not abort the task; it is counted and the runner continues.
// The abort signal is observed between workflows — a running workflow's
// current step finishes first.
//
// The task's Status, Progress, and ExecutionResults are updated in place;
// the caller owns the Task instance and its synchronization. Terminal
// status is completed when at least one workflow completed, failed when
// every workflow failed, and idle again when the run was cancelled.
func (r *Runner) Execute(ctx context.Context, t *Task, observe RunObserver) *ExecutionResults {
	workflows := t.Template.OrderedWorkflows()
	logger := log.WithTaskContext(r.logger, t.ID, t.Name)

	results := &ExecutionResults{
		TotalWorkflows: len(workflows),
		StartTime:      time.Now(),
	}
	t.Status = StatusRunning
	t.Progress = 0
	t.ExecutionResults = results

	cancelled := false

	for i, wf := range workflows {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		if i > 0 && r.pause > 0 {
			select {
			case <-time.After(r.pause):
			case <-ctx.Done():
				cancelled = true
			}
			if cancelled {
				break
			}
		}

		wfLogger := logger.With(slog.String(log.WorkflowIDKey, wf.ID))
		wfLogger.Info("workflow starting",
			slog.Int("index", i),
			slog.Int("total", len(workflows)))

		ok, err := r.executeWorkflow(ctx, wf, observe)
		switch {
		case err != nil && ctx.Err() != nil:
			cancelled = true
		case ok:
			results.CompletedWorkflows++
		default:
			results.FailedWorkflows++
			wfLogger.Warn("workflow failed, continuing with next")
		}

		if cancelled {
			break
		}

		t.Progress = float64(i+1) / float64(len(workflows))
	}

	end := time.Now()
	results.EndTime = &end
	results.Duration = end.Sub(results.StartTime).Milliseconds()

	switch {
	case cancelled:
		// An interruption, not a failure: the task returns to idle.
		t.Status = StatusIdle
	case results.CompletedWorkflows > 0 || results.TotalWorkflows == 0:
		t.Status = StatusCompleted
	default:
		t.Status = StatusFailed
	}

	logger.Info("task finished",
		slog.String("status", string(t.Status)),
		slog.Int("completed", results.CompletedWorkflows),
		slog.Int("failed", results.FailedWorkflows),
		slog.Int64(log.DurationKey, results.Duration))

	return results
}

// executeWorkflow prepares and drives one workflow run. A workflow that
// fails validation counts as failed, not as a task error.
func (r *Runner) executeWorkflow(ctx context.Context, wf *workflow.Workflow, observe RunObserver) (bool, error) {
	run, err := workflow.NewRun(wf, r.executor, workflow.WithRunLogger(r.logger))
	if err != nil {
		r.logger.Error("workflow rejected",
			slog.String(log.WorkflowIDKey, wf.ID),
			slog.Any("error", err))
		return false, nil
	}

	if observe != nil {
		observe(wf.ID, run)
	}

	return run.Execute(ctx)
}
