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

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// StepState is the mutable runtime state of one step within a run. The
// workflow definition itself is never mutated; all execution state lives
// here, keyed by step id.
type StepState struct {
	Status StepStatus  `json:"status"`
	Result *StepResult `json:"result,omitempty"`
}

// StepView is an immutable snapshot of one step's state for observers.
type StepView struct {
	ID     string      `json:"id"`
	Status StepStatus  `json:"status"`
	Result *StepResult `json:"result,omitempty"`
}

// ProgressFunc receives progress updates after every step transition.
// Progress is completed steps over total steps; it is non-decreasing within
// a run and reaches exactly 1.0 at the terminal state.
type ProgressFunc func(progress float64)

// Run is a single execution of a workflow: the immutable definition plus a
// run-state map. A Run may be driven whole (Execute), one step at a time
// (ExecuteStep), or from a step forward (ExecuteFrom); state survives
// between calls so partial re-execution consumes earlier results.
type Run struct {
	workflow *Workflow
	executor *Executor
	order    []string
	logger   *slog.Logger

	mu         sync.RWMutex
	states     map[string]*StepState
	onProgress ProgressFunc
}

// NewRun validates the workflow and prepares a run with every step pending.
// A cyclic or otherwise malformed workflow is rejected before any step runs.
func NewRun(w *Workflow, executor *Executor, opts ...RunOption) (*Run, error) {
	if err := Validate(w); err != nil {
		return nil, err
	}

	r := &Run{
		workflow: w,
		executor: executor,
		order:    ExecutionOrder(w),
		logger:   slog.Default(),
		states:   make(map[string]*StepState, len(w.Steps)),
	}
	for i := range w.Steps {
		r.states[w.Steps[i].ID] = &StepState{Status: StepStatusPending}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunOption configures a Run.
type RunOption func(*Run)

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) RunOption {
	return func(r *Run) {
		r.onProgress = fn
	}
}

// WithRunLogger sets the logger for run diagnostics.
func WithRunLogger(logger *slog.Logger) RunOption {
	return func(r *Run) {
		r.logger = logger
	}
}

// Workflow returns the immutable definition this run executes.
func (r *Run) Workflow() *Workflow {
	return r.workflow
}

// Execute drives every step in topological order. Steps whose dependencies
// did not succeed are skipped with a message naming the failed ancestor.
// It returns true when every step succeeded. Cancellation is observed
// between steps; the context error is returned and remaining steps stay
// pending.
func (r *Run) Execute(ctx context.Context) (bool, error) {
	for _, id := range r.order {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		r.executeOne(ctx, id)
	}
	return r.allSucceeded(), nil
}

// ExecuteStep re-runs a single step using existing dependency results.
// Dependencies outside success are a warning, not a refusal: the step is
// reset and executed regardless, and the dependency gap surfaces in the
// step's own result. Upstream and downstream state is untouched.
func (r *Run) ExecuteStep(ctx context.Context, stepID string) error {
	step := r.workflow.StepByID(stepID)
	if step == nil {
		return fmt.Errorf("step not found: %s", stepID)
	}

	for _, dep := range step.Dependencies {
		if r.stateOf(dep).Status != StepStatusSuccess {
			r.logger.Warn("re-running step with unsatisfied dependency",
				slog.String("step_id", stepID),
				slog.String("dependency", dep))
		}
	}

	r.reset(stepID)
	r.transition(stepID, StepStatusRunning, nil)

	result := r.executor.ExecuteStep(ctx, step, r.priorResults())

	status := StepStatusSuccess
	if !result.Success {
		status = StepStatusError
	}
	r.transition(stepID, status, result)
	return nil
}

// ExecuteFrom resets the given step and all its transitive dependents, then
// executes the closure in topological order. Dependencies outside the
// closure keep their existing results and are consumed as-is.
func (r *Run) ExecuteFrom(ctx context.Context, stepID string) error {
	if r.workflow.StepByID(stepID) == nil {
		return fmt.Errorf("step not found: %s", stepID)
	}

	closure := Downstream(r.workflow, stepID)
	closure[stepID] = true

	for id := range closure {
		r.reset(id)
	}

	for _, id := range r.order {
		if !closure[id] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		r.executeOne(ctx, id)
	}
	return nil
}

// executeOne runs a single step if its dependencies succeeded, otherwise
// marks it skipped. The transition and result are published atomically.
func (r *Run) executeOne(ctx context.Context, stepID string) {
	step := r.workflow.StepByID(stepID)

	if failed := r.failedDependency(step); failed != "" {
		r.transition(stepID, StepStatusSkipped, &StepResult{
			Success: false,
			Message: fmt.Sprintf("skipped: dependency %q did not succeed", failed),
		})
		return
	}

	r.transition(stepID, StepStatusRunning, nil)

	result := r.executor.ExecuteStep(ctx, step, r.priorResults())

	status := StepStatusSuccess
	if !result.Success {
		status = StepStatusError
	}
	r.transition(stepID, status, result)
}

// failedDependency returns the id of the first dependency that is not in
// success, or empty when all are satisfied.
func (r *Run) failedDependency(step *Step) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, dep := range step.Dependencies {
		if r.states[dep].Status != StepStatusSuccess {
			return dep
		}
	}
	return ""
}

// priorResults collects every result produced so far. All terminal results
// are exposed; the executor enforces per-input success.
func (r *Run) priorResults() map[string]*StepResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prior := make(map[string]*StepResult)
	for id, state := range r.states {
		if state.Result != nil {
			prior[id] = state.Result
		}
	}
	return prior
}

// transition applies a state change and reports progress.
func (r *Run) transition(stepID string, status StepStatus, result *StepResult) {
	r.mu.Lock()
	state := r.states[stepID]
	state.Status = status
	if result != nil {
		state.Result = result
	}
	progress := r.progressLocked()
	onProgress := r.onProgress
	r.mu.Unlock()

	if onProgress != nil {
		onProgress(progress)
	}
}

// reset returns a step to pending and clears its result.
func (r *Run) reset(stepID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[stepID] = &StepState{Status: StepStatusPending}
}

// stateOf returns a copy of one step's state.
func (r *Run) stateOf(stepID string) StepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.states[stepID]
}

// progressLocked computes completed/total. Caller holds at least a read lock.
func (r *Run) progressLocked() float64 {
	completed := 0
	for _, state := range r.states {
		if state.Status.Terminal() {
			completed++
		}
	}
	return float64(completed) / float64(len(r.states))
}

// Progress returns the current completed/total ratio.
func (r *Run) Progress() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progressLocked()
}

// allSucceeded reports whether every step finished in success.
func (r *Run) allSucceeded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, state := range r.states {
		if state.Status != StepStatusSuccess {
			return false
		}
	}
	return true
}

// Snapshot returns an immutable per-step view in execution order, for the
// live task view. Results are shared pointers but never mutated after
// publication.
func (r *Run) Snapshot() []StepView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]StepView, 0, len(r.order))
	for _, id := range r.order {
		state := r.states[id]
		views = append(views, StepView{
			ID:     id,
			Status: state.Status,
			Result: state.Result,
		})
	}
	return views
}

// Result returns the result of one step, or nil if it has not produced one.
func (r *Run) Result(stepID string) *StepResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if state, ok := r.states[stepID]; ok {
		return state.Result
	}
	return nil
}
