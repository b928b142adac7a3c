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
	"sync"
	"time"

	"github.com/codelift/codelift/pkg/errors"
	"github.com/codelift/codelift/pkg/workflow"
)

// DefaultMaxConcurrentTasks bounds the process-wide task pool.
const DefaultMaxConcurrentTasks = 6

// DefaultInterTaskPause smooths scheduling between a batch worker's
// successive tasks.
const DefaultInterTaskPause = 200 * time.Millisecond

// SchedulerConfig configures the scheduler.
type SchedulerConfig struct {
	// MaxConcurrentTasks is the admission cap. Default 6.
	MaxConcurrentTasks int

	// InterTaskPause is the idle pause between a batch worker's tasks.
	InterTaskPause time.Duration
}

// MetricsCollector receives scheduler lifecycle events for observability.
type MetricsCollector interface {
	RecordTaskStart(taskID string)
	RecordTaskComplete(taskID string, status Status, duration time.Duration)
	SetRunningTasks(count int)
}

// execution tracks one admitted task for the duration of its run.
type execution struct {
	task     *Task
	exec     *Execution
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
	runs     map[string]*workflow.Run
	runsMu   sync.RWMutex
}

// Scheduler admits tasks into a bounded pool and dispatches them onto the
// task runner. It does not queue: a request past the cap is refused. The
// scheduler is not durable; a restarted process starts with an empty pool
// and every persisted task idle.
type Scheduler struct {
	runner  *Runner
	cfg     SchedulerConfig
	logger  *slog.Logger
	metrics MetricsCollector

	mu      sync.Mutex
	running map[string]*execution
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// NewScheduler creates a scheduler over the given task runner.
func NewScheduler(runner *Runner, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if cfg.InterTaskPause < 0 {
		cfg.InterTaskPause = DefaultInterTaskPause
	}

	s := &Scheduler{
		runner:  runner,
		cfg:     cfg,
		logger:  slog.Default(),
		running: make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute admits the task and runs it to completion in the calling
// goroutine. Admission fails with ConcurrencyError when the pool is full,
// and with ValidationError when the task has nothing to run or is already
// executing.
func (s *Scheduler) Execute(ctx context.Context, t *Task) error {
	exec, err := s.admit(ctx, t)
	if err != nil {
		return err
	}
	s.run(exec)
	return nil
}

// Submit admits the task and runs it in the background.
func (s *Scheduler) Submit(ctx context.Context, t *Task) error {
	exec, err := s.admit(ctx, t)
	if err != nil {
		return err
	}
	go s.run(exec)
	return nil
}

// admit reserves a pool slot for the task.
func (s *Scheduler) admit(ctx context.Context, t *Task) (*execution, error) {
	if !t.Executable() {
		return nil, &errors.ValidationError{
			Field:   "template",
			Message: "task has no executable workflows",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, already := s.running[t.ID]; already {
		return nil, &errors.ValidationError{
			Field:   "taskId",
			Message: "task is already executing",
		}
	}
	if len(s.running) >= s.cfg.MaxConcurrentTasks {
		return nil, &errors.ConcurrencyError{
			Running: len(s.running),
			Limit:   s.cfg.MaxConcurrentTasks,
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	exec := &execution{
		task:   t,
		cancel: cancel,
		done:   make(chan struct{}),
		runs:   make(map[string]*workflow.Run),
		exec: &Execution{
			TaskID:         t.ID,
			IsRunning:      true,
			StartTime:      time.Now(),
			TotalWorkflows: len(t.Template.Workflows),
		},
	}
	exec.ctx = runCtx
	s.running[t.ID] = exec

	if s.metrics != nil {
		s.metrics.RecordTaskStart(t.ID)
		s.metrics.SetRunningTasks(len(s.running))
	}

	return exec, nil
}

// run drives an admitted execution to completion and releases its slot.
func (s *Scheduler) run(exec *execution) {
	defer close(exec.done)

	start := time.Now()
	s.runner.Execute(exec.ctx, exec.task, func(workflowID string, run *workflow.Run) {
		exec.runsMu.Lock()
		exec.runs[workflowID] = run
		exec.exec.CurrentWorkflowIndex++
		exec.runsMu.Unlock()
	})

	end := time.Now()
	exec.runsMu.Lock()
	exec.exec.IsRunning = false
	exec.exec.EndTime = &end
	exec.exec.Progress = exec.task.Progress
	exec.runsMu.Unlock()

	s.mu.Lock()
	delete(s.running, exec.task.ID)
	remaining := len(s.running)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordTaskComplete(exec.task.ID, exec.task.Status, time.Since(start))
		s.metrics.SetRunningTasks(remaining)
	}
}

// ExecuteAll drains every idle executable task through a bounded worker
// pool. Workers pull the next task by index and run it to completion,
// pausing briefly between tasks. The call blocks until the batch drains or
// the context is cancelled.
func (s *Scheduler) ExecuteAll(ctx context.Context, tasks []*Task) {
	executable := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == StatusIdle && t.Executable() {
			executable = append(executable, t)
		}
	}
	if len(executable) == 0 {
		return
	}

	workers := s.cfg.MaxConcurrentTasks
	if workers > len(executable) {
		workers = len(executable)
	}

	var next int
	var nextMu sync.Mutex
	claim := func() *Task {
		nextMu.Lock()
		defer nextMu.Unlock()
		if next >= len(executable) {
			return nil
		}
		t := executable[next]
		next++
		return t
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first := true
			for {
				if ctx.Err() != nil {
					return
				}
				t := claim()
				if t == nil {
					return
				}

				if !first && s.cfg.InterTaskPause > 0 {
					select {
					case <-time.After(s.cfg.InterTaskPause):
					case <-ctx.Done():
						return
					}
				}
				first = false

				if err := s.Execute(ctx, t); err != nil {
					s.logger.Warn("batch task not admitted",
						slog.String("task_id", t.ID),
						slog.Any("error", err))
				}
			}
		}()
	}
	wg.Wait()
}

// Stop signals the task's abort token. The runner observes it at the next
// workflow or step boundary; Stop returns immediately. Stopping a task
// that is not running is a no-op error.
func (s *Scheduler) Stop(taskID string) error {
	s.mu.Lock()
	exec, ok := s.running[taskID]
	s.mu.Unlock()

	if !ok {
		return &errors.NotFoundError{Resource: "running task", ID: taskID}
	}

	exec.stopOnce.Do(exec.cancel)
	return nil
}

// StopAll signals every running task and waits until all acknowledge
// (settled-all: a task that finishes on its own counts as acknowledged).
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	pending := make([]*execution, 0, len(s.running))
	for _, exec := range s.running {
		exec.stopOnce.Do(exec.cancel)
		pending = append(pending, exec)
	}
	s.mu.Unlock()

	for _, exec := range pending {
		<-exec.done
	}
}

// RunningCount returns the number of currently executing tasks.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// LiveView is a snapshot of one executing task for the live task view.
type LiveView struct {
	Execution Execution                      `json:"execution"`
	Workflows map[string][]workflow.StepView `json:"workflows"`
}

// Live returns the live view of a running task, or nil when the task is
// not executing.
func (s *Scheduler) Live(taskID string) *LiveView {
	s.mu.Lock()
	exec, ok := s.running[taskID]
	s.mu.Unlock()

	if !ok {
		return nil
	}

	exec.runsMu.RLock()
	view := &LiveView{
		Execution: *exec.exec,
		Workflows: make(map[string][]workflow.StepView),
	}
	for id, run := range exec.runs {
		view.Workflows[id] = run.Snapshot()
	}
	exec.runsMu.RUnlock()
	return view
}
