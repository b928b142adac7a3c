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
	"path/filepath"
	"strings"
	"time"

	"github.com/codelift/codelift/pkg/errors"
	"github.com/codelift/codelift/pkg/llm"
)

// ContentStore is the filesystem surface the executor needs. Input files
// are read fresh on every execution; outputs overwrite unconditionally
// unless the executor is configured otherwise.
type ContentStore interface {
	// ReadFile returns the UTF-8 contents of the file at path.
	ReadFile(path string) ([]byte, error)

	// EnsureDir creates the directory and all missing ancestors.
	EnsureDir(path string) error

	// WriteFile writes data to path atomically.
	WriteFile(path string, data []byte) error

	// Exists reports whether a file exists at path.
	Exists(path string) bool
}

// Generator produces a complete LLM generation from a message list.
// *llm.Client satisfies this; tests substitute scripted fakes.
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message) (*llm.Result, error)
}

// Executor runs single steps: it resolves file inputs against upstream
// results, renders the prompt, invokes the endpoint's LLM client, extracts
// fenced code, and persists the output.
//
// Executors hold no per-run state and are safe to share across workflows.
type Executor struct {
	store      ContentStore
	generators map[Endpoint]Generator
	logger     *slog.Logger

	// failIfExists refuses to overwrite a pre-existing output file.
	// Overwrite-unconditionally is the canonical behavior.
	failIfExists bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger for step diagnostics.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithFailIfExists makes the executor error instead of overwriting an
// existing output file.
func WithFailIfExists() ExecutorOption {
	return func(e *Executor) {
		e.failIfExists = true
	}
}

// NewExecutor creates a step executor over the given content store and
// per-endpoint generation clients.
func NewExecutor(store ContentStore, generators map[Endpoint]Generator, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:      store,
		generators: generators,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteStep runs one step against the already-produced upstream results.
// It never returns an error to the caller: every failure mode is folded
// into the returned StepResult so the runner can continue the workflow.
func (e *Executor) ExecuteStep(ctx context.Context, step *Step, prior map[string]*StepResult) *StepResult {
	start := time.Now()
	logger := e.logger.With(slog.String("step_id", step.ID))

	result := e.executeStep(ctx, step, prior)

	logger.Info("step finished",
		slog.Bool("success", result.Success),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return result
}

func (e *Executor) executeStep(ctx context.Context, step *Step, prior map[string]*StepResult) *StepResult {
	// Validate the step's authored config.
	if err := validateStepConfig(step); err != nil {
		return failure(err)
	}

	// Resolve file paths, dependency outputs first.
	nameToPath, err := e.resolveFileInputs(step, prior)
	if err != nil {
		return failure(err)
	}

	// Render the prompt into the interleaved segment sequence.
	segments, err := renderSegments(step.Config.PromptInputs, nameToPath)
	if err != nil {
		return failure(err)
	}

	// Materialize the single user-message payload.
	payload, err := e.materialize(segments)
	if err != nil {
		return failure(err)
	}

	// Invoke the endpoint's generation client.
	generator, ok := e.generators[step.Config.APIEndpoint]
	if !ok {
		if !step.Config.APIEndpoint.IsValid() {
			return failure(&errors.ValidationError{
				Field:   "apiEndpoint",
				Message: fmt.Sprintf("unknown endpoint %q", step.Config.APIEndpoint),
			})
		}
		return failure(&errors.ValidationError{
			Field:      "apiEndpoint",
			Message:    fmt.Sprintf("endpoint %q is not configured", step.Config.APIEndpoint),
			Suggestion: "set the endpoint's credentials in the environment or settings file",
		})
	}

	generated, err := generator.Generate(ctx, []llm.Message{
		{Role: llm.MessageRoleUser, Content: payload},
	})
	if err != nil {
		return failure(err)
	}

	code := llm.ExtractCode(generated.Text)

	// Persist the extracted code.
	outPath := filepath.Join(step.Config.OutputFolder, step.Config.OutputFileName)

	if e.failIfExists && e.store.Exists(outPath) {
		return failure(&errors.WriteError{
			Path:  outPath,
			Cause: fmt.Errorf("output file already exists"),
		})
	}

	if err := e.store.EnsureDir(step.Config.OutputFolder); err != nil {
		return failure(&errors.WriteError{Path: step.Config.OutputFolder, Cause: err})
	}
	if err := e.store.WriteFile(outPath, []byte(code)); err != nil {
		return failure(err)
	}

	message := "step completed"
	if generated.Warning != "" {
		message = generated.Warning
	}

	return &StepResult{
		Success: true,
		Message: message,
		Data: &ResultData{
			Path:    outPath,
			Content: code,
			Size:    len(code),
		},
	}
}

// validateStepConfig enforces the executable minimum: at least one file
// input, at least one prompt input, and both output fields present.
func validateStepConfig(step *Step) error {
	if len(step.Config.FileInputs) == 0 {
		return &errors.ValidationError{Field: "fileInputs", Message: "step has no file inputs"}
	}
	if len(step.Config.PromptInputs) == 0 {
		return &errors.ValidationError{Field: "promptInputs", Message: "step has no prompt inputs"}
	}
	if step.Config.OutputFolder == "" {
		return &errors.ValidationError{Field: "outputFolder", Message: "output folder is required"}
	}
	if step.Config.OutputFileName == "" {
		return &errors.ValidationError{Field: "outputFileName", Message: "output file name is required"}
	}

	seen := make(map[string]bool, len(step.Config.FileInputs))
	for _, input := range step.Config.FileInputs {
		if input.Name == "" {
			return &errors.ValidationError{Field: "fileInputs", Message: "file input has no name"}
		}
		if seen[input.Name] {
			return &errors.ValidationError{
				Field:   "fileInputs",
				Message: fmt.Sprintf("duplicate file input name %q", input.Name),
			}
		}
		seen[input.Name] = true
	}

	return nil
}

// resolveFileInputs maps every input name to a concrete path. Dependent
// inputs require a successful upstream result carrying an output path.
func (e *Executor) resolveFileInputs(step *Step, prior map[string]*StepResult) (map[string]string, error) {
	nameToPath := make(map[string]string, len(step.Config.FileInputs))

	for _, input := range step.Config.FileInputs {
		if input.DependsOn != "" {
			upstream, ok := prior[input.DependsOn]
			if !ok {
				return nil, &errors.DependencyError{
					StepID:       step.ID,
					DependencyID: input.DependsOn,
					Reason:       "no result available",
				}
			}
			if !upstream.Success {
				return nil, &errors.DependencyError{
					StepID:       step.ID,
					DependencyID: input.DependsOn,
					Reason:       "dependency failed: " + upstream.Message,
				}
			}
			if upstream.Data == nil || upstream.Data.Path == "" {
				return nil, &errors.DependencyError{
					StepID:       step.ID,
					DependencyID: input.DependsOn,
					Reason:       "dependency produced no output path",
				}
			}
			nameToPath[input.Name] = upstream.Data.Path
			continue
		}

		if input.Path == "" {
			return nil, &errors.ValidationError{
				Field:   "fileInputs",
				Message: fmt.Sprintf("input %q has neither path nor dependsOn", input.Name),
			}
		}
		nameToPath[input.Name] = input.Path
	}

	return nameToPath, nil
}

// materialize turns the segment sequence into the single user-message
// payload: prompt segments contribute their text, file segments the full
// contents of the named file, joined with newlines.
func (e *Executor) materialize(segments []Segment) (string, error) {
	parts := make([]string, 0, len(segments))

	for _, segment := range segments {
		switch segment.Kind {
		case SegmentPrompt:
			parts = append(parts, segment.Value)
		case SegmentFile:
			data, err := e.store.ReadFile(segment.Value)
			if err != nil {
				return "", err
			}
			parts = append(parts, string(data))
		}
	}

	return strings.Join(parts, "\n"), nil
}

// failure folds an error into a failed StepResult. Cancellation keeps its
// identity in the message so callers can distinguish interruption from
// failure.
func failure(err error) *StepResult {
	return &StepResult{
		Success: false,
		Message: err.Error(),
	}
}
