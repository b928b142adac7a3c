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
	"fmt"
	"strings"

	"github.com/codelift/codelift/pkg/errors"
)

// Validate checks the structural invariants of a workflow:
//   - step ids are unique and non-empty
//   - step orders are non-negative and unique
//   - every dependency names another step in the same workflow
//   - the dependency graph is acyclic
//   - every fileInput dependsOn references an existing step with a
//     strictly smaller order
//
// Validation is purely structural; per-step config completeness (prompt
// blocks, output fields) is enforced by the executor at run time.
func Validate(w *Workflow) error {
	if w == nil {
		return &errors.ValidationError{Field: "workflow", Message: "workflow cannot be nil"}
	}
	if len(w.Steps) == 0 {
		return &errors.ValidationError{Field: "steps", Message: "workflow has no steps"}
	}

	byID := make(map[string]*Step, len(w.Steps))
	orders := make(map[int]string, len(w.Steps))

	for i := range w.Steps {
		step := &w.Steps[i]

		if step.ID == "" {
			return &errors.ValidationError{Field: "steps", Message: fmt.Sprintf("step at index %d has no id", i)}
		}
		if _, dup := byID[step.ID]; dup {
			return &errors.ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("duplicate step id %q", step.ID),
			}
		}
		byID[step.ID] = step

		if step.Order < 0 {
			return &errors.ValidationError{
				Field:   "order",
				Message: fmt.Sprintf("step %q has negative order %d", step.ID, step.Order),
			}
		}
		if prev, dup := orders[step.Order]; dup {
			return &errors.ValidationError{
				Field:   "order",
				Message: fmt.Sprintf("steps %q and %q share order %d", prev, step.ID, step.Order),
			}
		}
		orders[step.Order] = step.ID
	}

	for i := range w.Steps {
		step := &w.Steps[i]

		for _, dep := range step.Dependencies {
			if dep == step.ID {
				return &errors.ValidationError{
					Field:   "dependencies",
					Message: fmt.Sprintf("step %q depends on itself", step.ID),
				}
			}
			if _, ok := byID[dep]; !ok {
				return &errors.ValidationError{
					Field:      "dependencies",
					Message:    fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep),
					Suggestion: "dependencies must name steps in the same workflow",
				}
			}
		}

		for _, input := range step.Config.FileInputs {
			if input.DependsOn == "" {
				continue
			}
			upstream, ok := byID[input.DependsOn]
			if !ok {
				return &errors.ValidationError{
					Field:   "fileInputs",
					Message: fmt.Sprintf("step %q input %q depends on unknown step %q", step.ID, input.Name, input.DependsOn),
				}
			}
			if upstream.Order >= step.Order {
				return &errors.ValidationError{
					Field:   "fileInputs",
					Message: fmt.Sprintf("step %q input %q depends on step %q which does not precede it (order %d >= %d)", step.ID, input.Name, input.DependsOn, upstream.Order, step.Order),
				}
			}
		}
	}

	if cycle := findCycle(w); cycle != nil {
		return &errors.ValidationError{
			Field:      "dependencies",
			Message:    fmt.Sprintf("dependency graph contains a cycle: %s", strings.Join(cycle, " -> ")),
			Suggestion: "remove one of the dependencies to break the cycle",
		}
	}

	return nil
}

// findCycle runs an iterative three-color DFS over the dependency graph and
// returns the first cycle found as a step-id path, or nil.
func findCycle(w *Workflow) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)

	color := make(map[string]int, len(w.Steps))
	deps := make(map[string][]string, len(w.Steps))
	for i := range w.Steps {
		deps[w.Steps[i].ID] = w.Steps[i].Dependencies
	}

	var path []string
	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)

		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				// Found a back edge; slice the path from the repeat.
				for i, p := range path {
					if p == dep {
						return append(append([]string{}, path[i:]...), dep)
					}
				}
				return []string{id, dep, id}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		color[id] = black
		path = path[:len(path)-1]
		return nil
	}

	for i := range w.Steps {
		id := w.Steps[i].ID
		if color[id] == white {
			path = path[:0]
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
