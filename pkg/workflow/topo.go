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

import "sort"

// ExecutionOrder returns the step ids of w in stable topological order.
// Among steps whose dependencies are all satisfied, the one with the
// smallest Order runs first, so the order is fully deterministic.
//
// The workflow must already be validated; a cyclic graph yields a short
// order, which Validate prevents from ever reaching execution.
func ExecutionOrder(w *Workflow) []string {
	indegree := make(map[string]int, len(w.Steps))
	dependents := make(map[string][]string, len(w.Steps))
	orderOf := make(map[string]int, len(w.Steps))

	for i := range w.Steps {
		step := &w.Steps[i]
		orderOf[step.ID] = step.Order
		if _, ok := indegree[step.ID]; !ok {
			indegree[step.ID] = 0
		}
		for _, dep := range step.Dependencies {
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	// Ready set kept sorted by authored order; workflows are small enough
	// that re-sorting beats maintaining a heap.
	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]string, 0, len(w.Steps))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return orderOf[ready[i]] < orderOf[ready[j]]
		})

		next := ready[0]
		ready = ready[1:]
		result = append(result, next)

		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	return result
}

// Downstream returns the transitive dependents of start (excluding start
// itself), following dependency edges forward.
func Downstream(w *Workflow, start string) map[string]bool {
	dependents := make(map[string][]string, len(w.Steps))
	for i := range w.Steps {
		step := &w.Steps[i]
		for _, dep := range step.Dependencies {
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	closure := make(map[string]bool)
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range dependents[current] {
			if !closure[next] {
				closure[next] = true
				queue = append(queue, next)
			}
		}
	}
	return closure
}
