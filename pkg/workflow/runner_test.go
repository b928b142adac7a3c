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
	"path/filepath"
	"strings"
	"testing"
)

// linearWorkflow builds s1 → s2 → s3 where each later step consumes the
// previous step's output file.
func linearWorkflow() *Workflow {
	s1 := step("s1", 0)
	s1.Config.FileInputs = []FileInput{{Name: "in", Path: "/seed.txt"}}
	s1.Config.PromptInputs = []PromptInput{{Content: "{{in}}"}}

	s2 := step("s2", 1, "s1")
	s2.Config.FileInputs = []FileInput{{Name: "in", DependsOn: "s1"}}
	s2.Config.PromptInputs = []PromptInput{{Content: "{{in}}"}}

	s3 := step("s3", 2, "s2")
	s3.Config.FileInputs = []FileInput{{Name: "in", DependsOn: "s2"}}
	s3.Config.PromptInputs = []PromptInput{{Content: "{{in}}"}}

	return &Workflow{ID: "w", Name: "linear", Steps: []Step{s1, s2, s3}}
}

func TestRunLinearForwardsContent(t *testing.T) {
	store := newMemStore()
	store.files["/seed.txt"] = []byte("seed content")
	exec := testExecutor(store, &echoGenerator{})

	run, err := NewRun(linearWorkflow(), exec)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := run.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("run failed: %+v", run.Snapshot())
	}

	// The seed content is forwarded through the whole chain.
	final, ok := store.get(filepath.Join("/tmp/out", "s3.txt"))
	if !ok || final != "seed content" {
		t.Errorf("final output = %q, %v", final, ok)
	}
}

func TestRunRejectsCycleBeforeExecuting(t *testing.T) {
	w := &Workflow{ID: "w", Steps: []Step{
		step("s1", 0, "s2"),
		step("s2", 1, "s1"),
	}}

	gen := &echoGenerator{}
	_, err := NewRun(w, testExecutor(newMemStore(), gen))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(gen.payloads) != 0 {
		t.Error("no step may run for a cyclic workflow")
	}
}

func TestRunSkipsDownstreamOfFailure(t *testing.T) {
	store := newMemStore()
	// Seed missing: s1 fails reading its input, s2 and s3 must be skipped.
	exec := testExecutor(store, &echoGenerator{})

	run, err := NewRun(linearWorkflow(), exec)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := run.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("run should not succeed")
	}

	views := run.Snapshot()
	if views[0].Status != StepStatusError {
		t.Errorf("s1 status = %q", views[0].Status)
	}
	for _, v := range views[1:] {
		if v.Status != StepStatusSkipped {
			t.Errorf("%s status = %q, want skipped", v.ID, v.Status)
		}
		if !strings.Contains(v.Result.Message, "dependency") {
			t.Errorf("%s message = %q, must name the failed ancestor", v.ID, v.Result.Message)
		}
	}
}

func TestRunProgressMonotone(t *testing.T) {
	store := newMemStore()
	store.files["/seed.txt"] = []byte("x")
	exec := testExecutor(store, &echoGenerator{})

	var reported []float64
	run, err := NewRun(linearWorkflow(), exec, WithProgress(func(p float64) {
		reported = append(reported, p)
	}))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := run.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(reported) == 0 {
		t.Fatal("no progress reported")
	}
	last := 0.0
	for i, p := range reported {
		if p < last {
			t.Errorf("progress decreased at %d: %v", i, reported)
		}
		last = p
	}
	if last != 1.0 {
		t.Errorf("final progress = %v, want 1.0", last)
	}
}

func TestRunDiamondSeesBothBranches(t *testing.T) {
	// s1 → s2, s1 → s3, s2 → s4, s3 → s4; s4 consumes both branches.
	s1 := step("s1", 0)
	s1.Config.FileInputs = []FileInput{{Name: "in", Path: "/seed.txt"}}
	s1.Config.PromptInputs = []PromptInput{{Content: "{{in}}"}}

	s2 := step("s2", 1, "s1")
	s2.Config.FileInputs = []FileInput{{Name: "in", DependsOn: "s1"}}
	s2.Config.PromptInputs = []PromptInput{{Content: "left {{in}}"}}

	s3 := step("s3", 2, "s1")
	s3.Config.FileInputs = []FileInput{{Name: "in", DependsOn: "s1"}}
	s3.Config.PromptInputs = []PromptInput{{Content: "right {{in}}"}}

	s4 := step("s4", 3, "s2", "s3")
	s4.Config.FileInputs = []FileInput{
		{Name: "left", DependsOn: "s2"},
		{Name: "right", DependsOn: "s3"},
	}
	s4.Config.PromptInputs = []PromptInput{{Content: "{{left}} {{right}}"}}

	store := newMemStore()
	store.files["/seed.txt"] = []byte("seed")
	gen := &echoGenerator{}
	exec := testExecutor(store, gen)

	run, err := NewRun(&Workflow{ID: "w", Steps: []Step{s1, s2, s3, s4}}, exec)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := run.Execute(context.Background())
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v snapshot=%+v", ok, err, run.Snapshot())
	}

	// s4's payload contains both upstream outputs.
	lastPayload := gen.payloads[len(gen.payloads)-1]
	if !strings.Contains(lastPayload, "left\nseed") || !strings.Contains(lastPayload, "right\nseed") {
		t.Errorf("s4 payload = %q", lastPayload)
	}
}

func TestRunExecuteFrom(t *testing.T) {
	store := newMemStore()
	store.files["/seed.txt"] = []byte("v1")
	gen := &echoGenerator{}
	exec := testExecutor(store, gen)

	run, err := NewRun(linearWorkflow(), exec)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := run.Execute(context.Background()); !ok {
		t.Fatal("initial run failed")
	}

	s1Result := run.Result("s1")

	// The upstream output changes on disk; re-running from s2 must pick it
	// up while leaving s1's result untouched.
	store.files[s1Result.Data.Path] = []byte("v2")

	if err := run.ExecuteFrom(context.Background(), "s2"); err != nil {
		t.Fatal(err)
	}

	if run.Result("s1") != s1Result {
		t.Error("s1 result must be unchanged by ExecuteFrom(s2)")
	}
	final, _ := store.get(filepath.Join("/tmp/out", "s3.txt"))
	if final != "v2" {
		t.Errorf("s3 output = %q, want the re-read upstream value", final)
	}
}

func TestRunExecuteStepOnly(t *testing.T) {
	store := newMemStore()
	store.files["/seed.txt"] = []byte("seed")
	exec := testExecutor(store, &echoGenerator{})

	run, err := NewRun(linearWorkflow(), exec)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := run.Execute(context.Background()); !ok {
		t.Fatal("initial run failed")
	}

	s3Before := run.Result("s3")

	if err := run.ExecuteStep(context.Background(), "s2"); err != nil {
		t.Fatal(err)
	}

	// Only s2 was reset and re-run; s3 kept its prior result.
	if run.Result("s3") != s3Before {
		t.Error("ExecuteStep must not touch downstream steps")
	}
	if run.Result("s2") == nil || !run.Result("s2").Success {
		t.Errorf("s2 result = %+v", run.Result("s2"))
	}
}

func TestRunExecuteStepUnknownID(t *testing.T) {
	store := newMemStore()
	run, err := NewRun(linearWorkflow(), testExecutor(store, &echoGenerator{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := run.ExecuteStep(context.Background(), "nope"); err == nil {
		t.Fatal("expected error")
	}
	if err := run.ExecuteFrom(context.Background(), "nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunCancellationBetweenSteps(t *testing.T) {
	store := newMemStore()
	store.files["/seed.txt"] = []byte("seed")

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel as soon as the first step's generation runs.
	gen := &echoGenerator{transform: func(p string) string {
		cancel()
		return p
	}}
	exec := testExecutor(store, gen)

	run, err := NewRun(linearWorkflow(), exec)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := run.Execute(ctx)
	if ok {
		t.Error("cancelled run cannot succeed")
	}
	if err == nil {
		t.Fatal("expected context error")
	}

	// s1 finished before the boundary check; later steps never ran.
	views := run.Snapshot()
	if views[0].Status != StepStatusSuccess {
		t.Errorf("s1 = %q", views[0].Status)
	}
	for _, v := range views[1:] {
		if v.Status != StepStatusPending {
			t.Errorf("%s = %q, want pending", v.ID, v.Status)
		}
	}
}
