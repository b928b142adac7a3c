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
	"sync"
	"testing"

	"github.com/codelift/codelift/pkg/errors"
	"github.com/codelift/codelift/pkg/llm"
)

// memStore is an in-memory ContentStore for tests.
type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte), dirs: make(map[string]bool)}
}

func (s *memStore) ReadFile(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, &errors.InputError{Path: path, Cause: errors.New("file does not exist")}
	}
	return data, nil
}

func (s *memStore) EnsureDir(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[path] = true
	return nil
}

func (s *memStore) WriteFile(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
	return nil
}

func (s *memStore) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[path]
	return ok
}

func (s *memStore) get(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	return string(data), ok
}

// echoGenerator returns its input payload, optionally transformed, wrapped
// in a code fence like a real model reply.
type echoGenerator struct {
	transform func(payload string) string
	payloads  []string
	err       error
}

func (g *echoGenerator) Generate(ctx context.Context, messages []llm.Message) (*llm.Result, error) {
	if g.err != nil {
		return nil, g.err
	}
	payload := messages[len(messages)-1].Content
	g.payloads = append(g.payloads, payload)

	out := payload
	if g.transform != nil {
		out = g.transform(payload)
	}
	return &llm.Result{
		Text:         "reply\n```tsx\n" + out + "\n```",
		FinishReason: llm.FinishReasonStop,
	}, nil
}

func testExecutor(store *memStore, gen Generator, opts ...ExecutorOption) *Executor {
	return NewExecutor(store, map[Endpoint]Generator{
		EndpointChatRelay: gen,
		EndpointQianwen:   gen,
	}, opts...)
}

func TestExecuteStepHappyPath(t *testing.T) {
	store := newMemStore()
	store.files["/src/Foo.jsp"] = []byte("<jsp/>")
	gen := &echoGenerator{}
	exec := testExecutor(store, gen)

	s := step("s1", 0)
	s.Config.FileInputs = []FileInput{{Name: "src", Path: "/src/Foo.jsp"}}
	s.Config.PromptInputs = []PromptInput{{Content: "convert {{src}} to react"}}
	s.Config.OutputFileName = "Foo.tsx"

	result := exec.ExecuteStep(context.Background(), &s, nil)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	wantPath := filepath.Join("/tmp/out", "Foo.tsx")
	if result.Data.Path != wantPath {
		t.Errorf("Data.Path = %q", result.Data.Path)
	}
	if result.Data.Size != len(result.Data.Content) {
		t.Errorf("Size = %d, Content len %d", result.Data.Size, len(result.Data.Content))
	}

	// The payload interleaves prompt text and the file's contents.
	if len(gen.payloads) != 1 {
		t.Fatalf("generator called %d times", len(gen.payloads))
	}
	if gen.payloads[0] != "convert\n<jsp/>\nto react" {
		t.Errorf("payload = %q", gen.payloads[0])
	}

	// The fenced code is persisted, not the whole reply.
	if written, ok := store.get(wantPath); !ok || strings.Contains(written, "reply") {
		t.Errorf("written = %q, %v", written, ok)
	}
}

func TestExecuteStepDeterministicOutput(t *testing.T) {
	// Same config, same input, same reply: identical path and content.
	for run := 0; run < 2; run++ {
		store := newMemStore()
		store.files["/src/Foo.jsp"] = []byte("body")
		exec := testExecutor(store, &echoGenerator{})

		s := step("s1", 0)
		s.Config.FileInputs = []FileInput{{Name: "src", Path: "/src/Foo.jsp"}}
		s.Config.PromptInputs = []PromptInput{{Content: "{{src}}"}}

		result := exec.ExecuteStep(context.Background(), &s, nil)
		if !result.Success || result.Data.Content != "body" {
			t.Fatalf("run %d: result = %+v", run, result)
		}
	}
}

func TestExecuteStepConfigValidation(t *testing.T) {
	exec := testExecutor(newMemStore(), &echoGenerator{})

	cases := map[string]func(*Step){
		"no file inputs":    func(s *Step) { s.Config.FileInputs = nil },
		"no prompt inputs":  func(s *Step) { s.Config.PromptInputs = nil },
		"no output folder":  func(s *Step) { s.Config.OutputFolder = "" },
		"no output name":    func(s *Step) { s.Config.OutputFileName = "" },
		"unnamed input":     func(s *Step) { s.Config.FileInputs[0].Name = "" },
		"unknown endpoint":  func(s *Step) { s.Config.APIEndpoint = "bogus" },
		"duplicate names": func(s *Step) {
			s.Config.FileInputs = append(s.Config.FileInputs, s.Config.FileInputs[0])
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := step("s1", 0)
			mutate(&s)
			result := exec.ExecuteStep(context.Background(), &s, nil)
			if result.Success {
				t.Error("expected failure")
			}
			if result.Message == "" {
				t.Error("failure must carry a message")
			}
		})
	}
}

func TestExecuteStepDependencyResolution(t *testing.T) {
	store := newMemStore()
	store.files["/out/s1.txt"] = []byte("upstream output")
	exec := testExecutor(store, &echoGenerator{})

	s := step("s2", 1, "s1")
	s.Config.FileInputs = []FileInput{{Name: "in", DependsOn: "s1", Path: "/ignored.txt"}}
	s.Config.PromptInputs = []PromptInput{{Content: "{{in}}"}}

	t.Run("consumes dependency output path", func(t *testing.T) {
		prior := map[string]*StepResult{
			"s1": {Success: true, Data: &ResultData{Path: "/out/s1.txt"}},
		}
		result := exec.ExecuteStep(context.Background(), &s, prior)
		if !result.Success {
			t.Fatalf("result = %+v", result)
		}
		if result.Data.Content != "upstream output" {
			t.Errorf("Content = %q", result.Data.Content)
		}
	})

	t.Run("missing dependency", func(t *testing.T) {
		result := exec.ExecuteStep(context.Background(), &s, map[string]*StepResult{})
		if result.Success || !strings.Contains(result.Message, "s1") {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("failed dependency", func(t *testing.T) {
		prior := map[string]*StepResult{
			"s1": {Success: false, Message: "llm exploded"},
		}
		result := exec.ExecuteStep(context.Background(), &s, prior)
		if result.Success {
			t.Error("expected failure")
		}
	})

	t.Run("dependency without path", func(t *testing.T) {
		prior := map[string]*StepResult{
			"s1": {Success: true, Data: &ResultData{}},
		}
		result := exec.ExecuteStep(context.Background(), &s, prior)
		if result.Success {
			t.Error("expected failure")
		}
	})
}

func TestExecuteStepMissingInputFile(t *testing.T) {
	exec := testExecutor(newMemStore(), &echoGenerator{})

	s := step("s1", 0)
	s.Config.FileInputs = []FileInput{{Name: "src", Path: "/missing.jsp"}}
	s.Config.PromptInputs = []PromptInput{{Content: "{{src}}"}}

	result := exec.ExecuteStep(context.Background(), &s, nil)
	if result.Success {
		t.Error("expected failure for missing input")
	}
}

func TestExecuteStepLLMFailure(t *testing.T) {
	store := newMemStore()
	store.files["/in.txt"] = []byte("x")
	exec := testExecutor(store, &echoGenerator{err: &errors.ProviderError{Provider: "openai", Message: "boom"}})

	s := step("s1", 0)
	s.Config.FileInputs = []FileInput{{Name: "in", Path: "/in.txt"}}
	s.Config.PromptInputs = []PromptInput{{Content: "{{in}}"}}

	result := exec.ExecuteStep(context.Background(), &s, nil)
	if result.Success || !strings.Contains(result.Message, "boom") {
		t.Errorf("result = %+v", result)
	}
}

func TestExecuteStepOverwrite(t *testing.T) {
	outPath := filepath.Join("/tmp/out", "s1.txt")

	t.Run("default overwrites", func(t *testing.T) {
		store := newMemStore()
		store.files["/in.txt"] = []byte("new content")
		store.files[outPath] = []byte("stale")
		exec := testExecutor(store, &echoGenerator{})

		s := step("s1", 0)
		s.Config.FileInputs = []FileInput{{Name: "in", Path: "/in.txt"}}
		s.Config.PromptInputs = []PromptInput{{Content: "{{in}}"}}

		result := exec.ExecuteStep(context.Background(), &s, nil)
		if !result.Success {
			t.Fatalf("result = %+v", result)
		}
		if written, _ := store.get(outPath); written != "new content" {
			t.Errorf("written = %q", written)
		}
	})

	t.Run("strict mode refuses overwrite", func(t *testing.T) {
		store := newMemStore()
		store.files["/in.txt"] = []byte("new content")
		store.files[outPath] = []byte("stale")
		exec := testExecutor(store, &echoGenerator{}, WithFailIfExists())

		s := step("s1", 0)
		s.Config.FileInputs = []FileInput{{Name: "in", Path: "/in.txt"}}
		s.Config.PromptInputs = []PromptInput{{Content: "{{in}}"}}

		result := exec.ExecuteStep(context.Background(), &s, nil)
		if result.Success {
			t.Fatal("expected refusal")
		}
		if written, _ := store.get(outPath); written != "stale" {
			t.Errorf("existing file must be untouched, got %q", written)
		}
	})
}
