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

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codelift/codelift/pkg/errors"
	"github.com/codelift/codelift/pkg/llm"
)

func newTestProvider(t *testing.T, url string) *OpenAICompatProvider {
	t.Helper()
	p, err := NewOpenAICompatProvider(OpenAICompatConfig{
		Name:    "qianwen",
		APIKey:  "test-key",
		BaseURL: url,
		Model:   "qwen-coder",
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewOpenAICompatProviderValidation(t *testing.T) {
	cases := []OpenAICompatConfig{
		{BaseURL: "https://x", Model: "m"},             // missing key
		{APIKey: "k", Model: "m"},                      // missing base
		{APIKey: "k", BaseURL: "https://x"},            // missing model
	}
	for i, cfg := range cases {
		if _, err := NewOpenAICompatProvider(cfg); err == nil {
			t.Errorf("case %d: expected config error", i)
		}
	}
}

func TestOpenAIStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req["stream"] != true {
			t.Error("stream should be true")
		}
		if req["model"] != "qwen-coder" {
			t.Errorf("model = %v", req["model"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"hmm\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"const \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x = 1;\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	chunks, err := p.Stream(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var content, reasoning string
	var reason llm.FinishReason
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("chunk error: %v", chunk.Error)
		}
		content += chunk.Delta.Content
		reasoning += chunk.Delta.ReasoningContent
		if chunk.FinishReason != "" {
			reason = chunk.FinishReason
		}
	}

	if content != "const x = 1;" {
		t.Errorf("content = %q", content)
	}
	if reasoning != "hmm" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if reason != llm.FinishReasonStop {
		t.Errorf("finish reason = %q", reason)
	}
}

func TestOpenAIStreamLengthReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"trunc\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"length\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	chunks, err := p.Stream(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var reason llm.FinishReason
	for chunk := range chunks {
		if chunk.FinishReason != "" {
			reason = chunk.FinishReason
		}
	}
	if reason != llm.FinishReasonLength {
		t.Errorf("finish reason = %q, want length", reason)
	}
}

func TestOpenAIStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exhausted","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.Stream(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "go"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var pe *errors.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error %T, want ProviderError", err)
	}
	if pe.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", pe.StatusCode)
	}
	if pe.Message != "quota exhausted" {
		t.Errorf("Message = %q, want vendor message", pe.Message)
	}
}

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"qwen-coder","choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "done" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != llm.FinishReasonStop {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
}

func TestOpenAIEmptyMessages(t *testing.T) {
	p := newTestProvider(t, "https://unused.example.com")
	if _, err := p.Stream(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected validation error")
	}
}
