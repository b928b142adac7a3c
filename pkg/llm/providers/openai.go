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

// Package providers contains concrete implementations of LLM providers.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codelift/codelift/pkg/errors"
	"github.com/codelift/codelift/pkg/httpclient"
	"github.com/codelift/codelift/pkg/llm"
)

// OpenAICompatProvider implements the Provider interface against any
// OpenAI-style chat-completion endpoint (the direct-model variant).
// Streaming uses SSE data lines terminated by a [DONE] sentinel.
type OpenAICompatProvider struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// OpenAICompatConfig configures an OpenAI-compatible provider.
type OpenAICompatConfig struct {
	// Name identifies the provider in logs and errors (e.g., "qianwen").
	// Default: "openai".
	Name string

	// APIKey authorizes requests. Required.
	APIKey string

	// BaseURL is the API base, e.g. "https://api.example.com/v1". Required.
	BaseURL string

	// Model is the default model ID for requests that don't set one. Required.
	Model string
}

// NewOpenAICompatProvider creates a provider for an OpenAI-compatible endpoint.
func NewOpenAICompatProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.APIKey == "" {
		return nil, &errors.ConfigError{
			Key:    "openai.api_key",
			Reason: "API key is required",
		}
	}
	if cfg.BaseURL == "" {
		return nil, &errors.ConfigError{
			Key:    "openai.api_base",
			Reason: "API base URL is required",
		}
	}
	if cfg.Model == "" {
		return nil, &errors.ConfigError{
			Key:    "openai.model",
			Reason: "model is required",
		}
	}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	// LLM streams run long; only bound the header exchange.
	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = 120 * time.Second
	hcfg.ResponseHeaderTimeout = 60 * time.Second
	hcfg.UserAgent = "codelift-" + name + "/1.0"
	hcfg.DisableBodyTimeout = true

	client, err := httpclient.New(hcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &OpenAICompatProvider{
		name:       name,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: client,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAICompatProvider) Name() string {
	return p.name
}

// chatRequest is the wire format of a chat-completion request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// chatResponse is the wire format of a non-streaming response and of each
// streamed chunk (choices carry "message" or "delta" respectively).
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Error   *wireError   `json:"error,omitempty"`
}

type chatChoice struct {
	Message      *wireMessage `json:"message,omitempty"`
	Delta        *wireDelta   `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireDelta struct {
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Complete sends a synchronous (non-streaming) completion request.
func (p *OpenAICompatProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	resp, err := p.send(ctx, req, false, requestID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  p.name,
			Message:   fmt.Sprintf("failed to read response: %v", err),
			RequestID: requestID,
		}
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &errors.ProviderError{
			Provider:  p.name,
			Message:   fmt.Sprintf("failed to parse response: %v", err),
			RequestID: requestID,
		}
	}

	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message == nil {
		return nil, &errors.ProviderError{
			Provider:  p.name,
			Message:   "response contained no choices",
			RequestID: requestID,
		}
	}

	choice := apiResp.Choices[0]
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: llm.NormalizeFinishReason(choice.FinishReason),
		Model:        apiResp.Model,
		RequestID:    requestID,
		Created:      time.Now(),
	}, nil
}

// Stream sends a streaming completion request and returns a chunk channel.
func (p *OpenAICompatProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	requestID := uuid.New().String()

	resp, err := p.send(ctx, req, true, requestID)
	if err != nil {
		return nil, err
	}

	chunks := make(chan llm.StreamChunk, 10)
	go p.processStream(ctx, resp, chunks, requestID)

	return chunks, nil
}

// send validates, marshals, and issues the HTTP request, returning the
// response with a 2xx status. Error responses are decoded and mapped.
func (p *OpenAICompatProvider) send(ctx context.Context, req llm.CompletionRequest, stream bool, requestID string) (*http.Response, error) {
	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    req.Messages,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  p.name,
			Message:   fmt.Sprintf("failed to marshal request: %v", err),
			RequestID: requestID,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  p.name,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			RequestID: requestID,
		}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  p.name,
			Message:   fmt.Sprintf("request failed: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)

		var errResp chatResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
			return nil, &errors.ProviderError{
				Provider:   p.name,
				StatusCode: resp.StatusCode,
				Message:    errResp.Error.Message,
				Suggestion: suggestionForStatus(resp.StatusCode),
				RequestID:  requestID,
			}
		}
		return nil, &errors.ProviderError{
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, string(respBody)),
			RequestID:  requestID,
		}
	}

	return resp, nil
}

// processStream reads SSE data lines and sends chunks to the channel.
func (p *OpenAICompatProvider) processStream(ctx context.Context, resp *http.Response, chunks chan<- llm.StreamChunk, requestID string) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	// Large deltas can exceed the default token size.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			chunks <- llm.StreamChunk{
				RequestID:    requestID,
				Error:        ctx.Err(),
				FinishReason: llm.FinishReasonError,
			}
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed events
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		out := llm.StreamChunk{RequestID: requestID}
		if choice.Delta != nil {
			out.Delta = llm.StreamDelta{
				Content:          choice.Delta.Content,
				ReasoningContent: choice.Delta.ReasoningContent,
			}
		}
		if choice.FinishReason != "" {
			out.FinishReason = llm.NormalizeFinishReason(choice.FinishReason)
		}

		if out.Delta.Content == "" && out.Delta.ReasoningContent == "" && out.FinishReason == "" {
			continue
		}

		chunks <- out
	}

	if err := scanner.Err(); err != nil {
		chunks <- llm.StreamChunk{
			RequestID:    requestID,
			Error:        fmt.Errorf("stream read error: %w", err),
			FinishReason: llm.FinishReasonError,
		}
	}
}

// suggestionForStatus returns a helpful suggestion based on the HTTP status.
func suggestionForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Check that your API key is valid and correctly configured"
	case http.StatusForbidden:
		return "Your API key may not have access to this model"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Consider implementing backoff or reducing request frequency"
	case http.StatusBadRequest:
		return "Check the request parameters for errors"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "The API is experiencing issues. Retry after a short delay"
	default:
		return "Check the provider API documentation for more details"
	}
}
