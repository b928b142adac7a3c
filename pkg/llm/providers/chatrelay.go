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

// ChatRelayProvider implements the Provider interface against the chat
// relay endpoint: a single POST of {message, sessionId} answered with
// {reply}. The relay neither streams nor continues; every completion
// reports a terminal stop reason.
type ChatRelayProvider struct {
	url        string
	httpClient *http.Client
}

// NewChatRelayProvider creates a provider for the chat relay endpoint.
func NewChatRelayProvider(url string) (*ChatRelayProvider, error) {
	if url == "" {
		return nil, &errors.ConfigError{
			Key:    "chat_api_url",
			Reason: "relay URL is required",
		}
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 120 * time.Second
	cfg.UserAgent = "codelift-chat-relay/1.0"

	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &ChatRelayProvider{
		url:        url,
		httpClient: client,
	}, nil
}

// Name returns the provider identifier.
func (p *ChatRelayProvider) Name() string {
	return "chat-relay"
}

// relayRequest is the wire format of a relay request.
type relayRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// relayResponse is the wire format of a relay response.
type relayResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

// Complete flattens the whole conversation into one message and posts it.
// The relay is session-scoped, keyed on SessionID; when the request sets
// none, the generated request ID is used.
func (p *ChatRelayProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = requestID
	}

	body, err := json.Marshal(relayRequest{
		Message:   flattenMessages(req.Messages),
		SessionID: sessionID,
	})
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  p.Name(),
			Message:   fmt.Sprintf("failed to marshal request: %v", err),
			RequestID: requestID,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  p.Name(),
			Message:   fmt.Sprintf("failed to create request: %v", err),
			RequestID: requestID,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  p.Name(),
			Message:   fmt.Sprintf("request failed: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
			RequestID:  requestID,
		}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp relayResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return nil, &errors.ProviderError{
				Provider:   p.Name(),
				StatusCode: resp.StatusCode,
				Message:    errResp.Error,
				RequestID:  requestID,
			}
		}
		return nil, &errors.ProviderError{
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("relay request failed with status %d: %s", resp.StatusCode, string(respBody)),
			RequestID:  requestID,
		}
	}

	var apiResp relayResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ProviderError{
			Provider:  p.Name(),
			Message:   fmt.Sprintf("failed to parse response: %v", err),
			RequestID: requestID,
		}
	}

	return &llm.CompletionResponse{
		Content:      apiResp.Reply,
		FinishReason: llm.FinishReasonStop,
		RequestID:    requestID,
		Created:      time.Now(),
	}, nil
}

// Stream adapts the non-streaming relay into the streaming interface by
// emitting the full reply as a single chunk.
func (p *ChatRelayProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan llm.StreamChunk, 2)
	chunks <- llm.StreamChunk{
		RequestID: resp.RequestID,
		Delta:     llm.StreamDelta{Content: resp.Content},
	}
	chunks <- llm.StreamChunk{
		RequestID:    resp.RequestID,
		FinishReason: resp.FinishReason,
	}
	close(chunks)

	return chunks, nil
}

// flattenMessages joins the conversation into the relay's single-message
// payload. System and user content is kept in order; assistant turns are
// included so continuation-style retries remain meaningful to the relay.
func flattenMessages(messages []llm.Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}

	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(msg.Content)
	}
	return b.String()
}
