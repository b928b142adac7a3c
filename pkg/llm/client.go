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

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codelift/codelift/pkg/errors"
)

// ContinuePrompt is appended as a user message when a streaming completion
// stops at the token limit, asking the model to resume without preamble.
const ContinuePrompt = "Continue directly from the previous content, ensure seamless continuation, correct syntax, no repetition, do not acknowledge — just continue."

// DefaultMaxContinuations bounds the number of continuation rounds per
// generation before the accumulated text is returned as-is.
const DefaultMaxContinuations = 8

// Result is the outcome of a driven generation: the assembled text across
// all continuation rounds plus bookkeeping about how it ended.
type Result struct {
	// Text is the full concatenated model output.
	Text string

	// FinishReason is the reason reported by the final round.
	FinishReason FinishReason

	// Continuations is the number of continuation rounds that were issued.
	Continuations int

	// Warning is set when generation ended abnormally but usably, e.g. the
	// continuation ceiling was reached before a terminal finish reason.
	Warning string
}

// Client drives a Provider to a complete generation. It consumes the
// provider's stream, accumulates content deltas, and re-issues the request
// with a continuation prompt whenever the model stops at its token limit.
//
// A Client holds no mutable state between calls and is safe for concurrent use.
type Client struct {
	provider         Provider
	maxContinuations int
	logger           *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxContinuations overrides the continuation ceiling.
func WithMaxContinuations(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxContinuations = n
		}
	}
}

// WithLogger sets the logger used for per-round diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a generation client around the given provider.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider:         provider,
		maxContinuations: DefaultMaxContinuations,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the wrapped provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// Generate runs the request to a terminal finish reason, following the
// continuation protocol: when a round ends with FinishReasonLength, the
// accumulated content is appended as an assistant message followed by the
// continue prompt, and the request is re-issued. Rounds repeat until the
// reason is terminal or the continuation ceiling is hit, at which point the
// text gathered so far is returned with a warning rather than an error.
func (c *Client) Generate(ctx context.Context, messages []Message) (*Result, error) {
	// Copy: continuation rounds append to the message list.
	msgs := make([]Message, len(messages))
	copy(msgs, messages)

	var full strings.Builder
	result := &Result{}

	for round := 0; ; round++ {
		text, reason, err := c.consumeStream(ctx, CompletionRequest{Messages: msgs})
		if err != nil {
			return nil, err
		}
		full.WriteString(text)
		result.FinishReason = reason

		if reason != FinishReasonLength {
			break
		}

		if round >= c.maxContinuations {
			result.Warning = fmt.Sprintf("continuation ceiling (%d) reached before a terminal finish reason; output may be truncated", c.maxContinuations)
			c.logger.Warn("continuation ceiling reached",
				slog.String("provider", c.provider.Name()),
				slog.Int("rounds", round))
			break
		}

		result.Continuations++
		c.logger.Debug("response truncated, continuing",
			slog.String("provider", c.provider.Name()),
			slog.Int("round", result.Continuations))

		msgs = append(msgs,
			Message{Role: MessageRoleAssistant, Content: full.String()},
			Message{Role: MessageRoleUser, Content: ContinuePrompt},
		)
	}

	result.Text = full.String()
	return result, nil
}

// consumeStream drains one provider stream and returns the concatenated
// content plus the finish reason of the round. Reasoning deltas are dropped.
func (c *Client) consumeStream(ctx context.Context, req CompletionRequest) (string, FinishReason, error) {
	chunks, err := c.provider.Stream(ctx, req)
	if err != nil {
		return "", "", err
	}

	var content strings.Builder
	var reason FinishReason

	for chunk := range chunks {
		if chunk.Error != nil {
			if errors.IsCancelled(chunk.Error) {
				return "", "", chunk.Error
			}
			return "", "", &errors.ProviderError{
				Provider:  c.provider.Name(),
				Message:   fmt.Sprintf("streaming failed: %v", chunk.Error),
				RequestID: chunk.RequestID,
				Cause:     chunk.Error,
			}
		}
		content.WriteString(chunk.Delta.Content)
		if chunk.FinishReason != "" {
			reason = chunk.FinishReason
		}
	}

	// A stream that closed without any finish reason is a malformed payload.
	if reason == "" {
		return "", "", &errors.ProviderError{
			Provider: c.provider.Name(),
			Message:  "stream ended without a finish reason",
		}
	}

	return content.String(), reason, nil
}
