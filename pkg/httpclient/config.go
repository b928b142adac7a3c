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

package httpclient

import (
	"fmt"
	"time"
)

// Config configures the HTTP client with timeout and observability settings.
type Config struct {
	// Timeout is the total request timeout.
	// Default: 30s. Must be > 0. It covers the whole exchange including the
	// body read, unless DisableBodyTimeout is set.
	Timeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers. This is
	// the effective deadline for streaming requests whose bodies are read
	// incrementally. Default: equal to Timeout.
	ResponseHeaderTimeout time.Duration

	// UserAgent is the User-Agent header value.
	// Required. Must be non-empty.
	UserAgent string

	// DisableBodyTimeout removes the client-level timeout so long-lived
	// streaming bodies (SSE) are not cut off mid-stream.
	DisableBodyTimeout bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "codelift-http-client/1.0",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}

	if c.ResponseHeaderTimeout < 0 {
		return fmt.Errorf("response_header_timeout must be >= 0, got %v", c.ResponseHeaderTimeout)
	}

	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}

	return nil
}
