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

// Package config holds the process configuration: a closed, enumerated set
// of fields resolved once at startup. The engine receives this struct at
// construction and never reads the environment per call.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codelift/codelift/pkg/errors"
)

// ModelConfig configures one direct-streaming model endpoint.
type ModelConfig struct {
	APIKey  string `yaml:"api_key"`
	APIBase string `yaml:"api_base"`
	Model   string `yaml:"model"`
}

// Configured reports whether the endpoint has the minimum to be usable.
func (m ModelConfig) Configured() bool {
	return m.APIKey != "" && m.APIBase != "" && m.Model != ""
}

// Config is the full process configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// ConfigsDir is where the configuration documents live.
	ConfigsDir string `yaml:"configs_dir"`

	// Qianwen is the default direct-streaming endpoint.
	Qianwen ModelConfig `yaml:"qianwen"`

	// Deepseek is the coder direct-streaming endpoint.
	Deepseek ModelConfig `yaml:"deepseek"`

	// ChatAPIURL is the chat relay endpoint.
	ChatAPIURL string `yaml:"chat_api_url"`

	// GenerateReactAPIURL is the relay endpoint for the react pass-through.
	GenerateReactAPIURL string `yaml:"generate_react_api_url"`

	// MaxConcurrentTasks bounds the scheduler's pool.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// MaxContinuations bounds LLM continuation rounds per generation.
	MaxContinuations int `yaml:"max_continuations"`

	// InterWorkflowPause is the pause between a task's workflows.
	InterWorkflowPause time.Duration `yaml:"inter_workflow_pause"`

	// InterTaskPause is the pause between a batch worker's tasks.
	InterTaskPause time.Duration `yaml:"inter_task_pause"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Port:               3001,
		ConfigsDir:         "configs",
		MaxConcurrentTasks: 6,
		MaxContinuations:   8,
		InterWorkflowPause: 500 * time.Millisecond,
		InterTaskPause:     200 * time.Millisecond,
	}
}

// Load builds the configuration: defaults, then the optional YAML settings
// file, then environment variables (highest precedence).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile layers a YAML settings file over the current values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // settings file is optional
		}
		return &errors.ConfigError{Key: path, Reason: "read failed", Cause: err}
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return &errors.ConfigError{Key: path, Reason: "malformed YAML", Cause: err}
	}
	return nil
}

// applyEnv layers the environment variables of the closed set:
//
//	OPENAI_API_KEY, OPENAI_API_BASE, OPENAI_MODEL             (qianwen)
//	OPENAI_API_KEY_CODER, OPENAI_API_BASE_CODER, OPENAI_MODEL_CODER (deepseek)
//	CHAT_API_URL, GENERATE_REACT_API_URL, PORT
func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.Qianwen.APIKey, "OPENAI_API_KEY")
	setString(&c.Qianwen.APIBase, "OPENAI_API_BASE")
	setString(&c.Qianwen.Model, "OPENAI_MODEL")

	setString(&c.Deepseek.APIKey, "OPENAI_API_KEY_CODER")
	setString(&c.Deepseek.APIBase, "OPENAI_API_BASE_CODER")
	setString(&c.Deepseek.Model, "OPENAI_MODEL_CODER")

	setString(&c.ChatAPIURL, "CHAT_API_URL")
	setString(&c.GenerateReactAPIURL, "GENERATE_REACT_API_URL")

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &errors.ConfigError{Key: "port", Reason: "must be between 1 and 65535"}
	}
	if c.ConfigsDir == "" {
		return &errors.ConfigError{Key: "configs_dir", Reason: "must not be empty"}
	}
	if c.MaxConcurrentTasks <= 0 {
		return &errors.ConfigError{Key: "max_concurrent_tasks", Reason: "must be positive"}
	}
	if c.MaxContinuations <= 0 {
		return &errors.ConfigError{Key: "max_continuations", Reason: "must be positive"}
	}
	return nil
}
