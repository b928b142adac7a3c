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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codelift/codelift/internal/config"
	"github.com/codelift/codelift/internal/content"
	"github.com/codelift/codelift/pkg/llm"
	"github.com/codelift/codelift/pkg/llm/providers"
	"github.com/codelift/codelift/pkg/workflow"
)

func newRunCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow.json>",
		Short: "Execute one workflow from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(flags.settingsPath, args[0])
		},
	}
	return cmd
}

func runWorkflow(settingsPath, workflowPath string) error {
	cfg, err := config.Load(settingsPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(workflowPath)
	if err != nil {
		return fmt.Errorf("failed to read workflow: %w", err)
	}

	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("failed to parse workflow: %w", err)
	}

	executor, err := buildExecutor(cfg)
	if err != nil {
		return err
	}

	run, err := workflow.NewRun(&wf, executor, workflow.WithProgress(func(p float64) {
		fmt.Fprintf(os.Stderr, "progress: %.0f%%\n", p*100)
	}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ok, err := run.Execute(ctx)
	if err != nil {
		return err
	}

	for _, view := range run.Snapshot() {
		line := fmt.Sprintf("%-12s %s", view.Status, view.ID)
		if view.Result != nil && view.Result.Data != nil {
			line += "  " + view.Result.Data.Path
		}
		fmt.Println(line)
	}

	if !ok {
		return fmt.Errorf("workflow finished with failures")
	}
	return nil
}

// buildExecutor assembles the step executor from the configured endpoints.
func buildExecutor(cfg *config.Config) (*workflow.Executor, error) {
	generators := make(map[workflow.Endpoint]workflow.Generator)

	newClient := func(p llm.Provider) *llm.Client {
		return llm.NewClient(
			llm.NewRetryableProvider(p, llm.DefaultRetryConfig()),
			llm.WithMaxContinuations(cfg.MaxContinuations),
			llm.WithLogger(slog.Default()))
	}

	if cfg.ChatAPIURL != "" {
		p, err := providers.NewChatRelayProvider(cfg.ChatAPIURL)
		if err != nil {
			return nil, err
		}
		generators[workflow.EndpointChatRelay] = newClient(p)
	}
	if cfg.Qianwen.Configured() {
		p, err := providers.NewOpenAICompatProvider(providers.OpenAICompatConfig{
			Name: "qianwen", APIKey: cfg.Qianwen.APIKey, BaseURL: cfg.Qianwen.APIBase, Model: cfg.Qianwen.Model,
		})
		if err != nil {
			return nil, err
		}
		generators[workflow.EndpointQianwen] = newClient(p)
	}
	if cfg.Deepseek.Configured() {
		p, err := providers.NewOpenAICompatProvider(providers.OpenAICompatConfig{
			Name: "deepseek", APIKey: cfg.Deepseek.APIKey, BaseURL: cfg.Deepseek.APIBase, Model: cfg.Deepseek.Model,
		})
		if err != nil {
			return nil, err
		}
		generators[workflow.EndpointDeepseek] = newClient(p)
	}

	return workflow.NewExecutor(content.NewStore(), generators), nil
}
