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

// Package daemon wires the engine components into the long-running
// process: providers, executor, scheduler, stores, metrics, and the HTTP
// control surface.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/codelift/codelift/internal/config"
	"github.com/codelift/codelift/internal/configstore"
	"github.com/codelift/codelift/internal/content"
	"github.com/codelift/codelift/internal/daemon/api"
	"github.com/codelift/codelift/internal/task"
	"github.com/codelift/codelift/pkg/llm"
	"github.com/codelift/codelift/pkg/llm/providers"
	"github.com/codelift/codelift/pkg/workflow"
)

// Options carries build metadata into the daemon.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the assembled process.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	scheduler *task.Scheduler
	metrics   *Metrics
	server    *http.Server
}

// New assembles a daemon from the resolved configuration. Endpoints
// without credentials are simply not registered; a step naming one fails
// at execution with a clear message rather than at startup.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	contentStore := content.NewStore()
	configs := configstore.NewStore(cfg.ConfigsDir)
	metrics := NewMetrics()

	generators := make(map[workflow.Endpoint]workflow.Generator)
	var relay llm.Provider

	if cfg.ChatAPIURL != "" {
		provider, err := providers.NewChatRelayProvider(cfg.ChatAPIURL)
		if err != nil {
			return nil, err
		}
		relay = provider
		generators[workflow.EndpointChatRelay] = newGenerationClient(provider, cfg, logger)
	}

	if cfg.Qianwen.Configured() {
		provider, err := providers.NewOpenAICompatProvider(providers.OpenAICompatConfig{
			Name:    "qianwen",
			APIKey:  cfg.Qianwen.APIKey,
			BaseURL: cfg.Qianwen.APIBase,
			Model:   cfg.Qianwen.Model,
		})
		if err != nil {
			return nil, err
		}
		generators[workflow.EndpointQianwen] = newGenerationClient(provider, cfg, logger)
	}

	if cfg.Deepseek.Configured() {
		provider, err := providers.NewOpenAICompatProvider(providers.OpenAICompatConfig{
			Name:    "deepseek",
			APIKey:  cfg.Deepseek.APIKey,
			BaseURL: cfg.Deepseek.APIBase,
			Model:   cfg.Deepseek.Model,
		})
		if err != nil {
			return nil, err
		}
		generators[workflow.EndpointDeepseek] = newGenerationClient(provider, cfg, logger)
	}

	executor := workflow.NewExecutor(contentStore, generators,
		workflow.WithExecutorLogger(logger))

	runner := task.NewRunner(executor,
		task.WithPause(cfg.InterWorkflowPause),
		task.WithRunnerLogger(logger))

	scheduler := task.NewScheduler(runner, task.SchedulerConfig{
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		InterTaskPause:     cfg.InterTaskPause,
	}, task.WithSchedulerLogger(logger), task.WithMetrics(metrics))

	router := api.NewRouter(api.RouterConfig{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
	}, logger)
	router.SetRequestRecorder(metrics)
	router.SetMetricsHandler(metrics.Handler())

	apiServer := api.NewServer(contentStore, configs, scheduler, executor, relay, logger)
	apiServer.Register(router)

	return &Daemon{
		cfg:       cfg,
		logger:    logger,
		scheduler: scheduler,
		metrics:   metrics,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// newGenerationClient wraps a provider with retries and the continuation
// driver.
func newGenerationClient(provider llm.Provider, cfg *config.Config, logger *slog.Logger) *llm.Client {
	retryable := llm.NewRetryableProvider(provider, llm.DefaultRetryConfig())
	return llm.NewClient(retryable,
		llm.WithMaxContinuations(cfg.MaxContinuations),
		llm.WithLogger(logger))
}

// Start binds the listener and serves until the context is cancelled or
// the server fails. A bind failure is returned immediately.
func (d *Daemon) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", d.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", d.server.Addr, err)
	}

	d.logger.Info("daemon listening", slog.String("addr", d.server.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops every running task and drains the HTTP server.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.logger.Info("shutting down")
	d.scheduler.StopAll()
	return d.server.Shutdown(ctx)
}

// Scheduler exposes the scheduler for tests and embedding.
func (d *Daemon) Scheduler() *task.Scheduler {
	return d.scheduler
}
