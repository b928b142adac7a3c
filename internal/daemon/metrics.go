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

package daemon

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codelift/codelift/internal/task"
)

// Metrics holds the daemon's prometheus collectors. It implements
// task.MetricsCollector so the scheduler can report lifecycle events.
type Metrics struct {
	registry *prometheus.Registry

	tasksStarted   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	taskDuration   prometheus.Histogram
	runningTasks   prometheus.Gauge
	httpRequests   *prometheus.CounterVec
}

// NewMetrics creates and registers the daemon's collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codelift_tasks_started_total",
			Help: "Number of tasks admitted for execution.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codelift_tasks_completed_total",
			Help: "Number of finished tasks by terminal status.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codelift_task_duration_seconds",
			Help:    "Wall-clock task execution time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		runningTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codelift_running_tasks",
			Help: "Tasks currently executing.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codelift_http_requests_total",
			Help: "Control API requests by method and request path.",
		}, []string{"method", "path"}),
	}

	registry.MustRegister(
		m.tasksStarted,
		m.tasksCompleted,
		m.taskDuration,
		m.runningTasks,
		m.httpRequests,
	)
	return m
}

// RecordTaskStart implements task.MetricsCollector.
func (m *Metrics) RecordTaskStart(taskID string) {
	m.tasksStarted.Inc()
}

// RecordTaskComplete implements task.MetricsCollector.
func (m *Metrics) RecordTaskComplete(taskID string, status task.Status, duration time.Duration) {
	m.tasksCompleted.WithLabelValues(string(status)).Inc()
	m.taskDuration.Observe(duration.Seconds())
}

// SetRunningTasks implements task.MetricsCollector.
func (m *Metrics) SetRunningTasks(count int) {
	m.runningTasks.Set(float64(count))
}

// RecordRequest counts one control API request.
func (m *Metrics) RecordRequest(method, path string) {
	m.httpRequests.WithLabelValues(method, path).Inc()
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
