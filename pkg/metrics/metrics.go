// Copyright 2025 UMH Systems GmbH
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

package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/united-manufacturing-hub/fleetguard/pkg/logger"
	"github.com/united-manufacturing-hub/fleetguard/pkg/sentry"
)

const (
	// Component Labels.
	ComponentSupervisor = "supervisor"
	ComponentWatchdog   = "watchdog"
	ComponentRecovery   = "recovery"
	ComponentWorker     = "worker"
	ComponentEngine     = "engine"
	ComponentFilesystem = "filesystem"
)

var (
	namespace = "umh"
	subsystem = "fleetguard"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	workerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_requests_total",
			Help:      "RPC requests served by worker port and method",
		},
		[]string{"port", "method"},
	)

	workerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_state",
			Help:      "Current state of the worker (0=Stopped, 1=Starting, 2=Running, 3=Terminating, -1=Unknown)",
		},
		[]string{"port"},
	)

	supervisorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "supervisor_state",
			Help:      "Current supervisor state (0=Initializing, 1=FleetRunning, 2=Draining, 3=Recovering, 4=Terminated, -1=Unknown)",
		},
	)

	fleetFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fleet_failures_total",
			Help:      "Failures that tore down a fleet, by failure kind",
		},
		[]string{"kind"},
	)

	fleetRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fleet_restarts_total",
			Help:      "Number of fleet restarts after recovery",
		},
	)

	watchdogFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "watchdog_fired_total",
			Help:      "Number of times the whole fleet was idle past the timeout",
		},
	)

	recoveryRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovery_runs_total",
			Help:      "Number of recovery sequences executed",
		},
	)

	recoveryStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovery_step_failures_total",
			Help:      "Recovery steps that failed, by step name",
		},
		[]string{"step"},
	)

	recoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovery_duration_seconds",
			Help:      "Duration of a complete recovery sequence in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 7.5, 10, 15, 30, 60, 120},
		},
	)

	filesystemOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "filesystem_ops_total",
			Help:      "Total number of filesystem operations by type and status",
		},
		[]string{"operation", "status"},
	)

	filesystemOpsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "filesystem_ops_duration_seconds",
			Help:      "Duration of filesystem operations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics.
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For("metrics"))
		}
	}()

	return server
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// IncWorkerRequest counts one RPC request served by the worker on port.
func IncWorkerRequest(port int, method string) {
	workerRequests.WithLabelValues(strconv.Itoa(port), method).Inc()
}

// UpdateWorkerState records the lifecycle state of the worker on port.
func UpdateWorkerState(port int, state string) {
	workerState.WithLabelValues(strconv.Itoa(port)).Set(getWorkerStateValue(state))
}

func getWorkerStateValue(state string) float64 {
	switch state {
	case "stopped":
		return 0
	case "starting":
		return 1
	case "running":
		return 2
	case "terminating":
		return 3
	default:
		return -1
	}
}

// UpdateSupervisorState records the current supervisor state.
func UpdateSupervisorState(state string) {
	supervisorState.Set(getSupervisorStateValue(state))
}

func getSupervisorStateValue(state string) float64 {
	switch state {
	case "initializing":
		return 0
	case "fleet_running":
		return 1
	case "draining":
		return 2
	case "recovering":
		return 3
	case "terminated":
		return 4
	default:
		return -1
	}
}

// IncFleetFailure counts a failure that tore down a fleet.
func IncFleetFailure(kind string) {
	fleetFailures.WithLabelValues(kind).Inc()
}

func IncFleetRestart() {
	fleetRestarts.Inc()
}

func IncWatchdogFired() {
	watchdogFired.Inc()
}

// ObserveRecovery records one complete recovery sequence.
func ObserveRecovery(duration time.Duration) {
	recoveryRuns.Inc()
	recoveryDuration.Observe(duration.Seconds())
}

func IncRecoveryStepFailure(step string) {
	recoveryStepFailures.WithLabelValues(step).Inc()
}

// RecordFilesystemOp records a filesystem operation metric.
func RecordFilesystemOp(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}

	filesystemOpsTotal.WithLabelValues(operation, status).Inc()
	filesystemOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
