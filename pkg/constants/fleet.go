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

package constants

import "time"

const (
	// WorkerStartStagger is the delay between two worker starts of the same fleet.
	// All workers share the same hardware (USB dongles, the engine license server),
	// starting them back to back makes the engine initialisation fail randomly.
	WorkerStartStagger = 5 * time.Second

	// SupervisorPollInterval is how often the supervisor checks worker liveness
	// and the failure queue while the fleet is running.
	// Every check walks all workers, keep this well above the request latency.
	SupervisorPollInterval = 2 * time.Second

	// WatchdogPollInterval is how often the watchdog compares the idle time of
	// every registered worker against the idle timeout.
	WatchdogPollInterval = 5 * time.Second

	// WorkerShutdownTimeout bounds the graceful shutdown of a worker endpoint.
	// Requests still running afterwards are cut off by closing the server.
	WorkerShutdownTimeout = 10 * time.Second

	// FleetTeardownTimeout bounds how long the supervisor waits for all workers
	// of a fleet to stop before it continues with recovery or exit.
	FleetTeardownTimeout = 30 * time.Second

	// RestartBackoffInitial is the first delay between recovery and the next fleet start
	RestartBackoffInitial = 1 * time.Second

	// RestartBackoffMax caps the delay between consecutive fleet restarts
	RestartBackoffMax = 2 * time.Minute

	// HealthyFleetDuration is the uptime after which a fleet counts as healthy
	// and the restart backoff starts from RestartBackoffInitial again.
	HealthyFleetDuration = 10 * time.Minute

	// EngineStopTimeout is how long a terminated engine child process may take
	// to exit after SIGTERM before it is killed.
	EngineStopTimeout = 5 * time.Second
)

const (
	// DefaultWorkerPort is used when no listener port is configured
	DefaultWorkerPort = 65000

	// MinWorkerPort and MaxWorkerPort delimit the dynamic/private port range
	// that worker endpoints are allowed to bind to.
	MinWorkerPort = 49152
	MaxWorkerPort = 65535

	// WorkerLogFilePrefix and WorkerLogFileSuffix form the per-port log file name
	WorkerLogFilePrefix = "fleetguard_"
	WorkerLogFileSuffix = ".log"
)
