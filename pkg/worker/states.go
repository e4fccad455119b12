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

package worker

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/fleetguard/pkg/metrics"
)

// Worker states
const (
	// StateStarting is the state until the endpoint listens and the engine exists
	StateStarting = "starting"
	// StateRunning means the endpoint accepts requests
	StateRunning = "running"
	// StateTerminating means termination was requested and the endpoint is shutting down
	StateTerminating = "terminating"
	// StateStopped is final, the serve loop returned and the engine was shut down
	StateStopped = "stopped"
)

// Worker events
const (
	EventStarted     = "started"
	EventStartFailed = "start_failed"
	EventTerminate   = "terminate"
	EventStopped     = "stopped"
)

func newLifecycle(port int, log *zap.SugaredLogger) *fsm.FSM {
	metrics.UpdateWorkerState(port, StateStarting)

	return fsm.NewFSM(
		StateStarting,
		fsm.Events{
			{Name: EventStarted, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: EventStartFailed, Src: []string{StateStarting}, Dst: StateStopped},
			{Name: EventTerminate, Src: []string{StateStarting, StateRunning}, Dst: StateTerminating},
			{Name: EventStopped, Src: []string{StateTerminating}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugf("Worker on port %d: %s -> %s", port, e.Src, e.Dst)
				metrics.UpdateWorkerState(port, e.Dst)
			},
		},
	)
}
