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

package supervisor

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/fleetguard/pkg/metrics"
)

// Supervisor states
const (
	StateInitializing = "initializing"
	StateFleetRunning = "fleet_running"
	StateDraining     = "draining"
	StateRecovering   = "recovering"
	StateTerminated   = "terminated"
)

// Supervisor events
const (
	EventFleetStarted = "fleet_started"
	EventDrain        = "drain"
	EventRecover      = "recover"
	EventRestart      = "restart"
	EventTerminate    = "terminate"
)

func newLifecycle(log *zap.SugaredLogger) *fsm.FSM {
	metrics.UpdateSupervisorState(StateInitializing)

	return fsm.NewFSM(
		StateInitializing,
		fsm.Events{
			{Name: EventFleetStarted, Src: []string{StateInitializing}, Dst: StateFleetRunning},
			{Name: EventDrain, Src: []string{StateInitializing, StateFleetRunning}, Dst: StateDraining},
			{Name: EventRecover, Src: []string{StateDraining}, Dst: StateRecovering},
			{Name: EventRestart, Src: []string{StateRecovering}, Dst: StateInitializing},
			{Name: EventTerminate, Src: []string{StateDraining, StateRecovering}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugf("Supervisor: %s -> %s", e.Src, e.Dst)
				metrics.UpdateSupervisorState(e.Dst)
			},
		},
	)
}
