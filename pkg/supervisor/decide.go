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

import "github.com/united-manufacturing-hub/fleetguard/pkg/constants"

// DecisionInput is everything the supervisor knows once a fleet is drained.
type DecisionInput struct {
	// Cause is the aggregated failure text, empty if the fleet stopped without failure.
	Cause             string
	RecoveryEnabled   bool
	WatchdogFired     bool
	Interrupted       bool
	ShutdownRequested bool
}

// Decision is where a drained supervisor goes next.
type Decision struct {
	// Next is StateRecovering or StateTerminated.
	Next string
	// ExitCode is only meaningful when Next is StateTerminated.
	ExitCode int
}

// Decide chooses between recovery and termination. An interrupt wins over
// everything, a graceful shutdown over any failure. A failure is recovered
// when recovery is enabled or the watchdog fired, otherwise it is fatal.
func Decide(in DecisionInput) Decision {
	switch {
	case in.Interrupted:
		return Decision{Next: StateTerminated, ExitCode: constants.ExitCodeInterrupted}
	case in.ShutdownRequested:
		return Decision{Next: StateTerminated, ExitCode: constants.ExitCodeSuccess}
	case in.Cause == "" && !in.WatchdogFired:
		// nothing failed, nothing to recover from
		return Decision{Next: StateTerminated, ExitCode: constants.ExitCodeSuccess}
	case in.RecoveryEnabled || in.WatchdogFired:
		return Decision{Next: StateRecovering}
	default:
		return Decision{Next: StateTerminated, ExitCode: constants.ExitCodeFatal}
	}
}
