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
	// PowerOffSettleTime is how long the dongle stays unpowered during recovery
	PowerOffSettleTime = 5 * time.Second

	// PowerOnSettleTime gives the dongle time to enumerate after power comes back
	PowerOnSettleTime = 2 * time.Second

	// PowerCommandRetries is the number of retries for a failing power switch command
	PowerCommandRetries = 2

	// PowerCommandRetryInterval is the pause between two power switch command attempts
	PowerCommandRetryInterval = 500 * time.Millisecond

	// ProcessExitTimeout is how long a stray engine process may take to exit after SIGTERM
	ProcessExitTimeout = 5 * time.Second

	// RecoveryLockTimeout bounds waiting for another supervisor's recovery on the same host
	RecoveryLockTimeout = 2 * time.Minute

	// RecoveryLockRetryInterval is the polling interval while waiting for the recovery lock
	RecoveryLockRetryInterval = 250 * time.Millisecond

	// DefaultCleanupDepth is the number of directory levels (root included) scanned
	// for stale workspace artifacts.
	DefaultCleanupDepth = 4

	// DefaultTempFilePrefix and DefaultTempFileSuffix identify the temporary
	// workspace copies the engine leaves behind when it crashes.
	DefaultTempFilePrefix = "temp_"
	DefaultTempFileSuffix = ".pqw6"

	// DefaultPowerSwitchCommand is the YKUSH hub control binary
	DefaultPowerSwitchCommand = "ykushcmd"
)

// DefaultEngineProcessNames are the executables of the test engine that may
// survive a crashed worker and keep the dongle busy.
var DefaultEngineProcessNames = []string{"PTS.exe", "Fts.exe"}
