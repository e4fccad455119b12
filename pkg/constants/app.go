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

const (
	// DefaultAppVersion is the version of local builds that were not built with ldflags
	DefaultAppVersion = "0.0.0-dev"

	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"

	// EnvPrefix prefixes every environment variable read by the configuration
	EnvPrefix = "FLEETGUARD_"
)

// Process exit codes.
const (
	ExitCodeSuccess = 0

	// ExitCodeInvalidConfig is returned before any worker was started
	ExitCodeInvalidConfig = 1

	// ExitCodeInterrupted is returned after a user interrupt (Ctrl-C)
	ExitCodeInterrupted = 14

	// ExitCodeFatal is returned when a fleet failed and recovery is not allowed
	ExitCodeFatal = 16
)
