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

package config

import (
	"fmt"

	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/env"
)

// Environment variables that override the configuration file.
const (
	EnvPorts            = constants.EnvPrefix + "PORTS"
	EnvRecovery         = constants.EnvPrefix + "RECOVERY"
	EnvSuperguard       = constants.EnvPrefix + "SUPERGUARD_MINUTES"
	EnvHardwarePorts    = constants.EnvPrefix + "YKUSH_PORTS"
	EnvEngineCommand    = constants.EnvPrefix + "ENGINE_COMMAND"
	EnvWorkspacesDir    = constants.EnvPrefix + "WORKSPACES_DIR"
	EnvLogDir           = constants.EnvPrefix + "LOG_DIR"
	EnvMetricsPort      = constants.EnvPrefix + "METRICS_PORT"
	EnvRecoveryLockFile = constants.EnvPrefix + "RECOVERY_LOCK"
	EnvSentryDSN        = constants.EnvPrefix + "SENTRY_DSN"
)

// LoadConfigWithEnvOverrides loads the file at path and applies the
// environment overrides on top of it.
func LoadConfigWithEnvOverrides(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}

	return ApplyEnvOverrides(cfg)
}

// ApplyEnvOverrides returns cfg with every set FLEETGUARD_* variable applied.
func ApplyEnvOverrides(cfg Config) (Config, error) {
	var err error

	if cfg.Ports, err = env.GetAsIntList(EnvPorts, false, cfg.Ports); err != nil {
		return Config{}, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if cfg.Recovery, err = env.GetAsBool(EnvRecovery, false, cfg.Recovery); err != nil {
		return Config{}, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if cfg.SuperguardMinutes, err = env.GetAsFloat(EnvSuperguard, false, cfg.SuperguardMinutes); err != nil {
		return Config{}, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if cfg.HardwarePorts, err = env.GetAsList(EnvHardwarePorts, false, cfg.HardwarePorts); err != nil {
		return Config{}, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if cfg.MetricsPort, err = env.GetAsInt(EnvMetricsPort, false, cfg.MetricsPort); err != nil {
		return Config{}, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	stringOverrides := map[string]*string{
		EnvEngineCommand:    &cfg.Engine.Command,
		EnvWorkspacesDir:    &cfg.WorkspacesDir,
		EnvLogDir:           &cfg.LogDir,
		EnvRecoveryLockFile: &cfg.RecoveryLockFile,
		EnvSentryDSN:        &cfg.SentryDSN,
	}
	for key, target := range stringOverrides {
		if *target, err = env.GetAsString(key, false, *target); err != nil {
			return Config{}, fmt.Errorf("failed to apply env overrides: %w", err)
		}
	}

	return cfg, nil
}
