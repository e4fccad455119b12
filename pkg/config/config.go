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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/portmanager"
)

// Config is the complete configuration of one supervisor process.
type Config struct {
	// Ports are the listener ports, one worker each.
	Ports []int `yaml:"ports"`

	// Recovery allows recovering and restarting the fleet after any failure.
	// Without it only a watchdog timeout leads to recovery.
	Recovery bool `yaml:"recovery"`

	// SuperguardMinutes is the fleet idle timeout in minutes, 0 disables the watchdog.
	SuperguardMinutes float64 `yaml:"superguardMinutes"`

	// HardwarePorts are the power switch downstream ports that get power-cycled during recovery.
	HardwarePorts []string `yaml:"hardwarePorts"`

	PowerSwitchCommand string   `yaml:"powerSwitchCommand"`
	EngineProcessNames []string `yaml:"engineProcessNames"`

	WorkspacesDir  string `yaml:"workspacesDir"`
	TempFilePrefix string `yaml:"tempFilePrefix"`
	TempFileSuffix string `yaml:"tempFileSuffix"`
	CleanupDepth   int    `yaml:"cleanupDepth"`

	// LogDir receives one log file per worker port, empty disables file logging.
	LogDir string `yaml:"logDir"`

	// MetricsPort serves prometheus metrics, 0 disables the endpoint.
	MetricsPort int `yaml:"metricsPort"`

	// RecoveryLockFile serializes recoveries of several supervisors on one host.
	RecoveryLockFile string `yaml:"recoveryLockFile"`

	SentryDSN string `yaml:"sentryDSN"`

	Engine EngineConfig `yaml:"engine"`
}

// EngineConfig describes the engine executable a worker drives.
type EngineConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"workDir"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	workspaces := "workspaces"
	if cwd, err := os.Getwd(); err == nil {
		workspaces = filepath.Join(cwd, "workspaces")
	}

	powerSwitch := constants.DefaultPowerSwitchCommand
	if runtime.GOOS == "windows" {
		powerSwitch += ".exe"
	}

	return Config{
		Ports:              []int{constants.DefaultWorkerPort},
		PowerSwitchCommand: powerSwitch,
		EngineProcessNames: append([]string(nil), constants.DefaultEngineProcessNames...),
		WorkspacesDir:      workspaces,
		TempFilePrefix:     constants.DefaultTempFilePrefix,
		TempFileSuffix:     constants.DefaultTempFileSuffix,
		CleanupDepth:       constants.DefaultCleanupDepth,
	}
}

// Load reads the YAML file at path on top of Default().
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// IdleTimeout is the watchdog threshold derived from SuperguardMinutes.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.SuperguardMinutes * float64(time.Minute))
}

// Validate checks the configuration before any worker is started.
func (c Config) Validate() error {
	var errs []error

	if err := portmanager.ValidatePorts(c.Ports); err != nil {
		errs = append(errs, err)
	}

	// without an engine every worker fails to start and the fleet never comes up
	if strings.TrimSpace(c.Engine.Command) == "" {
		errs = append(errs, errors.New("engine.command is required"))
	}

	if c.SuperguardMinutes < 0 {
		errs = append(errs, fmt.Errorf("superguard must not be negative, got %v", c.SuperguardMinutes))
	}

	if c.CleanupDepth < 1 {
		errs = append(errs, fmt.Errorf("cleanupDepth must be at least 1, got %d", c.CleanupDepth))
	}

	if c.MetricsPort < 0 || c.MetricsPort > constants.MaxWorkerPort {
		errs = append(errs, fmt.Errorf("invalid metrics port %d", c.MetricsPort))
	}

	if len(c.HardwarePorts) > 0 && c.PowerSwitchCommand == "" {
		errs = append(errs, errors.New("hardwarePorts require a powerSwitchCommand"))
	}

	return errors.Join(errs...)
}

// Clone returns a deep copy, workers get their own copy so nothing they
// touch leaks into the configuration of their siblings.
func (c Config) Clone() (Config, error) {
	var dst Config
	if err := deepcopy.Copy(&dst, &c); err != nil {
		return Config{}, fmt.Errorf("failed to copy config: %w", err)
	}

	return dst, nil
}
