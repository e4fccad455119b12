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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/fleetguard/pkg/config"
	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/engine"
	"github.com/united-manufacturing-hub/fleetguard/pkg/logger"
	"github.com/united-manufacturing-hub/fleetguard/pkg/metrics"
	"github.com/united-manufacturing-hub/fleetguard/pkg/sentry"
	"github.com/united-manufacturing-hub/fleetguard/pkg/supervisor"
)

const metricsShutdownTimeout = 3 * time.Second

// errInvalidConfig marks errors that happen before any worker was started.
var errInvalidConfig = errors.New("invalid configuration")

type options struct {
	configFile    string
	engineCommand string
	workspaces    string
	logDir        string
	ykush         []string
	ports         []int
	superguard    float64
	metricsPort   int
	recovery      bool
}

// newRootCommand builds the CLI. runFleet receives the final configuration
// and its result becomes the process exit code.
func newRootCommand(runFleet func(config.Config) int, exitCode *int) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "fleetguard",
		Short: "Supervises a fleet of test engine workers",
		Long: `fleetguard runs one worker endpoint per port, each driving one test engine.

When the whole fleet goes idle for longer than --superguard minutes, or any
worker fails while --recovery is set, the fleet is torn down, stray engine
processes are killed, temporary workspace files are removed, the YKUSH ports
are power-cycled and a fresh fleet is started.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}

			*exitCode = runFleet(cfg)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	flags.IntSliceVarP(&opts.ports, "srv_port", "S", []int{constants.DefaultWorkerPort}, "worker listener ports, one worker each")
	flags.BoolVar(&opts.recovery, "recovery", false, "recover and restart the fleet after any failure")
	flags.Float64Var(&opts.superguard, "superguard", 0, "fleet idle timeout in minutes, 0 disables the watchdog")
	flags.StringSliceVar(&opts.ykush, "ykush", nil, "YKUSH ports to power-cycle during recovery")
	flags.StringVar(&opts.engineCommand, "engine-command", "", "executable that runs one test case")
	flags.StringVar(&opts.workspaces, "workspaces", "", "directory holding the test projects")
	flags.StringVar(&opts.logDir, "log-dir", "", "directory for the per port log files")
	flags.IntVar(&opts.metricsPort, "metrics-port", 0, "port of the prometheus endpoint, 0 disables it")

	return cmd
}

func versionString() string {
	if appVersion == "" {
		return constants.DefaultAppVersion
	}

	return appVersion
}

// loadConfig layers defaults, the config file, the environment and the
// explicitly set flags, in that order.
func loadConfig(flags *pflag.FlagSet, opts options) (config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(opts.configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	if flags.Changed("srv_port") {
		cfg.Ports = opts.ports
	}

	if flags.Changed("recovery") {
		cfg.Recovery = opts.recovery
	}

	if flags.Changed("superguard") {
		cfg.SuperguardMinutes = opts.superguard
	}

	if flags.Changed("ykush") {
		cfg.HardwarePorts = opts.ykush
	}

	if flags.Changed("engine-command") {
		cfg.Engine.Command = opts.engineCommand
	}

	if flags.Changed("workspaces") {
		cfg.WorkspacesDir = opts.workspaces
	}

	if flags.Changed("log-dir") {
		cfg.LogDir = opts.logDir
	}

	if flags.Changed("metrics-port") {
		cfg.MetricsPort = opts.metricsPort
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	return cfg, nil
}

func execute(args []string) int {
	logger.Initialize()
	defer func() {
		_ = logger.Sync()
	}()

	exitCode := constants.ExitCodeSuccess

	cmd := newRootCommand(run, &exitCode)
	cmd.SetArgs(args)

	// anything failing here failed before a worker was started
	if err := cmd.Execute(); err != nil {
		logger.For(logger.ComponentCore).Errorf("%v", err)

		return constants.ExitCodeInvalidConfig
	}

	return exitCode
}

// run supervises the fleet until a signal or a fatal failure.
func run(cfg config.Config) int {
	log := logger.For(logger.ComponentCore)

	sentry.InitSentry(versionString(), cfg.SentryDSN, true)
	gin.SetMode(gin.ReleaseMode)

	log.Infow("Starting fleetguard",
		"version", versionString(),
		"ports", cfg.Ports,
		"recovery", cfg.Recovery,
		"superguardMinutes", cfg.SuperguardMinutes,
		"hardwarePorts", cfg.HardwarePorts)

	if cfg.LogDir != "" {
		if removed, err := logger.RemoveStaleLogFiles(cfg.LogDir); err != nil {
			log.Warnf("Failed to remove old log files: %v", err)
		} else if removed > 0 {
			log.Debugf("Removed %d old log file(s)", removed)
		}
	}

	if cfg.MetricsPort > 0 {
		server := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.MetricsPort))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %w", err)
			}
		}()
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	stopSignals := handleSignals(cancel, log)
	defer stopSignals()

	sup := supervisor.New(cfg, engine.NewCommandFactory(cfg.Engine))

	return sup.Run(ctx)
}

// handleSignals cancels ctx with ErrInterrupted on SIGINT and ErrShutdown on SIGTERM.
func handleSignals(cancel context.CancelCauseFunc, log *zap.SugaredLogger) func() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		select {
		case sig := <-signals:
			log.Infof("Received %s, stopping the fleet", sig)

			if sig == os.Interrupt {
				cancel(supervisor.ErrInterrupted)
			} else {
				cancel(supervisor.ErrShutdown)
			}
		case <-done:
		}
	}()

	return func() {
		signal.Stop(signals)
		close(done)
	}
}
