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

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/fleetguard/pkg/config"
	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/logger"
	"github.com/united-manufacturing-hub/fleetguard/pkg/rpc"
)

// Method names served by CommandEngine.
const (
	MethodRunTestCase  = "run_test_case"
	MethodStopTestCase = "stop_test_case"
	MethodEngineStatus = "engine_status"

	// EventTestCaseFinished is sent to the callback after every test case.
	EventTestCaseFinished = "test_case_finished"
)

var (
	// ErrBusy is returned when a test case is started while another one runs.
	ErrBusy = errors.New("a test case is already running")
	// ErrNoEngineCommand is returned by the factory when no command is configured.
	ErrNoEngineCommand = errors.New("no engine command configured")
)

// RunResult is the outcome of one test case.
type RunResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// Status describes the engine for engine_status.
type Status struct {
	LastActivity time.Time `json:"lastActivity"`
	Running      bool      `json:"running"`
	Port         int       `json:"port"`
}

// CommandEngine runs the configured engine executable once per test case,
// each run in its own process group.
type CommandEngine struct {
	lastActivity time.Time
	callback     Callback
	running      *exec.Cmd
	done         chan struct{}
	log          *zap.SugaredLogger
	path         string
	cfg          config.EngineConfig
	port         int
	mu           sync.Mutex
}

// NewCommandFactory returns a Factory creating CommandEngines for cfg.
// The factory fails when the command cannot be resolved.
func NewCommandFactory(cfg config.EngineConfig) Factory {
	return func(_ context.Context, port int) (Engine, error) {
		return NewCommandEngine(cfg, port)
	}
}

// NewCommandEngine resolves the engine command and creates the engine for port.
func NewCommandEngine(cfg config.EngineConfig, port int) (*CommandEngine, error) {
	if cfg.Command == "" {
		return nil, ErrNoEngineCommand
	}

	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve engine command %s: %w", cfg.Command, err)
	}

	return &CommandEngine{
		cfg:          cfg,
		path:         path,
		port:         port,
		lastActivity: time.Now(),
		log:          logger.For(fmt.Sprintf("%s.%d", logger.ComponentEngine, port)),
	}, nil
}

func (e *CommandEngine) LastActivity() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastActivity
}

func (e *CommandEngine) RegisterCallback(_ context.Context, cb Callback) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.callback = cb

	return nil
}

func (e *CommandEngine) UnregisterCallback() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.callback = nil
}

// Shutdown stops a running test case.
func (e *CommandEngine) Shutdown(ctx context.Context) error {
	e.UnregisterCallback()

	_, err := e.Stop(ctx)

	return err
}

// Run executes one test case and blocks until it finished. Only a test case
// that actually started counts as activity.
func (e *CommandEngine) Run(ctx context.Context, project, testCase string) (RunResult, error) {
	args := append(append([]string(nil), e.cfg.Args...), project, testCase)

	var output bytes.Buffer

	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Stdout = &output
	cmd.Stderr = &output
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return signalGroup(cmd, true) }
	cmd.WaitDelay = constants.EngineStopTimeout

	e.mu.Lock()
	if e.running != nil {
		e.mu.Unlock()

		return RunResult{}, ErrBusy
	}

	if err := cmd.Start(); err != nil {
		e.mu.Unlock()

		return RunResult{}, fmt.Errorf("failed to start test case %s/%s: %w", project, testCase, err)
	}

	done := make(chan struct{})
	e.running = cmd
	e.done = done
	e.lastActivity = time.Now()
	e.mu.Unlock()

	e.log.Infof("Running test case %s/%s (pid %d)", project, testCase, cmd.Process.Pid)

	waitErr := cmd.Wait()
	close(done)

	e.mu.Lock()
	e.running = nil
	e.done = nil
	cb := e.callback
	e.mu.Unlock()

	result := RunResult{Output: output.String(), ExitCode: cmd.ProcessState.ExitCode()}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return result, fmt.Errorf("test case %s/%s failed: %w", project, testCase, waitErr)
	}

	e.log.Infof("Test case %s/%s finished with exit code %d", project, testCase, result.ExitCode)

	if cb != nil {
		if err := cb.Notify(ctx, EventTestCaseFinished, project, testCase, result.ExitCode); err != nil {
			e.log.Warnf("Failed to notify callback about %s/%s: %v", project, testCase, err)
		}
	}

	return result, nil
}

// Stop terminates a running test case: SIGTERM to its process group, then
// SIGKILL once constants.EngineStopTimeout passed. Reports whether anything ran.
func (e *CommandEngine) Stop(ctx context.Context) (bool, error) {
	e.mu.Lock()
	cmd, done := e.running, e.done
	e.mu.Unlock()

	if cmd == nil {
		return false, nil
	}

	if err := signalGroup(cmd, false); err != nil {
		e.log.Debugf("Failed to terminate test case process group: %v", err)
	}

	timer := time.NewTimer(constants.EngineStopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return true, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := signalGroup(cmd, true); err != nil {
		return true, fmt.Errorf("failed to kill test case process group: %w", err)
	}

	return true, nil
}

// Status returns the current engine status.
func (e *CommandEngine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Status{Running: e.running != nil, LastActivity: e.lastActivity, Port: e.port}
}

func (e *CommandEngine) Methods() map[string]rpc.Method {
	return map[string]rpc.Method{
		MethodRunTestCase: {
			Help: "run_test_case(project, testCase): runs a test case and returns {exitCode, output}.",
			Call: func(ctx context.Context, params rpc.Params) (any, error) {
				if err := params.Expect(2); err != nil {
					return nil, err
				}

				project, err := params.String(0)
				if err != nil {
					return nil, err
				}

				testCase, err := params.String(1)
				if err != nil {
					return nil, err
				}

				return e.Run(ctx, project, testCase)
			},
		},
		MethodStopTestCase: {
			Help: "stop_test_case(): terminates the running test case, returns whether one was running.",
			Call: func(ctx context.Context, _ rpc.Params) (any, error) {
				return e.Stop(ctx)
			},
		},
		MethodEngineStatus: {
			Help: "engine_status(): returns {running, lastActivity, port}.",
			Call: func(context.Context, rpc.Params) (any, error) {
				return e.Status(), nil
			},
		},
	}
}
