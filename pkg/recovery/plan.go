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

// Package recovery restores the host to a runnable baseline between fleets.
//
// A recovery is a Plan, an ordered list of idempotent steps built fresh from
// configuration for every run, executed over SystemEffects. Step failures are
// logged and reported, never returned: recovery attempted is good enough.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/fleetguard/pkg/config"
	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/workspace"
)

// Step names
const (
	StepAcquireLock     = "acquire-lock"
	StepKillProcesses   = "kill-processes"
	StepRemoveTempFiles = "remove-temp-files"
	StepPowerCycle      = "power-cycle"
)

// Step is one idempotent recovery action.
type Step struct {
	Run  func(ctx context.Context, effects SystemEffects) error
	Name string
}

// Plan is the ordered list of steps of one recovery.
type Plan struct {
	Steps         []Step
	HardwarePorts []string
}

// NewPlan builds the recovery sequence for cfg: kill stray engine
// processes, remove temp files from the workspaces and, when hardwarePorts
// is not empty, power-cycle those ports.
func NewPlan(cfg config.Config, hardwarePorts []string) Plan {
	steps := []Step{
		KillProcessesStep(cfg.EngineProcessNames),
		RemoveTempFilesStep(cfg.WorkspacesDir, cfg.CleanupDepth, workspace.NameMatcher(cfg.TempFilePrefix, cfg.TempFileSuffix)),
	}

	if len(hardwarePorts) > 0 {
		steps = append(steps, PowerCycleStep(hardwarePorts))
	}

	return Plan{Steps: steps, HardwarePorts: append([]string(nil), hardwarePorts...)}
}

// Names returns the step names in order.
func (p Plan) Names() []string {
	names := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		names = append(names, step.Name)
	}

	return names
}

// KillProcessesStep terminates every process named in names. A name without
// matching processes succeeds.
func KillProcessesStep(names []string) Step {
	return Step{
		Name: StepKillProcesses,
		Run: func(ctx context.Context, effects SystemEffects) error {
			var errs []error

			for _, name := range names {
				if _, err := effects.KillProcesses(ctx, name); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
			}

			return errors.Join(errs...)
		},
	}
}

// RemoveTempFilesStep removes matching files below root down to maxDepth levels.
func RemoveTempFilesStep(root string, maxDepth int, match func(string) bool) Step {
	return Step{
		Name: StepRemoveTempFiles,
		Run: func(ctx context.Context, effects SystemEffects) error {
			_, err := effects.RemoveMatching(ctx, root, maxDepth, match)

			return err
		},
	}
}

// PowerCycleStep switches all ports off, waits constants.PowerOffSettleTime,
// switches them on and waits constants.PowerOnSettleTime. A port that fails
// to switch off is still switched on.
func PowerCycleStep(ports []string) Step {
	return Step{
		Name: StepPowerCycle,
		Run: func(ctx context.Context, effects SystemEffects) error {
			offErr := setAll(ctx, effects, ports, false)
			if err := effects.Sleep(ctx, constants.PowerOffSettleTime); err != nil {
				return errors.Join(offErr, err)
			}

			onErr := setAll(ctx, effects, ports, true)
			if err := effects.Sleep(ctx, constants.PowerOnSettleTime); err != nil {
				return errors.Join(offErr, onErr, err)
			}

			return errors.Join(offErr, onErr)
		},
	}
}

func setAll(ctx context.Context, effects SystemEffects, ports []string, on bool) error {
	errs := make([]error, len(ports))

	var g errgroup.Group

	for i, port := range ports {
		g.Go(func() error {
			if err := effects.SetPortPower(ctx, port, on); err != nil {
				errs[i] = fmt.Errorf("port %s: %w", port, err)
			}

			return nil
		})
	}

	_ = g.Wait()

	return errors.Join(errs...)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Err      error
	Name     string
	Duration time.Duration
}

// Report is the outcome of one recovery.
type Report struct {
	Steps    []StepResult
	Duration time.Duration
}

// Failed returns the results of the steps that did not complete.
func (r Report) Failed() []StepResult {
	var failed []StepResult

	for _, step := range r.Steps {
		if step.Err != nil {
			failed = append(failed, step)
		}
	}

	return failed
}

// Clean reports whether every step completed.
func (r Report) Clean() bool {
	return len(r.Failed()) == 0
}
