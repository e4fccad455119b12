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

package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/fleetguard/pkg/config"
	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/failure"
	"github.com/united-manufacturing-hub/fleetguard/pkg/logger"
	"github.com/united-manufacturing-hub/fleetguard/pkg/metrics"
	"github.com/united-manufacturing-hub/fleetguard/pkg/sentry"
)

// Executor runs recoveries. It keeps no state between runs.
type Executor struct {
	effects SystemEffects
	log     *zap.SugaredLogger
	cfg     config.Config
}

// NewExecutor creates an executor for cfg over effects.
func NewExecutor(cfg config.Config, effects SystemEffects) *Executor {
	return &Executor{
		cfg:     cfg,
		effects: effects,
		log:     logger.For(logger.ComponentRecovery),
	}
}

// Recover runs a fresh plan for hardwarePorts. It never fails: every step
// runs even when the ones before it failed, and failures end up in the report.
func (e *Executor) Recover(ctx context.Context, hardwarePorts []string) Report {
	start := time.Now()
	plan := NewPlan(e.cfg, hardwarePorts)

	e.log.Infof("Starting recovery: %v", plan.Names())

	var report Report

	unlock, lockResult := e.lock(ctx)
	if lockResult != nil {
		report.Steps = append(report.Steps, *lockResult)
	}
	defer unlock()

	for _, step := range plan.Steps {
		stepStart := time.Now()
		err := step.Run(ctx, e.effects)
		result := StepResult{Name: step.Name, Duration: time.Since(stepStart)}

		if err != nil {
			result.Err = failure.NewRecoveryStepFailure(step.Name, err)
			e.stepFailed(step.Name, result.Err)
		} else {
			e.log.Infof("Recovery step %s done in %s", step.Name, result.Duration.Truncate(time.Millisecond))
		}

		report.Steps = append(report.Steps, result)
	}

	report.Duration = time.Since(start)
	metrics.ObserveRecovery(report.Duration)

	e.log.Infof("Recovery finished in %s, %d of %d steps failed",
		report.Duration.Truncate(time.Millisecond), len(report.Failed()), len(report.Steps))

	return report
}

func (e *Executor) stepFailed(step string, err error) {
	metrics.IncRecoveryStepFailure(step)
	sentry.ReportRecoveryStepFailure(e.log, step, err)
}

// lock takes the cross process recovery lock when one is configured. Not
// getting it is a step failure, recovery goes on without it.
func (e *Executor) lock(ctx context.Context) (func(), *StepResult) {
	if e.cfg.RecoveryLockFile == "" {
		return func() {}, nil
	}

	start := time.Now()
	fileLock := flock.New(e.cfg.RecoveryLockFile)

	lockCtx, cancel := context.WithTimeout(ctx, constants.RecoveryLockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, constants.RecoveryLockRetryInterval)
	if err == nil && !locked {
		err = fmt.Errorf("lock %s is held by another process", e.cfg.RecoveryLockFile)
	}

	if err != nil {
		result := &StepResult{
			Name:     StepAcquireLock,
			Duration: time.Since(start),
			Err:      failure.NewRecoveryStepFailure(StepAcquireLock, err),
		}
		e.stepFailed(StepAcquireLock, result.Err)

		return func() {}, result
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			e.log.Warnf("Failed to release recovery lock %s: %v", e.cfg.RecoveryLockFile, err)
		}
	}, &StepResult{Name: StepAcquireLock, Duration: time.Since(start)}
}
