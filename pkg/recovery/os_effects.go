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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/fleetguard/pkg/backoff"
	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/logger"
	"github.com/united-manufacturing-hub/fleetguard/pkg/service/filesystem"
	"github.com/united-manufacturing-hub/fleetguard/pkg/workspace"
)

const processPollInterval = 100 * time.Millisecond

// OSEffects applies recovery to the real host.
type OSEffects struct {
	fs           filesystem.Service
	log          *zap.SugaredLogger
	powerCommand string
}

// NewOSEffects creates host effects that run powerCommand to switch ports.
func NewOSEffects(fsService filesystem.Service, powerCommand string) *OSEffects {
	return &OSEffects{
		fs:           fsService,
		powerCommand: powerCommand,
		log:          logger.For(logger.ComponentRecovery),
	}
}

var _ SystemEffects = (*OSEffects)(nil)

// processMatches compares executable names ignoring case and a .exe suffix.
func processMatches(executable, name string) bool {
	normalize := func(s string) string {
		return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".exe")
	}

	return normalize(executable) != "" && normalize(executable) == normalize(name)
}

// KillProcesses asks every matching process to terminate and kills those
// still running after constants.ProcessExitTimeout.
func (o *OSEffects) KillProcesses(ctx context.Context, name string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	self := int32(os.Getpid())

	var matched []*process.Process

	for _, p := range procs {
		if p.Pid == self {
			continue
		}

		executable, err := p.NameWithContext(ctx)
		if err != nil {
			// exited while listing
			continue
		}

		if processMatches(executable, name) {
			matched = append(matched, p)
		}
	}

	if len(matched) == 0 {
		o.log.Debugf("No %s process running", name)

		return 0, nil
	}

	o.log.Infof("Killing %d %s process(es)", len(matched), name)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range matched {
		g.Go(func() error {
			return o.stopProcess(gctx, p)
		})
	}

	return len(matched), g.Wait()
}

func (o *OSEffects) stopProcess(ctx context.Context, p *process.Process) error {
	if err := p.TerminateWithContext(ctx); err != nil && !errors.Is(err, process.ErrorProcessNotRunning) {
		o.log.Debugf("Terminating pid %d failed, killing it: %v", p.Pid, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, constants.ProcessExitTimeout)
	defer cancel()

	for {
		running, err := p.IsRunningWithContext(waitCtx)
		if err == nil && !running {
			return nil
		}

		if backoff.Wait(waitCtx, processPollInterval) != nil {
			break
		}
	}

	if err := p.KillWithContext(ctx); err != nil && !errors.Is(err, process.ErrorProcessNotRunning) {
		return fmt.Errorf("failed to kill pid %d: %w", p.Pid, err)
	}

	return nil
}

// RemoveMatching removes matching files below root.
func (o *OSEffects) RemoveMatching(ctx context.Context, root string, maxDepth int, match func(string) bool) (int, error) {
	removed, err := workspace.RemoveMatching(ctx, o.fs, root, maxDepth, match)
	if removed > 0 {
		o.log.Infof("Removed %d temporary file(s) below %s", removed, root)
	}

	return removed, err
}

// SetPortPower runs the power switch command for port, retrying a failing
// command constants.PowerCommandRetries times.
func (o *OSEffects) SetPortPower(ctx context.Context, port string, on bool) error {
	flag := "-d"
	if on {
		flag = "-u"
	}

	return backoff.Retry(ctx, constants.PowerCommandRetries, constants.PowerCommandRetryInterval, func() error {
		output, err := o.fs.ExecuteCommand(ctx, o.powerCommand, flag, port)
		if err != nil {
			o.log.Warnf("%s %s %s failed: %v (%s)", o.powerCommand, flag, port, err, strings.TrimSpace(string(output)))

			return err
		}

		return nil
	})
}

// Sleep waits for d or until ctx is done.
func (o *OSEffects) Sleep(ctx context.Context, d time.Duration) error {
	return backoff.Wait(ctx, d)
}
