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

// Package supervisor runs the fleet: it starts one worker per port, watches
// them, tears the whole fleet down on the first failure and then either
// recovers and starts a fresh fleet or terminates the process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/fleetguard/pkg/backoff"
	"github.com/united-manufacturing-hub/fleetguard/pkg/config"
	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/engine"
	"github.com/united-manufacturing-hub/fleetguard/pkg/failure"
	"github.com/united-manufacturing-hub/fleetguard/pkg/failurequeue"
	"github.com/united-manufacturing-hub/fleetguard/pkg/logger"
	"github.com/united-manufacturing-hub/fleetguard/pkg/metrics"
	"github.com/united-manufacturing-hub/fleetguard/pkg/recovery"
	"github.com/united-manufacturing-hub/fleetguard/pkg/sentry"
	"github.com/united-manufacturing-hub/fleetguard/pkg/service/filesystem"
	"github.com/united-manufacturing-hub/fleetguard/pkg/watchdog"
	"github.com/united-manufacturing-hub/fleetguard/pkg/worker"
)

var (
	// ErrInterrupted is the context cause of a user interrupt.
	ErrInterrupted = errors.New("interrupted")
	// ErrShutdown is the context cause of a graceful shutdown request.
	ErrShutdown = errors.New("shutdown requested")
)

// Worker is one member of a fleet as the supervisor sees it.
type Worker interface {
	Port() int
	Start(ctx context.Context) error
	// Serve blocks until the worker stopped.
	Serve() error
	RequestTermination(cause string)
	LastStart() time.Time
	Alive() bool
	Done() <-chan struct{}
}

var _ Worker = (*worker.Server)(nil)

// WorkerFactory creates the worker for port. cfg is a private copy.
type WorkerFactory func(port int, cfg config.Config, reporter failurequeue.Reporter) Worker

// Recoverer restores the host between two fleets.
type Recoverer interface {
	Recover(ctx context.Context, hardwarePorts []string) recovery.Report
}

// Supervisor owns the failure queue, the watchdog and the current fleet.
type Supervisor struct {
	watchdog        watchdog.Iface
	recoverer       Recoverer
	newWorker       WorkerFactory
	queue           *failurequeue.Queue
	restartBackoff  *backoff.RestartBackoff
	lifecycle       *fsm.FSM
	log             *zap.SugaredLogger
	fleet           []Worker
	cfg             config.Config
	stagger         time.Duration
	pollInterval    time.Duration
	teardownTimeout time.Duration
	healthyAfter    time.Duration
	recoveries      int
	mu              sync.RWMutex
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithWorkerFactory replaces worker.NewServer.
func WithWorkerFactory(factory WorkerFactory) Option {
	return func(s *Supervisor) {
		s.newWorker = factory
	}
}

// WithWatchdog replaces the watchdog built from the configured idle timeout.
func WithWatchdog(w watchdog.Iface) Option {
	return func(s *Supervisor) {
		s.watchdog = w
	}
}

// WithRecoverer replaces the recovery executor acting on the host.
func WithRecoverer(r Recoverer) Option {
	return func(s *Supervisor) {
		s.recoverer = r
	}
}

// WithTiming replaces the start stagger, the poll interval and the teardown timeout.
func WithTiming(stagger, pollInterval, teardownTimeout time.Duration) Option {
	return func(s *Supervisor) {
		s.stagger = stagger
		s.pollInterval = pollInterval
		s.teardownTimeout = teardownTimeout
	}
}

// WithLogger replaces the supervisor logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Supervisor) {
		s.log = log
	}
}

// WithRestartBackoff replaces the delays between recovery and the next fleet.
func WithRestartBackoff(initial, maxInterval time.Duration) Option {
	return func(s *Supervisor) {
		s.restartBackoff = backoff.NewRestartBackoff(initial, maxInterval)
	}
}

// New creates a supervisor whose workers drive engines created by factory.
func New(cfg config.Config, factory engine.Factory, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:   cfg,
		log:   logger.For(logger.ComponentSupervisor),
		queue: failurequeue.New(),
		newWorker: func(port int, cfg config.Config, reporter failurequeue.Reporter) Worker {
			return worker.NewServer(port, cfg, factory, reporter)
		},
		stagger:         constants.WorkerStartStagger,
		pollInterval:    constants.SupervisorPollInterval,
		teardownTimeout: constants.FleetTeardownTimeout,
		healthyAfter:    constants.HealthyFleetDuration,
		restartBackoff:  backoff.NewRestartBackoff(constants.RestartBackoffInitial, constants.RestartBackoffMax),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.lifecycle = newLifecycle(s.log)

	if s.watchdog == nil {
		s.watchdog = watchdog.NewWatchdog(cfg.IdleTimeout(), logger.For(logger.ComponentWatchdog))
	}

	if s.recoverer == nil {
		s.recoverer = recovery.NewExecutor(cfg, recovery.NewOSEffects(filesystem.NewDefaultService(), cfg.PowerSwitchCommand))
	}

	return s
}

// State returns the current supervisor state.
func (s *Supervisor) State() string {
	return s.lifecycle.Current()
}

// Fleet returns the workers of the running fleet.
func (s *Supervisor) Fleet() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Worker(nil), s.fleet...)
}

// Recoveries is the number of recoveries run so far.
func (s *Supervisor) Recoveries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.recoveries
}

// Run supervises fleets until ctx is done or a failure cannot be recovered,
// and returns the process exit code. Cancel ctx with ErrInterrupted or
// ErrShutdown as cause to pick the exit code of a signal.
func (s *Supervisor) Run(ctx context.Context) int {
	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	defer stopWatchdog()

	go s.watchdog.Start(watchdogCtx)

	for {
		started := time.Now()
		cause := s.runFleet(ctx)

		decision := Decide(s.decisionInput(ctx, cause))
		if decision.Next == StateTerminated {
			return s.terminate(decision, cause)
		}

		s.event(EventRecover)
		s.log.Warnf("Fleet failed, recovering:\n%s", cause)
		s.watchdog.Clear()

		s.recoverer.Recover(ctx, s.cfg.HardwarePorts)

		s.mu.Lock()
		s.recoveries++
		s.mu.Unlock()

		if time.Since(started) > s.healthyAfter {
			s.restartBackoff.Reset()
		}

		delay := s.restartBackoff.Next()
		s.log.Infof("Restarting fleet in %s (attempt %d)", delay, s.restartBackoff.Attempts())

		if err := backoff.Wait(ctx, delay); err != nil || ctx.Err() != nil {
			return s.terminate(Decide(s.decisionInput(ctx, "")), "")
		}

		metrics.IncFleetRestart()
		s.event(EventRestart)
	}
}

func (s *Supervisor) decisionInput(ctx context.Context, cause string) DecisionInput {
	interrupted := errors.Is(context.Cause(ctx), ErrInterrupted)

	return DecisionInput{
		Cause:             cause,
		RecoveryEnabled:   s.cfg.Recovery,
		WatchdogFired:     s.watchdog.Fired(),
		Interrupted:       interrupted,
		ShutdownRequested: ctx.Err() != nil && !interrupted,
	}
}

// runFleet starts a fleet, watches it until something fails or ctx is done
// and tears it down. It returns the aggregated failure causes.
func (s *Supervisor) runFleet(ctx context.Context) string {
	fleet := make([]Worker, 0, len(s.cfg.Ports))
	complete := true

	for i, port := range s.cfg.Ports {
		if i > 0 {
			if err := backoff.Wait(ctx, s.stagger); err != nil {
				complete = false

				break
			}
		}

		w, err := s.startWorker(ctx, port)
		if err != nil {
			s.startFailed(port, err)
			s.queue.Push(err.Error())

			complete = false

			break
		}

		fleet = append(fleet, w)
		s.watchdog.Register(w)

		s.mu.Lock()
		s.fleet = fleet
		s.mu.Unlock()
	}

	if complete && ctx.Err() == nil {
		s.event(EventFleetStarted)
		s.log.Infof("Fleet running on ports %v", s.cfg.Ports)
		s.monitor(ctx, fleet)
	}

	s.event(EventDrain)

	return s.teardown(fleet)
}

func (s *Supervisor) startWorker(ctx context.Context, port int) (Worker, error) {
	cfg, err := s.cfg.Clone()
	if err != nil {
		return nil, fmt.Errorf("worker on port %d: %w", port, err)
	}

	w := s.newWorker(port, cfg, s.queue)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}

	go func() {
		// failures are reported through the queue
		_ = w.Serve()
	}()

	return w, nil
}

// startFailed logs why the worker on port did not come up. The typed error
// only exists here, the queue carries its text.
func (s *Supervisor) startFailed(port int, err error) {
	switch {
	case failure.IsBindError(err):
		s.log.Warnf("Port %d is still held by another process: %v", port, err)
	case failure.IsEngineInitError(err):
		s.log.Warnf("Automation engine for port %d is not available: %v", port, err)
	default:
		s.log.Warnf("Worker on port %d did not start: %v", port, err)
	}
}

// monitor returns once the failure queue is not empty or ctx is done. A
// dead worker that left no cause in the queue is reported as down.
func (s *Supervisor) monitor(ctx context.Context, fleet []Worker) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var dead []int

		for _, w := range fleet {
			if !w.Alive() {
				dead = append(dead, w.Port())
			}
		}

		// a terminating worker pushes its cause before it stops
		if s.queue.Empty() {
			for _, port := range dead {
				s.queue.Push(failure.NewWorkerDown(port).Error())
			}
		}

		if !s.queue.Empty() {
			return
		}
	}
}

// teardown terminates every worker of fleet, waits for them to stop and
// returns all pending causes joined by newlines.
func (s *Supervisor) teardown(fleet []Worker) string {
	for _, w := range fleet {
		w.RequestTermination("")
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), s.teardownTimeout)
	defer cancel()

	var g errgroup.Group

	for _, w := range fleet {
		g.Go(func() error {
			select {
			case <-w.Done():
				return nil
			case <-waitCtx.Done():
				return fmt.Errorf("worker on port %d did not stop within %s", w.Port(), s.teardownTimeout)
			}
		})
	}

	if err := g.Wait(); err != nil {
		s.log.Warnf("Fleet teardown incomplete: %v", err)
	}

	s.mu.Lock()
	s.fleet = nil
	s.mu.Unlock()

	causes := s.queue.Drain()
	if len(causes) > 0 {
		metrics.IncFleetFailure(string(failure.KindOfCause(causes[0])))
	}

	return strings.Join(causes, "\n")
}

func (s *Supervisor) terminate(decision Decision, cause string) int {
	s.event(EventTerminate)

	switch decision.ExitCode {
	case constants.ExitCodeFatal:
		sentry.ReportIssuef(sentry.IssueTypeFatal, s.log, "fleet failed and recovery is disabled:\n%s", cause)
	case constants.ExitCodeInterrupted:
		s.log.Info("Interrupted, fleet stopped")
	default:
		s.log.Info("Shutdown complete")
	}

	return decision.ExitCode
}

func (s *Supervisor) event(name string) {
	if err := s.lifecycle.Event(context.Background(), name); err != nil {
		s.log.Debugf("Supervisor event %s: %v", name, err)
	}
}
