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

package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/failure"
	"github.com/united-manufacturing-hub/fleetguard/pkg/metrics"
	"github.com/united-manufacturing-hub/fleetguard/pkg/sentry"
)

/*
# Introduction

	Watchdog terminates a fleet in which every worker went idle.
	Create it once per process with NewWatchdog and run Start in its own goroutine.
	Register every worker of a fleet, Clear it before the next fleet is registered.

## Example
		w := watchdog.NewWatchdog(10*time.Minute, logger.For(logger.ComponentWatchdog))
		go w.Start(ctx)
		for _, worker := range fleet {
			w.Register(worker)
		}
		...
		if w.Fired() {
			// the fleet was terminated for idleness
		}
		w.Clear()

## Logic
	Every poll interval the watchdog computes now - LastStart() for each registered worker.
	Only if every one of them exceeds the timeout it fires:
		each worker gets RequestTermination with a fleet timeout cause,
		the registry is emptied so the same fleet cannot trigger twice,
		and the fired flag stays set until Clear.
	One busy worker keeps the whole fleet alive.

	A timeout of zero disables the watchdog, Start returns immediately.
*/

// Watchdog detects fleet wide idleness.
type Watchdog struct {
	now        func() time.Time
	logger     *zap.SugaredLogger
	registered []Worker
	timeout    time.Duration
	interval   time.Duration
	watchdogID uuid.UUID
	mutex      sync.Mutex
	fired      bool
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) {
		w.now = now
	}
}

// WithInterval replaces constants.WatchdogPollInterval.
func WithInterval(interval time.Duration) Option {
	return func(w *Watchdog) {
		w.interval = interval
	}
}

// NewWatchdog creates a watchdog firing after timeout of fleet wide idleness.
func NewWatchdog(timeout time.Duration, logger *zap.SugaredLogger, opts ...Option) *Watchdog {
	w := &Watchdog{
		now:        time.Now,
		logger:     logger,
		timeout:    timeout,
		interval:   constants.WatchdogPollInterval,
		watchdogID: uuid.New(),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Enabled reports whether a timeout is configured.
func (w *Watchdog) Enabled() bool {
	return w.timeout > 0
}

// Start polls until ctx is done. It returns immediately when the watchdog is disabled.
func (w *Watchdog) Start(ctx context.Context) {
	if !w.Enabled() {
		w.logger.Infof("[%s] Watchdog disabled", w.watchdogID)

		return
	}

	w.logger.Infof("[%s] Watchdog started, fleet idle timeout %s", w.watchdogID, w.timeout)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Check()
		case <-ctx.Done():
			w.logger.Debugf("[%s] Watchdog stopped", w.watchdogID)

			return
		}
	}
}

// Register adds worker to the registry. Safe while Start is running.
func (w *Watchdog) Register(worker Worker) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.registered = append(w.registered, worker)
	w.logger.Debugf("[%s] Registered worker on port %d", w.watchdogID, worker.Port())
}

// Clear empties the registry and resets the fired flag in one step.
func (w *Watchdog) Clear() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.registered = nil
	w.fired = false
}

// Fired reports whether the watchdog terminated the fleet since the last Clear.
func (w *Watchdog) Fired() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.fired
}

// Len returns the number of registered workers.
func (w *Watchdog) Len() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return len(w.registered)
}

// Check runs one poll and reports whether the watchdog fired.
func (w *Watchdog) Check() bool {
	now := w.now()

	w.mutex.Lock()

	if len(w.registered) == 0 {
		w.mutex.Unlock()

		return false
	}

	idle := make([]time.Duration, len(w.registered))

	for i, worker := range w.registered {
		idle[i] = now.Sub(worker.LastStart())
		if idle[i] <= w.timeout {
			w.mutex.Unlock()
			w.logger.Debugf("[%s] Fleet is alive, worker on port %d was active %s ago", w.watchdogID, worker.Port(), idle[i].Truncate(time.Second))

			return false
		}
	}

	workers := w.registered
	w.registered = nil
	w.fired = true

	// Unlock before terminating, workers must not be called under the registry lock
	w.mutex.Unlock()

	metrics.IncWatchdogFired()
	sentry.ReportIssuef(sentry.IssueTypeWarning, w.logger, "[%s] All %d workers idle for more than %s, terminating fleet", w.watchdogID, len(workers), w.timeout)

	for i, worker := range workers {
		worker.RequestTermination(failure.NewFleetTimeout(worker.Port(), idle[i]).Error())
	}

	return true
}
