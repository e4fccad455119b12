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

// Package backoff paces fleet restarts and retries of flaky external calls.
package backoff

import (
	"context"
	"sync"
	"time"

	cenkalti "github.com/cenkalti/backoff"
)

// RestartBackoff spaces consecutive fleet restarts exponentially. It never
// gives up, the supervisor retries for as long as the process lives.
type RestartBackoff struct {
	backoff  *cenkalti.ExponentialBackOff
	mu       sync.Mutex
	attempts int
}

// NewRestartBackoff creates a backoff that starts at initial and doubles up to maxInterval.
func NewRestartBackoff(initial, maxInterval time.Duration) *RestartBackoff {
	b := cenkalti.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &RestartBackoff{backoff: b}
}

// Next returns the delay before the next restart and counts the attempt.
func (r *RestartBackoff) Next() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts++

	return r.backoff.NextBackOff()
}

// Reset starts over at the initial interval, used after a fleet ran healthy for long enough.
func (r *RestartBackoff) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = 0
	r.backoff.Reset()
}

// Attempts is the number of delays handed out since the last reset.
func (r *RestartBackoff) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.attempts
}

// Wait sleeps for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry runs op until it succeeds, returns a Permanent error, ctx is done or
// it failed retries+1 times. Attempts are spaced by interval.
func Retry(ctx context.Context, retries uint64, interval time.Duration, op func() error) error {
	b := cenkalti.WithContext(cenkalti.WithMaxRetries(cenkalti.NewConstantBackOff(interval), retries), ctx)

	return cenkalti.Retry(op, b)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return cenkalti.Permanent(err)
}
