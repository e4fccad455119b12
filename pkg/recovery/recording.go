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
	"sync"
	"time"
)

// RecordingEffects records what recovery would do instead of doing it.
// Calls are recorded as "kill NAME", "remove ROOT", "power-off PORT",
// "power-on PORT" and "sleep DURATION".
type RecordingEffects struct {
	// Errors maps a recorded call to the error it returns.
	Errors map[string]error
	// Found is the number of processes KillProcesses reports per name.
	Found map[string]int

	calls []string
	mutex sync.Mutex
}

// NewRecordingEffects creates effects that succeed for every call.
func NewRecordingEffects() *RecordingEffects {
	return &RecordingEffects{
		Errors: make(map[string]error),
		Found:  make(map[string]int),
	}
}

var _ SystemEffects = (*RecordingEffects)(nil)

func (r *RecordingEffects) record(call string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.calls = append(r.calls, call)

	return r.Errors[call]
}

// Calls returns the recorded calls in order.
func (r *RecordingEffects) Calls() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return append([]string(nil), r.calls...)
}

// Reset forgets the recorded calls.
func (r *RecordingEffects) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.calls = nil
}

func (r *RecordingEffects) KillProcesses(_ context.Context, name string) (int, error) {
	err := r.record("kill " + name)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.Found[name], err
}

func (r *RecordingEffects) RemoveMatching(_ context.Context, root string, _ int, _ func(string) bool) (int, error) {
	return 0, r.record("remove " + root)
}

func (r *RecordingEffects) SetPortPower(_ context.Context, port string, on bool) error {
	if on {
		return r.record("power-on " + port)
	}

	return r.record("power-off " + port)
}

func (r *RecordingEffects) Sleep(ctx context.Context, d time.Duration) error {
	if err := r.record(fmt.Sprintf("sleep %s", d)); err != nil {
		return err
	}

	return ctx.Err()
}
