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
)

// FakeWatchdog never polls, Fired is whatever the test sets.
type FakeWatchdog struct {
	registered []Worker
	mu         sync.Mutex
	fired      bool
	clears     int
}

func NewFakeWatchdog() *FakeWatchdog {
	return &FakeWatchdog{}
}

func (f *FakeWatchdog) Start(context.Context) {}

func (f *FakeWatchdog) Register(worker Worker) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.registered = append(f.registered, worker)
}

func (f *FakeWatchdog) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.registered = nil
	f.fired = false
	f.clears++
}

func (f *FakeWatchdog) Fired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.fired
}

// SetFired sets the fired flag.
func (f *FakeWatchdog) SetFired(fired bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fired = fired
}

func (f *FakeWatchdog) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.registered)
}

// Clears returns how often Clear was called.
func (f *FakeWatchdog) Clears() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.clears
}

func (f *FakeWatchdog) Enabled() bool {
	return true
}
