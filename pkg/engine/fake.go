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
	"context"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/fleetguard/pkg/rpc"
)

// MethodFakeWork marks activity on a Fake, like the start of a real test case.
const MethodFakeWork = "fake.work"

// Fake is an in-memory Engine for tests.
type Fake struct {
	lastActivity  time.Time
	callback      Callback
	methods       map[string]rpc.Method
	shutdownErr   error
	shutdownCalls int
	mu            sync.Mutex
}

// NewFake creates a Fake whose last activity is now.
func NewFake() *Fake {
	f := &Fake{lastActivity: time.Now(), methods: map[string]rpc.Method{}}
	f.methods[MethodFakeWork] = rpc.Method{
		Help: "Marks activity.",
		Call: func(context.Context, rpc.Params) (any, error) {
			f.Touch()

			return true, nil
		},
	}

	return f
}

// FakeFactory returns a Factory creating a new Fake per call and handing it to created, which may be nil.
func FakeFactory(created func(port int, fake *Fake)) Factory {
	return func(_ context.Context, port int) (Engine, error) {
		fake := NewFake()
		if created != nil {
			created(port, fake)
		}

		return fake, nil
	}
}

// AddMethod serves m as name on the worker endpoint.
func (f *Fake) AddMethod(name string, m rpc.Method) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.methods[name] = m
}

// Touch marks activity now.
func (f *Fake) Touch() {
	f.SetLastActivity(time.Now())
}

// SetLastActivity overrides the last activity.
func (f *Fake) SetLastActivity(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastActivity = t
}

// FailShutdown makes every later Shutdown return err.
func (f *Fake) FailShutdown(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.shutdownErr = err
}

// ShutdownCalls returns how often Shutdown was called.
func (f *Fake) ShutdownCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.shutdownCalls
}

// Callback returns the registered callback.
func (f *Fake) Callback() Callback {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.callback
}

func (f *Fake) LastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastActivity
}

func (f *Fake) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.shutdownCalls++

	return f.shutdownErr
}

func (f *Fake) RegisterCallback(_ context.Context, cb Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callback = cb

	return nil
}

func (f *Fake) UnregisterCallback() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callback = nil
}

func (f *Fake) Methods() map[string]rpc.Method {
	f.mu.Lock()
	defer f.mu.Unlock()

	methods := make(map[string]rpc.Method, len(f.methods))
	for name, m := range f.methods {
		methods[name] = m
	}

	return methods
}
