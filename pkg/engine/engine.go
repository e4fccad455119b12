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

// Package engine is the boundary between a worker and the test engine it drives.
package engine

import (
	"context"
	"time"

	"github.com/united-manufacturing-hub/fleetguard/pkg/rpc"
)

// Engine is the automation handle a worker owns.
type Engine interface {
	// LastActivity is the moment the engine last began real work.
	LastActivity() time.Time
	// Shutdown stops whatever the engine is doing and releases it.
	Shutdown(ctx context.Context) error
	// RegisterCallback routes engine events to cb until unregistered.
	RegisterCallback(ctx context.Context, cb Callback) error
	UnregisterCallback()
	// Methods are served on the worker endpoint next to the worker's own.
	Methods() map[string]rpc.Method
}

// Factory creates the engine of the worker on port.
type Factory func(ctx context.Context, port int) (Engine, error)

// Callback receives engine originated events. *rpc.Client implements it.
type Callback interface {
	Notify(ctx context.Context, method string, params ...any) error
}
