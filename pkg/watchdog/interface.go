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
	"time"
)

// Worker is what the watchdog observes. It never owns a worker's lifetime.
type Worker interface {
	Port() int
	LastStart() time.Time
	RequestTermination(cause string)
}

type Iface interface {
	Start(ctx context.Context)
	Register(worker Worker)
	Clear()
	Fired() bool
	Len() int
	Enabled() bool
}

var (
	_ Iface = (*Watchdog)(nil)
	_ Iface = (*FakeWatchdog)(nil)
)
