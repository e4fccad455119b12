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
	"time"
)

// SystemEffects is everything recovery does to the host.
type SystemEffects interface {
	// KillProcesses terminates every process whose executable is name and
	// returns how many were found. None found is not an error.
	KillProcesses(ctx context.Context, name string) (int, error)
	// RemoveMatching removes files below root, at most maxDepth levels deep
	// with root as level 1, whose name satisfies match.
	RemoveMatching(ctx context.Context, root string, maxDepth int, match func(string) bool) (int, error)
	// SetPortPower switches a downstream port of the power switch off or on.
	SetPortPower(ctx context.Context, port string, on bool) error
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}
