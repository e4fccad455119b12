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

// Package portmanager validates worker listener ports and finds free ones
package portmanager

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"

	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
)

// ErrNoPortAvailable is returned when no free port was found in the range
var ErrNoPortAvailable = errors.New("no free port available")

// Validate checks that port lies in the range worker endpoints may bind to.
func Validate(port int) error {
	if port < constants.MinWorkerPort || port > constants.MaxWorkerPort {
		return fmt.Errorf("invalid server port number=%d, expected range <%d,%d>",
			port, constants.MinWorkerPort, constants.MaxWorkerPort)
	}

	return nil
}

// ValidatePorts validates every port and rejects duplicates, two workers can never share a port.
func ValidatePorts(ports []int) error {
	if len(ports) == 0 {
		return errors.New("at least one server port is required")
	}

	seen := make(map[int]bool, len(ports))

	var errs []error

	for _, port := range ports {
		if err := Validate(port); err != nil {
			errs = append(errs, err)
		}

		if seen[port] {
			errs = append(errs, fmt.Errorf("server port %d configured more than once", port))
		}

		seen[port] = true
	}

	return errors.Join(errs...)
}

// IsAvailable probes whether port can currently be bound on all interfaces.
func IsAvailable(ctx context.Context, port int) bool {
	lc := &net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}

	_ = listener.Close()

	return true
}

// Allocator hands out free ports from a range. Ports it handed out are not
// handed out again until released, even when nothing is bound to them yet.
type Allocator struct {
	allocated map[int]bool
	mutex     sync.Mutex
	minPort   int
	maxPort   int
}

// NewAllocator creates an allocator for the inclusive range [minPort, maxPort].
func NewAllocator(minPort, maxPort int) *Allocator {
	return &Allocator{
		allocated: make(map[int]bool),
		minPort:   minPort,
		maxPort:   maxPort,
	}
}

// NewWorkerPortAllocator creates an allocator for the worker port range.
func NewWorkerPortAllocator() *Allocator {
	return NewAllocator(constants.MinWorkerPort, constants.MaxWorkerPort)
}

// AllocatePort picks a random port of the range that is neither allocated nor bound.
func (a *Allocator) AllocatePort(ctx context.Context) (int, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	const maxRetries = 20

	for range maxRetries {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("port allocation cancelled: %w", ctx.Err())
		default:
		}

		port := a.minPort + rand.IntN(a.maxPort-a.minPort+1)
		if a.allocated[port] {
			continue
		}

		if !IsAvailable(ctx, port) {
			continue
		}

		a.allocated[port] = true

		return port, nil
	}

	return 0, fmt.Errorf("%w in range %d-%d after %d attempts", ErrNoPortAvailable, a.minPort, a.maxPort, maxRetries)
}

// ReleasePort makes port available for allocation again.
func (a *Allocator) ReleasePort(port int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	delete(a.allocated, port)
}
