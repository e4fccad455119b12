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

// Package failurequeue carries failure causes from workers to the supervisor.
package failurequeue

import "sync"

// Reporter is the producer side of the queue. Workers and the watchdog only
// ever see this interface.
type Reporter interface {
	Push(cause string)
}

// Queue is an unbounded FIFO of failure causes with many producers and one
// consumer. Neither Empty nor Drain ever blocks waiting for items.
type Queue struct {
	causes []string
	mu     sync.Mutex
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends cause. Safe for concurrent use.
func (q *Queue) Push(cause string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.causes = append(q.causes, cause)
}

// Empty reports whether nothing is queued.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.causes) == 0
}

// Len returns the number of queued causes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.causes)
}

// Drain removes and returns every queued cause in insertion order.
// It returns nil when the queue is empty.
func (q *Queue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.causes) == 0 {
		return nil
	}

	drained := q.causes
	q.causes = nil

	return drained
}
