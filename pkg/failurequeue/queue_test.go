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

package failurequeue_test

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/fleetguard/pkg/failurequeue"
)

var _ = Describe("Queue", func() {
	var queue *failurequeue.Queue

	BeforeEach(func() {
		queue = failurequeue.New()
	})

	It("starts empty and drains to nil", func() {
		Expect(queue.Empty()).To(BeTrue())
		Expect(queue.Drain()).To(BeNil())
	})

	It("preserves insertion order", func() {
		queue.Push("first")
		queue.Push("second")
		queue.Push("third")

		Expect(queue.Len()).To(Equal(3))
		Expect(queue.Drain()).To(Equal([]string{"first", "second", "third"}))
		Expect(queue.Empty()).To(BeTrue())
	})

	It("never re-queues drained items", func() {
		queue.Push("only once")
		Expect(queue.Drain()).To(HaveLen(1))
		Expect(queue.Drain()).To(BeEmpty())
	})

	It("accepts concurrent producers", func() {
		const producers = 16
		const perProducer = 50

		var wg sync.WaitGroup
		for p := range producers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range perProducer {
					queue.Push(fmt.Sprintf("%d-%d", p, i))
				}
			}()
		}
		wg.Wait()

		drained := queue.Drain()
		Expect(drained).To(HaveLen(producers * perProducer))

		// per producer order survives interleaving
		last := map[string]int{}
		for _, cause := range drained {
			var p, i int
			_, err := fmt.Sscanf(cause, "%d-%d", &p, &i)
			Expect(err).NotTo(HaveOccurred())
			key := fmt.Sprint(p)
			if prev, ok := last[key]; ok {
				Expect(i).To(BeNumerically(">", prev))
			}
			last[key] = i
		}
	})

	It("satisfies Reporter", func() {
		var reporter failurequeue.Reporter = queue
		reporter.Push("via interface")
		Expect(queue.Drain()).To(ConsistOf("via interface"))
	})
})
