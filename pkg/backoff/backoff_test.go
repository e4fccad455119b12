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

package backoff_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/fleetguard/pkg/backoff"
)

var _ = Describe("RestartBackoff", func() {
	It("doubles up to the cap and never stops", func() {
		b := backoff.NewRestartBackoff(time.Second, 5*time.Second)

		Expect(b.Next()).To(Equal(time.Second))
		Expect(b.Next()).To(Equal(2 * time.Second))
		Expect(b.Next()).To(Equal(4 * time.Second))
		Expect(b.Next()).To(Equal(5 * time.Second))

		for range 50 {
			Expect(b.Next()).To(Equal(5 * time.Second))
		}
		Expect(b.Attempts()).To(Equal(54))
	})

	It("starts over after Reset", func() {
		b := backoff.NewRestartBackoff(time.Second, time.Minute)
		b.Next()
		b.Next()

		b.Reset()

		Expect(b.Attempts()).To(BeZero())
		Expect(b.Next()).To(Equal(time.Second))
	})
})

var _ = Describe("Wait", func() {
	It("returns after the delay", func() {
		start := time.Now()
		Expect(backoff.Wait(context.Background(), 20*time.Millisecond)).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically(">=", 20*time.Millisecond))
	})

	It("returns early when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := backoff.Wait(ctx, time.Hour)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})
})

var _ = Describe("Retry", func() {
	It("retries until the operation succeeds", func() {
		calls := 0
		err := backoff.Retry(context.Background(), 3, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}

			return nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(3))
	})

	It("gives up after the retry budget", func() {
		calls := 0
		err := backoff.Retry(context.Background(), 2, time.Millisecond, func() error {
			calls++

			return errors.New("still broken")
		})

		Expect(err).To(MatchError("still broken"))
		Expect(calls).To(Equal(3))
	})

	It("stops on permanent errors", func() {
		calls := 0
		err := backoff.Retry(context.Background(), 5, time.Millisecond, func() error {
			calls++

			return backoff.Permanent(errors.New("bad request"))
		})

		Expect(err).To(MatchError("bad request"))
		Expect(calls).To(Equal(1))
	})
})
