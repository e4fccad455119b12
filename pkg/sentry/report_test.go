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

package sentry

import (
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"
)

var _ = Describe("Reporting", func() {
	AfterEach(func() {
		DisableTestMode()
	})

	Describe("debouncing", func() {
		BeforeEach(func() {
			EnableTestMode()
			setDebounce(true)
		})

		It("sends the same issue only once per window", func() {
			err := errors.New("worker on port 50000: bind failed: address already in use")
			now := time.Now()

			Expect(allowSend(sentry.LevelError, err, now)).To(BeTrue())
			Expect(allowSend(sentry.LevelError, err, now.Add(time.Minute))).To(BeFalse())
			Expect(allowSend(sentry.LevelError, err, now.Add(debounceWindow+time.Second))).To(BeTrue())
		})

		It("debounces levels and titles independently", func() {
			now := time.Now()

			Expect(allowSend(sentry.LevelError, errors.New("first: x"), now)).To(BeTrue())
			Expect(allowSend(sentry.LevelWarning, errors.New("first: x"), now)).To(BeTrue())
			Expect(allowSend(sentry.LevelError, errors.New("second: x"), now)).To(BeTrue())
		})

		It("always sends in test mode", func() {
			EnableTestMode()

			err := errors.New("watchdog timeout")
			Expect(allowSend(sentry.LevelWarning, err, time.Now())).To(BeTrue())
			Expect(allowSend(sentry.LevelWarning, err, time.Now())).To(BeTrue())
		})
	})

	Describe("event creation", func() {
		It("uses the first phrase as title", func() {
			Expect(getMeaningfulErrorTitle(errors.New("recovery step kill PTS.exe failed: denied"))).
				To(Equal("recovery step kill PTS"))
		})

		It("adds context as tags and fingerprint", func() {
			event := createSentryEventWithContext(sentry.LevelWarning, errors.New("boom"), map[string]interface{}{
				"step":  "power-off",
				"port":  50000,
				"ports": []string{"1", "2"},
			})

			Expect(event.Tags).To(HaveKeyWithValue("step", "power-off"))
			Expect(event.Tags).To(HaveKeyWithValue("port", "50000"))
			Expect(event.Extra).To(HaveKey("ports"))
			Expect(event.Fingerprint).To(ContainElement("step: power-off"))
		})

		It("attaches goroutines to error events", func() {
			event := createSentryEvent(sentry.LevelError, errors.New("boom"))
			Expect(event.Threads).NotTo(BeEmpty())
			Expect(event.Attachments).To(HaveLen(1))
		})
	})

	It("never panics on fatal issues", func() {
		log := zaptest.NewLogger(GinkgoT()).Sugar()
		Expect(func() {
			ReportIssue(errors.New("fleet failed"), IssueTypeFatal, log)
		}).NotTo(Panic())
	})
})
