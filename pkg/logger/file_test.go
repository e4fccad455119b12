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

package logger_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/fleetguard/pkg/logger"
)

var _ = Describe("Worker log files", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("names the file after the port", func() {
		Expect(logger.WorkerLogFileName(50000)).To(Equal("fleetguard_50000.log"))
	})

	It("writes worker entries to the per-port file", func() {
		log, closeFn, err := logger.ForWorker(50001, dir)
		Expect(err).NotTo(HaveOccurred())

		log.Infof("Serving on port %d", 50001)
		_ = log.Sync()
		Expect(closeFn()).To(Succeed())

		content, err := os.ReadFile(filepath.Join(dir, "fleetguard_50001.log"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("Serving on port 50001"))
	})

	It("only logs to the console when no directory is given", func() {
		log, closeFn, err := logger.ForWorker(50002, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(log).NotTo(BeNil())
		Expect(closeFn()).To(Succeed())
	})

	It("removes only stale worker log files", func() {
		for _, name := range []string{"fleetguard_50000.log", "fleetguard_50001.log", "other.log", "fleetguard_notes.txt"} {
			Expect(os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)).To(Succeed())
		}

		removed, err := logger.RemoveStaleLogFiles(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(2))

		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}

		Expect(names).To(ConsistOf("other.log", "fleetguard_notes.txt"))
	})

	It("treats a missing directory as nothing to clean", func() {
		removed, err := logger.RemoveStaleLogFiles(filepath.Join(dir, "missing"))
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeZero())
	})
})
