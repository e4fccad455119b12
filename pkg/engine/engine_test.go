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

package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/fleetguard/pkg/config"
	"github.com/united-manufacturing-hub/fleetguard/pkg/engine"
	"github.com/united-manufacturing-hub/fleetguard/pkg/rpc"
)

type recordingCallback struct {
	events [][]any
	mu     sync.Mutex
}

func (r *recordingCallback) Notify(_ context.Context, method string, params ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, append([]any{method}, params...))

	return nil
}

func (r *recordingCallback) Events() [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([][]any(nil), r.events...)
}

func writeScript(body string) string {
	GinkgoHelper()

	path := filepath.Join(GinkgoT().TempDir(), "engine.sh")
	Expect(os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755)).To(Succeed())

	return path
}

var _ = Describe("CommandEngine", func() {
	BeforeEach(func() {
		if runtime.GOOS == "windows" {
			Skip("shell scripts are not available")
		}
	})

	It("fails when the command cannot be resolved", func() {
		_, err := engine.NewCommandEngine(config.EngineConfig{Command: "/nonexistent/pts-runner"}, 50000)
		Expect(err).To(HaveOccurred())

		_, err = engine.NewCommandFactory(config.EngineConfig{})(context.Background(), 50000)
		Expect(errors.Is(err, engine.ErrNoEngineCommand)).To(BeTrue())
	})

	It("runs a test case, marks activity and notifies the callback", func() {
		script := writeScript(`echo "$1:$2"; exit 3`)
		eng, err := engine.NewCommandEngine(config.EngineConfig{Command: script}, 50000)
		Expect(err).NotTo(HaveOccurred())

		before := eng.LastActivity()
		cb := &recordingCallback{}
		Expect(eng.RegisterCallback(context.Background(), cb)).To(Succeed())

		time.Sleep(5 * time.Millisecond)
		result, err := eng.Run(context.Background(), "proj", "tc1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ExitCode).To(Equal(3))
		Expect(result.Output).To(Equal("proj:tc1\n"))
		Expect(eng.LastActivity()).To(BeTemporally(">", before))

		Expect(cb.Events()).To(Equal([][]any{{engine.EventTestCaseFinished, "proj", "tc1", 3}}))
	})

	It("refuses a second test case while one runs and stops it on Shutdown", func() {
		script := writeScript(`sleep 30`)
		eng, err := engine.NewCommandEngine(config.EngineConfig{Command: script}, 50000)
		Expect(err).NotTo(HaveOccurred())

		finished := make(chan engine.RunResult, 1)
		go func() {
			defer GinkgoRecover()
			result, _ := eng.Run(context.Background(), "proj", "long")
			finished <- result
		}()

		Eventually(func() bool { return eng.Status().Running }).Should(BeTrue())

		_, err = eng.Run(context.Background(), "proj", "other")
		Expect(errors.Is(err, engine.ErrBusy)).To(BeTrue())

		Expect(eng.Shutdown(context.Background())).To(Succeed())
		Eventually(finished, 10*time.Second).Should(Receive())
		Expect(eng.Status().Running).To(BeFalse())
	})

	It("does not count a refused test case as activity", func() {
		script := writeScript(`sleep 30`)
		eng, err := engine.NewCommandEngine(config.EngineConfig{Command: script}, 50000)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = eng.Shutdown(context.Background()) })

		go func() {
			defer GinkgoRecover()
			_, _ = eng.Run(context.Background(), "proj", "hanging")
		}()

		Eventually(func() bool { return eng.Status().Running }).Should(BeTrue())
		started := eng.LastActivity()

		time.Sleep(50 * time.Millisecond)
		_, err = eng.Run(context.Background(), "proj", "retry")
		Expect(errors.Is(err, engine.ErrBusy)).To(BeTrue())
		Expect(eng.LastActivity()).To(Equal(started))
	})

	It("does not count a test case that failed to start as activity", func() {
		script := writeScript(`exit 0`)
		eng, err := engine.NewCommandEngine(config.EngineConfig{Command: script, WorkDir: "/nonexistent/workdir"}, 50000)
		Expect(err).NotTo(HaveOccurred())

		before := eng.LastActivity()
		time.Sleep(5 * time.Millisecond)

		_, err = eng.Run(context.Background(), "proj", "tc1")
		Expect(err).To(HaveOccurred())
		Expect(eng.LastActivity()).To(Equal(before))
	})

	It("serves its methods", func() {
		script := writeScript(`exit 0`)
		eng, err := engine.NewCommandEngine(config.EngineConfig{Command: script}, 50001)
		Expect(err).NotTo(HaveOccurred())

		registry := rpc.NewRegistry()
		Expect(registry.RegisterAll(eng.Methods())).To(Succeed())

		params, err := rpc.NewParams("proj", "tc")
		Expect(err).NotTo(HaveOccurred())

		result, err := registry.Call(context.Background(), engine.MethodRunTestCase, params)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(engine.RunResult{ExitCode: 0, Output: ""}))

		status, err := registry.Call(context.Background(), engine.MethodEngineStatus, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.(engine.Status).Port).To(Equal(50001))

		_, err = registry.Call(context.Background(), engine.MethodRunTestCase, nil)
		Expect(errors.Is(err, rpc.ErrInvalidParams)).To(BeTrue())
	})
})

var _ = Describe("Fake", func() {
	It("marks activity through its work method", func() {
		fake := engine.NewFake()
		fake.SetLastActivity(time.Now().Add(-time.Hour))

		_, err := fake.Methods()[engine.MethodFakeWork].Call(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(fake.LastActivity()).To(BeTemporally("~", time.Now(), time.Second))
	})

	It("counts shutdowns", func() {
		fake := engine.NewFake()
		Expect(fake.Shutdown(context.Background())).To(Succeed())
		Expect(fake.ShutdownCalls()).To(Equal(1))
	})
})
