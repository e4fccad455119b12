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

package main

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/fleetguard/pkg/config"
	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
)

var _ = Describe("root command", func() {
	var (
		got      *config.Config
		exitCode int
	)

	execute := func(args ...string) error {
		GinkgoHelper()

		got = nil
		exitCode = -1

		cmd := newRootCommand(func(cfg config.Config) int {
			got = &cfg

			return constants.ExitCodeInterrupted
		}, &exitCode)
		cmd.SetArgs(args)
		cmd.SetOut(GinkgoWriter)
		cmd.SetErr(GinkgoWriter)

		return cmd.Execute()
	}

	BeforeEach(func() {
		for _, key := range []string{
			config.EnvPorts, config.EnvRecovery, config.EnvSuperguard, config.EnvHardwarePorts,
			config.EnvEngineCommand, config.EnvWorkspacesDir, config.EnvLogDir, config.EnvMetricsPort,
		} {
			GinkgoT().Setenv(key, "")
		}
		GinkgoT().Setenv(config.EnvEngineCommand, "/usr/bin/engine")
	})

	It("runs the default fleet without flags", func() {
		Expect(execute()).To(Succeed())
		Expect(got).NotTo(BeNil())
		Expect(got.Ports).To(Equal([]int{constants.DefaultWorkerPort}))
		Expect(got.Recovery).To(BeFalse())
		Expect(got.SuperguardMinutes).To(BeZero())
		Expect(got.Engine.Command).To(Equal("/usr/bin/engine"))
		Expect(exitCode).To(Equal(constants.ExitCodeInterrupted))
	})

	It("applies every flag", func() {
		Expect(execute(
			"-S", "50000", "--srv_port", "50001",
			"--recovery",
			"--superguard", "12.5",
			"--ykush", "1,2",
			"--engine-command", "/opt/engine/run",
			"--workspaces", "/srv/workspaces",
			"--log-dir", "/var/log/fleetguard",
			"--metrics-port", "9102",
		)).To(Succeed())

		Expect(got.Ports).To(Equal([]int{50000, 50001}))
		Expect(got.Recovery).To(BeTrue())
		Expect(got.SuperguardMinutes).To(Equal(12.5))
		Expect(got.HardwarePorts).To(Equal([]string{"1", "2"}))
		Expect(got.Engine.Command).To(Equal("/opt/engine/run"))
		Expect(got.WorkspacesDir).To(Equal("/srv/workspaces"))
		Expect(got.LogDir).To(Equal("/var/log/fleetguard"))
		Expect(got.MetricsPort).To(Equal(9102))
	})

	It("lets flags win over the config file and the environment", func() {
		path := filepath.Join(GinkgoT().TempDir(), "fleetguard.yaml")
		Expect(os.WriteFile(path, []byte("ports: [50010]\nrecovery: true\nsuperguardMinutes: 3\n"), 0o600)).To(Succeed())
		GinkgoT().Setenv(config.EnvSuperguard, "7")

		Expect(execute("--config", path, "-S", "50020")).To(Succeed())

		Expect(got.Ports).To(Equal([]int{50020}))
		Expect(got.Recovery).To(BeTrue())
		Expect(got.SuperguardMinutes).To(Equal(7.0))
	})

	It("rejects a port outside the dynamic range", func() {
		err := execute("-S", "8080")
		Expect(err).To(MatchError(errInvalidConfig))
		Expect(err.Error()).To(ContainSubstring("invalid server port number=8080"))
		Expect(got).To(BeNil())
	})

	It("rejects a negative idle timeout", func() {
		Expect(execute("--superguard=-1")).To(MatchError(errInvalidConfig))
	})

	It("rejects a missing engine command before running the fleet", func() {
		GinkgoT().Setenv(config.EnvEngineCommand, "")

		err := execute("--recovery")
		Expect(err).To(MatchError(errInvalidConfig))
		Expect(err.Error()).To(ContainSubstring("engine.command is required"))
		Expect(got).To(BeNil())
	})

	It("rejects a missing config file", func() {
		Expect(execute("--config", filepath.Join(GinkgoT().TempDir(), "missing.yaml"))).To(MatchError(errInvalidConfig))
	})
})
