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

package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/fleetguard/pkg/config"
)

var _ = Describe("Config", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()

		for _, key := range []string{
			config.EnvPorts, config.EnvRecovery, config.EnvSuperguard, config.EnvHardwarePorts,
			config.EnvEngineCommand, config.EnvWorkspacesDir, config.EnvLogDir, config.EnvMetricsPort,
			config.EnvRecoveryLockFile, config.EnvSentryDSN,
		} {
			GinkgoT().Setenv(key, "")
		}
	})

	writeConfig := func(content string) string {
		path := filepath.Join(dir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

		return path
	}

	Describe("Default", func() {
		It("runs one worker on the default port with the engine defaults", func() {
			cfg := config.Default()
			Expect(cfg.Ports).To(Equal([]int{65000}))
			Expect(cfg.Recovery).To(BeFalse())
			Expect(cfg.IdleTimeout()).To(BeZero())
			Expect(cfg.EngineProcessNames).To(Equal([]string{"PTS.exe", "Fts.exe"}))
			Expect(cfg.CleanupDepth).To(Equal(4))
			Expect(cfg.TempFilePrefix).To(Equal("temp_"))
			Expect(cfg.TempFileSuffix).To(Equal(".pqw6"))
			Expect(cfg.Engine.Command).To(BeEmpty())
		})
	})

	Describe("Load", func() {
		It("reads the YAML file on top of the defaults", func() {
			path := writeConfig(`
ports: [50000, 50001]
recovery: true
superguardMinutes: 1.5
hardwarePorts: ["1", "3"]
engine:
  command: /opt/engine/run
  args: ["--headless"]
`)

			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Ports).To(Equal([]int{50000, 50001}))
			Expect(cfg.Recovery).To(BeTrue())
			Expect(cfg.IdleTimeout()).To(Equal(90 * time.Second))
			Expect(cfg.HardwarePorts).To(Equal([]string{"1", "3"}))
			Expect(cfg.Engine.Command).To(Equal("/opt/engine/run"))
			Expect(cfg.Engine.Args).To(Equal([]string{"--headless"}))
			Expect(cfg.CleanupDepth).To(Equal(4))
		})

		It("fails on a missing file", func() {
			_, err := config.Load(filepath.Join(dir, "missing.yaml"))
			Expect(err).To(HaveOccurred())
		})

		It("fails on malformed YAML", func() {
			_, err := config.Load(writeConfig("ports: [oops"))
			Expect(err).To(MatchError(ContainSubstring("failed to parse config file")))
		})
	})

	Describe("environment overrides", func() {
		It("replace file values", func() {
			path := writeConfig("ports: [50000]\nrecovery: false\n")

			GinkgoT().Setenv(config.EnvPorts, "50010,50011")
			GinkgoT().Setenv(config.EnvRecovery, "yes")
			GinkgoT().Setenv(config.EnvSuperguard, "2")
			GinkgoT().Setenv(config.EnvHardwarePorts, "1 2")
			GinkgoT().Setenv(config.EnvEngineCommand, "/usr/bin/engine")

			cfg, err := config.LoadConfigWithEnvOverrides(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Ports).To(Equal([]int{50010, 50011}))
			Expect(cfg.Recovery).To(BeTrue())
			Expect(cfg.IdleTimeout()).To(Equal(2 * time.Minute))
			Expect(cfg.HardwarePorts).To(Equal([]string{"1", "2"}))
			Expect(cfg.Engine.Command).To(Equal("/usr/bin/engine"))
		})

		It("fail on malformed values", func() {
			GinkgoT().Setenv(config.EnvPorts, "fifty")
			_, err := config.ApplyEnvOverrides(config.Default())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Validate", func() {
		valid := func() config.Config {
			cfg := config.Default()
			cfg.Engine.Command = "/opt/engine/run"

			return cfg
		}

		It("accepts the defaults with an engine command", func() {
			Expect(valid().Validate()).To(Succeed())
		})

		It("requires an engine command", func() {
			cfg := valid()
			cfg.Engine.Command = "  "
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("engine.command is required")))
			Expect(config.Default().Validate()).To(MatchError(ContainSubstring("engine.command is required")))
		})

		It("rejects ports outside the dynamic range", func() {
			cfg := valid()
			cfg.Ports = []int{8080}
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("expected range <49152,65535>")))
		})

		It("rejects duplicate ports", func() {
			cfg := valid()
			cfg.Ports = []int{50000, 50000}
			Expect(cfg.Validate()).To(HaveOccurred())
		})

		It("rejects a negative superguard", func() {
			cfg := valid()
			cfg.SuperguardMinutes = -1
			Expect(cfg.Validate()).To(HaveOccurred())
		})

		It("requires a power switch command for hardware ports", func() {
			cfg := valid()
			cfg.HardwarePorts = []string{"1"}
			cfg.PowerSwitchCommand = ""
			Expect(cfg.Validate()).To(HaveOccurred())
		})
	})

	Describe("Clone", func() {
		It("does not share slices with the original", func() {
			cfg := config.Default()
			cfg.Ports = []int{50000, 50001}
			cfg.HardwarePorts = []string{"1"}

			clone, err := cfg.Clone()
			Expect(err).NotTo(HaveOccurred())
			Expect(clone).To(Equal(cfg))

			clone.Ports[0] = 50002
			clone.HardwarePorts[0] = "2"
			Expect(cfg.Ports[0]).To(Equal(50000))
			Expect(cfg.HardwarePorts[0]).To(Equal("1"))
		})
	})
})
