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

package supervisor_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/united-manufacturing-hub/fleetguard/pkg/config"
	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/engine"
	"github.com/united-manufacturing-hub/fleetguard/pkg/failure"
	"github.com/united-manufacturing-hub/fleetguard/pkg/failurequeue"
	"github.com/united-manufacturing-hub/fleetguard/pkg/logger"
	"github.com/united-manufacturing-hub/fleetguard/pkg/portmanager"
	"github.com/united-manufacturing-hub/fleetguard/pkg/recovery"
	"github.com/united-manufacturing-hub/fleetguard/pkg/rpc"
	"github.com/united-manufacturing-hub/fleetguard/pkg/supervisor"
	"github.com/united-manufacturing-hub/fleetguard/pkg/watchdog"
	"github.com/united-manufacturing-hub/fleetguard/pkg/worker"
)

var allocator = portmanager.NewWorkerPortAllocator()

// fakeWorker never listens, tests drive its lifetime directly.
type fakeWorker struct {
	reporter     failurequeue.Reporter
	startErr     error
	done         chan struct{}
	port         int
	terminations atomic.Int32
	alive        atomic.Bool
	once         sync.Once
}

func newFakeWorker(port int, reporter failurequeue.Reporter) *fakeWorker {
	return &fakeWorker{port: port, reporter: reporter, done: make(chan struct{})}
}

func (w *fakeWorker) Port() int { return w.port }

func (w *fakeWorker) Start(context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}

	w.alive.Store(true)

	return nil
}

func (w *fakeWorker) Serve() error {
	<-w.done

	return nil
}

func (w *fakeWorker) RequestTermination(cause string) {
	w.terminations.Add(1)
	w.once.Do(func() {
		if cause != "" {
			w.reporter.Push(cause)
		}
		w.alive.Store(false)
		close(w.done)
	})
}

// die stops the worker without reporting anything.
func (w *fakeWorker) die() {
	w.once.Do(func() {
		w.alive.Store(false)
		close(w.done)
	})
}

func (w *fakeWorker) LastStart() time.Time  { return time.Now() }
func (w *fakeWorker) Alive() bool           { return w.alive.Load() }
func (w *fakeWorker) Done() <-chan struct{} { return w.done }

type fakeFleet struct {
	workers []*fakeWorker
	mu      sync.Mutex
}

func (f *fakeFleet) factory(prepare func(*fakeWorker)) supervisor.WorkerFactory {
	return func(port int, _ config.Config, reporter failurequeue.Reporter) supervisor.Worker {
		w := newFakeWorker(port, reporter)
		if prepare != nil {
			prepare(w)
		}

		f.mu.Lock()
		f.workers = append(f.workers, w)
		f.mu.Unlock()

		return w
	}
}

func (f *fakeFleet) all() []*fakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*fakeWorker(nil), f.workers...)
}

type countingRecoverer struct {
	runs atomic.Int32
}

func (c *countingRecoverer) Recover(context.Context, []string) recovery.Report {
	c.runs.Add(1)

	return recovery.Report{}
}

const fastTiming = 20 * time.Millisecond

func fast() supervisor.Option {
	return supervisor.WithTiming(fastTiming, fastTiming, 10*time.Second)
}

func runAsync(ctx context.Context, sup *supervisor.Supervisor) <-chan int {
	exit := make(chan int, 1)
	go func() {
		defer GinkgoRecover()
		exit <- sup.Run(ctx)
	}()

	return exit
}

func allocatePorts(n int) []int {
	GinkgoHelper()

	ports := make([]int, 0, n)
	for range n {
		port, err := allocator.AllocatePort(context.Background())
		Expect(err).NotTo(HaveOccurred())
		ports = append(ports, port)
		DeferCleanup(allocator.ReleasePort, port)
	}

	return ports
}

var _ = Describe("Supervisor", func() {
	var (
		cfg    config.Config
		ctx    context.Context
		cancel context.CancelCauseFunc
	)

	BeforeEach(func() {
		cfg = config.Default()
		cfg.WorkspacesDir = GinkgoT().TempDir()
		ctx, cancel = context.WithCancelCause(context.Background())
		DeferCleanup(func() { cancel(supervisor.ErrShutdown) })
	})

	Describe("with real workers", func() {
		It("starts one reachable worker per port and shuts down gracefully", func() {
			cfg.Ports = allocatePorts(2)
			sup := supervisor.New(cfg, engine.FakeFactory(nil),
				fast(), supervisor.WithWatchdog(watchdog.NewFakeWatchdog()), supervisor.WithRecoverer(&countingRecoverer{}))

			exit := runAsync(ctx, sup)

			Eventually(sup.State, 10*time.Second).Should(Equal(supervisor.StateFleetRunning))
			fleet := sup.Fleet()
			Expect(fleet).To(HaveLen(2))

			for i, w := range fleet {
				Expect(w.Port()).To(Equal(cfg.Ports[i]))
				client := rpc.NewClient(fmt.Sprintf("http://127.0.0.1:%d/", w.Port()), rpc.WithRetries(0, 0))
				names, err := client.ListMethods(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(names).To(ContainElement(worker.MethodRequestRecovery))
			}

			cancel(supervisor.ErrShutdown)
			Eventually(exit, 20*time.Second).Should(Receive(Equal(constants.ExitCodeSuccess)))
			Expect(sup.State()).To(Equal(supervisor.StateTerminated))

			for _, w := range fleet {
				Expect(w.Done()).To(BeClosed())
			}
		})

		It("exits fatally when one worker dies and recovery is disabled", func() {
			cfg.Ports = allocatePorts(2)

			var (
				mu        sync.Mutex
				listeners = map[int]net.Listener{}
			)

			factory := func(port int, cfg config.Config, reporter failurequeue.Reporter) supervisor.Worker {
				lc := &net.ListenConfig{}

				return worker.NewServer(port, cfg, engine.FakeFactory(nil), reporter,
					worker.WithListenFunc(func(ctx context.Context, network, address string) (net.Listener, error) {
						l, err := lc.Listen(ctx, network, address)
						if err == nil {
							mu.Lock()
							listeners[port] = l
							mu.Unlock()
						}

						return l, err
					}))
			}

			recoverer := &countingRecoverer{}
			sup := supervisor.New(cfg, nil, fast(),
				supervisor.WithWorkerFactory(factory),
				supervisor.WithWatchdog(watchdog.NewFakeWatchdog()),
				supervisor.WithRecoverer(recoverer))

			exit := runAsync(ctx, sup)
			Eventually(sup.State, 10*time.Second).Should(Equal(supervisor.StateFleetRunning))
			fleet := sup.Fleet()
			Expect(fleet).To(HaveLen(2))

			mu.Lock()
			killed := listeners[cfg.Ports[0]]
			mu.Unlock()
			Expect(killed.Close()).To(Succeed())

			Eventually(exit, 20*time.Second).Should(Receive(Equal(constants.ExitCodeFatal)))
			Expect(recoverer.runs.Load()).To(BeZero())
			for _, w := range fleet {
				Expect(w.Done()).To(BeClosed())
				Expect(w.Alive()).To(BeFalse())
			}
		})

		It("recovers from a crashing worker and restarts it on the same port", func() {
			cfg.Ports = allocatePorts(1)
			cfg.Recovery = true

			factory := engine.FakeFactory(func(_ int, f *engine.Fake) {
				f.AddMethod("explode", rpc.Method{Call: func(context.Context, rpc.Params) (any, error) {
					panic("engine handle vanished")
				}})
			})

			effects := recovery.NewRecordingEffects()
			sup := supervisor.New(cfg, factory, fast(),
				supervisor.WithWatchdog(watchdog.NewFakeWatchdog()),
				supervisor.WithRecoverer(recovery.NewExecutor(cfg, effects)),
				supervisor.WithRestartBackoff(fastTiming, fastTiming))

			exit := runAsync(ctx, sup)
			Eventually(sup.State, 10*time.Second).Should(Equal(supervisor.StateFleetRunning))
			first := sup.Fleet()[0]

			client := rpc.NewClient(fmt.Sprintf("http://127.0.0.1:%d/", cfg.Ports[0]), rpc.WithRetries(0, 0))
			Expect(client.Notify(ctx, "explode")).NotTo(Succeed())

			Eventually(sup.Recoveries, 20*time.Second).Should(Equal(1))
			Expect(effects.Calls()).To(ContainElement("remove " + cfg.WorkspacesDir))

			Eventually(func() bool {
				fleet := sup.Fleet()

				return sup.State() == supervisor.StateFleetRunning && len(fleet) == 1 && fleet[0] != first
			}, 20*time.Second).Should(BeTrue())
			Expect(sup.Fleet()[0].Port()).To(Equal(cfg.Ports[0]))
			Expect(exit).NotTo(Receive())

			names, err := client.ListMethods(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(ContainElement("explode"))

			cancel(supervisor.ErrInterrupted)
			Eventually(exit, 20*time.Second).Should(Receive(Equal(constants.ExitCodeInterrupted)))
			Expect(sup.Recoveries()).To(Equal(1))
		})

		It("restarts an idle fleet through a real watchdog even with recovery disabled", func() {
			cfg.Ports = allocatePorts(2)

			// only the first fleet goes idle, its successors keep working
			var created atomic.Int32
			factory := engine.FakeFactory(func(_ int, f *engine.Fake) {
				if created.Add(1) <= int32(len(cfg.Ports)) {
					return
				}

				go func() {
					ticker := time.NewTicker(10 * time.Millisecond)
					defer ticker.Stop()

					for {
						select {
						case <-ticker.C:
							f.Touch()
						case <-ctx.Done():
							return
						}
					}
				}()
			})

			dog := watchdog.NewWatchdog(200*time.Millisecond, logger.For(logger.ComponentWatchdog),
				watchdog.WithInterval(20*time.Millisecond))
			recoverer := &countingRecoverer{}
			sup := supervisor.New(cfg, factory, fast(),
				supervisor.WithWatchdog(dog),
				supervisor.WithRecoverer(recoverer),
				supervisor.WithRestartBackoff(fastTiming, fastTiming))

			exit := runAsync(ctx, sup)
			Eventually(sup.State, 10*time.Second).Should(Equal(supervisor.StateFleetRunning))
			first := sup.Fleet()
			Expect(first).To(HaveLen(2))

			Eventually(recoverer.runs.Load, 10*time.Second).Should(BeEquivalentTo(1))
			for _, w := range first {
				Expect(w.Done()).To(BeClosed())
			}

			Eventually(func() bool {
				fleet := sup.Fleet()

				return sup.State() == supervisor.StateFleetRunning && len(fleet) == 2 && fleet[0] != first[0]
			}, 10*time.Second).Should(BeTrue())
			for i, w := range sup.Fleet() {
				Expect(w.Port()).To(Equal(cfg.Ports[i]))
				Expect(w.Alive()).To(BeTrue())
			}
			Expect(dog.Fired()).To(BeFalse())
			Expect(dog.Len()).To(Equal(2))
			Expect(sup.Recoveries()).To(Equal(1))

			Consistently(recoverer.runs.Load, 500*time.Millisecond).Should(BeEquivalentTo(1))
			Expect(exit).NotTo(Receive())

			cancel(supervisor.ErrShutdown)
			Eventually(exit, 20*time.Second).Should(Receive(Equal(constants.ExitCodeSuccess)))
		})
	})

	Describe("with fake workers", func() {
		BeforeEach(func() {
			cfg.Ports = []int{50000, 50001}
		})

		It("detects a worker that stopped without reporting", func() {
			fleet := &fakeFleet{}
			sup := supervisor.New(cfg, nil, fast(),
				supervisor.WithWorkerFactory(fleet.factory(nil)),
				supervisor.WithWatchdog(watchdog.NewFakeWatchdog()),
				supervisor.WithRecoverer(&countingRecoverer{}))

			exit := runAsync(ctx, sup)
			Eventually(sup.State, 5*time.Second).Should(Equal(supervisor.StateFleetRunning))

			workers := fleet.all()
			Expect(workers).To(HaveLen(2))
			workers[1].die()

			Eventually(exit, 5*time.Second).Should(Receive(Equal(constants.ExitCodeFatal)))
			Expect(workers[0].terminations.Load()).To(BeNumerically(">=", 1))
			Expect(workers[0].Alive()).To(BeFalse())
		})

		It("recovers after a watchdog fire even with recovery disabled", func() {
			fleet := &fakeFleet{}
			fake := watchdog.NewFakeWatchdog()
			recoverer := &countingRecoverer{}
			sup := supervisor.New(cfg, nil, fast(),
				supervisor.WithWorkerFactory(fleet.factory(nil)),
				supervisor.WithWatchdog(fake),
				supervisor.WithRecoverer(recoverer),
				supervisor.WithRestartBackoff(fastTiming, fastTiming))

			exit := runAsync(ctx, sup)
			Eventually(sup.State, 5*time.Second).Should(Equal(supervisor.StateFleetRunning))
			Expect(fake.Len()).To(Equal(2))

			fake.SetFired(true)
			for _, w := range fleet.all() {
				w.RequestTermination(failure.NewFleetTimeout(w.Port(), 11*time.Minute).Error())
			}

			Eventually(recoverer.runs.Load, 5*time.Second).Should(BeEquivalentTo(1))
			Expect(fake.Clears()).To(Equal(1))
			Expect(fake.Fired()).To(BeFalse())

			Eventually(func() int { return len(fleet.all()) }, 5*time.Second).Should(Equal(4))
			Eventually(sup.State, 5*time.Second).Should(Equal(supervisor.StateFleetRunning))
			Expect(exit).NotTo(Receive())

			cancel(supervisor.ErrShutdown)
			Eventually(exit, 5*time.Second).Should(Receive(Equal(constants.ExitCodeSuccess)))
		})

		DescribeTable("aborts fleet construction when a worker cannot start",
			func(startErr error, logged string) {
				fleet := &fakeFleet{}
				prepare := func(w *fakeWorker) {
					if w.port == 50000 {
						w.startErr = startErr
					}
				}

				core, logs := observer.New(zap.InfoLevel)
				sup := supervisor.New(cfg, nil, fast(),
					supervisor.WithLogger(zap.New(core).Sugar()),
					supervisor.WithWorkerFactory(fleet.factory(prepare)),
					supervisor.WithWatchdog(watchdog.NewFakeWatchdog()),
					supervisor.WithRecoverer(&countingRecoverer{}))

				Expect(sup.Run(ctx)).To(Equal(constants.ExitCodeFatal))
				Expect(fleet.all()).To(HaveLen(1))
				Expect(sup.State()).To(Equal(supervisor.StateTerminated))
				Expect(logs.FilterMessageSnippet(logged).Len()).To(Equal(1))
			},
			Entry("port in use",
				failure.NewBindError(50000, errors.New("address already in use")),
				"Port 50000 is still held by another process"),
			Entry("engine unavailable",
				failure.NewEngineInitError(50000, errors.New("dongle not found")),
				"Automation engine for port 50000 is not available"),
			Entry("untyped error",
				errors.New("config clone failed"),
				"Worker on port 50000 did not start"),
		)

		It("exits with the interrupt code and skips recovery", func() {
			cfg.Recovery = true
			fleet := &fakeFleet{}
			recoverer := &countingRecoverer{}
			sup := supervisor.New(cfg, nil, fast(),
				supervisor.WithWorkerFactory(fleet.factory(nil)),
				supervisor.WithWatchdog(watchdog.NewFakeWatchdog()),
				supervisor.WithRecoverer(recoverer))

			exit := runAsync(ctx, sup)
			Eventually(sup.State, 5*time.Second).Should(Equal(supervisor.StateFleetRunning))

			cancel(supervisor.ErrInterrupted)
			Eventually(exit, 5*time.Second).Should(Receive(Equal(constants.ExitCodeInterrupted)))
			Expect(recoverer.runs.Load()).To(BeZero())
			for _, w := range fleet.all() {
				Expect(w.Done()).To(BeClosed())
			}
		})
	})
})
