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

// Package worker implements the supervised worker endpoint: one listener on
// one port, one engine, and exactly one termination.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/fleetguard/pkg/config"
	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
	"github.com/united-manufacturing-hub/fleetguard/pkg/engine"
	"github.com/united-manufacturing-hub/fleetguard/pkg/failure"
	"github.com/united-manufacturing-hub/fleetguard/pkg/failurequeue"
	"github.com/united-manufacturing-hub/fleetguard/pkg/logger"
	"github.com/united-manufacturing-hub/fleetguard/pkg/metrics"
	"github.com/united-manufacturing-hub/fleetguard/pkg/rpc"
	"github.com/united-manufacturing-hub/fleetguard/pkg/sentry"
	"github.com/united-manufacturing-hub/fleetguard/pkg/service/filesystem"
	"github.com/united-manufacturing-hub/fleetguard/pkg/workspace"
)

// ListenFunc opens the listener of a worker.
type ListenFunc func(ctx context.Context, network, address string) (net.Listener, error)

// Server is one worker endpoint.
type Server struct {
	engine     engine.Engine
	reporter   failurequeue.Reporter
	fs         filesystem.Service
	listener   net.Listener
	httpServer *http.Server
	lifecycle  *fsm.FSM
	log        *zap.SugaredLogger
	closeLog   func() error
	listen     ListenFunc
	factory    engine.Factory
	workspaces *workspace.Service
	done       chan struct{}
	shutdown   chan struct{}
	id         string
	cfg        config.Config
	port       int

	terminateOnce sync.Once
	finishOnce    sync.Once
	mu            sync.RWMutex
	served        atomic.Bool
	alive         atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithListenFunc replaces net.ListenConfig.Listen.
func WithListenFunc(listen ListenFunc) Option {
	return func(s *Server) {
		s.listen = listen
	}
}

// WithFilesystem replaces the default filesystem service.
func WithFilesystem(fs filesystem.Service) Option {
	return func(s *Server) {
		s.fs = fs
	}
}

// NewServer creates the worker for port. It does nothing until Start.
// Causes of failures are pushed to reporter, which may be nil.
func NewServer(port int, cfg config.Config, factory engine.Factory, reporter failurequeue.Reporter, opts ...Option) *Server {
	log, closeLog, err := logger.ForWorker(port, cfg.LogDir)
	if err != nil {
		log.Warnf("Logging to console only: %v", err)
	}

	lc := &net.ListenConfig{}

	s := &Server{
		port:     port,
		id:       uuid.NewString(),
		cfg:      cfg,
		factory:  factory,
		reporter: reporter,
		log:      log,
		closeLog: closeLog,
		listen:   lc.Listen,
		fs:       filesystem.NewDefaultService(),
		done:     make(chan struct{}),
		shutdown: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.workspaces = workspace.NewService(s.fs, cfg.WorkspacesDir)
	s.lifecycle = newLifecycle(port, log)

	return s
}

// Port returns the port the worker listens on.
func (s *Server) Port() int {
	return s.port
}

// ID identifies this worker generation, a restarted fleet gets new ids on the same ports.
func (s *Server) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Server) State() string {
	return s.lifecycle.Current()
}

// Alive reports whether the worker started and its serve loop has not returned.
func (s *Server) Alive() bool {
	return s.alive.Load()
}

// Done is closed once the worker reached StateStopped.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// LastStart is the last activity of the engine, or now when there is no engine yet.
func (s *Server) LastStart() time.Time {
	s.mu.RLock()
	eng := s.engine
	s.mu.RUnlock()

	if eng == nil {
		return time.Now()
	}

	return eng.LastActivity()
}

// Addr returns the listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Start binds the endpoint and creates the engine.
func (s *Server) Start(ctx context.Context) error {
	if state := s.State(); state != StateStarting {
		return fmt.Errorf("worker on port %d cannot start in state %s", s.port, state)
	}

	listener, err := s.listen(ctx, "tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return s.startFailed(failure.NewBindError(s.port, err))
	}

	eng, err := s.factory(ctx, s.port)
	if err != nil {
		_ = listener.Close()

		return s.startFailed(failure.NewEngineInitError(s.port, err))
	}

	registry := rpc.NewRegistry(rpc.WithObserver(func(method string) {
		metrics.IncWorkerRequest(s.port, method)
	}))

	if err := s.registerMethods(registry, eng); err != nil {
		_ = listener.Close()
		_ = eng.Shutdown(ctx)

		return s.startFailed(failure.NewEngineInitError(s.port, err))
	}

	// shutdownEndpoint reads the endpoint under mu, so it either sees a
	// running worker with its endpoint or a terminated one without it.
	s.mu.Lock()
	if err := s.lifecycle.Event(context.Background(), EventStarted); err != nil {
		s.mu.Unlock()

		_ = listener.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.WorkerShutdownTimeout)
		if shutdownErr := eng.Shutdown(shutdownCtx); shutdownErr != nil {
			s.log.Warnf("Engine shutdown failed: %v", shutdownErr)
		}
		cancel()

		return fmt.Errorf("worker on port %d was terminated while starting: %w", s.port, err)
	}

	s.listener = listener
	s.engine = eng
	s.httpServer = &http.Server{
		Handler:           gzhttp.GzipHandler(s.router(registry)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.alive.Store(true)
	s.mu.Unlock()

	s.log.Infof("Local IPs: %v", localIPs())
	s.log.Infof("Serving on port %d", s.port)

	return nil
}

func (s *Server) startFailed(err error) error {
	sentry.ReportWorkerError(s.log, s.port, "start", err)

	if fsmErr := s.lifecycle.Event(context.Background(), EventStartFailed); fsmErr != nil {
		s.log.Debugf("Worker on port %d: %v", s.port, fsmErr)
	}

	s.finish()

	return err
}

func (s *Server) router(registry *rpc.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		crash := failure.NewWorkerCrash(s.port, fmt.Errorf("panic while serving %s: %v", c.Request.URL.Path, recovered))
		sentry.ReportWorkerError(s.log, s.port, "serve", crash)

		c.AbortWithStatusJSON(http.StatusInternalServerError, rpc.Response{
			Error: &rpc.Fault{Code: rpc.CodeHandlerError, Message: crash.Error()},
		})

		s.RequestTermination(crash.Error())
	}))
	registry.Mount(router)

	return router
}

// Serve blocks until the endpoint stopped. Any fault on the way, a panic or
// the listener failing, terminates the worker with a WorkerCrash cause.
// When Serve returns the engine is shut down and the worker is stopped.
func (s *Server) Serve() (err error) {
	s.mu.RLock()
	httpServer, listener := s.httpServer, s.listener
	s.mu.RUnlock()

	if httpServer == nil {
		return errors.New("worker was not started")
	}

	if !s.served.CompareAndSwap(false, true) {
		return errors.New("worker is already serving")
	}

	defer func() {
		if r := recover(); r != nil {
			err = failure.NewWorkerCrash(s.port, fmt.Errorf("panic: %v", r))
		}

		if failure.IsWorkerCrash(err) {
			sentry.ReportWorkerError(s.log, s.port, "serve", err)
			s.RequestTermination(err.Error())
		}

		s.stop()
	}()

	serveErr := httpServer.Serve(listener)
	if !errors.Is(serveErr, http.ErrServerClosed) {
		return failure.NewWorkerCrash(s.port, serveErr)
	}

	return nil
}

// RequestTermination stops the worker. Only the first call has an effect:
// it pushes cause, if non-empty, and shuts the endpoint down on another
// goroutine. It never blocks.
func (s *Server) RequestTermination(cause string) {
	s.terminateOnce.Do(func() {
		if cause != "" {
			s.log.Warnf("Terminating worker on port %d: %s", s.port, cause)

			if s.reporter != nil {
				s.reporter.Push(cause)
			}
		} else {
			s.log.Infof("Terminating worker on port %d", s.port)
		}

		if err := s.lifecycle.Event(context.Background(), EventTerminate); err != nil {
			s.log.Debugf("Worker on port %d: %v", s.port, err)
		}

		go s.shutdownEndpoint()
	})
}

func (s *Server) shutdownEndpoint() {
	s.mu.RLock()
	httpServer, listener := s.httpServer, s.listener
	s.mu.RUnlock()

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.WorkerShutdownTimeout)
		if err := httpServer.Shutdown(ctx); err != nil {
			s.log.Warnf("Graceful shutdown of port %d failed, closing: %v", s.port, err)
			_ = httpServer.Close()
		}
		cancel()
	}

	close(s.shutdown)

	// Serve never ran, nobody else will release the listener and stop the worker
	if !s.served.Load() {
		if listener != nil {
			_ = listener.Close()
		}

		s.stop()
	}
}

// stop runs once the endpoint is down: shuts the engine down and marks the worker stopped.
func (s *Server) stop() {
	s.RequestTermination("")
	<-s.shutdown

	s.finishOnce.Do(func() {
		s.mu.RLock()
		eng := s.engine
		s.mu.RUnlock()

		if eng != nil {
			ctx, cancel := context.WithTimeout(context.Background(), constants.WorkerShutdownTimeout)
			if err := eng.Shutdown(ctx); err != nil {
				s.log.Warnf("Engine shutdown failed: %v", err)
			}
			cancel()
		}

		if err := s.lifecycle.Event(context.Background(), EventStopped); err != nil {
			s.log.Debugf("Worker on port %d: %v", s.port, err)
		}

		s.alive.Store(false)
		s.log.Infof("Worker on port %d stopped", s.port)
		_ = s.closeLog()
		close(s.done)
	})
}

// finish marks a worker that never started as stopped.
func (s *Server) finish() {
	s.finishOnce.Do(func() {
		s.alive.Store(false)
		_ = s.closeLog()
		close(s.done)
	})
}

func localIPs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	ips := make([]string, 0, len(addrs))

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
			ips = append(ips, ipNet.IP.String())
		}
	}

	return ips
}
