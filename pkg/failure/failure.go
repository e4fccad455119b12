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

// Package failure defines the error kinds a fleet can fail with.
//
// Worker failures travel to the supervisor as plain text through the failure
// queue, Error() therefore always produces a self-contained message that
// names the port. The kind is kept for logs and metrics.
package failure

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind categorizes a fleet failure.
type Kind string

const (
	// KindBind means the worker port is already in use.
	KindBind Kind = "bind"
	// KindEngineInit means the automation handle could not be created.
	KindEngineInit Kind = "engine_init"
	// KindWorkerCrash is an unhandled fault while serving requests.
	KindWorkerCrash Kind = "worker_crash"
	// KindWorkerDown is a worker that stopped without reporting why.
	KindWorkerDown Kind = "worker_down"
	// KindFleetTimeout is fleet wide idleness detected by the watchdog.
	KindFleetTimeout Kind = "fleet_timeout"
	// KindRecoveryRequest is a client asking for recovery through the endpoint.
	KindRecoveryRequest Kind = "recovery_request"
	// KindRecoveryStep is a recovery step that did not complete. Never fatal.
	KindRecoveryStep Kind = "recovery_step"
	// KindUnknown is used for causes that cannot be classified.
	KindUnknown Kind = "unknown"
)

// Error is a categorized fleet failure.
type Error struct {
	Err  error
	Kind Kind
	// Port is the worker port, 0 if the failure is not bound to a worker.
	Port int
	// Step names the recovery step for KindRecoveryStep.
	Step string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindBind:
		return fmt.Sprintf("worker on port %d: bind failed: %v", e.Port, e.Err)
	case KindEngineInit:
		return fmt.Sprintf("worker on port %d: engine initialization failed: %v", e.Port, e.Err)
	case KindWorkerCrash:
		return fmt.Sprintf("from worker on port %d: %v", e.Port, e.Err)
	case KindWorkerDown:
		return fmt.Sprintf("worker on port %d is down", e.Port)
	case KindFleetTimeout:
		return fmt.Sprintf("watchdog timeout: worker on port %d %v", e.Port, e.Err)
	case KindRecoveryRequest:
		return fmt.Sprintf("recovery request on port %d", e.Port)
	case KindRecoveryStep:
		return fmt.Sprintf("recovery step %s failed: %v", e.Step, e.Err)
	default:
		return fmt.Sprintf("%v", e.Err)
	}
}

// Unwrap returns the underlying wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewBindError wraps a listener error of the worker on port.
func NewBindError(port int, err error) error {
	return &Error{Kind: KindBind, Port: port, Err: err}
}

// NewEngineInitError wraps an engine factory error of the worker on port.
func NewEngineInitError(port int, err error) error {
	return &Error{Kind: KindEngineInit, Port: port, Err: err}
}

// NewWorkerCrash wraps a fault raised while the worker on port was serving.
func NewWorkerCrash(port int, err error) error {
	return &Error{Kind: KindWorkerCrash, Port: port, Err: err}
}

// NewWorkerDown reports a worker on port that stopped without a cause.
func NewWorkerDown(port int) error {
	return &Error{Kind: KindWorkerDown, Port: port, Err: errors.New("worker stopped without reporting")}
}

// NewFleetTimeout reports that the worker on port was idle for idle, as part of an all idle fleet.
func NewFleetTimeout(port int, idle time.Duration) error {
	return &Error{Kind: KindFleetTimeout, Port: port, Err: fmt.Errorf("idle for %s", idle.Truncate(time.Second))}
}

// NewRecoveryRequest reports a recovery triggered by a client of the worker on port.
func NewRecoveryRequest(port int) error {
	return &Error{Kind: KindRecoveryRequest, Port: port, Err: errors.New("recovery requested by client")}
}

// NewRecoveryStepFailure wraps the error of a recovery step.
func NewRecoveryStepFailure(step string, err error) error {
	return &Error{Kind: KindRecoveryStep, Step: step, Err: err}
}

// KindOf returns the kind of a categorized error and KindUnknown otherwise.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindUnknown
}

func IsBindError(err error) bool       { return KindOf(err) == KindBind }
func IsEngineInitError(err error) bool { return KindOf(err) == KindEngineInit }
func IsWorkerCrash(err error) bool     { return KindOf(err) == KindWorkerCrash }

// causePrefixes maps the message prefixes produced by Error() back to kinds.
var causePrefixes = []struct {
	prefix string
	kind   Kind
}{
	{"watchdog timeout", KindFleetTimeout},
	{"from worker on port", KindWorkerCrash},
	{"recovery request", KindRecoveryRequest},
	{"recovery step", KindRecoveryStep},
}

// KindOfCause classifies a cause string taken from the failure queue.
func KindOfCause(cause string) Kind {
	for _, p := range causePrefixes {
		if strings.HasPrefix(cause, p.prefix) {
			return p.kind
		}
	}

	switch {
	case strings.Contains(cause, ": bind failed:"):
		return KindBind
	case strings.Contains(cause, ": engine initialization failed:"):
		return KindEngineInit
	case strings.HasSuffix(cause, " is down"):
		return KindWorkerDown
	}

	return KindUnknown
}
