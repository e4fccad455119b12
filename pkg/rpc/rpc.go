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

// Package rpc is the request/response surface of a worker endpoint.
//
// Requests are POSTed as {"method": "...", "params": [...], "id": ...} and
// answered with {"result": ..., "error": {"code": ..., "message": ...}, "id": ...}.
// Method names are discoverable through system.listMethods.
package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Fault codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeHandlerError   = -32000
)

var (
	// ErrMethodNotFound is returned for calls to unregistered methods.
	ErrMethodNotFound = errors.New("method not found")
	// ErrInvalidParams is returned when the params do not fit the method.
	ErrInvalidParams = errors.New("invalid params")
)

// Method is one callable of a registry.
type Method struct {
	Call func(ctx context.Context, params Params) (any, error)
	Help string
}

// Fault is the error member of a response.
type Fault struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("rpc fault %d: %s", f.Code, f.Message)
}

// Request is a call as it travels on the wire.
type Request struct {
	ID     any               `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// Response is the answer to a Request.
type Response struct {
	Result any    `json:"result"`
	Error  *Fault `json:"error,omitempty"`
	ID     any    `json:"id"`
}

// Params are the positional arguments of a call.
type Params []json.RawMessage

// Len returns the number of params.
func (p Params) Len() int {
	return len(p)
}

// Expect fails with ErrInvalidParams unless there are exactly n params.
func (p Params) Expect(n int) error {
	if len(p) != n {
		return fmt.Errorf("%w: expected %d params, got %d", ErrInvalidParams, n, len(p))
	}

	return nil
}

// Decode unmarshals param i into v.
func (p Params) Decode(i int, v any) error {
	if i >= len(p) {
		return fmt.Errorf("%w: missing param %d", ErrInvalidParams, i)
	}

	if err := json.Unmarshal(p[i], v); err != nil {
		return fmt.Errorf("%w: param %d: %v", ErrInvalidParams, i, err)
	}

	return nil
}

// String returns param i as a string.
func (p Params) String(i int) (string, error) {
	var s string
	if err := p.Decode(i, &s); err != nil {
		return "", err
	}

	return s, nil
}

// Int returns param i as an int.
func (p Params) Int(i int) (int, error) {
	var n int
	if err := p.Decode(i, &n); err != nil {
		return 0, err
	}

	return n, nil
}

// NewParams encodes values as Params.
func NewParams(values ...any) (Params, error) {
	params := make(Params, 0, len(values))

	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode param %d: %w", i, err)
		}

		params = append(params, raw)
	}

	return params, nil
}

// faultFor maps a handler error to its wire fault.
func faultFor(err error) *Fault {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault
	}

	switch {
	case errors.Is(err, ErrMethodNotFound):
		return &Fault{Code: CodeMethodNotFound, Message: err.Error()}
	case errors.Is(err, ErrInvalidParams):
		return &Fault{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &Fault{Code: CodeHandlerError, Message: err.Error()}
	}
}
