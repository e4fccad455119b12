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

package rpc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

// Method names every registry answers.
const (
	MethodListMethods = "system.listMethods"
	MethodHelp        = "system.methodHelp"
)

// Registry maps method names to methods and serves them over HTTP.
type Registry struct {
	methods  map[string]Method
	observer func(method string)
	mu       sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver calls fn with the method name of every dispatched call, known or not.
func WithObserver(fn func(method string)) Option {
	return func(r *Registry) {
		r.observer = fn
	}
}

// NewRegistry creates a registry with the introspection methods registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{methods: make(map[string]Method)}

	for _, opt := range opts {
		opt(r)
	}

	r.methods[MethodListMethods] = Method{
		Help: "Returns the names of all methods of this endpoint.",
		Call: func(context.Context, Params) (any, error) {
			return r.Names(), nil
		},
	}

	r.methods[MethodHelp] = Method{
		Help: "Returns the help text of the named method.",
		Call: func(_ context.Context, params Params) (any, error) {
			name, err := params.String(0)
			if err != nil {
				return nil, err
			}

			return r.Help(name)
		},
	}

	return r
}

// Register adds a method. A name can only be registered once.
func (r *Registry) Register(name string, method Method) error {
	if method.Call == nil {
		return fmt.Errorf("method %s has no implementation", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("method %s is already registered", name)
	}

	r.methods[name] = method

	return nil
}

// RegisterAll adds every method of methods.
func (r *Registry) RegisterAll(methods map[string]Method) error {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if err := r.Register(name, methods[name]); err != nil {
			return err
		}
	}

	return nil
}

// Names returns every registered method name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Help returns the help text of name.
func (r *Registry) Help(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	method, ok := r.methods[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}

	return method.Help, nil
}

// Call dispatches one call. Panics of the method are not recovered here.
func (r *Registry) Call(ctx context.Context, name string, params Params) (any, error) {
	if r.observer != nil {
		r.observer(name)
	}

	r.mu.RLock()
	method, ok := r.methods[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}

	return method.Call(ctx, params)
}

// Handle decodes a request body, dispatches it and builds the response.
func (r *Registry) Handle(ctx context.Context, body []byte) Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Response{Error: &Fault{Code: CodeParseError, Message: fmt.Sprintf("failed to parse request: %v", err)}}
	}

	result, err := r.Call(ctx, req.Method, Params(req.Params))
	if err != nil {
		return Response{Error: faultFor(err), ID: req.ID}
	}

	return Response{Result: result, ID: req.ID}
}

// Mount serves the registry on router: POST / and POST /rpc take calls,
// GET /methods lists the method names.
func (r *Registry) Mount(router gin.IRoutes) {
	router.POST("/", r.serveCall)
	router.POST("/rpc", r.serveCall)
	router.GET("/methods", func(c *gin.Context) {
		writeJSON(c, http.StatusOK, r.Names())
	})
}

func (r *Registry) serveCall(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, Response{Error: &Fault{Code: CodeParseError, Message: err.Error()}})

		return
	}

	writeJSON(c, http.StatusOK, r.Handle(c.Request.Context(), body))
}

func writeJSON(c *gin.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(Response{Error: &Fault{Code: CodeHandlerError, Message: fmt.Sprintf("failed to encode response: %v", err)}})
		status = http.StatusInternalServerError
	}

	c.Data(status, "application/json; charset=utf-8", data)
}
