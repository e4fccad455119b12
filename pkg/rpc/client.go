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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"github.com/united-manufacturing-hub/fleetguard/pkg/backoff"
)

const (
	defaultClientTimeout       = 30 * time.Second
	defaultClientRetries       = 2
	defaultClientRetryInterval = 200 * time.Millisecond
)

// Client calls methods of a remote endpoint. Workers use it to route engine
// events back to the client that registered a callback.
type Client struct {
	httpClient    *http.Client
	url           string
	retries       uint64
	retryInterval time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetries sets how often a call is repeated after a connection error.
func WithRetries(retries uint64, interval time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = retries
		c.retryInterval = interval
	}
}

// WithHTTPClient replaces the default gzip-aware HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a client for the endpoint at url.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url: url,
		httpClient: &http.Client{
			Transport: gzhttp.Transport(http.DefaultTransport),
			Timeout:   defaultClientTimeout,
		},
		retries:       defaultClientRetries,
		retryInterval: defaultClientRetryInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// URL returns the endpoint address.
func (c *Client) URL() string {
	return c.url
}

type clientResponse struct {
	Error  *Fault          `json:"error"`
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Call invokes method with params and decodes the result into result, which may be nil.
// Connection errors are retried, faults and HTTP errors are not.
func (c *Client) Call(ctx context.Context, method string, result any, params ...any) error {
	encoded, err := NewParams(params...)
	if err != nil {
		return err
	}

	body, err := json.Marshal(Request{Method: method, Params: encoded, ID: uuid.NewString()})
	if err != nil {
		return fmt.Errorf("failed to encode call %s: %w", method, err)
	}

	var resp clientResponse

	err = backoff.Retry(ctx, c.retries, c.retryInterval, func() error {
		return c.roundTrip(ctx, body, &resp)
	})
	if err != nil {
		return fmt.Errorf("call %s on %s failed: %w", method, c.url, err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if result == nil || len(resp.Result) == 0 {
		return nil
	}

	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to decode result of %s: %w", method, err)
	}

	return nil
}

func (c *Client) roundTrip(ctx context.Context, body []byte, resp *clientResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		return err
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}

	if httpResp.StatusCode != http.StatusOK {
		return backoff.Permanent(fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, bytes.TrimSpace(data)))
	}

	if err := json.Unmarshal(data, resp); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}

// ListMethods returns the method names the endpoint advertises.
func (c *Client) ListMethods(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.Call(ctx, MethodListMethods, &names); err != nil {
		return nil, err
	}

	return names, nil
}

// Notify calls method and discards its result.
func (c *Client) Notify(ctx context.Context, method string, params ...any) error {
	return c.Call(ctx, method, nil, params...)
}

// IsFault reports whether err is a fault returned by the remote endpoint.
func IsFault(err error) bool {
	var fault *Fault

	return errors.As(err, &fault)
}
