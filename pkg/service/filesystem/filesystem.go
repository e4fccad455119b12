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

package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/fleetguard/pkg/metrics"
)

// DefaultService is the default implementation of Service.
type DefaultService struct{}

// NewDefaultService creates a new DefaultService.
func NewDefaultService() *DefaultService {
	return &DefaultService{}
}

// checkContext checks if the context is done before proceeding with an operation.
func (s *DefaultService) checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

type result[T any] struct {
	value T
	err   error
}

// runWithContext runs op in a goroutine and waits for either its result or
// the end of ctx. The operation itself keeps running when ctx ends first,
// plain os calls cannot be interrupted.
func runWithContext[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	start := time.Now()

	var zero T

	select {
	case <-ctx.Done():
		metrics.RecordFilesystemOp(op, ctx.Err(), time.Since(start))

		return zero, fmt.Errorf("failed to check context: %w", ctx.Err())
	default:
	}

	resCh := make(chan result[T], 1)

	go func() {
		value, err := fn()
		resCh <- result[T]{value: value, err: err}
	}()

	select {
	case res := <-resCh:
		metrics.RecordFilesystemOp(op, res.err, time.Since(start))

		return res.value, res.err
	case <-ctx.Done():
		metrics.RecordFilesystemOp(op, ctx.Err(), time.Since(start))

		return zero, ctx.Err()
	}
}

// EnsureDirectory creates a directory if it doesn't exist.
func (s *DefaultService) EnsureDirectory(ctx context.Context, path string) error {
	_, err := runWithContext(ctx, "EnsureDirectory", func() (struct{}, error) {
		return struct{}{}, os.MkdirAll(path, 0o755)
	})
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// ReadFile reads a file's contents respecting the context.
func (s *DefaultService) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, err := runWithContext(ctx, "ReadFile", func() ([]byte, error) {
		return os.ReadFile(path)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return data, nil
}

// WriteFile writes data to a file respecting the context.
func (s *DefaultService) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	_, err := runWithContext(ctx, "WriteFile", func() (struct{}, error) {
		return struct{}{}, os.WriteFile(path, data, perm)
	})
	if err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}

// PathExists checks if a path exists.
func (s *DefaultService) PathExists(ctx context.Context, path string) (bool, error) {
	exists, err := runWithContext(ctx, "PathExists", func() (bool, error) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}

		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, err
	})
	if err != nil {
		return false, fmt.Errorf("failed to check if path exists %s: %w", path, err)
	}

	return exists, nil
}

// Remove removes a file or an empty directory.
func (s *DefaultService) Remove(ctx context.Context, path string) error {
	_, err := runWithContext(ctx, "Remove", func() (struct{}, error) {
		return struct{}{}, os.Remove(path)
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// RemoveAll removes a directory and all its contents. A missing path is not an error.
func (s *DefaultService) RemoveAll(ctx context.Context, path string) error {
	_, err := runWithContext(ctx, "RemoveAll", func() (struct{}, error) {
		return struct{}{}, os.RemoveAll(path)
	})
	if err != nil {
		return fmt.Errorf("failed to remove directory %s: %w", path, err)
	}

	return nil
}

// Stat returns file info. Use errors.Is(err, fs.ErrNotExist) to detect missing paths.
func (s *DefaultService) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	info, err := runWithContext(ctx, "Stat", func() (os.FileInfo, error) {
		return os.Stat(path)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return info, nil
}

// ReadDir reads a directory, returning all its directory entries sorted by name.
func (s *DefaultService) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	entries, err := runWithContext(ctx, "ReadDir", func() ([]os.DirEntry, error) {
		return os.ReadDir(path)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	return entries, nil
}

// ExecuteCommand executes a command with context.
func (s *DefaultService) ExecuteCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	start := time.Now()

	if err := s.checkContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to check context: %w", err)
	}

	// exec.CommandContext already kills the process when ctx ends
	cmd := exec.CommandContext(ctx, name, args...)

	output, err := cmd.CombinedOutput()
	metrics.RecordFilesystemOp("ExecuteCommand", err, time.Since(start))

	if err != nil {
		return output, fmt.Errorf("failed to execute command %s %s: %w", name, strings.Join(args, " "), err)
	}

	return output, nil
}

// Glob is a wrapper around filepath.Glob that respects the context.
func (s *DefaultService) Glob(ctx context.Context, pattern string) ([]string, error) {
	matches, err := runWithContext(ctx, "Glob", func() ([]string, error) {
		return filepath.Glob(pattern)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}

	return matches, nil
}
