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
	"fmt"
	"os"
	"strings"
	"sync"
)

// MockFileSystem is a mock implementation of the filesystem.Service interface.
// Every operation without a Func set returns zero values and no error.
type MockFileSystem struct {
	ReadFileFunc        func(ctx context.Context, path string) ([]byte, error)
	WriteFileFunc       func(ctx context.Context, path string, data []byte, perm os.FileMode) error
	PathExistsFunc      func(ctx context.Context, path string) (bool, error)
	EnsureDirectoryFunc func(ctx context.Context, path string) error
	RemoveFunc          func(ctx context.Context, path string) error
	RemoveAllFunc       func(ctx context.Context, path string) error
	StatFunc            func(ctx context.Context, path string) (os.FileInfo, error)
	ReadDirFunc         func(ctx context.Context, path string) ([]os.DirEntry, error)
	ExecuteCommandFunc  func(ctx context.Context, name string, args ...string) ([]byte, error)
	GlobFunc            func(ctx context.Context, pattern string) ([]string, error)

	calls []string
	mutex sync.Mutex
}

// NewMockFileSystem creates a new MockFileSystem instance
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{}
}

func (m *MockFileSystem) record(operation string, args ...string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(args) == 0 {
		m.calls = append(m.calls, operation)

		return
	}

	m.calls = append(m.calls, fmt.Sprintf("%s %s", operation, strings.Join(args, " ")))
}

// Calls returns every recorded call as "Operation arg1 arg2", in call order.
func (m *MockFileSystem) Calls() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]string(nil), m.calls...)
}

// EnsureDirectory creates a directory if it doesn't exist
func (m *MockFileSystem) EnsureDirectory(ctx context.Context, path string) error {
	m.record("EnsureDirectory", path)

	if m.EnsureDirectoryFunc != nil {
		return m.EnsureDirectoryFunc(ctx, path)
	}

	return nil
}

// ReadFile reads a file's contents respecting the context
func (m *MockFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	m.record("ReadFile", path)

	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, path)
	}

	return nil, nil
}

// WriteFile writes data to a file respecting the context
func (m *MockFileSystem) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	m.record("WriteFile", path)

	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, path, data, perm)
	}

	return nil
}

// PathExists checks if a path exists
func (m *MockFileSystem) PathExists(ctx context.Context, path string) (bool, error) {
	m.record("PathExists", path)

	if m.PathExistsFunc != nil {
		return m.PathExistsFunc(ctx, path)
	}

	return false, nil
}

// Remove removes a file or an empty directory
func (m *MockFileSystem) Remove(ctx context.Context, path string) error {
	m.record("Remove", path)

	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, path)
	}

	return nil
}

// RemoveAll removes a directory and all its contents
func (m *MockFileSystem) RemoveAll(ctx context.Context, path string) error {
	m.record("RemoveAll", path)

	if m.RemoveAllFunc != nil {
		return m.RemoveAllFunc(ctx, path)
	}

	return nil
}

// Stat returns file info
func (m *MockFileSystem) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	m.record("Stat", path)

	if m.StatFunc != nil {
		return m.StatFunc(ctx, path)
	}

	return nil, nil
}

// ReadDir reads a directory
func (m *MockFileSystem) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	m.record("ReadDir", path)

	if m.ReadDirFunc != nil {
		return m.ReadDirFunc(ctx, path)
	}

	return nil, nil
}

// ExecuteCommand executes a command with context
func (m *MockFileSystem) ExecuteCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record("ExecuteCommand", append([]string{name}, args...)...)

	if m.ExecuteCommandFunc != nil {
		return m.ExecuteCommandFunc(ctx, name, args...)
	}

	return nil, nil
}

// Glob is a wrapper around filepath.Glob that respects the context
func (m *MockFileSystem) Glob(ctx context.Context, pattern string) ([]string, error) {
	m.record("Glob", pattern)

	if m.GlobFunc != nil {
		return m.GlobFunc(ctx, pattern)
	}

	return nil, nil
}
