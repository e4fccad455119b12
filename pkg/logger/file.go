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

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/united-manufacturing-hub/fleetguard/pkg/constants"
)

// WorkerLogFileName returns the name of the log file a worker on port writes to.
func WorkerLogFileName(port int) string {
	return constants.WorkerLogFilePrefix + strconv.Itoa(port) + constants.WorkerLogFileSuffix
}

// ForWorker returns a logger for the worker on port. When dir is set, every
// entry is additionally appended to WorkerLogFileName(port) in dir.
// The returned close function releases the file and must be called once the
// worker stopped; it is a no-op when no file was opened.
func ForWorker(port int, dir string) (*zap.SugaredLogger, func() error, error) {
	name := fmt.Sprintf("%s.%d", ComponentWorker, port)
	base := For(name)

	if dir == "" {
		return base, func() error { return nil }, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return base, func() error { return nil }, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, WorkerLogFileName(port))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return base, func() error { return nil }, fmt.Errorf("failed to open worker log file %s: %w", path, err)
	}

	fileCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig(FormatJSON)),
		zapcore.AddSync(file),
		atomicLevel,
	)
	core := zapcore.NewTee(GetLogger().Core(), fileCore)

	return zap.New(core, zap.AddCaller()).Sugar().Named(name), file.Close, nil
}

// RemoveStaleLogFiles deletes worker log files left behind by a previous run
// and returns how many were removed. A missing directory is not an error.
func RemoveStaleLogFiles(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read log directory %s: %w", dir, err)
	}

	removed := 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, constants.WorkerLogFilePrefix) || !strings.HasSuffix(name, constants.WorkerLogFileSuffix) {
			continue
		}

		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove stale log file %s: %w", name, err)
		}

		removed++
	}

	return removed, nil
}
