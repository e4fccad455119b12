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

// Package workspace implements the file utilities exposed on the worker
// endpoint and the bounded cleanup used during recovery.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/fleetguard/pkg/logger"
	"github.com/united-manufacturing-hub/fleetguard/pkg/service/filesystem"
)

// ErrWorkspaceNotFound is returned when no directory of the requested name exists.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Service resolves workspaces below a root directory.
type Service struct {
	fs   filesystem.Service
	log  *zap.SugaredLogger
	root string
}

// NewService creates a workspace service rooted at root.
func NewService(fsService filesystem.Service, root string) *Service {
	return &Service{
		fs:   fsService,
		root: root,
		log:  logger.For(logger.ComponentWorkspace),
	}
}

// Root returns the workspaces directory.
func (s *Service) Root() string {
	return s.root
}

// Find returns the path of the first directory called name below the root.
// Children of a directory are checked before descending into any of them.
func (s *Service) Find(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrWorkspaceNotFound)
	}

	path, err := s.find(ctx, s.root, name)
	if err != nil {
		return "", err
	}

	if path == "" {
		return "", fmt.Errorf("%w: %s in %s", ErrWorkspaceNotFound, name, s.root)
	}

	return path, nil
}

func (s *Service) find(ctx context.Context, dir, name string) (string, error) {
	entries, err := s.fs.ReadDir(ctx, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}

		return "", err
	}

	var subdirs []string

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if entry.Name() == name {
			return filepath.Join(dir, name), nil
		}

		subdirs = append(subdirs, filepath.Join(dir, entry.Name()))
	}

	for _, sub := range subdirs {
		path, err := s.find(ctx, sub, name)
		if err != nil || path != "" {
			return path, err
		}
	}

	return "", nil
}

// Tree lists the workspace called name bottom-up, see Tree.
func (s *Service) Tree(ctx context.Context, name string) ([]string, error) {
	dir, err := s.Find(ctx, name)
	if err != nil {
		return nil, err
	}

	return Tree(ctx, s.fs, dir)
}

// Tree returns every path below dir, dir included, bottom-up: for each
// directory the entries of its subdirectories come first, then its files,
// then the directory itself.
func Tree(ctx context.Context, fsService filesystem.Service, dir string) ([]string, error) {
	var paths []string

	if err := walkBottomUp(ctx, fsService, dir, &paths); err != nil {
		return nil, err
	}

	return paths, nil
}

func walkBottomUp(ctx context.Context, fsService filesystem.Service, dir string, paths *[]string) error {
	entries, err := fsService.ReadDir(ctx, dir)
	if err != nil {
		return err
	}

	var files []string

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := walkBottomUp(ctx, fsService, path, paths); err != nil {
				return err
			}

			continue
		}

		files = append(files, path)
	}

	*paths = append(*paths, files...)
	*paths = append(*paths, dir)

	return nil
}

// ReadFile returns the contents of path, or nil when path is not a regular file.
func (s *Service) ReadFile(ctx context.Context, path string) ([]byte, error) {
	info, err := s.fs.Stat(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	if !info.Mode().IsRegular() {
		return nil, nil
	}

	return s.fs.ReadFile(ctx, path)
}

// Delete removes a file, or a directory with everything in it.
// A path that does not exist is not an error.
func (s *Service) Delete(ctx context.Context, path string) error {
	info, err := s.fs.Stat(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debugf("Nothing to delete at %s", path)

			return nil
		}

		return err
	}

	if info.IsDir() {
		return s.fs.RemoveAll(ctx, path)
	}

	if err := s.fs.Remove(ctx, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// NameMatcher matches file names that start with prefix and end with suffix.
func NameMatcher(prefix, suffix string) func(string) bool {
	return func(name string) bool {
		return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix)
	}
}

// RemoveMatching deletes the files below root whose name satisfies match.
// root is level 1, files in directories down to level maxDepth are removed
// and deeper directories are never opened. A missing root removes nothing.
// Removal errors of single files are collected, the walk goes on.
func RemoveMatching(ctx context.Context, fsService filesystem.Service, root string, maxDepth int, match func(string) bool) (int, error) {
	if maxDepth < 1 {
		return 0, nil
	}

	removed := 0

	var errs []error

	var walk func(dir string, level int) error

	walk = func(dir string, level int) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := fsService.ReadDir(ctx, dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())

			if entry.IsDir() {
				if level < maxDepth {
					if err := walk(path, level+1); err != nil {
						return err
					}
				}

				continue
			}

			if !match(entry.Name()) {
				continue
			}

			if err := fsService.Remove(ctx, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)

				continue
			}

			removed++
		}

		return nil
	}

	if err := walk(root, 1); err != nil {
		return removed, err
	}

	return removed, errors.Join(errs...)
}
