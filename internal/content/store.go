// Copyright 2025 Tom Barlow
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

// Package content implements the filesystem content store: reading step
// inputs, creating output directories, writing results atomically, and
// discovering source files. The store has no caching layer; every read
// hits the filesystem, and input files are never mutated.
package content

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/codelift/codelift/pkg/errors"
)

// Store is the filesystem-backed content store.
type Store struct{}

// NewStore creates a content store.
func NewStore() *Store {
	return &Store{}
}

// ReadFile returns the UTF-8 contents of the file at path.
func (s *Store) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.InputError{Path: path, Cause: err}
	}
	return data, nil
}

// EnsureDir creates the directory and all missing ancestors. Idempotent.
func (s *Store) EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return &errors.WriteError{Path: path, Cause: err}
	}
	return nil
}

// WriteFile writes data to path atomically: the content lands in a
// temporary file in the target directory and is renamed into place, so
// readers never observe a partial write.
func (s *Store) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &errors.WriteError{Path: path, Cause: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &errors.WriteError{Path: path, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &errors.WriteError{Path: path, Cause: err}
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &errors.WriteError{Path: path, Cause: err}
	}
	return nil
}

// Exists reports whether a regular file exists at path.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ListFiles walks root recursively and returns the relative,
// slash-separated paths of files matching pattern. The pattern is either a
// bare extension ("tsx" or ".tsx") or a doublestar glob ("**/*.tsx").
// Ordering follows the walk and is not part of the contract.
func (s *Store) ListFiles(root, pattern string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, &errors.InputError{Path: root, Cause: err}
	}

	match, err := matcherFor(pattern)
	if err != nil {
		return nil, err
	}

	var files []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if match(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if walkErr != nil {
		return nil, &errors.InputError{Path: root, Cause: walkErr}
	}

	return files, nil
}

// matcherFor builds the file filter. Bare extensions match on suffix;
// anything containing a glob metacharacter is treated as a doublestar
// pattern against the relative path.
func matcherFor(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}

	if strings.ContainsAny(pattern, "*?[{") {
		if !doublestar.ValidatePattern(pattern) {
			return nil, &errors.ValidationError{
				Field:   "pattern",
				Message: fmt.Sprintf("invalid glob pattern %q", pattern),
			}
		}
		p := pattern
		return func(rel string) bool {
			ok, _ := doublestar.Match(p, rel)
			return ok
		}, nil
	}

	ext := pattern
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	ext = strings.ToLower(ext)
	return func(rel string) bool {
		return strings.ToLower(filepath.Ext(rel)) == ext
	}, nil
}
