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

// Package configstore persists the application's configuration documents:
// single JSON files, written atomically, last writer wins. Runtime step
// state is stripped on every save so a loaded document always starts clean.
package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codelift/codelift/pkg/errors"
)

// Document names one of the persisted configuration documents.
type Document string

const (
	// DocumentApp holds standalone workflows (single-workflow mode).
	DocumentApp Document = "app-config.json"

	// DocumentMultiStream holds tasks and templates (multi-workflow mode).
	DocumentMultiStream Document = "multi-file-stream-config.json"
)

// Version is stamped into every saved document.
const Version = "1.0"

// Info describes a persisted document without loading it.
type Info struct {
	Path         string     `json:"configPath"`
	Exists       bool       `json:"exists"`
	Size         int64      `json:"size,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// Store reads and writes the configuration documents under one directory.
// Writes are serialized per document; loads are lock-free snapshots of
// whatever the last completed write left behind.
type Store struct {
	dir   string
	locks map[Document]*sync.Mutex
}

// NewStore creates a store rooted at dir. The directory is created on the
// first save, not here.
func NewStore(dir string) *Store {
	return &Store{
		dir: dir,
		locks: map[Document]*sync.Mutex{
			DocumentApp:         {},
			DocumentMultiStream: {},
		},
	}
}

// path returns the on-disk location of a document.
func (s *Store) path(doc Document) string {
	return filepath.Join(s.dir, string(doc))
}

// lock returns the per-document write lock.
func (s *Store) lock(doc Document) *sync.Mutex {
	if mu, ok := s.locks[doc]; ok {
		return mu
	}
	// Unknown documents share a lock with nobody; callers only use the
	// two named documents.
	return &sync.Mutex{}
}

// Load reads and decodes a document. A missing file is an explicit
// NotFoundError, never an empty default.
func (s *Store) Load(doc Document) (map[string]any, error) {
	data, err := os.ReadFile(s.path(doc))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "config", ID: string(doc)}
		}
		return nil, &errors.ConfigError{Key: string(doc), Reason: "read failed", Cause: err}
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &errors.ConfigError{Key: string(doc), Reason: "malformed JSON", Cause: err}
	}
	return decoded, nil
}

// Save strips runtime state from the document, stamps lastUpdated and
// version, and writes it atomically (temp file + rename).
func (s *Store) Save(doc Document, content map[string]any) error {
	mu := s.lock(doc)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &errors.WriteError{Path: s.dir, Cause: err}
	}

	cleaned := stripRuntimeState(content)
	cleaned["lastUpdated"] = time.Now().Format(time.RFC3339)
	cleaned["version"] = Version

	data, err := json.MarshalIndent(cleaned, "", "  ")
	if err != nil {
		return &errors.ConfigError{Key: string(doc), Reason: "marshal failed", Cause: err}
	}

	path := s.path(doc)
	tmp, err := os.CreateTemp(s.dir, "."+string(doc)+".tmp-*")
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

// Delete removes a document. Deleting an absent document is a NotFoundError.
func (s *Store) Delete(doc Document) error {
	mu := s.lock(doc)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(s.path(doc)); err != nil {
		if os.IsNotExist(err) {
			return &errors.NotFoundError{Resource: "config", ID: string(doc)}
		}
		return &errors.WriteError{Path: s.path(doc), Cause: err}
	}
	return nil
}

// Stat describes a document without loading it.
func (s *Store) Stat(doc Document) Info {
	path := s.path(doc)
	info := Info{Path: path}

	fi, err := os.Stat(path)
	if err != nil {
		return info
	}
	mod := fi.ModTime()
	info.Exists = true
	info.Size = fi.Size()
	info.LastModified = &mod
	return info
}

// stripRuntimeState returns a deep copy of the document with every step's
// status reset to pending and result removed, across all the places steps
// live: workflowGroups[*].template.workflows[*].steps[*], top-level
// workflows[*].steps[*], and workflowGroupTemplates[*].workflows[*].steps[*].
// Task-level runtime state (status, progress) is reset alongside.
func stripRuntimeState(content map[string]any) map[string]any {
	cleaned := deepCopy(content).(map[string]any)

	if groups, ok := cleaned["workflowGroups"].([]any); ok {
		for _, g := range groups {
			group, ok := g.(map[string]any)
			if !ok {
				continue
			}
			// A restarted process sees every task idle.
			group["status"] = "idle"
			delete(group, "progress")
			if tpl, ok := group["template"].(map[string]any); ok {
				stripTemplate(tpl)
			}
		}
	}

	if templates, ok := cleaned["workflowGroupTemplates"].([]any); ok {
		for _, t := range templates {
			if tpl, ok := t.(map[string]any); ok {
				stripTemplate(tpl)
			}
		}
	}

	if workflows, ok := cleaned["workflows"].([]any); ok {
		for _, w := range workflows {
			if wf, ok := w.(map[string]any); ok {
				stripWorkflow(wf)
			}
		}
	}

	return cleaned
}

func stripTemplate(tpl map[string]any) {
	workflows, ok := tpl["workflows"].([]any)
	if !ok {
		return
	}
	for _, w := range workflows {
		if wf, ok := w.(map[string]any); ok {
			stripWorkflow(wf)
		}
	}
}

func stripWorkflow(wf map[string]any) {
	steps, ok := wf["steps"].([]any)
	if !ok {
		return
	}
	for _, s := range steps {
		step, ok := s.(map[string]any)
		if !ok {
			continue
		}
		step["status"] = "pending"
		delete(step, "result")
	}
}

// deepCopy clones a JSON-shaped value (maps, slices, scalars).
func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
