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

package content

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/codelift/codelift/pkg/errors"
)

func TestReadFileMissing(t *testing.T) {
	store := NewStore()
	_, err := store.ReadFile(filepath.Join(t.TempDir(), "absent.txt"))
	if err == nil {
		t.Fatal("expected error")
	}

	var ie *errors.InputError
	if !errors.As(err, &ie) {
		t.Fatalf("error %T, want InputError", err)
	}
}

func TestEnsureDirIdempotent(t *testing.T) {
	store := NewStore()
	dir := filepath.Join(t.TempDir(), "a", "b", "c")

	if err := store.EnsureDir(dir); err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureDir(dir); err != nil {
		t.Fatalf("second EnsureDir: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("stat = %v, %v", info, err)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "out.tsx")

	if err := store.WriteFile(path, []byte("export default App")); err != nil {
		t.Fatal(err)
	}

	data, err := store.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "export default App" {
		t.Errorf("content = %q", data)
	}

	// Overwrite leaves no temp droppings behind.
	if err := store.WriteFile(path, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestWriteFileIntoMissingDirFails(t *testing.T) {
	store := NewStore()
	err := store.WriteFile(filepath.Join(t.TempDir(), "no", "such", "dir", "f.txt"), []byte("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	var we *errors.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("error %T, want WriteError", err)
	}
}

func TestExists(t *testing.T) {
	store := NewStore()
	dir := t.TempDir()

	if store.Exists(filepath.Join(dir, "nope.txt")) {
		t.Error("missing file reported as existing")
	}
	if store.Exists(dir) {
		t.Error("directories do not count as files")
	}

	path := filepath.Join(dir, "yes.txt")
	os.WriteFile(path, []byte("x"), 0o644)
	if !store.Exists(path) {
		t.Error("existing file not reported")
	}
}

func seedTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := []string{
		"Foo.jsp",
		"sub/Bar.jsp",
		"sub/deep/Baz.jsp",
		"sub/readme.md",
		"other.tsx",
	}
	for _, f := range files {
		full := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(f), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestListFilesByExtension(t *testing.T) {
	store := NewStore()
	root := seedTree(t)

	for _, pattern := range []string{"jsp", ".jsp"} {
		t.Run(pattern, func(t *testing.T) {
			got, err := store.ListFiles(root, pattern)
			if err != nil {
				t.Fatal(err)
			}
			sort.Strings(got)

			want := []string{"Foo.jsp", "sub/Bar.jsp", "sub/deep/Baz.jsp"}
			if len(got) != len(want) {
				t.Fatalf("got %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("got %v, want %v", got, want)
				}
			}
		})
	}
}

func TestListFilesByGlob(t *testing.T) {
	store := NewStore()
	root := seedTree(t)

	got, err := store.ListFiles(root, "sub/**/*.jsp")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(got)

	if len(got) != 2 || got[0] != "sub/Bar.jsp" || got[1] != "sub/deep/Baz.jsp" {
		t.Errorf("got %v", got)
	}
}

func TestListFilesNoDuplicates(t *testing.T) {
	store := NewStore()
	root := seedTree(t)

	got, err := store.ListFiles(root, "")
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	for _, f := range got {
		if seen[f] {
			t.Errorf("duplicate entry %q", f)
		}
		seen[f] = true
		if strings.Contains(f, "\\") {
			t.Errorf("path %q must be slash-separated", f)
		}
	}
}

func TestListFilesMissingRoot(t *testing.T) {
	store := NewStore()
	if _, err := store.ListFiles(filepath.Join(t.TempDir(), "ghost"), "jsp"); err == nil {
		t.Fatal("expected error")
	}
}

func TestListFilesBadGlob(t *testing.T) {
	store := NewStore()
	if _, err := store.ListFiles(t.TempDir(), "[bad"); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}
