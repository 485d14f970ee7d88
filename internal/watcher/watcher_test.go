package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
	removed []string
}

func (r *recorder) onIndex(paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]string(nil), paths...))
}

func (r *recorder) onRemove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
}

func (r *recorder) indexed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []string
	for _, b := range r.batches {
		all = append(all, b...)
	}
	return all
}

func (r *recorder) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func goOnly(path string) bool { return strings.HasSuffix(path, ".go") }

func containsSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher(nil, true, rec.onIndex, rec.onRemove, WithFilter(goOnly))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := w.AddDirectory(dir, false); err != nil || len(w.Directories()) != 1 {
		t.Errorf("adding a root twice: %v, %v", err, w.Directories())
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_DebounceBatchesWrites(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := NewWatcher([]string{dir}, true, rec.onIndex, nil, WithFilter(goOnly), WithDebounce(200*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for _, name := range []string{"a.go", "b.go", "notes.txt"} {
		if err := writeFile(filepath.Join(sub, name), "package sub\n"); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(700 * time.Millisecond)

	indexed := rec.indexed()
	if !containsSuffix(indexed, "a.go") || !containsSuffix(indexed, "b.go") {
		t.Errorf("expected a.go and b.go to be indexed, got %v", indexed)
	}
	if containsSuffix(indexed, "notes.txt") {
		t.Errorf("filtered file was indexed: %v", indexed)
	}
	if n := rec.batchCount(); n != 1 {
		t.Errorf("expected writes to coalesce into one batch, got %d", n)
	}
}

func TestWatcher_RemoveReportsPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.go")
	if err := writeFile(path, "package gone\n"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := NewWatcher([]string{dir}, true, rec.onIndex, rec.onRemove, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.removed) != 1 || rec.removed[0] != path {
		t.Errorf("removed: %v", rec.removed)
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.go", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_excluded(t *testing.T) {
	w := NewWatcher(nil, true, nil, nil, WithExcludeDirs([]string{"node_modules", ".git"}))
	tests := map[string]bool{
		"/src/app/main.go":                  false,
		"/src/node_modules/pkg/index.js":    true,
		"/src/.git/HEAD":                    true,
		"/src/node_modules_backup/index.js": false,
	}
	for path, want := range tests {
		if got := w.excluded(path); got != want {
			t.Errorf("excluded(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestWatcher_SyncExistingFiles_indexesMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "ignore.xyz", filepath.Join("vendor", "dep.go"), filepath.Join("pkg", "b.go")} {
		path := filepath.Join(dir, name)
		if err := mkdirAll(filepath.Dir(path)); err != nil {
			t.Fatal(err)
		}
		if err := writeFile(path, "package x\n"); err != nil {
			t.Fatal(err)
		}
	}

	rec := &recorder{}
	w := NewWatcher([]string{dir}, true, rec.onIndex, nil, WithFilter(goOnly), WithExcludeDirs([]string{"vendor"}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.batches) != 1 {
		t.Fatalf("expected one batch, got %v", rec.batches)
	}
	got := rec.batches[0]
	if len(got) != 2 || !containsSuffix(got, "a.go") || !containsSuffix(got, "b.go") {
		t.Errorf("expected a.go and pkg/b.go, got %v", got)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "watch", "me")

	w := NewWatcher([]string{root}, true, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_HandleNewDirectory_recursiveSubfolders(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher([]string{dir}, true, rec.onIndex, nil, WithFilter(goOnly), WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.go"), "package deep\n"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(800 * time.Millisecond)

	if indexed := rec.indexed(); !containsSuffix(indexed, "deep.go") {
		t.Errorf("expected deep.go to be indexed, got %v", indexed)
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
