package change

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roojs/semantic-code-search/internal/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCompute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.py")
	writeFile(t, path, "def f():\n    pass\n")

	st, err := Compute(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Fingerprint) != 64 {
		t.Errorf("fingerprint should be hex sha256, got %q", st.Fingerprint)
	}
	if st.ModTime == 0 || st.Size == 0 {
		t.Errorf("unexpected state %+v", st)
	}

	again, _ := Compute(path)
	if again.Fingerprint != st.Fingerprint {
		t.Error("fingerprint should be stable")
	}

	writeFile(t, path, "def g():\n    pass\n")
	changed, _ := Compute(path)
	if changed.Fingerprint == st.Fingerprint {
		t.Error("fingerprint should change with content")
	}
}

func TestCompute_Missing(t *testing.T) {
	_, err := Compute(filepath.Join(t.TempDir(), "gone.py"))
	if !errors.Is(err, models.ErrFileMissing) {
		t.Errorf("expected ErrFileMissing, got %v", err)
	}
}

func TestCompute_Directory(t *testing.T) {
	_, err := Compute(t.TempDir())
	if !errors.Is(err, models.ErrFileMissing) {
		t.Errorf("expected ErrFileMissing for directory, got %v", err)
	}
}

func TestDetect(t *testing.T) {
	rec := &models.FileRecord{ContentFingerprint: "abc", ModifiedTime: 100}
	tests := []struct {
		name  string
		rec   *models.FileRecord
		st    State
		force bool
		want  Status
	}{
		{"no record", nil, State{Fingerprint: "abc", ModTime: 100}, false, New},
		{"no record forced", nil, State{Fingerprint: "abc", ModTime: 100}, true, New},
		{"unchanged", rec, State{Fingerprint: "abc", ModTime: 100}, false, Unchanged},
		{"content changed", rec, State{Fingerprint: "def", ModTime: 100}, false, Changed},
		{"content and mtime changed", rec, State{Fingerprint: "def", ModTime: 200}, false, Changed},
		{"touched only", rec, State{Fingerprint: "abc", ModTime: 200}, false, Touched},
		{"forced", rec, State{Fingerprint: "abc", ModTime: 100}, true, Changed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.rec, tt.st, tt.force); got != tt.want {
				t.Errorf("Detect = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetect_TouchedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.go")
	writeFile(t, path, "package a\n")
	st, _ := Compute(path)
	rec := &models.FileRecord{ContentFingerprint: st.Fingerprint, ModifiedTime: st.ModTime}

	later := time.Unix(0, st.ModTime).Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	touched, _ := Compute(path)
	if got := Detect(rec, touched, false); got != Touched {
		t.Errorf("Detect = %v, want touched", got)
	}
	if Touched.NeedsEmbedding() || !New.NeedsEmbedding() || !Changed.NeedsEmbedding() {
		t.Error("NeedsEmbedding mismatch")
	}
}
