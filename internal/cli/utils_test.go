package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roojs/semantic-code-search/internal/cluster"
	"github.com/roojs/semantic-code-search/internal/models"
)

func writeSource(t *testing.T, name string, lines int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= lines; i++ {
		fmt.Fprintf(&b, "line%d\n", i)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"markdown", OutputMarkdown, false},
		{"md", OutputMarkdown, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteQueryResults_JSON(t *testing.T) {
	resp := &models.QueryResponse{
		Query:     "hash password",
		QueryTime: 42,
		Hits:      []*models.QueryHit{{VectorID: 7, Path: "/src/auth.py", StartLine: 3, EndLine: 9, Score: 0.9}},
	}
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, resp, OutputJSON); err != nil {
		t.Fatalf("WriteQueryResults(json): %v", err)
	}
	var decoded models.QueryResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != resp.Query || len(decoded.Hits) != 1 || decoded.Hits[0].VectorID != 7 {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestWriteQueryResults_text(t *testing.T) {
	path := writeSource(t, "auth.py", 20)
	resp := &models.QueryResponse{
		QueryTime: 10,
		Hits:      []*models.QueryHit{{Path: path, StartLine: 2, EndLine: 4, Score: 0.5}},
	}
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, resp, OutputFormat("unknown")); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 1 results", "10ms", "Rank: 1", path + ":3-5", "line3", "line5"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
	if strings.Contains(out, "line6") {
		t.Errorf("text output should stop at the function end:\n%s", out)
	}
}

func TestQueryMarkdown(t *testing.T) {
	path := writeSource(t, "auth.py", 10)
	resp := &models.QueryResponse{Hits: []*models.QueryHit{
		{Path: path, StartLine: 4, EndLine: 8, Score: 0.8123},
		{Path: path, StartLine: 0, EndLine: 1, Score: 0.5},
		{Path: path, StartLine: 9, EndLine: 9, Score: 0.4},
		{Path: "/nonexistent/x.go", StartLine: 2, EndLine: 3, Score: 0.1},
	}}
	out := QueryMarkdown(resp, ContextLines)
	for _, sub := range []string{
		"# Search Results\n",
		"## Result 1 (score: 0.812)",
		"**File:** `" + path + ":5`",
		"```python:3:7\nline3\nline4\nline5\nline6\nline7\n```",
		"```python:1:5\nline1\n",
		"```python:8:10\nline8\nline9\nline10\n```",
		"## Result 4 (score: 0.100)",
		"```go:3:3\n# Could not read file: /nonexistent/x.go\n```",
	} {
		if !strings.Contains(out, sub) {
			t.Errorf("markdown missing %q:\n%s", sub, out)
		}
	}
}

func TestLanguage(t *testing.T) {
	tests := map[string]string{
		"/a/b.py": "python", "x.TS": "typescript", "m.hpp": "cpp", "k.kts": "kotlin",
		"w.vapi": "vala", "README": "", "c.h": "c",
	}
	for path, want := range tests {
		if got := Language(path); got != want {
			t.Errorf("Language(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestWriteBatchSummary_text(t *testing.T) {
	var s models.BatchSummary
	s.RunID = "run-1"
	s.Record(&models.SyncResult{Path: "/a.py", Status: models.SyncAdded})
	s.Record(&models.SyncResult{Path: "/b.py", Status: models.SyncFailed, Reason: "parse_failure", Error: "bad dump"})
	s.Fatal = "corrupt index"
	var buf bytes.Buffer
	if err := WriteBatchSummary(&buf, &s, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Run run-1: 1 added, 0 updated, 0 skipped, 1 failed", "/b.py (parse_failure): bad dump", "aborted: corrupt index"} {
		if !strings.Contains(out, sub) {
			t.Errorf("summary missing %q:\n%s", sub, out)
		}
	}
	if strings.Contains(out, "/a.py") {
		t.Error("successful files are not listed")
	}
}

func TestWriteReconcileReport(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteReconcileReport(&buf, &models.ReconcileReport{}, OutputText)
	if !strings.Contains(buf.String(), "nothing to repair") {
		t.Errorf("clean report: %q", buf.String())
	}
	buf.Reset()
	_ = WriteReconcileReport(&buf, &models.ReconcileReport{OrphanVectors: 3, MissingFiles: []string{"/gone.py"}}, OutputText)
	if !strings.Contains(buf.String(), "Evicted 3 orphan vectors") || !strings.Contains(buf.String(), "missing file: /gone.py") {
		t.Errorf("report: %q", buf.String())
	}
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	s := &models.Stats{Files: 2, Vectors: 5, ModelName: "m", Dimensions: 768, IndexType: "memory", Backend: "file", DiskUsage: 2048, SchemaVersion: 2}
	if err := WriteStats(&buf, s, errors.New("model mismatch"), OutputText); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"Files:          2", "5 (memory)", "m (768 dimensions)", "file, 2.0 KiB, schema v2", "model mismatch"} {
		if !strings.Contains(buf.String(), sub) {
			t.Errorf("stats missing %q:\n%s", sub, buf.String())
		}
	}
}

func TestWriteClusters(t *testing.T) {
	path := writeSource(t, "dup.py", 10)
	clusters := []cluster.Cluster{{AvgDistance: 0.0123, Items: []cluster.Item{
		{ID: 1, Path: path, StartLine: 0, EndLine: 1},
		{ID: 2, Path: path, StartLine: 5, EndLine: 6},
	}}}
	var buf bytes.Buffer
	if err := WriteClusters(&buf, clusters, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Cluster #0: avg_distance: 0.012", "    " + path + ":6", "    line6\n    line7"} {
		if !strings.Contains(out, sub) {
			t.Errorf("clusters missing %q:\n%s", sub, out)
		}
	}

	buf.Reset()
	if err := WriteClusters(&buf, clusters, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded) != 1 {
		t.Fatalf("json clusters: %v %s", err, buf.String())
	}
}

func TestTruncateLines(t *testing.T) {
	tests := []struct {
		s    string
		max  int
		want string
	}{
		{"a\nb", 5, "a\nb"},
		{"a\nb\nc", 2, "a\nb\n..."},
		{"a\nb", 0, "a\nb"},
	}
	for _, tt := range tests {
		if got := TruncateLines(tt.s, tt.max); got != tt.want {
			t.Errorf("TruncateLines(%q, %d) = %q, want %q", tt.s, tt.max, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{0: "0 B", 1023: "1023 B", 1024: "1.0 KiB", 5 << 20: "5.0 MiB"}
	for n, want := range tests {
		if got := FormatBytes(n); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
