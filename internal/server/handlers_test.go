package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roojs/semantic-code-search/internal/config"
	"github.com/roojs/semantic-code-search/internal/embedding"
	"github.com/roojs/semantic-code-search/internal/engine"
	"github.com/roojs/semantic-code-search/internal/indexer"
	"github.com/roojs/semantic-code-search/internal/models"
	"github.com/roojs/semantic-code-search/internal/parser"
	"github.com/roojs/semantic-code-search/internal/storage"
	"github.com/roojs/semantic-code-search/internal/vector"
)

const authSource = `package auth

// Login checks a user's password hash.
func Login(user, password string) bool { return user != "" && password != "" }

// Logout ends a session.
func Logout(session string) {}
`

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	vecIdx, err := vector.NewMemoryIndex(64)
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.Open(context.Background(), store, vecIdx, embedding.NewMockEmbedder("", 64))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	idx := indexer.NewIndexer(eng, parser.NewExtractor(nil))
	return NewServer(eng, idx, &config.ServerConfig{Port: 8080}, zap.NewNop(), opts...), eng
}

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.go")
	if err := os.WriteFile(path, []byte(authSource), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func do(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	id := w.Header().Get(middleware.RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("request id %q is not a uuid: %v", id, err)
	}
}

func TestHandleIndexFilesAndQuery(t *testing.T) {
	srv, eng := newTestServer(t)
	path := writeSource(t)

	w := do(t, srv, http.MethodPost, "/api/v1/files", indexRequest{Paths: []string{path}})
	if w.Code != http.StatusOK {
		t.Fatalf("index status: got %d, body: %s", w.Code, w.Body.String())
	}
	var summary models.BatchSummary
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	if summary.Added != 1 || summary.RunID == "" {
		t.Errorf("summary: %+v", summary)
	}
	if n := len(eng.Functions()); n != 2 {
		t.Errorf("functions: got %d, want 2", n)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/query", map[string]any{"query": "login password", "extensions": []string{"GO"}})
	if w.Code != http.StatusOK {
		t.Fatalf("query status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.QueryResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 2 {
		t.Fatalf("hits: got %d, want 2", len(resp.Hits))
	}
	if filepath.Base(resp.Hits[0].Path) != "auth.go" {
		t.Errorf("hit path: %s", resp.Hits[0].Path)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/query", map[string]any{"query": "login", "files": []string{"/elsewhere/other.go"}})
	if w.Code != http.StatusOK {
		t.Fatalf("filtered query status: got %d", w.Code)
	}
	resp = models.QueryResponse{}
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Hits) != 0 {
		t.Errorf("filter on an unindexed file should return nothing, got %d hits", len(resp.Hits))
	}
}

func TestHandleQuery_badRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := do(t, srv, http.MethodPost, "/api/v1/query", map[string]string{"query": ""}); w.Code != http.StatusBadRequest {
		t.Errorf("empty query: got %d", w.Code)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d", w.Code)
	}
}

func TestHandleIndexFiles_noPaths(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := do(t, srv, http.MethodPost, "/api/v1/files", indexRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleFileRecordAndDelete(t *testing.T) {
	srv, eng := newTestServer(t)
	path := writeSource(t)
	if w := do(t, srv, http.MethodPost, "/api/v1/files", indexRequest{Paths: []string{path}}); w.Code != http.StatusOK {
		t.Fatalf("index status: got %d", w.Code)
	}

	target := "/api/v1/files?path=" + url.QueryEscape(path)
	w := do(t, srv, http.MethodGet, target, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status: got %d, body: %s", w.Code, w.Body.String())
	}
	var rec models.FileRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.VectorIDs) != 2 || len(rec.FunctionLines) != 2 {
		t.Errorf("record: %+v", rec)
	}

	w = do(t, srv, http.MethodDelete, target, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status: got %d", w.Code)
	}
	var removed models.SyncResult
	if err := json.NewDecoder(w.Body).Decode(&removed); err != nil {
		t.Fatal(err)
	}
	if removed.Status != models.SyncRemoved || removed.Path != path {
		t.Errorf("delete response: %+v", removed)
	}
	if n := len(eng.Functions()); n != 0 {
		t.Errorf("functions after delete: %d", n)
	}
	if w := do(t, srv, http.MethodGet, target, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d", w.Code)
	}
	if w := do(t, srv, http.MethodDelete, "/api/v1/files", nil); w.Code != http.StatusBadRequest {
		t.Errorf("delete without path: got %d", w.Code)
	}
}

func TestHandleReconcile(t *testing.T) {
	srv, eng := newTestServer(t)
	path := writeSource(t)
	if w := do(t, srv, http.MethodPost, "/api/v1/files", indexRequest{Paths: []string{path}}); w.Code != http.StatusOK {
		t.Fatalf("index status: got %d", w.Code)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	w := do(t, srv, http.MethodPost, "/api/v1/reconcile", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var report models.ReconcileReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if len(report.MissingFiles) != 1 {
		t.Errorf("missing files: %v", report.MissingFiles)
	}
	if n := len(eng.Functions()); n != 0 {
		t.Errorf("functions after reconcile: %d", n)
	}
}

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	path := writeSource(t)
	if w := do(t, srv, http.MethodPost, "/api/v1/files", indexRequest{Paths: []string{path}}); w.Code != http.StatusOK {
		t.Fatalf("index status: got %d", w.Code)
	}
	w := do(t, srv, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Files        int    `json:"files"`
		Vectors      int    `json:"vectors"`
		NextVectorID uint64 `json:"next_vector_id"`
		Backend      string `json:"backend"`
		DiskUsage    int64  `json:"disk_usage_bytes"`
		Mismatch     string `json:"model_mismatch"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Files != 1 || out.Vectors != 2 || out.NextVectorID != 2 {
		t.Errorf("status: %+v", out)
	}
	if out.Backend != "sqlite" || out.DiskUsage < 1 {
		t.Errorf("storage: backend %q, disk usage %d", out.Backend, out.DiskUsage)
	}
	if out.Mismatch != "" {
		t.Errorf("unexpected mismatch: %s", out.Mismatch)
	}
}

func TestHandleWatchDirectories(t *testing.T) {
	dir := t.TempDir()
	mock := &mockWatchService{dirs: []string{"/tmp/src"}}
	var persisted []string
	srv, _ := newTestServer(t, WithWatch(mock, func(dirs []string) error {
		persisted = dirs
		return nil
	}))

	w := do(t, srv, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusOK {
		t.Errorf("list status: got %d", w.Code)
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/src" {
		t.Errorf("directories: got %v", out.Directories)
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir}); w.Code != http.StatusCreated {
		t.Errorf("add status: got %d, body: %s", w.Code, w.Body.String())
	}
	if len(persisted) != 2 {
		t.Errorf("persisted: %v", persisted)
	}
	if w := do(t, srv, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir + "/nonexistent"}); w.Code != http.StatusNotFound {
		t.Errorf("add missing dir: got %d", w.Code)
	}
	if w := do(t, srv, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(dir), nil); w.Code != http.StatusOK {
		t.Errorf("remove status: got %d", w.Code)
	}
	if len(mock.Directories()) != 1 || len(persisted) != 1 {
		t.Errorf("after remove: %v, persisted %v", mock.Directories(), persisted)
	}
}

func TestHandleWatchDirectories_notEnabled(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := do(t, srv, http.MethodGet, "/api/v1/watch/directories", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrNotFound, http.StatusNotFound},
		{&models.ModelMismatchError{Indexed: "a", Requested: "b"}, http.StatusConflict},
		{engine.ErrReadOnly, http.StatusForbidden},
		{&models.FileError{Path: "x", Err: models.ErrParseFailure}, http.StatusUnprocessableEntity},
		{models.ErrCorruptIndex, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
