package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roojs/semantic-code-search/internal/models"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	models.Stats
	Mismatch string `json:"model_mismatch,omitempty"`
}

// call sends a JSON request to the server and decodes a JSON response into out.
// Non-2xx responses become errors carrying the server's message.
func call(ctx context.Context, method, serverURL, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(serverURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func queryViaHTTP(ctx context.Context, serverURL string, q *models.QueryRequest) (*models.QueryResponse, error) {
	var resp models.QueryResponse
	if err := call(ctx, http.MethodPost, serverURL, "/api/v1/query", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func statusViaHTTP(ctx context.Context, serverURL string) (*statusResponse, error) {
	var s statusResponse
	if err := call(ctx, http.MethodGet, serverURL, "/api/v1/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// mismatchError rebuilds the server's model mismatch message as an error.
func (s *statusResponse) mismatchError() error {
	if s.Mismatch == "" {
		return nil
	}
	return errors.New(s.Mismatch)
}

func watchListViaHTTP(ctx context.Context, serverURL string) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := call(ctx, http.MethodGet, serverURL, "/api/v1/watch/directories", nil, &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

func watchAddViaHTTP(ctx context.Context, serverURL, path string) error {
	body := map[string]any{"path": path, "sync": true}
	return call(ctx, http.MethodPost, serverURL, "/api/v1/watch/directories", body, nil)
}

func watchRemoveViaHTTP(ctx context.Context, serverURL, path string) error {
	return call(ctx, http.MethodDelete, serverURL, "/api/v1/watch/directories?path="+url.QueryEscape(path), nil, nil)
}
