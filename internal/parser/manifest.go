package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roojs/semantic-code-search/internal/models"
)

// ManifestFile names a source file and its tree-sitter dump.
type ManifestFile struct {
	Path           string `json:"path"`
	TreeSitterFile string `json:"tree_sitter_file"`
}

// Manifest is the JSON input of the embed command:
//
//	{"files": [{"path": "a.py", "tree_sitter_file": "a.py.tree-sitter"}],
//	 "repo_root": "/repo", "model_name": "...", "batch_size": 32}
type Manifest struct {
	Files     []ManifestFile `json:"files"`
	RepoRoot  string         `json:"repo_root,omitempty"`
	ModelName string         `json:"model_name,omitempty"`
	BatchSize int            `json:"batch_size,omitempty"`
}

// LoadManifest reads a manifest. Relative paths are resolved against the current
// working directory, as they were when the manifest was generated.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	for i := range m.Files {
		for _, p := range []*string{&m.Files[i].Path, &m.Files[i].TreeSitterFile} {
			if *p == "" {
				continue
			}
			abs, err := filepath.Abs(*p)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", *p, err)
			}
			*p = abs
		}
	}
	return &m, nil
}

// Inputs extracts every listed file. Per-file problems are carried in FileInput.Err so
// a batch can report them without stopping.
func (m *Manifest) Inputs(ctx context.Context, e *Extractor) ([]models.FileInput, error) {
	inputs := make([]models.FileInput, 0, len(m.Files))
	for _, f := range m.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.Path == "" {
			continue
		}
		in := models.FileInput{Path: f.Path}
		switch {
		case !fileExists(f.Path):
			in.Err = fmt.Errorf("%w: source %s", models.ErrFileMissing, f.Path)
		case f.TreeSitterFile != "":
			in.Functions, in.Err = e.ExtractWithTree(ctx, f.Path, f.TreeSitterFile)
		default:
			in.Functions, in.Err = e.Extract(ctx, f.Path)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
