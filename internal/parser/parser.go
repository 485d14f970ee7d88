// Package parser extracts function spans from source files.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/roojs/semantic-code-search/internal/models"
)

// TreeSitterSuffix names the companion file holding `tree-sitter parse` output for a source file.
const TreeSitterSuffix = ".tree-sitter"

// DefaultNodeTypes are the tree-sitter node types treated as functions.
var DefaultNodeTypes = []string{
	"function_definition",
	"method_definition",
	"function_declaration",
	"method_declaration",
}

// Parser extracts functions from one file. Failures wrap ErrParseFailure, or
// ErrFileMissing when the file does not exist.
type Parser interface {
	Extract(ctx context.Context, path string) ([]models.FunctionSpan, error)
}

// Extractor picks a parser per file: a companion tree-sitter dump wins, otherwise the
// parser registered for the file's extension.
type Extractor struct {
	treeSitter *TreeSitterParser
	byExt      map[string]Parser
}

// NewExtractor returns an Extractor with the Go parser registered for ".go" and the
// tree-sitter parser configured with nodeTypes (DefaultNodeTypes when empty).
func NewExtractor(nodeTypes []string) *Extractor {
	return &Extractor{
		treeSitter: NewTreeSitterParser(nodeTypes),
		byExt: map[string]Parser{
			".go": &GoParser{},
		},
	}
}

// Register sets the parser used for files with extension ext (leading dot, any case).
func (e *Extractor) Register(ext string, p Parser) {
	e.byExt[strings.ToLower(ext)] = p
}

// Supports reports whether Extract can handle path without a companion dump.
func (e *Extractor) Supports(path string) bool {
	_, ok := e.byExt[models.LowerExt(path)]
	return ok
}

// Handles reports whether path has a registered parser or a companion tree-sitter dump.
func (e *Extractor) Handles(path string) bool {
	return e.Supports(path) || fileExists(path+TreeSitterSuffix)
}

// Extract returns the functions of the file at path.
func (e *Extractor) Extract(ctx context.Context, path string) ([]models.FunctionSpan, error) {
	if fileExists(path + TreeSitterSuffix) {
		return e.treeSitter.Extract(ctx, path)
	}
	if p, ok := e.byExt[models.LowerExt(path)]; ok {
		return p.Extract(ctx, path)
	}
	if !fileExists(path) {
		return nil, fmt.Errorf("%w: %s", models.ErrFileMissing, path)
	}
	return nil, fmt.Errorf("%w: no parser for %s and no %s companion", models.ErrParseFailure, path, TreeSitterSuffix)
}

// ExtractWithTree parses path using an explicit tree-sitter dump file.
func (e *Extractor) ExtractWithTree(ctx context.Context, path, treeFile string) ([]models.FunctionSpan, error) {
	return e.treeSitter.ExtractFile(ctx, path, treeFile)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// readSource reads path as text. Invalid UTF-8 sequences are replaced with the
// replacement character so line numbering stays intact.
func readSource(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", models.ErrFileMissing, path)
		}
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�"), nil
	}
	return string(content), nil
}
