package parser

import (
	"context"
	"fmt"
	"os"

	"github.com/roojs/semantic-code-search/internal/models"
	"github.com/roojs/semantic-code-search/pkg/utils"
)

// TreeSitterParser reads functions from `tree-sitter parse` S-expression output stored
// next to the source file (or named explicitly).
type TreeSitterParser struct {
	nodeTypes []string
}

// NewTreeSitterParser returns a parser collecting nodeTypes (DefaultNodeTypes when empty).
func NewTreeSitterParser(nodeTypes []string) *TreeSitterParser {
	if len(nodeTypes) == 0 {
		nodeTypes = DefaultNodeTypes
	}
	return &TreeSitterParser{nodeTypes: nodeTypes}
}

// Extract parses path using path+".tree-sitter".
func (p *TreeSitterParser) Extract(ctx context.Context, path string) ([]models.FunctionSpan, error) {
	return p.ExtractFile(ctx, path, path+TreeSitterSuffix)
}

// ExtractFile parses path using the dump in treeFile.
func (p *TreeSitterParser) ExtractFile(ctx context.Context, path, treeFile string) ([]models.FunctionSpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	source, err := readSource(path)
	if err != nil {
		return nil, err
	}
	dump, err := os.ReadFile(treeFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: tree-sitter output %s", models.ErrFileMissing, treeFile)
		}
		return nil, fmt.Errorf("read tree-sitter output: %w", err)
	}
	return p.FromDump(source, string(dump))
}

// FromDump extracts the dedented text of every matching node from source.
// Node lines are inclusive; an end line past the source is clamped.
func (p *TreeSitterParser) FromDump(source, dump string) ([]models.FunctionSpan, error) {
	root, err := ParseSExpr(dump)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParseFailure, err)
	}
	var spans []models.FunctionSpan
	for _, n := range Collect(root, p.nodeTypes) {
		text, ok := utils.LineSlice(source, n.StartLine, n.EndLine)
		if !ok {
			continue
		}
		end := n.EndLine
		if end < n.StartLine {
			end = n.StartLine
		}
		spans = append(spans, models.FunctionSpan{
			StartLine: n.StartLine,
			EndLine:   end,
			Text:      utils.Dedent(text),
		})
	}
	return spans, nil
}
