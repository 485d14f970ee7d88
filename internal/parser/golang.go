package parser

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/roojs/semantic-code-search/internal/models"
)

// GoParser extracts functions and methods from Go source with the standard library parser.
type GoParser struct{}

// Extract implements Parser.
func (g *GoParser) Extract(ctx context.Context, path string) ([]models.FunctionSpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	source, err := readSource(path)
	if err != nil {
		return nil, err
	}
	return g.FromSource(path, source)
}

// FromSource parses Go source text. Doc comments are included in the function text.
func (g *GoParser) FromSource(filename, source string) ([]models.FunctionSpan, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, source, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParseFailure, err)
	}
	lines := strings.Split(source, "\n")
	var spans []models.FunctionSpan
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		startPos := fn.Pos()
		if fn.Doc != nil {
			startPos = fn.Doc.Pos()
		}
		start := fset.Position(startPos).Line - 1
		end := fset.Position(fn.End()).Line - 1
		if end >= len(lines) {
			end = len(lines) - 1
		}
		spans = append(spans, models.FunctionSpan{
			StartLine: start,
			EndLine:   end,
			Text:      strings.Join(lines[start:end+1], "\n"),
		})
	}
	return spans, nil
}
