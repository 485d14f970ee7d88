package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roojs/semantic-code-search/internal/models"
)

const pySource = `import hashlib

class Auth:
    def login(self, user):
        return check(user)

    def logout(self, user):
        pass

def check(user):
    return hashlib.sha256(user).hexdigest()
`

const pyDump = `(module [0:0-11:0]
  (import_statement [0:0-0:14] name: (dotted_name [0:7-0:14] (identifier [0:7-0:14])))
  (class_definition [2:0-7:12] name: (identifier [2:6-2:10])
    body: (block [3:4-7:12]
      (function_definition [3:4-4:26] name: (identifier [3:8-3:13]))
      (function_definition [6:4-7:12] name: (identifier [6:8-6:14]))))
  (function_definition [9:0-10:43] name: (identifier [9:4-9:9])))`

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestParseSExpr(t *testing.T) {
	root, err := ParseSExpr(pyDump)
	require.NoError(t, err)
	assert.Equal(t, "module", root.Type)
	assert.Equal(t, 11, root.EndLine)
	fns := Collect(root, DefaultNodeTypes)
	require.Len(t, fns, 3)
	assert.Equal(t, 3, fns[0].StartLine)
	assert.Equal(t, 4, fns[0].EndLine)
	assert.Equal(t, 26, fns[0].EndCol)
	assert.Equal(t, 9, fns[2].StartLine)
}

func TestParseSExpr_NewRangeFormat(t *testing.T) {
	root, err := ParseSExpr("(program [0, 0] - [3, 0]\n  (function_declaration [0, 0] - [2, 1] name: (identifier [0, 9] - [0, 12])))")
	require.NoError(t, err)
	fns := Collect(root, DefaultNodeTypes)
	require.Len(t, fns, 1)
	assert.Equal(t, 0, fns[0].StartLine)
	assert.Equal(t, 2, fns[0].EndLine)
	assert.Equal(t, 1, fns[0].EndCol)
}

func TestParseSExpr_Malformed(t *testing.T) {
	for _, in := range []string{
		"",
		"module [0:0-1:0]",
		"(module [0:0-1:0]",
		"(module [0:0-1:0] (x [0:0-0:1])",
		"(module [a:b-c:d])",
		"()",
		"(module [0:0-1:0]) trailing",
	} {
		_, err := ParseSExpr(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestTreeSitterParser_FromDump(t *testing.T) {
	spans, err := NewTreeSitterParser(nil).FromDump(pySource, pyDump)
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, "def login(self, user):\n    return check(user)", spans[0].Text)
	assert.Equal(t, models.FunctionSpan{StartLine: 9, EndLine: 10, Text: "def check(user):\n    return hashlib.sha256(user).hexdigest()"}, spans[2])
}

func TestTreeSitterParser_CustomNodeTypes(t *testing.T) {
	spans, err := NewTreeSitterParser([]string{"class_definition"}).FromDump(pySource, pyDump)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, 2, spans[0].StartLine)
}

func TestTreeSitterParser_BadDump(t *testing.T) {
	_, err := NewTreeSitterParser(nil).FromDump(pySource, "(module [0:0-1:0]")
	assert.ErrorIs(t, err, models.ErrParseFailure)
}

func TestGoParser(t *testing.T) {
	src := "package a\n\n// Add adds.\nfunc Add(a, b int) int {\n\treturn a + b\n}\n\ntype T struct{}\n\nfunc (T) M() {}\n"
	spans, err := (&GoParser{}).FromSource("a.go", src)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, 2, spans[0].StartLine, "doc comment included")
	assert.Equal(t, 5, spans[0].EndLine)
	assert.True(t, strings.HasPrefix(spans[0].Text, "// Add adds."))
	assert.Equal(t, 9, spans[1].StartLine)
	assert.Equal(t, 9, spans[1].EndLine)
}

func TestGoParser_SyntaxError(t *testing.T) {
	_, err := (&GoParser{}).FromSource("bad.go", "package a\nfunc {")
	assert.ErrorIs(t, err, models.ErrParseFailure)
}

func TestExtractor_Dispatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	e := NewExtractor(nil)

	py := filepath.Join(dir, "auth.py")
	write(t, py, pySource)
	_, err := e.Extract(ctx, py)
	assert.ErrorIs(t, err, models.ErrParseFailure, "python without a dump has no parser")
	assert.False(t, e.Handles(py))

	write(t, py+TreeSitterSuffix, pyDump)
	assert.True(t, e.Handles(py))
	spans, err := e.Extract(ctx, py)
	require.NoError(t, err)
	assert.Len(t, spans, 3)

	goFile := filepath.Join(dir, "main.go")
	write(t, goFile, "package main\n\nfunc main() {}\n")
	assert.True(t, e.Supports(goFile))
	spans, err = e.Extract(ctx, goFile)
	require.NoError(t, err)
	assert.Len(t, spans, 1)

	_, err = e.Extract(ctx, filepath.Join(dir, "gone.py"))
	assert.True(t, errors.Is(err, models.ErrFileMissing), "got %v", err)
}

func TestManifest(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	py := filepath.Join(dir, "auth.py")
	write(t, py, pySource)
	write(t, filepath.Join(dir, "auth.tree"), pyDump)
	manifest := filepath.Join(dir, "input.json")
	write(t, manifest, `{"files":[
		{"path":"`+py+`","tree_sitter_file":"`+filepath.Join(dir, "auth.tree")+`"},
		{"path":"`+filepath.Join(dir, "missing.py")+`","tree_sitter_file":"x"},
		{"path":"`+py+`","tree_sitter_file":"`+filepath.Join(dir, "nodump")+`"}
	],"model_name":"m","batch_size":8}`)

	m, err := LoadManifest(manifest)
	require.NoError(t, err)
	assert.Equal(t, "m", m.ModelName)
	assert.Equal(t, 8, m.BatchSize)

	inputs, err := m.Inputs(ctx, NewExtractor(nil))
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.NoError(t, inputs[0].Err)
	assert.Len(t, inputs[0].Functions, 3)
	assert.ErrorIs(t, inputs[1].Err, models.ErrFileMissing)
	assert.ErrorIs(t, inputs[2].Err, models.ErrFileMissing)
}

func TestLoadManifest_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	write(t, path, "{")
	_, err := LoadManifest(path)
	assert.Error(t, err)
}
