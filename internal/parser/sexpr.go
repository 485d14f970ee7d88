package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is one node of a tree-sitter S-expression dump. Positions are 0-indexed.
type Node struct {
	Type      string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
	Children  []*Node
}

// ParseSExpr parses `tree-sitter parse` output of the form
//
//	(source_file [0:0-10:0] (function_definition [1:0-5:0] ...))
//
// Field labels such as "name:" before a child are skipped.
func ParseSExpr(src string) (*Node, error) {
	p := &sexprParser{src: src}
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '(' {
		return nil, fmt.Errorf("s-expression must start with '('")
	}
	root, err := p.node(0)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("unexpected trailing input at offset %d", p.pos)
	}
	return root, nil
}

// maxDepth bounds recursion on hostile input.
const maxDepth = 10000

type sexprParser struct {
	src string
	pos int
}

func (p *sexprParser) skipSpace() {
	for p.pos < len(p.src) && strings.IndexByte(" \t\r\n", p.src[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *sexprParser) node(depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("s-expression nested deeper than %d", maxDepth)
	}
	p.pos++ // '('
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && strings.IndexByte(" \t\r\n():[]", p.src[p.pos]) < 0 {
		p.pos++
	}
	if p.pos == start {
		return nil, fmt.Errorf("missing node type at offset %d", start)
	}
	n := &Node{Type: p.src[start:p.pos]}
	p.skipSpace()

	if p.pos < len(p.src) && p.src[p.pos] == '[' {
		if err := p.rangeInto(n); err != nil {
			return nil, err
		}
		p.skipSpace()
	}

	for p.pos < len(p.src) && p.src[p.pos] != ')' {
		if p.src[p.pos] == '(' {
			child, err := p.node(depth + 1)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		} else if !p.skipLabel() {
			return nil, fmt.Errorf("unexpected %q at offset %d", p.src[p.pos], p.pos)
		}
		p.skipSpace()
	}
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("unterminated node %q", n.Type)
	}
	p.pos++ // ')'
	return n, nil
}

// skipLabel consumes a "field:" label preceding a child node.
func (p *sexprParser) skipLabel() bool {
	start := p.pos
	for p.pos < len(p.src) && strings.IndexByte(" \t\r\n()[]:", p.src[p.pos]) < 0 {
		p.pos++
	}
	if p.pos > start && p.pos < len(p.src) && p.src[p.pos] == ':' {
		p.pos++
		return true
	}
	p.pos = start
	return false
}

// rangeInto parses "[sl:sc-el:ec]" or "[sl, sc] - [el, ec]".
func (p *sexprParser) rangeInto(n *Node) error {
	end := strings.IndexByte(p.src[p.pos:], ']')
	if end < 0 {
		return fmt.Errorf("unterminated range at offset %d", p.pos)
	}
	text := p.src[p.pos+1 : p.pos+end]
	p.pos += end + 1

	// Newer tree-sitter CLIs print "[1, 0] - [5, 1]"; the second bracket follows.
	if strings.Contains(text, ",") {
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == '-' {
			p.pos++
			p.skipSpace()
			closeIdx := strings.IndexByte(p.src[p.pos:], ']')
			if p.pos >= len(p.src) || p.src[p.pos] != '[' || closeIdx < 0 {
				return fmt.Errorf("malformed range at offset %d", p.pos)
			}
			text = text + "-" + p.src[p.pos+1:p.pos+closeIdx]
			p.pos += closeIdx + 1
		}
		text = strings.ReplaceAll(strings.ReplaceAll(text, " ", ""), ",", ":")
	}

	startPart, endPart, ok := strings.Cut(text, "-")
	if !ok {
		return fmt.Errorf("malformed range %q", text)
	}
	var err error
	if n.StartLine, n.StartCol, err = point(startPart); err != nil {
		return err
	}
	if n.EndLine, n.EndCol, err = point(endPart); err != nil {
		return err
	}
	return nil
}

func point(s string) (int, int, error) {
	l, c, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed point %q", s)
	}
	line, err := strconv.Atoi(l)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed line %q", l)
	}
	col, err := strconv.Atoi(c)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed column %q", c)
	}
	return line, col, nil
}

// Collect returns every node whose type is in types, in document order.
func Collect(root *Node, types []string) []*Node {
	want := make(map[string]struct{}, len(types))
	for _, t := range types {
		want[t] = struct{}{}
	}
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if _, ok := want[n.Type]; ok {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}
