package document

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// Measure computes word and character counts of the rendered text of a
// markdown payload. Markup (heading hashes, emphasis markers, link targets)
// is not counted; code block contents are.
func Measure(content string) Metadata {
	plain := PlainText(content)
	return Metadata{
		WordCount: len(strings.Fields(plain)),
		CharCount: utf8.RuneCountInString(strings.ReplaceAll(plain, "\n", "")),
	}
}

// PlainText extracts the visible text of a markdown payload, one block per line.
func PlainText(content string) string {
	src := []byte(content)
	root := markdown.Parser().Parse(text.NewReader(src))

	var sb strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				endBlock(&sb)
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(src))
			}
			endBlock(&sb)
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			sb.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.AutoLink:
			sb.Write(node.Label(src))
		}
		return ast.WalkContinue, nil
	})

	return sb.String()
}

// endBlock terminates the current line unless it is already terminated.
func endBlock(sb *strings.Builder) {
	s := sb.String()
	if s == "" || strings.HasSuffix(s, "\n") {
		return
	}
	sb.WriteByte('\n')
}
