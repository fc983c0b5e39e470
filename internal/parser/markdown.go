package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/dgallion1/docprompt/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files using goldmark. goldmark only
// locates the top-level headings; section bodies are kept as the original
// source so lists, tables, code and formulas survive untouched.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	src = bytes.ReplaceAll(src, []byte("\r\n"), []byte("\n"))

	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	o := newOutline()
	cursor := 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		start, end, ok := headingSpan(h, src)
		if !ok {
			continue
		}
		o.text(string(src[cursor:start]))
		o.heading(h.Level, headingTitle(h, src))
		cursor = end
	}
	o.text(string(src[cursor:]))

	return o.tree(titleFromFilename(filename)), nil
}

// headingSpan returns the byte range of the source lines making up h,
// including a setext underline. Empty ATX headings have no lines and are
// left in the body.
func headingSpan(h *ast.Heading, src []byte) (start, end int, ok bool) {
	lines := h.Lines()
	if lines.Len() == 0 {
		return 0, 0, false
	}
	first, last := lines.At(0), lines.At(lines.Len()-1)
	start = bytes.LastIndexByte(src[:first.Start], '\n') + 1
	end = lineEnd(src, last.Start)
	if !isATX(src[start:]) {
		end = lineEnd(src, end)
	}
	return start, end, true
}

func headingTitle(h *ast.Heading, src []byte) string {
	lines := h.Lines()
	parts := make([]string, 0, lines.Len())
	for i := range lines.Len() {
		seg := lines.At(i)
		parts = append(parts, strings.TrimSpace(string(seg.Value(src))))
	}
	return strings.Join(parts, " ")
}

// lineEnd returns the offset just past the newline ending the line that
// contains offset from.
func lineEnd(src []byte, from int) int {
	if from >= len(src) {
		return len(src)
	}
	i := bytes.IndexByte(src[from:], '\n')
	if i < 0 {
		return len(src)
	}
	return from + i + 1
}

func isATX(line []byte) bool {
	t := bytes.TrimLeft(line, " ")
	n := 0
	for n < len(t) && t[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return false
	}
	return n == len(t) || t[n] == ' ' || t[n] == '\t' || t[n] == '\n'
}
