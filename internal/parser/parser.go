// Package parser extracts text from local documents without the remote
// extraction service. Every format is parsed into a doctree and rendered to
// heading-marked text.
package parser

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dgallion1/docprompt/internal/doctree"
)

// ErrUnsupportedFormat is returned for file extensions no parser handles.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Parser converts raw document bytes into a DocTree.
type Parser interface {
	Parse(r io.Reader, filename string) (*doctree.DocTree, error)
}

var parsers = map[string]func() Parser{
	".txt":      func() Parser { return &TextParser{} },
	".md":       func() Parser { return &MarkdownParser{} },
	".markdown": func() Parser { return &MarkdownParser{} },
	".csv":      func() Parser { return &CSVParser{} },
	".html":     func() Parser { return &HTMLParser{} },
	".htm":      func() Parser { return &HTMLParser{} },
	".pdf":      func() Parser { return &PDFParser{FallbackPdftotext: true} },
	".docx":     func() Parser { return &DOCXParser{} },
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	newParser, ok := parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return newParser(), nil
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	_, ok := parsers[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extensions lists the supported extensions in sorted order.
func Extensions() []string {
	exts := make([]string, 0, len(parsers))
	for ext := range parsers {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// ToMarkdown parses r with the parser for filename and renders the tree.
func ToMarkdown(r io.Reader, filename string) (string, error) {
	p, err := ForFile(filename)
	if err != nil {
		return "", err
	}
	tree, err := p.Parse(r, filename)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", filepath.Base(filename), err)
	}
	return doctree.Markdown(tree), nil
}

// titleFromFilename drops directories and the extension.
func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// outline nests sections by heading level as a document is scanned.
type outline struct {
	root    *doctree.DocNode
	stack   []outlineEntry
	pending []string
	page    int
}

type outlineEntry struct {
	node  *doctree.DocNode
	level int
}

func newOutline() *outline {
	root := &doctree.DocNode{}
	return &outline{root: root, stack: []outlineEntry{{node: root}}}
}

// heading closes the pending text and opens a section at level.
func (o *outline) heading(level int, title string) {
	o.flush()
	n := &doctree.DocNode{Title: title, Page: o.page}
	for len(o.stack) > 1 && o.stack[len(o.stack)-1].level >= level {
		o.stack = o.stack[:len(o.stack)-1]
	}
	parent := o.stack[len(o.stack)-1].node
	parent.Children = append(parent.Children, n)
	o.stack = append(o.stack, outlineEntry{node: n, level: level})
}

// text queues a paragraph for the current section.
func (o *outline) text(t string) {
	if t = strings.TrimSpace(t); t != "" {
		o.pending = append(o.pending, t)
	}
}

func (o *outline) flush() {
	if len(o.pending) == 0 {
		return
	}
	body := strings.Join(o.pending, "\n\n")
	o.pending = o.pending[:0]

	top := o.stack[len(o.stack)-1].node
	if top == o.root {
		// Text before the first heading stays untitled and in order.
		o.root.Children = append(o.root.Children, &doctree.DocNode{Text: body, Page: o.page})
		return
	}
	if top.Text != "" {
		top.Text += "\n\n" + body
	} else {
		top.Text = body
	}
}

// tree finishes the scan.
func (o *outline) tree(title string) *doctree.DocTree {
	o.flush()
	return &doctree.DocTree{Title: title, Children: o.root.Children}
}
