// Package doctree holds the section tree produced by the local parsers and
// renders it back to heading-marked text.
package doctree

import "strings"

// MaxHeadingDepth is the deepest heading marker Markdown emits. Deeper
// sections are rendered at this depth.
const MaxHeadingDepth = 4

// DocTree is the root of a parsed document.
type DocTree struct {
	Title    string     // Document title (from metadata or filename)
	Children []*DocNode // Top-level sections
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Page     int        // Source page/line (0 if N/A)
	Children []*DocNode // Subsections
}

// Markdown renders the tree as text with "#" heading markers so a
// hierarchy-aware splitter can recover the section structure. The document
// title is not emitted; top-level sections are depth 1. Untitled nodes
// contribute their text without opening a new level.
func Markdown(tree *DocTree) string {
	if tree == nil {
		return ""
	}
	var blocks []string
	for _, n := range tree.Children {
		blocks = appendNode(blocks, n, 1)
	}
	return strings.Join(blocks, "\n\n")
}

func appendNode(blocks []string, n *DocNode, depth int) []string {
	if n == nil {
		return blocks
	}
	childDepth := depth
	if title := headingText(n.Title); title != "" {
		blocks = append(blocks, strings.Repeat("#", min(depth, MaxHeadingDepth))+" "+title)
		childDepth = depth + 1
	}
	if t := strings.TrimSpace(n.Text); t != "" {
		blocks = append(blocks, t)
	}
	for _, c := range n.Children {
		blocks = appendNode(blocks, c, childDepth)
	}
	return blocks
}

// headingText flattens a title to a single line.
func headingText(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// Walk calls fn for every node in document order with its depth.
func Walk(tree *DocTree, fn func(n *DocNode, depth int)) {
	if tree == nil {
		return
	}
	var visit func(n *DocNode, depth int)
	visit = func(n *DocNode, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}
	for _, n := range tree.Children {
		visit(n, 1)
	}
}
