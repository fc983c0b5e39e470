package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docprompt/internal/doctree"
	"golang.org/x/net/html"
)

// HTMLParser handles HTML files. h1-h6 open sections; paragraphs, list
// items, preformatted blocks and table rows become body text in their
// Markdown form.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := titleFromFilename(filename)
	if t := findTitle(doc); t != "" {
		title = t
	}

	o := newOutline()
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.Data); level > 0 {
				if t := textContent(n); t != "" {
					o.heading(level, t)
				}
				return
			}
			switch n.Data {
			case "script", "style", "noscript", "nav", "footer", "header", "template":
				return
			case "p", "blockquote", "dt", "dd", "figcaption":
				o.text(textContent(n))
				return
			case "li":
				if t := textContent(n); t != "" {
					o.text("- " + t)
				}
				return
			case "pre":
				if t := strings.Trim(rawText(n), "\n"); strings.TrimSpace(t) != "" {
					o.text("```\n" + t + "\n```")
				}
				return
			case "table":
				o.text(tableText(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if body := findElement(doc, "body"); body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	return o.tree(title), nil
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

// textContent returns the node's text with whitespace runs collapsed.
func textContent(n *html.Node) string {
	return strings.Join(strings.Fields(rawText(n)), " ")
}

func rawText(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return buf.String()
}

// tableText renders each row as "| a | b |".
func tableText(table *html.Node) string {
	var rows []string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, textContent(c))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(table)
	return strings.Join(rows, "\n")
}

func findTitle(doc *html.Node) string {
	if n := findElement(doc, "title"); n != nil {
		return textContent(n)
	}
	return ""
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
