package parser

import (
	"strings"
	"testing"

	"github.com/dgallion1/docprompt/internal/doctree"
)

func TestMarkdownParser_HeadingHierarchy(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content.

### Subsection A1

Subsection A1 content.

## Section B

Section B content.
`
	p := &MarkdownParser{}
	tree, err := p.Parse(strings.NewReader(input), "docs/doc.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tree.Title != "doc" {
		t.Errorf("expected title %q, got %q", "doc", tree.Title)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("expected 1 top-level child (h1), got %d", len(tree.Children))
	}

	h1 := tree.Children[0]
	if h1.Title != "Title" {
		t.Errorf("expected h1 title %q, got %q", "Title", h1.Title)
	}
	if h1.Text != "Intro text." {
		t.Errorf("expected h1 text %q, got %q", "Intro text.", h1.Text)
	}
	if len(h1.Children) != 2 {
		t.Fatalf("expected 2 h2 children, got %d", len(h1.Children))
	}

	secA := h1.Children[0]
	if secA.Title != "Section A" || secA.Text != "Section A content." {
		t.Errorf("unexpected section A: %q / %q", secA.Title, secA.Text)
	}
	if len(secA.Children) != 1 || secA.Children[0].Title != "Subsection A1" {
		t.Fatalf("expected Subsection A1 under Section A, got %+v", secA.Children)
	}
	if h1.Children[1].Title != "Section B" {
		t.Errorf("expected %q, got %q", "Section B", h1.Children[1].Title)
	}
}

func TestMarkdownParser_NoHeadings(t *testing.T) {
	input := "Just some plain text.\n\nAnother paragraph here."

	tree, err := (&MarkdownParser{}).Parse(strings.NewReader(input), "plain.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("expected 1 child for headingless markdown, got %d", len(tree.Children))
	}
	if tree.Children[0].Text != input {
		t.Errorf("expected text kept verbatim, got %q", tree.Children[0].Text)
	}
}

func TestMarkdownParser_BodyKeptVerbatim(t *testing.T) {
	input := "# API Reference\n\nSome intro.\n\n## Endpoints\n\n| verb | path |\n|---|---|\n| GET | /api/users |\n\n```\n# not a heading\nPOST /api/users\n```\n\n- one\n- two\n\n$$\nE = mc^2\n$$\n"

	tree, err := (&MarkdownParser{}).Parse(strings.NewReader(input), "api.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Children) != 1 || len(tree.Children[0].Children) != 1 {
		t.Fatalf("expected API Reference > Endpoints, got %+v", tree.Children)
	}

	endpoints := tree.Children[0].Children[0]
	want := "| verb | path |\n|---|---|\n| GET | /api/users |\n\n```\n# not a heading\nPOST /api/users\n```\n\n- one\n- two\n\n$$\nE = mc^2\n$$"
	if endpoints.Text != want {
		t.Errorf("expected body verbatim\nwant %q\ngot  %q", want, endpoints.Text)
	}
}

func TestMarkdownParser_SetextAndPreamble(t *testing.T) {
	input := "Preface line.\n\nOverview\n========\n\nBody.\n\nDetails\n-------\n\nMore.\r\n"

	tree, err := (&MarkdownParser{}).Parse(strings.NewReader(input), "s.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Children) != 2 {
		t.Fatalf("expected preamble plus one section, got %d", len(tree.Children))
	}
	if tree.Children[0].Title != "" || tree.Children[0].Text != "Preface line." {
		t.Errorf("unexpected preamble %+v", tree.Children[0])
	}
	overview := tree.Children[1]
	if overview.Title != "Overview" || overview.Text != "Body." {
		t.Errorf("unexpected overview %q / %q", overview.Title, overview.Text)
	}
	if len(overview.Children) != 1 || overview.Children[0].Title != "Details" || overview.Children[0].Text != "More." {
		t.Errorf("unexpected details %+v", overview.Children)
	}
}

func TestMarkdownParser_RendersBack(t *testing.T) {
	input := "# A\n\ntext a\n\n### C\n\ntext c\n"
	tree, err := (&MarkdownParser{}).Parse(strings.NewReader(input), "r.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := doctree.Markdown(tree)
	if got != "# A\n\ntext a\n\n## C\n\ntext c" {
		t.Errorf("unexpected render %q", got)
	}
}

func TestMarkdownParser_EmptyInput(t *testing.T) {
	tree, err := (&MarkdownParser{}).Parse(strings.NewReader(""), "empty.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Children) != 0 {
		t.Errorf("expected 0 children for empty input, got %d", len(tree.Children))
	}
}

func TestMarkdownParser_TitleStripping(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"readme.md", "readme"},
		{"notes.markdown", "notes"},
		{"/tmp/x/plain.md", "plain"},
	}
	p := &MarkdownParser{}
	for _, tt := range tests {
		tree, err := p.Parse(strings.NewReader("text"), tt.filename)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tt.filename, err)
		}
		if tree.Title != tt.want {
			t.Errorf("filename=%q: expected title %q, got %q", tt.filename, tt.want, tree.Title)
		}
	}
}
