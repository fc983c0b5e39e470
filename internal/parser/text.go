package parser

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/dgallion1/docprompt/internal/doctree"
)

// atxHeading matches "#"-style heading lines, which plain text exports of
// extracted documents often keep.
var atxHeading = regexp.MustCompile(`^(#{1,6})[ \t]+(.+?)[ \t#]*$`)

// TextParser handles plain text files. Paragraphs are separated by blank
// lines; "#" heading lines outside fenced code open sections. Node pages are
// the 1-based line a section or its first paragraph starts on.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	o := newOutline()
	var para []string
	fenced := false

	emit := func() {
		if len(para) > 0 {
			o.text(strings.Join(para, "\n"))
			para = para[:0]
		}
	}

	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fenced = !fenced
		}
		if !fenced {
			if m := atxHeading.FindStringSubmatch(trimmed); m != nil {
				emit()
				o.flush()
				o.page = lineNo
				o.heading(len(m[1]), m[2])
				continue
			}
			if trimmed == "" {
				emit()
				continue
			}
		}
		if len(para) == 0 && len(o.pending) == 0 && o.page == 0 {
			o.page = lineNo
		}
		para = append(para, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	emit()

	return o.tree(titleFromFilename(filename)), nil
}
