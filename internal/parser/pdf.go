package parser

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgallion1/docprompt/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser handles PDF files. It tries the Go library first,
// then falls back to pdftotext if available.
//
// PDF text carries no heading markup, so numbered section lines
// ("2.1 Methods", "第三章 总结") are promoted to headings. Everything else
// is body text tagged with its page.
type PDFParser struct {
	FallbackPdftotext bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so we write to a temp file.
	tmp, err := os.CreateTemp("", "docprompt-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	pages, err := extractPDFPages(tmpPath)
	if (err != nil || blank(pages)) && p.FallbackPdftotext {
		if alt, altErr := extractPdftotext(tmpPath); altErr == nil {
			pages, err = alt, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	return pdfOutline(pages).tree(titleFromFilename(filename)), nil
}

// pdfOutline scans page texts line by line. Paragraphs break on blank
// lines and page boundaries.
func pdfOutline(pages []string) *outline {
	o := newOutline()
	for i, page := range pages {
		o.page = i + 1
		var para []string
		flushPara := func() {
			o.text(strings.Join(para, "\n"))
			para = para[:0]
		}
		for _, line := range strings.Split(page, "\n") {
			line = strings.TrimRight(line, " \t\r")
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				flushPara()
				continue
			}
			if level, ok := sectionLevel(trimmed); ok {
				flushPara()
				o.heading(level, trimmed)
				continue
			}
			para = append(para, line)
		}
		flushPara()
	}
	return o
}

var (
	numberedSection = regexp.MustCompile(`^(\d{1,2}(?:\.\d{1,2}){0,3})\.?\s+[\p{Lu}\p{Han}][^.。!?！？:：]*$`)
	chapterSection  = regexp.MustCompile(`^第[一二三四五六七八九十百零\d]+([章节])\s*\S`)
)

// maxSectionRunes bounds heading candidates; longer lines are prose.
const maxSectionRunes = 80

// sectionLevel reports whether line looks like a numbered section heading
// and at what depth.
func sectionLevel(line string) (int, bool) {
	if utf8.RuneCountInString(line) > maxSectionRunes {
		return 0, false
	}
	if m := numberedSection.FindStringSubmatch(line); m != nil {
		return strings.Count(m[1], ".") + 1, true
	}
	if m := chapterSection.FindStringSubmatch(line); m != nil {
		if m[1] == "章" {
			return 1, true
		}
		return 2, true
	}
	return 0, false
}

func extractPDFPages(path string) ([]string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// pdftotextTimeout bounds the external fallback.
const pdftotextTimeout = 2 * time.Minute

func extractPdftotext(path string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pdftotextTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	// pdftotext separates pages with form feeds.
	return strings.Split(string(out), "\f"), nil
}

func blank(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}
