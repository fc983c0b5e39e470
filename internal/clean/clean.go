// Package clean removes conversion noise from extracted markdown before it is
// chunked.
package clean

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Cleaner turns raw extracted text into cleaned text.
type Cleaner interface {
	Clean(text string) string
}

// Markdown applies the fixed cleaning table. The zero value is ready to use.
type Markdown struct{}

// Nop leaves text untouched; it stands in when cleaning is disabled.
type Nop struct{}

func (Nop) Clean(text string) string { return text }

// Clean runs the default Markdown cleaner.
func Clean(text string) string {
	return Markdown{}.Clean(text)
}

// Clean applies, in order: noise removal, hyphenation joins, OCR confusion
// fixes, whitespace normalization, table row normalization, display formula
// layout and empty heading removal.
func (Markdown) Clean(text string) string {
	for _, step := range steps {
		text = step(text)
	}
	return text
}

var steps = []func(string) string{
	removeNoise,
	joinHyphenation,
	fixOCR,
	normalizeWhitespace,
	normalizeTables,
	layoutFormulas,
	dropEmptyHeadings,
}

var noise = []*regexp.Regexp{
	regexp.MustCompile(`_{2,}`),
	regexp.MustCompile(`~{2,}`),
	regexp.MustCompile(`(?i)\bpage\s*\d+\b`),
	regexp.MustCompile(`第\s*\d+\s*页`),
	regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]*$`),
}

func removeNoise(text string) string {
	for _, re := range noise {
		text = re.ReplaceAllString(text, "")
	}
	return text
}

var hyphenRe = regexp.MustCompile(`(\w+)-[ \t]*\n\s*(\w+)`)

func joinHyphenation(text string) string {
	return hyphenRe.ReplaceAllString(text, "${1}${2}")
}

// Whole-word OCR confusions, applied in this order.
var ocrFixes = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\brn\b`), "m"},
	{regexp.MustCompile(`\bvv\b`), "w"},
	{regexp.MustCompile(`\bcl\b`), "d"},
	{regexp.MustCompile(`\b1i\b`), "li"},
}

func fixOCR(text string) string {
	for _, f := range ocrFixes {
		text = f.re.ReplaceAllString(text, f.repl)
	}
	return text
}

var (
	spacesRe   = regexp.MustCompile(` {2,}`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
)

func normalizeWhitespace(text string) string {
	text = spacesRe.ReplaceAllString(text, " ")
	text = newlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// normalizeTables rewrites table rows as "| a | b |". A table starts at a line
// holding both '|' and '-' and runs while lines keep holding '|'.
func normalizeTables(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.Contains(line, "|") || !strings.Contains(line, "-") {
			out = append(out, lines[i])
			continue
		}
		end := i
		for end+1 < len(lines) && strings.Contains(lines[end+1], "|") {
			end++
		}
		for _, row := range lines[i : end+1] {
			out = append(out, tableRow(row))
		}
		i = end
	}
	return strings.Join(out, "\n")
}

func tableRow(line string) string {
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	if len(cells) > 0 && cells[0] == "" {
		cells = cells[1:]
	}
	if len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	return "| " + strings.Join(cells, " | ") + " |"
}

var displayMathRe = regexp.MustCompile(`\$\$([^$]+)\$\$`)

// layoutFormulas puts display formulas on their own lines between $$ fences.
func layoutFormulas(text string) string {
	return displayMathRe.ReplaceAllStringFunc(text, func(m string) string {
		body := strings.TrimSpace(m[2 : len(m)-2])
		return "$$\n" + body + "\n$$"
	})
}

var headingMarkRe = regexp.MustCompile(`^#+\s*`)

func dropEmptyHeadings(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, "#") && strings.TrimSpace(headingMarkRe.ReplaceAllString(line, "")) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Stats describes how much a cleaning pass removed. Sizes are in characters.
type Stats struct {
	OriginalSize         int     `json:"original_size"`
	CleanedSize          int     `json:"cleaned_size"`
	SizeReduction        int     `json:"size_reduction"`
	SizeReductionPercent float64 `json:"size_reduction_percent"`
	OriginalLines        int     `json:"original_lines"`
	CleanedLines         int     `json:"cleaned_lines"`
	LinesRemoved         int     `json:"lines_removed"`
}

func Compare(original, cleaned string) Stats {
	st := Stats{
		OriginalSize:  utf8.RuneCountInString(original),
		CleanedSize:   utf8.RuneCountInString(cleaned),
		OriginalLines: strings.Count(original, "\n") + 1,
		CleanedLines:  strings.Count(cleaned, "\n") + 1,
	}
	st.SizeReduction = st.OriginalSize - st.CleanedSize
	st.LinesRemoved = st.OriginalLines - st.CleanedLines
	if st.OriginalSize > 0 {
		st.SizeReductionPercent = float64(st.SizeReduction) / float64(st.OriginalSize) * 100
	}
	return st
}
