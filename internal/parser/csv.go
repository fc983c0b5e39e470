package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docprompt/internal/doctree"
)

// csvBatchRows is how many data rows go into one section.
const csvBatchRows = 20

// CSVParser handles CSV files. The first row is the header; data rows are
// grouped into sections rendered as Markdown tables.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	tree := &doctree.DocTree{Title: titleFromFilename(filename)}
	if len(records) == 0 {
		return tree, nil
	}

	headers := records[0]
	dataRows := records[1:]
	for i := 0; i < len(dataRows); i += csvBatchRows {
		end := min(i+csvBatchRows, len(dataRows))
		tree.Children = append(tree.Children, &doctree.DocNode{
			Title: fmt.Sprintf("Rows %d-%d", i+2, end+1), // 1-indexed, skip header
			Text:  markdownTable(headers, dataRows[i:end]),
			Page:  i + 2,
		})
	}
	return tree, nil
}

func markdownTable(headers []string, rows [][]string) string {
	width := len(headers)
	for _, row := range rows {
		width = max(width, len(row))
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for j := range width {
			cell := ""
			if j < len(cells) {
				cell = tableCell(cells[j])
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(headers)
	sep := make([]string, width)
	for j := range sep {
		sep[j] = "---"
	}
	writeRow(sep)
	for _, row := range rows {
		writeRow(row)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// tableCell keeps a value on one line and escapes pipes.
func tableCell(v string) string {
	v = strings.Join(strings.Fields(v), " ")
	return strings.ReplaceAll(v, "|", `\|`)
}
