package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSVParser handles CSV files. Rows are rendered as "header: value"
// lines in batches so the chunker gets sensible boundaries between row
// groups.
type CSVParser struct{}

const csvBatchSize = 20

func (p *CSVParser) Parse(r io.Reader, filename string) (*Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	doc := &Document{Title: baseTitle(filename)}
	if len(records) == 0 {
		return doc, nil
	}

	headers := records[0]
	dataRows := records[1:]

	var out textBuilder
	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := i + csvBatchSize
		if end > len(dataRows) {
			end = len(dataRows)
		}

		var batch strings.Builder
		// 1-indexed row numbers counting the header row.
		fmt.Fprintf(&batch, "Rows %d-%d\nHeaders: %s\n", i+2, end+1, strings.Join(headers, ", "))
		for _, row := range dataRows[i:end] {
			for j, cell := range row {
				if j < len(headers) {
					batch.WriteString(headers[j] + ": " + cell)
				} else {
					batch.WriteString(cell)
				}
				if j < len(row)-1 {
					batch.WriteString(", ")
				}
			}
			batch.WriteString("\n")
		}
		out.add(batch.String())
	}

	doc.Text = out.String()
	return doc, nil
}
