package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lox/co2map/internal/models"
)

// ParseResult holds the rows of one CSV file plus the count of lines that
// could not be tokenised at all.
type ParseResult struct {
	Records     []models.RawRecord
	ParseErrors int
	ParseError  string // first error, for the audit log
}

// ParseCSV reads a header-led CSV document into one RawRecord per data row.
// Short rows yield records with the missing columns absent; blank lines are
// skipped. Rows that fail tokenisation are counted, not fatal.
func ParseCSV(body []byte) (*ParseResult, error) {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.New("empty csv: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if !hasColumns(header, models.ColumnLatitude, models.ColumnLongitude, models.ColumnCO2) {
		return nil, fmt.Errorf("csv header %v missing one of %s, %s, %s", header,
			models.ColumnLatitude, models.ColumnLongitude, models.ColumnCO2)
	}

	result := &ParseResult{}
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				result.ParseErrors++
				if result.ParseError == "" {
					result.ParseError = perr.Error()
				}
				continue
			}
			return nil, fmt.Errorf("read row: %w", err)
		}

		rec := make(models.RawRecord, len(header))
		for i, v := range fields {
			if i >= len(header) {
				break
			}
			rec[header[i]] = v
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

func hasColumns(header []string, want ...string) bool {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[h] = true
	}
	for _, w := range want {
		if !seen[w] {
			return false
		}
	}
	return true
}
