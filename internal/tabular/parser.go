package tabular

import (
	"encoding/csv"
	"fmt"
	"strings"
)

// Row is one data row of an imported file: an ordered mapping from column
// header to cell value. Header order matches the source file and is shared
// across all rows of a parse.
type Row struct {
	headers []string
	values  []string
}

// Headers returns the column headers in source-file order.
func (r Row) Headers() []string {
	return r.headers
}

// Get returns the cell value for the given header, or the empty string when
// the header does not exist in this row.
func (r Row) Get(header string) string {
	for i, h := range r.headers {
		if h == header {
			return r.values[i]
		}
	}
	return ""
}

// Values returns the cell values in header order.
func (r Row) Values() []string {
	return r.values
}

// Parse turns raw comma-separated text into an ordered sequence of rows.
// The first non-empty line is the header row. Quoted fields may contain
// commas and line breaks, with "" inside a quoted field representing a
// literal quote. Rows with fewer fields than headers are padded with empty
// strings. Empty input yields an empty slice and no error; the caller
// surfaces that as "no data found".
func Parse(text string) ([]Row, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1 // rows may be shorter than the header
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse tabular data: %w", err)
	}
	if len(records) == 0 {
		return []Row{}, nil
	}

	headers := dedupeHeaders(records[0])

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		values := make([]string, len(headers))
		for i := range headers {
			if i < len(record) {
				values[i] = record[i]
			}
		}
		rows = append(rows, Row{headers: headers, values: values})
	}
	return rows, nil
}

// dedupeHeaders trims header cells and disambiguates duplicates so that a
// row's header→value mapping stays unique per key.
func dedupeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, h := range raw {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if count, ok := seen[name]; ok {
			seen[name] = count + 1
			name = fmt.Sprintf("%s_%d", name, count+1)
		}
		if _, ok := seen[name]; !ok {
			seen[name] = 1
		}
		headers[i] = name
	}
	return headers
}
