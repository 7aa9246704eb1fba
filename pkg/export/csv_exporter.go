package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Column describes one exported field. Key is the machine header used in CSV
// output; Label and Weight drive the PDF table layout.
type Column struct {
	Key    string
	Label  string
	Weight float64
}

// Dataset defines tabular export content. Each row holds one value per column,
// in column order.
type Dataset struct {
	Title   string
	Columns []Column
	Rows    [][]string
}

// Keys returns the column keys in order.
func (d Dataset) Keys() []string {
	keys := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		keys[i] = col.Key
	}
	return keys
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// ContentType is the MIME type of rendered output.
func (e *CSVExporter) ContentType() string { return "text/csv; charset=utf-8" }

// Render produces CSV encoded bytes for the dataset. The header row always
// appears, so an empty dataset still yields a valid file.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Keys()); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for i, row := range data.Rows {
		if len(row) != len(data.Columns) {
			return nil, fmt.Errorf("csv row %d: expected %d values, got %d", i, len(data.Columns), len(row))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
