package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
)

// Dataset is a table keyed by header name.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

func (d Dataset) validate() error {
	if len(d.Headers) == 0 {
		return errors.New("export: dataset has no headers")
	}
	return nil
}

// record returns the cells of row in header order.
func (d Dataset) record(row map[string]string, dst []string) []string {
	dst = dst[:0]
	for _, h := range d.Headers {
		dst = append(dst, row[h])
	}
	return dst
}

const utf8BOM = "\ufeff"

// CSVExporter writes datasets as RFC 4180 CSV.
type CSVExporter struct {
	bom bool
}

// NewCSVExporter builds a CSV exporter. With bom set the output starts with a
// UTF-8 byte order mark so spreadsheet tools detect the encoding.
func NewCSVExporter(bom ...bool) *CSVExporter {
	return &CSVExporter{bom: len(bom) > 0 && bom[0]}
}

// Render encodes the dataset. Cells that a spreadsheet would evaluate as a
// formula are prefixed with a quote.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if err := data.validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if e.bom {
		buf.WriteString(utf8BOM)
	}
	w := csv.NewWriter(&buf)
	_ = w.Write(data.Headers)
	cells := make([]string, 0, len(data.Headers))
	for _, row := range data.Rows {
		cells = data.record(row, cells)
		for i, cell := range cells {
			cells[i] = neutralise(cell)
		}
		_ = w.Write(cells)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export: write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func neutralise(cell string) string {
	if cell == "" || !strings.ContainsRune("=+-@\t\r", rune(cell[0])) {
		return cell
	}
	if isNumber(cell) {
		return cell
	}
	return "'" + cell
}

func isNumber(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}
