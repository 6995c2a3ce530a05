package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Column maps one field of a report row to a CSV/XLSX column.
type Column[T any] struct {
	Header string
	Value  func(T) any
}

// Table is a report materialized for output. Rows keeps the typed slice
// for JSON responses; Headers and Cells are the flat projection.
type Table struct {
	Name    string
	Rows    any
	Headers []string
	Cells   [][]any
}

func newTable[T any](name string, cols []Column[T], rows []T) *Table {
	if rows == nil {
		rows = []T{}
	}
	t := &Table{
		Name:    name,
		Rows:    rows,
		Headers: make([]string, len(cols)),
		Cells:   make([][]any, len(rows)),
	}
	for i, c := range cols {
		t.Headers[i] = c.Header
	}
	for i, r := range rows {
		cells := make([]any, len(cols))
		for j, c := range cols {
			cells[j] = c.Value(r)
		}
		t.Cells[i] = cells
	}
	return t
}

// Len is the number of data rows.
func (t *Table) Len() int { return len(t.Cells) }

// =============================================================================
// CSV
// =============================================================================

// WriteCSV writes a header line and one record per row. Quoting follows
// RFC 4180: fields containing commas, quotes or newlines are quoted and
// embedded quotes doubled.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return err
	}
	record := make([]string, len(t.Headers))
	for _, cells := range t.Cells {
		for i, v := range cells {
			s, err := FormatCell(v)
			if err != nil {
				return fmt.Errorf("report %s column %q: %w", t.Name, t.Headers[i], err)
			}
			record[i] = s
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatCell renders a value as CSV text. Scalars are written plainly;
// maps, slices and other structured values are JSON-encoded.
func FormatCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case decimal.Decimal:
		return x.String(), nil
	case *decimal.Decimal:
		if x == nil {
			return "", nil
		}
		return x.String(), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339), nil
	case *time.Time:
		if x == nil {
			return "", nil
		}
		return x.UTC().Format(time.RFC3339), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// =============================================================================
// XLSX
// =============================================================================

// WriteXLSX writes the table to a single-sheet workbook. Numbers stay
// numeric cells; everything else uses the CSV text form.
func (t *Table) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(t.Name)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	header := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for r, cells := range t.Cells {
		row := make([]any, len(cells))
		for i, v := range cells {
			switch x := v.(type) {
			case int, bool:
				row[i] = x
			case decimal.Decimal:
				row[i] = x.InexactFloat64()
			default:
				s, err := FormatCell(v)
				if err != nil {
					return fmt.Errorf("report %s column %q: %w", t.Name, t.Headers[i], err)
				}
				row[i] = s
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	if len(t.Headers) > 0 {
		last, err := excelize.CoordinatesToCellName(len(t.Headers), 1)
		if err != nil {
			return err
		}
		if err := f.AutoFilter(sheet, "A1:"+last, nil); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// sheetName keeps within Excel's 31 character limit.
func sheetName(name string) string {
	if len(name) > 31 {
		return name[:31]
	}
	if name == "" {
		return "Report"
	}
	return name
}
