// Package tabular reads and writes the xlsx workbooks exchanged with
// warehouse staff.
package tabular

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmptyWorkbook is returned when the first sheet has no header row.
var ErrEmptyWorkbook = errors.New("tabular: workbook has no header row")

// Table is the first sheet of a workbook: one header row and the data rows
// below it. Every row has len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Decode reads the first sheet of an xlsx workbook. Merged regions are
// forward-filled so every covered cell carries the region's value. Blank
// rows are dropped.
func Decode(r io.Reader) (Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Table{}, fmt.Errorf("tabular: open: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, ErrEmptyWorkbook
	}
	sheet := sheets[0]
	grid, err := f.GetRows(sheet)
	if err != nil {
		return Table{}, fmt.Errorf("tabular: read rows: %w", err)
	}
	merged, err := f.GetMergeCells(sheet)
	if err != nil {
		return Table{}, fmt.Errorf("tabular: merged cells: %w", err)
	}
	for _, mc := range merged {
		grid, err = fill(grid, mc.GetStartAxis(), mc.GetEndAxis(), mc.GetCellValue())
		if err != nil {
			return Table{}, err
		}
	}

	if len(grid) == 0 {
		return Table{}, ErrEmptyWorkbook
	}
	header := make([]string, len(grid[0]))
	for i, h := range grid[0] {
		header[i] = strings.TrimSpace(h)
	}
	for len(header) > 0 && header[len(header)-1] == "" {
		header = header[:len(header)-1]
	}
	if len(header) == 0 {
		return Table{}, ErrEmptyWorkbook
	}

	t := Table{Header: header}
	for _, raw := range grid[1:] {
		row := make([]string, len(header))
		blank := true
		for i := range row {
			if i < len(raw) {
				row[i] = strings.TrimSpace(raw[i])
			}
			if row[i] != "" {
				blank = false
			}
		}
		if !blank {
			t.Rows = append(t.Rows, row)
		}
	}
	return t, nil
}

// fill writes value into every cell of the region start:end, growing grid as
// needed.
func fill(grid [][]string, start, end, value string) ([][]string, error) {
	c1, r1, err := excelize.CellNameToCoordinates(start)
	if err != nil {
		return nil, fmt.Errorf("tabular: merged start %q: %w", start, err)
	}
	c2, r2, err := excelize.CellNameToCoordinates(end)
	if err != nil {
		return nil, fmt.Errorf("tabular: merged end %q: %w", end, err)
	}
	for len(grid) < r2 {
		grid = append(grid, nil)
	}
	for r := r1 - 1; r < r2; r++ {
		for len(grid[r]) < c2 {
			grid[r] = append(grid[r], "")
		}
		for c := c1 - 1; c < c2; c++ {
			grid[r][c] = value
		}
	}
	return grid, nil
}

// Sheet describes one worksheet to encode.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any
	Widths map[int]float64
}

// Encode writes sheets into a new workbook. The first sheet is active.
func Encode(sheets ...Sheet) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, errors.New("tabular: nothing to encode")
	}
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "#000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tabular: style: %w", err)
	}

	for i, s := range sheets {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, fmt.Errorf("tabular: rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("tabular: new sheet: %w", err)
		}
		if err := writeSheet(f, name, s, bold); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("tabular: write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, name string, s Sheet, headerStyle int) error {
	for i, h := range s.Header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(name, cell, h); err != nil {
			return fmt.Errorf("tabular: header: %w", err)
		}
		if err := f.SetCellStyle(name, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("tabular: header style: %w", err)
		}
	}
	for r, row := range s.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(name, cell, &values); err != nil {
			return fmt.Errorf("tabular: row %d: %w", r+2, err)
		}
	}
	for col, width := range s.Widths {
		colName, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(name, colName, colName, width); err != nil {
			return fmt.Errorf("tabular: width: %w", err)
		}
	}
	return nil
}

// ContentType is the MIME type of encoded workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
